package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all service configuration
type Config struct {
	// Basic server settings
	HTTPAddress   string
	PublicBaseURL string

	// Backing services; both optional. An empty DatabaseURL selects the
	// in-memory store, an empty RedisURL the in-memory publisher.
	DatabaseURL string
	RedisURL    string

	// CredentialEncryptionKey protects stored provider credentials.
	CredentialEncryptionKey string

	// Sync worker settings
	SyncMaxConcurrent int
	SyncEnabled       bool

	// OAuthClients maps connector ids to their client credentials.
	OAuthClients map[string]OAuthClient
}

// OAuthClient is one provider's OAuth application credentials.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

// oauthConnectors lists the connectors whose client credentials are read
// from <CONNECTOR>_CLIENT_ID / <CONNECTOR>_CLIENT_SECRET.
var oauthConnectors = []string{"slack", "github"}

// LoadConfig loads configuration from files and environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Configure environment variables - do this BEFORE reading config
	v.AutomaticEnv()
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set up explicit mappings between struct fields and environment variables
	envMappings := map[string]string{
		"HTTPAddress":             "HTTP_ADDRESS",
		"PublicBaseURL":           "PUBLIC_BASE_URL",
		"DatabaseURL":             "DATABASE_URL",
		"RedisURL":                "REDIS_URL",
		"CredentialEncryptionKey": "CREDENTIAL_ENCRYPTION_KEY",
		"SyncMaxConcurrent":       "SYNC_MAX_CONCURRENT",
		"SyncEnabled":             "SYNC_ENABLED",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	// Configure the config file settings
	v.SetConfigName("hivedesk_config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.hivedesk")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	// Unmarshal config into struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.OAuthClients = loadOAuthClients(v)

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	log.Debug().Msgf("Config loaded: HTTPAddress=%s, PublicBaseURL=%s", config.HTTPAddress, config.PublicBaseURL)

	return &config, nil
}

// loadOAuthClients reads SLACK_CLIENT_ID / SLACK_CLIENT_SECRET style pairs
// for every OAuth connector. Connectors without credentials are simply not
// available for the code flow.
func loadOAuthClients(v *viper.Viper) map[string]OAuthClient {
	clients := map[string]OAuthClient{}

	for _, connector := range oauthConnectors {
		prefix := strings.ToUpper(connector)
		idKey := prefix + "_CLIENT_ID"
		secretKey := prefix + "_CLIENT_SECRET"
		_ = v.BindEnv(idKey, idKey)
		_ = v.BindEnv(secretKey, secretKey)

		id := v.GetString(idKey)
		secret := v.GetString(secretKey)
		if id == "" || secret == "" {
			log.Debug().Msgf("OAuth client for %s not configured", connector)
			continue
		}

		clients[connector] = OAuthClient{ClientID: id, ClientSecret: secret}
	}

	return clients
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server settings
	v.SetDefault("HTTPAddress", ":8080")
	v.SetDefault("PublicBaseURL", "http://localhost:8080")
	v.SetDefault("SyncMaxConcurrent", 4)
	v.SetDefault("SyncEnabled", true)
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.HTTPAddress == "" {
		return fmt.Errorf("HTTP_ADDRESS must not be empty")
	}

	if config.CredentialEncryptionKey == "" {
		log.Warn().Msg("CREDENTIAL_ENCRYPTION_KEY is not set, stored credentials will not survive a restart")
	}

	return nil
}
