package initialization

import (
	"context"
	"fmt"

	"github.com/hivedesk/hivedesk/internal/adapters"
	"github.com/hivedesk/hivedesk/internal/adapters/githubadapter"
	"github.com/hivedesk/hivedesk/internal/adapters/jiraadapter"
	"github.com/hivedesk/hivedesk/internal/adapters/mailjetadapter"
	"github.com/hivedesk/hivedesk/internal/adapters/slackadapter"
	"github.com/hivedesk/hivedesk/internal/adapters/stripeadapter"
	"github.com/hivedesk/hivedesk/internal/config"
	"github.com/hivedesk/hivedesk/internal/domain"
	"github.com/hivedesk/hivedesk/internal/events"
	"github.com/hivedesk/hivedesk/internal/ingestion"
	"github.com/hivedesk/hivedesk/internal/managers"
	"github.com/hivedesk/hivedesk/internal/observability"
	"github.com/hivedesk/hivedesk/internal/registry"
	"github.com/hivedesk/hivedesk/internal/storage/memory"
	"github.com/hivedesk/hivedesk/internal/storage/postgres"
	"github.com/hivedesk/hivedesk/internal/syncworker"
	"github.com/hivedesk/hivedesk/internal/vault"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Container wires every service dependency once at startup.
type Container struct {
	Config *config.Config

	Store     domain.Store
	Registry  domain.ConnectorRegistry
	Adapters  *adapters.Registry
	Vault     domain.CredentialVault
	Publisher domain.EventPublisher

	Manager       managers.IntegrationManager
	Pipeline      *ingestion.Pipeline
	Worker        *syncworker.Worker
	Scheduler     *syncworker.Scheduler
	Metrics       *observability.Metrics
	Observability *observability.Service

	closers []func()
}

func NewContainer(ctx context.Context) (*Container, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	c := &Container{Config: cfg}

	if err := c.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := c.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := c.initCore(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Container) initStorage(ctx context.Context) error {
	if c.Config.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL is not set, using in-memory storage")
		c.Store = memory.NewStore()
		return nil
	}

	store, err := postgres.NewStore(ctx, c.Config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize postgres storage: %w", err)
	}

	c.Store = store
	c.closers = append(c.closers, store.Close)

	return nil
}

func (c *Container) initPublisher(ctx context.Context) error {
	if c.Config.RedisURL == "" {
		log.Warn().Msg("REDIS_URL is not set, events will not leave this process")
		c.Publisher = events.NewMemoryPublisher()
		return nil
	}

	opts, err := redis.ParseURL(c.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	c.Publisher = events.NewRedisPublisher(client)
	c.closers = append(c.closers, func() { _ = client.Close() })

	return nil
}

func (c *Container) initCore() error {
	credentialVault, err := vault.New(c.Config.CredentialEncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize credential vault: %w", err)
	}
	c.Vault = credentialVault

	c.Registry = registry.NewDefault()
	c.Adapters = buildAdapterRegistry(c.oauthConfigs())

	c.Metrics = observability.NewMetrics()
	c.Observability = observability.NewService(observability.ServiceDependencies{
		Store:   c.Store,
		Metrics: c.Metrics,
	})

	c.Manager = managers.NewIntegrationManager(managers.IntegrationManagerDependencies{
		Store:             c.Store,
		ConnectorRegistry: c.Registry,
		AdapterRegistry:   c.Adapters,
		Vault:             c.Vault,
		OAuthConfigs:      c.oauthConfigs(),
		Audit:             managers.NewStoreAuditSink(c.Store),
	})

	c.Pipeline = ingestion.NewPipeline(ingestion.PipelineDependencies{
		Store:           c.Store,
		AdapterRegistry: c.Adapters,
		Publisher:       c.Publisher,
		Metrics:         c.Metrics,
	})

	c.Worker = syncworker.NewWorker(syncworker.WorkerDependencies{
		Store:           c.Store,
		Vault:           c.Vault,
		AdapterRegistry: c.Adapters,
		Processor:       events.NewPublishingProcessor(c.Publisher),
		Metrics:         c.Metrics,
		MaxConcurrent:   c.Config.SyncMaxConcurrent,
	})

	c.Scheduler = syncworker.NewScheduler(syncworker.SchedulerDependencies{
		Store:      c.Store,
		Worker:     c.Worker,
		Cleanup:    c.Manager.CleanupExpiredStates,
		AlertCheck: c.Observability.CheckAll,
	})

	return nil
}

// oauthConfigs builds the per-connector oauth2 client configuration from the
// catalog endpoints and the configured client credentials.
func (c *Container) oauthConfigs() oauthConfigProvider {
	provider := oauthConfigProvider{}
	catalog := registry.NewDefault()

	for connectorID, client := range c.Config.OAuthClients {
		connector, ok := catalog.Get(connectorID)
		if !ok || connector.OAuth == nil {
			continue
		}

		provider[connectorID] = &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  c.Config.PublicBaseURL + "/connectors/oauth/callback",
			Scopes:       connector.OAuth.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  connector.OAuth.AuthURL,
				TokenURL: connector.OAuth.TokenURL,
			},
		}
	}

	return provider
}

type oauthConfigProvider map[string]*oauth2.Config

func (p oauthConfigProvider) OAuthConfig(connectorID string) (*oauth2.Config, bool) {
	cfg, ok := p[connectorID]
	return cfg, ok
}

// buildAdapterRegistry registers every shipped provider adapter on a shared
// rate-limit-aware HTTP client.
func buildAdapterRegistry(oauth oauthConfigProvider) *adapters.Registry {
	httpClient := adapters.NewHTTPClient()
	reg := adapters.NewRegistry()

	slackOAuth, _ := oauth.OAuthConfig(domain.ConnectorType_Slack)
	githubOAuth, _ := oauth.OAuthConfig(domain.ConnectorType_Github)

	reg.Register(domain.ConnectorType_Slack, slackadapter.New(slackadapter.Dependencies{
		HTTPClient:  httpClient,
		OAuthConfig: slackOAuth,
	}))
	reg.Register(domain.ConnectorType_Stripe, stripeadapter.New(stripeadapter.Dependencies{
		HTTPClient: httpClient,
	}))
	reg.Register(domain.ConnectorType_Github, githubadapter.New(githubadapter.Dependencies{
		HTTPClient:  httpClient,
		OAuthConfig: githubOAuth,
	}))
	reg.Register(domain.ConnectorType_Jira, jiraadapter.New(jiraadapter.Dependencies{
		Transport: httpClient.Transport,
	}))
	reg.Register(domain.ConnectorType_Mailjet, mailjetadapter.New(mailjetadapter.Dependencies{
		HTTPClient: httpClient,
	}))

	return reg
}

// Close releases backing connections.
func (c *Container) Close() {
	for _, closeFn := range c.closers {
		closeFn()
	}
}
