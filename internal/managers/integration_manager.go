package managers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hivedesk/hivedesk/internal/adapters"
	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// IntegrationManager owns the integration lifecycle: OAuth authorization,
// connect, disconnect, connection testing and token refresh.
type IntegrationManager interface {
	AuthorizeURL(ctx context.Context, p AuthorizeParams) (string, error)
	CompleteOAuth(ctx context.Context, p CompleteOAuthParams) (domain.Integration, string, error)
	ConnectIntegration(ctx context.Context, p ConnectParams) (domain.Integration, error)
	DisconnectIntegration(ctx context.Context, tenantID, integrationID, actor string) error
	ExecuteAction(ctx context.Context, p ActionParams) (map[string]any, error)
	TestIntegration(ctx context.Context, tenantID, integrationID string) error
	RefreshIntegrationTokens(ctx context.Context, tenantID, integrationID string) error
	GetIntegration(ctx context.Context, tenantID, integrationID string) (domain.Integration, error)
	ListIntegrations(ctx context.Context, tenantID string) ([]domain.Integration, error)
	CleanupExpiredStates(ctx context.Context) (int, error)
}

// OAuthConfigProvider resolves the platform's per-connector oauth2 client
// configuration. Returns false for API-key connectors and connectors whose
// client credentials are not configured.
type OAuthConfigProvider interface {
	OAuthConfig(connectorID string) (*oauth2.Config, bool)
}

type integrationManager struct {
	store    domain.Store
	registry domain.ConnectorRegistry
	adapters *adapters.Registry
	vault    domain.CredentialVault
	oauth    OAuthConfigProvider
	audit    domain.AuditSink
	now      func() time.Time
}

type IntegrationManagerDependencies struct {
	Store             domain.Store
	ConnectorRegistry domain.ConnectorRegistry
	AdapterRegistry   *adapters.Registry
	Vault             domain.CredentialVault
	OAuthConfigs      OAuthConfigProvider
	Audit             domain.AuditSink
}

func NewIntegrationManager(deps IntegrationManagerDependencies) IntegrationManager {
	return &integrationManager{
		store:    deps.Store,
		registry: deps.ConnectorRegistry,
		adapters: deps.AdapterRegistry,
		vault:    deps.Vault,
		oauth:    deps.OAuthConfigs,
		audit:    deps.Audit,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type AuthorizeParams struct {
	TenantID    string
	ConnectorID string
	UserID      string
	RedirectURL string
}

// AuthorizeURL starts the OAuth code flow: mints a single-use state token
// bound to the tenant and connector, persists it with a TTL, and returns the
// provider authorization URL to redirect the user to.
func (m *integrationManager) AuthorizeURL(ctx context.Context, p AuthorizeParams) (string, error) {
	connector, ok := m.registry.Get(p.ConnectorID)
	if !ok {
		return "", fmt.Errorf("connector %s: %w", p.ConnectorID, domain.ErrNotFound)
	}
	if !connector.IsOAuth() {
		return "", fmt.Errorf("connector %s does not use oauth", p.ConnectorID)
	}

	cfg, ok := m.oauth.OAuthConfig(p.ConnectorID)
	if !ok {
		return "", fmt.Errorf("oauth client for %s is not configured", p.ConnectorID)
	}

	state := domain.OAuthState{
		Token:       uuid.NewString(),
		TenantID:    p.TenantID,
		ConnectorID: p.ConnectorID,
		UserID:      p.UserID,
		RedirectURL: p.RedirectURL,
		ExpiresAt:   m.now().Add(domain.OAuthStateTTL),
	}

	if err := m.store.PutOAuthState(ctx, state); err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}

	return cfg.AuthCodeURL(state.Token, oauth2.AccessTypeOffline), nil
}

type CompleteOAuthParams struct {
	State string
	Code  string
}

// CompleteOAuth consumes the state token, exchanges the authorization code
// for tokens and connects the integration for the tenant the state was
// minted for. The returned string is the tenant redirect URL, if one was
// requested at authorize time; it is returned alongside failures too, once
// the state has been consumed, so the caller can send the user back there.
func (m *integrationManager) CompleteOAuth(ctx context.Context, p CompleteOAuthParams) (domain.Integration, string, error) {
	state, err := m.store.ConsumeOAuthState(ctx, p.State)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Integration{}, "", fmt.Errorf("oauth state is invalid, expired or already used: %w", domain.ErrNotFound)
		}
		return domain.Integration{}, "", err
	}

	cfg, ok := m.oauth.OAuthConfig(state.ConnectorID)
	if !ok {
		return domain.Integration{}, state.RedirectURL, fmt.Errorf("oauth client for %s is not configured", state.ConnectorID)
	}

	token, err := cfg.Exchange(ctx, p.Code)
	if err != nil {
		return domain.Integration{}, state.RedirectURL, fmt.Errorf("%w: code exchange failed: %s", domain.ErrAuthFailed, err)
	}

	creds := domain.Credentials{
		domain.CredentialKey_AccessToken: token.AccessToken,
	}
	if token.RefreshToken != "" {
		creds[domain.CredentialKey_RefreshToken] = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		creds[domain.CredentialKey_Expiry] = token.Expiry.UTC().Format(time.RFC3339)
	}

	integration, err := m.ConnectIntegration(ctx, ConnectParams{
		TenantID:    state.TenantID,
		ConnectorID: state.ConnectorID,
		Credentials: creds,
		Actor:       state.UserID,
	})
	if err != nil {
		return domain.Integration{}, state.RedirectURL, err
	}

	return integration, state.RedirectURL, nil
}

type ConnectParams struct {
	TenantID    string
	ConnectorID string
	Credentials domain.Credentials
	Config      domain.IntegrationConfig
	Actor       string
}

// ConnectIntegration encrypts the supplied credentials and creates or
// replaces the tenant's integration for the connector. The initial
// connection test is skipped in test mode; a failed test still stores the
// integration, downgraded to error status, so the tenant can retry without
// re-entering credentials.
func (m *integrationManager) ConnectIntegration(ctx context.Context, p ConnectParams) (domain.Integration, error) {
	connector, ok := m.registry.Get(p.ConnectorID)
	if !ok {
		return domain.Integration{}, fmt.Errorf("connector %s: %w", p.ConnectorID, domain.ErrNotFound)
	}
	if connector.Status == domain.ConnectorStatus_Inactive || connector.Status == domain.ConnectorStatus_Deprecated {
		return domain.Integration{}, fmt.Errorf("connector %s is not available", p.ConnectorID)
	}
	if len(p.Credentials) == 0 {
		return domain.Integration{}, fmt.Errorf("%w: no credentials supplied", domain.ErrAuthFailed)
	}

	blob, err := m.vault.Encrypt(p.Credentials)
	if err != nil {
		return domain.Integration{}, fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	integration := domain.Integration{
		TenantID:            p.TenantID,
		ConnectorID:         p.ConnectorID,
		EncryptedCredential: blob,
		Config:              p.Config,
		Status:              domain.IntegrationStatus_Connected,
		CreatedBy:           p.Actor,
	}

	if !p.Config.TestMode {
		if err := m.testCredentials(ctx, p.ConnectorID, p.Credentials); err != nil {
			integration.Status = domain.IntegrationStatus_Error
			integration.LastError = err.Error()
			at := m.now()
			integration.LastErrorAt = &at
		}
	}

	stored, err := m.store.UpsertIntegration(ctx, integration)
	if err != nil {
		return domain.Integration{}, fmt.Errorf("failed to store integration: %w", err)
	}

	m.recordAudit(ctx, domain.AuditRecord{
		TenantID:      stored.TenantID,
		IntegrationID: stored.ID,
		Action:        "integration.connect",
		Actor:         p.Actor,
		Details:       map[string]any{"connector_id": stored.ConnectorID, "status": string(stored.Status)},
	})

	return stored, nil
}

// DisconnectIntegration revokes provider tokens best-effort, then
// soft-deletes the integration. A second disconnect of the same integration
// is a no-op.
func (m *integrationManager) DisconnectIntegration(ctx context.Context, tenantID, integrationID, actor string) error {
	integration, err := m.store.GetIntegration(ctx, tenantID, integrationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	if revoker, ok := m.adapters.RevokerFor(integration.ConnectorID); ok {
		creds, err := m.vault.Decrypt(integration.EncryptedCredential)
		if err != nil {
			log.Warn().Err(err).Str("integration_id", integrationID).
				Msg("skipping token revocation, credential blob is not decryptable")
		} else if err := revoker.RevokeTokens(ctx, creds); err != nil {
			log.Warn().Err(err).Str("integration_id", integrationID).
				Msg("provider token revocation failed, disconnecting anyway")
		}
	}

	if err := m.store.SoftDeleteIntegration(ctx, tenantID, integrationID, m.now()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to disconnect integration: %w", err)
	}

	m.recordAudit(ctx, domain.AuditRecord{
		TenantID:      tenantID,
		IntegrationID: integrationID,
		Action:        "integration.disconnect",
		Actor:         actor,
		Details:       map[string]any{"connector_id": integration.ConnectorID},
	})

	return nil
}

type ActionParams struct {
	TenantID      string
	IntegrationID string
	Action        string
	Data          map[string]any
	Actor         string
}

// ExecuteAction pushes data to the provider through the adapter's outbound
// actor, e.g. posting a message to a Slack channel.
func (m *integrationManager) ExecuteAction(ctx context.Context, p ActionParams) (map[string]any, error) {
	integration, err := m.store.GetIntegration(ctx, p.TenantID, p.IntegrationID)
	if err != nil {
		return nil, err
	}
	if !integration.IsConnected() {
		return nil, fmt.Errorf("integration %s: %w", p.IntegrationID, domain.ErrNotConnected)
	}

	actor, ok := m.adapters.ActorFor(integration.ConnectorID)
	if !ok {
		return nil, fmt.Errorf("connector %s does not support outbound actions", integration.ConnectorID)
	}

	creds, err := m.vault.Decrypt(integration.EncryptedCredential)
	if err != nil {
		m.markFailure(ctx, integration, domain.IntegrationStatus_AuthFailed, err)
		return nil, err
	}

	result, err := actor.PerformAction(ctx, p.Action, creds, p.Data)
	if err != nil {
		return nil, err
	}

	m.recordAudit(ctx, domain.AuditRecord{
		TenantID:      p.TenantID,
		IntegrationID: p.IntegrationID,
		Action:        "integration.action",
		Actor:         p.Actor,
		Details:       map[string]any{"connector_id": integration.ConnectorID, "action": p.Action},
	})

	return result, nil
}

// TestIntegration runs the adapter's connection test against the stored
// credentials and records the outcome on the integration row. An
// auth-rejected test downgrades status to auth_failed, any other failure to
// error; success restores connected.
func (m *integrationManager) TestIntegration(ctx context.Context, tenantID, integrationID string) error {
	integration, err := m.store.GetIntegration(ctx, tenantID, integrationID)
	if err != nil {
		return err
	}

	creds, err := m.vault.Decrypt(integration.EncryptedCredential)
	if err != nil {
		m.markFailure(ctx, integration, domain.IntegrationStatus_AuthFailed, err)
		return err
	}

	if err := m.testCredentials(ctx, integration.ConnectorID, creds); err != nil {
		status := domain.IntegrationStatus_Error
		if errors.Is(err, domain.ErrAuthFailed) {
			status = domain.IntegrationStatus_AuthFailed
		}
		m.markFailure(ctx, integration, status, err)
		return err
	}

	integration.Status = domain.IntegrationStatus_Connected
	integration.LastError = ""
	if err := m.store.UpdateIntegration(ctx, integration); err != nil {
		return fmt.Errorf("failed to update integration after test: %w", err)
	}

	return nil
}

// RefreshIntegrationTokens exchanges the stored refresh token for new access
// tokens and re-encrypts. The stored blob is only replaced after a fully
// successful refresh; a failed refresh leaves the old credentials intact and
// downgrades status to auth_failed.
func (m *integrationManager) RefreshIntegrationTokens(ctx context.Context, tenantID, integrationID string) error {
	integration, err := m.store.GetIntegration(ctx, tenantID, integrationID)
	if err != nil {
		return err
	}

	adapter, ok := m.adapters.Get(integration.ConnectorID)
	if !ok {
		return fmt.Errorf("adapter for %s: %w", integration.ConnectorID, domain.ErrNotFound)
	}

	creds, err := m.vault.Decrypt(integration.EncryptedCredential)
	if err != nil {
		m.markFailure(ctx, integration, domain.IntegrationStatus_AuthFailed, err)
		return err
	}

	refreshed, err := adapter.RefreshTokens(ctx, creds)
	if err != nil {
		if errors.Is(err, domain.ErrRefreshUnsupported) {
			return err
		}
		m.markFailure(ctx, integration, domain.IntegrationStatus_AuthFailed, err)
		return fmt.Errorf("%w: token refresh rejected: %s", domain.ErrAuthFailed, err)
	}

	blob, err := m.vault.Encrypt(refreshed)
	if err != nil {
		return fmt.Errorf("failed to encrypt refreshed credentials: %w", err)
	}

	integration.EncryptedCredential = blob
	integration.Status = domain.IntegrationStatus_Connected
	integration.LastError = ""
	if err := m.store.UpdateIntegration(ctx, integration); err != nil {
		return fmt.Errorf("failed to store refreshed credentials: %w", err)
	}

	m.recordAudit(ctx, domain.AuditRecord{
		TenantID:      tenantID,
		IntegrationID: integrationID,
		Action:        "integration.refresh_tokens",
		Actor:         "system",
	})

	return nil
}

func (m *integrationManager) GetIntegration(ctx context.Context, tenantID, integrationID string) (domain.Integration, error) {
	return m.store.GetIntegration(ctx, tenantID, integrationID)
}

func (m *integrationManager) ListIntegrations(ctx context.Context, tenantID string) ([]domain.Integration, error) {
	return m.store.ListIntegrations(ctx, tenantID)
}

// CleanupExpiredStates removes expired OAuth state tokens. Run periodically
// by the scheduler.
func (m *integrationManager) CleanupExpiredStates(ctx context.Context) (int, error) {
	return m.store.DeleteExpiredOAuthStates(ctx, m.now())
}

func (m *integrationManager) testCredentials(ctx context.Context, connectorID string, creds domain.Credentials) error {
	adapter, ok := m.adapters.Get(connectorID)
	if !ok {
		return fmt.Errorf("adapter for %s: %w", connectorID, domain.ErrNotFound)
	}

	return adapter.TestConnection(ctx, creds)
}

func (m *integrationManager) markFailure(ctx context.Context, integration domain.Integration, status domain.IntegrationStatus, cause error) {
	integration.Status = status
	integration.LastError = cause.Error()
	at := m.now()
	integration.LastErrorAt = &at

	if err := m.store.UpdateIntegration(ctx, integration); err != nil {
		log.Error().Err(err).Str("integration_id", integration.ID).
			Msg("failed to record integration failure state")
	}
}

func (m *integrationManager) recordAudit(ctx context.Context, record domain.AuditRecord) {
	if m.audit == nil {
		return
	}

	record.OccurredAt = m.now()
	if err := m.audit.RecordAction(ctx, record); err != nil {
		log.Warn().Err(err).Str("action", record.Action).Msg("failed to record audit action")
	}
}
