package managers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/hivedesk/hivedesk/internal/adapters"
	"github.com/hivedesk/hivedesk/internal/domain"
	"github.com/hivedesk/hivedesk/internal/registry"
	"github.com/hivedesk/hivedesk/internal/storage/memory"
	"github.com/hivedesk/hivedesk/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeAdapter struct {
	testErr      error
	refreshErr   error
	refreshed    domain.Credentials
	revoked      int
	revokeErr    error
	actionErr    error
	actionResult map[string]any
	actions      []string
	actionCreds  domain.Credentials
}

func (f *fakeAdapter) TestConnection(ctx context.Context, creds domain.Credentials) error {
	return f.testErr
}

func (f *fakeAdapter) RefreshTokens(ctx context.Context, creds domain.Credentials) (domain.Credentials, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshed, nil
}

func (f *fakeAdapter) NormalizeWebhookEvent(eventType string, payload []byte) (domain.NormalizedEvent, error) {
	return adapters.PassthroughNormalize(eventType, payload)
}

func (f *fakeAdapter) RevokeTokens(ctx context.Context, creds domain.Credentials) error {
	f.revoked++
	return f.revokeErr
}

func (f *fakeAdapter) PerformAction(ctx context.Context, action string, creds domain.Credentials, data map[string]any) (map[string]any, error) {
	f.actions = append(f.actions, action)
	f.actionCreds = creds
	if f.actionErr != nil {
		return nil, f.actionErr
	}
	return f.actionResult, nil
}

// inboundOnlyAdapter has no outbound actor.
type inboundOnlyAdapter struct{}

func (inboundOnlyAdapter) TestConnection(ctx context.Context, creds domain.Credentials) error {
	return nil
}

func (inboundOnlyAdapter) RefreshTokens(ctx context.Context, creds domain.Credentials) (domain.Credentials, error) {
	return nil, domain.ErrRefreshUnsupported
}

func (inboundOnlyAdapter) NormalizeWebhookEvent(eventType string, payload []byte) (domain.NormalizedEvent, error) {
	return adapters.PassthroughNormalize(eventType, payload)
}

type staticOAuthConfigs map[string]*oauth2.Config

func (s staticOAuthConfigs) OAuthConfig(connectorID string) (*oauth2.Config, bool) {
	cfg, ok := s[connectorID]
	return cfg, ok
}

func newTestManager(t *testing.T, adapter adapters.Adapter) (IntegrationManager, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	adapterRegistry := adapters.NewRegistry()
	adapterRegistry.Register(domain.ConnectorType_Stripe, adapter)
	adapterRegistry.Register(domain.ConnectorType_Slack, adapter)

	credentialVault, err := vault.New("test-encryption-key")
	require.NoError(t, err)

	manager := NewIntegrationManager(IntegrationManagerDependencies{
		Store:             store,
		ConnectorRegistry: registry.NewDefault(),
		AdapterRegistry:   adapterRegistry,
		Vault:             credentialVault,
		OAuthConfigs: staticOAuthConfigs{
			domain.ConnectorType_Slack: {
				ClientID:     "client-id",
				ClientSecret: "client-secret",
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://slack.com/oauth/v2/authorize",
					TokenURL: "https://slack.com/api/oauth.v2.access",
				},
			},
		},
		Audit: NewStoreAuditSink(store),
	})

	return manager, store
}

func TestConnectIntegration(t *testing.T) {
	ctx := context.Background()

	t.Run("connects and stores encrypted credentials", func(t *testing.T) {
		manager, store := newTestManager(t, &fakeAdapter{})

		integration, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: domain.ConnectorType_Stripe,
			Credentials: domain.Credentials{domain.CredentialKey_APIKey: "sk_test_123"},
			Actor:       "user-1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.IntegrationStatus_Connected, integration.Status)
		assert.NotEmpty(t, integration.EncryptedCredential)
		assert.NotContains(t, integration.EncryptedCredential, "sk_test_123")

		stored, err := store.GetIntegration(ctx, "tenant-1", integration.ID)
		require.NoError(t, err)
		assert.Equal(t, integration.EncryptedCredential, stored.EncryptedCredential)
	})

	t.Run("failed connection test stores integration in error status", func(t *testing.T) {
		manager, _ := newTestManager(t, &fakeAdapter{testErr: domain.ErrConnectionFailed})

		integration, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: domain.ConnectorType_Stripe,
			Credentials: domain.Credentials{domain.CredentialKey_APIKey: "sk_test_123"},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.IntegrationStatus_Error, integration.Status)
		assert.NotEmpty(t, integration.LastError)
		assert.NotNil(t, integration.LastErrorAt)
	})

	t.Run("test mode skips the connection test", func(t *testing.T) {
		manager, _ := newTestManager(t, &fakeAdapter{testErr: domain.ErrConnectionFailed})

		integration, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: domain.ConnectorType_Stripe,
			Credentials: domain.Credentials{domain.CredentialKey_APIKey: "sk_test_123"},
			Config:      domain.IntegrationConfig{TestMode: true},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.IntegrationStatus_Connected, integration.Status)
	})

	t.Run("reconnect replaces the existing integration in place", func(t *testing.T) {
		manager, _ := newTestManager(t, &fakeAdapter{})

		first, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: domain.ConnectorType_Stripe,
			Credentials: domain.Credentials{domain.CredentialKey_APIKey: "sk_old"},
		})
		require.NoError(t, err)

		second, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: domain.ConnectorType_Stripe,
			Credentials: domain.Credentials{domain.CredentialKey_APIKey: "sk_new"},
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		list, err := manager.ListIntegrations(ctx, "tenant-1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("unknown connector", func(t *testing.T) {
		manager, _ := newTestManager(t, &fakeAdapter{})

		_, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: "does-not-exist",
			Credentials: domain.Credentials{domain.CredentialKey_APIKey: "x"},
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("empty credentials rejected", func(t *testing.T) {
		manager, _ := newTestManager(t, &fakeAdapter{})

		_, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: domain.ConnectorType_Stripe,
		})
		assert.ErrorIs(t, err, domain.ErrAuthFailed)
	})
}

func TestDisconnectIntegration(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{}
	manager, _ := newTestManager(t, adapter)

	integration, err := manager.ConnectIntegration(ctx, ConnectParams{
		TenantID:    "tenant-1",
		ConnectorID: domain.ConnectorType_Stripe,
		Credentials: domain.Credentials{domain.CredentialKey_APIKey: "sk_test"},
		Actor:       "user-1",
	})
	require.NoError(t, err)

	require.NoError(t, manager.DisconnectIntegration(ctx, "tenant-1", integration.ID, "user-1"))
	assert.Equal(t, 1, adapter.revoked)

	_, err = manager.GetIntegration(ctx, "tenant-1", integration.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// disconnecting again is a no-op
	require.NoError(t, manager.DisconnectIntegration(ctx, "tenant-1", integration.ID, "user-1"))
	assert.Equal(t, 1, adapter.revoked)
}

func TestDisconnectSurvivesRevocationFailure(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{revokeErr: errors.New("provider is down")}
	manager, _ := newTestManager(t, adapter)

	integration, err := manager.ConnectIntegration(ctx, ConnectParams{
		TenantID:    "tenant-1",
		ConnectorID: domain.ConnectorType_Stripe,
		Credentials: domain.Credentials{domain.CredentialKey_APIKey: "sk_test"},
	})
	require.NoError(t, err)

	require.NoError(t, manager.DisconnectIntegration(ctx, "tenant-1", integration.ID, "user-1"))

	_, err = manager.GetIntegration(ctx, "tenant-1", integration.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTestIntegrationStatusTransitions(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{}
	manager, _ := newTestManager(t, adapter)

	integration, err := manager.ConnectIntegration(ctx, ConnectParams{
		TenantID:    "tenant-1",
		ConnectorID: domain.ConnectorType_Stripe,
		Credentials: domain.Credentials{domain.CredentialKey_APIKey: "sk_test"},
	})
	require.NoError(t, err)

	adapter.testErr = domain.ErrAuthFailed
	err = manager.TestIntegration(ctx, "tenant-1", integration.ID)
	assert.ErrorIs(t, err, domain.ErrAuthFailed)

	got, err := manager.GetIntegration(ctx, "tenant-1", integration.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntegrationStatus_AuthFailed, got.Status)

	adapter.testErr = domain.ErrConnectionFailed
	_ = manager.TestIntegration(ctx, "tenant-1", integration.ID)
	got, _ = manager.GetIntegration(ctx, "tenant-1", integration.ID)
	assert.Equal(t, domain.IntegrationStatus_Error, got.Status)

	adapter.testErr = nil
	require.NoError(t, manager.TestIntegration(ctx, "tenant-1", integration.ID))
	got, _ = manager.GetIntegration(ctx, "tenant-1", integration.ID)
	assert.Equal(t, domain.IntegrationStatus_Connected, got.Status)
	assert.Empty(t, got.LastError)
}

func TestRefreshIntegrationTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("successful refresh replaces stored credentials", func(t *testing.T) {
		adapter := &fakeAdapter{refreshed: domain.Credentials{
			domain.CredentialKey_AccessToken:  "new-token",
			domain.CredentialKey_RefreshToken: "new-refresh",
		}}
		manager, store := newTestManager(t, adapter)

		integration, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: domain.ConnectorType_Slack,
			Credentials: domain.Credentials{domain.CredentialKey_AccessToken: "old-token"},
		})
		require.NoError(t, err)
		oldBlob := integration.EncryptedCredential

		require.NoError(t, manager.RefreshIntegrationTokens(ctx, "tenant-1", integration.ID))

		got, err := store.GetIntegration(ctx, "tenant-1", integration.ID)
		require.NoError(t, err)
		assert.NotEqual(t, oldBlob, got.EncryptedCredential)
		assert.Equal(t, domain.IntegrationStatus_Connected, got.Status)
	})

	t.Run("failed refresh keeps old credentials and downgrades status", func(t *testing.T) {
		adapter := &fakeAdapter{}
		manager, store := newTestManager(t, adapter)

		integration, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: domain.ConnectorType_Slack,
			Credentials: domain.Credentials{domain.CredentialKey_AccessToken: "old-token"},
		})
		require.NoError(t, err)
		oldBlob := integration.EncryptedCredential

		adapter.refreshErr = errors.New("invalid_grant")
		err = manager.RefreshIntegrationTokens(ctx, "tenant-1", integration.ID)
		assert.ErrorIs(t, err, domain.ErrAuthFailed)

		got, err := store.GetIntegration(ctx, "tenant-1", integration.ID)
		require.NoError(t, err)
		assert.Equal(t, oldBlob, got.EncryptedCredential)
		assert.Equal(t, domain.IntegrationStatus_AuthFailed, got.Status)
	})

	t.Run("refresh unsupported passes through without downgrade", func(t *testing.T) {
		adapter := &fakeAdapter{refreshErr: domain.ErrRefreshUnsupported}
		manager, store := newTestManager(t, adapter)

		integration, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: domain.ConnectorType_Stripe,
			Credentials: domain.Credentials{domain.CredentialKey_APIKey: "sk_test"},
		})
		require.NoError(t, err)

		err = manager.RefreshIntegrationTokens(ctx, "tenant-1", integration.ID)
		assert.ErrorIs(t, err, domain.ErrRefreshUnsupported)

		got, _ := store.GetIntegration(ctx, "tenant-1", integration.ID)
		assert.Equal(t, domain.IntegrationStatus_Connected, got.Status)
	})
}

func TestExecuteAction(t *testing.T) {
	ctx := context.Background()

	t.Run("routes the action through the adapter", func(t *testing.T) {
		adapter := &fakeAdapter{actionResult: map[string]any{"ts": "123.456"}}
		manager, _ := newTestManager(t, adapter)

		integration, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: domain.ConnectorType_Slack,
			Credentials: domain.Credentials{domain.CredentialKey_AccessToken: "xoxb-token"},
		})
		require.NoError(t, err)

		result, err := manager.ExecuteAction(ctx, ActionParams{
			TenantID:      "tenant-1",
			IntegrationID: integration.ID,
			Action:        "post_message",
			Data:          map[string]any{"channel": "#general", "text": "hi"},
			Actor:         "user-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "123.456", result["ts"])
		assert.Equal(t, []string{"post_message"}, adapter.actions)
		// the adapter sees the decrypted credentials
		assert.Equal(t, "xoxb-token", adapter.actionCreds[domain.CredentialKey_AccessToken])
	})

	t.Run("rejects integrations that are not connected", func(t *testing.T) {
		adapter := &fakeAdapter{}
		manager, store := newTestManager(t, adapter)

		integration, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: domain.ConnectorType_Slack,
			Credentials: domain.Credentials{domain.CredentialKey_AccessToken: "xoxb-token"},
		})
		require.NoError(t, err)

		integration.Status = domain.IntegrationStatus_AuthFailed
		require.NoError(t, store.UpdateIntegration(ctx, integration))

		_, err = manager.ExecuteAction(ctx, ActionParams{
			TenantID:      "tenant-1",
			IntegrationID: integration.ID,
			Action:        "post_message",
		})
		assert.ErrorIs(t, err, domain.ErrNotConnected)
		assert.Empty(t, adapter.actions)
	})

	t.Run("rejects connectors without an outbound actor", func(t *testing.T) {
		manager, _ := newTestManager(t, &fakeAdapter{})

		store := memory.NewStore()
		adapterRegistry := adapters.NewRegistry()
		adapterRegistry.Register(domain.ConnectorType_Stripe, inboundOnlyAdapter{})
		credentialVault, err := vault.New("test-encryption-key")
		require.NoError(t, err)

		manager = NewIntegrationManager(IntegrationManagerDependencies{
			Store:             store,
			ConnectorRegistry: registry.NewDefault(),
			AdapterRegistry:   adapterRegistry,
			Vault:             credentialVault,
		})

		integration, err := manager.ConnectIntegration(ctx, ConnectParams{
			TenantID:    "tenant-1",
			ConnectorID: domain.ConnectorType_Stripe,
			Credentials: domain.Credentials{domain.CredentialKey_APIKey: "sk_test"},
		})
		require.NoError(t, err)

		_, err = manager.ExecuteAction(ctx, ActionParams{
			TenantID:      "tenant-1",
			IntegrationID: integration.ID,
			Action:        "post_message",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not support outbound actions")
	})
}

func TestAuthorizeURL(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, &fakeAdapter{})

	url, err := manager.AuthorizeURL(ctx, AuthorizeParams{
		TenantID:    "tenant-1",
		ConnectorID: domain.ConnectorType_Slack,
		UserID:      "user-1",
	})
	require.NoError(t, err)
	assert.Contains(t, url, "https://slack.com/oauth/v2/authorize")
	assert.Contains(t, url, "state=")
	assert.Contains(t, url, "client_id=client-id")

	// API-key connectors never start an OAuth flow.
	_, err = manager.AuthorizeURL(ctx, AuthorizeParams{
		TenantID:    "tenant-1",
		ConnectorID: domain.ConnectorType_Stripe,
	})
	assert.Error(t, err)

	_ = store
}

func TestCompleteOAuthRejectsUnknownState(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t, &fakeAdapter{})

	_, _, err := manager.CompleteOAuth(ctx, CompleteOAuthParams{State: "never-issued", Code: "code"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompleteOAuthExchangeFailureKeepsRedirectURL(t *testing.T) {
	ctx := context.Background()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenServer.Close()

	store := memory.NewStore()
	credentialVault, err := vault.New("test-encryption-key")
	require.NoError(t, err)

	manager := NewIntegrationManager(IntegrationManagerDependencies{
		Store:             store,
		ConnectorRegistry: registry.NewDefault(),
		AdapterRegistry:   adapters.NewRegistry(),
		Vault:             credentialVault,
		OAuthConfigs: staticOAuthConfigs{
			domain.ConnectorType_Slack: {
				ClientID:     "client-id",
				ClientSecret: "client-secret",
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://slack.com/oauth/v2/authorize",
					TokenURL: tokenServer.URL,
				},
			},
		},
	})

	url, err := manager.AuthorizeURL(ctx, AuthorizeParams{
		TenantID:    "tenant-1",
		ConnectorID: domain.ConnectorType_Slack,
		RedirectURL: "https://app.example.com/settings",
	})
	require.NoError(t, err)
	state := stateFromAuthorizeURL(t, url)

	_, redirectURL, err := manager.CompleteOAuth(ctx, CompleteOAuthParams{State: state, Code: "bad-code"})
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
	// the caller still learns where to send the user back to
	assert.Equal(t, "https://app.example.com/settings", redirectURL)
}

func stateFromAuthorizeURL(t *testing.T, raw string) string {
	t.Helper()

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}
