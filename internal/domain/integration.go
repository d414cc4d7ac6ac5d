package domain

import "time"

type IntegrationStatus string

const (
	IntegrationStatus_Connected    IntegrationStatus = "connected"
	IntegrationStatus_Disconnected IntegrationStatus = "disconnected"
	IntegrationStatus_Error        IntegrationStatus = "error"
	IntegrationStatus_AuthFailed   IntegrationStatus = "auth_failed"
)

// IntegrationConfig is tenant-supplied provider configuration. Settings is an
// opaque bag passed through to the adapter.
type IntegrationConfig struct {
	SyncEnabled         bool           `json:"sync_enabled"`
	SyncIntervalMinutes int            `json:"sync_interval_minutes"`
	TestMode            bool           `json:"test_mode"`
	WebhookSecret       string         `json:"webhook_secret,omitempty"`
	Settings            map[string]any `json:"settings,omitempty"`
}

// SyncInterval returns the configured sync interval, defaulting to 15
// minutes when unset.
func (c IntegrationConfig) SyncInterval() time.Duration {
	if c.SyncIntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// Integration is a tenant's live connection to a connector. At most one
// non-deleted instance exists per (tenant, connector); reconnecting updates
// the row in place.
type Integration struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	ConnectorID string `json:"connector_id"`

	// EncryptedCredential is the vault-produced opaque blob. Plaintext
	// credential material only ever exists transiently during adapter calls.
	EncryptedCredential string `json:"-"`

	Config IntegrationConfig `json:"config"`

	Status    IntegrationStatus `json:"status"`
	LastError string            `json:"last_error,omitempty"`

	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`

	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (i Integration) IsConnected() bool {
	return i.Status == IntegrationStatus_Connected && i.DeletedAt == nil
}
