package domain

import (
	"context"
	"time"
)

// IntegrationStore persists tenant integrations. Upsert enforces the
// one-active-integration-per-(tenant, connector) invariant.
type IntegrationStore interface {
	UpsertIntegration(ctx context.Context, integration Integration) (Integration, error)
	GetIntegration(ctx context.Context, tenantID, id string) (Integration, error)
	GetIntegrationByConnector(ctx context.Context, tenantID, connectorID string) (Integration, error)
	UpdateIntegration(ctx context.Context, integration Integration) error
	SoftDeleteIntegration(ctx context.Context, tenantID, id string, at time.Time) error
	ListIntegrations(ctx context.Context, tenantID string) ([]Integration, error)
	ListConnectedIntegrations(ctx context.Context) ([]Integration, error)
	// ListActiveIntegrations returns every non-deleted integration across
	// tenants, regardless of status. Used by the alerting pass, which needs
	// to see auth-failed integrations too.
	ListActiveIntegrations(ctx context.Context) ([]Integration, error)
}

// WebhookEventStore persists inbound deliveries. InsertWebhookEvent is the
// idempotency gate: when a row with the same (tenant, connector,
// providerEventID) already exists it returns that row and created=false.
// Two near-simultaneous duplicate deliveries must resolve to a single row,
// via a unique constraint or an equivalent compare-and-swap.
type WebhookEventStore interface {
	InsertWebhookEvent(ctx context.Context, event WebhookEvent) (stored WebhookEvent, created bool, err error)
	GetWebhookEventByProviderID(ctx context.Context, tenantID, connectorID, providerEventID string) (WebhookEvent, error)
	UpdateWebhookEvent(ctx context.Context, event WebhookEvent) error
	CountWebhookEvents(ctx context.Context, tenantID, integrationID string, status WebhookEventStatus, since time.Time) (int, error)
}

// SyncJobStore enforces the one-active-job-per-integration invariant at the
// storage layer: CreateSyncJob returns ErrSyncInProgress when the integration
// already has a pending or running job, atomically with the insert.
type SyncJobStore interface {
	CreateSyncJob(ctx context.Context, job SyncJob) (SyncJob, error)
	GetSyncJob(ctx context.Context, tenantID, id string) (SyncJob, error)
	UpdateSyncJob(ctx context.Context, job SyncJob) error
	CountSyncJobs(ctx context.Context, tenantID, integrationID string, status SyncJobStatus, since time.Time) (int, error)
}

// OAuthStateStore is time-aware: ConsumeState atomically validates and
// deletes, returning ErrNotFound for missing, consumed or expired tokens.
type OAuthStateStore interface {
	PutOAuthState(ctx context.Context, state OAuthState) error
	ConsumeOAuthState(ctx context.Context, token string) (OAuthState, error)
	DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int, error)
}

type LogStore interface {
	AppendLog(ctx context.Context, entry IntegrationLog) error
	ListLogs(ctx context.Context, tenantID, integrationID string, limit int) ([]IntegrationLog, error)
}

// AlertStore deduplicates on DedupKey: upserting an open alert with an
// existing key returns the existing record and created=false.
type AlertStore interface {
	UpsertAlert(ctx context.Context, alert Alert) (stored Alert, created bool, err error)
	AcknowledgeAlert(ctx context.Context, tenantID, id string) error
	ListAlerts(ctx context.Context, tenantID string, openOnly bool) ([]Alert, error)
}

// Store bundles every persistence concern behind one transactional backend.
type Store interface {
	IntegrationStore
	WebhookEventStore
	SyncJobStore
	OAuthStateStore
	LogStore
	AlertStore
}
