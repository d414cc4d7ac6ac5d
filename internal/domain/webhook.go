package domain

import "time"

type WebhookEventStatus string

const (
	WebhookEventStatus_Pending   WebhookEventStatus = "pending"
	WebhookEventStatus_Processed WebhookEventStatus = "processed"
	WebhookEventStatus_Failed    WebhookEventStatus = "failed"
)

// NormalizedEvent is the platform-uniform shape produced from a
// provider-specific raw payload.
type NormalizedEvent struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// WebhookEvent is one inbound provider delivery. (TenantID, ConnectorID,
// ProviderEventID) is the idempotency key; the backing store enforces its
// uniqueness. Rows are immutable once processed; only Status, RetryCount and
// Error mutate on reprocessing attempts.
type WebhookEvent struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	IntegrationID string `json:"integration_id"`
	ConnectorID   string `json:"connector_id"`

	ProviderEventID   string `json:"provider_event_id"`
	ProviderEventType string `json:"provider_event_type"`

	Payload    []byte           `json:"-"`
	Normalized *NormalizedEvent `json:"normalized,omitempty"`

	SignatureValid bool               `json:"signature_valid"`
	Status         WebhookEventStatus `json:"status"`
	RetryCount     int                `json:"retry_count"`
	Error          string             `json:"error,omitempty"`

	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
