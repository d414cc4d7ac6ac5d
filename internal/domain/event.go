package domain

import (
	"context"
	"time"
)

// OutboundEvent is the downstream hand-off shape consumed by the automation
// engine. Each ProviderEventID is handed off at most once per
// tenant+connector; the ingestion pipeline's idempotency store backs that
// guarantee.
type OutboundEvent struct {
	TenantID        string         `json:"tenant_id"`
	IntegrationID   string         `json:"integration_id"`
	ConnectorID     string         `json:"connector_id"`
	ProviderEventID string         `json:"provider_event_id"`
	Type            string         `json:"type"`
	Data            map[string]any `json:"data"`
	Timestamp       time.Time      `json:"timestamp"`
}

// EventPublisher delivers normalized events to the downstream consumer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event OutboundEvent) error
}

// AuditRecord is a structured action record for state-changing operations.
// Audit failures never abort the primary operation.
type AuditRecord struct {
	TenantID      string         `json:"tenant_id"`
	IntegrationID string         `json:"integration_id,omitempty"`
	Action        string         `json:"action"`
	Actor         string         `json:"actor"`
	Details       map[string]any `json:"details,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

type AuditSink interface {
	RecordAction(ctx context.Context, record AuditRecord) error
}
