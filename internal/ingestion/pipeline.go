package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hivedesk/hivedesk/internal/adapters"
	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/rs/zerolog/log"
)

// MetricsRecorder receives per-delivery counters. Implemented by the
// observability package; nil disables recording.
type MetricsRecorder interface {
	RecordWebhook(connectorID, outcome string)
	RecordWebhookDuration(connectorID string, d time.Duration)
}

// Result is the outcome of one inbound delivery.
type Result struct {
	Event     domain.WebhookEvent
	Duplicate bool
}

// Pipeline turns raw provider deliveries into normalized, deduplicated,
// persisted events handed to the downstream publisher.
type Pipeline struct {
	store     domain.Store
	adapters  *adapters.Registry
	publisher domain.EventPublisher
	metrics   MetricsRecorder
	now       func() time.Time
}

type PipelineDependencies struct {
	Store           domain.Store
	AdapterRegistry *adapters.Registry
	Publisher       domain.EventPublisher
	Metrics         MetricsRecorder
}

func NewPipeline(deps PipelineDependencies) *Pipeline {
	return &Pipeline{
		store:     deps.Store,
		adapters:  deps.AdapterRegistry,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Delivery is one raw inbound webhook request.
type Delivery struct {
	TenantID    string
	ConnectorID string

	// ProviderEventID is the provider's delivery identifier. The controller
	// extracts it from headers or body; when the provider sends none, the
	// controller substitutes a payload hash.
	ProviderEventID string
	EventType       string

	Payload []byte
	Headers SignatureHeaders
}

// Ingest runs the full pipeline for one delivery: resolve the integration,
// verify the signature, insert through the idempotency gate, normalize,
// persist and publish. A duplicate delivery short-circuits after the insert
// and is acknowledged without side effects. A delivery whose normalization
// fails is retained in failed status for later inspection; the raw payload
// is never lost after the signature check passes.
func (p *Pipeline) Ingest(ctx context.Context, d Delivery) (Result, error) {
	started := p.now()

	integration, err := p.store.GetIntegrationByConnector(ctx, d.TenantID, d.ConnectorID)
	if err != nil {
		p.record(d.ConnectorID, "rejected")
		return Result{}, err
	}
	if !integration.IsConnected() {
		p.record(d.ConnectorID, "rejected")
		return Result{}, fmt.Errorf("integration %s: %w", integration.ID, domain.ErrNotConnected)
	}

	if err := VerifySignature(d.ConnectorID, integration.Config.WebhookSecret, d.Headers, d.Payload); err != nil {
		p.record(d.ConnectorID, "invalid_signature")
		log.Warn().
			Str("tenant_id", d.TenantID).
			Str("connector_id", d.ConnectorID).
			Msg("rejected webhook with invalid signature")
		return Result{}, err
	}

	event := domain.WebhookEvent{
		TenantID:          d.TenantID,
		IntegrationID:     integration.ID,
		ConnectorID:       d.ConnectorID,
		ProviderEventID:   d.ProviderEventID,
		ProviderEventType: d.EventType,
		Payload:           d.Payload,
		SignatureValid:    true,
		Status:            domain.WebhookEventStatus_Pending,
		ReceivedAt:        started,
	}

	stored, created, err := p.store.InsertWebhookEvent(ctx, event)
	if err != nil {
		p.record(d.ConnectorID, "error")
		return Result{}, fmt.Errorf("failed to persist webhook event: %w", err)
	}
	if !created {
		p.record(d.ConnectorID, "duplicate")
		return Result{Event: stored, Duplicate: true}, nil
	}

	stored, err = p.process(ctx, integration, stored)
	if err != nil {
		p.record(d.ConnectorID, "failed")
		return Result{Event: stored}, nil
	}

	p.record(d.ConnectorID, "processed")
	if p.metrics != nil {
		p.metrics.RecordWebhookDuration(d.ConnectorID, p.now().Sub(started))
	}

	p.touchIntegration(ctx, integration)

	return Result{Event: stored}, nil
}

// process normalizes and publishes one stored pending event, recording the
// terminal status on the row.
func (p *Pipeline) process(ctx context.Context, integration domain.Integration, event domain.WebhookEvent) (domain.WebhookEvent, error) {
	normalized, err := p.normalize(event)
	if err != nil {
		return p.markFailed(ctx, event, fmt.Errorf("normalization failed: %w", err)), err
	}

	event.Normalized = &normalized
	event.ProviderEventType = normalized.Type

	err = p.publisher.PublishEvent(ctx, domain.OutboundEvent{
		TenantID:        event.TenantID,
		IntegrationID:   event.IntegrationID,
		ConnectorID:     event.ConnectorID,
		ProviderEventID: event.ProviderEventID,
		Type:            normalized.Type,
		Data:            normalized.Data,
		Timestamp:       normalized.Timestamp,
	})
	if err != nil {
		return p.markFailed(ctx, event, fmt.Errorf("downstream publish failed: %w", err)), err
	}

	event.Status = domain.WebhookEventStatus_Processed
	at := p.now()
	event.ProcessedAt = &at
	if err := p.store.UpdateWebhookEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("webhook_id", event.ID).Msg("failed to mark webhook event processed")
	}

	return event, nil
}

// Reprocess retries a previously failed event. The retry count bounds how
// often an event may be re-attempted.
func (p *Pipeline) Reprocess(ctx context.Context, tenantID, connectorID, providerEventID string) (domain.WebhookEvent, error) {
	event, err := p.store.GetWebhookEventByProviderID(ctx, tenantID, connectorID, providerEventID)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	if event.Status == domain.WebhookEventStatus_Processed {
		return event, nil
	}

	integration, err := p.store.GetIntegration(ctx, tenantID, event.IntegrationID)
	if err != nil {
		return domain.WebhookEvent{}, err
	}

	event.RetryCount++
	return p.process(ctx, integration, event)
}

func (p *Pipeline) normalize(event domain.WebhookEvent) (domain.NormalizedEvent, error) {
	adapter, ok := p.adapters.Get(event.ConnectorID)
	if !ok {
		return adapters.PassthroughNormalize(event.ProviderEventType, event.Payload)
	}

	return adapter.NormalizeWebhookEvent(event.ProviderEventType, event.Payload)
}

func (p *Pipeline) markFailed(ctx context.Context, event domain.WebhookEvent, cause error) domain.WebhookEvent {
	event.Status = domain.WebhookEventStatus_Failed
	event.Error = cause.Error()
	if err := p.store.UpdateWebhookEvent(ctx, event); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Error().Err(err).Str("webhook_id", event.ID).Msg("failed to mark webhook event failed")
	}

	return event
}

func (p *Pipeline) touchIntegration(ctx context.Context, integration domain.Integration) {
	at := p.now()
	integration.LastEventAt = &at
	if err := p.store.UpdateIntegration(ctx, integration); err != nil {
		log.Warn().Err(err).Str("integration_id", integration.ID).Msg("failed to update last event time")
	}
}

func (p *Pipeline) record(connectorID, outcome string) {
	if p.metrics != nil {
		p.metrics.RecordWebhook(connectorID, outcome)
	}
}
