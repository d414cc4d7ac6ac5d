package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// StreamKey is the Redis Stream downstream CRM consumers read from.
const StreamKey = "hivedesk:events"

// RedisPublisher appends normalized events onto a Redis Stream. Delivery to
// downstream consumers is at-least-once; consumers dedupe on provider_event_id.
type RedisPublisher struct {
	client    redis.UniversalClient
	streamKey string
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{
		client:    client,
		streamKey: StreamKey,
	}
}

func (p *RedisPublisher) PublishEvent(ctx context.Context, event domain.OutboundEvent) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.streamKey,
		Values: map[string]any{
			"tenant_id":         event.TenantID,
			"integration_id":    event.IntegrationID,
			"connector_id":      event.ConnectorID,
			"provider_event_id": event.ProviderEventID,
			"type":              event.Type,
			"data":              string(data),
			"timestamp":         event.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish event to stream: %w", err)
	}

	log.Debug().
		Str("tenant_id", event.TenantID).
		Str("connector_id", event.ConnectorID).
		Str("event_type", event.Type).
		Msg("published event")

	return nil
}
