package events

import (
	"context"
	"fmt"

	"github.com/hivedesk/hivedesk/internal/domain"
)

// PublishingProcessor forwards synced items onto the event publisher so sync
// and webhook traffic reach downstream consumers through the same stream.
type PublishingProcessor struct {
	publisher domain.EventPublisher
}

func NewPublishingProcessor(publisher domain.EventPublisher) *PublishingProcessor {
	return &PublishingProcessor{publisher: publisher}
}

func (p *PublishingProcessor) ProcessItem(ctx context.Context, integration domain.Integration, item domain.SyncItem) error {
	err := p.publisher.PublishEvent(ctx, domain.OutboundEvent{
		TenantID:        integration.TenantID,
		IntegrationID:   integration.ID,
		ConnectorID:     integration.ConnectorID,
		ProviderEventID: item.ID,
		Type:            item.Type,
		Data:            item.Data,
		Timestamp:       item.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to publish sync item %s: %w", item.ID, err)
	}

	return nil
}
