package managers

import (
	"context"

	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/rs/zerolog/log"
)

// storeAuditSink writes audit records into the integration log store and
// mirrors them to the structured logger.
type storeAuditSink struct {
	logs domain.LogStore
}

func NewStoreAuditSink(logs domain.LogStore) domain.AuditSink {
	return &storeAuditSink{logs: logs}
}

func (s *storeAuditSink) RecordAction(ctx context.Context, record domain.AuditRecord) error {
	log.Info().
		Str("tenant_id", record.TenantID).
		Str("integration_id", record.IntegrationID).
		Str("action", record.Action).
		Str("actor", record.Actor).
		Msg("audit")

	return s.logs.AppendLog(ctx, domain.IntegrationLog{
		TenantID:      record.TenantID,
		IntegrationID: record.IntegrationID,
		Level:         domain.LogLevel_Info,
		Action:        record.Action,
		Message:       record.Action,
		Details:       record.Details,
		CreatedAt:     record.OccurredAt,
	})
}
