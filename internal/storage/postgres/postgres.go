package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/xid"
)

// Store is the production domain.Store on a transactional Postgres backend.
// The idempotency and single-active-integration invariants are enforced by
// unique indexes, not application-level checks.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Integrations

const integrationColumns = `id, tenant_id, connector_id, encrypted_credential, config, status, last_error,
	last_sync_at, last_event_at, last_error_at, created_by, created_at, updated_at, deleted_at`

func scanIntegration(row pgx.Row) (domain.Integration, error) {
	var i domain.Integration
	var config []byte

	err := row.Scan(&i.ID, &i.TenantID, &i.ConnectorID, &i.EncryptedCredential, &config, &i.Status, &i.LastError,
		&i.LastSyncAt, &i.LastEventAt, &i.LastErrorAt, &i.CreatedBy, &i.CreatedAt, &i.UpdatedAt, &i.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Integration{}, domain.ErrNotFound
		}
		return domain.Integration{}, fmt.Errorf("failed to scan integration: %w", err)
	}

	if len(config) > 0 {
		if err := json.Unmarshal(config, &i.Config); err != nil {
			return domain.Integration{}, fmt.Errorf("failed to decode integration config: %w", err)
		}
	}

	return i, nil
}

func (s *Store) UpsertIntegration(ctx context.Context, integration domain.Integration) (domain.Integration, error) {
	if integration.ID == "" {
		integration.ID = xid.New().String()
	}

	config, err := json.Marshal(integration.Config)
	if err != nil {
		return domain.Integration{}, fmt.Errorf("failed to encode integration config: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO integrations (id, tenant_id, connector_id, encrypted_credential, config, status, last_error, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, connector_id) WHERE deleted_at IS NULL DO UPDATE SET
			encrypted_credential = EXCLUDED.encrypted_credential,
			config               = EXCLUDED.config,
			status               = EXCLUDED.status,
			last_error           = EXCLUDED.last_error,
			updated_at           = now()
		RETURNING `+integrationColumns,
		integration.ID, integration.TenantID, integration.ConnectorID, integration.EncryptedCredential,
		config, integration.Status, integration.LastError, integration.CreatedBy)

	return scanIntegration(row)
}

func (s *Store) GetIntegration(ctx context.Context, tenantID, id string) (domain.Integration, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+integrationColumns+`
		FROM integrations WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	return scanIntegration(row)
}

func (s *Store) GetIntegrationByConnector(ctx context.Context, tenantID, connectorID string) (domain.Integration, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+integrationColumns+`
		FROM integrations WHERE tenant_id = $1 AND connector_id = $2 AND deleted_at IS NULL`, tenantID, connectorID)
	return scanIntegration(row)
}

func (s *Store) UpdateIntegration(ctx context.Context, integration domain.Integration) error {
	config, err := json.Marshal(integration.Config)
	if err != nil {
		return fmt.Errorf("failed to encode integration config: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE integrations SET
			encrypted_credential = $3,
			config        = $4,
			status        = $5,
			last_error    = $6,
			last_sync_at  = $7,
			last_event_at = $8,
			last_error_at = $9,
			updated_at    = now()
		WHERE id = $1 AND tenant_id = $2`,
		integration.ID, integration.TenantID, integration.EncryptedCredential, config, integration.Status,
		integration.LastError, integration.LastSyncAt, integration.LastEventAt, integration.LastErrorAt)
	if err != nil {
		return fmt.Errorf("failed to update integration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (s *Store) SoftDeleteIntegration(ctx context.Context, tenantID, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE integrations SET deleted_at = $3, status = $4, updated_at = $3
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID, at, domain.IntegrationStatus_Disconnected)
	if err != nil {
		return fmt.Errorf("failed to soft-delete integration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (s *Store) ListIntegrations(ctx context.Context, tenantID string) ([]domain.Integration, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+integrationColumns+`
		FROM integrations WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	return collectIntegrations(rows)
}

func (s *Store) ListConnectedIntegrations(ctx context.Context) ([]domain.Integration, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+integrationColumns+`
		FROM integrations WHERE status = $1 AND deleted_at IS NULL ORDER BY created_at`,
		domain.IntegrationStatus_Connected)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected integrations: %w", err)
	}
	defer rows.Close()

	return collectIntegrations(rows)
}

func (s *Store) ListActiveIntegrations(ctx context.Context) ([]domain.Integration, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+integrationColumns+`
		FROM integrations WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active integrations: %w", err)
	}
	defer rows.Close()

	return collectIntegrations(rows)
}

func collectIntegrations(rows pgx.Rows) ([]domain.Integration, error) {
	var out []domain.Integration
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, integration)
	}

	return out, rows.Err()
}

// Webhook events

const webhookColumns = `id, tenant_id, integration_id, connector_id, provider_event_id, provider_event_type,
	payload, normalized, signature_valid, status, retry_count, error, received_at, processed_at`

func scanWebhookEvent(row pgx.Row) (domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	var normalized []byte

	err := row.Scan(&e.ID, &e.TenantID, &e.IntegrationID, &e.ConnectorID, &e.ProviderEventID, &e.ProviderEventType,
		&e.Payload, &normalized, &e.SignatureValid, &e.Status, &e.RetryCount, &e.Error, &e.ReceivedAt, &e.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WebhookEvent{}, domain.ErrNotFound
		}
		return domain.WebhookEvent{}, fmt.Errorf("failed to scan webhook event: %w", err)
	}

	if len(normalized) > 0 {
		e.Normalized = &domain.NormalizedEvent{}
		if err := json.Unmarshal(normalized, e.Normalized); err != nil {
			return domain.WebhookEvent{}, fmt.Errorf("failed to decode normalized event: %w", err)
		}
	}

	return e, nil
}

func (s *Store) InsertWebhookEvent(ctx context.Context, event domain.WebhookEvent) (domain.WebhookEvent, bool, error) {
	if event.ID == "" {
		event.ID = xid.New().String()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	normalized, err := marshalNormalized(event.Normalized)
	if err != nil {
		return domain.WebhookEvent{}, false, err
	}

	// ON CONFLICT DO NOTHING + fallback read: the unique index serializes
	// near-simultaneous duplicate deliveries.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (id, tenant_id, integration_id, connector_id, provider_event_id,
			provider_event_type, payload, normalized, signature_valid, status, retry_count, error, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tenant_id, connector_id, provider_event_id) DO NOTHING`,
		event.ID, event.TenantID, event.IntegrationID, event.ConnectorID, event.ProviderEventID,
		event.ProviderEventType, event.Payload, normalized, event.SignatureValid, event.Status,
		event.RetryCount, event.Error, event.ReceivedAt)
	if err != nil {
		return domain.WebhookEvent{}, false, fmt.Errorf("failed to insert webhook event: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return event, true, nil
	}

	existing, err := s.GetWebhookEventByProviderID(ctx, event.TenantID, event.ConnectorID, event.ProviderEventID)
	if err != nil {
		return domain.WebhookEvent{}, false, err
	}

	return existing, false, nil
}

func (s *Store) GetWebhookEventByProviderID(ctx context.Context, tenantID, connectorID, providerEventID string) (domain.WebhookEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+webhookColumns+`
		FROM webhook_events WHERE tenant_id = $1 AND connector_id = $2 AND provider_event_id = $3`,
		tenantID, connectorID, providerEventID)
	return scanWebhookEvent(row)
}

func (s *Store) UpdateWebhookEvent(ctx context.Context, event domain.WebhookEvent) error {
	normalized, err := marshalNormalized(event.Normalized)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_events SET normalized = $2, status = $3, retry_count = $4, error = $5, processed_at = $6
		WHERE id = $1`,
		event.ID, normalized, event.Status, event.RetryCount, event.Error, event.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to update webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (s *Store) CountWebhookEvents(ctx context.Context, tenantID, integrationID string, status domain.WebhookEventStatus, since time.Time) (int, error) {
	query := `SELECT count(*) FROM webhook_events WHERE tenant_id = $1 AND received_at >= $2`
	args := []any{tenantID, since}

	if integrationID != "" {
		args = append(args, integrationID)
		query += fmt.Sprintf(" AND integration_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count webhook events: %w", err)
	}

	return count, nil
}

func marshalNormalized(normalized *domain.NormalizedEvent) ([]byte, error) {
	if normalized == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode normalized event: %w", err)
	}

	return encoded, nil
}

// Sync jobs

const syncJobColumns = `id, tenant_id, integration_id, connector_id, direction, sync_type, status, cursor,
	items_processed, items_created, items_updated, items_failed, error, created_at, started_at, finished_at`

func scanSyncJob(row pgx.Row) (domain.SyncJob, error) {
	var j domain.SyncJob

	err := row.Scan(&j.ID, &j.TenantID, &j.IntegrationID, &j.ConnectorID, &j.Direction, &j.Type, &j.Status,
		&j.Cursor, &j.ItemsProcessed, &j.ItemsCreated, &j.ItemsUpdated, &j.ItemsFailed, &j.Error,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SyncJob{}, domain.ErrNotFound
		}
		return domain.SyncJob{}, fmt.Errorf("failed to scan sync job: %w", err)
	}

	return j, nil
}

func (s *Store) CreateSyncJob(ctx context.Context, job domain.SyncJob) (domain.SyncJob, error) {
	if job.ID == "" {
		job.ID = xid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	// The sync_jobs_single_active index makes the insert itself the overlap
	// guard, so two concurrent triggers cannot both create a job.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_jobs (id, tenant_id, integration_id, connector_id, direction, sync_type, status, cursor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.TenantID, job.IntegrationID, job.ConnectorID, job.Direction, job.Type, job.Status, job.Cursor, job.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.SyncJob{}, domain.ErrSyncInProgress
		}
		return domain.SyncJob{}, fmt.Errorf("failed to create sync job: %w", err)
	}

	return job, nil
}

func (s *Store) GetSyncJob(ctx context.Context, tenantID, id string) (domain.SyncJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+syncJobColumns+`
		FROM sync_jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return scanSyncJob(row)
}

func (s *Store) UpdateSyncJob(ctx context.Context, job domain.SyncJob) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_jobs SET status = $2, cursor = $3, items_processed = $4, items_created = $5,
			items_updated = $6, items_failed = $7, error = $8, started_at = $9, finished_at = $10
		WHERE id = $1`,
		job.ID, job.Status, job.Cursor, job.ItemsProcessed, job.ItemsCreated, job.ItemsUpdated,
		job.ItemsFailed, job.Error, job.StartedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to update sync job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (s *Store) CountSyncJobs(ctx context.Context, tenantID, integrationID string, status domain.SyncJobStatus, since time.Time) (int, error) {
	query := `SELECT count(*) FROM sync_jobs WHERE tenant_id = $1 AND created_at >= $2`
	args := []any{tenantID, since}

	if integrationID != "" {
		args = append(args, integrationID)
		query += fmt.Sprintf(" AND integration_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sync jobs: %w", err)
	}

	return count, nil
}

// OAuth states

func (s *Store) PutOAuthState(ctx context.Context, state domain.OAuthState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_states (token, tenant_id, connector_id, user_id, redirect_url, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		state.Token, state.TenantID, state.ConnectorID, state.UserID, state.RedirectURL, state.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to store oauth state: %w", err)
	}

	return nil
}

func (s *Store) ConsumeOAuthState(ctx context.Context, token string) (domain.OAuthState, error) {
	// DELETE ... RETURNING makes validate-and-consume one atomic statement.
	var state domain.OAuthState
	err := s.pool.QueryRow(ctx, `
		DELETE FROM oauth_states WHERE token = $1
		RETURNING token, tenant_id, connector_id, user_id, redirect_url, expires_at`, token).
		Scan(&state.Token, &state.TenantID, &state.ConnectorID, &state.UserID, &state.RedirectURL, &state.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OAuthState{}, domain.ErrNotFound
		}
		return domain.OAuthState{}, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	if state.Expired(time.Now().UTC()) {
		return domain.OAuthState{}, domain.ErrNotFound
	}

	return state, nil
}

func (s *Store) DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired oauth states: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// Logs

func (s *Store) AppendLog(ctx context.Context, entry domain.IntegrationLog) error {
	if entry.ID == "" {
		entry.ID = xid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to encode log details: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO integration_logs (id, tenant_id, integration_id, level, action, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.TenantID, entry.IntegrationID, entry.Level, entry.Action, entry.Message, details, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append integration log: %w", err)
	}

	return nil
}

func (s *Store) ListLogs(ctx context.Context, tenantID, integrationID string, limit int) ([]domain.IntegrationLog, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, tenant_id, integration_id, level, action, message, details, created_at
		FROM integration_logs WHERE tenant_id = $1`
	args := []any{tenantID}

	if integrationID != "" {
		args = append(args, integrationID)
		query += fmt.Sprintf(" AND integration_id = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list integration logs: %w", err)
	}
	defer rows.Close()

	var out []domain.IntegrationLog
	for rows.Next() {
		var entry domain.IntegrationLog
		var details []byte

		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.IntegrationID, &entry.Level, &entry.Action,
			&entry.Message, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan integration log: %w", err)
		}

		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to decode log details: %w", err)
			}
		}

		out = append(out, entry)
	}

	return out, rows.Err()
}

// Alerts

func (s *Store) UpsertAlert(ctx context.Context, alert domain.Alert) (domain.Alert, bool, error) {
	if alert.ID == "" {
		alert.ID = xid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	// An open alert with the same dedup key swallows the new one; an
	// acknowledged alert is reopened instead of duplicated.
	var stored domain.Alert
	err := s.pool.QueryRow(ctx, `
		INSERT INTO alerts (id, tenant_id, integration_id, severity, alert_type, message, dedup_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (dedup_key) DO UPDATE SET
			severity     = CASE WHEN alerts.acknowledged THEN EXCLUDED.severity ELSE alerts.severity END,
			message      = CASE WHEN alerts.acknowledged THEN EXCLUDED.message ELSE alerts.message END,
			created_at   = CASE WHEN alerts.acknowledged THEN EXCLUDED.created_at ELSE alerts.created_at END,
			acknowledged = false
		RETURNING id, tenant_id, integration_id, severity, alert_type, message, dedup_key, acknowledged, created_at`,
		alert.ID, alert.TenantID, alert.IntegrationID, alert.Severity, alert.Type, alert.Message, alert.DedupKey, alert.CreatedAt).
		Scan(&stored.ID, &stored.TenantID, &stored.IntegrationID, &stored.Severity, &stored.Type,
			&stored.Message, &stored.DedupKey, &stored.Acknowledged, &stored.CreatedAt)
	if err != nil {
		return domain.Alert{}, false, fmt.Errorf("failed to upsert alert: %w", err)
	}

	created := stored.ID == alert.ID

	return stored, created, nil
}

func (s *Store) AcknowledgeAlert(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET acknowledged = true WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (s *Store) ListAlerts(ctx context.Context, tenantID string, openOnly bool) ([]domain.Alert, error) {
	query := `SELECT id, tenant_id, integration_id, severity, alert_type, message, dedup_key, acknowledged, created_at
		FROM alerts WHERE tenant_id = $1`
	if openOnly {
		query += ` AND acknowledged = false`
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var alert domain.Alert
		if err := rows.Scan(&alert.ID, &alert.TenantID, &alert.IntegrationID, &alert.Severity, &alert.Type,
			&alert.Message, &alert.DedupKey, &alert.Acknowledged, &alert.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, alert)
	}

	return out, rows.Err()
}
