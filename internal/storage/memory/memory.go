package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/rs/xid"
)

// Store is the in-memory domain.Store used in tests and single-node local
// runs. One mutex guards everything; the idempotency and OAuth single-use
// invariants hold because check-then-mutate happens under that lock.
type Store struct {
	mu sync.Mutex

	integrations map[string]domain.Integration
	events       map[string]domain.WebhookEvent
	eventsByKey  map[string]string
	jobs         map[string]domain.SyncJob
	oauthStates  map[string]domain.OAuthState
	logs         []domain.IntegrationLog
	alerts       map[string]domain.Alert
	alertsByKey  map[string]string
}

func NewStore() *Store {
	return &Store{
		integrations: map[string]domain.Integration{},
		events:       map[string]domain.WebhookEvent{},
		eventsByKey:  map[string]string{},
		jobs:         map[string]domain.SyncJob{},
		oauthStates:  map[string]domain.OAuthState{},
		alerts:       map[string]domain.Alert{},
		alertsByKey:  map[string]string{},
	}
}

func idempotencyKey(tenantID, connectorID, providerEventID string) string {
	return tenantID + "|" + connectorID + "|" + providerEventID
}

// Integrations

func (s *Store) UpsertIntegration(ctx context.Context, integration domain.Integration) (domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	for _, existing := range s.integrations {
		if existing.TenantID == integration.TenantID &&
			existing.ConnectorID == integration.ConnectorID &&
			existing.DeletedAt == nil {
			integration.ID = existing.ID
			integration.CreatedAt = existing.CreatedAt
			integration.CreatedBy = existing.CreatedBy
			integration.UpdatedAt = now
			s.integrations[integration.ID] = integration
			return integration, nil
		}
	}

	if integration.ID == "" {
		integration.ID = xid.New().String()
	}
	integration.CreatedAt = now
	integration.UpdatedAt = now
	s.integrations[integration.ID] = integration

	return integration, nil
}

func (s *Store) GetIntegration(ctx context.Context, tenantID, id string) (domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	integration, ok := s.integrations[id]
	if !ok || integration.TenantID != tenantID || integration.DeletedAt != nil {
		return domain.Integration{}, domain.ErrNotFound
	}

	return integration, nil
}

func (s *Store) GetIntegrationByConnector(ctx context.Context, tenantID, connectorID string) (domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, integration := range s.integrations {
		if integration.TenantID == tenantID &&
			integration.ConnectorID == connectorID &&
			integration.DeletedAt == nil {
			return integration, nil
		}
	}

	return domain.Integration{}, domain.ErrNotFound
}

func (s *Store) UpdateIntegration(ctx context.Context, integration domain.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.integrations[integration.ID]
	if !ok || existing.TenantID != integration.TenantID {
		return domain.ErrNotFound
	}

	integration.UpdatedAt = time.Now().UTC()
	s.integrations[integration.ID] = integration

	return nil
}

func (s *Store) SoftDeleteIntegration(ctx context.Context, tenantID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	integration, ok := s.integrations[id]
	if !ok || integration.TenantID != tenantID || integration.DeletedAt != nil {
		return domain.ErrNotFound
	}

	integration.DeletedAt = &at
	integration.Status = domain.IntegrationStatus_Disconnected
	integration.UpdatedAt = at
	s.integrations[id] = integration

	return nil
}

func (s *Store) ListIntegrations(ctx context.Context, tenantID string) ([]domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Integration
	for _, integration := range s.integrations {
		if integration.TenantID == tenantID && integration.DeletedAt == nil {
			out = append(out, integration)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (s *Store) ListConnectedIntegrations(ctx context.Context) ([]domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Integration
	for _, integration := range s.integrations {
		if integration.IsConnected() {
			out = append(out, integration)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (s *Store) ListActiveIntegrations(ctx context.Context) ([]domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Integration
	for _, integration := range s.integrations {
		if integration.DeletedAt == nil {
			out = append(out, integration)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

// Webhook events

func (s *Store) InsertWebhookEvent(ctx context.Context, event domain.WebhookEvent) (domain.WebhookEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := idempotencyKey(event.TenantID, event.ConnectorID, event.ProviderEventID)

	if existingID, ok := s.eventsByKey[key]; ok {
		return s.events[existingID], false, nil
	}

	if event.ID == "" {
		event.ID = xid.New().String()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	s.events[event.ID] = event
	s.eventsByKey[key] = event.ID

	return event, true, nil
}

func (s *Store) GetWebhookEventByProviderID(ctx context.Context, tenantID, connectorID, providerEventID string) (domain.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.eventsByKey[idempotencyKey(tenantID, connectorID, providerEventID)]
	if !ok {
		return domain.WebhookEvent{}, domain.ErrNotFound
	}

	return s.events[id], nil
}

func (s *Store) UpdateWebhookEvent(ctx context.Context, event domain.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; !ok {
		return domain.ErrNotFound
	}

	s.events[event.ID] = event

	return nil
}

func (s *Store) CountWebhookEvents(ctx context.Context, tenantID, integrationID string, status domain.WebhookEventStatus, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, event := range s.events {
		if event.TenantID != tenantID {
			continue
		}
		if integrationID != "" && event.IntegrationID != integrationID {
			continue
		}
		if status != "" && event.Status != status {
			continue
		}
		if event.ReceivedAt.Before(since) {
			continue
		}
		count++
	}

	return count, nil
}

// Sync jobs

func (s *Store) CreateSyncJob(ctx context.Context, job domain.SyncJob) (domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.IntegrationID == job.IntegrationID && !existing.Status.IsTerminal() {
			return domain.SyncJob{}, domain.ErrSyncInProgress
		}
	}

	if job.ID == "" {
		job.ID = xid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	s.jobs[job.ID] = job

	return job, nil
}

func (s *Store) GetSyncJob(ctx context.Context, tenantID, id string) (domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.TenantID != tenantID {
		return domain.SyncJob{}, domain.ErrNotFound
	}

	return job, nil
}

func (s *Store) UpdateSyncJob(ctx context.Context, job domain.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}

	s.jobs[job.ID] = job

	return nil
}

func (s *Store) CountSyncJobs(ctx context.Context, tenantID, integrationID string, status domain.SyncJobStatus, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, job := range s.jobs {
		if job.TenantID != tenantID {
			continue
		}
		if integrationID != "" && job.IntegrationID != integrationID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		if job.CreatedAt.Before(since) {
			continue
		}
		count++
	}

	return count, nil
}

// OAuth states

func (s *Store) PutOAuthState(ctx context.Context, state domain.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.oauthStates[state.Token] = state

	return nil
}

func (s *Store) ConsumeOAuthState(ctx context.Context, token string) (domain.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.oauthStates[token]
	if !ok {
		return domain.OAuthState{}, domain.ErrNotFound
	}

	// Single-use: removed even when expired, so a replay cannot land after
	// the janitor misses a tick.
	delete(s.oauthStates, token)

	if state.Expired(time.Now().UTC()) {
		return domain.OAuthState{}, domain.ErrNotFound
	}

	return state, nil
}

func (s *Store) DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, state := range s.oauthStates {
		if state.Expired(now) {
			delete(s.oauthStates, token)
			removed++
		}
	}

	return removed, nil
}

// Logs

func (s *Store) AppendLog(ctx context.Context, entry domain.IntegrationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.logs = append(s.logs, entry)

	return nil
}

func (s *Store) ListLogs(ctx context.Context, tenantID, integrationID string, limit int) ([]domain.IntegrationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.IntegrationLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		entry := s.logs[i]
		if entry.TenantID != tenantID {
			continue
		}
		if integrationID != "" && entry.IntegrationID != integrationID {
			continue
		}

		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}

// Alerts

func (s *Store) UpsertAlert(ctx context.Context, alert domain.Alert) (domain.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.alertsByKey[alert.DedupKey]; ok {
		existing := s.alerts[existingID]
		if !existing.Acknowledged {
			return existing, false, nil
		}
	}

	if alert.ID == "" {
		alert.ID = xid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	s.alerts[alert.ID] = alert
	s.alertsByKey[alert.DedupKey] = alert.ID

	return alert, true, nil
}

func (s *Store) AcknowledgeAlert(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok || alert.TenantID != tenantID {
		return domain.ErrNotFound
	}

	alert.Acknowledged = true
	s.alerts[id] = alert

	return nil
}

func (s *Store) ListAlerts(ctx context.Context, tenantID string, openOnly bool) ([]domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Alert
	for _, alert := range s.alerts {
		if alert.TenantID != tenantID {
			continue
		}
		if openOnly && alert.Acknowledged {
			continue
		}
		out = append(out, alert)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}
