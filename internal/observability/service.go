package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/rs/zerolog/log"
)

// Thresholds configure the alerting pass.
type Thresholds struct {
	// ErrorRate is the failed/total ratio over the last day above which an
	// error-rate alert opens. Zero means the default of 0.25.
	ErrorRate float64
	// StaleSyncAfter is how long a sync-enabled integration may go without a
	// successful sync before a stale-sync alert opens. Zero means 24h.
	StaleSyncAfter time.Duration
	// MinEvents is the minimum day volume before the error-rate check
	// applies, so a single failed event on a quiet integration does not
	// page anyone. Zero means 10.
	MinEvents int
}

func (t Thresholds) withDefaults() Thresholds {
	if t.ErrorRate <= 0 {
		t.ErrorRate = 0.25
	}
	if t.StaleSyncAfter <= 0 {
		t.StaleSyncAfter = 24 * time.Hour
	}
	if t.MinEvents <= 0 {
		t.MinEvents = 10
	}
	return t
}

// Service aggregates rolling-window metrics per integration and opens
// deduplicated alerts on threshold breaches.
type Service struct {
	store      domain.Store
	metrics    *Metrics
	thresholds Thresholds
	now        func() time.Time
}

type ServiceDependencies struct {
	Store      domain.Store
	Metrics    *Metrics
	Thresholds Thresholds
}

func NewService(deps ServiceDependencies) *Service {
	return &Service{
		store:      deps.Store,
		metrics:    deps.Metrics,
		thresholds: deps.Thresholds.withDefaults(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// IntegrationMetrics computes rolling-window counters for one integration.
// Windows are relative to now: 24h, 7d and 30d.
func (s *Service) IntegrationMetrics(ctx context.Context, tenantID, integrationID string) (domain.IntegrationMetrics, error) {
	integration, err := s.store.GetIntegration(ctx, tenantID, integrationID)
	if err != nil {
		return domain.IntegrationMetrics{}, err
	}

	now := s.now()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)
	monthAgo := now.Add(-30 * 24 * time.Hour)

	m := domain.IntegrationMetrics{
		IntegrationID: integrationID,
		LastSyncAt:    integration.LastSyncAt,
		LastEventAt:   integration.LastEventAt,
	}

	counts := []struct {
		dst    *int
		status domain.WebhookEventStatus
		since  time.Time
	}{
		{&m.EventsToday, "", dayAgo},
		{&m.EventsWeek, "", weekAgo},
		{&m.EventsMonth, "", monthAgo},
		{&m.FailedToday, domain.WebhookEventStatus_Failed, dayAgo},
		{&m.FailedWeek, domain.WebhookEventStatus_Failed, weekAgo},
	}
	for _, c := range counts {
		n, err := s.store.CountWebhookEvents(ctx, tenantID, integrationID, c.status, c.since)
		if err != nil {
			return domain.IntegrationMetrics{}, fmt.Errorf("failed to count webhook events: %w", err)
		}
		*c.dst = n
	}

	if m.SyncJobsWeek, err = s.store.CountSyncJobs(ctx, tenantID, integrationID, "", weekAgo); err != nil {
		return domain.IntegrationMetrics{}, fmt.Errorf("failed to count sync jobs: %w", err)
	}
	if m.SyncFailedWeek, err = s.store.CountSyncJobs(ctx, tenantID, integrationID, domain.SyncJobStatus_Failed, weekAgo); err != nil {
		return domain.IntegrationMetrics{}, fmt.Errorf("failed to count failed sync jobs: %w", err)
	}

	return m, nil
}

// CheckIntegration evaluates alert conditions for one integration. Repeated
// breaches of the same condition collapse onto the existing open alert.
func (s *Service) CheckIntegration(ctx context.Context, integration domain.Integration) error {
	now := s.now()

	if integration.Status == domain.IntegrationStatus_AuthFailed {
		if err := s.open(ctx, integration, domain.AlertType_AuthState, domain.AlertSeverity_Critical,
			"integration credentials were rejected by the provider"); err != nil {
			return err
		}
	}

	if integration.Config.SyncEnabled && integration.LastSyncAt != nil &&
		now.Sub(*integration.LastSyncAt) > s.thresholds.StaleSyncAfter {
		if err := s.open(ctx, integration, domain.AlertType_StaleSync, domain.AlertSeverity_Warning,
			fmt.Sprintf("no successful sync since %s", integration.LastSyncAt.Format(time.RFC3339))); err != nil {
			return err
		}
	}

	dayAgo := now.Add(-24 * time.Hour)
	total, err := s.store.CountWebhookEvents(ctx, integration.TenantID, integration.ID, "", dayAgo)
	if err != nil {
		return fmt.Errorf("failed to count webhook events: %w", err)
	}
	if total >= s.thresholds.MinEvents {
		failed, err := s.store.CountWebhookEvents(ctx, integration.TenantID, integration.ID,
			domain.WebhookEventStatus_Failed, dayAgo)
		if err != nil {
			return fmt.Errorf("failed to count failed events: %w", err)
		}
		if rate := float64(failed) / float64(total); rate >= s.thresholds.ErrorRate {
			if err := s.open(ctx, integration, domain.AlertType_ErrorRate, domain.AlertSeverity_Critical,
				fmt.Sprintf("%.0f%% of webhook events failed in the last 24h", rate*100)); err != nil {
				return err
			}
		}
	}

	return nil
}

// CheckAll runs the alerting pass over every active integration in the store
// and refreshes the open-alert gauge. Called on the scheduler tick.
func (s *Service) CheckAll(ctx context.Context) {
	integrations, err := s.store.ListActiveIntegrations(ctx)
	if err != nil {
		log.Error().Err(err).Msg("alert check failed to list integrations")
		return
	}

	tenants := map[string]struct{}{}
	for _, integration := range integrations {
		tenants[integration.TenantID] = struct{}{}
		if err := s.CheckIntegration(ctx, integration); err != nil {
			log.Warn().Err(err).Str("integration_id", integration.ID).Msg("alert check failed")
		}
	}

	open := 0
	for tenantID := range tenants {
		alerts, err := s.store.ListAlerts(ctx, tenantID, true)
		if err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("alert check failed to list alerts")
			continue
		}
		open += len(alerts)
	}
	if s.metrics != nil {
		s.metrics.SetOpenAlerts(open)
	}
}

// Acknowledge marks an alert handled. Acknowledging twice is a no-op.
func (s *Service) Acknowledge(ctx context.Context, tenantID, alertID string) error {
	return s.store.AcknowledgeAlert(ctx, tenantID, alertID)
}

func (s *Service) ListAlerts(ctx context.Context, tenantID string, openOnly bool) ([]domain.Alert, error) {
	return s.store.ListAlerts(ctx, tenantID, openOnly)
}

func (s *Service) ListLogs(ctx context.Context, tenantID, integrationID string, limit int) ([]domain.IntegrationLog, error) {
	return s.store.ListLogs(ctx, tenantID, integrationID, limit)
}

func (s *Service) open(ctx context.Context, integration domain.Integration, alertType string, severity domain.AlertSeverity, message string) error {
	alert := domain.Alert{
		TenantID:      integration.TenantID,
		IntegrationID: integration.ID,
		Severity:      severity,
		Type:          alertType,
		Message:       message,
		DedupKey:      fmt.Sprintf("%s|%s|%s", integration.TenantID, integration.ID, alertType),
		CreatedAt:     s.now(),
	}

	stored, created, err := s.store.UpsertAlert(ctx, alert)
	if err != nil {
		return fmt.Errorf("failed to open alert: %w", err)
	}
	if created {
		log.Warn().
			Str("tenant_id", stored.TenantID).
			Str("integration_id", stored.IntegrationID).
			Str("alert_type", stored.Type).
			Str("severity", string(stored.Severity)).
			Msg("alert opened")
	}

	return nil
}
