package domain

import "time"

type LogLevel string

const (
	LogLevel_Info  LogLevel = "info"
	LogLevel_Warn  LogLevel = "warn"
	LogLevel_Error LogLevel = "error"
)

// IntegrationLog is an append-only observability record.
type IntegrationLog struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	IntegrationID string         `json:"integration_id"`
	Level         LogLevel       `json:"level"`
	Action        string         `json:"action"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

type AlertSeverity string

const (
	AlertSeverity_Info     AlertSeverity = "info"
	AlertSeverity_Warning  AlertSeverity = "warning"
	AlertSeverity_Critical AlertSeverity = "critical"
)

const (
	AlertType_ErrorRate = "error_rate"
	AlertType_StaleSync = "stale_sync"
	AlertType_AuthState = "auth_state"
)

// Alert is a threshold breach for one integration. DedupKey collapses
// repeated breaches of the same kind within a check window into one record.
type Alert struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	IntegrationID string        `json:"integration_id"`
	Severity      AlertSeverity `json:"severity"`
	Type          string        `json:"type"`
	Message       string        `json:"message"`
	DedupKey      string        `json:"dedup_key"`
	Acknowledged  bool          `json:"acknowledged"`
	CreatedAt     time.Time     `json:"created_at"`
}

// IntegrationMetrics are rolling-window counters aggregated on read.
type IntegrationMetrics struct {
	IntegrationID string `json:"integration_id"`

	EventsToday int `json:"events_today"`
	EventsWeek  int `json:"events_week"`
	EventsMonth int `json:"events_month"`

	FailedToday int `json:"failed_today"`
	FailedWeek  int `json:"failed_week"`

	SyncJobsWeek   int `json:"sync_jobs_week"`
	SyncFailedWeek int `json:"sync_failed_week"`

	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}
