package domain

import (
	"context"
	"time"
)

type SyncDirection string

const (
	SyncDirection_Inbound       SyncDirection = "inbound"
	SyncDirection_Outbound      SyncDirection = "outbound"
	SyncDirection_Bidirectional SyncDirection = "bidirectional"
)

type SyncType string

const (
	SyncType_Full        SyncType = "full"
	SyncType_Incremental SyncType = "incremental"
	SyncType_Backfill    SyncType = "backfill"
)

type SyncJobStatus string

const (
	SyncJobStatus_Pending   SyncJobStatus = "pending"
	SyncJobStatus_Running   SyncJobStatus = "running"
	SyncJobStatus_Completed SyncJobStatus = "completed"
	SyncJobStatus_Failed    SyncJobStatus = "failed"
	SyncJobStatus_Cancelled SyncJobStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state. A new job for
// the same integration may only be created once the previous one is terminal.
func (s SyncJobStatus) IsTerminal() bool {
	switch s {
	case SyncJobStatus_Completed, SyncJobStatus_Failed, SyncJobStatus_Cancelled:
		return true
	}
	return false
}

// SyncJob transitions strictly pending → running → {completed|failed|cancelled},
// except pending → cancelled before execution begins. Cursor is persisted
// after every successful page so a resumed sync continues from the last
// confirmed position.
type SyncJob struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	IntegrationID string `json:"integration_id"`
	ConnectorID   string `json:"connector_id"`

	Direction SyncDirection `json:"direction"`
	Type      SyncType      `json:"type"`
	Status    SyncJobStatus `json:"status"`

	// Cursor is an opaque provider-specific pagination token.
	Cursor string `json:"cursor,omitempty"`

	ItemsProcessed int `json:"items_processed"`
	ItemsCreated   int `json:"items_created"`
	ItemsUpdated   int `json:"items_updated"`
	ItemsFailed    int `json:"items_failed"`

	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// SyncItem is one provider record returned by an inbound sync page.
type SyncItem struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
	IsNew     bool           `json:"is_new"`
}

// SyncItemProcessor is the downstream item-processing contract. One item's
// failure does not abort the batch; the worker counts it and moves on.
type SyncItemProcessor interface {
	ProcessItem(ctx context.Context, integration Integration, item SyncItem) error
}
