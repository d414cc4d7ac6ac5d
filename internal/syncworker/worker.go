package syncworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hivedesk/hivedesk/internal/adapters"
	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/rs/zerolog/log"
)

const defaultMaxConcurrent = 4

// MetricsRecorder receives sync counters as jobs finish. A nil recorder
// disables them.
type MetricsRecorder interface {
	RecordSyncJob(connectorID, status string)
	RecordSyncItems(connectorID string, processed, failed int)
}

// Worker executes inbound sync jobs against provider adapters. At most one
// active job exists per integration; concurrency across integrations is
// bounded by a semaphore.
type Worker struct {
	store     domain.Store
	vault     domain.CredentialVault
	adapters  *adapters.Registry
	processor domain.SyncItemProcessor
	metrics   MetricsRecorder
	sem       chan struct{}
	now       func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

type WorkerDependencies struct {
	Store           domain.Store
	Vault           domain.CredentialVault
	AdapterRegistry *adapters.Registry
	Processor       domain.SyncItemProcessor
	Metrics         MetricsRecorder

	// MaxConcurrent bounds simultaneously running jobs. Zero means the
	// default of 4.
	MaxConcurrent int
}

func NewWorker(deps WorkerDependencies) *Worker {
	maxConcurrent := deps.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	return &Worker{
		store:     deps.Store,
		vault:     deps.Vault,
		adapters:  deps.AdapterRegistry,
		processor: deps.Processor,
		metrics:   deps.Metrics,
		sem:       make(chan struct{}, maxConcurrent),
		now:       func() time.Time { return time.Now().UTC() },
		cancels:   map[string]context.CancelFunc{},
	}
}

// CreateJob registers a new sync job for the integration. Returns
// ErrSyncInProgress while a previous job for the same integration is still
// pending or running.
func (w *Worker) CreateJob(ctx context.Context, tenantID, integrationID string, syncType domain.SyncType) (domain.SyncJob, error) {
	integration, err := w.store.GetIntegration(ctx, tenantID, integrationID)
	if err != nil {
		return domain.SyncJob{}, err
	}
	if !integration.IsConnected() {
		return domain.SyncJob{}, fmt.Errorf("integration %s: %w", integrationID, domain.ErrNotConnected)
	}

	if _, ok := w.adapters.SyncerFor(integration.ConnectorID); !ok {
		return domain.SyncJob{}, fmt.Errorf("connector %s does not support inbound sync", integration.ConnectorID)
	}

	// The store rejects the insert when an active job already exists, so two
	// concurrent triggers cannot both get a job.
	job, err := w.store.CreateSyncJob(ctx, domain.SyncJob{
		TenantID:      tenantID,
		IntegrationID: integrationID,
		ConnectorID:   integration.ConnectorID,
		Direction:     domain.SyncDirection_Inbound,
		Type:          syncType,
		Status:        domain.SyncJobStatus_Pending,
		CreatedAt:     w.now(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrSyncInProgress) {
			return domain.SyncJob{}, domain.ErrSyncInProgress
		}
		return domain.SyncJob{}, fmt.Errorf("failed to create sync job: %w", err)
	}

	return job, nil
}

// Run executes the job synchronously, holding a semaphore slot for its
// duration. Cursor position is persisted after every successful page, so a
// failed job resumes from the last confirmed page rather than from scratch.
// Cancellation is cooperative and takes effect at page boundaries.
func (w *Worker) Run(ctx context.Context, job domain.SyncJob) error {
	select {
	case w.sem <- struct{}{}:
		defer func() { <-w.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	// Re-read: the job may have been cancelled while waiting for a slot.
	current, err := w.store.GetSyncJob(ctx, job.TenantID, job.ID)
	if err != nil {
		return err
	}
	if current.Status != domain.SyncJobStatus_Pending {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.trackCancel(job.ID, cancel)
	defer w.untrackCancel(job.ID)

	integration, err := w.store.GetIntegration(ctx, job.TenantID, job.IntegrationID)
	if err != nil {
		return w.finishJob(ctx, current, domain.SyncJobStatus_Failed, err)
	}

	syncer, ok := w.adapters.SyncerFor(integration.ConnectorID)
	if !ok {
		return w.finishJob(ctx, current, domain.SyncJobStatus_Failed,
			fmt.Errorf("connector %s does not support inbound sync", integration.ConnectorID))
	}

	creds, err := w.vault.Decrypt(integration.EncryptedCredential)
	if err != nil {
		w.downgradeIntegration(ctx, integration, domain.IntegrationStatus_AuthFailed, err)
		return w.finishJob(ctx, current, domain.SyncJobStatus_Failed, err)
	}

	current.Status = domain.SyncJobStatus_Running
	startedAt := w.now()
	current.StartedAt = &startedAt
	if err := w.store.UpdateSyncJob(ctx, current); err != nil {
		return w.finishJob(ctx, current, domain.SyncJobStatus_Failed,
			fmt.Errorf("failed to mark sync job running: %w", err))
	}

	log.Info().
		Str("job_id", current.ID).
		Str("integration_id", integration.ID).
		Str("connector_id", integration.ConnectorID).
		Msg("starting sync job")

	for {
		if err := runCtx.Err(); err != nil {
			return w.finishJob(ctx, current, domain.SyncJobStatus_Cancelled, errors.New("cancelled"))
		}

		page, err := syncer.SyncInbound(runCtx, creds, current.Cursor)
		if err != nil {
			status := domain.IntegrationStatus_Error
			if errors.Is(err, domain.ErrAuthFailed) {
				status = domain.IntegrationStatus_AuthFailed
			}
			w.downgradeIntegration(ctx, integration, status, err)
			return w.finishJob(ctx, current, domain.SyncJobStatus_Failed, err)
		}

		for _, item := range page.Items {
			current.ItemsProcessed++
			if err := w.processor.ProcessItem(runCtx, integration, item); err != nil {
				current.ItemsFailed++
				log.Warn().Err(err).
					Str("job_id", current.ID).
					Str("item_id", item.ID).
					Msg("sync item failed")
				continue
			}
			if item.IsNew {
				current.ItemsCreated++
			} else {
				current.ItemsUpdated++
			}
		}

		// A cursor that cannot be persisted fails the job; leaving it
		// running would block every future job for the integration.
		current.Cursor = page.NextCursor
		if err := w.store.UpdateSyncJob(ctx, current); err != nil {
			return w.finishJob(ctx, current, domain.SyncJobStatus_Failed,
				fmt.Errorf("failed to persist sync cursor: %w", err))
		}

		if !page.HasMore {
			break
		}
	}

	if err := w.finishJob(ctx, current, domain.SyncJobStatus_Completed, nil); err != nil {
		return err
	}

	syncedAt := w.now()
	integration.LastSyncAt = &syncedAt
	if err := w.store.UpdateIntegration(ctx, integration); err != nil {
		log.Warn().Err(err).Str("integration_id", integration.ID).Msg("failed to update last sync time")
	}

	return nil
}

// CancelJob cancels a pending or running job. A pending job flips straight
// to cancelled; a running one is signalled and stops at the next page
// boundary. Terminal jobs are left untouched.
func (w *Worker) CancelJob(ctx context.Context, tenantID, jobID string) error {
	job, err := w.store.GetSyncJob(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	if job.Status == domain.SyncJobStatus_Pending {
		return w.finishJob(ctx, job, domain.SyncJobStatus_Cancelled, errors.New("cancelled before start"))
	}

	w.mu.Lock()
	cancel, ok := w.cancels[jobID]
	w.mu.Unlock()
	if ok {
		cancel()
	}

	return nil
}

func (w *Worker) GetJob(ctx context.Context, tenantID, jobID string) (domain.SyncJob, error) {
	return w.store.GetSyncJob(ctx, tenantID, jobID)
}

func (w *Worker) finishJob(ctx context.Context, job domain.SyncJob, status domain.SyncJobStatus, cause error) error {
	job.Status = status
	finishedAt := w.now()
	job.FinishedAt = &finishedAt
	if cause != nil {
		job.Error = cause.Error()
	}

	if err := w.store.UpdateSyncJob(ctx, job); err != nil {
		return fmt.Errorf("failed to finish sync job: %w", err)
	}

	if w.metrics != nil {
		w.metrics.RecordSyncJob(job.ConnectorID, string(status))
		w.metrics.RecordSyncItems(job.ConnectorID, job.ItemsProcessed, job.ItemsFailed)
	}

	if status == domain.SyncJobStatus_Failed {
		return cause
	}

	return nil
}

func (w *Worker) downgradeIntegration(ctx context.Context, integration domain.Integration, status domain.IntegrationStatus, cause error) {
	integration.Status = status
	integration.LastError = cause.Error()
	at := w.now()
	integration.LastErrorAt = &at

	if err := w.store.UpdateIntegration(ctx, integration); err != nil {
		log.Error().Err(err).Str("integration_id", integration.ID).Msg("failed to downgrade integration")
	}
}

func (w *Worker) trackCancel(jobID string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancels[jobID] = cancel
}

func (w *Worker) untrackCancel(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.cancels, jobID)
}
