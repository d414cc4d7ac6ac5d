package syncworker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hivedesk/hivedesk/internal/adapters"
	"github.com/hivedesk/hivedesk/internal/domain"
	"github.com/hivedesk/hivedesk/internal/events"
	"github.com/hivedesk/hivedesk/internal/storage/memory"
	"github.com/hivedesk/hivedesk/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedSyncer serves a fixed sequence of pages keyed by cursor and records
// which cursors were requested.
type pagedSyncer struct {
	pages    map[string]adapters.SyncPage
	requests []string
	failOn   string
	err      error
}

func (s *pagedSyncer) TestConnection(ctx context.Context, creds domain.Credentials) error {
	return nil
}

func (s *pagedSyncer) RefreshTokens(ctx context.Context, creds domain.Credentials) (domain.Credentials, error) {
	return nil, domain.ErrRefreshUnsupported
}

func (s *pagedSyncer) NormalizeWebhookEvent(eventType string, payload []byte) (domain.NormalizedEvent, error) {
	return adapters.PassthroughNormalize(eventType, payload)
}

func (s *pagedSyncer) SyncInbound(ctx context.Context, creds domain.Credentials, cursor string) (adapters.SyncPage, error) {
	s.requests = append(s.requests, cursor)
	if s.failOn != "" && cursor == s.failOn {
		return adapters.SyncPage{}, s.err
	}
	return s.pages[cursor], nil
}

type failingProcessor struct {
	failIDs map[string]bool
	seen    []string
}

func (p *failingProcessor) ProcessItem(ctx context.Context, integration domain.Integration, item domain.SyncItem) error {
	p.seen = append(p.seen, item.ID)
	if p.failIDs[item.ID] {
		return errors.New("downstream rejected item")
	}
	return nil
}

// flakyJobStore fails the Nth UpdateSyncJob call and recovers afterwards.
type flakyJobStore struct {
	domain.Store
	calls  int
	failOn int
}

func (s *flakyJobStore) UpdateSyncJob(ctx context.Context, job domain.SyncJob) error {
	s.calls++
	if s.calls == s.failOn {
		return errors.New("storage write timed out")
	}
	return s.Store.UpdateSyncJob(ctx, job)
}

// countingRecorder captures sync counter calls.
type countingRecorder struct {
	jobs  map[string]int
	items map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{jobs: map[string]int{}, items: map[string]int{}}
}

func (r *countingRecorder) RecordSyncJob(connectorID, status string) {
	r.jobs[connectorID+"/"+status]++
}

func (r *countingRecorder) RecordSyncItems(connectorID string, processed, failed int) {
	r.items[connectorID+"/processed"] += processed - failed
	r.items[connectorID+"/failed"] += failed
}

func items(ids ...string) []domain.SyncItem {
	out := make([]domain.SyncItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.SyncItem{ID: id, Type: "record", IsNew: true, UpdatedAt: time.Now()})
	}
	return out
}

func newTestWorker(t *testing.T, syncer adapters.Adapter, processor domain.SyncItemProcessor) (*Worker, *memory.Store, domain.Integration) {
	t.Helper()

	store := memory.NewStore()
	credentialVault, err := vault.New("test-key")
	require.NoError(t, err)

	blob, err := credentialVault.Encrypt(domain.Credentials{domain.CredentialKey_APIKey: "sk_test"})
	require.NoError(t, err)

	integration, err := store.UpsertIntegration(context.Background(), domain.Integration{
		TenantID:            "tenant-1",
		ConnectorID:         domain.ConnectorType_Stripe,
		EncryptedCredential: blob,
		Status:              domain.IntegrationStatus_Connected,
		Config:              domain.IntegrationConfig{SyncEnabled: true},
	})
	require.NoError(t, err)

	adapterRegistry := adapters.NewRegistry()
	adapterRegistry.Register(domain.ConnectorType_Stripe, syncer)

	if processor == nil {
		processor = events.NewPublishingProcessor(events.NewMemoryPublisher())
	}

	worker := NewWorker(WorkerDependencies{
		Store:           store,
		Vault:           credentialVault,
		AdapterRegistry: adapterRegistry,
		Processor:       processor,
	})

	return worker, store, integration
}

func TestRunPagesToCompletion(t *testing.T) {
	ctx := context.Background()
	syncer := &pagedSyncer{pages: map[string]adapters.SyncPage{
		"":       {Items: items("a", "b"), NextCursor: "page-2", HasMore: true},
		"page-2": {Items: items("c"), NextCursor: "page-3", HasMore: false},
	}}
	worker, store, integration := newTestWorker(t, syncer, nil)

	job, err := worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Full)
	require.NoError(t, err)
	require.NoError(t, worker.Run(ctx, job))

	got, err := store.GetSyncJob(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncJobStatus_Completed, got.Status)
	assert.Equal(t, 3, got.ItemsProcessed)
	assert.Equal(t, 3, got.ItemsCreated)
	assert.Equal(t, []string{"", "page-2"}, syncer.requests)

	updated, err := store.GetIntegration(ctx, "tenant-1", integration.ID)
	require.NoError(t, err)
	assert.NotNil(t, updated.LastSyncAt)
}

func TestRunResumesFromPersistedCursor(t *testing.T) {
	ctx := context.Background()
	syncer := &pagedSyncer{
		pages: map[string]adapters.SyncPage{
			"": {Items: items("a"), NextCursor: "page-2", HasMore: true},
		},
		failOn: "page-2",
		err:    errors.New("provider blew up"),
	}
	worker, store, integration := newTestWorker(t, syncer, nil)

	job, err := worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Full)
	require.NoError(t, err)
	require.Error(t, worker.Run(ctx, job))

	failed, err := store.GetSyncJob(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncJobStatus_Failed, failed.Status)
	// cursor covers page 1, the only page that completed
	assert.Equal(t, "page-2", failed.Cursor)

	// integration recovers, next job picks up where the failed one stopped
	integration, err = store.GetIntegration(ctx, "tenant-1", integration.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntegrationStatus_Error, integration.Status)

	integration.Status = domain.IntegrationStatus_Connected
	require.NoError(t, store.UpdateIntegration(ctx, integration))

	syncer.failOn = ""
	syncer.pages["page-2"] = adapters.SyncPage{Items: items("b"), HasMore: false}

	next, err := worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Incremental)
	require.NoError(t, err)
	next.Cursor = failed.Cursor
	require.NoError(t, store.UpdateSyncJob(ctx, next))
	require.NoError(t, worker.Run(ctx, next))

	done, err := store.GetSyncJob(ctx, "tenant-1", next.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncJobStatus_Completed, done.Status)
	assert.Equal(t, 1, done.ItemsProcessed)
}

func TestRunItemFailureDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	syncer := &pagedSyncer{pages: map[string]adapters.SyncPage{
		"": {Items: items("good-1", "bad", "good-2"), HasMore: false},
	}}
	processor := &failingProcessor{failIDs: map[string]bool{"bad": true}}
	worker, store, integration := newTestWorker(t, syncer, processor)

	job, err := worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Full)
	require.NoError(t, err)
	require.NoError(t, worker.Run(ctx, job))

	got, err := store.GetSyncJob(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncJobStatus_Completed, got.Status)
	assert.Equal(t, 3, got.ItemsProcessed)
	assert.Equal(t, 1, got.ItemsFailed)
	assert.Equal(t, 2, got.ItemsCreated)
	assert.Equal(t, []string{"good-1", "bad", "good-2"}, processor.seen)
}

func TestCreateJobOverlapGuard(t *testing.T) {
	ctx := context.Background()
	syncer := &pagedSyncer{pages: map[string]adapters.SyncPage{"": {HasMore: false}}}
	worker, store, integration := newTestWorker(t, syncer, nil)

	first, err := worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Full)
	require.NoError(t, err)

	_, err = worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Full)
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)

	require.NoError(t, worker.Run(ctx, first))

	_, err = worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Full)
	assert.NoError(t, err)
	_ = store
}

func TestCreateJobConcurrentTriggersYieldOneJob(t *testing.T) {
	ctx := context.Background()
	syncer := &pagedSyncer{pages: map[string]adapters.SyncPage{"": {HasMore: false}}}
	worker, _, integration := newTestWorker(t, syncer, nil)

	const triggers = 10
	created := make(chan error, triggers)

	var wg sync.WaitGroup
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Full)
			created <- err
		}()
	}
	wg.Wait()
	close(created)

	succeeded := 0
	for err := range created {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrSyncInProgress)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestRunFailsJobWhenCursorCannotBePersisted(t *testing.T) {
	ctx := context.Background()
	syncer := &pagedSyncer{pages: map[string]adapters.SyncPage{
		"": {Items: items("a"), NextCursor: "page-2", HasMore: true},
	}}
	worker, store, integration := newTestWorker(t, syncer, nil)

	// calls: 1 = mark running, 2 = cursor persist, 3 = finish
	flaky := &flakyJobStore{Store: store, failOn: 2}
	worker.store = flaky

	job, err := worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Full)
	require.NoError(t, err)
	require.Error(t, worker.Run(ctx, job))

	// the job must land in a terminal state so future jobs are not blocked
	got, err := store.GetSyncJob(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncJobStatus_Failed, got.Status)

	_, err = worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Full)
	assert.NoError(t, err)
}

func TestRunRecordsSyncMetrics(t *testing.T) {
	ctx := context.Background()
	syncer := &pagedSyncer{pages: map[string]adapters.SyncPage{
		"": {Items: items("a", "b"), HasMore: false},
	}}
	worker, _, integration := newTestWorker(t, syncer, nil)

	recorder := newCountingRecorder()
	worker.metrics = recorder

	job, err := worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Full)
	require.NoError(t, err)
	require.NoError(t, worker.Run(ctx, job))

	assert.Equal(t, 1, recorder.jobs[domain.ConnectorType_Stripe+"/completed"])
	assert.Equal(t, 2, recorder.items[domain.ConnectorType_Stripe+"/processed"])
	assert.Equal(t, 0, recorder.items[domain.ConnectorType_Stripe+"/failed"])
}

func TestCancelPendingJob(t *testing.T) {
	ctx := context.Background()
	syncer := &pagedSyncer{pages: map[string]adapters.SyncPage{"": {HasMore: false}}}
	worker, store, integration := newTestWorker(t, syncer, nil)

	job, err := worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Full)
	require.NoError(t, err)

	require.NoError(t, worker.CancelJob(ctx, "tenant-1", job.ID))

	got, err := store.GetSyncJob(ctx, "tenant-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncJobStatus_Cancelled, got.Status)

	// a cancelled job never runs
	require.NoError(t, worker.Run(ctx, job))
	got, _ = store.GetSyncJob(ctx, "tenant-1", job.ID)
	assert.Equal(t, domain.SyncJobStatus_Cancelled, got.Status)
	assert.Empty(t, syncer.requests)

	// cancelling a terminal job is a no-op
	require.NoError(t, worker.CancelJob(ctx, "tenant-1", job.ID))
}

func TestCreateJobRequiresConnectedIntegration(t *testing.T) {
	ctx := context.Background()
	syncer := &pagedSyncer{}
	worker, store, integration := newTestWorker(t, syncer, nil)

	integration.Status = domain.IntegrationStatus_AuthFailed
	require.NoError(t, store.UpdateIntegration(ctx, integration))

	_, err := worker.CreateJob(ctx, "tenant-1", integration.ID, domain.SyncType_Full)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestSchedulerTick(t *testing.T) {
	ctx := context.Background()
	syncer := &pagedSyncer{pages: map[string]adapters.SyncPage{
		"": {Items: items("x"), HasMore: false},
	}}
	worker, store, integration := newTestWorker(t, syncer, nil)

	cleaned := 0
	alertChecks := 0
	scheduler := NewScheduler(SchedulerDependencies{
		Store:  store,
		Worker: worker,
		Cleanup: func(ctx context.Context) (int, error) {
			cleaned++
			return 0, nil
		},
		AlertCheck: func(ctx context.Context) { alertChecks++ },
	})

	t.Run("never-synced integration is due", func(t *testing.T) {
		scheduler.Tick(ctx)
		assert.Eventually(t, func() bool {
			got, err := store.GetIntegration(ctx, "tenant-1", integration.ID)
			return err == nil && got.LastSyncAt != nil
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, 1, cleaned)
		assert.Equal(t, 1, alertChecks)
	})

	t.Run("recently synced integration is skipped", func(t *testing.T) {
		before := len(syncer.requests)
		scheduler.Tick(ctx)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, before, len(syncer.requests))
	})

	t.Run("sync disabled integration is skipped", func(t *testing.T) {
		got, err := store.GetIntegration(ctx, "tenant-1", integration.ID)
		require.NoError(t, err)
		got.Config.SyncEnabled = false
		got.LastSyncAt = nil
		require.NoError(t, store.UpdateIntegration(ctx, got))

		before := len(syncer.requests)
		scheduler.Tick(ctx)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, before, len(syncer.requests))
	})
}

func TestSchedulerDue(t *testing.T) {
	scheduler := NewScheduler(SchedulerDependencies{})

	past := time.Now().UTC().Add(-time.Hour)
	recent := time.Now().UTC().Add(-time.Minute)

	cases := []struct {
		name        string
		integration domain.Integration
		want        bool
	}{
		{
			name:        "sync disabled",
			integration: domain.Integration{Config: domain.IntegrationConfig{SyncEnabled: false}},
			want:        false,
		},
		{
			name:        "never synced",
			integration: domain.Integration{Config: domain.IntegrationConfig{SyncEnabled: true}},
			want:        true,
		},
		{
			name: "interval elapsed",
			integration: domain.Integration{
				Config:     domain.IntegrationConfig{SyncEnabled: true, SyncIntervalMinutes: 15},
				LastSyncAt: &past,
			},
			want: true,
		},
		{
			name: "interval not elapsed",
			integration: domain.Integration{
				Config:     domain.IntegrationConfig{SyncEnabled: true, SyncIntervalMinutes: 15},
				LastSyncAt: &recent,
			},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, scheduler.due(tc.integration))
		})
	}
}

