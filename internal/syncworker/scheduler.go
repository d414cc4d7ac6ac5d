package syncworker

import (
	"context"
	"errors"
	"time"

	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler periodically walks connected integrations and starts an
// incremental sync for every one whose configured interval has elapsed since
// its last successful sync. Integrations with sync disabled are skipped.
type Scheduler struct {
	store      domain.Store
	worker     *Worker
	cleanup    func(ctx context.Context) (int, error)
	alertCheck func(ctx context.Context)
	cron       *cron.Cron
	now        func() time.Time
}

type SchedulerDependencies struct {
	Store  domain.Store
	Worker *Worker

	// Cleanup removes expired OAuth states; run on the same tick.
	Cleanup func(ctx context.Context) (int, error)

	// AlertCheck runs the threshold-alert pass over active integrations;
	// run on the same tick, after syncs are dispatched.
	AlertCheck func(ctx context.Context)
}

func NewScheduler(deps SchedulerDependencies) *Scheduler {
	return &Scheduler{
		store:      deps.Store,
		worker:     deps.Worker,
		cleanup:    deps.Cleanup,
		alertCheck: deps.AlertCheck,
		cron:       cron.New(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the periodic due-check. The tick runs every five minutes;
// per-integration intervals are enforced inside the tick, so an integration
// on a 15-minute interval syncs on every third tick at most.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc("@every 5m", func() {
		s.Tick(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Tick runs one scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) {
	integrations, err := s.store.ListConnectedIntegrations(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler failed to list integrations")
		return
	}

	for _, integration := range integrations {
		if !s.due(integration) {
			continue
		}

		job, err := s.worker.CreateJob(ctx, integration.TenantID, integration.ID, domain.SyncType_Incremental)
		if err != nil {
			if errors.Is(err, domain.ErrSyncInProgress) {
				continue
			}
			log.Warn().Err(err).Str("integration_id", integration.ID).Msg("failed to schedule sync")
			continue
		}

		go func(job domain.SyncJob) {
			if err := s.worker.Run(ctx, job); err != nil {
				log.Warn().Err(err).Str("job_id", job.ID).Msg("scheduled sync failed")
			}
		}(job)
	}

	if s.cleanup != nil {
		if removed, err := s.cleanup(ctx); err != nil {
			log.Warn().Err(err).Msg("oauth state cleanup failed")
		} else if removed > 0 {
			log.Debug().Int("removed", removed).Msg("cleaned up expired oauth states")
		}
	}

	if s.alertCheck != nil {
		s.alertCheck(ctx)
	}
}

func (s *Scheduler) due(integration domain.Integration) bool {
	if !integration.Config.SyncEnabled {
		return false
	}
	if integration.LastSyncAt == nil {
		return true
	}

	return s.now().Sub(*integration.LastSyncAt) >= integration.Config.SyncInterval()
}
