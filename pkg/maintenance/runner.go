package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/filedepot/filedepot/pkg/config"
	"github.com/filedepot/filedepot/pkg/observability"
)

// Runner schedules the maintenance jobs: the retention sweeps on cron
// schedules, the changed-file monitor on a short ticker.
type Runner struct {
	jobs          *Jobs
	cron          *cron.Cron
	watchInterval time.Duration
	logger        *observability.Logger

	// baseCtx is cancelled by Stop so in-flight jobs and the monitor
	// observe shutdown.
	baseCtx   context.Context
	cancel    context.CancelFunc
	watchDone chan struct{}
}

// NewRunner builds a runner from the configured schedules
func NewRunner(jobs *Jobs, cfg config.MaintenanceConfig, logger *observability.Logger) (*Runner, error) {
	r := &Runner{
		jobs:          jobs,
		cron:          cron.New(),
		watchInterval: cfg.WatchInterval,
		logger:        logger,
	}

	schedules := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"version_prune", cfg.VersionPruneSchedule, jobs.PruneVersions},
		{"trash_expiry", cfg.TrashExpirySchedule, jobs.ExpireTrash},
		{"audit_purge", cfg.AuditPurgeSchedule, jobs.PurgeAuditLog},
	}
	for _, s := range schedules {
		s := s
		_, err := r.cron.AddFunc(s.spec, func() { r.runJob(s.name, s.run) })
		if err != nil {
			return nil, fmt.Errorf("failed to schedule %s (%q): %w", s.name, s.spec, err)
		}
	}

	return r, nil
}

func (r *Runner) runJob(name string, run func(context.Context) error) {
	log := r.logger
	if log != nil {
		log = log.WithField("job", name)
		log.Info("maintenance job starting")
	}

	ctx := r.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := run(ctx); err != nil {
		if log != nil {
			log.WithError(err).Error("maintenance job failed")
		}
		return
	}
	if log != nil {
		log.Info("maintenance job finished")
	}
}

// Start begins the schedules and the changed-file monitor
func (r *Runner) Start() {
	r.baseCtx, r.cancel = context.WithCancel(context.Background())
	r.cron.Start()

	if r.watchInterval > 0 {
		r.watchDone = make(chan struct{})
		go func() {
			defer close(r.watchDone)
			r.watchLoop(r.baseCtx)
		}()
	}
}

func (r *Runner) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(r.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.jobs.SyncExternalEdits(ctx); err != nil && r.logger != nil {
				r.logger.WithError(err).Warn("changed-file monitor pass failed")
			}
		}
	}
}

// Stop cancels in-flight jobs and the monitor, then waits for them to
// finish
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.watchDone != nil {
		select {
		case <-r.watchDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
