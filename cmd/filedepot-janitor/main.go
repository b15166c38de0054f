// The janitor runs the scheduled maintenance jobs: version retention
// pruning, trash expiry, audit log purging, and the changed-file
// monitor. It shares no process with the API server so heavy
// housekeeping never competes with request traffic.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/filedepot/filedepot/pkg/access"
	"github.com/filedepot/filedepot/pkg/audit"
	"github.com/filedepot/filedepot/pkg/blob"
	"github.com/filedepot/filedepot/pkg/config"
	"github.com/filedepot/filedepot/pkg/files"
	"github.com/filedepot/filedepot/pkg/maintenance"
	"github.com/filedepot/filedepot/pkg/observability"
	"github.com/filedepot/filedepot/pkg/storage/postgres"
	"github.com/filedepot/filedepot/pkg/versioning"
)

var runOnce = flag.Bool("run-once", false, "Run every maintenance job once and exit")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("component", "janitor")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Janitor exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cm, err := postgres.NewConnectionManager(cfg.Storage)
	if err != nil {
		return err
	}
	defer cm.Close()
	db := cm.Primary()

	var blobs blob.Store
	switch cfg.BlobBackend {
	case "s3":
		blobs, err = blob.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			return err
		}
	default:
		blobs = blob.NewMemoryStore()
	}

	policy, err := config.NewPolicyWatcher(cfg.PolicyFile, logger)
	if err != nil {
		return err
	}
	defer policy.Close()

	auditLog, err := audit.NewDBLogger(db)
	if err != nil {
		return err
	}
	defer auditLog.Close()
	sink := audit.NewSink(auditLog, logger, nil)

	ruleStore := access.NewStore(db)
	versions := versioning.NewManager(versioning.NewStore(db), blobs, sink, logger, nil, policy.VersionRetention, nil)
	filesSvc := files.NewService(files.NewStore(db), blobs, versions, ruleStore, sink, logger, nil, files.DefaultConfig())

	jobs := maintenance.NewJobs(versions, filesSvc, auditLog, sink, policy, logger)

	if *runOnce {
		return runAllOnce(ctx, jobs, logger)
	}

	runner, err := maintenance.NewRunner(jobs, cfg.Maintenance, logger)
	if err != nil {
		return err
	}

	runner.Start()
	logger.Info("Janitor started")
	logger.Infof("Version prune schedule: %s", cfg.Maintenance.VersionPruneSchedule)
	logger.Infof("Trash expiry schedule: %s", cfg.Maintenance.TrashExpirySchedule)
	logger.Infof("Audit purge schedule: %s", cfg.Maintenance.AuditPurgeSchedule)

	<-ctx.Done()
	logger.Info("Shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return runner.Stop(stopCtx)
}

// runAllOnce executes every job immediately, for backfills and smoke
// tests. Jobs run in dependency-free order; a failure stops the run.
func runAllOnce(ctx context.Context, jobs *maintenance.Jobs, logger *observability.Logger) error {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"sync_external_edits", jobs.SyncExternalEdits},
		{"prune_versions", jobs.PruneVersions},
		{"expire_trash", jobs.ExpireTrash},
		{"purge_audit_log", jobs.PurgeAuditLog},
	}

	for _, step := range steps {
		logger.WithField("job", step.name).Info("Running job")
		if err := step.run(ctx); err != nil {
			return err
		}
	}

	logger.Info("All maintenance jobs completed")
	return nil
}
