// Package maintenance holds the background jobs run by the janitor:
// version retention sweeps, trash expiry, audit-log retention, and the
// changed-file monitor.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/filedepot/filedepot/pkg/audit"
	"github.com/filedepot/filedepot/pkg/config"
	"github.com/filedepot/filedepot/pkg/files"
	"github.com/filedepot/filedepot/pkg/observability"
	"github.com/filedepot/filedepot/pkg/versioning"
)

// Jobs bundles the maintenance entry points over the business services
type Jobs struct {
	versions *versioning.Manager
	files    *files.Service
	auditLog audit.Logger
	sink     *audit.Sink
	policy   *config.PolicyWatcher
	logger   *observability.Logger
}

// NewJobs creates the maintenance job set
func NewJobs(versions *versioning.Manager, filesSvc *files.Service, auditLog audit.Logger, sink *audit.Sink, policy *config.PolicyWatcher, logger *observability.Logger) *Jobs {
	return &Jobs{
		versions: versions,
		files:    filesSvc,
		auditLog: auditLog,
		sink:     sink,
		policy:   policy,
		logger:   logger,
	}
}

// PruneVersions applies the retention policy to every file's version
// history
func (j *Jobs) PruneVersions(ctx context.Context) error {
	start := time.Now()
	if err := j.versions.PruneAll(ctx); err != nil {
		return fmt.Errorf("version prune sweep failed: %w", err)
	}

	if j.logger != nil {
		j.logger.WithField("duration", time.Since(start).String()).Info("version prune sweep finished")
	}
	return nil
}

// ExpireTrash permanently deletes files trashed longer ago than the
// policy's trash window
func (j *Jobs) ExpireTrash(ctx context.Context) error {
	retention := j.policy.Current().TrashRetention()
	removed, err := j.files.ExpireTrash(ctx, retention)
	if err != nil {
		return fmt.Errorf("trash expiry failed after removing %d files: %w", removed, err)
	}

	if j.logger != nil && removed > 0 {
		j.logger.WithFields(map[string]interface{}{
			"removed":   removed,
			"retention": retention.String(),
		}).Info("expired trashed files")
	}
	return nil
}

// PurgeAuditLog deletes audit entries older than the policy's audit
// window
func (j *Jobs) PurgeAuditLog(ctx context.Context) error {
	cutoff := time.Now().Add(-j.policy.Current().AuditRetention())
	purged, err := j.auditLog.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("audit purge failed: %w", err)
	}

	if purged > 0 {
		j.sink.RecordMaintenance(ctx, audit.ActionAuditPurged, purged,
			fmt.Sprintf("purged %d audit entries older than %s", purged, cutoff.UTC().Format(time.RFC3339)))
	}
	return nil
}

// SyncExternalEdits versions files whose content changed directly in
// blob storage
func (j *Jobs) SyncExternalEdits(ctx context.Context) error {
	synced, err := j.files.SyncExternalEdits(ctx)
	if err != nil {
		return fmt.Errorf("changed-file sync failed after %d files: %w", synced, err)
	}

	if j.logger != nil && synced > 0 {
		j.logger.WithField("synced", synced).Info("versioned externally edited files")
	}
	return nil
}
