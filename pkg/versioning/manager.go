package versioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/filedepot/filedepot/pkg/async"
	"github.com/filedepot/filedepot/pkg/audit"
	"github.com/filedepot/filedepot/pkg/blob"
	"github.com/filedepot/filedepot/pkg/observability"
	"github.com/filedepot/filedepot/pkg/storage/postgres"
)

// RetentionFunc returns the number of versions to keep per file. It
// is a function so policy changes apply without restarting.
type RetentionFunc func() int

// DefaultRetention keeps the newest 10 versions per file.
const DefaultRetention = 10

// pruneWorkers bounds the sweep's concurrency; per-file locks keep
// individual histories serialized.
const pruneWorkers = 4

// Manager owns the version lifecycle of files: snapshot on edit,
// restore, and retention pruning.
type Manager struct {
	store     *Store
	blobs     blob.Store
	sink      *audit.Sink
	logger    *observability.Logger
	metrics   *observability.Metrics
	retention RetentionFunc
	locks     *distributedLocker
}

// NewManager creates a version manager. redis may be nil, in which
// case version-number assignment is serialized per process only.
// retention may be nil to use the default.
func NewManager(store *Store, blobs blob.Store, sink *audit.Sink, logger *observability.Logger, metrics *observability.Metrics, retention RetentionFunc, redis *postgres.RedisClient) *Manager {
	if retention == nil {
		retention = func() int { return DefaultRetention }
	}
	return &Manager{
		store:     store,
		blobs:     blobs,
		sink:      sink,
		logger:    logger,
		metrics:   metrics,
		retention: retention,
		locks:     newDistributedLocker(redis),
	}
}

// CreateVersion snapshots the file's live content as a new version
// and makes it current. Version numbers are assigned strictly
// increasing per file and never reused, even after pruning.
func (m *Manager) CreateVersion(ctx context.Context, fileID int64, userID int64, comment string) (*Version, error) {
	version, err := m.createVersion(ctx, fileID, userID, comment)
	if err != nil {
		m.sink.RecordVersionFailure(ctx, audit.ActionVersionCreate, &userID, fileID, err)
		return nil, err
	}

	m.sink.RecordVersionAction(ctx, audit.ActionVersionCreate, &userID, fileID, version.VersionNumber, true)
	if m.metrics != nil {
		m.metrics.VersionsCreatedTotal.Inc()
	}

	// Retention is self-maintaining: every successful creation prunes.
	if err := m.CleanupOldVersions(ctx, fileID); err != nil && m.logger != nil {
		m.logger.WithError(err).WithField("file_id", fileID).Warn("version prune after create failed")
	}

	return version, nil
}

func (m *Manager) createVersion(ctx context.Context, fileID int64, userID int64, comment string) (*Version, error) {
	unlock, err := m.locks.Lock(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	file, err := m.store.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	maxNumber, err := m.store.maxVersionNumber(ctx, fileID)
	if err != nil {
		return nil, err
	}

	// Timestamp plus creator keeps concurrent snapshots of different
	// files from colliding in the archive namespace.
	archivePath := fmt.Sprintf("archive/%d/%s_u%d_v%d",
		fileID, time.Now().UTC().Format("20060102T150405.000"), userID, maxNumber+1)

	if err := m.blobs.Copy(ctx, file.StoragePath, archivePath); err != nil {
		return nil, fmt.Errorf("failed to archive file content: %w", err)
	}

	size, _, err := m.blobs.Stat(ctx, archivePath)
	if err != nil {
		size = file.SizeBytes
	}

	version := &Version{
		FileID:        fileID,
		VersionNumber: maxNumber + 1,
		ArchivePath:   archivePath,
		SizeBytes:     size,
		Comment:       comment,
		CreatedBy:     &userID,
	}

	if err := m.store.insertVersion(ctx, version); err != nil {
		// The metadata never committed; drop the orphaned archive
		// copy best-effort.
		if delErr := m.blobs.Delete(ctx, archivePath); delErr != nil && m.logger != nil {
			m.logger.WithError(delErr).WithField("archive_path", archivePath).Warn("failed to remove orphaned archive")
		}
		return nil, err
	}

	return version, nil
}

// GetFileVersions lists all versions of a file, newest first
func (m *Manager) GetFileVersions(ctx context.Context, fileID int64) ([]*Version, error) {
	return m.store.ListVersions(ctx, fileID)
}

// GetVersion retrieves a single version by ID
func (m *Manager) GetVersion(ctx context.Context, versionID int64) (*Version, error) {
	return m.store.GetVersion(ctx, versionID)
}

// GetVersionContent opens the archived content of a version
func (m *Manager) GetVersionContent(ctx context.Context, versionID int64) (io.ReadCloser, error) {
	version, err := m.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return m.blobs.Download(ctx, version.ArchivePath)
}

// RestoreVersion copies a historical version's content back into the
// live storage location. The current state is snapshotted first, so a
// restore is always reversible. Failures are reported as false, not
// as an error.
func (m *Manager) RestoreVersion(ctx context.Context, fileID int64, versionID int64, userID int64) bool {
	err := m.restoreVersion(ctx, fileID, versionID, userID)
	if err != nil {
		if m.logger != nil {
			m.logger.WithError(err).
				WithField("file_id", fileID).
				WithField("version_id", versionID).
				Error("version restore failed")
		}
		m.sink.RecordVersionFailure(ctx, audit.ActionVersionRestore, &userID, fileID, err)
		if m.metrics != nil {
			m.metrics.VersionsRestoredTotal.WithLabelValues("failure").Inc()
		}
		return false
	}

	m.sink.RecordVersionAction(ctx, audit.ActionVersionRestore, &userID, fileID, 0, true)
	if m.metrics != nil {
		m.metrics.VersionsRestoredTotal.WithLabelValues("success").Inc()
	}
	return true
}

func (m *Manager) restoreVersion(ctx context.Context, fileID int64, versionID int64, userID int64) error {
	target, err := m.store.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if target.FileID != fileID {
		return fmt.Errorf("version %d does not belong to file %d", versionID, fileID)
	}

	file, err := m.store.getFile(ctx, fileID)
	if err != nil {
		return err
	}

	// Snapshot the current state before overwriting it. Pruning is
	// deferred until after the copy so it cannot delete the target
	// version's archive out from under the restore.
	comment := fmt.Sprintf("before restore of version %d", target.VersionNumber)
	snapshot, err := m.createVersion(ctx, fileID, userID, comment)
	if err != nil {
		return fmt.Errorf("failed to snapshot current state: %w", err)
	}
	m.sink.RecordVersionAction(ctx, audit.ActionVersionCreate, &userID, fileID, snapshot.VersionNumber, true)
	if m.metrics != nil {
		m.metrics.VersionsCreatedTotal.Inc()
	}

	if err := m.blobs.Copy(ctx, target.ArchivePath, file.StoragePath); err != nil {
		return fmt.Errorf("failed to restore archived content: %w", err)
	}

	// The live content changed, so the file row and the owner's quota
	// usage must follow. Skipping this would leave the row describing
	// the overwritten content and trip the changed-file monitor.
	if err := m.store.applyRestoredContent(ctx, file, target.SizeBytes); err != nil {
		return err
	}

	if err := m.CleanupOldVersions(ctx, fileID); err != nil && m.logger != nil {
		m.logger.WithError(err).WithField("file_id", fileID).Warn("version prune after restore failed")
	}

	return nil
}

// CleanupOldVersions prunes versions beyond the retention count,
// newest-first survivors. A missing archive never blocks metadata
// cleanup; pruning twice with no new versions in between is a no-op.
func (m *Manager) CleanupOldVersions(ctx context.Context, fileID int64) error {
	keep := m.retention()
	if keep < 1 {
		keep = 1
	}

	stale, err := m.store.versionsBeyondRetention(ctx, fileID, keep)
	if err != nil {
		return err
	}

	for _, version := range stale {
		if err := m.blobs.Delete(ctx, version.ArchivePath); err != nil {
			if m.logger != nil {
				m.logger.WithError(err).
					WithField("archive_path", version.ArchivePath).
					Warn("failed to delete archived content, skipping version")
			}
			continue
		}
		if err := m.store.DeleteVersion(ctx, version.ID); err != nil {
			if m.logger != nil {
				m.logger.WithError(err).WithField("version_id", version.ID).Warn("failed to delete version metadata")
			}
			continue
		}
		if m.metrics != nil {
			m.metrics.VersionsPrunedTotal.Inc()
		}
	}

	return nil
}

// DeleteAllVersions removes every version of a file, archives
// included. Used when the file itself is permanently deleted.
func (m *Manager) DeleteAllVersions(ctx context.Context, fileID int64) error {
	versions, err := m.store.DeleteAllVersions(ctx, fileID)
	if err != nil {
		return err
	}

	for _, version := range versions {
		if err := m.blobs.Delete(ctx, version.ArchivePath); err != nil && m.logger != nil {
			m.logger.WithError(err).WithField("archive_path", version.ArchivePath).Warn("failed to delete archived content")
		}
	}
	return nil
}

// PruneAll applies retention to every file that has versions, for the
// scheduled maintenance pass
func (m *Manager) PruneAll(ctx context.Context) error {
	fileIDs, err := m.store.FileIDsWithVersions(ctx)
	if err != nil {
		return err
	}

	errs := async.Batch(ctx, fileIDs, pruneWorkers, "version_prune", time.Minute,
		func(ctx context.Context, fileID int64) error {
			if err := m.CleanupOldVersions(ctx, fileID); err != nil {
				if m.logger != nil {
					m.logger.WithError(err).WithField("file_id", fileID).Warn("prune failed, continuing batch")
				}
				// Logged and skipped; a stale file must not stop the sweep
				return nil
			}
			return nil
		})
	for _, err := range errs {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return nil
}
