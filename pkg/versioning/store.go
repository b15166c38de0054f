package versioning

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store handles version metadata persistence. It reads the files
// table directly for the fields the version lifecycle needs.
type Store struct {
	db *sql.DB
}

// NewStore creates a new version store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) getFile(ctx context.Context, fileID int64) (*fileRecord, error) {
	query := `
		SELECT id, name, folder_id, storage_path, content_type, size_bytes, created_by
		FROM files
		WHERE id = $1 AND is_deleted = FALSE
	`

	var f fileRecord
	var contentType sql.NullString
	var createdBy sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, fileID).Scan(
		&f.ID, &f.Name, &f.FolderID, &f.StoragePath, &contentType, &f.SizeBytes, &createdBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	f.ContentType = contentType.String
	if createdBy.Valid {
		id := createdBy.Int64
		f.CreatedBy = &id
	}
	return &f, nil
}

// maxVersionNumber returns the highest version number ever assigned
// for the file, 0 when it has none. Numbers are never reused, so the
// running maximum survives pruning.
func (s *Store) maxVersionNumber(ctx context.Context, fileID int64) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(version_number) FROM file_versions WHERE file_id = $1", fileID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to get max version number: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

// insertVersion commits the new version, flips every other version of
// the file off current, and updates the file's current-version
// pointer, all in one transaction.
func (s *Store) insertVersion(ctx context.Context, version *Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO file_versions (file_id, version_number, is_current_version, archive_path, size_bytes, comment, created_at, created_by)
		VALUES ($1, $2, TRUE, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		version.FileID,
		version.VersionNumber,
		version.ArchivePath,
		version.SizeBytes,
		version.Comment,
		now,
		version.CreatedBy,
	).Scan(&version.ID)
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE file_versions SET is_current_version = FALSE WHERE file_id = $1 AND id != $2",
		version.FileID, version.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to flip current version flags: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE files SET current_version_id = $1, updated_at = $2 WHERE id = $3",
		version.ID, now, version.FileID,
	)
	if err != nil {
		return fmt.Errorf("failed to update file version pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit version: %w", err)
	}

	version.IsCurrentVersion = true
	version.CreatedAt = now
	return nil
}

// applyRestoredContent records the restored content's size on the
// file row and moves the owner's quota usage by the difference, in one
// transaction. Without this the file row would still describe the
// overwritten content.
func (s *Store) applyRestoredContent(ctx context.Context, file *fileRecord, newSize int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"UPDATE files SET size_bytes = $1, updated_at = $2 WHERE id = $3",
		newSize, time.Now(), file.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update file size: %w", err)
	}

	if file.CreatedBy != nil && newSize != file.SizeBytes {
		_, err = tx.ExecContext(ctx,
			"UPDATE users SET used_bytes = used_bytes + $1 WHERE id = $2",
			newSize-file.SizeBytes, *file.CreatedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to adjust owner usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit restore metadata: %w", err)
	}
	return nil
}

const versionColumns = "id, file_id, version_number, is_current_version, archive_path, size_bytes, comment, created_at, created_by"

func scanVersion(scanner interface{ Scan(...interface{}) error }) (*Version, error) {
	var v Version
	var comment sql.NullString
	var createdBy sql.NullInt64

	err := scanner.Scan(
		&v.ID, &v.FileID, &v.VersionNumber, &v.IsCurrentVersion,
		&v.ArchivePath, &v.SizeBytes, &comment, &v.CreatedAt, &createdBy,
	)
	if err != nil {
		return nil, err
	}

	v.Comment = comment.String
	if createdBy.Valid {
		id := createdBy.Int64
		v.CreatedBy = &id
	}
	return &v, nil
}

// ListVersions returns all versions of a file, newest first
func (s *Store) ListVersions(ctx context.Context, fileID int64) ([]*Version, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM file_versions WHERE file_id = $1 ORDER BY version_number DESC",
		versionColumns,
	)

	rows, err := s.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := make([]*Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}
	return versions, nil
}

// GetVersion retrieves a version by ID, ErrVersionNotFound when
// absent
func (s *Store) GetVersion(ctx context.Context, versionID int64) (*Version, error) {
	query := fmt.Sprintf("SELECT %s FROM file_versions WHERE id = $1", versionColumns)

	v, err := scanVersion(s.db.QueryRowContext(ctx, query, versionID))
	if err == sql.ErrNoRows {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

// versionsBeyondRetention returns the versions older than the newest
// keep, oldest first
func (s *Store) versionsBeyondRetention(ctx context.Context, fileID int64, keep int) ([]*Version, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM file_versions
		WHERE file_id = $1
		ORDER BY version_number DESC
	`, versionColumns)

	rows, err := s.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var all []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		all = append(all, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	if len(all) <= keep {
		return nil, nil
	}

	beyond := all[keep:]
	// Oldest first so a partial prune removes the least valuable
	// snapshots first
	for i, j := 0, len(beyond)-1; i < j; i, j = i+1, j-1 {
		beyond[i], beyond[j] = beyond[j], beyond[i]
	}
	return beyond, nil
}

// DeleteVersion removes a version's metadata row
func (s *Store) DeleteVersion(ctx context.Context, versionID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM file_versions WHERE id = $1", versionID)
	if err != nil {
		return fmt.Errorf("failed to delete version: %w", err)
	}
	return nil
}

// DeleteAllVersions removes every version row for a file and returns
// the removed versions so their archives can be cleaned up
func (s *Store) DeleteAllVersions(ctx context.Context, fileID int64) ([]*Version, error) {
	versions, err := s.ListVersions(ctx, fileID)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, "DELETE FROM file_versions WHERE file_id = $1", fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete versions: %w", err)
	}
	return versions, nil
}

// FileIDsWithVersions lists every file that has at least one version,
// for batch pruning
func (s *Store) FileIDsWithVersions(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT file_id FROM file_versions")
	if err != nil {
		return nil, fmt.Errorf("failed to list versioned files: %w", err)
	}
	defer rows.Close()

	var fileIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan file id: %w", err)
		}
		fileIDs = append(fileIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versioned files: %w", err)
	}
	return fileIDs, nil
}
