package files

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store handles file and folder persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new file store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const fileColumns = "id, name, folder_id, storage_path, content_type, size_bytes, current_version_id, is_deleted, deleted_at, created_at, updated_at, created_by"

func scanFile(scanner interface{ Scan(...interface{}) error }) (*File, error) {
	var f File
	var contentType sql.NullString
	var currentVersionID, createdBy sql.NullInt64
	var deletedAt sql.NullTime

	err := scanner.Scan(
		&f.ID, &f.Name, &f.FolderID, &f.StoragePath, &contentType, &f.SizeBytes,
		&currentVersionID, &f.IsDeleted, &deletedAt, &f.CreatedAt, &f.UpdatedAt, &createdBy,
	)
	if err != nil {
		return nil, err
	}

	f.ContentType = contentType.String
	if currentVersionID.Valid {
		id := currentVersionID.Int64
		f.CurrentVersionID = &id
	}
	if deletedAt.Valid {
		ts := deletedAt.Time
		f.DeletedAt = &ts
	}
	if createdBy.Valid {
		id := createdBy.Int64
		f.CreatedBy = &id
	}
	return &f, nil
}

// CreateFile inserts a file row. The (folder, name) uniqueness check
// runs first so a duplicate surfaces as ErrDuplicateName rather than
// a constraint violation.
func (s *Store) CreateFile(ctx context.Context, file *File) error {
	taken, err := s.nameTaken(ctx, file.FolderID, file.Name, 0)
	if err != nil {
		return err
	}
	if taken {
		return ErrDuplicateName
	}

	now := time.Now()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO files (name, folder_id, storage_path, content_type, size_bytes, is_deleted, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, $8)
		RETURNING id
	`,
		file.Name, file.FolderID, file.StoragePath, file.ContentType,
		file.SizeBytes, now, now, file.CreatedBy,
	).Scan(&file.ID)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	file.CreatedAt = now
	file.UpdatedAt = now
	return nil
}

// nameTaken reports whether a live file or a subfolder already uses
// the name in the folder. excludeFileID skips the file being renamed.
func (s *Store) nameTaken(ctx context.Context, folderID int64, name string, excludeFileID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM files
		WHERE folder_id = $1 AND name = $2 AND is_deleted = FALSE AND id != $3
	`, folderID, name, excludeFileID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check file name: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM folders WHERE parent_folder_id = $1 AND name = $2
	`, folderID, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check folder name: %w", err)
	}
	return count > 0, nil
}

// GetFile retrieves a live (non-trashed) file
func (s *Store) GetFile(ctx context.Context, fileID int64) (*File, error) {
	query := fmt.Sprintf("SELECT %s FROM files WHERE id = $1 AND is_deleted = FALSE", fileColumns)

	f, err := scanFile(s.db.QueryRowContext(ctx, query, fileID))
	if err == sql.ErrNoRows {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// GetFileByName retrieves a live file by its name within a folder
func (s *Store) GetFileByName(ctx context.Context, folderID int64, name string) (*File, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM files WHERE folder_id = $1 AND name = $2 AND is_deleted = FALSE",
		fileColumns,
	)

	f, err := scanFile(s.db.QueryRowContext(ctx, query, folderID, name))
	if err == sql.ErrNoRows {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file by name: %w", err)
	}
	return f, nil
}

// GetTrashedFile retrieves a file that is in the trash
func (s *Store) GetTrashedFile(ctx context.Context, fileID int64) (*File, error) {
	query := fmt.Sprintf("SELECT %s FROM files WHERE id = $1 AND is_deleted = TRUE", fileColumns)

	f, err := scanFile(s.db.QueryRowContext(ctx, query, fileID))
	if err == sql.ErrNoRows {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trashed file: %w", err)
	}
	return f, nil
}

// ListFiles lists the live files in a folder, by name
func (s *Store) ListFiles(ctx context.Context, folderID int64) ([]*File, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM files WHERE folder_id = $1 AND is_deleted = FALSE ORDER BY name",
		fileColumns,
	)
	return s.queryFiles(ctx, query, folderID)
}

// ListLiveFiles lists every live file in the system. Used by the
// changed-file monitor.
func (s *Store) ListLiveFiles(ctx context.Context) ([]*File, error) {
	query := fmt.Sprintf("SELECT %s FROM files WHERE is_deleted = FALSE ORDER BY id", fileColumns)
	return s.queryFiles(ctx, query)
}

// ListTrash lists every trashed file, most recently trashed first
func (s *Store) ListTrash(ctx context.Context) ([]*File, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM files WHERE is_deleted = TRUE ORDER BY deleted_at DESC",
		fileColumns,
	)
	return s.queryFiles(ctx, query)
}

// ListTrashedBefore lists trashed files whose deletion timestamp is
// older than the cutoff, for trash expiry
func (s *Store) ListTrashedBefore(ctx context.Context, cutoff time.Time) ([]*File, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM files WHERE is_deleted = TRUE AND deleted_at < $1",
		fileColumns,
	)
	return s.queryFiles(ctx, query, cutoff)
}

func (s *Store) queryFiles(ctx context.Context, query string, args ...interface{}) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	result := make([]*File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}
	return result, nil
}

// RenameFile updates a file's name after checking uniqueness. Storage
// paths are independent of the name, so the blob never moves.
func (s *Store) RenameFile(ctx context.Context, fileID int64, newName string) error {
	f, err := s.GetFile(ctx, fileID)
	if err != nil {
		return err
	}

	taken, err := s.nameTaken(ctx, f.FolderID, newName, fileID)
	if err != nil {
		return err
	}
	if taken {
		return ErrDuplicateName
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE files SET name = $1, updated_at = $2 WHERE id = $3",
		newName, time.Now(), fileID,
	)
	if err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// MoveFile reparents a file into another folder
func (s *Store) MoveFile(ctx context.Context, fileID int64, targetFolderID int64) error {
	f, err := s.GetFile(ctx, fileID)
	if err != nil {
		return err
	}

	if _, err := s.GetFolder(ctx, targetFolderID); err != nil {
		return err
	}

	taken, err := s.nameTaken(ctx, targetFolderID, f.Name, fileID)
	if err != nil {
		return err
	}
	if taken {
		return ErrDuplicateName
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE files SET folder_id = $1, updated_at = $2 WHERE id = $3",
		targetFolderID, time.Now(), fileID,
	)
	if err != nil {
		return fmt.Errorf("failed to move file: %w", err)
	}
	return nil
}

// TrashFile soft-deletes a file
func (s *Store) TrashFile(ctx context.Context, fileID int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE files SET is_deleted = TRUE, deleted_at = $1 WHERE id = $2 AND is_deleted = FALSE",
		time.Now(), fileID,
	)
	if err != nil {
		return fmt.Errorf("failed to trash file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count trashed files: %w", err)
	}
	if affected == 0 {
		return ErrFileNotFound
	}
	return nil
}

// UntrashFile brings a file back from the trash. The original name
// may have been taken while the file sat in the trash, in which case
// ErrDuplicateName is returned and the file stays trashed.
func (s *Store) UntrashFile(ctx context.Context, fileID int64) error {
	f, err := s.GetTrashedFile(ctx, fileID)
	if err != nil {
		return err
	}

	taken, err := s.nameTaken(ctx, f.FolderID, f.Name, fileID)
	if err != nil {
		return err
	}
	if taken {
		return ErrDuplicateName
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE files SET is_deleted = FALSE, deleted_at = NULL, updated_at = $1 WHERE id = $2 AND is_deleted = TRUE",
		time.Now(), fileID,
	)
	if err != nil {
		return fmt.Errorf("failed to restore file from trash: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count restored files: %w", err)
	}
	if affected == 0 {
		return ErrFileNotFound
	}
	return nil
}

// DeleteFileRow removes a file row permanently
func (s *Store) DeleteFileRow(ctx context.Context, fileID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE id = $1", fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file row: %w", err)
	}
	return nil
}

// UpdateFileSize records the file's new live size
func (s *Store) UpdateFileSize(ctx context.Context, fileID int64, sizeBytes int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE files SET size_bytes = $1, updated_at = $2 WHERE id = $3",
		sizeBytes, time.Now(), fileID,
	)
	if err != nil {
		return fmt.Errorf("failed to update file size: %w", err)
	}
	return nil
}

// TouchFile bumps the file's modification timestamp
func (s *Store) TouchFile(ctx context.Context, fileID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE files SET updated_at = $1 WHERE id = $2", at, fileID)
	if err != nil {
		return fmt.Errorf("failed to touch file: %w", err)
	}
	return nil
}

// CreateFolder inserts a folder row
func (s *Store) CreateFolder(ctx context.Context, folder *Folder) error {
	if folder.ParentFolderID != nil {
		if _, err := s.GetFolder(ctx, *folder.ParentFolderID); err != nil {
			return err
		}
		taken, err := s.nameTaken(ctx, *folder.ParentFolderID, folder.Name, 0)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateName
		}
	} else {
		// Root folders share one namespace too. The UNIQUE constraint
		// does not catch this, NULL parents never compare equal.
		var count int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM folders WHERE parent_folder_id IS NULL AND name = $1",
			folder.Name,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check folder name: %w", err)
		}
		if count > 0 {
			return ErrDuplicateName
		}
	}

	now := time.Now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO folders (name, parent_folder_id, storage_path, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`,
		folder.Name, folder.ParentFolderID, folder.StoragePath, now, folder.CreatedBy,
	).Scan(&folder.ID)
	if err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}

	folder.CreatedAt = now
	return nil
}

// GetFolder retrieves a folder by ID
func (s *Store) GetFolder(ctx context.Context, folderID int64) (*Folder, error) {
	var f Folder
	var parentID, createdBy sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, parent_folder_id, storage_path, created_at, created_by
		FROM folders WHERE id = $1
	`, folderID).Scan(&f.ID, &f.Name, &parentID, &f.StoragePath, &f.CreatedAt, &createdBy)
	if err == sql.ErrNoRows {
		return nil, ErrFolderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}

	if parentID.Valid {
		id := parentID.Int64
		f.ParentFolderID = &id
	}
	if createdBy.Valid {
		id := createdBy.Int64
		f.CreatedBy = &id
	}
	return &f, nil
}

// ListSubfolders lists the direct children of a folder
func (s *Store) ListSubfolders(ctx context.Context, folderID int64) ([]*Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, parent_folder_id, storage_path, created_at, created_by
		FROM folders WHERE parent_folder_id = $1 ORDER BY name
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subfolders: %w", err)
	}
	defer rows.Close()

	result := make([]*Folder, 0)
	for rows.Next() {
		var f Folder
		var parentID, createdBy sql.NullInt64
		if err := rows.Scan(&f.ID, &f.Name, &parentID, &f.StoragePath, &f.CreatedAt, &createdBy); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		if parentID.Valid {
			id := parentID.Int64
			f.ParentFolderID = &id
		}
		if createdBy.Valid {
			id := createdBy.Int64
			f.CreatedBy = &id
		}
		result = append(result, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}
	return result, nil
}

// RenameFolder updates a folder's name after checking uniqueness
// among its siblings
func (s *Store) RenameFolder(ctx context.Context, folderID int64, newName string) error {
	f, err := s.GetFolder(ctx, folderID)
	if err != nil {
		return err
	}
	if newName == f.Name {
		return nil
	}

	if f.ParentFolderID != nil {
		taken, err := s.nameTaken(ctx, *f.ParentFolderID, newName, 0)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateName
		}
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE folders SET name = $1 WHERE id = $2", newName, folderID)
	if err != nil {
		return fmt.Errorf("failed to rename folder: %w", err)
	}
	return nil
}

// FolderIsEmpty reports whether a folder has no subfolders and no
// files. Trashed files still count: deleting a folder that holds
// trashed rows would orphan them.
func (s *Store) FolderIsEmpty(ctx context.Context, folderID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM folders WHERE parent_folder_id = $1", folderID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count subfolders: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM files WHERE folder_id = $1", folderID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count files: %w", err)
	}
	return count == 0, nil
}

// DeleteFolderRow removes a folder row permanently
func (s *Store) DeleteFolderRow(ctx context.Context, folderID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM folders WHERE id = $1", folderID)
	if err != nil {
		return fmt.Errorf("failed to delete folder row: %w", err)
	}
	return nil
}

// UserQuota returns the user's quota and current usage in bytes. A
// zero quota means unlimited.
func (s *Store) UserQuota(ctx context.Context, userID int64) (quota int64, used int64, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT quota_bytes, used_bytes FROM users WHERE id = $1", userID,
	).Scan(&quota, &used)
	if err == sql.ErrNoRows {
		return 0, 0, fmt.Errorf("user not found: %d", userID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get user quota: %w", err)
	}
	return quota, used, nil
}

// AdjustUserUsage applies a byte delta to the user's usage counter
func (s *Store) AdjustUserUsage(ctx context.Context, userID int64, delta int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET used_bytes = used_bytes + $1 WHERE id = $2", delta, userID)
	if err != nil {
		return fmt.Errorf("failed to adjust user usage: %w", err)
	}
	return nil
}
