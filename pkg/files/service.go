package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/filedepot/filedepot/pkg/access"
	"github.com/filedepot/filedepot/pkg/audit"
	"github.com/filedepot/filedepot/pkg/blob"
	"github.com/filedepot/filedepot/pkg/observability"
	"github.com/filedepot/filedepot/pkg/versioning"
)

// Config holds the tunables of the file service
type Config struct {
	// EditLinkTTL is the lifetime of direct-access links handed out by
	// EditLink. Links are cached for the same duration.
	EditLinkTTL time.Duration

	// EditLinkCacheSize bounds the edit-link cache
	EditLinkCacheSize int
}

// DefaultConfig returns the default service configuration
func DefaultConfig() Config {
	return Config{
		EditLinkTTL:       15 * time.Minute,
		EditLinkCacheSize: 1024,
	}
}

// Service implements the file manager operations on top of the file
// store, the blob backend and the version manager
type Service struct {
	store    *Store
	blobs    blob.Store
	versions *versioning.Manager
	rules    *access.Store
	sink     *audit.Sink
	logger   *observability.Logger
	metrics  *observability.Metrics

	editLinks   *lru.LRU[string, string]
	editLinkTTL time.Duration
}

// NewService creates a file service
func NewService(store *Store, blobs blob.Store, versions *versioning.Manager, rules *access.Store, sink *audit.Sink, logger *observability.Logger, metrics *observability.Metrics, cfg Config) *Service {
	if cfg.EditLinkTTL <= 0 {
		cfg.EditLinkTTL = DefaultConfig().EditLinkTTL
	}
	if cfg.EditLinkCacheSize <= 0 {
		cfg.EditLinkCacheSize = DefaultConfig().EditLinkCacheSize
	}
	if logger == nil {
		logger = observability.NewLogger(observability.ErrorLevel, io.Discard)
	}

	return &Service{
		store:       store,
		blobs:       blobs,
		versions:    versions,
		rules:       rules,
		sink:        sink,
		logger:      logger,
		metrics:     metrics,
		editLinks:   lru.NewLRU[string, string](cfg.EditLinkCacheSize, nil, cfg.EditLinkTTL),
		editLinkTTL: cfg.EditLinkTTL,
	}
}

func (s *Service) countOp(operation string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.FileOperationsTotal.WithLabelValues(operation, status).Inc()
}

// Upload stores content under a name in a folder. Uploading a name
// that already exists replaces the live content and records a new
// version; a fresh name creates the file with version 1.
func (s *Service) Upload(ctx context.Context, folderID int64, name string, content io.Reader, contentType string, userID int64) (*File, error) {
	file, err := s.upload(ctx, folderID, name, content, contentType, userID)
	s.countOp("upload", err)
	if err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"folder_id": folderID,
			"name":      name,
			"user_id":   userID,
		}).Error("upload failed")
		return nil, err
	}

	s.sink.RecordFileAction(ctx, audit.ActionFileUpload, &userID, audit.TargetTypeFile, file.ID, file.Name, true)
	return file, nil
}

func (s *Service) upload(ctx context.Context, folderID int64, name string, content io.Reader, contentType string, userID int64) (*File, error) {
	if _, err := s.store.GetFolder(ctx, folderID); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload content: %w", err)
	}

	existing, err := s.store.GetFileByName(ctx, folderID, name)
	if err != nil && err != ErrFileNotFound {
		return nil, err
	}
	if existing != nil {
		return s.uploadRevision(ctx, existing, data, userID)
	}

	if err := s.checkQuota(ctx, userID, int64(len(data))); err != nil {
		return nil, err
	}

	file := &File{
		Name:        name,
		FolderID:    folderID,
		StoragePath: "files/" + uuid.NewString(),
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		CreatedBy:   &userID,
	}

	if err := s.blobs.Upload(ctx, file.StoragePath, bytes.NewReader(data), contentType); err != nil {
		return nil, fmt.Errorf("failed to upload content: %w", err)
	}

	if err := s.store.CreateFile(ctx, file); err != nil {
		// roll back the stray blob so a retry starts clean
		if delErr := s.blobs.Delete(ctx, file.StoragePath); delErr != nil {
			s.logger.WithError(delErr).WithField("storage_path", file.StoragePath).Warn("failed to delete orphaned blob")
		}
		return nil, err
	}

	if _, err := s.versions.CreateVersion(ctx, file.ID, userID, "initial upload"); err != nil {
		// A live file must never exist without version 1; undo the
		// row and the blob so a retry starts clean.
		if delErr := s.store.DeleteFileRow(ctx, file.ID); delErr != nil {
			s.logger.WithError(delErr).WithField("file_id", file.ID).Warn("failed to roll back file row")
		}
		if delErr := s.blobs.Delete(ctx, file.StoragePath); delErr != nil {
			s.logger.WithError(delErr).WithField("storage_path", file.StoragePath).Warn("failed to delete orphaned blob")
		}
		return nil, fmt.Errorf("failed to record initial version: %w", err)
	}

	if err := s.store.AdjustUserUsage(ctx, userID, file.SizeBytes); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to adjust quota usage")
	}
	return file, nil
}

// uploadRevision replaces the live content of an existing file and
// snapshots it as a new version
func (s *Service) uploadRevision(ctx context.Context, file *File, data []byte, userID int64) (*File, error) {
	delta := int64(len(data)) - file.SizeBytes
	if err := s.checkQuota(ctx, userID, delta); err != nil {
		return nil, err
	}

	if err := s.blobs.Upload(ctx, file.StoragePath, bytes.NewReader(data), file.ContentType); err != nil {
		return nil, fmt.Errorf("failed to upload content: %w", err)
	}

	if err := s.store.UpdateFileSize(ctx, file.ID, int64(len(data))); err != nil {
		return nil, err
	}

	if _, err := s.versions.CreateVersion(ctx, file.ID, userID, "upload"); err != nil {
		s.logger.WithError(err).WithField("file_id", file.ID).Warn("failed to record version for re-upload")
	}

	if delta != 0 {
		if err := s.store.AdjustUserUsage(ctx, userID, delta); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("failed to adjust quota usage")
		}
	}
	return s.store.GetFile(ctx, file.ID)
}

func (s *Service) checkQuota(ctx context.Context, userID int64, delta int64) error {
	if delta <= 0 {
		return nil
	}
	quota, used, err := s.store.UserQuota(ctx, userID)
	if err != nil {
		return err
	}
	if quota > 0 && used+delta > quota {
		return ErrQuotaExceeded
	}
	return nil
}

// GetFile returns a live file's metadata
func (s *Service) GetFile(ctx context.Context, fileID int64) (*File, error) {
	return s.store.GetFile(ctx, fileID)
}

// GetFolder returns a folder's metadata
func (s *Service) GetFolder(ctx context.Context, folderID int64) (*Folder, error) {
	return s.store.GetFolder(ctx, folderID)
}

// Download returns a file's metadata together with a reader over its
// live content. The caller closes the reader.
func (s *Service) Download(ctx context.Context, fileID int64) (*File, io.ReadCloser, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		s.countOp("download", err)
		return nil, nil, err
	}

	reader, err := s.blobs.Download(ctx, file.StoragePath)
	s.countOp("download", err)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download content: %w", err)
	}
	return file, reader, nil
}

// ListFolder returns the direct subfolders and live files of a folder
func (s *Service) ListFolder(ctx context.Context, folderID int64) ([]*Folder, []*File, error) {
	if _, err := s.store.GetFolder(ctx, folderID); err != nil {
		return nil, nil, err
	}

	folders, err := s.store.ListSubfolders(ctx, folderID)
	if err != nil {
		return nil, nil, err
	}
	fs, err := s.store.ListFiles(ctx, folderID)
	if err != nil {
		return nil, nil, err
	}
	return folders, fs, nil
}

// CreateFolder creates a folder. A nil parent creates a root folder.
func (s *Service) CreateFolder(ctx context.Context, parentFolderID *int64, name string, userID int64) (*Folder, error) {
	folder := &Folder{
		Name:           name,
		ParentFolderID: parentFolderID,
		StoragePath:    "folders/" + uuid.NewString(),
		CreatedBy:      &userID,
	}

	err := s.store.CreateFolder(ctx, folder)
	s.countOp("create_folder", err)
	if err != nil {
		return nil, err
	}

	if err := s.blobs.CreateFolder(ctx, folder.StoragePath); err != nil {
		s.logger.WithError(err).WithField("storage_path", folder.StoragePath).Warn("failed to create folder marker")
	}

	s.sink.RecordFileAction(ctx, audit.ActionFolderCreate, &userID, audit.TargetTypeFolder, folder.ID, folder.Name, true)
	return folder, nil
}

// RenameFile changes a file's name
func (s *Service) RenameFile(ctx context.Context, fileID int64, newName string, userID int64) error {
	err := s.store.RenameFile(ctx, fileID, newName)
	s.countOp("rename", err)
	if err != nil {
		return err
	}

	s.sink.RecordFileAction(ctx, audit.ActionFileRename, &userID, audit.TargetTypeFile, fileID, newName, true)
	return nil
}

// RenameFolder changes a folder's name
func (s *Service) RenameFolder(ctx context.Context, folderID int64, newName string, userID int64) error {
	err := s.store.RenameFolder(ctx, folderID, newName)
	s.countOp("rename_folder", err)
	if err != nil {
		return err
	}

	s.sink.RecordFileAction(ctx, audit.ActionFolderRename, &userID, audit.TargetTypeFolder, folderID, newName, true)
	return nil
}

// MoveFile reparents a file into another folder
func (s *Service) MoveFile(ctx context.Context, fileID int64, targetFolderID int64, userID int64) error {
	err := s.store.MoveFile(ctx, fileID, targetFolderID)
	s.countOp("move", err)
	if err != nil {
		return err
	}

	s.sink.RecordFileAction(ctx, audit.ActionFileMove, &userID, audit.TargetTypeFile, fileID, "", true)
	return nil
}

// ListTrash returns every trashed file, most recently trashed first
func (s *Service) ListTrash(ctx context.Context) ([]*File, error) {
	return s.store.ListTrash(ctx)
}

// Trash soft-deletes a file. Content, versions and access rules stay
// in place until the file is permanently deleted or the trash expires.
func (s *Service) Trash(ctx context.Context, fileID int64, userID int64) error {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		s.countOp("trash", err)
		return err
	}

	err = s.store.TrashFile(ctx, fileID)
	s.countOp("trash", err)
	if err != nil {
		return err
	}

	s.sink.RecordFileAction(ctx, audit.ActionFileTrash, &userID, audit.TargetTypeFile, fileID, file.Name, true)
	return nil
}

// RestoreFromTrash brings a trashed file back. Returns
// ErrDuplicateName if the name was taken while the file sat in the
// trash.
func (s *Service) RestoreFromTrash(ctx context.Context, fileID int64, userID int64) error {
	file, err := s.store.GetTrashedFile(ctx, fileID)
	if err != nil {
		s.countOp("untrash", err)
		return err
	}

	err = s.store.UntrashFile(ctx, fileID)
	s.countOp("untrash", err)
	if err != nil {
		return err
	}

	s.sink.RecordFileAction(ctx, audit.ActionFileUntrash, &userID, audit.TargetTypeFile, fileID, file.Name, true)
	return nil
}

// DeleteForever permanently removes a file: every version and its
// archive, the live content, the access rules targeting the file, and
// finally the row itself. Works on both live and trashed files.
func (s *Service) DeleteForever(ctx context.Context, fileID int64, userID int64) error {
	file, err := s.deleteForever(ctx, fileID)
	s.countOp("delete", err)
	if err != nil {
		return err
	}

	s.sink.RecordFileAction(ctx, audit.ActionFileDelete, &userID, audit.TargetTypeFile, fileID, file.Name, true)
	return nil
}

func (s *Service) deleteForever(ctx context.Context, fileID int64) (*File, error) {
	file, err := s.store.GetTrashedFile(ctx, fileID)
	if err == ErrFileNotFound {
		file, err = s.store.GetFile(ctx, fileID)
	}
	if err != nil {
		return nil, err
	}

	if err := s.versions.DeleteAllVersions(ctx, fileID); err != nil {
		return nil, err
	}

	if err := s.blobs.Delete(ctx, file.StoragePath); err != nil {
		return nil, fmt.Errorf("failed to delete content: %w", err)
	}

	if _, err := s.rules.DeleteRulesForFile(ctx, fileID); err != nil {
		return nil, err
	}

	if err := s.store.DeleteFileRow(ctx, fileID); err != nil {
		return nil, err
	}

	if file.CreatedBy != nil {
		if err := s.store.AdjustUserUsage(ctx, *file.CreatedBy, -file.SizeBytes); err != nil {
			s.logger.WithError(err).WithField("user_id", *file.CreatedBy).Warn("failed to adjust quota usage")
		}
	}
	return file, nil
}

// DeleteFolder permanently removes an empty folder and the access
// rules targeting it. Returns ErrFolderNotEmpty if anything is still
// inside, trashed files included.
func (s *Service) DeleteFolder(ctx context.Context, folderID int64, userID int64) error {
	err := s.deleteFolder(ctx, folderID, userID)
	s.countOp("delete_folder", err)
	return err
}

func (s *Service) deleteFolder(ctx context.Context, folderID int64, userID int64) error {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return err
	}

	empty, err := s.store.FolderIsEmpty(ctx, folderID)
	if err != nil {
		return err
	}
	if !empty {
		return ErrFolderNotEmpty
	}

	if _, err := s.rules.DeleteRulesForFolder(ctx, folderID); err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, folder.StoragePath); err != nil {
		s.logger.WithError(err).WithField("storage_path", folder.StoragePath).Warn("failed to delete folder marker")
	}

	if err := s.store.DeleteFolderRow(ctx, folderID); err != nil {
		return err
	}

	s.sink.RecordFileAction(ctx, audit.ActionFolderDelete, &userID, audit.TargetTypeFolder, folderID, folder.Name, true)
	return nil
}

// EditLink returns a time-limited direct-access URL for a file's live
// content. Links are cached until they expire so repeated editor
// round-trips reuse the same URL.
func (s *Service) EditLink(ctx context.Context, fileID int64) (string, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}

	if link, ok := s.editLinks.Get(file.StoragePath); ok {
		return link, nil
	}

	link, err := s.blobs.EditLink(ctx, file.StoragePath, s.editLinkTTL)
	if err != nil {
		return "", fmt.Errorf("failed to create edit link: %w", err)
	}

	s.editLinks.Add(file.StoragePath, link)
	return link, nil
}

// SyncExternalEdits scans live files for content rewritten directly in
// blob storage, which happens when a collaborative editor saves
// through an edit link. Each changed file gets a new version and
// refreshed metadata. Returns the number of files synced.
func (s *Service) SyncExternalEdits(ctx context.Context) (int, error) {
	liveFiles, err := s.store.ListLiveFiles(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, file := range liveFiles {
		select {
		case <-ctx.Done():
			return synced, ctx.Err()
		default:
		}

		size, modified, err := s.blobs.Stat(ctx, file.StoragePath)
		if err != nil {
			if err != blob.ErrNotFound {
				s.logger.WithError(err).WithField("file_id", file.ID).Warn("failed to stat live content")
			}
			continue
		}
		if !modified.After(file.UpdatedAt) {
			continue
		}

		if _, err := s.versions.CreateVersion(ctx, file.ID, 0, "external edit"); err != nil {
			s.logger.WithError(err).WithField("file_id", file.ID).Warn("failed to version external edit")
			continue
		}
		if size != file.SizeBytes {
			if err := s.store.UpdateFileSize(ctx, file.ID, size); err != nil {
				s.logger.WithError(err).WithField("file_id", file.ID).Warn("failed to update file size")
			}
			if file.CreatedBy != nil {
				if err := s.store.AdjustUserUsage(ctx, *file.CreatedBy, size-file.SizeBytes); err != nil {
					s.logger.WithError(err).WithField("user_id", *file.CreatedBy).Warn("failed to adjust quota usage")
				}
			}
		}
		if err := s.store.TouchFile(ctx, file.ID, modified); err != nil {
			s.logger.WithError(err).WithField("file_id", file.ID).Warn("failed to touch file")
		}
		synced++
	}
	return synced, nil
}

// ExpireTrash permanently deletes every file trashed before the
// retention window. Returns the number of files removed; a failure on
// one file does not stop the batch.
func (s *Service) ExpireTrash(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	expired, err := s.store.ListTrashedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, file := range expired {
		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}

		if _, err := s.deleteForever(ctx, file.ID); err != nil {
			s.logger.WithError(err).WithField("file_id", file.ID).Warn("trash expiry failed, continuing batch")
			continue
		}
		removed++
		if s.metrics != nil {
			s.metrics.TrashExpiredTotal.Inc()
		}
	}

	if removed > 0 {
		s.sink.RecordMaintenance(ctx, audit.ActionTrashExpired, int64(removed),
			fmt.Sprintf("removed %d expired files from trash", removed))
	}
	return removed, nil
}
