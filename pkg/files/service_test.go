package files

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/pkg/audit"
)

func countRows(t *testing.T, env *testEnv, query string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, env.db.QueryRow(query, args...).Scan(&n))
	return n
}

func TestService_UploadNewFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "alice", 0)
	folderID := env.createRootFolder(t, "docs")

	file, err := env.service.Upload(ctx, folderID, "report.txt", strings.NewReader("hello world"), "text/plain", userID)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", file.Name)
	assert.Equal(t, int64(11), file.SizeBytes)
	assert.True(t, strings.HasPrefix(file.StoragePath, "files/"))

	// live content is in place
	assert.True(t, env.blobs.Exists(file.StoragePath))

	// version 1 was recorded and is current
	var number int
	var current bool
	require.NoError(t, env.db.QueryRow(
		"SELECT version_number, is_current_version FROM file_versions WHERE file_id = ?", file.ID,
	).Scan(&number, &current))
	assert.Equal(t, 1, number)
	assert.True(t, current)

	// quota usage reflects the upload
	assert.Equal(t, int64(11), env.usedBytes(t, userID))

	entries := env.auditLog.byAction(audit.ActionFileUpload)
	require.Len(t, entries, 1)
	assert.Equal(t, file.ID, *entries[0].TargetID)
	assert.Equal(t, "report.txt", entries[0].TargetName)
}

func TestService_UploadExistingNameCreatesRevision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "alice", 0)
	folderID := env.createRootFolder(t, "docs")

	first := env.upload(t, folderID, "report.txt", "draft", userID)
	second, err := env.service.Upload(ctx, folderID, "report.txt", strings.NewReader("final text"), "text/plain", userID)
	require.NoError(t, err)

	// same file, new content, new version
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(10), second.SizeBytes)
	assert.Equal(t, 2, countRows(t, env, "SELECT COUNT(*) FROM file_versions WHERE file_id = ?", first.ID))
	assert.Equal(t, 1, countRows(t, env, "SELECT COUNT(*) FROM files"))

	_, rc, err := env.service.Download(ctx, first.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "final text", string(data))

	// usage tracks the delta, not the sum of uploads
	assert.Equal(t, int64(10), env.usedBytes(t, userID))
}

func TestService_UploadRollsBackWhenVersioningFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "alice", 0)
	folderID := env.createRootFolder(t, "docs")

	// Archiving is broken, so version 1 cannot be recorded. The
	// upload must fail rather than leave a versionless live file.
	env.blobs.FailCopies = true

	_, err := env.service.Upload(ctx, folderID, "report.txt", strings.NewReader("hello"), "text/plain", userID)
	require.Error(t, err)

	assert.Equal(t, 0, countRows(t, env, "SELECT COUNT(*) FROM files"))
	assert.Equal(t, 0, countRows(t, env, "SELECT COUNT(*) FROM file_versions"))
	assert.Equal(t, int64(0), env.usedBytes(t, userID))

	// the failed attempt does not block a retry
	env.blobs.FailCopies = false
	file, err := env.service.Upload(ctx, folderID, "report.txt", strings.NewReader("hello"), "text/plain", userID)
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, env, "SELECT COUNT(*) FROM file_versions WHERE file_id = ?", file.ID))
}

func TestService_UploadQuotaExceeded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "bob", 10)
	folderID := env.createRootFolder(t, "docs")

	_, err := env.service.Upload(ctx, folderID, "big.bin", strings.NewReader("way too much content"), "application/octet-stream", userID)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	assert.Equal(t, 0, countRows(t, env, "SELECT COUNT(*) FROM files"))
	assert.Equal(t, int64(0), env.usedBytes(t, userID))

	// under the limit goes through
	_, err = env.service.Upload(ctx, folderID, "small.txt", strings.NewReader("ok"), "text/plain", userID)
	require.NoError(t, err)
}

func TestService_UploadUnknownFolder(t *testing.T) {
	env := newTestEnv(t)
	userID := env.createUser(t, "alice", 0)

	_, err := env.service.Upload(context.Background(), 9999, "report.txt", strings.NewReader("x"), "text/plain", userID)
	assert.ErrorIs(t, err, ErrFolderNotFound)
}

func TestService_CreateFolderHierarchy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "alice", 0)

	root, err := env.service.CreateFolder(ctx, nil, "docs", userID)
	require.NoError(t, err)
	sub, err := env.service.CreateFolder(ctx, &root.ID, "reports", userID)
	require.NoError(t, err)

	_, err = env.service.CreateFolder(ctx, &root.ID, "reports", userID)
	assert.ErrorIs(t, err, ErrDuplicateName)

	folders, files, err := env.service.ListFolder(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, sub.ID, folders[0].ID)
	assert.Empty(t, files)

	assert.Len(t, env.auditLog.byAction(audit.ActionFolderCreate), 2)
}

func TestService_CreateFolderDuplicateRootName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.CreateFolder(ctx, nil, "docs", 1)
	require.NoError(t, err)

	// top-level names are unique like every other level
	_, err = env.service.CreateFolder(ctx, nil, "docs", 1)
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = env.service.CreateFolder(ctx, nil, "media", 1)
	require.NoError(t, err)
}

func TestService_RenameAndMove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "alice", 0)
	docs := env.createRootFolder(t, "docs")
	archive := env.createRootFolder(t, "archive")
	file := env.upload(t, docs, "report.txt", "content", userID)

	require.NoError(t, env.service.RenameFile(ctx, file.ID, "report-2025.txt", userID))
	require.NoError(t, env.service.MoveFile(ctx, file.ID, archive, userID))

	moved, err := env.service.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "report-2025.txt", moved.Name)
	assert.Equal(t, archive, moved.FolderID)

	// content is still reachable at the same storage path
	_, rc, err := env.service.Download(ctx, file.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	assert.Len(t, env.auditLog.byAction(audit.ActionFileRename), 1)
	assert.Len(t, env.auditLog.byAction(audit.ActionFileMove), 1)
}

func TestService_TrashAndRestore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "alice", 0)
	docs := env.createRootFolder(t, "docs")
	file := env.upload(t, docs, "report.txt", "content", userID)

	require.NoError(t, env.service.Trash(ctx, file.ID, userID))

	_, err := env.service.GetFile(ctx, file.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)

	// content and versions survive the trash
	assert.True(t, env.blobs.Exists(file.StoragePath))
	assert.Equal(t, 1, countRows(t, env, "SELECT COUNT(*) FROM file_versions WHERE file_id = ?", file.ID))

	require.NoError(t, env.service.RestoreFromTrash(ctx, file.ID, userID))
	restored, err := env.service.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", restored.Name)

	assert.Len(t, env.auditLog.byAction(audit.ActionFileTrash), 1)
	assert.Len(t, env.auditLog.byAction(audit.ActionFileUntrash), 1)
}

func TestService_RestoreConflictsWithNewFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "alice", 0)
	docs := env.createRootFolder(t, "docs")

	old := env.upload(t, docs, "report.txt", "old", userID)
	require.NoError(t, env.service.Trash(ctx, old.ID, userID))
	env.upload(t, docs, "report.txt", "new", userID)

	assert.ErrorIs(t, env.service.RestoreFromTrash(ctx, old.ID, userID), ErrDuplicateName)
}

func TestService_DeleteForever(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "alice", 0)
	docs := env.createRootFolder(t, "docs")
	file := env.upload(t, docs, "report.txt", "content", userID)

	// a rule targeting the file must not outlive it
	_, err := env.db.Exec(
		"INSERT INTO access_rules (file_id, user_id, access, created_at) VALUES (?, ?, 1, ?)",
		file.ID, userID, time.Now())
	require.NoError(t, err)

	require.NoError(t, env.service.Trash(ctx, file.ID, userID))
	require.NoError(t, env.service.DeleteForever(ctx, file.ID, userID))

	assert.Equal(t, 0, countRows(t, env, "SELECT COUNT(*) FROM files"))
	assert.Equal(t, 0, countRows(t, env, "SELECT COUNT(*) FROM file_versions"))
	assert.Equal(t, 0, countRows(t, env, "SELECT COUNT(*) FROM access_rules"))
	assert.False(t, env.blobs.Exists(file.StoragePath))
	assert.Equal(t, int64(0), env.usedBytes(t, userID))

	assert.Len(t, env.auditLog.byAction(audit.ActionFileDelete), 1)
}

func TestService_DeleteFolder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "alice", 0)
	docs := env.createRootFolder(t, "docs")
	file := env.upload(t, docs, "report.txt", "content", userID)

	assert.ErrorIs(t, env.service.DeleteFolder(ctx, docs, userID), ErrFolderNotEmpty)

	// still not empty while the file sits in the trash
	require.NoError(t, env.service.Trash(ctx, file.ID, userID))
	assert.ErrorIs(t, env.service.DeleteFolder(ctx, docs, userID), ErrFolderNotEmpty)

	require.NoError(t, env.service.DeleteForever(ctx, file.ID, userID))
	require.NoError(t, env.service.DeleteFolder(ctx, docs, userID))

	assert.Equal(t, 0, countRows(t, env, "SELECT COUNT(*) FROM folders"))
	assert.Len(t, env.auditLog.byAction(audit.ActionFolderDelete), 1)
}

func TestService_EditLinkCached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "alice", 0)
	docs := env.createRootFolder(t, "docs")
	file := env.upload(t, docs, "report.txt", "content", userID)

	first, err := env.service.EditLink(ctx, file.ID)
	require.NoError(t, err)
	assert.Contains(t, first, file.StoragePath)

	second, err := env.service.EditLink(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = env.service.EditLink(ctx, 9999)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestService_ExpireTrash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "alice", 0)
	docs := env.createRootFolder(t, "docs")

	expired := env.upload(t, docs, "old.txt", "old content", userID)
	recent := env.upload(t, docs, "new.txt", "new content", userID)
	require.NoError(t, env.service.Trash(ctx, expired.ID, userID))
	require.NoError(t, env.service.Trash(ctx, recent.ID, userID))

	_, err := env.db.Exec("UPDATE files SET deleted_at = ? WHERE id = ?",
		time.Now().Add(-40*24*time.Hour), expired.ID)
	require.NoError(t, err)

	removed, err := env.service.ExpireTrash(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// the aged file is fully gone, the recent one untouched
	_, err = env.store.GetTrashedFile(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = env.store.GetTrashedFile(ctx, recent.ID)
	require.NoError(t, err)
	assert.False(t, env.blobs.Exists(expired.StoragePath))

	entries := env.auditLog.byAction(audit.ActionTrashExpired)
	require.Len(t, entries, 1)
	assert.EqualValues(t, int64(1), entries[0].Metadata["affected"])
}
