package files

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for testing

	"github.com/filedepot/filedepot/pkg/access"
	"github.com/filedepot/filedepot/pkg/audit"
	"github.com/filedepot/filedepot/pkg/blob"
	"github.com/filedepot/filedepot/pkg/versioning"
)

// setupTestDB creates an in-memory SQLite database with a schema
// equivalent to the production one
func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	// :memory: databases are per-connection; keep the pool to one
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			quota_bytes INTEGER NOT NULL DEFAULT 0,
			used_bytes INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE folders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			parent_folder_id INTEGER REFERENCES folders(id),
			storage_path TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP,
			created_by INTEGER,
			UNIQUE(parent_folder_id, name)
		);

		CREATE TABLE files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			folder_id INTEGER NOT NULL REFERENCES folders(id),
			storage_path TEXT NOT NULL,
			content_type TEXT,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			current_version_id INTEGER,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at TIMESTAMP,
			created_at TIMESTAMP,
			updated_at TIMESTAMP,
			created_by INTEGER
		);

		CREATE TABLE file_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id INTEGER NOT NULL REFERENCES files(id),
			version_number INTEGER NOT NULL,
			is_current_version BOOLEAN NOT NULL DEFAULT FALSE,
			archive_path TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			comment TEXT,
			created_at TIMESTAMP NOT NULL,
			created_by INTEGER,
			UNIQUE(file_id, version_number)
		);

		CREATE TABLE access_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id INTEGER REFERENCES files(id),
			folder_id INTEGER REFERENCES folders(id),
			user_id INTEGER REFERENCES users(id),
			group_id INTEGER,
			access INTEGER NOT NULL DEFAULT 0,
			inherit_from_parent BOOLEAN NOT NULL DEFAULT FALSE,
			granted_by INTEGER,
			created_at TIMESTAMP NOT NULL
		);
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

type testEnv struct {
	db       *sql.DB
	blobs    *blob.MemoryStore
	store    *Store
	rules    *access.Store
	service  *Service
	auditLog *memoryAuditLogger
}

func newTestEnv(t *testing.T) *testEnv {
	db := setupTestDB(t)
	blobs := blob.NewMemoryStore()
	store := NewStore(db)
	rules := access.NewStore(db)
	auditLog := &memoryAuditLogger{}
	sink := audit.NewSink(auditLog, nil, nil)
	versions := versioning.NewManager(versioning.NewStore(db), blobs, sink, nil, nil, nil, nil)
	service := NewService(store, blobs, versions, rules, sink, nil, nil, DefaultConfig())
	return &testEnv{db: db, blobs: blobs, store: store, rules: rules, service: service, auditLog: auditLog}
}

func (e *testEnv) createUser(t *testing.T, username string, quotaBytes int64) int64 {
	t.Helper()
	result, err := e.db.Exec(
		"INSERT INTO users (username, quota_bytes) VALUES (?, ?)", username, quotaBytes)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

func (e *testEnv) createRootFolder(t *testing.T, name string) int64 {
	t.Helper()
	folder, err := e.service.CreateFolder(context.Background(), nil, name, 1)
	require.NoError(t, err)
	return folder.ID
}

func (e *testEnv) upload(t *testing.T, folderID int64, name, content string, userID int64) *File {
	t.Helper()
	file, err := e.service.Upload(context.Background(), folderID, name, strings.NewReader(content), "text/plain", userID)
	require.NoError(t, err)
	return file
}

func (e *testEnv) usedBytes(t *testing.T, userID int64) int64 {
	t.Helper()
	var used int64
	require.NoError(t, e.db.QueryRow("SELECT used_bytes FROM users WHERE id = ?", userID).Scan(&used))
	return used
}

func ptr(v int64) *int64 { return &v }

// memoryAuditLogger captures audit entries for assertions.
type memoryAuditLogger struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (m *memoryAuditLogger) Log(ctx context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryAuditLogger) Query(ctx context.Context, filter audit.QueryFilter) ([]*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*audit.Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *memoryAuditLogger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memoryAuditLogger) Close() error { return nil }

func (m *memoryAuditLogger) byAction(action audit.Action) []*audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*audit.Entry
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
