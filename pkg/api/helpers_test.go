package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for testing

	"github.com/filedepot/filedepot/pkg/access"
	"github.com/filedepot/filedepot/pkg/audit"
	"github.com/filedepot/filedepot/pkg/blob"
	"github.com/filedepot/filedepot/pkg/files"
	"github.com/filedepot/filedepot/pkg/groups"
	"github.com/filedepot/filedepot/pkg/versioning"
)

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

		CREATE TABLE groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at TIMESTAMP,
			created_by INTEGER
		);

		CREATE TABLE group_members (
			group_id INTEGER NOT NULL REFERENCES groups(id),
			user_id INTEGER NOT NULL REFERENCES users(id),
			added_at TIMESTAMP,
			added_by INTEGER,
			PRIMARY KEY (group_id, user_id)
		);
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

type apiEnv struct {
	db       *sql.DB
	blobs    *blob.MemoryStore
	rules    *access.Store
	files    *files.Service
	handler  http.Handler
	auditLog *memoryAuditLogger
}

func newAPIEnv(t *testing.T) *apiEnv {
	db := setupTestDB(t)
	blobs := blob.NewMemoryStore()

	rules := access.NewStore(db)
	auditLog := &memoryAuditLogger{}
	sink := audit.NewSink(auditLog, nil, nil)

	accessSvc := access.NewService(rules, access.NewResolver(rules, nil), sink, nil, nil)
	versions := versioning.NewManager(versioning.NewStore(db), blobs, sink, nil, nil, nil, nil)
	fileSvc := files.NewService(files.NewStore(db), blobs, versions, rules, sink, nil, nil, files.DefaultConfig())
	groupSvc := groups.NewService(groups.NewStore(db), rules, sink, nil)

	server := NewServer(accessSvc, fileSvc, versions, groupSvc, auditLog, nil, nil)
	return &apiEnv{
		db:       db,
		blobs:    blobs,
		rules:    rules,
		files:    fileSvc,
		handler:  server,
		auditLog: auditLog,
	}
}

func (e *apiEnv) createUser(t *testing.T, username string) int64 {
	t.Helper()
	result, err := e.db.Exec("INSERT INTO users (username) VALUES (?)", username)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

// grant seeds an access rule directly, bypassing the manage check the
// HTTP grant endpoint enforces
func (e *apiEnv) grant(t *testing.T, rule *access.Rule) {
	t.Helper()
	require.NoError(t, e.rules.CreateRule(context.Background(), rule))
}

func (e *apiEnv) createFolder(t *testing.T, ownerID int64, name string) int64 {
	t.Helper()
	folder, err := e.files.CreateFolder(context.Background(), nil, name, ownerID)
	require.NoError(t, err)
	e.grant(t, &access.Rule{
		FolderID:          &folder.ID,
		UserID:            &ownerID,
		Access:            access.AccessFull,
		InheritFromParent: true,
	})
	return folder.ID
}

// request performs an authenticated request against the API
func (e *apiEnv) request(t *testing.T, userID int64, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// uploadFile posts a multipart upload into a folder and returns the
// created file's id
func (e *apiEnv) uploadFile(t *testing.T, userID, folderID int64, name, content string) int64 {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/folders/"+strconv.FormatInt(folderID, 10)+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var file files.File
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&file))
	return file.ID
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dest))
}

// memoryAuditLogger captures audit entries for assertions
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
	var out []*audit.Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryAuditLogger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memoryAuditLogger) Close() error { return nil }
