package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

// setupSqliteLogger creates a DBLogger over an in-memory database with
// a schema equivalent to the production one.
func setupSqliteLogger(t *testing.T) (*DBLogger, *sql.DB) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	// :memory: databases are per-connection; keep the pool to one
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			action TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			user_id INTEGER,
			username TEXT,
			target_type TEXT,
			target_id INTEGER,
			target_name TEXT,
			ip_address TEXT,
			request_id TEXT,
			message TEXT,
			metadata BLOB,
			error_message TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return &DBLogger{db: db}, db
}

func TestNewDBLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_log").WillReturnResult(sqlmock.NewResult(0, 0))

		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(nil)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_log").WillReturnError(errors.New("table creation failed"))

		logger, err := NewDBLogger(db)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "failed to ensure audit_log table")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBLogger_Log(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		logger := &DBLogger{db: db}
		userID := int64(123)
		targetID := int64(42)

		entry := &Entry{
			Timestamp:  time.Now().UTC(),
			Action:     ActionFileUpload,
			Success:    true,
			UserID:     &userID,
			Username:   "alice",
			TargetType: TargetTypeFile,
			TargetID:   &targetID,
			TargetName: "report.pdf",
			IPAddress:  "192.168.1.1",
			RequestID:  "req-123",
			Message:    "file uploaded",
			Metadata:   map[string]interface{}{"size": 1024},
		}

		mock.ExpectQuery("INSERT INTO audit_log").
			WithArgs(
				sqlmock.AnyArg(), entry.Action, entry.Success,
				entry.UserID, entry.Username,
				entry.TargetType, entry.TargetID, entry.TargetName,
				entry.IPAddress, entry.RequestID,
				entry.Message, sqlmock.AnyArg(), entry.ErrorMessage,
			).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		err := logger.Log(context.Background(), entry)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), entry.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		logger := &DBLogger{db: db}
		mock.ExpectQuery("INSERT INTO audit_log").WillReturnError(errors.New("connection lost"))

		entry := newEntry(ActionFileDelete, nil, true)
		err := logger.Log(context.Background(), entry)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit entry")
	})
}

func TestDBLogger_ErrorMessageRoundTrip(t *testing.T) {
	logger, _ := setupSqliteLogger(t)
	ctx := context.Background()

	userID := int64(7)
	failed := newEntry(ActionVersionRestore, &userID, false)
	failed.ErrorMessage = "failed to restore archived content: blob missing"
	require.NoError(t, logger.Log(ctx, failed))

	ok := newEntry(ActionVersionRestore, &userID, true)
	require.NoError(t, logger.Log(ctx, ok))

	success := false
	entries, err := logger.Query(ctx, QueryFilter{Success: &success})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "failed to restore archived content: blob missing", entries[0].ErrorMessage)

	success = true
	entries, err = logger.Query(ctx, QueryFilter{Success: &success})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].ErrorMessage)
}

func TestDBLogger_QueryOrdering(t *testing.T) {
	logger, _ := setupSqliteLogger(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := newEntry(ActionFileEdit, nil, true)
		entry.Timestamp = base.Add(time.Duration(i) * time.Minute)
		entry.Message = fmt.Sprintf("edit %d", i)
		require.NoError(t, logger.Log(ctx, entry))
	}

	entries, err := logger.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 5)

	// Newest first
	for i := 0; i < len(entries)-1; i++ {
		assert.True(t, !entries[i].Timestamp.Before(entries[i+1].Timestamp),
			"entries out of order at %d", i)
	}
	assert.Equal(t, "edit 4", entries[0].Message)
	assert.Equal(t, "edit 0", entries[4].Message)
}

func TestDBLogger_QueryFilters(t *testing.T) {
	logger, _ := setupSqliteLogger(t)
	ctx := context.Background()

	alice := int64(1)
	bob := int64(2)
	fileID := int64(10)

	mkEntry := func(action Action, userID *int64, success bool) *Entry {
		entry := newEntry(action, userID, success)
		entry.TargetType = TargetTypeFile
		entry.TargetID = &fileID
		return entry
	}

	require.NoError(t, logger.Log(ctx, mkEntry(ActionFileUpload, &alice, true)))
	require.NoError(t, logger.Log(ctx, mkEntry(ActionFileEdit, &alice, true)))
	require.NoError(t, logger.Log(ctx, mkEntry(ActionFileEdit, &bob, false)))
	require.NoError(t, logger.Log(ctx, mkEntry(ActionFileDelete, &bob, true)))

	t.Run("by user", func(t *testing.T) {
		entries, err := logger.Query(ctx, QueryFilter{UserID: &alice})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("by action", func(t *testing.T) {
		entries, err := logger.Query(ctx, QueryFilter{Action: ActionFileEdit})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("by success", func(t *testing.T) {
		failed := false
		entries, err := logger.Query(ctx, QueryFilter{Success: &failed})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, ActionFileEdit, entries[0].Action)
	})

	t.Run("by target", func(t *testing.T) {
		entries, err := logger.Query(ctx, QueryFilter{TargetType: TargetTypeFile, TargetID: &fileID})
		require.NoError(t, err)
		assert.Len(t, entries, 4)
	})

	t.Run("no match", func(t *testing.T) {
		carol := int64(99)
		entries, err := logger.Query(ctx, QueryFilter{UserID: &carol})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestDBLogger_QueryCap(t *testing.T) {
	logger, _ := setupSqliteLogger(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < MaxQueryResults+10; i++ {
		entry := newEntry(ActionFileEdit, nil, true)
		entry.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, logger.Log(ctx, entry))
	}

	t.Run("default limit", func(t *testing.T) {
		entries, err := logger.Query(ctx, QueryFilter{})
		require.NoError(t, err)
		assert.Len(t, entries, MaxQueryResults)
	})

	t.Run("oversized limit is capped", func(t *testing.T) {
		entries, err := logger.Query(ctx, QueryFilter{Limit: MaxQueryResults * 2})
		require.NoError(t, err)
		assert.Len(t, entries, MaxQueryResults)
	})

	t.Run("explicit small limit", func(t *testing.T) {
		entries, err := logger.Query(ctx, QueryFilter{Limit: 7})
		require.NoError(t, err)
		assert.Len(t, entries, 7)
	})

	t.Run("offset pages past the cap", func(t *testing.T) {
		entries, err := logger.Query(ctx, QueryFilter{Offset: MaxQueryResults})
		require.NoError(t, err)
		assert.Len(t, entries, 10)
	})
}

func TestDBLogger_DeleteOlderThan(t *testing.T) {
	logger, _ := setupSqliteLogger(t)
	ctx := context.Background()

	cutoff := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	old := newEntry(ActionFileUpload, nil, true)
	old.Timestamp = cutoff.AddDate(0, 0, -30)
	require.NoError(t, logger.Log(ctx, old))

	recent := newEntry(ActionFileUpload, nil, true)
	recent.Timestamp = cutoff.AddDate(0, 0, 1)
	require.NoError(t, logger.Log(ctx, recent))

	deleted, err := logger.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := logger.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Timestamp.After(cutoff))
}
