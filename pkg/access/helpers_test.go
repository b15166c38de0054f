package access

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for testing
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
			username TEXT NOT NULL UNIQUE
		);

		CREATE TABLE groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);

		CREATE TABLE group_members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id INTEGER NOT NULL REFERENCES groups(id),
			user_id INTEGER NOT NULL REFERENCES users(id),
			UNIQUE(group_id, user_id)
		);

		CREATE TABLE folders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			parent_folder_id INTEGER REFERENCES folders(id),
			storage_path TEXT NOT NULL DEFAULT '',
			UNIQUE(parent_folder_id, name)
		);

		CREATE TABLE files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			folder_id INTEGER NOT NULL REFERENCES folders(id),
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE(folder_id, name)
		);

		CREATE TABLE access_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id INTEGER REFERENCES files(id),
			folder_id INTEGER REFERENCES folders(id),
			user_id INTEGER REFERENCES users(id),
			group_id INTEGER REFERENCES groups(id),
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

func createUser(t *testing.T, db *sql.DB, username string) int64 {
	t.Helper()
	result, err := db.Exec("INSERT INTO users (username) VALUES (?)", username)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

func createGroup(t *testing.T, db *sql.DB, name string, memberIDs ...int64) int64 {
	t.Helper()
	result, err := db.Exec("INSERT INTO groups (name) VALUES (?)", name)
	require.NoError(t, err)
	groupID, err := result.LastInsertId()
	require.NoError(t, err)
	for _, userID := range memberIDs {
		_, err := db.Exec("INSERT INTO group_members (group_id, user_id) VALUES (?, ?)", groupID, userID)
		require.NoError(t, err)
	}
	return groupID
}

func createFolder(t *testing.T, db *sql.DB, name string, parentID *int64) int64 {
	t.Helper()
	result, err := db.Exec("INSERT INTO folders (name, parent_folder_id) VALUES (?, ?)", name, parentID)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

func createFile(t *testing.T, db *sql.DB, name string, folderID int64) int64 {
	t.Helper()
	result, err := db.Exec("INSERT INTO files (name, folder_id) VALUES (?, ?)", name, folderID)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

func ptr(v int64) *int64 { return &v }
