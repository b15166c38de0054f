package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(255) NOT NULL,
					quota_bytes BIGINT NOT NULL DEFAULT 0,
					used_bytes BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_users_username ON users(username);
			`,
		},
		{
			Version:     2,
			Description: "Create groups and group_members tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS groups (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL
				);

				CREATE TABLE IF NOT EXISTS group_members (
					id BIGSERIAL PRIMARY KEY,
					group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					added_at TIMESTAMP NOT NULL DEFAULT NOW(),
					added_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					UNIQUE(group_id, user_id)
				);

				CREATE INDEX idx_group_members_group_id ON group_members(group_id);
				CREATE INDEX idx_group_members_user_id ON group_members(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Create folders table",
			SQL: `
				CREATE TABLE IF NOT EXISTS folders (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					parent_folder_id BIGINT REFERENCES folders(id) ON DELETE RESTRICT,
					storage_path TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					UNIQUE(parent_folder_id, name)
				);

				CREATE INDEX idx_folders_parent_folder_id ON folders(parent_folder_id);
			`,
		},
		{
			Version:     4,
			Description: "Create files table",
			SQL: `
				CREATE TABLE IF NOT EXISTS files (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					folder_id BIGINT NOT NULL REFERENCES folders(id) ON DELETE RESTRICT,
					storage_path TEXT NOT NULL,
					content_type VARCHAR(255),
					size_bytes BIGINT NOT NULL DEFAULT 0,
					current_version_id BIGINT,
					is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
					deleted_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					UNIQUE(folder_id, name)
				);

				CREATE INDEX idx_files_folder_id ON files(folder_id);
				CREATE INDEX idx_files_is_deleted ON files(is_deleted);
				CREATE INDEX idx_files_deleted_at ON files(deleted_at);
			`,
		},
		{
			Version:     5,
			Description: "Create file_versions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS file_versions (
					id BIGSERIAL PRIMARY KEY,
					file_id BIGINT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
					version_number INTEGER NOT NULL,
					is_current_version BOOLEAN NOT NULL DEFAULT FALSE,
					archive_path TEXT NOT NULL,
					size_bytes BIGINT NOT NULL DEFAULT 0,
					comment TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					UNIQUE(file_id, version_number)
				);

				CREATE INDEX idx_file_versions_file_id ON file_versions(file_id);
				CREATE INDEX idx_file_versions_is_current ON file_versions(file_id, is_current_version);
			`,
		},
		{
			Version:     6,
			Description: "Create access_rules table",
			SQL: `
				CREATE TABLE IF NOT EXISTS access_rules (
					id BIGSERIAL PRIMARY KEY,
					file_id BIGINT REFERENCES files(id) ON DELETE RESTRICT,
					folder_id BIGINT REFERENCES folders(id) ON DELETE RESTRICT,
					user_id BIGINT REFERENCES users(id) ON DELETE RESTRICT,
					group_id BIGINT REFERENCES groups(id) ON DELETE RESTRICT,
					access BIGINT NOT NULL DEFAULT 0,
					inherit_from_parent BOOLEAN NOT NULL DEFAULT FALSE,
					granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CHECK (NOT (file_id IS NOT NULL AND folder_id IS NOT NULL)),
					CHECK ((user_id IS NULL) != (group_id IS NULL))
				);

				CREATE INDEX idx_access_rules_file_id ON access_rules(file_id);
				CREATE INDEX idx_access_rules_folder_id ON access_rules(folder_id);
				CREATE INDEX idx_access_rules_user_id ON access_rules(user_id);
				CREATE INDEX idx_access_rules_group_id ON access_rules(group_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
