package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBLogger implements audit logging to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_log table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_log table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		action VARCHAR(100) NOT NULL,
		success BOOLEAN NOT NULL,
		user_id BIGINT,
		username VARCHAR(255),
		target_type VARCHAR(50),
		target_id BIGINT,
		target_name VARCHAR(255),
		ip_address VARCHAR(45),
		request_id VARCHAR(100),
		message TEXT,
		metadata JSONB,
		error_message TEXT,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	-- Create indexes for common query patterns
	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
	CREATE INDEX IF NOT EXISTS idx_audit_log_user_id ON audit_log(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_target ON audit_log(target_type, target_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log appends an entry to the audit_log table
func (l *DBLogger) Log(ctx context.Context, entry *Entry) error {
	var metadataJSON []byte
	var err error

	if len(entry.Metadata) > 0 {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_log (
			timestamp, action, success,
			user_id, username,
			target_type, target_id, target_name,
			ip_address, request_id,
			message, metadata, error_message
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8,
			$9, $10,
			$11, $12, $13
		) RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		entry.Timestamp, entry.Action, entry.Success,
		entry.UserID, entry.Username,
		entry.TargetType, entry.TargetID, entry.TargetName,
		entry.IPAddress, entry.RequestID,
		entry.Message, metadataJSON, entry.ErrorMessage,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// Query returns entries matching the filter, newest first, capped at
// MaxQueryResults
func (l *DBLogger) Query(ctx context.Context, filter QueryFilter) ([]*Entry, error) {
	query := `
		SELECT
			id, timestamp, action, success,
			user_id, username,
			target_type, target_id, target_name,
			ip_address, request_id,
			message, metadata, error_message
		FROM audit_log
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, string(filter.Action))
		argCount++
	}

	if filter.TargetType != "" {
		query += fmt.Sprintf(" AND target_type = $%d", argCount)
		args = append(args, string(filter.TargetType))
		argCount++
	}

	if filter.TargetID != nil {
		query += fmt.Sprintf(" AND target_id = $%d", argCount)
		args = append(args, *filter.TargetID)
		argCount++
	}

	if filter.Success != nil {
		query += fmt.Sprintf(" AND success = $%d", argCount)
		args = append(args, *filter.Success)
		argCount++
	}

	query += " ORDER BY timestamp DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 || limit > MaxQueryResults {
		limit = MaxQueryResults
	}
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)
	argCount++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry := &Entry{}

		var username, targetType, targetName, ipAddress, requestID, message, errorMessage sql.NullString
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.Action, &entry.Success,
			&entry.UserID, &username,
			&targetType, &entry.TargetID, &targetName,
			&ipAddress, &requestID,
			&message, &metadataJSON, &errorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.Username = username.String
		entry.TargetType = TargetType(targetType.String)
		entry.TargetName = targetName.String
		entry.IPAddress = ipAddress.String
		entry.RequestID = requestID.String
		entry.Message = message.String
		entry.ErrorMessage = errorMessage.String

		if len(metadataJSON) > 0 {
			entry.Metadata = make(map[string]interface{})
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// DeleteOlderThan removes entries older than the cutoff
func (l *DBLogger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit entries: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted audit entries: %w", err)
	}

	return deleted, nil
}

// Close closes the database logger. The underlying connection may be
// shared, so it is left open.
func (l *DBLogger) Close() error {
	return nil
}
