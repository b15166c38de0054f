package audit

import (
	"context"
	"time"
)

// Logger is the interface for audit log backends
type Logger interface {
	// Log appends a single entry
	Log(ctx context.Context, entry *Entry) error

	// Query returns entries matching the filter, newest first. The
	// result set is capped at MaxQueryResults regardless of the
	// requested limit.
	Query(ctx context.Context, filter QueryFilter) ([]*Entry, error)

	// DeleteOlderThan removes entries with a timestamp before the
	// cutoff and returns how many were deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Close flushes and releases any resources held by the logger
	Close() error
}

// noOpLogger discards everything (used when no logger is configured)
type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, entry *Entry) error { return nil }

func (l *noOpLogger) Query(ctx context.Context, filter QueryFilter) ([]*Entry, error) {
	return []*Entry{}, nil
}

func (l *noOpLogger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (l *noOpLogger) Close() error { return nil }

// NewNoopLogger returns a Logger that discards all entries
func NewNoopLogger() Logger { return &noOpLogger{} }

// newEntry builds an entry with the common fields populated
func newEntry(action Action, userID *int64, success bool) *Entry {
	return &Entry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Success:   success,
		UserID:    userID,
		Metadata:  make(map[string]interface{}),
	}
}
