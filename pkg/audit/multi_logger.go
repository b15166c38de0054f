package audit

import (
	"context"
	"fmt"
	"time"
)

// MultiLogger fans entries out to multiple audit loggers. Queries are
// served by the first logger only.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes the entry to all configured loggers. A failing logger
// does not stop the others; the first error is returned.
func (m *MultiLogger) Log(ctx context.Context, entry *Entry) error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Query delegates to the primary (first) logger
func (m *MultiLogger) Query(ctx context.Context, filter QueryFilter) ([]*Entry, error) {
	if len(m.loggers) == 0 {
		return []*Entry{}, nil
	}
	return m.loggers[0].Query(ctx, filter)
}

// DeleteOlderThan applies retention to all loggers and returns the
// count from the primary
func (m *MultiLogger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var primary int64
	var firstErr error
	for i, logger := range m.loggers {
		deleted, err := logger.DeleteOlderThan(ctx, cutoff)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if i == 0 {
			primary = deleted
		}
	}
	return primary, firstErr
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close logger: %w", err)
		}
	}
	return firstErr
}
