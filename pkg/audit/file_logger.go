package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileLogger implements audit logging to newline-delimited JSON files
type FileLogger struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	nextID   int64
	rotate   bool
	maxSize  int64
	maxFiles int
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	BasePath string // Base directory for audit logs
	Rotate   bool   // Enable log rotation
	MaxSize  int64  // Max file size in bytes (default: 100MB)
	MaxFiles int    // Max number of rotated files to keep (default: 10)
}

// DefaultFileLoggerConfig returns default configuration
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		BasePath: "/var/log/filedepot/audit",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// NewFileLogger creates a new file-based audit logger
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	logger := &FileLogger{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		nextID:   1,
	}

	if logger.maxSize == 0 {
		logger.maxSize = 100 * 1024 * 1024
	}
	if logger.maxFiles == 0 {
		logger.maxFiles = 10
	}

	if err := logger.openLogFile(); err != nil {
		return nil, err
	}

	return logger, nil
}

// openLogFile opens or creates the current log file
func (l *FileLogger) openLogFile() error {
	filename := filepath.Join(l.basePath, "audit.log")

	if l.rotate {
		if info, err := os.Stat(filename); err == nil && info.Size() >= l.maxSize {
			if err := l.rotateFile(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}

	l.file = file
	l.encoder = json.NewEncoder(file)

	return nil
}

// rotateFile renames the current log file and starts a fresh one
func (l *FileLogger) rotateFile() error {
	currentFile := filepath.Join(l.basePath, "audit.log")

	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	timestamp := time.Now().Format("2006-01-02-15-04-05")
	rotatedFile := filepath.Join(l.basePath, fmt.Sprintf("audit-%s.log", timestamp))

	if err := os.Rename(currentFile, rotatedFile); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if err := l.cleanupOldFiles(); err != nil {
		// Log but don't fail on cleanup errors
		fmt.Fprintf(os.Stderr, "failed to cleanup old audit logs: %v\n", err)
	}

	return nil
}

// cleanupOldFiles removes rotated files beyond maxFiles, oldest first
func (l *FileLogger) cleanupOldFiles() error {
	pattern := filepath.Join(l.basePath, "audit-*.log")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	if len(files) <= l.maxFiles {
		return nil
	}

	// Rotated names sort chronologically
	sort.Strings(files)

	for _, f := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("failed to remove %s: %w", f, err)
		}
	}

	return nil
}

// Log appends an entry as a JSON line
func (l *FileLogger) Log(ctx context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log file is closed")
	}

	if entry.ID == 0 {
		entry.ID = l.nextID
		l.nextID++
	}

	if err := l.encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	if l.rotate {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
			if err := l.rotateFile(); err != nil {
				return err
			}
			if err := l.openLogFile(); err != nil {
				return err
			}
		}
	}

	return nil
}

// Query scans the current log file for matching entries, newest first.
// Rotated files are not searched; the database logger is the query
// backend of record.
func (l *FileLogger) Query(ctx context.Context, filter QueryFilter) ([]*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	filename := filepath.Join(l.basePath, "audit.log")
	f, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Entry{}, nil
		}
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer f.Close()

	matched := make([]*Entry, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry, err := FromJSON(scanner.Bytes())
		if err != nil {
			continue // skip malformed lines
		}
		if matchesFilter(entry, filter) {
			matched = append(matched, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan audit log file: %w", err)
	}

	// Newest first
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*Entry{}, nil
		}
		matched = matched[filter.Offset:]
	}

	limit := filter.Limit
	if limit <= 0 || limit > MaxQueryResults {
		limit = MaxQueryResults
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

func matchesFilter(entry *Entry, filter QueryFilter) bool {
	if filter.StartTime != nil && entry.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && entry.Timestamp.After(*filter.EndTime) {
		return false
	}
	if filter.UserID != nil && (entry.UserID == nil || *entry.UserID != *filter.UserID) {
		return false
	}
	if filter.Action != "" && entry.Action != filter.Action {
		return false
	}
	if filter.TargetType != "" && entry.TargetType != filter.TargetType {
		return false
	}
	if filter.TargetID != nil && (entry.TargetID == nil || *entry.TargetID != *filter.TargetID) {
		return false
	}
	if filter.Success != nil && entry.Success != *filter.Success {
		return false
	}
	return true
}

// DeleteOlderThan rewrites the current log file without entries older
// than the cutoff
func (l *FileLogger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	filename := filepath.Join(l.basePath, "audit.log")
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read audit log file: %w", err)
	}

	tmpName := filename + ".tmp"
	tmp, err := os.OpenFile(tmpName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp audit log file: %w", err)
	}

	var deleted int64
	encoder := json.NewEncoder(tmp)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry, err := FromJSON(scanner.Bytes())
		if err != nil {
			continue
		}
		if entry.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		if err := encoder.Encode(entry); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return 0, fmt.Errorf("failed to rewrite audit entry: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to close temp audit log file: %w", err)
	}

	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return 0, fmt.Errorf("failed to replace audit log file: %w", err)
	}
	if err := l.openLogFile(); err != nil {
		return 0, err
	}

	return deleted, nil
}

// Close closes the log file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
