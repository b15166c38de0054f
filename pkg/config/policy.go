package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/filedepot/filedepot/pkg/observability"
)

// Policy holds the operator-tunable retention and quota settings. It
// overlays the built-in defaults and can be changed at runtime by
// rewriting the policy file.
type Policy struct {
	// VersionRetention is the number of versions kept per file
	VersionRetention int `yaml:"version_retention"`

	// TrashRetentionDays is how long trashed files survive before the
	// janitor removes them permanently
	TrashRetentionDays int `yaml:"trash_retention_days"`

	// AuditRetentionDays is how long audit entries are kept
	AuditRetentionDays int `yaml:"audit_retention_days"`

	// DefaultQuotaBytes is the quota assigned to new users. Zero means
	// unlimited.
	DefaultQuotaBytes int64 `yaml:"default_quota_bytes"`
}

// DefaultPolicy returns the built-in policy
func DefaultPolicy() Policy {
	return Policy{
		VersionRetention:   10,
		TrashRetentionDays: 30,
		AuditRetentionDays: 365,
		DefaultQuotaBytes:  0,
	}
}

// TrashRetention returns the trash window as a duration
func (p Policy) TrashRetention() time.Duration {
	return time.Duration(p.TrashRetentionDays) * 24 * time.Hour
}

// AuditRetention returns the audit window as a duration
func (p Policy) AuditRetention() time.Duration {
	return time.Duration(p.AuditRetentionDays) * 24 * time.Hour
}

func (p Policy) validate() error {
	if p.VersionRetention < 1 {
		return fmt.Errorf("version_retention must be at least 1, got %d", p.VersionRetention)
	}
	if p.TrashRetentionDays < 1 {
		return fmt.Errorf("trash_retention_days must be at least 1, got %d", p.TrashRetentionDays)
	}
	if p.AuditRetentionDays < 1 {
		return fmt.Errorf("audit_retention_days must be at least 1, got %d", p.AuditRetentionDays)
	}
	if p.DefaultQuotaBytes < 0 {
		return fmt.Errorf("default_quota_bytes must not be negative, got %d", p.DefaultQuotaBytes)
	}
	return nil
}

// PolicyWatcher serves the current policy and hot-reloads it when the
// policy file changes. A broken rewrite keeps the last good policy.
type PolicyWatcher struct {
	mu      sync.RWMutex
	policy  Policy
	path    string
	watcher *fsnotify.Watcher
	logger  *observability.Logger
	done    chan struct{}
}

// NewPolicyWatcher loads the policy file and starts watching it for
// changes. An empty path serves the built-in defaults with no watch.
func NewPolicyWatcher(path string, logger *observability.Logger) (*PolicyWatcher, error) {
	pw := &PolicyWatcher{
		policy: DefaultPolicy(),
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	if path == "" {
		return pw, nil
	}

	policy, err := loadPolicyFile(path)
	if err != nil {
		return nil, err
	}
	pw.policy = policy

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy watcher: %w", err)
	}
	// Watch the directory, not the file: editors and configmap updates
	// replace the file, which would drop a direct watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch policy directory: %w", err)
	}
	pw.watcher = watcher

	go pw.watch()
	return pw, nil
}

// Current returns the active policy
func (pw *PolicyWatcher) Current() Policy {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.policy
}

// VersionRetention returns the active per-file version retention
// count. Handed to the version manager as its retention function so
// policy changes apply without a restart.
func (pw *PolicyWatcher) VersionRetention() int {
	return pw.Current().VersionRetention
}

// Close stops watching the policy file
func (pw *PolicyWatcher) Close() error {
	close(pw.done)
	if pw.watcher != nil {
		return pw.watcher.Close()
	}
	return nil
}

func (pw *PolicyWatcher) watch() {
	for {
		select {
		case <-pw.done:
			return
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(pw.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pw.reload()
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			if pw.logger != nil {
				pw.logger.WithError(err).Warn("policy watcher error")
			}
		}
	}
}

func (pw *PolicyWatcher) reload() {
	policy, err := loadPolicyFile(pw.path)
	if err != nil {
		if pw.logger != nil {
			pw.logger.WithError(err).WithField("path", pw.path).Error("policy reload failed, keeping previous policy")
		}
		return
	}

	pw.mu.Lock()
	pw.policy = policy
	pw.mu.Unlock()

	if pw.logger != nil {
		pw.logger.WithFields(map[string]interface{}{
			"version_retention":    policy.VersionRetention,
			"trash_retention_days": policy.TrashRetentionDays,
			"audit_retention_days": policy.AuditRetentionDays,
		}).Info("policy reloaded")
	}
}

// loadPolicyFile reads and validates a policy file. Fields missing
// from the file keep their defaults.
func loadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := policy.validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return policy, nil
}
