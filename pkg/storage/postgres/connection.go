// Package postgres manages the PostgreSQL connections shared by the
// metadata stores.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/filedepot/filedepot/pkg/storage"
)

// ConnectionManager manages PostgreSQL primary and read replica connections
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*sql.DB
	current  uint32 // Atomic counter for round-robin selection
	mu       sync.RWMutex
	config   storage.Config
}

// NewConnectionManager creates a new connection manager with primary and replicas
func NewConnectionManager(config storage.Config) (*ConnectionManager, error) {
	cm := &ConnectionManager{
		config:   config,
		replicas: make([]*sql.DB, 0),
	}

	primary, err := sql.Open("postgres", config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary connection: %w", err)
	}

	primary.SetMaxOpenConns(config.PostgresMaxConns)
	primary.SetMaxIdleConns(config.PostgresMinConns)
	primary.SetConnMaxLifetime(config.PostgresMaxLifetime)
	primary.SetConnMaxIdleTime(config.PostgresMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.PostgresTimeout)
	defer cancel()

	if err := primary.PingContext(ctx); err != nil {
		primary.Close()
		return nil, fmt.Errorf("failed to ping primary: %w", err)
	}

	cm.primary = primary

	// Replicas are optional; a replica that fails to connect is skipped.
	for i, replicaURL := range config.PostgresReplicaURLs {
		replica, err := sql.Open("postgres", replicaURL)
		if err != nil {
			log.Printf("warning: failed to open replica %d: %v", i, err)
			continue
		}

		replicaMaxConns := config.PostgresMaxConns / 2
		if replicaMaxConns < 2 {
			replicaMaxConns = 2
		}
		replica.SetMaxOpenConns(replicaMaxConns)
		replica.SetMaxIdleConns(config.PostgresMinConns)
		replica.SetConnMaxLifetime(config.PostgresMaxLifetime)
		replica.SetConnMaxIdleTime(config.PostgresMaxIdleTime)

		pingCtx, pingCancel := context.WithTimeout(context.Background(), config.PostgresTimeout)
		err = replica.PingContext(pingCtx)
		pingCancel()

		if err != nil {
			log.Printf("warning: failed to ping replica %d: %v", i, err)
			replica.Close()
			continue
		}

		cm.replicas = append(cm.replicas, replica)
	}

	return cm, nil
}

// Primary returns the primary database connection (for writes)
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read replica using round-robin selection.
// Falls back to primary if no replicas are available.
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	replicaCount := len(cm.replicas)
	cm.mu.RUnlock()

	if replicaCount == 0 {
		return cm.primary
	}

	idx := atomic.AddUint32(&cm.current, 1) % uint32(replicaCount)
	cm.mu.RLock()
	replica := cm.replicas[idx]
	cm.mu.RUnlock()
	return replica
}

// Stats reports pool statistics for the primary connection
func (cm *ConnectionManager) Stats() sql.DBStats {
	return cm.primary.Stats()
}

// HealthCheck pings the primary and all replicas
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := cm.primary.PingContext(checkCtx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for i, replica := range cm.replicas {
		if err := replica.PingContext(checkCtx); err != nil {
			return fmt.Errorf("replica %d unhealthy: %w", i, err)
		}
	}
	return nil
}

// Close closes the primary and all replica connections
func (cm *ConnectionManager) Close() error {
	var firstErr error
	if err := cm.primary.Close(); err != nil {
		firstErr = err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, replica := range cm.replicas {
		if err := replica.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
