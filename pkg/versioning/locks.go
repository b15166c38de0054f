package versioning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/filedepot/filedepot/pkg/storage/postgres"
)

// fileLocker serializes version-number assignment per file. Without
// it two concurrent creations can read the same max version number.
type fileLocker struct {
	mu    sync.Mutex
	locks map[int64]*fileLock
}

type fileLock struct {
	mu   sync.Mutex
	refs int
}

func newFileLocker() *fileLocker {
	return &fileLocker{locks: make(map[int64]*fileLock)}
}

// Lock acquires the per-file mutex. The returned function releases
// it.
func (l *fileLocker) Lock(fileID int64) func() {
	l.mu.Lock()
	fl, ok := l.locks[fileID]
	if !ok {
		fl = &fileLock{}
		l.locks[fileID] = fl
	}
	fl.refs++
	l.mu.Unlock()

	fl.mu.Lock()

	return func() {
		fl.mu.Unlock()

		l.mu.Lock()
		fl.refs--
		if fl.refs == 0 {
			delete(l.locks, fileID)
		}
		l.mu.Unlock()
	}
}

// distributedLocker extends per-file serialization across processes
// using Redis. When Redis is unavailable the in-process lock still
// holds for a single instance.
type distributedLocker struct {
	local *fileLocker
	redis *postgres.RedisClient
	ttl   time.Duration
}

func newDistributedLocker(redis *postgres.RedisClient) *distributedLocker {
	return &distributedLocker{
		local: newFileLocker(),
		redis: redis,
		ttl:   30 * time.Second,
	}
}

func (l *distributedLocker) Lock(ctx context.Context, fileID int64) (func(), error) {
	release := l.local.Lock(fileID)

	if l.redis == nil {
		return release, nil
	}

	key := fmt.Sprintf("version:%d", fileID)
	lock, err := l.redis.AcquireLock(ctx, key, l.ttl)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to acquire version lock for file %d: %w", fileID, err)
	}

	return func() {
		l.redis.ReleaseLock(context.Background(), lock)
		release()
	}, nil
}
