package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/pkg/storage"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(storage.Config{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisClient_SetGet(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "edit-link:42", "https://example.test/edit", time.Minute))

	got, err := client.Get(ctx, "edit-link:42")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/edit", got)

	// Missing keys are not an error
	got, err = client.Get(ctx, "edit-link:404")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisClient_LockExcludes(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()

	lock, err := client.AcquireLock(ctx, "version:7", time.Minute)
	require.NoError(t, err)

	// A second holder times out while the lock is held
	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = client.AcquireLock(shortCtx, "version:7", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, client.ReleaseLock(ctx, lock))

	// Released locks can be taken again
	again, err := client.AcquireLock(ctx, "version:7", time.Minute)
	require.NoError(t, err)
	require.NoError(t, client.ReleaseLock(ctx, again))
}

func TestRedisClient_ReleaseExpiredLock(t *testing.T) {
	client, mr := newTestRedis(t)
	ctx := context.Background()

	lock, err := client.AcquireLock(ctx, "version:9", 50*time.Millisecond)
	require.NoError(t, err)

	// TTL elapses and another instance takes the lock over
	mr.FastForward(time.Second)
	takeover, err := client.AcquireLock(ctx, "version:9", time.Minute)
	require.NoError(t, err)

	// Releasing the stale lock must not free the new holder's lock
	require.NoError(t, client.ReleaseLock(ctx, lock))
	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = client.AcquireLock(shortCtx, "version:9", time.Minute)
	assert.Error(t, err)

	require.NoError(t, client.ReleaseLock(ctx, takeover))
	require.NoError(t, client.ReleaseLock(ctx, nil))
}
