package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), time.Second, "test_task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	ran := make(chan struct{})
	SafeGo(context.Background(), time.Second, "panicking_task", func(ctx context.Context) error {
		defer close(ran)
		panic("boom")
	})

	// The panic must not crash the test binary
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestSafeGo_EnforcesTimeout(t *testing.T) {
	expired := make(chan error, 1)
	SafeGo(context.Background(), 10*time.Millisecond, "slow_task", func(ctx context.Context) error {
		<-ctx.Done()
		expired <- ctx.Err()
		return nil
	})

	select {
	case err := <-expired:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestDetach(t *testing.T) {
	type key struct{}
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "kept"))
	detached := Detach(parent)
	cancel()

	require.Error(t, parent.Err())
	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())

	// Values survive the detach
	assert.Equal(t, "kept", detached.Value(key{}))
}

func TestBatch_BoundedConcurrency(t *testing.T) {
	var active, peak int32
	items := make([]int, 20)

	errs := Batch(context.Background(), items, 3, "bounded", time.Second, func(ctx context.Context, _ int) error {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	})

	assert.Empty(t, errs)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestBatch_CollectsErrors(t *testing.T) {
	items := []int{1, 2, 3, 4}
	wantErr := errors.New("odd item")

	errs := Batch(context.Background(), items, 2, "errors", time.Second, func(ctx context.Context, item int) error {
		if item%2 == 1 {
			return wantErr
		}
		return nil
	})

	assert.Len(t, errs, 2)
}

func TestBatch_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int32
	errs := Batch(ctx, make([]int, 50), 1, "cancelled", time.Second, func(ctx context.Context, _ int) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[len(errs)-1], context.Canceled)
}
