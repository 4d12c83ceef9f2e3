package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastLock = saga.LockOptions{Wait: 50 * time.Millisecond, TTL: time.Minute, RetryInterval: 5 * time.Millisecond}

func TestLockProvider_AcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	locks := memory.NewLockProvider()

	first, err := locks.Acquire(ctx, "lock:a", fastLock)
	require.NoError(t, err)
	assert.True(t, first.Acquired())
	assert.True(t, locks.Held("lock:a"))

	second, err := locks.Acquire(ctx, "lock:a", fastLock)
	require.NoError(t, err)
	assert.False(t, second.Acquired())
	assert.NoError(t, second.Release(ctx))
	assert.True(t, locks.Held("lock:a"), "releasing a lock that was never acquired keeps the holder")

	other, err := locks.Acquire(ctx, "lock:b", fastLock)
	require.NoError(t, err)
	assert.True(t, other.Acquired())

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx))
	assert.False(t, locks.Held("lock:a"))

	third, err := locks.Acquire(ctx, "lock:a", fastLock)
	require.NoError(t, err)
	assert.True(t, third.Acquired())
}

func TestLockProvider_WaitsForRelease(t *testing.T) {
	ctx := context.Background()
	locks := memory.NewLockProvider()

	held, err := locks.Acquire(ctx, "lock:a", fastLock)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = held.Release(ctx)
	}()

	next, err := locks.Acquire(ctx, "lock:a", saga.LockOptions{Wait: time.Second, TTL: time.Minute, RetryInterval: time.Millisecond})
	require.NoError(t, err)
	assert.True(t, next.Acquired())
}

func TestLockProvider_ExpiredLockIsTakenOver(t *testing.T) {
	ctx := context.Background()
	locks := memory.NewLockProvider()

	stale, err := locks.Acquire(ctx, "lock:a", saga.LockOptions{Wait: time.Second, TTL: 10 * time.Millisecond, RetryInterval: time.Millisecond})
	require.NoError(t, err)
	require.True(t, stale.Acquired())

	next, err := locks.Acquire(ctx, "lock:a", saga.LockOptions{Wait: time.Second, TTL: time.Minute, RetryInterval: time.Millisecond})
	require.NoError(t, err)
	assert.True(t, next.Acquired())

	// the stale holder cannot release the new holder's lock
	require.NoError(t, stale.Release(ctx))
	assert.True(t, locks.Held("lock:a"))
}

func TestLockProvider_CancelledWait(t *testing.T) {
	locks := memory.NewLockProvider()
	_, err := locks.Acquire(context.Background(), "lock:a", fastLock)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	lock, err := locks.Acquire(ctx, "lock:a", saga.LockOptions{Wait: time.Minute, TTL: time.Minute, RetryInterval: time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, lock)
}
