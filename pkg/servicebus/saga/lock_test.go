package saga_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lockOptions = saga.LockOptions{Wait: 20 * time.Millisecond, TTL: time.Minute, RetryInterval: time.Millisecond}

// stuckLocks hands out acquired locks that cannot be released.
type stuckLocks struct {
	releases int
}

func (s *stuckLocks) Acquire(context.Context, string, saga.LockOptions) (saga.Lock, error) {
	return stuckLock{s}, nil
}

type stuckLock struct {
	locks *stuckLocks
}

func (l stuckLock) Acquired() bool { return true }

func (l stuckLock) Release(context.Context) error {
	l.locks.releases++
	return errors.New("connection reset")
}

func TestWithLock_ReleasesOnEveryExit(t *testing.T) {
	ctx := context.Background()
	locks := memory.NewLockProvider()
	name := saga.LockName("orders:", uuid.New())
	boom := errors.New("boom")

	t.Run("success", func(t *testing.T) {
		var held bool
		err := saga.WithLock(ctx, locks, name, lockOptions, saga.LockFailClosed, func(ctx context.Context, acquired bool) error {
			assert.True(t, acquired)
			held = locks.Held(name)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, held)
		assert.False(t, locks.Held(name))
	})

	t.Run("error", func(t *testing.T) {
		err := saga.WithLock(ctx, locks, name, lockOptions, saga.LockFailClosed, func(context.Context, bool) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, locks.Held(name))
	})

	t.Run("panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = saga.WithLock(ctx, locks, name, lockOptions, saga.LockFailClosed, func(context.Context, bool) error {
				panic("handler bug")
			})
		})
		assert.False(t, locks.Held(name))
	})

	t.Run("cancelled inside", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		err := saga.WithLock(ctx, locks, name, lockOptions, saga.LockFailClosed, func(ctx context.Context, _ bool) error {
			cancel()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, locks.Held(name))
	})
}

func TestWithLock_NotAcquired(t *testing.T) {
	ctx := context.Background()
	locks := memory.NewLockProvider()
	name := saga.LockName("", uuid.New())
	held, err := locks.Acquire(ctx, name, lockOptions)
	require.NoError(t, err)
	require.True(t, held.Acquired())
	defer held.Release(ctx)

	t.Run("fail closed", func(t *testing.T) {
		called := false
		err := saga.WithLock(ctx, locks, name, lockOptions, saga.LockFailClosed, func(context.Context, bool) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, saga.ErrLockNotAcquired)
		assert.False(t, called)
	})

	t.Run("proceed", func(t *testing.T) {
		var got *bool
		err := saga.WithLock(ctx, locks, name, lockOptions, saga.LockProceed, func(_ context.Context, acquired bool) error {
			got = &acquired
			return nil
		})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.False(t, *got)
	})

	// the lock of the other holder survives both
	assert.True(t, locks.Held(name))
}

func TestWithLock_AcquireFailure(t *testing.T) {
	locks := memory.NewLockProvider()
	name := saga.LockName("", uuid.New())
	held, err := locks.Acquire(context.Background(), name, lockOptions)
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	called := false
	err = saga.WithLock(ctx, locks, name, saga.LockOptions{Wait: time.Second, TTL: time.Minute, RetryInterval: time.Millisecond},
		saga.LockProceed, func(context.Context, bool) error {
			called = true
			return nil
		})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
}

func TestWithLock_ReleaseFailure(t *testing.T) {
	ctx := context.Background()
	locks := &stuckLocks{}

	err := saga.WithLock(ctx, locks, "stuck", lockOptions, saga.LockFailClosed, func(context.Context, bool) error {
		return nil
	})
	assert.ErrorIs(t, err, saga.ErrLockRelease)

	boom := errors.New("boom")
	err = saga.WithLock(ctx, locks, "stuck", lockOptions, saga.LockFailClosed, func(context.Context, bool) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, saga.ErrLockRelease)
	assert.Equal(t, 2, locks.releases)
}

func TestSend_PessimisticReleaseFailureDoesNotFailMessage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore[*OrderSaga]()
	locks := &stuckLocks{}
	repo, err := saga.NewRepository[*OrderSaga](store, saga.UsePessimisticConcurrency(locks))
	require.NoError(t, err)

	id := uuid.New()
	seed(t, store, id, 1)
	require.NoError(t, repo.Send(ctx, saga.NewMessage("OrderPaid", id), saga.NewSagaPolicy(newOrder, false), setState("paid")))

	stored, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "paid", stored.State)
	assert.Equal(t, 2, stored.Version)
	assert.Equal(t, 1, locks.releases)
}
