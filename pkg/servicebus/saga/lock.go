package saga

import (
	"context"
	"fmt"
	"time"
)

// LockOptions bounds one lock acquisition.
type LockOptions struct {
	// Wait is how long Acquire keeps retrying before it gives up with a non-acquired lock.
	Wait time.Duration
	// TTL is how long the lock is held at most. The lock expires by itself if the holder dies.
	TTL time.Duration
	// RetryInterval is the pause between two acquisition attempts.
	RetryInterval time.Duration
}

// Lock is the result of one acquisition attempt.
type Lock interface {
	// Acquired reports whether the lock is held. A lock that timed out while waiting is returned
	// with Acquired() == false and no error.
	Acquired() bool
	// Release gives the lock back. It is safe to call more than once and on non-acquired locks.
	Release(ctx context.Context) error
}

// LockProvider acquires named, time bounded mutual exclusion locks.
//
// Acquire has three outcomes: an acquired lock, a non-acquired lock after the wait timeout,
// or an error (store failure or cancelled context). Nothing is held when an error is returned.
type LockProvider interface {
	Acquire(ctx context.Context, name string, opts LockOptions) (Lock, error)
}

// LockPolicy decides what happens when a lock could not be acquired within the wait timeout.
type LockPolicy string

const (
	// LockProceed runs the critical section without the lock.
	LockProceed LockPolicy = "proceed"
	// LockFailClosed fails with ErrLockNotAcquired.
	LockFailClosed LockPolicy = "fail"
)

// WithLock runs fn while holding the lock called name and releases the lock on every exit path,
// panics included. Release uses a context that outlives the cancellation of ctx.
//
// fn is not called when Acquire fails or when the lock was not acquired under LockFailClosed.
// Under LockProceed fn runs with acquired set to false. A failed release is reported as
// ErrLockRelease unless fn failed, in which case the error of fn is returned.
func WithLock(ctx context.Context, locks LockProvider, name string, opts LockOptions, policy LockPolicy,
	fn func(ctx context.Context, acquired bool) error) (err error) {
	lock, err := locks.Acquire(ctx, name, opts)
	if err != nil {
		return fmt.Errorf("failed to acquire saga lock %s: %w", name, err)
	}
	defer func() {
		if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil && err == nil {
			err = fmt.Errorf("%w %s: %w", ErrLockRelease, name, relErr)
		}
	}()

	if !lock.Acquired() && policy == LockFailClosed {
		return ErrLockNotAcquired
	}
	return fn(ctx, lock.Acquired())
}
