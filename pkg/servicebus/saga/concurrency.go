package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// concurrency is the commit discipline of a repository.
type concurrency[T Saga] interface {
	// guard runs fn as the critical section of one saga instance.
	guard(ctx context.Context, correlationID uuid.UUID, fn func(ctx context.Context) error) error
	// update writes back a mutated instance and increments its version.
	update(ctx context.Context, instance T) error
	// remove deletes a completed instance.
	remove(ctx context.Context, instance T) error
}

type optimistic[T Saga] struct {
	store    Store[T]
	sagaType string
	metrics  *Metrics
}

func (o *optimistic[T]) guard(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// update increments the version and writes the instance only if no commit with an equal or higher
// version landed since the instance was read. Stores implementing VersionedStore do the check
// atomically, others get a read followed by a conditional write.
func (o *optimistic[T]) update(ctx context.Context, instance T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	correlationID := instance.GetCorrelationID()
	previous := instance.GetVersion()
	instance.SetVersion(previous + 1)

	var err error
	if versioned, ok := o.store.(VersionedStore[T]); ok {
		err = versioned.Replace(ctx, correlationID, instance, previous)
	} else {
		err = o.checkAndPut(ctx, correlationID, instance)
	}
	if err == nil {
		return nil
	}

	instance.SetVersion(previous)
	if errors.Is(err, ErrNotFound) {
		err = fmt.Errorf("%w: saga %s was removed", ErrVersionConflict, correlationID)
	}
	if errors.Is(err, ErrVersionConflict) {
		o.metrics.conflict(o.sagaType)
	}
	return err
}

func (o *optimistic[T]) checkAndPut(ctx context.Context, correlationID uuid.UUID, instance T) error {
	stored, err := o.store.Get(ctx, correlationID)
	if err != nil {
		return err
	}
	if stored.GetVersion() >= instance.GetVersion() {
		return fmt.Errorf("%w: saga %s stored version %d, commit version %d",
			ErrVersionConflict, correlationID, stored.GetVersion(), instance.GetVersion())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.store.Put(ctx, correlationID, instance)
}

func (o *optimistic[T]) remove(ctx context.Context, instance T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.store.Delete(ctx, instance.GetCorrelationID())
}

type pessimistic[T Saga] struct {
	store    Store[T]
	locks    LockProvider
	prefix   string
	opts     LockOptions
	policy   LockPolicy
	sagaType string
	logger   *zap.Logger
	metrics  *Metrics
}

// guard holds the instance lock for the duration of fn and releases it on every exit path.
func (p *pessimistic[T]) guard(ctx context.Context, correlationID uuid.UUID, fn func(ctx context.Context) error) error {
	name := LockName(p.prefix, correlationID)
	started := time.Now()
	entered := false

	err := WithLock(ctx, p.locks, name, p.opts, p.policy, func(ctx context.Context, acquired bool) error {
		entered = true
		if !acquired {
			p.metrics.lock(p.sagaType, "not_acquired", time.Since(started))
			p.logger.Warn("saga lock not acquired, proceeding without it",
				zap.String("lock", name),
				zap.Duration("waited", time.Since(started)))
			return fn(ctx)
		}

		p.metrics.lock(p.sagaType, "acquired", time.Since(started))
		p.logger.Debug("entering saga lock", zap.String("lock", name))
		defer p.logger.Debug("leaving saga lock", zap.String("lock", name))
		return fn(ctx)
	})

	switch {
	case errors.Is(err, ErrLockRelease):
		p.logger.Warn("failed to release saga lock", zap.String("lock", name), zap.Error(err))
		return nil
	case entered:
		return err
	case errors.Is(err, ErrLockNotAcquired):
		p.metrics.lock(p.sagaType, "not_acquired", time.Since(started))
	case err != nil:
		p.metrics.lock(p.sagaType, "error", time.Since(started))
	}
	return err
}

func (p *pessimistic[T]) update(ctx context.Context, instance T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	previous := instance.GetVersion()
	instance.SetVersion(previous + 1)
	if err := p.store.Put(ctx, instance.GetCorrelationID(), instance); err != nil {
		instance.SetVersion(previous)
		return err
	}
	return nil
}

func (p *pessimistic[T]) remove(ctx context.Context, instance T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.store.Delete(ctx, instance.GetCorrelationID())
}
