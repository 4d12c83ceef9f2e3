package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"

// Repository stores saga instances of type T and applies messages to them.
// It is safe for concurrent use; all coordination between consumers goes through the store
// and, in pessimistic mode, the lock provider.
type Repository[T Saga] struct {
	store    Store[T]
	sagaType string
	options  Options
	strategy concurrency[T]
	logger   *zap.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// NewRepository creates a repository on top of store. It defaults to optimistic concurrency;
// pessimistic mode requires a lock provider.
func NewRepository[T Saga](store Store[T], opts ...Option) (*Repository[T], error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidOptions)
	}

	s := &settings{options: DefaultOptions()}
	for _, opt := range opts {
		opt(s)
	}
	s.options.ApplyDefaults()
	if err := s.options.Validate(); err != nil {
		return nil, err
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.sagaType == "" {
		s.sagaType = TypeName[T]()
	}

	r := &Repository[T]{
		store:    store,
		sagaType: s.sagaType,
		options:  s.options,
		logger:   s.logger.With(zap.String("saga", s.sagaType)),
		metrics:  s.metrics,
		tracer:   otel.Tracer(tracerName),
	}

	switch s.options.ConcurrencyMode {
	case Pessimistic:
		if s.locks == nil {
			return nil, fmt.Errorf("%w: pessimistic concurrency requires a lock provider", ErrInvalidOptions)
		}
		r.strategy = &pessimistic[T]{
			store:    store,
			locks:    s.locks,
			prefix:   s.options.KeyPrefix,
			opts:     s.options.lockOptions(),
			policy:   s.options.LockPolicy,
			sagaType: s.sagaType,
			logger:   r.logger,
			metrics:  s.metrics,
		}
	default:
		r.strategy = &optimistic[T]{
			store:    store,
			sagaType: s.sagaType,
			metrics:  s.metrics,
		}
	}
	return r, nil
}

// SagaType returns the saga type name used in errors, logs and metrics.
func (r *Repository[T]) SagaType() string {
	return r.sagaType
}

func (r *Repository[T]) Mode() ConcurrencyMode {
	return r.options.ConcurrencyMode
}

// Send applies message to the saga instance it is correlated with.
//
// An existing instance is sent through policy.Existing and committed by the concurrency strategy:
// deleted when the pipe marked it completed, written back with an incremented version otherwise.
// Without an instance, policy.Missing decides whether a new one is created. Errors carry the saga
// and message context as *Error; optimistic conflicts match ErrVersionConflict. Repository errors
// returned by the pipe itself, such as ErrVersionConflict or ErrDuplicate, are returned unchanged.
func (r *Repository[T]) Send(ctx context.Context, message ConsumeContext, policy Policy[T], next Pipe[T]) (err error) {
	messageType := message.MessageType()
	correlationID, ok := message.CorrelationID()
	if !ok || correlationID == uuid.Nil {
		return &Error{SagaType: r.sagaType, MessageType: messageType, Err: ErrMissingCorrelationID}
	}

	ctx, span := r.tracer.Start(ctx, "saga.Send", trace.WithAttributes(
		attribute.String("saga.type", r.sagaType),
		attribute.String("saga.correlation_id", correlationID.String()),
		attribute.String("saga.concurrency_mode", string(r.options.ConcurrencyMode)),
		attribute.String("messaging.message.type", messageType),
	))
	defer func() {
		endSpan(span, err)
	}()

	if instance, ok := policy.PreInsertInstance(message); ok && !isNil(instance) {
		if err := r.preInsert(ctx, correlationID, messageType, instance); err != nil {
			r.metrics.send(r.sagaType, r.options.ConcurrencyMode, outcomeFailed)
			return wrap(err, r.sagaType, messageType, correlationID)
		}
	}

	err = r.strategy.guard(ctx, correlationID, func(ctx context.Context) error {
		instance, err := r.store.Get(ctx, correlationID)
		if errors.Is(err, ErrNotFound) {
			var raced bool
			raced, err = r.sendMissing(ctx, correlationID, message, policy, next)
			if !raced {
				return err
			}
			instance, err = r.store.Get(ctx, correlationID)
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: saga %s was created and removed concurrently", ErrVersionConflict, correlationID)
			}
		}
		if err != nil {
			return err
		}
		return r.sendToInstance(ctx, message, policy, next, instance)
	})
	if err != nil {
		r.metrics.send(r.sagaType, r.options.ConcurrencyMode, outcomeFailed)
		return wrap(err, r.sagaType, messageType, correlationID)
	}
	return nil
}

// SendQuery always fails: instances are addressed by correlation id only and the store cannot
// evaluate predicates.
func (r *Repository[T]) SendQuery(_ context.Context, message ConsumeContext, _ Query[T], _ Policy[T], _ Pipe[T]) error {
	return &Error{SagaType: r.sagaType, MessageType: message.MessageType(), Err: ErrQueryNotSupported}
}

// Load reads an instance directly from the store without locking. It returns ErrNotFound if no
// instance exists.
func (r *Repository[T]) Load(ctx context.Context, correlationID uuid.UUID) (instance T, err error) {
	ctx, span := r.tracer.Start(ctx, "saga.Load", trace.WithAttributes(
		attribute.String("saga.type", r.sagaType),
		attribute.String("saga.correlation_id", correlationID.String()),
	))
	defer func() {
		if errors.Is(err, ErrNotFound) {
			endSpan(span, nil)
			return
		}
		endSpan(span, err)
	}()
	return r.store.Get(ctx, correlationID)
}

func (r *Repository[T]) preInsert(ctx context.Context, correlationID uuid.UUID, messageType string, instance T) error {
	if err := checkCorrelation(instance, correlationID); err != nil {
		return err
	}
	err := r.store.Insert(ctx, correlationID, instance)
	if errors.Is(err, ErrDuplicate) {
		r.metrics.duplicate(r.sagaType)
		r.logger.Debug("saga duplicate",
			zap.Stringer("correlation_id", correlationID),
			zap.String("message", messageType))
		return nil
	}
	if err != nil {
		return err
	}
	r.logger.Debug("saga inserted",
		zap.Stringer("correlation_id", correlationID),
		zap.String("message", messageType))
	return nil
}

func (r *Repository[T]) sendToInstance(ctx context.Context, message ConsumeContext, policy Policy[T], next Pipe[T], instance T) error {
	r.logger.Debug("saga used",
		zap.Stringer("correlation_id", instance.GetCorrelationID()),
		zap.Int("version", instance.GetVersion()),
		zap.String("message", message.MessageType()))

	sc := newContext(message, instance)
	err := policy.Existing(ctx, sc, func(ctx context.Context, sc *Context[T]) error {
		return fromPipe(next(ctx, sc))
	})
	if err != nil {
		return err
	}

	if sc.IsCompleted() {
		if err := r.strategy.remove(ctx, instance); err != nil {
			return err
		}
		r.metrics.send(r.sagaType, r.options.ConcurrencyMode, outcomeCompleted)
		r.logger.Debug("saga removed", zap.Stringer("correlation_id", instance.GetCorrelationID()))
		return nil
	}

	if err := r.strategy.update(ctx, instance); err != nil {
		return err
	}
	r.metrics.send(r.sagaType, r.options.ConcurrencyMode, outcomeUpdated)
	return nil
}

// sendMissing lets the policy handle a message without a stored instance. It reports raced when
// another consumer created the instance while the pipe ran on the new one.
func (r *Repository[T]) sendMissing(ctx context.Context, correlationID uuid.UUID, message ConsumeContext, policy Policy[T], next Pipe[T]) (raced bool, err error) {
	var called bool

	err = policy.Missing(ctx, message, func(ctx context.Context, instance T) error {
		called = true
		if err := checkCorrelation(instance, correlationID); err != nil {
			return err
		}
		r.logger.Debug("saga added",
			zap.Stringer("correlation_id", correlationID),
			zap.String("message", message.MessageType()))

		sc := newContext(message, instance)
		if err := next(ctx, sc); err != nil {
			return fromPipe(err)
		}
		if sc.IsCompleted() {
			r.metrics.send(r.sagaType, r.options.ConcurrencyMode, outcomeCompleted)
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		previous := instance.GetVersion()
		instance.SetVersion(previous + 1)
		err := r.store.Insert(ctx, correlationID, instance)
		if errors.Is(err, ErrDuplicate) {
			instance.SetVersion(previous)
			raced = true
			r.metrics.duplicate(r.sagaType)
			r.logger.Debug("saga duplicate",
				zap.Stringer("correlation_id", correlationID),
				zap.String("message", message.MessageType()))
			return ErrDuplicate
		}
		if err != nil {
			instance.SetVersion(previous)
			return err
		}
		r.metrics.send(r.sagaType, r.options.ConcurrencyMode, outcomeCreated)
		return nil
	})
	if raced {
		return true, nil
	}
	if err == nil && !called {
		r.metrics.send(r.sagaType, r.options.ConcurrencyMode, outcomeDropped)
	}
	return false, err
}

func checkCorrelation[T Saga](instance T, correlationID uuid.UUID) error {
	if isNil(instance) {
		return errors.New("policy produced a nil saga instance")
	}
	if instance.GetCorrelationID() != correlationID {
		return fmt.Errorf("saga instance correlation id %s does not match message correlation id %s",
			instance.GetCorrelationID(), correlationID)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
