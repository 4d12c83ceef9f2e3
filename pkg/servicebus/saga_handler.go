package servicebus

import (
	"context"
	"errors"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	"go.uber.org/zap"
)

// RetryPolicy waits before the given retry and runs it.
type RetryPolicy func(ctx context.Context, retryCount int, retry func() error) error

// SagaHandler sends incoming messages to a saga repository and settles them with the transport
// callbacks of the message context.
type SagaHandler[T saga.Saga] struct {
	repository  *saga.Repository[T]
	policy      saga.Policy[T]
	pipe        saga.Pipe[T]
	maxRetries  int
	retryPolicy RetryPolicy
	logger      *zap.Logger
}

type SagaHandlerOption[T saga.Saga] func(*SagaHandler[T])

// RetryVersionConflicts re-sends a message up to maxRetries times when its commit lost an
// optimistic version race.
func RetryVersionConflicts[T saga.Saga](maxRetries int, policy RetryPolicy) SagaHandlerOption[T] {
	return func(h *SagaHandler[T]) {
		h.maxRetries = maxRetries
		h.retryPolicy = policy
	}
}

func WithHandlerLogger[T saga.Saga](logger *zap.Logger) SagaHandlerOption[T] {
	return func(h *SagaHandler[T]) {
		h.logger = logger
	}
}

// HandleSaga creates a handler that applies pipe to the saga of every message it handles.
func HandleSaga[T saga.Saga](repository *saga.Repository[T], policy saga.Policy[T], pipe saga.Pipe[T], options ...SagaHandlerOption[T]) *SagaHandler[T] {
	h := &SagaHandler[T]{
		repository: repository,
		policy:     policy,
		pipe:       pipe,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(h)
	}
	if h.retryPolicy == nil {
		h.retryPolicy = func(_ context.Context, _ int, retry func() error) error {
			return retry()
		}
	}
	return h
}

/*
Handle sends the message to the repository and settles it:
Ack on success, Retry on version conflicts, lock timeouts and cancellation, Discard for invalid
messages and messages without a saga, Fail otherwise. The repository error is returned.
*/
func (h *SagaHandler[T]) Handle(ctx context.Context, msg *IncomingMessageContext) error {
	if err := msg.validate(); err != nil {
		h.logger.Warn("discarding invalid message", zap.String("message", msg.Type), zap.Error(err))
		msg.discard()
		return err
	}

	send := func() error {
		return h.repository.Send(ctx, msg, h.policy, h.pipe)
	}
	err := send()
	for retry := 1; err != nil && errors.Is(err, saga.ErrVersionConflict) && retry <= h.maxRetries; retry++ {
		h.logger.Debug("retrying saga message after version conflict",
			zap.String("message", msg.Type),
			zap.String("correlation_id", msg.CorrelationId),
			zap.Int("retry", retry))
		err = h.retryPolicy(ctx, retry, send)
	}

	switch {
	case err == nil:
		msg.ack()
	case errors.Is(err, saga.ErrMissingCorrelationID), errors.Is(err, saga.ErrSagaMissing):
		h.logger.Warn("discarding saga message", zap.String("message", msg.Type), zap.Error(err))
		msg.discard()
	case errors.Is(err, saga.ErrVersionConflict),
		errors.Is(err, saga.ErrLockNotAcquired),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		h.logger.Info("saga message will be redelivered", zap.String("message", msg.Type), zap.Error(err))
		msg.retry()
	default:
		h.logger.Error("saga message failed", zap.String("message", msg.Type), zap.Error(err))
		msg.fail()
	}
	return err
}
