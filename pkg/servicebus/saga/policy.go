package saga

import (
	"context"
)

// Policy decides how a message is applied when its saga instance does or does not exist.
type Policy[T Saga] interface {
	// PreInsertInstance returns an instance to create before the message is processed.
	// Returning false skips pre-insertion.
	PreInsertInstance(message ConsumeContext) (T, bool)
	// Existing sends an existing instance through next.
	Existing(ctx context.Context, sc *Context[T], next Pipe[T]) error
	// Missing handles a message for which no instance is stored. A policy that creates sagas
	// builds the new instance and hands it to next.
	Missing(ctx context.Context, message ConsumeContext, next MissingPipe[T]) error
}

// Factory creates a new saga instance for a message.
type Factory[T Saga] func(message ConsumeContext) T

type newSagaPolicy[T Saga] struct {
	factory   Factory[T]
	preInsert bool
}

// NewSagaPolicy creates an instance with factory when none exists. With preInsert the instance is
// written to the store before the pipe runs, so concurrent first messages race on creation instead
// of on the first commit.
func NewSagaPolicy[T Saga](factory Factory[T], preInsert bool) Policy[T] {
	return &newSagaPolicy[T]{factory: factory, preInsert: preInsert}
}

func (p *newSagaPolicy[T]) PreInsertInstance(message ConsumeContext) (T, bool) {
	if !p.preInsert {
		var zero T
		return zero, false
	}
	return p.factory(message), true
}

func (p *newSagaPolicy[T]) Existing(ctx context.Context, sc *Context[T], next Pipe[T]) error {
	return next(ctx, sc)
}

func (p *newSagaPolicy[T]) Missing(ctx context.Context, message ConsumeContext, next MissingPipe[T]) error {
	return next(ctx, p.factory(message))
}

type existingOnlyPolicy[T Saga] struct {
	ignoreMissing bool
}

// ExistingOnlyPolicy only delivers messages to stored instances. Messages without an instance fail
// with ErrSagaMissing, or are dropped when ignoreMissing is set.
func ExistingOnlyPolicy[T Saga](ignoreMissing bool) Policy[T] {
	return &existingOnlyPolicy[T]{ignoreMissing: ignoreMissing}
}

func (p *existingOnlyPolicy[T]) PreInsertInstance(ConsumeContext) (T, bool) {
	var zero T
	return zero, false
}

func (p *existingOnlyPolicy[T]) Existing(ctx context.Context, sc *Context[T], next Pipe[T]) error {
	return next(ctx, sc)
}

func (p *existingOnlyPolicy[T]) Missing(context.Context, ConsumeContext, MissingPipe[T]) error {
	if p.ignoreMissing {
		return nil
	}
	return ErrSagaMissing
}
