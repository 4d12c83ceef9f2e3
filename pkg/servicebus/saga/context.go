package saga

import (
	"context"

	"github.com/google/uuid"
)

// ConsumeContext is the inbound message a saga is correlated with.
type ConsumeContext interface {
	// CorrelationID returns the saga correlation id and false if the message has none.
	CorrelationID() (uuid.UUID, bool)
	MessageType() string
}

// Message is a minimal ConsumeContext.
type Message struct {
	Type        string
	Correlation uuid.UUID
	Correlated  bool
}

// NewMessage returns a message of the given type correlated to correlationID.
func NewMessage(messageType string, correlationID uuid.UUID) *Message {
	return &Message{Type: messageType, Correlation: correlationID, Correlated: true}
}

func (m *Message) CorrelationID() (uuid.UUID, bool) {
	return m.Correlation, m.Correlated
}

func (m *Message) MessageType() string {
	return m.Type
}

// Context is handed to the pipe for one message processed against one saga instance.
type Context[T Saga] struct {
	message   ConsumeContext
	saga      T
	completed bool
}

func newContext[T Saga](message ConsumeContext, instance T) *Context[T] {
	return &Context[T]{
		message: message,
		saga:    instance,
	}
}

// Saga returns the instance being processed.
func (c *Context[T]) Saga() T {
	return c.saga
}

// Message returns the message being processed.
func (c *Context[T]) Message() ConsumeContext {
	return c.message
}

// SetCompleted marks the saga as finished. The instance is removed from the store once the pipe
// returns without error.
func (c *Context[T]) SetCompleted() {
	c.completed = true
}

func (c *Context[T]) IsCompleted() bool {
	return c.completed
}

// Pipe is the unit of work applied to a saga instance for one message.
type Pipe[T Saga] func(ctx context.Context, sc *Context[T]) error

// MissingPipe receives the new instance a policy creates for a message without a stored saga.
type MissingPipe[T Saga] func(ctx context.Context, instance T) error

// Query selects saga instances by predicate. Repositories in this module do not support it.
type Query[T Saga] func(instance T) bool
