package saga

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by stores when no instance exists for a correlation id.
	ErrNotFound = errors.New("saga not found")

	// ErrDuplicate is returned by Store.Insert when the key already exists.
	ErrDuplicate = errors.New("saga already exists")

	// ErrMissingCorrelationID is returned when a message carries no correlation id.
	ErrMissingCorrelationID = errors.New("the correlation id was not specified")

	// ErrVersionConflict is returned when an optimistic commit finds a newer stored version.
	ErrVersionConflict = errors.New("saga version conflict")

	// ErrQueryNotSupported is returned by SendQuery. Instances are addressed by correlation id only.
	ErrQueryNotSupported = errors.New("saga repository does not support queries")

	// ErrLockNotAcquired is returned in pessimistic mode when the lock could not be acquired within
	// the wait timeout and the repository is configured with LockFailClosed.
	ErrLockNotAcquired = errors.New("saga lock not acquired")

	// ErrLockRelease is returned by WithLock when the lock could not be released.
	ErrLockRelease = errors.New("failed to release saga lock")

	// ErrSagaMissing is returned by ExistingOnlyPolicy for messages without a stored instance.
	ErrSagaMissing = errors.New("no saga instance exists for the message")

	// ErrInvalidOptions indicates invalid repository options.
	ErrInvalidOptions = errors.New("invalid saga repository options")
)

// Error carries the saga and message context of a failure while processing a message.
type Error struct {
	SagaType      string
	MessageType   string
	CorrelationID uuid.UUID
	Err           error
}

func (e *Error) Error() string {
	if e.CorrelationID == uuid.Nil {
		return fmt.Sprintf("saga %s, message %s: %v", e.SagaType, e.MessageType, e.Err)
	}
	return fmt.Sprintf("saga %s:%s, message %s: %v", e.SagaType, e.CorrelationID, e.MessageType, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// pipeError marks a repository error raised by the message pipe.
type pipeError struct {
	err error
}

func (e *pipeError) Error() string {
	return e.err.Error()
}

func (e *pipeError) Unwrap() error {
	return e.err
}

// fromPipe marks err if the pipe raised one of the repository errors, so that it leaves Send as is.
func fromPipe(err error) error {
	for _, target := range []error{ErrMissingCorrelationID, ErrVersionConflict, ErrDuplicate, ErrQueryNotSupported} {
		if errors.Is(err, target) {
			return &pipeError{err: err}
		}
	}
	return err
}

// wrap attaches saga context to err. Errors that already carry it and repository errors raised by
// the pipe are returned unchanged.
func wrap(err error, sagaType string, messageType string, correlationID uuid.UUID) error {
	if err == nil {
		return nil
	}
	var pipeErr *pipeError
	if errors.As(err, &pipeErr) {
		return pipeErr.err
	}
	var sagaErr *Error
	if errors.As(err, &sagaErr) {
		return err
	}
	return &Error{
		SagaType:      sagaType,
		MessageType:   messageType,
		CorrelationID: correlationID,
		Err:           err,
	}
}
