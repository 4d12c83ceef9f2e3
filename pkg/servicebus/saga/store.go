package saga

import (
	"context"

	"github.com/google/uuid"
)

// Store is the typed key/value view of one saga type. Implementations address every
// instance by its correlation key and must be safe for concurrent use.
type Store[T Saga] interface {
	// Get returns the stored instance or ErrNotFound.
	Get(ctx context.Context, correlationID uuid.UUID) (T, error)
	// Put replaces the stored value unconditionally.
	Put(ctx context.Context, correlationID uuid.UUID, instance T) error
	// Insert writes the instance only if no value exists yet, otherwise it returns ErrDuplicate.
	Insert(ctx context.Context, correlationID uuid.UUID, instance T) error
	// Delete removes the stored value. Deleting an absent key is not an error.
	Delete(ctx context.Context, correlationID uuid.UUID) error
}

// VersionedStore is implemented by stores that can replace a value atomically on the condition
// that the stored version still equals expectedVersion. A mismatch is reported as ErrVersionConflict,
// a missing value as ErrNotFound.
type VersionedStore[T Saga] interface {
	Store[T]
	Replace(ctx context.Context, correlationID uuid.UUID, instance T, expectedVersion int) error
}
