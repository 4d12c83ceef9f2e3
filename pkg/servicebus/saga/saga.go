// Package saga persists long running saga instances in a shared key/value store and guards
// concurrent mutation of one instance by many consumers.
//
// A Repository resolves the correlation id of an incoming message to a stored instance, runs the
// caller's Pipe against it inside a session and commits the result through one of two concurrency
// modes: Optimistic (version checked write) or Pessimistic (distributed lock held for the whole
// read-mutate-write window).
package saga

import (
	"reflect"

	"github.com/google/uuid"
)

// Saga is the state object of one saga instance.
type Saga interface {
	GetCorrelationID() uuid.UUID
	GetVersion() int
	SetVersion(version int)
}

// Versioned carries the correlation id and version of a saga. Embed it in saga state structs.
type Versioned struct {
	CorrelationID uuid.UUID `json:"correlationId" bson:"correlationId"`
	Version       int       `json:"version" bson:"version"`
}

func (v *Versioned) GetCorrelationID() uuid.UUID {
	return v.CorrelationID
}

func (v *Versioned) GetVersion() int {
	return v.Version
}

func (v *Versioned) SetVersion(version int) {
	v.Version = version
}

// TypeName returns the short type name used in correlation keys for saga type T.
func TypeName[T Saga]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// CorrelationKey builds the store address of a saga instance.
func CorrelationKey(prefix string, sagaType string, correlationID uuid.UUID) string {
	return prefix + sagaType + ":" + correlationID.String()
}

// LockName builds the name of the distributed lock guarding a saga instance.
func LockName(prefix string, correlationID uuid.UUID) string {
	return prefix + "lock:" + correlationID.String()
}

func isNil[T Saga](instance T) bool {
	v := reflect.ValueOf(instance)
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}
