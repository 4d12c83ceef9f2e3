// Package memory provides in-process implementations of the saga store and lock provider.
// Values are kept serialized, so instances read from the store never alias stored state.
// It is meant for tests and single process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	"github.com/google/uuid"
)

type entry struct {
	data    []byte
	version int
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

type config struct {
	prefix   string
	sagaType string
	expiry   time.Duration
	now      func() time.Time
}

type Option func(*config)

// WithKeyPrefix namespaces the keys of the store.
func WithKeyPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

// WithSagaType overrides the saga type name used in keys.
func WithSagaType(name string) Option {
	return func(c *config) {
		c.sagaType = name
	}
}

// WithExpiry expires stored instances after d.
func WithExpiry(d time.Duration) Option {
	return func(c *config) {
		c.expiry = d
	}
}

// WithOptions applies the store level settings of repository options: KeyPrefix and EntryExpiry.
func WithOptions(o saga.Options) Option {
	return func(c *config) {
		c.prefix = o.KeyPrefix
		c.expiry = o.EntryExpiry
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// Store is a saga.VersionedStore held in memory.
type Store[T saga.Saga] struct {
	mu      sync.RWMutex
	entries map[string]*entry
	codec   saga.Codec[T]
	config  config
}

// NewStore creates a memory store that serializes instances as JSON.
func NewStore[T saga.Saga](opts ...Option) *Store[T] {
	return NewStoreWithCodec[T](saga.JSONCodec[T]{}, opts...)
}

func NewStoreWithCodec[T saga.Saga](codec saga.Codec[T], opts ...Option) *Store[T] {
	c := config{now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	if c.sagaType == "" {
		c.sagaType = saga.TypeName[T]()
	}
	return &Store[T]{
		entries: make(map[string]*entry),
		codec:   codec,
		config:  c,
	}
}

func (s *Store[T]) key(correlationID uuid.UUID) string {
	return saga.CorrelationKey(s.config.prefix, s.config.sagaType, correlationID)
}

func (s *Store[T]) newEntry(instance T) (*entry, error) {
	data, err := s.codec.Marshal(instance)
	if err != nil {
		return nil, err
	}
	e := &entry{data: data, version: instance.GetVersion()}
	if s.config.expiry > 0 {
		e.expires = s.config.now().Add(s.config.expiry)
	}
	return e, nil
}

// lookup returns the live entry for key. Callers hold mu.
func (s *Store[T]) lookup(key string) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok || e.expired(s.config.now()) {
		return nil, false
	}
	return e, true
}

func (s *Store[T]) Get(ctx context.Context, correlationID uuid.UUID) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	s.mu.RLock()
	e, ok := s.lookup(s.key(correlationID))
	s.mu.RUnlock()
	if !ok {
		return zero, saga.ErrNotFound
	}
	return s.codec.Unmarshal(e.data)
}

func (s *Store[T]) Put(ctx context.Context, correlationID uuid.UUID, instance T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := s.newEntry(instance)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.key(correlationID)] = e
	return nil
}

func (s *Store[T]) Insert(ctx context.Context, correlationID uuid.UUID, instance T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := s.newEntry(instance)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(correlationID)
	if _, ok := s.lookup(key); ok {
		return saga.ErrDuplicate
	}
	s.entries[key] = e
	return nil
}

func (s *Store[T]) Replace(ctx context.Context, correlationID uuid.UUID, instance T, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := s.newEntry(instance)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(correlationID)
	current, ok := s.lookup(key)
	if !ok {
		return saga.ErrNotFound
	}
	if current.version != expectedVersion {
		return fmt.Errorf("%w: saga %s stored version %d, expected %d",
			saga.ErrVersionConflict, correlationID, current.version, expectedVersion)
	}
	s.entries[key] = e
	return nil
}

func (s *Store[T]) Delete(ctx context.Context, correlationID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, s.key(correlationID))
	return nil
}

// Len returns the number of live instances.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	now := s.config.now()
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}
