package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type config struct {
	prefix   string
	sagaType string
	expiry   time.Duration
}

type Option func(*config)

// WithKeyPrefix namespaces all keys written by the store.
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

// WithExpiry sets a time-to-live on every written instance.
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

// Store keeps saga instances of type T as serialized values in Redis.
type Store[T saga.Saga] struct {
	client redis.UniversalClient
	codec  saga.Codec[T]
	config config
}

// NewStore creates a Redis store that serializes instances as JSON.
func NewStore[T saga.Saga](client redis.UniversalClient, opts ...Option) *Store[T] {
	return NewStoreWithCodec[T](client, saga.JSONCodec[T]{}, opts...)
}

func NewStoreWithCodec[T saga.Saga](client redis.UniversalClient, codec saga.Codec[T], opts ...Option) *Store[T] {
	c := config{}
	for _, opt := range opts {
		opt(&c)
	}
	if c.sagaType == "" {
		c.sagaType = saga.TypeName[T]()
	}
	return &Store[T]{
		client: client,
		codec:  codec,
		config: c,
	}
}

// Key returns the Redis key of a saga instance.
func (s *Store[T]) Key(correlationID uuid.UUID) string {
	return saga.CorrelationKey(s.config.prefix, s.config.sagaType, correlationID)
}

func (s *Store[T]) Get(ctx context.Context, correlationID uuid.UUID) (T, error) {
	var zero T
	data, err := s.client.Get(ctx, s.Key(correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, saga.ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to get saga from redis: %w", err)
	}
	return s.codec.Unmarshal(data)
}

func (s *Store[T]) Put(ctx context.Context, correlationID uuid.UUID, instance T) error {
	data, err := s.codec.Marshal(instance)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.Key(correlationID), data, s.config.expiry).Err(); err != nil {
		return fmt.Errorf("failed to save saga to redis: %w", err)
	}
	return nil
}

func (s *Store[T]) Insert(ctx context.Context, correlationID uuid.UUID, instance T) error {
	data, err := s.codec.Marshal(instance)
	if err != nil {
		return err
	}
	created, err := s.client.SetNX(ctx, s.Key(correlationID), data, s.config.expiry).Result()
	if err != nil {
		return fmt.Errorf("failed to insert saga into redis: %w", err)
	}
	if !created {
		return saga.ErrDuplicate
	}
	return nil
}

// Replace writes instance if the stored version equals expectedVersion. The key is watched between
// the version read and the write, so a concurrent writer aborts the transaction.
func (s *Store[T]) Replace(ctx context.Context, correlationID uuid.UUID, instance T, expectedVersion int) error {
	data, err := s.codec.Marshal(instance)
	if err != nil {
		return err
	}
	key := s.Key(correlationID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return saga.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := s.codec.Unmarshal(stored)
		if err != nil {
			return err
		}
		if current.GetVersion() != expectedVersion {
			return fmt.Errorf("%w: saga %s stored version %d, expected %d",
				saga.ErrVersionConflict, correlationID, current.GetVersion(), expectedVersion)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.config.expiry)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: saga %s changed during commit", saga.ErrVersionConflict, correlationID)
	}
	if err != nil && !errors.Is(err, saga.ErrNotFound) && !errors.Is(err, saga.ErrVersionConflict) {
		return fmt.Errorf("failed to replace saga in redis: %w", err)
	}
	return err
}

func (s *Store[T]) Delete(ctx context.Context, correlationID uuid.UUID) error {
	if err := s.client.Del(ctx, s.Key(correlationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete saga from redis: %w", err)
	}
	return nil
}
