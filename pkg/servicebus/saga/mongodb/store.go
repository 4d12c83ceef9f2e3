package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	compoundIndexName = "Prefix_CorrelationId_Type_Compound"
	expiryIndexName   = "ExpireSaga"

	// unique on correlationId and type only, so stores with different key prefixes collided
	legacyCompoundIndexName = "CorrelationId_Type_Compound"
)

// Document is the stored form of a saga instance. The state is kept in its codec form so the store
// round-trips any saga type without bson mappings.
type Document struct {
	Key           string    `bson:"_id"`
	Prefix        string    `bson:"prefix"`
	CorrelationID string    `bson:"correlationId"`
	Type          string    `bson:"type"`
	Version       int       `bson:"version"`
	State         []byte    `bson:"state"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

type Index struct {
	Name             string `bson:"name"`
	ExpiresInSeconds *int32 `bson:"expireAfterSeconds,omitempty"`
}

type config struct {
	prefix   string
	sagaType string
	expiry   time.Duration
}

type Option func(*config)

// WithKeyPrefix namespaces the document ids.
func WithKeyPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

// WithSagaType overrides the saga type name used in document ids.
func WithSagaType(name string) Option {
	return func(c *config) {
		c.sagaType = name
	}
}

// ExpireAfter removes instances that were not written for d. The TTL monitor of the server runs
// about once a minute, so expiry is not exact.
func ExpireAfter(d time.Duration) Option {
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

// Store keeps saga instances of type T in a MongoDB collection, one document per instance.
type Store[T saga.Saga] struct {
	collection *mongo.Collection
	codec      saga.Codec[T]
	config     config
}

// CreateStore creates a store on collection and ensures its indexes.
func CreateStore[T saga.Saga](ctx context.Context, collection *mongo.Collection, opts ...Option) (*Store[T], error) {
	return CreateStoreWithCodec[T](ctx, collection, saga.JSONCodec[T]{}, opts...)
}

func CreateStoreWithCodec[T saga.Saga](ctx context.Context, collection *mongo.Collection, codec saga.Codec[T], opts ...Option) (*Store[T], error) {
	store := newStore[T](collection, codec, opts)
	if err := store.ensureCompoundIndex(ctx); err != nil {
		return nil, err
	}
	if store.config.expiry > 0 {
		if err := store.ensureExpiryIndex(ctx, int32(store.config.expiry/time.Second)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// OpenStore creates a store on collection without touching its indexes. Use it for read-only access
// to a collection that a CreateStore call already set up.
func OpenStore[T saga.Saga](collection *mongo.Collection, opts ...Option) *Store[T] {
	return newStore[T](collection, saga.JSONCodec[T]{}, opts)
}

func newStore[T saga.Saga](collection *mongo.Collection, codec saga.Codec[T], opts []Option) *Store[T] {
	c := config{}
	for _, opt := range opts {
		opt(&c)
	}
	if c.sagaType == "" {
		c.sagaType = saga.TypeName[T]()
	}
	return &Store[T]{
		collection: collection,
		codec:      codec,
		config:     c,
	}
}

func (store *Store[T]) ensureCompoundIndex(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys: bson.D{{Key: "prefix", Value: 1}, {Key: "correlationId", Value: 1}, {Key: "type", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetName(compoundIndexName),
	}

	_, _ = store.collection.Indexes().DropOne(ctx, legacyCompoundIndexName)
	if _, err := store.collection.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create saga index: %w", err)
	}
	return nil
}

func (store *Store[T]) ensureExpiryIndex(ctx context.Context, seconds int32) error {
	cur, err := store.collection.Indexes().List(ctx)
	if err != nil {
		return err
	}
	var results []Index
	if err := cur.All(ctx, &results); err != nil {
		return err
	}

	for _, r := range results {
		if r.Name == expiryIndexName && r.ExpiresInSeconds != nil && *r.ExpiresInSeconds == seconds {
			return nil
		}
	}

	//Drop in case index exists with different TTL
	_, _ = store.collection.Indexes().DropOne(ctx, expiryIndexName)

	index := mongo.IndexModel{
		Keys: bson.D{{Key: "updatedAt", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(seconds).
			SetName(expiryIndexName),
	}
	if _, err := store.collection.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create saga expiry index: %w", err)
	}
	return nil
}

// Key returns the document id of a saga instance.
func (store *Store[T]) Key(correlationID uuid.UUID) string {
	return saga.CorrelationKey(store.config.prefix, store.config.sagaType, correlationID)
}

func (store *Store[T]) Get(ctx context.Context, correlationID uuid.UUID) (T, error) {
	var zero T
	doc := new(Document)
	err := store.collection.FindOne(ctx, bson.M{"_id": store.Key(correlationID)}).Decode(doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return zero, saga.ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to get saga from mongodb: %w", err)
	}
	return store.codec.Unmarshal(doc.State)
}

func (store *Store[T]) Put(ctx context.Context, correlationID uuid.UUID, instance T) error {
	update, err := store.update(correlationID, instance)
	if err != nil {
		return err
	}
	_, err = store.collection.UpdateOne(ctx,
		bson.M{"_id": store.Key(correlationID)},
		update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save saga to mongodb: %w", err)
	}
	return nil
}

func (store *Store[T]) Insert(ctx context.Context, correlationID uuid.UUID, instance T) error {
	state, err := store.codec.Marshal(instance)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	doc := &Document{
		Key:           store.Key(correlationID),
		Prefix:        store.config.prefix,
		CorrelationID: correlationID.String(),
		Type:          store.config.sagaType,
		Version:       instance.GetVersion(),
		State:         state,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err = store.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return saga.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert saga into mongodb: %w", err)
	}
	return nil
}

// Replace updates the document only if its version still equals expectedVersion.
func (store *Store[T]) Replace(ctx context.Context, correlationID uuid.UUID, instance T, expectedVersion int) error {
	update, err := store.update(correlationID, instance)
	if err != nil {
		return err
	}
	key := store.Key(correlationID)
	result, err := store.collection.UpdateOne(ctx, bson.M{"_id": key, "version": expectedVersion}, update)
	if err != nil {
		return fmt.Errorf("failed to replace saga in mongodb: %w", err)
	}
	if result.MatchedCount == 1 {
		return nil
	}

	n, err := store.collection.CountDocuments(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("failed to replace saga in mongodb: %w", err)
	}
	if n == 0 {
		return saga.ErrNotFound
	}
	return fmt.Errorf("%w: saga %s stored version differs from %d", saga.ErrVersionConflict, correlationID, expectedVersion)
}

func (store *Store[T]) Delete(ctx context.Context, correlationID uuid.UUID) error {
	if _, err := store.collection.DeleteOne(ctx, bson.M{"_id": store.Key(correlationID)}); err != nil {
		return fmt.Errorf("failed to delete saga from mongodb: %w", err)
	}
	return nil
}

func (store *Store[T]) update(correlationID uuid.UUID, instance T) (bson.M, error) {
	state, err := store.codec.Marshal(instance)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return bson.M{
		"$set": bson.M{
			"prefix":        store.config.prefix,
			"correlationId": correlationID.String(),
			"type":          store.config.sagaType,
			"version":       instance.GetVersion(),
			"state":         state,
			"updatedAt":     now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}, nil
}
