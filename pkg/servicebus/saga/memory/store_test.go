package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type PaymentSaga struct {
	saga.Versioned
	Amount int `json:"amount"`
}

func payment(id uuid.UUID, version int, amount int) *PaymentSaga {
	return &PaymentSaga{Versioned: saga.Versioned{CorrelationID: id, Version: version}, Amount: amount}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestStore_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore[*PaymentSaga]()
	id := uuid.New()

	_, err := store.Get(ctx, id)
	assert.ErrorIs(t, err, saga.ErrNotFound)

	require.NoError(t, store.Put(ctx, id, payment(id, 1, 100)))
	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payment(id, 1, 100), got)

	// instances read from the store do not alias stored state
	got.Amount = 5
	again, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100, again.Amount)

	require.NoError(t, store.Put(ctx, id, payment(id, 2, 150)))
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Delete(ctx, id))
	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, saga.ErrNotFound)
	assert.Zero(t, store.Len())
}

func TestStore_Insert(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore[*PaymentSaga]()
	id := uuid.New()

	require.NoError(t, store.Insert(ctx, id, payment(id, 0, 10)))
	assert.ErrorIs(t, store.Insert(ctx, id, payment(id, 0, 20)), saga.ErrDuplicate)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Amount)
}

func TestStore_ConcurrentInsertCreatesOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore[*PaymentSaga]()
	id := uuid.New()

	var wg sync.WaitGroup
	results := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(amount int) {
			defer wg.Done()
			results <- store.Insert(ctx, id, payment(id, 0, amount))
		}(i)
	}
	wg.Wait()
	close(results)

	created := 0
	for err := range results {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, saga.ErrDuplicate)
	}
	assert.Equal(t, 1, created)
}

func TestStore_Replace(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore[*PaymentSaga]()
	id := uuid.New()

	assert.ErrorIs(t, store.Replace(ctx, id, payment(id, 1, 10), 0), saga.ErrNotFound)

	require.NoError(t, store.Put(ctx, id, payment(id, 3, 10)))
	assert.ErrorIs(t, store.Replace(ctx, id, payment(id, 3, 20), 2), saga.ErrVersionConflict)
	require.NoError(t, store.Replace(ctx, id, payment(id, 4, 30), 3))
	assert.ErrorIs(t, store.Replace(ctx, id, payment(id, 4, 40), 3), saga.ErrVersionConflict)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payment(id, 4, 30), got)
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore[*PaymentSaga](memory.WithExpiry(time.Minute), memory.WithClock(c.Now))
	id := uuid.New()

	require.NoError(t, store.Insert(ctx, id, payment(id, 0, 10)))
	c.Advance(59 * time.Second)
	_, err := store.Get(ctx, id)
	require.NoError(t, err)

	// writes refresh the expiry
	require.NoError(t, store.Put(ctx, id, payment(id, 1, 10)))
	c.Advance(59 * time.Second)
	_, err = store.Get(ctx, id)
	require.NoError(t, err)

	c.Advance(time.Second)
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, saga.ErrNotFound)
	assert.Zero(t, store.Len())

	require.NoError(t, store.Insert(ctx, id, payment(id, 0, 20)), "an expired instance can be created again")
}

func TestStore_ExpiryFromOptions(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	options := saga.DefaultOptions()
	options.EntryExpiry = time.Minute
	store := memory.NewStore[*PaymentSaga](memory.WithOptions(options), memory.WithClock(c.Now))
	id := uuid.New()

	require.NoError(t, store.Insert(ctx, id, payment(id, 0, 10)))
	c.Advance(time.Minute)
	_, err := store.Get(ctx, id)
	assert.ErrorIs(t, err, saga.ErrNotFound)
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := memory.NewStore[*PaymentSaga]()
	id := uuid.New()

	_, err := store.Get(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Put(ctx, id, payment(id, 0, 1)), context.Canceled)
	assert.ErrorIs(t, store.Insert(ctx, id, payment(id, 0, 1)), context.Canceled)
	assert.ErrorIs(t, store.Replace(ctx, id, payment(id, 1, 1), 0), context.Canceled)
	assert.ErrorIs(t, store.Delete(ctx, id), context.Canceled)
	assert.Zero(t, store.Len())
}
