package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// LockProvider implements saga.LockProvider with SET NX PX on a single Redis deployment.
type LockProvider struct {
	client redis.UniversalClient
}

func NewLockProvider(client redis.UniversalClient) *LockProvider {
	return &LockProvider{client: client}
}

// Acquire polls for the lock every opts.RetryInterval. After opts.Wait it returns a lock that
// is not acquired. A cancelled context returns its error; no lock is held in that case.
func (p *LockProvider) Acquire(ctx context.Context, name string, opts saga.LockOptions) (saga.Lock, error) {
	token := uuid.NewString()
	deadline := time.NewTimer(opts.Wait)
	defer deadline.Stop()

	for {
		ok, err := p.client.SetNX(ctx, name, token, opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire redis lock: %w", err)
		}
		if ok {
			return &lock{client: p.client, name: name, token: token, acquired: true}, nil
		}

		retry := time.NewTimer(opts.RetryInterval)
		select {
		case <-ctx.Done():
			retry.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			retry.Stop()
			return &lock{client: p.client, name: name}, nil
		case <-retry.C:
		}
	}
}

// Release force-deletes a lock regardless of its owner.
func (p *LockProvider) Release(ctx context.Context, name string) (bool, error) {
	n, err := p.client.Del(ctx, name).Result()
	if err != nil {
		return false, fmt.Errorf("failed to release redis lock: %w", err)
	}
	return n > 0, nil
}

type lock struct {
	client   redis.UniversalClient
	name     string
	token    string
	acquired bool
	once     sync.Once
	err      error
}

func (l *lock) Acquired() bool {
	return l.acquired
}

func (l *lock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	l.once.Do(func() {
		if err := releaseScript.Run(ctx, l.client, []string{l.name}, l.token).Err(); err != nil {
			l.err = fmt.Errorf("failed to release redis lock: %w", err)
		}
	})
	return l.err
}
