package memory

import (
	"context"
	"sync"
	"time"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	"github.com/google/uuid"
)

type holder struct {
	token   string
	expires time.Time
}

// LockProvider hands out process local locks with the same wait/TTL semantics as the Redis provider.
type LockProvider struct {
	mu    sync.Mutex
	locks map[string]holder
	now   func() time.Time
}

func NewLockProvider() *LockProvider {
	return &LockProvider{
		locks: make(map[string]holder),
		now:   time.Now,
	}
}

func (p *LockProvider) tryAcquire(name string, token string, ttl time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if h, ok := p.locks[name]; ok && now.Before(h.expires) {
		return false
	}
	p.locks[name] = holder{token: token, expires: now.Add(ttl)}
	return true
}

// Acquire retries every opts.RetryInterval until the lock is free or opts.Wait has passed.
func (p *LockProvider) Acquire(ctx context.Context, name string, opts saga.LockOptions) (saga.Lock, error) {
	token := uuid.NewString()
	deadline := time.NewTimer(opts.Wait)
	defer deadline.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.tryAcquire(name, token, opts.TTL) {
			return &lock{provider: p, name: name, token: token, acquired: true}, nil
		}

		retry := time.NewTimer(opts.RetryInterval)
		select {
		case <-ctx.Done():
			retry.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			retry.Stop()
			return &lock{provider: p, name: name}, nil
		case <-retry.C:
		}
	}
}

// Held reports whether name is currently locked.
func (p *LockProvider) Held(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.locks[name]
	return ok && p.now().Before(h.expires)
}

func (p *LockProvider) release(name string, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.locks[name]; ok && h.token == token {
		delete(p.locks, name)
	}
}

type lock struct {
	provider *LockProvider
	name     string
	token    string
	acquired bool
	once     sync.Once
}

func (l *lock) Acquired() bool {
	return l.acquired
}

func (l *lock) Release(context.Context) error {
	if !l.acquired {
		return nil
	}
	l.once.Do(func() {
		l.provider.release(l.name, l.token)
	})
	return nil
}
