package saga

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ConcurrencyMode selects how a repository guards concurrent updates of one saga instance.
type ConcurrencyMode string

const (
	// Optimistic commits with a version check and takes no lock.
	Optimistic ConcurrencyMode = "optimistic"
	// Pessimistic holds a distributed lock for the whole read-mutate-write window.
	Pessimistic ConcurrencyMode = "pessimistic"
)

const (
	DefaultLockAcquireTimeout = 5 * time.Second
	DefaultLockHoldTimeToLive = 5 * time.Second
	DefaultLockRetryInterval  = 500 * time.Millisecond
)

// Options is the configuration surface of a repository.
type Options struct {
	ConcurrencyMode    ConcurrencyMode `mapstructure:"concurrency_mode" json:"concurrency_mode" yaml:"concurrency_mode"`
	LockAcquireTimeout time.Duration   `mapstructure:"lock_acquire_timeout" json:"lock_acquire_timeout" yaml:"lock_acquire_timeout"`
	LockHoldTimeToLive time.Duration   `mapstructure:"lock_hold_ttl" json:"lock_hold_ttl" yaml:"lock_hold_ttl"`
	LockRetryInterval  time.Duration   `mapstructure:"lock_retry_interval" json:"lock_retry_interval" yaml:"lock_retry_interval"`
	// LockPolicy decides what a pessimistic repository does when the lock wait times out.
	LockPolicy LockPolicy `mapstructure:"lock_policy" json:"lock_policy" yaml:"lock_policy"`
	// KeyPrefix namespaces the lock names of the repository. Stores read it, together with
	// EntryExpiry, through their WithOptions option; pass the same Options to both.
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix" yaml:"key_prefix"`
	// EntryExpiry is an optional time-to-live on stored instances. Zero keeps them forever.
	// The repository does not read it.
	EntryExpiry time.Duration `mapstructure:"entry_expiry" json:"entry_expiry" yaml:"entry_expiry"`
}

// DefaultOptions returns optimistic options with the default lock bounds.
func DefaultOptions() Options {
	return Options{
		ConcurrencyMode:    Optimistic,
		LockAcquireTimeout: DefaultLockAcquireTimeout,
		LockHoldTimeToLive: DefaultLockHoldTimeToLive,
		LockRetryInterval:  DefaultLockRetryInterval,
		LockPolicy:         LockProceed,
	}
}

// ApplyDefaults fills unset fields with their defaults.
func (o *Options) ApplyDefaults() {
	d := DefaultOptions()
	if o.ConcurrencyMode == "" {
		o.ConcurrencyMode = d.ConcurrencyMode
	}
	if o.LockAcquireTimeout == 0 {
		o.LockAcquireTimeout = d.LockAcquireTimeout
	}
	if o.LockHoldTimeToLive == 0 {
		o.LockHoldTimeToLive = d.LockHoldTimeToLive
	}
	if o.LockRetryInterval == 0 {
		o.LockRetryInterval = d.LockRetryInterval
	}
	if o.LockPolicy == "" {
		o.LockPolicy = d.LockPolicy
	}
}

// Validate checks the options after defaults have been applied.
func (o *Options) Validate() error {
	switch o.ConcurrencyMode {
	case Optimistic, Pessimistic:
	default:
		return fmt.Errorf("%w: unknown concurrency mode %q", ErrInvalidOptions, o.ConcurrencyMode)
	}
	switch o.LockPolicy {
	case LockProceed, LockFailClosed:
	default:
		return fmt.Errorf("%w: unknown lock policy %q", ErrInvalidOptions, o.LockPolicy)
	}
	if o.LockAcquireTimeout < 0 || o.LockHoldTimeToLive <= 0 || o.LockRetryInterval <= 0 {
		return fmt.Errorf("%w: lock timeouts must be positive", ErrInvalidOptions)
	}
	if o.EntryExpiry < 0 {
		return fmt.Errorf("%w: entry expiry must not be negative", ErrInvalidOptions)
	}
	return nil
}

func (o *Options) lockOptions() LockOptions {
	return LockOptions{
		Wait:          o.LockAcquireTimeout,
		TTL:           o.LockHoldTimeToLive,
		RetryInterval: o.LockRetryInterval,
	}
}

// Option configures a Repository.
type Option func(*settings)

type settings struct {
	options  Options
	locks    LockProvider
	logger   *zap.Logger
	metrics  *Metrics
	sagaType string
}

// WithOptions replaces the repository options.
func WithOptions(options Options) Option {
	return func(s *settings) {
		s.options = options
	}
}

// UseOptimisticConcurrency selects optimistic mode.
func UseOptimisticConcurrency() Option {
	return func(s *settings) {
		s.options.ConcurrencyMode = Optimistic
	}
}

// UsePessimisticConcurrency selects pessimistic mode with the given lock provider.
func UsePessimisticConcurrency(locks LockProvider) Option {
	return func(s *settings) {
		s.options.ConcurrencyMode = Pessimistic
		s.locks = locks
	}
}

// WithLockProvider sets the lock provider used in pessimistic mode.
func WithLockProvider(locks LockProvider) Option {
	return func(s *settings) {
		s.locks = locks
	}
}

// WithLockPolicy sets what happens when the lock wait times out.
func WithLockPolicy(policy LockPolicy) Option {
	return func(s *settings) {
		s.options.LockPolicy = policy
	}
}

// WithKeyPrefix sets the namespace of lock names. Stores carry their own key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *settings) {
		s.options.KeyPrefix = prefix
	}
}

// WithSagaType overrides the saga type name used in logs, errors and metrics.
func WithSagaType(name string) Option {
	return func(s *settings) {
		s.sagaType = name
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(s *settings) {
		s.metrics = metrics
	}
}
