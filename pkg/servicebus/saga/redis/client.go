// Package redis stores sagas in Redis and provides the distributed lock for pessimistic
// repositories.
//
// Instances live under `<prefix><sagaType>:<correlationId>` as serialized values, locks under
// `<prefix>lock:<correlationId>` holding a random owner token.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrEmptyAddress indicates that no Redis address was configured.
	ErrEmptyAddress = errors.New("redis address cannot be empty")
	// ErrInvalidDB indicates a negative database number.
	ErrInvalidDB = errors.New("redis DB number must be >= 0")
)

// Config holds the connection settings of the Redis client shared by stores and lock providers.
type Config struct {
	// Addrs lists "host:port" addresses. More than one address selects cluster mode unless
	// MasterName is set.
	Addrs []string `mapstructure:"addrs" json:"addrs" yaml:"addrs"`
	// MasterName selects sentinel mode.
	MasterName   string        `mapstructure:"master_name" json:"master_name" yaml:"master_name"`
	Username     string        `mapstructure:"username" json:"username" yaml:"username"`
	Password     string        `mapstructure:"password" json:"password" yaml:"password"`
	DB           int           `mapstructure:"db" json:"db" yaml:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout" yaml:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size" json:"pool_size" yaml:"pool_size"`
}

// DefaultConfig returns a config for a local standalone server.
func DefaultConfig() Config {
	return Config{
		Addrs:        []string{"localhost:6379"},
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (c *Config) Validate() error {
	if len(c.Addrs) == 0 || c.Addrs[0] == "" {
		return ErrEmptyAddress
	}
	if c.DB < 0 {
		return ErrInvalidDB
	}
	return nil
}

// NewClient connects to Redis and verifies the connection with a ping.
// The returned client is pool backed and safe to share between stores and lock providers.
func NewClient(ctx context.Context, cfg Config) (redis.UniversalClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
