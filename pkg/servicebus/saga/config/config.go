// Package config loads saga repository settings from a file and GOBUS_ environment variables.
//
// Precedence from low to high: defaults, config file, environment variables.
// Environment variables use the upper-cased key path with dots replaced by underscores,
// e.g. GOBUS_SAGA_CONCURRENCY_MODE=pessimistic or GOBUS_REDIS_ADDRS=redis:6379.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	sagaredis "github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga/redis"
	"github.com/spf13/viper"
)

const EnvPrefix = "GOBUS"

// StoreKind names the backing store.
type StoreKind string

const (
	StoreRedis   StoreKind = "redis"
	StoreMongoDB StoreKind = "mongodb"
	StoreMemory  StoreKind = "memory"
)

var ErrUnknownStore = errors.New("unknown saga store")

type MongoConfig struct {
	URI        string `mapstructure:"uri" json:"uri" yaml:"uri"`
	Database   string `mapstructure:"database" json:"database" yaml:"database"`
	Collection string `mapstructure:"collection" json:"collection" yaml:"collection"`
}

// Config is the complete configuration of a saga repository deployment.
type Config struct {
	Store StoreKind        `mapstructure:"store" json:"store" yaml:"store"`
	Saga  saga.Options     `mapstructure:"saga" json:"saga" yaml:"saga"`
	Redis sagaredis.Config `mapstructure:"redis" json:"redis" yaml:"redis"`
	Mongo MongoConfig      `mapstructure:"mongodb" json:"mongodb" yaml:"mongodb"`
}

func setDefaults(v *viper.Viper) {
	opts := saga.DefaultOptions()
	v.SetDefault("store", string(StoreRedis))
	v.SetDefault("saga.concurrency_mode", string(opts.ConcurrencyMode))
	v.SetDefault("saga.lock_acquire_timeout", opts.LockAcquireTimeout)
	v.SetDefault("saga.lock_hold_ttl", opts.LockHoldTimeToLive)
	v.SetDefault("saga.lock_retry_interval", opts.LockRetryInterval)
	v.SetDefault("saga.lock_policy", string(opts.LockPolicy))
	v.SetDefault("saga.key_prefix", "")
	v.SetDefault("saga.entry_expiry", 0)

	rc := sagaredis.DefaultConfig()
	v.SetDefault("redis.addrs", rc.Addrs)
	v.SetDefault("redis.master_name", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", rc.DialTimeout)
	v.SetDefault("redis.read_timeout", rc.ReadTimeout)
	v.SetDefault("redis.write_timeout", rc.WriteTimeout)
	v.SetDefault("redis.pool_size", 0)

	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "sagas")
	v.SetDefault("mongodb.collection", "sagas")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if not empty) and the environment into a validated Config.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies saga option defaults and checks the store specific section.
func (c *Config) Validate() error {
	c.Saga.ApplyDefaults()
	if err := c.Saga.Validate(); err != nil {
		return err
	}
	switch c.Store {
	case StoreRedis:
		return c.Redis.Validate()
	case StoreMongoDB:
		if c.Mongo.URI == "" || c.Mongo.Database == "" || c.Mongo.Collection == "" {
			return errors.New("mongodb uri, database and collection are required")
		}
		return nil
	case StoreMemory:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, c.Store)
	}
}
