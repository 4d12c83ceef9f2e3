package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	sagaredis "github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sagas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, saga.DefaultOptions(), cfg.Saga)
	assert.Equal(t, []string{"localhost:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, sagaredis.DefaultConfig().DialTimeout, cfg.Redis.DialTimeout)
	assert.Equal(t, "sagas", cfg.Mongo.Database)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
store: mongodb
saga:
  concurrency_mode: pessimistic
  lock_acquire_timeout: 2s
  lock_hold_ttl: 30s
  lock_policy: fail
  key_prefix: "shop:"
  entry_expiry: 24h
mongodb:
  uri: mongodb://mongo:27017
  database: shop
  collection: order_sagas
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StoreMongoDB, cfg.Store)
	assert.Equal(t, saga.Pessimistic, cfg.Saga.ConcurrencyMode)
	assert.Equal(t, 2*time.Second, cfg.Saga.LockAcquireTimeout)
	assert.Equal(t, 30*time.Second, cfg.Saga.LockHoldTimeToLive)
	assert.Equal(t, saga.DefaultLockRetryInterval, cfg.Saga.LockRetryInterval)
	assert.Equal(t, saga.LockFailClosed, cfg.Saga.LockPolicy)
	assert.Equal(t, "shop:", cfg.Saga.KeyPrefix)
	assert.Equal(t, 24*time.Hour, cfg.Saga.EntryExpiry)
	assert.Equal(t, MongoConfig{URI: "mongodb://mongo:27017", Database: "shop", Collection: "order_sagas"}, cfg.Mongo)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
store: redis
saga:
  concurrency_mode: optimistic
redis:
  addrs: ["redis-a:6379"]
`)
	t.Setenv("GOBUS_SAGA_CONCURRENCY_MODE", "pessimistic")
	t.Setenv("GOBUS_SAGA_LOCK_RETRY_INTERVAL", "100ms")
	t.Setenv("GOBUS_REDIS_DB", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, saga.Pessimistic, cfg.Saga.ConcurrencyMode)
	assert.Equal(t, 100*time.Millisecond, cfg.Saga.LockRetryInterval)
	assert.Equal(t, []string{"redis-a:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     error
	}{
		{name: "unknown store", content: "store: cassandra\n", err: ErrUnknownStore},
		{name: "unknown mode", content: "saga:\n  concurrency_mode: eventual\n", err: saga.ErrInvalidOptions},
		{name: "negative redis db", content: "redis:\n  db: -1\n", err: sagaredis.ErrInvalidDB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_Mongo(t *testing.T) {
	cfg := Config{Store: StoreMongoDB}
	assert.Error(t, cfg.Validate())

	cfg.Mongo = MongoConfig{URI: "mongodb://localhost", Database: "db", Collection: "sagas"}
	assert.NoError(t, cfg.Validate())

	memory := Config{Store: StoreMemory}
	require.NoError(t, memory.Validate())
	assert.Equal(t, saga.Optimistic, memory.Saga.ConcurrencyMode)
}
