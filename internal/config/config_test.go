package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/likechat/internal/gate"
	"github.com/jonesrussell/north-cloud/likechat/internal/purchase"
	"github.com/jonesrussell/north-cloud/likechat/internal/queue"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, defaultServiceName, cfg.Service.Name)
	assert.Equal(t, defaultServicePort, cfg.Service.Port)
	assert.Equal(t, queue.DefaultCapacity, cfg.Service.QueueCapacity)
	assert.Equal(t, gate.DefaultRequiredActions, cfg.Service.RequiredActions)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, defaultKeyPrefix, cfg.Redis.KeyPrefix)
	assert.Equal(t, defaultDBName, cfg.Database.Database)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, purchase.DefaultRetryDelays, cfg.Purchase.RetryDelays)
	assert.Equal(t, defaultVerifyAttempts, cfg.Verify.MaxAttempts)
	assert.InDelta(t, float64(defaultRatePerSecond), cfg.RateLimit.RequestsPerSecond, 0)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
service:
  port: 9000
  queue_capacity: 7
storage:
  backend: redis
redis:
  address: localhost:6379
purchase:
  retry_delays: [0s, 1s]
`)
	t.Setenv("LIKECHAT_REQUIRED_ACTIONS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Service.Port)
	assert.Equal(t, 7, cfg.Service.QueueCapacity)
	assert.Equal(t, 4, cfg.Service.RequiredActions)
	assert.Equal(t, []time.Duration{0, time.Second}, cfg.Purchase.RetryDelays)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, defaultServicePort, cfg.Service.Port)
	assert.False(t, cfg.UsesRedis())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad port", func(c *Config) { c.Service.Port = 70000 }, "service.port"},
		{"negative capacity", func(c *Config) { c.Service.QueueCapacity = -1 }, "service.queue_capacity"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }, "storage.backend"},
		{"redis without address", func(c *Config) { c.Storage.Backend = StorageRedis }, "redis.address"},
		{"events without redis", func(c *Config) { c.Events.Enabled = true }, "events.enabled"},
		{"database without host", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Host = ""
		}, "database.host"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
