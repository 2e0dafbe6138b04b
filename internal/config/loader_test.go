package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err) // explicit path must exist

	cfg, err = LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultRedisAddr, cfg.Redis.Addr)
	assert.Equal(t, DefaultKeyPrefix, cfg.Redis.KeyPrefix)
	assert.Equal(t, DefaultBatchSize, cfg.Worker.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Worker.Block)
	assert.Equal(t, time.Duration(0), cfg.Worker.ClaimIdle)
	assert.Equal(t, DefaultLLMModel, cfg.LLM.Model)
	assert.Empty(t, cfg.LLM.APIKey)
	assert.Equal(t, DefaultActiveHours, cfg.Insights.ActiveThresholdHours)
	assert.Equal(t, DefaultEventDailyCap, cfg.Insights.EventDailyCap)
	assert.Equal(t, "info", cfg.Telemetry.LogLevel)
	assert.True(t, cfg.Telemetry.LogJSON)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirtman.yaml")

	content := []byte(`
redis:
  addr: redis.internal:6380
  db: 2
worker:
  batch_size: 25
  block: 500ms
  claim_idle: 1m
insights:
  event_daily_cap: 3
telemetry:
  log_level: debug
  log_json: false
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 25, cfg.Worker.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.Block)
	assert.Equal(t, time.Minute, cfg.Worker.ClaimIdle)
	assert.Equal(t, 3, cfg.Insights.EventDailyCap)
	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)
	assert.False(t, cfg.Telemetry.LogJSON)

	// Unset keys keep their defaults.
	assert.Equal(t, DefaultInsightBatch, cfg.Insights.BatchSize)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("DIRTMAN_REDIS_ADDR", "env.redis:6379")
	t.Setenv("DIRTMAN_LLM_API_KEY", "sk-test")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "env.redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  batch_size: 0\n"), 0o600))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Worker: WorkerConfig{BatchSize: 10},
		Insights: InsightsConfig{
			ActiveThresholdHours: 24,
			EventDailyCap:        6,
			BatchSize:            10,
		},
	}

	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }, ErrMissingRedisAddr},
		{"negative db", func(c *Config) { c.Redis.DB = -1 }, ErrInvalidRedisDB},
		{"zero batch", func(c *Config) { c.Worker.BatchSize = 0 }, ErrInvalidBatchSize},
		{"negative block", func(c *Config) { c.Worker.Block = -time.Second }, ErrInvalidBlock},
		{"negative claim idle", func(c *Config) { c.Worker.ClaimIdle = -time.Second }, ErrInvalidClaimIdle},
		{"zero threshold", func(c *Config) { c.Insights.ActiveThresholdHours = 0 }, ErrInvalidActiveThreshold},
		{"zero cap", func(c *Config) { c.Insights.EventDailyCap = 0 }, ErrInvalidEventDailyCap},
		{"zero insight batch", func(c *Config) { c.Insights.BatchSize = 0 }, ErrInvalidInsightBatchSize},
		{"bad log level", func(c *Config) { c.Telemetry.LogLevel = "trace" }, ErrInvalidLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}
