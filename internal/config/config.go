package config

import (
	"errors"
	"time"
)

// Config is the top-level configuration struct for dirtman.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Redis     RedisConfig     `mapstructure:"redis"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Insights  InsightsConfig  `mapstructure:"insights"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// RedisConfig holds the storage connection settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// WorkerConfig holds the change feed consumer knobs.
type WorkerConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	Block     time.Duration `mapstructure:"block"`
	Group     string        `mapstructure:"group"`
	Consumer  string        `mapstructure:"consumer"`

	// ClaimIdle, when positive, lets workers steal records stuck on
	// dead consumers after this idle period.
	ClaimIdle time.Duration `mapstructure:"claim_idle"`
}

// LLMConfig holds the insight model endpoint settings. An empty APIKey
// selects the degraded placeholder mode.
type LLMConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
}

// InsightsConfig holds insight scheduling limits.
type InsightsConfig struct {
	ActiveThresholdHours int `mapstructure:"active_threshold_hours"`
	EventDailyCap        int `mapstructure:"event_daily_cap"`
	BatchSize            int `mapstructure:"batch_size"`
}

// TelemetryConfig holds logging and OTLP export settings.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	LogLevel     string `mapstructure:"log_level"`
	LogJSON      bool   `mapstructure:"log_json"`
}

// Sentinel errors for configuration validation.
var (
	// ErrMissingRedisAddr indicates no Redis address is configured.
	ErrMissingRedisAddr = errors.New("redis.addr must be set")
	// ErrInvalidRedisDB indicates the Redis database index is negative.
	ErrInvalidRedisDB = errors.New("redis.db must be non-negative")
	// ErrInvalidBatchSize indicates the worker batch size is not positive.
	ErrInvalidBatchSize = errors.New("worker.batch_size must be positive")
	// ErrInvalidBlock indicates the worker block duration is negative.
	ErrInvalidBlock = errors.New("worker.block must be non-negative")
	// ErrInvalidClaimIdle indicates the claim idle duration is negative.
	ErrInvalidClaimIdle = errors.New("worker.claim_idle must be non-negative")
	// ErrInvalidActiveThreshold indicates the active threshold is not positive.
	ErrInvalidActiveThreshold = errors.New("insights.active_threshold_hours must be positive")
	// ErrInvalidEventDailyCap indicates the daily cap is not positive.
	ErrInvalidEventDailyCap = errors.New("insights.event_daily_cap must be positive")
	// ErrInvalidInsightBatchSize indicates the insight batch size is not positive.
	ErrInvalidInsightBatchSize = errors.New("insights.batch_size must be positive")
	// ErrInvalidLogLevel indicates an unknown log level name.
	ErrInvalidLogLevel = errors.New("telemetry.log_level must be one of debug, info, warn, error")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.validateWorker(); err != nil {
		return err
	}

	return c.validateInsights()
}

func (c *Config) validateStorage() error {
	if c.Redis.Addr == "" {
		return ErrMissingRedisAddr
	}

	if c.Redis.DB < 0 {
		return ErrInvalidRedisDB
	}

	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if c.Worker.Block < 0 {
		return ErrInvalidBlock
	}

	if c.Worker.ClaimIdle < 0 {
		return ErrInvalidClaimIdle
	}

	return nil
}

func (c *Config) validateInsights() error {
	if c.Insights.ActiveThresholdHours <= 0 {
		return ErrInvalidActiveThreshold
	}

	if c.Insights.EventDailyCap <= 0 {
		return ErrInvalidEventDailyCap
	}

	if c.Insights.BatchSize <= 0 {
		return ErrInvalidInsightBatchSize
	}

	switch c.Telemetry.LogLevel {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return ErrInvalidLogLevel
	}
}
