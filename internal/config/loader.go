package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".dirtman"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for dirtman settings.
const envPrefix = "DIRTMAN"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Default values applied before file and environment overrides.
const (
	DefaultRedisAddr     = "localhost:6379"
	DefaultRedisDB       = 0
	DefaultKeyPrefix     = "dirtman"
	DefaultBatchSize     = 100
	DefaultBlock         = "2s"
	DefaultGroup         = "dirtman"
	DefaultConsumer      = "worker"
	DefaultClaimIdle     = "0s"
	DefaultLLMEndpoint   = "https://api.openai.com/v1/chat/completions"
	DefaultLLMModel      = "gpt-4o-mini"
	DefaultActiveHours   = 24
	DefaultEventDailyCap = 6
	DefaultInsightBatch  = 10
	DefaultLogLevel      = "info"
	DefaultLogJSON       = true
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("redis.addr", DefaultRedisAddr)
	viperCfg.SetDefault("redis.db", DefaultRedisDB)
	viperCfg.SetDefault("redis.key_prefix", DefaultKeyPrefix)

	viperCfg.SetDefault("worker.batch_size", DefaultBatchSize)
	viperCfg.SetDefault("worker.block", DefaultBlock)
	viperCfg.SetDefault("worker.group", DefaultGroup)
	viperCfg.SetDefault("worker.consumer", DefaultConsumer)
	viperCfg.SetDefault("worker.claim_idle", DefaultClaimIdle)

	viperCfg.SetDefault("llm.endpoint", DefaultLLMEndpoint)
	viperCfg.SetDefault("llm.model", DefaultLLMModel)

	viperCfg.SetDefault("insights.active_threshold_hours", DefaultActiveHours)
	viperCfg.SetDefault("insights.event_daily_cap", DefaultEventDailyCap)
	viperCfg.SetDefault("insights.batch_size", DefaultInsightBatch)

	viperCfg.SetDefault("telemetry.log_level", DefaultLogLevel)
	viperCfg.SetDefault("telemetry.log_json", DefaultLogJSON)
}
