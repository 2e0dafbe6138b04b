// Package commands implements the CLI command handlers for dirtman.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/allenheltondev/dirt-man/internal/config"
	"github.com/allenheltondev/dirt-man/internal/store/redistore"
	"github.com/allenheltondev/dirt-man/pkg/observability"
	"github.com/allenheltondev/dirt-man/pkg/version"
)

// runtime bundles the pieces every command needs: validated config,
// observability providers, and an open store.
type runtime struct {
	cfg   config.Config
	obs   observability.Providers
	store *redistore.Store
	log   *slog.Logger
}

// setup loads configuration, initializes telemetry, and connects to
// Redis. The returned teardown flushes telemetry and closes the store;
// call it before process exit.
func setup(ctx context.Context, configPath string) (*runtime, func(context.Context) error, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	obs, err := observability.Init(observability.Config{
		ServiceName:        "dirtman",
		ServiceVersion:     version.Version,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		LogLevel:           observability.ParseLogLevel(cfg.Telemetry.LogLevel),
		LogJSON:            cfg.Telemetry.LogJSON,
		ShutdownTimeoutSec: observability.DefaultConfig().ShutdownTimeoutSec,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init observability: %w", err)
	}

	st, err := redistore.New(ctx, redistore.Options{
		Addr:          cfg.Redis.Addr,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		KeyPrefix:     cfg.Redis.KeyPrefix,
		ConsumerGroup: cfg.Worker.Group,
		Consumer:      consumerName(cfg.Worker.Consumer),
		ClaimIdle:     cfg.Worker.ClaimIdle,
	})
	if err != nil {
		shutdownErr := obs.Shutdown(ctx)

		return nil, nil, errors.Join(fmt.Errorf("connect store: %w", err), shutdownErr)
	}

	rt := &runtime{cfg: *cfg, obs: obs, store: st, log: obs.Logger}

	teardown := func(teardownCtx context.Context) error {
		return errors.Join(st.Close(), obs.Shutdown(teardownCtx))
	}

	return rt, teardown, nil
}

// consumerName suffixes the configured consumer with a random token so
// concurrent replicas never collide inside the consumer group.
func consumerName(base string) string {
	return base + "-" + uuid.NewString()[:8]
}
