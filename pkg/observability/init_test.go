package observability

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpoint(t *testing.T) {
	cfg := DefaultConfig()

	providers, err := Init(cfg)
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	require.NotNil(t, providers.Shutdown)

	assert.NoError(t, providers.Shutdown(t.Context()))
}

func TestInitMetricsUsableWithoutEndpoint(t *testing.T) {
	providers, err := Init(DefaultConfig())
	require.NoError(t, err)

	defer func() { _ = providers.Shutdown(t.Context()) }()

	pm, err := NewPipelineMetrics(providers.Meter)
	require.NoError(t, err)
	require.NotNil(t, pm)
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, defaultServiceName, cfg.ServiceName)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, defaultShutdownTimeoutSec, cfg.ShutdownTimeoutSec)
	assert.Empty(t, cfg.OTLPEndpoint)
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{
			name: "empty",
			raw:  "",
			want: nil,
		},
		{
			name: "single pair",
			raw:  "authorization=Bearer abc",
			want: map[string]string{"authorization": "Bearer abc"},
		},
		{
			name: "multiple pairs with whitespace",
			raw:  " api-key = secret , tenant = plants ",
			want: map[string]string{"api-key": "secret", "tenant": "plants"},
		},
		{
			name: "malformed pairs skipped",
			raw:  "no-equals-sign,valid=1",
			want: map[string]string{"valid": "1"},
		},
		{
			name: "all malformed",
			raw:  "foo,bar",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, ParseOTLPHeaders(tt.raw))
		})
	}
}
