package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func parseLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	return record
}

func TestTracingHandlerServiceAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(NewTracingHandler(inner, "dirtman", "staging"))

	logger.Info("worker started")

	record := parseLogLine(t, &buf)
	assert.Equal(t, "dirtman", record[attrService])
	assert.Equal(t, "staging", record[attrEnv])
	assert.NotContains(t, record, attrTraceID)
}

func TestTracingHandlerInjectsTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(NewTracingHandler(inner, "dirtman", ""))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01},
		SpanID:     trace.SpanID{0x02},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "batch processed")

	record := parseLogLine(t, &buf)
	assert.Equal(t, sc.TraceID().String(), record[attrTraceID])
	assert.Equal(t, sc.SpanID().String(), record[attrSpanID])
	assert.NotContains(t, record, attrEnv)
}

func TestTracingHandlerWithGroup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(NewTracingHandler(inner, "dirtman", "prod"))

	logger.WithGroup("redis").Info("connected", slog.String("addr", "localhost:6379"))

	record := parseLogLine(t, &buf)

	// Service attributes stay top-level; grouped attrs nest.
	assert.Equal(t, "dirtman", record[attrService])
	group, ok := record["redis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "localhost:6379", group["addr"])
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("unknown"))
}
