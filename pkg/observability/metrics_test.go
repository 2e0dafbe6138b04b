package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))

	out := map[string]metricdata.Metrics{}

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}

	return out
}

func TestPipelineMetricsRecordBatch(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	pm, err := NewPipelineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	pm.RecordBatch(t.Context(), "aggregate", 10, 2, 150*time.Millisecond)
	pm.RecordBatch(t.Context(), "aggregate", 5, 0, 50*time.Millisecond)

	metrics := collectMetrics(t, reader)

	total, ok := metrics[metricRecordsTotal].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, total.DataPoints, 1)
	assert.Equal(t, int64(15), total.DataPoints[0].Value)

	failed, ok := metrics[metricRecordsFailed].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, failed.DataPoints, 1)
	assert.Equal(t, int64(2), failed.DataPoints[0].Value)

	hist, ok := metrics[metricBatchDuration].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestPipelineMetricsTrackInflight(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	pm, err := NewPipelineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	done := pm.TrackInflight(t.Context(), "event", 7)

	metrics := collectMetrics(t, reader)
	inflight, ok := metrics[metricInflightRecords].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(7), inflight.DataPoints[0].Value)

	done()

	metrics = collectMetrics(t, reader)
	inflight, ok = metrics[metricInflightRecords].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(0), inflight.DataPoints[0].Value)
}
