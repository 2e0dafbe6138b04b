package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRecordsTotal    = "dirtman.records.total"
	metricRecordsFailed   = "dirtman.records.failed.total"
	metricBatchDuration   = "dirtman.batch.duration.seconds"
	metricInflightRecords = "dirtman.inflight.records"

	attrConsumer = "consumer"
)

// durationBucketBoundaries covers 1ms to 60s: feed batches are usually
// sub-second, insight generation can take tens of seconds.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// PipelineMetrics holds the OTel instruments for the change feed workers.
type PipelineMetrics struct {
	recordsTotal    metric.Int64Counter
	recordsFailed   metric.Int64Counter
	batchDuration   metric.Float64Histogram
	inflightRecords metric.Int64UpDownCounter
}

// NewPipelineMetrics creates the worker instruments from the given meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	total, err := mt.Int64Counter(metricRecordsTotal,
		metric.WithDescription("Total change feed records processed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRecordsTotal, err)
	}

	failed, err := mt.Int64Counter(metricRecordsFailed,
		metric.WithDescription("Change feed records that failed and were left for redrive"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRecordsFailed, err)
	}

	duration, err := mt.Float64Histogram(metricBatchDuration,
		metric.WithDescription("Batch processing duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBatchDuration, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflightRecords,
		metric.WithDescription("Records currently being processed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflightRecords, err)
	}

	return &PipelineMetrics{
		recordsTotal:    total,
		recordsFailed:   failed,
		batchDuration:   duration,
		inflightRecords: inflight,
	}, nil
}

// RecordBatch records one completed batch for a consumer.
func (pm *PipelineMetrics) RecordBatch(ctx context.Context, consumer string, processed, failed int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(attrConsumer, consumer))

	pm.recordsTotal.Add(ctx, int64(processed), attrs)
	pm.batchDuration.Record(ctx, duration.Seconds(), attrs)

	if failed > 0 {
		pm.recordsFailed.Add(ctx, int64(failed), attrs)
	}
}

// TrackInflight adds n records to the in-flight gauge and returns a
// function that removes them.
func (pm *PipelineMetrics) TrackInflight(ctx context.Context, consumer string, n int) func() {
	attrs := metric.WithAttributes(attribute.String(attrConsumer, consumer))
	pm.inflightRecords.Add(ctx, int64(n), attrs)

	return func() {
		pm.inflightRecords.Add(ctx, -int64(n), attrs)
	}
}
