// Package rollup maintains operational counters bucketed by minute and
// hour. Counters ride the change feeds: every pipeline table emits into
// here, and nothing here writes anywhere but the rollups table.
package rollup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/allenheltondev/dirt-man/internal/timeutil"
)

// Bucket granularities.
const (
	BucketMinute = "minute"
	BucketHour   = "hour"
)

// Retention per granularity, anchored at the bucket start.
const (
	minuteTTLMS = 7 * timeutil.DayMS
	hourTTLMS   = 90 * timeutil.DayMS
)

// Metric names. The _sum/_count pairs follow the conventional
// histogram-less aggregation shape.
const (
	MetricReadingsIngested   = "readings_ingested_count"
	MetricReadingsDeduped    = "readings_deduped_count"
	MetricReadingsInvalid    = "readings_invalid_count"
	MetricPipelineLagSum     = "pipeline_lag_seconds_sum"
	MetricPipelineLagCount   = "pipeline_lag_seconds_count"
	MetricDevicesReporting   = "devices_reporting_count"
	MetricEventsDetected     = "events_detected_count"
	MetricAggregatesComputed = "aggregates_computed_count"
	MetricInsightsGenerated  = "insights_generated_count"
	MetricInsightDurationSum = "insight_generation_duration_ms_sum"
	MetricInsightDurationCnt = "insight_generation_duration_ms_count"
)

// Dimension names and values.
const (
	DimEventType  = "event_type"
	DimWindowType = "window_type"
	DimStatus     = "status"

	StatusSuccess = "success"
	StatusFailure = "failure"
)

// BucketKey is the partition key of a rollup row.
func BucketKey(bucketType string, startMS int64) string {
	return fmt.Sprintf("%s#%d", bucketType, startMS)
}

// MetricKey is the sort key of a rollup row: the metric name and its
// dimensions in deterministic order. A metric without dimensions keeps
// the trailing separator so names can never collide with dimensioned
// keys.
func MetricKey(name string, dims map[string]string) string {
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder

	b.WriteString(name)
	b.WriteString("#")

	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}

		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(dims[k])
	}

	return b.String()
}

// bucketStart aligns an instant to the bucket's granularity.
func bucketStart(bucketType string, nowMS int64) int64 {
	if bucketType == BucketMinute {
		return timeutil.AlignMinute(nowMS)
	}

	return timeutil.AlignHour(nowMS)
}

// expireAt returns the row's expiry, anchored at the bucket start so
// late writes never extend retention.
func expireAt(bucketType string, startMS int64) int64 {
	if bucketType == BucketMinute {
		return startMS + minuteTTLMS
	}

	return startMS + hourTTLMS
}
