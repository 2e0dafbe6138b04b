package domain

// SummaryStatus classifies sensor availability for a device.
type SummaryStatus string

// Sensor status summary values.
const (
	SummaryOK       SummaryStatus = "ok"
	SummaryDegraded SummaryStatus = "degraded"
	SummaryMissing  SummaryStatus = "missing"
)

// HealthCategory is the derived overall device health.
type HealthCategory string

// Derived health categories.
const (
	HealthHealthy HealthCategory = "healthy"
	HealthStale   HealthCategory = "stale"
	HealthMissing HealthCategory = "missing"
	HealthFailing HealthCategory = "failing"
)

// Health derivation thresholds, milliseconds.
const (
	healthErrorWindowMS = 24 * 60 * 60 * 1000
	healthFreshMS       = 2 * 60 * 60 * 1000
	healthStaleMS       = 6 * 60 * 60 * 1000
)

// Bounds on the per-device error log.
const (
	MaxStatusErrors    = 10
	MaxErrorMessageLen = 256
)

// StatusError is one entry in the bounded per-device error log.
type StatusError struct {
	AtMS    int64  `json:"at_ms"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DeviceStatus holds per-device health signals. Fields are partitioned
// across the workers that own them; every update is field-scoped.
type DeviceStatus struct {
	HardwareID string `json:"hardware_id"`

	// Owned by the ingestion/status worker.
	LastSeenEventTimeMS  *int64        `json:"last_seen_event_time_ms,omitempty"`
	LastSeenIngestTimeMS *int64        `json:"last_seen_ingest_time_ms,omitempty"`
	SensorStatusSummary  SummaryStatus `json:"sensor_status_summary,omitempty"`

	// Owned by the aggregator.
	CoveragePctLastHour       *float64 `json:"coverage_pct_last_hour,omitempty"`
	LastAggregateComputedAtMS *int64   `json:"last_aggregate_computed_at_ms,omitempty"`

	// Owned by the event detector.
	LastEventDetectedAtMS    *int64 `json:"last_event_detected_at_ms,omitempty"`
	LastProcessedEventTimeMS *int64 `json:"last_processed_event_time_ms,omitempty"`

	// Owned by the insight generator.
	LastInsightGeneratedAtMS *int64 `json:"last_insight_generated_at_ms,omitempty"`

	// Error log, appendable by any component.
	LastErrorAtMS *int64        `json:"last_error_at_ms,omitempty"`
	LastErrorCode string        `json:"last_error_code,omitempty"`
	LastErrors    []StatusError `json:"last_errors,omitempty"`
}

// Health derives the overall health category at the given instant.
// A recent error dominates; otherwise health decays with silence.
func (s DeviceStatus) Health(nowMS int64) HealthCategory {
	if s.LastErrorAtMS != nil && nowMS-*s.LastErrorAtMS <= healthErrorWindowMS {
		return HealthFailing
	}

	if s.LastSeenIngestTimeMS == nil {
		return HealthMissing
	}

	age := nowMS - *s.LastSeenIngestTimeMS

	switch {
	case age <= healthFreshMS:
		return HealthHealthy
	case age <= healthStaleMS:
		return HealthStale
	default:
		return HealthMissing
	}
}
