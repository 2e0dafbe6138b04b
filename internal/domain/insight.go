package domain

// Confidence grades how much evidence backed an insight.
type Confidence string

// Insight confidence levels.
const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Trend is the model's read on the device's recent direction.
type Trend string

// Insight trend values.
const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// Recommendation is one actionable suggestion within an insight.
type Recommendation struct {
	Action  string `json:"action"`
	Reason  string `json:"reason"`
	Urgency string `json:"urgency"`
}

// InsightEvidence snapshots the inputs an insight was generated from.
type InsightEvidence struct {
	AggregateCount int            `json:"aggregate_count"`
	ValidHours     int            `json:"valid_hours"`
	EventCount     int            `json:"event_count"`
	Profile        *DeviceProfile `json:"profile,omitempty"`
}

// Insight is one generated natural-language insight, keyed by
// (hardware_id, timestamp_ms).
type Insight struct {
	HardwareID            string           `json:"hardware_id"`
	TimestampMS           int64            `json:"timestamp_ms"`
	Summary               string           `json:"summary"`
	Recommendations       []Recommendation `json:"recommendations,omitempty"`
	Confidence            Confidence       `json:"confidence"`
	Trend                 Trend            `json:"trend"`
	GrowthStageSuggestion string           `json:"growth_stage_suggestion,omitempty"`
	Evidence              InsightEvidence  `json:"evidence"`
	Model                 string           `json:"model,omitempty"`
	GenerationDurationMS  int64            `json:"generation_duration_ms"`
}

// RequestType distinguishes scheduled from event-driven insight requests.
type RequestType string

// Insight request origins.
const (
	RequestScheduled RequestType = "scheduled"
	RequestEvent     RequestType = "event"
)

// RequestStatus is the lifecycle state of an insight request.
type RequestStatus string

// Insight request lifecycle states.
const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestDone       RequestStatus = "done"
	RequestFailed     RequestStatus = "failed"
)

// InsightRequest is a queued unit of insight work, keyed by
// (hardware_id, request_time_ms). Rows double as an audit log.
type InsightRequest struct {
	HardwareID    string        `json:"hardware_id"`
	RequestTimeMS int64         `json:"request_time_ms"`
	Type          RequestType   `json:"request_type"`
	Status        RequestStatus `json:"status"`
	ProcessedAtMS *int64        `json:"processed_at_ms,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}
