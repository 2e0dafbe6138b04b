// Package store defines the repository interfaces the pipeline workers
// run against. Two implementations exist: memstore (in-memory, for unit
// tests) and redistore (Redis). All cross-worker coordination happens
// through these interfaces via conditional writes; there are no
// in-process locks above this layer.
package store

import (
	"context"
	"errors"

	"github.com/allenheltondev/dirt-man/internal/domain"
)

// Sentinel errors shared by all implementations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
)

// Stage names a processing stage in the idempotency ledger.
type Stage string

// Pipeline stages tracked per reading.
const (
	StageEvent     Stage = "event"
	StageAggregate Stage = "aggregate"
	StageStatus    Stage = "status"
)

// LedgerTTLMS is how long ledger rows are retained, 30 days.
const LedgerTTLMS = int64(30 * 24 * 60 * 60 * 1000)

// ReadingStore persists raw readings. Rows are immutable; writing an
// existing key is a deduplication signal surfaced on the change feed as
// a modify.
type ReadingStore interface {
	// Put writes a reading and reports whether it was a fresh insert.
	Put(ctx context.Context, r domain.Reading) (inserted bool, err error)

	// Range returns readings for a device with timestamp_ms in
	// [fromMS, toMS), ascending, at most limit rows.
	Range(ctx context.Context, hardwareID string, fromMS, toMS int64, limit int) ([]domain.Reading, error)
}

// EventStore persists detected events.
type EventStore interface {
	// Put conditionally inserts an event. A false return means an event
	// with the same (hardware_id, start_time_ms) already exists; that is
	// a successful dedup, not an error.
	Put(ctx context.Context, e domain.Event) (inserted bool, err error)

	// ListSince returns events for a device with start_time_ms >= sinceMS,
	// ascending, at most limit rows.
	ListSince(ctx context.Context, hardwareID string, sinceMS int64, limit int) ([]domain.Event, error)

	// ListByTypeSince is ListSince restricted to one event type.
	ListByTypeSince(ctx context.Context, hardwareID string, et domain.EventType, sinceMS int64, limit int) ([]domain.Event, error)
}

// SensorDelta is the per-sensor portion of an incremental aggregate
// update. SeedMin/SeedMax apply set-if-absent only; open-window min/max
// are refined later by the rebuild.
type SensorDelta struct {
	TotalInc int64
	ValidInc int64
	SumAdd   float64
	SumSqAdd float64
	SeedMin  *float64
	SeedMax  *float64
}

// AggregateDelta is a single atomic update to an open hourly window.
type AggregateDelta struct {
	HardwareID    string
	WindowStartMS int64
	Sensors       map[domain.SensorName]SensorDelta
	ComputedAtMS  int64
}

// AggregateStore persists windowed aggregates.
type AggregateStore interface {
	Get(ctx context.Context, hardwareID string, wt domain.WindowType, startMS int64) (domain.Aggregate, error)

	// Put overwrites the full row. Used by rebuilds and rollovers, both
	// of which are idempotent for a fixed key.
	Put(ctx context.Context, a domain.Aggregate) error

	// Apply performs one atomic incremental update on the hourly row,
	// creating it when absent.
	Apply(ctx context.Context, delta AggregateDelta) error

	// ListRange returns aggregates of the given window type with
	// window_start_ms in [fromMS, toMS), ascending.
	ListRange(ctx context.Context, hardwareID string, wt domain.WindowType, fromMS, toMS int64) ([]domain.Aggregate, error)

	// Devices returns the distinct hardware IDs that have aggregates of
	// the given window type with window_start_ms in [fromMS, toMS).
	Devices(ctx context.Context, wt domain.WindowType, fromMS, toMS int64) ([]string, error)
}

// LearnedProfileUpdate carries only the learner-owned profile fields.
// Nil fields are left untouched; user fields are unreachable from here.
type LearnedProfileUpdate struct {
	TypicalWateringIntervalSec *int64
	BaselineMoistureRange      *domain.MoistureRange
	LastWateringEvents         []int64
}

// ProfileStore persists device profiles.
type ProfileStore interface {
	// Get returns the profile, or ErrNotFound when the device has none.
	Get(ctx context.Context, hardwareID string) (domain.DeviceProfile, error)

	// PutUserFields writes the user-owned subset, leaving learned fields
	// untouched.
	PutUserFields(ctx context.Context, p domain.DeviceProfile) error

	// ApplyLearned writes the learner-owned subset, leaving user fields
	// untouched.
	ApplyLearned(ctx context.Context, hardwareID string, upd LearnedProfileUpdate) error
}

// StatusUpdate is a field-scoped device status update. Nil fields are
// left untouched. Construction is funneled through the devstatus
// maintainer so each worker can only reach the fields it owns.
type StatusUpdate struct {
	LastSeenEventTimeMS       *int64
	LastSeenIngestTimeMS      *int64
	SensorStatusSummary       domain.SummaryStatus
	CoveragePctLastHour       *float64
	LastAggregateComputedAtMS *int64
	LastEventDetectedAtMS     *int64
	LastProcessedEventTimeMS  *int64
	LastInsightGeneratedAtMS  *int64
}

// StatusStore persists device status rows.
type StatusStore interface {
	// Get returns the status row, or ErrNotFound when absent.
	Get(ctx context.Context, hardwareID string) (domain.DeviceStatus, error)

	// Apply merges the given fields into the row, creating it if needed.
	Apply(ctx context.Context, hardwareID string, upd StatusUpdate) error

	// RecordError appends to the bounded error log via a read-modify-write
	// on the list field only. Messages are truncated, the list capped.
	RecordError(ctx context.Context, hardwareID, code, message string, nowMS int64) error

	// List returns all status rows.
	List(ctx context.Context) ([]domain.DeviceStatus, error)

	// ActiveSince returns hardware IDs with last_seen_ingest_time_ms >= sinceMS.
	ActiveSince(ctx context.Context, sinceMS int64) ([]string, error)
}

// InsightStore persists generated insights.
type InsightStore interface {
	Put(ctx context.Context, ins domain.Insight) error
	ListSince(ctx context.Context, hardwareID string, sinceMS int64, limit int) ([]domain.Insight, error)
}

// RequestStore persists insight requests and doubles as the work queue.
type RequestStore interface {
	Create(ctx context.Context, req domain.InsightRequest) error

	// PendingBatch returns up to limit pending requests, oldest first.
	PendingBatch(ctx context.Context, limit int) ([]domain.InsightRequest, error)

	// Claim performs the pending -> processing CAS. False means another
	// worker won the claim.
	Claim(ctx context.Context, hardwareID string, requestTimeMS, nowMS int64) (claimed bool, err error)

	// Finish moves a claimed request to done or failed, recording the
	// processing time and a truncated error message on failure.
	Finish(ctx context.Context, hardwareID string, requestTimeMS int64, status domain.RequestStatus, errMessage string, nowMS int64) error

	// HasPendingSince reports whether the device has any pending request
	// with request_time_ms >= sinceMS.
	HasPendingSince(ctx context.Context, hardwareID string, sinceMS int64) (bool, error)

	// CountEventSince counts event-driven requests for the device with
	// request_time_ms >= sinceMS, regardless of status.
	CountEventSince(ctx context.Context, hardwareID string, sinceMS int64) (int, error)
}

// RollupDelta is one atomic "add to counter, maybe add to sum, set TTL"
// operation against a rollup row.
type RollupDelta struct {
	BucketType    string
	BucketStartMS int64
	MetricName    string
	Dimensions    map[string]string
	CountInc      int64
	SumAdd        *float64
	ExpireAtMS    int64
}

// RollupStore persists operational rollup counters. It is the only
// writer of the rollups table, and the rollup updater holds nothing but
// this interface.
type RollupStore interface {
	Add(ctx context.Context, delta RollupDelta) error
}

// LedgerStore is the per-reading, per-stage idempotency ledger.
type LedgerStore interface {
	// MarkIfAbsent atomically records the stage as processed iff it was
	// not already. True means the caller obtained ownership.
	MarkIfAbsent(ctx context.Context, readingID string, stage Stage, hardwareID string, nowMS int64) (owned bool, err error)

	// IsProcessed reports whether the stage column exists for the reading.
	IsProcessed(ctx context.Context, readingID string, stage Stage) (bool, error)
}
