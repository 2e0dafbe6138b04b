// Package devstatus maintains the DeviceStatus table. Field ownership
// is enforced by type: each pipeline component gets its own fields
// struct and a matching apply method, so no caller can reach another
// component's columns.
package devstatus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

// IngestFields are the columns owned by the ingestion/status worker.
type IngestFields struct {
	LastSeenEventTimeMS  int64
	LastSeenIngestTimeMS int64
	SensorStatusSummary  domain.SummaryStatus
}

// AggregateFields are the columns owned by the aggregator's rebuild path.
type AggregateFields struct {
	CoveragePctLastHour       float64
	SensorStatusSummary       domain.SummaryStatus
	LastAggregateComputedAtMS int64
}

// EventFields are the columns owned by the event detector.
type EventFields struct {
	LastEventDetectedAtMS    int64
	LastProcessedEventTimeMS int64
}

// InsightFields are the columns owned by the insight generator.
type InsightFields struct {
	LastInsightGeneratedAtMS int64
}

// Maintainer is the single gateway to device status writes. Status
// update failures are logged, never propagated: a broken status row
// must not fail the pipeline step that reported it.
type Maintainer struct {
	statuses store.StatusStore
	clock    clock.Clock
	log      *slog.Logger
}

// NewMaintainer wires the maintainer.
func NewMaintainer(statuses store.StatusStore, clk clock.Clock, log *slog.Logger) *Maintainer {
	return &Maintainer{statuses: statuses, clock: clk, log: log}
}

// ApplyIngest writes the ingestion-owned fields.
func (m *Maintainer) ApplyIngest(ctx context.Context, hardwareID string, f IngestFields) {
	m.apply(ctx, hardwareID, store.StatusUpdate{
		LastSeenEventTimeMS:  domain.Ptr(f.LastSeenEventTimeMS),
		LastSeenIngestTimeMS: domain.Ptr(f.LastSeenIngestTimeMS),
		SensorStatusSummary:  f.SensorStatusSummary,
	})
}

// ApplyAggregate writes the aggregator-owned fields.
func (m *Maintainer) ApplyAggregate(ctx context.Context, hardwareID string, f AggregateFields) {
	m.apply(ctx, hardwareID, store.StatusUpdate{
		CoveragePctLastHour:       domain.Ptr(f.CoveragePctLastHour),
		SensorStatusSummary:       f.SensorStatusSummary,
		LastAggregateComputedAtMS: domain.Ptr(f.LastAggregateComputedAtMS),
	})
}

// ApplyEvents writes the detector-owned fields.
func (m *Maintainer) ApplyEvents(ctx context.Context, hardwareID string, f EventFields) {
	m.apply(ctx, hardwareID, store.StatusUpdate{
		LastEventDetectedAtMS:    domain.Ptr(f.LastEventDetectedAtMS),
		LastProcessedEventTimeMS: domain.Ptr(f.LastProcessedEventTimeMS),
	})
}

// ApplyInsight writes the generator-owned fields.
func (m *Maintainer) ApplyInsight(ctx context.Context, hardwareID string, f InsightFields) {
	m.apply(ctx, hardwareID, store.StatusUpdate{
		LastInsightGeneratedAtMS: domain.Ptr(f.LastInsightGeneratedAtMS),
	})
}

// RecordError appends to the device's bounded error log.
func (m *Maintainer) RecordError(ctx context.Context, hardwareID, code string, cause error) {
	err := m.statuses.RecordError(ctx, hardwareID, code, fmt.Sprint(cause), clock.NowMS(m.clock))
	if err != nil {
		m.log.WarnContext(ctx, "device error log update failed",
			slog.String("hardware_id", hardwareID),
			slog.Any("error", err),
		)
	}
}

func (m *Maintainer) apply(ctx context.Context, hardwareID string, upd store.StatusUpdate) {
	err := m.statuses.Apply(ctx, hardwareID, upd)
	if err != nil {
		m.log.WarnContext(ctx, "device status update failed",
			slog.String("hardware_id", hardwareID),
			slog.Any("error", err),
		)
	}
}
