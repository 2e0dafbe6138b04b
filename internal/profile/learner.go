// Package profile learns per-device behavior from history: the typical
// watering interval and the baseline soil moisture band. The learner
// writes only the learned profile subset; user fields are out of reach.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
	"github.com/allenheltondev/dirt-man/internal/timeutil"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

// Learning windows and thresholds.
const (
	eventLookbackMS     = 14 * timeutil.DayMS
	aggregateLookbackMS = 30 * timeutil.DayMS

	maxWateringEvents   = 20
	minWateringEvents   = 2
	minBaselinePoints   = 10
	baselineLowPercent  = 10
	baselineHighPercent = 90
	stressMoisturePct   = 30.0
	stressWateringGapMS = 48 * timeutil.HourMS
)

// Learner derives the learned profile fields from the event and
// aggregate history.
type Learner struct {
	events     store.EventStore
	aggregates store.AggregateStore
	profiles   store.ProfileStore
	clock      clock.Clock
	log        *slog.Logger
}

// NewLearner wires a profile learner.
func NewLearner(
	events store.EventStore,
	aggregates store.AggregateStore,
	profiles store.ProfileStore,
	clk clock.Clock,
	log *slog.Logger,
) *Learner {
	return &Learner{events: events, aggregates: aggregates, profiles: profiles, clock: clk, log: log}
}

// OnWatering refreshes the learned fields after a watering event was
// persisted for the device.
func (l *Learner) OnWatering(ctx context.Context, hardwareID string) error {
	nowMS := clock.NowMS(l.clock)

	waterings, err := l.events.ListByTypeSince(ctx, hardwareID, domain.EventWatering, nowMS-eventLookbackMS, 0)
	if err != nil {
		return fmt.Errorf("watering history: %w", err)
	}

	timestamps := make([]int64, 0, len(waterings))
	for _, e := range waterings {
		timestamps = append(timestamps, e.StartTimeMS)
	}

	if len(timestamps) > maxWateringEvents {
		timestamps = timestamps[len(timestamps)-maxWateringEvents:]
	}

	upd := store.LearnedProfileUpdate{
		LastWateringEvents:         timestamps,
		TypicalWateringIntervalSec: TypicalWateringIntervalSec(timestamps),
	}

	baseline, err := l.learnBaseline(ctx, hardwareID, nowMS)
	if err != nil {
		l.log.WarnContext(ctx, "baseline learning failed",
			slog.String("hardware_id", hardwareID),
			slog.Any("error", err),
		)
	} else {
		upd.BaselineMoistureRange = baseline
	}

	if err := l.profiles.ApplyLearned(ctx, hardwareID, upd); err != nil {
		return fmt.Errorf("apply learned fields: %w", err)
	}

	return nil
}

// learnBaseline recomputes the moisture baseline from the last 30 days
// of hourly aggregates.
func (l *Learner) learnBaseline(ctx context.Context, hardwareID string, nowMS int64) (*domain.MoistureRange, error) {
	rows, err := l.aggregates.ListRange(ctx, hardwareID, domain.WindowHourly, nowMS-aggregateLookbackMS, nowMS)
	if err != nil {
		return nil, fmt.Errorf("aggregate history: %w", err)
	}

	var avgs []float64

	for _, a := range rows {
		if a.SoilMoisture.ValidCount > 0 && a.SoilMoisture.Avg != nil {
			avgs = append(avgs, *a.SoilMoisture.Avg)
		}
	}

	return BaselineMoistureRange(avgs), nil
}

// TypicalWateringIntervalSec is the mean of consecutive intervals
// between the given watering timestamps (ascending). Nil when fewer
// than two events exist.
func TypicalWateringIntervalSec(timestamps []int64) *int64 {
	if len(timestamps) < minWateringEvents {
		return nil
	}

	var totalMS int64

	for i := 1; i < len(timestamps); i++ {
		totalMS += timestamps[i] - timestamps[i-1]
	}

	meanSec := totalMS / int64(len(timestamps)-1) / 1000

	return domain.Ptr(meanSec)
}

// BaselineMoistureRange is the 10th/90th percentile band of hourly
// moisture averages. Nil when fewer than ten points exist.
func BaselineMoistureRange(avgs []float64) *domain.MoistureRange {
	if len(avgs) < minBaselinePoints {
		return nil
	}

	sorted := append([]float64{}, avgs...)
	sort.Float64s(sorted)

	return &domain.MoistureRange{
		Min: percentile(sorted, baselineLowPercent),
		Max: percentile(sorted, baselineHighPercent),
	}
}

// percentile picks by index = n*p/100, clamped to the last element.
func percentile(sorted []float64, p int) float64 {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

// CheckStressCondition reports whether the device is in moisture
// stress: dry soil with no recent watering.
func CheckStressCondition(currentMoisture float64, lastWateringMS *int64, nowMS int64) bool {
	if currentMoisture >= stressMoisturePct {
		return false
	}

	return lastWateringMS == nil || nowMS-*lastWateringMS >= stressWateringGapMS
}

// LastWatering returns the most recent learned watering timestamp, or
// nil when none is recorded.
func LastWatering(p domain.DeviceProfile) *int64 {
	if len(p.LastWateringEvents) == 0 {
		return nil
	}

	return domain.Ptr(p.LastWateringEvents[len(p.LastWateringEvents)-1])
}
