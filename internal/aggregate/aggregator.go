// Package aggregate computes time-windowed sensor statistics: the
// incremental per-reading path on open hourly windows, rebuilds of
// closed windows, and the scheduled daily/weekly rollovers.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/allenheltondev/dirt-man/internal/devstatus"
	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
	"github.com/allenheltondev/dirt-man/internal/timeutil"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

// rebuildPageSize bounds a single readings page during a rebuild scan.
const rebuildPageSize = 500

// Coverage thresholds for the sensor status summary after a rebuild.
const (
	coverageOK       = 0.8
	coverageDegraded = 0.3
)

// Aggregator owns the aggregates table.
type Aggregator struct {
	readings   store.ReadingStore
	aggregates store.AggregateStore
	ledger     store.LedgerStore
	profiles   store.ProfileStore
	maintainer *devstatus.Maintainer
	clock      clock.Clock
	log        *slog.Logger
}

// New wires an aggregator.
func New(
	readings store.ReadingStore,
	aggregates store.AggregateStore,
	ledger store.LedgerStore,
	profiles store.ProfileStore,
	maintainer *devstatus.Maintainer,
	clk clock.Clock,
	log *slog.Logger,
) *Aggregator {
	return &Aggregator{
		readings:   readings,
		aggregates: aggregates,
		ledger:     ledger,
		profiles:   profiles,
		maintainer: maintainer,
		clock:      clk,
		log:        log,
	}
}

// HandleReading processes one reading feed record: ledger gate, clock
// skew check, then either an incremental update (open window), a
// rebuild (late but within the lateness window), or a discard.
func (ag *Aggregator) HandleReading(ctx context.Context, rec store.Record[domain.Reading]) error {
	r := rec.Row
	nowMS := clock.NowMS(ag.clock)

	owned, err := ag.ledger.MarkIfAbsent(ctx, r.ReadingID(), store.StageAggregate, r.HardwareID, nowMS)
	if err != nil {
		return fmt.Errorf("ledger mark: %w", err)
	}

	if !owned {
		return nil
	}

	if skew, warn := timeutil.CheckClockSkew(r.TimestampMS, r.IngestTimeMS); warn {
		ag.log.WarnContext(ctx, "device clock skew",
			slog.String("hardware_id", r.HardwareID),
			slog.Duration("skew", skew),
		)
	}

	startMS, endMS := timeutil.HourWindow(r.TimestampMS)

	switch {
	case nowMS < endMS:
		return ag.applyIncremental(ctx, r, startMS, nowMS)

	case timeutil.IsWithinLatenessWindow(endMS, nowMS):
		return ag.RebuildWindow(ctx, r.HardwareID, startMS)

	default:
		ag.log.InfoContext(ctx, "reading beyond lateness window, discarded",
			slog.String("hardware_id", r.HardwareID),
			slog.Int64("timestamp_ms", r.TimestampMS),
			slog.Int64("window_end_ms", endMS),
		)

		return nil
	}
}

// applyIncremental issues the single atomic update for an open window.
func (ag *Aggregator) applyIncremental(ctx context.Context, r domain.Reading, startMS, nowMS int64) error {
	sensors := make(map[domain.SensorName]store.SensorDelta, 4)

	for _, name := range domain.SensorNames() {
		sv := r.Sensor(name)
		d := store.SensorDelta{TotalInc: 1}

		if sv.Valid() {
			v := *sv.Value
			d.ValidInc = 1
			d.SumAdd = v
			d.SumSqAdd = v * v
			d.SeedMin = domain.Ptr(v)
			d.SeedMax = domain.Ptr(v)
		}

		sensors[name] = d
	}

	err := ag.aggregates.Apply(ctx, store.AggregateDelta{
		HardwareID:    r.HardwareID,
		WindowStartMS: startMS,
		Sensors:       sensors,
		ComputedAtMS:  nowMS,
	})
	if err != nil {
		return fmt.Errorf("incremental update: %w", err)
	}

	return nil
}

// RebuildWindow recomputes a closed hourly window from raw readings,
// overwrites the row, and refreshes the aggregator-owned device status
// fields. Rebuilds are idempotent for a fixed input set.
func (ag *Aggregator) RebuildWindow(ctx context.Context, hardwareID string, startMS int64) error {
	endMS := startMS + timeutil.HourMS
	nowMS := clock.NowMS(ag.clock)

	agg := domain.Aggregate{
		HardwareID:    hardwareID,
		WindowType:    domain.WindowHourly,
		WindowStartMS: startMS,
		WindowEndMS:   endMS,
		IsComplete:    nowMS >= endMS+timeutil.LatenessWindowMS,
		ComputedAtMS:  nowMS,
	}

	cursor := startMS

	for {
		page, err := ag.readings.Range(ctx, hardwareID, cursor, endMS, rebuildPageSize)
		if err != nil {
			return fmt.Errorf("rebuild scan: %w", err)
		}

		for _, r := range page {
			for _, name := range domain.SensorNames() {
				agg.Stat(name).Observe(r.Sensor(name))
			}
		}

		if len(page) < rebuildPageSize {
			break
		}

		cursor = page[len(page)-1].TimestampMS + 1
	}

	agg.Finalize()

	if err := ag.aggregates.Put(ctx, agg); err != nil {
		return fmt.Errorf("rebuild put: %w", err)
	}

	coverage := ag.coverage(ctx, hardwareID, agg.Temperature.TotalCount)

	ag.maintainer.ApplyAggregate(ctx, hardwareID, devstatus.AggregateFields{
		CoveragePctLastHour:       coverage,
		SensorStatusSummary:       SummaryFromCoverage(coverage),
		LastAggregateComputedAtMS: nowMS,
	})

	return nil
}

// coverage derives the fraction of expected samples seen in the hour.
func (ag *Aggregator) coverage(ctx context.Context, hardwareID string, totalCount int64) float64 {
	intervalSec := int64(domain.DefaultExpectedIntervalSec)

	profile, err := ag.profiles.Get(ctx, hardwareID)
	if err == nil {
		intervalSec = profile.ReportingIntervalSec()
	} else if !errors.Is(err, store.ErrNotFound) {
		ag.log.WarnContext(ctx, "profile fetch failed, using default interval",
			slog.String("hardware_id", hardwareID),
			slog.Any("error", err),
		)
	}

	expected := float64(3600) / float64(intervalSec)
	if expected <= 0 {
		return 0
	}

	return math.Min(1.0, float64(totalCount)/expected)
}

// SummaryFromCoverage maps hourly coverage to a sensor status summary.
func SummaryFromCoverage(coverage float64) domain.SummaryStatus {
	switch {
	case coverage >= coverageOK:
		return domain.SummaryOK
	case coverage >= coverageDegraded:
		return domain.SummaryDegraded
	default:
		return domain.SummaryMissing
	}
}
