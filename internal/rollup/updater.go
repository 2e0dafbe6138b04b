package rollup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
	"github.com/allenheltondev/dirt-man/internal/stream"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

// Updater folds change feed records into rollup counters. It holds the
// rollup store and nothing else: no other table is reachable from here.
type Updater struct {
	rollups store.RollupStore
	clock   clock.Clock
	log     *slog.Logger
}

// NewUpdater wires a rollup updater.
func NewUpdater(rollups store.RollupStore, clk clock.Clock, log *slog.Logger) *Updater {
	return &Updater{rollups: rollups, clock: clk, log: log}
}

// HandleReadingBatch processes one reading feed batch. Per-record
// counters are attributed back to their record on failure; the
// devices_reporting counter is per batch and only logged on failure.
func (u *Updater) HandleReadingBatch(ctx context.Context, recs []store.Record[domain.Reading]) []stream.FailedItem {
	nowMS := clock.NowMS(u.clock)

	var failed []stream.FailedItem

	devices := make(map[string]struct{})

	for _, rec := range recs {
		if rec.Op == store.OpRemove {
			continue
		}

		if err := u.applyReading(ctx, rec, nowMS); err != nil {
			u.log.ErrorContext(ctx, "reading rollup failed",
				slog.String("seq", rec.Seq),
				slog.Any("error", err),
			)

			failed = append(failed, stream.FailedItem{ItemIdentifier: rec.Seq})

			continue
		}

		devices[rec.Row.HardwareID] = struct{}{}
	}

	if len(devices) > 0 {
		err := u.add(ctx, nowMS, MetricDevicesReporting, nil, int64(len(devices)), nil)
		if err != nil {
			u.log.ErrorContext(ctx, "devices reporting rollup failed", slog.Any("error", err))
		}
	}

	return failed
}

func (u *Updater) applyReading(ctx context.Context, rec store.Record[domain.Reading], nowMS int64) error {
	name := MetricReadingsIngested
	if rec.Op == store.OpModify {
		name = MetricReadingsDeduped
	}

	if err := u.add(ctx, nowMS, name, nil, 1, nil); err != nil {
		return err
	}

	if readingInvalid(rec.Row) {
		if err := u.add(ctx, nowMS, MetricReadingsInvalid, nil, 1, nil); err != nil {
			return err
		}
	}

	if lag := float64(nowMS-rec.Row.TimestampMS) / 1000; rec.Row.TimestampMS > 0 && lag >= 0 {
		if err := u.add(ctx, nowMS, MetricPipelineLagSum, nil, 0, &lag); err != nil {
			return err
		}

		if err := u.add(ctx, nowMS, MetricPipelineLagCount, nil, 1, nil); err != nil {
			return err
		}
	}

	return nil
}

// HandleEvent counts freshly detected events by type. Modifies are
// rewrites of an existing row and do not count.
func (u *Updater) HandleEvent(ctx context.Context, rec store.Record[domain.Event]) error {
	if rec.Op != store.OpInsert {
		return nil
	}

	nowMS := clock.NowMS(u.clock)

	return u.add(ctx, nowMS, MetricEventsDetected,
		map[string]string{DimEventType: string(rec.Row.Type)}, 1, nil)
}

// HandleAggregate counts aggregate computations by window type. Every
// change counts: inserts, incremental updates, and rebuilds.
func (u *Updater) HandleAggregate(ctx context.Context, rec store.Record[domain.Aggregate]) error {
	nowMS := clock.NowMS(u.clock)

	return u.add(ctx, nowMS, MetricAggregatesComputed,
		map[string]string{DimWindowType: string(rec.Row.WindowType)}, 1, nil)
}

// HandleInsight counts generated insights by outcome and tracks the
// generation latency.
func (u *Updater) HandleInsight(ctx context.Context, rec store.Record[domain.Insight]) error {
	nowMS := clock.NowMS(u.clock)

	status := StatusFailure
	if rec.Row.Summary != "" || len(rec.Row.Recommendations) > 0 {
		status = StatusSuccess
	}

	err := u.add(ctx, nowMS, MetricInsightsGenerated,
		map[string]string{DimStatus: status}, 1, nil)
	if err != nil {
		return err
	}

	dur := float64(rec.Row.GenerationDurationMS)

	if err := u.add(ctx, nowMS, MetricInsightDurationSum, nil, 0, &dur); err != nil {
		return err
	}

	return u.add(ctx, nowMS, MetricInsightDurationCnt, nil, 1, nil)
}

// add applies one logical increment to both the minute and hour bucket.
func (u *Updater) add(ctx context.Context, nowMS int64, name string, dims map[string]string, countInc int64, sumAdd *float64) error {
	for _, bucketType := range []string{BucketMinute, BucketHour} {
		startMS := bucketStart(bucketType, nowMS)

		err := u.rollups.Add(ctx, store.RollupDelta{
			BucketType:    bucketType,
			BucketStartMS: startMS,
			MetricName:    name,
			Dimensions:    dims,
			CountInc:      countInc,
			SumAdd:        sumAdd,
			ExpireAtMS:    expireAt(bucketType, startMS),
		})
		if err != nil {
			return fmt.Errorf("%s rollup %s: %w", bucketType, name, err)
		}
	}

	return nil
}

// readingInvalid reports whether a reading carries an out-of-range
// sensor or lacks an event timestamp.
func readingInvalid(r domain.Reading) bool {
	if r.TimestampMS <= 0 {
		return true
	}

	for _, name := range domain.SensorNames() {
		if r.Sensor(name).Status == domain.StatusOutOfRange {
			return true
		}
	}

	return false
}
