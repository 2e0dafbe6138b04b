package aggregate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/timeutil"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

// ComputeDaily combines yesterday's hourly aggregates into one daily
// row per device. Invoked by the scheduler shortly after midnight UTC.
func (ag *Aggregator) ComputeDaily(ctx context.Context) error {
	nowMS := clock.NowMS(ag.clock)
	dayStart, dayEnd := timeutil.DayWindow(nowMS - timeutil.DayMS)

	return ag.rollover(ctx, domain.WindowHourly, domain.WindowDaily, dayStart, dayEnd)
}

// ComputeWeekly combines last week's daily aggregates into one weekly
// row per device, aligned to ISO Monday.
func (ag *Aggregator) ComputeWeekly(ctx context.Context) error {
	nowMS := clock.NowMS(ag.clock)
	weekStart, weekEnd := timeutil.WeekWindow(nowMS - timeutil.WeekMS)

	return ag.rollover(ctx, domain.WindowDaily, domain.WindowWeekly, weekStart, weekEnd)
}

// rollover reduces source-window rows inside [startMS, endMS) into one
// target row per device. Re-running for the same window is idempotent.
func (ag *Aggregator) rollover(ctx context.Context, src, dst domain.WindowType, startMS, endMS int64) error {
	devices, err := ag.aggregates.Devices(ctx, src, startMS, endMS)
	if err != nil {
		return fmt.Errorf("rollover device scan: %w", err)
	}

	nowMS := clock.NowMS(ag.clock)

	for _, hardwareID := range devices {
		rows, err := ag.aggregates.ListRange(ctx, hardwareID, src, startMS, endMS)
		if err != nil {
			return fmt.Errorf("rollover list %s: %w", hardwareID, err)
		}

		if len(rows) == 0 {
			continue
		}

		combined := Combine(hardwareID, dst, startMS, endMS, rows)
		combined.ComputedAtMS = nowMS

		if err := ag.aggregates.Put(ctx, combined); err != nil {
			return fmt.Errorf("rollover put %s: %w", hardwareID, err)
		}

		ag.log.InfoContext(ctx, "rollover computed",
			slog.String("hardware_id", hardwareID),
			slog.String("window_type", string(dst)),
			slog.Int64("window_start_ms", startMS),
			slog.Int("source_rows", len(rows)),
		)
	}

	return nil
}

// Combine reduces source aggregates into a single completed row for the
// target window. Counts and sums add; min/max span rows that saw valid
// data; derived fields are recomputed from the combined sums.
func Combine(hardwareID string, dst domain.WindowType, startMS, endMS int64, rows []domain.Aggregate) domain.Aggregate {
	out := domain.Aggregate{
		HardwareID:    hardwareID,
		WindowType:    dst,
		WindowStartMS: startMS,
		WindowEndMS:   endMS,
		IsComplete:    true,
	}

	for _, row := range rows {
		for _, name := range domain.SensorNames() {
			out.Stat(name).Merge(*row.Stat(name))
		}
	}

	out.Finalize()

	return out
}
