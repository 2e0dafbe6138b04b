package profile

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store/memstore"
	"github.com/allenheltondev/dirt-man/internal/timeutil"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

func TestTypicalWateringIntervalSec(t *testing.T) {
	t.Parallel()

	assert.Nil(t, TypicalWateringIntervalSec(nil))
	assert.Nil(t, TypicalWateringIntervalSec([]int64{1000}), "one event is not an interval")

	// Events every 2 hours.
	got := TypicalWateringIntervalSec([]int64{0, 2 * timeutil.HourMS, 4 * timeutil.HourMS})
	require.NotNil(t, got)
	assert.Equal(t, int64(7200), *got)

	// Uneven intervals average out: 1h and 3h mean 2h.
	got = TypicalWateringIntervalSec([]int64{0, timeutil.HourMS, 4 * timeutil.HourMS})
	require.NotNil(t, got)
	assert.Equal(t, int64(7200), *got)
}

func TestBaselineMoistureRange(t *testing.T) {
	t.Parallel()

	assert.Nil(t, BaselineMoistureRange([]float64{30, 40, 50}), "below the minimum point count")

	// 20 points: 10th percentile index 2, 90th percentile index 18.
	avgs := make([]float64, 20)
	for i := range avgs {
		avgs[i] = float64(30 + i)
	}

	got := BaselineMoistureRange(avgs)
	require.NotNil(t, got)
	assert.InDelta(t, 32.0, got.Min, 1e-9)
	assert.InDelta(t, 48.0, got.Max, 1e-9)
}

func TestCheckStressCondition(t *testing.T) {
	t.Parallel()

	now := int64(100 * timeutil.HourMS)

	assert.False(t, CheckStressCondition(45, nil, now), "moist soil is never stressed")
	assert.True(t, CheckStressCondition(25, nil, now), "dry with no watering history")

	recent := domain.Ptr(now - 2*timeutil.HourMS)
	assert.False(t, CheckStressCondition(25, recent, now), "recent watering clears stress")

	old := domain.Ptr(now - 49*timeutil.HourMS)
	assert.True(t, CheckStressCondition(25, old, now), "watering older than 48h does not help")

	boundary := domain.Ptr(now - 48*timeutil.HourMS)
	assert.True(t, CheckStressCondition(25, boundary, now), "exactly 48h counts as stressed")
}

func TestOnWatering_LearnsIntervalAndBaseline(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	mem := memstore.New()
	clk := clock.NewFake(now)
	l := NewLearner(mem.Events(), mem.Aggregates(), mem.Profiles(), clk, slog.New(slog.DiscardHandler))
	ctx := t.Context()

	// Three waterings 6 hours apart within the lookback.
	base := now.UnixMilli() - 2*timeutil.DayMS
	for i := range 3 {
		_, err := mem.PutEvent(ctx, domain.Event{
			HardwareID:  "dev-1",
			StartTimeMS: base + int64(i)*6*timeutil.HourMS,
			Type:        domain.EventWatering,
		})
		require.NoError(t, err)
	}

	// Twelve hourly aggregates with valid moisture averages.
	for i := range 12 {
		agg := domain.Aggregate{
			HardwareID:    "dev-1",
			WindowType:    domain.WindowHourly,
			WindowStartMS: now.UnixMilli() - int64(i+1)*timeutil.HourMS,
			SoilMoisture: domain.SensorStats{
				ValidCount: 10, TotalCount: 12,
				Avg: domain.Ptr(float64(35 + i)),
			},
		}
		require.NoError(t, mem.PutAggregate(ctx, agg))
	}

	require.NoError(t, l.OnWatering(ctx, "dev-1"))

	p, err := mem.GetProfile(ctx, "dev-1")
	require.NoError(t, err)

	require.NotNil(t, p.TypicalWateringIntervalSec)
	assert.Equal(t, int64(6*3600), *p.TypicalWateringIntervalSec)
	assert.Len(t, p.LastWateringEvents, 3)
	require.NotNil(t, p.BaselineMoistureRange)
	assert.Less(t, p.BaselineMoistureRange.Min, p.BaselineMoistureRange.Max)
}

func TestOnWatering_PreservesUserFields(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	mem := memstore.New()
	clk := clock.NewFake(now)
	l := NewLearner(mem.Events(), mem.Aggregates(), mem.Profiles(), clk, slog.New(slog.DiscardHandler))
	ctx := t.Context()

	require.NoError(t, mem.PutUserFields(ctx, domain.DeviceProfile{
		HardwareID: "dev-1",
		PlantType:  "monstera",
		SoilType:   "loam",
	}))

	base := now.UnixMilli() - timeutil.DayMS
	for i := range 2 {
		_, err := mem.PutEvent(ctx, domain.Event{
			HardwareID:  "dev-1",
			StartTimeMS: base + int64(i)*4*timeutil.HourMS,
			Type:        domain.EventWatering,
		})
		require.NoError(t, err)
	}

	require.NoError(t, l.OnWatering(ctx, "dev-1"))

	p, err := mem.GetProfile(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "monstera", p.PlantType, "learner must not touch user fields")
	require.NotNil(t, p.TypicalWateringIntervalSec)
}
