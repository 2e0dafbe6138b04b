package rollup

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
	"github.com/allenheltondev/dirt-man/internal/store/memstore"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

type updaterFixture struct {
	mem     *memstore.Store
	updater *Updater
	nowMS   int64
}

func newUpdaterFixture(t *testing.T) *updaterFixture {
	t.Helper()

	mem := memstore.New()
	clk := clock.NewFake(time.Date(2026, 3, 10, 12, 34, 56, 0, time.UTC))

	return &updaterFixture{
		mem:     mem,
		updater: NewUpdater(mem.Rollups(), clk, slog.New(slog.DiscardHandler)),
		nowMS:   clock.NowMS(clk),
	}
}

// count reads a counter from both granularities and requires they agree.
func (f *updaterFixture) count(t *testing.T, name string, dims map[string]string) int64 {
	t.Helper()

	minCount, _, _ := f.mem.Rollup(BucketKey(BucketMinute, bucketStart(BucketMinute, f.nowMS)), MetricKey(name, dims))
	hrCount, _, _ := f.mem.Rollup(BucketKey(BucketHour, bucketStart(BucketHour, f.nowMS)), MetricKey(name, dims))

	require.Equal(t, minCount, hrCount)

	return minCount
}

func (f *updaterFixture) sum(t *testing.T, name string) float64 {
	t.Helper()

	_, s, ok := f.mem.Rollup(BucketKey(BucketMinute, bucketStart(BucketMinute, f.nowMS)), MetricKey(name, nil))
	require.True(t, ok)
	require.NotNil(t, s)

	return *s
}

func okReading(hardwareID string, tsMS int64) domain.Reading {
	return domain.Reading{
		HardwareID:   hardwareID,
		TimestampMS:  tsMS,
		Temperature:  domain.SensorValue{Value: domain.Ptr(21.0), Status: domain.StatusOK},
		SoilMoisture: domain.SensorValue{Value: domain.Ptr(40.0), Status: domain.StatusOK},
	}
}

func TestHandleReadingBatch(t *testing.T) {
	t.Parallel()

	f := newUpdaterFixture(t)

	outOfRange := okReading("dev-b", f.nowMS-2000)
	outOfRange.SoilMoisture = domain.SensorValue{Status: domain.StatusOutOfRange}

	noTimestamp := okReading("dev-b", 0)

	recs := []store.Record[domain.Reading]{
		{Op: store.OpInsert, Seq: "1", Row: okReading("dev-a", f.nowMS-5000)},
		{Op: store.OpModify, Seq: "2", Row: okReading("dev-a", f.nowMS-3000)},
		{Op: store.OpInsert, Seq: "3", Row: outOfRange},
		{Op: store.OpInsert, Seq: "4", Row: noTimestamp},
		{Op: store.OpRemove, Seq: "5", Row: okReading("dev-c", f.nowMS)},
	}

	failed := f.updater.HandleReadingBatch(t.Context(), recs)
	assert.Empty(t, failed)

	assert.Equal(t, int64(3), f.count(t, MetricReadingsIngested, nil))
	assert.Equal(t, int64(1), f.count(t, MetricReadingsDeduped, nil))
	assert.Equal(t, int64(2), f.count(t, MetricReadingsInvalid, nil))
	assert.Equal(t, int64(2), f.count(t, MetricDevicesReporting, nil))

	assert.Equal(t, int64(3), f.count(t, MetricPipelineLagCount, nil))
	assert.InDelta(t, 10.0, f.sum(t, MetricPipelineLagSum), 1e-9)
}

func TestHandleReadingBatchSkipsFutureLag(t *testing.T) {
	t.Parallel()

	f := newUpdaterFixture(t)

	recs := []store.Record[domain.Reading]{
		{Op: store.OpInsert, Seq: "1", Row: okReading("dev-a", f.nowMS+60000)},
	}

	failed := f.updater.HandleReadingBatch(t.Context(), recs)
	assert.Empty(t, failed)

	assert.Equal(t, int64(1), f.count(t, MetricReadingsIngested, nil))
	assert.Equal(t, int64(0), f.count(t, MetricPipelineLagCount, nil))
}

func TestHandleEvent(t *testing.T) {
	t.Parallel()

	f := newUpdaterFixture(t)

	rec := store.Record[domain.Event]{
		Op:  store.OpInsert,
		Seq: "1",
		Row: domain.Event{HardwareID: "dev-a", Type: domain.EventWatering},
	}

	require.NoError(t, f.updater.HandleEvent(t.Context(), rec))

	dims := map[string]string{DimEventType: string(domain.EventWatering)}
	assert.Equal(t, int64(1), f.count(t, MetricEventsDetected, dims))

	// A rewrite of the same event row is not a new detection.
	rec.Op = store.OpModify
	require.NoError(t, f.updater.HandleEvent(t.Context(), rec))

	assert.Equal(t, int64(1), f.count(t, MetricEventsDetected, dims))
}

func TestHandleAggregate(t *testing.T) {
	t.Parallel()

	f := newUpdaterFixture(t)

	rec := store.Record[domain.Aggregate]{
		Op:  store.OpInsert,
		Seq: "1",
		Row: domain.Aggregate{HardwareID: "dev-a", WindowType: domain.WindowHourly},
	}

	require.NoError(t, f.updater.HandleAggregate(t.Context(), rec))

	rec.Op = store.OpModify
	require.NoError(t, f.updater.HandleAggregate(t.Context(), rec))

	dims := map[string]string{DimWindowType: string(domain.WindowHourly)}
	assert.Equal(t, int64(2), f.count(t, MetricAggregatesComputed, dims))
}

func TestHandleInsight(t *testing.T) {
	t.Parallel()

	f := newUpdaterFixture(t)

	success := store.Record[domain.Insight]{
		Op:  store.OpInsert,
		Seq: "1",
		Row: domain.Insight{HardwareID: "dev-a", Summary: "looks fine", GenerationDurationMS: 1200},
	}
	require.NoError(t, f.updater.HandleInsight(t.Context(), success))

	failure := store.Record[domain.Insight]{
		Op:  store.OpInsert,
		Seq: "2",
		Row: domain.Insight{HardwareID: "dev-a", GenerationDurationMS: 300},
	}
	require.NoError(t, f.updater.HandleInsight(t.Context(), failure))

	assert.Equal(t, int64(1), f.count(t, MetricInsightsGenerated, map[string]string{DimStatus: StatusSuccess}))
	assert.Equal(t, int64(1), f.count(t, MetricInsightsGenerated, map[string]string{DimStatus: StatusFailure}))
	assert.Equal(t, int64(2), f.count(t, MetricInsightDurationCnt, nil))
	assert.InDelta(t, 1500.0, f.sum(t, MetricInsightDurationSum), 1e-9)
}

func TestUpdaterWritesOnlyRollups(t *testing.T) {
	t.Parallel()

	f := newUpdaterFixture(t)

	rec := store.Record[domain.Event]{
		Op:  store.OpInsert,
		Seq: "1",
		Row: domain.Event{HardwareID: "dev-a", Type: domain.EventDryingCycle},
	}
	require.NoError(t, f.updater.HandleEvent(t.Context(), rec))

	// One logical increment lands in exactly two rows: minute and hour.
	assert.Equal(t, int64(2), f.mem.RollupWriteCount())
}
