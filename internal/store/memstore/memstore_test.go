package memstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
)

func TestPutReading_DedupSignalsModify(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := t.Context()

	r := domain.Reading{HardwareID: "dev-1", TimestampMS: 1000, BatchID: "b1"}

	inserted, err := s.Put(ctx, r)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Put(ctx, r)
	require.NoError(t, err)
	assert.False(t, inserted, "second write of the same key is a dedup")

	recs, err := s.Feeds().Readings.Read(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, store.OpInsert, recs[0].Op)
	assert.Equal(t, store.OpModify, recs[1].Op)
}

func TestPutEvent_SecondInsertIsNoOp(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := t.Context()

	first := domain.Event{HardwareID: "dev-1", StartTimeMS: 500, Type: domain.EventWatering}
	second := domain.Event{HardwareID: "dev-1", StartTimeMS: 500, Type: domain.EventDryingCycle}

	inserted, err := s.PutEvent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.PutEvent(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)

	events, err := s.ListSince(ctx, "dev-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventWatering, events[0].Type, "first event wins")
}

func TestLedger_OnlyOneMarkerWins(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := t.Context()

	owned, err := s.MarkIfAbsent(ctx, "b1#1000", store.StageAggregate, "dev-1", 9999)
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = s.MarkIfAbsent(ctx, "b1#1000", store.StageAggregate, "dev-1", 9999)
	require.NoError(t, err)
	assert.False(t, owned)

	// Other stages on the same reading are independent columns.
	owned, err = s.MarkIfAbsent(ctx, "b1#1000", store.StageEvent, "dev-1", 9999)
	require.NoError(t, err)
	assert.True(t, owned)

	processed, err := s.IsProcessed(ctx, "b1#1000", store.StageAggregate)
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = s.IsProcessed(ctx, "b1#1000", store.StageStatus)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestFeed_UnackedRecordsRedeliver(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := t.Context()

	for i := range 3 {
		_, err := s.Put(ctx, domain.Reading{HardwareID: "dev-1", TimestampMS: int64(i), BatchID: "b"})
		require.NoError(t, err)
	}

	feed := s.Feeds().Readings

	recs, err := feed.Read(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	// Ack only the first; the other two redeliver.
	require.NoError(t, feed.Ack(ctx, recs[0].Seq))

	recs, err = feed.Read(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	require.NoError(t, feed.Ack(ctx, recs[0].Seq, recs[1].Seq))

	recs, err = feed.Read(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecordError_BoundedAndTruncated(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := t.Context()

	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}

	for i := range 13 {
		require.NoError(t, s.RecordError(ctx, "dev-1", "validation", string(long), int64(i)))
	}

	st, err := s.GetStatus(ctx, "dev-1")
	require.NoError(t, err)

	require.Len(t, st.LastErrors, domain.MaxStatusErrors)
	assert.Equal(t, int64(3), st.LastErrors[0].AtMS, "oldest entries are dropped")
	assert.Len(t, st.LastErrors[0].Message, domain.MaxErrorMessageLen)
	require.NotNil(t, st.LastErrorAtMS)
	assert.Equal(t, int64(12), *st.LastErrorAtMS)
}

func TestApplyAggregate_AtomicAddsAndSeededMinMax(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := t.Context()

	delta := store.AggregateDelta{
		HardwareID:    "dev-1",
		WindowStartMS: 3_600_000,
		Sensors: map[domain.SensorName]store.SensorDelta{
			domain.SensorTemperature: {
				TotalInc: 1, ValidInc: 1, SumAdd: 20, SumSqAdd: 400,
				SeedMin: domain.Ptr(20.0), SeedMax: domain.Ptr(20.0),
			},
		},
		ComputedAtMS: 1,
	}
	require.NoError(t, s.ApplyAggregate(ctx, delta))

	// Second reading with a lower value: sums add, but min/max only seed.
	delta.Sensors[domain.SensorTemperature] = store.SensorDelta{
		TotalInc: 1, ValidInc: 1, SumAdd: 10, SumSqAdd: 100,
		SeedMin: domain.Ptr(10.0), SeedMax: domain.Ptr(10.0),
	}
	require.NoError(t, s.ApplyAggregate(ctx, delta))

	agg, err := s.GetAggregate(ctx, "dev-1", domain.WindowHourly, 3_600_000)
	require.NoError(t, err)

	st := agg.Temperature
	assert.Equal(t, int64(2), st.TotalCount)
	assert.InDelta(t, 30.0, st.Sum, 1e-9)
	require.NotNil(t, st.Min)
	assert.InDelta(t, 20.0, *st.Min, 1e-9, "set-if-absent keeps the first seed")
}

func TestClaim_CASOnlyFromPending(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := t.Context()

	req := domain.InsightRequest{
		HardwareID: "dev-1", RequestTimeMS: 100,
		Type: domain.RequestScheduled, Status: domain.RequestPending,
	}
	require.NoError(t, s.CreateRequest(ctx, req))

	claimed, err := s.Claim(ctx, "dev-1", 100, 200)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.Claim(ctx, "dev-1", 100, 201)
	require.NoError(t, err)
	assert.False(t, claimed, "second claimer loses the CAS")

	require.NoError(t, s.Finish(ctx, "dev-1", 100, domain.RequestDone, "", 300))

	got, ok := s.Request("dev-1", 100)
	require.True(t, ok)
	assert.Equal(t, domain.RequestDone, got.Status)
	require.NotNil(t, got.ProcessedAtMS)
	assert.Equal(t, int64(300), *got.ProcessedAtMS)
}
