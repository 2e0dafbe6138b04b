package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okValue(v float64) SensorValue {
	return SensorValue{Value: Ptr(v), Status: StatusOK}
}

func TestSensorStats_ObserveValidAndInvalid(t *testing.T) {
	t.Parallel()

	var s SensorStats

	s.Observe(okValue(18))
	s.Observe(okValue(22))
	s.Observe(SensorValue{Value: Ptr(99.0), Status: StatusOutOfRange})
	s.Observe(SensorValue{Status: StatusMissing})

	assert.Equal(t, int64(4), s.TotalCount)
	assert.Equal(t, int64(2), s.ValidCount)
	assert.InDelta(t, 40.0, s.Sum, 1e-9)
	assert.InDelta(t, 18*18+22*22, s.SumSq, 1e-9)

	require.NotNil(t, s.Min)
	require.NotNil(t, s.Max)
	assert.InDelta(t, 18.0, *s.Min, 1e-9)
	assert.InDelta(t, 22.0, *s.Max, 1e-9)
}

func TestSensorStats_MergeCombinesHourlies(t *testing.T) {
	t.Parallel()

	a := SensorStats{ValidCount: 3, TotalCount: 3, Sum: 60, SumSq: 1204, Min: Ptr(18.0), Max: Ptr(22.0)}
	b := SensorStats{ValidCount: 3, TotalCount: 3, Sum: 66, SumSq: 1460, Min: Ptr(20.0), Max: Ptr(24.0)}

	a.Merge(b)
	a.Finalize()

	assert.Equal(t, int64(6), a.ValidCount)
	assert.Equal(t, int64(6), a.TotalCount)
	assert.InDelta(t, 126.0, a.Sum, 1e-9)
	assert.InDelta(t, 2664.0, a.SumSq, 1e-9)

	require.NotNil(t, a.Min)
	require.NotNil(t, a.Max)
	assert.InDelta(t, 18.0, *a.Min, 1e-9)
	assert.InDelta(t, 24.0, *a.Max, 1e-9)

	require.NotNil(t, a.Avg)
	require.NotNil(t, a.Stddev)
	assert.InDelta(t, 21.0, *a.Avg, 1e-9)
	assert.InDelta(t, 1.826, *a.Stddev, 0.001)
}

func TestSensorStats_MergeSkipsMinMaxWithoutValidData(t *testing.T) {
	t.Parallel()

	a := SensorStats{ValidCount: 2, TotalCount: 2, Sum: 40, SumSq: 820, Min: Ptr(18.0), Max: Ptr(22.0)}
	empty := SensorStats{TotalCount: 5}

	a.Merge(empty)

	assert.Equal(t, int64(7), a.TotalCount)
	assert.Equal(t, int64(2), a.ValidCount)
	require.NotNil(t, a.Min)
	assert.InDelta(t, 18.0, *a.Min, 1e-9)
}

func TestSensorStats_FinalizeEmpty(t *testing.T) {
	t.Parallel()

	s := SensorStats{TotalCount: 4}
	s.Finalize()

	assert.Nil(t, s.Avg)
	assert.Nil(t, s.Stddev)
	assert.Nil(t, s.Min)
	assert.Nil(t, s.Max)
}

func TestSensorStats_FinalizeClampsNegativeVariance(t *testing.T) {
	t.Parallel()

	// Identical values can under-shoot to a tiny negative variance.
	var s SensorStats
	for range 5 {
		s.Observe(okValue(0.1))
	}

	s.Finalize()

	require.NotNil(t, s.Stddev)
	assert.GreaterOrEqual(t, *s.Stddev, 0.0)
	assert.InDelta(t, 0.0, *s.Stddev, 1e-6)
}

func TestAggregate_InvariantsAfterFinalize(t *testing.T) {
	t.Parallel()

	agg := Aggregate{HardwareID: "dev-1", WindowType: WindowHourly}

	for _, v := range []float64{18, 20, 22} {
		agg.Temperature.Observe(okValue(v))
	}

	agg.Finalize()

	st := agg.Temperature
	require.NotNil(t, st.Avg)
	assert.LessOrEqual(t, st.ValidCount, st.TotalCount)
	assert.LessOrEqual(t, *st.Min, *st.Avg)
	assert.LessOrEqual(t, *st.Avg, *st.Max)
	assert.GreaterOrEqual(t, *st.Stddev, 0.0)

	assert.Equal(t, "dev-1#hourly", agg.DeviceWindow())
}

func TestReading_ReadingID(t *testing.T) {
	t.Parallel()

	r := Reading{BatchID: "batch-7", TimestampMS: 1700000000000}
	assert.Equal(t, "batch-7#1700000000000", r.ReadingID())
}
