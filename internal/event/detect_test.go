package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/timeutil"
)

func moistureReading(ts int64, moisture float64) domain.Reading {
	return domain.Reading{
		HardwareID:   "dev-1",
		TimestampMS:  ts,
		SoilMoisture: domain.SensorValue{Value: domain.Ptr(moisture), Status: domain.StatusOK},
	}
}

func moistureContext(points ...[2]float64) Context {
	readings := make([]domain.Reading, 0, len(points))
	for _, p := range points {
		readings = append(readings, moistureReading(int64(p[0]), p[1]))
	}

	return Context{
		Current: readings[len(readings)-1],
		History: readings[:len(readings)-1],
	}
}

func TestDetectWatering_RapidSpike(t *testing.T) {
	t.Parallel()

	// Readings at t=0 (30%), +10m (31%), +25m (50%).
	c := moistureContext(
		[2]float64{0, 30},
		[2]float64{10 * float64(timeutil.MinuteMS), 31},
		[2]float64{25 * float64(timeutil.MinuteMS), 50},
	)

	e := DetectWatering(c)

	require.NotNil(t, e)
	assert.Equal(t, domain.EventWatering, e.Type)
	assert.Equal(t, int64(0), e.StartTimeMS)
	assert.Equal(t, int64(1_500_000), e.EndTimeMS)
	assert.Equal(t, "rapid_spike", e.DetectionMetadata["detection_mode"])
	assert.InDelta(t, 20.0, e.SensorValues["increase_pct"], 0.01)
}

func TestDetectWatering_GradualRiseBelowThresholdIgnored(t *testing.T) {
	t.Parallel()

	// 30 -> 39 over 45 minutes: only a 9% rise.
	c := moistureContext(
		[2]float64{0, 30},
		[2]float64{15 * float64(timeutil.MinuteMS), 33},
		[2]float64{30 * float64(timeutil.MinuteMS), 36},
		[2]float64{45 * float64(timeutil.MinuteMS), 39},
	)

	assert.Nil(t, DetectWatering(c))
}

func TestDetectWatering_GradualRise(t *testing.T) {
	t.Parallel()

	c := moistureContext(
		[2]float64{0, 30},
		[2]float64{20 * float64(timeutil.MinuteMS), 34},
		[2]float64{40 * float64(timeutil.MinuteMS), 38},
		[2]float64{55 * float64(timeutil.MinuteMS), 41},
	)

	e := DetectWatering(c)

	require.NotNil(t, e)
	assert.Equal(t, "gradual_rise", e.DetectionMetadata["detection_mode"])
	assert.Equal(t, int64(0), e.StartTimeMS)
}

func TestDetectWatering_NonOKStatusExcluded(t *testing.T) {
	t.Parallel()

	// The low sample that would make this a spike is flagged noisy.
	low := moistureReading(0, 30)
	low.SoilMoisture.Status = domain.StatusNoisy

	c := Context{
		Current: moistureReading(25*timeutil.MinuteMS, 50),
		History: []domain.Reading{low, moistureReading(10*timeutil.MinuteMS, 48)},
	}

	assert.Nil(t, DetectWatering(c))
}

func TestDetectWatering_CurrentNotOK(t *testing.T) {
	t.Parallel()

	current := moistureReading(25*timeutil.MinuteMS, 50)
	current.SoilMoisture.Status = domain.StatusStale

	c := Context{
		Current: current,
		History: []domain.Reading{moistureReading(0, 30)},
	}

	assert.Nil(t, DetectWatering(c))
}

func TestDetectDryingCycle(t *testing.T) {
	t.Parallel()

	// Declining from 60 to 45 every 30 minutes with one brief plateau.
	values := []float64{60, 58, 56, 56, 53, 51, 49, 47, 45}
	points := make([][2]float64, 0, len(values))

	for i, v := range values {
		points = append(points, [2]float64{float64(i) * 30 * float64(timeutil.MinuteMS), v})
	}

	c := moistureContext(points...)

	e := DetectDryingCycle(c)

	require.NotNil(t, e)
	assert.Equal(t, domain.EventDryingCycle, e.Type)
	assert.Equal(t, int64(0), e.StartTimeMS, "event spans from the earliest sample")
	assert.InDelta(t, 15.0, e.SensorValues["total_drop_pct"], 0.01)
}

func TestDetectDryingCycle_SmallDropIgnored(t *testing.T) {
	t.Parallel()

	c := moistureContext(
		[2]float64{0, 50},
		[2]float64{1 * float64(timeutil.HourMS), 46},
		[2]float64{2 * float64(timeutil.HourMS), 43},
		[2]float64{3 * float64(timeutil.HourMS), 41},
	)

	assert.Nil(t, DetectDryingCycle(c), "a 9% drop is below the threshold")
}

func TestDetectDryingCycle_TooFewSamples(t *testing.T) {
	t.Parallel()

	c := moistureContext(
		[2]float64{0, 60},
		[2]float64{1 * float64(timeutil.HourMS), 40},
	)

	assert.Nil(t, DetectDryingCycle(c))
}

func tempContext(temp float64) Context {
	return Context{
		Current: domain.Reading{
			HardwareID:  "dev-1",
			TimestampMS: 1000,
			Temperature: domain.SensorValue{Value: domain.Ptr(temp), Status: domain.StatusOK},
		},
	}
}

func TestDetectTemperatureStress_Boundaries(t *testing.T) {
	t.Parallel()

	assert.Nil(t, DetectTemperatureStress(tempContext(35.0)), "boundary does not trigger")
	assert.Nil(t, DetectTemperatureStress(tempContext(5.0)), "boundary does not trigger")
	assert.Nil(t, DetectTemperatureStress(tempContext(20.0)))

	high := DetectTemperatureStress(tempContext(35.1))
	require.NotNil(t, high)
	assert.Equal(t, "high", high.DetectionMetadata["stress_type"])
	assert.Equal(t, int64(1000), high.StartTimeMS)
	assert.Equal(t, int64(1000), high.EndTimeMS)

	low := DetectTemperatureStress(tempContext(4.9))
	require.NotNil(t, low)
	assert.Equal(t, "low", low.DetectionMetadata["stress_type"])
}

func humidityReading(ts int64, humidity float64) domain.Reading {
	return domain.Reading{
		HardwareID:  "dev-1",
		TimestampMS: ts,
		Humidity:    domain.SensorValue{Value: domain.Ptr(humidity), Status: domain.StatusOK},
	}
}

func TestDetectHumidityAnomaly(t *testing.T) {
	t.Parallel()

	now := 2 * timeutil.HourMS

	c := Context{
		Current: humidityReading(now, 75),
		History: []domain.Reading{
			humidityReading(now-50*timeutil.MinuteMS, 50),
			humidityReading(now-20*timeutil.MinuteMS, 60),
		},
	}

	e := DetectHumidityAnomaly(c)

	require.NotNil(t, e)
	assert.Equal(t, now-timeutil.HourMS, e.StartTimeMS, "window start is one hour back")
	assert.InDelta(t, 25.0, e.SensorValues["humidity_range"], 0.01)

	// A 20-point spread is the boundary and does not trigger.
	c.History = []domain.Reading{humidityReading(now-30*timeutil.MinuteMS, 55)}
	assert.Nil(t, DetectHumidityAnomaly(c))
}

func envReading(ts int64, temp, hum, press float64) domain.Reading {
	return domain.Reading{
		HardwareID:  "dev-1",
		TimestampMS: ts,
		Temperature: domain.SensorValue{Value: domain.Ptr(temp), Status: domain.StatusOK},
		Humidity:    domain.SensorValue{Value: domain.Ptr(hum), Status: domain.StatusOK},
		Pressure:    domain.SensorValue{Value: domain.Ptr(press), Status: domain.StatusOK},
	}
}

func TestDetectEnvironmentalChange_AllThreeRequired(t *testing.T) {
	t.Parallel()

	now := 3 * timeutil.HourMS

	c := Context{
		Current: envReading(now, 32, 70, 1015),
		History: []domain.Reading{envReading(now-90*timeutil.MinuteMS, 20, 50, 1003)},
	}

	e := DetectEnvironmentalChange(c)

	require.NotNil(t, e)
	assert.Equal(t, now-2*timeutil.HourMS, e.StartTimeMS)
	assert.InDelta(t, 12.0, e.SensorValues["temperature_range"], 0.01)

	// Pressure range at the boundary: no event.
	c.History = []domain.Reading{envReading(now-90*timeutil.MinuteMS, 20, 50, 1005)}
	assert.Nil(t, DetectEnvironmentalChange(c))
}

func TestDetectEnvironmentalChange_SkipsPartiallyValidReadings(t *testing.T) {
	t.Parallel()

	now := 3 * timeutil.HourMS

	partial := envReading(now-90*timeutil.MinuteMS, 20, 50, 1003)
	partial.Pressure.Status = domain.StatusStale

	c := Context{
		Current: envReading(now, 32, 70, 1015),
		History: []domain.Reading{partial},
	}

	assert.Nil(t, DetectEnvironmentalChange(c), "readings missing any of the three sensors are excluded")
}
