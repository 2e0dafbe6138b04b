// Package event detects physical events (waterings, drying cycles,
// stress conditions) from the raw reading feed. Detectors are pure
// functions over a detection context; persistence and cooldowns live in
// the orchestrator.
package event

import (
	"fmt"

	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/timeutil"
)

// Detection thresholds.
const (
	rapidSpikeThresholdPct   = 15.0
	rapidSpikeWindowMinutes  = 30
	gradualRiseThresholdPct  = 10.0
	gradualRiseWindowMinutes = 60
	gradualRiseMinSamples    = 2
	gradualRiseMinSlopes     = 2

	dryingWindowHours    = 6
	dryingMinSamples     = 3
	dryingDropPct        = 10.0
	dryingDecliningRatio = 0.7

	tempStressHighC = 35.0
	tempStressLowC  = 5.0

	humidityWindowHours  = 1
	humidityAnomalyRange = 20.0

	envChangeWindowHours   = 2
	envChangeTempRange     = 10.0
	envChangeHumidityRange = 15.0
	envChangePressureRange = 10.0
)

// Context is the input to every detector: the current reading plus its
// history, ascending by timestamp and strictly before the current one.
type Context struct {
	Current domain.Reading
	History []domain.Reading
}

// sample is one valid sensor observation.
type sample struct {
	tsMS  int64
	value float64
}

// validSamples collects valid observations of one sensor from the
// history within [current-window, current), ascending.
func (c Context) validSamples(name domain.SensorName, windowMS int64) []sample {
	cutoff := c.Current.TimestampMS - windowMS

	var out []sample

	for _, r := range c.History {
		if r.TimestampMS < cutoff || r.TimestampMS >= c.Current.TimestampMS {
			continue
		}

		sv := r.Sensor(name)
		if !sv.Valid() {
			continue
		}

		out = append(out, sample{tsMS: r.TimestampMS, value: *sv.Value})
	}

	return out
}

// Detector produces at most one candidate event from a context.
type Detector func(c Context) *domain.Event

// Detectors returns the five detectors in their run order.
func Detectors() map[domain.EventType]Detector {
	return map[domain.EventType]Detector{
		domain.EventWatering:     DetectWatering,
		domain.EventDryingCycle:  DetectDryingCycle,
		domain.EventTempStress:   DetectTemperatureStress,
		domain.EventHumidityAnom: DetectHumidityAnomaly,
		domain.EventEnvChange:    DetectEnvironmentalChange,
	}
}

// DetectWatering looks for a soil moisture rise: a rapid spike over the
// last 30 minutes, or failing that a gradual rise over the last hour.
// Rapid spike takes precedence.
func DetectWatering(c Context) *domain.Event {
	cur := c.Current.SoilMoisture
	if !cur.Valid() {
		return nil
	}

	current := *cur.Value

	if e := detectRapidSpike(c, current); e != nil {
		return e
	}

	return detectGradualRise(c, current)
}

func detectRapidSpike(c Context, current float64) *domain.Event {
	recent := c.validSamples(domain.SensorSoilMoisture, rapidSpikeWindowMinutes*timeutil.MinuteMS)
	if len(recent) == 0 {
		return nil
	}

	minSample := recent[0]
	for _, s := range recent[1:] {
		if s.value < minSample.value {
			minSample = s
		}
	}

	increase := current - minSample.value
	if increase <= rapidSpikeThresholdPct {
		return nil
	}

	return &domain.Event{
		HardwareID:  c.Current.HardwareID,
		StartTimeMS: minSample.tsMS,
		EndTimeMS:   c.Current.TimestampMS,
		Type:        domain.EventWatering,
		SensorValues: map[string]float64{
			"soil_moisture_before": minSample.value,
			"soil_moisture_after":  current,
			"increase_pct":         increase,
		},
		DetectionMetadata: map[string]string{
			"detection_mode": "rapid_spike",
			"window_minutes": fmt.Sprint(rapidSpikeWindowMinutes),
		},
	}
}

func detectGradualRise(c Context, current float64) *domain.Event {
	recent := c.validSamples(domain.SensorSoilMoisture, gradualRiseWindowMinutes*timeutil.MinuteMS)
	if len(recent) < gradualRiseMinSamples {
		return nil
	}

	minSample := recent[0]
	for _, s := range recent[1:] {
		if s.value < minSample.value {
			minSample = s
		}
	}

	increase := current - minSample.value
	if increase < gradualRiseThresholdPct {
		return nil
	}

	// Count positive slopes across the series including the current value.
	series := append(append([]sample{}, recent...), sample{tsMS: c.Current.TimestampMS, value: current})

	positive := 0

	for i := 1; i < len(series); i++ {
		if series[i].value > series[i-1].value {
			positive++
		}
	}

	if positive < gradualRiseMinSlopes {
		return nil
	}

	return &domain.Event{
		HardwareID:  c.Current.HardwareID,
		StartTimeMS: minSample.tsMS,
		EndTimeMS:   c.Current.TimestampMS,
		Type:        domain.EventWatering,
		SensorValues: map[string]float64{
			"soil_moisture_before": minSample.value,
			"soil_moisture_after":  current,
			"increase_pct":         increase,
		},
		DetectionMetadata: map[string]string{
			"detection_mode": "gradual_rise",
			"window_minutes": fmt.Sprint(gradualRiseWindowMinutes),
		},
	}
}

// DetectDryingCycle looks for a sustained moisture decline over the
// last six hours: a drop from the window maximum plus a dominant share
// of declining consecutive pairs.
func DetectDryingCycle(c Context) *domain.Event {
	cur := c.Current.SoilMoisture
	if !cur.Valid() {
		return nil
	}

	current := *cur.Value

	recent := c.validSamples(domain.SensorSoilMoisture, dryingWindowHours*timeutil.HourMS)
	series := append(append([]sample{}, recent...), sample{tsMS: c.Current.TimestampMS, value: current})

	if len(series) < dryingMinSamples {
		return nil
	}

	maxVal := series[0].value
	for _, s := range series[1:] {
		if s.value > maxVal {
			maxVal = s.value
		}
	}

	drop := maxVal - current
	if drop <= dryingDropPct {
		return nil
	}

	declining := 0

	for i := 1; i < len(series); i++ {
		if series[i].value < series[i-1].value {
			declining++
		}
	}

	ratio := float64(declining) / float64(len(series)-1)
	if ratio < dryingDecliningRatio {
		return nil
	}

	return &domain.Event{
		HardwareID:  c.Current.HardwareID,
		StartTimeMS: series[0].tsMS,
		EndTimeMS:   c.Current.TimestampMS,
		Type:        domain.EventDryingCycle,
		SensorValues: map[string]float64{
			"soil_moisture_peak":    maxVal,
			"soil_moisture_current": current,
			"total_drop_pct":        drop,
		},
		DetectionMetadata: map[string]string{
			"declining_ratio": fmt.Sprintf("%.2f", ratio),
		},
	}
}

// DetectTemperatureStress is a single-sample check against the high and
// low stress thresholds. The boundary values themselves do not trigger.
func DetectTemperatureStress(c Context) *domain.Event {
	sv := c.Current.Temperature
	if !sv.Valid() {
		return nil
	}

	temp := *sv.Value

	var stressType string

	switch {
	case temp > tempStressHighC:
		stressType = "high"
	case temp < tempStressLowC:
		stressType = "low"
	default:
		return nil
	}

	return &domain.Event{
		HardwareID:  c.Current.HardwareID,
		StartTimeMS: c.Current.TimestampMS,
		EndTimeMS:   c.Current.TimestampMS,
		Type:        domain.EventTempStress,
		SensorValues: map[string]float64{
			"temperature": temp,
		},
		DetectionMetadata: map[string]string{
			"stress_type": stressType,
		},
	}
}

// DetectHumidityAnomaly fires when the humidity range over the last
// hour, including the current reading, exceeds the anomaly threshold.
func DetectHumidityAnomaly(c Context) *domain.Event {
	cur := c.Current.Humidity
	if !cur.Valid() {
		return nil
	}

	recent := c.validSamples(domain.SensorHumidity, humidityWindowHours*timeutil.HourMS)
	series := append(append([]sample{}, recent...), sample{tsMS: c.Current.TimestampMS, value: *cur.Value})

	if len(series) < 2 {
		return nil
	}

	minVal, maxVal := series[0].value, series[0].value

	for _, s := range series[1:] {
		minVal = min(minVal, s.value)
		maxVal = max(maxVal, s.value)
	}

	spread := maxVal - minVal
	if spread <= humidityAnomalyRange {
		return nil
	}

	return &domain.Event{
		HardwareID:  c.Current.HardwareID,
		StartTimeMS: c.Current.TimestampMS - humidityWindowHours*timeutil.HourMS,
		EndTimeMS:   c.Current.TimestampMS,
		Type:        domain.EventHumidityAnom,
		SensorValues: map[string]float64{
			"humidity_min":   minVal,
			"humidity_max":   maxVal,
			"humidity_range": spread,
		},
	}
}

// DetectEnvironmentalChange fires when temperature, humidity, and
// pressure all swing past their thresholds within the last two hours.
// Only readings with all three sensors ok take part.
func DetectEnvironmentalChange(c Context) *domain.Event {
	if !c.Current.Temperature.Valid() || !c.Current.Humidity.Valid() || !c.Current.Pressure.Valid() {
		return nil
	}

	cutoff := c.Current.TimestampMS - envChangeWindowHours*timeutil.HourMS

	type triple struct{ temp, hum, press float64 }

	series := []triple{}

	for _, r := range c.History {
		if r.TimestampMS < cutoff || r.TimestampMS >= c.Current.TimestampMS {
			continue
		}

		if !r.Temperature.Valid() || !r.Humidity.Valid() || !r.Pressure.Valid() {
			continue
		}

		series = append(series, triple{*r.Temperature.Value, *r.Humidity.Value, *r.Pressure.Value})
	}

	series = append(series, triple{*c.Current.Temperature.Value, *c.Current.Humidity.Value, *c.Current.Pressure.Value})

	if len(series) < 2 {
		return nil
	}

	spread := func(get func(triple) float64) float64 {
		lo, hi := get(series[0]), get(series[0])

		for _, s := range series[1:] {
			lo = min(lo, get(s))
			hi = max(hi, get(s))
		}

		return hi - lo
	}

	tempRange := spread(func(s triple) float64 { return s.temp })
	humRange := spread(func(s triple) float64 { return s.hum })
	pressRange := spread(func(s triple) float64 { return s.press })

	if tempRange <= envChangeTempRange || humRange <= envChangeHumidityRange || pressRange <= envChangePressureRange {
		return nil
	}

	return &domain.Event{
		HardwareID:  c.Current.HardwareID,
		StartTimeMS: c.Current.TimestampMS - envChangeWindowHours*timeutil.HourMS,
		EndTimeMS:   c.Current.TimestampMS,
		Type:        domain.EventEnvChange,
		SensorValues: map[string]float64{
			"temperature_range": tempRange,
			"humidity_range":    humRange,
			"pressure_range":    pressRange,
		},
	}
}
