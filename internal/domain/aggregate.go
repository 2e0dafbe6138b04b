package domain

import (
	"fmt"
	"math"
)

// WindowType distinguishes hourly, daily, and weekly aggregates.
type WindowType string

// Aggregation window sizes.
const (
	WindowHourly WindowType = "hourly"
	WindowDaily  WindowType = "daily"
	WindowWeekly WindowType = "weekly"
)

// SensorStats is the statistic block kept per sensor per window.
// Min/Max/Avg/Stddev are absent (nil) while ValidCount is zero.
type SensorStats struct {
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	Sum        float64  `json:"sum"`
	SumSq      float64  `json:"sumsq"`
	ValidCount int64    `json:"valid_count"`
	TotalCount int64    `json:"total_count"`
	Avg        *float64 `json:"avg,omitempty"`
	Stddev     *float64 `json:"stddev,omitempty"`
}

// Observe folds one sensor sample into the stats. Total count grows for
// every sample; the numeric fields only for valid ones.
func (s *SensorStats) Observe(sv SensorValue) {
	s.TotalCount++

	if !sv.Valid() {
		return
	}

	v := *sv.Value

	s.ValidCount++
	s.Sum += v
	s.SumSq += v * v

	if s.Min == nil || v < *s.Min {
		s.Min = ptrTo(v)
	}

	if s.Max == nil || v > *s.Max {
		s.Max = ptrTo(v)
	}
}

// Merge folds another stats block into this one. Min/Max only take part
// for blocks that saw valid data.
func (s *SensorStats) Merge(other SensorStats) {
	s.TotalCount += other.TotalCount
	s.ValidCount += other.ValidCount
	s.Sum += other.Sum
	s.SumSq += other.SumSq

	if other.Min != nil && (s.Min == nil || *other.Min < *s.Min) {
		s.Min = ptrTo(*other.Min)
	}

	if other.Max != nil && (s.Max == nil || *other.Max > *s.Max) {
		s.Max = ptrTo(*other.Max)
	}
}

// Finalize computes the derived Avg and Stddev fields. The clamp under
// the square root guards against floating-point under-shoot.
func (s *SensorStats) Finalize() {
	if s.ValidCount == 0 {
		s.Avg = nil
		s.Stddev = nil

		return
	}

	n := float64(s.ValidCount)
	avg := s.Sum / n
	variance := math.Max(0, s.SumSq/n-avg*avg)

	s.Avg = ptrTo(avg)
	s.Stddev = ptrTo(math.Sqrt(variance))
}

// Aggregate is one time-windowed statistics row. Keyed by the composite
// device_window (hardware_id # window_type) and window start.
type Aggregate struct {
	HardwareID    string      `json:"hardware_id"`
	WindowType    WindowType  `json:"window_type"`
	WindowStartMS int64       `json:"window_start_ms"`
	WindowEndMS   int64       `json:"window_end_ms"`
	Temperature   SensorStats `json:"temperature"`
	Humidity      SensorStats `json:"humidity"`
	Pressure      SensorStats `json:"pressure"`
	SoilMoisture  SensorStats `json:"soil_moisture"`
	IsComplete    bool        `json:"is_complete"`
	ComputedAtMS  int64       `json:"computed_at_ms"`
}

// DeviceWindow returns the composite partition key.
func (a Aggregate) DeviceWindow() string {
	return fmt.Sprintf("%s#%s", a.HardwareID, a.WindowType)
}

// Stat returns a pointer to the named sensor's statistic block.
func (a *Aggregate) Stat(name SensorName) *SensorStats {
	switch name {
	case SensorTemperature:
		return &a.Temperature
	case SensorHumidity:
		return &a.Humidity
	case SensorPressure:
		return &a.Pressure
	case SensorSoilMoisture:
		return &a.SoilMoisture
	default:
		return nil
	}
}

// Finalize computes derived fields for all four sensor blocks.
func (a *Aggregate) Finalize() {
	for _, name := range SensorNames() {
		a.Stat(name).Finalize()
	}
}

func ptrTo[T any](v T) *T { return &v }

// Ptr exposes pointer construction for optional numeric fields.
func Ptr[T any](v T) *T { return ptrTo(v) }
