package domain

// DefaultExpectedIntervalSec is the assumed reporting interval when a
// profile does not specify one.
const DefaultExpectedIntervalSec = 300

// MoistureRange is the learned baseline soil-moisture band.
type MoistureRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DeviceProfile holds per-device configuration and learned behavior.
// User fields and learned fields are disjoint; each side is updated
// without touching the other.
type DeviceProfile struct {
	HardwareID string `json:"hardware_id"`

	// User-owned fields, written by the HTTP API.
	PlantType           string  `json:"plant_type,omitempty"`
	SoilType            string  `json:"soil_type,omitempty"`
	PotSizeLiters       float64 `json:"pot_size_liters,omitempty"`
	ExpectedIntervalSec int64   `json:"expected_interval_sec,omitempty"`

	// System-learned fields, written only by the profile learner.
	TypicalWateringIntervalSec *int64         `json:"typical_watering_interval_sec,omitempty"`
	BaselineMoistureRange      *MoistureRange `json:"baseline_moisture_range,omitempty"`
	LastWateringEvents         []int64        `json:"last_watering_events,omitempty"`
}

// ReportingIntervalSec returns the expected reporting interval, falling
// back to the default when unset.
func (p DeviceProfile) ReportingIntervalSec() int64 {
	if p.ExpectedIntervalSec > 0 {
		return p.ExpectedIntervalSec
	}

	return DefaultExpectedIntervalSec
}
