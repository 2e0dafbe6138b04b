package domain

// EventType classifies a detected physical event.
type EventType string

// Detected event types.
const (
	EventWatering     EventType = "Watering_Event"
	EventDryingCycle  EventType = "Drying_Cycle"
	EventTempStress   EventType = "Temperature_Stress"
	EventHumidityAnom EventType = "Humidity_Anomaly"
	EventEnvChange    EventType = "Environmental_Change"
)

// Event is a detected physical event. Keyed by (hardware_id,
// start_time_ms); a second insert with the same key is a no-op.
type Event struct {
	HardwareID        string             `json:"hardware_id"`
	StartTimeMS       int64              `json:"start_time_ms"`
	EndTimeMS         int64              `json:"end_time_ms"`
	Type              EventType          `json:"event_type"`
	SensorValues      map[string]float64 `json:"sensor_values,omitempty"`
	DetectionMetadata map[string]string  `json:"detection_metadata,omitempty"`
	DetectedAtMS      int64              `json:"detected_at_ms"`
}
