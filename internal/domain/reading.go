// Package domain defines the persisted record types shared across the
// telemetry pipeline: readings, aggregates, events, profiles, device
// status, insights, and insight requests.
package domain

import "fmt"

// SensorStatus is the per-sensor quality tag attached to a reading value.
type SensorStatus string

// Per-sensor status tags as reported by the ingestion edge.
const (
	StatusOK         SensorStatus = "ok"
	StatusMissing    SensorStatus = "missing"
	StatusStale      SensorStatus = "stale"
	StatusOutOfRange SensorStatus = "out_of_range"
	StatusNoisy      SensorStatus = "noisy"
)

// SensorName identifies one of the four physical sensors on a device.
type SensorName string

// The four sensors carried by every reading.
const (
	SensorTemperature  SensorName = "temperature"
	SensorHumidity     SensorName = "humidity"
	SensorPressure     SensorName = "pressure"
	SensorSoilMoisture SensorName = "soil_moisture"
)

// SensorNames lists all sensors in canonical order.
func SensorNames() []SensorName {
	return []SensorName{SensorTemperature, SensorHumidity, SensorPressure, SensorSoilMoisture}
}

// SensorValue is an optional measurement plus its quality status.
// A nil Value with a non-empty Status means the sensor reported but the
// value was rejected; both zero means the sensor is absent on the device.
type SensorValue struct {
	Value  *float64     `json:"value,omitempty"`
	Status SensorStatus `json:"status,omitempty"`
}

// Valid reports whether the value is usable for statistics.
func (sv SensorValue) Valid() bool {
	return sv.Status == StatusOK && sv.Value != nil
}

// Reading is one raw sample from a device. Natural key is
// (hardware_id, timestamp_ms); readings are immutable once written and a
// second write of the same key is a deduplication signal.
type Reading struct {
	HardwareID   string      `json:"hardware_id"`
	TimestampMS  int64       `json:"timestamp_ms"`
	BatchID      string      `json:"batch_id"`
	IngestTimeMS int64       `json:"ingest_time_ms"`
	Temperature  SensorValue `json:"temperature"`
	Humidity     SensorValue `json:"humidity"`
	Pressure     SensorValue `json:"pressure"`
	SoilMoisture SensorValue `json:"soil_moisture"`
}

// ReadingID derives the logical ingestion identifier used by the
// idempotency ledger.
func (r Reading) ReadingID() string {
	return fmt.Sprintf("%s#%d", r.BatchID, r.TimestampMS)
}

// Sensor returns the named sensor's value and status.
func (r Reading) Sensor(name SensorName) SensorValue {
	switch name {
	case SensorTemperature:
		return r.Temperature
	case SensorHumidity:
		return r.Humidity
	case SensorPressure:
		return r.Pressure
	case SensorSoilMoisture:
		return r.SoilMoisture
	default:
		return SensorValue{}
	}
}
