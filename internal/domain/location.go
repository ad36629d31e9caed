package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// LocationsTable names the sample collection in insert events.
const LocationsTable = "locations"

// LocationSample is one immutable position report. DeviceID refers to a
// Device; the sample does not own it.
type LocationSample struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Timestamp    time.Time `json:"timestamp"`
	Accuracy     *float64  `json:"accuracy,omitempty"`
	BatteryLevel *int      `json:"battery_level,omitempty"`
}

// Fix is a raw position returned by the capability provider.
type Fix struct {
	Latitude   float64
	Longitude  float64
	Accuracy   *float64
	CapturedAt time.Time
}

// NewLocationSample tags a fix with the device identity and battery reading.
func NewLocationSample(deviceID string, fix Fix, battery *int) *LocationSample {
	sample := &LocationSample{
		ID:           uuid.New().String(),
		DeviceID:     deviceID,
		Latitude:     fix.Latitude,
		Longitude:    fix.Longitude,
		Timestamp:    fix.CapturedAt.UTC(),
		BatteryLevel: battery,
	}
	if fix.Accuracy != nil && *fix.Accuracy >= 0 {
		acc := *fix.Accuracy
		sample.Accuracy = &acc
	}
	return sample
}

// InsertEvent is a change notification carrying the full inserted record.
type InsertEvent struct {
	Table  string         `json:"table"`
	Seq    string         `json:"seq,omitempty"`
	Sample LocationSample `json:"record"`
}

// BatteryPercent converts a 0..1 fraction into a rounded percentage clamped
// to 0..100.
func BatteryPercent(fraction float64) int {
	pct := int(math.Round(fraction * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
