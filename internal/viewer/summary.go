package viewer

import (
	"fmt"
	"math"

	"locatr/internal/domain"
)

// TrackerStatus is the tracked device's own view of its session.
type TrackerStatus struct {
	Tracking   bool   `json:"tracking"`
	DeviceCode string `json:"device_code,omitempty"`
	Location   string `json:"location,omitempty"`
	Accuracy   string `json:"accuracy,omitempty"`
	Battery    string `json:"battery,omitempty"`
	LowBattery bool   `json:"low_battery"`
}

// Status formats a tracking session for display: coordinates to six
// decimals, accuracy to the nearest meter.
func Status(session domain.TrackingSession) TrackerStatus {
	status := TrackerStatus{
		Tracking:   session.Tracking,
		DeviceCode: session.DeviceCode,
	}
	if session.LastSample != nil {
		status.Location = fmt.Sprintf("%.6f, %.6f", session.LastSample.Latitude, session.LastSample.Longitude)
	}
	if session.Accuracy != nil {
		status.Accuracy = fmt.Sprintf("%.0fm", math.Round(*session.Accuracy))
	}
	if session.Battery != nil {
		status.Battery = fmt.Sprintf("%d%%", *session.Battery)
		status.LowBattery = *session.Battery <= domain.LowBatteryThreshold
	}
	return status
}
