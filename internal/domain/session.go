package domain

import "time"

// LowBatteryThreshold marks battery readings at or below it as low.
const LowBatteryThreshold = 20

// TrackingSession is the client-local state of a tracked device.
type TrackingSession struct {
	State      string          `json:"state"`
	Tracking   bool            `json:"tracking"`
	DeviceCode string          `json:"device_code,omitempty"`
	DeviceID   string          `json:"device_id,omitempty"`
	LastSample *LocationSample `json:"last_sample,omitempty"`
	Accuracy   *float64        `json:"accuracy,omitempty"`
	Battery    *int            `json:"battery,omitempty"`
}

// ViewState is the client-local state of a viewer. Every sample in Sequence
// belongs to Device.
type ViewState struct {
	Device   *Device          `json:"device,omitempty"`
	Sequence []LocationSample `json:"sequence"`
	Loading  bool             `json:"loading"`
}

// Summary is the viewer-facing read model derived from a ViewState.
type Summary struct {
	Device        DeviceResponse `json:"device"`
	SampleCount   int            `json:"sample_count"`
	LatestBattery *int           `json:"latest_battery,omitempty"`
	LowBattery    bool           `json:"low_battery"`
	LastUpdate    *time.Time     `json:"last_update,omitempty"`
}

// Summarize derives the summary fields for a resolved view. It returns nil
// when no device is resolved.
func (v ViewState) Summarize() *Summary {
	if v.Device == nil {
		return nil
	}
	s := &Summary{
		Device:      v.Device.Response(),
		SampleCount: len(v.Sequence),
	}
	if n := len(v.Sequence); n > 0 {
		last := v.Sequence[n-1]
		ts := last.Timestamp
		s.LastUpdate = &ts
		if last.BatteryLevel != nil {
			b := *last.BatteryLevel
			s.LatestBattery = &b
			s.LowBattery = b <= LowBatteryThreshold
		}
	}
	return s
}
