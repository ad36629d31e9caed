package domain

import (
	"strings"
	"time"
)

const unknownDescriptor = "Unknown"

// Device is the identity record of a tracked device. It is addressed by its
// human-entered code; ID is the opaque identifier samples refer to.
type Device struct {
	ID        string    `json:"id"`
	Code      string    `json:"device_code"`
	Name      string    `json:"device_name"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// DeviceDescriptor is the best-effort hardware metadata reported by the
// capability provider. Either field may be empty.
type DeviceDescriptor struct {
	Model    string `json:"model,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// DisplayName renders the descriptor as "<model> - <platform>".
func (d DeviceDescriptor) DisplayName() string {
	model := strings.TrimSpace(d.Model)
	if model == "" {
		model = unknownDescriptor
	}
	platform := strings.TrimSpace(d.Platform)
	if platform == "" {
		platform = unknownDescriptor
	}
	return model + " - " + platform
}

type DeviceResponse struct {
	Code     string    `json:"device_code"`
	Name     string    `json:"device_name"`
	LastSeen time.Time `json:"last_seen"`
}

func (d *Device) Response() DeviceResponse {
	name := d.Name
	if name == "" {
		name = unknownDescriptor
	}
	return DeviceResponse{
		Code:     d.Code,
		Name:     name,
		LastSeen: d.LastSeen,
	}
}
