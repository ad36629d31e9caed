package websocket

import (
	"encoding/json"
	"time"

	"locatr/internal/domain"
)

type MessageType string

const (
	// client -> server
	TypeResolve MessageType = "resolve"
	TypeSetZoom MessageType = "set_zoom"
	TypePing    MessageType = "ping"

	// server -> client
	TypeViewState    MessageType = "view_state"
	TypeSample       MessageType = "sample"
	TypeMapState     MessageType = "map_state"
	TypeResolveError MessageType = "resolve_error"
	TypePong         MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ResolvePayload struct {
	Code string `json:"code"`
}

type SetZoomPayload struct {
	Zoom int `json:"zoom"`
}

type ViewStatePayload struct {
	Device  *domain.DeviceResponse  `json:"device,omitempty"`
	Samples []domain.LocationSample `json:"samples"`
	Loading bool                    `json:"loading"`
	Summary *domain.Summary         `json:"summary,omitempty"`
}

type SamplePayload struct {
	Sample  domain.LocationSample `json:"sample"`
	Summary *domain.Summary       `json:"summary,omitempty"`
}

type ResolveErrorPayload struct {
	Code     string `json:"code"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// NewViewStatePayload converts a ViewState into its wire form.
func NewViewStatePayload(state domain.ViewState) *ViewStatePayload {
	payload := &ViewStatePayload{
		Samples: state.Sequence,
		Loading: state.Loading,
		Summary: state.Summarize(),
	}
	if payload.Samples == nil {
		payload.Samples = []domain.LocationSample{}
	}
	if state.Device != nil {
		resp := state.Device.Response()
		payload.Device = &resp
	}
	return payload
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
