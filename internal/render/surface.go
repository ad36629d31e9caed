package render

import (
	"fmt"
	"math"
	"sync"
	"time"

	"locatr/internal/config"
	"locatr/internal/domain"
)

const (
	PathColor   = "#3b82f6"
	PathWeight  = 3
	PathOpacity = 0.7
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Viewport struct {
	Center LatLng `json:"center"`
	Zoom   int    `json:"zoom"`
}

type TileLayer struct {
	URL         string `json:"url"`
	Attribution string `json:"attribution"`
	MaxZoom     int    `json:"max_zoom"`
}

type Popup struct {
	Title       string `json:"title"`
	LastUpdate  string `json:"last_update"`
	Accuracy    string `json:"accuracy"`
	Battery     string `json:"battery,omitempty"`
	Coordinates string `json:"coordinates"`
}

// Text renders the popup as plain lines.
func (p Popup) Text() string {
	text := p.Title + "\n" +
		"Last Update: " + p.LastUpdate + "\n" +
		"Accuracy: " + p.Accuracy + "\n"
	if p.Battery != "" {
		text += "Battery: " + p.Battery + "\n"
	}
	return text + "Coordinates: " + p.Coordinates
}

type Marker struct {
	Position LatLng `json:"position"`
	Label    string `json:"label"`
	Popup    Popup  `json:"popup"`
}

type PathStyle struct {
	Color   string  `json:"color"`
	Weight  int     `json:"weight"`
	Opacity float64 `json:"opacity"`
}

type Polyline struct {
	Points []LatLng  `json:"points"`
	Style  PathStyle `json:"style"`
}

// MapState is a serializable snapshot of a Surface.
type MapState struct {
	Ready    bool       `json:"ready"`
	Viewport Viewport   `json:"viewport"`
	Base     *TileLayer `json:"base,omitempty"`
	Marker   *Marker    `json:"marker,omitempty"`
	Path     *Polyline  `json:"path,omitempty"`
	Layers   int        `json:"layers"`
}

// Surface is a map whose marker, viewport and path are derived from an
// ordered sample sequence.
type Surface struct {
	cfg config.MapConfig

	mu       sync.Mutex
	ready    bool
	viewport Viewport
	base     *TileLayer
	marker   *Marker
	path     *Polyline
	handlers map[int]func(MapState)
	nextID   int
}

func NewSurface(cfg config.MapConfig) *Surface {
	if cfg.MaxZoom <= 0 {
		cfg.MaxZoom = 19
	}
	return &Surface{
		cfg:      cfg,
		handlers: make(map[int]func(MapState)),
	}
}

// Init creates the map with the default viewport and base layer. It
// reports whether anything was created; calling it again is a no-op.
func (s *Surface) Init() bool {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return false
	}
	s.ready = true
	s.viewport = Viewport{
		Center: LatLng{Lat: s.cfg.DefaultLat, Lng: s.cfg.DefaultLon},
		Zoom:   s.cfg.DefaultZoom,
	}
	s.base = &TileLayer{
		URL:         s.cfg.TileURL,
		Attribution: s.cfg.TileAttribution,
		MaxZoom:     s.cfg.MaxZoom,
	}
	state, handlers := s.snapshotLocked()
	s.mu.Unlock()

	notify(handlers, state)
	return true
}

func (s *Surface) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Update redraws the surface from seq. The last sample becomes the current
// position; the viewport follows it at the current zoom. The path overlay is
// replaced, never stacked. An empty seq clears the marker and path and moves
// the viewport back to the default center.
func (s *Surface) Update(code string, seq []domain.LocationSample) {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return
	}

	if len(seq) == 0 {
		s.marker = nil
		s.path = nil
		s.viewport.Center = LatLng{Lat: s.cfg.DefaultLat, Lng: s.cfg.DefaultLon}

		state, handlers := s.snapshotLocked()
		s.mu.Unlock()

		notify(handlers, state)
		return
	}

	current := seq[len(seq)-1]
	position := LatLng{Lat: current.Latitude, Lng: current.Longitude}

	s.marker = &Marker{
		Position: position,
		Label:    code,
		Popup:    NewPopup(code, current),
	}
	s.viewport.Center = position

	if len(seq) > 1 {
		points := make([]LatLng, len(seq))
		for i, sample := range seq {
			points[i] = LatLng{Lat: sample.Latitude, Lng: sample.Longitude}
		}
		s.path = &Polyline{
			Points: points,
			Style:  PathStyle{Color: PathColor, Weight: PathWeight, Opacity: PathOpacity},
		}
	} else {
		s.path = nil
	}

	state, handlers := s.snapshotLocked()
	s.mu.Unlock()

	notify(handlers, state)
}

// SetZoom changes the zoom level. Updates never change it on their own.
func (s *Surface) SetZoom(zoom int) error {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return fmt.Errorf("%w: map is not initialized", domain.ErrInvalidInput)
	}
	if zoom < 0 || zoom > s.cfg.MaxZoom {
		s.mu.Unlock()
		return fmt.Errorf("%w: zoom must be between 0 and %d", domain.ErrInvalidInput, s.cfg.MaxZoom)
	}
	s.viewport.Zoom = zoom
	state, handlers := s.snapshotLocked()
	s.mu.Unlock()

	notify(handlers, state)
	return nil
}

// OnChange registers fn to receive a snapshot after every change. The
// returned func removes it. Handlers run on the goroutine that made the
// change and must not block.
func (s *Surface) OnChange(fn func(MapState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.handlers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *Surface) Snapshot() MapState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, _ := s.snapshotLocked()
	return state
}

// Release removes every layer and handler. The surface can be initialized
// again afterwards.
func (s *Surface) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready = false
	s.viewport = Viewport{}
	s.base = nil
	s.marker = nil
	s.path = nil
	s.handlers = make(map[int]func(MapState))
}

func (s *Surface) snapshotLocked() (MapState, []func(MapState)) {
	state := MapState{
		Ready:    s.ready,
		Viewport: s.viewport,
	}
	if s.base != nil {
		base := *s.base
		state.Base = &base
		state.Layers++
	}
	if s.marker != nil {
		marker := *s.marker
		state.Marker = &marker
		state.Layers++
	}
	if s.path != nil {
		path := Polyline{
			Points: append([]LatLng(nil), s.path.Points...),
			Style:  s.path.Style,
		}
		state.Path = &path
		state.Layers++
	}

	handlers := make([]func(MapState), 0, len(s.handlers))
	for _, fn := range s.handlers {
		handlers = append(handlers, fn)
	}
	return state, handlers
}

// notify runs handlers synchronously, in no particular order.
func notify(handlers []func(MapState), state MapState) {
	for _, fn := range handlers {
		fn(state)
	}
}

// NewPopup summarizes a sample for the marker popup.
func NewPopup(code string, sample domain.LocationSample) Popup {
	popup := Popup{
		Title:       "Device: " + code,
		LastUpdate:  sample.Timestamp.UTC().Format(time.RFC1123),
		Accuracy:    "Unknown",
		Coordinates: fmt.Sprintf("%.6f, %.6f", sample.Latitude, sample.Longitude),
	}
	if sample.Accuracy != nil {
		popup.Accuracy = fmt.Sprintf("%.0fm", math.Round(*sample.Accuracy))
	}
	if sample.BatteryLevel != nil {
		popup.Battery = fmt.Sprintf("%d%%", *sample.BatteryLevel)
	}
	return popup
}
