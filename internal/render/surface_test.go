package render

import (
	"testing"
	"time"

	"locatr/internal/config"
	"locatr/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mapConfig = config.MapConfig{
	DefaultLat:      40.7128,
	DefaultLon:      -74.0060,
	DefaultZoom:     13,
	TileURL:         "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
	TileAttribution: "© OpenStreetMap contributors",
	MaxZoom:         19,
}

func samples(points ...[2]float64) []domain.LocationSample {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seq := make([]domain.LocationSample, len(points))
	for i, p := range points {
		seq[i] = domain.LocationSample{
			ID:        string(rune('a' + i)),
			DeviceID:  "dev-1",
			Latitude:  p[0],
			Longitude: p[1],
			Timestamp: start.Add(time.Duration(i) * 30 * time.Second),
		}
	}
	return seq
}

func TestSurface_InitIsIdempotent(t *testing.T) {
	s := NewSurface(mapConfig)

	assert.True(t, s.Init())
	first := s.Snapshot()

	assert.False(t, s.Init())
	assert.Equal(t, first, s.Snapshot())

	assert.Equal(t, Viewport{Center: LatLng{Lat: 40.7128, Lng: -74.0060}, Zoom: 13}, first.Viewport)
	require.NotNil(t, first.Base)
	assert.Equal(t, 19, first.Base.MaxZoom)
	assert.Equal(t, 1, first.Layers)
}

func TestSurface_UpdateBeforeInitIsIgnored(t *testing.T) {
	s := NewSurface(mapConfig)
	s.Update("ABC123", samples([2]float64{1, 2}))

	state := s.Snapshot()
	assert.False(t, state.Ready)
	assert.Nil(t, state.Marker)
}

func TestSurface_UpdateEmptySequence(t *testing.T) {
	s := NewSurface(mapConfig)
	s.Init()
	s.Update("ABC123", nil)

	state := s.Snapshot()
	assert.Nil(t, state.Marker)
	assert.Nil(t, state.Path)
	assert.Equal(t, 1, state.Layers)
}

func TestSurface_UpdateEmptySequenceClearsPreviousTrail(t *testing.T) {
	s := NewSurface(mapConfig)
	s.Init()
	require.NoError(t, s.SetZoom(15))
	s.Update("ABC123", samples([2]float64{51.5, -0.12}, [2]float64{51.6, -0.13}))

	var got []MapState
	s.OnChange(func(state MapState) { got = append(got, state) })

	s.Update("EMPTY1", nil)

	require.Len(t, got, 1)
	state := got[0]
	assert.True(t, state.Ready)
	assert.Nil(t, state.Marker)
	assert.Nil(t, state.Path)
	assert.Equal(t, 1, state.Layers)
	assert.Equal(t, Viewport{Center: LatLng{Lat: 40.7128, Lng: -74.0060}, Zoom: 15}, state.Viewport)
	assert.Equal(t, state, s.Snapshot())
}

func TestSurface_UpdateSingleSample(t *testing.T) {
	s := NewSurface(mapConfig)
	s.Init()
	s.Update("ABC123", samples([2]float64{40.0, -74.0}))

	state := s.Snapshot()
	require.NotNil(t, state.Marker)
	assert.Equal(t, "ABC123", state.Marker.Label)
	assert.Equal(t, LatLng{Lat: 40.0, Lng: -74.0}, state.Viewport.Center)
	assert.Equal(t, 13, state.Viewport.Zoom)
	assert.Nil(t, state.Path)
}

func TestSurface_UpdateDrawsAndReplacesPath(t *testing.T) {
	s := NewSurface(mapConfig)
	s.Init()

	s.Update("ABC123", samples([2]float64{40.0, -74.0}, [2]float64{40.001, -74.0}))
	state := s.Snapshot()
	require.NotNil(t, state.Path)
	assert.Equal(t, []LatLng{{40.0, -74.0}, {40.001, -74.0}}, state.Path.Points)
	assert.Equal(t, PathStyle{Color: "#3b82f6", Weight: 3, Opacity: 0.7}, state.Path.Style)
	assert.Equal(t, 3, state.Layers)

	for i := 0; i < 5; i++ {
		s.Update("ABC123", samples([2]float64{40.0, -74.0}, [2]float64{40.001, -74.0}, [2]float64{40.002, -74.001}))
	}
	state = s.Snapshot()
	assert.Equal(t, 3, state.Layers)
	assert.Len(t, state.Path.Points, 3)
	assert.Equal(t, LatLng{Lat: 40.002, Lng: -74.001}, state.Marker.Position)
}

func TestSurface_UpdateKeepsZoom(t *testing.T) {
	s := NewSurface(mapConfig)
	s.Init()
	require.NoError(t, s.SetZoom(16))

	s.Update("ABC123", samples([2]float64{1, 2}))
	assert.Equal(t, 16, s.Snapshot().Viewport.Zoom)

	assert.ErrorIs(t, s.SetZoom(25), domain.ErrInvalidInput)
	assert.Equal(t, 16, s.Snapshot().Viewport.Zoom)
}

func TestSurface_OnChangeAndRelease(t *testing.T) {
	s := NewSurface(mapConfig)
	var seen []MapState
	remove := s.OnChange(func(state MapState) { seen = append(seen, state) })

	s.Init()
	s.Update("ABC123", samples([2]float64{1, 2}))
	require.Len(t, seen, 2)
	assert.NotNil(t, seen[1].Marker)

	remove()
	s.Update("ABC123", samples([2]float64{3, 4}))
	assert.Len(t, seen, 2)

	s.OnChange(func(state MapState) { seen = append(seen, state) })
	s.Release()

	state := s.Snapshot()
	assert.False(t, state.Ready)
	assert.Zero(t, state.Layers)

	s.Init()
	assert.Len(t, seen, 2)
}

func TestNewPopup(t *testing.T) {
	acc := 7.6
	battery := 54
	sample := domain.LocationSample{
		Latitude:     40.7128,
		Longitude:    -74.006,
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Accuracy:     &acc,
		BatteryLevel: &battery,
	}

	popup := NewPopup("ABC123", sample)
	assert.Equal(t, "Device: ABC123", popup.Title)
	assert.Equal(t, "8m", popup.Accuracy)
	assert.Equal(t, "54%", popup.Battery)
	assert.Equal(t, "40.712800, -74.006000", popup.Coordinates)
	assert.Contains(t, popup.Text(), "Battery: 54%")

	sample.Accuracy = nil
	sample.BatteryLevel = nil
	popup = NewPopup("ABC123", sample)
	assert.Equal(t, "Unknown", popup.Accuracy)
	assert.Empty(t, popup.Battery)
	assert.NotContains(t, popup.Text(), "Battery")
}
