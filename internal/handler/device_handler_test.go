package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"locatr/internal/config"
	"locatr/internal/domain"
	"locatr/internal/render"
	"locatr/internal/repository"
	"locatr/internal/viewer"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0      = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	testMap = config.MapConfig{
		DefaultLat:  40.7128,
		DefaultLon:  -74.0060,
		DefaultZoom: 13,
		TileURL:     "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		MaxZoom:     19,
	}
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type brokenLocations struct {
	*repository.MemoryStore
}

func (b *brokenLocations) Recent(ctx context.Context, deviceID string, limit int) ([]domain.LocationSample, error) {
	return nil, domain.ReadError(errors.New("timeout"))
}

func seedStore(t *testing.T) (*repository.MemoryStore, *domain.Device) {
	t.Helper()
	store := repository.NewMemoryStore()
	device, _, err := store.CreateIfAbsent(context.Background(), &domain.Device{
		ID: "dev-1", Code: "ABC123", Name: "Pixel - android", LastSeen: t0, CreatedAt: t0,
	})
	require.NoError(t, err)

	acc := 5.0
	battery := 64
	for i, lat := range []float64{40.0, 40.001} {
		sample := domain.NewLocationSample(device.ID, domain.Fix{
			Latitude: lat, Longitude: -74.0, Accuracy: &acc, CapturedAt: t0.Add(time.Duration(i) * 30 * time.Second),
		}, &battery)
		require.NoError(t, store.Insert(context.Background(), sample))
	}
	return store, device
}

func newRouter(h *DeviceHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/devices/{code}", h.Resolve).Methods("GET")
	r.HandleFunc("/api/v1/devices/{code}/map", h.Map).Methods("GET")
	r.HandleFunc("/api/v1/codes/new", h.NewCode).Methods("GET")
	return r
}

func get(t *testing.T, r http.Handler, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestDeviceHandler_Resolve(t *testing.T) {
	store, device := seedStore(t)
	h := NewDeviceHandler(viewer.NewResolver(store, store, 100, nil), testMap, nil)

	rec, env := get(t, newRouter(h), "/api/v1/devices/abc123")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, device.Code, resp.Device.Code)
	assert.Len(t, resp.Samples, 2)
	assert.Equal(t, 2, resp.Summary.SampleCount)
	assert.Equal(t, 64, *resp.Summary.LatestBattery)
	assert.Empty(t, resp.Warning)
}

func TestDeviceHandler_ResolveErrors(t *testing.T) {
	store, _ := seedStore(t)
	h := NewDeviceHandler(viewer.NewResolver(store, store, 100, nil), testMap, nil)

	rec, env := get(t, newRouter(h), "/api/v1/devices/ZZZ999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "not found")
	assert.Equal(t, "not_found", env.Code)

	rec, env = get(t, newRouter(h), "/api/v1/devices/%20")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", env.Code)
}

func TestDeviceHandler_ResolveHistoryFailure(t *testing.T) {
	store, _ := seedStore(t)
	h := NewDeviceHandler(viewer.NewResolver(store, &brokenLocations{store}, 100, nil), testMap, nil)

	rec, env := get(t, newRouter(h), "/api/v1/devices/ABC123")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "ABC123", resp.Device.Code)
	assert.Empty(t, resp.Samples)
	assert.NotEmpty(t, resp.Warning)
}

func TestDeviceHandler_Map(t *testing.T) {
	store, _ := seedStore(t)
	h := NewDeviceHandler(viewer.NewResolver(store, store, 100, nil), testMap, nil)

	rec, env := get(t, newRouter(h), "/api/v1/devices/ABC123/map")
	require.Equal(t, http.StatusOK, rec.Code)

	var state render.MapState
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.True(t, state.Ready)
	require.NotNil(t, state.Marker)
	assert.Equal(t, "ABC123", state.Marker.Label)
	assert.Equal(t, "5m", state.Marker.Popup.Accuracy)
	assert.Equal(t, render.LatLng{Lat: 40.001, Lng: -74.0}, state.Viewport.Center)
	assert.Equal(t, 13, state.Viewport.Zoom)
	require.NotNil(t, state.Path)
	assert.Len(t, state.Path.Points, 2)
}

func TestDeviceHandler_NewCode(t *testing.T) {
	store := repository.NewMemoryStore()
	h := NewDeviceHandler(viewer.NewResolver(store, store, 100, nil), testMap, nil)

	rec, env := get(t, newRouter(h), "/api/v1/codes/new")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CodeResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	_, err := domain.ValidateCode(resp.Code)
	assert.NoError(t, err)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(domain.ErrInvalidInput))
	assert.Equal(t, http.StatusNotFound, StatusFor(domain.ErrNotFound))
	assert.Equal(t, http.StatusBadGateway, StatusFor(&domain.LoadError{Stage: "device", Err: errors.New("x")}))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}
