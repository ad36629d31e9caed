package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"locatr/internal/config"
	"locatr/internal/domain"
	"locatr/internal/feed"
	"locatr/internal/render"
	"locatr/internal/repository"
	"locatr/internal/viewer"
	"locatr/internal/websocket"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFixture struct {
	store   *repository.MemoryStore
	device  *domain.Device
	manager *websocket.Manager
	url     string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	store, device := seedStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	broker := feed.NewBroker(store, config.FeedConfig{SubscriberBuffer: 16}, nil)
	go broker.Run(ctx)
	<-broker.Connected()

	wsCfg := config.WebSocketConfig{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		MaxMessageSize:   4096,
		WriteWait:        time.Second,
		PongWait:         time.Minute,
		PingPeriod:       30 * time.Second,
		MaxConnPerDevice: 5,
	}
	manager := websocket.NewManager(wsCfg, nil)
	manager.SetMessageHandler(NewViewerMessageHandler(manager, viewer.NewResolver(store, store, 100, nil), broker, testMap, 1000, nil))
	go manager.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(NewWebSocketHandler(manager, wsCfg, nil).HandleConnection))
	t.Cleanup(srv.Close)

	return &wsFixture{
		store:   store,
		device:  device,
		manager: manager,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func dial(t *testing.T, url string) *ws.Conn {
	t.Helper()
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads messages until one of the wanted type arrives.
func next(t *testing.T, conn *ws.Conn, want websocket.MessageType) *websocket.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg websocket.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == want {
			return &msg
		}
	}
}

func send(t *testing.T, conn *ws.Conn, msgType websocket.MessageType, payload interface{}) {
	t.Helper()
	msg, err := websocket.NewMessage(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func TestViewer_ResolveOnConnectThenLiveSample(t *testing.T) {
	f := newWSFixture(t)
	conn := dial(t, f.url+"?code=abc123")

	var view websocket.ViewStatePayload
	for {
		require.NoError(t, next(t, conn, websocket.TypeViewState).UnmarshalPayload(&view))
		if !view.Loading && view.Device != nil {
			break
		}
	}
	assert.Equal(t, "ABC123", view.Device.Code)
	assert.Len(t, view.Samples, 2)

	var state render.MapState
	require.NoError(t, next(t, conn, websocket.TypeMapState).UnmarshalPayload(&state))
	require.Eventually(t, func() bool { return f.manager.GetDeviceConnections("ABC123") == 1 }, time.Second, 5*time.Millisecond)

	live := domain.NewLocationSample(f.device.ID, domain.Fix{Latitude: 40.002, Longitude: -74.0, CapturedAt: t0.Add(time.Minute)}, nil)
	require.NoError(t, f.store.Insert(context.Background(), live))

	var sample websocket.SamplePayload
	require.NoError(t, next(t, conn, websocket.TypeSample).UnmarshalPayload(&sample))
	assert.Equal(t, live.ID, sample.Sample.ID)
	assert.Equal(t, 3, sample.Summary.SampleCount)

	require.NoError(t, next(t, conn, websocket.TypeMapState).UnmarshalPayload(&state))
	assert.Len(t, state.Path.Points, 3)
	assert.Equal(t, 3, state.Layers)
}

func TestViewer_ResolveUnknownCode(t *testing.T) {
	f := newWSFixture(t)
	conn := dial(t, f.url)

	send(t, conn, websocket.TypeResolve, websocket.ResolvePayload{Code: "NOPE00"})

	var payload websocket.ResolveErrorPayload
	require.NoError(t, next(t, conn, websocket.TypeResolveError).UnmarshalPayload(&payload))
	assert.Equal(t, "NOPE00", payload.Code)
	assert.Equal(t, "not_found", payload.Category)
}

func TestViewer_Ping(t *testing.T) {
	f := newWSFixture(t)
	conn := dial(t, f.url)

	send(t, conn, websocket.TypePing, nil)
	assert.Equal(t, websocket.TypePong, next(t, conn, websocket.TypePong).Type)
}

func TestViewer_SetZoom(t *testing.T) {
	f := newWSFixture(t)
	conn := dial(t, f.url)

	send(t, conn, websocket.TypeSetZoom, websocket.SetZoomPayload{Zoom: 17})

	var state render.MapState
	for {
		require.NoError(t, next(t, conn, websocket.TypeMapState).UnmarshalPayload(&state))
		if state.Viewport.Zoom == 17 {
			break
		}
	}
	assert.True(t, state.Ready)
}

// waitLoaded reads view_state messages until code is resolved and loaded.
func waitLoaded(t *testing.T, conn *ws.Conn, code string) websocket.ViewStatePayload {
	t.Helper()
	for {
		var view websocket.ViewStatePayload
		require.NoError(t, next(t, conn, websocket.TypeViewState).UnmarshalPayload(&view))
		if !view.Loading && view.Device != nil && view.Device.Code == code {
			return view
		}
	}
}

func TestViewer_SwitchToEmptyDeviceClearsMap(t *testing.T) {
	f := newWSFixture(t)
	conn := dial(t, f.url+"?code=ABC123")

	waitLoaded(t, conn, "ABC123")
	var state render.MapState
	require.NoError(t, next(t, conn, websocket.TypeMapState).UnmarshalPayload(&state))
	require.NotNil(t, state.Marker)
	assert.Equal(t, "ABC123", state.Marker.Label)

	_, _, err := f.store.CreateIfAbsent(context.Background(), &domain.Device{
		ID: "dev-2", Code: "EMPTY1", Name: "Unknown - Unknown", LastSeen: t0, CreatedAt: t0,
	})
	require.NoError(t, err)

	send(t, conn, websocket.TypeResolve, websocket.ResolvePayload{Code: "empty1"})

	view := waitLoaded(t, conn, "EMPTY1")
	assert.Empty(t, view.Samples)

	var cleared render.MapState
	require.NoError(t, next(t, conn, websocket.TypeMapState).UnmarshalPayload(&cleared))
	assert.True(t, cleared.Ready)
	assert.Nil(t, cleared.Marker)
	assert.Nil(t, cleared.Path)
	assert.Equal(t, 1, cleared.Layers)
	assert.Equal(t, render.LatLng{Lat: testMap.DefaultLat, Lng: testMap.DefaultLon}, cleared.Viewport.Center)
}
