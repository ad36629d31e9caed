package handler

import (
	"context"
	"net/http"
	"sync"

	"locatr/internal/config"
	"locatr/internal/domain"
	"locatr/internal/render"
	"locatr/internal/viewer"
	"locatr/internal/websocket"
	"locatr/pkg/log"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager  *websocket.Manager
	upgrader ws.Upgrader
	logger   log.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, cfg config.WebSocketConfig, logger log.Logger) *WebSocketHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &WebSocketHandler{
		manager: manager,
		upgrader: ws.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.WithName("ws-handler"),
	}
}

// HandleConnection upgrades a viewer connection. The optional code query
// parameter resolves a device as soon as the viewer is registered.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	code := domain.NormalizeCode(r.URL.Query().Get("code"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error(err, "Failed to upgrade connection")
		return
	}

	client := websocket.NewClient(uuid.New().String(), code, conn, h.manager)
	h.logger.Debug("Connection upgraded", "client_id", client.ID, "device_code", code)

	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// viewerBinding is the per-connection view: a session with its live
// subscription and the map surface derived from it.
type viewerBinding struct {
	session *viewer.Session
	surface *render.Surface
	ctx     context.Context
	cancel  context.CancelFunc
}

// ViewerMessageHandler drives one viewer Session and render Surface per
// websocket client.
type ViewerMessageHandler struct {
	manager   *websocket.Manager
	resolver  *viewer.Resolver
	feed      viewer.Feed
	mapCfg    config.MapConfig
	trailSize int
	logger    log.Logger

	mu       sync.Mutex
	bindings map[string]*viewerBinding
}

var (
	_ websocket.MessageHandler   = (*ViewerMessageHandler)(nil)
	_ websocket.LifecycleHandler = (*ViewerMessageHandler)(nil)
)

func NewViewerMessageHandler(manager *websocket.Manager, resolver *viewer.Resolver, feed viewer.Feed, mapCfg config.MapConfig, trailSize int, logger log.Logger) *ViewerMessageHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ViewerMessageHandler{
		manager:   manager,
		resolver:  resolver,
		feed:      feed,
		mapCfg:    mapCfg,
		trailSize: trailSize,
		logger:    logger.WithName("viewer"),
		bindings:  make(map[string]*viewerBinding),
	}
}

func (h *ViewerMessageHandler) ClientConnected(client *websocket.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &viewerBinding{
		surface: render.NewSurface(h.mapCfg),
		ctx:     ctx,
		cancel:  cancel,
	}

	b.surface.OnChange(func(state render.MapState) {
		h.send(client, websocket.TypeMapState, state)
	})
	b.session = viewer.NewSession(h.resolver, h.feed, h.trailSize, func(change viewer.Change) {
		h.viewChanged(client, b, change)
	}, h.logger.WithValues("client_id", client.ID))
	b.surface.Init()

	h.mu.Lock()
	h.bindings[client.ID] = b
	h.mu.Unlock()

	if code := client.Code(); code != "" {
		go h.resolve(client, b, code)
	}
}

func (h *ViewerMessageHandler) ClientDisconnected(client *websocket.Client) {
	h.mu.Lock()
	b, ok := h.bindings[client.ID]
	delete(h.bindings, client.ID)
	h.mu.Unlock()

	if !ok {
		return
	}
	b.cancel()
	b.session.Close()
	b.surface.Release()
}

func (h *ViewerMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeResolve:
		return h.handleResolve(client, msg)

	case websocket.TypeSetZoom:
		return h.handleSetZoom(client, msg)

	case websocket.TypePing:
		return h.handlePing(client)

	default:
		h.logger.Warn("Unknown message type", "client_id", client.ID, "type", string(msg.Type))
	}

	return nil
}

func (h *ViewerMessageHandler) binding(client *websocket.Client) *viewerBinding {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bindings[client.ID]
}

func (h *ViewerMessageHandler) handleResolve(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.ResolvePayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	b := h.binding(client)
	if b == nil {
		return nil
	}

	code := domain.NormalizeCode(payload.Code)
	if code != "" {
		if err := h.manager.Watch(client, code); err != nil {
			h.send(client, websocket.TypeResolveError, &websocket.ResolveErrorPayload{
				Code:     code,
				Category: "internal",
				Message:  err.Error(),
			})
			return nil
		}
	}

	go h.resolve(client, b, code)
	return nil
}

func (h *ViewerMessageHandler) resolve(client *websocket.Client, b *viewerBinding, code string) {
	err := b.session.Resolve(b.ctx, code)
	if err == nil {
		return
	}

	h.logger.Debug("Resolution failed", "client_id", client.ID, "device_code", code, "error", err.Error())
	h.send(client, websocket.TypeResolveError, &websocket.ResolveErrorPayload{
		Code:     code,
		Category: domain.Category(err),
		Message:  err.Error(),
	})
}

func (h *ViewerMessageHandler) handleSetZoom(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.SetZoomPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	b := h.binding(client)
	if b == nil {
		return nil
	}
	return b.surface.SetZoom(payload.Zoom)
}

func (h *ViewerMessageHandler) handlePing(client *websocket.Client) error {
	h.send(client, websocket.TypePong, nil)
	return nil
}

// viewChanged pushes the new view to the client and redraws its map.
func (h *ViewerMessageHandler) viewChanged(client *websocket.Client, b *viewerBinding, change viewer.Change) {
	state := change.State

	if change.Appended != nil {
		h.send(client, websocket.TypeSample, &websocket.SamplePayload{
			Sample:  *change.Appended,
			Summary: state.Summarize(),
		})
	} else {
		h.send(client, websocket.TypeViewState, websocket.NewViewStatePayload(state))
	}

	if state.Device != nil && !state.Loading {
		b.surface.Update(state.Device.Code, state.Sequence)
	}
}

func (h *ViewerMessageHandler) send(client *websocket.Client, msgType websocket.MessageType, payload interface{}) {
	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		h.logger.Error(err, "Failed to encode message", "type", string(msgType))
		return
	}
	if err := client.SendMessage(msg); err != nil {
		h.logger.Warn("Dropping message", "client_id", client.ID, "type", string(msgType), "error", err.Error())
	}
}
