package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"locatr/internal/config"
	"locatr/internal/metrics"
	"locatr/pkg/log"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

type Manager struct {
	clients          map[string]*Client
	deviceIndex      map[string]map[string]bool
	clientsMutex     sync.RWMutex
	Register         chan *Client
	Unregister       chan *Client
	HandleMessage    chan *ClientMessage
	maxConnPerDevice int
	maxMessageSize   int64
	writeWait        time.Duration
	pongWait         time.Duration
	pingPeriod       time.Duration
	messageHandler   MessageHandler
	logger           log.Logger
	done             chan struct{}
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

// LifecycleHandler is implemented by message handlers that keep per-client
// state.
type LifecycleHandler interface {
	ClientConnected(client *Client)
	ClientDisconnected(client *Client)
}

func NewManager(cfg config.WebSocketConfig, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Manager{
		clients:          make(map[string]*Client),
		deviceIndex:      make(map[string]map[string]bool),
		Register:         make(chan *Client),
		Unregister:       make(chan *Client),
		HandleMessage:    make(chan *ClientMessage),
		maxConnPerDevice: cfg.MaxConnPerDevice,
		maxMessageSize:   cfg.MaxMessageSize,
		writeWait:        cfg.WriteWait,
		pongWait:         cfg.PongWait,
		pingPeriod:       cfg.PingPeriod,
		logger:           logger.WithName("websocket"),
		done:             make(chan struct{}),
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			close(m.done)
			return

		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()

	code := client.Code()
	if code != "" && m.maxConnPerDevice > 0 && len(m.deviceIndex[code]) >= m.maxConnPerDevice {
		m.clientsMutex.Unlock()
		m.logger.Warn("Max viewers reached for device", "device_code", code, "client_id", client.ID)
		client.close()
		return
	}

	m.clients[client.ID] = client
	m.index(code, client.ID)
	m.clientsMutex.Unlock()

	metrics.ActiveViewers.Inc()
	m.logger.Info("Client registered", "client_id", client.ID, "device_code", code)

	if lh, ok := m.messageHandler.(LifecycleHandler); ok {
		lh.ClientConnected(client)
	}
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	_, ok := m.clients[client.ID]
	if ok {
		delete(m.clients, client.ID)
		m.unindex(client.Code(), client.ID)
	}
	m.clientsMutex.Unlock()

	if !ok {
		return
	}

	if lh, ok := m.messageHandler.(LifecycleHandler); ok {
		lh.ClientDisconnected(client)
	}

	client.close()
	metrics.ActiveViewers.Dec()
	m.logger.Info("Client unregistered", "client_id", client.ID)
}

func (m *Manager) closeAll() {
	m.clientsMutex.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clientsMutex.RUnlock()

	for _, c := range clients {
		m.unregisterClient(c)
	}
}

// Watch moves client to the viewer group of code.
func (m *Manager) Watch(client *Client, code string) error {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	previous := client.Code()
	if previous == code {
		return nil
	}
	if _, ok := m.clients[client.ID]; !ok {
		return fmt.Errorf("client %s is not registered", client.ID)
	}
	if m.maxConnPerDevice > 0 && len(m.deviceIndex[code]) >= m.maxConnPerDevice {
		return fmt.Errorf("max viewers reached for device %s", code)
	}

	m.unindex(previous, client.ID)
	m.index(code, client.ID)
	client.setCode(code)
	return nil
}

func (m *Manager) index(code, clientID string) {
	if code == "" {
		return
	}
	if m.deviceIndex[code] == nil {
		m.deviceIndex[code] = make(map[string]bool)
	}
	m.deviceIndex[code][clientID] = true
}

func (m *Manager) unindex(code, clientID string) {
	if code == "" {
		return
	}
	delete(m.deviceIndex[code], clientID)
	if len(m.deviceIndex[code]) == 0 {
		delete(m.deviceIndex, code)
	}
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.logger.Warn("Error unmarshaling message", "client_id", clientMsg.Client.ID, "error", err.Error())
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			m.logger.Error(err, "Error handling message", "client_id", clientMsg.Client.ID, "type", string(msg.Type))
		}
	}
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	m.clientsMutex.RLock()
	client, exists := m.clients[clientID]
	m.clientsMutex.RUnlock()

	if !exists {
		return nil
	}

	if err := client.SendMessage(message); err != nil {
		m.logger.Warn("Dropping message", "client_id", clientID, "type", string(message.Type), "error", err.Error())
		return err
	}
	return nil
}

func (m *Manager) GetDeviceConnections(code string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.deviceIndex[code]; exists {
		return len(clients)
	}
	return 0
}

func (m *Manager) ClientCount() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}
