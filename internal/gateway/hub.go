package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// Broker publishes payloads onto the shared topic space. The websocket hub
// and the NATS gateway both implement it; the engine broadcaster fans out to
// every registered broker.
type Broker interface {
	Publish(topic string, payload any, retain bool)
}

// Hub is the websocket side of the gateway: it tracks connections, fans
// publishes out to matching subscriptions, and keeps the retained payloads
// that late subscribers replay.
type Hub struct {
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	retained    map[string]json.RawMessage
	service     *Service
	logger      *log.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewHub creates a hub dispatching into the service.
func NewHub(service *Service, logger *log.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Browser clients connect from arbitrary origins.
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		retained:    make(map[string]json.RawMessage),
		service:     service,
		logger:      logger.WithPrefix("hub"),
		ctx:         ctx,
		cancel:      cancel,
	}
	go h.run()
	return h
}

// Stop closes all connections.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	for conn := range h.connections {
		_ = conn.Close()
	}
	h.mu.Unlock()
}

// run handles connection lifecycle.
func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = true
			total := len(h.connections)
			h.mu.Unlock()
			h.logger.Info("Client connected", "client", conn.ID(), "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			_, ok := h.connections[conn]
			if ok {
				delete(h.connections, conn)
			}
			total := len(h.connections)
			h.mu.Unlock()
			if ok {
				// Drop the session of whoever was logged in on this socket.
				h.service.Disconnect(conn.Channel(), conn.ID())
				_ = conn.Close()
			}
			h.logger.Info("Client disconnected", "client", conn.ID(), "total", total)

		case <-h.ctx.Done():
			return
		}
	}
}

// HandleWebSocket upgrades the request and starts the connection pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := newConnection(conn, h, h.service, h.logger)
	h.register <- client
	client.Start()

	go func() {
		<-client.ctx.Done()
		select {
		case h.unregister <- client:
		case <-h.ctx.Done():
		}
	}()
}

// Publish fans a payload out to every connection whose subscriptions match
// the topic. Retained payloads are kept for replay to late subscribers.
func (h *Hub) Publish(topic string, payload any, retain bool) {
	msg, err := NewMessage(MessageTypePublish, topic, payload)
	if err != nil {
		h.logger.Error("Failed to encode publish", "topic", topic, "error", err)
		return
	}

	h.mu.Lock()
	if retain {
		h.retained[topic] = msg.Data
	}
	conns := make([]*Connection, 0, len(h.connections))
	for conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if !conn.subscribed(topic) {
			continue
		}
		if err := conn.SendMessage(msg); err != nil {
			h.logger.Debug("Failed to deliver publish", "client", conn.ID(), "topic", topic, "error", err)
		}
	}
}

// replayRetained sends every retained payload matching the pattern to one
// connection.
func (h *Hub) replayRetained(conn *Connection, pattern string) {
	h.mu.RLock()
	type item struct {
		topic string
		data  json.RawMessage
	}
	var items []item
	for topic, data := range h.retained {
		if MatchTopic(pattern, topic) {
			items = append(items, item{topic, data})
		}
	}
	h.mu.RUnlock()

	for _, it := range items {
		msg, err := NewMessage(MessageTypePublish, it.topic, nil)
		if err != nil {
			continue
		}
		msg.Data = it.data
		if err := conn.SendMessage(msg); err != nil {
			return
		}
	}
}

// Connections returns the current connection count.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
