package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

var ErrConnectionClosed = websocket.ErrCloseSent

// Connection is one websocket client: its pumps, its subscription patterns
// and the account it logged in as.
type Connection struct {
	conn      *websocket.Conn
	send      chan *Message
	id        string
	channelID string
	accountID int64
	patterns  []string
	hub       *Hub
	service   *Service
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closeOnce sync.Once
}

func newConnection(conn *websocket.Conn, hub *Hub, service *Service, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	return &Connection{
		conn:    conn,
		send:    make(chan *Message, 256),
		id:      id,
		hub:     hub,
		service: service,
		logger:  logger.WithPrefix("conn").With("client", id),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins handling the connection.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

// ID returns the server-assigned client id, also the transport id sessions
// are bound to.
func (c *Connection) ID() string { return c.id }

// Channel returns the channel this connection joined.
func (c *Connection) Channel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channelID
}

// Account returns the logged-in account id, zero before login.
func (c *Connection) Account() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accountID
}

// SendMessage queues a message for the write pump. A full buffer closes the
// connection rather than blocking the publisher.
func (c *Connection) SendMessage(msg *Message) error {
	defer func() {
		if r := recover(); r != nil {
			// Channel was closed, expected during shutdown.
			c.logger.Debug("Attempted to send message on closed connection", "error", r)
		}
	}()

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn("Connection send buffer full, closing connection")
		_ = c.Close()
		return ErrConnectionClosed
	}
}

// subscribed reports whether any of the connection's patterns match the
// topic. Reply topics carrying this client's id always match.
func (c *Connection) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.patterns {
		if MatchTopic(p, topic) {
			return true
		}
	}
	return false
}

func (c *Connection) addPatterns(patterns ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, patterns...)
}

// readPump handles incoming messages from the client.
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// handleMessage dispatches a client message into the service.
func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type)

	switch msg.Type {
	case MessageTypeConnect:
		var data ConnectData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse connect data")
			return
		}
		c.handleConnect(data)

	case MessageTypeSubscribe:
		var data SubscribeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse subscribe data")
			return
		}
		c.addPatterns(data.Topics...)
		for _, p := range data.Topics {
			c.hub.replayRetained(c, p)
		}

	case MessageTypeLogin:
		var data LoginData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse login data")
			return
		}
		c.handleLogin(data, msg.RequestID)

	case MessageTypeBet:
		var data BetData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse bet data")
			return
		}
		resp := c.service.PlaceBet(c.ctx, c.Channel(), c.Account(), data)
		c.reply(TopicBetResponse(c.id), resp, msg.RequestID)

	case MessageTypeRecharge:
		var data RechargeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse recharge data")
			return
		}
		resp := c.service.Recharge(c.ctx, c.Channel(), data)
		c.reply(TopicRechargeResponse(msg.RequestID), resp, msg.RequestID)

	case MessageTypeQuery:
		var data QueryData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse query data")
			return
		}
		resp := c.service.Query(c.ctx, c.Channel(), data)
		c.reply(TopicQueryResponse(msg.RequestID), resp, msg.RequestID)

	case MessageTypeDisconnect:
		c.service.Disconnect(c.Channel(), c.id)
		c.mu.Lock()
		c.accountID = 0
		c.mu.Unlock()

	default:
		c.sendError("unknown_message_type", "Unknown message type: "+msg.Type.String())
	}
}

// handleConnect binds the connection to a channel, subscribes it to the
// channel's topic space and replays the retained state.
func (c *Connection) handleConnect(data ConnectData) {
	ch := c.service.Connect(data.Channel)

	c.mu.Lock()
	c.channelID = ch.ID()
	c.mu.Unlock()

	pattern := topicPrefix + "." + ch.ID() + ".>"
	c.addPatterns(pattern,
		TopicLoginResponse(c.id),
		TopicBetResponse(c.id))
	c.hub.replayRetained(c, pattern)
}

func (c *Connection) handleLogin(data LoginData, requestID string) {
	channelID := c.Channel()
	if channelID == "" && data.Channel != "" {
		// Login without a prior connect joins the named channel.
		c.handleConnect(ConnectData{Channel: data.Channel})
		channelID = c.Channel()
	}

	resp := c.service.Login(c.ctx, channelID, data.Username, data.Password, c.id)
	if resp.Success {
		c.mu.Lock()
		c.accountID = resp.Account.ID
		c.mu.Unlock()
	}
	c.reply(TopicLoginResponse(c.id), resp, requestID)
}

// reply sends a response payload directly to this connection on its reply
// topic, echoing the request id.
func (c *Connection) reply(topic string, payload any, requestID string) {
	msg, err := NewMessage(MessageTypePublish, topic, payload)
	if err != nil {
		c.logger.Error("Failed to encode reply", "topic", topic, "error", err)
		return
	}
	msg.RequestID = requestID
	_ = c.SendMessage(msg)
}

// sendError sends an error message to the client.
func (c *Connection) sendError(code, message string) {
	msg, err := NewMessage(MessageTypeError, "", ErrorData{Code: code, Message: message})
	if err != nil {
		c.logger.Error("Failed to create error message", "error", err)
		return
	}
	_ = c.SendMessage(msg)
}
