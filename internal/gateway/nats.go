package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
)

// natsRequestSuffix is the per-channel inbound subject: clients send Message
// envelopes to "roulette.<channel>.req".
const natsRequestSuffix = ".req"

// NATSGateway bridges the topic space onto a NATS server. Outbound publishes
// map one-to-one onto subjects; inbound requests arrive on the per-channel
// request subject and dispatch into the service. Retained payloads are
// emulated by replaying the latest copy when a client connects.
type NATSGateway struct {
	nc      *nats.Conn
	service *Service
	logger  *log.Logger
	sub     *nats.Subscription

	mu       sync.Mutex
	retained map[string]json.RawMessage
	accounts map[string]int64 // clientID -> accountID
}

// ConnectNATS dials the server with a fixed reconnect interval and unlimited
// retries. The engine keeps running while NATS is down; publishes during an
// outage are dropped, not queued.
func ConnectNATS(url string, reconnectWait time.Duration, service *Service, logger *log.Logger) (*NATSGateway, error) {
	logger = logger.WithPrefix("nats")

	nc, err := nats.Connect(url,
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	g := &NATSGateway{
		nc:       nc,
		service:  service,
		logger:   logger,
		retained: make(map[string]json.RawMessage),
		accounts: make(map[string]int64),
	}

	sub, err := nc.Subscribe(topicPrefix+".*"+natsRequestSuffix, g.handleRequest)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe requests: %w", err)
	}
	g.sub = sub

	logger.Info("Connected to NATS", "url", nc.ConnectedUrl())
	return g, nil
}

// Close drains the subscription and closes the connection.
func (g *NATSGateway) Close() {
	if g.sub != nil {
		_ = g.sub.Drain()
	}
	g.nc.Close()
}

// Publish sends a payload on its subject. While disconnected the payload is
// dropped; state topics are republished every tick anyway.
func (g *NATSGateway) Publish(topic string, payload any, retain bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		g.logger.Error("Failed to encode publish", "topic", topic, "error", err)
		return
	}

	if retain {
		g.mu.Lock()
		g.retained[topic] = data
		g.mu.Unlock()
	}

	if !g.nc.IsConnected() {
		return
	}
	if err := g.nc.Publish(topic, data); err != nil {
		g.logger.Debug("Failed to publish", "topic", topic, "error", err)
	}
}

// handleRequest dispatches one inbound envelope. The channel comes from the
// subject, the verb from the envelope type, and responses go to the reply
// subject when set plus the well-known response topics.
func (g *NATSGateway) handleRequest(m *nats.Msg) {
	channelID := channelFromSubject(m.Subject)

	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		g.logger.Warn("Discarding malformed request", "subject", m.Subject, "error", err)
		return
	}

	ctx := context.Background()

	switch msg.Type {
	case MessageTypeConnect:
		ch := g.service.Connect(channelID)
		// Replay retained state so a fresh client has the game picture.
		type retainedItem struct {
			topic string
			data  json.RawMessage
		}
		g.mu.Lock()
		var replay []retainedItem
		for topic, data := range g.retained {
			if MatchTopic(topicPrefix+"."+ch.ID()+".>", topic) {
				replay = append(replay, retainedItem{topic, data})
			}
		}
		g.mu.Unlock()
		for _, it := range replay {
			if err := g.nc.Publish(it.topic, it.data); err != nil {
				g.logger.Debug("Failed to replay retained", "topic", it.topic, "error", err)
			}
		}

	case MessageTypeDisconnect:
		g.service.Disconnect(channelID, msg.ClientID)
		g.mu.Lock()
		delete(g.accounts, msg.ClientID)
		g.mu.Unlock()

	case MessageTypeLogin:
		var data LoginData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return
		}
		resp := g.service.Login(ctx, channelID, data.Username, data.Password, msg.ClientID)
		if resp.Success {
			g.mu.Lock()
			g.accounts[msg.ClientID] = resp.Account.ID
			g.mu.Unlock()
		}
		g.respond(m, TopicLoginResponse(msg.ClientID), resp, msg.RequestID)

	case MessageTypeBet:
		var data BetData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return
		}
		g.mu.Lock()
		accountID := g.accounts[msg.ClientID]
		g.mu.Unlock()
		resp := g.service.PlaceBet(ctx, channelID, accountID, data)
		g.respond(m, TopicBetResponse(msg.ClientID), resp, msg.RequestID)

	case MessageTypeRecharge:
		var data RechargeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return
		}
		resp := g.service.Recharge(ctx, channelID, data)
		g.respond(m, TopicRechargeResponse(msg.RequestID), resp, msg.RequestID)

	case MessageTypeQuery:
		var data QueryData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return
		}
		resp := g.service.Query(ctx, channelID, data)
		g.respond(m, TopicQueryResponse(msg.RequestID), resp, msg.RequestID)

	default:
		g.logger.Warn("Unknown request type", "type", msg.Type, "subject", m.Subject)
	}
}

// respond publishes a reply on the request's reply subject when present, and
// always on the well-known response topic.
func (g *NATSGateway) respond(m *nats.Msg, topic string, payload any, requestID string) {
	out, err := NewMessage(MessageTypePublish, topic, payload)
	if err != nil {
		g.logger.Error("Failed to encode response", "topic", topic, "error", err)
		return
	}
	out.RequestID = requestID
	data, err := json.Marshal(out)
	if err != nil {
		return
	}

	if m.Reply != "" {
		if err := m.RespondMsg(&nats.Msg{Subject: m.Reply, Data: data}); err != nil {
			g.logger.Debug("Failed to respond", "subject", m.Reply, "error", err)
		}
	}
	if err := g.nc.Publish(topic, data); err != nil {
		g.logger.Debug("Failed to publish response", "topic", topic, "error", err)
	}
}

// channelFromSubject extracts the channel id from "roulette.<channel>.req".
func channelFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
