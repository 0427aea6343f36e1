package gateway

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/palee/roulette39/internal/engine"
	"github.com/palee/roulette39/internal/store"
)

// MessageType identifies a client-to-server websocket message.
type MessageType string

const (
	// Client to server messages
	MessageTypeConnect    MessageType = "client.connect"
	MessageTypeDisconnect MessageType = "client.disconnect"
	MessageTypeSubscribe  MessageType = "subscribe"
	MessageTypeLogin      MessageType = "player.login"
	MessageTypeBet        MessageType = "player.bet"
	MessageTypeRecharge   MessageType = "admin.recharge"
	MessageTypeQuery      MessageType = "admin.query"

	// Server to client messages
	MessageTypePublish MessageType = "publish"
	MessageTypeError   MessageType = "error"
)

// String returns the string representation of the message type.
func (mt MessageType) String() string {
	return string(mt)
}

// Message is the websocket envelope. Client messages carry Type and Data;
// server messages carry the topic the payload was published on, so websocket
// clients see the same subjects as NATS clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
	// ClientID identifies the sender on transports without a connection of
	// their own (NATS). Websocket clients get a server-assigned id instead.
	ClientID string `json:"clientId,omitempty"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(messageType MessageType, topic string, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      messageType,
		Topic:     topic,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Client → server payloads

type ConnectData struct {
	Channel string `json:"channel,omitempty"`
}

type DisconnectData struct {
	Channel string `json:"channel,omitempty"`
}

type SubscribeData struct {
	Topics []string `json:"topics"`
}

type LoginData struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Channel  string `json:"channel,omitempty"`
}

type BetData struct {
	Family string          `json:"family"`
	Target string          `json:"target"`
	Amount decimal.Decimal `json:"amount"`
}

type RechargeData struct {
	AccountID int64           `json:"memberId"`
	Amount    decimal.Decimal `json:"amount"`
	Operator  string          `json:"operator,omitempty"`
	Remark    string          `json:"remark,omitempty"`
}

type QueryData struct {
	QueryType string             `json:"queryType"`
	Params    engine.QueryParams `json:"params"`
}

// Server → client payloads

type LoginResponse struct {
	Success bool            `json:"success"`
	Reason  string          `json:"reason,omitempty"`
	Account *store.Account  `json:"account,omitempty"`
	Balance decimal.Decimal `json:"balance"`
	Channel string          `json:"channel,omitempty"`
}

type BetResponse struct {
	Success bool            `json:"success"`
	Reason  string          `json:"reason,omitempty"`
	Balance decimal.Decimal `json:"balance"`
}

type RechargeResponse struct {
	Success bool                   `json:"success"`
	Reason  string                 `json:"reason,omitempty"`
	Receipt *store.RechargeReceipt `json:"receipt,omitempty"`
}

type QueryResponse struct {
	QueryType string `json:"queryType"`
	Result    any    `json:"result"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GameResultData wraps game.result publishes: a spin_wheel event when the
// wheel starts and a game_result event once the round settles.
type GameResultData struct {
	Type          string          `json:"type"`
	RoundNumber   string          `json:"roundNumber"`
	WinningNumber string          `json:"winningNumber"`
	Summary       *engine.Summary `json:"summary,omitempty"`
}

// BetsUpdateData wraps bets.update publishes.
type BetsUpdateData struct {
	Type        string          `json:"type"`
	RoundNumber string          `json:"roundNumber"`
	Bets        engine.Snapshot `json:"bets"`
}

const (
	GameResultSpinWheel = "spin_wheel"
	GameResultFinal     = "game_result"
	BetsUpdateNewRound  = "new_round"
	BetsUpdateBetPlaced = "bet_placed"
)
