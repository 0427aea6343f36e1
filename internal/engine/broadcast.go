package engine

import (
	"github.com/shopspring/decimal"

	"github.com/palee/roulette39/internal/store"
)

// Broadcaster fans engine events out to clients. Implementations (the
// websocket hub, the NATS gateway) namespace every event by channel; a
// disconnected transport drops events rather than queueing them, and the
// engine never blocks on delivery.
type Broadcaster interface {
	// GameState is published every tick; transports keep the latest value for
	// late joiners.
	GameState(channel string, state GameState)
	// SpinStarted announces the drawn number when the wheel starts turning.
	SpinStarted(channel string, roundNumber, winningNumber string)
	// RoundSettled announces the aggregate settlement of a round.
	RoundSettled(channel string, summary Summary)
	// BetsChanged publishes the full ledger view, with newRound set when the
	// ledger was just reset for a fresh betting window.
	BetsChanged(channel string, bets Snapshot, newRound bool, roundNumber string)
	// PlayerResult delivers a player's personal round outcome.
	PlayerResult(channel string, accountID int64, result PlayerResult)
	// Balance delivers a player's refreshed balance.
	Balance(channel string, accountID int64, balance decimal.Decimal)
	// AdminData delivers the admin console view.
	AdminData(channel string, data AdminData)
}

// GameState is the per-tick phase broadcast.
type GameState struct {
	Phase       Phase  `json:"phase"`
	RoundNumber string `json:"roundNumber"`
	Seconds     int    `json:"seconds"`
	Running     bool   `json:"gameRunning"`
}

// Summary is the public aggregate view of a settled round.
type Summary struct {
	RoundNumber   string          `json:"roundNumber"`
	WinningNumber string          `json:"winningNumber"`
	TotalBets     decimal.Decimal `json:"totalBets"`
	WinnersCount  int             `json:"winnersCount"`
	TotalPayout   decimal.Decimal `json:"totalPayout"`
	SystemProfit  decimal.Decimal `json:"systemProfit"`
}

// PlayerResult is a player's personal outcome for a settled round.
type PlayerResult struct {
	WinningNumber string          `json:"winningNumber"`
	Profit        decimal.Decimal `json:"profit"`
	Balance       decimal.Decimal `json:"balance"`
	RoundNumber   string          `json:"roundNumber"`
}

// AdminData is the admin console broadcast.
type AdminData struct {
	Members       []store.Account   `json:"members"`
	OnlinePlayers []int64           `json:"onlinePlayers"`
	Bets          Snapshot          `json:"bets"`
	SystemStats   store.SystemStats `json:"systemStats"`
	RoundNumber   string            `json:"roundNumber"`
}

// NopBroadcaster discards every event. Useful in tests that only care about
// state transitions.
type NopBroadcaster struct{}

func (NopBroadcaster) GameState(string, GameState)                {}
func (NopBroadcaster) SpinStarted(string, string, string)         {}
func (NopBroadcaster) RoundSettled(string, Summary)               {}
func (NopBroadcaster) BetsChanged(string, Snapshot, bool, string) {}
func (NopBroadcaster) PlayerResult(string, int64, PlayerResult)   {}
func (NopBroadcaster) Balance(string, int64, decimal.Decimal)     {}
func (NopBroadcaster) AdminData(string, AdminData)                {}

var _ Broadcaster = NopBroadcaster{}
