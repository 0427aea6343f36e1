package gateway

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/palee/roulette39/internal/engine"
)

// Broadcaster translates engine events into topic publishes across every
// registered broker. It implements engine.Broadcaster, so the engine stays
// ignorant of websockets and NATS alike.
type Broadcaster struct {
	mu      sync.RWMutex
	brokers []Broker
}

func NewBroadcaster(brokers ...Broker) *Broadcaster {
	return &Broadcaster{brokers: brokers}
}

// Add registers another broker. Brokers added after startup receive only
// subsequent events.
func (b *Broadcaster) Add(broker Broker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.brokers = append(b.brokers, broker)
}

func (b *Broadcaster) publish(topic string, payload any, retain bool) {
	b.mu.RLock()
	brokers := b.brokers
	b.mu.RUnlock()
	for _, broker := range brokers {
		broker.Publish(topic, payload, retain)
	}
}

func (b *Broadcaster) GameState(channel string, state engine.GameState) {
	b.publish(TopicGameState(channel), state, true)
}

func (b *Broadcaster) SpinStarted(channel, roundNumber, winningNumber string) {
	b.publish(TopicGameResult(channel), GameResultData{
		Type:          GameResultSpinWheel,
		RoundNumber:   roundNumber,
		WinningNumber: winningNumber,
	}, false)
}

func (b *Broadcaster) RoundSettled(channel string, summary engine.Summary) {
	b.publish(TopicGameResult(channel), GameResultData{
		Type:          GameResultFinal,
		RoundNumber:   summary.RoundNumber,
		WinningNumber: summary.WinningNumber,
		Summary:       &summary,
	}, false)
}

func (b *Broadcaster) BetsChanged(channel string, bets engine.Snapshot, newRound bool, roundNumber string) {
	kind := BetsUpdateBetPlaced
	if newRound {
		kind = BetsUpdateNewRound
	}
	b.publish(TopicBetsUpdate(channel), BetsUpdateData{
		Type:        kind,
		RoundNumber: roundNumber,
		Bets:        bets,
	}, true)
}

func (b *Broadcaster) PlayerResult(channel string, accountID int64, result engine.PlayerResult) {
	b.publish(TopicPlayerResult(channel, accountID), result, false)
}

func (b *Broadcaster) Balance(channel string, accountID int64, balance decimal.Decimal) {
	b.publish(TopicBalance(channel, accountID), map[string]decimal.Decimal{"balance": balance}, false)
}

func (b *Broadcaster) AdminData(channel string, data engine.AdminData) {
	b.publish(TopicAdminData(channel), data, false)
}

var _ engine.Broadcaster = (*Broadcaster)(nil)
