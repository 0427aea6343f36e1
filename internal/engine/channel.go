package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"

	"github.com/palee/roulette39/internal/store"
)

// DefaultQueryDays is the trailing window for admin queries when the request
// does not name one. Matches the record retention window.
const DefaultQueryDays = 14

// Channel is one isolated game instance: its own ledger, session registry and
// wall-clock game loop. Channels share nothing but the stateless settlement
// rules, so bets on one channel can never leak into another.
//
// Every read-modify-write over the ledger or the phase is serialized by the
// channel mutex: a bet arriving on the same tick as a phase transition lands
// deterministically on one side of it.
type Channel struct {
	id        string
	store     store.Store
	broadcast Broadcaster
	clock     quartz.Clock
	logger    *log.Logger
	sessions  *SessionRegistry

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	rng          *rand.Rand
	ledger       *Ledger
	phase        Phase
	roundNumber  string
	running      bool
	pinnedRound  string
	pinnedNumber int
}

// NewChannel constructs a channel. The game loop does not run until the first
// client connects.
func NewChannel(ctx context.Context, id string, st store.Store, b Broadcaster, clock quartz.Clock, rng *rand.Rand, logger *log.Logger) *Channel {
	ctx, cancel := context.WithCancel(ctx)
	return &Channel{
		id:        id,
		store:     st,
		broadcast: b,
		clock:     clock,
		rng:       rng,
		logger:    logger.WithPrefix("channel").With("channel", id),
		sessions:  NewSessionRegistry(),
		ctx:       ctx,
		cancel:    cancel,
		ledger:    NewLedger(),
		phase:     PhaseStop,
	}
}

// ID returns the channel identifier.
func (c *Channel) ID() string { return c.id }

// Sessions exposes the channel's session registry.
func (c *Channel) Sessions() *SessionRegistry { return c.sessions }

// Connect registers one more present client and starts the game loop if it is
// not running yet. Once started the loop runs until process shutdown, so a
// round in progress always finishes even with zero observers.
func (c *Channel) Connect() {
	online := c.sessions.Connect()
	c.logger.Info("Client connected", "online", online)
	c.Start()
}

// Start launches the game loop. Safe to call repeatedly; pre-declared
// channels start with the server instead of on first client contact.
func (c *Channel) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.logger.Info("Game loop starting")
	c.clock.TickerFunc(c.ctx, time.Second, func() error {
		c.tick()
		return nil
	}, "channel", c.id)
}

// Stop cancels the game loop for clean process shutdown.
func (c *Channel) Stop() {
	c.cancel()
}

// Running reports whether the game loop has been started.
func (c *Channel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// State returns the current public game state.
func (c *Channel) State() GameState {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return GameState{
		Phase:       c.phase,
		RoundNumber: c.roundNumber,
		Seconds:     SecondsRemaining(now),
		Running:     c.running,
	}
}

// tick runs once per second. It samples the wall clock, recomputes the phase,
// and on a phase change fires the transition actions in order: draw + pin on
// entering spinning, settlement on leaving spinning, ledger reset on entering
// betting.
func (c *Channel) tick() {
	now := c.clock.Now()
	newPhase := PhaseOf(now)
	round := RoundNumberAt(now)

	var (
		spinRound, spinNumber string
		settleSnap            Snapshot
		settleRound           string
		settleNumber          int
		resetSnap             Snapshot
	)

	c.mu.Lock()
	c.roundNumber = round
	oldPhase := c.phase
	changed := newPhase != oldPhase
	state := GameState{Phase: newPhase, RoundNumber: round, Seconds: SecondsRemaining(now), Running: c.running}

	if changed {
		c.phase = newPhase
		c.logger.Info("Phase change", "from", oldPhase, "to", newPhase, "round", round)

		if oldPhase == PhaseBetting && newPhase == PhaseSpinning {
			// Pin the outcome and the round number now: the clock minute can
			// roll over before settlement runs, and settlement must use the
			// round the bets were placed in.
			n := c.rng.Intn(MaxNumber) + 1
			c.pinnedNumber = n
			c.pinnedRound = round
			spinRound, spinNumber = round, FormatNumber(n)
		}

		if oldPhase == PhaseSpinning && newPhase == PhaseStop {
			if c.pinnedNumber != 0 {
				settleSnap = c.ledger.Snapshot()
				settleRound = c.pinnedRound
				settleNumber = c.pinnedNumber
				c.pinnedNumber = 0
				c.pinnedRound = ""
			} else {
				// The loop started mid-spin; there was no draw to settle.
				c.logger.Warn("Entered stop without a pinned draw, skipping settlement")
			}
		}

		if newPhase == PhaseBetting {
			c.ledger.Reset()
			resetSnap = c.ledger.Snapshot()
		}
	}
	c.mu.Unlock()

	c.broadcast.GameState(c.id, state)

	if spinNumber != "" {
		c.logger.Info("Wheel spinning", "round", spinRound, "winning", spinNumber)
		c.broadcast.SpinStarted(c.id, spinRound, spinNumber)
	}
	if settleSnap != nil {
		c.settle(settleSnap, settleRound, settleNumber)
	}
	if resetSnap != nil {
		c.logger.Info("New round open", "round", round)
		c.broadcast.BetsChanged(c.id, resetSnap, true, round)
	}
	if changed {
		c.publishAdminData()
	}
}

// Login authenticates an account and registers its session. A second login
// for an account that already has a session on this channel is rejected.
func (c *Channel) Login(ctx context.Context, username, password, transportID string) (store.Account, error) {
	acct, err := c.store.Login(ctx, username, password)
	if err != nil {
		return store.Account{}, err
	}
	if err := c.sessions.Add(Session{
		AccountID:   acct.ID,
		Name:        acct.DisplayName,
		TransportID: transportID,
		LoggedInAt:  c.clock.Now(),
	}); err != nil {
		c.logger.Info("Duplicate login rejected", "account", acct.Username)
		return store.Account{}, err
	}
	c.logger.Info("Player logged in", "account", acct.Username, "id", acct.ID)
	c.publishAdminData()
	return acct, nil
}

// LoggedIn reports whether the account holds a session on this channel.
func (c *Channel) LoggedIn(accountID int64) bool {
	_, ok := c.sessions.Get(accountID)
	return ok
}

// Disconnect drops presence and the account's session, if any. It never stops
// the game loop.
func (c *Channel) Disconnect(accountID int64) {
	online := c.sessions.Disconnect()
	if accountID != 0 && c.sessions.Remove(accountID) {
		c.logger.Info("Player disconnected", "account", accountID, "online", online)
		c.publishAdminData()
		return
	}
	c.logger.Info("Client disconnected", "online", online)
}

// DisconnectTransport drops presence and whichever session was bound to the
// transport. Used when a connection closes without a disconnect message.
func (c *Channel) DisconnectTransport(transportID string) {
	online := c.sessions.Disconnect()
	if accountID, ok := c.sessions.RemoveByTransport(transportID); ok {
		c.logger.Info("Player connection lost", "account", accountID, "online", online)
		c.publishAdminData()
		return
	}
	c.logger.Info("Client disconnected", "online", online)
}

// PlaceBet admits a wager for the current round. It is accepted only while
// the phase is betting; a repeat bet in the same family replaces the previous
// one, refunding its stake before the new stake is debited.
func (c *Channel) PlaceBet(ctx context.Context, accountID int64, family Family, target string, amount decimal.Decimal) (decimal.Decimal, error) {
	if _, ok := c.sessions.Get(accountID); !ok {
		return decimal.Zero, ErrNotLoggedIn
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidBet
	}
	target, err := NormalizeTarget(family, target)
	if err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	balance, snap, err := c.placeBetLocked(ctx, accountID, family, target, amount)
	roundNumber := c.roundNumber
	c.mu.Unlock()
	if err != nil {
		return decimal.Zero, err
	}

	c.broadcast.BetsChanged(c.id, snap, false, roundNumber)
	return balance, nil
}

// placeBetLocked holds the channel mutex so the phase check, the ledger
// mutation and the balance movements form one unit against concurrent ticks.
func (c *Channel) placeBetLocked(ctx context.Context, accountID int64, family Family, target string, amount decimal.Decimal) (decimal.Decimal, Snapshot, error) {
	switch c.phase {
	case PhaseBetting:
	case PhaseStop:
		return decimal.Zero, nil, ErrStopPhase
	default:
		return decimal.Zero, nil, ErrSpinningPhase
	}

	acct, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, nil, err
	}

	// A replaced bet's stake comes back before the new stake goes out, so the
	// balance check is against balance plus the refund.
	oldAmount, hasOld := c.ledger.LiveStake(family, accountID)
	if acct.Balance.Add(oldAmount).LessThan(amount) {
		return decimal.Zero, nil, ErrInsufficientBalance
	}

	if hasOld {
		if _, err := c.store.AdjustBalance(ctx, accountID, oldAmount); err != nil {
			return decimal.Zero, nil, err
		}
		c.ledger.Lift(family, accountID)
	}

	balance, err := c.store.AdjustBalance(ctx, accountID, amount.Neg())
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			err = ErrInsufficientBalance
		}
		return decimal.Zero, nil, err
	}

	c.ledger.Place(family, target, Stake{AccountID: accountID, Name: acct.DisplayName, Amount: amount})

	if err := c.store.RecordBet(ctx, store.BetRecord{
		Channel:     c.id,
		AccountID:   accountID,
		RoundNumber: c.roundNumber,
		Family:      string(family),
		Target:      target,
		Amount:      amount,
	}); err != nil {
		// The wager itself stands; the history row is best-effort.
		c.logger.Error("Failed to record bet", "account", accountID, "error", err)
	}

	c.logger.Info("Bet placed",
		"account", acct.Username, "family", family, "target", target,
		"amount", amount, "replaced", hasOld)
	return balance, c.ledger.Snapshot(), nil
}

// Recharge credits an account on behalf of an operator and notifies the
// player if they are online.
func (c *Channel) Recharge(ctx context.Context, accountID int64, amount decimal.Decimal, operator, remark string) (store.RechargeReceipt, error) {
	receipt, err := c.store.Recharge(ctx, accountID, amount, operator, remark)
	if err != nil {
		return store.RechargeReceipt{}, err
	}
	c.logger.Info("Recharge applied", "account", accountID, "amount", amount, "operator", operator)

	if _, ok := c.sessions.Get(accountID); ok {
		c.broadcast.Balance(c.id, accountID, receipt.BalanceAfter)
	}
	c.publishAdminData()
	return receipt, nil
}

// QueryParams carries the optional filters of an admin query.
type QueryParams struct {
	AccountID int64 `json:"memberId,omitempty"`
	Days      int   `json:"days,omitempty"`
}

// AdminQuery answers an admin console query. Failures come back as an empty
// result rather than an error envelope.
func (c *Channel) AdminQuery(ctx context.Context, queryType string, params QueryParams) any {
	days := params.Days
	if days <= 0 {
		days = DefaultQueryDays
	}

	var (
		result any
		err    error
	)
	switch queryType {
	case "betRecords":
		result, err = c.store.BetRecords(ctx, c.id, days)
	case "memberBetRecords":
		result, err = c.store.AccountBetRecords(ctx, c.id, params.AccountID, days)
	case "systemStats":
		result, err = c.store.SystemStats(ctx, c.id, days)
	case "memberStats":
		result, err = c.store.AccountStats(ctx, c.id, params.AccountID, days)
	case "rechargeRecords":
		result, err = c.store.RechargeRecords(ctx, params.AccountID, days)
	case "gameResults":
		result, err = c.store.RoundResults(ctx, c.id, days)
	default:
		return struct{}{}
	}
	if err != nil {
		c.logger.Error("Admin query failed", "type", queryType, "error", err)
		return struct{}{}
	}
	return result
}

// settle consumes a frozen ledger snapshot for the pinned round and winning
// number: computes the result, persists it, credits the winners, and
// broadcasts aggregate and per-player outcomes. Settlement runs off the
// pinned values exactly once per round.
func (c *Channel) settle(snap Snapshot, roundNumber string, winning int) {
	ctx := c.ctx
	res := Settle(snap, roundNumber, winning)

	c.logger.Info("Round settled",
		"round", roundNumber, "winning", res.WinningNumber,
		"totalBets", res.TotalBets, "totalPayout", res.TotalPayout,
		"winners", res.WinnersCount, "systemProfit", res.SystemProfit)

	if err := c.store.SettleBets(ctx, c.id, roundNumber, res.WinningNumber,
		func(family, target string, amount decimal.Decimal) decimal.Decimal {
			return ProfitFor(Family(family), target, amount, winning)
		}); err != nil {
		c.logger.Error("Failed to settle bet records", "round", roundNumber, "error", err)
	}

	if err := c.store.RecordRoundSettlement(ctx, store.RoundSettlement{
		Channel:       c.id,
		RoundNumber:   roundNumber,
		WinningNumber: res.WinningNumber,
		TotalBets:     res.TotalBets,
		TotalPayout:   res.TotalPayout,
		SystemProfit:  res.SystemProfit,
	}); err != nil {
		c.logger.Error("Failed to record round settlement", "round", roundNumber, "error", err)
	}

	// Credits are per player per bet. One failed credit must not block the
	// remaining winners.
	for _, p := range res.Payouts {
		if _, err := c.store.AdjustBalance(ctx, p.AccountID, p.Amount); err != nil {
			c.logger.Error("Payout credit failed",
				"account", p.AccountID, "family", p.Family, "amount", p.Amount, "error", err)
			continue
		}
		c.logger.Info("Payout credited",
			"account", p.Name, "family", p.Family, "target", p.Target,
			"stake", p.Stake, "payout", p.Amount)
	}

	for _, s := range c.sessions.Sessions() {
		profit := res.Profits[s.AccountID]
		balance := decimal.Zero
		if acct, err := c.store.GetAccount(ctx, s.AccountID); err == nil {
			balance = acct.Balance
		}
		c.broadcast.PlayerResult(c.id, s.AccountID, PlayerResult{
			WinningNumber: res.WinningNumber,
			Profit:        profit,
			Balance:       balance,
			RoundNumber:   roundNumber,
		})
		c.broadcast.Balance(c.id, s.AccountID, balance)
	}

	c.broadcast.RoundSettled(c.id, Summary{
		RoundNumber:   roundNumber,
		WinningNumber: res.WinningNumber,
		TotalBets:     res.TotalBets,
		WinnersCount:  res.WinnersCount,
		TotalPayout:   res.TotalPayout,
		SystemProfit:  res.SystemProfit,
	})
}

// publishAdminData pushes the admin console view: all accounts, who is
// online, the live ledger and today's house stats.
func (c *Channel) publishAdminData() {
	ctx := c.ctx
	members, err := c.store.AllAccounts(ctx)
	if err != nil {
		c.logger.Error("Failed to load accounts for admin data", "error", err)
	}
	stats, err := c.store.SystemStats(ctx, c.id, 0)
	if err != nil {
		c.logger.Error("Failed to load system stats for admin data", "error", err)
	}

	c.mu.Lock()
	bets := c.ledger.Snapshot()
	roundNumber := c.roundNumber
	c.mu.Unlock()

	c.broadcast.AdminData(c.id, AdminData{
		Members:       members,
		OnlinePlayers: c.sessions.AccountIDs(),
		Bets:          bets,
		SystemStats:   stats,
		RoundNumber:   roundNumber,
	})
}
