package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/palee/roulette39/internal/engine"
	"github.com/palee/roulette39/internal/store"
)

// SimulateCmd drives simulated players against an in-process engine on the
// real wall clock, printing a report as each round settles. Useful for
// watching the round cadence and the house edge without any infrastructure.
type SimulateCmd struct {
	Players int    `kong:"default='20',help='Number of simulated players'"`
	Rounds  int    `kong:"default='2',help='Rounds to observe before exiting'"`
	Channel string `kong:"help='Channel id (defaults to the host address)'"`
	Seed    *int64 `kong:"help='Deterministic RNG seed (optional)'"`
	Debug   bool   `kong:"help='Enable debug logging'"`
}

func (c *SimulateCmd) Run() error {
	logger := setupLogger("info", c.Debug)

	seed := time.Now().UnixNano()
	if c.Seed != nil {
		seed = *c.Seed
	}
	rng := rand.New(rand.NewSource(seed))
	logger.Info("Starting simulation", "players", c.Players, "rounds", c.Rounds, "seed", seed)

	mem := store.NewMemory()
	for i := 1; i <= c.Players; i++ {
		balance := decimal.NewFromInt(10000 + rng.Int63n(20000))
		mem.AddAccount(fmt.Sprintf("player%03d", i), "1234", fmt.Sprintf("Player %03d", i), balance)
	}

	ctx := setupSignalHandler(logger)
	rep := &reporter{logger: logger.WithPrefix("round"), settled: make(chan engine.Summary, 4)}
	manager := engine.NewManager(ctx, mem, rep, quartz.NewReal(), logger, func() *rand.Rand {
		return rand.New(rand.NewSource(rng.Int63()))
	})
	defer manager.Shutdown()

	ch := manager.Channel(c.Channel)
	ch.Connect()
	logger.Info("Simulating on channel", "channel", ch.ID())

	players := make([]store.Account, 0, c.Players)
	for i := 1; i <= c.Players; i++ {
		acct, err := ch.Login(ctx, fmt.Sprintf("player%03d", i), "1234", uuid.NewString())
		if err != nil {
			return fmt.Errorf("login player%03d: %w", i, err)
		}
		players = append(players, acct)
	}

	for round := 1; round <= c.Rounds; round++ {
		if err := waitForPhase(ctx, ch, engine.PhaseBetting); err != nil {
			return err
		}
		state := ch.State()
		logger.Info("Betting open", "round", state.RoundNumber, "seconds", state.Seconds)

		placed := 0
		for _, p := range players {
			family, target := randomBet(rng)
			amount := decimal.NewFromInt(10 + rng.Int63n(49)*10)
			if _, err := ch.PlaceBet(ctx, p.ID, family, target, amount); err != nil {
				logger.Debug("Bet rejected", "player", p.Username, "error", err)
				continue
			}
			placed++
		}
		logger.Info("Bets placed", "count", placed)

		select {
		case summary := <-rep.settled:
			logger.Info("Round complete",
				"round", summary.RoundNumber, "winning", summary.WinningNumber,
				"systemProfit", summary.SystemProfit)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Closing balances as a sanity report.
	total := decimal.Zero
	for _, p := range players {
		acct, err := mem.GetAccount(ctx, p.ID)
		if err != nil {
			continue
		}
		total = total.Add(acct.Balance)
	}
	logger.Info("Simulation finished", "rounds", c.Rounds, "totalBalances", total)
	return nil
}

// waitForPhase polls until the channel enters the phase.
func waitForPhase(ctx context.Context, ch *engine.Channel, phase engine.Phase) error {
	for {
		if ch.State().Phase == phase {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// randomBet picks a family and a legal target.
func randomBet(rng *rand.Rand) (engine.Family, string) {
	family := engine.Families[rng.Intn(len(engine.Families))]
	switch family {
	case engine.FamilyNumber:
		return family, engine.FormatNumber(1 + rng.Intn(engine.MaxNumber))
	case engine.FamilyOddEven:
		return family, []string{"odd", "even"}[rng.Intn(2)]
	case engine.FamilyBigSmall:
		return family, []string{"big", "small"}[rng.Intn(2)]
	default:
		return family, []string{"blue", "green", "red"}[rng.Intn(3)]
	}
}

// reporter prints settlements and hands them to the simulation loop. All
// other engine events are dropped.
type reporter struct {
	engine.NopBroadcaster
	logger  *log.Logger
	settled chan engine.Summary
}

func (r *reporter) SpinStarted(channel, roundNumber, winningNumber string) {
	r.logger.Info("Wheel spinning", "round", roundNumber, "winning", winningNumber)
}

func (r *reporter) RoundSettled(channel string, summary engine.Summary) {
	r.logger.Info("Round settled",
		"round", summary.RoundNumber, "winning", summary.WinningNumber,
		"totalBets", summary.TotalBets, "totalPayout", summary.TotalPayout,
		"winners", summary.WinnersCount, "systemProfit", summary.SystemProfit)
	select {
	case r.settled <- summary:
	default:
	}
}
