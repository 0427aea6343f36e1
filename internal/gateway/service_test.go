package gateway

import (
	"context"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/palee/roulette39/internal/engine"
	"github.com/palee/roulette39/internal/store"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type serviceFixture struct {
	svc   *Service
	mem   *store.Memory
	clock *quartz.Mock
	ctx   context.Context
}

// newServiceFixture wires a service over a memory store with the clock parked
// so the first tick opens betting.
func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ctx := context.Background()
	mock := quartz.NewMock(t)
	mock.Set(time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)).MustWait(ctx)

	mem := store.NewMemory()
	logger := log.New(io.Discard)
	manager := engine.NewManager(ctx, mem, engine.NopBroadcaster{}, mock, logger, func() *rand.Rand {
		return rand.New(rand.NewSource(3))
	})
	t.Cleanup(manager.Shutdown)

	return &serviceFixture{
		svc:   NewService(manager, logger),
		mem:   mem,
		clock: mock,
		ctx:   ctx,
	}
}

func (f *serviceFixture) openBetting(t *testing.T, channel string) {
	t.Helper()
	f.svc.Connect(channel)
	f.clock.Advance(time.Second).MustWait(f.ctx)
}

func TestService_LoginFlow(t *testing.T) {
	f := newServiceFixture(t)
	f.mem.AddAccount("alice", "pw", "Alice", dec("1000"))

	resp := f.svc.Login(f.ctx, "lobby", "alice", "pw", "t1")
	require.True(t, resp.Success)
	require.Equal(t, "lobby", resp.Channel)
	require.NotNil(t, resp.Account)
	require.True(t, resp.Balance.Equal(dec("1000")))

	// Same account on a second transport is refused with a reason, not an
	// error.
	dup := f.svc.Login(f.ctx, "lobby", "alice", "pw", "t2")
	require.False(t, dup.Success)
	require.Equal(t, engine.ErrAlreadyLoggedIn.Error(), dup.Reason)

	bad := f.svc.Login(f.ctx, "lobby", "alice", "nope", "t3")
	require.False(t, bad.Success)
	require.Equal(t, store.ErrInvalidCredentials.Error(), bad.Reason)
}

func TestService_PlaceBet(t *testing.T) {
	f := newServiceFixture(t)
	f.mem.AddAccount("alice", "pw", "Alice", dec("1000"))
	f.openBetting(t, "lobby")

	login := f.svc.Login(f.ctx, "lobby", "alice", "pw", "t1")
	require.True(t, login.Success)

	resp := f.svc.PlaceBet(f.ctx, "lobby", login.Account.ID, BetData{
		Family: "number", Target: "5", Amount: dec("100"),
	})
	require.True(t, resp.Success)
	require.True(t, resp.Balance.Equal(dec("900")))

	// Unknown channel or missing login answer with the login reason.
	anon := f.svc.PlaceBet(f.ctx, "lobby", 0, BetData{Family: "color", Target: "red", Amount: dec("10")})
	require.False(t, anon.Success)
	require.Equal(t, engine.ErrNotLoggedIn.Error(), anon.Reason)

	invalid := f.svc.PlaceBet(f.ctx, "lobby", login.Account.ID, BetData{
		Family: "number", Target: "44", Amount: dec("10"),
	})
	require.False(t, invalid.Success)
	require.Contains(t, invalid.Reason, "invalid bet")
}

func TestService_Recharge(t *testing.T) {
	f := newServiceFixture(t)
	id := f.mem.AddAccount("alice", "pw", "Alice", dec("100"))

	resp := f.svc.Recharge(f.ctx, "lobby", RechargeData{AccountID: id, Amount: dec("400")})
	require.True(t, resp.Success)
	require.NotNil(t, resp.Receipt)
	require.True(t, resp.Receipt.BalanceAfter.Equal(dec("500")))

	missing := f.svc.Recharge(f.ctx, "lobby", RechargeData{AccountID: 999, Amount: dec("1")})
	require.False(t, missing.Success)
	require.Equal(t, store.ErrAccountNotFound.Error(), missing.Reason)

	zero := f.svc.Recharge(f.ctx, "lobby", RechargeData{AccountID: id, Amount: decimal.Zero})
	require.False(t, zero.Success)
}

func TestService_Query(t *testing.T) {
	f := newServiceFixture(t)
	f.mem.AddAccount("alice", "pw", "Alice", dec("1000"))
	f.openBetting(t, "lobby")

	login := f.svc.Login(f.ctx, "lobby", "alice", "pw", "t1")
	require.True(t, login.Success)
	bet := f.svc.PlaceBet(f.ctx, "lobby", login.Account.ID, BetData{
		Family: "oddeven", Target: "odd", Amount: dec("50"),
	})
	require.True(t, bet.Success)

	resp := f.svc.Query(f.ctx, "lobby", QueryData{QueryType: "betRecords"})
	require.Equal(t, "betRecords", resp.QueryType)
	records, ok := resp.Result.([]store.BetRecord)
	require.True(t, ok)
	require.Len(t, records, 1)

	unknown := f.svc.Query(f.ctx, "lobby", QueryData{QueryType: "bogus"})
	require.Equal(t, struct{}{}, unknown.Result)
}

func TestService_DisconnectFreesSession(t *testing.T) {
	f := newServiceFixture(t)
	f.mem.AddAccount("alice", "pw", "Alice", dec("1000"))

	require.True(t, f.svc.Login(f.ctx, "lobby", "alice", "pw", "t1").Success)
	f.svc.Disconnect("lobby", "t1")
	require.True(t, f.svc.Login(f.ctx, "lobby", "alice", "pw", "t2").Success)
}
