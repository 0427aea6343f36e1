package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMemory_Login(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddAccount("alice", "pw", "Alice", dec("1000"))

	acct, err := m.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	require.Equal(t, "alice", acct.Username)
	require.True(t, acct.Balance.Equal(dec("1000")))

	_, err = m.Login(ctx, "alice", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = m.Login(ctx, "nobody", "pw")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestMemory_AdjustBalance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := m.AddAccount("alice", "pw", "Alice", dec("100"))

	balance, err := m.AdjustBalance(ctx, id, dec("-40"))
	require.NoError(t, err)
	require.True(t, balance.Equal(dec("60")))

	// Overdrawing leaves the balance untouched.
	_, err = m.AdjustBalance(ctx, id, dec("-100"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	acct, err := m.GetAccount(ctx, id)
	require.NoError(t, err)
	require.True(t, acct.Balance.Equal(dec("60")))

	// Down to exactly zero is allowed.
	balance, err = m.AdjustBalance(ctx, id, dec("-60"))
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	_, err = m.AdjustBalance(ctx, 999, dec("1"))
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestMemory_Recharge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := m.AddAccount("alice", "pw", "Alice", dec("100"))

	receipt, err := m.Recharge(ctx, id, dec("250"), "admin", "topup")
	require.NoError(t, err)
	require.True(t, receipt.BalanceBefore.Equal(dec("100")))
	require.True(t, receipt.BalanceAfter.Equal(dec("350")))

	recs, err := m.RechargeRecords(ctx, id, 7)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "admin", recs[0].Operator)
	require.True(t, recs[0].Amount.Equal(dec("250")))

	// Filter by account: zero means everyone.
	bob := m.AddAccount("bob", "pw", "Bob", dec("0"))
	_, err = m.Recharge(ctx, bob, dec("10"), "admin", "")
	require.NoError(t, err)
	all, err := m.RechargeRecords(ctx, 0, 7)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestMemory_SettleBetsStampsProfit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := m.AddAccount("alice", "pw", "Alice", dec("1000"))

	require.NoError(t, m.RecordBet(ctx, BetRecord{
		Channel: "ch", AccountID: id, RoundNumber: "01010001",
		Family: "number", Target: "05", Amount: dec("100"),
	}))
	require.NoError(t, m.RecordBet(ctx, BetRecord{
		Channel: "ch", AccountID: id, RoundNumber: "01010002",
		Family: "number", Target: "06", Amount: dec("50"),
	}))

	err := m.SettleBets(ctx, "ch", "01010001", "05", func(family, target string, amount decimal.Decimal) decimal.Decimal {
		return amount.Mul(dec("35"))
	})
	require.NoError(t, err)

	recs, err := m.BetRecords(ctx, "ch", 7)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		if rec.RoundNumber == "01010001" {
			require.Equal(t, "05", rec.WinningNumber)
			require.NotNil(t, rec.Profit)
			require.True(t, rec.Profit.Equal(dec("3500")))
		} else {
			// The other round stays unsettled.
			require.Empty(t, rec.WinningNumber)
			require.Nil(t, rec.Profit)
		}
	}
}

func TestMemory_RoundSettlementUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rs := RoundSettlement{
		Channel: "ch", RoundNumber: "01010001", WinningNumber: "05",
		TotalBets: dec("100"), TotalPayout: dec("0"), SystemProfit: dec("100"),
	}
	require.NoError(t, m.RecordRoundSettlement(ctx, rs))

	rs.WinningNumber = "17"
	require.NoError(t, m.RecordRoundSettlement(ctx, rs))

	results, err := m.RoundResults(ctx, "ch", 7)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "17", results[0].WinningNumber)
}

func TestMemory_Stats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := m.AddAccount("alice", "pw", "Alice", dec("1000"))

	require.NoError(t, m.RecordBet(ctx, BetRecord{
		Channel: "ch", AccountID: id, RoundNumber: "01010001",
		Family: "number", Target: "05", Amount: dec("100"),
	}))
	require.NoError(t, m.RecordBet(ctx, BetRecord{
		Channel: "ch", AccountID: id, RoundNumber: "01010001",
		Family: "color", Target: "red", Amount: dec("50"),
	}))
	require.NoError(t, m.SettleBets(ctx, "ch", "01010001", "05",
		func(family, target string, amount decimal.Decimal) decimal.Decimal {
			if family == "number" {
				return amount.Mul(dec("35"))
			}
			return amount.Neg()
		}))
	require.NoError(t, m.RecordRoundSettlement(ctx, RoundSettlement{
		Channel: "ch", RoundNumber: "01010001", WinningNumber: "05",
		TotalBets: dec("150"), TotalPayout: dec("3600"), SystemProfit: dec("-3450"),
	}))

	sys, err := m.SystemStats(ctx, "ch", 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), sys.TotalRounds)
	require.True(t, sys.TotalBets.Equal(dec("150")))
	require.True(t, sys.TotalProfit.Equal(dec("-3450")))

	acct, err := m.AccountStats(ctx, "ch", id, 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), acct.TotalBets)
	require.Equal(t, int64(1), acct.WinCount)
	require.Equal(t, int64(1), acct.LoseCount)
	require.True(t, acct.TotalAmount.Equal(dec("150")))
	require.True(t, acct.TotalProfit.Equal(dec("3450")))

	// Other channels see nothing.
	other, err := m.SystemStats(ctx, "elsewhere", 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), other.TotalRounds)
}

func TestMemory_PurgeOldRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := m.AddAccount("alice", "pw", "Alice", dec("1000"))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, m.RecordBet(ctx, BetRecord{
		Channel: "ch", AccountID: id, RoundNumber: "01010001",
		Family: "number", Target: "05", Amount: dec("100"), CreatedAt: old,
	}))
	require.NoError(t, m.RecordBet(ctx, BetRecord{
		Channel: "ch", AccountID: id, RoundNumber: "01020001",
		Family: "number", Target: "06", Amount: dec("100"),
	}))

	require.NoError(t, m.PurgeOldRecords(ctx, 24*time.Hour))

	recs, err := m.BetRecords(ctx, "ch", 14)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "01020001", recs[0].RoundNumber)
}
