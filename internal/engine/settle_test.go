package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestColorOf(t *testing.T) {
	require.Equal(t, ColorGreen, ColorOf(1))
	require.Equal(t, ColorRed, ColorOf(2))
	require.Equal(t, ColorBlue, ColorOf(3))
	require.Equal(t, ColorBlue, ColorOf(39))

	// 13 numbers per color.
	counts := map[Color]int{}
	for n := MinNumber; n <= MaxNumber; n++ {
		counts[ColorOf(n)]++
	}
	require.Equal(t, map[Color]int{ColorBlue: 13, ColorGreen: 13, ColorRed: 13}, counts)
}

func snapshotWith(bets ...struct {
	family Family
	target string
	stake  Stake
}) Snapshot {
	l := NewLedger()
	for _, b := range bets {
		l.Place(b.family, b.target, b.stake)
	}
	return l.Snapshot()
}

func bet(family Family, target string, id int64, amount string) struct {
	family Family
	target string
	stake  Stake
} {
	return struct {
		family Family
		target string
		stake  Stake
	}{family, target, Stake{AccountID: id, Name: "p", Amount: dec(amount)}}
}

func TestSettle_NumberWin(t *testing.T) {
	snap := snapshotWith(bet(FamilyNumber, "05", 1, "100"))
	res := Settle(snap, "01010001", 5)

	require.Equal(t, "05", res.WinningNumber)
	require.True(t, res.TotalBets.Equal(dec("100")))
	require.True(t, res.TotalPayout.Equal(dec("3600")))
	require.True(t, res.SystemProfit.Equal(dec("-3500")))
	require.Equal(t, 1, res.WinnersCount)
	require.True(t, res.Profits[1].Equal(dec("3500")))

	require.Len(t, res.Payouts, 1)
	require.True(t, res.Payouts[0].Amount.Equal(dec("3600")))
}

func TestSettle_NumberLoss(t *testing.T) {
	snap := snapshotWith(bet(FamilyNumber, "05", 1, "100"))
	res := Settle(snap, "01010001", 6)

	require.True(t, res.TotalPayout.IsZero())
	require.True(t, res.SystemProfit.Equal(dec("100")))
	require.Equal(t, 0, res.WinnersCount)
	require.True(t, res.Profits[1].Equal(dec("-100")))
	require.Empty(t, res.Payouts)
}

func TestSettle_OutsideMultipliers(t *testing.T) {
	// Winning 7: green, odd, small.
	snap := snapshotWith(
		bet(FamilyColor, "green", 1, "100"),
		bet(FamilyOddEven, "odd", 2, "100"),
		bet(FamilyBigSmall, "small", 3, "100"),
	)
	res := Settle(snap, "01010001", 7)

	require.True(t, res.Profits[1].Equal(dec("180")), "color pays 2.8x stake-inclusive")
	require.True(t, res.Profits[2].Equal(dec("90")), "parity pays 1.9x stake-inclusive")
	require.True(t, res.Profits[3].Equal(dec("90")), "size pays 1.9x stake-inclusive")
	require.True(t, res.TotalPayout.Equal(dec("660")))
	require.True(t, res.SystemProfit.Equal(dec("-360")))
	// Outside winners never count toward the winner tally.
	require.Equal(t, 0, res.WinnersCount)
}

func TestSettle_BigSmallBoundary(t *testing.T) {
	snap := snapshotWith(
		bet(FamilyBigSmall, "small", 1, "10"),
		bet(FamilyBigSmall, "big", 2, "10"),
	)

	res := Settle(snap, "01010001", 19)
	require.True(t, res.Profits[1].Equal(dec("9")), "19 is small")
	require.True(t, res.Profits[2].Equal(dec("-10")))

	res = Settle(snap, "01010001", 20)
	require.True(t, res.Profits[1].Equal(dec("-10")))
	require.True(t, res.Profits[2].Equal(dec("9")), "20 is big")
}

func TestSettle_SweepNumber(t *testing.T) {
	// 39 sweeps parity and size but settles number and color normally.
	snap := snapshotWith(
		bet(FamilyOddEven, "odd", 1, "100"),
		bet(FamilyOddEven, "even", 2, "100"),
		bet(FamilyBigSmall, "big", 3, "100"),
		bet(FamilyBigSmall, "small", 4, "100"),
		bet(FamilyNumber, "39", 5, "10"),
		bet(FamilyColor, "blue", 6, "10"),
	)
	res := Settle(snap, "01010001", 39)

	for _, id := range []int64{1, 2, 3, 4} {
		require.True(t, res.Profits[id].Equal(dec("-100")), "account %d swept", id)
	}
	require.True(t, res.Profits[5].Equal(dec("350")))
	require.True(t, res.Profits[6].Equal(dec("18")))
	require.Equal(t, 1, res.WinnersCount)
	require.True(t, res.TotalBets.Equal(dec("420")))
	require.True(t, res.TotalPayout.Equal(dec("388")))
	require.True(t, res.SystemProfit.Equal(dec("32")))
}

func TestSettle_NetProfitAcrossFamilies(t *testing.T) {
	// One player, mixed outcome: number loses, parity wins.
	snap := snapshotWith(
		bet(FamilyNumber, "05", 1, "100"),
		bet(FamilyOddEven, "even", 1, "50"),
	)
	res := Settle(snap, "01010001", 8)

	// -100 + (50*1.9 - 50) = -55
	require.True(t, res.Profits[1].Equal(dec("-55")))
	require.True(t, res.TotalPayout.Equal(dec("95")))
	require.True(t, res.SystemProfit.Equal(dec("55")))
}

func TestSettle_WinnersCountIsNumberPlayers(t *testing.T) {
	snap := snapshotWith(
		bet(FamilyNumber, "12", 1, "10"),
		bet(FamilyNumber, "12", 2, "10"),
		bet(FamilyNumber, "13", 3, "10"),
		bet(FamilyColor, "blue", 4, "10"),
	)
	res := Settle(snap, "01010001", 12)
	require.Equal(t, 2, res.WinnersCount)
}

func TestSettle_EmptyRound(t *testing.T) {
	res := Settle(NewLedger().Snapshot(), "01010001", 21)
	require.True(t, res.TotalBets.IsZero())
	require.True(t, res.TotalPayout.IsZero())
	require.True(t, res.SystemProfit.IsZero())
	require.Empty(t, res.Payouts)
}

func TestProfitFor(t *testing.T) {
	require.True(t, ProfitFor(FamilyNumber, "05", dec("100"), 5).Equal(dec("3500")))
	require.True(t, ProfitFor(FamilyNumber, "05", dec("100"), 6).Equal(dec("-100")))
	require.True(t, ProfitFor(FamilyColor, "green", dec("100"), 7).Equal(dec("180")))
	require.True(t, ProfitFor(FamilyOddEven, "odd", dec("100"), 39).Equal(dec("-100")))
	require.True(t, ProfitFor(FamilyBigSmall, "big", dec("100"), 39).Equal(dec("-100")))
}

func TestSettle_ConservationOfMoney(t *testing.T) {
	snap := snapshotWith(
		bet(FamilyNumber, "01", 1, "37"),
		bet(FamilyColor, "red", 2, "11"),
		bet(FamilyOddEven, "even", 3, "23"),
		bet(FamilyBigSmall, "big", 4, "41"),
	)
	for winning := MinNumber; winning <= MaxNumber; winning++ {
		res := Settle(snap, "01010001", winning)
		require.True(t, res.SystemProfit.Equal(res.TotalBets.Sub(res.TotalPayout)),
			"winning %d", winning)

		net := decimal.Zero
		for _, p := range res.Profits {
			net = net.Add(p)
		}
		require.True(t, net.Equal(res.SystemProfit.Neg()), "winning %d", winning)
	}
}
