package engine

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Color of a wheel pocket. The 39 numbers partition into three sets of 13.
type Color string

const (
	ColorBlue  Color = "blue"
	ColorGreen Color = "green"
	ColorRed   Color = "red"
)

// ColorOf maps a wheel number to its pocket color: n%3 == 0 blue, 1 green,
// 2 red.
func ColorOf(n int) Color {
	switch n % 3 {
	case 0:
		return ColorBlue
	case 1:
		return ColorGreen
	default:
		return ColorRed
	}
}

// Stake-inclusive payout multipliers: a winning bet is credited amount times
// the multiplier, which already returns the principal.
var (
	MultiplierNumber   = decimal.NewFromInt(36)
	MultiplierColor    = decimal.RequireFromString("2.8")
	MultiplierOddEven  = decimal.RequireFromString("1.9")
	MultiplierBigSmall = decimal.RequireFromString("1.9")
)

// Payout is one winning bet's credit, applied per player per bet rather than
// as a batch so a single failed credit cannot block the rest.
type Payout struct {
	AccountID int64
	Name      string
	Family    Family
	Target    string
	Stake     decimal.Decimal
	Amount    decimal.Decimal
}

// Result is the outcome of settling one round. Produced exactly once per
// round at the spinning-to-stop transition and immutable thereafter.
type Result struct {
	RoundNumber   string
	WinningNumber string
	TotalBets     decimal.Decimal
	TotalPayout   decimal.Decimal
	SystemProfit  decimal.Decimal
	// WinnersCount counts players holding a winning number bet only; winners
	// in the other families are deliberately not included (matches the
	// long-standing reporting behavior).
	WinnersCount int
	// Profits maps account ID to the player's net profit across all of their
	// bets this round.
	Profits map[int64]decimal.Decimal
	Payouts []Payout
}

// Settle computes aggregate and per-player results for a frozen ledger
// snapshot and a drawn number. Pure: all side effects (balance credits,
// persistence, broadcasts) happen in the caller.
func Settle(snap Snapshot, roundNumber string, winning int) Result {
	winningTarget := FormatNumber(winning)
	res := Result{
		RoundNumber:   roundNumber,
		WinningNumber: winningTarget,
		TotalBets:     snap.TotalStaked(),
		TotalPayout:   decimal.Zero,
		Profits:       make(map[int64]decimal.Decimal),
	}

	for _, family := range Families {
		for target, entry := range snap[family] {
			wins := familyWins(family, target, winning)
			for _, p := range entry.Players {
				if !wins {
					res.Profits[p.AccountID] = res.Profits[p.AccountID].Sub(p.Amount)
					continue
				}
				payout := p.Amount.Mul(multiplierFor(family))
				res.TotalPayout = res.TotalPayout.Add(payout)
				res.Profits[p.AccountID] = res.Profits[p.AccountID].Add(payout.Sub(p.Amount))
				res.Payouts = append(res.Payouts, Payout{
					AccountID: p.AccountID,
					Name:      p.Name,
					Family:    family,
					Target:    target,
					Stake:     p.Amount,
					Amount:    payout,
				})
			}
			if family == FamilyNumber && wins {
				res.WinnersCount = len(entry.Players)
			}
		}
	}

	res.SystemProfit = res.TotalBets.Sub(res.TotalPayout)
	return res
}

// ProfitFor computes the signed profit of a single bet against a winning
// number: payout minus stake for a winner, the negated stake for a loser.
// This is the rule stamped onto persisted bet records at settlement.
func ProfitFor(family Family, target string, amount decimal.Decimal, winning int) decimal.Decimal {
	if familyWins(family, target, winning) {
		return amount.Mul(multiplierFor(family)).Sub(amount)
	}
	return amount.Neg()
}

// familyWins decides whether a target in a family wins against the drawn
// number. Number and color settle normally on the sweep number; parity and
// size always lose on it.
func familyWins(family Family, target string, winning int) bool {
	switch family {
	case FamilyNumber:
		return target == FormatNumber(winning)
	case FamilyColor:
		return Color(target) == ColorOf(winning)
	case FamilyOddEven:
		if winning == SweepNumber {
			return false
		}
		if winning%2 == 1 {
			return target == "odd"
		}
		return target == "even"
	case FamilyBigSmall:
		if winning == SweepNumber {
			return false
		}
		if winning >= 20 {
			return target == "big"
		}
		return target == "small"
	}
	return false
}

func multiplierFor(family Family) decimal.Decimal {
	switch family {
	case FamilyNumber:
		return MultiplierNumber
	case FamilyColor:
		return MultiplierColor
	case FamilyOddEven:
		return MultiplierOddEven
	default:
		return MultiplierBigSmall
	}
}

// ParseNumber converts a wire-format winning number back to its integer
// value.
func ParseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return n, nil
}
