package engine

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Family is one of the four independent wager types evaluated against the
// same drawn number.
type Family string

const (
	FamilyNumber   Family = "number"
	FamilyOddEven  Family = "oddeven"
	FamilyBigSmall Family = "bigsmall"
	FamilyColor    Family = "color"
)

// Families lists all bet families in broadcast order.
var Families = []Family{FamilyNumber, FamilyOddEven, FamilyBigSmall, FamilyColor}

// Wheel bounds. The wheel has 39 pockets; 39 is the house sweep number for
// the parity and size families.
const (
	MinNumber   = 1
	MaxNumber   = 39
	SweepNumber = 39
)

// Stake is one player's live wager on a target.
type Stake struct {
	AccountID int64           `json:"id"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
}

// Entry aggregates the live wagers on one target. Total always equals the sum
// of the player amounts.
type Entry struct {
	Total   decimal.Decimal `json:"total"`
	Players []Stake         `json:"players"`
}

// Snapshot is an immutable copy of the ledger, keyed family -> target.
type Snapshot map[Family]map[string]Entry

// Ledger aggregates the wagers of one channel's current round. It is
// phase-agnostic: callers admit or reject bets before touching it, and must
// serialize access (the owning channel holds a lock around every call).
type Ledger struct {
	families map[Family]map[string]*Entry
}

// NewLedger returns a ledger with every fixed target initialized to zero.
func NewLedger() *Ledger {
	l := &Ledger{}
	l.Reset()
	return l
}

// Reset clears all targets and totals for all four families. Called once per
// round when betting opens.
func (l *Ledger) Reset() {
	l.families = map[Family]map[string]*Entry{
		FamilyNumber:   make(map[string]*Entry, MaxNumber),
		FamilyOddEven:  {"odd": zeroEntry(), "even": zeroEntry()},
		FamilyBigSmall: {"big": zeroEntry(), "small": zeroEntry()},
		FamilyColor:    {string(ColorBlue): zeroEntry(), string(ColorGreen): zeroEntry(), string(ColorRed): zeroEntry()},
	}
	for n := MinNumber; n <= MaxNumber; n++ {
		l.families[FamilyNumber][FormatNumber(n)] = zeroEntry()
	}
}

func zeroEntry() *Entry {
	return &Entry{Total: decimal.Zero}
}

// Place records a stake on a target, replacing any live bet the account
// already holds in the same family. It returns the replaced amount so the
// caller can refund it; replaced is false for a first bet.
func (l *Ledger) Place(family Family, target string, s Stake) (replaced decimal.Decimal, wasReplaced bool) {
	replaced, wasReplaced = l.Lift(family, s.AccountID)

	targets := l.families[family]
	entry, ok := targets[target]
	if !ok {
		// Unknown numeric targets are lazily created rather than erroring.
		entry = zeroEntry()
		targets[target] = entry
	}
	entry.Players = append(entry.Players, s)
	entry.Total = entry.Total.Add(s.Amount)
	return replaced, wasReplaced
}

// Lift removes the account's live bet in a family, if any, returning its
// amount.
func (l *Ledger) Lift(family Family, accountID int64) (decimal.Decimal, bool) {
	for _, entry := range l.families[family] {
		for i, p := range entry.Players {
			if p.AccountID != accountID {
				continue
			}
			entry.Players = append(entry.Players[:i], entry.Players[i+1:]...)
			entry.Total = entry.Total.Sub(p.Amount)
			return p.Amount, true
		}
	}
	return decimal.Zero, false
}

// LiveStake returns the account's live bet amount in a family without removing
// it.
func (l *Ledger) LiveStake(family Family, accountID int64) (decimal.Decimal, bool) {
	for _, entry := range l.families[family] {
		for _, p := range entry.Players {
			if p.AccountID == accountID {
				return p.Amount, true
			}
		}
	}
	return decimal.Zero, false
}

// TotalStaked sums all live bet amounts across all four families.
func (l *Ledger) TotalStaked() decimal.Decimal {
	total := decimal.Zero
	for _, targets := range l.families {
		for _, entry := range targets {
			total = total.Add(entry.Total)
		}
	}
	return total
}

// Snapshot returns a deep copy safe to read after the ledger is reset for the
// next round. Settlement always works from a snapshot.
func (l *Ledger) Snapshot() Snapshot {
	snap := make(Snapshot, len(l.families))
	for family, targets := range l.families {
		out := make(map[string]Entry, len(targets))
		for target, entry := range targets {
			players := make([]Stake, len(entry.Players))
			copy(players, entry.Players)
			out[target] = Entry{Total: entry.Total, Players: players}
		}
		snap[family] = out
	}
	return snap
}

// TotalStaked sums all live bet amounts in the snapshot.
func (s Snapshot) TotalStaked() decimal.Decimal {
	total := decimal.Zero
	for _, targets := range s {
		for _, entry := range targets {
			total = total.Add(entry.Total)
		}
	}
	return total
}

// FormatNumber renders a wheel number the way targets and winning numbers
// travel on the wire: zero-padded to two digits.
func FormatNumber(n int) string {
	return fmt.Sprintf("%02d", n)
}

// NormalizeTarget validates a bet target for a family and returns its
// canonical form (numbers are zero-padded).
func NormalizeTarget(family Family, target string) (string, error) {
	switch family {
	case FamilyNumber:
		n, err := strconv.Atoi(target)
		if err != nil || n < MinNumber || n > MaxNumber {
			return "", fmt.Errorf("%w: number target %q", ErrInvalidBet, target)
		}
		return FormatNumber(n), nil
	case FamilyOddEven:
		if target == "odd" || target == "even" {
			return target, nil
		}
	case FamilyBigSmall:
		if target == "big" || target == "small" {
			return target, nil
		}
	case FamilyColor:
		switch Color(target) {
		case ColorBlue, ColorGreen, ColorRed:
			return target, nil
		}
	default:
		return "", fmt.Errorf("%w: unknown family %q", ErrInvalidBet, family)
	}
	return "", fmt.Errorf("%w: target %q for family %s", ErrInvalidBet, target, family)
}
