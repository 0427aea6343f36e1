package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Memory is an in-process Store used by tests and the load simulator. It
// mirrors the Postgres implementation's semantics, including the
// balance-cannot-go-negative rule and the settlement upsert.
type Memory struct {
	mu          sync.Mutex
	nextID      int64
	accounts    map[int64]*Account
	passwords   map[int64]string
	byUsername  map[string]int64
	bets        []BetRecord
	rounds      map[string]RoundResult // key: channel + "/" + round number
	recharges   []RechargeRecord
	nextBetID   int64
	nextRechgID int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:   make(map[int64]*Account),
		passwords:  make(map[int64]string),
		byUsername: make(map[string]int64),
		rounds:     make(map[string]RoundResult),
	}
}

// AddAccount creates an account and returns its ID.
func (m *Memory) AddAccount(username, password, displayName string, balance decimal.Decimal) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.accounts[id] = &Account{
		ID:          id,
		Username:    username,
		DisplayName: displayName,
		Balance:     balance,
		Status:      "active",
		CreatedAt:   time.Now(),
	}
	m.passwords[id] = password
	m.byUsername[username] = id
	return id
}

func (m *Memory) Init(ctx context.Context) error { return nil }
func (m *Memory) Close()                         {}

func (m *Memory) Login(ctx context.Context, username, password string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byUsername[username]
	if !ok || m.passwords[id] != password {
		return Account{}, ErrInvalidCredentials
	}
	acct := m.accounts[id]
	if acct.Status != "active" {
		return Account{}, ErrAccountInactive
	}
	return *acct, nil
}

func (m *Memory) GetAccount(ctx context.Context, id int64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *acct, nil
}

func (m *Memory) AllAccounts(ctx context.Context) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := make([]Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		accounts = append(accounts, *acct)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (m *Memory) AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	next := acct.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, ErrInsufficientFunds
	}
	acct.Balance = next
	return next, nil
}

func (m *Memory) Recharge(ctx context.Context, id int64, amount decimal.Decimal, operator, remark string) (RechargeReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return RechargeReceipt{}, ErrAccountNotFound
	}
	before := acct.Balance
	acct.Balance = before.Add(amount)

	m.nextRechgID++
	m.recharges = append(m.recharges, RechargeRecord{
		ID:            m.nextRechgID,
		AccountID:     id,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  acct.Balance,
		Operator:      operator,
		Remark:        remark,
		CreatedAt:     time.Now(),
	})
	return RechargeReceipt{AccountID: id, Amount: amount, BalanceBefore: before, BalanceAfter: acct.Balance}, nil
}

func (m *Memory) RecordBet(ctx context.Context, rec BetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextBetID++
	rec.ID = m.nextBetID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.bets = append(m.bets, rec)
	return nil
}

func (m *Memory) SettleBets(ctx context.Context, channel, roundNumber, winningNumber string, profitFor ProfitFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.bets {
		if m.bets[i].Channel != channel || m.bets[i].RoundNumber != roundNumber {
			continue
		}
		profit := profitFor(m.bets[i].Family, m.bets[i].Target, m.bets[i].Amount)
		m.bets[i].WinningNumber = winningNumber
		m.bets[i].Profit = &profit
	}
	return nil
}

func (m *Memory) RecordRoundSettlement(ctx context.Context, rs RoundSettlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rs.Channel + "/" + rs.RoundNumber
	created := time.Now()
	if prev, ok := m.rounds[key]; ok {
		created = prev.CreatedAt
	}
	m.rounds[key] = RoundResult{RoundSettlement: rs, CreatedAt: created}
	return nil
}

func (m *Memory) BetRecords(ctx context.Context, channel string, days int) ([]BetRecord, error) {
	return m.filterBets(func(rec BetRecord) bool {
		return rec.Channel == channel && withinDays(rec.CreatedAt, days)
	}), nil
}

func (m *Memory) AccountBetRecords(ctx context.Context, channel string, accountID int64, days int) ([]BetRecord, error) {
	return m.filterBets(func(rec BetRecord) bool {
		return rec.Channel == channel && rec.AccountID == accountID && withinDays(rec.CreatedAt, days)
	}), nil
}

func (m *Memory) filterBets(keep func(BetRecord) bool) []BetRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var recs []BetRecord
	for _, rec := range m.bets {
		if keep(rec) {
			recs = append(recs, rec)
		}
	}
	return recs
}

func (m *Memory) SystemStats(ctx context.Context, channel string, days int) (SystemStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := SystemStats{
		TotalBets:   decimal.Zero,
		TotalPayout: decimal.Zero,
		TotalProfit: decimal.Zero,
	}
	for _, rr := range m.rounds {
		if rr.Channel != channel || !withinDays(rr.CreatedAt, days) {
			continue
		}
		stats.TotalRounds++
		stats.TotalBets = stats.TotalBets.Add(rr.TotalBets)
		stats.TotalPayout = stats.TotalPayout.Add(rr.TotalPayout)
		stats.TotalProfit = stats.TotalProfit.Add(rr.SystemProfit)
	}
	return stats, nil
}

func (m *Memory) AccountStats(ctx context.Context, channel string, accountID int64, days int) (AccountStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := AccountStats{
		TotalAmount: decimal.Zero,
		TotalProfit: decimal.Zero,
	}
	for _, rec := range m.bets {
		if rec.Channel != channel || rec.AccountID != accountID || !withinDays(rec.CreatedAt, days) {
			continue
		}
		stats.TotalBets++
		stats.TotalAmount = stats.TotalAmount.Add(rec.Amount)
		if rec.Profit == nil {
			continue
		}
		stats.TotalProfit = stats.TotalProfit.Add(*rec.Profit)
		switch {
		case rec.Profit.IsPositive():
			stats.WinCount++
		case rec.Profit.IsNegative():
			stats.LoseCount++
		}
	}
	return stats, nil
}

func (m *Memory) RechargeRecords(ctx context.Context, accountID int64, days int) ([]RechargeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var recs []RechargeRecord
	for _, rec := range m.recharges {
		if accountID != 0 && rec.AccountID != accountID {
			continue
		}
		if withinDays(rec.CreatedAt, days) {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (m *Memory) RoundResults(ctx context.Context, channel string, days int) ([]RoundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []RoundResult
	for _, rr := range m.rounds {
		if rr.Channel == channel && withinDays(rr.CreatedAt, days) {
			results = append(results, rr)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.After(results[j].CreatedAt) })
	return results, nil
}

func (m *Memory) PurgeOldRecords(ctx context.Context, retention time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	kept := m.bets[:0]
	for _, rec := range m.bets {
		if rec.CreatedAt.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	m.bets = kept

	for key, rr := range m.rounds {
		if !rr.CreatedAt.After(cutoff) {
			delete(m.rounds, key)
		}
	}

	keptRecharges := m.recharges[:0]
	for _, rec := range m.recharges {
		if rec.CreatedAt.After(cutoff) {
			keptRecharges = append(keptRecharges, rec)
		}
	}
	m.recharges = keptRecharges
	return nil
}

// RoundResult returns the stored settlement for a round, for tests.
func (m *Memory) RoundResult(channel, roundNumber string) (RoundResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rr, ok := m.rounds[channel+"/"+roundNumber]
	return rr, ok
}

// withinDays reports whether t falls on today or the previous days-1 calendar
// days. days == 0 means today only.
func withinDays(t time.Time, days int) bool {
	today := time.Now().Truncate(24 * time.Hour)
	limit := today.AddDate(0, 0, -days)
	return !t.Before(limit)
}

var _ Store = (*Memory)(nil)
var _ Store = (*Postgres)(nil)

// String implements fmt.Stringer for receipts in log output.
func (r RechargeReceipt) String() string {
	return fmt.Sprintf("account %d: %s -> %s", r.AccountID, r.BalanceBefore, r.BalanceAfter)
}
