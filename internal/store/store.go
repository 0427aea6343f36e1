package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary for accounts, bet records, round
// settlements and recharge history. Implementations must make AdjustBalance an
// atomic read-modify-write per account, and RecordRoundSettlement an upsert
// keyed by (channel, round) so settlement retries are safe.
type Store interface {
	// Init creates the schema and seeds initial accounts. Failure here is
	// fatal for the process.
	Init(ctx context.Context) error
	Close()

	Login(ctx context.Context, username, password string) (Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	AllAccounts(ctx context.Context) ([]Account, error)

	// AdjustBalance applies delta to the account balance and returns the new
	// balance. A debit that would take the balance negative fails with
	// ErrInsufficientFunds and leaves the balance untouched.
	AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error)
	Recharge(ctx context.Context, id int64, amount decimal.Decimal, operator, remark string) (RechargeReceipt, error)

	RecordBet(ctx context.Context, rec BetRecord) error
	// SettleBets stamps the winning number and per-bet profit onto every bet
	// record of the given round. The profit for each row is computed by
	// profitFor so the odds rules stay out of the storage layer.
	SettleBets(ctx context.Context, channel, roundNumber, winningNumber string, profitFor ProfitFunc) error
	RecordRoundSettlement(ctx context.Context, rs RoundSettlement) error

	BetRecords(ctx context.Context, channel string, days int) ([]BetRecord, error)
	AccountBetRecords(ctx context.Context, channel string, accountID int64, days int) ([]BetRecord, error)
	SystemStats(ctx context.Context, channel string, days int) (SystemStats, error)
	AccountStats(ctx context.Context, channel string, accountID int64, days int) (AccountStats, error)
	RechargeRecords(ctx context.Context, accountID int64, days int) ([]RechargeRecord, error)
	RoundResults(ctx context.Context, channel string, days int) ([]RoundResult, error)

	// PurgeOldRecords deletes bet, round and recharge records older than the
	// retention window.
	PurgeOldRecords(ctx context.Context, retention time.Duration) error
}

// ProfitFunc computes the signed profit for one recorded bet given the family,
// target and staked amount. Supplied by the settlement engine.
type ProfitFunc func(family, target string, amount decimal.Decimal) decimal.Decimal

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrInsufficientFunds  = errors.New("insufficient funds")
)

// Account is a player account row.
type Account struct {
	ID          int64           `json:"id"`
	Username    string          `json:"username"`
	DisplayName string          `json:"name"`
	Balance     decimal.Decimal `json:"balance"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// BetRecord is one accepted wager, stamped with the winning number and profit
// once its round settles.
type BetRecord struct {
	ID            int64            `json:"id"`
	Channel       string           `json:"channel"`
	AccountID     int64            `json:"accountId"`
	RoundNumber   string           `json:"roundNumber"`
	Family        string           `json:"family"`
	Target        string           `json:"target"`
	Amount        decimal.Decimal  `json:"amount"`
	WinningNumber string           `json:"winningNumber,omitempty"`
	Profit        *decimal.Decimal `json:"profit,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// RoundSettlement is the aggregate result persisted once per round.
type RoundSettlement struct {
	Channel       string          `json:"channel"`
	RoundNumber   string          `json:"roundNumber"`
	WinningNumber string          `json:"winningNumber"`
	TotalBets     decimal.Decimal `json:"totalBets"`
	TotalPayout   decimal.Decimal `json:"totalPayout"`
	SystemProfit  decimal.Decimal `json:"systemProfit"`
}

// RoundResult is a persisted settlement read back for admin queries.
type RoundResult struct {
	RoundSettlement
	CreatedAt time.Time `json:"createdAt"`
}

// RechargeReceipt is returned from a successful admin recharge.
type RechargeReceipt struct {
	AccountID     int64           `json:"accountId"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
}

// RechargeRecord is one recharge history row.
type RechargeRecord struct {
	ID            int64           `json:"id"`
	AccountID     int64           `json:"accountId"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	Operator      string          `json:"operator"`
	Remark        string          `json:"remark"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// SystemStats aggregates settled rounds over a trailing window.
type SystemStats struct {
	TotalRounds int64           `json:"totalRounds"`
	TotalBets   decimal.Decimal `json:"totalBets"`
	TotalPayout decimal.Decimal `json:"totalPayout"`
	TotalProfit decimal.Decimal `json:"totalProfit"`
}

// AccountStats aggregates one account's bet records over a trailing window.
type AccountStats struct {
	TotalBets   int64           `json:"totalBets"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	WinCount    int64           `json:"winCount"`
	LoseCount   int64           `json:"loseCount"`
	TotalProfit decimal.Decimal `json:"totalProfit"`
}
