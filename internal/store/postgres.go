package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id           BIGSERIAL PRIMARY KEY,
    username     TEXT NOT NULL UNIQUE,
    password     TEXT NOT NULL,
    display_name TEXT NOT NULL,
    balance      NUMERIC(15,2) NOT NULL DEFAULT 10000,
    status       TEXT NOT NULL DEFAULT 'active',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bet_records (
    id             BIGSERIAL PRIMARY KEY,
    channel        TEXT NOT NULL,
    account_id     BIGINT NOT NULL REFERENCES accounts(id),
    round_number   TEXT NOT NULL,
    family         TEXT NOT NULL,
    target         TEXT NOT NULL,
    amount         NUMERIC(15,2) NOT NULL,
    winning_number TEXT,
    profit         NUMERIC(15,2),
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_bet_records_account ON bet_records (account_id);
CREATE INDEX IF NOT EXISTS idx_bet_records_round ON bet_records (channel, round_number);
CREATE INDEX IF NOT EXISTS idx_bet_records_created ON bet_records (created_at);

CREATE TABLE IF NOT EXISTS round_results (
    id             BIGSERIAL PRIMARY KEY,
    channel        TEXT NOT NULL,
    round_number   TEXT NOT NULL,
    winning_number TEXT NOT NULL,
    total_bets     NUMERIC(15,2) NOT NULL DEFAULT 0,
    total_payout   NUMERIC(15,2) NOT NULL DEFAULT 0,
    system_profit  NUMERIC(15,2) NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (channel, round_number)
);
CREATE INDEX IF NOT EXISTS idx_round_results_created ON round_results (created_at);

CREATE TABLE IF NOT EXISTS recharge_records (
    id             BIGSERIAL PRIMARY KEY,
    account_id     BIGINT NOT NULL REFERENCES accounts(id),
    amount         NUMERIC(15,2) NOT NULL,
    balance_before NUMERIC(15,2) NOT NULL,
    balance_after  NUMERIC(15,2) NOT NULL,
    operator       TEXT NOT NULL DEFAULT 'admin',
    remark         TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_recharge_records_account ON recharge_records (account_id);
CREATE INDEX IF NOT EXISTS idx_recharge_records_created ON recharge_records (created_at);
`

// seedAccounts is how many demo accounts Init creates when the accounts table
// is empty.
const seedAccounts = 100

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// NewPostgres connects a pool for the given DSN.
func NewPostgres(ctx context.Context, dsn string, logger *log.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, logger: logger.WithPrefix("store")}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Init creates the schema and, on an empty accounts table, seeds the demo
// accounts player001..player100 with password "1234" and a random opening
// balance between 10000 and 30000.
func (p *Postgres) Init(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var count int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM accounts`).Scan(&count); err != nil {
		return fmt.Errorf("count accounts: %w", err)
	}
	if count > 0 {
		return nil
	}

	for i := 1; i <= seedAccounts; i++ {
		balance := decimal.NewFromInt(10000 + rand.Int63n(20000))
		_, err := p.pool.Exec(ctx,
			`INSERT INTO accounts (username, password, display_name, balance) VALUES ($1, $2, $3, $4)`,
			fmt.Sprintf("player%03d", i), "1234", fmt.Sprintf("Player %03d", i), balance)
		if err != nil {
			return fmt.Errorf("seed accounts: %w", err)
		}
	}
	p.logger.Info("Seeded demo accounts", "count", seedAccounts)
	return nil
}

func (p *Postgres) Login(ctx context.Context, username, password string) (Account, error) {
	var acct Account
	var storedPassword, status string
	err := p.pool.QueryRow(ctx,
		`SELECT id, username, password, display_name, balance, status, created_at
         FROM accounts WHERE username = $1`, username).
		Scan(&acct.ID, &acct.Username, &storedPassword, &acct.DisplayName, &acct.Balance, &status, &acct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	if storedPassword != password {
		return Account{}, ErrInvalidCredentials
	}
	if status != "active" {
		return Account{}, ErrAccountInactive
	}
	acct.Status = status
	return acct, nil
}

func (p *Postgres) GetAccount(ctx context.Context, id int64) (Account, error) {
	var acct Account
	err := p.pool.QueryRow(ctx,
		`SELECT id, username, display_name, balance, status, created_at
         FROM accounts WHERE id = $1`, id).
		Scan(&acct.ID, &acct.Username, &acct.DisplayName, &acct.Balance, &acct.Status, &acct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	return acct, nil
}

func (p *Postgres) AllAccounts(ctx context.Context) ([]Account, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, username, display_name, balance, status, created_at FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var acct Account
		if err := rows.Scan(&acct.ID, &acct.Username, &acct.DisplayName, &acct.Balance, &acct.Status, &acct.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// AdjustBalance increments the balance in a single statement so concurrent
// debits, refunds and payouts cannot lose updates. A debit below zero is
// rejected in SQL.
func (p *Postgres) AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := p.pool.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $2, updated_at = now()
         WHERE id = $1 AND balance + $2 >= 0
         RETURNING balance`, id, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the account is missing or the debit would overdraw.
		if _, getErr := p.GetAccount(ctx, id); getErr != nil {
			return decimal.Zero, getErr
		}
		return decimal.Zero, ErrInsufficientFunds
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjust balance: %w", err)
	}
	return balance, nil
}

func (p *Postgres) Recharge(ctx context.Context, id int64, amount decimal.Decimal, operator, remark string) (RechargeReceipt, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return RechargeReceipt{}, fmt.Errorf("begin recharge: %w", err)
	}
	defer tx.Rollback(ctx)

	var before decimal.Decimal
	err = tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&before)
	if errors.Is(err, pgx.ErrNoRows) {
		return RechargeReceipt{}, ErrAccountNotFound
	}
	if err != nil {
		return RechargeReceipt{}, fmt.Errorf("lock account: %w", err)
	}

	after := before.Add(amount)
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2, updated_at = now() WHERE id = $1`, id, after); err != nil {
		return RechargeReceipt{}, fmt.Errorf("update balance: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO recharge_records (account_id, amount, balance_before, balance_after, operator, remark)
         VALUES ($1, $2, $3, $4, $5, $6)`, id, amount, before, after, operator, remark); err != nil {
		return RechargeReceipt{}, fmt.Errorf("insert recharge record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return RechargeReceipt{}, fmt.Errorf("commit recharge: %w", err)
	}

	return RechargeReceipt{AccountID: id, Amount: amount, BalanceBefore: before, BalanceAfter: after}, nil
}

func (p *Postgres) RecordBet(ctx context.Context, rec BetRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO bet_records (channel, account_id, round_number, family, target, amount)
         VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Channel, rec.AccountID, rec.RoundNumber, rec.Family, rec.Target, rec.Amount)
	if err != nil {
		return fmt.Errorf("insert bet record: %w", err)
	}
	return nil
}

func (p *Postgres) SettleBets(ctx context.Context, channel, roundNumber, winningNumber string, profitFor ProfitFunc) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settle: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, family, target, amount FROM bet_records
         WHERE channel = $1 AND round_number = $2`, channel, roundNumber)
	if err != nil {
		return fmt.Errorf("query round bets: %w", err)
	}

	type pending struct {
		id     int64
		profit decimal.Decimal
	}
	var updates []pending
	for rows.Next() {
		var id int64
		var family, target string
		var amount decimal.Decimal
		if err := rows.Scan(&id, &family, &target, &amount); err != nil {
			rows.Close()
			return fmt.Errorf("scan round bet: %w", err)
		}
		updates = append(updates, pending{id: id, profit: profitFor(family, target, amount)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate round bets: %w", err)
	}

	for _, u := range updates {
		if _, err := tx.Exec(ctx,
			`UPDATE bet_records SET winning_number = $2, profit = $3 WHERE id = $1`,
			u.id, winningNumber, u.profit); err != nil {
			return fmt.Errorf("update bet record: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// RecordRoundSettlement upserts on (channel, round_number) so a repeated
// settlement of the same round overwrites rather than duplicates.
func (p *Postgres) RecordRoundSettlement(ctx context.Context, rs RoundSettlement) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO round_results (channel, round_number, winning_number, total_bets, total_payout, system_profit)
         VALUES ($1, $2, $3, $4, $5, $6)
         ON CONFLICT (channel, round_number) DO UPDATE
             SET winning_number = EXCLUDED.winning_number,
                 total_bets     = EXCLUDED.total_bets,
                 total_payout   = EXCLUDED.total_payout,
                 system_profit  = EXCLUDED.system_profit`,
		rs.Channel, rs.RoundNumber, rs.WinningNumber, rs.TotalBets, rs.TotalPayout, rs.SystemProfit)
	if err != nil {
		return fmt.Errorf("upsert round result: %w", err)
	}
	return nil
}

func (p *Postgres) BetRecords(ctx context.Context, channel string, days int) ([]BetRecord, error) {
	return p.queryBets(ctx,
		`SELECT id, channel, account_id, round_number, family, target, amount, winning_number, profit, created_at
         FROM bet_records
         WHERE channel = $1 AND created_at::date >= CURRENT_DATE - $2::int
         ORDER BY created_at DESC`, channel, days)
}

func (p *Postgres) AccountBetRecords(ctx context.Context, channel string, accountID int64, days int) ([]BetRecord, error) {
	return p.queryBets(ctx,
		`SELECT id, channel, account_id, round_number, family, target, amount, winning_number, profit, created_at
         FROM bet_records
         WHERE channel = $1 AND account_id = $2 AND created_at::date >= CURRENT_DATE - $3::int
         ORDER BY created_at DESC`, channel, accountID, days)
}

func (p *Postgres) queryBets(ctx context.Context, sql string, args ...any) ([]BetRecord, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query bet records: %w", err)
	}
	defer rows.Close()

	var recs []BetRecord
	for rows.Next() {
		var rec BetRecord
		var winning *string
		if err := rows.Scan(&rec.ID, &rec.Channel, &rec.AccountID, &rec.RoundNumber, &rec.Family,
			&rec.Target, &rec.Amount, &winning, &rec.Profit, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bet record: %w", err)
		}
		if winning != nil {
			rec.WinningNumber = *winning
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SystemStats aggregates settled rounds. days == 0 restricts to today, the
// window admin broadcasts use.
func (p *Postgres) SystemStats(ctx context.Context, channel string, days int) (SystemStats, error) {
	var stats SystemStats
	err := p.pool.QueryRow(ctx,
		`SELECT count(*),
                COALESCE(sum(total_bets), 0),
                COALESCE(sum(total_payout), 0),
                COALESCE(sum(system_profit), 0)
         FROM round_results
         WHERE channel = $1 AND created_at::date >= CURRENT_DATE - $2::int`, channel, days).
		Scan(&stats.TotalRounds, &stats.TotalBets, &stats.TotalPayout, &stats.TotalProfit)
	if err != nil {
		return SystemStats{}, fmt.Errorf("query system stats: %w", err)
	}
	return stats, nil
}

func (p *Postgres) AccountStats(ctx context.Context, channel string, accountID int64, days int) (AccountStats, error) {
	var stats AccountStats
	err := p.pool.QueryRow(ctx,
		`SELECT count(*),
                COALESCE(sum(amount), 0),
                count(*) FILTER (WHERE profit > 0),
                count(*) FILTER (WHERE profit < 0),
                COALESCE(sum(profit), 0)
         FROM bet_records
         WHERE channel = $1 AND account_id = $2 AND created_at::date >= CURRENT_DATE - $3::int`,
		channel, accountID, days).
		Scan(&stats.TotalBets, &stats.TotalAmount, &stats.WinCount, &stats.LoseCount, &stats.TotalProfit)
	if err != nil {
		return AccountStats{}, fmt.Errorf("query account stats: %w", err)
	}
	return stats, nil
}

func (p *Postgres) RechargeRecords(ctx context.Context, accountID int64, days int) ([]RechargeRecord, error) {
	sql := `SELECT id, account_id, amount, balance_before, balance_after, operator, remark, created_at
            FROM recharge_records
            WHERE created_at::date >= CURRENT_DATE - $1::int`
	args := []any{days}
	if accountID != 0 {
		sql += ` AND account_id = $2`
		args = append(args, accountID)
	}
	sql += ` ORDER BY created_at DESC`

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query recharge records: %w", err)
	}
	defer rows.Close()

	var recs []RechargeRecord
	for rows.Next() {
		var rec RechargeRecord
		if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.Amount, &rec.BalanceBefore,
			&rec.BalanceAfter, &rec.Operator, &rec.Remark, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recharge record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (p *Postgres) RoundResults(ctx context.Context, channel string, days int) ([]RoundResult, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT channel, round_number, winning_number, total_bets, total_payout, system_profit, created_at
         FROM round_results
         WHERE channel = $1 AND created_at::date >= CURRENT_DATE - $2::int
         ORDER BY created_at DESC`, channel, days)
	if err != nil {
		return nil, fmt.Errorf("query round results: %w", err)
	}
	defer rows.Close()

	var results []RoundResult
	for rows.Next() {
		var rr RoundResult
		if err := rows.Scan(&rr.Channel, &rr.RoundNumber, &rr.WinningNumber,
			&rr.TotalBets, &rr.TotalPayout, &rr.SystemProfit, &rr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan round result: %w", err)
		}
		results = append(results, rr)
	}
	return results, rows.Err()
}

func (p *Postgres) PurgeOldRecords(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	for _, table := range []string{"bet_records", "round_results", "recharge_records"} {
		tag, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, table), cutoff)
		if err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
		if tag.RowsAffected() > 0 {
			p.logger.Info("Purged old records", "table", table, "rows", tag.RowsAffected())
		}
	}
	return nil
}
