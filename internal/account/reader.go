// Package account reads accounts, holdings, cash and closed trades maintained by
// transaction processing. Nothing here writes to those tables.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/quota/internal/domain"
)

// Reader is the read-only Account/Transaction store.
type Reader interface {
	Users(ctx context.Context) ([]string, error)
	Accounts(ctx context.Context, userID string) ([]domain.Account, error)
	Account(ctx context.Context, accountID string) (domain.Account, error)
	// Positions returns open positions on the account as of date (zero quantities omitted).
	Positions(ctx context.Context, accountID string, date time.Time) ([]domain.Position, error)
	FixedIncome(ctx context.Context, accountID string, date time.Time) ([]domain.FixedIncomePosition, error)
	CashBalances(ctx context.Context, accountID string, date time.Time) ([]domain.CashBalance, error)
	CashFlows(ctx context.Context, userID string, r domain.DateRange) ([]domain.CashFlow, error)
	RealizedTrades(ctx context.Context, accountID string, r domain.DateRange) ([]domain.RealizedTrade, error)
	// HeldAssets lists every quote-priced asset held in any account as of date.
	HeldAssets(ctx context.Context, date time.Time) ([]domain.AssetID, error)
	// Currencies lists every currency appearing in holdings, cash or trades.
	Currencies(ctx context.Context) ([]string, error)
}

// PgReader implements Reader with PostgreSQL.
type PgReader struct {
	pool *pgxpool.Pool
}

// NewPgReader creates a new PostgreSQL account reader.
func NewPgReader(pool *pgxpool.Pool) *PgReader {
	return &PgReader{pool: pool}
}

func (r *PgReader) Users(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *PgReader) Accounts(ctx context.Context, userID string) ([]domain.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, name, currency FROM accounts WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts for %s: %w", userID, err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Currency); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *PgReader) Account(ctx context.Context, accountID string) (domain.Account, error) {
	var a domain.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, name, currency FROM accounts WHERE id = $1`, accountID).
		Scan(&a.ID, &a.UserID, &a.Name, &a.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("getting account %s: %w", accountID, err)
	}
	return a, nil
}

func (r *PgReader) Positions(ctx context.Context, accountID string, date time.Time) ([]domain.Position, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (asset_id) account_id, asset_id, quantity, average_cost, cost_basis, currency
		 FROM positions
		 WHERE account_id = $1 AND as_of <= $2
		 ORDER BY asset_id, as_of DESC`, accountID, domain.Day(date))
	if err != nil {
		return nil, fmt.Errorf("listing positions for %s: %w", accountID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var asset string
		if err := rows.Scan(&p.AccountID, &asset, &p.Quantity, &p.AverageCost, &p.CostBasis, &p.Currency); err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		p.AssetID = domain.AssetID(asset)
		if !p.Quantity.IsZero() {
			positions = append(positions, p)
		}
	}
	return positions, rows.Err()
}

func (r *PgReader) FixedIncome(ctx context.Context, accountID string, date time.Time) ([]domain.FixedIncomePosition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (instrument_id) account_id, instrument_id, principal, rate,
		        COALESCE(convention, ''), COALESCE(day_basis, 0), last_accrual_date, cost_basis, currency
		 FROM fixed_income_positions
		 WHERE account_id = $1 AND last_accrual_date <= $2
		 ORDER BY instrument_id, last_accrual_date DESC`, accountID, domain.Day(date))
	if err != nil {
		return nil, fmt.Errorf("listing fixed income for %s: %w", accountID, err)
	}
	defer rows.Close()

	var positions []domain.FixedIncomePosition
	for rows.Next() {
		var p domain.FixedIncomePosition
		var convention string
		if err := rows.Scan(&p.AccountID, &p.InstrumentID, &p.Principal, &p.Rate,
			&convention, &p.DayBasis, &p.LastAccrualDate, &p.CostBasis, &p.Currency); err != nil {
			return nil, fmt.Errorf("scanning fixed income position: %w", err)
		}
		p.Convention = domain.AccrualConvention(convention)
		if !p.Principal.IsZero() {
			positions = append(positions, p)
		}
	}
	return positions, rows.Err()
}

func (r *PgReader) CashBalances(ctx context.Context, accountID string, date time.Time) ([]domain.CashBalance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (currency) account_id, currency, amount, as_of
		 FROM cash_balances
		 WHERE account_id = $1 AND as_of <= $2
		 ORDER BY currency, as_of DESC`, accountID, domain.Day(date))
	if err != nil {
		return nil, fmt.Errorf("listing cash for %s: %w", accountID, err)
	}
	defer rows.Close()

	var balances []domain.CashBalance
	for rows.Next() {
		var b domain.CashBalance
		if err := rows.Scan(&b.AccountID, &b.Currency, &b.Amount, &b.AsOf); err != nil {
			return nil, fmt.Errorf("scanning cash balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (r *PgReader) CashFlows(ctx context.Context, userID string, dr domain.DateRange) ([]domain.CashFlow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, account_id, flow_date, amount, currency
		 FROM cash_flows
		 WHERE user_id = $1 AND flow_date BETWEEN $2 AND $3
		 ORDER BY flow_date, id`, userID, dr.From, dr.To)
	if err != nil {
		return nil, fmt.Errorf("listing cash flows for %s: %w", userID, err)
	}
	defer rows.Close()

	var flows []domain.CashFlow
	for rows.Next() {
		var f domain.CashFlow
		if err := rows.Scan(&f.UserID, &f.AccountID, &f.Date, &f.Amount, &f.Currency); err != nil {
			return nil, fmt.Errorf("scanning cash flow: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (r *PgReader) RealizedTrades(ctx context.Context, accountID string, dr domain.DateRange) ([]domain.RealizedTrade, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, account_id, asset_id, closing_date, quantity_closed, proceeds,
		        cost_basis_removed, realized_pnl, currency
		 FROM realized_trades
		 WHERE account_id = $1 AND closing_date BETWEEN $2 AND $3
		 ORDER BY closing_date, id`, accountID, dr.From, dr.To)
	if err != nil {
		return nil, fmt.Errorf("listing realized trades for %s: %w", accountID, err)
	}
	defer rows.Close()

	var trades []domain.RealizedTrade
	for rows.Next() {
		var t domain.RealizedTrade
		var asset string
		if err := rows.Scan(&t.ID, &t.AccountID, &asset, &t.ClosingDate, &t.QuantityClosed,
			&t.Proceeds, &t.CostBasisRemoved, &t.RealizedPnL, &t.Currency); err != nil {
			return nil, fmt.Errorf("scanning realized trade: %w", err)
		}
		t.AssetID = domain.AssetID(asset)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (r *PgReader) HeldAssets(ctx context.Context, date time.Time) ([]domain.AssetID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT asset_id FROM (
		     SELECT DISTINCT ON (account_id, asset_id) asset_id, quantity
		     FROM positions
		     WHERE as_of <= $1
		     ORDER BY account_id, asset_id, as_of DESC
		 ) latest
		 WHERE quantity <> 0
		 GROUP BY asset_id
		 ORDER BY asset_id`, domain.Day(date))
	if err != nil {
		return nil, fmt.Errorf("listing held assets: %w", err)
	}
	assets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AssetID, error) {
		var s string
		err := row.Scan(&s)
		return domain.AssetID(s), err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning held assets: %w", err)
	}
	return assets, nil
}

func (r *PgReader) Currencies(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT currency FROM accounts
		 UNION SELECT currency FROM positions
		 UNION SELECT currency FROM fixed_income_positions
		 UNION SELECT currency FROM cash_balances
		 UNION SELECT currency FROM cash_flows
		 UNION SELECT currency FROM realized_trades
		 ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("listing currencies: %w", err)
	}
	currencies, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning currencies: %w", err)
	}
	return currencies, nil
}
