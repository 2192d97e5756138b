package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/quota/internal/domain"
)

// Repository defines persistent storage for portfolio snapshots.
type Repository interface {
	// Upsert replaces the row keyed by (user, date, account) and reports whether any
	// stored value changed.
	Upsert(ctx context.Context, snap domain.PortfolioSnapshot) (bool, error)
	Get(ctx context.Context, key domain.SnapshotKey) (domain.PortfolioSnapshot, error)
	ListByDate(ctx context.Context, userID string, date time.Time) ([]domain.PortfolioSnapshot, error)
	ConsolidatedFrom(ctx context.Context, userID string, from time.Time) ([]domain.PortfolioSnapshot, error)
	ListConsolidated(ctx context.Context, userID string, r domain.DateRange) ([]domain.PortfolioSnapshot, error)
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL snapshot repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const columns = `user_id, snapshot_date, account_id, nav, market_value, cash, total_cost,
	realized_pnl, unrealized_pnl, currency, degraded, failures, excluded`

// Upsert is a single statement: the unique key is the serialization point, and the
// update is skipped when the content hash is unchanged so no row comes back.
func (r *PgRepository) Upsert(ctx context.Context, snap domain.PortfolioSnapshot) (bool, error) {
	failures, err := json.Marshal(nonNil(snap.Failures))
	if err != nil {
		return false, fmt.Errorf("marshaling failures: %w", err)
	}

	var one int
	err = r.pool.QueryRow(ctx,
		`INSERT INTO portfolio_snapshots (`+columns+`, content_hash, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14, NOW())
		 ON CONFLICT (user_id, snapshot_date, account_id) DO UPDATE SET
		     nav = EXCLUDED.nav,
		     market_value = EXCLUDED.market_value,
		     cash = EXCLUDED.cash,
		     total_cost = EXCLUDED.total_cost,
		     realized_pnl = EXCLUDED.realized_pnl,
		     unrealized_pnl = EXCLUDED.unrealized_pnl,
		     currency = EXCLUDED.currency,
		     degraded = EXCLUDED.degraded,
		     failures = EXCLUDED.failures,
		     excluded = EXCLUDED.excluded,
		     content_hash = EXCLUDED.content_hash,
		     updated_at = NOW()
		 WHERE portfolio_snapshots.content_hash IS DISTINCT FROM EXCLUDED.content_hash
		 RETURNING 1`,
		snap.UserID, domain.Day(snap.Date), snap.AccountID, snap.NAV, snap.MarketValue, snap.Cash,
		snap.TotalCost, snap.RealizedPnL, snap.UnrealizedPnL, snap.Currency, snap.Degraded,
		string(failures), nonNil(snap.Excluded), snap.ContentHash()).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("saving snapshot %s: %w", snap.Key(), err)
	}
	return true, nil
}

func (r *PgRepository) Get(ctx context.Context, key domain.SnapshotKey) (domain.PortfolioSnapshot, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM portfolio_snapshots
		 WHERE user_id = $1 AND snapshot_date = $2 AND account_id = $3`,
		key.UserID, domain.Day(key.Date), key.AccountID)
	snap, err := scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PortfolioSnapshot{}, domain.ErrNotFound
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("getting snapshot %s: %w", key, err)
	}
	return snap, nil
}

func (r *PgRepository) ListByDate(ctx context.Context, userID string, date time.Time) ([]domain.PortfolioSnapshot, error) {
	return r.list(ctx,
		`SELECT `+columns+` FROM portfolio_snapshots
		 WHERE user_id = $1 AND snapshot_date = $2
		 ORDER BY account_id`, userID, domain.Day(date))
}

func (r *PgRepository) ConsolidatedFrom(ctx context.Context, userID string, from time.Time) ([]domain.PortfolioSnapshot, error) {
	return r.list(ctx,
		`SELECT `+columns+` FROM portfolio_snapshots
		 WHERE user_id = $1 AND account_id = '' AND snapshot_date >= $2
		 ORDER BY snapshot_date`, userID, domain.Day(from))
}

func (r *PgRepository) ListConsolidated(ctx context.Context, userID string, dr domain.DateRange) ([]domain.PortfolioSnapshot, error) {
	return r.list(ctx,
		`SELECT `+columns+` FROM portfolio_snapshots
		 WHERE user_id = $1 AND account_id = '' AND snapshot_date BETWEEN $2 AND $3
		 ORDER BY snapshot_date`, userID, dr.From, dr.To)
}

func (r *PgRepository) list(ctx context.Context, query string, args ...any) ([]domain.PortfolioSnapshot, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.PortfolioSnapshot
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return snapshots, nil
}

func scan(row pgx.Row) (domain.PortfolioSnapshot, error) {
	var s domain.PortfolioSnapshot
	var failures []byte
	err := row.Scan(&s.UserID, &s.Date, &s.AccountID, &s.NAV, &s.MarketValue, &s.Cash, &s.TotalCost,
		&s.RealizedPnL, &s.UnrealizedPnL, &s.Currency, &s.Degraded, &failures, &s.Excluded)
	if err != nil {
		return s, err
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &s.Failures); err != nil {
			return s, fmt.Errorf("decoding failures: %w", err)
		}
	}
	if len(s.Failures) == 0 {
		s.Failures = nil
	}
	if len(s.Excluded) == 0 {
		s.Excluded = nil
	}
	return s, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
