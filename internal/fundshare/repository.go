package fundshare

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/quota/internal/domain"
)

// Repository stores the quota ledger, one row per (user, date).
type Repository interface {
	// LatestBefore returns the last row strictly before date, or domain.ErrNotFound.
	LatestBefore(ctx context.Context, userID string, date time.Time) (domain.FundShare, error)
	Get(ctx context.Context, userID string, date time.Time) (domain.FundShare, error)
	// DatesFrom lists the dates of rows on or after from.
	DatesFrom(ctx context.Context, userID string, from time.Time) ([]time.Time, error)
	List(ctx context.Context, userID string, r domain.DateRange) ([]domain.FundShare, error)
	// Replace atomically deletes every row in r and inserts rows.
	Replace(ctx context.Context, userID string, r domain.DateRange, rows []domain.FundShare) error
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL fund share repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const columns = `user_id, share_date, nav, net_flow, shares_outstanding, share_value, daily_return, cumulative_return`

func (r *PgRepository) LatestBefore(ctx context.Context, userID string, date time.Time) (domain.FundShare, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM fund_shares
		 WHERE user_id = $1 AND share_date < $2
		 ORDER BY share_date DESC
		 LIMIT 1`, userID, domain.Day(date))
	fs, err := scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FundShare{}, domain.ErrNotFound
		}
		return domain.FundShare{}, fmt.Errorf("getting fund share before %s: %w", date.Format(domain.DateLayout), err)
	}
	return fs, nil
}

func (r *PgRepository) Get(ctx context.Context, userID string, date time.Time) (domain.FundShare, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM fund_shares WHERE user_id = $1 AND share_date = $2`, userID, domain.Day(date))
	fs, err := scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FundShare{}, domain.ErrNotFound
		}
		return domain.FundShare{}, fmt.Errorf("getting fund share on %s: %w", date.Format(domain.DateLayout), err)
	}
	return fs, nil
}

func (r *PgRepository) DatesFrom(ctx context.Context, userID string, from time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT share_date FROM fund_shares
		 WHERE user_id = $1 AND share_date >= $2
		 ORDER BY share_date`, userID, domain.Day(from))
	if err != nil {
		return nil, fmt.Errorf("listing fund share dates: %w", err)
	}
	dates, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("scanning fund share dates: %w", err)
	}
	return dates, nil
}

func (r *PgRepository) List(ctx context.Context, userID string, dr domain.DateRange) ([]domain.FundShare, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+columns+` FROM fund_shares
		 WHERE user_id = $1 AND share_date BETWEEN $2 AND $3
		 ORDER BY share_date`, userID, dr.From, dr.To)
	if err != nil {
		return nil, fmt.Errorf("listing fund shares: %w", err)
	}
	defer rows.Close()

	var out []domain.FundShare
	for rows.Next() {
		fs, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fund share: %w", err)
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

func (r *PgRepository) Replace(ctx context.Context, userID string, dr domain.DateRange, rows []domain.FundShare) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM fund_shares WHERE user_id = $1 AND share_date BETWEEN $2 AND $3`,
			userID, dr.From, dr.To); err != nil {
			return fmt.Errorf("clearing fund shares: %w", err)
		}
		for _, fs := range rows {
			if _, err := tx.Exec(ctx,
				`INSERT INTO fund_shares (`+columns+`, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
				userID, fs.Date, fs.NAV, fs.NetFlow, fs.SharesOutstanding, fs.ShareValue,
				fs.DailyReturn, fs.CumulativeReturn); err != nil {
				return fmt.Errorf("inserting fund share for %s: %w", fs.Date.Format(domain.DateLayout), err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing fund shares %s for %s: %w", dr, userID, err)
	}
	return nil
}

func scan(row pgx.Row) (domain.FundShare, error) {
	var fs domain.FundShare
	err := row.Scan(&fs.UserID, &fs.Date, &fs.NAV, &fs.NetFlow, &fs.SharesOutstanding,
		&fs.ShareValue, &fs.DailyReturn, &fs.CumulativeReturn)
	return fs, err
}
