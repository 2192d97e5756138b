package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/quota/internal/domain"
)

// Repository is the Quote Store: one close per (asset, trading day).
type Repository interface {
	// SaveQuotes inserts quotes. An existing (asset, date) row is replaced only when it is
	// dated on or after openFrom; older rows are final and left untouched.
	SaveQuotes(ctx context.Context, quotes []domain.Quote, openFrom time.Time) error
	ExistingDates(ctx context.Context, asset domain.AssetID, r domain.DateRange) ([]time.Time, error)
	// LatestOnOrBefore returns the latest quote dated on or before date,
	// or a *domain.PriceUnavailableError.
	LatestOnOrBefore(ctx context.Context, asset domain.AssetID, date time.Time) (domain.Quote, error)
	List(ctx context.Context, asset domain.AssetID, r domain.DateRange) ([]domain.Quote, error)
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL quote repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const quoteColumns = `asset_id, trade_date, open, high, low, close, adjusted_close, volume, source`

func (r *PgRepository) SaveQuotes(ctx context.Context, quotes []domain.Quote, openFrom time.Time) error {
	if len(quotes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, q := range quotes {
		batch.Queue(
			`INSERT INTO quotes (`+quoteColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (asset_id, trade_date) DO UPDATE SET
			     open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close,
			     adjusted_close = EXCLUDED.adjusted_close, volume = EXCLUDED.volume, source = EXCLUDED.source
			 WHERE quotes.trade_date >= $10`,
			string(q.AssetID), q.Date, q.Open, q.High, q.Low, q.Close, q.AdjustedClose, q.Volume, q.Source,
			domain.Day(openFrom))
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("saving %d quotes for %s: %w", len(quotes), quotes[0].AssetID, err)
	}
	return nil
}

func (r *PgRepository) ExistingDates(ctx context.Context, asset domain.AssetID, dr domain.DateRange) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT trade_date FROM quotes
		 WHERE asset_id = $1 AND trade_date BETWEEN $2 AND $3
		 ORDER BY trade_date`, string(asset), dr.From, dr.To)
	if err != nil {
		return nil, fmt.Errorf("listing quote dates for %s: %w", asset, err)
	}
	dates, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("scanning quote dates for %s: %w", asset, err)
	}
	return dates, nil
}

func (r *PgRepository) LatestOnOrBefore(ctx context.Context, asset domain.AssetID, date time.Time) (domain.Quote, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+quoteColumns+` FROM quotes
		 WHERE asset_id = $1 AND trade_date <= $2
		 ORDER BY trade_date DESC
		 LIMIT 1`, string(asset), domain.Day(date))
	q, err := scanQuote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Quote{}, &domain.PriceUnavailableError{AssetID: asset, Date: domain.Day(date)}
		}
		return domain.Quote{}, fmt.Errorf("getting quote for %s on or before %s: %w", asset, date.Format(domain.DateLayout), err)
	}
	return q, nil
}

func (r *PgRepository) List(ctx context.Context, asset domain.AssetID, dr domain.DateRange) ([]domain.Quote, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+quoteColumns+` FROM quotes
		 WHERE asset_id = $1 AND trade_date BETWEEN $2 AND $3
		 ORDER BY trade_date`, string(asset), dr.From, dr.To)
	if err != nil {
		return nil, fmt.Errorf("listing quotes for %s: %w", asset, err)
	}
	defer rows.Close()

	var quotes []domain.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func scanQuote(row pgx.Row) (domain.Quote, error) {
	var q domain.Quote
	var asset string
	err := row.Scan(&asset, &q.Date, &q.Open, &q.High, &q.Low, &q.Close, &q.AdjustedClose, &q.Volume, &q.Source)
	q.AssetID = domain.AssetID(asset)
	return q, err
}
