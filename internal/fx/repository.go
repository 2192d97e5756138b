package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/quota/internal/domain"
)

// Repository is the Exchange Rate Store: one rate per (pair, day).
type Repository interface {
	// SaveRates inserts rates. An existing (pair, date) row is replaced only when it is
	// dated on or after openFrom; older rows are final and left untouched.
	SaveRates(ctx context.Context, rates []domain.ExchangeRate, openFrom time.Time) error
	ExistingDates(ctx context.Context, pair domain.CurrencyPair, r domain.DateRange) ([]time.Time, error)
	// LatestOnOrBefore returns the latest rate dated on or before date, or a *domain.NoRateError.
	LatestOnOrBefore(ctx context.Context, pair domain.CurrencyPair, date time.Time) (domain.ExchangeRate, error)
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL exchange rate repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) SaveRates(ctx context.Context, rates []domain.ExchangeRate, openFrom time.Time) error {
	if len(rates) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rate := range rates {
		batch.Queue(
			`INSERT INTO exchange_rates (from_currency, to_currency, rate_date, rate, source)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (from_currency, to_currency, rate_date) DO UPDATE SET
			     rate = EXCLUDED.rate, source = EXCLUDED.source
			 WHERE exchange_rates.rate_date >= $6`,
			rate.Pair.From, rate.Pair.To, rate.Date, rate.Rate, rate.Source, domain.Day(openFrom))
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("saving %d rates for %s: %w", len(rates), rates[0].Pair, err)
	}
	return nil
}

func (r *PgRepository) ExistingDates(ctx context.Context, pair domain.CurrencyPair, dr domain.DateRange) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT rate_date FROM exchange_rates
		 WHERE from_currency = $1 AND to_currency = $2 AND rate_date BETWEEN $3 AND $4
		 ORDER BY rate_date`, pair.From, pair.To, dr.From, dr.To)
	if err != nil {
		return nil, fmt.Errorf("listing rate dates for %s: %w", pair, err)
	}
	dates, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("scanning rate dates for %s: %w", pair, err)
	}
	return dates, nil
}

func (r *PgRepository) LatestOnOrBefore(ctx context.Context, pair domain.CurrencyPair, date time.Time) (domain.ExchangeRate, error) {
	rate := domain.ExchangeRate{Pair: pair}
	err := r.pool.QueryRow(ctx,
		`SELECT rate_date, rate, source FROM exchange_rates
		 WHERE from_currency = $1 AND to_currency = $2 AND rate_date <= $3
		 ORDER BY rate_date DESC
		 LIMIT 1`, pair.From, pair.To, domain.Day(date)).Scan(&rate.Date, &rate.Rate, &rate.Source)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExchangeRate{}, &domain.NoRateError{Pair: pair, Date: domain.Day(date)}
		}
		return domain.ExchangeRate{}, fmt.Errorf("getting rate for %s on or before %s: %w", pair, date.Format(domain.DateLayout), err)
	}
	return rate, nil
}
