// Package fx implements the Exchange Rate Store and exchange-rate synchronization.
package fx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/ingest"
	"github.com/mtlprog/quota/internal/provider"
)

// Service syncs exchange rates from providers and answers point-in-time rate lookups.
type Service struct {
	repo        Repository
	recorder    ingest.Recorder
	fetchers    []provider.RateFetcher
	concurrency int
	now         func() time.Time
}

// NewService creates an exchange rate service. fetchers are tried in the given order.
func NewService(repo Repository, recorder ingest.Recorder, fetchers []provider.RateFetcher, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		repo:        repo,
		recorder:    recorder,
		fetchers:    fetchers,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Sync fetches and stores missing rates for pairs over r. Identity pairs are skipped.
// Dates from today on are refetched on every call.
// Provider failures are reported in the results; only context cancellation is returned.
func (s *Service) Sync(ctx context.Context, pairs []domain.CurrencyPair, r domain.DateRange) ([]domain.IngestionResult, error) {
	pairs = lo.Filter(lo.Uniq(pairs), func(p domain.CurrencyPair, _ int) bool { return p.From != p.To })
	runID := ingest.NewRunID()
	results := make([]domain.IngestionResult, len(pairs))

	err := ingest.ForEach(ctx, pairs, s.concurrency, func(ctx context.Context, i int, pair domain.CurrencyPair) {
		results[i] = s.syncPair(ctx, runID, pair, r)
	})

	results = lo.Filter(results, func(res domain.IngestionResult, _ int) bool { return res.Key != "" })
	for _, res := range results {
		if err := s.recorder.Record(context.WithoutCancel(ctx), res); err != nil {
			slog.Warn("FXService: failed to record ingestion result", "pair", res.Key, "error", err)
		}
	}

	partial := lo.CountBy(results, func(res domain.IngestionResult) bool { return res.Partial() })
	slog.Info("FXService: sync completed",
		"run", runID, "pairs", len(pairs), "range", r.String(), "partial", partial)

	if err != nil {
		return results, fmt.Errorf("syncing exchange rates: %w", err)
	}
	return results, nil
}

func (s *Service) syncPair(ctx context.Context, runID string, pair domain.CurrencyPair, r domain.DateRange) domain.IngestionResult {
	res := domain.IngestionResult{
		RunID:     runID,
		Kind:      domain.IngestionKindFX,
		Key:       pair.String(),
		StartedAt: s.now().UTC(),
	}

	existing, err := s.repo.ExistingDates(ctx, pair, r)
	if err != nil {
		res.Error = err.Error()
		res.Failed = ingest.Gaps(r, nil, false)
		slog.Warn("FXService: reading existing rates failed", "pair", pair.String(), "error", err)
		return res
	}
	today := domain.Day(s.now())
	res.Cached = ingest.Settled(existing, today)

	gaps := ingest.Gaps(r, res.Cached, false)
	if len(gaps) == 0 {
		return res
	}

	sources := lo.Map(s.fetchers, func(f provider.RateFetcher, _ int) ingest.Source {
		return ingest.Source{
			Name: f.Name(),
			Fetch: func(ctx context.Context, span domain.DateRange) ([]provider.Point, error) {
				return f.FetchRates(ctx, pair, span)
			},
		}
	})

	out := ingest.Fill(ctx, gaps, sources, func(ctx context.Context, source string, points []provider.Point) error {
		rates, err := toRates(pair, source, points)
		if err != nil {
			return err
		}
		return s.repo.SaveRates(ctx, rates, today)
	})

	res.Fetched = out.Fetched
	res.Failed = out.Failed
	res.Sources = out.Sources
	if out.Err != nil {
		res.Error = out.Err.Error()
		slog.Warn("FXService: data gap",
			"pair", pair.String(), "fetched", len(out.Fetched), "failed", len(out.Failed), "error", out.Err)
	}
	return res
}

// RateOnOrBefore returns the rate for the exact date if stored, else the most recent prior
// rate, else a *domain.NoRateError. Identity pairs always return 1.
func (s *Service) RateOnOrBefore(ctx context.Context, pair domain.CurrencyPair, date time.Time) (domain.ExchangeRate, error) {
	if pair.From == pair.To {
		return domain.ExchangeRate{Pair: pair, Date: domain.Day(date), Rate: decimal.NewFromInt(1), Source: "identity"}, nil
	}
	return s.repo.LatestOnOrBefore(ctx, pair, date)
}

func toRates(pair domain.CurrencyPair, source string, points []provider.Point) ([]domain.ExchangeRate, error) {
	rates := make([]domain.ExchangeRate, 0, len(points))
	for _, p := range points {
		rate := domain.RoundRate(p.Close)
		if !rate.IsPositive() {
			return nil, fmt.Errorf("%s %s on %s: %w", source, pair, p.Date.Format(domain.DateLayout), domain.ErrInvalidRate)
		}
		rates = append(rates, domain.ExchangeRate{
			Pair:   pair,
			Date:   domain.Day(p.Date),
			Rate:   rate,
			Source: source,
		})
	}
	return rates, nil
}
