// Package quote implements the Quote Store and the quote ingestion pipeline.
package quote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/ingest"
	"github.com/mtlprog/quota/internal/provider"
)

// Service fills gaps in the Quote Store from providers in priority order and answers price lookups.
type Service struct {
	repo        Repository
	recorder    ingest.Recorder
	fetchers    []provider.QuoteFetcher
	cache       *priceCache
	concurrency int
	lookback    int
	now         func() time.Time
}

// Options tunes a Service.
type Options struct {
	CacheTTL     time.Duration
	Concurrency  int
	LookbackDays int
}

// NewService creates a quote service. fetchers are tried in the given order.
func NewService(repo Repository, recorder ingest.Recorder, fetchers []provider.QuoteFetcher, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 7
	}
	return &Service{
		repo:        repo,
		recorder:    recorder,
		fetchers:    fetchers,
		cache:       newPriceCache(opts.CacheTTL),
		concurrency: opts.Concurrency,
		lookback:    opts.LookbackDays,
		now:         time.Now,
	}
}

// EnsureQuotes fetches and stores any missing quotes for assets over r. Dates from today
// on are refetched on every call and replace the stored intraday value.
// Provider failures are reported per asset in the results and never abort the batch;
// only context cancellation is returned as an error.
func (s *Service) EnsureQuotes(ctx context.Context, assets []domain.AssetID, r domain.DateRange) ([]domain.IngestionResult, error) {
	assets = lo.Uniq(assets)
	runID := ingest.NewRunID()
	results := make([]domain.IngestionResult, len(assets))

	err := ingest.ForEach(ctx, assets, s.concurrency, func(ctx context.Context, i int, asset domain.AssetID) {
		results[i] = s.ensureAsset(ctx, runID, asset, r)
	})

	results = lo.Filter(results, func(res domain.IngestionResult, _ int) bool { return res.Key != "" })
	for _, res := range results {
		if err := s.recorder.Record(context.WithoutCancel(ctx), res); err != nil {
			slog.Warn("QuoteService: failed to record ingestion result", "asset", res.Key, "error", err)
		}
	}

	partial := lo.CountBy(results, func(res domain.IngestionResult) bool { return res.Partial() })
	slog.Info("QuoteService: ensure completed",
		"run", runID, "assets", len(assets), "range", r.String(), "partial", partial)

	if err != nil {
		return results, fmt.Errorf("ensuring quotes: %w", err)
	}
	return results, nil
}

func (s *Service) ensureAsset(ctx context.Context, runID string, asset domain.AssetID, r domain.DateRange) domain.IngestionResult {
	res := domain.IngestionResult{
		RunID:     runID,
		Kind:      domain.IngestionKindQuote,
		Key:       string(asset),
		StartedAt: s.now().UTC(),
	}

	weekends := provider.TradesWeekends(s.fetchers, asset)
	existing, err := s.repo.ExistingDates(ctx, asset, r)
	if err != nil {
		res.Error = err.Error()
		res.Failed = ingest.Gaps(r, nil, weekends)
		slog.Warn("QuoteService: reading existing quotes failed", "asset", asset, "error", err)
		return res
	}
	today := domain.Day(s.now())
	res.Cached = ingest.Settled(existing, today)

	gaps := ingest.Gaps(r, res.Cached, weekends)
	if len(gaps) == 0 {
		return res
	}

	sources := lo.Map(s.fetchers, func(f provider.QuoteFetcher, _ int) ingest.Source {
		return ingest.Source{
			Name: f.Name(),
			Fetch: func(ctx context.Context, span domain.DateRange) ([]provider.Point, error) {
				return f.FetchQuotes(ctx, asset, span)
			},
		}
	})

	out := ingest.Fill(ctx, gaps, sources, func(ctx context.Context, source string, points []provider.Point) error {
		return s.repo.SaveQuotes(ctx, toQuotes(asset, source, points), today)
	})
	if len(out.Fetched) > 0 {
		s.cache.invalidate(asset)
	}

	res.Fetched = out.Fetched
	res.Failed = out.Failed
	res.Sources = out.Sources
	if out.Err != nil {
		res.Error = out.Err.Error()
		slog.Warn("QuoteService: data gap",
			"asset", asset, "fetched", len(out.Fetched), "failed", len(out.Failed), "error", out.Err)
	}
	return res
}

// LatestOnOrBefore returns the latest stored quote dated on or before date.
func (s *Service) LatestOnOrBefore(ctx context.Context, asset domain.AssetID, date time.Time) (domain.Quote, error) {
	return s.repo.LatestOnOrBefore(ctx, asset, date)
}

// LatestPrice returns today's best-known price for asset through the read-through cache.
// On a miss it fills the lookback window from providers before reading the store.
func (s *Service) LatestPrice(ctx context.Context, asset domain.AssetID) (domain.LatestPrice, error) {
	if p, ok := s.cache.get(asset); ok {
		p.Cached = true
		return p, nil
	}

	today := domain.Day(s.now())
	window := domain.NewDateRange(today.AddDate(0, 0, -s.lookback), today)
	if _, err := s.EnsureQuotes(ctx, []domain.AssetID{asset}, window); err != nil {
		return domain.LatestPrice{}, err
	}

	q, err := s.repo.LatestOnOrBefore(ctx, asset, today)
	if err != nil {
		return domain.LatestPrice{}, err
	}
	p := domain.LatestPrice{AssetID: asset, Date: q.Date, Close: q.Close, Source: q.Source}
	s.cache.set(p)
	return p, nil
}

func toQuotes(asset domain.AssetID, source string, points []provider.Point) []domain.Quote {
	return lo.Map(points, func(p provider.Point, _ int) domain.Quote {
		return domain.Quote{
			AssetID:       asset,
			Date:          domain.Day(p.Date),
			Open:          p.Open,
			High:          p.High,
			Low:           p.Low,
			Close:         p.Close,
			AdjustedClose: p.AdjustedClose,
			Volume:        p.Volume,
			Source:        source,
		}
	})
}
