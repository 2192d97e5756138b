package quote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/provider"
	"github.com/mtlprog/quota/internal/testutil"
)

func newTestService(store *testutil.QuoteStore, rec *testutil.Recorder, fetchers ...provider.QuoteFetcher) *Service {
	return NewService(store, rec, fetchers, Options{CacheTTL: time.Minute, Concurrency: 2, LookbackDays: 7})
}

// week is Fri 2026-01-02 .. Tue 2026-01-06.
var week = domain.NewDateRange(testutil.Day("2026-01-02"), testutil.Day("2026-01-06"))

func TestEnsureQuotesFillsGapsAndIsIdempotent(t *testing.T) {
	store := testutil.NewQuoteStore()
	rec := &testutil.Recorder{}
	yahoo := testutil.NewMockFetcher("yahoo").
		WithClose("A", "2026-01-02", "10.00").
		WithClose("A", "2026-01-05", "10.50").
		WithClose("A", "2026-01-06", "10.75")
	svc := newTestService(store, rec, yahoo)
	ctx := context.Background()

	results, err := svc.EnsureQuotes(ctx, []domain.AssetID{"A", "A"}, week)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 (assets deduplicated)", len(results))
	}
	if got := len(results[0].Fetched); got != 3 {
		t.Errorf("fetched = %d, want 3", got)
	}
	if results[0].Partial() {
		t.Error("result should not be partial")
	}
	if results[0].RunID == "" || results[0].Sources[0] != "yahoo" {
		t.Errorf("result = %+v, want run id and yahoo source", results[0])
	}

	saves := store.Saves
	calls := yahoo.Calls
	results, err = svc.EnsureQuotes(ctx, []domain.AssetID{"A"}, week)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Saves != saves || yahoo.Calls != calls {
		t.Errorf("second run wrote %d rows and made %d calls, want none", store.Saves-saves, yahoo.Calls-calls)
	}
	if len(results[0].Cached) != 3 || len(results[0].Fetched) != 0 {
		t.Errorf("second run = %+v, want all cached", results[0])
	}
	if len(rec.Results) != 2 {
		t.Errorf("recorded %d results, want 2", len(rec.Results))
	}

	dates, _ := store.ExistingDates(ctx, "A", week)
	if len(dates) != 3 {
		t.Errorf("stored %d quotes, want exactly one per trading day (3)", len(dates))
	}
}

func TestEnsureQuotesNeverOverwritesExistingRow(t *testing.T) {
	store := testutil.NewQuoteStore().Put("A", "2026-01-02", "10.00")
	primary := testutil.NewMockFetcher("eodhd").
		WithClose("A", "2026-01-02", "99.00").
		WithClose("A", "2026-01-05", "10.50")
	svc := newTestService(store, &testutil.Recorder{}, primary)

	if _, err := svc.EnsureQuotes(context.Background(), []domain.AssetID{"A"}, week); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q, err := store.LatestOnOrBefore(context.Background(), "A", testutil.Day("2026-01-02"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Close.Equal(testutil.Dec("10.00")) || q.Source != "fixture" {
		t.Errorf("quote = %s from %s, want original 10.00 from fixture", q.Close, q.Source)
	}
}

func TestEnsureQuotesFallsBackInPriorityOrder(t *testing.T) {
	store := testutil.NewQuoteStore()
	broken := testutil.NewMockFetcher("yahoo").WithError(errors.New("HTTP 503"))
	fallback := testutil.NewMockFetcher("eodhd").WithClose("A", "2026-01-05", "10.50")
	svc := newTestService(store, &testutil.Recorder{}, broken, fallback)

	results, err := svc.EnsureQuotes(context.Background(), []domain.AssetID{"A"}, week)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q, err := store.LatestOnOrBefore(context.Background(), "A", testutil.Day("2026-01-05"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Source != "eodhd" {
		t.Errorf("source = %s, want eodhd", q.Source)
	}
	// 01-02 and 01-06 stay empty and are reported because a provider failed.
	if got := len(results[0].Failed); got != 2 {
		t.Errorf("failed dates = %d, want 2", got)
	}
}

func TestEnsureQuotesPartialFailureDoesNotAbortBatch(t *testing.T) {
	store := testutil.NewQuoteStore()
	yahoo := testutil.NewMockFetcher("yahoo").WithClose("A", "2026-01-05", "10.50")
	svc := newTestService(store, &testutil.Recorder{}, yahoo)

	results, err := svc.EnsureQuotes(context.Background(), []domain.AssetID{"A", "B"}, week)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if _, err := store.LatestOnOrBefore(context.Background(), "A", testutil.Day("2026-01-05")); err != nil {
		t.Errorf("asset A should be stored: %v", err)
	}
}

func TestLatestPriceCaching(t *testing.T) {
	store := testutil.NewQuoteStore()
	yahoo := testutil.NewMockFetcher("yahoo").WithClose("A", "2026-01-05", "10.50")
	svc := newTestService(store, &testutil.Recorder{}, yahoo)
	svc.now = func() time.Time { return time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC) }

	first, err := svc.LatestPrice(context.Background(), "A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Cached {
		t.Error("first lookup should not be cached")
	}
	if !first.Close.Equal(testutil.Dec("10.50")) || !first.Date.Equal(testutil.Day("2026-01-05")) {
		t.Errorf("latest = %s on %s, want 10.50 on 2026-01-05", first.Close, first.Date.Format(domain.DateLayout))
	}

	calls := yahoo.Calls
	second, err := svc.LatestPrice(context.Background(), "A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Cached {
		t.Error("second lookup should be served from cache")
	}
	if yahoo.Calls != calls {
		t.Errorf("cache hit made %d provider calls", yahoo.Calls-calls)
	}
}

func TestLatestPriceUnavailable(t *testing.T) {
	svc := newTestService(testutil.NewQuoteStore(), &testutil.Recorder{}, testutil.NewMockFetcher("yahoo"))

	_, err := svc.LatestPrice(context.Background(), "B")
	if !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Errorf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestEnsureQuotesRefreshesTodayButNotPastDays(t *testing.T) {
	store := testutil.NewQuoteStore()
	yahoo := testutil.NewMockFetcher("yahoo").
		WithClose("A", "2026-01-02", "10.00").
		WithClose("A", "2026-01-05", "10.20")
	svc := newTestService(store, &testutil.Recorder{}, yahoo)
	svc.now = func() time.Time { return time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	r := domain.NewDateRange(testutil.Day("2026-01-02"), testutil.Day("2026-01-05"))

	closeOn := func(date string) string {
		t.Helper()
		q, err := store.LatestOnOrBefore(ctx, "A", testutil.Day(date))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return q.Close.String()
	}

	if _, err := svc.EnsureQuotes(ctx, []domain.AssetID{"A"}, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := closeOn("2026-01-05"); got != "10.2" {
		t.Fatalf("morning close = %s, want 10.2", got)
	}

	// Later the same day the provider reports the final close; past days changed upstream too.
	yahoo.SetClose("A", "2026-01-05", "10.50")
	yahoo.SetClose("A", "2026-01-02", "99.00")
	results, err := svc.EnsureQuotes(ctx, []domain.AssetID{"A"}, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := closeOn("2026-01-05"); got != "10.5" {
		t.Errorf("evening close = %s, want the refreshed 10.5", got)
	}
	if got := closeOn("2026-01-02"); got != "10" {
		t.Errorf("past close = %s, want the final 10", got)
	}
	if len(results[0].Cached) != 1 || len(results[0].Fetched) != 1 {
		t.Errorf("result = %+v, want 01-02 cached and 01-05 fetched", results[0])
	}

	// Once the day is over its row is final.
	svc.now = func() time.Time { return time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC) }
	yahoo.SetClose("A", "2026-01-05", "11.00")
	if _, err := svc.EnsureQuotes(ctx, []domain.AssetID{"A"}, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := closeOn("2026-01-05"); got != "10.5" {
		t.Errorf("close after the day ended = %s, want 10.5", got)
	}
}

func TestEnsureQuotesFillsWeekendsForDailyMarkets(t *testing.T) {
	store := testutil.NewQuoteStore()
	yahoo := testutil.NewMockFetcher("yahoo").
		WithClose("BTC", "2026-01-02", "90000").
		WithClose("BTC", "2026-01-05", "93000")
	coingecko := testutil.NewMockFetcher("coingecko").WithWeekends().
		WithClose("BTC", "2026-01-03", "91000").
		WithClose("BTC", "2026-01-04", "92000")
	svc := newTestService(store, &testutil.Recorder{}, yahoo, coingecko)
	ctx := context.Background()
	r := domain.NewDateRange(testutil.Day("2026-01-02"), testutil.Day("2026-01-05"))

	results, err := svc.EnsureQuotes(ctx, []domain.AssetID{"BTC"}, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(results[0].Fetched); got != 4 {
		t.Errorf("fetched = %d, want every calendar day (4)", got)
	}

	q, err := store.LatestOnOrBefore(ctx, "BTC", testutil.Day("2026-01-04"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Date.Equal(testutil.Day("2026-01-04")) || q.Source != "coingecko" {
		t.Errorf("sunday quote = %s from %s, want 2026-01-04 from coingecko", q.Date.Format(domain.DateLayout), q.Source)
	}
}
