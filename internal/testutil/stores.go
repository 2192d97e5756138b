// Package testutil provides in-memory implementations of the store interfaces and
// fixture helpers for tests.
package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

// Dec parses a decimal literal and panics on failure.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Day parses a YYYY-MM-DD date and panics on failure.
func Day(s string) time.Time {
	return domain.MustDate(s)
}

// QuoteStore is an in-memory Quote Store.
type QuoteStore struct {
	mu     sync.Mutex
	quotes map[domain.AssetID]map[time.Time]domain.Quote
	Saves  int
}

// NewQuoteStore creates an empty QuoteStore.
func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: make(map[domain.AssetID]map[time.Time]domain.Quote)}
}

// Put stores or replaces a close price directly, bypassing ingestion.
func (s *QuoteStore) Put(asset domain.AssetID, date, close string) *QuoteStore {
	_ = s.SaveQuotes(context.Background(), []domain.Quote{{AssetID: asset, Date: Day(date), Close: Dec(close), Source: "fixture"}}, time.Time{})
	return s
}

func (s *QuoteStore) SaveQuotes(_ context.Context, quotes []domain.Quote, openFrom time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range quotes {
		byDate, ok := s.quotes[q.AssetID]
		if !ok {
			byDate = make(map[time.Time]domain.Quote)
			s.quotes[q.AssetID] = byDate
		}
		d := domain.Day(q.Date)
		if _, exists := byDate[d]; exists && d.Before(domain.Day(openFrom)) {
			continue
		}
		q.Date = d
		byDate[d] = q
		s.Saves++
	}
	return nil
}

func (s *QuoteStore) ExistingDates(_ context.Context, asset domain.AssetID, r domain.DateRange) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dates []time.Time
	for d := range s.quotes[asset] {
		if r.Contains(d) {
			dates = append(dates, d)
		}
	}
	slices.SortFunc(dates, time.Time.Compare)
	return dates, nil
}

func (s *QuoteStore) LatestOnOrBefore(_ context.Context, asset domain.AssetID, date time.Time) (domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.Quote
	for d, q := range s.quotes[asset] {
		if d.After(domain.Day(date)) {
			continue
		}
		if best == nil || d.After(best.Date) {
			best = &q
		}
	}
	if best == nil {
		return domain.Quote{}, &domain.PriceUnavailableError{AssetID: asset, Date: domain.Day(date)}
	}
	return *best, nil
}

func (s *QuoteStore) List(_ context.Context, asset domain.AssetID, r domain.DateRange) ([]domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Quote
	for d, q := range s.quotes[asset] {
		if r.Contains(d) {
			out = append(out, q)
		}
	}
	slices.SortFunc(out, func(a, b domain.Quote) int { return a.Date.Compare(b.Date) })
	return out, nil
}

// RateStore is an in-memory Exchange Rate Store.
type RateStore struct {
	mu    sync.Mutex
	rates map[domain.CurrencyPair]map[time.Time]domain.ExchangeRate
}

// NewRateStore creates an empty RateStore.
func NewRateStore() *RateStore {
	return &RateStore{rates: make(map[domain.CurrencyPair]map[time.Time]domain.ExchangeRate)}
}

// Put stores or replaces a rate directly, bypassing ingestion.
func (s *RateStore) Put(from, to, date, rate string) *RateStore {
	_ = s.SaveRates(context.Background(), []domain.ExchangeRate{{
		Pair: domain.NewCurrencyPair(from, to), Date: Day(date), Rate: Dec(rate), Source: "fixture",
	}}, time.Time{})
	return s
}

func (s *RateStore) SaveRates(_ context.Context, rates []domain.ExchangeRate, openFrom time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rates {
		byDate, ok := s.rates[r.Pair]
		if !ok {
			byDate = make(map[time.Time]domain.ExchangeRate)
			s.rates[r.Pair] = byDate
		}
		d := domain.Day(r.Date)
		if _, exists := byDate[d]; exists && d.Before(domain.Day(openFrom)) {
			continue
		}
		r.Date = d
		byDate[d] = r
	}
	return nil
}

func (s *RateStore) ExistingDates(_ context.Context, pair domain.CurrencyPair, r domain.DateRange) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dates []time.Time
	for d := range s.rates[pair] {
		if r.Contains(d) {
			dates = append(dates, d)
		}
	}
	slices.SortFunc(dates, time.Time.Compare)
	return dates, nil
}

func (s *RateStore) LatestOnOrBefore(_ context.Context, pair domain.CurrencyPair, date time.Time) (domain.ExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.ExchangeRate
	for d, r := range s.rates[pair] {
		if d.After(domain.Day(date)) {
			continue
		}
		if best == nil || d.After(best.Date) {
			best = &r
		}
	}
	if best == nil {
		return domain.ExchangeRate{}, &domain.NoRateError{Pair: pair, Date: domain.Day(date)}
	}
	return *best, nil
}

// Recorder collects ingestion results in memory.
type Recorder struct {
	mu      sync.Mutex
	Results []domain.IngestionResult
}

func (r *Recorder) Record(_ context.Context, res domain.IngestionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Results = append(r.Results, res)
	return nil
}

// SnapshotStore is an in-memory snapshot repository.
type SnapshotStore struct {
	mu     sync.Mutex
	rows   map[string]domain.PortfolioSnapshot
	Writes int
}

// NewSnapshotStore creates an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{rows: make(map[string]domain.PortfolioSnapshot)}
}

func (s *SnapshotStore) Upsert(_ context.Context, snap domain.PortfolioSnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snap.Key().String()
	prev, ok := s.rows[key]
	s.rows[key] = snap
	s.Writes++
	return !ok || prev.ContentHash() != snap.ContentHash(), nil
}

// Put stores a snapshot directly.
func (s *SnapshotStore) Put(snap domain.PortfolioSnapshot) *SnapshotStore {
	_, _ = s.Upsert(context.Background(), snap)
	return s
}

// Delete removes a snapshot row.
func (s *SnapshotStore) Delete(key domain.SnapshotKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key.String())
}

func (s *SnapshotStore) Get(_ context.Context, key domain.SnapshotKey) (domain.PortfolioSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.rows[key.String()]
	if !ok {
		return domain.PortfolioSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (s *SnapshotStore) ListByDate(_ context.Context, userID string, date time.Time) ([]domain.PortfolioSnapshot, error) {
	return s.filter(func(snap domain.PortfolioSnapshot) bool {
		return snap.UserID == userID && snap.Date.Equal(domain.Day(date))
	}), nil
}

func (s *SnapshotStore) ConsolidatedFrom(_ context.Context, userID string, from time.Time) ([]domain.PortfolioSnapshot, error) {
	return s.filter(func(snap domain.PortfolioSnapshot) bool {
		return snap.UserID == userID && snap.Consolidated() && !snap.Date.Before(domain.Day(from))
	}), nil
}

func (s *SnapshotStore) ListConsolidated(_ context.Context, userID string, r domain.DateRange) ([]domain.PortfolioSnapshot, error) {
	return s.filter(func(snap domain.PortfolioSnapshot) bool {
		return snap.UserID == userID && snap.Consolidated() && r.Contains(snap.Date)
	}), nil
}

func (s *SnapshotStore) filter(keep func(domain.PortfolioSnapshot) bool) []domain.PortfolioSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PortfolioSnapshot
	for _, snap := range s.rows {
		if keep(snap) {
			out = append(out, snap)
		}
	}
	slices.SortFunc(out, func(a, b domain.PortfolioSnapshot) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if a.AccountID < b.AccountID {
			return -1
		}
		if a.AccountID > b.AccountID {
			return 1
		}
		return 0
	})
	return out
}

// FundShareStore is an in-memory quota ledger repository.
type FundShareStore struct {
	mu   sync.Mutex
	rows map[string]map[time.Time]domain.FundShare
}

// NewFundShareStore creates an empty FundShareStore.
func NewFundShareStore() *FundShareStore {
	return &FundShareStore{rows: make(map[string]map[time.Time]domain.FundShare)}
}

func (s *FundShareStore) LatestBefore(_ context.Context, userID string, date time.Time) (domain.FundShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.FundShare
	for d, fs := range s.rows[userID] {
		if !d.Before(domain.Day(date)) {
			continue
		}
		if best == nil || d.After(best.Date) {
			best = &fs
		}
	}
	if best == nil {
		return domain.FundShare{}, domain.ErrNotFound
	}
	return *best, nil
}

func (s *FundShareStore) Get(_ context.Context, userID string, date time.Time) (domain.FundShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.rows[userID][domain.Day(date)]
	if !ok {
		return domain.FundShare{}, domain.ErrNotFound
	}
	return fs, nil
}

func (s *FundShareStore) DatesFrom(_ context.Context, userID string, from time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dates []time.Time
	for d := range s.rows[userID] {
		if !d.Before(domain.Day(from)) {
			dates = append(dates, d)
		}
	}
	slices.SortFunc(dates, time.Time.Compare)
	return dates, nil
}

func (s *FundShareStore) List(_ context.Context, userID string, r domain.DateRange) ([]domain.FundShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FundShare
	for d, fs := range s.rows[userID] {
		if r.Contains(d) {
			out = append(out, fs)
		}
	}
	slices.SortFunc(out, func(a, b domain.FundShare) int { return a.Date.Compare(b.Date) })
	return out, nil
}

func (s *FundShareStore) Replace(_ context.Context, userID string, r domain.DateRange, rows []domain.FundShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDate, ok := s.rows[userID]
	if !ok {
		byDate = make(map[time.Time]domain.FundShare)
		s.rows[userID] = byDate
	}
	for d := range byDate {
		if r.Contains(d) {
			delete(byDate, d)
		}
	}
	for _, fs := range rows {
		byDate[domain.Day(fs.Date)] = fs
	}
	return nil
}
