package testutil

import (
	"context"
	"sync"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/provider"
)

// MockFetcher is a provider returning canned points per key ("AAPL", "USD/BRL").
// It implements both provider.QuoteFetcher and provider.RateFetcher.
type MockFetcher struct {
	name     string
	mu       sync.Mutex
	points   map[string][]provider.Point
	err      error
	weekends bool
	Calls    int
}

// NewMockFetcher creates a named mock provider with no data.
func NewMockFetcher(name string) *MockFetcher {
	return &MockFetcher{name: name, points: make(map[string][]provider.Point)}
}

// WithClose adds a close for key on date.
func (m *MockFetcher) WithClose(key, date, close string) *MockFetcher {
	m.points[key] = append(m.points[key], provider.Point{Date: Day(date), Close: Dec(close)})
	return m
}

// SetClose replaces the close for key on date, as a provider does while a day is still trading.
func (m *MockFetcher) SetClose(key, date, close string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.points[key] {
		if p.Date.Equal(Day(date)) {
			m.points[key][i].Close = Dec(close)
			return
		}
	}
	m.points[key] = append(m.points[key], provider.Point{Date: Day(date), Close: Dec(close)})
}

// WithWeekends marks every asset of the mock as trading on weekends.
func (m *MockFetcher) WithWeekends() *MockFetcher {
	m.weekends = true
	return m
}

// WithError makes every fetch fail with a provider error wrapping err.
func (m *MockFetcher) WithError(err error) *MockFetcher {
	m.err = err
	return m
}

func (m *MockFetcher) Name() string { return m.name }

func (m *MockFetcher) TradesWeekends(domain.AssetID) bool { return m.weekends }

func (m *MockFetcher) FetchQuotes(_ context.Context, asset domain.AssetID, r domain.DateRange) ([]provider.Point, error) {
	return m.fetch(string(asset), r)
}

func (m *MockFetcher) FetchRates(_ context.Context, pair domain.CurrencyPair, r domain.DateRange) ([]provider.Point, error) {
	return m.fetch(pair.String(), r)
}

func (m *MockFetcher) fetch(key string, r domain.DateRange) ([]provider.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.err != nil {
		return nil, &domain.ProviderError{Provider: m.name, Key: key, Err: m.err}
	}
	var out []provider.Point
	for _, p := range m.points[key] {
		if r.Contains(p.Date) {
			out = append(out, p)
		}
	}
	return out, nil
}
