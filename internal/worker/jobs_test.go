package worker

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/fundshare"
	"github.com/mtlprog/quota/internal/snapshot"
)

type mockHoldings struct {
	users      []string
	assets     []domain.AssetID
	currencies []string
	heldOn     time.Time
}

func (m *mockHoldings) Users(context.Context) ([]string, error) { return m.users, nil }

func (m *mockHoldings) HeldAssets(_ context.Context, date time.Time) ([]domain.AssetID, error) {
	m.heldOn = date
	return m.assets, nil
}

func (m *mockHoldings) Currencies(context.Context) ([]string, error) { return m.currencies, nil }

type mockQuotes struct {
	mu     sync.Mutex
	calls  int
	assets []domain.AssetID
	r      domain.DateRange
}

func (m *mockQuotes) EnsureQuotes(_ context.Context, assets []domain.AssetID, r domain.DateRange) ([]domain.IngestionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.assets, m.r = assets, r
	results := make([]domain.IngestionResult, len(assets))
	for i, a := range assets {
		results[i] = domain.IngestionResult{Key: string(a), Fetched: r.Days()}
	}
	return results, nil
}

type mockRates struct {
	mu    sync.Mutex
	calls int
	pairs []domain.CurrencyPair
}

func (m *mockRates) Sync(_ context.Context, pairs []domain.CurrencyPair, r domain.DateRange) ([]domain.IngestionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.pairs = pairs
	return []domain.IngestionResult{{Key: "x", Failed: []time.Time{r.To}}}, nil
}

type mockGenerator struct {
	mu    sync.Mutex
	keys  []domain.SnapshotKey
	failU string
}

func (m *mockGenerator) Generate(_ context.Context, key domain.SnapshotKey) (snapshot.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	if key.UserID == m.failU {
		return snapshot.Result{}, domain.ErrDegradedSnapshot
	}
	return snapshot.Result{}, nil
}

type mockLedger struct {
	users []string
	err   error
}

func (m *mockLedger) Recompute(_ context.Context, userID string, _ time.Time, _ bool) (fundshare.Outcome, error) {
	m.users = append(m.users, userID)
	return fundshare.Outcome{}, m.err
}

var today = domain.MustDate("2026-01-07")

func TestWindow(t *testing.T) {
	r := Window(today.Add(15*time.Hour), 7)
	if !r.From.Equal(domain.MustDate("2025-12-31")) || !r.To.Equal(today) {
		t.Errorf("window = %v..%v, want 2025-12-31..2026-01-07", r.From, r.To)
	}
}

func TestSyncQuotesCoversHeldAssets(t *testing.T) {
	holdings := &mockHoldings{assets: []domain.AssetID{"A", "B"}}
	quotes := &mockQuotes{}
	jobs := NewJobs(holdings, quotes, &mockRates{}, &mockGenerator{}, &mockLedger{}, "BRL", true)

	r := domain.NewDateRange(domain.MustDate("2026-01-05"), today)
	s, err := jobs.SyncQuotes(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !holdings.heldOn.Equal(today) {
		t.Errorf("held assets read on %v, want %v", holdings.heldOn, today)
	}
	if !slices.Equal(quotes.assets, []domain.AssetID{"A", "B"}) {
		t.Errorf("assets = %v", quotes.assets)
	}
	if s.Keys != 2 || s.Fetched != 6 || s.Failed != 0 {
		t.Errorf("summary = %+v, want 2 keys and 6 fetched", s)
	}
}

func TestSyncFXSkipsBaseCurrency(t *testing.T) {
	holdings := &mockHoldings{currencies: []string{"BRL", "EUR", "USD"}}
	rates := &mockRates{}
	jobs := NewJobs(holdings, &mockQuotes{}, rates, &mockGenerator{}, &mockLedger{}, "BRL", true)

	s, err := jobs.SyncFX(context.Background(), Window(today, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []domain.CurrencyPair{{From: "EUR", To: "BRL"}, {From: "USD", To: "BRL"}}
	if !slices.Equal(rates.pairs, want) {
		t.Errorf("pairs = %v, want %v", rates.pairs, want)
	}
	if s.Failed != 1 {
		t.Errorf("failed = %d, want 1", s.Failed)
	}
}

func TestGenerateSnapshotsContinuesAfterUserFailure(t *testing.T) {
	holdings := &mockHoldings{users: []string{"u1", "u2", "u3"}}
	gen := &mockGenerator{failU: "u2"}
	jobs := NewJobs(holdings, &mockQuotes{}, &mockRates{}, gen, &mockLedger{}, "BRL", true)

	err := jobs.GenerateSnapshots(context.Background(), today)
	if !errors.Is(err, domain.ErrDegradedSnapshot) {
		t.Errorf("error = %v, want ErrDegradedSnapshot", err)
	}
	if len(gen.keys) != 3 {
		t.Fatalf("generated %d users, want 3", len(gen.keys))
	}
	for _, k := range gen.keys {
		if k.AccountID != "" || !k.Date.Equal(today) {
			t.Errorf("key = %v, want consolidated key for %v", k, today)
		}
	}
}

func TestGenerateSnapshotsForGivenUsers(t *testing.T) {
	gen := &mockGenerator{}
	jobs := NewJobs(&mockHoldings{users: []string{"u1", "u2"}}, &mockQuotes{}, &mockRates{}, gen, &mockLedger{}, "BRL", true)

	if err := jobs.GenerateSnapshots(context.Background(), today, "u2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gen.keys) != 1 || gen.keys[0].UserID != "u2" {
		t.Errorf("keys = %v, want only u2", gen.keys)
	}
}

func TestCalculateNAVReportsLedgerErrors(t *testing.T) {
	stale := &domain.StaleDownstreamError{UserID: "u1", From: today}
	ledger := &mockLedger{err: stale}
	jobs := NewJobs(&mockHoldings{users: []string{"u1", "u2"}}, &mockQuotes{}, &mockRates{}, &mockGenerator{}, ledger, "BRL", false)

	err := jobs.CalculateNAV(context.Background(), today)
	if !errors.Is(err, domain.ErrStaleDownstreamSnapshots) {
		t.Errorf("error = %v, want ErrStaleDownstreamSnapshots", err)
	}
	if !slices.Equal(ledger.users, []string{"u1", "u2"}) {
		t.Errorf("users = %v, want both users attempted", ledger.users)
	}
}
