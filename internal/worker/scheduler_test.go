package worker

import (
	"context"
	"testing"
	"time"

	"github.com/mtlprog/quota/internal/domain"
)

func TestNewSchedulerRejectsInvalidSpec(t *testing.T) {
	jobs := NewJobs(&mockHoldings{}, &mockQuotes{}, &mockRates{}, &mockGenerator{}, &mockLedger{}, "BRL", true)
	_, err := NewScheduler(jobs, Schedules{Quotes: "not a cron", FX: "@daily", Snapshots: "@daily"}, 7)
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSchedulerRunsOnStartAndShutsDown(t *testing.T) {
	holdings := &mockHoldings{users: []string{"u1"}, assets: []domain.AssetID{"A"}, currencies: []string{"USD"}}
	quotes := &mockQuotes{}
	rates := &mockRates{}
	gen := &mockGenerator{}
	jobs := NewJobs(holdings, quotes, rates, gen, &mockLedger{}, "BRL", true)

	s, err := NewScheduler(jobs, Schedules{Quotes: "@hourly", FX: "@daily", Snapshots: "@daily"}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.now = func() time.Time { return today.Add(10 * time.Hour) }

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not shut down")
	}

	if quotes.calls != 1 || rates.calls != 1 || len(gen.keys) != 1 {
		t.Errorf("calls = quotes %d, fx %d, snapshots %d; want 1 each", quotes.calls, rates.calls, len(gen.keys))
	}
	if !quotes.r.From.Equal(domain.MustDate("2026-01-04")) || !quotes.r.To.Equal(today) {
		t.Errorf("quote window = %v..%v", quotes.r.From, quotes.r.To)
	}
}
