package valuation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

type mockPrices struct {
	quotes map[domain.AssetID][]domain.Quote // ascending by date
	err    error
}

func (m *mockPrices) LatestOnOrBefore(_ context.Context, asset domain.AssetID, date time.Time) (domain.Quote, error) {
	if m.err != nil {
		return domain.Quote{}, m.err
	}
	qs := m.quotes[asset]
	for i := len(qs) - 1; i >= 0; i-- {
		if !qs[i].Date.After(date) {
			return qs[i], nil
		}
	}
	return domain.Quote{}, &domain.PriceUnavailableError{AssetID: asset, Date: date}
}

type mockHoldings struct {
	positions []domain.Position
	fixed     []domain.FixedIncomePosition
}

func (m *mockHoldings) Positions(context.Context, string, time.Time) ([]domain.Position, error) {
	return m.positions, nil
}

func (m *mockHoldings) FixedIncome(context.Context, string, time.Time) ([]domain.FixedIncomePosition, error) {
	return m.fixed, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func weekendPrices() *mockPrices {
	return &mockPrices{quotes: map[domain.AssetID][]domain.Quote{
		"A": {
			{AssetID: "A", Date: domain.MustDate("2026-01-02"), Close: dec("10.00"), Source: "yahoo"},
			{AssetID: "A", Date: domain.MustDate("2026-01-05"), Close: dec("10.50"), Source: "yahoo"},
		},
	}}
}

func TestValuePositionsUsesLatestQuoteOnOrBefore(t *testing.T) {
	holdings := &mockHoldings{positions: []domain.Position{
		{AccountID: "acc-1", AssetID: "A", Quantity: dec("100"), CostBasis: dec("900"), Currency: "USD"},
	}}
	v := NewValuer(weekendPrices(), holdings, Accrual{Convention: domain.AccrualCompound, DayBasis: 365})

	res, err := v.ValuePositions(context.Background(), "acc-1", domain.MustDate("2026-01-04"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Positions) != 1 || len(res.Failures) != 0 {
		t.Fatalf("positions=%d failures=%d, want 1/0", len(res.Positions), len(res.Failures))
	}

	p := res.Positions[0]
	if !p.MarketValue.Equal(dec("1000.00")) {
		t.Errorf("market value = %s, want 1000.00", p.MarketValue)
	}
	if !p.PriceDate.Equal(domain.MustDate("2026-01-02")) {
		t.Errorf("price date = %s, want 2026-01-02", p.PriceDate.Format(domain.DateLayout))
	}
	if !p.UnrealizedPnL.Equal(dec("100")) {
		t.Errorf("unrealized = %s, want 100", p.UnrealizedPnL)
	}
	if p.Currency != "USD" {
		t.Errorf("currency = %s, want native USD", p.Currency)
	}
}

func TestValuePositionsMissingPriceFailsOnlyThatPosition(t *testing.T) {
	holdings := &mockHoldings{
		positions: []domain.Position{
			{AccountID: "acc-1", AssetID: "A", Quantity: dec("10"), CostBasis: dec("90"), Currency: "USD"},
			{AccountID: "acc-1", AssetID: "B", Quantity: dec("5"), CostBasis: dec("50"), Currency: "USD"},
		},
		fixed: []domain.FixedIncomePosition{
			{AccountID: "acc-1", InstrumentID: "CDB-1", Principal: dec("1000"), Rate: dec("0.10"),
				Convention: domain.AccrualLinear, DayBasis: 365, LastAccrualDate: domain.MustDate("2026-01-01"),
				CostBasis: dec("1000"), Currency: "BRL"},
		},
	}
	v := NewValuer(weekendPrices(), holdings, Accrual{Convention: domain.AccrualCompound, DayBasis: 365})

	res, err := v.ValuePositions(context.Background(), "acc-1", domain.MustDate("2026-01-05"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Positions) != 2 {
		t.Fatalf("valued %d positions, want 2 (A and CDB-1)", len(res.Positions))
	}
	if len(res.Failures) != 1 || res.Failures[0].Item != "B" {
		t.Fatalf("failures = %+v, want B", res.Failures)
	}
	if !errors.Is(res.Failures[0].Err, domain.ErrPriceUnavailable) {
		t.Errorf("failure err = %v, want ErrPriceUnavailable", res.Failures[0].Err)
	}

	fixed := res.Positions[1]
	if fixed.Kind != KindFixedIncome || !fixed.MarketValue.Equal(dec("1001.0959")) {
		t.Errorf("fixed income = %s %s, want fixed_income 1001.0959", fixed.Kind, fixed.MarketValue)
	}
}

func TestValuePositionsStoreErrorIsReturned(t *testing.T) {
	holdings := &mockHoldings{positions: []domain.Position{
		{AccountID: "acc-1", AssetID: "A", Quantity: dec("1"), Currency: "USD"},
	}}
	prices := &mockPrices{err: errors.New("connection refused")}
	v := NewValuer(prices, holdings, Accrual{Convention: domain.AccrualCompound, DayBasis: 365})

	if _, err := v.ValuePositions(context.Background(), "acc-1", domain.MustDate("2026-01-05")); err == nil {
		t.Error("expected store error to be returned")
	}
}
