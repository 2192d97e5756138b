package realized

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

type mockTrades struct {
	accounts []domain.Account
	trades   []domain.RealizedTrade
}

func (m *mockTrades) Accounts(context.Context, string) ([]domain.Account, error) {
	return m.accounts, nil
}

func (m *mockTrades) RealizedTrades(_ context.Context, accountID string, r domain.DateRange) ([]domain.RealizedTrade, error) {
	var out []domain.RealizedTrade
	for _, t := range m.trades {
		if t.AccountID == accountID && r.Contains(t.ClosingDate) {
			out = append(out, t)
		}
	}
	return out, nil
}

// mockConverter has a USD/BRL rate per day and no GBP rates.
type mockConverter struct {
	rates map[string]decimal.Decimal
}

func (m *mockConverter) Base() string { return "BRL" }

func (m *mockConverter) ToBase(_ context.Context, amount decimal.Decimal, native, base string, date time.Time) (decimal.Decimal, error) {
	if native == base {
		return amount, nil
	}
	rate, ok := m.rates[date.Format(domain.DateLayout)]
	if !ok || native != "USD" {
		return decimal.Zero, &domain.NoRateError{Pair: domain.NewCurrencyPair(native, base), Date: date}
	}
	return domain.RoundMoney(amount.Mul(rate)), nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fixture() (*mockTrades, *mockConverter) {
	trades := &mockTrades{
		accounts: []domain.Account{{ID: "acc-1"}, {ID: "acc-2"}},
		trades: []domain.RealizedTrade{
			{ID: "t1", AccountID: "acc-1", ClosingDate: domain.MustDate("2026-01-02"), RealizedPnL: dec("100"), Currency: "USD"},
			{ID: "t2", AccountID: "acc-1", ClosingDate: domain.MustDate("2026-01-06"), RealizedPnL: dec("-40"), Currency: "USD"},
			{ID: "t3", AccountID: "acc-2", ClosingDate: domain.MustDate("2026-01-05"), RealizedPnL: dec("250.5"), Currency: "BRL"},
		},
	}
	conv := &mockConverter{rates: map[string]decimal.Decimal{
		"2026-01-02": dec("5.00"),
		"2026-01-06": dec("5.50"),
	}}
	return trades, conv
}

func TestForAccountConvertsAtClosingDate(t *testing.T) {
	trades, conv := fixture()
	l := NewLedger(trades, conv)

	got, err := l.ForAccount(context.Background(), "acc-1", ToDate(domain.MustDate("2026-01-31")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 100*5.00 + (-40)*5.50
	if !got.Equal(dec("280")) {
		t.Errorf("realized = %s, want 280", got)
	}
}

func TestForAccountRangeIsInclusive(t *testing.T) {
	trades, conv := fixture()
	l := NewLedger(trades, conv)

	got, err := l.ForAccount(context.Background(), "acc-1", domain.NewDateRange(domain.MustDate("2026-01-02"), domain.MustDate("2026-01-05")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(dec("500")) {
		t.Errorf("realized = %s, want 500", got)
	}
}

func TestForUserSumsAccounts(t *testing.T) {
	trades, conv := fixture()
	l := NewLedger(trades, conv)

	got, err := l.ForUser(context.Background(), "user-1", ToDate(domain.MustDate("2026-01-31")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(dec("530.5")) {
		t.Errorf("realized = %s, want 530.5", got)
	}
}

func TestForAccountMissingRate(t *testing.T) {
	trades, conv := fixture()
	trades.trades = append(trades.trades, domain.RealizedTrade{
		ID: "t4", AccountID: "acc-1", ClosingDate: domain.MustDate("2026-01-07"), RealizedPnL: dec("1"), Currency: "GBP",
	})
	l := NewLedger(trades, conv)

	_, err := l.ForAccount(context.Background(), "acc-1", ToDate(domain.MustDate("2026-01-31")))
	if !errors.Is(err, domain.ErrNoRateAvailable) {
		t.Errorf("err = %v, want ErrNoRateAvailable", err)
	}
}
