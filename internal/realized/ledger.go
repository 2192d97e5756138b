// Package realized aggregates realized gains and losses from closed trades.
package realized

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

// TradeReader lists the append-only closed-trade ledger.
type TradeReader interface {
	Accounts(ctx context.Context, userID string) ([]domain.Account, error)
	RealizedTrades(ctx context.Context, accountID string, r domain.DateRange) ([]domain.RealizedTrade, error)
}

// Converter converts an amount into the base currency on a date.
type Converter interface {
	Base() string
	ToBase(ctx context.Context, amount decimal.Decimal, native, base string, date time.Time) (decimal.Decimal, error)
}

// Ledger sums realized P&L in the base currency.
type Ledger struct {
	trades TradeReader
	conv   Converter
}

// NewLedger creates a realized P&L ledger.
func NewLedger(trades TradeReader, conv Converter) *Ledger {
	return &Ledger{trades: trades, conv: conv}
}

// ForAccount sums realized P&L for trades closed within r. Each trade is converted at
// its own closing date so amounts booked on a day are never restated later.
func (l *Ledger) ForAccount(ctx context.Context, accountID string, r domain.DateRange) (decimal.Decimal, error) {
	trades, err := l.trades.RealizedTrades(ctx, accountID, r)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reading realized trades for %s: %w", accountID, err)
	}

	total := decimal.Zero
	for _, t := range trades {
		amount, err := l.conv.ToBase(ctx, domain.RoundMoney(t.RealizedPnL), t.Currency, l.conv.Base(), t.ClosingDate)
		if err != nil {
			return decimal.Zero, fmt.Errorf("converting trade %s: %w", t.ID, err)
		}
		total = total.Add(amount)
	}
	return total, nil
}

// ForUser sums realized P&L across every account of the user.
func (l *Ledger) ForUser(ctx context.Context, userID string, r domain.DateRange) (decimal.Decimal, error) {
	accounts, err := l.trades.Accounts(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("listing accounts for %s: %w", userID, err)
	}

	total := decimal.Zero
	for _, a := range accounts {
		amount, err := l.ForAccount(ctx, a.ID, r)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amount)
	}
	return total, nil
}

// ToDate is the range from the beginning of the ledger through date.
func ToDate(date time.Time) domain.DateRange {
	return domain.DateRange{From: time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), To: domain.Day(date)}
}
