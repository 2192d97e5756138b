// Package provider fetches daily prices and exchange rates from external market-data APIs.
//
// Each provider is a small capability-typed fetcher. Callers hold an ordered list and try
// them in priority order; no provider-specific branching leaks into valuation code.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

// Point is one daily observation returned by a provider.
type Point struct {
	Date          time.Time
	Open          *decimal.Decimal
	High          *decimal.Decimal
	Low           *decimal.Decimal
	Close         decimal.Decimal
	AdjustedClose *decimal.Decimal
	Volume        *int64
}

// QuoteFetcher fetches daily closing prices for an asset.
type QuoteFetcher interface {
	Name() string
	FetchQuotes(ctx context.Context, asset domain.AssetID, r domain.DateRange) ([]Point, error)
}

// RateFetcher fetches daily exchange rates for a currency pair.
type RateFetcher interface {
	Name() string
	FetchRates(ctx context.Context, pair domain.CurrencyPair, r domain.DateRange) ([]Point, error)
}

// WeekendTrader is implemented by quote fetchers whose assets trade every calendar day.
// Weekend dates for such assets are gaps to fill instead of non-trading days.
type WeekendTrader interface {
	TradesWeekends(asset domain.AssetID) bool
}

// TradesWeekends reports whether any of fetchers trades asset on weekends.
func TradesWeekends(fetchers []QuoteFetcher, asset domain.AssetID) bool {
	for _, f := range fetchers {
		if w, ok := f.(WeekendTrader); ok && w.TradesWeekends(asset) {
			return true
		}
	}
	return false
}

// filterRange drops points outside r and normalizes dates to UTC days.
func filterRange(points []Point, r domain.DateRange) []Point {
	out := points[:0]
	for _, p := range points {
		p.Date = domain.Day(p.Date)
		if r.Contains(p.Date) && p.Close.IsPositive() {
			out = append(out, p)
		}
	}
	return out
}

func decimalPtrFromFloat(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := domain.RoundPrice(decimal.NewFromFloat(*f))
	return &d
}
