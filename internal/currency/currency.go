// Package currency converts native-currency amounts into the portfolio base currency.
package currency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

// RateSource answers point-in-time exchange rate lookups.
type RateSource interface {
	RateOnOrBefore(ctx context.Context, pair domain.CurrencyPair, date time.Time) (domain.ExchangeRate, error)
}

// Consolidator converts amounts to a base currency using the latest rate on or before a date.
type Consolidator struct {
	rates RateSource
	base  string
}

// NewConsolidator creates a Consolidator for base.
func NewConsolidator(rates RateSource, base string) *Consolidator {
	return &Consolidator{rates: rates, base: strings.ToUpper(base)}
}

// Base returns the portfolio base currency.
func (c *Consolidator) Base() string {
	return c.base
}

// Validate checks that code is a known ISO 4217 currency.
func Validate(code string) error {
	if money.GetCurrency(strings.ToUpper(code)) == nil {
		return fmt.Errorf("%q: %w", code, domain.ErrInvalidCurrency)
	}
	return nil
}

// Rate returns the multiplier from native to base on date. Same-currency conversion is 1
// without a lookup.
func (c *Consolidator) Rate(ctx context.Context, native string, date time.Time) (decimal.Decimal, error) {
	native = strings.ToUpper(native)
	if native == c.base {
		return decimal.NewFromInt(1), nil
	}
	if err := Validate(native); err != nil {
		return decimal.Zero, err
	}
	rate, err := c.rates.RateOnOrBefore(ctx, domain.NewCurrencyPair(native, c.base), date)
	if err != nil {
		return decimal.Zero, err
	}
	return rate.Rate, nil
}

// ToBase converts amount from native into base on date. When native equals base the
// amount is returned unchanged.
func (c *Consolidator) ToBase(ctx context.Context, amount decimal.Decimal, native, base string, date time.Time) (decimal.Decimal, error) {
	if strings.EqualFold(native, base) {
		return amount, nil
	}
	conv := c
	if !strings.EqualFold(base, c.base) {
		conv = NewConsolidator(c.rates, base)
	}
	rate, err := conv.Rate(ctx, native, date)
	if err != nil {
		return decimal.Zero, err
	}
	return Apply(amount, rate), nil
}

// Convert converts several amounts from native into the consolidator's base with a single
// rate lookup, so every component of one valuation uses the same rate.
func (c *Consolidator) Convert(ctx context.Context, native string, date time.Time, amounts ...decimal.Decimal) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(amounts))
	if strings.EqualFold(native, c.base) {
		copy(out, amounts)
		return out, nil
	}
	rate, err := c.Rate(ctx, native, date)
	if err != nil {
		return nil, err
	}
	for i, a := range amounts {
		out[i] = Apply(a, rate)
	}
	return out, nil
}

// Apply multiplies amount by rate and rounds to money precision.
func Apply(amount, rate decimal.Decimal) decimal.Decimal {
	return domain.RoundMoney(amount.Mul(rate))
}
