// Package valuation values an account's open positions in their native currencies.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

// PriceSource answers "latest quote on or before" lookups.
type PriceSource interface {
	LatestOnOrBefore(ctx context.Context, asset domain.AssetID, date time.Time) (domain.Quote, error)
}

// HoldingsReader supplies read-only holdings as of a date.
type HoldingsReader interface {
	Positions(ctx context.Context, accountID string, date time.Time) ([]domain.Position, error)
	FixedIncome(ctx context.Context, accountID string, date time.Time) ([]domain.FixedIncomePosition, error)
}

// Kind distinguishes quote-priced from accrual-valued positions.
type Kind string

const (
	KindQuote       Kind = "quote"
	KindFixedIncome Kind = "fixed_income"
)

// ValuedPosition is one position marked to market in its native currency.
type ValuedPosition struct {
	AccountID     string          `json:"accountId"`
	Item          string          `json:"item"`
	Kind          Kind            `json:"kind"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	PriceDate     time.Time       `json:"priceDate"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	CostBasis     decimal.Decimal `json:"costBasis"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	Currency      string          `json:"currency"`
}

// Failure records a position that could not be valued.
type Failure struct {
	Item string
	Err  error
}

// Result holds every position that was valued plus those that were not.
type Result struct {
	Positions []ValuedPosition
	Failures  []Failure
}

// Valuer values positions using the Quote Store and fixed-income accrual.
type Valuer struct {
	prices   PriceSource
	holdings HoldingsReader
	accrual  Accrual
}

// NewValuer creates a Valuer. accrual is the fallback for instruments without their own convention.
func NewValuer(prices PriceSource, holdings HoldingsReader, accrual Accrual) *Valuer {
	return &Valuer{prices: prices, holdings: holdings, accrual: accrual}
}

// ValuePositions values every open position on the account as of date.
// A missing price fails only that position and is reported in Result.Failures;
// errors reading holdings or the store are returned.
func (v *Valuer) ValuePositions(ctx context.Context, accountID string, date time.Time) (Result, error) {
	date = domain.Day(date)
	var res Result

	positions, err := v.holdings.Positions(ctx, accountID, date)
	if err != nil {
		return Result{}, fmt.Errorf("reading positions for %s: %w", accountID, err)
	}
	for _, p := range positions {
		q, err := v.prices.LatestOnOrBefore(ctx, p.AssetID, date)
		if err != nil {
			if errors.Is(err, domain.ErrPriceUnavailable) {
				res.Failures = append(res.Failures, Failure{Item: string(p.AssetID), Err: err})
				continue
			}
			return Result{}, fmt.Errorf("pricing %s: %w", p.AssetID, err)
		}
		res.Positions = append(res.Positions, valueQuoted(p, q))
	}

	fixed, err := v.holdings.FixedIncome(ctx, accountID, date)
	if err != nil {
		return Result{}, fmt.Errorf("reading fixed income for %s: %w", accountID, err)
	}
	for _, p := range fixed {
		mv, err := v.accrual.Accrue(p, date)
		if err != nil {
			res.Failures = append(res.Failures, Failure{Item: p.InstrumentID, Err: err})
			continue
		}
		res.Positions = append(res.Positions, ValuedPosition{
			AccountID:     accountID,
			Item:          p.InstrumentID,
			Kind:          KindFixedIncome,
			Quantity:      p.Principal,
			PriceDate:     date,
			MarketValue:   mv,
			CostBasis:     domain.RoundMoney(p.CostBasis),
			UnrealizedPnL: mv.Sub(domain.RoundMoney(p.CostBasis)),
			Currency:      p.Currency,
		})
	}

	return res, nil
}

func valueQuoted(p domain.Position, q domain.Quote) ValuedPosition {
	mv := domain.RoundMoney(p.Quantity.Mul(q.Close))
	cost := domain.RoundMoney(p.CostBasis)
	return ValuedPosition{
		AccountID:     p.AccountID,
		Item:          string(p.AssetID),
		Kind:          KindQuote,
		Quantity:      p.Quantity,
		Price:         q.Close,
		PriceDate:     q.Date,
		MarketValue:   mv,
		CostBasis:     cost,
		UnrealizedPnL: mv.Sub(cost),
		Currency:      p.Currency,
	}
}
