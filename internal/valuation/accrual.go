package valuation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

// expPrecision is the working precision for the compound-growth exponential.
const expPrecision = 20

// Accrual is the fallback convention for instruments that do not carry their own.
type Accrual struct {
	Convention domain.AccrualConvention
	DayBasis   int
}

// resolve picks the instrument's own convention and basis, falling back to a.
func (a Accrual) resolve(p domain.FixedIncomePosition) (domain.AccrualConvention, int, error) {
	convention := p.Convention
	if convention == "" {
		convention = a.Convention
	}
	if !convention.Valid() {
		return "", 0, fmt.Errorf("instrument %s: unknown accrual convention %q", p.InstrumentID, convention)
	}
	basis := p.DayBasis
	if basis <= 0 {
		basis = a.DayBasis
	}
	if basis <= 0 {
		return "", 0, fmt.Errorf("instrument %s: day basis must be positive", p.InstrumentID)
	}
	return convention, basis, nil
}

// Accrue projects the principal from its last accrual date to date:
//
//	linear:   P * (1 + r*d/B)
//	compound: P * (1 + r)^(d/B)
//
// where d is calendar days elapsed and B the day basis. Dates before the last accrual
// date accrue nothing.
func (a Accrual) Accrue(p domain.FixedIncomePosition, date time.Time) (decimal.Decimal, error) {
	convention, basis, err := a.resolve(p)
	if err != nil {
		return decimal.Zero, err
	}

	days := daysBetween(p.LastAccrualDate, date)
	if days <= 0 || p.Rate.IsZero() {
		return domain.RoundMoney(p.Principal), nil
	}

	periods := decimal.NewFromInt(days).DivRound(decimal.NewFromInt(int64(basis)), expPrecision)
	one := decimal.NewFromInt(1)

	switch convention {
	case domain.AccrualLinear:
		return domain.RoundMoney(p.Principal.Mul(one.Add(p.Rate.Mul(periods)))), nil
	default:
		base := one.Add(p.Rate)
		if !base.IsPositive() {
			return decimal.Zero, fmt.Errorf("instrument %s: rate %s gives non-positive growth base", p.InstrumentID, p.Rate)
		}
		ln, err := base.Ln(expPrecision)
		if err != nil {
			return decimal.Zero, fmt.Errorf("instrument %s: %w", p.InstrumentID, err)
		}
		growth, err := ln.Mul(periods).ExpTaylor(expPrecision)
		if err != nil {
			return decimal.Zero, fmt.Errorf("instrument %s: %w", p.InstrumentID, err)
		}
		return domain.RoundMoney(p.Principal.Mul(growth)), nil
	}
}

func daysBetween(from, to time.Time) int64 {
	return int64(domain.Day(to).Sub(domain.Day(from)).Hours() / 24)
}
