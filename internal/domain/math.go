package domain

import (
	"github.com/shopspring/decimal"
)

// Fixed-point scales for persisted numeric fields. Columns in the schema use the same scales.
const (
	PriceScale      = 6
	RateScale       = 6
	MoneyScale      = 4
	SharesScale     = 8
	ShareValueScale = 8
	ReturnScale     = 10
)

// SafeParse parses a string into a decimal, returning zero for invalid or empty input.
func SafeParse(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundMoney rounds an amount to MoneyScale using banker's rounding so that repeated
// aggregation does not drift in one direction.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyScale)
}

// RoundPrice rounds a price to PriceScale.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(PriceScale)
}

// RoundRate rounds an exchange rate to RateScale.
func RoundRate(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(RateScale)
}

// RoundShares rounds a share count to SharesScale.
func RoundShares(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(SharesScale)
}

// RoundShareValue rounds a share value to ShareValueScale.
func RoundShareValue(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(ShareValueScale)
}

// RoundReturn rounds a return ratio to ReturnScale.
func RoundReturn(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(ReturnScale)
}

// DecimalPtr returns a pointer to d. Used for nullable columns.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
