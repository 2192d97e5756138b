package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a brokerage account owned by a user. Currency is the account's reporting currency.
type Account struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// Position is an open, quote-priced holding on an account as of a valuation date.
// CostBasis is the total cost of the open quantity in the asset's currency.
type Position struct {
	AccountID   string          `json:"accountId"`
	AssetID     AssetID         `json:"assetId"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"averageCost"`
	CostBasis   decimal.Decimal `json:"costBasis"`
	Currency    string          `json:"currency"`
}

// AccrualConvention selects how a fixed-income instrument accrues between dates.
type AccrualConvention string

const (
	AccrualLinear   AccrualConvention = "linear"
	AccrualCompound AccrualConvention = "compound"
)

// Valid reports whether c is a known convention.
func (c AccrualConvention) Valid() bool {
	return c == AccrualLinear || c == AccrualCompound
}

// FixedIncomePosition is valued by accrual instead of by quote. Principal is the value at
// LastAccrualDate; Rate is the annual rate as a fraction (0.12 = 12% a year).
type FixedIncomePosition struct {
	AccountID       string            `json:"accountId"`
	InstrumentID    string            `json:"instrumentId"`
	Principal       decimal.Decimal   `json:"principal"`
	Rate            decimal.Decimal   `json:"rate"`
	Convention      AccrualConvention `json:"convention"`
	DayBasis        int               `json:"dayBasis"`
	LastAccrualDate time.Time         `json:"lastAccrualDate"`
	CostBasis       decimal.Decimal   `json:"costBasis"`
	Currency        string            `json:"currency"`
}

// CashBalance is the cash held on an account in one currency as of a date.
type CashBalance struct {
	AccountID string          `json:"accountId"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	AsOf      time.Time       `json:"asOf"`
}

// CashFlow is an external deposit (positive) or withdrawal (negative) into a user's portfolio.
type CashFlow struct {
	UserID    string          `json:"userId"`
	AccountID string          `json:"accountId"`
	Date      time.Time       `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}
