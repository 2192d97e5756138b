package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundShare is one row of the quota ledger for (user, date).
// DailyReturn is nil on the inception date.
type FundShare struct {
	UserID            string           `json:"userId"`
	Date              time.Time        `json:"date"`
	NAV               decimal.Decimal  `json:"nav"`
	NetFlow           decimal.Decimal  `json:"netFlow"`
	SharesOutstanding decimal.Decimal  `json:"sharesOutstanding"`
	ShareValue        decimal.Decimal  `json:"shareValue"`
	DailyReturn       *decimal.Decimal `json:"dailyReturn"`
	CumulativeReturn  decimal.Decimal  `json:"cumulativeReturn"`
}
