package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RealizedTrade is an append-only entry produced when a position is partially or fully closed.
// Amounts are in Currency (the asset's native currency).
type RealizedTrade struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"accountId"`
	AssetID          AssetID         `json:"assetId"`
	ClosingDate      time.Time       `json:"closingDate"`
	QuantityClosed   decimal.Decimal `json:"quantityClosed"`
	Proceeds         decimal.Decimal `json:"proceeds"`
	CostBasisRemoved decimal.Decimal `json:"costBasisRemoved"`
	RealizedPnL      decimal.Decimal `json:"realizedPnl"`
	Currency         string          `json:"currency"`
}
