package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetID identifies a quote-priced asset (ticker or provider symbol).
type AssetID string

// Quote is one closing price for an asset on a trading day.
// At most one Quote exists per (AssetID, Date).
type Quote struct {
	AssetID       AssetID          `json:"assetId"`
	Date          time.Time        `json:"date"`
	Open          *decimal.Decimal `json:"open,omitempty"`
	High          *decimal.Decimal `json:"high,omitempty"`
	Low           *decimal.Decimal `json:"low,omitempty"`
	Close         decimal.Decimal  `json:"close"`
	AdjustedClose *decimal.Decimal `json:"adjustedClose,omitempty"`
	Volume        *int64           `json:"volume,omitempty"`
	Source        string           `json:"source"`
}

// LatestPrice is the answer of a "latest price" lookup. Cached is true when the value
// was served by the short-lived read-through cache instead of the store.
type LatestPrice struct {
	AssetID AssetID         `json:"assetId"`
	Date    time.Time       `json:"date"`
	Close   decimal.Decimal `json:"close"`
	Source  string          `json:"source"`
	Cached  bool            `json:"cached"`
}

// IngestionKind distinguishes quote and exchange-rate ingestion runs.
type IngestionKind string

const (
	IngestionKindQuote IngestionKind = "quote"
	IngestionKindFX    IngestionKind = "fx"
)

// IngestionResult summarizes one ingestion run for one asset or currency pair.
type IngestionResult struct {
	RunID     string        `json:"runId"`
	Kind      IngestionKind `json:"kind"`
	Key       string        `json:"key"`
	Fetched   []time.Time   `json:"fetched"`
	Cached    []time.Time   `json:"cached"`
	Failed    []time.Time   `json:"failed"`
	Sources   []string      `json:"sources,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
}

// Partial reports whether some requested days could not be filled.
func (r IngestionResult) Partial() bool {
	return len(r.Failed) > 0
}
