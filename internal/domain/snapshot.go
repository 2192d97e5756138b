package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ValuationFailure records why part of an account could not be valued.
type ValuationFailure struct {
	AccountID string `json:"accountId"`
	Item      string `json:"item"`
	Reason    string `json:"reason"`
}

// PortfolioSnapshot is the durable result of a valuation run for (user, date, account).
// An empty AccountID denotes the consolidated row in the base currency.
type PortfolioSnapshot struct {
	UserID        string             `json:"userId"`
	Date          time.Time          `json:"date"`
	AccountID     string             `json:"accountId,omitempty"`
	NAV           decimal.Decimal    `json:"nav"`
	MarketValue   decimal.Decimal    `json:"marketValue"`
	Cash          decimal.Decimal    `json:"cash"`
	TotalCost     decimal.Decimal    `json:"totalCost"`
	RealizedPnL   decimal.Decimal    `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal    `json:"unrealizedPnl"`
	Currency      string             `json:"currency"`
	Degraded      bool               `json:"degraded"`
	Failures      []ValuationFailure `json:"failures,omitempty"`
	Excluded      []string           `json:"excludedAccounts,omitempty"`
}

// Consolidated reports whether the snapshot is the multi-account row.
func (s PortfolioSnapshot) Consolidated() bool {
	return s.AccountID == ""
}

// SnapshotKey identifies a snapshot row.
type SnapshotKey struct {
	UserID    string
	Date      time.Time
	AccountID string
}

func (k SnapshotKey) String() string {
	account := k.AccountID
	if account == "" {
		account = "*"
	}
	return k.UserID + "/" + k.Date.Format(DateLayout) + "/" + account
}

// Key returns the snapshot's unique key.
func (s PortfolioSnapshot) Key() SnapshotKey {
	return SnapshotKey{UserID: s.UserID, Date: s.Date, AccountID: s.AccountID}
}

// ContentHash digests every value column of the snapshot at storage precision.
// Two snapshots with equal hashes persist to identical rows.
func (s PortfolioSnapshot) ContentHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s|%s|%s|%s|%t|%s",
		s.UserID, s.Date.Format(DateLayout), s.AccountID,
		s.NAV.StringFixed(MoneyScale), s.MarketValue.StringFixed(MoneyScale), s.Cash.StringFixed(MoneyScale),
		s.TotalCost.StringFixed(MoneyScale), s.RealizedPnL.StringFixed(MoneyScale),
		s.UnrealizedPnL.StringFixed(MoneyScale), s.Currency, s.Degraded, strings.Join(s.Excluded, ","))
	for _, f := range s.Failures {
		fmt.Fprintf(h, "|%s:%s:%s", f.AccountID, f.Item, f.Reason)
	}
	return hex.EncodeToString(h.Sum(nil))
}
