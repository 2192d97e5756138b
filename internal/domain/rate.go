package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyPair is an ordered pair of ISO 4217 codes. A rate converts one unit of From into To.
type CurrencyPair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewCurrencyPair normalizes codes to upper case.
func NewCurrencyPair(from, to string) CurrencyPair {
	return CurrencyPair{From: strings.ToUpper(from), To: strings.ToUpper(to)}
}

// ParseCurrencyPair parses "USD/BRL" or "USDBRL".
func ParseCurrencyPair(s string) (CurrencyPair, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if from, to, ok := strings.Cut(s, "/"); ok {
		if len(from) != 3 || len(to) != 3 {
			return CurrencyPair{}, fmt.Errorf("invalid currency pair %q", s)
		}
		return CurrencyPair{From: from, To: to}, nil
	}
	if len(s) != 6 {
		return CurrencyPair{}, fmt.Errorf("invalid currency pair %q", s)
	}
	return CurrencyPair{From: s[:3], To: s[3:]}, nil
}

func (p CurrencyPair) String() string {
	return p.From + "/" + p.To
}

// ExchangeRate is one rate per (pair, day). Rate is always positive.
type ExchangeRate struct {
	Pair   CurrencyPair    `json:"pair"`
	Date   time.Time       `json:"date"`
	Rate   decimal.Decimal `json:"rate"`
	Source string          `json:"source"`
}
