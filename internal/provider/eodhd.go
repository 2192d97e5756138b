package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

type eodhdBar struct {
	Date          string           `json:"date"`
	Open          *decimal.Decimal `json:"open"`
	High          *decimal.Decimal `json:"high"`
	Low           *decimal.Decimal `json:"low"`
	Close         decimal.Decimal  `json:"close"`
	AdjustedClose *decimal.Decimal `json:"adjusted_close"`
	Volume        *int64           `json:"volume"`
}

// EODHD fetches end-of-day bars from eodhd.com.
type EODHD struct {
	baseURL string
	apiKey  string
	client  *client
}

// NewEODHD creates an EODHD client. An empty apiKey disables the provider.
func NewEODHD(baseURL, apiKey string, cfg ClientConfig) *EODHD {
	return &EODHD{baseURL: baseURL, apiKey: apiKey, client: newClient(cfg)}
}

func (e *EODHD) Name() string { return "eodhd" }

// FetchQuotes fetches daily bars for a ticker in EODHD's "CODE.EXCHANGE" form.
func (e *EODHD) FetchQuotes(ctx context.Context, asset domain.AssetID, r domain.DateRange) ([]Point, error) {
	return e.fetch(ctx, string(asset), r)
}

// FetchRates fetches daily FX closes using "FROMTO.FOREX" tickers.
func (e *EODHD) FetchRates(ctx context.Context, pair domain.CurrencyPair, r domain.DateRange) ([]Point, error) {
	return e.fetch(ctx, pair.From+pair.To+".FOREX", r)
}

func (e *EODHD) fetch(ctx context.Context, ticker string, r domain.DateRange) ([]Point, error) {
	if e.apiKey == "" {
		return nil, &domain.ProviderError{Provider: e.Name(), Key: ticker, Err: errors.New("EODHD_API_KEY not set")}
	}

	q := url.Values{}
	q.Set("api_token", e.apiKey)
	q.Set("fmt", "json")
	q.Set("period", "d")
	q.Set("from", r.From.Format(domain.DateLayout))
	q.Set("to", r.To.Format(domain.DateLayout))
	u := fmt.Sprintf("%s/eod/%s?%s", e.baseURL, url.PathEscape(ticker), q.Encode())

	var bars []eodhdBar
	if err := e.client.getJSON(ctx, u, &bars); err != nil {
		return nil, &domain.ProviderError{Provider: e.Name(), Key: ticker, Err: err}
	}

	points := make([]Point, 0, len(bars))
	for _, b := range bars {
		date, err := domain.ParseDate(b.Date)
		if err != nil {
			continue
		}
		points = append(points, Point{
			Date:          date,
			Open:          roundPtr(b.Open),
			High:          roundPtr(b.High),
			Low:           roundPtr(b.Low),
			Close:         domain.RoundPrice(b.Close),
			AdjustedClose: roundPtr(b.AdjustedClose),
			Volume:        b.Volume,
		})
	}
	return filterRange(points, r), nil
}

func roundPtr(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	r := domain.RoundPrice(*d)
	return &r
}
