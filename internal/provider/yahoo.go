package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

// yahooResponse maps the chart API payload. Price arrays hold nulls on halted days.
type yahooResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency  string `json:"currency"`
				Symbol    string `json:"symbol"`
				GMTOffset int64  `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Yahoo fetches daily bars from the Yahoo Finance chart API.
type Yahoo struct {
	baseURL string
	client  *client
}

// NewYahoo creates a Yahoo Finance client.
func NewYahoo(baseURL string, cfg ClientConfig) *Yahoo {
	return &Yahoo{baseURL: baseURL, client: newClient(cfg)}
}

func (y *Yahoo) Name() string { return "yahoo" }

// FetchQuotes fetches daily bars for a ticker.
func (y *Yahoo) FetchQuotes(ctx context.Context, asset domain.AssetID, r domain.DateRange) ([]Point, error) {
	return y.fetch(ctx, string(asset), r)
}

// FetchRates fetches daily FX closes using Yahoo's "FROMTO=X" symbols.
func (y *Yahoo) FetchRates(ctx context.Context, pair domain.CurrencyPair, r domain.DateRange) ([]Point, error) {
	return y.fetch(ctx, pair.From+pair.To+"=X", r)
}

func (y *Yahoo) fetch(ctx context.Context, symbol string, r domain.DateRange) ([]Point, error) {
	// period2 is exclusive on Yahoo's side.
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&period1=%d&period2=%d",
		y.baseURL, url.PathEscape(symbol), r.From.Unix(), r.To.AddDate(0, 0, 1).Unix())

	var resp yahooResponse
	if err := y.client.getJSON(ctx, u, &resp); err != nil {
		return nil, &domain.ProviderError{Provider: y.Name(), Key: symbol, Err: err}
	}
	if resp.Chart.Error != nil {
		return nil, &domain.ProviderError{Provider: y.Name(), Key: symbol, Err: fmt.Errorf("%s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)}
	}
	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}

	return filterRange(parseYahoo(resp), r), nil
}

func parseYahoo(resp yahooResponse) []Point {
	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil
	}
	q := result.Indicators.Quote[0]

	var adj []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	points := make([]Point, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closeVal := at(q.Close, i)
		if closeVal == nil {
			continue
		}
		// Bars are stamped at the exchange's session open; shift into exchange-local time
		// before taking the calendar day.
		date := domain.Day(time.Unix(ts+result.Meta.GMTOffset, 0))
		points = append(points, Point{
			Date:          date,
			Open:          decimalPtrFromFloat(at(q.Open, i)),
			High:          decimalPtrFromFloat(at(q.High, i)),
			Low:           decimalPtrFromFloat(at(q.Low, i)),
			Close:         domain.RoundPrice(decimal.NewFromFloat(*closeVal)),
			AdjustedClose: decimalPtrFromFloat(at(adj, i)),
			Volume:        at(q.Volume, i),
		})
	}
	return points
}

func at[T any](s []*T, i int) *T {
	if i < len(s) {
		return s[i]
	}
	return nil
}
