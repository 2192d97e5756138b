package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

// coinIDs maps ticker-style asset IDs to CoinGecko coin IDs. Assets prefixed with
// "cg:" are passed through as raw coin IDs.
var coinIDs = map[domain.AssetID]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"XLM":  "stellar",
	"SOL":  "solana",
	"USDT": "tether",
}

// CoinGecko fetches daily crypto prices from the CoinGecko market chart API.
// It answers only for assets it can map and returns nothing for the rest.
type CoinGecko struct {
	baseURL    string
	vsCurrency string
	client     *client
}

// NewCoinGecko creates a CoinGecko client quoting prices in vsCurrency (e.g. "usd").
func NewCoinGecko(baseURL, vsCurrency string, cfg ClientConfig) *CoinGecko {
	return &CoinGecko{baseURL: baseURL, vsCurrency: strings.ToLower(vsCurrency), client: newClient(cfg)}
}

func (c *CoinGecko) Name() string { return "coingecko" }

// TradesWeekends reports true for every asset CoinGecko can price.
func (c *CoinGecko) TradesWeekends(asset domain.AssetID) bool {
	_, ok := coinID(asset)
	return ok
}

func coinID(asset domain.AssetID) (string, bool) {
	if id, ok := strings.CutPrefix(string(asset), "cg:"); ok && id != "" {
		return id, true
	}
	id, ok := coinIDs[asset]
	return id, ok
}

// FetchQuotes returns one close per UTC day: the last price CoinGecko reports for that day.
func (c *CoinGecko) FetchQuotes(ctx context.Context, asset domain.AssetID, r domain.DateRange) ([]Point, error) {
	id, ok := coinID(asset)
	if !ok {
		return nil, nil
	}

	q := url.Values{}
	q.Set("vs_currency", c.vsCurrency)
	q.Set("from", fmt.Sprint(r.From.Unix()))
	q.Set("to", fmt.Sprint(r.To.AddDate(0, 0, 1).Unix()-1))
	u := fmt.Sprintf("%s/coins/%s/market_chart/range?%s", c.baseURL, url.PathEscape(id), q.Encode())

	// {"prices":[[1767312000000, 89123.45], ...]}
	var resp struct {
		Prices [][2]float64 `json:"prices"`
	}
	if err := c.client.getJSON(ctx, u, &resp); err != nil {
		return nil, &domain.ProviderError{Provider: c.Name(), Key: id, Err: err}
	}

	byDay := make(map[time.Time]Point)
	var days []time.Time
	for _, p := range resp.Prices {
		day := domain.Day(time.UnixMilli(int64(p[0])))
		if _, seen := byDay[day]; !seen {
			days = append(days, day)
		}
		byDay[day] = Point{Date: day, Close: domain.RoundPrice(decimal.NewFromFloat(p[1]))}
	}

	points := make([]Point, 0, len(days))
	for _, d := range days {
		points = append(points, byDay[d])
	}
	return filterRange(points, r), nil
}
