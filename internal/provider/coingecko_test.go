package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mtlprog/quota/internal/domain"
)

func TestCoinGeckoFetchQuotesKeepsLastPricePerDay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/bitcoin/market_chart/range" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("vs_currency") != "usd" || q.Get("from") != "1767312000" || q.Get("to") != "1767743999" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"prices":[
			[1767225600000, 88000.0],
			[1767355200000, 90000.5],
			[1767394800000, 91000.25],
			[1767607200000, 92500.125]
		]}`))
	}))
	defer server.Close()

	points, err := NewCoinGecko(server.URL, "USD", testConfig(0)).FetchQuotes(context.Background(), "BTC", week)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("len(points) = %d, want 2", len(points))
	}
	if !points[0].Date.Equal(domain.MustDate("2026-01-02")) || points[0].Close.String() != "91000.25" {
		t.Errorf("first point = %s %s, want 2026-01-02 91000.25", points[0].Date, points[0].Close)
	}
	if !points[1].Date.Equal(domain.MustDate("2026-01-05")) || points[1].Close.String() != "92500.125" {
		t.Errorf("second point = %s %s, want 2026-01-05 92500.125", points[1].Date, points[1].Close)
	}
}

func TestCoinGeckoRawCoinID(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"prices":[]}`))
	}))
	defer server.Close()

	points, err := NewCoinGecko(server.URL, "usd", testConfig(0)).FetchQuotes(context.Background(), "cg:render-token", week)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("len(points) = %d, want 0", len(points))
	}
	if gotPath != "/coins/render-token/market_chart/range" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestCoinGeckoSkipsUnknownAssets(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	points, err := NewCoinGecko(server.URL, "usd", testConfig(0)).FetchQuotes(context.Background(), "PETR4.SA", week)
	if err != nil || points != nil {
		t.Errorf("FetchQuotes = %v, %v; want nil, nil", points, err)
	}
	if called {
		t.Error("provider should not be called for unmapped assets")
	}
}

func TestCoinGeckoServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewCoinGecko(server.URL, "usd", testConfig(0)).FetchQuotes(context.Background(), "ETH", week)
	if !errors.Is(err, domain.ErrProviderFetchFailed) {
		t.Errorf("err = %v, want ErrProviderFetchFailed", err)
	}
}

func TestCoinGeckoTradesWeekends(t *testing.T) {
	cg := NewCoinGecko("http://unused", "usd", testConfig(0))
	if !cg.TradesWeekends("BTC") || !cg.TradesWeekends("cg:render-token") {
		t.Error("mapped coins should trade on weekends")
	}
	if cg.TradesWeekends("PETR4.SA") {
		t.Error("unmapped assets should not trade on weekends")
	}
	if !TradesWeekends([]QuoteFetcher{NewYahoo("http://unused", testConfig(0)), cg}, "ETH") {
		t.Error("a fetcher list containing CoinGecko should trade ETH on weekends")
	}
}
