package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	day := MustDate("2026-01-04")

	priceErr := fmt.Errorf("valuing: %w", &PriceUnavailableError{AssetID: "B", Date: day})
	if !errors.Is(priceErr, ErrPriceUnavailable) {
		t.Error("expected PriceUnavailableError to match ErrPriceUnavailable")
	}
	var pe *PriceUnavailableError
	if !errors.As(priceErr, &pe) || pe.AssetID != "B" {
		t.Errorf("errors.As did not recover asset, got %+v", pe)
	}

	rateErr := &NoRateError{Pair: NewCurrencyPair("usd", "brl"), Date: day}
	if !errors.Is(rateErr, ErrNoRateAvailable) {
		t.Error("expected NoRateError to match ErrNoRateAvailable")
	}
	if !strings.Contains(rateErr.Error(), "USD/BRL") {
		t.Errorf("message = %q, want pair", rateErr.Error())
	}

	stale := &StaleDownstreamError{UserID: "u1", From: day, StaleDates: []time.Time{MustDate("2026-01-05")}}
	if !errors.Is(stale, ErrStaleDownstreamSnapshots) {
		t.Error("expected StaleDownstreamError to match ErrStaleDownstreamSnapshots")
	}

	provErr := &ProviderError{Provider: "yahoo", Key: "A", Err: context.DeadlineExceeded}
	if !errors.Is(provErr, ErrProviderFetchFailed) || !errors.Is(provErr, context.DeadlineExceeded) {
		t.Error("expected ProviderError to match both sentinel and cause")
	}
}

func TestParseCurrencyPair(t *testing.T) {
	tests := []struct {
		in      string
		want    CurrencyPair
		wantErr bool
	}{
		{"USD/BRL", CurrencyPair{"USD", "BRL"}, false},
		{"usdbrl", CurrencyPair{"USD", "BRL"}, false},
		{"US/BRL", CurrencyPair{}, true},
		{"USDBR", CurrencyPair{}, true},
	}
	for _, tt := range tests {
		got, err := ParseCurrencyPair(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCurrencyPair(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCurrencyPair(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
