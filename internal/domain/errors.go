package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates that the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrProviderFetchFailed is a transient provider failure that survived every retry.
	ErrProviderFetchFailed = errors.New("provider fetch failed")

	// ErrPriceUnavailable means no quote exists on or before the valuation date.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrNoRateAvailable means no exchange rate exists on or before the requested date.
	ErrNoRateAvailable = errors.New("no rate available")

	// ErrStaleDownstreamSnapshots means a past-date recomputation invalidated later ledger rows.
	ErrStaleDownstreamSnapshots = errors.New("stale downstream snapshots")

	// ErrConcurrentRecomputation means another computation for the same key is in flight.
	ErrConcurrentRecomputation = errors.New("concurrent recomputation")

	// ErrDegradedSnapshot means the consolidated snapshot could not be fully computed.
	ErrDegradedSnapshot = errors.New("degraded snapshot")

	// ErrNonPositiveNAV means the ledger cannot be seeded or continued with the given NAV.
	ErrNonPositiveNAV = errors.New("non-positive nav")

	// ErrInvalidRate means a provider returned a zero or negative rate.
	ErrInvalidRate = errors.New("invalid exchange rate")

	// ErrInvalidCurrency means a currency code is not a known ISO 4217 code.
	ErrInvalidCurrency = errors.New("invalid currency")
)

// PriceUnavailableError carries the asset and date that could not be priced.
type PriceUnavailableError struct {
	AssetID AssetID
	Date    time.Time
}

func (e *PriceUnavailableError) Error() string {
	return fmt.Sprintf("price unavailable for %s on or before %s", e.AssetID, e.Date.Format(DateLayout))
}

func (e *PriceUnavailableError) Unwrap() error { return ErrPriceUnavailable }

// NoRateError carries the pair and date without a rate.
type NoRateError struct {
	Pair CurrencyPair
	Date time.Time
}

func (e *NoRateError) Error() string {
	return fmt.Sprintf("no rate for %s on or before %s", e.Pair, e.Date.Format(DateLayout))
}

func (e *NoRateError) Unwrap() error { return ErrNoRateAvailable }

// StaleDownstreamError lists ledger rows after From that a recomputation invalidated.
type StaleDownstreamError struct {
	UserID     string
	From       time.Time
	StaleDates []time.Time
}

func (e *StaleDownstreamError) Error() string {
	dates := make([]string, len(e.StaleDates))
	for i, d := range e.StaleDates {
		dates[i] = d.Format(DateLayout)
	}
	return fmt.Sprintf("recomputing %s from %s invalidates %d later rows (%s)",
		e.UserID, e.From.Format(DateLayout), len(dates), strings.Join(dates, ", "))
}

func (e *StaleDownstreamError) Unwrap() error { return ErrStaleDownstreamSnapshots }

// ProviderError wraps the last error of an exhausted provider fetch.
type ProviderError struct {
	Provider string
	Key      string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: fetching %s: %v", e.Provider, e.Key, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{ErrProviderFetchFailed, e.Err} }
