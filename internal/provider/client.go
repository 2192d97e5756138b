package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ClientConfig controls timeouts, retries and rate limiting shared by all providers.
type ClientConfig struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	RatePerSec float64
}

// permanentError marks a failure that retrying cannot fix (404, bad symbol, auth).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// client is an HTTP client with per-attempt timeout, exponential backoff and a token-bucket limiter.
type client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cfg        ClientConfig
}

func newClient(cfg ClientConfig) *client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		cfg:        cfg,
	}
}

// getJSON fetches url and decodes into dest, retrying transient failures (timeouts, 429, 5xx,
// malformed payloads) up to MaxRetries extra attempts with exponential backoff.
func (c *client) getJSON(ctx context.Context, url string, dest any) error {
	var lastErr error
	for attempt := range c.cfg.MaxRetries + 1 {
		if attempt > 0 {
			delay := c.cfg.BaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.attempt(ctx, url, dest)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = fmt.Errorf("attempt %d/%d: %w", attempt+1, c.cfg.MaxRetries+1, err)
	}
	return lastErr
}

func (c *client) attempt(ctx context.Context, url string, dest any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; quota/1.0)")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited (HTTP 429)")
	case resp.StatusCode >= 500:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body))
	default:
		return permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body)))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
