package quote

import (
	"testing"
	"time"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/testutil"
)

func TestCacheHitAndMiss(t *testing.T) {
	c := newPriceCache(time.Minute)
	c.set(domain.LatestPrice{AssetID: "A", Close: testutil.Dec("1.5")})

	got, ok := c.get("A")
	if !ok {
		t.Fatal("expected cache hit, got miss")
	}
	if !got.Close.Equal(testutil.Dec("1.5")) {
		t.Errorf("cached close = %s, want 1.5", got.Close)
	}

	if _, ok := c.get("B"); ok {
		t.Error("expected cache miss for missing key")
	}
}

func TestCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	c := newPriceCache(time.Minute)
	c.now = func() time.Time { return now }
	c.set(domain.LatestPrice{AssetID: "A"})

	now = now.Add(2 * time.Minute)
	if _, ok := c.get("A"); ok {
		t.Error("expected cache miss for expired entry")
	}
}

func TestCacheDisabledWithZeroTTL(t *testing.T) {
	c := newPriceCache(0)
	c.set(domain.LatestPrice{AssetID: "A"})
	if _, ok := c.get("A"); ok {
		t.Error("zero TTL should disable caching")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := newPriceCache(time.Minute)
	c.set(domain.LatestPrice{AssetID: "A"})
	c.invalidate("A")
	if _, ok := c.get("A"); ok {
		t.Error("expected miss after invalidate")
	}
}
