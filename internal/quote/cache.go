package quote

import (
	"sync"
	"time"

	"github.com/mtlprog/quota/internal/domain"
)

type cacheEntry struct {
	price     domain.LatestPrice
	expiresAt time.Time
}

// priceCache is a short-lived read-through cache for latest-price lookups.
type priceCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[domain.AssetID]cacheEntry
}

func newPriceCache(ttl time.Duration) *priceCache {
	return &priceCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[domain.AssetID]cacheEntry),
	}
}

func (c *priceCache) get(asset domain.AssetID) (domain.LatestPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[asset]
	if !ok || c.now().After(entry.expiresAt) {
		return domain.LatestPrice{}, false
	}
	return entry.price, true
}

func (c *priceCache) set(price domain.LatestPrice) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[price.AssetID] = cacheEntry{
		price:     price,
		expiresAt: c.now().Add(c.ttl),
	}
}

// invalidate drops entries for assets that just received new quotes.
func (c *priceCache) invalidate(asset domain.AssetID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, asset)
}
