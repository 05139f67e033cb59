// Package signalcache implements a per-cycle technical-signal cache so
// per-ticker technical recomputation is bounded per cycle rather than
// re-fetched for every strategy evaluation that touches the same ticker.
//
// Invalidation policy: clear-at-cycle-start. Clear is called once per cycle
// by the engine; TTL freshness (CachedSignal.Fresh) is a secondary guard for
// callers that hold a snapshot across a suspension point within the same
// cycle.
package signalcache

import (
	"sync"
	"time"

	"github.com/mwhartley/execution-core/models"
)

// Cache is a per-ticker TTL cache of technical signal snapshots.
type Cache struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]models.CachedSignal
}

// New creates a Cache with the given default TTL for entries.
func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, m: make(map[string]models.CachedSignal)}
}

// Get returns the cached signal for ticker if present and fresh as of now.
func (c *Cache) Get(ticker string, now time.Time) (models.TechnicalSignals, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cs, ok := c.m[ticker]
	if !ok || !cs.Fresh(now) {
		return models.TechnicalSignals{}, false
	}
	return cs.Signal, true
}

// Set stores sig for ticker, stamped with now and the cache's default TTL.
func (c *Cache) Set(ticker string, sig models.TechnicalSignals, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[ticker] = models.CachedSignal{Signal: sig, Timestamp: now, TTL: c.ttl}
}

// Clear empties the cache. Called by the engine at the start of every
// cycle under the clear-at-cycle-start policy.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]models.CachedSignal)
}

// Fetcher fetches a fresh technical snapshot for one ticker, the shape of
// the external signal-provider collaborator.
type Fetcher func(ticker string) (models.TechnicalSignals, error)

// GetOrFetch returns the cached snapshot if fresh, otherwise calls fetch and
// caches the result. A fetch error is propagated to the caller unchanged so
// the engine can apply its own degrade-to-hold/skip policy.
func (c *Cache) GetOrFetch(ticker string, now time.Time, fetch Fetcher) (models.TechnicalSignals, error) {
	if sig, ok := c.Get(ticker, now); ok {
		return sig, nil
	}
	sig, err := fetch(ticker)
	if err != nil {
		return models.TechnicalSignals{}, err
	}
	c.Set(ticker, sig, now)
	return sig, nil
}
