// Package cooldown implements a per-ticker rate-limit manager: a small
// stateful manager (config struct + mutex-guarded state + monotonic update
// rule) that blocks re-entry into a ticker for a configured duration after
// an exit or a run of rejections.
package cooldown

import (
	"sync"
	"time"

	"github.com/mwhartley/execution-core/models"
)

// DefaultDuration is the default cooldown length applied when a caller
// doesn't specify one.
const DefaultDuration = 3 * time.Hour

// Manager tracks active per-ticker cooldowns.
type Manager struct {
	mu              sync.Mutex
	m               map[string]models.Cooldown
	defaultDuration time.Duration
}

// New creates a Manager using defaultDuration when Add is called with a
// zero duration.
func New(defaultDuration time.Duration) *Manager {
	if defaultDuration <= 0 {
		defaultDuration = DefaultDuration
	}
	return &Manager{m: make(map[string]models.Cooldown), defaultDuration: defaultDuration}
}

// Add applies a cooldown to ticker. Idempotent and extend-only: a call that
// would move `until` earlier than an existing active entry is a no-op.
func (m *Manager) Add(ticker string, duration time.Duration, reason, source string, now time.Time) {
	if duration <= 0 {
		duration = m.defaultDuration
	}
	until := now.Add(duration)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.m[ticker]; ok && existing.Active(now) && !until.After(existing.Until) {
		return
	}
	m.m[ticker] = models.Cooldown{Ticker: ticker, Until: until, Reason: reason, Source: source}
}

// Contains reports whether ticker has an unexpired cooldown as of now.
func (m *Manager) Contains(ticker string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.m[ticker]
	return ok && c.Active(now)
}

// AllActive returns the set of tickers with an unexpired cooldown, pruning
// expired entries as a side effect.
func (m *Manager) AllActive(now time.Time) map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]struct{})
	for ticker, c := range m.m {
		if c.Active(now) {
			out[ticker] = struct{}{}
		} else {
			delete(m.m, ticker)
		}
	}
	return out
}

// Prune drops every expired cooldown and returns the count removed.
func (m *Manager) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int
	for ticker, c := range m.m {
		if !c.Active(now) {
			delete(m.m, ticker)
			removed++
		}
	}
	return removed
}

// All returns a snapshot of every cooldown currently tracked (including
// ones that may have just expired), for persistence.
func (m *Manager) All() []models.Cooldown {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Cooldown, 0, len(m.m))
	for _, c := range m.m {
		out = append(out, c)
	}
	return out
}

// Restore seeds the manager's state from persisted cooldowns (used when
// loading engine state on startup).
func (m *Manager) Restore(cooldowns []models.Cooldown) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m = make(map[string]models.Cooldown, len(cooldowns))
	for _, c := range cooldowns {
		m.m[c.Ticker] = c
	}
}
