// Package signalqueue implements a priority signal queue: strict priority
// ordering with FIFO tie-break, a per-ticker dedup invariant, lazy TTL
// expiration, and bounded capacity. Built on container/heap, the idiomatic
// stdlib primitive for ordering that needs to stay live across pushes and
// pops rather than a one-shot sort.
package signalqueue

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/mwhartley/execution-core/models"
)

// RejectReason is why Add refused a signal.
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectDuplicateTicker RejectReason = "duplicate_ticker"
	RejectCapacity        RejectReason = "capacity"
	RejectExpired         RejectReason = "expired"
)

// DefaultCapacity and DefaultTTL are the queue's stated defaults.
const (
	DefaultCapacity = 100
	DefaultTTL      = 4 * time.Hour
)

type item struct {
	signal models.PendingSignal
	index  int
}

// heapSlice implements container/heap.Interface ordered by (priority asc,
// created_at asc) — strict priority, FIFO tie-break.
type heapSlice []*item

func (h heapSlice) Len() int { return len(h) }
func (h heapSlice) Less(i, j int) bool {
	if h[i].signal.Priority != h[j].signal.Priority {
		return h[i].signal.Priority < h[j].signal.Priority
	}
	return h[i].signal.CreatedAt.Before(h[j].signal.CreatedAt)
}
func (h heapSlice) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *heapSlice) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *heapSlice) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the priority signal queue. A Queue's zero value is not usable;
// construct with New.
type Queue struct {
	mu         sync.Mutex
	heap       heapSlice
	byTicker   map[string]*item
	capacity   int
	defaultTTL time.Duration
}

// New creates a Queue with the given capacity and default TTL. A capacity
// or TTL of zero falls back to the package defaults.
func New(capacity int, defaultTTL time.Duration) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Queue{
		byTicker:   make(map[string]*item),
		capacity:   capacity,
		defaultTTL: defaultTTL,
	}
}

// Add admits a signal, assigning expires_at from the default TTL when unset.
// It enforces the dedup invariant (one queued signal per ticker) and the
// capacity bound (reject on overflow, never evict).
func (q *Queue) Add(sig models.PendingSignal, now time.Time) (bool, RejectReason) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if sig.ExpiresAt == nil {
		exp := sig.CreatedAt.Add(q.defaultTTL)
		sig.ExpiresAt = &exp
	}
	if sig.IsExpired(now) {
		return false, RejectExpired
	}
	if _, exists := q.byTicker[sig.Ticker]; exists {
		return false, RejectDuplicateTicker
	}
	if len(q.heap) >= q.capacity {
		return false, RejectCapacity
	}

	it := &item{signal: sig}
	heap.Push(&q.heap, it)
	q.byTicker[sig.Ticker] = it
	return true, RejectNone
}

// PopReady removes and returns up to limit non-expired signals in priority
// order. Expired entries encountered along the way are dropped, not
// returned, and do not count against limit.
func (q *Queue) PopReady(now time.Time, limit int) []models.PendingSignal {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.PendingSignal, 0, limit)
	for len(q.heap) > 0 && len(out) < limit {
		it := heap.Pop(&q.heap).(*item)
		delete(q.byTicker, it.signal.Ticker)
		if it.signal.IsExpired(now) {
			continue
		}
		out = append(out, it.signal)
	}
	return out
}

// Peek returns a snapshot of all queued signals in priority order without
// removing anything.
func (q *Queue) Peek() []models.PendingSignal {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.PendingSignal, len(q.heap))
	for i, it := range q.heap {
		out[i] = it.signal
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Size returns the number of queued signals, including any not yet pruned
// for expiry.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Contains reports whether ticker currently has a queued signal.
func (q *Queue) Contains(ticker string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byTicker[ticker]
	return ok
}

// Remove drops ticker's queued signal, if any, and reports whether one was
// removed.
func (q *Queue) Remove(ticker string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byTicker[ticker]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, it.index)
	delete(q.byTicker, ticker)
	return true
}

// PruneExpired drops every queued signal whose expiry has passed and
// returns the count removed.
func (q *Queue) PruneExpired(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed int
	remaining := make(heapSlice, 0, len(q.heap))
	for _, it := range q.heap {
		if it.signal.IsExpired(now) {
			delete(q.byTicker, it.signal.Ticker)
			removed++
			continue
		}
		remaining = append(remaining, it)
	}
	q.heap = remaining
	heap.Init(&q.heap)
	for i, it := range q.heap {
		it.index = i
	}
	return removed
}
