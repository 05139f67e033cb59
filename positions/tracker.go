// Package positions implements a local mirror of broker positions enriched
// with strategy metadata. The reconciliation tie-break (broker authoritative
// for quantity/avg_entry_price, local authoritative for
// strategy_name/stop_loss/target/entry_order_id) preserves local overrides
// onto a fresh broker snapshot.
package positions

import (
	"time"

	"github.com/mwhartley/execution-core/events"
	"github.com/mwhartley/execution-core/models"
)

// DefaultClosedHistory bounds how many closed positions are retained for
// inspection.
const DefaultClosedHistory = 100

// SyncResult reports the outcome of one SyncFromBroker call.
type SyncResult struct {
	Added   int
	Updated int
	Removed int
}

// Tracker mirrors broker positions, layering local-only metadata (strategy
// name, bracket state, stop/target) on top of the broker's authoritative
// quantity and entry price. Not safe for concurrent use — callers (the
// engine) serialize access the same way they serialize cycles.
type Tracker struct {
	positions     map[string]*models.TrackedPosition
	closed        []models.TrackedPosition
	closedHistory int
	sink          events.Sink
}

// New creates an empty Tracker. sink may be nil to discard events.
func New(sink events.Sink) *Tracker {
	return &Tracker{
		positions:     make(map[string]*models.TrackedPosition),
		closedHistory: DefaultClosedHistory,
		sink:          sink,
	}
}

func (t *Tracker) emit(now time.Time, kind events.Kind, fields map[string]any) {
	if t.sink == nil {
		return
	}
	t.sink.Emit(events.New(now, kind, fields))
}

// SyncFromBroker reconciles the tracker's state against the broker's
// authoritative position list. Broker state wins for quantity and
// avg_entry_price; local state wins for strategy_name, stop_loss, target,
// entry_order_id and has_bracket_order. A broker position the tracker never
// recorded is admitted with strategy_name="unknown" and has_bracket_order
// false. A tracked ticker the broker no longer reports is moved to the
// bounded closed-position history and a position_closed event is emitted.
func (t *Tracker) SyncFromBroker(now time.Time, broker []models.BrokerPosition) SyncResult {
	var result SyncResult
	present := make(map[string]struct{}, len(broker))

	for _, bp := range broker {
		present[bp.Ticker] = struct{}{}

		if existing, ok := t.positions[bp.Ticker]; ok {
			existing.Side = bp.Side
			existing.Quantity = bp.Quantity
			existing.AvgEntryPrice = bp.AvgEntryPrice
			existing.Recompute(bp.CurrentPrice)
			result.Updated++
			continue
		}

		tp := &models.TrackedPosition{
			Ticker:        bp.Ticker,
			Side:          bp.Side,
			Quantity:      bp.Quantity,
			AvgEntryPrice: bp.AvgEntryPrice,
			StrategyName:  "unknown",
			OpenedAt:      now,
		}
		tp.Recompute(bp.CurrentPrice)
		t.positions[bp.Ticker] = tp
		result.Added++
	}

	for ticker, tp := range t.positions {
		if _, ok := present[ticker]; ok {
			continue
		}
		delete(t.positions, ticker)
		t.archiveClosed(*tp)
		result.Removed++
		t.emit(now, events.PositionClosed, map[string]any{"ticker": ticker})
	}

	return result
}

func (t *Tracker) archiveClosed(tp models.TrackedPosition) {
	t.closed = append(t.closed, tp)
	if over := len(t.closed) - t.closedHistory; over > 0 {
		t.closed = t.closed[over:]
	}
}

// ClosedHistory returns a snapshot of the bounded closed-position history,
// oldest first.
func (t *Tracker) ClosedHistory() []models.TrackedPosition {
	out := make([]models.TrackedPosition, len(t.closed))
	copy(out, t.closed)
	return out
}

// AddPosition records a newly opened position, typically right after a
// successful bracket-order submission.
func (t *Tracker) AddPosition(ticker string, side models.Side, qty int, entryPrice float64, strategyName string, stopLoss, target *float64, entryOrderID string, now time.Time) *models.TrackedPosition {
	tp := &models.TrackedPosition{
		Ticker:          ticker,
		Side:            side,
		Quantity:        qty,
		AvgEntryPrice:   entryPrice,
		StrategyName:    strategyName,
		OpenedAt:        now,
		EntryOrderID:    entryOrderID,
		StopLoss:        stopLoss,
		Target:          target,
		HasBracketOrder: true,
	}
	tp.Recompute(entryPrice)
	t.positions[ticker] = tp
	return tp
}

// RestorePositions seeds the tracker from a persisted snapshot, used when
// the engine loads state on startup. The next SyncFromBroker call reconciles
// these against the broker's authoritative view as usual.
func (t *Tracker) RestorePositions(positions []models.TrackedPosition) {
	t.positions = make(map[string]*models.TrackedPosition, len(positions))
	for i := range positions {
		tp := positions[i]
		t.positions[tp.Ticker] = &tp
	}
}

// Remove drops ticker from the open-position set and archives it to the
// closed-position history, freeing its capacity slot immediately rather than
// waiting for the next SyncFromBroker call to notice it's gone. Used right
// after a successful close submission so the same cycle's capacity check
// sees the freed slot. No-op if ticker isn't tracked.
func (t *Tracker) Remove(ticker string, now time.Time) {
	tp, ok := t.positions[ticker]
	if !ok {
		return
	}
	delete(t.positions, ticker)
	t.archiveClosed(*tp)
	t.emit(now, events.PositionClosed, map[string]any{"ticker": ticker})
}

// Get returns the tracked position for ticker, if any.
func (t *Tracker) Get(ticker string) (*models.TrackedPosition, bool) {
	tp, ok := t.positions[ticker]
	return tp, ok
}

// Has reports whether ticker currently has a tracked position.
func (t *Tracker) Has(ticker string) bool {
	_, ok := t.positions[ticker]
	return ok
}

// All returns every tracked position, in no particular order.
func (t *Tracker) All() []*models.TrackedPosition {
	out := make([]*models.TrackedPosition, 0, len(t.positions))
	for _, tp := range t.positions {
		out = append(out, tp)
	}
	return out
}

// Count returns the number of open tracked positions.
func (t *Tracker) Count() int {
	return len(t.positions)
}

// TotalValue sums market_value across all tracked positions.
func (t *Tracker) TotalValue() float64 {
	var sum float64
	for _, tp := range t.positions {
		sum += tp.MarketValue
	}
	return sum
}

// TotalPnL sums unrealized_pnl across all tracked positions.
func (t *Tracker) TotalPnL() float64 {
	var sum float64
	for _, tp := range t.positions {
		sum += tp.UnrealizedPnL
	}
	return sum
}

// UpdatePrice recomputes market_value/unrealized_pnl/unrealized_pnl_pct for
// ticker from a fresh price. No-op if ticker is not tracked.
func (t *Tracker) UpdatePrice(ticker string, price float64) {
	if tp, ok := t.positions[ticker]; ok {
		tp.Recompute(price)
	}
}
