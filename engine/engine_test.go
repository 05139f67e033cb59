package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhartley/execution-core/broker"
	"github.com/mwhartley/execution-core/cooldown"
	"github.com/mwhartley/execution-core/events"
	"github.com/mwhartley/execution-core/execution"
	"github.com/mwhartley/execution-core/marketdata"
	"github.com/mwhartley/execution-core/models"
	"github.com/mwhartley/execution-core/positions"
	"github.com/mwhartley/execution-core/signalcache"
	"github.com/mwhartley/execution-core/signalqueue"
	"github.com/mwhartley/execution-core/state"
	"github.com/mwhartley/execution-core/strategy"
)

// recordingSink captures every emitted event for assertions on ordering and
// content, the shape a test fake takes in place of the real event handlers.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Emit(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) all() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) indexOf(kind events.Kind, ticker string) int {
	for i, e := range s.all() {
		if e.Kind == kind && e.Fields["ticker"] == ticker {
			return i
		}
	}
	return -1
}

func (s *recordingSink) has(kind events.Kind) bool {
	for _, e := range s.all() {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

type testRig struct {
	engine  *Engine
	sink    *recordingSink
	pb      *broker.PaperBroker
	queue   *signalqueue.Queue
	tracker *positions.Tracker
	cool    *cooldown.Manager
	fake    *marketdata.FakeProvider
	store   *state.Store
}

func newTestRig(t *testing.T, analyzeMode bool, cfg Config) *testRig {
	t.Helper()
	sink := &recordingSink{}
	pb := broker.NewPaperBroker(1_000_000, analyzeMode)
	queue := signalqueue.New(0, 0)
	tracker := positions.New(sink)
	cool := cooldown.New(0)
	cache := signalcache.New(time.Minute)
	fake := marketdata.NewFakeProvider()
	registry := strategy.NewDefaultRegistry()
	orders := execution.NewOrderManager(pb, nil, sink)
	dir := t.TempDir()
	store := state.New(filepath.Join(dir, "state.json"))

	deps := Deps{
		Queue:     queue,
		Tracker:   tracker,
		Cooldowns: cool,
		Cache:     cache,
		Orders:    orders,
		Broker:    pb,
		Registry:  registry,
		Signals:   fake,
		VIX:       fake,
		Account:   fake,
		Clock:     pb,
		Store:     store,
		Sink:      sink,
	}
	e := New(deps, cfg)
	return &testRig{engine: e, sink: sink, pb: pb, queue: queue, tracker: tracker, cool: cool, fake: fake, store: store}
}

func momentumBuySignal(ticker string, priority int) models.PendingSignal {
	return models.PendingSignal{
		Ticker:     ticker,
		Action:     models.ActionBuy,
		Priority:   priority,
		Confidence: 80,
		Source:     "test",
		AgentRecommendation: &models.AgentRecommendation{
			EntryPrice: 50,
			StopLoss:   45,
			Target:     60,
			Quantity:   10,
			TradeType:  models.TradeTypeLong,
		},
	}
}

func momentumAcceptSignals() models.TechnicalSignals {
	return models.TechnicalSignals{Momentum: 10, Score: 0.9, Weak: false, Signals: []string{"breakout"}}
}

func startEngine(t *testing.T, e *Engine) context.Context {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	t.Cleanup(e.Stop)
	return ctx
}

// TestEngine_HappyEntry exercises a single validate-mode acceptance: a
// queued signal with an agent recommendation enters exactly as the agent
// specified once Momentum validates the fresh technicals.
func TestEngine_HappyEntry(t *testing.T) {
	rig := newTestRig(t, false, Config{MaxPositions: 5})
	ctx := startEngine(t, rig.engine)

	rig.fake.Signals["AAPL"] = momentumAcceptSignals()
	ok, reason := rig.engine.AddSignal(momentumBuySignal("AAPL", 1))
	require.True(t, ok, "reason: %v", reason)

	require.NoError(t, rig.engine.RunCycle(ctx))

	assert.True(t, rig.tracker.Has("AAPL"))
	tp, _ := rig.tracker.Get("AAPL")
	assert.Equal(t, 10, tp.Quantity)
	assert.Equal(t, 50.0, tp.AvgEntryPrice)
	assert.True(t, rig.sink.has(events.EntryTriggered))
	assert.True(t, rig.sink.has(events.PositionOpened))
}

// TestEngine_ExitsBeforeEntries confirms the per-cycle ordering invariant:
// a dynamic exit on an existing, non-bracket position is always emitted
// before any entry considered in the same cycle.
func TestEngine_ExitsBeforeEntries(t *testing.T) {
	rig := newTestRig(t, false, Config{MaxPositions: 5})
	ctx := startEngine(t, rig.engine)

	// Seed a broker-side position the tracker will mirror on first sync.
	_, err := rig.pb.SubmitBracketOrder(broker.BracketParams{
		Ticker: "AAA", Side: broker.SideBuy, Quantity: 10, EntryPrice: 100, StopLoss: 90, Target: 120,
	})
	require.NoError(t, err)
	require.NoError(t, rig.engine.RunCycle(ctx))

	tp, ok := rig.tracker.Get("AAA")
	require.True(t, ok)
	tp.StrategyName = "momentum" // normally set by submitEntry; this position arrived via broker sync

	rig.fake.Signals["AAA"] = models.TechnicalSignals{Momentum: -30} // below ImmediateExitMomentum
	rig.fake.Signals["BBB"] = momentumAcceptSignals()
	ok, reason := rig.engine.AddSignal(momentumBuySignal("BBB", 1))
	require.True(t, ok, "reason: %v", reason)

	require.NoError(t, rig.engine.RunCycle(ctx))

	exitIdx := rig.sink.indexOf(events.ExitTriggered, "AAA")
	entryIdx := rig.sink.indexOf(events.EntryTriggered, "BBB")
	require.NotEqual(t, -1, exitIdx, "exit was not emitted")
	require.NotEqual(t, -1, entryIdx, "entry was not emitted")
	assert.Less(t, exitIdx, entryIdx, "exit must be emitted before any entry in the same cycle")
}

// TestEngine_ExitFreesCapacityForEntrySameCycle confirms that a slot freed
// by a successful exit is usable by an entry considered in that same cycle:
// with MaxPositions=1, a full book plus an exiting position must not block
// a queued entry from being evaluated and accepted in the same RunCycle.
func TestEngine_ExitFreesCapacityForEntrySameCycle(t *testing.T) {
	rig := newTestRig(t, false, Config{MaxPositions: 1})
	ctx := startEngine(t, rig.engine)

	_, err := rig.pb.SubmitBracketOrder(broker.BracketParams{
		Ticker: "MSFT", Side: broker.SideBuy, Quantity: 10, EntryPrice: 100, StopLoss: 90, Target: 120,
	})
	require.NoError(t, err)
	require.NoError(t, rig.engine.RunCycle(ctx))

	tp, ok := rig.tracker.Get("MSFT")
	require.True(t, ok)
	tp.StrategyName = "momentum"

	rig.fake.Signals["MSFT"] = models.TechnicalSignals{Momentum: -30} // below ImmediateExitMomentum
	rig.fake.Signals["AAPL"] = momentumAcceptSignals()
	ok, reason := rig.engine.AddSignal(momentumBuySignal("AAPL", 1))
	require.True(t, ok, "reason: %v", reason)

	require.NoError(t, rig.engine.RunCycle(ctx))

	exitIdx := rig.sink.indexOf(events.ExitTriggered, "MSFT")
	entryIdx := rig.sink.indexOf(events.EntryTriggered, "AAPL")
	require.NotEqual(t, -1, exitIdx, "exit was not emitted")
	require.NotEqual(t, -1, entryIdx, "entry was not emitted in the same cycle the exit freed its slot")
	assert.Less(t, exitIdx, entryIdx, "exit must be emitted before the entry it freed capacity for")
	assert.False(t, rig.tracker.Has("MSFT"), "exited position should be removed from the tracker immediately")
	assert.True(t, rig.tracker.Has("AAPL"))
}

// TestEngine_BracketPositionNeverEvaluatesExit verifies that a position
// opened with a bracket order is never handed to a strategy's EvaluateExit:
// the bracket is primary, dynamic exit is only the override for positions
// the bracket never protected.
func TestEngine_BracketPositionNeverEvaluatesExit(t *testing.T) {
	rig := newTestRig(t, false, Config{MaxPositions: 5})
	ctx := startEngine(t, rig.engine)

	rig.fake.Signals["AAPL"] = momentumAcceptSignals()
	ok, _ := rig.engine.AddSignal(momentumBuySignal("AAPL", 1))
	require.True(t, ok)
	require.NoError(t, rig.engine.RunCycle(ctx))

	tp, ok := rig.tracker.Get("AAPL")
	require.True(t, ok)
	require.True(t, tp.HasBracketOrder)

	// Signals that would otherwise force an immediate exit must be ignored
	// for a bracket-protected position.
	rig.fake.Signals["AAPL"] = models.TechnicalSignals{Momentum: -99}
	require.NoError(t, rig.engine.RunCycle(ctx))

	assert.Equal(t, -1, rig.sink.indexOf(events.ExitTriggered, "AAPL"))
	assert.True(t, rig.tracker.Has("AAPL"))
}

// TestEngine_SafetyInvariantBlocksMalformedEntry confirms a strategy that
// returns should_enter=true without a stop loss never reaches the broker.
func TestEngine_SafetyInvariantBlocksMalformedEntry(t *testing.T) {
	rig := newTestRig(t, false, Config{MaxPositions: 5})
	ctx := startEngine(t, rig.engine)

	rig.engine.deps.Registry.Register("reckless", func(strategy.Config) (strategy.Strategy, error) {
		return recklessStrategy{}, nil
	})
	require.NoError(t, rig.engine.SetStrategy("reckless"))

	ok, _ := rig.engine.AddSignal(models.PendingSignal{Ticker: "ZZZ", Action: models.ActionBuy, Priority: 1, Confidence: 50})
	require.True(t, ok)

	require.NoError(t, rig.engine.RunCycle(ctx))

	assert.False(t, rig.tracker.Has("ZZZ"))
	assert.True(t, rig.sink.has(events.StrategyError))
}

type recklessStrategy struct{ strategy.Base }

func (recklessStrategy) Name() string { return "reckless" }
func (recklessStrategy) EvaluateEntry(models.PendingSignal, models.MarketContext, models.TechnicalSignals) models.EntryDecision {
	return models.EntryDecision{ShouldEnter: true, Reason: "no discipline", SuggestedSize: 10, EntryPrice: 50}
}
func (recklessStrategy) EvaluateExit(models.TrackedPosition, models.TechnicalSignals, models.MarketContext) models.ExitDecision {
	return models.Hold("n/a")
}

// TestEngine_AnalyzeModeTracksLocallyWithoutBrokerEffect confirms dry-run
// submissions still create a local TrackedPosition and mark it as such.
func TestEngine_AnalyzeModeTracksLocallyWithoutBrokerEffect(t *testing.T) {
	rig := newTestRig(t, true, Config{MaxPositions: 5})
	ctx := startEngine(t, rig.engine)

	rig.fake.Signals["AAPL"] = momentumAcceptSignals()
	ok, _ := rig.engine.AddSignal(momentumBuySignal("AAPL", 1))
	require.True(t, ok)
	require.NoError(t, rig.engine.RunCycle(ctx))

	tp, ok := rig.tracker.Get("AAPL")
	require.True(t, ok)
	require.NotEmpty(t, tp.Notes)

	idx := rig.sink.indexOf(events.EntryTriggered, "AAPL")
	require.NotEqual(t, -1, idx)
	assert.Equal(t, true, rig.sink.all()[idx].Fields["dry_run"])
}

// TestEngine_PriorityOrderingRespectsCapacity confirms that when fewer
// slots are available than queued signals, the highest-priority (lowest
// numeric value) signal is admitted first and the rest remain queued.
func TestEngine_PriorityOrderingRespectsCapacity(t *testing.T) {
	rig := newTestRig(t, false, Config{MaxPositions: 1})
	ctx := startEngine(t, rig.engine)

	rig.fake.Signals["AAA"] = momentumAcceptSignals()
	rig.fake.Signals["BBB"] = momentumAcceptSignals()

	ok, _ := rig.engine.AddSignal(momentumBuySignal("AAA", 5))
	require.True(t, ok)
	ok, _ = rig.engine.AddSignal(momentumBuySignal("BBB", 1))
	require.True(t, ok)

	require.NoError(t, rig.engine.RunCycle(ctx))

	assert.True(t, rig.tracker.Has("BBB"), "the higher-priority signal should be admitted first")
	assert.False(t, rig.tracker.Has("AAA"))
	assert.True(t, rig.queue.Contains("AAA"), "the lower-priority signal should remain queued")
}

// failingSyncBroker wraps a working broker but always fails ListPositions,
// simulating a broker outage mid-cycle.
type failingSyncBroker struct {
	*broker.PaperBroker
}

func (f failingSyncBroker) ListPositions() ([]models.BrokerPosition, error) {
	return nil, errSimulatedOutage
}

type simulatedError string

func (e simulatedError) Error() string { return string(e) }

var errSimulatedOutage = simulatedError("simulated broker outage")

// TestEngine_BrokerSyncFailureAbortsCycle confirms a step-2 sync failure
// aborts the cycle before entries or persistence run.
func TestEngine_BrokerSyncFailureAbortsCycle(t *testing.T) {
	rig := newTestRig(t, false, Config{MaxPositions: 5})
	rig.engine.deps.Broker = failingSyncBroker{PaperBroker: rig.pb}
	ctx := startEngine(t, rig.engine)

	rig.fake.Signals["AAPL"] = momentumAcceptSignals()
	ok, _ := rig.engine.AddSignal(momentumBuySignal("AAPL", 1))
	require.True(t, ok)

	err := rig.engine.RunCycle(ctx)
	require.Error(t, err)

	assert.True(t, rig.sink.has(events.SyncFailed))
	assert.False(t, rig.sink.has(events.CycleComplete))
	assert.False(t, rig.tracker.Has("AAPL"), "entries must not run after an aborted sync")
}

// cancelOnPollBroker reports a canned set of order events on the next poll,
// standing in for a broker that canceled an order out from under the engine.
type cancelOnPollBroker struct {
	*broker.PaperBroker
	pending []broker.OrderEvent
}

func (b *cancelOnPollBroker) PollOrders() ([]broker.OrderEvent, error) {
	out := b.pending
	b.pending = nil
	return out, nil
}

// TestEngine_CanceledOrderClearsOutstandingWithoutCooldown confirms a
// broker-side cancellation drops the ticker's outstanding-order entry and
// emits order_canceled, but never feeds the reject counter that leads to a
// repeated-rejects cooldown.
func TestEngine_CanceledOrderClearsOutstandingWithoutCooldown(t *testing.T) {
	rig := newTestRig(t, false, Config{MaxPositions: 5})
	ctx := startEngine(t, rig.engine)

	rig.fake.Signals["AAPL"] = momentumAcceptSignals()
	ok, _ := rig.engine.AddSignal(momentumBuySignal("AAPL", 1))
	require.True(t, ok)
	require.NoError(t, rig.engine.RunCycle(ctx))

	orderID, tracked := rig.engine.outstanding["AAPL"]
	require.True(t, tracked)

	cb := &cancelOnPollBroker{PaperBroker: rig.pb, pending: []broker.OrderEvent{
		{Kind: broker.OrderCanceled, OrderID: orderID, Ticker: "AAPL", Reason: "canceled"},
	}}
	rig.engine.deps.Orders = execution.NewOrderManager(cb, nil, rig.sink)
	require.NoError(t, rig.engine.RunCycle(ctx))

	assert.True(t, rig.sink.has(events.OrderCanceled))
	_, stillTracked := rig.engine.outstanding["AAPL"]
	assert.False(t, stillTracked, "canceled order must stop being tracked as outstanding")
	assert.False(t, rig.cool.Contains("AAPL", time.Now()), "a cancel is not a rejection and must not cool the ticker down")
}

// TestEngine_PersistenceRoundTrip confirms a persisted cycle's queued
// signals and tracked positions survive into a freshly constructed engine
// sharing the same state store.
func TestEngine_PersistenceRoundTrip(t *testing.T) {
	rig := newTestRig(t, false, Config{MaxPositions: 1})
	ctx := startEngine(t, rig.engine)

	rig.fake.Signals["AAA"] = momentumAcceptSignals()
	rig.fake.Signals["BBB"] = momentumAcceptSignals()
	ok, _ := rig.engine.AddSignal(momentumBuySignal("AAA", 5))
	require.True(t, ok)
	ok, _ = rig.engine.AddSignal(momentumBuySignal("BBB", 1)) // admitted; AAA stays queued
	require.True(t, ok)
	require.NoError(t, rig.engine.RunCycle(ctx))
	rig.engine.Stop()

	// A second engine, fresh in-memory state, pointed at the same store.
	sink2 := &recordingSink{}
	queue2 := signalqueue.New(0, 0)
	tracker2 := positions.New(sink2)
	cool2 := cooldown.New(0)
	cache2 := signalcache.New(time.Minute)
	orders2 := execution.NewOrderManager(rig.pb, nil, sink2)
	deps2 := Deps{
		Queue: queue2, Tracker: tracker2, Cooldowns: cool2, Cache: cache2,
		Orders: orders2, Broker: rig.pb, Registry: strategy.NewDefaultRegistry(),
		Signals: rig.fake, VIX: rig.fake, Clock: rig.pb, Store: rig.store, Sink: sink2,
	}
	e2 := New(deps2, Config{MaxPositions: 1})
	ctx2 := startEngine(t, e2)
	require.NoError(t, e2.RunCycle(ctx2))

	assert.True(t, queue2.Contains("AAA"), "the still-queued signal must survive a restart")
	assert.True(t, tracker2.Has("BBB"), "the open position must survive a restart")
}
