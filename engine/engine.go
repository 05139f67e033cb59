// Package engine implements the execution core's single run loop: the
// cycle that orchestrates sync -> exits -> entries -> poll -> persist ->
// emit, owns every other engine-scoped component, and enforces the "exits
// before entries" and concurrency-cap invariants. Technical-signal cache
// fills within a cycle fan out on errgroup.Group so they're bounded by the
// cycle deadline rather than fire-and-forget; the broker sync is a single
// call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mwhartley/execution-core/broker"
	"github.com/mwhartley/execution-core/cooldown"
	"github.com/mwhartley/execution-core/events"
	"github.com/mwhartley/execution-core/execution"
	"github.com/mwhartley/execution-core/ledger"
	"github.com/mwhartley/execution-core/marketdata"
	"github.com/mwhartley/execution-core/models"
	"github.com/mwhartley/execution-core/positions"
	"github.com/mwhartley/execution-core/signalcache"
	"github.com/mwhartley/execution-core/signalqueue"
	"github.com/mwhartley/execution-core/state"
	"github.com/mwhartley/execution-core/strategy"
	"github.com/mwhartley/execution-core/tracing"
)

// RunState is one of the engine's three lifecycle states.
type RunState string

const (
	StateStopped  RunState = "stopped"
	StateRunning  RunState = "running"
	StateDraining RunState = "draining"
)

// Default tuning values.
const (
	DefaultCheckInterval        = 120 * time.Second
	DefaultMaxPositions         = 10
	DefaultMaxRejectBeforeCool  = 3
	DefaultCycleDeadlineMargin  = 10 * time.Second
	DefaultBrokerCallTimeout    = 30 * time.Second
	rejectWindow                = time.Hour
)

// autonomousRoster is the fixed evaluation order for strategies that detect
// their own setup. Momentum never appears here: it only fires in validate
// mode, selected by the presence of an agent recommendation on the signal.
var autonomousRoster = []string{"breakout", "mean_reversion"}

// Config tunes the engine's concurrency caps and cycle cadence.
type Config struct {
	MaxPositions         int
	MaxSignals           int
	MaxRejectBeforeCooldown int
	CheckInterval        time.Duration
	CycleDeadlineMargin  time.Duration
	DefaultCooldown      time.Duration
	AnalyzeMode          bool
}

// WithDefaults fills zero-valued fields with their stated defaults.
func (c Config) WithDefaults() Config {
	if c.MaxPositions <= 0 {
		c.MaxPositions = DefaultMaxPositions
	}
	if c.MaxSignals <= 0 {
		c.MaxSignals = signalqueue.DefaultCapacity
	}
	if c.MaxRejectBeforeCooldown <= 0 {
		c.MaxRejectBeforeCooldown = DefaultMaxRejectBeforeCool
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.CycleDeadlineMargin <= 0 {
		c.CycleDeadlineMargin = DefaultCycleDeadlineMargin
	}
	if c.DefaultCooldown <= 0 {
		c.DefaultCooldown = cooldown.DefaultDuration
	}
	return c
}

// Deps bundles every collaborator the engine owns or calls out to. Queue,
// Tracker, Cooldowns and Cache are engine-owned state (single-writer: this
// package's loop goroutine, except Queue.Add which is the admission port's
// sole concurrent entry point). Broker, Signals, VIX and Account are
// external collaborators. Ledger and Clock are optional.
type Deps struct {
	Queue     *signalqueue.Queue
	Tracker   *positions.Tracker
	Cooldowns *cooldown.Manager
	Cache     *signalcache.Cache
	Orders    *execution.OrderManager
	Broker    broker.Broker
	Registry  *strategy.Registry
	Signals   marketdata.TechnicalSignalsProvider
	VIX       marketdata.VIXProvider
	Account   marketdata.AccountProvider
	Clock     broker.MarketClock
	Store     *state.Store
	Sink      events.Sink
	Ledger    *ledger.Ledger
}

// Engine is the execution core's single run loop. Construct with New.
type Engine struct {
	deps Deps
	cfg  Config

	mu             sync.Mutex
	runState       RunState
	activeStrategy string // "" = automatic selection, see selectEntryCandidates
	loadedState    bool
	outstanding    map[string]string   // ticker -> order id, persisted across restarts
	rejectHistory  map[string][]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds an Engine from its dependencies and tuning config.
func New(deps Deps, cfg Config) *Engine {
	if deps.Clock == nil {
		deps.Clock = alwaysOpenClock{}
	}
	return &Engine{
		deps:          deps,
		cfg:           cfg.WithDefaults(),
		runState:      StateStopped,
		outstanding:   make(map[string]string),
		rejectHistory: make(map[string][]time.Time),
	}
}

type alwaysOpenClock struct{}

func (alwaysOpenClock) Status(time.Time) models.MarketStatus { return models.MarketOpen }

// State returns the engine's current lifecycle state.
func (e *Engine) State() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runState
}

// SetAnalyzeMode records the analyze-mode flag that AnalyzeMode reports.
// It does not change how orders are submitted: whether a submission is a
// dry run is decided by the broker the engine was built with (for
// PaperBroker, the analyzeMode argument of NewPaperBroker).
func (e *Engine) SetAnalyzeMode(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.AnalyzeMode = on
}

// AnalyzeMode reports the last value passed to SetAnalyzeMode / Config.
func (e *Engine) AnalyzeMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.AnalyzeMode
}

// SetStrategy pins every entry evaluation to a single named strategy,
// overriding the default automatic selection (momentum for agent-validated
// signals, the autonomous roster otherwise). Pass "" to restore automatic
// selection. Fails with strategy.ErrUnknownStrategy if name is not
// registered.
func (e *Engine) SetStrategy(name string) error {
	if name != "" {
		if _, err := e.deps.Registry.Get(name, nil); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeStrategy = name
	return nil
}

// ResetState deletes the persisted state file and empties the in-memory
// queue, positions, cooldowns and outstanding orders, so the next cycle
// starts from empty engine-owned state. It fails unless the engine is
// stopped.
func (e *Engine) ResetState() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runState != StateStopped {
		return fmt.Errorf("engine is %s: stop it before resetting state", e.runState)
	}
	for _, sig := range e.deps.Queue.Peek() {
		e.deps.Queue.Remove(sig.Ticker)
	}
	e.deps.Tracker.RestorePositions(nil)
	e.deps.Cooldowns.Restore(nil)
	e.outstanding = make(map[string]string)
	e.rejectHistory = make(map[string][]time.Time)
	if e.deps.Store == nil {
		return nil
	}
	return e.deps.Store.Reset()
}

// AddSignal is the external admission port: the sole concurrent entry point
// into engine-owned state, synchronized by the queue's own mutex. Accepted
// only while the engine is running.
func (e *Engine) AddSignal(sig models.PendingSignal) (bool, signalqueue.RejectReason) {
	now := time.Now().UTC()
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	if err := sig.Validate(); err != nil {
		e.emit(now, events.SignalRejected, map[string]any{"ticker": sig.Ticker, "reason": err.Error()})
		return false, signalqueue.RejectReason(err.Error())
	}
	if e.State() != StateRunning {
		e.emit(now, events.SignalRejected, map[string]any{"ticker": sig.Ticker, "reason": "engine not running"})
		return false, "not_running"
	}

	ok, reason := e.deps.Queue.Add(sig, now)
	if ok {
		e.emit(now, events.SignalAccepted, map[string]any{"ticker": sig.Ticker, "priority": sig.Priority})
	} else {
		e.emit(now, events.SignalRejected, map[string]any{"ticker": sig.Ticker, "reason": string(reason)})
	}
	return ok, reason
}

// Start transitions stopped -> running and begins driving RunCycle on
// cfg.CheckInterval until Stop is called. Returns an error if already
// running or draining.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.runState != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("engine already %s", e.runState)
	}
	e.runState = StateRunning
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop(ctx)
	return nil
}

// Stop requests a graceful shutdown: running -> draining immediately, then
// draining -> stopped once the in-flight cycle (if any) completes its
// persistence step. Blocks until the transition to stopped completes.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.runState != StateRunning {
		e.mu.Unlock()
		return
	}
	e.runState = StateDraining
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	e.runState = StateStopped
	e.mu.Unlock()
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			traceID := tracing.NewTraceID()
			cycleCtx, cancel := context.WithTimeout(tracing.WithTraceID(ctx, traceID), e.cfg.CheckInterval-e.cfg.CycleDeadlineMargin)
			if err := e.RunCycle(cycleCtx); err != nil {
				logger := tracing.Logger(cycleCtx)
				logger.Error().Err(err).Msg("cycle aborted")
			}
			cancel()
		}
	}
}

func (e *Engine) emit(now time.Time, kind events.Kind, fields map[string]any) {
	if e.deps.Sink == nil {
		return
	}
	e.deps.Sink.Emit(events.New(now, kind, fields))
}

// RunCycle performs exactly one cycle: pre-cycle setup, broker sync, exits,
// capacity check, entries, order polling, persistence and a summary event --
// in that order, every time.
func (e *Engine) RunCycle(ctx context.Context) error {
	now := time.Now().UTC()
	logger := tracing.Logger(ctx)

	// Step 1: pre-cycle. Clear the per-cycle technical signal cache under
	// the clear-at-cycle-start policy and, on the very first cycle of this
	// process's lifetime, load persisted state.
	e.deps.Cache.Clear()
	if err := e.loadPersistedOnce(); err != nil {
		logger.Warn().Err(err).Msg("failed to load persisted state, starting empty")
	}
	e.deps.Queue.PruneExpired(now)
	e.deps.Cooldowns.Prune(now)

	// Step 2: sync positions from the broker.
	before := tickerSet(e.deps.Tracker.All())
	brokerPositions, err := e.deps.Broker.ListPositions()
	if err != nil {
		e.emit(now, events.SyncFailed, map[string]any{"reason": err.Error()})
		return fmt.Errorf("broker sync failed, aborting cycle: %w", err)
	}
	e.deps.Tracker.SyncFromBroker(now, brokerPositions)
	after := tickerSet(e.deps.Tracker.All())
	for ticker := range before {
		if _, ok := after[ticker]; !ok {
			delete(e.outstanding, ticker)
		}
	}

	marketStatus := e.deps.Clock.Status(now)

	// Step 3: process exits before any entry is considered. A successful
	// close removes the position from the tracker immediately, so a slot it
	// frees is visible to the capacity check below within the same cycle.
	e.processExits(ctx, now, marketStatus, logger)

	// Step 4: check capacity.
	availableSlots := e.cfg.MaxPositions - e.deps.Tracker.Count()

	// Step 5: process entries, priority order, up to availableSlots.
	if availableSlots > 0 {
		e.processEntries(ctx, now, marketStatus, availableSlots, logger)
	}

	// Step 6: poll order events.
	e.pollOrderEvents(now, logger)

	// Step 7: persist state.
	e.persist(now, logger)

	// Step 8: emit a cycle summary.
	e.emit(now, events.CycleComplete, map[string]any{
		"positions":    e.deps.Tracker.Count(),
		"queue_size":   e.deps.Queue.Size(),
		"market_status": string(marketStatus),
	})
	return nil
}

// accountSnapshot returns the current equity/buying-power figures used to
// build MarketContext. deps.Account, when supplied, is preferred (it exists
// so the snapshot can be unit-tested or sourced independently of the
// broker's own connection); otherwise it falls back to the broker's own
// account capability.
func (e *Engine) accountSnapshot() (equity, buyingPower float64, err error) {
	if e.deps.Account != nil {
		return e.deps.Account.GetAccountSnapshot()
	}
	account, err := e.deps.Broker.GetAccount()
	if err != nil {
		return 0, 0, err
	}
	return account.Equity, account.BuyingPower, nil
}

func tickerSet(all []*models.TrackedPosition) map[string]struct{} {
	out := make(map[string]struct{}, len(all))
	for _, p := range all {
		out[p.Ticker] = struct{}{}
	}
	return out
}

func (e *Engine) loadPersistedOnce() error {
	e.mu.Lock()
	if e.loadedState || e.deps.Store == nil {
		e.mu.Unlock()
		return nil
	}
	e.loadedState = true
	e.mu.Unlock()

	st, err := e.deps.Store.Load()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, sig := range st.Signals {
		e.deps.Queue.Add(sig, now)
	}
	e.deps.Tracker.RestorePositions(st.Positions)
	e.deps.Cooldowns.Restore(st.Cooldowns)
	e.mu.Lock()
	for k, v := range st.OutstandingOrders {
		e.outstanding[k] = v
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) buildContext(status models.MarketStatus, now time.Time) (models.MarketContext, error) {
	existing := make(map[string]struct{})
	for _, p := range e.deps.Tracker.All() {
		existing[p.Ticker] = struct{}{}
	}
	cooldownTickers := e.deps.Cooldowns.AllActive(now)

	equity, buyingPower, err := e.accountSnapshot()
	vix := models.NeutralVIX
	if e.deps.VIX != nil {
		if v, vErr := e.deps.VIX.GetVIX(); vErr == nil {
			vix = v
		}
	}
	return models.MarketContext{
		VIX:               vix,
		MarketStatus:      status,
		AccountEquity:     equity,
		BuyingPower:       buyingPower,
		ExistingPositions: existing,
		CooldownTickers:   cooldownTickers,
	}, err
}

// processExits implements step 3. Positions with an active bracket order
// skip strategy-driven evaluation entirely -- the bracket is primary and
// the broker manages it; dynamic exit is only the emergency override for
// positions the bracket submission never protected.
func (e *Engine) processExits(ctx context.Context, now time.Time, status models.MarketStatus, logger zerolog.Logger) {
	all := e.deps.Tracker.All()

	var evaluable []*models.TrackedPosition
	for _, p := range all {
		if !p.HasBracketOrder {
			evaluable = append(evaluable, p)
		}
	}
	sort.Slice(evaluable, func(i, j int) bool { return evaluable[i].Ticker < evaluable[j].Ticker })

	signals := e.fetchSignalsConcurrently(ctx, tickersOf(evaluable), logger)

	for _, pos := range evaluable {
		decision, strategyErr := e.evaluateExit(pos, signals, status, now)
		if strategyErr != nil {
			logger.Warn().Err(strategyErr).Str("ticker", pos.Ticker).Msg("strategy exit evaluation failed")
			e.emit(now, events.StrategyError, map[string]any{"ticker": pos.Ticker, "reason": strategyErr.Error(), "stage": "exit"})
			continue
		}
		if !decision.ShouldExit {
			continue
		}

		var result broker.BracketResult
		var err error
		if decision.Urgency == models.UrgencyImmediate {
			result, err = e.deps.Orders.ClosePositionImmediate(pos.Ticker)
		} else {
			result, err = e.deps.Orders.ClosePosition(pos.Ticker)
		}
		if err != nil {
			e.recordReject(pos.Ticker, now)
			continue
		}

		pos.ExitAttempts++
		t := now
		pos.LastExitAttempt = &t
		e.deps.Cooldowns.Add(pos.Ticker, e.cfg.DefaultCooldown, "exit", "engine", now)
		if e.deps.Ledger != nil {
			_ = e.deps.Ledger.RecordDecision(ledger.DecisionRecord{Ticker: pos.Ticker, Strategy: pos.StrategyName, Kind: "exit", Accepted: true, Reason: decision.Reason, OccurredAt: now})
		}
		e.emit(now, events.ExitTriggered, map[string]any{
			"ticker": pos.Ticker, "reason": decision.Reason, "urgency": string(decision.Urgency), "order_id": result.OrderID,
		})

		// Drop the position now rather than waiting for the next cycle's
		// SyncFromBroker, so the capacity check immediately after this
		// function returns sees the freed slot.
		e.deps.Tracker.Remove(pos.Ticker, now)
		delete(e.outstanding, pos.Ticker)
	}
}

func tickersOf(positions []*models.TrackedPosition) []string {
	out := make([]string, len(positions))
	for i, p := range positions {
		out[i] = p.Ticker
	}
	return out
}

// fetchSignalsConcurrently fans per-ticker technical signal lookups out
// across an errgroup bounded by ctx's deadline, filling the cache as each
// call completes. A per-ticker fetch error is recorded, not propagated -- a
// single slow or failing signal provider must not abort the whole cycle.
func (e *Engine) fetchSignalsConcurrently(ctx context.Context, tickers []string, logger zerolog.Logger) map[string]signalResult {
	out := make(map[string]signalResult, len(tickers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, ticker := range tickers {
		ticker := ticker
		g.Go(func() error {
			now := time.Now().UTC()
			sig, err := e.deps.Cache.GetOrFetch(ticker, now, func(t string) (models.TechnicalSignals, error) {
				select {
				case <-gctx.Done():
					return models.TechnicalSignals{}, gctx.Err()
				default:
				}
				if e.deps.Signals == nil {
					return models.TechnicalSignals{}, errors.New("no signal provider configured")
				}
				return e.deps.Signals.GetSignals(t)
			})
			mu.Lock()
			out[ticker] = signalResult{signal: sig, err: err}
			mu.Unlock()
			if err != nil {
				logger.Debug().Err(err).Str("ticker", ticker).Msg("technical signal fetch failed")
			}
			return nil
		})
	}
	_ = g.Wait() // per-ticker errors are recorded in `out`, never propagated
	return out
}

type signalResult struct {
	signal models.TechnicalSignals
	err    error
}

func (e *Engine) evaluateExit(pos *models.TrackedPosition, signals map[string]signalResult, status models.MarketStatus, now time.Time) (decision models.ExitDecision, err error) {
	res, ok := signals[pos.Ticker]
	if !ok || res.err != nil {
		return models.Hold("signals_unavailable"), nil
	}

	strat, strategyErr := e.deps.Registry.Get(pos.StrategyName, nil)
	if strategyErr != nil {
		return models.Hold("strategy_unavailable"), nil
	}

	mc, _ := e.buildContext(status, now)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	decision = strat.EvaluateExit(*pos, res.signal, mc)
	return decision, nil
}

func (e *Engine) recordReject(ticker string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	history := append(e.rejectHistory[ticker], now)
	cutoff := now.Add(-rejectWindow)
	pruned := history[:0]
	for _, t := range history {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	e.rejectHistory[ticker] = pruned
	if len(pruned) >= e.cfg.MaxRejectBeforeCooldown {
		e.deps.Cooldowns.Add(ticker, e.cfg.DefaultCooldown, "repeated_rejects", "engine", now)
	}
}

// candidateStrategies returns, in evaluation order, the strategy names the
// engine should try for sig's entry decision. When an operator has pinned a
// strategy via SetStrategy, that single name is tried regardless of the
// signal's shape. Otherwise a signal carrying an agent recommendation is
// validate-mode (momentum, taken verbatim); a bare signal is tried against
// every autonomous strategy in a fixed order until one accepts.
func (e *Engine) candidateStrategies(sig models.PendingSignal) []string {
	e.mu.Lock()
	pinned := e.activeStrategy
	e.mu.Unlock()
	if pinned != "" {
		return []string{pinned}
	}
	if sig.AgentRecommendation != nil {
		return []string{"momentum"}
	}
	return autonomousRoster
}

// processEntries implements step 5: pop up to availableSlots signals in
// priority order and evaluate each against its candidate strategy(ies).
func (e *Engine) processEntries(ctx context.Context, now time.Time, status models.MarketStatus, availableSlots int, logger zerolog.Logger) {
	popped := e.deps.Queue.PopReady(now, availableSlots)
	if len(popped) == 0 {
		return
	}

	tickers := make([]string, len(popped))
	for i, sig := range popped {
		tickers[i] = sig.Ticker
	}
	signals := e.fetchSignalsConcurrently(ctx, tickers, logger)

	for _, sig := range popped {
		if e.deps.Tracker.Count() >= e.cfg.MaxPositions {
			e.emit(now, events.CapacityReached, map[string]any{"ticker": sig.Ticker})
			continue
		}

		mc, _ := e.buildContext(status, now)
		if mc.MarketStatus != models.MarketOpen {
			e.emit(now, events.SignalRejected, map[string]any{"ticker": sig.Ticker, "reason": "market_closed"})
			continue
		}
		if mc.HasPosition(sig.Ticker) {
			e.emit(now, events.SignalRejected, map[string]any{"ticker": sig.Ticker, "reason": "existing_position"})
			continue
		}
		if mc.InCooldown(sig.Ticker) {
			e.emit(now, events.SignalRejected, map[string]any{"ticker": sig.Ticker, "reason": "cooldown"})
			continue
		}

		res, ok := signals[sig.Ticker]
		if !ok || res.err != nil {
			e.emit(now, events.SignalRejected, map[string]any{"ticker": sig.Ticker, "reason": "signals_unavailable"})
			continue
		}

		decision, strategyName, strategyErr := e.evaluateEntry(sig, mc, res.signal)
		if strategyErr != nil {
			logger.Warn().Err(strategyErr).Str("ticker", sig.Ticker).Msg("strategy entry evaluation failed")
			e.emit(now, events.StrategyError, map[string]any{"ticker": sig.Ticker, "reason": strategyErr.Error(), "stage": "entry"})
			continue
		}
		if e.deps.Ledger != nil {
			_ = e.deps.Ledger.RecordDecision(ledger.DecisionRecord{Ticker: sig.Ticker, Strategy: strategyName, Kind: "entry", Accepted: decision.ShouldEnter, Reason: decision.Reason, OccurredAt: now})
		}
		if !decision.ShouldEnter {
			e.emit(now, events.SignalRejected, map[string]any{"ticker": sig.Ticker, "reason": decision.Reason})
			continue
		}

		// Safety invariant: an accepted entry must carry a stop loss and a
		// positive size before it ever reaches the broker.
		if !decision.Valid() {
			e.emit(now, events.StrategyError, map[string]any{"ticker": sig.Ticker, "reason": "entry decision violates safety invariant"})
			continue
		}

		e.submitEntry(sig, decision, strategyName, now)
	}
}

func (e *Engine) evaluateEntry(sig models.PendingSignal, mc models.MarketContext, signals models.TechnicalSignals) (decision models.EntryDecision, strategyName string, err error) {
	for _, name := range e.candidateStrategies(sig) {
		strat, getErr := e.deps.Registry.Get(name, nil)
		if getErr != nil {
			continue
		}
		d, evalErr := e.evaluateEntrySafe(strat, sig, mc, signals)
		if evalErr != nil {
			return models.EntryDecision{}, name, evalErr
		}
		if d.ShouldEnter {
			return d, name, nil
		}
		decision, strategyName = d, name
	}
	if strategyName == "" {
		decision = models.EntryDecision{Reason: "no eligible strategy"}
	}
	return decision, strategyName, nil
}

func (e *Engine) evaluateEntrySafe(strat strategy.Strategy, sig models.PendingSignal, mc models.MarketContext, signals models.TechnicalSignals) (decision models.EntryDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	decision = strat.EvaluateEntry(sig, mc, signals)
	return decision, nil
}

func (e *Engine) submitEntry(sig models.PendingSignal, decision models.EntryDecision, strategyName string, now time.Time) {
	side := actionToSide(sig.Action)
	params := broker.BracketParams{
		Ticker:     sig.Ticker,
		Side:       side,
		Quantity:   decision.SuggestedSize,
		EntryPrice: decision.EntryPrice,
		StopLoss:   decision.StopLoss,
		Target:     decision.Target,
	}

	result, err := e.deps.Orders.SubmitBracketOrder(params, now)
	if err != nil {
		e.recordReject(sig.Ticker, now)
		return
	}

	posSide := models.SideLong
	if side == broker.SideShort {
		posSide = models.SideShort
	}
	stopLoss, target := decision.StopLoss, decision.Target
	tp := e.deps.Tracker.AddPosition(sig.Ticker, posSide, decision.SuggestedSize, decision.EntryPrice, strategyName, &stopLoss, &target, result.OrderID, now)
	if result.DryRun {
		tp.AddNote("opened under analyze mode: next sync will close it, the tracked position is local-only simulation")
	}

	e.mu.Lock()
	e.outstanding[sig.Ticker] = result.OrderID
	e.mu.Unlock()

	if e.deps.Ledger != nil {
		_ = e.deps.Ledger.RecordOrder(ledger.OrderRecord{
			ID: result.OrderID, Ticker: sig.Ticker, Side: string(side), Quantity: decision.SuggestedSize,
			EntryPrice: decision.EntryPrice, StopLoss: decision.StopLoss, Target: decision.Target,
			Strategy: strategyName, DryRun: result.DryRun, CreatedAt: now,
		})
	}
	e.emit(now, events.EntryTriggered, map[string]any{
		"ticker": sig.Ticker, "strategy": strategyName, "quantity": decision.SuggestedSize,
		"entry_price": decision.EntryPrice, "order_id": result.OrderID, "dry_run": result.DryRun,
	})
	e.emit(now, events.PositionOpened, map[string]any{"ticker": sig.Ticker, "strategy": strategyName})
}

func actionToSide(a models.Action) broker.Side {
	switch a {
	case models.ActionSell:
		return broker.SideSell
	case models.ActionShort:
		return broker.SideShort
	case models.ActionCover:
		return broker.SideCover
	default:
		return broker.SideBuy
	}
}

// pollOrderEvents implements step 6: relay fills/rejections from the order
// manager, updating tracked prices on fill and the per-ticker reject
// counter (and its cooldown threshold) on rejection.
func (e *Engine) pollOrderEvents(now time.Time, logger zerolog.Logger) {
	evts, err := e.deps.Orders.PollOrders()
	if err != nil {
		logger.Warn().Err(err).Msg("poll orders failed")
		return
	}
	for _, ev := range evts {
		switch ev.Kind {
		case broker.OrderFilled:
			e.deps.Tracker.UpdatePrice(ev.Ticker, ev.Price)
			e.emit(now, events.OrderFilled, map[string]any{"ticker": ev.Ticker, "order_id": ev.OrderID, "price": ev.Price, "quantity": ev.Quantity})
			if e.deps.Ledger != nil {
				_ = e.deps.Ledger.RecordFill(ledger.FillRecord{OrderID: ev.OrderID, Ticker: ev.Ticker, Kind: string(ev.Kind), Price: ev.Price, Quantity: ev.Quantity, OccurredAt: now})
			}
		case broker.OrderRejected:
			e.recordReject(ev.Ticker, now)
			e.emit(now, events.OrderRejected, map[string]any{"ticker": ev.Ticker, "order_id": ev.OrderID, "reason": ev.Reason})
			if e.deps.Ledger != nil {
				_ = e.deps.Ledger.RecordFill(ledger.FillRecord{OrderID: ev.OrderID, Ticker: ev.Ticker, Kind: string(ev.Kind), Reason: ev.Reason, OccurredAt: now})
			}
		case broker.OrderCanceled:
			// Not a broker refusal, so no reject counter; the order is simply
			// gone and should stop being tracked as outstanding.
			e.mu.Lock()
			if e.outstanding[ev.Ticker] == ev.OrderID {
				delete(e.outstanding, ev.Ticker)
			}
			e.mu.Unlock()
			e.emit(now, events.OrderCanceled, map[string]any{"ticker": ev.Ticker, "order_id": ev.OrderID, "reason": ev.Reason})
			if e.deps.Ledger != nil {
				_ = e.deps.Ledger.RecordFill(ledger.FillRecord{OrderID: ev.OrderID, Ticker: ev.Ticker, Kind: string(ev.Kind), Reason: ev.Reason, OccurredAt: now})
			}
		}
	}
}

// persist implements step 7: an atomic snapshot of every piece of
// engine-owned state. A write failure is reported as a persistence_failed
// event and otherwise swallowed -- data loss on crash is tolerated rather
// than halting the trading loop.
func (e *Engine) persist(now time.Time, logger zerolog.Logger) {
	if e.deps.Store == nil {
		return
	}
	st := state.Empty()
	st.Signals = e.deps.Queue.Peek()

	var trackedPositions []models.TrackedPosition
	for _, p := range e.deps.Tracker.All() {
		trackedPositions = append(trackedPositions, *p)
	}
	st.Positions = trackedPositions
	st.Cooldowns = e.deps.Cooldowns.All()

	e.mu.Lock()
	outstanding := make(map[string]string, len(e.outstanding))
	for k, v := range e.outstanding {
		outstanding[k] = v
	}
	e.mu.Unlock()
	st.OutstandingOrders = outstanding

	if err := e.deps.Store.Save(st); err != nil {
		logger.Error().Err(err).Msg("persistence failed")
		e.emit(now, events.PersistenceFailed, map[string]any{"reason": err.Error()})
	}
}
