package strategy

import (
	"sync"

	"github.com/mwhartley/execution-core/models"
)

// BreakoutConfig tunes consolidation-window detection and sizing.
type BreakoutConfig struct {
	ConsolidationBars   int
	MaxConsolidationPct float64
	VolumeMultiple      float64
	MinATR              float64
	TargetMultiple      float64
	MaxFalseBreakouts   int
	MaxHoldBars         int
}

// DefaultBreakoutConfig holds Breakout's default consolidation/volume/ATR
// thresholds and sizing multipliers.
var DefaultBreakoutConfig = BreakoutConfig{
	ConsolidationBars:   20,
	MaxConsolidationPct: 0.05,
	VolumeMultiple:      1.5,
	MinATR:              0.01,
	TargetMultiple:      2.0,
	MaxFalseBreakouts:   3,
}

// Breakout is an autonomous strategy: it detects its own consolidation
// pattern and computes entry/stop/target from price history and ATR rather
// than trusting an agent-supplied setup.
type Breakout struct {
	Base
	cfg BreakoutConfig

	mu            sync.Mutex
	falseBreakout map[string]int
}

// NewBreakout builds a Breakout strategy.
func NewBreakout(config Config) (Strategy, error) {
	config = config.withDefaults()
	cfg := DefaultBreakoutConfig
	cfg.ConsolidationBars = config.GetInt("consolidation_bars", cfg.ConsolidationBars)
	cfg.MaxConsolidationPct = config.GetFloat("max_consolidation_pct", cfg.MaxConsolidationPct)
	cfg.VolumeMultiple = config.GetFloat("volume_multiple", cfg.VolumeMultiple)
	cfg.MinATR = config.GetFloat("min_atr", cfg.MinATR)
	cfg.TargetMultiple = config.GetFloat("target_multiple", cfg.TargetMultiple)
	cfg.MaxFalseBreakouts = config.GetInt("max_false_breakouts", cfg.MaxFalseBreakouts)
	return &Breakout{Base: Base{Config: config}, cfg: cfg, falseBreakout: make(map[string]int)}, nil
}

func (b *Breakout) Name() string { return "breakout" }

type consolidation struct {
	high, low, avgVolume float64
}

// window returns the consolidation window (everything but the current bar)
// and whether it qualifies: range within MaxConsolidationPct of its midpoint.
func (b *Breakout) window(history []models.Candle) (consolidation, bool) {
	if len(history) < b.cfg.ConsolidationBars+1 {
		return consolidation{}, false
	}
	bars := history[len(history)-b.cfg.ConsolidationBars-1 : len(history)-1]

	high, low := bars[0].High, bars[0].Low
	var volSum float64
	for _, c := range bars {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
		volSum += c.Volume
	}
	mid := (high + low) / 2
	if mid == 0 {
		return consolidation{}, false
	}
	rangePct := (high - low) / mid
	if rangePct > b.cfg.MaxConsolidationPct {
		return consolidation{}, false
	}
	return consolidation{high: high, low: low, avgVolume: volSum / float64(len(bars))}, true
}

// EvaluateEntry detects a bullish or bearish breakout out of a qualifying
// consolidation window and computes entry/stop/target from it.
func (b *Breakout) EvaluateEntry(signal models.PendingSignal, ctx models.MarketContext, signals models.TechnicalSignals) models.EntryDecision {
	b.mu.Lock()
	blocked := b.falseBreakout[signal.Ticker] >= b.cfg.MaxFalseBreakouts
	b.mu.Unlock()
	if blocked {
		return models.EntryDecision{Reason: "too many false breakouts, re-entry blocked"}
	}

	win, ok := b.window(signals.History)
	if !ok {
		return models.EntryDecision{Reason: "no qualifying consolidation window"}
	}
	if signals.ATR < b.cfg.MinATR {
		return models.EntryDecision{Reason: "ATR below minimum"}
	}

	current := signals.History[len(signals.History)-1]
	if current.Volume < win.avgVolume*b.cfg.VolumeMultiple {
		return models.EntryDecision{Reason: "volume does not confirm breakout"}
	}

	patternHeight := win.high - win.low

	switch {
	case current.Close > win.high:
		entry := current.Close
		stop := win.low - signals.ATR
		target := entry + b.cfg.TargetMultiple*patternHeight
		size := b.CalculatePositionSize(entry, ctx, 0)
		return models.EntryDecision{ShouldEnter: true, Reason: "bullish breakout", SuggestedSize: size, EntryPrice: entry, StopLoss: stop, Target: target}
	case current.Close < win.low:
		entry := current.Close
		stop := win.high + signals.ATR
		target := entry - b.cfg.TargetMultiple*patternHeight
		size := b.CalculatePositionSize(entry, ctx, 0)
		return models.EntryDecision{ShouldEnter: true, Reason: "bearish breakout", SuggestedSize: size, EntryPrice: entry, StopLoss: stop, Target: target}
	default:
		return models.EntryDecision{Reason: "price still inside consolidation range"}
	}
}

// RecordFalseBreakout increments the ticker's false-breakout counter.
// EvaluateExit calls it when a position reverts back inside the range.
func (b *Breakout) RecordFalseBreakout(ticker string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.falseBreakout[ticker]++
}

// EvaluateExit exits on reversion back inside the prior consolidation range;
// otherwise holds. It does not check the position's stop or target.
func (b *Breakout) EvaluateExit(position models.TrackedPosition, signals models.TechnicalSignals, ctx models.MarketContext) models.ExitDecision {
	win, ok := b.window(signals.History)
	if !ok {
		return models.Hold("no consolidation window to judge reversion against")
	}
	if position.Side == models.SideLong && signals.Price < win.high {
		b.RecordFalseBreakout(position.Ticker)
		return models.ExitDecision{ShouldExit: true, Reason: "reverted below breakout level", Urgency: models.UrgencyUrgent}
	}
	if position.Side == models.SideShort && signals.Price > win.low {
		b.RecordFalseBreakout(position.Ticker)
		return models.ExitDecision{ShouldExit: true, Reason: "reverted above breakdown level", Urgency: models.UrgencyUrgent}
	}
	return models.Hold("breakout holding")
}
