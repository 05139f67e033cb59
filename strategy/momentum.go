package strategy

import (
	"github.com/mwhartley/execution-core/models"
)

// MomentumConfig tunes the Momentum strategy's acceptance thresholds.
type MomentumConfig struct {
	MinMomentum             float64
	RequiredScore           float64
	RequiredScoreNoBreakout float64
	ReversalMomentum        float64
	ScoreCollapseThreshold  float64
	ImmediateExitMomentum   float64
}

// DefaultMomentumConfig holds Momentum's default accept/exit thresholds.
var DefaultMomentumConfig = MomentumConfig{
	MinMomentum:             0,
	RequiredScore:           0.5,
	RequiredScoreNoBreakout: 0.7,
	ReversalMomentum:        -15,
	ScoreCollapseThreshold:  0.3,
	ImmediateExitMomentum:   -25,
}

// Momentum is a validate-mode strategy: it never recomputes an entry, it
// only checks that the agent's recommendation still holds up against fresh
// technicals before accepting it verbatim.
type Momentum struct {
	Base
	cfg MomentumConfig
}

// NewMomentum builds a Momentum strategy. Thresholds absent from config's
// params keep their DefaultMomentumConfig values.
func NewMomentum(config Config) (Strategy, error) {
	config = config.withDefaults()
	cfg := DefaultMomentumConfig
	cfg.MinMomentum = config.GetFloat("min_momentum", cfg.MinMomentum)
	cfg.RequiredScore = config.GetFloat("required_score", cfg.RequiredScore)
	cfg.RequiredScoreNoBreakout = config.GetFloat("required_score_no_breakout", cfg.RequiredScoreNoBreakout)
	cfg.ReversalMomentum = config.GetFloat("reversal_momentum", cfg.ReversalMomentum)
	cfg.ScoreCollapseThreshold = config.GetFloat("score_collapse_threshold", cfg.ScoreCollapseThreshold)
	cfg.ImmediateExitMomentum = config.GetFloat("immediate_exit_momentum", cfg.ImmediateExitMomentum)
	return &Momentum{Base: Base{Config: config}, cfg: cfg}, nil
}

func (m *Momentum) Name() string { return "momentum" }

func hasBreakoutSignal(signals []string) bool {
	for _, s := range signals {
		if s == "breakout" {
			return true
		}
	}
	return false
}

// EvaluateEntry verifies technical alignment only; on acceptance it uses the
// agent's entry/stop/target/quantity verbatim, never recomputing them.
func (m *Momentum) EvaluateEntry(signal models.PendingSignal, ctx models.MarketContext, signals models.TechnicalSignals) models.EntryDecision {
	rec := signal.AgentRecommendation
	if rec == nil {
		return models.EntryDecision{Reason: "momentum requires an agent recommendation"}
	}
	wantShort := rec.TradeType == models.TradeTypeShort
	gotShort := signal.Action == models.ActionShort
	if wantShort != gotShort {
		return models.EntryDecision{Reason: "trade_type does not match signal direction"}
	}
	if signals.Momentum < m.cfg.MinMomentum {
		return models.EntryDecision{Reason: "momentum below minimum threshold"}
	}
	if signals.Weak {
		return models.EntryDecision{Reason: "technicals marked weak"}
	}
	required := m.cfg.RequiredScoreNoBreakout
	if hasBreakoutSignal(signals.Signals) {
		required = m.cfg.RequiredScore
	}
	if signals.Score < required {
		return models.EntryDecision{Reason: "score below required threshold"}
	}

	return models.EntryDecision{
		ShouldEnter:   true,
		Reason:        "agent recommendation validated",
		SuggestedSize: rec.Quantity,
		EntryPrice:    rec.EntryPrice,
		StopLoss:      rec.StopLoss,
		Target:        rec.Target,
	}
}

// EvaluateExit holds profitable positions unless a major reversal or score
// collapse appears; losing positions exit on confirmed weakness; a sharp
// negative momentum swing is an immediate exit regardless of P&L.
func (m *Momentum) EvaluateExit(position models.TrackedPosition, signals models.TechnicalSignals, ctx models.MarketContext) models.ExitDecision {
	if signals.Momentum < m.cfg.ImmediateExitMomentum {
		return models.ExitDecision{ShouldExit: true, Reason: "sharp momentum reversal", Urgency: models.UrgencyImmediate}
	}

	profitable := position.UnrealizedPnL > 0
	if profitable {
		if signals.Momentum < m.cfg.ReversalMomentum {
			return models.ExitDecision{ShouldExit: true, Reason: "momentum reversal", Urgency: models.UrgencyUrgent}
		}
		if signals.Score < m.cfg.ScoreCollapseThreshold {
			return models.ExitDecision{ShouldExit: true, Reason: "score collapse", Urgency: models.UrgencyUrgent}
		}
		return models.Hold("profitable, no reversal detected")
	}

	if signals.Weak {
		return models.ExitDecision{ShouldExit: true, Reason: "confirmed weakness while losing", Urgency: models.UrgencyNormal}
	}
	return models.Hold("losing but technicals not yet confirmed weak")
}
