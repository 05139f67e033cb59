package models

// Urgency classifies how aggressively an exit decision should be acted on.
type Urgency string

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyImmediate Urgency = "immediate"
)

// EntryDecision is a strategy's verdict on whether to enter a new position.
//
// Safety invariant: if ShouldEnter is true, StopLoss must be set (non-zero)
// and SuggestedSize must be > 0. The engine asserts this before submitting
// a bracket order; strategies that violate it cause a fail-fast internal
// error rather than a malformed order reaching the broker.
type EntryDecision struct {
	ShouldEnter   bool    `json:"should_enter"`
	Reason        string  `json:"reason"`
	SuggestedSize int     `json:"suggested_size"`
	EntryPrice    float64 `json:"entry_price"`
	StopLoss      float64 `json:"stop_loss"`
	Target        float64 `json:"target"`
}

// Valid enforces the safety invariant on an accepted entry decision.
func (d EntryDecision) Valid() bool {
	if !d.ShouldEnter {
		return true
	}
	return d.StopLoss != 0 && d.SuggestedSize > 0
}

// ExitDecision is a strategy's verdict on whether to exit a held position.
type ExitDecision struct {
	ShouldExit bool    `json:"should_exit"`
	Reason     string  `json:"reason"`
	Urgency    Urgency `json:"urgency"`
}

// Hold is the default "no signal available, do nothing" exit decision used
// when technical data could not be fetched for a position this cycle.
func Hold(reason string) ExitDecision {
	return ExitDecision{ShouldExit: false, Reason: reason, Urgency: UrgencyNormal}
}
