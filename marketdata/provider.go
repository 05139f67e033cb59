// Package marketdata supplies the engine's two external read-only
// collaborators: per-ticker technical signals and the account/VIX market
// context a strategy's decision is judged against.
package marketdata

import (
	"time"

	"github.com/mwhartley/execution-core/models"
)

// TechnicalSignalsProvider supplies the per-ticker technical snapshot a
// strategy evaluates a signal or position against. This is an external
// collaborator (scanner/analyst pipeline) the engine does not own.
type TechnicalSignalsProvider interface {
	GetSignals(ticker string) (models.TechnicalSignals, error)
}

// VIXProvider supplies the current CBOE VIX reading used to populate
// MarketContext.VIX. When unavailable, callers substitute
// models.NeutralVIX rather than fail the cycle.
type VIXProvider interface {
	GetVIX() (float64, error)
}

// AccountProvider supplies the buying power and equity figures a
// MarketContext is built from. Backed by the broker in practice, exposed
// separately here so marketdata.Build can be unit tested without a broker.
type AccountProvider interface {
	GetAccountSnapshot() (equity, buyingPower float64, err error)
}

// Build assembles a MarketContext from its collaborators. existingPositions
// and cooldownTickers are supplied by the position tracker and cooldown
// manager rather than fetched here, since those are engine-owned state.
func Build(vix VIXProvider, account AccountProvider, status models.MarketStatus, existingPositions, cooldownTickers map[string]struct{}) models.MarketContext {
	v, err := vix.GetVIX()
	if err != nil {
		v = models.NeutralVIX
	}
	equity, buyingPower, err := account.GetAccountSnapshot()
	if err != nil {
		equity, buyingPower = 0, 0
	}
	return models.MarketContext{
		VIX:               v,
		MarketStatus:      status,
		AccountEquity:     equity,
		BuyingPower:       buyingPower,
		ExistingPositions: existingPositions,
		CooldownTickers:   cooldownTickers,
	}
}

// HistoryWindow is the lookback the chart-backed providers request per
// call. The strategies do not read it; Breakout and Mean-Reversion decline
// to act when the history they receive is too short for their indicators.
const HistoryWindow = 30 * 24 * time.Hour
