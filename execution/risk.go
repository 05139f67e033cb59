// Package execution submits bracket orders (entry plus stop-loss and
// take-profit children) with validation and bounded retry, handles
// close/cancel, supports an analyze-mode dry run, and guards position
// sizing with a risk manager ahead of every submission.
package execution

import (
	"fmt"

	"github.com/mwhartley/execution-core/broker"
)

// RiskConfig holds the position-sizing and exposure limits the Order
// Manager enforces before a bracket order reaches the broker.
type RiskConfig struct {
	MaxPositionSize  float64
	MaxPortfolioRisk float64
	MaxDailyLoss     float64
	RiskPerTrade     float64
}

// DefaultRiskConfig is a conservative starting point for live trading.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionSize:  10000.0,
		MaxPortfolioRisk: 0.20,
		MaxDailyLoss:     500.0,
		RiskPerTrade:     0.02,
	}
}

// RiskManager enforces exposure limits ahead of bracket submission.
type RiskManager struct {
	config   RiskConfig
	dailyPnL float64
}

// NewRiskManager builds a RiskManager. A zero-value config falls back to
// DefaultRiskConfig.
func NewRiskManager(config RiskConfig) *RiskManager {
	if config == (RiskConfig{}) {
		config = DefaultRiskConfig()
	}
	return &RiskManager{config: config}
}

// CheckOrder rejects params that would breach the daily loss limit, the
// per-position size cap, or the portfolio risk budget.
func (rm *RiskManager) CheckOrder(params broker.BracketParams, account broker.Account) error {
	if rm.dailyPnL < -rm.config.MaxDailyLoss {
		return fmt.Errorf("daily loss limit exceeded: %.2f", rm.dailyPnL)
	}

	positionValue := params.EntryPrice * float64(params.Quantity)
	if positionValue > rm.config.MaxPositionSize {
		return fmt.Errorf("position size exceeds limit: %.2f > %.2f", positionValue, rm.config.MaxPositionSize)
	}

	riskPerUnit := params.EntryPrice - params.StopLoss
	if riskPerUnit < 0 {
		riskPerUnit = -riskPerUnit
	}
	riskAmount := riskPerUnit * float64(params.Quantity)
	if account.Equity > 0 && riskAmount > account.Equity*rm.config.MaxPortfolioRisk {
		return fmt.Errorf("order exceeds portfolio risk limit")
	}
	return nil
}

// UpdateDailyPnL accumulates realized P&L for the daily-loss check.
func (rm *RiskManager) UpdateDailyPnL(pnl float64) { rm.dailyPnL += pnl }

// ResetDaily clears the daily P&L tracker, called at market open.
func (rm *RiskManager) ResetDaily() { rm.dailyPnL = 0 }
