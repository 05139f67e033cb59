package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mwhartley/execution-core/broker"
)

func TestRiskManager_RejectsWhenDailyLossExceeded(t *testing.T) {
	rm := NewRiskManager(RiskConfig{MaxDailyLoss: 100, MaxPositionSize: 100000, MaxPortfolioRisk: 1})
	rm.UpdateDailyPnL(-150)

	err := rm.CheckOrder(broker.BracketParams{EntryPrice: 100, StopLoss: 95, Quantity: 1}, broker.Account{Equity: 10000})
	assert.Error(t, err)
}

func TestRiskManager_RejectsOversizedPosition(t *testing.T) {
	rm := NewRiskManager(RiskConfig{MaxPositionSize: 500, MaxPortfolioRisk: 1, RiskPerTrade: 1})
	err := rm.CheckOrder(broker.BracketParams{EntryPrice: 100, StopLoss: 95, Quantity: 10}, broker.Account{Equity: 10000})
	assert.Error(t, err)
}

func TestRiskManager_AllowsWithinLimits(t *testing.T) {
	rm := NewRiskManager(DefaultRiskConfig())
	err := rm.CheckOrder(broker.BracketParams{EntryPrice: 100, StopLoss: 95, Quantity: 5}, broker.Account{Equity: 100000})
	assert.NoError(t, err)
}

func TestRiskManager_ResetDaily(t *testing.T) {
	rm := NewRiskManager(DefaultRiskConfig())
	rm.UpdateDailyPnL(-1000)
	rm.ResetDaily()
	assert.Equal(t, 0.0, rm.dailyPnL)
}
