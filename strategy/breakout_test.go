package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhartley/execution-core/models"
)

func flatHistory(n int, price, volume float64) []models.Candle {
	history := make([]models.Candle, n)
	base := time.Now().Add(-time.Duration(n) * time.Hour)
	for i := range history {
		history[i] = models.Candle{Time: base.Add(time.Duration(i) * time.Hour), Open: price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: volume}
	}
	return history
}

func TestBreakout_BullishBreakoutDetected(t *testing.T) {
	s, err := NewBreakout(Config{MaxPositionPct: 0.1})
	require.NoError(t, err)

	history := flatHistory(20, 100, 1000)
	history = append(history, models.Candle{Close: 106, High: 106, Low: 105, Volume: 2000})

	signals := models.TechnicalSignals{History: history, ATR: 1.5}
	ctx := models.MarketContext{AccountEquity: 100000}

	decision := s.EvaluateEntry(models.PendingSignal{Ticker: "AAPL"}, ctx, signals)
	require.True(t, decision.ShouldEnter)
	assert.Equal(t, 106.0, decision.EntryPrice)
	assert.Less(t, decision.StopLoss, decision.EntryPrice)
	assert.Greater(t, decision.Target, decision.EntryPrice)
}

func TestBreakout_DefaultConfigSizesPosition(t *testing.T) {
	// A zero-value Config must still produce a tradable size, otherwise an
	// accepted breakout dies on the engine's stop-loss/size invariant.
	s, err := NewBreakout(Config{})
	require.NoError(t, err)

	history := flatHistory(20, 100, 1000)
	history = append(history, models.Candle{Close: 106, High: 106, Low: 105, Volume: 2000})

	decision := s.EvaluateEntry(models.PendingSignal{Ticker: "AAPL"}, models.MarketContext{AccountEquity: 100000}, models.TechnicalSignals{History: history, ATR: 1.5})
	require.True(t, decision.ShouldEnter)
	assert.Greater(t, decision.SuggestedSize, 0)
}

func TestBreakout_NoBreakoutInsideRange(t *testing.T) {
	s, _ := NewBreakout(Config{})
	history := flatHistory(20, 100, 1000)
	history = append(history, models.Candle{Close: 100.2, High: 100.4, Low: 100, Volume: 2000})

	decision := s.EvaluateEntry(models.PendingSignal{Ticker: "AAPL"}, models.MarketContext{}, models.TechnicalSignals{History: history, ATR: 1.5})
	assert.False(t, decision.ShouldEnter)
}

func TestBreakout_BlockedAfterMaxFalseBreakouts(t *testing.T) {
	s, err := NewBreakout(Config{})
	require.NoError(t, err)
	b := s.(*Breakout)
	for i := 0; i < DefaultBreakoutConfig.MaxFalseBreakouts; i++ {
		b.RecordFalseBreakout("AAPL")
	}

	history := flatHistory(20, 100, 1000)
	history = append(history, models.Candle{Close: 106, High: 106, Low: 105, Volume: 2000})
	decision := s.EvaluateEntry(models.PendingSignal{Ticker: "AAPL"}, models.MarketContext{AccountEquity: 100000}, models.TechnicalSignals{History: history, ATR: 1.5})
	assert.False(t, decision.ShouldEnter)
	assert.Contains(t, decision.Reason, "false breakouts")
}
