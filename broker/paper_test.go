package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperBroker_SubmitBracketOrder_Fills(t *testing.T) {
	b := NewPaperBroker(10000, false)
	require.NoError(t, b.Connect())

	result, err := b.SubmitBracketOrder(BracketParams{Ticker: "AAPL", Side: SideBuy, Quantity: 10, EntryPrice: 100, StopLoss: 95, Target: 110})
	require.NoError(t, err)
	assert.False(t, result.DryRun)
	assert.NotEmpty(t, result.OrderID)

	positions, err := b.ListPositions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Ticker)

	account, err := b.GetAccount()
	require.NoError(t, err)
	assert.Equal(t, 9000.0, account.Cash)
}

func TestPaperBroker_AnalyzeMode_DryRun(t *testing.T) {
	b := NewPaperBroker(10000, true)
	result, err := b.SubmitBracketOrder(BracketParams{Ticker: "AAPL", Side: SideBuy, Quantity: 10, EntryPrice: 100, StopLoss: 95, Target: 110})
	require.NoError(t, err)
	assert.True(t, result.DryRun)

	positions, err := b.ListPositions()
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPaperBroker_InsufficientBuyingPowerRejects(t *testing.T) {
	b := NewPaperBroker(100, false)
	_, err := b.SubmitBracketOrder(BracketParams{Ticker: "AAPL", Side: SideBuy, Quantity: 10, EntryPrice: 100, StopLoss: 95, Target: 110})
	assert.Error(t, err)

	events, err := b.PollOrders()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, OrderRejected, events[0].Kind)
}

func TestPaperBroker_ClosePosition(t *testing.T) {
	b := NewPaperBroker(10000, false)
	_, err := b.SubmitBracketOrder(BracketParams{Ticker: "AAPL", Side: SideBuy, Quantity: 10, EntryPrice: 100, StopLoss: 95, Target: 110})
	require.NoError(t, err)
	b.SetPrice("AAPL", 105)

	result, err := b.ClosePosition("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 105.0, result.Price)

	positions, err := b.ListPositions()
	require.NoError(t, err)
	assert.Empty(t, positions)
}
