package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPendingSignal_Validate(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Hour)

	valid := PendingSignal{Ticker: "AAPL", Action: ActionBuy, Confidence: 85, CreatedAt: now, ExpiresAt: &later}
	assert.NoError(t, valid.Validate())

	assert.Error(t, PendingSignal{Ticker: "aapl", Action: ActionBuy, CreatedAt: now}.Validate(), "lowercase ticker rejected")
	assert.Error(t, PendingSignal{Ticker: "TOOLONG", Action: ActionBuy, CreatedAt: now}.Validate())
	assert.Error(t, PendingSignal{Ticker: "AAPL", Action: "invalid", CreatedAt: now}.Validate())

	earlier := now.Add(-time.Hour)
	assert.Error(t, PendingSignal{Ticker: "AAPL", Action: ActionBuy, CreatedAt: now, ExpiresAt: &earlier}.Validate(),
		"expires_at must be after created_at")
}

func TestPendingSignal_IsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	sig := PendingSignal{Ticker: "MSFT", CreatedAt: now.Add(-time.Hour), ExpiresAt: &past}
	assert.True(t, sig.IsExpired(now))

	future := now.Add(time.Minute)
	sig.ExpiresAt = &future
	assert.False(t, sig.IsExpired(now))

	sig.ExpiresAt = nil
	assert.False(t, sig.IsExpired(now))
}

func TestCachedSignal_Fresh(t *testing.T) {
	now := time.Now()
	cs := CachedSignal{Timestamp: now.Add(-time.Minute), TTL: 5 * time.Minute}
	assert.True(t, cs.Fresh(now))

	cs.TTL = 30 * time.Second
	assert.False(t, cs.Fresh(now))
}
