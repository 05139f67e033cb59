package signalcache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhartley/execution-core/models"
)

func TestCache_SetGet(t *testing.T) {
	c := New(time.Minute)
	now := time.Now()
	c.Set("AAPL", models.TechnicalSignals{Symbol: "AAPL", Price: 150}, now)

	sig, ok := c.Get("AAPL", now.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, 150.0, sig.Price)
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := New(time.Minute)
	now := time.Now()
	c.Set("AAPL", models.TechnicalSignals{Symbol: "AAPL"}, now)

	_, ok := c.Get("AAPL", now.Add(2*time.Minute))
	assert.False(t, ok)
}

func TestCache_Clear(t *testing.T) {
	c := New(time.Minute)
	now := time.Now()
	c.Set("AAPL", models.TechnicalSignals{Symbol: "AAPL"}, now)
	c.Clear()

	_, ok := c.Get("AAPL", now)
	assert.False(t, ok)
}

func TestCache_GetOrFetch(t *testing.T) {
	c := New(time.Minute)
	now := time.Now()
	calls := 0
	fetch := func(ticker string) (models.TechnicalSignals, error) {
		calls++
		return models.TechnicalSignals{Symbol: ticker, Price: 42}, nil
	}

	sig, err := c.GetOrFetch("MSFT", now, fetch)
	require.NoError(t, err)
	assert.Equal(t, 42.0, sig.Price)

	// Second call within TTL should hit the cache, not fetch again.
	_, err = c.GetOrFetch("MSFT", now.Add(time.Second), fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCache_GetOrFetch_PropagatesError(t *testing.T) {
	c := New(time.Minute)
	now := time.Now()
	wantErr := errors.New("upstream unavailable")
	_, err := c.GetOrFetch("MSFT", now, func(string) (models.TechnicalSignals, error) {
		return models.TechnicalSignals{}, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}
