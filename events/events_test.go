package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_EmitsToKindAndGlobalHandlers(t *testing.T) {
	r := NewRegistry()

	var kindHits, globalHits int
	r.On(EntryTriggered, func(Event) { kindHits++ })
	r.OnAny(func(Event) { globalHits++ })

	r.Emit(New(time.Now(), EntryTriggered, map[string]any{"ticker": "AAPL"}))
	r.Emit(New(time.Now(), ExitTriggered, map[string]any{"ticker": "MSFT"}))

	assert.Equal(t, 1, kindHits)
	assert.Equal(t, 2, globalHits)
}

func TestMultiSink_FansOutToAll(t *testing.T) {
	var a, b int
	recA := recorder(func(Event) { a++ })
	recB := recorder(func(Event) { b++ })

	m := MultiSink{recA, recB}
	m.Emit(New(time.Now(), CycleComplete, nil))

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

type recorder func(Event)

func (r recorder) Emit(e Event) { r(e) }
