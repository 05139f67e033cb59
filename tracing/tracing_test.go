package tracing

import (
	"bytes"
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexID = regexp.MustCompile(`^[0-9a-f]{16}$`)

func TestNewTraceID_FormatAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 500)
	for i := 0; i < 500; i++ {
		id := NewTraceID()
		require.Regexp(t, hexID, id)
		_, dup := seen[id]
		require.False(t, dup, "trace ID collision: %s", id)
		seen[id] = struct{}{}
	}
}

func TestTraceID_ContextRoundTrip(t *testing.T) {
	id := NewTraceID()
	ctx := WithTraceID(context.Background(), id)
	assert.Equal(t, id, TraceIDFromCtx(ctx))
}

func TestTraceIDFromCtx_EmptyWhenUnset(t *testing.T) {
	assert.Equal(t, "", TraceIDFromCtx(context.Background()))
}

func TestLogger_StampsTraceIDOnEveryLine(t *testing.T) {
	id := NewTraceID()
	ctx := WithTraceID(context.Background(), id)

	var buf bytes.Buffer
	logger := Logger(ctx).Output(&buf)
	logger.Info().Str("ticker", "NVDA").Msg("close submitted")

	assert.Contains(t, buf.String(), `"`+TraceIDField+`":"`+id+`"`)
	assert.Contains(t, buf.String(), `"ticker":"NVDA"`)
}

func TestLogger_NoTraceIDFieldWhenUnset(t *testing.T) {
	var buf bytes.Buffer
	logger := Logger(context.Background()).Output(&buf)
	logger.Info().Msg("cycle complete")

	assert.NotContains(t, buf.String(), TraceIDField)
}
