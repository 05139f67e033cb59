// Package tracing correlates log lines across one unit of work in the
// execution core. A trace ID is minted once per engine cycle (and once per
// admin API request), carried on the context through that cycle's or
// request's handling, and stamped onto every zerolog line logged through
// Logger(ctx).
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey struct{}

// TraceIDField is the structured-log field name carrying the trace ID.
const TraceIDField = "trace_id"

// fallbackTraceID is returned when the entropy source fails; cycles keep
// running with a recognizable all-zero ID rather than panicking mid-loop.
const fallbackTraceID = "0000000000000000"

// NewTraceID mints a 16-character lowercase-hex trace ID (64 bits of
// entropy), one per cycle or admin request.
func NewTraceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fallbackTraceID
	}
	return hex.EncodeToString(b[:])
}

// WithTraceID attaches traceID to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKey{}, traceID)
}

// TraceIDFromCtx returns the trace ID carried by ctx, or "" when none is
// attached.
func TraceIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Logger returns a sub-logger stamped with ctx's trace ID, or the global
// logger unchanged when ctx carries none.
//
//	tracing.Logger(ctx).Info().Str("ticker", "AAPL").Msg("exit submitted")
func Logger(ctx context.Context) zerolog.Logger {
	id := TraceIDFromCtx(ctx)
	if id == "" {
		return log.Logger
	}
	return log.With().Str(TraceIDField, id).Logger()
}
