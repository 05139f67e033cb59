package adminapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/mwhartley/execution-core/tracing"
)

// TraceMiddleware injects a trace ID into the request context, reusing
// chi's RequestID when present, grounded on api/middleware_trace.go.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := middleware.GetReqID(r.Context())
		if traceID == "" {
			traceID = tracing.NewTraceID()
		}
		ctx := tracing.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthMiddleware requires a matching X-Execution-Core-Key header when
// apiKey is non-empty, compared in constant time. Grounded on
// api/middleware_auth.go's AuthMiddleware, same dev-mode fallback when no
// key is configured.
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				log.Warn().Msg("no admin API key configured - authentication disabled (dev mode only)")
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get("X-Execution-Core-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
				log.Warn().Str("ip", r.RemoteAddr).Str("path", r.URL.Path).Msg("unauthorized admin request")
				writeError(w, http.StatusUnauthorized, "unauthorized", "UNAUTHORIZED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
