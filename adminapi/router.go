// Package adminapi is the execution core's optional HTTP control surface: a
// small set of operational controls (start/stop/reset/analyze-mode/strategy
// selection/status) plus the external signal admission port — producers
// touch only the admission port.
package adminapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/mwhartley/execution-core/tracing"
)

// NewRouter builds the admin HTTP surface wired to a single running Engine.
// apiKey, when non-empty, is required on every /admin/v1 request via the
// X-Execution-Core-Key header; an empty apiKey disables auth (dev mode).
func NewRouter(h *Handler, apiKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(TraceMiddleware)
	r.Use(middleware.RealIP)
	r.Use(zerologLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Global: 100 requests/minute/IP, burst: 20 requests/second/IP.
	r.Use(httprate.LimitByIP(100, time.Minute))
	r.Use(httprate.LimitByIP(20, time.Second))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", h.HealthHandler)

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(apiKey))

		r.Route("/engine", func(r chi.Router) {
			r.Post("/start", h.StartHandler)
			r.Post("/stop", h.StopHandler)
			r.Post("/reset_state", h.ResetStateHandler)
			r.Post("/set_analyze_mode", h.SetAnalyzeModeHandler)
			r.Post("/set_strategy", h.SetStrategyHandler)
			r.Get("/status", h.StatusHandler)
		})

		r.Route("/signals", func(r chi.Router) {
			r.Post("/", h.SubmitSignalHandler)
		})
	})

	return r
}

// zerologLogger logs each completed request with its trace ID.
func zerologLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger := tracing.Logger(r.Context())
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("admin request completed")
	})
}
