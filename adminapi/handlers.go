package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mwhartley/execution-core/engine"
)

// Handler holds the admin surface's single dependency: the engine instance
// it controls. Grounded on api/handlers.go's Handler struct, narrowed to
// the one collaborator this surface needs.
type Handler struct {
	engine    *engine.Engine
	startTime time.Time
}

// NewHandler builds a Handler wired to e.
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e, startTime: time.Now()}
}

// HealthHandler reports liveness and the engine's current run state.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime":     time.Since(h.startTime).String(),
		"run_state":  string(h.engine.State()),
		"analyze":    h.engine.AnalyzeMode(),
	})
}

// APIError is the standard error envelope, grounded on api/validation.go's
// APIError.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to write admin JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string, code string) {
	writeJSON(w, status, APIError{Error: message, Code: code})
}
