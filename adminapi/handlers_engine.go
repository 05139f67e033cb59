package adminapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mwhartley/execution-core/strategy"
)

// EngineControlRequest is the confirmation payload required on start/stop,
// grounded on api/handlers_engine.go's EngineControlRequest — an operator
// must explicitly confirm a state-changing call against a running engine.
type EngineControlRequest struct {
	Confirm bool `json:"confirm"`
}

// StartHandler starts the engine's cycle loop.
func (h *Handler) StartHandler(w http.ResponseWriter, r *http.Request) {
	var req EngineControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Confirm {
		writeError(w, http.StatusBadRequest, `confirmation required: {"confirm": true}`, "BAD_REQUEST")
		return
	}
	if err := h.engine.Start(context.Background()); err != nil {
		writeError(w, http.StatusConflict, err.Error(), "CONFLICT")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// StopHandler requests graceful shutdown.
func (h *Handler) StopHandler(w http.ResponseWriter, r *http.Request) {
	var req EngineControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Confirm {
		writeError(w, http.StatusBadRequest, `confirmation required: {"confirm": true}`, "BAD_REQUEST")
		return
	}
	h.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// ResetStateRequest mirrors EngineControlRequest's confirm-to-act shape;
// reset_state discards persisted state and is the most destructive control
// this surface exposes.
type ResetStateRequest struct {
	Confirm bool `json:"confirm"`
}

// ResetStateHandler clears persisted state. The engine must be stopped,
// enforced by Engine.ResetState itself.
func (h *Handler) ResetStateHandler(w http.ResponseWriter, r *http.Request) {
	var req ResetStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Confirm {
		writeError(w, http.StatusBadRequest, `confirmation required: {"confirm": true}`, "BAD_REQUEST")
		return
	}
	if err := h.engine.ResetState(); err != nil {
		writeError(w, http.StatusConflict, err.Error(), "CONFLICT")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// SetAnalyzeModeRequest sets the engine's analyze-mode flag.
type SetAnalyzeModeRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// SetAnalyzeModeHandler sets the engine's analyze-mode flag at runtime (see
// Engine.SetAnalyzeMode for what the flag does and does not change).
func (h *Handler) SetAnalyzeModeHandler(w http.ResponseWriter, r *http.Request) {
	var req SetAnalyzeModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", "BAD_REQUEST")
		return
	}
	if verr := validateStruct(req); verr != nil {
		writeValidationError(w, verr)
		return
	}
	h.engine.SetAnalyzeMode(*req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"analyze_mode": *req.Enabled})
}

// SetStrategyRequest pins the engine to one strategy name, or clears the
// pin when Name is empty.
type SetStrategyRequest struct {
	Name string `json:"name" validate:"omitempty,oneof=momentum breakout mean_reversion"`
}

// SetStrategyHandler pins (or clears) the active strategy.
func (h *Handler) SetStrategyHandler(w http.ResponseWriter, r *http.Request) {
	var req SetStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", "BAD_REQUEST")
		return
	}
	if verr := validateStruct(req); verr != nil {
		writeValidationError(w, verr)
		return
	}
	if err := h.engine.SetStrategy(req.Name); err != nil {
		if _, ok := err.(strategy.ErrUnknownStrategy); ok {
			writeError(w, http.StatusBadRequest, err.Error(), "UNKNOWN_STRATEGY")
			return
		}
		writeError(w, http.StatusConflict, err.Error(), "CONFLICT")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"strategy": req.Name})
}

// StatusHandler reports the engine's current run state and mode.
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"run_state":    string(h.engine.State()),
		"analyze_mode": h.engine.AnalyzeMode(),
	})
}
