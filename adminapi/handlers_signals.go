package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mwhartley/execution-core/models"
)

// SignalRequest is the wire shape for the admission port, grounded on
// models.PendingSignal but trimmed to the fields an external producer sets
// directly; created_at is always stamped server-side.
type SignalRequest struct {
	Ticker              string                       `json:"ticker" validate:"required,alpha,uppercase,min=1,max=5"`
	Action              string                       `json:"action" validate:"required,oneof=buy sell short cover"`
	Priority            int                          `json:"priority" validate:"gte=0"`
	Confidence          float64                      `json:"confidence" validate:"gte=0,lte=100"`
	Source              string                       `json:"source" validate:"required"`
	ExpiresInSeconds    int                          `json:"expires_in_seconds,omitempty" validate:"gte=0"`
	AgentRecommendation *AgentRecommendationRequest  `json:"agent_recommendation,omitempty"`
}

// AgentRecommendationRequest mirrors models.AgentRecommendation for wire
// validation.
type AgentRecommendationRequest struct {
	EntryPrice float64 `json:"entry_price" validate:"required,gt=0"`
	StopLoss   float64 `json:"stop_loss" validate:"required,gt=0"`
	Target     float64 `json:"target" validate:"required,gt=0"`
	Quantity   int     `json:"quantity" validate:"required,gt=0"`
	TradeType  string  `json:"trade_type" validate:"required,oneof=long short"`
}

// SubmitSignalHandler is the HTTP face of Engine.AddSignal, the sole
// external admission port: producers touch only the admission port.
func (h *Handler) SubmitSignalHandler(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", "BAD_REQUEST")
		return
	}
	if verr := validateStruct(req); verr != nil {
		writeValidationError(w, verr)
		return
	}

	now := time.Now().UTC()
	sig := models.PendingSignal{
		Ticker:     req.Ticker,
		Action:     models.Action(req.Action),
		Priority:   req.Priority,
		Confidence: req.Confidence,
		Source:     req.Source,
		CreatedAt:  now,
	}
	if req.ExpiresInSeconds > 0 {
		expires := now.Add(time.Duration(req.ExpiresInSeconds) * time.Second)
		sig.ExpiresAt = &expires
	}
	if req.AgentRecommendation != nil {
		sig.AgentRecommendation = &models.AgentRecommendation{
			EntryPrice: req.AgentRecommendation.EntryPrice,
			StopLoss:   req.AgentRecommendation.StopLoss,
			Target:     req.AgentRecommendation.Target,
			Quantity:   req.AgentRecommendation.Quantity,
			TradeType:  models.TradeType(req.AgentRecommendation.TradeType),
		}
	}

	accepted, reason := h.engine.AddSignal(sig)
	if !accepted {
		writeJSON(w, http.StatusConflict, map[string]any{
			"accepted": false,
			"reason":   string(reason),
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}
