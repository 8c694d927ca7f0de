package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/roadsight/roadsight/internal/api/response"
	"github.com/roadsight/roadsight/internal/models"
)

// FeedbackHandler serves correction submission and statistics endpoints.
type FeedbackHandler struct {
	pipeline Pipeline
}

// NewFeedbackHandler creates a FeedbackHandler.
func NewFeedbackHandler(pipeline Pipeline) *FeedbackHandler {
	return &FeedbackHandler{pipeline: pipeline}
}

// Submit handles POST /api/feedback: records a human correction against an existing
// damage record.
func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var feedback models.DamageFeedback
	if err := json.NewDecoder(r.Body).Decode(&feedback); err != nil {
		response.RespondBadRequest(w, "invalid JSON body")
		return
	}

	if feedback.DamageID == uuid.Nil {
		response.RespondBadRequest(w, "damage_id is required")
		return
	}

	resp, err := h.pipeline.SubmitFeedback(r.Context(), feedback)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, resp)
}

// Stats handles GET /api/stats.
func (h *FeedbackHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pipeline.Statistics(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, stats)
}
