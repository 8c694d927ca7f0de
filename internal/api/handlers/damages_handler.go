package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/roadsight/roadsight/internal/api/response"
	"github.com/roadsight/roadsight/internal/models"
)

// Pipeline is the slice of the damage pipeline the HTTP handlers need.
type Pipeline interface {
	Ingest(ctx context.Context, image []byte) (*models.DamageDetectionResponse, error)
	IngestWithID(ctx context.Context, id uuid.UUID, image []byte) (*models.DamageDetectionResponse, error)
	FindSimilar(ctx context.Context, id uuid.UUID, limit int) (*models.SimilarDamagesResponse, error)
	Search(ctx context.Context, query string, limit int) ([]models.SimilarCase, error)
	SubmitFeedback(ctx context.Context, feedback models.DamageFeedback) (*models.FeedbackResponse, error)
	Statistics(ctx context.Context) (*models.Statistics, error)
}

// DamagesHandler serves detection and retrieval endpoints.
type DamagesHandler struct {
	pipeline Pipeline
}

// NewDamagesHandler creates a DamagesHandler.
func NewDamagesHandler(pipeline Pipeline) *DamagesHandler {
	return &DamagesHandler{pipeline: pipeline}
}

// Detect handles POST /api/detect: multipart upload of a road image, returning the
// structured detection. An optional "id" form field lets clients retry a failed
// ingestion under the same identifier without creating a duplicate record.
func (h *DamagesHandler) Detect(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		response.RespondBadRequest(w, "multipart field 'file' with an image is required")
		return
	}
	defer file.Close() //nolint:errcheck // read-only handle

	if ct := header.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		response.RespondBadRequest(w, "only image uploads are supported")
		return
	}

	image, err := io.ReadAll(file)
	if err != nil {
		response.RespondBadRequest(w, "could not read uploaded file")
		return
	}

	var resp *models.DamageDetectionResponse

	if idValue := r.FormValue("id"); idValue != "" {
		id, parseErr := uuid.Parse(idValue)
		if parseErr != nil {
			response.RespondBadRequest(w, "id must be a valid UUID")
			return
		}

		resp, err = h.pipeline.IngestWithID(r.Context(), id, image)
	} else {
		resp, err = h.pipeline.Ingest(r.Context(), image)
	}

	if err != nil {
		respondServiceError(w, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, resp)
}

// Similar handles GET /api/similar/{id}: nearest neighbors of a recorded damage.
func (h *DamagesHandler) Similar(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		response.RespondBadRequest(w, "id must be a valid UUID")
		return
	}

	resp, err := h.pipeline.FindSimilar(r.Context(), id, limitParam(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, resp)
}

// searchResponse wraps free-text search results with the query that produced them.
type searchResponse struct {
	Query   string               `json:"query"`
	Results []models.SimilarCase `json:"results"`
}

// Search handles GET /api/search?q=: free-text similarity search over records.
func (h *DamagesHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	results, err := h.pipeline.Search(r.Context(), query, limitParam(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, searchResponse{Query: strings.TrimSpace(query), Results: results})
}

// limitParam reads the optional "limit" query parameter. Invalid or missing values
// yield 0, which the service replaces with its default.
func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}

	return limit
}
