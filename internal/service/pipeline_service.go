// Package service composes detection, persistence, and similarity indexing into
// the damage pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/roadsight/roadsight/internal/detect"
	"github.com/roadsight/roadsight/internal/embeddings"
	"github.com/roadsight/roadsight/internal/models"
	"github.com/roadsight/roadsight/internal/roaderrors"
	"github.com/roadsight/roadsight/internal/storage"
)

const defaultSimilarLimit = 5

// RecordStore provides the durable damage record operations the pipeline needs.
type RecordStore interface {
	Put(ctx context.Context, rec *models.DamageRecord) error
	Get(ctx context.Context, id uuid.UUID) (*models.DamageRecord, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.DamageRecord, error)
	AppendCorrection(ctx context.Context, id uuid.UUID, corrected models.DamageCorrection) error
	CountCorrections(ctx context.Context) (int64, error)
	CountRecords(ctx context.Context) (int64, error)
	AggregateByType(ctx context.Context) (map[string]int64, error)
}

// SimilarityIndex provides the vector index operations the pipeline needs.
type SimilarityIndex interface {
	Upsert(ctx context.Context, damageID uuid.UUID, embedding []float32, meta models.VectorMetadata) error
	Nearest(ctx context.Context, damageID uuid.UUID, limit int) ([]models.SimilarityMatch, error)
	NearestByEmbedding(ctx context.Context, queryEmbedding []float32, limit int, excludeID *uuid.UUID) ([]models.SimilarityMatch, error)
}

// ErrDetectionUnavailable marks transport-level failures of the vision model call:
// the detection could not be attempted at all, as opposed to a reply that merely
// failed to parse (which degrades, see detect.StructuredResult).
var ErrDetectionUnavailable = errors.New("detection unavailable")

// PartialPersistenceError reports that the damage record was durably written but the
// similarity index write failed. The committed record is left intact; re-issuing the
// ingestion with the same id is safe because both writes are idempotent.
type PartialPersistenceError struct {
	DamageID uuid.UUID
	Err      error
}

// Error implements the error interface.
func (e *PartialPersistenceError) Error() string {
	return fmt.Sprintf("damage record %s persisted but indexing failed: %v", e.DamageID, e.Err)
}

// Unwrap returns the underlying indexing error.
func (e *PartialPersistenceError) Unwrap() error {
	return e.Err
}

// PipelineService orchestrates ingestion, similarity retrieval, feedback, and
// statistics. Safe for concurrent use; all shared state lives in the stores.
type PipelineService struct {
	detector detect.Detector
	embedder embeddings.Client
	records  RecordStore
	vectors  SimilarityIndex
	images   storage.ImageStore

	queryCache     *lru.Cache[string, []float32]
	queryLoadGroup singleflight.Group
	logger         *slog.Logger
}

// PipelineServiceParams configures PipelineService. QueryCache may be nil (no
// caching of text-search query embeddings); Logger may be nil (default logger).
type PipelineServiceParams struct {
	Detector   detect.Detector
	Embedder   embeddings.Client
	Records    RecordStore
	Vectors    SimilarityIndex
	Images     storage.ImageStore
	QueryCache *lru.Cache[string, []float32]
	Logger     *slog.Logger
}

// NewPipelineService creates a PipelineService.
func NewPipelineService(p PipelineServiceParams) *PipelineService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PipelineService{
		detector:   p.Detector,
		embedder:   p.Embedder,
		records:    p.Records,
		vectors:    p.Vectors,
		images:     p.Images,
		queryCache: p.QueryCache,
		logger:     logger,
	}
}

// Ingest runs the full pipeline for one image under a fresh id.
func (s *PipelineService) Ingest(ctx context.Context, image []byte) (*models.DamageDetectionResponse, error) {
	return s.IngestWithID(ctx, uuid.New(), image)
}

// IngestWithID runs the pipeline under a caller-supplied id: store the image, obtain
// a detection, persist the record, index it. Re-issuing with the same id is safe; the
// record write is insert-if-absent and the index write converges per id.
//
// A degraded detection (unparseable model reply) still completes normally. When the
// record was persisted but indexing failed, the response is returned together with a
// *PartialPersistenceError so the caller can distinguish partial success from full
// failure. Work already committed is never rolled back.
func (s *PipelineService) IngestWithID(
	ctx context.Context, id uuid.UUID, image []byte,
) (*models.DamageDetectionResponse, error) {
	imagePath, err := s.images.Store(ctx, id, image)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	result, err := s.detector.Detect(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectionUnavailable, err)
	}

	if result.Degraded {
		s.logger.Warn("model reply did not parse, continuing with degraded record",
			"damage_id", id, "parse_error", result.ParseError)
	}

	rec := &models.DamageRecord{
		ID:        id,
		ImagePath: imagePath,
		Findings:  result.Findings,
		RiskLevel: result.RiskLevel,
		RawResult: result.Raw,
		CreatedAt: time.Now(),
	}

	if err := s.records.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist damage record: %w", err)
	}

	resp := &models.DamageDetectionResponse{
		ID:        id,
		ImageURL:  imageURL(id),
		Damages:   result.Findings,
		RiskLevel: result.RiskLevel,
		Summary:   result.Summary,
	}

	if err := s.index(ctx, rec); err != nil {
		s.logger.Error("similarity index write failed after record persisted",
			"damage_id", id, "error", err)

		return resp, &PartialPersistenceError{DamageID: id, Err: err}
	}

	s.logger.Info("damage record ingested",
		"damage_id", id, "risk_level", rec.RiskLevel, "findings", len(rec.Findings), "degraded", result.Degraded)

	return resp, nil
}

// index embeds the record's raw result document and upserts the similarity entry.
func (s *PipelineService) index(ctx context.Context, rec *models.DamageRecord) error {
	embedding, err := s.embedder.CreateEmbedding(ctx, string(rec.RawResult))
	if err != nil {
		return fmt.Errorf("embed damage document: %w", err)
	}

	meta := models.VectorMetadata{Type: rec.PrimaryType(), Severity: rec.PrimarySeverity()}

	if err := s.vectors.Upsert(ctx, rec.ID, embedding, meta); err != nil {
		return fmt.Errorf("upsert similarity entry: %w", err)
	}

	return nil
}

// FindSimilar returns up to limit records most similar to the given one, nearest
// first, never including the record itself. Index entries whose record is missing
// from the store are dropped silently. Returns a NotFoundError when the id itself is
// unknown to the record store.
func (s *PipelineService) FindSimilar(
	ctx context.Context, id uuid.UUID, limit int,
) (*models.SimilarDamagesResponse, error) {
	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	if _, err := s.records.Get(ctx, id); err != nil {
		//nolint:wrapcheck // NotFoundError passes through so the handler can map to 404
		return nil, err
	}

	matches, err := s.vectors.Nearest(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}

	cases, err := s.resolveMatches(ctx, matches)
	if err != nil {
		return nil, err
	}

	return &models.SimilarDamagesResponse{DamageID: id, SimilarCases: cases}, nil
}

// Search embeds a free-text damage description and returns the closest records.
// Query embeddings are cached; concurrent identical queries share one model call.
func (s *PipelineService) Search(ctx context.Context, query string, limit int) ([]models.SimilarCase, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, roaderrors.NewValidationError("query", "query is required and must be non-empty")
	}

	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	embedding, err := s.queryEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed search query: %w", err)
	}

	matches, err := s.vectors.NearestByEmbedding(ctx, embedding, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}

	return s.resolveMatches(ctx, matches)
}

// SubmitFeedback validates and records a human correction, then reads the new
// cumulative correction count. Every exact multiple of 100 flips the message to the
// advisory retraining signal; the signal is computed purely from the returned
// counter, so it is correct under concurrent submissions.
func (s *PipelineService) SubmitFeedback(
	ctx context.Context, feedback models.DamageFeedback,
) (*models.FeedbackResponse, error) {
	if err := validateCorrection(feedback.Corrected); err != nil {
		return nil, err
	}

	if err := s.records.AppendCorrection(ctx, feedback.DamageID, feedback.Corrected); err != nil {
		//nolint:wrapcheck // NotFoundError passes through so the handler can map to 404
		return nil, err
	}

	count, err := s.records.CountCorrections(ctx)
	if err != nil {
		return nil, fmt.Errorf("count corrections: %w", err)
	}

	message := "feedback saved"
	if retrainingDue(count) {
		message = fmt.Sprintf("collected %d corrections, model optimization may be warranted", count)
	}

	s.logger.Info("correction recorded", "damage_id", feedback.DamageID, "correction_count", count)

	return &models.FeedbackResponse{Success: true, Message: message, CorrectionCount: count}, nil
}

// Statistics returns totals and per-type counts for reporting.
func (s *PipelineService) Statistics(ctx context.Context) (*models.Statistics, error) {
	total, err := s.records.CountRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("count damage records: %w", err)
	}

	corrections, err := s.records.CountCorrections(ctx)
	if err != nil {
		return nil, fmt.Errorf("count corrections: %w", err)
	}

	byType, err := s.records.AggregateByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate by type: %w", err)
	}

	return &models.Statistics{
		TotalDetections:  total,
		TotalCorrections: corrections,
		ByType:           byType,
	}, nil
}

// resolveMatches joins index matches back to canonical records, preserving match
// order and dropping ids the record store no longer knows.
func (s *PipelineService) resolveMatches(
	ctx context.Context, matches []models.SimilarityMatch,
) ([]models.SimilarCase, error) {
	if len(matches) == 0 {
		return []models.SimilarCase{}, nil
	}

	ids := make([]uuid.UUID, 0, len(matches))
	scores := make(map[uuid.UUID]float64, len(matches))

	for _, m := range matches {
		ids = append(ids, m.DamageID)
		scores[m.DamageID] = m.Score
	}

	recs, err := s.records.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve similar records: %w", err)
	}

	cases := make([]models.SimilarCase, 0, len(recs))

	for _, rec := range recs {
		cases = append(cases, models.SimilarCase{
			DamageID:  rec.ID,
			Score:     scores[rec.ID],
			Findings:  rec.Findings,
			RiskLevel: rec.RiskLevel,
			ImageURL:  imageURL(rec.ID),
		})
	}

	return cases, nil
}

// queryEmbedding returns the embedding for a search query, via the LRU cache when
// configured. Concurrent misses for the same query collapse into one provider call.
func (s *PipelineService) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if s.queryCache == nil {
		return s.embedder.CreateEmbedding(ctx, query)
	}

	if vec, ok := s.queryCache.Get(query); ok {
		return vec, nil
	}

	val, err, _ := s.queryLoadGroup.Do(query, func() (any, error) {
		vec, loadErr := s.embedder.CreateEmbedding(ctx, query)
		if loadErr != nil {
			return nil, loadErr
		}

		s.queryCache.Add(query, vec)

		return vec, nil
	})
	if err != nil {
		return nil, err
	}

	return val.([]float32), nil
}

// retrainingDue reports whether the cumulative correction count warrants the advisory
// retraining signal: every exact multiple of 100. Pure function of the counter.
func retrainingDue(count int64) bool {
	return count > 0 && count%100 == 0
}

// validateCorrection rejects malformed correction payloads before any store mutation.
func validateCorrection(c models.DamageCorrection) error {
	if c.Empty() {
		return roaderrors.NewValidationError("corrected", "at least one corrected field must be set")
	}

	if c.Type != nil && models.ParseDamageType(*c.Type) == models.DamageUnknown {
		return roaderrors.NewValidationError("corrected.type", fmt.Sprintf("unknown damage type %q", *c.Type))
	}

	if c.Severity != nil && models.ParseSeverity(*c.Severity) == models.SeverityUnknown {
		return roaderrors.NewValidationError("corrected.severity", fmt.Sprintf("unknown severity %q", *c.Severity))
	}

	return nil
}

// imageURL is the public reference for a stored image, as served by the uploads route.
func imageURL(id uuid.UUID) string {
	return "/uploads/" + id.String() + ".jpg"
}
