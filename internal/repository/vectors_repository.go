package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/roadsight/roadsight/internal/models"
)

// ErrVectorNotFound is returned when no similarity entry exists for the given damage id.
var ErrVectorNotFound = errors.New("vector not found for damage record")

// VectorsRepository is the similarity index: one pgvector row per damage record,
// plus mirrored type/severity metadata for filtering without a join.
type VectorsRepository struct {
	db *pgxpool.Pool
}

// NewVectorsRepository creates a new vectors repository.
func NewVectorsRepository(db *pgxpool.Pool) *VectorsRepository {
	return &VectorsRepository{db: db}
}

// Upsert inserts or replaces the similarity entry for the damage record. Re-inserting
// the same id replaces its stored representation rather than duplicating it; the row's
// serial id (and thus its insertion-order tie-break) is preserved across replacements.
func (r *VectorsRepository) Upsert(
	ctx context.Context, damageID uuid.UUID, embedding []float32, meta models.VectorMetadata,
) error {
	vec := pgvector.NewVector(embedding)

	_, err := r.db.Exec(ctx, `
		INSERT INTO damage_vectors (damage_id, embedding, damage_type, severity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (damage_id)
		DO UPDATE SET embedding = EXCLUDED.embedding, damage_type = EXCLUDED.damage_type, severity = EXCLUDED.severity`,
		damageID, vec, meta.Type, meta.Severity,
	)
	if err != nil {
		return fmt.Errorf("damage vectors upsert: %w", err)
	}

	return nil
}

// GetEmbedding returns the stored vector for the given damage record.
// Returns ErrVectorNotFound when no row exists (record not indexed yet).
func (r *VectorsRepository) GetEmbedding(ctx context.Context, damageID uuid.UUID) ([]float32, error) {
	var vec pgvector.Vector

	err := r.db.QueryRow(ctx,
		`SELECT embedding FROM damage_vectors WHERE damage_id = $1`, damageID,
	).Scan(&vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVectorNotFound
		}

		return nil, fmt.Errorf("get embedding: %w", err)
	}

	return vec.Slice(), nil
}

// Nearest resolves the stored vector for damageID and returns up to limit other
// damage ids, nearest first by cosine distance. The query record itself is excluded
// in SQL before the limit applies, so callers receive up to limit other results
// whenever that many exist. Unknown ids yield an empty result, not an error.
func (r *VectorsRepository) Nearest(
	ctx context.Context, damageID uuid.UUID, limit int,
) ([]models.SimilarityMatch, error) {
	embedding, err := r.GetEmbedding(ctx, damageID)
	if err != nil {
		if errors.Is(err, ErrVectorNotFound) {
			return nil, nil
		}

		return nil, err
	}

	return r.NearestByEmbedding(ctx, embedding, limit, &damageID)
}

// NearestByEmbedding returns up to limit damage ids and similarity scores (0..1) for
// the nearest neighbors of queryEmbedding. Uses cosine distance (<=>); score = 1 -
// distance. Ties break by insertion order. excludeID optionally excludes one damage
// record (self-exclusion for the "similar" path).
func (r *VectorsRepository) NearestByEmbedding(
	ctx context.Context, queryEmbedding []float32, limit int, excludeID *uuid.UUID,
) ([]models.SimilarityMatch, error) {
	queryVec := pgvector.NewVector(queryEmbedding)

	var (
		rows pgx.Rows
		err  error
	)

	if excludeID == nil {
		rows, err = r.db.Query(ctx, `
			SELECT damage_id, (1 - (embedding <=> $1)) AS score
			FROM damage_vectors
			ORDER BY embedding <=> $1, id
			LIMIT $2`, queryVec, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT damage_id, (1 - (embedding <=> $1)) AS score
			FROM damage_vectors
			WHERE damage_id != $2
			ORDER BY embedding <=> $1, id
			LIMIT $3`, queryVec, *excludeID, limit)
	}

	if err != nil {
		return nil, fmt.Errorf("nearest damage vectors: %w", err)
	}

	defer rows.Close()

	var matches []models.SimilarityMatch

	for rows.Next() {
		var m models.SimilarityMatch

		if err := rows.Scan(&m.DamageID, &m.Score); err != nil {
			return nil, fmt.Errorf("scan similarity match: %w", err)
		}

		matches = append(matches, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nearest: %w", err)
	}

	return matches, nil
}
