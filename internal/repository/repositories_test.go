package repository_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/roadsight/roadsight/internal/models"
	"github.com/roadsight/roadsight/internal/repository"
	"github.com/roadsight/roadsight/internal/roaderrors"
	"github.com/roadsight/roadsight/pkg/database"
)

// setupTestDB spins up a pgvector-enabled Postgres container, runs migrations, and
// returns a pool with vector types registered.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("roadsight_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, database.MigrateUp(connStr))

	pool, err := database.NewPostgresPool(ctx, connStr, database.WithVectorTypes())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newRecord(id uuid.UUID, damageType models.DamageType, severity models.Severity) *models.DamageRecord {
	return &models.DamageRecord{
		ID:        id,
		ImagePath: "uploads/" + id.String() + ".jpg",
		Findings: []models.DamageFinding{
			{Type: damageType, Severity: severity, Location: "center", Size: "1m", Confidence: 0.9},
		},
		RiskLevel: models.RiskMedium,
		RawResult: json.RawMessage(`{"damages":[],"riskLevel":"medium"}`),
		CreatedAt: time.Now(),
	}
}

// axisEmbedding builds a 1536-dim vector pointing mostly along one axis, with a
// small bleed so cosine distances between different axes are distinct.
func axisEmbedding(axis int, bleed float32) []float32 {
	v := make([]float32, 1536)
	v[axis] = 1
	v[(axis+1)%1536] = bleed

	return v
}

func TestDamageRecordsRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool := setupTestDB(t)
	repo := repository.NewDamageRecordsRepository(pool)
	ctx := context.Background()

	t.Run("put then get roundtrips", func(t *testing.T) {
		id := uuid.New()
		require.NoError(t, repo.Put(ctx, newRecord(id, models.DamagePothole, models.SeveritySevere)))

		got, err := repo.Get(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, id, got.ID)
		assert.Equal(t, models.RiskMedium, got.RiskLevel)
		require.Len(t, got.Findings, 1)
		assert.Equal(t, models.DamagePothole, got.Findings[0].Type)
		assert.Nil(t, got.Correction)
		assert.Nil(t, got.UpdatedAt)
	})

	t.Run("put is insert-if-absent", func(t *testing.T) {
		id := uuid.New()
		require.NoError(t, repo.Put(ctx, newRecord(id, models.DamageCrack, models.SeverityMinor)))

		overwrite := newRecord(id, models.DamageCollapse, models.SeverityDangerous)
		require.NoError(t, repo.Put(ctx, overwrite))

		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.DamageCrack, got.Findings[0].Type, "second put must not overwrite")
	})

	t.Run("get unknown id is not found", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.New())

		var notFound *roaderrors.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("get by ids preserves order and drops missing", func(t *testing.T) {
		id1, id2 := uuid.New(), uuid.New()
		require.NoError(t, repo.Put(ctx, newRecord(id1, models.DamageCrack, models.SeverityMinor)))
		require.NoError(t, repo.Put(ctx, newRecord(id2, models.DamageCrack, models.SeverityMinor)))

		recs, err := repo.GetByIDs(ctx, []uuid.UUID{id2, uuid.New(), id1})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, id2, recs[0].ID)
		assert.Equal(t, id1, recs[1].ID)
	})

	t.Run("append correction updates record and counter", func(t *testing.T) {
		id := uuid.New()
		require.NoError(t, repo.Put(ctx, newRecord(id, models.DamageCrack, models.SeverityMinor)))

		before, err := repo.CountCorrections(ctx)
		require.NoError(t, err)

		severity := "severe"
		require.NoError(t, repo.AppendCorrection(ctx, id, models.DamageCorrection{Severity: &severity}))

		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got.Correction)
		assert.Equal(t, "severe", *got.Correction.Severity)
		require.NotNil(t, got.UpdatedAt)

		after, err := repo.CountCorrections(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)

		// A second correction overwrites the record's view but appends another event.
		newType := "pothole"
		require.NoError(t, repo.AppendCorrection(ctx, id, models.DamageCorrection{Type: &newType}))

		got, err = repo.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got.Correction)
		assert.Equal(t, "pothole", *got.Correction.Type)
		assert.Nil(t, got.Correction.Severity)

		final, err := repo.CountCorrections(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+2, final)
	})

	t.Run("append correction on unknown id is not found", func(t *testing.T) {
		severity := "minor"
		err := repo.AppendCorrection(ctx, uuid.New(), models.DamageCorrection{Severity: &severity})

		var notFound *roaderrors.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("aggregate by type", func(t *testing.T) {
		byType, err := repo.AggregateByType(ctx)
		require.NoError(t, err)
		assert.Positive(t, byType["crack"])
	})
}

func TestVectorsRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool := setupTestDB(t)
	records := repository.NewDamageRecordsRepository(pool)
	vectors := repository.NewVectorsRepository(pool)
	ctx := context.Background()

	meta := models.VectorMetadata{Type: models.DamageCrack, Severity: models.SeverityModerate}

	// Five records on distinct axes; r2..r4 progressively closer to r1.
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, records.Put(ctx, newRecord(ids[i], models.DamageCrack, models.SeverityModerate)))
	}

	require.NoError(t, vectors.Upsert(ctx, ids[0], axisEmbedding(0, 0), meta))
	require.NoError(t, vectors.Upsert(ctx, ids[1], axisEmbedding(0, 0.8), meta)) // closest to ids[0]
	require.NoError(t, vectors.Upsert(ctx, ids[2], axisEmbedding(0, 2.0), meta))
	require.NoError(t, vectors.Upsert(ctx, ids[3], axisEmbedding(1, 0), meta)) // orthogonal
	require.NoError(t, vectors.Upsert(ctx, ids[4], axisEmbedding(2, 0), meta)) // orthogonal

	t.Run("nearest excludes self and orders by distance", func(t *testing.T) {
		matches, err := vectors.Nearest(ctx, ids[0], 10)
		require.NoError(t, err)
		require.Len(t, matches, 4)

		for _, m := range matches {
			assert.NotEqual(t, ids[0], m.DamageID, "query record must never match itself")
		}

		assert.Equal(t, ids[1], matches[0].DamageID)
		assert.Equal(t, ids[2], matches[1].DamageID)
		assert.Greater(t, matches[0].Score, matches[1].Score)
		assert.Greater(t, matches[1].Score, matches[2].Score)
	})

	t.Run("limit applies after self exclusion", func(t *testing.T) {
		matches, err := vectors.Nearest(ctx, ids[0], 2)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, ids[1], matches[0].DamageID)
		assert.Equal(t, ids[2], matches[1].DamageID)
	})

	t.Run("orthogonal ties break by insertion order", func(t *testing.T) {
		matches, err := vectors.Nearest(ctx, ids[0], 10)
		require.NoError(t, err)
		require.Len(t, matches, 4)

		// ids[3] and ids[4] are both at distance 1; ids[3] was inserted first.
		assert.Equal(t, ids[3], matches[2].DamageID)
		assert.Equal(t, ids[4], matches[3].DamageID)
	})

	t.Run("unknown id yields empty result", func(t *testing.T) {
		matches, err := vectors.Nearest(ctx, uuid.New(), 10)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("upsert replaces embedding and preserves tie-break position", func(t *testing.T) {
		require.NoError(t, vectors.Upsert(ctx, ids[1], axisEmbedding(3, 0), meta))

		got, err := vectors.GetEmbedding(ctx, ids[1])
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got[3], 1e-6)

		// Re-upserted entry is now orthogonal to ids[0] like ids[3] and ids[4], and
		// its original serial id still wins the tie.
		matches, err := vectors.Nearest(ctx, ids[0], 10)
		require.NoError(t, err)
		require.Len(t, matches, 4)
		assert.Equal(t, ids[2], matches[0].DamageID)
		assert.Equal(t, ids[1], matches[1].DamageID)
	})

	t.Run("get embedding for unindexed record", func(t *testing.T) {
		_, err := vectors.GetEmbedding(ctx, uuid.New())
		assert.ErrorIs(t, err, repository.ErrVectorNotFound)
	})

	t.Run("nearest by embedding without exclusion includes all", func(t *testing.T) {
		matches, err := vectors.NearestByEmbedding(ctx, axisEmbedding(0, 0), 10, nil)
		require.NoError(t, err)
		require.Len(t, matches, 5)
		assert.Equal(t, ids[0], matches[0].DamageID)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	})
}
