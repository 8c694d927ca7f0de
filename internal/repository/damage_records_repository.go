// Package repository handles data access for damage records and the similarity index.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadsight/roadsight/internal/models"
	"github.com/roadsight/roadsight/internal/roaderrors"
)

// DamageRecordsRepository handles data access for the damages and damage_corrections tables.
type DamageRecordsRepository struct {
	db *pgxpool.Pool
}

// NewDamageRecordsRepository creates a new damage records repository.
func NewDamageRecordsRepository(db *pgxpool.Pool) *DamageRecordsRepository {
	return &DamageRecordsRepository{db: db}
}

const damageRecordColumns = `id, image_path, risk_level, findings, ai_result, user_corrected, created_at, updated_at`

// Put inserts the record if absent. A second Put with the same id is a silent no-op,
// not an overwrite and not an error; retried ingestions converge on one row.
func (r *DamageRecordsRepository) Put(ctx context.Context, rec *models.DamageRecord) error {
	findings, err := json.Marshal(rec.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO damages (id, image_path, damage_type, severity, location, risk_level, findings, ai_result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.ImagePath, rec.PrimaryType(), rec.PrimarySeverity(), primaryLocation(rec),
		rec.RiskLevel, findings, rec.RawResult, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("damages insert: %w", err)
	}

	return nil
}

// Get returns the record for the given id, or a NotFoundError when no row exists.
func (r *DamageRecordsRepository) Get(ctx context.Context, id uuid.UUID) (*models.DamageRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+damageRecordColumns+` FROM damages WHERE id = $1`, id)

	rec, err := scanDamageRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, roaderrors.NewNotFoundError("damage record", "")
		}

		return nil, fmt.Errorf("get damage record: %w", err)
	}

	return rec, nil
}

// GetByIDs returns the records for the given ids, preserving the input order.
// Ids without a matching row are dropped silently.
func (r *DamageRecordsRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.DamageRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+damageRecordColumns+` FROM damages WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get damage records by ids: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*models.DamageRecord, len(ids))

	for rows.Next() {
		rec, err := scanDamageRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan damage record: %w", err)
		}

		byID[rec.ID] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating damage records: %w", err)
	}

	out := make([]*models.DamageRecord, 0, len(byID))

	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}

	return out, nil
}

// AppendCorrection updates the record's correction and updated_at, and appends an
// immutable correction event, as a single transaction. Either both effects happen or
// neither does. Returns a NotFoundError when the record does not exist.
func (r *DamageRecordsRepository) AppendCorrection(
	ctx context.Context, id uuid.UUID, corrected models.DamageCorrection,
) error {
	payload, err := json.Marshal(corrected)
	if err != nil {
		return fmt.Errorf("marshal correction: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin correction tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	now := time.Now()

	tag, err := tx.Exec(ctx,
		`UPDATE damages SET user_corrected = $1, updated_at = $2 WHERE id = $3`,
		payload, now, id,
	)
	if err != nil {
		return fmt.Errorf("update correction: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return roaderrors.NewNotFoundError("damage record", "")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO damage_corrections (damage_id, corrected_data, created_at) VALUES ($1, $2, $3)`,
		id, payload, now,
	)
	if err != nil {
		return fmt.Errorf("insert correction event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit correction tx: %w", err)
	}

	return nil
}

// CountCorrections returns the total number of correction events ever appended.
// The count is monotonically non-decreasing; events are never deleted.
func (r *DamageRecordsRepository) CountCorrections(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM damage_corrections`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count corrections: %w", err)
	}

	return count, nil
}

// CountRecords returns the total number of damage records.
func (r *DamageRecordsRepository) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM damages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count damage records: %w", err)
	}

	return count, nil
}

// AggregateByType returns record counts grouped by the primary finding's type.
// Reporting only; records with no findings count under "unknown".
func (r *DamageRecordsRepository) AggregateByType(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT damage_type, COUNT(*) FROM damages GROUP BY damage_type`)
	if err != nil {
		return nil, fmt.Errorf("aggregate by type: %w", err)
	}
	defer rows.Close()

	byType := make(map[string]int64)

	for rows.Next() {
		var (
			damageType string
			count      int64
		)

		if err := rows.Scan(&damageType, &count); err != nil {
			return nil, fmt.Errorf("scan type aggregate: %w", err)
		}

		byType[damageType] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating type aggregates: %w", err)
	}

	return byType, nil
}

// scanDamageRecord scans one damages row into a DamageRecord.
func scanDamageRecord(row pgx.Row) (*models.DamageRecord, error) {
	var (
		rec       models.DamageRecord
		findings  []byte
		corrected []byte
	)

	err := row.Scan(&rec.ID, &rec.ImagePath, &rec.RiskLevel, &findings, &rec.RawResult,
		&corrected, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(findings) > 0 {
		if err := json.Unmarshal(findings, &rec.Findings); err != nil {
			return nil, fmt.Errorf("unmarshal findings: %w", err)
		}
	}

	if len(corrected) > 0 {
		var c models.DamageCorrection
		if err := json.Unmarshal(corrected, &c); err != nil {
			return nil, fmt.Errorf("unmarshal correction: %w", err)
		}

		rec.Correction = &c
	}

	return &rec, nil
}

// primaryLocation mirrors the first finding's location into the damages row for
// filtering; empty when there are no findings.
func primaryLocation(rec *models.DamageRecord) string {
	if len(rec.Findings) == 0 {
		return ""
	}

	return rec.Findings[0].Location
}
