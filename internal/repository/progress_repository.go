package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/godilite/valuation-server/internal/repository/models"
	"github.com/godilite/valuation-server/pkg/database"
)

const progressColumns = `evaluation_id, opportunity_id, status, completed_at, observed_impact, updated_at, deleted_at`

func scanProgress(s database.Scanner) (models.Progress, error) {
	var (
		p           models.Progress
		completedAt sql.NullString
		observed    sql.NullFloat64
		updatedAt   string
		deletedAt   sql.NullString
	)
	if err := s.Scan(&p.EvaluationID, &p.OpportunityID, &p.Status, &completedAt, &observed, &updatedAt, &deletedAt); err != nil {
		return models.Progress{}, err
	}
	if observed.Valid {
		v := observed.Float64
		p.ObservedImpact = &v
	}

	var err error
	if p.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return models.Progress{}, fmt.Errorf("decode completed_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Progress{}, fmt.Errorf("decode updated_at: %w", err)
	}
	if p.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return models.Progress{}, fmt.Errorf("decode deleted_at: %w", err)
	}
	return p, nil
}

// GetProgress loads one progress row, soft deleted or not.
func (r *EvaluationRepository) GetProgress(ctx context.Context, evaluationID, opportunityID string) (models.Progress, error) {
	query := `SELECT ` + progressColumns + ` FROM improvement_progress WHERE evaluation_id = ? AND opportunity_id = ?`
	p, err := database.QueryOne(ctx, r.db, query, []any{evaluationID, opportunityID}, scanProgress)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Progress{}, models.ErrNotFound
		}
		return models.Progress{}, fmt.Errorf("query progress: %w", err)
	}
	return p, nil
}

// UpdateProgress overwrites the mutable columns of a live progress row.
func (r *EvaluationRepository) UpdateProgress(ctx context.Context, p models.Progress) error {
	var observed sql.NullFloat64
	if p.ObservedImpact != nil {
		observed = sql.NullFloat64{Float64: *p.ObservedImpact, Valid: true}
	}

	err := database.ExecExpectOne(ctx, r.db, `
		UPDATE improvement_progress
		SET status = ?, completed_at = ?, observed_impact = ?, updated_at = ?
		WHERE evaluation_id = ? AND opportunity_id = ? AND deleted_at IS NULL`,
		string(p.Status), formatNullTime(p.CompletedAt), observed, formatTime(p.UpdatedAt),
		p.EvaluationID, p.OpportunityID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// ListProgress returns the progress rows of one evaluation in opportunity rank order.
func (r *EvaluationRepository) ListProgress(ctx context.Context, evaluationID string, includeDeleted bool) ([]models.Progress, error) {
	query := `
		SELECT p.evaluation_id, p.opportunity_id, p.status, p.completed_at, p.observed_impact, p.updated_at, p.deleted_at
		FROM improvement_progress p
		JOIN opportunities o ON o.id = p.opportunity_id
		WHERE p.evaluation_id = ?`
	if !includeDeleted {
		query += ` AND p.deleted_at IS NULL`
	}
	query += ` ORDER BY o.rank`

	rows, err := database.QueryMany(ctx, r.db, query, []any{evaluationID}, scanProgress)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	return rows, nil
}
