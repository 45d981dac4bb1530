package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/godilite/valuation-server/internal/opportunity"
	"github.com/godilite/valuation-server/internal/repository/models"
	"github.com/godilite/valuation-server/internal/valuation"
	"github.com/godilite/valuation-server/pkg/database"
)

type EvaluationRepository struct {
	db *sql.DB
}

func NewEvaluationRepository(db *sql.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

const evaluationColumns = `
	e.id, e.owner_id, e.version, e.supersedes, e.facts, e.valuation,
	e.insufficient_data, e.data_confidence, e.created_at, e.deleted_at, e.deleted_by`

func scanEvaluation(s database.Scanner) (models.Evaluation, error) {
	var (
		ev           models.Evaluation
		supersedes   sql.NullString
		factsJSON    string
		valuationRaw sql.NullString
		insufficient int
		createdAt    string
		deletedAt    sql.NullString
		deletedBy    sql.NullString
	)
	if err := s.Scan(
		&ev.ID, &ev.OwnerID, &ev.Version, &supersedes, &factsJSON, &valuationRaw,
		&insufficient, &ev.DataConfidence, &createdAt, &deletedAt, &deletedBy,
	); err != nil {
		return models.Evaluation{}, err
	}

	if supersedes.Valid {
		ev.Supersedes = &supersedes.String
	}
	if err := json.Unmarshal([]byte(factsJSON), &ev.Facts); err != nil {
		return models.Evaluation{}, fmt.Errorf("decode facts of %s: %w", ev.ID, err)
	}
	if valuationRaw.Valid {
		var res valuation.Result
		if err := json.Unmarshal([]byte(valuationRaw.String), &res); err != nil {
			return models.Evaluation{}, fmt.Errorf("decode valuation of %s: %w", ev.ID, err)
		}
		ev.Valuation = &res
	}
	ev.InsufficientData = insufficient != 0
	ev.DeletedBy = deletedBy.String

	var err error
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Evaluation{}, fmt.Errorf("decode created_at of %s: %w", ev.ID, err)
	}
	if ev.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return models.Evaluation{}, fmt.Errorf("decode deleted_at of %s: %w", ev.ID, err)
	}
	return ev, nil
}

func scanOpportunity(s database.Scanner) (opportunity.Opportunity, error) {
	var (
		o       opportunity.Opportunity
		basedOn string
	)
	if err := s.Scan(
		&o.ID, &o.Driver, &o.Category, &o.Description, &o.Current, &o.Target,
		&o.ImpactLow, &o.ImpactMid, &o.ImpactHigh, &o.GapConfidence, &o.PriorityScore,
		&basedOn, &o.Methodology,
	); err != nil {
		return opportunity.Opportunity{}, err
	}
	if err := json.Unmarshal([]byte(basedOn), &o.BasedOnFacts); err != nil {
		return opportunity.Opportunity{}, fmt.Errorf("decode based_on of %s: %w", o.ID, err)
	}
	return o, nil
}

func scanID(s database.Scanner) (string, error) {
	var id string
	err := s.Scan(&id)
	return id, err
}

// CreateEvaluation writes the evaluation, its opportunities and their pending
// progress rows in one transaction.
func (r *EvaluationRepository) CreateEvaluation(ctx context.Context, ev models.Evaluation) error {
	factsJSON, err := json.Marshal(ev.Facts)
	if err != nil {
		return fmt.Errorf("encode facts: %w", err)
	}
	var valuationJSON sql.NullString
	if ev.Valuation != nil {
		data, err := json.Marshal(ev.Valuation)
		if err != nil {
			return fmt.Errorf("encode valuation: %w", err)
		}
		valuationJSON = sql.NullString{String: string(data), Valid: true}
	}
	var supersedes sql.NullString
	if ev.Supersedes != nil {
		supersedes = sql.NullString{String: *ev.Supersedes, Valid: true}
	}
	insufficient := 0
	if ev.InsufficientData {
		insufficient = 1
	}
	createdAt := formatTime(ev.CreatedAt)

	_, err = database.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		const insertEvaluation = `
			INSERT INTO evaluations (
				id, owner_id, version, supersedes, schema_version, industry, facts,
				valuation, insufficient_data, data_confidence, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insertEvaluation,
			ev.ID, ev.OwnerID, ev.Version, supersedes, ev.Facts.SchemaVersion(), ev.Facts.Industry(),
			string(factsJSON), valuationJSON, insufficient, ev.DataConfidence, createdAt,
		); err != nil {
			return struct{}{}, fmt.Errorf("insert evaluation: %w", err)
		}

		const insertOpportunity = `
			INSERT INTO opportunities (
				id, evaluation_id, rank, driver, category, description, current_value, target_value,
				impact_low, impact_mid, impact_high, gap_confidence, priority, based_on, methodology
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		const insertProgress = `
			INSERT INTO improvement_progress (evaluation_id, opportunity_id, status, updated_at)
			VALUES (?, ?, ?, ?)`

		for rank, o := range ev.Opportunities {
			basedOn, err := json.Marshal(o.BasedOnFacts)
			if err != nil {
				return struct{}{}, fmt.Errorf("encode based_on: %w", err)
			}
			if _, err := tx.ExecContext(ctx, insertOpportunity,
				o.ID, ev.ID, rank, o.Driver, string(o.Category), o.Description, o.Current, o.Target,
				o.ImpactLow, o.ImpactMid, o.ImpactHigh, o.GapConfidence, o.PriorityScore,
				string(basedOn), o.Methodology,
			); err != nil {
				return struct{}{}, fmt.Errorf("insert opportunity %s: %w", o.Driver, err)
			}
			if _, err := tx.ExecContext(ctx, insertProgress,
				ev.ID, o.ID, string(models.StatusPending), createdAt,
			); err != nil {
				return struct{}{}, fmt.Errorf("insert progress %s: %w", o.Driver, err)
			}
		}
		return struct{}{}, nil
	})
	return database.MapError(err, models.ErrNotFound, models.ErrDuplicate)
}

// GetEvaluation loads one evaluation, soft deleted or not, together with its
// opportunities and live successors.
func (r *EvaluationRepository) GetEvaluation(ctx context.Context, id string) (models.Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations e WHERE e.id = ?`
	ev, err := database.QueryOne(ctx, r.db, query, []any{id}, scanEvaluation)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Evaluation{}, models.ErrNotFound
		}
		return models.Evaluation{}, fmt.Errorf("query evaluation: %w", err)
	}
	if err := r.hydrate(ctx, &ev); err != nil {
		return models.Evaluation{}, err
	}
	return ev, nil
}

func (r *EvaluationRepository) hydrate(ctx context.Context, ev *models.Evaluation) error {
	const opportunitiesQuery = `
		SELECT id, driver, category, description, current_value, target_value,
			impact_low, impact_mid, impact_high, gap_confidence, priority, based_on, methodology
		FROM opportunities
		WHERE evaluation_id = ?
		ORDER BY rank`
	opps, err := database.QueryMany(ctx, r.db, opportunitiesQuery, []any{ev.ID}, scanOpportunity)
	if err != nil {
		return fmt.Errorf("query opportunities: %w", err)
	}
	ev.Opportunities = opps

	const successorsQuery = `
		SELECT id FROM evaluations
		WHERE supersedes = ? AND deleted_at IS NULL
		ORDER BY created_at, id`
	successors, err := database.QueryMany(ctx, r.db, successorsQuery, []any{ev.ID}, scanID)
	if err != nil {
		return fmt.Errorf("query successors: %w", err)
	}
	if len(successors) > 0 {
		ev.SupersededBy = successors
	}
	return nil
}

// ListEvaluations returns an owner's evaluations, newest first.
func (r *EvaluationRepository) ListEvaluations(ctx context.Context, ownerID string, includeDeleted bool) ([]models.Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations e WHERE e.owner_id = ?`
	if !includeDeleted {
		query += ` AND e.deleted_at IS NULL`
	}
	query += ` ORDER BY e.created_at DESC, e.id DESC`

	evs, err := database.QueryMany(ctx, r.db, query, []any{ownerID}, scanEvaluation)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	for i := range evs {
		if err := r.hydrate(ctx, &evs[i]); err != nil {
			return nil, err
		}
	}
	return evs, nil
}

// LatestEvaluation returns the newest live evaluation without a live successor.
func (r *EvaluationRepository) LatestEvaluation(ctx context.Context, ownerID string) (models.Evaluation, error) {
	query := `SELECT ` + evaluationColumns + `
		FROM evaluations e
		WHERE e.owner_id = ? AND e.deleted_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM evaluations c WHERE c.supersedes = e.id AND c.deleted_at IS NULL
		  )
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT 1`
	ev, err := database.QueryOne(ctx, r.db, query, []any{ownerID}, scanEvaluation)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Evaluation{}, models.ErrNotFound
		}
		return models.Evaluation{}, fmt.Errorf("query latest evaluation: %w", err)
	}
	if err := r.hydrate(ctx, &ev); err != nil {
		return models.Evaluation{}, err
	}
	return ev, nil
}

// Lineage returns the supersession chain from id back to its root, id first.
func (r *EvaluationRepository) Lineage(ctx context.Context, id string) ([]string, error) {
	const query = `
		WITH RECURSIVE chain(id, supersedes, depth) AS (
			SELECT id, supersedes, 0 FROM evaluations WHERE id = ?
			UNION ALL
			SELECT e.id, e.supersedes, c.depth + 1
			FROM evaluations e JOIN chain c ON e.id = c.supersedes
		)
		SELECT id FROM chain ORDER BY depth`
	ids, err := database.QueryMany(ctx, r.db, query, []any{id}, scanID)
	if err != nil {
		return nil, fmt.Errorf("query lineage: %w", err)
	}
	if len(ids) == 0 {
		return nil, models.ErrNotFound
	}
	return ids, nil
}

// SoftDeleteEvaluation marks the evaluation, its opportunities and their
// progress rows deleted in a single transaction. Failures after the root row
// is marked are reported as models.ErrCascade and fully rolled back.
func (r *EvaluationRepository) SoftDeleteEvaluation(ctx context.Context, id, actorID string, at time.Time) error {
	deletedAt := formatTime(at)

	_, err := database.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		err := database.ExecExpectOne(ctx, tx,
			`UPDATE evaluations SET deleted_at = ?, deleted_by = ? WHERE id = ? AND deleted_at IS NULL`,
			deletedAt, actorID, id)
		if errors.Is(err, sql.ErrNoRows) {
			var exists int
			if qerr := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM evaluations WHERE id = ?`, id).Scan(&exists); qerr != nil {
				return struct{}{}, fmt.Errorf("check evaluation: %w", qerr)
			}
			if exists > 0 {
				return struct{}{}, models.ErrAlreadyDeleted
			}
			return struct{}{}, models.ErrNotFound
		}
		if err != nil {
			return struct{}{}, fmt.Errorf("mark evaluation: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE opportunities SET deleted_at = ? WHERE evaluation_id = ? AND deleted_at IS NULL`,
			deletedAt, id); err != nil {
			return struct{}{}, fmt.Errorf("%w: opportunities: %v", models.ErrCascade, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE improvement_progress SET deleted_at = ? WHERE evaluation_id = ? AND deleted_at IS NULL`,
			deletedAt, id); err != nil {
			return struct{}{}, fmt.Errorf("%w: progress: %v", models.ErrCascade, err)
		}
		return struct{}{}, nil
	})
	if err != nil && !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrAlreadyDeleted) && !errors.Is(err, models.ErrCascade) {
		return fmt.Errorf("%w: %v", models.ErrCascade, err)
	}
	return err
}
