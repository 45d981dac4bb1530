package service

import (
	"context"
	"time"

	"github.com/godilite/valuation-server/internal/benchmark"
	"github.com/godilite/valuation-server/internal/repository/models"
)

// EvaluationRepository defines the persistence operations for evaluations.
type EvaluationRepository interface {
	CreateEvaluation(ctx context.Context, ev models.Evaluation) error
	GetEvaluation(ctx context.Context, id string) (models.Evaluation, error)
	ListEvaluations(ctx context.Context, ownerID string, includeDeleted bool) ([]models.Evaluation, error)
	LatestEvaluation(ctx context.Context, ownerID string) (models.Evaluation, error)
	Lineage(ctx context.Context, id string) ([]string, error)
	SoftDeleteEvaluation(ctx context.Context, id, actorID string, at time.Time) error
	GetProgress(ctx context.Context, evaluationID, opportunityID string) (models.Progress, error)
	UpdateProgress(ctx context.Context, p models.Progress) error
	ListProgress(ctx context.Context, evaluationID string, includeDeleted bool) ([]models.Progress, error)
}

// Cacher defines the cache operations used for evaluation snapshots.
type Cacher interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// Benchmarks is the read-only industry lookup. *benchmark.Table implements it.
type Benchmarks interface {
	Known(industry string) bool
	Lookup(industry string) (benchmark.Profile, bool)
}
