package grpc

import (
	"context"

	"github.com/godilite/valuation-server/internal/questionnaire"
	"github.com/godilite/valuation-server/internal/repository/models"
	"github.com/godilite/valuation-server/internal/service"
)

// EvaluationService is the lifecycle surface the handlers depend on.
// *service.EvaluationService implements it.
type EvaluationService interface {
	CreateEvaluation(ctx context.Context, actor service.Actor, resp questionnaire.Response) (models.Evaluation, error)
	ReEvaluate(ctx context.Context, actor service.Actor, priorID string, resp questionnaire.Response) (models.Evaluation, error)
	SoftDelete(ctx context.Context, actor service.Actor, id string) (models.Evaluation, error)
	RecordProgress(ctx context.Context, actor service.Actor, update service.ProgressUpdate) (models.Progress, error)
	GetEvaluation(ctx context.Context, actor service.Actor, id string, includeDeleted bool) (models.Evaluation, error)
	ListEvaluations(ctx context.Context, actor service.Actor, ownerID string, includeDeleted bool) ([]models.Evaluation, error)
	LatestEvaluation(ctx context.Context, actor service.Actor, ownerID string) (models.Evaluation, error)
	History(ctx context.Context, actor service.Actor, id string) ([]models.Evaluation, error)
	Compare(ctx context.Context, actor service.Actor, priorID, nextID string) (service.Comparison, error)
	ListProgress(ctx context.Context, actor service.Actor, evaluationID string, includeDeleted bool) ([]models.Progress, error)
}
