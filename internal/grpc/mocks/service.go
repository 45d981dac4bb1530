package mocks

import (
	"context"
	"errors"

	"github.com/godilite/valuation-server/internal/questionnaire"
	"github.com/godilite/valuation-server/internal/repository/models"
	"github.com/godilite/valuation-server/internal/service"
)

// MockEvaluationService is a mock implementation of the EvaluationService interface
// for testing the handler layer. It uses function-based mocking for flexibility.
type MockEvaluationService struct {
	CreateEvaluationFunc func(ctx context.Context, actor service.Actor, resp questionnaire.Response) (models.Evaluation, error)
	ReEvaluateFunc       func(ctx context.Context, actor service.Actor, priorID string, resp questionnaire.Response) (models.Evaluation, error)
	SoftDeleteFunc       func(ctx context.Context, actor service.Actor, id string) (models.Evaluation, error)
	RecordProgressFunc   func(ctx context.Context, actor service.Actor, update service.ProgressUpdate) (models.Progress, error)
	GetEvaluationFunc    func(ctx context.Context, actor service.Actor, id string, includeDeleted bool) (models.Evaluation, error)
	ListEvaluationsFunc  func(ctx context.Context, actor service.Actor, ownerID string, includeDeleted bool) ([]models.Evaluation, error)
	LatestEvaluationFunc func(ctx context.Context, actor service.Actor, ownerID string) (models.Evaluation, error)
	HistoryFunc          func(ctx context.Context, actor service.Actor, id string) ([]models.Evaluation, error)
	CompareFunc          func(ctx context.Context, actor service.Actor, priorID, nextID string) (service.Comparison, error)
	ListProgressFunc     func(ctx context.Context, actor service.Actor, evaluationID string, includeDeleted bool) ([]models.Progress, error)
}

// CreateEvaluation implements the EvaluationService interface
func (m *MockEvaluationService) CreateEvaluation(ctx context.Context, actor service.Actor, resp questionnaire.Response) (models.Evaluation, error) {
	if m.CreateEvaluationFunc != nil {
		return m.CreateEvaluationFunc(ctx, actor, resp)
	}
	return models.Evaluation{}, errors.New("CreateEvaluationFunc not implemented")
}

// ReEvaluate implements the EvaluationService interface
func (m *MockEvaluationService) ReEvaluate(ctx context.Context, actor service.Actor, priorID string, resp questionnaire.Response) (models.Evaluation, error) {
	if m.ReEvaluateFunc != nil {
		return m.ReEvaluateFunc(ctx, actor, priorID, resp)
	}
	return models.Evaluation{}, errors.New("ReEvaluateFunc not implemented")
}

// SoftDelete implements the EvaluationService interface
func (m *MockEvaluationService) SoftDelete(ctx context.Context, actor service.Actor, id string) (models.Evaluation, error) {
	if m.SoftDeleteFunc != nil {
		return m.SoftDeleteFunc(ctx, actor, id)
	}
	return models.Evaluation{}, errors.New("SoftDeleteFunc not implemented")
}

// RecordProgress implements the EvaluationService interface
func (m *MockEvaluationService) RecordProgress(ctx context.Context, actor service.Actor, update service.ProgressUpdate) (models.Progress, error) {
	if m.RecordProgressFunc != nil {
		return m.RecordProgressFunc(ctx, actor, update)
	}
	return models.Progress{}, errors.New("RecordProgressFunc not implemented")
}

// GetEvaluation implements the EvaluationService interface
func (m *MockEvaluationService) GetEvaluation(ctx context.Context, actor service.Actor, id string, includeDeleted bool) (models.Evaluation, error) {
	if m.GetEvaluationFunc != nil {
		return m.GetEvaluationFunc(ctx, actor, id, includeDeleted)
	}
	return models.Evaluation{}, errors.New("GetEvaluationFunc not implemented")
}

// ListEvaluations implements the EvaluationService interface
func (m *MockEvaluationService) ListEvaluations(ctx context.Context, actor service.Actor, ownerID string, includeDeleted bool) ([]models.Evaluation, error) {
	if m.ListEvaluationsFunc != nil {
		return m.ListEvaluationsFunc(ctx, actor, ownerID, includeDeleted)
	}
	return nil, errors.New("ListEvaluationsFunc not implemented")
}

// LatestEvaluation implements the EvaluationService interface
func (m *MockEvaluationService) LatestEvaluation(ctx context.Context, actor service.Actor, ownerID string) (models.Evaluation, error) {
	if m.LatestEvaluationFunc != nil {
		return m.LatestEvaluationFunc(ctx, actor, ownerID)
	}
	return models.Evaluation{}, errors.New("LatestEvaluationFunc not implemented")
}

// History implements the EvaluationService interface
func (m *MockEvaluationService) History(ctx context.Context, actor service.Actor, id string) ([]models.Evaluation, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, actor, id)
	}
	return nil, errors.New("HistoryFunc not implemented")
}

// Compare implements the EvaluationService interface
func (m *MockEvaluationService) Compare(ctx context.Context, actor service.Actor, priorID, nextID string) (service.Comparison, error) {
	if m.CompareFunc != nil {
		return m.CompareFunc(ctx, actor, priorID, nextID)
	}
	return service.Comparison{}, errors.New("CompareFunc not implemented")
}

// ListProgress implements the EvaluationService interface
func (m *MockEvaluationService) ListProgress(ctx context.Context, actor service.Actor, evaluationID string, includeDeleted bool) ([]models.Progress, error) {
	if m.ListProgressFunc != nil {
		return m.ListProgressFunc(ctx, actor, evaluationID, includeDeleted)
	}
	return nil, errors.New("ListProgressFunc not implemented")
}
