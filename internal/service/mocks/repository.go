package mocks

import (
	"context"
	"errors"
	"time"

	"github.com/godilite/valuation-server/internal/repository/models"
)

// MockEvaluationRepository is a mock implementation of the EvaluationRepository interface
// for testing the service layer.
type MockEvaluationRepository struct {
	CreateEvaluationFunc     func(ctx context.Context, ev models.Evaluation) error
	GetEvaluationFunc        func(ctx context.Context, id string) (models.Evaluation, error)
	ListEvaluationsFunc      func(ctx context.Context, ownerID string, includeDeleted bool) ([]models.Evaluation, error)
	LatestEvaluationFunc     func(ctx context.Context, ownerID string) (models.Evaluation, error)
	LineageFunc              func(ctx context.Context, id string) ([]string, error)
	SoftDeleteEvaluationFunc func(ctx context.Context, id, actorID string, at time.Time) error
	GetProgressFunc          func(ctx context.Context, evaluationID, opportunityID string) (models.Progress, error)
	UpdateProgressFunc       func(ctx context.Context, p models.Progress) error
	ListProgressFunc         func(ctx context.Context, evaluationID string, includeDeleted bool) ([]models.Progress, error)
}

// CreateEvaluation implements the EvaluationRepository interface
func (m *MockEvaluationRepository) CreateEvaluation(ctx context.Context, ev models.Evaluation) error {
	if m.CreateEvaluationFunc != nil {
		return m.CreateEvaluationFunc(ctx, ev)
	}
	return errors.New("CreateEvaluationFunc not implemented")
}

// GetEvaluation implements the EvaluationRepository interface
func (m *MockEvaluationRepository) GetEvaluation(ctx context.Context, id string) (models.Evaluation, error) {
	if m.GetEvaluationFunc != nil {
		return m.GetEvaluationFunc(ctx, id)
	}
	return models.Evaluation{}, errors.New("GetEvaluationFunc not implemented")
}

// ListEvaluations implements the EvaluationRepository interface
func (m *MockEvaluationRepository) ListEvaluations(ctx context.Context, ownerID string, includeDeleted bool) ([]models.Evaluation, error) {
	if m.ListEvaluationsFunc != nil {
		return m.ListEvaluationsFunc(ctx, ownerID, includeDeleted)
	}
	return nil, errors.New("ListEvaluationsFunc not implemented")
}

// LatestEvaluation implements the EvaluationRepository interface
func (m *MockEvaluationRepository) LatestEvaluation(ctx context.Context, ownerID string) (models.Evaluation, error) {
	if m.LatestEvaluationFunc != nil {
		return m.LatestEvaluationFunc(ctx, ownerID)
	}
	return models.Evaluation{}, errors.New("LatestEvaluationFunc not implemented")
}

// Lineage implements the EvaluationRepository interface
func (m *MockEvaluationRepository) Lineage(ctx context.Context, id string) ([]string, error) {
	if m.LineageFunc != nil {
		return m.LineageFunc(ctx, id)
	}
	return nil, errors.New("LineageFunc not implemented")
}

// SoftDeleteEvaluation implements the EvaluationRepository interface
func (m *MockEvaluationRepository) SoftDeleteEvaluation(ctx context.Context, id, actorID string, at time.Time) error {
	if m.SoftDeleteEvaluationFunc != nil {
		return m.SoftDeleteEvaluationFunc(ctx, id, actorID, at)
	}
	return errors.New("SoftDeleteEvaluationFunc not implemented")
}

// GetProgress implements the EvaluationRepository interface
func (m *MockEvaluationRepository) GetProgress(ctx context.Context, evaluationID, opportunityID string) (models.Progress, error) {
	if m.GetProgressFunc != nil {
		return m.GetProgressFunc(ctx, evaluationID, opportunityID)
	}
	return models.Progress{}, errors.New("GetProgressFunc not implemented")
}

// UpdateProgress implements the EvaluationRepository interface
func (m *MockEvaluationRepository) UpdateProgress(ctx context.Context, p models.Progress) error {
	if m.UpdateProgressFunc != nil {
		return m.UpdateProgressFunc(ctx, p)
	}
	return errors.New("UpdateProgressFunc not implemented")
}

// ListProgress implements the EvaluationRepository interface
func (m *MockEvaluationRepository) ListProgress(ctx context.Context, evaluationID string, includeDeleted bool) ([]models.Progress, error) {
	if m.ListProgressFunc != nil {
		return m.ListProgressFunc(ctx, evaluationID, includeDeleted)
	}
	return nil, errors.New("ListProgressFunc not implemented")
}
