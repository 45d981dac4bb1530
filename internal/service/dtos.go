package service

import (
	"github.com/godilite/valuation-server/internal/opportunity"
	"github.com/godilite/valuation-server/internal/repository/models"
)

type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

// Actor is the caller as asserted by the identity provider.
type Actor struct {
	ID   string
	Role Role
}

type ProgressUpdate struct {
	EvaluationID   string
	OpportunityID  string
	Status         models.ProgressStatus
	ObservedImpact *float64
}

// Comparison reports valuation movement between two evaluations.
type Comparison struct {
	PriorID        string
	NextID         string
	PriorCentral   float64
	NextCentral    float64
	CentralDelta   float64
	DeltaPct       float64
	ConfidenceFrom float64
	ConfidenceTo   float64
	Changes        []opportunity.Change
}
