package models

import (
	"errors"
	"time"

	"github.com/godilite/valuation-server/internal/opportunity"
	"github.com/godilite/valuation-server/internal/questionnaire"
	"github.com/godilite/valuation-server/internal/valuation"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicate      = errors.New("record already exists")
	ErrAlreadyDeleted = errors.New("record already deleted")
	ErrCascade        = errors.New("cascade failed")
)

// State is derived from the stored record, never persisted.
type State string

const (
	StateComputed    State = "computed"
	StateSuperseded  State = "superseded"
	StateSoftDeleted State = "soft_deleted"
)

// Evaluation is the aggregate root. Only DeletedAt and DeletedBy change after
// creation.
type Evaluation struct {
	ID               string
	OwnerID          string
	Version          int
	CreatedAt        time.Time
	Supersedes       *string
	DeletedAt        *time.Time
	DeletedBy        string
	SupersededBy     []string
	Facts            questionnaire.Facts
	Valuation        *valuation.Result
	InsufficientData bool
	DataConfidence   float64
	Opportunities    []opportunity.Opportunity
}

// State reports the lifecycle state. SupersededBy lists live successors only.
func (e Evaluation) State() State {
	switch {
	case e.DeletedAt != nil:
		return StateSoftDeleted
	case len(e.SupersededBy) > 0:
		return StateSuperseded
	default:
		return StateComputed
	}
}

// Deleted reports whether the evaluation was soft deleted.
func (e Evaluation) Deleted() bool { return e.DeletedAt != nil }

type ProgressStatus string

const (
	StatusPending    ProgressStatus = "pending"
	StatusInProgress ProgressStatus = "in_progress"
	StatusDone       ProgressStatus = "done"
)

// Valid reports whether s is a known status.
func (s ProgressStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Progress tracks implementation of one opportunity of one evaluation.
type Progress struct {
	EvaluationID   string
	OpportunityID  string
	Status         ProgressStatus
	CompletedAt    *time.Time
	ObservedImpact *float64
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}
