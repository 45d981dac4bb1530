package grpc

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/godilite/valuation-server/internal/opportunity"
	"github.com/godilite/valuation-server/internal/questionnaire"
	"github.com/godilite/valuation-server/internal/repository/models"
	"github.com/godilite/valuation-server/internal/service"
	"github.com/godilite/valuation-server/internal/valuation"
)

type submissionRequest struct {
	PriorID       string         `json:"priorId"`
	SchemaVersion int            `json:"schemaVersion"`
	Scale         string         `json:"scale"`
	Answers       map[string]any `json:"answers"`
}

func (r submissionRequest) response() questionnaire.Response {
	return questionnaire.Response{SchemaVersion: r.SchemaVersion, Scale: r.Scale, Answers: r.Answers}
}

type idRequest struct {
	ID             string `json:"id"`
	IncludeDeleted bool   `json:"includeDeleted"`
}

type ownerRequest struct {
	OwnerID        string `json:"ownerId"`
	IncludeDeleted bool   `json:"includeDeleted"`
}

type progressRequest struct {
	EvaluationID   string   `json:"evaluationId"`
	OpportunityID  string   `json:"opportunityId"`
	Status         string   `json:"status"`
	ObservedImpact *float64 `json:"observedImpact"`
	IncludeDeleted bool     `json:"includeDeleted"`
}

type compareRequest struct {
	PriorID string `json:"priorId"`
	NextID  string `json:"nextId"`
}

type evaluationView struct {
	ID                 string                    `json:"id"`
	OwnerID            string                    `json:"ownerId"`
	Version            int                       `json:"version"`
	State              models.State              `json:"state"`
	CreatedAt          string                    `json:"createdAt"`
	Supersedes         *string                   `json:"supersedes,omitempty"`
	SupersededBy       []string                  `json:"supersededBy"`
	DeletedAt          string                    `json:"deletedAt,omitempty"`
	DeletedBy          string                    `json:"deletedBy,omitempty"`
	InsufficientData   bool                      `json:"insufficientData"`
	DataConfidence     float64                   `json:"dataConfidence"`
	Facts              questionnaire.Facts       `json:"facts"`
	Valuation          *valuation.Result         `json:"valuation,omitempty"`
	Opportunities      []opportunity.Opportunity `json:"opportunities"`
	TotalOpportunities int                       `json:"totalOpportunities"`
}

type progressView struct {
	EvaluationID   string   `json:"evaluationId"`
	OpportunityID  string   `json:"opportunityId"`
	Status         string   `json:"status"`
	CompletedAt    string   `json:"completedAt,omitempty"`
	ObservedImpact *float64 `json:"observedImpact,omitempty"`
	UpdatedAt      string   `json:"updatedAt"`
	DeletedAt      string   `json:"deletedAt,omitempty"`
}

type comparisonView struct {
	PriorID        string               `json:"priorId"`
	NextID         string               `json:"nextId"`
	PriorCentral   float64              `json:"priorCentral"`
	NextCentral    float64              `json:"nextCentral"`
	CentralDelta   float64              `json:"centralDelta"`
	DeltaPct       float64              `json:"deltaPct"`
	ConfidenceFrom float64              `json:"confidenceFrom"`
	ConfidenceTo   float64              `json:"confidenceTo"`
	Changes        []opportunity.Change `json:"changes"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// toEvaluationView caps the opportunity list at limit; limit <= 0 keeps all.
func toEvaluationView(ev models.Evaluation, limit int) evaluationView {
	opps := ev.Opportunities
	if opps == nil {
		opps = []opportunity.Opportunity{}
	}
	superseded := ev.SupersededBy
	if superseded == nil {
		superseded = []string{}
	}
	return evaluationView{
		ID:                 ev.ID,
		OwnerID:            ev.OwnerID,
		Version:            ev.Version,
		State:              ev.State(),
		CreatedAt:          formatTime(ev.CreatedAt),
		Supersedes:         ev.Supersedes,
		SupersededBy:       superseded,
		DeletedAt:          formatOptionalTime(ev.DeletedAt),
		DeletedBy:          ev.DeletedBy,
		InsufficientData:   ev.InsufficientData,
		DataConfidence:     ev.DataConfidence,
		Facts:              ev.Facts,
		Valuation:          ev.Valuation,
		Opportunities:      opportunity.Cap(opps, limit),
		TotalOpportunities: len(opps),
	}
}

func toProgressView(p models.Progress) progressView {
	return progressView{
		EvaluationID:   p.EvaluationID,
		OpportunityID:  p.OpportunityID,
		Status:         string(p.Status),
		CompletedAt:    formatOptionalTime(p.CompletedAt),
		ObservedImpact: p.ObservedImpact,
		UpdatedAt:      formatTime(p.UpdatedAt),
		DeletedAt:      formatOptionalTime(p.DeletedAt),
	}
}

func toComparisonView(c service.Comparison) comparisonView {
	changes := c.Changes
	if changes == nil {
		changes = []opportunity.Change{}
	}
	return comparisonView{
		PriorID:        c.PriorID,
		NextID:         c.NextID,
		PriorCentral:   c.PriorCentral,
		NextCentral:    c.NextCentral,
		CentralDelta:   c.CentralDelta,
		DeltaPct:       c.DeltaPct,
		ConfidenceFrom: c.ConfidenceFrom,
		ConfidenceTo:   c.ConfidenceTo,
		Changes:        changes,
	}
}

// decode maps a Struct onto a typed request through its JSON form.
func decode(in *structpb.Struct, dst any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// encode maps a view onto a Struct through its JSON form.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}
