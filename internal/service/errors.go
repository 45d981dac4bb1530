package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godilite/valuation-server/internal/questionnaire"
)

var (
	ErrMissingActor      = errors.New("actor is required")
	ErrNotOwner          = errors.New("actor does not own the evaluation")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyDeleted    = errors.New("evaluation already deleted")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidStatus     = errors.New("invalid progress status")
	ErrNoValuation       = errors.New("evaluation has no valuation")
	ErrCascadeFailure    = errors.New("soft delete cascade failed")
	ErrStorageFailure    = errors.New("storage failure")
)

// InsufficientDataError lists the essential fields missing from a submission.
type InsufficientDataError struct {
	Missing []string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: missing %s", strings.Join(e.Missing, ", "))
}

// CompletenessPolicy rejects submissions that lack too many essential fields
// before any methodology runs.
type CompletenessPolicy struct {
	Essential []string
	// MinPresent is how many essential fields must be present. Zero means all.
	MinPresent int
}

// DefaultPolicy requires all eight essential fields.
func DefaultPolicy() CompletenessPolicy {
	return CompletenessPolicy{
		Essential: []string{
			questionnaire.KeyIndustry,
			questionnaire.KeyAnnualRevenue,
			questionnaire.KeyEBITDA,
			questionnaire.KeyYearsInBusiness,
			questionnaire.KeyEmployeeCount,
			questionnaire.KeyOwnsRealEstate,
			questionnaire.KeyTopCustomerPct,
			questionnaire.KeyOwnerDependence,
		},
	}
}

// Check returns an *InsufficientDataError naming every missing essential
// field when fewer than MinPresent are present.
func (p CompletenessPolicy) Check(f questionnaire.Facts) error {
	required := p.MinPresent
	if required <= 0 || required > len(p.Essential) {
		required = len(p.Essential)
	}

	var missing []string
	for _, key := range p.Essential {
		if !f.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(p.Essential)-len(missing) < required {
		return &InsufficientDataError{Missing: missing}
	}
	return nil
}
