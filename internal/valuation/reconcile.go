package valuation

import (
	"math"
)

// Reconciler combines methodology estimates into one valuation range.
type Reconciler struct {
	// MinUncertainty is the relative half-width floor with a single methodology.
	MinUncertainty float64
	// BaseUncertainty is the relative half-width floor with several methodologies.
	BaseUncertainty float64
	// TargetCount is the number of methodologies needed for full confidence.
	TargetCount int
	// SingleCeiling caps aggregate confidence when one methodology applies.
	SingleCeiling float64
}

// DefaultReconciler returns the production reconciliation parameters.
func DefaultReconciler() Reconciler {
	return Reconciler{
		MinUncertainty:  0.15,
		BaseUncertainty: 0.05,
		TargetCount:     3,
		SingleCeiling:   0.5,
	}
}

// Result is a reconciled valuation. Low <= Central <= High always holds and
// AggregateConfidence is within [0,1].
type Result struct {
	Low                 float64    `json:"low"`
	Central             float64    `json:"central"`
	High                float64    `json:"high"`
	AggregateConfidence float64    `json:"aggregateConfidence"`
	Estimates           []Estimate `json:"contributingEstimates"`
	Weights             []float64  `json:"weights"`
}

// Dominant returns the estimate carrying the largest weight. Ties go to the
// earlier estimate.
func (r Result) Dominant() (Estimate, bool) {
	if len(r.Estimates) == 0 {
		return Estimate{}, false
	}
	best := 0
	for i := 1; i < len(r.Estimates) && i < len(r.Weights); i++ {
		if r.Weights[i] > r.Weights[best] {
			best = i
		}
	}
	return r.Estimates[best], true
}

// share is the unnormalized reconciliation weight of e. Estimates without a
// Weight fall back to their confidence.
func share(e Estimate) float64 {
	if e.Weight > 0 {
		return clamp(e.Weight, 0, 1)
	}
	return clamp(e.Confidence, 0, 1)
}

// Reconcile returns false when no estimate is usable; callers must then
// report insufficient data rather than a zero valuation.
func (r Reconciler) Reconcile(estimates []Estimate) (Result, bool) {
	usable := make([]Estimate, 0, len(estimates))
	for _, e := range estimates {
		if e.Applicable && e.PointValue > 0 && !math.IsInf(e.PointValue, 0) && !math.IsNaN(e.PointValue) {
			usable = append(usable, e)
		}
	}
	n := len(usable)
	if n == 0 {
		return Result{}, false
	}

	weights := make([]float64, n)
	total := 0.0
	for i, e := range usable {
		weights[i] = share(e)
		total += weights[i]
	}
	if total == 0 {
		for i := range weights {
			weights[i] = 1 / float64(n)
		}
	} else {
		for i := range weights {
			weights[i] /= total
		}
	}

	central, meanConfidence := 0.0, 0.0
	for i, e := range usable {
		central += weights[i] * e.PointValue
		meanConfidence += weights[i] * clamp(e.Confidence, 0, 1)
	}

	variance := 0.0
	for i, e := range usable {
		d := e.PointValue - central
		variance += weights[i] * d * d
	}
	dispersion := math.Sqrt(variance)

	floor := r.BaseUncertainty
	if n == 1 {
		floor = r.MinUncertainty
	}
	half := math.Max(dispersion, central*floor)

	target := r.TargetCount
	if target < 1 {
		target = 1
	}
	confidence := meanConfidence * math.Min(1, float64(n)/float64(target))
	if n == 1 && r.SingleCeiling > 0 {
		confidence = math.Min(confidence, r.SingleCeiling)
	}

	return Result{
		Low:                 math.Max(0, central-half),
		Central:             central,
		High:                central + half,
		AggregateConfidence: clamp(confidence, 0, 1),
		Estimates:           usable,
		Weights:             weights,
	}, true
}
