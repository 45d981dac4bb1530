// Package valuation implements the independent valuation methodologies, the
// concurrent runner that evaluates them and the reconciler that combines their
// estimates into a single valuation range.
package valuation

import (
	"errors"
	"fmt"
	"math"

	"github.com/godilite/valuation-server/internal/benchmark"
	"github.com/godilite/valuation-server/internal/questionnaire"
)

// Methodology identifiers.
const (
	RevenueMultipleID = "revenue_multiple"
	EBITDAMultipleID  = "ebitda_multiple"
	SDEMultipleID     = "sde_multiple"
	AssetBasedID      = "asset_based"
)

var (
	ErrInapplicable   = errors.New("methodology not applicable")
	ErrMalformedInput = errors.New("malformed input")
	ErrPanicked       = errors.New("methodology panicked")
	ErrTimedOut       = errors.New("methodology timed out")
)

// Estimate is the output of one methodology for one run. PointValue is
// Basis × Multiple × Adjustment; MultipleLow and MultipleHigh bound the
// benchmark band the multiple was taken from.
//
// Weight is the methodology weight scaled by fact completeness and sets the
// estimate's share of the reconciled value. Confidence additionally reflects
// calibration distance, so it never shifts weight between methodologies.
type Estimate struct {
	MethodologyID string  `json:"methodologyId"`
	PointValue    float64 `json:"pointValue"`
	Weight        float64 `json:"weight"`
	Confidence    float64 `json:"confidence"`
	Applicable    bool    `json:"applicable"`
	Multiple      float64 `json:"multiple"`
	MultipleLow   float64 `json:"multipleLow"`
	MultipleHigh  float64 `json:"multipleHigh"`
	Adjustment    float64 `json:"adjustment"`
	Basis         float64 `json:"basis"`
	BasisField    string  `json:"basisField"`
}

// Methodology is one valuation technique. Implementations must be pure
// functions of their inputs; they never see each other's output.
type Methodology interface {
	ID() string
	Applicable(facts questionnaire.Facts, profile benchmark.Profile) bool
	Estimate(facts questionnaire.Facts, profile benchmark.Profile) (Estimate, error)
	// ValueAt revalues facts at an explicit benchmark multiple, applying the
	// same fact-driven adjustments Estimate would.
	ValueAt(facts questionnaire.Facts, profile benchmark.Profile, multiple float64) (float64, error)
}

// DefaultMethodologies returns the built-in set in evaluation order.
func DefaultMethodologies() []Methodology {
	return []Methodology{
		RevenueMultiple{},
		EBITDAMultiple{},
		SDEMultiple{},
		AssetBased{},
	}
}

// multipleMethod is the shared shape of the earnings and revenue multiples.
type multipleMethod struct {
	id          string
	basisField  string
	weight      float64
	band        func(benchmark.Profile) benchmark.Range
	calibration func(benchmark.Profile) benchmark.Range
	adjust      func(questionnaire.Facts, benchmark.Profile) float64
	consumes    []string
}

func (m multipleMethod) basis(facts questionnaire.Facts) (float64, bool) {
	v, ok := facts.Number(m.basisField)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

func (m multipleMethod) applicable(facts questionnaire.Facts, profile benchmark.Profile) bool {
	if !m.band(profile).Valid() {
		return false
	}
	_, ok := m.basis(facts)
	return ok
}

func (m multipleMethod) estimate(facts questionnaire.Facts, profile benchmark.Profile) (Estimate, error) {
	if !m.applicable(facts, profile) {
		return Estimate{MethodologyID: m.id}, ErrInapplicable
	}
	basis, _ := m.basis(facts)
	band := m.band(profile)
	adj := m.adjust(facts, profile)
	mid := band.Mid()

	value := basis * mid * adj
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Estimate{MethodologyID: m.id}, fmt.Errorf("%w: %s value is not finite", ErrMalformedInput, m.id)
	}

	weight := clamp(m.weight*completeness(facts, m.consumes), 0, 1)
	confidence := weight * calibrationFactor(basis, m.calibration(profile))

	return Estimate{
		MethodologyID: m.id,
		PointValue:    value,
		Weight:        weight,
		Confidence:    clamp(confidence, 0, 1),
		Applicable:    true,
		Multiple:      mid,
		MultipleLow:   band.Low,
		MultipleHigh:  band.High,
		Adjustment:    adj,
		Basis:         basis,
		BasisField:    m.basisField,
	}, nil
}

func (m multipleMethod) valueAt(facts questionnaire.Facts, profile benchmark.Profile, multiple float64) (float64, error) {
	basis, ok := m.basis(facts)
	if !ok {
		return 0, fmt.Errorf("%w: %s has no positive %s", ErrInapplicable, m.id, m.basisField)
	}
	return basis * multiple * m.adjust(facts, profile), nil
}

var earningsDrivers = []string{
	questionnaire.KeyTopCustomerPct,
	questionnaire.KeyOwnerDependence,
	questionnaire.KeyRecurringRevenuePct,
	questionnaire.KeyRevenueGrowthPct,
	questionnaire.KeyDocumentedProcesses,
}

// RevenueMultiple values the business at a multiple of annual revenue,
// adjusted for margin relative to the industry benchmark.
type RevenueMultiple struct{}

func (RevenueMultiple) method() multipleMethod {
	return multipleMethod{
		id:          RevenueMultipleID,
		basisField:  questionnaire.KeyAnnualRevenue,
		weight:      0.8,
		band:        func(p benchmark.Profile) benchmark.Range { return p.RevenueMultiple },
		calibration: func(p benchmark.Profile) benchmark.Range { return p.RevenueCalibration },
		adjust: func(f questionnaire.Facts, p benchmark.Profile) float64 {
			return riskAdjustment(f) * marginFactor(f, p)
		},
		consumes: append([]string{questionnaire.KeyEBITDAMarginPct}, earningsDrivers...),
	}
}

func (m RevenueMultiple) ID() string { return RevenueMultipleID }

func (m RevenueMultiple) Applicable(f questionnaire.Facts, p benchmark.Profile) bool {
	return m.method().applicable(f, p)
}

func (m RevenueMultiple) Estimate(f questionnaire.Facts, p benchmark.Profile) (Estimate, error) {
	return m.method().estimate(f, p)
}

func (m RevenueMultiple) ValueAt(f questionnaire.Facts, p benchmark.Profile, multiple float64) (float64, error) {
	return m.method().valueAt(f, p, multiple)
}

// EBITDAMultiple values the business at a multiple of positive EBITDA.
type EBITDAMultiple struct{}

func (EBITDAMultiple) method() multipleMethod {
	return multipleMethod{
		id:          EBITDAMultipleID,
		basisField:  questionnaire.KeyEBITDA,
		weight:      1.0,
		band:        func(p benchmark.Profile) benchmark.Range { return p.EBITDAMultiple },
		calibration: func(p benchmark.Profile) benchmark.Range { return p.EBITDACalibration },
		adjust:      func(f questionnaire.Facts, _ benchmark.Profile) float64 { return riskAdjustment(f) },
		consumes:    earningsDrivers,
	}
}

func (m EBITDAMultiple) ID() string { return EBITDAMultipleID }

func (m EBITDAMultiple) Applicable(f questionnaire.Facts, p benchmark.Profile) bool {
	return m.method().applicable(f, p)
}

func (m EBITDAMultiple) Estimate(f questionnaire.Facts, p benchmark.Profile) (Estimate, error) {
	return m.method().estimate(f, p)
}

func (m EBITDAMultiple) ValueAt(f questionnaire.Facts, p benchmark.Profile, multiple float64) (float64, error) {
	return m.method().valueAt(f, p, multiple)
}

// SDEMultiple values owner-operated businesses at a multiple of seller's
// discretionary earnings (EBITDA plus owner compensation).
type SDEMultiple struct{}

func (SDEMultiple) method() multipleMethod {
	return multipleMethod{
		id:          SDEMultipleID,
		basisField:  questionnaire.KeySDE,
		weight:      0.9,
		band:        func(p benchmark.Profile) benchmark.Range { return p.SDEMultiple },
		calibration: func(p benchmark.Profile) benchmark.Range { return p.EBITDACalibration },
		adjust:      func(f questionnaire.Facts, _ benchmark.Profile) float64 { return riskAdjustment(f) },
		consumes:    earningsDrivers,
	}
}

func (m SDEMultiple) ID() string { return SDEMultipleID }

func (m SDEMultiple) Applicable(f questionnaire.Facts, p benchmark.Profile) bool {
	return m.method().applicable(f, p)
}

func (m SDEMultiple) Estimate(f questionnaire.Facts, p benchmark.Profile) (Estimate, error) {
	return m.method().estimate(f, p)
}

func (m SDEMultiple) ValueAt(f questionnaire.Facts, p benchmark.Profile, multiple float64) (float64, error) {
	return m.method().valueAt(f, p, multiple)
}

// Asset-based band: orderly sale at the low end, book value at the high end.
const (
	assetMultipleLow  = 0.85
	assetMultipleHigh = 1.0
	assetWeight       = 0.6
)

// AssetBased values the business at its net tangible assets. It requires
// owned real estate or FF&E and a positive net asset value.
type AssetBased struct{}

func (AssetBased) ID() string { return AssetBasedID }

func (AssetBased) Applicable(f questionnaire.Facts, _ benchmark.Profile) bool {
	owns, _ := f.Bool(questionnaire.KeyOwnsRealEstate)
	hasRealEstate := owns && f.Has(questionnaire.KeyRealEstateValue)
	if !hasRealEstate && !f.Has(questionnaire.KeyFFEValue) {
		return false
	}
	nav, ok := f.Number(questionnaire.KeyNetAssetValue)
	return ok && nav > 0
}

func (a AssetBased) Estimate(f questionnaire.Facts, p benchmark.Profile) (Estimate, error) {
	if !a.Applicable(f, p) {
		return Estimate{MethodologyID: AssetBasedID}, ErrInapplicable
	}
	nav, _ := f.Number(questionnaire.KeyNetAssetValue)
	mid := (assetMultipleLow + assetMultipleHigh) / 2
	weight := clamp(assetWeight*completeness(f, []string{
		questionnaire.KeyTotalLiabilities,
		questionnaire.KeyFFEValue,
		questionnaire.KeyInventoryValue,
	}), 0, 1)

	return Estimate{
		MethodologyID: AssetBasedID,
		PointValue:    nav * mid,
		Weight:        weight,
		Confidence:    weight,
		Applicable:    true,
		Multiple:      mid,
		MultipleLow:   assetMultipleLow,
		MultipleHigh:  assetMultipleHigh,
		Adjustment:    1,
		Basis:         nav,
		BasisField:    questionnaire.KeyNetAssetValue,
	}, nil
}

func (AssetBased) ValueAt(f questionnaire.Facts, _ benchmark.Profile, multiple float64) (float64, error) {
	nav, ok := f.Number(questionnaire.KeyNetAssetValue)
	if !ok || nav <= 0 {
		return 0, fmt.Errorf("%w: no positive net asset value", ErrInapplicable)
	}
	return nav * multiple, nil
}
