package valuation

import (
	"math"

	"github.com/godilite/valuation-server/internal/benchmark"
	"github.com/godilite/valuation-server/internal/questionnaire"
)

// Each factor is monotone in its driver and equals 1 when the fact is absent.

func concentrationFactor(f questionnaire.Facts) float64 {
	pct, ok := f.Number(questionnaire.KeyTopCustomerPct)
	if !ok {
		return 1
	}
	return 1 - math.Min(0.25, math.Max(0, pct-10)/200)
}

func dependenceFactor(f questionnaire.Facts) float64 {
	level, ok := f.Text(questionnaire.KeyOwnerDependence)
	if !ok {
		return 1
	}
	switch level {
	case questionnaire.DependenceMedium:
		return 0.93
	case questionnaire.DependenceHigh:
		return 0.85
	}
	return 1
}

func recurringFactor(f questionnaire.Facts) float64 {
	pct, ok := f.Number(questionnaire.KeyRecurringRevenuePct)
	if !ok {
		return 1
	}
	return 1 + math.Min(0.15, pct/100*0.15)
}

func growthFactor(f questionnaire.Facts) float64 {
	g, ok := f.Number(questionnaire.KeyRevenueGrowthPct)
	if !ok {
		return 1
	}
	return 1 + clamp(g/100*0.5, -0.15, 0.15)
}

func processFactor(f questionnaire.Facts) float64 {
	if documented, ok := f.Bool(questionnaire.KeyDocumentedProcesses); ok && documented {
		return 1.03
	}
	return 1
}

// riskAdjustment is the product of all operational and market factors.
func riskAdjustment(f questionnaire.Facts) float64 {
	return concentrationFactor(f) *
		dependenceFactor(f) *
		recurringFactor(f) *
		growthFactor(f) *
		processFactor(f)
}

// marginFactor scales a revenue multiple by margin relative to the benchmark
// margin: half the multiple at zero margin, 1.5x at twice the benchmark.
func marginFactor(f questionnaire.Facts, p benchmark.Profile) float64 {
	margin, ok := f.Number(questionnaire.KeyEBITDAMarginPct)
	if !ok {
		return 1
	}
	target, ok := p.Target(questionnaire.KeyEBITDAMarginPct)
	if !ok || target.Value <= 0 {
		return 1
	}
	return 0.5 + 0.5*clamp(margin/target.Value, 0, 2)
}

// completeness maps the share of consumed optional facts that are present
// onto [0.5, 1].
func completeness(f questionnaire.Facts, keys []string) float64 {
	if len(keys) == 0 {
		return 1
	}
	present := 0
	for _, k := range keys {
		if f.Has(k) {
			present++
		}
	}
	return 0.5 + 0.5*float64(present)/float64(len(keys))
}

const minCalibration = 0.2

// calibrationFactor down-weights values outside the calibration window by
// their log distance to the nearest bound.
func calibrationFactor(v float64, window benchmark.Range) float64 {
	if !window.Valid() || window.Contains(v) {
		return 1
	}
	bound := window.Low
	if v > window.High {
		bound = window.High
	}
	return math.Max(minCalibration, 1/(1+math.Abs(math.Log(v/bound))))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
