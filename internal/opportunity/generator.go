// Package opportunity derives ranked, quantified value-improvement
// opportunities from gaps between an evaluation's facts and its industry
// benchmarks.
package opportunity

import (
	"math"
	"sort"

	"github.com/godilite/valuation-server/internal/benchmark"
	"github.com/godilite/valuation-server/internal/questionnaire"
	"github.com/godilite/valuation-server/internal/valuation"
)

// DefaultCap is the number of opportunities shown to unprivileged callers.
const DefaultCap = 3

// Opportunity is one ranked suggestion. Impact figures are valuation deltas at
// the dominant methodology's low, central and high multiples.
type Opportunity struct {
	ID            string   `json:"id,omitempty"`
	Driver        string   `json:"driver"`
	Category      Category `json:"category"`
	Description   string   `json:"description"`
	Current       float64  `json:"current"`
	Target        float64  `json:"target"`
	ImpactLow     float64  `json:"estimatedImpactLow"`
	ImpactMid     float64  `json:"estimatedImpactMid"`
	ImpactHigh    float64  `json:"estimatedImpactHigh"`
	GapConfidence float64  `json:"gapConfidence"`
	PriorityScore float64  `json:"priorityScore"`
	BasedOnFacts  []string `json:"basedOnFacts"`
	Methodology   string   `json:"methodology"`
}

// MethodologySource resolves methodologies by id. valuation.Runner implements it.
type MethodologySource interface {
	Methodology(id string) (valuation.Methodology, bool)
}

// Generator ranks opportunities. It holds no mutable state; the benchmark
// profile is passed on every call.
type Generator struct {
	methods MethodologySource
	drivers []Driver
}

// NewGenerator creates a Generator over the given drivers, or DefaultDrivers
// when none are passed.
func NewGenerator(methods MethodologySource, drivers ...Driver) *Generator {
	if methods == nil {
		panic("methodology source must not be nil")
	}
	if len(drivers) == 0 {
		drivers = DefaultDrivers()
	}
	return &Generator{methods: methods, drivers: drivers}
}

// Generate returns the full ranked list. Identical inputs always produce the
// identical list. Drivers without a present fact, a benchmark target or a
// positive impact are skipped.
func (g *Generator) Generate(facts questionnaire.Facts, result valuation.Result, profile benchmark.Profile) []Opportunity {
	dominant, ok := result.Dominant()
	if !ok || result.Central <= 0 {
		return []Opportunity{}
	}
	m, ok := g.methods.Methodology(dominant.MethodologyID)
	if !ok {
		return []Opportunity{}
	}

	out := make([]Opportunity, 0, len(g.drivers))
	for _, d := range g.drivers {
		opp, ok := g.evaluate(d, m, dominant, facts, result, profile)
		if ok {
			out = append(out, opp)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (g *Generator) evaluate(
	d Driver,
	m valuation.Methodology,
	dominant valuation.Estimate,
	facts questionnaire.Facts,
	result valuation.Result,
	profile benchmark.Profile,
) (Opportunity, bool) {
	current, ok := d.current(facts)
	if !ok {
		return Opportunity{}, false
	}
	target, ok := profile.Target(d.Fact)
	if !ok {
		return Opportunity{}, false
	}
	if d.gap(current, target.Value) <= 0 {
		return Opportunity{}, false
	}
	improved, ok := d.apply(facts, target.Value)
	if !ok {
		return Opportunity{}, false
	}

	deltas := make([]float64, 0, 3)
	for _, k := range []float64{dominant.MultipleLow, dominant.Multiple, dominant.MultipleHigh} {
		before, err := m.ValueAt(facts, profile, k)
		if err != nil {
			return Opportunity{}, false
		}
		after, err := m.ValueAt(improved, profile, k)
		if err != nil {
			return Opportunity{}, false
		}
		deltas = append(deltas, after-before)
	}
	mid := deltas[1]
	if mid <= 0 || math.IsNaN(mid) {
		return Opportunity{}, false
	}

	gapConfidence := clamp(target.Confidence, 0, 1) * clamp(dominant.Confidence, 0, 1)
	based := make([]string, len(d.BasedOn))
	copy(based, d.BasedOn)

	return Opportunity{
		Driver:        d.Key,
		Category:      d.Category,
		Description:   d.describe(current, target.Value, profile.Industry),
		Current:       current,
		Target:        target.Value,
		ImpactLow:     math.Min(deltas[0], deltas[2]),
		ImpactMid:     mid,
		ImpactHigh:    math.Max(deltas[0], deltas[2]),
		GapConfidence: gapConfidence,
		PriorityScore: clamp(mid/result.Central, 0, 1) * gapConfidence,
		BasedOnFacts:  based,
		Methodology:   dominant.MethodologyID,
	}, true
}

func less(a, b Opportunity) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	if a.ImpactMid != b.ImpactMid {
		return a.ImpactMid > b.ImpactMid
	}
	if a.Category.rank() != b.Category.rank() {
		return a.Category.rank() < b.Category.rank()
	}
	return a.Driver < b.Driver
}

// Cap returns at most n opportunities. A non-positive n returns the whole list.
func Cap(list []Opportunity, n int) []Opportunity {
	if n <= 0 || n >= len(list) {
		return list
	}
	return list[:n]
}

// Change is the movement of one driver between two evaluations.
type Change struct {
	Driver      string  `json:"driver"`
	PriorImpact float64 `json:"priorImpact"`
	NextImpact  float64 `json:"nextImpact"`
	Resolved    bool    `json:"resolved"`
}

// Diff compares the central impact per driver. A driver present before and
// absent afterwards is resolved. Output is sorted by driver key.
func Diff(prior, next []Opportunity) []Change {
	byDriver := make(map[string]*Change)
	for _, o := range prior {
		byDriver[o.Driver] = &Change{Driver: o.Driver, PriorImpact: o.ImpactMid, Resolved: true}
	}
	for _, o := range next {
		c, ok := byDriver[o.Driver]
		if !ok {
			c = &Change{Driver: o.Driver}
			byDriver[o.Driver] = c
		}
		c.NextImpact = o.ImpactMid
		c.Resolved = false
	}

	out := make([]Change, 0, len(byDriver))
	for _, c := range byDriver {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Driver < out[j].Driver })
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
