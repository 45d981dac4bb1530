// Package benchmark holds the read-only industry benchmark table consumed by the
// validator, the valuation methodologies and the opportunity generator.
package benchmark

import (
	"sort"
)

// Range is an inclusive [Low, High] band.
type Range struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// Mid returns the midpoint of the band.
func (r Range) Mid() float64 {
	return (r.Low + r.High) / 2
}

// Valid reports whether the band is usable as a multiple or calibration window.
func (r Range) Valid() bool {
	return r.Low > 0 && r.High >= r.Low
}

// Contains reports whether v lies inside the band.
func (r Range) Contains(v float64) bool {
	return v >= r.Low && v <= r.High
}

// Target is the benchmark value for a single value driver, keyed by fact key.
type Target struct {
	Value      float64 `yaml:"value" json:"value"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
}

// Profile is the benchmark record for one industry code.
type Profile struct {
	Industry           string            `yaml:"industry" json:"industry"`
	RevenueMultiple    Range             `yaml:"revenueMultiple" json:"revenueMultiple"`
	EBITDAMultiple     Range             `yaml:"ebitdaMultiple" json:"ebitdaMultiple"`
	SDEMultiple        Range             `yaml:"sdeMultiple" json:"sdeMultiple"`
	RevenueCalibration Range             `yaml:"revenueCalibration" json:"revenueCalibration"`
	EBITDACalibration  Range             `yaml:"ebitdaCalibration" json:"ebitdaCalibration"`
	Targets            map[string]Target `yaml:"targets" json:"targets"`
}

// Target looks up the benchmark for a fact key.
func (p Profile) Target(key string) (Target, bool) {
	t, ok := p.Targets[key]
	return t, ok
}

// Table maps industry codes to profiles. It is never mutated after construction;
// refreshes build a new Table.
type Table struct {
	profiles map[string]Profile
}

// NewTable builds a table from the given profiles. Later duplicates win.
func NewTable(profiles ...Profile) *Table {
	m := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		if p.Industry == "" {
			continue
		}
		targets := make(map[string]Target, len(p.Targets))
		for k, v := range p.Targets {
			targets[k] = v
		}
		p.Targets = targets
		m[p.Industry] = p
	}
	return &Table{profiles: m}
}

// Lookup returns the profile for an industry code.
func (t *Table) Lookup(industry string) (Profile, bool) {
	if t == nil {
		return Profile{}, false
	}
	p, ok := t.profiles[industry]
	return p, ok
}

// Known reports whether the industry code is present in the table.
func (t *Table) Known(industry string) bool {
	_, ok := t.Lookup(industry)
	return ok
}

// Industries returns the sorted list of industry codes.
func (t *Table) Industries() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.profiles))
	for k := range t.profiles {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Default returns the built-in benchmark table used when no file is configured.
func Default() *Table {
	return NewTable(
		Profile{
			Industry:           "services",
			RevenueMultiple:    Range{Low: 0.5, High: 1.0},
			EBITDAMultiple:     Range{Low: 3.0, High: 5.0},
			SDEMultiple:        Range{Low: 2.0, High: 3.0},
			RevenueCalibration: Range{Low: 250_000, High: 50_000_000},
			EBITDACalibration:  Range{Low: 50_000, High: 10_000_000},
			Targets: map[string]Target{
				"ebitda_margin_pct":        {Value: 15, Confidence: 0.8},
				"top_customer_revenue_pct": {Value: 10, Confidence: 0.7},
				"recurring_revenue_pct":    {Value: 40, Confidence: 0.6},
				"revenue_growth_pct":       {Value: 8, Confidence: 0.5},
				"owner_dependence":         {Value: 0, Confidence: 0.7},
				"documented_processes":     {Value: 1, Confidence: 0.6},
			},
		},
		Profile{
			Industry:           "retail",
			RevenueMultiple:    Range{Low: 0.3, High: 0.6},
			EBITDAMultiple:     Range{Low: 2.5, High: 4.0},
			SDEMultiple:        Range{Low: 1.8, High: 2.6},
			RevenueCalibration: Range{Low: 500_000, High: 100_000_000},
			EBITDACalibration:  Range{Low: 50_000, High: 15_000_000},
			Targets: map[string]Target{
				"ebitda_margin_pct":        {Value: 8, Confidence: 0.8},
				"top_customer_revenue_pct": {Value: 5, Confidence: 0.6},
				"revenue_growth_pct":       {Value: 5, Confidence: 0.5},
				"owner_dependence":         {Value: 0, Confidence: 0.6},
				"documented_processes":     {Value: 1, Confidence: 0.6},
			},
		},
		Profile{
			Industry:           "manufacturing",
			RevenueMultiple:    Range{Low: 0.5, High: 1.2},
			EBITDAMultiple:     Range{Low: 4.0, High: 6.0},
			SDEMultiple:        Range{Low: 2.5, High: 3.5},
			RevenueCalibration: Range{Low: 1_000_000, High: 250_000_000},
			EBITDACalibration:  Range{Low: 150_000, High: 40_000_000},
			Targets: map[string]Target{
				"ebitda_margin_pct":        {Value: 12, Confidence: 0.8},
				"top_customer_revenue_pct": {Value: 15, Confidence: 0.7},
				"recurring_revenue_pct":    {Value: 30, Confidence: 0.5},
				"revenue_growth_pct":       {Value: 6, Confidence: 0.5},
				"owner_dependence":         {Value: 0, Confidence: 0.7},
				"documented_processes":     {Value: 1, Confidence: 0.7},
			},
		},
		Profile{
			Industry:           "technology",
			RevenueMultiple:    Range{Low: 1.5, High: 4.0},
			EBITDAMultiple:     Range{Low: 6.0, High: 10.0},
			SDEMultiple:        Range{Low: 3.0, High: 4.5},
			RevenueCalibration: Range{Low: 500_000, High: 200_000_000},
			EBITDACalibration:  Range{Low: 100_000, High: 50_000_000},
			Targets: map[string]Target{
				"ebitda_margin_pct":        {Value: 20, Confidence: 0.7},
				"top_customer_revenue_pct": {Value: 10, Confidence: 0.7},
				"recurring_revenue_pct":    {Value: 70, Confidence: 0.8},
				"revenue_growth_pct":       {Value: 20, Confidence: 0.6},
				"owner_dependence":         {Value: 0, Confidence: 0.6},
				"documented_processes":     {Value: 1, Confidence: 0.5},
			},
		},
		Profile{
			Industry:           "construction",
			RevenueMultiple:    Range{Low: 0.3, High: 0.7},
			EBITDAMultiple:     Range{Low: 2.5, High: 4.5},
			SDEMultiple:        Range{Low: 1.8, High: 2.8},
			RevenueCalibration: Range{Low: 500_000, High: 100_000_000},
			EBITDACalibration:  Range{Low: 75_000, High: 15_000_000},
			Targets: map[string]Target{
				"ebitda_margin_pct":        {Value: 10, Confidence: 0.7},
				"top_customer_revenue_pct": {Value: 20, Confidence: 0.6},
				"owner_dependence":         {Value: 0, Confidence: 0.7},
				"documented_processes":     {Value: 1, Confidence: 0.6},
			},
		},
		Profile{
			Industry:           "restaurant",
			RevenueMultiple:    Range{Low: 0.25, High: 0.5},
			EBITDAMultiple:     Range{Low: 2.0, High: 3.5},
			SDEMultiple:        Range{Low: 1.5, High: 2.5},
			RevenueCalibration: Range{Low: 300_000, High: 30_000_000},
			EBITDACalibration:  Range{Low: 30_000, High: 5_000_000},
			Targets: map[string]Target{
				"ebitda_margin_pct":    {Value: 10, Confidence: 0.7},
				"revenue_growth_pct":   {Value: 4, Confidence: 0.4},
				"owner_dependence":     {Value: 0, Confidence: 0.6},
				"documented_processes": {Value: 1, Confidence: 0.6},
			},
		},
	)
}
