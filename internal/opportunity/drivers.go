package opportunity

import (
	"fmt"

	"github.com/godilite/valuation-server/internal/questionnaire"
)

// Category groups drivers. Order matters for tie-breaking.
type Category string

const (
	Financial   Category = "financial"
	Operational Category = "operational"
	Market      Category = "market"
)

func (c Category) rank() int {
	switch c {
	case Financial:
		return 0
	case Operational:
		return 1
	case Market:
		return 2
	}
	return 3
}

// Driver keys.
const (
	MarginImprovement     = "margin_improvement"
	RecurringRevenue      = "recurring_revenue"
	OwnerDependence       = "owner_dependence"
	ProcessDocumentation  = "process_documentation"
	CustomerConcentration = "customer_concentration"
	RevenueGrowth         = "revenue_growth"
)

// Driver is one tracked value driver: the fact it reads, the benchmark it is
// compared against and how the fact set looks once the gap is closed. Fact is
// both the fact key read for the current value and the benchmark target key.
type Driver struct {
	Key           string
	Category      Category
	Fact          string
	BasedOn       []string
	LowerIsBetter bool
	current       func(questionnaire.Facts) (float64, bool)
	apply         func(f questionnaire.Facts, target float64) (questionnaire.Facts, bool)
	describe      func(current, target float64, industry string) string
}

func numberFact(key string) func(questionnaire.Facts) (float64, bool) {
	return func(f questionnaire.Facts) (float64, bool) { return f.Number(key) }
}

func setNumber(key string) func(questionnaire.Facts, float64) (questionnaire.Facts, bool) {
	return func(f questionnaire.Facts, target float64) (questionnaire.Facts, bool) {
		return f.With(key, questionnaire.NumberValue(target)), true
	}
}

// DefaultDrivers returns the built-in driver set.
func DefaultDrivers() []Driver {
	return []Driver{
		{
			Key:      MarginImprovement,
			Category: Financial,
			Fact:     questionnaire.KeyEBITDAMarginPct,
			BasedOn:  []string{questionnaire.KeyAnnualRevenue, questionnaire.KeyEBITDA, questionnaire.KeyEBITDAMarginPct},
			current:  numberFact(questionnaire.KeyEBITDAMarginPct),
			apply: func(f questionnaire.Facts, target float64) (questionnaire.Facts, bool) {
				revenue, ok := f.Number(questionnaire.KeyAnnualRevenue)
				if !ok || revenue <= 0 {
					return f, false
				}
				return f.With(questionnaire.KeyEBITDA, questionnaire.NumberValue(revenue*target/100)), true
			},
			describe: func(cur, target float64, industry string) string {
				return fmt.Sprintf("Raise EBITDA margin from %.1f%% to the %s benchmark of %.1f%%", cur, industry, target)
			},
		},
		{
			Key:      RecurringRevenue,
			Category: Financial,
			Fact:     questionnaire.KeyRecurringRevenuePct,
			BasedOn:  []string{questionnaire.KeyRecurringRevenuePct},
			current:  numberFact(questionnaire.KeyRecurringRevenuePct),
			apply:    setNumber(questionnaire.KeyRecurringRevenuePct),
			describe: func(cur, target float64, industry string) string {
				return fmt.Sprintf("Grow recurring revenue from %.0f%% to %.0f%% of sales", cur, target)
			},
		},
		{
			Key:           OwnerDependence,
			Category:      Operational,
			Fact:          questionnaire.KeyOwnerDependence,
			BasedOn:       []string{questionnaire.KeyOwnerDependence},
			LowerIsBetter: true,
			current: func(f questionnaire.Facts) (float64, bool) {
				level, ok := f.Text(questionnaire.KeyOwnerDependence)
				if !ok {
					return 0, false
				}
				return questionnaire.DependenceScore(level)
			},
			apply: func(f questionnaire.Facts, target float64) (questionnaire.Facts, bool) {
				level := questionnaire.DependenceLevel(target)
				return f.With(questionnaire.KeyOwnerDependence, questionnaire.EnumValue(level)), true
			},
			describe: func(cur, target float64, _ string) string {
				return fmt.Sprintf("Reduce owner dependence from %s to %s",
					questionnaire.DependenceLevel(cur), questionnaire.DependenceLevel(target))
			},
		},
		{
			Key:      ProcessDocumentation,
			Category: Operational,
			Fact:     questionnaire.KeyDocumentedProcesses,
			BasedOn:  []string{questionnaire.KeyDocumentedProcesses},
			current: func(f questionnaire.Facts) (float64, bool) {
				documented, ok := f.Bool(questionnaire.KeyDocumentedProcesses)
				if !ok {
					return 0, false
				}
				if documented {
					return 1, true
				}
				return 0, true
			},
			apply: func(f questionnaire.Facts, target float64) (questionnaire.Facts, bool) {
				return f.With(questionnaire.KeyDocumentedProcesses, questionnaire.BoolValue(target >= 0.5)), true
			},
			describe: func(_, _ float64, _ string) string {
				return "Document core operating processes so the business runs without the owner"
			},
		},
		{
			Key:           CustomerConcentration,
			Category:      Market,
			Fact:          questionnaire.KeyTopCustomerPct,
			BasedOn:       []string{questionnaire.KeyTopCustomerPct},
			LowerIsBetter: true,
			current:       numberFact(questionnaire.KeyTopCustomerPct),
			apply:         setNumber(questionnaire.KeyTopCustomerPct),
			describe: func(cur, target float64, _ string) string {
				return fmt.Sprintf("Reduce the largest customer's share of revenue from %.0f%% to %.0f%%", cur, target)
			},
		},
		{
			Key:      RevenueGrowth,
			Category: Market,
			Fact:     questionnaire.KeyRevenueGrowthPct,
			BasedOn:  []string{questionnaire.KeyRevenueGrowthPct},
			current:  numberFact(questionnaire.KeyRevenueGrowthPct),
			apply:    setNumber(questionnaire.KeyRevenueGrowthPct),
			describe: func(cur, target float64, industry string) string {
				return fmt.Sprintf("Lift annual revenue growth from %.1f%% to the %s benchmark of %.1f%%", cur, industry, target)
			},
		},
	}
}

// gap is how far the current value trails the target, in the driver's
// direction. Non-positive means no gap.
func (d Driver) gap(current, target float64) float64 {
	if d.LowerIsBetter {
		return current - target
	}
	return target - current
}
