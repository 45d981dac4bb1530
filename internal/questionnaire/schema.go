// Package questionnaire models the versioned business questionnaire and turns raw
// submissions into validated, unit-consistent facts.
package questionnaire

import "strings"

// CurrentSchemaVersion is the questionnaire revision produced by DefaultSchema.
const CurrentSchemaVersion = 1

// Field keys accepted in a Response.
const (
	KeyIndustry            = "industry"
	KeyBusinessName        = "business_name"
	KeyAnnualRevenue       = "annual_revenue"
	KeyEBITDA              = "ebitda"
	KeyCostOfGoodsSold     = "cost_of_goods_sold"
	KeyOwnerCompensation   = "owner_compensation"
	KeyYearsInBusiness     = "years_in_business"
	KeyEmployeeCount       = "employee_count"
	KeyOwnsRealEstate      = "owns_real_estate"
	KeyRealEstateValue     = "real_estate_value"
	KeyFFEValue            = "ffe_value"
	KeyInventoryValue      = "inventory_value"
	KeyTotalLiabilities    = "total_liabilities"
	KeyTopCustomerPct      = "top_customer_revenue_pct"
	KeyRecurringRevenuePct = "recurring_revenue_pct"
	KeyRevenueGrowthPct    = "revenue_growth_pct"
	KeyOwnerDependence     = "owner_dependence"
	KeyDocumentedProcesses = "documented_processes"
	KeyAnnualChurnPct      = "annual_churn_pct"
	KeyBillableUtilization = "billable_utilization_pct"
)

// Derived fact keys. These are computed by Validate and rejected if submitted.
const (
	KeyEBITDAMarginPct    = "ebitda_margin_pct"
	KeyGrossMarginPct     = "gross_margin_pct"
	KeyRevenuePerEmployee = "revenue_per_employee"
	KeySDE                = "sde"
	KeyNetAssetValue      = "net_asset_value"
)

// Kind is the declared value type of a field.
type Kind string

const (
	KindNumber Kind = "number"
	KindEnum   Kind = "enum"
	KindString Kind = "string"
	KindBool   Kind = "bool"
)

// Unit is the declared unit of a numeric field.
type Unit string

const (
	UnitNone    Unit = ""
	UnitUSD     Unit = "usd"
	UnitPercent Unit = "percent"
	UnitCount   Unit = "count"
	UnitYears   Unit = "years"
)

// Visibility is a declarative predicate deciding whether a field applies to a
// response. The zero value means always visible.
type Visibility struct {
	// Industries restricts the field to the listed industry codes.
	Industries []string
	// WhenField/WhenEquals make the field conditional on another answer.
	WhenField  string
	WhenEquals Value
}

func (v Visibility) holds(industry string, answers map[string]Value) bool {
	if len(v.Industries) > 0 {
		match := false
		for _, code := range v.Industries {
			if code == industry {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if v.WhenField != "" {
		got, ok := answers[v.WhenField]
		if !ok || !got.Equal(v.WhenEquals) {
			return false
		}
	}
	return true
}

// Field describes one questionnaire entry. Min and Max bound numbers; for
// strings Max bounds the length.
type Field struct {
	Key      string
	Kind     Kind
	Unit     Unit
	Required bool
	Min      float64
	Max      float64
	Options  []string
	Visible  Visibility
}

func (f Field) hasOption(s string) bool {
	for _, o := range f.Options {
		if o == s {
			return true
		}
	}
	return false
}

// Schema is a versioned, ordered list of fields.
type Schema struct {
	Version int
	Fields  []Field
	index   map[string]int
}

// NewSchema builds a schema and indexes its fields by key.
func NewSchema(version int, fields ...Field) *Schema {
	s := &Schema{Version: version, Fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		s.index[f.Key] = i
	}
	return s
}

// Field returns the field definition for a key.
func (s *Schema) Field(key string) (Field, bool) {
	i, ok := s.index[key]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Completeness is the fraction of visible, submitted fields present in facts.
// It is reported separately from methodology confidence.
func (s *Schema) Completeness(f Facts) float64 {
	answers := f.values
	visible, present := 0, 0
	for _, field := range s.Fields {
		if !field.Visible.holds(f.Industry(), answers) {
			continue
		}
		visible++
		if f.Has(field.Key) {
			present++
		}
	}
	if visible == 0 {
		return 0
	}
	return float64(present) / float64(visible)
}

// Owner dependence levels, from least to most dependent.
const (
	DependenceLow    = "low"
	DependenceMedium = "medium"
	DependenceHigh   = "high"
)

// DependenceScore maps an owner-dependence level onto 0 (low) … 2 (high).
func DependenceScore(level string) (float64, bool) {
	switch strings.ToLower(level) {
	case DependenceLow:
		return 0, true
	case DependenceMedium:
		return 1, true
	case DependenceHigh:
		return 2, true
	}
	return 0, false
}

// DependenceLevel is the inverse of DependenceScore, rounding to the nearest level.
func DependenceLevel(score float64) string {
	switch {
	case score < 0.5:
		return DependenceLow
	case score < 1.5:
		return DependenceMedium
	default:
		return DependenceHigh
	}
}

const maxMoney = 1e11

// DefaultSchema returns the current questionnaire definition.
func DefaultSchema() *Schema {
	inventoryIndustries := []string{"retail", "manufacturing", "restaurant", "construction"}

	return NewSchema(CurrentSchemaVersion,
		Field{Key: KeyIndustry, Kind: KindEnum, Required: true},
		Field{Key: KeyBusinessName, Kind: KindString, Max: 200},
		Field{Key: KeyAnnualRevenue, Kind: KindNumber, Unit: UnitUSD, Min: 0, Max: maxMoney},
		Field{Key: KeyEBITDA, Kind: KindNumber, Unit: UnitUSD, Min: -maxMoney, Max: maxMoney},
		Field{Key: KeyCostOfGoodsSold, Kind: KindNumber, Unit: UnitUSD, Min: 0, Max: maxMoney},
		Field{Key: KeyOwnerCompensation, Kind: KindNumber, Unit: UnitUSD, Min: 0, Max: maxMoney},
		Field{Key: KeyYearsInBusiness, Kind: KindNumber, Unit: UnitYears, Min: 0, Max: 300},
		Field{Key: KeyEmployeeCount, Kind: KindNumber, Unit: UnitCount, Min: 0, Max: 5_000_000},
		Field{Key: KeyOwnsRealEstate, Kind: KindBool},
		Field{
			Key: KeyRealEstateValue, Kind: KindNumber, Unit: UnitUSD, Min: 0, Max: maxMoney, Required: true,
			Visible: Visibility{WhenField: KeyOwnsRealEstate, WhenEquals: BoolValue(true)},
		},
		Field{Key: KeyFFEValue, Kind: KindNumber, Unit: UnitUSD, Min: 0, Max: maxMoney},
		Field{
			Key: KeyInventoryValue, Kind: KindNumber, Unit: UnitUSD, Min: 0, Max: maxMoney,
			Visible: Visibility{Industries: inventoryIndustries},
		},
		Field{Key: KeyTotalLiabilities, Kind: KindNumber, Unit: UnitUSD, Min: 0, Max: maxMoney},
		Field{Key: KeyTopCustomerPct, Kind: KindNumber, Unit: UnitPercent, Min: 0, Max: 100},
		Field{Key: KeyRecurringRevenuePct, Kind: KindNumber, Unit: UnitPercent, Min: 0, Max: 100},
		Field{Key: KeyRevenueGrowthPct, Kind: KindNumber, Unit: UnitPercent, Min: -100, Max: 1000},
		Field{
			Key: KeyOwnerDependence, Kind: KindEnum,
			Options: []string{DependenceLow, DependenceMedium, DependenceHigh},
		},
		Field{Key: KeyDocumentedProcesses, Kind: KindBool},
		Field{
			Key: KeyAnnualChurnPct, Kind: KindNumber, Unit: UnitPercent, Min: 0, Max: 100,
			Visible: Visibility{Industries: []string{"technology"}},
		},
		Field{
			Key: KeyBillableUtilization, Kind: KindNumber, Unit: UnitPercent, Min: 0, Max: 100,
			Visible: Visibility{Industries: []string{"services"}},
		},
	)
}

func isDerived(key string) bool {
	switch key {
	case KeyEBITDAMarginPct, KeyGrossMarginPct, KeyRevenuePerEmployee, KeySDE, KeyNetAssetValue:
		return true
	}
	return false
}
