package questionnaire

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Value is a typed questionnaire answer.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Flag bool
}

// NumberValue wraps a numeric answer.
func NumberValue(v float64) Value { return Value{Kind: KindNumber, Num: v} }

// EnumValue wraps an enumerated answer.
func EnumValue(v string) Value { return Value{Kind: KindEnum, Str: v} }

// StringValue wraps a free-text answer.
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// BoolValue wraps a yes/no answer.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Flag: v} }

// Equal compares two values of the same kind.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == o.Num
	case KindBool:
		return v.Flag == o.Flag
	default:
		return v.Str == o.Str
	}
}

type wireValue struct {
	Kind  Kind `json:"kind"`
	Value any  `json:"value"`
}

// MarshalJSON encodes the value together with its kind.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.Kind}
	switch v.Kind {
	case KindNumber:
		w.Value = v.Num
	case KindBool:
		w.Value = v.Flag
	default:
		w.Value = v.Str
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a value written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case KindNumber:
		n, ok := w.Value.(float64)
		if !ok {
			return fmt.Errorf("value of kind %s is %T", w.Kind, w.Value)
		}
		*v = NumberValue(n)
	case KindBool:
		b, ok := w.Value.(bool)
		if !ok {
			return fmt.Errorf("value of kind %s is %T", w.Kind, w.Value)
		}
		*v = BoolValue(b)
	case KindEnum, KindString:
		s, ok := w.Value.(string)
		if !ok {
			return fmt.Errorf("value of kind %s is %T", w.Kind, w.Value)
		}
		*v = Value{Kind: w.Kind, Str: s}
	default:
		return fmt.Errorf("unknown value kind %q", w.Kind)
	}
	return nil
}

// Facts is the validated, normalized projection of a Response. It is immutable:
// accessors never expose the underlying map and With returns a copy.
type Facts struct {
	schemaVersion int
	values        map[string]Value
}

// NewFacts builds a Facts set directly. It performs no validation and is meant
// for counterfactuals and tests; submissions go through Validate.
func NewFacts(schemaVersion int, values map[string]Value) Facts {
	m := make(map[string]Value, len(values))
	for k, v := range values {
		m[k] = v
	}
	return Facts{schemaVersion: schemaVersion, values: m}
}

// SchemaVersion is the questionnaire revision the facts were validated against.
func (f Facts) SchemaVersion() int { return f.schemaVersion }

// Industry returns the industry code, or "" if unset.
func (f Facts) Industry() string {
	s, _ := f.Text(KeyIndustry)
	return s
}

// Value returns the raw typed value.
func (f Facts) Value(key string) (Value, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Has reports whether a fact is present.
func (f Facts) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// Number returns a numeric fact.
func (f Facts) Number(key string) (float64, bool) {
	v, ok := f.values[key]
	if !ok || v.Kind != KindNumber {
		return 0, false
	}
	return v.Num, true
}

// Text returns an enum or string fact.
func (f Facts) Text(key string) (string, bool) {
	v, ok := f.values[key]
	if !ok || (v.Kind != KindEnum && v.Kind != KindString) {
		return "", false
	}
	return v.Str, true
}

// Bool returns a boolean fact.
func (f Facts) Bool(key string) (bool, bool) {
	v, ok := f.values[key]
	if !ok || v.Kind != KindBool {
		return false, false
	}
	return v.Flag, true
}

// Keys returns the sorted fact keys.
func (f Facts) Keys() []string {
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len is the number of facts, derived ones included.
func (f Facts) Len() int { return len(f.values) }

// With returns a copy of f with key set to v and derived facts recomputed.
func (f Facts) With(key string, v Value) Facts {
	m := make(map[string]Value, len(f.values)+1)
	for k, val := range f.values {
		if isDerived(k) {
			continue
		}
		m[k] = val
	}
	m[key] = v
	derive(m)
	return Facts{schemaVersion: f.schemaVersion, values: m}
}

type wireFacts struct {
	SchemaVersion int              `json:"schemaVersion"`
	Values        map[string]Value `json:"values"`
}

// MarshalJSON encodes the facts for persistence and transport.
func (f Facts) MarshalJSON() ([]byte, error) {
	values := f.values
	if values == nil {
		values = map[string]Value{}
	}
	return json.Marshal(wireFacts{SchemaVersion: f.schemaVersion, Values: values})
}

// UnmarshalJSON restores facts written by MarshalJSON.
func (f *Facts) UnmarshalJSON(data []byte) error {
	var w wireFacts
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = NewFacts(w.SchemaVersion, w.Values)
	return nil
}

// derive computes derived facts in place from the submitted ones.
func derive(m map[string]Value) {
	num := func(key string) (float64, bool) {
		v, ok := m[key]
		if !ok || v.Kind != KindNumber {
			return 0, false
		}
		return v.Num, true
	}

	revenue, hasRevenue := num(KeyAnnualRevenue)
	ebitda, hasEBITDA := num(KeyEBITDA)

	if hasRevenue && hasEBITDA && revenue > 0 {
		m[KeyEBITDAMarginPct] = NumberValue(ebitda / revenue * 100)
	}
	if cogs, ok := num(KeyCostOfGoodsSold); ok && hasRevenue && revenue > 0 {
		m[KeyGrossMarginPct] = NumberValue((revenue - cogs) / revenue * 100)
	}
	if employees, ok := num(KeyEmployeeCount); ok && hasRevenue && employees > 0 {
		m[KeyRevenuePerEmployee] = NumberValue(revenue / employees)
	}
	if comp, ok := num(KeyOwnerCompensation); ok && hasEBITDA {
		m[KeySDE] = NumberValue(ebitda + comp)
	}

	assets, anyAsset := 0.0, false
	if owns, ok := m[KeyOwnsRealEstate]; ok && owns.Kind == KindBool && owns.Flag {
		if v, ok := num(KeyRealEstateValue); ok {
			assets += v
			anyAsset = true
		}
	}
	for _, key := range []string{KeyFFEValue, KeyInventoryValue} {
		if v, ok := num(key); ok {
			assets += v
			anyAsset = true
		}
	}
	if anyAsset {
		liabilities, _ := num(KeyTotalLiabilities)
		m[KeyNetAssetValue] = NumberValue(assets - liabilities)
	}
}
