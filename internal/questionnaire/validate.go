package questionnaire

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// FailureCode classifies a single validation failure.
type FailureCode string

const (
	OutOfRange           FailureCode = "OUT_OF_RANGE"
	UnexpectedField      FailureCode = "UNEXPECTED_FIELD"
	MissingRequiredField FailureCode = "MISSING_REQUIRED_FIELD"
	InvalidType          FailureCode = "INVALID_TYPE"
)

// ValidationFailure names the offending field and why it was rejected.
type ValidationFailure struct {
	Code    FailureCode `json:"code"`
	Field   string      `json:"field"`
	Message string      `json:"message"`
}

// ValidationError aggregates every failure found in one submission.
type ValidationError struct {
	Failures []ValidationFailure
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s: %s", f.Code, f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether a failure with the given code was recorded for field.
func (e *ValidationError) Has(code FailureCode, field string) bool {
	for _, f := range e.Failures {
		if f.Code == code && f.Field == field {
			return true
		}
	}
	return false
}

// Response is a raw questionnaire submission.
// Scale applies to every usd field: "units" (default), "thousands" or "millions".
type Response struct {
	SchemaVersion int            `json:"schemaVersion"`
	Scale         string         `json:"scale,omitempty"`
	Answers       map[string]any `json:"answers"`
}

// IndustryContext resolves industry codes. The benchmark table implements it.
type IndustryContext interface {
	Known(industry string) bool
}

func scaleFactor(scale string) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(scale)) {
	case "", "units":
		return 1, true
	case "thousands":
		return 1e3, true
	case "millions":
		return 1e6, true
	}
	return 0, false
}

// Validate checks resp against the schema and returns the normalized facts.
// It is a pure function of its inputs.
func (s *Schema) Validate(resp Response, industries IndustryContext) (Facts, error) {
	var failures []ValidationFailure
	fail := func(code FailureCode, field, format string, args ...any) {
		failures = append(failures, ValidationFailure{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if resp.SchemaVersion != 0 && resp.SchemaVersion != s.Version {
		fail(OutOfRange, "schemaVersion", "unsupported schema version %d, want %d", resp.SchemaVersion, s.Version)
		return Facts{}, &ValidationError{Failures: failures}
	}

	factor, ok := scaleFactor(resp.Scale)
	if !ok {
		fail(OutOfRange, "scale", "unsupported scale %q", resp.Scale)
		return Facts{}, &ValidationError{Failures: failures}
	}

	industry, industryOK := coerceIndustry(resp.Answers[KeyIndustry], industries)
	if !industryOK {
		raw, present := resp.Answers[KeyIndustry]
		if !present || raw == nil {
			fail(MissingRequiredField, KeyIndustry, "industry is required")
		} else {
			fail(OutOfRange, KeyIndustry, "unknown industry %v", raw)
		}
		return Facts{}, &ValidationError{Failures: failures}
	}

	unknown := make([]string, 0)
	for key := range resp.Answers {
		if _, ok := s.Field(key); !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		if isDerived(key) {
			fail(UnexpectedField, key, "derived fact cannot be submitted")
			continue
		}
		fail(UnexpectedField, key, "unknown field")
	}

	answers := map[string]Value{KeyIndustry: EnumValue(industry)}
	for _, field := range s.Fields {
		if field.Key == KeyIndustry {
			continue
		}
		raw, present := resp.Answers[field.Key]
		if !present || raw == nil {
			continue
		}
		v, err := coerce(field, raw, factor)
		if err != nil {
			fail(err.code, field.Key, "%s", err.msg)
			continue
		}
		answers[field.Key] = v
	}

	for _, field := range s.Fields {
		visible := field.Visible.holds(industry, answers)
		submitted := resp.Answers[field.Key] != nil
		switch {
		case submitted && !visible:
			fail(UnexpectedField, field.Key, "field does not apply to this response")
			delete(answers, field.Key)
		case visible && field.Required && !submitted:
			fail(MissingRequiredField, field.Key, "field is required")
		}
	}

	failures = append(failures, crossFieldChecks(answers)...)

	if len(failures) > 0 {
		return Facts{}, &ValidationError{Failures: failures}
	}

	derive(answers)
	return Facts{schemaVersion: s.Version, values: answers}, nil
}

// Validate checks resp against the default schema.
func Validate(resp Response, industries IndustryContext) (Facts, error) {
	return DefaultSchema().Validate(resp, industries)
}

func coerceIndustry(raw any, industries IndustryContext) (string, bool) {
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || industries == nil || !industries.Known(s) {
		return "", false
	}
	return s, true
}

type coerceError struct {
	code FailureCode
	msg  string
}

func coerce(field Field, raw any, factor float64) (Value, *coerceError) {
	switch field.Kind {
	case KindNumber:
		n, ok := toNumber(raw)
		if !ok {
			return Value{}, &coerceError{InvalidType, fmt.Sprintf("expected number, got %T", raw)}
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, &coerceError{OutOfRange, "value is not finite"}
		}
		if field.Unit == UnitUSD {
			n *= factor
		}
		if n < field.Min || n > field.Max {
			return Value{}, &coerceError{OutOfRange, fmt.Sprintf("%v outside [%v, %v]", n, field.Min, field.Max)}
		}
		return NumberValue(n), nil

	case KindEnum:
		s, ok := raw.(string)
		if !ok {
			return Value{}, &coerceError{InvalidType, fmt.Sprintf("expected string, got %T", raw)}
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if len(field.Options) > 0 && !field.hasOption(s) {
			return Value{}, &coerceError{OutOfRange, fmt.Sprintf("%q is not one of %v", s, field.Options)}
		}
		return EnumValue(s), nil

	case KindString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, &coerceError{InvalidType, fmt.Sprintf("expected string, got %T", raw)}
		}
		s = strings.TrimSpace(s)
		if field.Max > 0 && float64(len(s)) > field.Max {
			return Value{}, &coerceError{OutOfRange, fmt.Sprintf("longer than %v characters", field.Max)}
		}
		return StringValue(s), nil

	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, &coerceError{InvalidType, fmt.Sprintf("expected boolean, got %T", raw)}
		}
		return BoolValue(b), nil
	}
	return Value{}, &coerceError{InvalidType, fmt.Sprintf("unsupported field kind %q", field.Kind)}
}

func toNumber(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func crossFieldChecks(answers map[string]Value) []ValidationFailure {
	var out []ValidationFailure
	revenue, ok := answers[KeyAnnualRevenue]
	if !ok {
		return nil
	}
	for _, key := range []string{KeyEBITDA, KeyCostOfGoodsSold, KeyOwnerCompensation} {
		v, ok := answers[key]
		if !ok {
			continue
		}
		if v.Num > revenue.Num {
			out = append(out, ValidationFailure{
				Code:    OutOfRange,
				Field:   key,
				Message: fmt.Sprintf("%v exceeds %s %v", v.Num, KeyAnnualRevenue, revenue.Num),
			})
		}
	}
	return out
}
