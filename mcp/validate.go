package mcp

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
)

// ValidationCode classifies a ValidationError.
type ValidationCode string

const (
	CodeMissingField     ValidationCode = "missing_field"
	CodeTypeMismatch     ValidationCode = "type_mismatch"
	CodeInvalidEnumValue ValidationCode = "invalid_enum_value"
)

// ValidationError reports the first argument that does not satisfy a
// tool's schema.
type ValidationError struct {
	Code     ValidationCode
	Field    string
	Expected string
	Actual   string
	Value    interface{}
	Allowed  []string
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case CodeMissingField:
		return fmt.Sprintf("missing required argument %q", e.Field)
	case CodeTypeMismatch:
		return fmt.Sprintf("argument %q must be %s, got %s", e.Field, e.Expected, e.Actual)
	case CodeInvalidEnumValue:
		return fmt.Sprintf("argument %q has invalid value %v (allowed: %s)",
			e.Field, e.Value, strings.Join(e.Allowed, ", "))
	default:
		return fmt.Sprintf("invalid argument %q", e.Field)
	}
}

// Validate checks args against schema and returns the validated mapping.
//
// Rules run in a fixed order over the fields in declaration order, and the
// first violation wins: every required field is checked for presence, then
// every present field for its kind, then enum fields for membership. A JSON
// null counts as absent. Absent fields with a default receive it. Fields the
// schema does not declare are dropped.
func Validate(schema Schema, args map[string]interface{}) (Arguments, error) {
	for _, f := range schema.Fields {
		if _, ok := present(args, f.Name); f.Required && !ok {
			return nil, &ValidationError{Code: CodeMissingField, Field: f.Name}
		}
	}

	for _, f := range schema.Fields {
		v, ok := present(args, f.Name)
		if !ok {
			continue
		}
		if actual, ok := matchKind(f, v); !ok {
			return nil, &ValidationError{
				Code:     CodeTypeMismatch,
				Field:    f.Name,
				Expected: expectedName(f),
				Actual:   actual,
				Value:    v,
			}
		}
	}

	for _, f := range schema.Fields {
		if f.Kind != KindEnum {
			continue
		}
		v, ok := present(args, f.Name)
		if !ok {
			continue
		}
		if !slices.Contains(f.Values, v.(string)) {
			return nil, &ValidationError{
				Code:    CodeInvalidEnumValue,
				Field:   f.Name,
				Value:   v,
				Allowed: slices.Clone(f.Values),
			}
		}
	}

	out := make(Arguments, len(schema.Fields))
	for _, f := range schema.Fields {
		if v, ok := present(args, f.Name); ok {
			out[f.Name] = v
		} else if f.HasDefault {
			out[f.Name] = f.Default
		}
	}
	return out, nil
}

func present(args map[string]interface{}, name string) (interface{}, bool) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// matchKind reports whether v satisfies the field's kind. When it does not,
// the returned string names what v actually is.
func matchKind(f FieldSpec, v interface{}) (string, bool) {
	switch f.Kind {
	case KindArray:
		items, ok := v.([]interface{})
		if !ok {
			return kindOf(v), false
		}
		if f.Items == "" {
			return "", true
		}
		for _, item := range items {
			if !matchPrimitive(f.Items, item) {
				return "array containing " + kindOf(item), false
			}
		}
		return "", true
	case KindObject:
		if _, ok := v.(map[string]interface{}); !ok {
			return kindOf(v), false
		}
		return "", true
	case KindEnum:
		if _, ok := v.(string); !ok {
			return kindOf(v), false
		}
		return "", true
	default:
		if !matchPrimitive(f.Kind, v) {
			return kindOf(v), false
		}
		return "", true
	}
}

func matchPrimitive(k Kind, v interface{}) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBoolean:
		_, ok := v.(bool)
		return ok
	case KindNumber:
		_, ok := toFloat(v)
		return ok
	case KindInteger:
		n, ok := toFloat(v)
		return ok && n == math.Trunc(n)
	}
	return false
}

func expectedName(f FieldSpec) string {
	switch f.Kind {
	case KindArray:
		if f.Items != "" {
			return "array of " + string(f.Items)
		}
		return "array"
	case KindEnum:
		return "string"
	}
	return string(f.Kind)
}

// kindOf names the JSON type of a decoded value.
func kindOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
