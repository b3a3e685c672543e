package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"
)

// ErrInvalidSchema is wrapped by every error returned from Schema.Check.
var ErrInvalidSchema = errors.New("invalid schema")

// Kind is the declared type of a tool argument.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
	KindEnum    Kind = "enum"
)

func (k Kind) primitive() bool {
	switch k {
	case KindString, KindNumber, KindInteger, KindBoolean:
		return true
	}
	return false
}

// FieldSpec declares one named argument of a tool.
type FieldSpec struct {
	Name        string
	Kind        Kind
	Description string
	Required    bool

	// Default is substituted when the argument is absent. HasDefault
	// distinguishes an explicit zero default from no default at all.
	Default    interface{}
	HasDefault bool

	// Items is the element kind of an array field. Empty means any.
	Items Kind

	// Values are the allowed values of an enum field.
	Values []string
}

// Schema is the ordered list of arguments a tool accepts.
type Schema struct {
	Fields []FieldSpec
}

// Field returns the declaration of the named field.
func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Check verifies the structural invariants of the schema: unique field
// names, no default on a required field, enum defaults drawn from the
// declared values and defaults that match their field's kind.
func (s Schema) Check() error {
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field with empty name", ErrInvalidSchema)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		seen[f.Name] = struct{}{}

		switch f.Kind {
		case KindString, KindNumber, KindInteger, KindBoolean, KindObject:
		case KindArray:
			if f.Items != "" && !f.Items.primitive() {
				return fmt.Errorf("%w: field %q has non-primitive item kind %q", ErrInvalidSchema, f.Name, f.Items)
			}
		case KindEnum:
			if len(f.Values) == 0 {
				return fmt.Errorf("%w: enum field %q declares no values", ErrInvalidSchema, f.Name)
			}
		default:
			return fmt.Errorf("%w: field %q has unknown kind %q", ErrInvalidSchema, f.Name, f.Kind)
		}

		if !f.HasDefault {
			continue
		}
		if f.Required {
			return fmt.Errorf("%w: required field %q has a default", ErrInvalidSchema, f.Name)
		}
		if _, ok := matchKind(f, f.Default); !ok {
			return fmt.Errorf("%w: default of field %q is not of kind %s", ErrInvalidSchema, f.Name, f.Kind)
		}
		if f.Kind == KindEnum && !slices.Contains(f.Values, f.Default.(string)) {
			return fmt.Errorf("%w: default %q of field %q is not an allowed value", ErrInvalidSchema, f.Default, f.Name)
		}
	}
	return nil
}

// JSONSchema renders the schema as a JSON Schema object. Properties keep
// their declaration order.
func (s Schema) JSONSchema() *jsonschema.Schema {
	root := &jsonschema.Schema{
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}
	for _, f := range s.Fields {
		prop := &jsonschema.Schema{Description: f.Description}
		switch f.Kind {
		case KindEnum:
			prop.Type = "string"
			prop.Enum = make([]interface{}, 0, len(f.Values))
			for _, v := range f.Values {
				prop.Enum = append(prop.Enum, v)
			}
		case KindArray:
			prop.Type = "array"
			if f.Items != "" {
				prop.Items = &jsonschema.Schema{Type: string(f.Items)}
			}
		default:
			prop.Type = string(f.Kind)
		}
		if f.HasDefault {
			prop.Default = f.Default
		}
		root.Properties.Set(f.Name, prop)
		if f.Required {
			root.Required = append(root.Required, f.Name)
		}
	}
	return root
}

func (s Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.JSONSchema())
}
