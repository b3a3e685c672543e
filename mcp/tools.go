package mcp

import "encoding/json"

// Tool describes an invocable operation: its name, a human readable
// description and the schema its arguments must satisfy.
type Tool struct {
	Name        string
	Description string
	InputSchema Schema
}

// MarshalJSON renders the tool as it appears in a tools/list response.
func (t Tool) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		InputSchema Schema `json:"inputSchema"`
	}{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
	})
}

// ToolOption is a function that configures a Tool
type ToolOption func(*Tool)

// PropertyOption is a function that configures a property
type PropertyOption func(*FieldSpec)

//
// Core Tool Functions
//

// NewTool creates a new Tool with the given name and options
func NewTool(name string, opts ...ToolOption) Tool {
	tool := Tool{
		Name: name,
	}

	for _, opt := range opts {
		opt(&tool)
	}

	return tool
}

// WithDescription adds a description to the Tool
func WithDescription(description string) ToolOption {
	return func(t *Tool) {
		t.Description = description
	}
}

//
// Common Property Options
//

// Description adds a description to a property
func Description(desc string) PropertyOption {
	return func(f *FieldSpec) {
		f.Description = desc
	}
}

// Required marks a property as required
func Required() PropertyOption {
	return func(f *FieldSpec) {
		f.Required = true
	}
}

// DefaultString sets the default value for a string or enum property
func DefaultString(value string) PropertyOption {
	return withDefault(value)
}

// DefaultNumber sets the default value for a number or integer property
func DefaultNumber(value float64) PropertyOption {
	return withDefault(value)
}

// DefaultBool sets the default value for a boolean property
func DefaultBool(value bool) PropertyOption {
	return withDefault(value)
}

func withDefault(value interface{}) PropertyOption {
	return func(f *FieldSpec) {
		f.Default = value
		f.HasDefault = true
	}
}

// Items sets the element kind of an array property
func Items(kind Kind) PropertyOption {
	return func(f *FieldSpec) {
		f.Items = kind
	}
}

//
// Property Type Helpers
//

// WithString adds a string property to the tool schema
func WithString(name string, opts ...PropertyOption) ToolOption {
	return withField(name, KindString, opts)
}

// WithNumber adds a number property to the tool schema
func WithNumber(name string, opts ...PropertyOption) ToolOption {
	return withField(name, KindNumber, opts)
}

// WithInteger adds an integer property to the tool schema
func WithInteger(name string, opts ...PropertyOption) ToolOption {
	return withField(name, KindInteger, opts)
}

// WithBoolean adds a boolean property to the tool schema
func WithBoolean(name string, opts ...PropertyOption) ToolOption {
	return withField(name, KindBoolean, opts)
}

// WithArray adds an array property to the tool schema
func WithArray(name string, opts ...PropertyOption) ToolOption {
	return withField(name, KindArray, opts)
}

// WithObject adds an object property to the tool schema
func WithObject(name string, opts ...PropertyOption) ToolOption {
	return withField(name, KindObject, opts)
}

// WithEnum adds a string property restricted to values
func WithEnum(name string, values []string, opts ...PropertyOption) ToolOption {
	return func(t *Tool) {
		f := FieldSpec{Name: name, Kind: KindEnum, Values: values}
		for _, opt := range opts {
			opt(&f)
		}
		t.InputSchema.Fields = append(t.InputSchema.Fields, f)
	}
}

func withField(name string, kind Kind, opts []PropertyOption) ToolOption {
	return func(t *Tool) {
		f := FieldSpec{Name: name, Kind: kind}
		for _, opt := range opts {
			opt(&f)
		}
		t.InputSchema.Fields = append(t.InputSchema.Fields, f)
	}
}
