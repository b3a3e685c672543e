package mcp

import (
	"fmt"
	"math"
)

// Arguments is a validated argument mapping handed to tool handlers. The
// accessors return the zero value for absent or mistyped entries; after
// Validate, declared fields are guaranteed to have their declared kind.
type Arguments map[string]interface{}

func (a Arguments) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Arguments) Float(name string) float64 {
	f, _ := toFloat(a[name])
	return f
}

func (a Arguments) Int(name string) int {
	f, _ := toFloat(a[name])
	return int(math.Trunc(f))
}

func (a Arguments) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func (a Arguments) Has(name string) bool {
	_, ok := present(a, name)
	return ok
}

// Helper function to create a new TextContent
func NewTextContent(text string) TextContent {
	return TextContent{
		Type: "text",
		Text: text,
	}
}

// AsTextContent attempts to cast the given interface to TextContent
func AsTextContent(content interface{}) (*TextContent, bool) {
	switch tc := content.(type) {
	case TextContent:
		return &tc, true
	case *TextContent:
		return tc, tc != nil
	}
	return nil, false
}

// NewToolResultText returns a successful result with one text block per
// argument, in order.
func NewToolResultText(texts ...string) *CallToolResult {
	content := make([]Content, 0, len(texts))
	for _, t := range texts {
		content = append(content, NewTextContent(t))
	}
	return &CallToolResult{Content: content}
}

// NewToolResultError returns a failed result carrying text as its message.
func NewToolResultError(text string) *CallToolResult {
	return &CallToolResult{
		Content: []Content{NewTextContent(text)},
		IsError: true,
	}
}

// NewToolResultErrorf is NewToolResultError with fmt.Sprintf formatting.
func NewToolResultErrorf(format string, args ...interface{}) *CallToolResult {
	return NewToolResultError(fmt.Sprintf(format, args...))
}

// Helper function to create a success response
func NewJSONRPCResponse(id RequestId, result interface{}) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: JSONRPC_VERSION,
		ID:      id,
		Result:  result,
	}
}

// Helper function to create an error response
func NewJSONRPCError(id RequestId, code int, message string, data interface{}) JSONRPCError {
	resp := JSONRPCError{
		JSONRPC: JSONRPC_VERSION,
		ID:      id,
	}
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Data = data
	return resp
}
