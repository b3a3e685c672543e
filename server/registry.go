package server

import (
	"context"
	"fmt"

	"github.com/zillow/xraydb-mcp/mcp"
)

// ToolHandlerFunc computes the result of a tool call from arguments that
// already satisfy the tool's schema. A returned error becomes a Failure
// outcome; it never reaches the transport.
type ToolHandlerFunc func(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error)

// ServerTool pairs a tool descriptor with its handler.
type ServerTool struct {
	Tool    mcp.Tool
	Handler ToolHandlerFunc
}

// RegistryBuilder collects tools at startup. Duplicate names are rejected.
// Once Freeze is called the builder accepts no further tools.
type RegistryBuilder struct {
	tools  []ServerTool
	index  map[string]int
	frozen *Registry
}

func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{index: make(map[string]int)}
}

// Add registers a tool. It fails if the builder is frozen, the name is
// empty or already taken, the handler is nil or the schema is malformed.
func (b *RegistryBuilder) Add(tool mcp.Tool, handler ToolHandlerFunc) error {
	if b.frozen != nil {
		return fmt.Errorf("add %q: %w", tool.Name, ErrRegistryFrozen)
	}
	if tool.Name == "" {
		return ErrEmptyToolName
	}
	if _, exists := b.index[tool.Name]; exists {
		return fmt.Errorf("add %q: %w", tool.Name, ErrDuplicateTool)
	}
	if handler == nil {
		return fmt.Errorf("add %q: %w", tool.Name, ErrNilHandler)
	}
	if err := tool.InputSchema.Check(); err != nil {
		return fmt.Errorf("add %q: %w", tool.Name, err)
	}

	b.index[tool.Name] = len(b.tools)
	b.tools = append(b.tools, ServerTool{Tool: tool, Handler: handler})
	return nil
}

// AddTools registers several tools, stopping at the first failure.
func (b *RegistryBuilder) AddTools(tools ...ServerTool) error {
	for _, t := range tools {
		if err := b.Add(t.Tool, t.Handler); err != nil {
			return err
		}
	}
	return nil
}

// MustAdd is Add for fixed startup registrations; it panics on error.
func (b *RegistryBuilder) MustAdd(tool mcp.Tool, handler ToolHandlerFunc) {
	if err := b.Add(tool, handler); err != nil {
		panic(err)
	}
}

// Freeze returns the immutable registry. Later calls return the same
// registry.
func (b *RegistryBuilder) Freeze() *Registry {
	if b.frozen != nil {
		return b.frozen
	}
	r := &Registry{
		tools: make([]ServerTool, len(b.tools)),
		index: make(map[string]int, len(b.index)),
	}
	copy(r.tools, b.tools)
	for name, i := range b.index {
		r.index[name] = i
	}
	b.frozen = r
	return r
}

// Registry is the read-only set of tools served by a process. It is safe
// for concurrent use.
type Registry struct {
	tools []ServerTool
	index map[string]int
}

// List returns the tool descriptors in registration order.
func (r *Registry) List() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Tool)
	}
	return out
}

func (r *Registry) Lookup(name string) (ServerTool, bool) {
	i, ok := r.index[name]
	if !ok {
		return ServerTool{}, false
	}
	return r.tools[i], true
}

func (r *Registry) Len() int {
	return len(r.tools)
}
