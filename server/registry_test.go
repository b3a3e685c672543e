package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zillow/xraydb-mcp/mcp"
)

func noopHandler(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText("ok"), nil
}

func TestRegistry_ListPreservesRegistrationOrder(t *testing.T) {
	b := NewRegistryBuilder()
	names := []string{"zeta", "alpha", "mid", "beta"}
	for _, name := range names {
		require.NoError(t, b.Add(mcp.NewTool(name,
			mcp.WithDescription("tool "+name),
			mcp.WithString("x", mcp.Required()),
		), noopHandler))
	}
	reg := b.Freeze()

	tools := reg.List()
	require.Len(t, tools, len(names))
	for i, tool := range tools {
		assert.Equal(t, names[i], tool.Name)
		assert.Equal(t, "tool "+names[i], tool.Description)
		require.Len(t, tool.InputSchema.Fields, 1)
	}
	assert.Equal(t, len(names), reg.Len())
}

func TestRegistry_Lookup(t *testing.T) {
	b := NewRegistryBuilder()
	b.MustAdd(mcp.NewTool("double"), noopHandler)
	reg := b.Freeze()

	tool, ok := reg.Lookup("double")
	require.True(t, ok)
	assert.Equal(t, "double", tool.Tool.Name)
	assert.NotNil(t, tool.Handler)

	_, ok = reg.Lookup("triple")
	assert.False(t, ok)
}

func TestRegistryBuilder_RejectsInvalidRegistrations(t *testing.T) {
	b := NewRegistryBuilder()
	require.NoError(t, b.Add(mcp.NewTool("double"), noopHandler))

	err := b.Add(mcp.NewTool("double"), noopHandler)
	assert.ErrorIs(t, err, ErrDuplicateTool)

	err = b.Add(mcp.NewTool(""), noopHandler)
	assert.ErrorIs(t, err, ErrEmptyToolName)

	err = b.Add(mcp.NewTool("nil-handler"), nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	err = b.Add(mcp.NewTool("bad-schema", mcp.WithString("a"), mcp.WithString("a")), noopHandler)
	assert.ErrorIs(t, err, mcp.ErrInvalidSchema)

	// the first registration is untouched by the rejected ones
	reg := b.Freeze()
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryBuilder_FrozenRejectsAdds(t *testing.T) {
	b := NewRegistryBuilder()
	b.MustAdd(mcp.NewTool("one"), noopHandler)
	reg := b.Freeze()

	err := b.Add(mcp.NewTool("two"), noopHandler)
	assert.ErrorIs(t, err, ErrRegistryFrozen)
	assert.Same(t, reg, b.Freeze())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryBuilder_AddTools(t *testing.T) {
	b := NewRegistryBuilder()
	err := b.AddTools(
		ServerTool{Tool: mcp.NewTool("a"), Handler: noopHandler},
		ServerTool{Tool: mcp.NewTool("b"), Handler: noopHandler},
		ServerTool{Tool: mcp.NewTool("a"), Handler: noopHandler},
	)
	assert.ErrorIs(t, err, ErrDuplicateTool)
	assert.Equal(t, 2, b.Freeze().Len())
}

func TestRegistryBuilder_MustAddPanics(t *testing.T) {
	b := NewRegistryBuilder()
	b.MustAdd(mcp.NewTool("a"), noopHandler)
	assert.Panics(t, func() {
		b.MustAdd(mcp.NewTool("a"), noopHandler)
	})
}

func TestRegistry_ListReturnsCopy(t *testing.T) {
	b := NewRegistryBuilder()
	b.MustAdd(mcp.NewTool("a"), noopHandler)
	reg := b.Freeze()

	tools := reg.List()
	tools[0].Name = "mutated"

	assert.Equal(t, "a", reg.List()[0].Name)
}
