// Package xraytools exposes the x-ray reference database as MCP tools.
package xraytools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/zillow/xraydb-mcp/mcp"
	"github.com/zillow/xraydb-mcp/server"
	"github.com/zillow/xraydb-mcp/xraydb"
)

const (
	XrayEdges    = "xray_edges"
	GuessEdge    = "guess_edge"
	XrayEdge     = "xray_edge"
	ElementInfo  = "element_info"
	ListElements = "list_elements"
)

// Tools returns the tool set backed by db, in listing order.
func Tools(db *xraydb.DB) []server.ServerTool {
	h := handlers{db: db}
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(XrayEdges,
				mcp.WithDescription("Get X-ray absorption edges for an element in eV and fyields and jump ratios"),
				mcp.WithString("element",
					mcp.Required(),
					mcp.Description("Element symbol (e.g., 'Fe', 'Cu') or name"),
				),
			),
			Handler: h.xrayEdges,
		},
		{
			Tool: mcp.NewTool(GuessEdge,
				mcp.WithDescription("Guesses the element and absorption edge based on the edge energy in eV."),
				mcp.WithNumber("energy",
					mcp.Required(),
					mcp.Description("Edge energy in eV"),
				),
			),
			Handler: h.guessEdge,
		},
		{
			Tool: mcp.NewTool(XrayEdge,
				mcp.WithDescription("Get a single X-ray absorption edge of an element in eV with its fyield and jump ratio"),
				mcp.WithString("element",
					mcp.Required(),
					mcp.Description("Element symbol (e.g., 'Fe', 'Cu') or name"),
				),
				mcp.WithEnum("edge", xraydb.EdgeNames,
					mcp.DefaultString("K"),
					mcp.Description("Edge name"),
				),
			),
			Handler: h.xrayEdge,
		},
		{
			Tool: mcp.NewTool(ElementInfo,
				mcp.WithDescription("Get the symbol, name, atomic number and molar mass of an element"),
				mcp.WithString("element",
					mcp.Required(),
					mcp.Description("Element symbol, name or atomic number"),
				),
			),
			Handler: h.elementInfo,
		},
		{
			Tool: mcp.NewTool(ListElements,
				mcp.WithDescription("List the elements held in the database within a range of atomic numbers"),
				mcp.WithNumber("min_z",
					mcp.Required(),
					mcp.Description("Lowest atomic number to list"),
				),
				mcp.WithNumber("max_z",
					mcp.DefaultNumber(118),
					mcp.Description("Highest atomic number to list"),
				),
			),
			Handler: h.listElements,
		},
	}
}

// Register adds the tool set to b.
func Register(b *server.RegistryBuilder, db *xraydb.DB) error {
	return b.AddTools(Tools(db)...)
}

type handlers struct {
	db *xraydb.DB
}

func (h handlers) xrayEdges(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error) {
	element := args.String("element")
	edges, err := h.db.XrayEdges(ctx, element)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "X-ray absorption edges for %s with energy in eV:\n", element)
	for _, e := range edges {
		fmt.Fprintf(&sb, "%s: energy=%s, fyield=%s, jump_ratio=%s\n",
			e.Name, formatFloat(e.Energy), formatFloat(e.FluorescenceYield), formatFloat(e.JumpRatio))
	}
	return mcp.NewToolResultText(strings.TrimSuffix(sb.String(), "\n")), nil
}

func (h handlers) guessEdge(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error) {
	energy := args.Float("energy")
	guess, ok, err := h.db.GuessEdge(ctx, energy)
	if err != nil {
		return nil, err
	}
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf(
			"No elements found around the edge energy %s eV.", formatFloat(energy))), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Absorption edges around the energy %s eV, Element %s at absorption edge %s.",
		formatFloat(energy), guess.Element, guess.Edge)), nil
}

func (h handlers) xrayEdge(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error) {
	el, err := h.db.Element(ctx, args.String("element"))
	if err != nil {
		return nil, err
	}
	edge, err := h.db.XrayEdge(ctx, el.Symbol, args.String("edge"))
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"%s %s edge: energy=%s eV, fyield=%s, jump_ratio=%s",
		el.Symbol, edge.Name, formatFloat(edge.Energy),
		formatFloat(edge.FluorescenceYield), formatFloat(edge.JumpRatio))), nil
}

func (h handlers) elementInfo(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error) {
	el, err := h.db.Element(ctx, args.String("element"))
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"%s (%s): Z=%d, molar mass=%s g/mol",
		el.Name, el.Symbol, el.Z, formatFloat(el.MolarMass))), nil
}

func (h handlers) listElements(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error) {
	minZ, maxZ := args.Float("min_z"), args.Float("max_z")
	if minZ > maxZ {
		return nil, fmt.Errorf("min_z %s is greater than max_z %s", formatFloat(minZ), formatFloat(maxZ))
	}
	elements, err := h.db.Elements(ctx)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, el := range elements {
		if z := float64(el.Z); z < minZ || z > maxZ {
			continue
		}
		fmt.Fprintf(&sb, "\n%d %s %s", el.Z, el.Symbol, el.Name)
	}
	if sb.Len() == 0 {
		return mcp.NewToolResultText(fmt.Sprintf(
			"No elements found with Z from %s to %s.", formatFloat(minZ), formatFloat(maxZ))), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Elements with Z from %s to %s:", formatFloat(minZ), formatFloat(maxZ)) + sb.String()), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
