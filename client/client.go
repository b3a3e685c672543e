// Package client implements a minimal MCP client for tool servers that
// speak newline-delimited JSON-RPC.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/zillow/xraydb-mcp/client/transport"
	"github.com/zillow/xraydb-mcp/mcp"
)

// RPCError is a protocol-level error returned by the server.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// ToolInfo is a tool as advertised by tools/list. The input schema is kept
// as raw JSON.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Client represents an MCP client
type Client struct {
	transport   transport.Interface
	nextReqID   atomic.Int64
	initialized atomic.Bool
}

// NewClient creates a client on top of an already started transport.
func NewClient(t transport.Interface) *Client {
	return &Client{transport: t}
}

// Initialize performs the handshake and sends the initialized notification.
func (c *Client) Initialize(ctx context.Context, info mcp.Implementation) (*mcp.InitializeResult, error) {
	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ClientInfo:      info,
	}
	var result mcp.InitializeResult
	if err := c.call(ctx, mcp.MethodInitialize, params, &result); err != nil {
		return nil, err
	}

	if err := c.transport.SendNotification(ctx, mcp.JSONRPCNotification{
		JSONRPC: mcp.JSONRPC_VERSION,
		Method:  mcp.MethodNotificationInitialized,
	}); err != nil {
		return nil, fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.initialized.Store(true)
	return &result, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, mcp.MethodPing, nil, nil)
}

func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := c.call(ctx, mcp.MethodToolsList, nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a tool. A tool failure is not an error: it is returned
// as a result with IsError set. Text blocks are decoded as
// mcp.TextContent.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	var raw struct {
		Content []json.RawMessage `json:"content"`
		IsError bool              `json:"isError"`
	}
	params := mcp.CallToolParams{Name: name, Arguments: arguments}
	if err := c.call(ctx, mcp.MethodToolsCall, params, &raw); err != nil {
		return nil, err
	}

	result := &mcp.CallToolResult{
		Content: make([]mcp.Content, 0, len(raw.Content)),
		IsError: raw.IsError,
	}
	for _, block := range raw.Content {
		var tc mcp.TextContent
		if err := json.Unmarshal(block, &tc); err == nil && tc.Type == "text" {
			result.Content = append(result.Content, tc)
			continue
		}
		result.Content = append(result.Content, block)
	}
	return result, nil
}

// Initialized reports whether the handshake completed.
func (c *Client) Initialized() bool {
	return c.initialized.Load()
}

func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	response, err := c.transport.SendRequest(ctx, transport.JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      c.nextReqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if response.Error != nil {
		return &RPCError{Code: response.Error.Code, Message: response.Error.Message}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(response.Result, result); err != nil {
		return fmt.Errorf("%s: failed to unmarshal result: %w", method, err)
	}
	return nil
}
