package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/zillow/xraydb-mcp/mcp"
)

// ErrClosed is returned for requests still pending when the server side of
// the transport goes away.
var ErrClosed = errors.New("transport closed")

// Interface is a bidirectional JSON-RPC channel to an MCP server.
type Interface interface {
	// Start connects the transport. It must be called before any request.
	Start(ctx context.Context) error

	// SendRequest sends a request and waits for the response with the same
	// id.
	SendRequest(ctx context.Context, request JSONRPCRequest) (*JSONRPCResponse, error)

	// SendNotification sends a one-way message.
	SendNotification(ctx context.Context, notification mcp.JSONRPCNotification) error

	// SetNotificationHandler sets the handler for messages from the server
	// that carry no id.
	SetNotificationHandler(handler func(notification mcp.JSONRPCNotification))

	Close() error
}

type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}
