// Package mcp defines the Model Context Protocol wire types used by the
// xraydb tool server, together with the tool and schema model.
package mcp

import "encoding/json"

const (
	// LATEST_PROTOCOL_VERSION is offered when the client asks for a version
	// this server does not speak.
	LATEST_PROTOCOL_VERSION = "2025-06-18"

	JSONRPC_VERSION = "2.0"
)

// SupportedProtocolVersions lists the protocol revisions the server accepts
// during the handshake, newest first.
var SupportedProtocolVersions = []string{
	LATEST_PROTOCOL_VERSION,
	"2025-03-26",
	"2024-11-05",
}

// Standard JSON-RPC error codes
const (
	PARSE_ERROR      = -32700
	INVALID_REQUEST  = -32600
	METHOD_NOT_FOUND = -32601
	INVALID_PARAMS   = -32602
	INTERNAL_ERROR   = -32603
)

// Method names
const (
	MethodInitialize              = "initialize"
	MethodPing                    = "ping"
	MethodToolsList               = "tools/list"
	MethodToolsCall               = "tools/call"
	MethodNotificationInitialized = "notifications/initialized"
)

// RequestId is the JSON-RPC correlation token. It is either a string or a
// number and is echoed back verbatim.
type RequestId interface{}

type JSONRPCMessage interface{}

// JSONRPCRequest is a request that expects a response.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestId       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCNotification is a one-way message; it carries no id.
type JSONRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a successful (non-error) response to a request.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      RequestId   `json:"id"`
	Result  interface{} `json:"result"`
}

// JSONRPCError is the protocol-level error response. It is reserved for
// framing and method routing problems; tool failures travel inside a
// CallToolResult instead.
type JSONRPCError struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      RequestId `json:"id"`
	Error   struct {
		Code    int         `json:"code"`
		Message string      `json:"message"`
		Data    interface{} `json:"data,omitempty"`
	} `json:"error"`
}

type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type ClientCapabilities struct {
	Experimental map[string]interface{} `json:"experimental,omitempty"`
	Roots        *struct {
		ListChanged bool `json:"listChanged,omitempty"`
	} `json:"roots,omitempty"`
	Sampling map[string]interface{} `json:"sampling,omitempty"`
}

type ServerCapabilities struct {
	Experimental map[string]interface{} `json:"experimental,omitempty"`
	Logging      *struct{}              `json:"logging,omitempty"`
	Tools        *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools,omitempty"`
}

type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type EmptyResult struct{}

type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams is the payload of a tools/call request. Arguments is nil
// when the caller omitted the field entirely.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Content is a typed block of tool output. Only TextContent is produced by
// this server.
type Content interface{}

type TextContent struct {
	Type string `json:"type"` // Always "text"
	Text string `json:"text"`
}

// CallToolResult is the outcome of a tool invocation. IsError marks a
// Failure outcome; the failure message is carried as text content.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}
