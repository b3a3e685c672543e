package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zillow/xraydb-mcp/mcp"
)

// MCPServer answers MCP requests for a frozen tool registry. It holds no
// per-session state; the handshake lifecycle is enforced by the transport.
type MCPServer struct {
	name         string
	version      string
	instructions string
	registry     *Registry
	dispatcher   *Dispatcher
	callTimeout  time.Duration
	logger       *log.Logger
}

type ServerOption func(*MCPServer)

// WithInstructions sets the usage hint returned from initialize.
func WithInstructions(instructions string) ServerOption {
	return func(s *MCPServer) {
		s.instructions = instructions
	}
}

// WithCallTimeout bounds each tool invocation. Zero disables the bound.
func WithCallTimeout(d time.Duration) ServerOption {
	return func(s *MCPServer) {
		s.callTimeout = d
	}
}

// WithLogger routes server diagnostics to logger. The default discards
// them.
func WithLogger(logger *log.Logger) ServerOption {
	return func(s *MCPServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewMCPServer(
	name, version string,
	registry *Registry,
	opts ...ServerOption,
) *MCPServer {
	if registry == nil {
		registry = NewRegistryBuilder().Freeze()
	}
	s := &MCPServer{
		name:        name,
		version:     version,
		registry:    registry,
		callTimeout: DefaultCallTimeout,
		logger:      log.New(io.Discard),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.dispatcher = NewDispatcher(registry,
		WithDispatchTimeout(s.callTimeout),
		WithDispatchLogger(s.logger),
	)
	return s
}

func (s *MCPServer) Registry() *Registry {
	return s.registry
}

// baseMessage is the envelope shared by every inbound message.
type baseMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      interface{}     `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// parseBaseMessage decodes the envelope. Numeric ids are kept as
// json.Number so they are echoed back exactly.
func parseBaseMessage(message json.RawMessage) (baseMessage, error) {
	var msg baseMessage
	dec := json.NewDecoder(bytes.NewReader(message))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return baseMessage{}, err
	}
	return msg, nil
}

// HandleMessage processes one JSON-RPC message and returns the response to
// send, or nil for notifications.
func (s *MCPServer) HandleMessage(
	ctx context.Context,
	message json.RawMessage,
) mcp.JSONRPCMessage {
	if !json.Valid(message) {
		return createErrorResponse(nil, mcp.PARSE_ERROR, "Failed to parse message")
	}
	msg, err := parseBaseMessage(message)
	if err != nil {
		return createErrorResponse(nil, mcp.INVALID_REQUEST, "Invalid request")
	}

	// Check for valid JSONRPC version
	if msg.JSONRPC != mcp.JSONRPC_VERSION {
		return createErrorResponse(msg.ID, mcp.INVALID_REQUEST, "Invalid JSON-RPC version")
	}

	switch msg.ID.(type) {
	case nil, string, json.Number:
	default:
		return createErrorResponse(nil, mcp.INVALID_REQUEST, "Invalid request id")
	}

	if msg.Method == "" {
		return createErrorResponse(msg.ID, mcp.INVALID_REQUEST, "Missing method")
	}

	if msg.ID == nil {
		s.handleNotification(msg)
		return nil
	}

	switch msg.Method {
	case mcp.MethodInitialize:
		var params mcp.InitializeParams
		if err := decodeParams(msg.Params, &params); err != nil {
			return createErrorResponse(msg.ID, mcp.INVALID_PARAMS, "Invalid initialize request")
		}
		return s.handleInitialize(msg.ID, params)
	case mcp.MethodPing:
		return createResponse(msg.ID, mcp.EmptyResult{})
	case mcp.MethodToolsList:
		var params mcp.ListToolsParams
		if err := decodeParams(msg.Params, &params); err != nil {
			return createErrorResponse(msg.ID, mcp.INVALID_PARAMS, "Invalid list tools request")
		}
		return s.handleListTools(msg.ID, params)
	case mcp.MethodToolsCall:
		var params mcp.CallToolParams
		if err := decodeParams(msg.Params, &params); err != nil {
			return createErrorResponse(msg.ID, mcp.INVALID_PARAMS, "Invalid call tool request")
		}
		return s.handleToolCall(ctx, msg.ID, params)
	default:
		return createErrorResponse(
			msg.ID,
			mcp.METHOD_NOT_FOUND,
			fmt.Sprintf("Method %s not found", msg.Method),
		)
	}
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (s *MCPServer) handleInitialize(
	id interface{},
	params mcp.InitializeParams,
) mcp.JSONRPCMessage {
	version := mcp.LATEST_PROTOCOL_VERSION
	if slices.Contains(mcp.SupportedProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	s.logger.Info("initialize",
		"client", params.ClientInfo.Name,
		"clientVersion", params.ClientInfo.Version,
		"protocolVersion", version,
	)

	result := mcp.InitializeResult{
		ProtocolVersion: version,
		ServerInfo: mcp.Implementation{
			Name:    s.name,
			Version: s.version,
		},
		Instructions: s.instructions,
	}
	result.Capabilities.Tools = &struct {
		ListChanged bool `json:"listChanged"`
	}{
		ListChanged: false,
	}

	return createResponse(id, result)
}

func (s *MCPServer) handleListTools(
	id interface{},
	params mcp.ListToolsParams,
) mcp.JSONRPCMessage {
	return createResponse(id, mcp.ListToolsResult{
		Tools: s.registry.List(),
	})
}

func (s *MCPServer) handleToolCall(
	ctx context.Context,
	id interface{},
	params mcp.CallToolParams,
) mcp.JSONRPCMessage {
	result := s.dispatcher.Dispatch(ctx, params.Name, params.Arguments)
	return createResponse(id, *result)
}

func (s *MCPServer) handleNotification(msg baseMessage) {
	switch msg.Method {
	case mcp.MethodNotificationInitialized:
		s.logger.Debug("client initialized")
	default:
		s.logger.Debug("ignoring notification", "method", msg.Method)
	}
}

func createResponse(id interface{}, result interface{}) mcp.JSONRPCMessage {
	return mcp.NewJSONRPCResponse(id, result)
}

func createErrorResponse(
	id interface{},
	code int,
	message string,
) mcp.JSONRPCMessage {
	return mcp.NewJSONRPCError(id, code, message, nil)
}
