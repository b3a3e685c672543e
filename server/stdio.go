package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/zillow/xraydb-mcp/mcp"
)

// State is the lifecycle stage of a StdioServer.
type State int32

const (
	StateIdle State = iota
	StateHandshaking
	StateServing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateServing:
		return "serving"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// StdioServer wraps a MCPServer and handles stdio communication.
// Messages are newline-delimited JSON-RPC. Until the client completes the
// initialize handshake only initialize and ping are answered.
type StdioServer struct {
	server      *MCPServer
	logger      *log.Logger
	concurrency int
	sessionID   string

	state   atomic.Int32
	writeMu sync.Mutex
}

type StdioOption func(*StdioServer)

// WithConcurrency lets up to n tool calls run at once after the handshake.
// Responses may then be written out of request order; clients correlate
// them by id. The default of 1 answers strictly in order.
func WithConcurrency(n int) StdioOption {
	return func(s *StdioServer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithErrorLogger sets the logger used for transport diagnostics.
func WithErrorLogger(logger *log.Logger) StdioOption {
	return func(s *StdioServer) {
		s.SetErrorLogger(logger)
	}
}

// NewStdioServer creates a new stdio server wrapper around an MCPServer
func NewStdioServer(server *MCPServer, opts ...StdioOption) *StdioServer {
	s := &StdioServer{
		server:      server,
		logger:      log.New(io.Discard), // Default to discarding logs
		concurrency: 1,
		sessionID:   uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetErrorLogger allows configuring where errors are logged
func (s *StdioServer) SetErrorLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *StdioServer) State() State {
	return State(s.state.Load())
}

// SessionID identifies this server's single session in logs.
func (s *StdioServer) SessionID() string {
	return s.sessionID
}

type readResult struct {
	line []byte
	err  error
}

// Listen serves requests read from stdin and writes responses to stdout.
// It returns nil when stdin reaches end of stream, ctx.Err() when ctx is
// cancelled, and an error on an I/O failure. A StdioServer listens at most
// once; later calls return ErrServerClosed.
func (s *StdioServer) Listen(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateHandshaking)) {
		return ErrServerClosed
	}
	defer s.state.Store(int32(StateClosed))

	logger := s.logger.With("session", s.sessionID)
	logger.Info("stdio session started")
	defer logger.Info("stdio session closed")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan readResult)
	go readLines(ctx, bufio.NewReader(stdin), lines)

	var wg sync.WaitGroup
	defer wg.Wait()

	sem := make(chan struct{}, s.concurrency)
	fatal := make(chan error, 1)

	for {
		select {
		case <-ctx.Done():
			select {
			case err := <-fatal:
				return err
			default:
				return ctx.Err()
			}
		case err := <-fatal:
			return err
		case rr := <-lines:
			if len(rr.line) > 0 {
				if s.concurrency > 1 && s.State() == StateServing {
					select {
					case sem <- struct{}{}:
					case <-ctx.Done():
						return ctx.Err()
					}
					wg.Add(1)
					go func(line []byte) {
						defer wg.Done()
						defer func() { <-sem }()
						if err := s.processMessage(ctx, logger, line, stdout); err != nil {
							select {
							case fatal <- err:
							default:
							}
							cancel()
						}
					}(rr.line)
				} else if err := s.processMessage(ctx, logger, rr.line, stdout); err != nil {
					logger.Error("Error handling message", "err", err)
					return err
				}
			}
			if rr.err != nil {
				if errors.Is(rr.err, io.EOF) {
					wg.Wait()
					select {
					case err := <-fatal:
						return err
					default:
						return nil
					}
				}
				logger.Error("Error reading input", "err", rr.err)
				return fmt.Errorf("failed to read input: %w", rr.err)
			}
		}
	}
}

func readLines(ctx context.Context, r *bufio.Reader, out chan<- readResult) {
	for {
		line, err := r.ReadBytes('\n')
		select {
		case out <- readResult{line: bytes.TrimSpace(line), err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// processMessage handles a single message and writes the response. Only
// write failures are returned.
func (s *StdioServer) processMessage(ctx context.Context, logger *log.Logger, line []byte, writer io.Writer) error {
	if !json.Valid(line) {
		logger.Warn("malformed frame", "bytes", len(line))
		return s.writeResponse(nil, createErrorResponse(nil, mcp.PARSE_ERROR, "Parse error"), writer)
	}

	msg, err := parseBaseMessage(line)
	if err != nil {
		return s.writeResponse(nil, createErrorResponse(nil, mcp.INVALID_REQUEST, "Invalid request"), writer)
	}
	logger.Debug("request", "id", msg.ID, "method", msg.Method)

	if resp := s.gate(msg); resp != nil {
		return s.writeResponse(msg.ID, resp, writer)
	}

	response := s.handle(ctx, logger, msg, line)
	if msg.Method == mcp.MethodInitialize {
		if _, ok := response.(mcp.JSONRPCResponse); ok {
			s.state.CompareAndSwap(int32(StateHandshaking), int32(StateServing))
		}
	}

	// Send the response if there is one (notifications don't have responses)
	if response != nil {
		if err := s.writeResponse(msg.ID, response, writer); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
	return nil
}

// gate enforces the handshake. It returns the rejection to send, or nil
// when the message may proceed.
func (s *StdioServer) gate(msg baseMessage) mcp.JSONRPCMessage {
	if msg.ID == nil || msg.JSONRPC != mcp.JSONRPC_VERSION {
		// notifications get no response; bad envelopes are reported by the server
		return nil
	}
	switch s.State() {
	case StateHandshaking:
		if msg.Method != mcp.MethodInitialize && msg.Method != mcp.MethodPing {
			return createErrorResponse(msg.ID, mcp.INVALID_REQUEST, "Server not initialized")
		}
	case StateServing:
		if msg.Method == mcp.MethodInitialize {
			return createErrorResponse(msg.ID, mcp.INVALID_REQUEST, "Server already initialized")
		}
	}
	return nil
}

// handle calls the wrapped server, turning a panic into an internal error
// response so the session survives it.
func (s *StdioServer) handle(ctx context.Context, logger *log.Logger, msg baseMessage, line []byte) (response mcp.JSONRPCMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling message", "method", msg.Method, "panic", r)
			if msg.ID == nil {
				response = nil
				return
			}
			response = createErrorResponse(msg.ID, mcp.INTERNAL_ERROR, "Internal error")
		}
	}()
	return s.server.HandleMessage(ctx, line)
}

// writeResponse serializes response as one line. A response that cannot be
// encoded is replaced by an internal error for id.
func (s *StdioServer) writeResponse(id interface{}, response mcp.JSONRPCMessage, writer io.Writer) error {
	responseBytes, err := encodeResponse(response)
	if err != nil {
		s.logger.Error("failed to encode response", "id", id, "err", err)
		responseBytes, err = json.Marshal(createErrorResponse(id, mcp.INTERNAL_ERROR, "Failed to encode response"))
		if err != nil {
			return err
		}
	}
	responseBytes = append(responseBytes, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := writer.Write(responseBytes); err != nil {
		return err
	}

	return nil
}

// encodeResponse marshals response, reporting a panic raised by a content
// block's MarshalJSON as an error.
func encodeResponse(response mcp.JSONRPCMessage) (b []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, fmt.Errorf("panic while encoding response: %v", r)
		}
	}()
	return json.Marshal(response)
}

// ServeStdio is a convenience function that creates and starts a StdioServer with os.Stdin and os.Stdout
func ServeStdio(server *MCPServer, opts ...StdioOption) error {
	s := NewStdioServer(server, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.Listen(ctx, os.Stdin, os.Stdout)
}
