// Package mcptest implements helper functions for testing MCP servers.
package mcptest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/zillow/xraydb-mcp/client"
	"github.com/zillow/xraydb-mcp/client/transport"
	"github.com/zillow/xraydb-mcp/mcp"
	"github.com/zillow/xraydb-mcp/server"
)

// Server encapsulates an MCP server and manages resources like pipes and context.
type Server struct {
	name    string
	tools   []server.ServerTool
	options []server.StdioOption

	ctx    context.Context
	cancel func()

	serverReader *io.PipeReader
	serverWriter *io.PipeWriter
	clientReader *io.PipeReader
	clientWriter *io.PipeWriter

	logMu     sync.Mutex
	logBuffer bytes.Buffer

	transport transport.Interface
	client    *client.Client

	listenErr error
	wg        sync.WaitGroup
}

// NewServer starts a new MCP server with the provided tools and returns the server instance.
func NewServer(t *testing.T, tools ...server.ServerTool) (*Server, error) {
	server := NewUnstartedServer(t)
	server.AddTools(tools...)

	if err := server.Start(); err != nil {
		return nil, err
	}

	return server, nil
}

// NewUnstartedServer creates a new MCP server instance named after the test, but does not start the server.
// Useful for tests where you need to add tools before starting the server.
func NewUnstartedServer(t *testing.T) *Server {
	server := &Server{
		name: t.Name(),
	}

	// Set up context with cancellation, used to stop the server
	server.ctx, server.cancel = context.WithCancel(t.Context())

	// Set up pipes for client-server communication
	server.serverReader, server.clientWriter = io.Pipe()
	server.clientReader, server.serverWriter = io.Pipe()

	return server
}

// AddTools adds multiple tools to an unstarted server.
func (s *Server) AddTools(tools ...server.ServerTool) {
	s.tools = append(s.tools, tools...)
}

// AddTool adds a tool to an unstarted server.
func (s *Server) AddTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.tools = append(s.tools, server.ServerTool{
		Tool:    tool,
		Handler: handler,
	})
}

// WithStdioOptions configures the stdio transport of an unstarted server.
func (s *Server) WithStdioOptions(opts ...server.StdioOption) {
	s.options = append(s.options, opts...)
}

// Start starts the server in a goroutine. Make sure to defer Close() after Start().
// When using NewServer(), the returned server is already started.
func (s *Server) Start() error {
	b := server.NewRegistryBuilder()
	if err := b.AddTools(s.tools...); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	logger := log.New(&lockedWriter{mu: &s.logMu, w: &s.logBuffer})
	logger.SetLevel(log.DebugLevel)

	mcpServer := server.NewMCPServer(s.name, "1.0.0", b.Freeze(), server.WithLogger(logger))
	stdioServer := server.NewStdioServer(mcpServer, append([]server.StdioOption{server.WithErrorLogger(logger)}, s.options...)...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.serverWriter.Close()

		if err := stdioServer.Listen(s.ctx, s.serverReader, s.serverWriter); err != nil {
			s.listenErr = err
			logger.Error("StdioServer.Listen failed", "err", err)
		}
	}()

	s.transport = transport.NewIO(s.clientReader, s.clientWriter, nil)
	if err := s.transport.Start(s.ctx); err != nil {
		return fmt.Errorf("transport.Start(): %w", err)
	}

	s.client = client.NewClient(s.transport)

	if _, err := s.client.Initialize(s.ctx, mcp.Implementation{Name: "mcptest", Version: "1.0.0"}); err != nil {
		return fmt.Errorf("client.Initialize(): %w", err)
	}

	return nil
}

// Close stops the server and cleans up resources.
func (s *Server) Close() {
	if s.transport != nil {
		// closing the client side ends the server's input
		s.transport.Close()
		s.transport = nil
		s.client = nil
	}

	s.wg.Wait()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	s.serverReader.Close()
	s.clientReader.Close()
}

// Client returns an MCP client connected to the server.
// The client is already initialized, i.e. you do _not_ need to call Client.Initialize().
func (s *Server) Client() *client.Client {
	return s.client
}

// Logs returns what the server has logged so far.
func (s *Server) Logs() string {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	return s.logBuffer.String()
}

// ListenErr returns the error Listen ended with. It is only meaningful
// after Close.
func (s *Server) ListenErr() error {
	return s.listenErr
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}
