package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zillow/xraydb-mcp/mcp"
)

const initializeLine = `{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`

// wireResponse is a decoded response line; exactly one of Result and
// Error is set.
type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r wireResponse) toolResult(t *testing.T) (string, bool) {
	t.Helper()
	require.Nil(t, r.Error, "unexpected protocol error")
	var result struct {
		Content []mcp.TextContent `json:"content"`
		IsError bool              `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(r.Result, &result))
	require.Len(t, result.Content, 1)
	return result.Content[0].Text, result.IsError
}

func decodeResponses(t *testing.T, out []byte) []wireResponse {
	t.Helper()
	var responses []wireResponse
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		var resp wireResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp), "line %q", scanner.Text())
		assert.Equal(t, "2.0", resp.JSONRPC)
		responses = append(responses, resp)
	}
	require.NoError(t, scanner.Err())
	return responses
}

// runSession feeds lines to a fresh stdio server and returns every response
// written before end of input.
func runSession(t *testing.T, server *MCPServer, lines ...string) []wireResponse {
	t.Helper()
	var out bytes.Buffer
	s := NewStdioServer(server)
	err := s.Listen(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, s.State())
	return decodeResponses(t, out.Bytes())
}

func TestStdioServer_Session(t *testing.T) {
	responses := runSession(t, createTestServer(t),
		initializeLine,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"double","arguments":{"x":21}}}`,
		`{"jsonrpc":"2.0","id":"three","method":"ping"}`,
	)

	require.Len(t, responses, 4)
	assert.JSONEq(t, `0`, string(responses[0].ID))
	assert.Nil(t, responses[0].Error)

	assert.JSONEq(t, `1`, string(responses[1].ID))
	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(responses[1].Result, &list))
	require.Len(t, list.Tools, 2)
	assert.Equal(t, "double", list.Tools[0].Name)
	assert.Equal(t, "echo", list.Tools[1].Name)

	assert.JSONEq(t, `2`, string(responses[2].ID))
	text, isError := responses[2].toolResult(t)
	assert.False(t, isError)
	assert.Equal(t, "42", text)

	assert.JSONEq(t, `"three"`, string(responses[3].ID))
	assert.JSONEq(t, `{}`, string(responses[3].Result))
}

func TestStdioServer_HandshakeGating(t *testing.T) {
	responses := runSession(t, createTestServer(t),
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
		initializeLine,
		initializeLine,
		`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`,
	)

	require.Len(t, responses, 5)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, mcp.INVALID_REQUEST, responses[0].Error.Code)
	assert.Equal(t, "Server not initialized", responses[0].Error.Message)

	assert.Nil(t, responses[1].Error, "ping is answered before initialize")
	assert.Nil(t, responses[2].Error)

	require.NotNil(t, responses[3].Error)
	assert.Equal(t, "Server already initialized", responses[3].Error.Message)

	assert.Nil(t, responses[4].Error)
}

func TestStdioServer_FramingErrorsKeepSessionAlive(t *testing.T) {
	responses := runSession(t, createTestServer(t),
		initializeLine,
		`{"jsonrpc":"2.0","id":1,"method":`,
		`not json at all`,
		`[]`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"double","arguments":{"x":1.5}}}`,
	)

	require.Len(t, responses, 5)
	require.NotNil(t, responses[1].Error)
	assert.Equal(t, mcp.PARSE_ERROR, responses[1].Error.Code)
	assert.JSONEq(t, `null`, string(responses[1].ID))
	require.NotNil(t, responses[2].Error)
	assert.Equal(t, mcp.PARSE_ERROR, responses[2].Error.Code)
	require.NotNil(t, responses[3].Error)
	assert.Equal(t, mcp.INVALID_REQUEST, responses[3].Error.Code)

	text, isError := responses[4].toolResult(t)
	assert.False(t, isError)
	assert.Equal(t, "3", text)
}

func TestStdioServer_FailureIsolation(t *testing.T) {
	b := NewRegistryBuilder()
	b.MustAdd(mcp.NewTool("boom", mcp.WithString("a")),
		func(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error) {
			panic("kaboom")
		})
	b.MustAdd(mcp.NewTool("fail", mcp.WithString("a")),
		func(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error) {
			return nil, errors.New("no such edge")
		})
	b.MustAdd(mcp.NewTool("echo", mcp.WithString("a")),
		func(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(args.String("a")), nil
		})
	server := NewMCPServer("test-server", "1.0.0", b.Freeze())

	responses := runSession(t, server,
		initializeLine,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"boom","arguments":{"a":"x"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"fail","arguments":{"a":"x"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"a":"still here"}}}`,
	)

	require.Len(t, responses, 4)
	text, isError := responses[1].toolResult(t)
	assert.True(t, isError)
	assert.Contains(t, text, "Error processing boom")

	text, isError = responses[2].toolResult(t)
	assert.True(t, isError)
	assert.Equal(t, "Error processing fail: no such edge", text)

	text, isError = responses[3].toolResult(t)
	assert.False(t, isError)
	assert.Equal(t, "still here", text)
}

type panickingContent struct{}

func (panickingContent) MarshalJSON() ([]byte, error) {
	panic("cannot encode")
}

func TestStdioServer_UnencodableResultKeepsSessionAlive(t *testing.T) {
	b := NewRegistryBuilder()
	b.MustAdd(mcp.NewTool("poison", mcp.WithString("a")),
		func(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{panickingContent{}}}, nil
		})
	b.MustAdd(mcp.NewTool("echo", mcp.WithString("a")),
		func(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(args.String("a")), nil
		})
	server := NewMCPServer("test-server", "1.0.0", b.Freeze())

	lines := strings.Join([]string{
		initializeLine,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"poison","arguments":{"a":"x"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"a":"fine"}}}`,
	}, "\n") + "\n"

	for _, concurrency := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency %d", concurrency), func(t *testing.T) {
			var out lockedBuffer
			s := NewStdioServer(server, WithConcurrency(concurrency))
			require.NoError(t, s.Listen(context.Background(), strings.NewReader(lines), &out))

			responses := decodeResponses(t, out.Bytes())
			require.Len(t, responses, 3)

			byID := map[string]wireResponse{}
			for _, resp := range responses[1:] {
				byID[string(resp.ID)] = resp
			}
			require.Contains(t, byID, "1")
			require.NotNil(t, byID["1"].Error)
			assert.Equal(t, mcp.INTERNAL_ERROR, byID["1"].Error.Code)
			assert.Equal(t, "Failed to encode response", byID["1"].Error.Message)

			require.Contains(t, byID, "2")
			text, isError := byID["2"].toolResult(t)
			assert.False(t, isError)
			assert.Equal(t, "fine", text)
		})
	}
}

func TestStdioServer_EmptyInput(t *testing.T) {
	var out bytes.Buffer
	s := NewStdioServer(createTestServer(t))

	require.NoError(t, s.Listen(context.Background(), strings.NewReader(""), &out))
	assert.Empty(t, out.Bytes())
	assert.Equal(t, StateClosed, s.State())
}

func TestStdioServer_ListenOnce(t *testing.T) {
	s := NewStdioServer(createTestServer(t))
	require.NoError(t, s.Listen(context.Background(), strings.NewReader(""), io.Discard))

	err := s.Listen(context.Background(), strings.NewReader(initializeLine+"\n"), io.Discard)
	assert.ErrorIs(t, err, ErrServerClosed)
}

func TestStdioServer_StateTransitions(t *testing.T) {
	s := NewStdioServer(createTestServer(t))
	assert.Equal(t, StateIdle, s.State())
	assert.NotEmpty(t, s.SessionID())

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	defer stdoutR.Close()

	done := make(chan error, 1)
	go func() {
		done <- s.Listen(context.Background(), stdinR, stdoutW)
	}()

	reader := bufio.NewReader(stdoutR)
	send := func(line string) wireResponse {
		_, err := fmt.Fprintln(stdinW, line)
		require.NoError(t, err)
		raw, err := reader.ReadBytes('\n')
		require.NoError(t, err)
		var resp wireResponse
		require.NoError(t, json.Unmarshal(raw, &resp))
		return resp
	}

	resp := send(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Nil(t, resp.Error)
	assert.Equal(t, StateHandshaking, s.State())

	resp = send(initializeLine)
	assert.Nil(t, resp.Error)
	assert.Equal(t, StateServing, s.State())

	require.NoError(t, stdinW.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after end of input")
	}
	assert.Equal(t, StateClosed, s.State())
}

func TestStdioServer_ContextCancel(t *testing.T) {
	s := NewStdioServer(createTestServer(t))
	stdinR, stdinW := io.Pipe()
	defer stdinW.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Listen(ctx, stdinR, io.Discard)
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestStdioServer_WriteFailureEndsSession(t *testing.T) {
	s := NewStdioServer(createTestServer(t))

	err := s.Listen(context.Background(), strings.NewReader(initializeLine+"\n"), failingWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

// lockedBuffer lets concurrent writers and the test share a buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestStdioServer_Concurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	b := NewRegistryBuilder()
	b.MustAdd(mcp.NewTool("slow", mcp.WithNumber("n", mcp.Required())),
		func(ctx context.Context, args mcp.Arguments) (*mcp.CallToolResult, error) {
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			return mcp.NewToolResultText(formatNumber(args.Float("n"))), nil
		})
	server := NewMCPServer("test-server", "1.0.0", b.Freeze())

	const calls = 8
	lines := []string{initializeLine}
	for i := 1; i <= calls; i++ {
		lines = append(lines, fmt.Sprintf(
			`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"slow","arguments":{"n":%d}}}`, i, i))
	}

	var out lockedBuffer
	s := NewStdioServer(server, WithConcurrency(4))
	require.NoError(t, s.Listen(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"), &out))

	responses := decodeResponses(t, out.Bytes())
	require.Len(t, responses, calls+1)

	seen := map[string]bool{}
	for _, resp := range responses[1:] {
		text, isError := resp.toolResult(t)
		assert.False(t, isError)
		assert.Equal(t, string(resp.ID), text, "response carries its request id")
		seen[text] = true
	}
	assert.Len(t, seen, calls)
	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.Greater(t, peak.Load(), int32(1))
}
