package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/zillow/xraydb-mcp/mcp"
)

// Stdio implements the transport layer of the MCP protocol over a pair of
// byte streams carrying newline-delimited JSON-RPC. The streams are either
// the standard input and output of a subprocess it launches, or streams
// supplied by the caller.
type Stdio struct {
	command string
	args    []string
	env     []string

	cmd            *exec.Cmd
	stdin          io.WriteCloser
	stdout         *bufio.Reader
	stderr         io.ReadCloser
	responses      map[int64]chan *JSONRPCResponse
	mu             sync.RWMutex
	writeMu        sync.Mutex
	done           chan struct{}
	readerDone     chan struct{}
	closeOnce      sync.Once
	onNotification func(mcp.JSONRPCNotification)
	notifyMu       sync.RWMutex
}

var _ Interface = (*Stdio)(nil)

// NewStdio creates a transport that launches command with args on Start and
// talks to it over its stdin and stdout. env is appended to the current
// environment.
func NewStdio(
	command string,
	env []string,
	args ...string,
) *Stdio {
	return &Stdio{
		command: command,
		args:    args,
		env:     env,

		responses:  make(map[int64]chan *JSONRPCResponse),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
}

// NewIO creates a transport over existing streams: responses are read from
// input and requests written to output. logging, if not nil, is closed by
// Close.
func NewIO(input io.Reader, output io.WriteCloser, logging io.ReadCloser) *Stdio {
	return &Stdio{
		stdin:  output,
		stdout: bufio.NewReader(input),
		stderr: logging,

		responses:  make(map[int64]chan *JSONRPCResponse),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
}

func (c *Stdio) Start(ctx context.Context) error {
	if c.command != "" {
		if err := c.spawn(ctx); err != nil {
			return err
		}
	}
	if c.stdout == nil || c.stdin == nil {
		return fmt.Errorf("stdio transport has no streams")
	}

	// Start reading responses in a goroutine and wait for it to be ready
	ready := make(chan struct{})
	go func() {
		close(ready)
		c.readResponses()
	}()
	<-ready

	return nil
}

func (c *Stdio) spawn(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Env = append(os.Environ(), c.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stderr = stderr
	c.stdout = bufio.NewReader(stdout)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}
	return nil
}

// Close shuts down the transport by closing the server's input. For a
// subprocess it then waits for the process to exit.
func (c *Stdio) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.stdin != nil {
			if cerr := c.stdin.Close(); cerr != nil {
				err = fmt.Errorf("failed to close stdin: %w", cerr)
				return
			}
		}
		if c.cmd != nil {
			// drain stderr so the process cannot block writing to it
			_, _ = io.Copy(io.Discard, c.stderr)
			err = c.cmd.Wait()
			return
		}
		if c.stderr != nil {
			if cerr := c.stderr.Close(); cerr != nil {
				err = fmt.Errorf("failed to close stderr: %w", cerr)
			}
		}
	})
	return err
}

func (c *Stdio) SetNotificationHandler(
	handler func(notification mcp.JSONRPCNotification),
) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.onNotification = handler
}

// readResponses routes every line from the server to the waiting request
// or, when it has no id, to the notification handler. It returns when the
// stream ends or the transport is closed.
func (c *Stdio) readResponses() {
	defer close(c.readerDone)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		line, err := c.stdout.ReadString('\n')
		if err != nil {
			return
		}

		var baseMessage JSONRPCResponse
		if err := json.Unmarshal([]byte(line), &baseMessage); err != nil {
			continue
		}

		// Handle notification
		if baseMessage.ID == nil {
			var notification mcp.JSONRPCNotification
			if err := json.Unmarshal([]byte(line), &notification); err != nil || notification.Method == "" {
				continue
			}
			c.notifyMu.RLock()
			if c.onNotification != nil {
				c.onNotification(notification)
			}
			c.notifyMu.RUnlock()
			continue
		}

		c.mu.Lock()
		ch, ok := c.responses[*baseMessage.ID]
		delete(c.responses, *baseMessage.ID)
		c.mu.Unlock()

		if ok {
			ch <- &baseMessage
		}
	}
}

// SendRequest sends a JSON-RPC request to the server and waits for the
// response carrying the same id, the end of the stream or ctx.
func (c *Stdio) SendRequest(
	ctx context.Context,
	request JSONRPCRequest,
) (*JSONRPCResponse, error) {
	if c.stdin == nil {
		return nil, fmt.Errorf("stdio client not started")
	}

	responseChan := make(chan *JSONRPCResponse, 1)
	c.mu.Lock()
	c.responses[request.ID] = responseChan
	c.mu.Unlock()

	requestBytes, err := json.Marshal(request)
	if err != nil {
		c.forget(request.ID)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := c.writeLine(requestBytes); err != nil {
		c.forget(request.ID)
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.forget(request.ID)
		return nil, ctx.Err()
	case response := <-responseChan:
		return response, nil
	case <-c.readerDone:
		// the reader may have delivered the response just before exiting
		select {
		case response := <-responseChan:
			return response, nil
		default:
		}
		c.forget(request.ID)
		return nil, ErrClosed
	}
}

// SendNotification sends a json RPC Notification to the server.
func (c *Stdio) SendNotification(
	ctx context.Context,
	notification mcp.JSONRPCNotification,
) error {
	notificationBytes, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := c.writeLine(notificationBytes); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return nil
}

func (c *Stdio) writeLine(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.stdin.Write(append(b, '\n'))
	return err
}

func (c *Stdio) forget(id int64) {
	c.mu.Lock()
	delete(c.responses, id)
	c.mu.Unlock()
}
