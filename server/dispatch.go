package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zillow/xraydb-mcp/mcp"
)

// DefaultCallTimeout bounds a single handler invocation.
const DefaultCallTimeout = 30 * time.Second

// Dispatcher turns a tool call into exactly one CallToolResult. Nothing a
// handler does, including panicking or never returning, escapes Dispatch.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *log.Logger
}

type DispatcherOption func(*Dispatcher)

// WithDispatchTimeout sets the per-call ceiling. Zero or negative disables
// it.
func WithDispatchTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.timeout = d
	}
}

func WithDispatchLogger(logger *log.Logger) DispatcherOption {
	return func(dp *Dispatcher) {
		if logger != nil {
			dp.logger = logger
		}
	}
}

func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		timeout:  DefaultCallTimeout,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs the named tool.
//
// Absent or empty arguments fail without consulting the registry, so even
// tools without parameters must be sent an argument. An unknown tool name
// is not a failure: the result is a text block saying the tool is unknown.
// Validation errors, handler errors, handler panics and calls exceeding the
// ceiling are reported as failed results.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, arguments map[string]interface{}) *mcp.CallToolResult {
	logger := d.logger.With("tool", name)

	if len(arguments) == 0 {
		logger.Debug("rejected call without arguments")
		return mcp.NewToolResultError("Missing arguments")
	}

	tool, ok := d.registry.Lookup(name)
	if !ok {
		logger.Debug("unknown tool")
		return mcp.NewToolResultText(fmt.Sprintf("Unknown tool: %s", name))
	}

	args, err := mcp.Validate(tool.Tool.InputSchema, arguments)
	if err != nil {
		logger.Debug("invalid arguments", "err", err)
		return mcp.NewToolResultErrorf("Invalid arguments for %s: %v", name, err)
	}

	start := time.Now()
	result, err := d.invoke(ctx, tool, args)
	if err != nil {
		logger.Warn("tool call failed", "err", err, "duration", time.Since(start))
		return mcp.NewToolResultErrorf("Error processing %s: %v", name, err)
	}
	logger.Debug("tool call finished", "duration", time.Since(start), "isError", result.IsError)
	return result
}

type callOutcome struct {
	result *mcp.CallToolResult
	err    error
}

func (d *Dispatcher) invoke(ctx context.Context, tool ServerTool, args mcp.Arguments) (*mcp.CallToolResult, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	// buffered so an abandoned handler can still finish and exit
	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: fmt.Errorf("%w: %v", ErrHandlerPanic, r)}
			}
		}()
		result, err := tool.Handler(ctx, args)
		done <- callOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if out.result == nil {
			return &mcp.CallToolResult{Content: []mcp.Content{}}, nil
		}
		if out.result.Content == nil {
			out.result.Content = []mcp.Content{}
		}
		return out.result, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && d.timeout > 0 {
			return nil, fmt.Errorf("%w (%s)", ErrCallTimeout, d.timeout)
		}
		return nil, ctx.Err()
	}
}
