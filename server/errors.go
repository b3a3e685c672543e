package server

import (
	"errors"
)

var (
	// Registry errors
	ErrDuplicateTool  = errors.New("tool already registered")
	ErrRegistryFrozen = errors.New("registry is frozen")
	ErrNilHandler     = errors.New("tool handler is nil")
	ErrEmptyToolName  = errors.New("tool name is empty")

	// Dispatch errors
	ErrHandlerPanic = errors.New("handler panicked")
	ErrCallTimeout  = errors.New("tool call exceeded its time limit")

	// Transport errors
	ErrServerClosed = errors.New("stdio server already closed")
)
