// File: internal/mcp/errors.go
package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned when the tool server process has exited or the transport is closed.
	ErrNotRunning = errors.New("tool server is not running")
	// ErrNotInitialized is returned for tool calls issued before a successful handshake.
	ErrNotInitialized = errors.New("client not initialized")
	// ErrTimeout is returned when no matching response arrives in time.
	ErrTimeout = errors.New("timed out waiting for tool server response")
	// ErrEmptyResponse is returned when the server closes its output mid-request.
	ErrEmptyResponse = errors.New("empty response from tool server")
)

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ValidationErrorKind distinguishes argument validation failures.
type ValidationErrorKind string

const (
	UnknownTool     ValidationErrorKind = "unknown_tool"
	MissingRequired ValidationErrorKind = "missing_required"
	TypeMismatch    ValidationErrorKind = "type_mismatch"
)

// ValidationError reports arguments that do not satisfy a tool's input schema.
type ValidationError struct {
	Kind     ValidationErrorKind
	Tool     string
	Field    string
	Expected string
	Actual   string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case UnknownTool:
		return fmt.Sprintf("unknown tool %q", e.Tool)
	case MissingRequired:
		return fmt.Sprintf("tool %q: missing required field %q", e.Tool, e.Field)
	default:
		return fmt.Sprintf("tool %q: field %q expected %s, got %s", e.Tool, e.Field, e.Expected, e.Actual)
	}
}

// StartupError reports a tool server that died during its startup grace period.
type StartupError struct {
	ExitErr error
	Stderr  string
}

func (e *StartupError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("tool server exited during startup: %v", e.ExitErr)
	}
	return fmt.Sprintf("tool server exited during startup: %v: %s", e.ExitErr, e.Stderr)
}

func (e *StartupError) Unwrap() error { return e.ExitErr }
