package mcp

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrSessionUnavailable matches every error meaning the session can no
	// longer carry calls: closed, failed, or its transport broke.
	ErrSessionUnavailable = errors.New("session unavailable")

	// ErrSessionClosed matches errors for calls made after Close.
	ErrSessionClosed = errors.New("session closed")

	// ErrTransportClosed is returned by transports after Close.
	ErrTransportClosed = errors.New("transport closed")

	// ErrProcessExited is returned when writing to a provider that has exited.
	ErrProcessExited = errors.New("process exited")

	errMissingResult = errors.New("response carries no result")
)

// SpawnError means the provider process could not be started.
type SpawnError struct {
	Command string
	Args    []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", strings.TrimSpace(e.Command+" "+strings.Join(e.Args, " ")), e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TransportError means the byte stream to the provider is closed or broken.
// EOF is set when the provider closed its output cleanly between frames.
type TransportError struct {
	Op  string
	EOF bool
	Err error
}

func (e *TransportError) Error() string {
	if e.EOF {
		return fmt.Sprintf("transport %s: EOF", e.Op)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrSessionUnavailable
}

// ProtocolError means a message was malformed or unexpected.
type ProtocolError struct {
	Method string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %s: %v", e.Method, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError means a correlated response did not arrive in time. The
// correlation slot has been released.
type TimeoutError struct {
	Method string
	ID     int64
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("%s (id %d) timed out after %v", e.Method, e.ID, e.After)
	}
	return fmt.Sprintf("%s (id %d) timed out", e.Method, e.ID)
}

// Timeout reports true so callers can use the net.Error style check.
func (e *TimeoutError) Timeout() bool { return true }

// RPCError is a JSON-RPC 2.0 error returned by the provider.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ToolError is a tool-level failure reported with isError in a tools/call result.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s reported an error", e.Tool)
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

// SessionStateError is returned for calls on a session that is not Ready.
type SessionStateError struct {
	State State
	Err   error
}

func (e *SessionStateError) Error() string {
	switch e.State {
	case StateClosed:
		return "session closed"
	case StateFailed:
		if e.Err != nil {
			return "session failed: " + e.Err.Error()
		}
		return "session failed"
	default:
		return fmt.Sprintf("session not ready (%s)", e.State)
	}
}

func (e *SessionStateError) Unwrap() error { return e.Err }

func (e *SessionStateError) Is(target error) bool {
	switch target {
	case ErrSessionUnavailable:
		return true
	case ErrSessionClosed:
		return e.State == StateClosed
	}
	return false
}

// isProtocolVersionError checks if an error indicates a protocol version rejection.
func isProtocolVersionError(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "protocol") && strings.Contains(msg, "version") ||
		strings.Contains(msg, "protocolversion") ||
		strings.Contains(msg, "unsupported version")
}
