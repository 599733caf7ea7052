// Package dispatch is the single entry point for invoking a provider tool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Bigsy/toolwire/internal/mcp"
	"github.com/Bigsy/toolwire/internal/registry"
)

// UnknownToolError is returned for names absent from the registry.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ArgumentValidationError is returned when arguments do not fit the tool's
// input schema.
type ArgumentValidationError struct {
	Tool string
	Err  error
}

func (e *ArgumentValidationError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ArgumentValidationError) Unwrap() error { return e.Err }

// Caller is the session surface the dispatcher needs.
type Caller interface {
	CallTool(ctx context.Context, name string, arguments map[string]any) mcp.ToolCallResult
	Available() error
}

// Catalog is the registry surface the dispatcher needs. Resolve must read
// the descriptor and schema from one snapshot.
type Catalog interface {
	Resolve(name string) (mcp.Tool, *registry.Schema, bool)
}

// Dispatcher validates calls locally and forwards the valid ones.
type Dispatcher struct {
	catalog Catalog
	caller  Caller
	logger  *slog.Logger
}

// New creates a Dispatcher.
func New(catalog Catalog, caller Caller, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{catalog: catalog, caller: caller, logger: logger}
}

// Invoke calls the named tool.
//
// The returned error is non-nil only when nothing was sent: the tool is
// unknown (*UnknownToolError), the arguments are invalid
// (*ArgumentValidationError), or the session is already unavailable
// (matches mcp.ErrSessionUnavailable). Once a request is written every
// outcome, including timeouts and transport failures, is reported through
// the returned result.
func (d *Dispatcher) Invoke(ctx context.Context, name string, arguments map[string]any) (mcp.ToolCallResult, error) {
	_, schema, ok := d.catalog.Resolve(name)
	if !ok {
		err := &UnknownToolError{Name: name}
		d.logger.Debug("rejected call", "tool", name, "err", err)
		return mcp.Failure(err), err
	}

	if verr := schema.Validate(arguments); verr != nil {
		err := &ArgumentValidationError{Tool: name, Err: verr}
		d.logger.Debug("rejected call", "tool", name, "err", err)
		return mcp.Failure(err), err
	}

	if err := d.caller.Available(); err != nil {
		return mcp.Failure(err), err
	}

	start := time.Now()
	res := d.caller.CallTool(ctx, name, arguments)
	d.logger.Debug("tool call finished", "tool", name, "ok", res.OK, "elapsed", time.Since(start))
	if !res.OK && res.SessionLost() {
		d.logger.Warn("tool call failed, session lost", "tool", name, "err", res.Err)
	}
	return res, nil
}

// IsLocal reports whether err was raised before any I/O.
func IsLocal(err error) bool {
	var u *UnknownToolError
	var a *ArgumentValidationError
	return errors.As(err, &u) || errors.As(err, &a)
}
