package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Bigsy/toolwire/internal/process"
)

// ProcessTransport is a StdioTransport bound to the child process it talks
// to. Closing it tears the process down.
type ProcessTransport struct {
	*StdioTransport
	proc *process.Process

	closeOnce sync.Once
	closeErr  error
}

// OpenProcess spawns cmd and connects a transport to its stdin/stdout.
// Stderr is never treated as protocol data.
func OpenProcess(cmd process.Command, opts process.Options) (*ProcessTransport, error) {
	proc, err := process.Start(cmd, opts)
	if err != nil {
		return nil, &SpawnError{Command: cmd.Path, Args: cmd.Args, Err: err}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ProcessTransport{
		StdioTransport: NewStdioTransport(proc.Stdin(), proc.Stdout()).WithLogger(logger),
		proc:           proc,
	}, nil
}

// Process returns the owned process handle.
func (t *ProcessTransport) Process() *process.Process {
	return t.proc
}

// Send fails fast once the provider has exited.
func (t *ProcessTransport) Send(ctx context.Context, msg []byte) error {
	if t.proc.Exited() {
		return &TransportError{Op: "send", Err: ErrProcessExited}
	}
	return t.StdioTransport.Send(ctx, msg)
}

// Close closes both streams, then stops the process (SIGTERM, then SIGKILL
// after the grace period) and waits for it to be reaped.
func (t *ProcessTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = errors.Join(t.StdioTransport.Close(), t.proc.Stop())
	})
	return t.closeErr
}
