package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// StdioTransport implements Transport over a pair of pipes using NDJSON
// framing: one JSON message per line.
type StdioTransport struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reader *bufio.Reader
	logger *slog.Logger

	writeMu sync.Mutex // one frame fully written before the next begins
	closed  atomic.Bool
}

// NewStdioTransport creates a new stdio transport.
func NewStdioTransport(stdin io.WriteCloser, stdout io.ReadCloser) *StdioTransport {
	return &StdioTransport{
		stdin:  stdin,
		stdout: stdout,
		reader: bufio.NewReader(stdout),
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used for frame tracing.
func (t *StdioTransport) WithLogger(logger *slog.Logger) *StdioTransport {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// Send writes msg followed by a newline. msg must not contain a raw newline;
// encoded JSON never does.
func (t *StdioTransport) Send(ctx context.Context, msg []byte) error {
	if t.closed.Load() {
		return &TransportError{Op: "send", Err: ErrTransportClosed}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if bytes.IndexByte(msg, '\n') >= 0 {
		return fmt.Errorf("frame contains newline")
	}

	frame := make([]byte, 0, len(msg)+1)
	frame = append(frame, msg...)
	frame = append(frame, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.logger.Debug("mcp send", "frame", string(msg))

	if _, err := t.stdin.Write(frame); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// readResult holds the result of an async read operation.
type readResult struct {
	line []byte
	err  error
}

// Receive reads the next non-blank line. Cancelling ctx closes the read
// side so the blocked read goroutine exits.
func (t *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		if t.closed.Load() {
			return nil, &TransportError{Op: "receive", Err: ErrTransportClosed}
		}

		resultCh := make(chan readResult, 1)
		go func() {
			line, err := t.reader.ReadBytes('\n')
			resultCh <- readResult{line: line, err: err}
		}()

		select {
		case result := <-resultCh:
			msg := bytes.TrimSpace(result.line)
			if result.err != nil {
				if errors.Is(result.err, io.EOF) && len(msg) == 0 {
					return nil, &TransportError{Op: "receive", EOF: true, Err: io.EOF}
				}
				if errors.Is(result.err, io.EOF) {
					return nil, &TransportError{Op: "receive", Err: io.ErrUnexpectedEOF}
				}
				if t.closed.Load() {
					return nil, &TransportError{Op: "receive", Err: ErrTransportClosed}
				}
				return nil, &TransportError{Op: "receive", Err: result.err}
			}
			if len(msg) == 0 {
				continue
			}
			t.logger.Debug("mcp recv", "frame", string(msg))
			return msg, nil

		case <-ctx.Done():
			_ = t.stdout.Close()
			return nil, ctx.Err()
		}
	}
}

// Close closes both pipes. Calling it again is a no-op.
func (t *StdioTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := t.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, fmt.Errorf("close stdin: %w", err))
	}
	// The reaper may already have closed stdout after the child exited.
	if err := t.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, fmt.Errorf("close stdout: %w", err))
	}
	return errors.Join(errs...)
}
