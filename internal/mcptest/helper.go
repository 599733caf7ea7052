// Package mcptest provides test infrastructure for tool-provider client testing.
package mcptest

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/Bigsy/toolwire/internal/jsonx"
	"github.com/Bigsy/toolwire/internal/mcptest/fakeserver"
	"github.com/Bigsy/toolwire/internal/process"
)

// FakeServerConfig is an alias for fakeserver.Config for convenience.
type FakeServerConfig = fakeserver.Config

// Tool is an alias for fakeserver.Tool for convenience.
type Tool = fakeserver.Tool

// JSONRPCError is an alias for fakeserver.JSONRPCError for convenience.
type JSONRPCError = fakeserver.JSONRPCError

const (
	helperEnv = "GO_WANT_HELPER_PROCESS"
	configEnv = "FAKE_MCP_CFG"
)

// FakeServerCommand returns a command that re-execs the test binary as a
// fake server. The calling package must define a TestHelperProcess that
// calls RunHelperProcess.
func FakeServerCommand(t *testing.T, cfg FakeServerConfig) process.Command {
	t.Helper()

	cfgJSON, err := jsonx.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal fake server config: %v", err)
	}

	return process.Command{
		Path: os.Args[0],
		Args: []string{"-test.run=TestHelperProcess", "--"},
		Env: map[string]string{
			helperEnv: "1",
			configEnv: string(cfgJSON),
		},
	}
}

// StartFakeServer spawns a fake server as a subprocess using the test helper pattern.
// Returns stdin (write to server), stdout (read from server), and a stop function.
// The stop function is also registered as a t.Cleanup.
func StartFakeServer(t *testing.T, cfg FakeServerConfig) (stdin io.WriteCloser, stdout io.ReadCloser, stop func()) {
	t.Helper()

	fc := FakeServerCommand(t, cfg)
	cmd := exec.Command(fc.Path, fc.Args...)
	cmd.Env = os.Environ()
	for k, v := range fc.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var err error
	stdin, err = cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}

	stdout, err = cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.Fatalf("stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("start fake server: %v", err)
	}

	// Drain stderr to prevent deadlock
	go func() { _, _ = io.Copy(io.Discard, stderr) }()

	stop = func() {
		// Close stdin to signal graceful shutdown
		_ = stdin.Close()

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case <-time.After(2 * time.Second):
			// Force kill if it doesn't exit gracefully
			_ = cmd.Process.Kill()
			<-done
		case <-done:
			// Process exited
		}
	}

	t.Cleanup(stop)
	return stdin, stdout, stop
}

// RunHelperProcess implements the fake server when invoked as a subprocess.
// Other packages call this from their own TestHelperProcess:
//
//	func TestHelperProcess(t *testing.T) {
//	    mcptest.RunHelperProcess(t)
//	}
//
// The test re-exec pattern uses os.Args[0] with -test.run=TestHelperProcess to
// spawn the fake server process. This allows integration tests to run real subprocess
// communication without external dependencies.
func RunHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	cfgJSON := os.Getenv(configEnv)
	if cfgJSON == "" {
		os.Exit(2)
	}

	var cfg fakeserver.Config
	if err := jsonx.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		os.Exit(2)
	}

	if cfg.HangOnEOF {
		signal.Ignore(syscall.SIGTERM)
	}
	if cfg.AnnouncePID {
		fmt.Fprintf(os.Stderr, "pid=%d\n", os.Getpid())
	}
	for _, line := range cfg.StderrLines {
		fmt.Fprintln(os.Stderr, line)
	}

	err := fakeserver.Serve(context.Background(), os.Stdin, os.Stdout, cfg)
	if cfg.HangOnEOF {
		for {
			time.Sleep(time.Hour)
		}
	}
	if err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
