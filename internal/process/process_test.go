package process

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func skipIfNoShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestStart_EmptyCommand(t *testing.T) {
	if _, err := Start(Command{}, Options{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestStart_MissingExecutable(t *testing.T) {
	_, err := Start(Command{Path: "/definitely/not/a/real/binary"}, Options{})
	if err == nil {
		t.Fatal("expected error for missing executable")
	}
}

func TestProcess_EchoAndStop(t *testing.T) {
	skipIfNoShell(t)

	p, err := Start(Command{Path: "cat"}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := p.Stdin().Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 6)
	if _, err := io.ReadFull(p.Stdout(), buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello\n" {
		t.Errorf("expected echo, got %q", buf)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !p.Exited() {
		t.Error("expected process to have exited after Stop")
	}
	// Second stop is a no-op
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestProcess_ForceKillAfterGrace(t *testing.T) {
	skipIfNoShell(t)

	p, err := Start(Command{
		Path:          "/bin/sh",
		Args:          []string{"-c", "trap '' TERM; while :; do sleep 0.05; done"},
		ShutdownGrace: 200 * time.Millisecond,
	}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Give the shell a moment to install the trap.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("expected Stop to wait for the grace period, took %v", elapsed)
	}

	status, ok := p.ExitStatus()
	if !ok {
		t.Fatal("expected exit status after Stop")
	}
	if status.Signal != "killed" {
		t.Errorf("expected SIGKILL, got signal %q code %d", status.Signal, status.Code)
	}
}

func TestProcess_StopReachesGrandchildren(t *testing.T) {
	skipIfNoShell(t)

	pidFile := filepath.Join(t.TempDir(), "child.pid")
	p, err := Start(Command{
		Path:          "/bin/sh",
		Args:          []string{"-c", "sleep 30 & echo $! > " + pidFile + "; wait"},
		ShutdownGrace: time.Second,
	}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var child int
	deadline := time.Now().Add(2 * time.Second)
	for child == 0 && time.Now().Before(deadline) {
		if data, err := os.ReadFile(pidFile); err == nil {
			child, _ = strconv.Atoi(strings.TrimSpace(string(data)))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if child == 0 {
		t.Fatal("grandchild pid never written")
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for alive(child) {
		if time.Now().After(deadline) {
			_ = syscall.Kill(child, syscall.SIGKILL)
			t.Fatalf("grandchild %d survived Stop", child)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// alive reports whether pid is running. A zombie waiting for its new parent
// to reap it counts as gone.
func alive(pid int) bool {
	if err := syscall.Kill(pid, 0); err != nil {
		return false
	}
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return !os.IsNotExist(err)
	}
	// Fields after the parenthesised command name start with the state.
	if i := strings.LastIndexByte(string(stat), ')'); i >= 0 && i+2 < len(stat) {
		return stat[i+2] != 'Z'
	}
	return true
}

func TestProcess_CapturesStderr(t *testing.T) {
	skipIfNoShell(t)

	lines := make(chan string, 4)
	p, err := Start(Command{
		Path: "/bin/sh",
		Args: []string{"-c", "echo diagnostic >&2; cat"},
	}, Options{OnStderr: func(line string) { lines <- line }})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	select {
	case line := <-lines:
		if line != "diagnostic" {
			t.Errorf("expected 'diagnostic', got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stderr line not delivered")
	}

	if logs := p.Logs(); len(logs) != 1 || !strings.Contains(logs[0], "diagnostic") {
		t.Errorf("unexpected logs: %v", logs)
	}
}

func TestBuildEnv_OverridesAndAppends(t *testing.T) {
	t.Setenv("TOOLWIRE_TEST_VAR", "parent")

	env := buildEnv(map[string]string{
		"TOOLWIRE_TEST_VAR": "child",
		"TOOLWIRE_NEW_VAR":  "added",
	})

	var sawOverride, sawNew bool
	for _, e := range env {
		switch e {
		case "TOOLWIRE_TEST_VAR=child":
			sawOverride = true
		case "TOOLWIRE_TEST_VAR=parent":
			t.Error("parent value should have been overridden")
		case "TOOLWIRE_NEW_VAR=added":
			sawNew = true
		}
	}
	if !sawOverride || !sawNew {
		t.Errorf("override=%v new=%v", sawOverride, sawNew)
	}
}

func TestPIDTracking_DuringLifetime(t *testing.T) {
	skipIfNoShell(t)

	pt := NewPIDTrackerAt(t.TempDir() + "/pids.json")
	p, err := Start(Command{Path: "cat"}, Options{Tracker: pt, TrackID: "s1"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if pt.Len() != 1 {
		t.Errorf("expected 1 tracked pid while running, got %d", pt.Len())
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if pt.Len() != 0 {
		t.Errorf("expected tracking removed after stop, got %d", pt.Len())
	}
}
