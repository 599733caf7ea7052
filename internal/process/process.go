// Package process starts and stops tool-provider child processes.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// GracefulShutdownTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulShutdownTimeout = 5 * time.Second

	// maxLogLines bounds the captured stderr ring.
	maxLogLines = 1000
)

// Command describes how to launch a child process.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  map[string]string

	// ShutdownGrace overrides GracefulShutdownTimeout when non-zero.
	ShutdownGrace time.Duration
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Options are the optional collaborators of a started process.
type Options struct {
	Logger *slog.Logger

	// OnStderr receives every diagnostic line the child writes.
	OnStderr func(line string)

	// Tracker records the PID so a crashed parent's children can be reaped later.
	Tracker *PIDTracker
	TrackID string
}

// ExitStatus describes how a child process ended.
type ExitStatus struct {
	Code      int
	Signal    string
	Err       error
	Timestamp time.Time
}

// Process is a running child with its stdin/stdout pipes. It is owned by
// exactly one transport.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	grace  time.Duration
	logger *slog.Logger

	onStderr func(string)
	tracker  *PIDTracker
	trackID  string

	logs   []string
	logsMu sync.RWMutex

	startedAt time.Time
	done      chan struct{} // closed when process exits
	exit      ExitStatus

	stopOnce sync.Once
	stopErr  error
}

// Start launches the command. It never waits on the child; a watcher
// goroutine reaps it and closes Done.
func Start(c Command, opts Options) (*Process, error) {
	if c.Path == "" {
		return nil, errors.New("empty command")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(c.Path, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	cmd.Env = buildEnv(c.Env)
	// Own process group, so Stop reaches helpers the child spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// Plain pipes rather than StdoutPipe/StderrPipe: Wait must not close
	// the read ends while output the child wrote before exiting is unread.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(stdout, stdoutW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)
	if err != nil {
		_ = stdin.Close()
		closeAll(stdout, stderr)
		return nil, fmt.Errorf("start process: %w", err)
	}

	grace := c.ShutdownGrace
	if grace <= 0 {
		grace = GracefulShutdownTimeout
	}

	p := &Process{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		grace:     grace,
		logger:    logger.With("pid", cmd.Process.Pid),
		onStderr:  opts.OnStderr,
		tracker:   opts.Tracker,
		trackID:   opts.TrackID,
		logs:      make([]string, 0, 64),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	if p.tracker != nil {
		if err := p.tracker.Add(p.trackID, cmd.Process.Pid, c.Path, c.Args); err != nil {
			p.logger.Warn("failed to track pid", "err", err)
		}
	}

	p.logger.Debug("process started", "cmd", c.String())

	go p.readStderr(stderr)
	go p.watch()

	return p, nil
}

// Stdin returns the writer connected to the child's standard input.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the reader connected to the child's standard output.
func (p *Process) Stdout() io.ReadCloser { return p.stdout }

// PID returns the process ID.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// StartedAt returns when the process started.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitStatus returns the exit status once the process has exited.
func (p *Process) ExitStatus() (ExitStatus, bool) {
	select {
	case <-p.done:
		return p.exit, true
	default:
		return ExitStatus{}, false
	}
}

// Logs returns the captured stderr lines, oldest first.
func (p *Process) Logs() []string {
	p.logsMu.RLock()
	defer p.logsMu.RUnlock()
	logs := make([]string, len(p.logs))
	copy(logs, p.logs)
	return logs
}

// Stop closes stdin, sends SIGTERM, and escalates to SIGKILL if the child is
// still alive after the grace period. It blocks until the child is reaped.
// Calling Stop more than once returns the first result.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop()
		if p.tracker != nil {
			if err := p.tracker.Remove(p.trackID); err != nil {
				p.logger.Warn("failed to remove pid tracking", "err", err)
			}
		}
	})
	return p.stopErr
}

func (p *Process) stop() error {
	// EOF on stdin is the polite shutdown request for stdio servers.
	_ = p.stdin.Close()

	if p.Exited() {
		// The leader is gone but its group may not be.
		_ = syscall.Kill(-p.PID(), syscall.SIGKILL)
		return nil
	}

	if err := p.signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("sigterm failed, killing", "err", err)
		return p.kill()
	}

	select {
	case <-p.done:
		_ = syscall.Kill(-p.PID(), syscall.SIGKILL)
		return nil
	case <-time.After(p.grace):
		p.logger.Warn("process ignored sigterm, killing", "grace", p.grace)
		return p.kill()
	}
}

// signal delivers sig to the child's process group, falling back to the
// child alone when the group is already gone.
func (p *Process) signal(sig syscall.Signal) error {
	if err := syscall.Kill(-p.PID(), sig); err == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

func (p *Process) kill() error {
	if err := p.signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %d: %w", p.PID(), err)
	}
	<-p.done
	return nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// readStderr keeps the last maxLogLines diagnostic lines.
func (p *Process) readStderr(stderr io.ReadCloser) {
	defer stderr.Close()
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		p.logsMu.Lock()
		p.logs = append(p.logs, line)
		if len(p.logs) > maxLogLines {
			p.logs = p.logs[len(p.logs)-maxLogLines:]
		}
		p.logsMu.Unlock()

		p.logger.Debug("stderr", "line", line)
		if p.onStderr != nil {
			p.onStderr(line)
		}
	}
}

// watch reaps the process and records its exit status.
func (p *Process) watch() {
	err := p.cmd.Wait()

	status := ExitStatus{Err: err, Timestamp: time.Now()}
	if p.cmd.ProcessState != nil {
		status.Code = p.cmd.ProcessState.ExitCode()
		if ws, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = ws.Signal().String()
		}
	}
	p.exit = status
	close(p.done)

	p.logger.Debug("process exited", "code", status.Code, "signal", status.Signal)
}

// buildEnv creates the environment for a subprocess with PATH augmentation.
func buildEnv(customEnv map[string]string) []string {
	env := os.Environ()

	pathDirs := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		"/usr/bin",
		"/bin",
	}

	for i, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			currentPath := strings.TrimPrefix(e, "PATH=")
			env[i] = "PATH=" + strings.Join(pathDirs, string(os.PathListSeparator)) + string(os.PathListSeparator) + currentPath
			break
		}
	}

	for k, v := range customEnv {
		found := false
		prefix := k + "="
		for i, e := range env {
			if strings.HasPrefix(e, prefix) {
				env[i] = prefix + v
				found = true
				break
			}
		}
		if !found {
			env = append(env, prefix+v)
		}
	}

	return env
}
