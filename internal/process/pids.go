package process

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/Bigsy/toolwire/internal/jsonx"
)

const pidsFile = "pids.json"

type pidEntry struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Args      []string  `json:"args,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// PIDTracker persists the PIDs of spawned children so a later run can
// terminate processes orphaned by a crash.
type PIDTracker struct {
	path string
	mu   sync.Mutex
	pids map[string]pidEntry // session ID -> entry
}

// DefaultPIDPath returns ~/.config/toolwire/pids.json.
func DefaultPIDPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".config", "toolwire", pidsFile), nil
}

// NewPIDTracker creates a tracker backed by the default path.
func NewPIDTracker() (*PIDTracker, error) {
	path, err := DefaultPIDPath()
	if err != nil {
		return nil, err
	}
	return NewPIDTrackerAt(path), nil
}

// NewPIDTrackerAt creates a tracker backed by path, loading existing entries.
func NewPIDTrackerAt(path string) *PIDTracker {
	pt := &PIDTracker{
		path: path,
		pids: make(map[string]pidEntry),
	}
	pt.load()
	return pt
}

func (pt *PIDTracker) load() {
	data, err := os.ReadFile(pt.path)
	if err != nil {
		return
	}
	if err := jsonx.Unmarshal(data, &pt.pids); err != nil {
		slog.Warn("failed to parse pid file", "path", pt.path, "err", err)
		pt.pids = make(map[string]pidEntry)
	}
}

// save writes the tracking file atomically. Callers hold pt.mu.
func (pt *PIDTracker) save() error {
	if err := os.MkdirAll(filepath.Dir(pt.path), 0700); err != nil {
		return err
	}
	data, err := jsonx.MarshalIndent(pt.pids, "", "  ")
	if err != nil {
		return err
	}
	tmp := pt.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, pt.path)
}

// Add tracks a PID under id.
func (pt *PIDTracker) Add(id string, pid int, command string, args []string) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.pids[id] = pidEntry{PID: pid, Command: command, Args: args, StartedAt: time.Now()}
	return pt.save()
}

// Remove stops tracking id.
func (pt *PIDTracker) Remove(id string) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if _, ok := pt.pids[id]; !ok {
		return nil
	}
	delete(pt.pids, id)
	return pt.save()
}

// Len returns the number of tracked entries.
func (pt *PIDTracker) Len() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return len(pt.pids)
}

// CleanupOrphans sends SIGTERM to every tracked process that is still alive
// and still looks like the command we started, then forgets all entries.
// Returns the number of processes signalled.
func (pt *PIDTracker) CleanupOrphans() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	killed := 0
	for id, entry := range pt.pids {
		if isProcessRunning(entry.PID) && commandMatches(entry.PID, entry.Command) {
			slog.Info("terminating orphan process", "session", id, "pid", entry.PID, "cmd", entry.Command)
			if err := killProcess(entry.PID); err != nil {
				slog.Warn("failed to kill orphan", "pid", entry.PID, "err", err)
			} else {
				killed++
			}
		}
		delete(pt.pids, id)
	}

	if err := pt.save(); err != nil {
		slog.Warn("failed to save pid file after cleanup", "err", err)
	}
	return killed
}

// isProcessRunning checks if a process with the given PID exists.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 doesn't send a signal but checks if the process exists
	return process.Signal(syscall.Signal(0)) == nil
}

// commandMatches guards against PID reuse. Only Linux exposes the command
// line cheaply; elsewhere the check is skipped.
func commandMatches(pid int, command string) bool {
	if runtime.GOOS != "linux" {
		return true
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return false
	}
	argv0, _, _ := bytes.Cut(data, []byte{0})
	return filepath.Base(string(argv0)) == filepath.Base(command)
}

// killProcess sends SIGTERM without waiting; the orphan is not our child.
// Tracked children lead their own process group, so the group goes too.
func killProcess(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err == nil {
		return nil
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(syscall.SIGTERM)
}
