// Package lifecycle brackets a provider session: it acquires the process,
// the session and the tool registry in order, and releases whatever was
// acquired in reverse order exactly once.
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrReleased is returned by Push after the manager has been released. The
// pushed release has already run.
var ErrReleased = errors.New("lifecycle already released")

type release struct {
	name string
	fn   func() error
}

// Manager is an unwind stack of release actions.
type Manager struct {
	logger *slog.Logger

	mu       sync.Mutex
	stack    []release
	released bool
	err      error
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Push records a release action for a resource that was just acquired.
// Pushing onto a released manager runs fn immediately so nothing leaks.
func (m *Manager) Push(name string, fn func() error) error {
	m.mu.Lock()
	if !m.released {
		m.stack = append(m.stack, release{name: name, fn: fn})
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := fn(); err != nil {
		return errors.Join(ErrReleased, fmt.Errorf("release %s: %w", name, err))
	}
	return ErrReleased
}

// Len returns the number of pending release actions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

// Released reports whether Release has run.
func (m *Manager) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Release runs every action in reverse acquisition order. Every action runs
// even if an earlier one fails; the errors are joined. Later calls return
// the first result without running anything.
func (m *Manager) Release() error {
	m.mu.Lock()
	if m.released {
		err := m.err
		m.mu.Unlock()
		return err
	}
	m.released = true
	stack := m.stack
	m.stack = nil
	m.mu.Unlock()

	var errs []error
	for i := len(stack) - 1; i >= 0; i-- {
		r := stack[i]
		m.logger.Debug("releasing", "resource", r.name)
		if err := runRelease(r); err != nil {
			m.logger.Warn("release failed", "resource", r.name, "err", err)
			errs = append(errs, fmt.Errorf("release %s: %w", r.name, err))
		}
	}

	err := errors.Join(errs...)
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	return err
}

// runRelease turns a panicking release into an error so the remaining
// actions still run.
func runRelease(r release) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.fn()
}
