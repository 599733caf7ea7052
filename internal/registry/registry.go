// Package registry caches the tools a provider advertises so calls can be
// checked locally before any I/O.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Bigsy/toolwire/internal/events"
	"github.com/Bigsy/toolwire/internal/mcp"
)

// Lister fetches a discovery snapshot. *mcp.Session implements it.
type Lister interface {
	ListTools(ctx context.Context) (*mcp.ToolList, error)
}

// Snapshot is one immutable discovery result.
type Snapshot struct {
	Tools      []mcp.Tool
	Duplicates []string
	FetchedAt  time.Time

	index   map[string]int
	schemas map[string]*Schema
}

// Len returns the number of tools.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Tools)
}

// Options configure a Registry.
type Options struct {
	SessionID string
	Bus       *events.Bus
	Logger    *slog.Logger
}

// Registry holds the latest snapshot. Readers never block and never see a
// partially built snapshot; Refresh swaps in a complete one.
type Registry struct {
	lister Lister
	opts   Options
	logger *slog.Logger

	refreshMu sync.Mutex
	current   atomic.Pointer[Snapshot]
}

// New creates an empty registry over lister.
func New(lister Lister, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{lister: lister, opts: opts, logger: logger}
	r.current.Store(buildSnapshot(nil, nil, time.Time{}, logger))
	return r
}

// Refresh lists tools and replaces the snapshot. On error the previous
// snapshot is kept.
func (r *Registry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	list, err := r.lister.ListTools(ctx)
	if err != nil {
		return err
	}

	snap := buildSnapshot(list.Tools, list.Duplicates, time.Now(), r.logger)
	r.current.Store(snap)

	r.logger.Debug("tool registry refreshed", "tools", len(snap.Tools), "duplicates", len(snap.Duplicates))
	r.opts.Bus.Publish(events.NewToolsUpdatedEvent(r.opts.SessionID, toolInfos(snap.Tools), snap.Duplicates))
	return nil
}

func buildSnapshot(tools []mcp.Tool, dups []string, at time.Time, logger *slog.Logger) *Snapshot {
	snap := &Snapshot{
		Tools:      append([]mcp.Tool(nil), tools...),
		Duplicates: append([]string(nil), dups...),
		FetchedAt:  at,
		index:      make(map[string]int, len(tools)),
		schemas:    make(map[string]*Schema, len(tools)),
	}
	for i, t := range snap.Tools {
		snap.index[t.Name] = i
		schema, err := ParseSchema(t.InputSchema)
		if err != nil {
			// An unreadable schema only disables local checking.
			logger.Warn("ignoring unparseable input schema", "tool", t.Name, "err", err)
			continue
		}
		snap.schemas[t.Name] = schema
	}
	return snap
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Lookup returns the descriptor for name. It performs no I/O.
func (r *Registry) Lookup(name string) (mcp.Tool, bool) {
	tool, _, ok := r.Resolve(name)
	return tool, ok
}

// Resolve returns the descriptor and compiled schema for name, both taken
// from the same snapshot. A nil schema accepts anything.
func (r *Registry) Resolve(name string) (mcp.Tool, *Schema, bool) {
	return r.current.Load().Resolve(name)
}

// Resolve returns the descriptor and compiled schema for name.
func (s *Snapshot) Resolve(name string) (mcp.Tool, *Schema, bool) {
	i, ok := s.index[name]
	if !ok {
		return mcp.Tool{}, nil, false
	}
	return s.Tools[i], s.schemas[name], true
}

// Tools returns the tools in advertised order.
func (r *Registry) Tools() []mcp.Tool {
	snap := r.current.Load()
	return append([]mcp.Tool(nil), snap.Tools...)
}

func toolInfos(tools []mcp.Tool) []events.ToolInfo {
	infos := make([]events.ToolInfo, len(tools))
	for i, t := range tools {
		infos[i] = events.ToolInfo{Name: t.Name, Description: t.Description}
	}
	return infos
}
