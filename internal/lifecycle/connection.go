package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Bigsy/toolwire/internal/dispatch"
	"github.com/Bigsy/toolwire/internal/events"
	"github.com/Bigsy/toolwire/internal/mcp"
	"github.com/Bigsy/toolwire/internal/process"
	"github.com/Bigsy/toolwire/internal/registry"
	"github.com/google/uuid"
)

// Spec describes a provider to start.
type Spec struct {
	// Name labels the provider in logs; defaults to the command.
	Name string

	// Command runs the provider. When Path is empty, Script is resolved
	// through Launchers.
	Command   process.Command
	Script    string
	Launchers map[string]string

	InitTimeout time.Duration
	CallTimeout time.Duration

	ClientName    string
	ClientVersion string

	// DisableAutoRefresh ignores notifications/tools/list_changed.
	DisableAutoRefresh bool

	Logger  *slog.Logger
	Bus     *events.Bus
	Tracker *process.PIDTracker
}

func (s Spec) command() (process.Command, error) {
	if s.Command.Path != "" {
		return s.Command, nil
	}
	cmd, err := ResolveLauncher(s.Script, s.Launchers)
	if err != nil {
		return process.Command{}, err
	}
	cmd.Dir = s.Command.Dir
	cmd.Env = s.Command.Env
	cmd.ShutdownGrace = s.Command.ShutdownGrace
	return cmd, nil
}

// Connection is a started provider: process, session, registry and
// dispatcher, released together by Close.
type Connection struct {
	id     string
	name   string
	logger *slog.Logger
	bus    *events.Bus

	manager    *Manager
	transport  *mcp.ProcessTransport
	session    *mcp.Session
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher

	refreshMu     sync.Mutex
	refreshCtx    context.Context
	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

// sessionTransport lends the process transport to the session without
// handing over its teardown; the manager closes the transport itself.
type sessionTransport struct {
	mcp.Transport
}

func (sessionTransport) Close() error { return nil }

// StartSession opens the provider, performs the handshake and loads the
// tool registry. If any stage fails, everything acquired so far is
// released before the error is returned.
func StartSession(ctx context.Context, spec Spec) (conn *Connection, err error) {
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd, err := spec.command()
	if err != nil {
		return nil, err
	}
	name := spec.Name
	if name == "" {
		name = cmd.String()
	}

	id := uuid.NewString()
	logger = logger.With("provider", name, "session", id)

	c := &Connection{
		id:      id,
		name:    name,
		logger:  logger,
		bus:     spec.Bus,
		manager: NewManager(logger),
	}
	defer func() {
		if err != nil {
			if rerr := c.manager.Release(); rerr != nil {
				err = errors.Join(err, rerr)
			}
			conn = nil
		}
	}()

	// Stage 1: process and streams.
	c.transport, err = mcp.OpenProcess(cmd, process.Options{
		Logger:   logger,
		Tracker:  spec.Tracker,
		TrackID:  id,
		OnStderr: func(line string) { spec.Bus.Publish(events.NewLogReceivedEvent(id, line)) },
	})
	if err != nil {
		return nil, err
	}
	_ = c.manager.Push("transport", c.transport.Close)

	// Stage 2: session.
	c.refreshCtx, c.refreshCancel = context.WithCancel(context.Background())
	c.session = mcp.NewSession(sessionTransport{c.transport}, mcp.SessionOptions{
		ID:             id,
		ClientName:     spec.ClientName,
		ClientVersion:  spec.ClientVersion,
		InitTimeout:    spec.InitTimeout,
		CallTimeout:    spec.CallTimeout,
		Logger:         logger,
		Bus:            spec.Bus,
		OnNotification: c.notificationHandler(spec.DisableAutoRefresh),
	})
	_ = c.manager.Push("session", c.session.Close)
	_ = c.manager.Push("auto-refresh", c.stopRefresh)
	c.registry = registry.New(c.session, registry.Options{SessionID: id, Bus: spec.Bus, Logger: logger})

	if err = c.session.Initialize(ctx); err != nil {
		return nil, err
	}

	// Stage 3: tools.
	if err = c.registry.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("load tools: %w", err)
	}
	c.dispatcher = dispatch.New(c.registry, c.session, logger)

	logger.Info("provider connected", "pid", c.transport.Process().PID(), "tools", len(c.registry.Tools()))
	return c, nil
}

// notificationHandler runs on the session's read loop and must not block.
func (c *Connection) notificationHandler(disabled bool) func(string, json.RawMessage) {
	return func(method string, _ json.RawMessage) {
		if disabled || method != mcp.NotificationToolsListChanged {
			return
		}
		c.refreshMu.Lock()
		defer c.refreshMu.Unlock()
		if c.refreshCtx.Err() != nil {
			return
		}
		c.refreshWG.Add(1)
		go func() {
			defer c.refreshWG.Done()
			if err := c.registry.Refresh(c.refreshCtx); err != nil && c.refreshCtx.Err() == nil {
				c.logger.Warn("tool list refresh failed", "err", err)
				c.bus.Publish(events.NewErrorEvent(c.id, err, "tool list refresh failed"))
			}
		}()
	}
}

func (c *Connection) stopRefresh() error {
	c.refreshMu.Lock()
	c.refreshCancel()
	c.refreshMu.Unlock()
	c.refreshWG.Wait()
	return nil
}

// Run starts a session, calls fn and ends the session on every exit path.
func Run(ctx context.Context, spec Spec, fn func(ctx context.Context, c *Connection) error) (err error) {
	c, err := StartSession(ctx, spec)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(ctx, c)
}

// Invoke calls a tool through the dispatcher. See dispatch.Dispatcher.Invoke.
func (c *Connection) Invoke(ctx context.Context, name string, arguments map[string]any) (mcp.ToolCallResult, error) {
	return c.dispatcher.Invoke(ctx, name, arguments)
}

// Refresh reloads the tool registry.
func (c *Connection) Refresh(ctx context.Context) error {
	return c.registry.Refresh(ctx)
}

// Tools returns the current tool snapshot.
func (c *Connection) Tools() []mcp.Tool {
	return c.registry.Tools()
}

// Snapshot returns the current registry snapshot.
func (c *Connection) Snapshot() *registry.Snapshot {
	return c.registry.Snapshot()
}

// Lookup returns a tool descriptor by name.
func (c *Connection) Lookup(name string) (mcp.Tool, bool) {
	return c.registry.Lookup(name)
}

// ID returns the session id.
func (c *Connection) ID() string { return c.id }

// Name returns the provider label.
func (c *Connection) Name() string { return c.name }

// Session returns the underlying session.
func (c *Connection) Session() *mcp.Session { return c.session }

// Process returns the provider process.
func (c *Connection) Process() *process.Process { return c.transport.Process() }

// Logs returns the provider's recent stderr lines.
func (c *Connection) Logs() []string { return c.transport.Process().Logs() }

// Close ends the session and stops the provider. It is safe to call more
// than once.
func (c *Connection) Close() error {
	return c.manager.Release()
}

// EndSession is an alias for Close.
func (c *Connection) EndSession() error { return c.Close() }
