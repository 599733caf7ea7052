package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bigsy/toolwire/internal/config"
	"github.com/Bigsy/toolwire/internal/events"
	"github.com/Bigsy/toolwire/internal/lifecycle"
	"github.com/Bigsy/toolwire/internal/mcp"
	"github.com/Bigsy/toolwire/internal/process"
)

var (
	targetServer      string
	targetScript      string
	targetInitTimeout time.Duration
	targetCallTimeout time.Duration
	targetNoRefresh   bool
)

// addTargetFlags registers the provider selection flags on cmd.
func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&targetServer, "server", "s", "", "Configured server name")
	cmd.Flags().StringVar(&targetScript, "script", "", "Provider script (.py, .js, .mjs or a configured launcher extension)")
	cmd.Flags().DurationVar(&targetInitTimeout, "init-timeout", 0, "Handshake timeout (default from config, 30s)")
	cmd.Flags().DurationVar(&targetCallTimeout, "call-timeout", 0, "Per-call timeout (default from config, 30s)")
	cmd.Flags().BoolVar(&targetNoRefresh, "no-refresh", false, "Ignore tools/list_changed notifications")
}

// target is a resolved provider: what to start and which files define it.
type target struct {
	spec       lifecycle.Spec
	server     string   // config name, empty for ad-hoc providers
	configPath string   // config file consulted, if any
	sources    []string // files whose change should restart the provider
}

// resolveTarget builds the provider spec from the target flags, the config
// file and any command after --. It returns the positional arguments that
// precede --.
func resolveTarget(cmd *cobra.Command, args []string) (*target, []string, error) {
	positional := args
	var command []string
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		positional, command = args[:dash], args[dash:]
		if len(command) == 0 {
			return nil, nil, fmt.Errorf("missing command after --")
		}
	}

	chosen := 0
	for _, set := range []bool{targetServer != "", targetScript != "", command != nil} {
		if set {
			chosen++
		}
	}
	switch {
	case chosen == 0:
		return nil, nil, fmt.Errorf("no provider: use --server <name>, --script <file> or -- <command> [args...]")
	case chosen > 1:
		return nil, nil, fmt.Errorf("--server, --script and -- <command> are mutually exclusive")
	}

	cfg, path, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	t := &target{configPath: path}
	initTimeout, callTimeout, grace := cfg.Timeouts(config.ServerConfig{})
	spec := lifecycle.Spec{Launchers: cfg.Launchers}

	switch {
	case command != nil:
		spec.Name = filepath.Base(command[0])
		spec.Command = process.Command{Path: command[0], Args: command[1:]}

	case targetScript != "":
		script, err := filepath.Abs(targetScript)
		if err != nil {
			return nil, nil, err
		}
		spec.Name = filepath.Base(script)
		spec.Script = script
		t.sources = append(t.sources, script)

	default:
		srv := cfg.GetServer(targetServer)
		if srv == nil {
			return nil, nil, fmt.Errorf("server %q not found in %s", targetServer, path)
		}
		if !srv.IsEnabled() {
			return nil, nil, fmt.Errorf("server %q is disabled", srv.Name)
		}
		env, err := cfg.Environment(*srv)
		if err != nil {
			return nil, nil, err
		}
		initTimeout, callTimeout, grace = cfg.Timeouts(*srv)

		spec.Name = srv.Name
		spec.Command = process.Command{
			Path: srv.Command,
			Args: srv.Args,
			Dir:  cfg.Resolve(srv.Cwd),
			Env:  env,
		}
		if srv.Script != "" {
			spec.Script = cfg.Resolve(srv.Script)
			t.sources = append(t.sources, spec.Script)
		}
		t.server = srv.Name
		t.sources = append(t.sources, path)
	}

	if targetInitTimeout > 0 {
		initTimeout = targetInitTimeout
	}
	if targetCallTimeout > 0 {
		callTimeout = targetCallTimeout
	}
	spec.Command.ShutdownGrace = grace
	spec.InitTimeout = initTimeout
	spec.CallTimeout = callTimeout
	spec.DisableAutoRefresh = targetNoRefresh
	spec.ClientName = "toolwire"
	spec.ClientVersion = version

	t.spec = spec
	return t, positional, nil
}

// newBus routes provider diagnostics into the log.
func newBus() *events.Bus {
	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) {
		switch evt := e.(type) {
		case events.LogReceivedEvent:
			logger.Debug("provider stderr", "session", evt.SessionID(), "line", evt.Line)
		case events.AnomalyEvent:
			logger.Warn("protocol anomaly", "session", evt.SessionID(), "kind", string(evt.Kind), "detail", evt.Detail)
		case events.ErrorEvent:
			logger.Warn(evt.Message, "session", evt.SessionID(), "error", evt.Err)
		case events.NotificationEvent:
			if evt.Method == mcp.NotificationMessage {
				logger.Info("provider message", "session", evt.SessionID(), "params", string(evt.Params))
			}
		case events.ToolsUpdatedEvent:
			logger.Debug("tools updated", "session", evt.SessionID(), "count", len(evt.Tools))
		}
	})
	return bus
}

// newTracker opens the PID file and terminates processes left behind by a
// crashed previous run.
func newTracker() *process.PIDTracker {
	tracker, err := process.NewPIDTracker()
	if err != nil {
		logger.Warn("pid tracking disabled", "error", err)
		return nil
	}
	if n := tracker.CleanupOrphans(); n > 0 {
		logger.Info("terminated orphaned providers", "count", n)
	}
	return tracker
}

// withConnection starts the target's provider, runs fn and always ends the
// session, including on interrupt.
func withConnection(t *target, fn func(ctx context.Context, conn *lifecycle.Connection) error) error {
	ctx, stop := signalContext()
	defer stop()

	bus := newBus()
	defer bus.Close()

	spec := t.spec
	spec.Logger = logger
	spec.Bus = bus
	spec.Tracker = newTracker()
	return lifecycle.Run(ctx, spec, fn)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
