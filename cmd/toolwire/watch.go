package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bigsy/toolwire/internal/lifecycle"
	"github.com/Bigsy/toolwire/internal/watch"
)

var (
	watchExtra    []string
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [--server <name> | --script <file> | -- <command> [args...]]",
	Short: "Reconnect to a provider whenever its files change",
	Long: `Connect to a provider and list its tools, then end the session and start a
new one each time the provider's script or the config file changes. Use
--path to watch further files (for example modules the script imports).

A provider that fails to start, or exits on its own, is reported and
started again on the next change. Stop with Ctrl-C.

Examples:
  toolwire watch --script ./calc_server.py
  toolwire watch --server calc --path ./lib/helpers.py`,
	RunE: runWatch,
}

func init() {
	addTargetFlags(watchCmd)
	watchCmd.Flags().StringArrayVar(&watchExtra, "path", nil, "Additional file to watch, can be repeated")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before reconnecting")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	t, _, err := resolveTarget(cmd, args)
	if err != nil {
		return err
	}
	paths := append(append([]string(nil), t.sources...), watchExtra...)
	if len(paths) == 0 {
		return fmt.Errorf("nothing to watch: use --script, --server or --path")
	}

	ctx, stop := signalContext()
	defer stop()

	w, err := watch.New(paths, watchDebounce, logger)
	if err != nil {
		return err
	}
	go func() { _ = w.Run(ctx) }()

	bus := newBus()
	defer bus.Close()
	tracker := newTracker()

	out := cmd.OutOrStdout()
	connect := func() *lifecycle.Connection {
		spec := t.spec
		spec.Logger = logger
		spec.Bus = bus
		spec.Tracker = tracker
		conn, err := lifecycle.StartSession(ctx, spec)
		if err != nil {
			fmt.Fprintln(out, theme.Danger.Render(fmt.Sprintf("start failed: %v", err)))
			return nil
		}
		printConnected(out, conn)
		return conn
	}

	conn := connect()
	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()

	for {
		var exited <-chan struct{}
		if conn != nil {
			exited = conn.Session().Done()
		}

		select {
		case <-ctx.Done():
			return nil

		case <-exited:
			fmt.Fprintln(out, theme.Warn.Render(fmt.Sprintf("provider session ended (%s); waiting for changes", conn.Session().State())))
			_ = conn.Close()
			conn = nil

		case path := <-w.Changes():
			fmt.Fprintln(out, theme.Muted.Render(fmt.Sprintf("%s changed, reconnecting", path)))
			if conn != nil {
				if err := conn.Close(); err != nil {
					logger.Warn("session release failed", "error", err)
				}
				conn = nil
			}
			if path == t.configPath {
				// The server entry itself may have changed.
				next, _, err := resolveTarget(cmd, args)
				if err != nil {
					fmt.Fprintln(out, theme.Danger.Render(err.Error()))
					continue
				}
				t = next
			}
			conn = connect()
		}
	}
}

func printConnected(out io.Writer, conn *lifecycle.Connection) {
	name, ver := conn.Session().ServerInfo()
	fmt.Fprintf(out, "%s %s %s\n", theme.StatusPill(conn.Session().State().String()), theme.Title.Render(name), theme.Faint.Render(ver))
	for _, v := range toolViews(conn.Tools()) {
		fmt.Fprintf(out, "  %s  %s\n", theme.ToolName.Render(v.Name), theme.Faint.Render(fmt.Sprintf("%d tokens", v.Tokens)))
	}
}
