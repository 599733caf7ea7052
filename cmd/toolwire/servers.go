package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Bigsy/toolwire/internal/config"
	"github.com/Bigsy/toolwire/internal/jsonx"
	"github.com/Bigsy/toolwire/internal/ui"
)

var (
	serversJSON bool

	addScript      string
	addDescription string
	addCwd         string
	addEnvFlags    []string
	addEnvFile     string
	addInitTimeout config.Duration
	addCallTimeout config.Duration
	addDisabled    bool

	removeYes bool
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage configured tool providers",
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured servers",
	Long: `List all configured servers.

By default, outputs a human-readable table. Use --json for machine-readable output.

Examples:
  toolwire servers list
  toolwire servers list --json`,
	Args: cobra.NoArgs,
	RunE: runServersList,
}

var serversAddCmd = &cobra.Command{
	Use:   "add <name> [--script <file> | -- <command> [args...]]",
	Short: "Add a server to the config",
	Long: `Add a server to the configuration.

A server is either a script run through its launcher (--script) or an
explicit command after the -- separator.

Examples:
  toolwire servers add calc --script ./calc_server.py
  toolwire servers add demo --env LOG_LEVEL=debug -- ./toolserver
  toolwire servers add remote --env-file .env.remote -- npx -y some-mcp-server`,
	Args: cobra.MinimumNArgs(1),
	RunE: runServersAdd,
}

var serversRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a server from the config",
	Long: `Remove a server from the configuration and drop its cached tools.

By default, prompts for confirmation. Use --yes to skip the prompt.`,
	Args: cobra.ExactArgs(1),
	RunE: runServersRemove,
}

func init() {
	serversListCmd.Flags().BoolVar(&serversJSON, "json", false, "Output as JSON")

	serversAddCmd.Flags().StringVar(&addScript, "script", "", "Provider script")
	serversAddCmd.Flags().StringVarP(&addDescription, "description", "d", "", "Free-form description")
	serversAddCmd.Flags().StringVar(&addCwd, "cwd", "", "Working directory for the server")
	serversAddCmd.Flags().StringArrayVarP(&addEnvFlags, "env", "e", nil, "Environment variable (KEY=VALUE), can be repeated")
	serversAddCmd.Flags().StringVar(&addEnvFile, "env-file", "", "File of KEY=VALUE lines passed to the server")
	serversAddCmd.Flags().Var(&durationFlag{&addInitTimeout}, "init-timeout", "Handshake timeout (e.g. 10s)")
	serversAddCmd.Flags().Var(&durationFlag{&addCallTimeout}, "call-timeout", "Per-call timeout (e.g. 1m)")
	serversAddCmd.Flags().BoolVar(&addDisabled, "disabled", false, "Add the server disabled")

	serversRemoveCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "Skip confirmation prompt")

	serversCmd.AddCommand(serversListCmd, serversAddCmd, serversRemoveCmd)
	rootCmd.AddCommand(serversCmd)
}

// durationFlag adapts config.Duration to pflag.
type durationFlag struct{ d *config.Duration }

func (f *durationFlag) String() string {
	if f.d == nil || *f.d == 0 {
		return ""
	}
	return f.d.String()
}

func (f *durationFlag) Set(s string) error {
	return f.d.UnmarshalJSON([]byte(fmt.Sprintf("%q", s)))
}

func (f *durationFlag) Type() string { return "duration" }

func runServersList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	servers := cfg.ServerList()
	if serversJSON {
		return outputServersJSON(cmd.OutOrStdout(), servers)
	}
	return outputServersTable(cmd.OutOrStdout(), servers)
}

func outputServersJSON(out io.Writer, servers []config.ServerConfig) error {
	type serverView struct {
		Name        string            `json:"name"`
		Description string            `json:"description,omitempty"`
		Command     string            `json:"command,omitempty"`
		Args        []string          `json:"args,omitempty"`
		Script      string            `json:"script,omitempty"`
		Cwd         string            `json:"cwd,omitempty"`
		Env         map[string]string `json:"env,omitempty"`
		EnvFile     string            `json:"envFile,omitempty"`
		Enabled     bool              `json:"enabled"`
	}

	views := make([]serverView, len(servers))
	for i, s := range servers {
		views[i] = serverView{
			Name:        s.Name,
			Description: s.Description,
			Command:     s.Command,
			Args:        s.Args,
			Script:      s.Script,
			Cwd:         s.Cwd,
			Env:         s.Env,
			EnvFile:     s.EnvFile,
			Enabled:     s.IsEnabled(),
		}
	}

	data, err := jsonx.MarshalIndent(views, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func outputServersTable(out io.Writer, servers []config.ServerConfig) error {
	if len(servers) == 0 {
		fmt.Fprintln(out, "No servers configured")
		return nil
	}

	nameWidth := 4 // "NAME"
	cmdWidth := 6  // "TARGET"
	for _, s := range servers {
		nameWidth = max(nameWidth, len(s.Name))
		cmdWidth = max(cmdWidth, len(s.Target()))
	}
	// Cap widths for readability
	cmdWidth = min(cmdWidth, 40)

	fmt.Fprintf(out, "%-*s  %-*s  %s\n", nameWidth, "NAME", cmdWidth, "TARGET", "ENABLED")
	for _, s := range servers {
		target := s.Target()
		if len(target) > cmdWidth {
			target = target[:cmdWidth-3] + "..."
		}
		fmt.Fprintf(out, "%-*s  %-*s  %s\n", nameWidth, s.Name, cmdWidth, target, theme.Enabled(s.IsEnabled()))
	}
	return nil
}

func runServersAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	var command []string
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		if dash != 1 {
			return fmt.Errorf("expected exactly one name before --\n\nUsage: toolwire servers add <name> -- <command> [args...]")
		}
		command = args[dash:]
		if len(command) == 0 {
			return fmt.Errorf("missing command after --\n\nUsage: toolwire servers add <name> -- <command> [args...]")
		}
	} else if len(args) > 1 {
		return fmt.Errorf("unexpected arguments %q; put the command after --", strings.Join(args[1:], " "))
	}

	env, err := parseEnvFlags(addEnvFlags)
	if err != nil {
		return err
	}

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	srv := config.ServerConfig{
		Name:        name,
		Description: addDescription,
		Script:      addScript,
		Cwd:         addCwd,
		Env:         env,
		EnvFile:     addEnvFile,
		InitTimeout: addInitTimeout,
		CallTimeout: addCallTimeout,
	}
	if len(command) > 0 {
		srv.Command = command[0]
		srv.Args = command[1:]
	}
	if addDisabled {
		srv.SetEnabled(false)
	}

	if err := cfg.AddServer(srv); err != nil {
		return err
	}
	if err := config.SaveTo(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added server %q (%s)\n", name, srv.Target())
	return nil
}

func runServersRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.GetServer(name) == nil {
		return fmt.Errorf("server %q not found", name)
	}

	if !removeYes {
		confirmed := false
		err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Remove server %q?", name)).
				Affirmative("Remove").
				Negative("Cancel").
				Value(&confirmed),
		)).WithTheme(ui.FormTheme()).Run()
		if err != nil && err != huh.ErrUserAborted {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if !confirmed {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
			return nil
		}
	}

	if err := cfg.DeleteServer(name); err != nil {
		return err
	}
	if err := config.SaveTo(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	if cache, err := config.NewToolCache(path); err == nil {
		if err := cache.Delete(name); err != nil {
			logger.Warn("failed to drop cached tools", "server", name, "error", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed server %q\n", name)
	return nil
}

// parseEnvFlags parses KEY=VALUE pairs from --env flags.
func parseEnvFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}

	env := make(map[string]string)
	for _, kv := range flags {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --env format %q: expected KEY=VALUE", kv)
		}
		if key == "" {
			return nil, fmt.Errorf("invalid --env format %q: key cannot be empty", kv)
		}
		env[key] = value
	}
	return env, nil
}
