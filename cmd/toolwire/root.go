package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Bigsy/toolwire/internal/config"
	"github.com/Bigsy/toolwire/internal/ui"
)

// Version information (set at build time via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

var (
	rootConfigPath string
	rootLogLevel   string
	rootEnvFile    string

	logger = slog.Default()
	theme  = ui.New()
)

var rootCmd = &cobra.Command{
	Use:   "toolwire",
	Short: "Stdio tool-provider client",
	Long: `toolwire starts a tool provider as a child process, speaks JSON-RPC to it
over stdin/stdout, and lets you list and call its tools.

A provider is chosen with --server (a name from the config file), --script
(a .py/.js file run through its launcher) or an explicit command after --.

Examples:
  toolwire tools --script ./calc_server.py
  toolwire call calculate --server calc --args '{"expression":"9+(6*7)/5-1"}'
  toolwire shell -- npx -y @modelcontextprotocol/server-everything`,
	Version:           fmt.Sprintf("%s (commit: %s)", version, commit),
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Suppress errors from being printed twice
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringVarP(&rootConfigPath, "config", "c", "", "Path to config file (default: ~/.config/toolwire/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootLogLevel, "log-level", "l", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootEnvFile, "env-file", "", "Load environment variables from this file (default: ./.env if present)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, theme.Danger.Render("error:"), err)
		os.Exit(1)
	}
}

// setup configures logging and the process environment before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	level, err := parseLogLevel(rootLogLevel)
	if err != nil {
		return err
	}
	// stdout is reserved for command output.
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if rootEnvFile != "" {
		if err := godotenv.Load(rootEnvFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("ignoring unreadable .env", "error", err)
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (debug, info, warn, error)", s)
	}
}

// configPath returns the absolute --config path or the default location.
func configPath() (string, error) {
	if rootConfigPath == "" {
		return config.ConfigPath()
	}
	path, err := config.ExpandPath(rootConfigPath)
	if err != nil {
		return "", err
	}
	return filepath.Abs(path)
}

func loadConfig() (*config.Config, string, error) {
	path, err := configPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}
