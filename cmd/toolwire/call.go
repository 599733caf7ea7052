package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bigsy/toolwire/internal/dispatch"
	"github.com/Bigsy/toolwire/internal/jsonx"
	"github.com/Bigsy/toolwire/internal/lifecycle"
)

var (
	callArgsJSON string
	callArgPairs []string
	callRaw      bool
)

var callCmd = &cobra.Command{
	Use:   "call <tool> [--server <name> | --script <file> | -- <command> [args...]]",
	Short: "Call one tool and print its result",
	Long: `Start a provider, call one tool and print the result.

Arguments are given as a JSON object with --args, or as repeated --arg
key=value pairs whose values are parsed as JSON when possible.

The exit status is non-zero when the call fails: unknown tool, arguments
rejected by the tool's schema, a tool error, a timeout or a provider crash.

Examples:
  toolwire call calculate --script ./calc_server.py --args '{"expression":"9+(6*7)/5-1"}'
  toolwire call echo --server demo --arg text=hi --arg repeat=3
  toolwire call get_secret_word -- ./toolserver`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	addTargetFlags(callCmd)
	callCmd.Flags().StringVarP(&callArgsJSON, "args", "a", "", "Arguments as a JSON object")
	callCmd.Flags().StringArrayVar(&callArgPairs, "arg", nil, "Argument key=value (value parsed as JSON when valid), can be repeated")
	callCmd.Flags().BoolVar(&callRaw, "raw", false, "Print the provider's result object verbatim")

	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	t, positional, err := resolveTarget(cmd, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("expected exactly one tool name, got %d", len(positional))
	}
	tool := positional[0]

	arguments, err := parseCallArgs(callArgsJSON, callArgPairs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	return withConnection(t, func(ctx context.Context, conn *lifecycle.Connection) error {
		res, err := conn.Invoke(ctx, tool, arguments)
		if err != nil {
			var unknown *dispatch.UnknownToolError
			if errors.As(err, &unknown) {
				return fmt.Errorf("%w (available: %s)", err, strings.Join(toolNames(conn), ", "))
			}
			return err
		}
		if !res.OK {
			if text := res.Text(); text != "" {
				fmt.Fprintln(errOut, text)
			}
			return errors.New(res.Message)
		}
		if callRaw || res.Text() == "" {
			fmt.Fprintln(out, string(res.Payload))
			return nil
		}
		fmt.Fprintln(out, res.Text())
		return nil
	})
}

// parseCallArgs merges a JSON object with key=value pairs; pairs win.
func parseCallArgs(jsonArgs string, pairs []string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(jsonArgs) != "" {
		if err := jsonx.Unmarshal([]byte(jsonArgs), &args); err != nil {
			return nil, fmt.Errorf("--args must be a JSON object: %w", err)
		}
		if args == nil {
			return nil, fmt.Errorf("--args must be a JSON object, got null")
		}
	}
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --arg %q: expected key=value", kv)
		}
		if key == "" {
			return nil, fmt.Errorf("invalid --arg %q: key cannot be empty", kv)
		}
		var v any
		if err := jsonx.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		args[key] = v
	}
	return args, nil
}

func toolNames(conn *lifecycle.Connection) []string {
	tools := conn.Tools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}
