package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Bigsy/toolwire/internal/jsonx"
	"github.com/Bigsy/toolwire/internal/lifecycle"
	"github.com/Bigsy/toolwire/internal/mcp"
	"github.com/Bigsy/toolwire/internal/ui"
)

const quitChoice = "quit"

var shellPlain bool

var shellCmd = &cobra.Command{
	Use:   "shell [--server <name> | --script <file> | -- <command> [args...]]",
	Short: "Pick tools and call them interactively",
	Long: `Keep one provider session open and call tools until you choose quit.

The default mode shows a tool picker and an argument form. With --plain,
lines are read from stdin instead, each one a tool name optionally followed
by a JSON object of arguments; "quit" or end of input ends the session.

Examples:
  toolwire shell --server calc
  printf 'calculate {"expression":"1+2"}\nquit\n' | toolwire shell --plain --server calc`,
	RunE: runShell,
}

func init() {
	addTargetFlags(shellCmd)
	shellCmd.Flags().BoolVar(&shellPlain, "plain", false, "Read 'tool {json}' lines from stdin instead of showing forms")

	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	t, _, err := resolveTarget(cmd, args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	return withConnection(t, func(ctx context.Context, conn *lifecycle.Connection) error {
		name, ver := conn.Session().ServerInfo()
		fmt.Fprintf(out, "%s %s %s\n", theme.StatusPill(conn.Session().State().String()), theme.Title.Render(name), theme.Faint.Render(ver))
		fmt.Fprintf(out, "Connected to server with tools: %s\n\n", strings.Join(toolNames(conn), ", "))

		if shellPlain {
			return plainLoop(ctx, conn, cmd.InOrStdin(), out)
		}
		return formLoop(ctx, conn, out)
	})
}

func formLoop(ctx context.Context, conn *lifecycle.Connection, out io.Writer) error {
	for {
		var choice string
		pick := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title("Tool").
				Options(toolOptions(conn.Tools())...).
				Value(&choice),
		)).WithTheme(ui.FormTheme()).WithKeyMap(ui.FormKeyMap())
		if err := pick.RunWithContext(ctx); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
		if choice == quitChoice {
			return nil
		}

		tool, _ := conn.Lookup(choice)
		argText := argTemplate(tool.InputSchema)
		form := huh.NewForm(huh.NewGroup(
			huh.NewText().
				Title("Arguments").
				Description("JSON object").
				Value(&argText).
				Lines(4).
				Validate(func(s string) error {
					_, err := parseShellArgs(s)
					return err
				}),
		)).WithTheme(ui.FormTheme()).WithKeyMap(ui.FormKeyMap())
		if err := form.RunWithContext(ctx); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				continue
			}
			return err
		}

		args, _ := parseShellArgs(argText)
		if err := callAndRender(ctx, conn, out, choice, args); err != nil {
			return err
		}
	}
}

func plainLoop(ctx context.Context, conn *lifecycle.Connection, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		tool, args, quit, err := parseShellLine(scanner.Text())
		switch {
		case quit:
			return nil
		case err != nil:
			fmt.Fprintln(out, theme.Danger.Render(err.Error()))
			continue
		case tool == "":
			continue
		}
		if err := callAndRender(ctx, conn, out, tool, args); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// callAndRender invokes one tool and prints the outcome. Only a lost
// session ends the loop; every other failure is shown and the loop goes on.
func callAndRender(ctx context.Context, conn *lifecycle.Connection, out io.Writer, tool string, args map[string]any) error {
	res, err := conn.Invoke(ctx, tool, args)
	if err != nil {
		if errors.Is(err, mcp.ErrSessionUnavailable) {
			return err
		}
		fmt.Fprintln(out, theme.Danger.Render(err.Error()))
		return nil
	}
	body := res.Text()
	if body == "" {
		body = string(res.Payload)
	}
	if !res.OK {
		body = theme.Danger.Render(res.Message)
	}
	fmt.Fprintln(out, theme.RenderPane(tool, body, 80))
	if res.SessionLost() {
		return errors.New(res.Message)
	}
	return nil
}

func toolOptions(tools []mcp.Tool) []huh.Option[string] {
	sorted := append([]mcp.Tool(nil), tools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	opts := make([]huh.Option[string], 0, len(sorted)+1)
	for _, t := range sorted {
		label := t.Name
		if d := firstLine(t.Description); d != "" {
			label += ": " + truncate(d, 60)
		}
		opts = append(opts, huh.NewOption(label, t.Name))
	}
	return append(opts, huh.NewOption(quitChoice, quitChoice))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// argTemplate pre-fills the argument form with the schema's properties.
func argTemplate(schema []byte) string {
	var s struct {
		Properties map[string]struct {
			Type any `json:"type"`
		} `json:"properties"`
	}
	if len(schema) == 0 || jsonx.Unmarshal(schema, &s) != nil || len(s.Properties) == 0 {
		return "{}"
	}
	tmpl := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		switch p.Type {
		case "string":
			tmpl[name] = ""
		case "integer", "number":
			tmpl[name] = 0
		case "boolean":
			tmpl[name] = false
		case "array":
			tmpl[name] = []any{}
		case "object":
			tmpl[name] = map[string]any{}
		default:
			tmpl[name] = nil
		}
	}
	data, err := jsonx.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// parseShellLine splits "tool {json}" input. A blank line yields no tool.
func parseShellLine(line string) (tool string, args map[string]any, quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, false, nil
	}
	if strings.EqualFold(line, quitChoice) || strings.EqualFold(line, "exit") {
		return "", nil, true, nil
	}
	tool, rest, _ := strings.Cut(line, " ")
	args, err = parseShellArgs(rest)
	if err != nil {
		return "", nil, false, err
	}
	return tool, args, false, nil
}

func parseShellArgs(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := jsonx.Unmarshal([]byte(s), &args); err != nil || args == nil {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	return args, nil
}
