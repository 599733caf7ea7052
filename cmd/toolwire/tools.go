package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bigsy/toolwire/internal/config"
	"github.com/Bigsy/toolwire/internal/jsonx"
	"github.com/Bigsy/toolwire/internal/lifecycle"
	"github.com/Bigsy/toolwire/internal/mcp"
)

var (
	toolsJSON   bool
	toolsCached bool
	toolsSchema bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools [--server <name> | --script <file> | -- <command> [args...]]",
	Short: "List the tools a provider offers",
	Long: `Start a provider, perform the handshake and list its tools with the
number of model tokens each definition costs.

With --server the result is also written to the tool cache next to the
config file; --cached prints that cache without starting the provider.

Examples:
  toolwire tools --script ./calc_server.py
  toolwire tools --server calc --json
  toolwire tools --server calc --cached`,
	RunE: runTools,
}

func init() {
	addTargetFlags(toolsCmd)
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Output as JSON")
	toolsCmd.Flags().BoolVar(&toolsCached, "cached", false, "Print cached tools for --server without starting it")
	toolsCmd.Flags().BoolVar(&toolsSchema, "schema", false, "Include each tool's input schema")

	rootCmd.AddCommand(toolsCmd)
}

// toolView is the printed form of a tool.
type toolView struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Tokens      int             `json:"tokens"`
}

func runTools(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if toolsCached {
		if targetServer == "" {
			return fmt.Errorf("--cached requires --server")
		}
		path, err := configPath()
		if err != nil {
			return err
		}
		cache, err := config.NewToolCache(path)
		if err != nil {
			return err
		}
		entry, ok := cache.Get(targetServer)
		if !ok {
			return fmt.Errorf("no cached tools for %q; run 'toolwire tools --server %s' first", targetServer, targetServer)
		}
		views := make([]toolView, len(entry.Tools))
		for i, t := range entry.Tools {
			views[i] = toolView{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema, Tokens: t.TokenCount}
		}
		return printTools(out, views, nil)
	}

	t, _, err := resolveTarget(cmd, args)
	if err != nil {
		return err
	}

	return withConnection(t, func(ctx context.Context, conn *lifecycle.Connection) error {
		snap := conn.Snapshot()
		views := toolViews(snap.Tools)
		if t.server != "" {
			cacheTools(t, snap.Tools)
		}
		return printTools(out, views, snap.Duplicates)
	})
}

func toolViews(tools []mcp.Tool) []toolView {
	views := make([]toolView, len(tools))
	for i, t := range tools {
		views[i] = toolView{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Tokens:      config.CountToolTokens(t.Name, t.Description, t.InputSchema),
		}
	}
	return views
}

// cacheTools records the tool list for a configured server. Failures only
// warn: the listing itself succeeded.
func cacheTools(t *target, tools []mcp.Tool) {
	cache, err := config.NewToolCache(t.configPath)
	if err != nil {
		logger.Warn("tool cache unavailable", "error", err)
		return
	}
	input := make([]config.CachedToolInput, len(tools))
	for i, tool := range tools {
		input[i] = config.CachedToolInput{Name: tool.Name, Description: tool.Description, InputSchema: tool.InputSchema}
	}
	if err := cache.Update(t.server, input); err != nil {
		logger.Warn("failed to update tool cache", "server", t.server, "error", err)
	}
}

func printTools(out io.Writer, views []toolView, duplicates []string) error {
	if toolsJSON {
		if !toolsSchema {
			for i := range views {
				views[i].InputSchema = nil
			}
		}
		data, err := jsonx.MarshalIndent(views, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(views) == 0 {
		fmt.Fprintln(out, "No tools")
		return nil
	}

	total := 0
	for _, v := range views {
		total += v.Tokens
		fmt.Fprintf(out, "%s  %s\n", theme.ToolName.Render(v.Name), theme.Faint.Render(fmt.Sprintf("%d tokens", v.Tokens)))
		if v.Description != "" {
			fmt.Fprintf(out, "    %s\n", theme.Muted.Render(firstLine(v.Description)))
		}
		if toolsSchema && len(v.InputSchema) > 0 {
			fmt.Fprintf(out, "    %s\n", string(v.InputSchema))
		}
	}
	fmt.Fprintf(out, "\n%d tools, %d tokens\n", len(views), total)
	for _, d := range duplicates {
		fmt.Fprintln(out, theme.Warn.Render(fmt.Sprintf("warning: tool %q was listed more than once; the last definition is used", d)))
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
