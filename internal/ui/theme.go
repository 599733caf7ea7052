// Package ui holds the terminal styles shared by toolwire's commands.
package ui

import (
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// Theme holds all the styles used by the CLI.
type Theme struct {
	Base  lipgloss.Style
	Muted lipgloss.Style
	Faint lipgloss.Style
	Title lipgloss.Style

	Primary lipgloss.Style
	Success lipgloss.Style
	Warn    lipgloss.Style
	Danger  lipgloss.Style

	// ToolName renders tool names in listings.
	ToolName lipgloss.Style
}

var (
	primaryColor = lipgloss.AdaptiveColor{Light: "#EA580C", Dark: "#FB923C"} // Orange
	borderColor  = lipgloss.AdaptiveColor{Light: "#D0D7DE", Dark: "#3B4261"}
)

// New creates the default theme (orange accent).
func New() Theme {
	success := lipgloss.AdaptiveColor{Light: "#0F7B0F", Dark: "#9ECE6A"}
	warn := lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	danger := lipgloss.AdaptiveColor{Light: "#B00020", Dark: "#F7768E"}
	muted := lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A9B1D6"}
	faint := lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#565F89"}

	return Theme{
		Base:  lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#111827", Dark: "#C0CAF5"}),
		Muted: lipgloss.NewStyle().Foreground(muted),
		Faint: lipgloss.NewStyle().Foreground(faint),
		Title: lipgloss.NewStyle().Bold(true),

		Primary: lipgloss.NewStyle().Foreground(primaryColor),
		Success: lipgloss.NewStyle().Foreground(success),
		Warn:    lipgloss.NewStyle().Foreground(warn),
		Danger:  lipgloss.NewStyle().Foreground(danger),

		ToolName: lipgloss.NewStyle().Bold(true).Foreground(warn),
	}
}

// StatusPill renders a session state as a coloured pill.
func (t Theme) StatusPill(state string) string {
	pill := lipgloss.NewStyle().Padding(0, 1).Bold(true)
	switch state {
	case "ready":
		return pill.Background(lipgloss.Color("#14532D")).
			Foreground(lipgloss.Color("#DCFCE7")).Render("● READY")
	case "unstarted", "closed":
		return pill.Background(lipgloss.Color("#374151")).
			Foreground(lipgloss.Color("#E5E7EB")).Render("○ " + strings.ToUpper(state))
	case "initializing":
		return pill.Background(lipgloss.Color("#713F12")).
			Foreground(lipgloss.Color("#FEF3C7")).Render("◐ INIT")
	case "failed":
		return pill.Background(lipgloss.Color("#7F1D1D")).
			Foreground(lipgloss.Color("#FEE2E2")).Render("✖ FAILED")
	default:
		return pill.Background(lipgloss.Color("#374151")).
			Foreground(lipgloss.Color("#E5E7EB")).Render("○ " + state)
	}
}

// Enabled renders a server's enabled flag.
func (t Theme) Enabled(enabled bool) string {
	if enabled {
		return t.Success.Render("yes")
	}
	return t.Faint.Render("no")
}

// RenderPane renders content in a box with the title embedded in the top border.
//
//	╭─┤ calculate ├────────────────────────────╮
//	│ content here                             │
//	╰──────────────────────────────────────────╯
func (t Theme) RenderPane(title, content string, width int) string {
	if width < 10 {
		width = 10
	}

	borderStyle := lipgloss.NewStyle().Foreground(borderColor)
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(primaryColor)

	contentWidth := width - 4 // 2 for borders, 2 for padding

	titleText := titleStyle.Render(title)
	// "╭─┤ " + title + " ├" + rest + "╮" spans width
	restWidth := max(width-lipgloss.Width(titleText)-7, 0)
	header := borderStyle.Render("╭─┤ ") + titleText + borderStyle.Render(" ├"+strings.Repeat("─", restWidth)+"╮")

	var body strings.Builder
	for _, line := range strings.Split(content, "\n") {
		padding := max(contentWidth-lipgloss.Width(line), 0)
		body.WriteString(borderStyle.Render("│ "))
		body.WriteString(line)
		body.WriteString(strings.Repeat(" ", padding))
		body.WriteString(borderStyle.Render(" │"))
		body.WriteString("\n")
	}

	footer := borderStyle.Render("╰" + strings.Repeat("─", width-2) + "╯")
	return header + "\n" + body.String() + footer
}

// FormTheme returns the huh theme used by interactive prompts.
func FormTheme() *huh.Theme {
	formTheme := huh.ThemeBase16()
	formTheme.Focused.Title = formTheme.Focused.Title.Foreground(primaryColor)
	formTheme.Blurred.Title = formTheme.Blurred.Title.Foreground(primaryColor)
	return formTheme
}

// FormKeyMap adds arrow-key navigation between fields.
func FormKeyMap() *huh.KeyMap {
	keymap := huh.NewDefaultKeyMap()
	keymap.Input.Prev.SetKeys("up", "shift+tab")
	keymap.Input.Next.SetKeys("down", "tab")
	keymap.Text.Prev.SetKeys("up", "shift+tab")
	keymap.Text.Next.SetKeys("down", "tab")
	return keymap
}
