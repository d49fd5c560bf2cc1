package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/cellcycle/internal/ui"
)

func renderRunBar(info RunInfo, state string, width int) string {
	cells := info.Cells
	if cells == "" {
		cells = "(none)"
	}
	content := fmt.Sprintf("Run: %s  Cells: %s  Mode: %s  ", info.Kind, cells, info.Mode)
	return ui.StatusBarStyle.Width(width).Render(content + ui.VerdictBadge(state))
}

func renderStatusBar(help []key.Binding, width int) string {
	var parts []string
	for _, kb := range help {
		if kb.Enabled() {
			parts = append(parts, ui.StatusKey(kb.Help().Key, kb.Help().Desc))
		}
	}
	line := strings.Join(parts, "  ")
	return ui.StatusBarStyle.Width(width).Render(line)
}

func renderHelp() string {
	var b strings.Builder
	b.WriteString(ui.Title("Keys"))
	b.WriteString("\n")
	for _, kb := range []key.Binding{Keys.Pause, Keys.ToggleFocus, Keys.Help, Keys.Quit} {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", kb.Help().Key, kb.Help().Desc))
	}
	b.WriteString("\n")
	b.WriteString(ui.DimStyle.Render("  q stops a running run; output is switched off before exit."))
	return b.String()
}

func renderLayout(runBar, body, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, runBar, body, statusBar)
}
