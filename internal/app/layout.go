package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/certbench/internal/bench"
	"github.com/buckleypaul/certbench/internal/device"
	"github.com/buckleypaul/certbench/internal/ui"
)

const sidebarWidth = 22 // 20 content + border and padding

// renderTestBar is the top line: selected test, device and run state.
func renderTestBar(selectedTest string, state bench.UiState, width int, sidebarFocused bool) string {
	test := selectedTest
	if test == "" {
		test = "(none)"
	}
	dev := state.Connection.String()
	if state.IsDeviceReady {
		dev = device.Describe(state.Identity)
	}

	line := fmt.Sprintf("Test: %s  Device: %s", test, dev)
	if state.IsRunning {
		line += "  " + ui.RunningStyle.Render("running "+state.CurrentTest)
	} else if state.LogStreaming {
		line += "  " + ui.DimStyle.Render("logcat on")
	}
	if sidebarFocused {
		line += ui.DimStyle.Render("  [p] change")
	}
	return ui.StatusBarStyle.Width(width).Render(line)
}

func renderSidebar(order []PageID, active PageID, pages map[PageID]Page, height int, focused bool) string {
	var b strings.Builder
	if focused {
		b.WriteString(ui.BoldStyle.Render("certbench") + ui.DimStyle.Render(" ◂"))
	} else {
		b.WriteString(ui.TitleStyle.Render("certbench"))
	}
	b.WriteString("\n\n")

	for i, id := range order {
		label := fmt.Sprintf("%d %s", i+1, pages[id].Name())
		if id == active {
			b.WriteString(ui.SidebarActiveStyle.Render("▸ " + label))
		} else {
			b.WriteString(ui.SidebarItemStyle.Render("  " + label))
		}
		b.WriteString("\n")
	}

	style := ui.SidebarStyle.Height(height)
	if focused {
		style = style.BorderForeground(ui.Primary)
	}
	return style.Render(b.String())
}

func renderStatusBar(pageHelp []key.Binding, width int, focus FocusArea) string {
	help := pageHelp
	if focus == FocusSidebar {
		help = sidebarHelp
	}
	help = append(help[:len(help):len(help)], GlobalKeys.ToggleFocus, GlobalKeys.Help, GlobalKeys.Quit)

	parts := make([]string, 0, len(help))
	for _, kb := range help {
		if kb.Enabled() {
			parts = append(parts, ui.StatusKey(kb.Help().Key, kb.Help().Desc))
		}
	}
	return ui.StatusBarStyle.Width(width).Render(strings.Join(parts, "  "))
}

// renderHelp lists every binding of the focused area plus the global keys.
func renderHelp(pageName string, pageHelp []key.Binding, width int) string {
	var b strings.Builder
	section := func(title string, bindings []key.Binding) {
		b.WriteString(ui.BoldStyle.Render(title) + "\n")
		for _, kb := range bindings {
			h := kb.Help()
			b.WriteString(fmt.Sprintf("  %-10s %s\n", h.Key, h.Desc))
		}
		b.WriteString("\n")
	}
	section(pageName, pageHelp)
	section("Sidebar", sidebarHelp)
	section("Global", []key.Binding{GlobalKeys.ToggleFocus, GlobalKeys.Help, GlobalKeys.Quit})
	b.WriteString(ui.DimStyle.Render("? to close"))
	return ui.Panel("Keys", b.String(), min(width, 48), 0, true)
}

func renderLayout(testBar, sidebar, content, statusBar string) string {
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, content)
	return lipgloss.JoinVertical(lipgloss.Left, testBar, body, statusBar)
}
