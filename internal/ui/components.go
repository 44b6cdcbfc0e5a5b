package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/certbench/internal/logcat"
)

// Panel renders content in a bordered box with the title set into the top
// border. width is the outer width; height 0 sizes to the content.
func Panel(title, content string, width, height int, focused bool) string {
	border := Subtle
	if focused {
		border = Primary
	}
	edge := lipgloss.NewStyle().Foreground(border)

	// "╭─ " + title + " " + dashes + "╮"
	dashes := max(width-lipgloss.Width(title)-5, 0)
	top := edge.Render("╭─ ") + title + edge.Render(" "+strings.Repeat("─", dashes)+"╮")

	body := lipgloss.NewStyle().
		Width(max(width-4, 0)).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderTop(false).
		BorderForeground(border).
		Padding(0, 1)
	if height > 0 {
		body = body.Height(height - 2)
	}
	return top + "\n" + body.Render(content)
}

func Title(text string) string { return TitleStyle.Render(text) }

// StatusKey renders a "key:action" hint.
func StatusKey(k, desc string) string {
	return StatusBarKeyStyle.Render(k) + StatusBarStyle.Render(":"+desc)
}

func Badge(text string, color lipgloss.Color) string {
	return lipgloss.NewStyle().
		Foreground(OnBadge).
		Background(color).
		Padding(0, 1).
		Render(text)
}

// Verdict renders ok as a green badge and !ok as a red one.
func Verdict(ok bool, okText, failText string) string {
	if ok {
		return Badge(okText, Pass)
	}
	return Badge(failText, Error)
}

// ConnectionBadge renders a connection state name: ready, connecting or
// disconnected.
func ConnectionBadge(state string) string {
	switch state {
	case "ready":
		return Badge("Ready", Pass)
	case "connecting":
		return Badge("Connecting", Warning)
	default:
		return Badge("Disconnected", Error)
	}
}

// SeverityStyle returns the log line style for sev.
func SeverityStyle(sev logcat.Severity) lipgloss.Style {
	if s, ok := severityStyles[sev]; ok {
		return s
	}
	return severityStyles[logcat.Info]
}
