package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/certbench/internal/logcat"
)

// Palette, 256-color.
const (
	Primary = lipgloss.Color("33")  // blue
	Pass    = lipgloss.Color("78")  // green
	Warning = lipgloss.Color("214") // orange
	Error   = lipgloss.Color("196") // red
	Subtle  = lipgloss.Color("241")
	Surface = lipgloss.Color("236")
	Text    = lipgloss.Color("252")
	TextDim = lipgloss.Color("245")
	OnBadge = lipgloss.Color("230")
)

var (
	SidebarStyle = lipgloss.NewStyle().
			Width(20).
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderTop(false).
			BorderBottom(false).
			BorderLeft(false).
			BorderForeground(Surface).
			Padding(1, 1)

	SidebarItemStyle   = lipgloss.NewStyle().Foreground(TextDim).PaddingLeft(1)
	SidebarActiveStyle = lipgloss.NewStyle().Foreground(Primary).Bold(true).PaddingLeft(1)

	ContentStyle = lipgloss.NewStyle().Padding(1, 2)

	StatusBarStyle    = lipgloss.NewStyle().Foreground(TextDim).Background(Surface).Padding(0, 1)
	StatusBarKeyStyle = lipgloss.NewStyle().Foreground(Text).Background(Surface).Bold(true)

	TitleStyle = lipgloss.NewStyle().Foreground(Primary).Bold(true).MarginBottom(1)

	BoldStyle    = lipgloss.NewStyle().Bold(true)
	DimStyle     = lipgloss.NewStyle().Foreground(TextDim)
	RunningStyle = lipgloss.NewStyle().Foreground(Warning).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	PassStyle    = lipgloss.NewStyle().Foreground(Pass).Bold(true)
)

// severityStyles colors log lines. Info uses the plain text color.
var severityStyles = map[logcat.Severity]lipgloss.Style{
	logcat.Debug: lipgloss.NewStyle().Foreground(Subtle),
	logcat.Info:  lipgloss.NewStyle().Foreground(Text),
	logcat.Warn:  lipgloss.NewStyle().Foreground(Warning),
	logcat.Error: ErrorStyle,
	logcat.Pass:  PassStyle,
}
