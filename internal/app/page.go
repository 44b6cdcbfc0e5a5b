package app

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/certbench/internal/bench"
	"github.com/buckleypaul/certbench/internal/config"
)

// PageID identifies each page in the application.
type PageID int

const (
	DevicePage PageID = iota
	LogcatPage
	TestsPage
	HistoryPage
	SettingsPage
)

var PageOrder = []PageID{
	DevicePage,
	LogcatPage,
	TestsPage,
	HistoryPage,
	SettingsPage,
}

// Page is the interface every page in the application implements.
type Page interface {
	Init() tea.Cmd
	Update(msg tea.Msg) (Page, tea.Cmd)
	View() string
	Name() string
	ShortHelp() []key.Binding
	SetSize(width, height int)
}

// InputCapturer is an optional interface for pages with text inputs.
// When InputCaptured returns true, the app forwards all keys directly
// to the page instead of processing shortcuts like q, ?, left, etc.
type InputCapturer interface {
	InputCaptured() bool
}

// StateMsg is broadcast to all pages on every refresh tick.
type StateMsg struct {
	State bench.UiState
}

// TestSelectedMsg is broadcast to all pages when a test plugin is picked.
type TestSelectedMsg struct {
	ID string
}

// ConfigChangedMsg is broadcast after the settings page edits a value.
type ConfigChangedMsg struct {
	Config config.Config
}
