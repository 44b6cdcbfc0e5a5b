package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the bindings handled by the shell before pages see a key.
type KeyMap struct {
	Quit        key.Binding
	Help        key.Binding
	ToggleFocus key.Binding
	TestPicker  key.Binding
	// JumpPage selects a page by its sidebar position; sidebar focus only.
	JumpPage key.Binding
}

var GlobalKeys = KeyMap{
	Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Help:        key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	ToggleFocus: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "focus")),
	TestPicker:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "test")),
	JumpPage:    key.NewBinding(key.WithKeys("1", "2", "3", "4", "5"), key.WithHelp("1-5", "page")),
}

// sidebarHelp is shown in the status bar while the sidebar has focus.
var sidebarHelp = []key.Binding{
	key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "navigate")),
	key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
	GlobalKeys.JumpPage,
	GlobalKeys.TestPicker,
}
