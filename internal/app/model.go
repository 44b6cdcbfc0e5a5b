package app

import (
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/certbench/internal/bench"
	"github.com/buckleypaul/certbench/internal/config"
	"github.com/buckleypaul/certbench/internal/plugin"
	"github.com/buckleypaul/certbench/internal/ui"
)

const refreshInterval = 250 * time.Millisecond

// Backend is what the shell polls between page updates.
type Backend interface {
	State() bench.UiState
	Plugins() []plugin.Plugin
}

type FocusArea int

const (
	FocusSidebar FocusArea = iota
	FocusContent
)

type tickMsg time.Time

type Model struct {
	pages        map[PageID]Page
	activePage   PageID
	focus        FocusArea
	width        int
	height       int
	showHelp     bool
	selectedTest string
	state        bench.UiState
	picker       *Picker
	backend      Backend
	cfg          *config.Config
	root         string
}

func New(pages map[PageID]Page, backend Backend, cfg *config.Config, root string) Model {
	return Model{
		pages:        pages,
		backend:      backend,
		cfg:          cfg,
		root:         root,
		selectedTest: cfg.LastTest,
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick()}
	if m.selectedTest != "" {
		id := m.selectedTest
		cmds = append(cmds, func() tea.Msg { return TestSelectedMsg{ID: id} })
	}
	for _, p := range m.pages {
		if cmd := p.Init(); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		contentWidth := m.width - sidebarWidth
		contentHeight := m.height - 2 - 1 // status bar + test bar
		for _, p := range m.pages {
			p.SetSize(contentWidth, contentHeight)
		}
		return m, nil

	case tickMsg:
		m.state = m.backend.State()
		state := m.state
		model, cmd := m.broadcast(StateMsg{State: state})
		return model, tea.Batch(cmd, tick())

	case PickerSelectedMsg:
		m.selectedTest = msg.Value
		m.picker = nil
		m.cfg.LastTest = msg.Value
		config.Save(*m.cfg, m.root, false)
		return m, func() tea.Msg { return TestSelectedMsg{ID: msg.Value} }

	case PickerClosedMsg:
		m.picker = nil
		return m, nil

	case TestSelectedMsg:
		m.selectedTest = msg.ID
		return m.broadcast(msg)

	case tea.KeyMsg:
		// When picker is open, forward all keys to picker
		if m.picker != nil {
			var cmd tea.Cmd
			m.picker, cmd = m.picker.Update(msg)
			return m, cmd
		}

		// When a page has an active text input, forward all keys
		// directly to the page. Only ctrl+c still quits.
		if m.focus == FocusContent {
			if ic, ok := m.pages[m.activePage].(InputCapturer); ok && ic.InputCaptured() {
				if msg.String() == "ctrl+c" {
					return m, tea.Quit
				}
				page := m.pages[m.activePage]
				newPage, cmd := page.Update(msg)
				m.pages[m.activePage] = newPage
				return m, cmd
			}
		}

		// Global key handling
		switch {
		case key.Matches(msg, GlobalKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, GlobalKeys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, GlobalKeys.ToggleFocus):
			if m.focus == FocusSidebar {
				m.focus = FocusContent
				return m, nil
			}
			// When content focused, fall through to page handler
		}

		// Sidebar-only shortcuts
		if m.focus == FocusSidebar {
			switch {
			case key.Matches(msg, GlobalKeys.TestPicker):
				m.openPicker()
				return m, nil
			case key.Matches(msg, GlobalKeys.JumpPage):
				if n := int(msg.String()[0] - '1'); n < len(PageOrder) {
					m.activePage = PageOrder[n]
				}
				return m, nil
			}
		}

		// Handle arrow keys based on focus
		if m.focus == FocusSidebar {
			switch msg.String() {
			case "up":
				m.prevPage()
				return m, nil
			case "down":
				m.nextPage()
				return m, nil
			case "enter", "right":
				m.focus = FocusContent
				return m, nil
			}
		} else if m.focus == FocusContent {
			if msg.String() == "left" {
				m.focus = FocusSidebar
				return m, nil
			}
		}
	}

	// Key messages: only forward to active page when content is focused
	if _, isKey := msg.(tea.KeyMsg); isKey {
		if m.focus != FocusContent {
			return m, nil
		}
		page := m.pages[m.activePage]
		newPage, cmd := page.Update(msg)
		m.pages[m.activePage] = newPage
		return m, cmd
	}

	// Non-key messages (command results, etc.): forward to all pages
	// so responses reach the page that initiated the command
	return m.broadcast(msg)
}

func (m Model) broadcast(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	for id, page := range m.pages {
		newPage, cmd := page.Update(msg)
		m.pages[id] = newPage
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) openPicker() {
	m.picker = NewPicker("Select Test", "plugins")
	var items []PickerItem
	for _, p := range m.backend.Plugins() {
		items = append(items, PickerItem{
			Label: p.DisplayName,
			Value: p.ID,
			Group: p.Suite,
			Desc:  p.ID,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Group < items[j].Group })
	m.picker.SetItems(items)
	contentWidth := m.width - sidebarWidth
	contentHeight := m.height - 2 - 1
	m.picker.SetSize(contentWidth, contentHeight)
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	contentWidth := m.width - sidebarWidth
	contentHeight := m.height - 2 - 1 // status bar + test bar

	page := m.pages[m.activePage]

	testBar := renderTestBar(m.selectedTest, m.state, m.width, m.focus == FocusSidebar)
	sidebar := renderSidebar(PageOrder, m.activePage, m.pages, contentHeight, m.focus == FocusSidebar)
	content := ui.ContentStyle.
		Width(contentWidth).
		Height(contentHeight).
		Render(page.View())

	if m.showHelp && m.picker == nil {
		content = lipgloss.Place(
			contentWidth, contentHeight,
			lipgloss.Center, lipgloss.Center,
			renderHelp(page.Name(), page.ShortHelp(), contentWidth),
		)
	}

	// Overlay picker on content area when open
	if m.picker != nil {
		m.picker.SetSize(contentWidth, contentHeight)
		pickerView := m.picker.View()
		content = lipgloss.Place(
			contentWidth, contentHeight,
			lipgloss.Center, lipgloss.Center,
			pickerView,
		)
	}

	statusBar := renderStatusBar(page.ShortHelp(), m.width, m.focus)

	return renderLayout(testBar, sidebar, content, statusBar)
}

func (m *Model) nextPage() {
	for i, id := range PageOrder {
		if id == m.activePage {
			m.activePage = PageOrder[(i+1)%len(PageOrder)]
			return
		}
	}
}

func (m *Model) prevPage() {
	for i, id := range PageOrder {
		if id == m.activePage {
			m.activePage = PageOrder[(i-1+len(PageOrder))%len(PageOrder)]
			return
		}
	}
}
