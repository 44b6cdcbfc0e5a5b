package pages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/certbench/internal/app"
	"github.com/buckleypaul/certbench/internal/bench"
	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/plugin"
	"github.com/buckleypaul/certbench/internal/runner"
	"github.com/buckleypaul/certbench/internal/ui"
)

// TestControl is the part of the bench the tests page drives.
type TestControl interface {
	Plugins() []plugin.Plugin
	RefreshPlugins(ctx context.Context) (plugin.ScanResult, error)
	RunTest(id string) error
	LastResult() (runner.Result, bool)
}

type refreshResultMsg struct {
	result plugin.ScanResult
	err    error
}

type TestsPage struct {
	ctl           TestControl
	plugins       []plugin.Plugin
	cursor        int
	selectedID    string
	state         bench.UiState
	refreshing    bool
	last          runner.Result
	hasLast       bool
	width, height int
	message       string
}

func NewTestsPage(ctl TestControl) *TestsPage {
	return &TestsPage{ctl: ctl}
}

func (p *TestsPage) Init() tea.Cmd { return nil }

func (p *TestsPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.StateMsg:
		p.state = msg.State
		p.reload()
		if last, ok := p.ctl.LastResult(); ok {
			p.last, p.hasLast = last, true
		}
		return p, nil

	case app.TestSelectedMsg:
		p.selectedID = msg.ID
		p.reload()
		for i, pl := range p.plugins {
			if pl.ID == msg.ID {
				p.cursor = i
			}
		}
		return p, nil

	case refreshResultMsg:
		p.refreshing = false
		switch {
		case msg.err != nil:
			p.message = fmt.Sprintf("Refresh failed: %v", msg.err)
		case msg.result.Warning != "":
			p.message = msg.result.Warning
		default:
			p.message = msg.result.Summary()
		}
		p.reload()
		return p, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up":
			if p.cursor > 0 {
				p.cursor--
			}
		case "down":
			if p.cursor < len(p.plugins)-1 {
				p.cursor++
			}
		case "enter", "t":
			p.run()
		case "r":
			if p.refreshing {
				return p, nil
			}
			p.refreshing = true
			p.message = "Scanning plugins..."
			ctl := p.ctl
			return p, func() tea.Msg {
				res, err := ctl.RefreshPlugins(context.Background())
				return refreshResultMsg{result: res, err: err}
			}
		case "c":
			p.message = ""
		}
	}
	return p, nil
}

// reload pulls the plugin list and keeps the cursor on the same plugin.
func (p *TestsPage) reload() {
	var current string
	if p.cursor < len(p.plugins) {
		current = p.plugins[p.cursor].ID
	}
	p.plugins = p.ctl.Plugins()
	p.cursor = 0
	for i, pl := range p.plugins {
		if pl.ID == current {
			p.cursor = i
		}
	}
}

func (p *TestsPage) run() {
	if len(p.plugins) == 0 {
		p.message = "No test plugins loaded"
		return
	}
	pl := p.plugins[p.cursor]
	if !p.state.IsDeviceReady {
		p.message = "No device ready"
		return
	}
	err := p.ctl.RunTest(pl.ID)
	switch {
	case errors.IsKind(err, errors.KindBusy):
		p.message = "A test is already running"
	case err != nil:
		p.message = fmt.Sprintf("Cannot run %s: %v", pl.ShortName, err)
	default:
		p.message = "Started " + pl.DisplayName
	}
}

func (p *TestsPage) View() string {
	var b strings.Builder
	b.WriteString(ui.Title("Tests"))
	b.WriteString("\n")

	if p.message != "" {
		b.WriteString("  " + p.message + "\n\n")
	}

	if len(p.plugins) == 0 {
		b.WriteString(ui.DimStyle.Render("  No test plugins. Drop .zip archives into the plugin folder and press r."))
		b.WriteString("\n")
	}

	for i, pl := range p.plugins {
		cursor := "  "
		if i == p.cursor {
			cursor = ui.BoldStyle.Render("> ")
		}
		mark := " "
		if pl.ID == p.selectedID {
			mark = "*"
		}
		b.WriteString(fmt.Sprintf("%s%s %-40s %s\n", cursor, mark, pl.DisplayName, statusBadge(pl.Status)))
	}

	if p.cursor < len(p.plugins) {
		pl := p.plugins[p.cursor]
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("  ID:       %s\n", pl.ID))
		b.WriteString(fmt.Sprintf("  Archive:  %s\n", filepath.Base(pl.Archive)))
		if pl.Description != "" {
			b.WriteString(fmt.Sprintf("  About:    %s\n", pl.Description))
		}
		b.WriteString(fmt.Sprintf("  Tests:    %s\n", strings.Join(pl.Tests, ", ")))
	}

	if p.hasLast {
		b.WriteString("\n" + renderResult(p.last) + "\n")
	}

	return b.String()
}

func statusBadge(s plugin.Status) string {
	switch s {
	case plugin.StatusRunning:
		return ui.Badge("running", ui.Warning)
	case plugin.StatusCompleted:
		return ui.Badge("completed", ui.Pass)
	default:
		return ui.DimStyle.Render("ready")
	}
}

func renderResult(r runner.Result) string {
	badge := ui.Verdict(r.Passed(), "PASS", "FAIL")
	line := fmt.Sprintf("  Last run: %s %s  %d tests, %d failures, %d errors in %s",
		badge, r.PluginID, r.Tests, r.Failures, r.Errors, r.Duration.Round(time.Millisecond))
	if r.Aborted != "" {
		line += "\n  Aborted: " + r.Aborted
	}
	if r.Report != "" {
		line += "\n  Report:   " + r.Report
	}
	return line
}

func (p *TestsPage) Name() string { return "Tests" }

func (p *TestsPage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "run")),
		key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear")),
	}
}

func (p *TestsPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}
