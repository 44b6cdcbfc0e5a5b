package pages

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/certbench/internal/app"
	"github.com/buckleypaul/certbench/internal/junit"
	"github.com/buckleypaul/certbench/internal/store"
	"github.com/buckleypaul/certbench/internal/ui"
)

// History is the run, flash and capture log. *store.Store implements it.
type History interface {
	Runs() ([]store.RunRecord, error)
	Flashes() ([]store.FlashRecord, error)
	Streams() ([]store.StreamSession, error)
}

type historyTab int

const (
	tabRuns historyTab = iota
	tabFlashes
	tabStreams
)

var tabNames = []string{"Runs", "Flashes", "Captures"}

const timeLayout = "2006-01-02 15:04:05"

type HistoryPage struct {
	history       History
	activeTab     historyTab
	runs          []store.RunRecord
	flashes       []store.FlashRecord
	streams       []store.StreamSession
	cursor        int
	detail        *junit.Summary
	loaded        bool
	wasRunning    bool
	width, height int
	message       string
}

func NewHistoryPage(h History) *HistoryPage {
	return &HistoryPage{history: h}
}

func (p *HistoryPage) Init() tea.Cmd { return nil }

func (p *HistoryPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.StateMsg:
		// Reload once, then whenever a run finishes.
		finished := p.wasRunning && !msg.State.IsRunning
		p.wasRunning = msg.State.IsRunning
		if !p.loaded || finished {
			p.reload()
		}
		return p, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "]", "right":
			p.activeTab = (p.activeTab + 1) % historyTab(len(tabNames))
			p.cursor = 0
			p.detail = nil
		case "[":
			p.activeTab = (p.activeTab + historyTab(len(tabNames)) - 1) % historyTab(len(tabNames))
			p.cursor = 0
			p.detail = nil
		case "up":
			if p.cursor > 0 {
				p.cursor--
				p.detail = nil
			}
		case "down":
			if p.cursor < p.rows()-1 {
				p.cursor++
				p.detail = nil
			}
		case "enter":
			p.openReport()
		case "esc":
			p.detail = nil
		case "r":
			p.reload()
		}
	}
	return p, nil
}

func (p *HistoryPage) reload() {
	p.loaded = true
	p.message = ""
	var err error
	if p.runs, err = p.history.Runs(); err != nil {
		p.message = fmt.Sprintf("Cannot read run history: %v", err)
	}
	if p.flashes, err = p.history.Flashes(); err != nil {
		p.message = fmt.Sprintf("Cannot read flash history: %v", err)
	}
	if p.streams, err = p.history.Streams(); err != nil {
		p.message = fmt.Sprintf("Cannot read capture history: %v", err)
	}
	if p.cursor >= p.rows() {
		p.cursor = max(p.rows()-1, 0)
	}
}

func (p *HistoryPage) rows() int {
	switch p.activeTab {
	case tabFlashes:
		return len(p.flashes)
	case tabStreams:
		return len(p.streams)
	default:
		return len(p.runs)
	}
}

// run returns the run under the cursor. Newest is listed first.
func (p *HistoryPage) run() (store.RunRecord, bool) {
	if p.activeTab != tabRuns || p.cursor >= len(p.runs) {
		return store.RunRecord{}, false
	}
	return p.runs[len(p.runs)-1-p.cursor], true
}

func (p *HistoryPage) openReport() {
	r, ok := p.run()
	if !ok {
		return
	}
	if r.Report == "" {
		p.message = "This run has no report"
		return
	}
	s, err := junit.ReadSummary(r.Report)
	if err != nil {
		p.message = fmt.Sprintf("Cannot open report: %v", err)
		return
	}
	p.detail = &s
}

func (p *HistoryPage) View() string {
	var b strings.Builder
	b.WriteString(ui.Title("History"))
	b.WriteString("\n")

	var tabs []string
	for i, name := range tabNames {
		if historyTab(i) == p.activeTab {
			tabs = append(tabs, ui.BoldStyle.Render("["+name+"]"))
		} else {
			tabs = append(tabs, ui.DimStyle.Render(" "+name+" "))
		}
	}
	b.WriteString("  " + strings.Join(tabs, " ") + "\n\n")

	if p.message != "" {
		b.WriteString("  " + p.message + "\n\n")
	}

	switch p.activeTab {
	case tabRuns:
		p.viewRuns(&b)
	case tabFlashes:
		p.viewFlashes(&b)
	case tabStreams:
		p.viewStreams(&b)
	}
	return b.String()
}

func (p *HistoryPage) cursorMark(i int) string {
	if i == p.cursor {
		return ui.BoldStyle.Render("> ")
	}
	return "  "
}

func (p *HistoryPage) viewRuns(b *strings.Builder) {
	if len(p.runs) == 0 {
		b.WriteString(ui.DimStyle.Render("  No test runs yet."))
		b.WriteString("\n")
		return
	}
	for i := range p.runs {
		r := p.runs[len(p.runs)-1-i]
		badge := ui.Verdict(r.Success, "PASS", "FAIL")
		b.WriteString(fmt.Sprintf("%s%s  %s  %-24s %d/%d/%d  %s  %s\n",
			p.cursorMark(i), r.Timestamp.Format(timeLayout), badge, r.ShortName,
			r.Tests, r.Failures, r.Errors, r.Duration, r.Serial))
	}

	if r, ok := p.run(); ok && r.Aborted != "" {
		b.WriteString("\n  Aborted: " + r.Aborted + "\n")
	}
	if p.detail != nil {
		d := p.detail
		b.WriteString(fmt.Sprintf("\n  %s on %s at %s\n", d.Name, d.Hostname, d.Timestamp.Format(timeLayout)))
		for _, c := range d.Cases {
			if problem, ok := d.Problems[c]; ok {
				b.WriteString("    " + ui.ErrorStyle.Render("✗ "+c) + "  " + problem + "\n")
			} else {
				b.WriteString("    " + ui.PassStyle.Render("✓ "+c) + "\n")
			}
		}
	}
}

func (p *HistoryPage) viewFlashes(b *strings.Builder) {
	if len(p.flashes) == 0 {
		b.WriteString(ui.DimStyle.Render("  No flashes yet."))
		b.WriteString("\n")
		return
	}
	for i := range p.flashes {
		f := p.flashes[len(p.flashes)-1-i]
		badge := ui.Verdict(f.Success, "OK", "FAILED")
		b.WriteString(fmt.Sprintf("%s%s  %s  %-12s %-30s %s  %s\n",
			p.cursorMark(i), f.Timestamp.Format(timeLayout), badge, f.Partition,
			filepath.Base(f.Image), f.Duration, f.Serial))
	}
}

func (p *HistoryPage) viewStreams(b *strings.Builder) {
	if len(p.streams) == 0 {
		b.WriteString(ui.DimStyle.Render("  No capture sessions yet."))
		b.WriteString("\n")
		return
	}
	for i := range p.streams {
		s := p.streams[len(p.streams)-1-i]
		where := s.Port
		if s.BaudRate > 0 {
			where = fmt.Sprintf("%s @ %d", s.Port, s.BaudRate)
		}
		b.WriteString(fmt.Sprintf("%s%s  %-7s %-24s %s\n",
			p.cursorMark(i), s.Timestamp.Format(timeLayout), s.Source, where, s.LogFile))
	}
}

func (p *HistoryPage) Name() string { return "History" }

func (p *HistoryPage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("[", "]"), key.WithHelp("[/]", "tab")),
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "report")),
		key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	}
}

func (p *HistoryPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}
