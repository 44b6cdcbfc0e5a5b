package pages

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/truncate"

	"github.com/buckleypaul/certbench/internal/app"
	"github.com/buckleypaul/certbench/internal/bench"
	"github.com/buckleypaul/certbench/internal/logcat"
	"github.com/buckleypaul/certbench/internal/ui"
)

// LogSource is the part of the bench the logcat page reads.
type LogSource interface {
	Logs(n int) []logcat.Record
	LogVersion() uint64
	SetLogCapacity(n int)
	StartUART(port string, baud int) error
	StopUART()
}

var severityKeys = []struct {
	key string
	sev logcat.Severity
}{
	{"1", logcat.Debug},
	{"2", logcat.Info},
	{"3", logcat.Warn},
	{"4", logcat.Error},
	{"5", logcat.Pass},
}

type LogcatPage struct {
	src           LogSource
	uartPort      string
	uartBaud      int
	state         bench.UiState
	filter        logcat.Filter
	filtering     bool
	input         textinput.Model
	viewport      viewport.Model
	follow        bool
	version       uint64
	shown, total  int
	width, height int
	message       string
}

func NewLogcatPage(src LogSource, uartPort string, uartBaud int) *LogcatPage {
	ti := textinput.New()
	ti.Placeholder = "tag or message"
	ti.Prompt = "/ "
	ti.CharLimit = 128
	return &LogcatPage{
		src:      src,
		uartPort: uartPort,
		uartBaud: uartBaud,
		input:    ti,
		viewport: viewport.New(0, 0),
		follow:   true,
	}
}

func (p *LogcatPage) Init() tea.Cmd { return nil }

func (p *LogcatPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.StateMsg:
		p.state = msg.State
		if v := p.src.LogVersion(); v != p.version {
			p.version = v
			p.render()
		}
		return p, nil

	case app.ConfigChangedMsg:
		p.SetUART(msg.Config.UARTPort, msg.Config.UARTBaudRate)
		p.src.SetLogCapacity(msg.Config.LogBufferCapacity)
		p.render()
		return p, nil

	case tea.KeyMsg:
		if p.filtering {
			switch msg.String() {
			case "enter":
				p.filtering = false
				p.input.Blur()
				return p, nil
			case "esc":
				p.filtering = false
				p.input.Blur()
				p.input.SetValue("")
				p.filter.Text = ""
				p.render()
				return p, nil
			}
			var cmd tea.Cmd
			p.input, cmd = p.input.Update(msg)
			p.filter.Text = p.input.Value()
			p.render()
			return p, cmd
		}

		for _, sk := range severityKeys {
			if msg.String() == sk.key {
				p.filter = p.filter.Toggle(sk.sev)
				p.render()
				return p, nil
			}
		}

		switch msg.String() {
		case "/":
			p.filtering = true
			return p, p.input.Focus()
		case "x":
			p.filter = logcat.Filter{}
			p.input.SetValue("")
			p.render()
			return p, nil
		case "f":
			p.follow = !p.follow
			if p.follow {
				p.viewport.GotoBottom()
			}
			return p, nil
		case "u":
			p.toggleUART()
			return p, nil
		case "up", "k", "pgup":
			p.follow = false
		}
	}

	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	return p, cmd
}

func (p *LogcatPage) toggleUART() {
	if p.state.UARTStreaming {
		p.src.StopUART()
		p.message = "UART capture stopped"
		return
	}
	if p.uartPort == "" {
		p.message = "No UART port configured (see Settings)"
		return
	}
	if err := p.src.StartUART(p.uartPort, p.uartBaud); err != nil {
		p.message = fmt.Sprintf("UART: %v", err)
		return
	}
	p.message = fmt.Sprintf("UART capture on %s @ %d", p.uartPort, p.uartBaud)
}

// SetUART changes the port used by the UART toggle.
func (p *LogcatPage) SetUART(port string, baud int) {
	p.uartPort = port
	p.uartBaud = baud
}

func (p *LogcatPage) render() {
	recs := p.src.Logs(0)
	visible := p.filter.Apply(recs)
	p.total = len(recs)
	p.shown = len(visible)

	width := p.viewport.Width
	var b strings.Builder
	for i, r := range visible {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(formatRecord(r, width))
	}
	p.viewport.SetContent(b.String())
	if p.follow {
		p.viewport.GotoBottom()
	}
}

var blankStamp = strings.Repeat(" ", len(logcat.TimestampLayout))

func formatRecord(r logcat.Record, width int) string {
	stamp := r.Timestamp
	if stamp == "" {
		stamp = blankStamp
	}
	line := fmt.Sprintf("%s %-5s %s: %s", stamp, r.Severity, r.Tag, r.Message)
	if width > 0 {
		line = truncate.StringWithTail(line, uint(width), "…")
	}
	return ui.SeverityStyle(r.Severity).Render(line)
}

func (p *LogcatPage) View() string {
	var b strings.Builder
	b.WriteString(ui.Title("Logcat"))
	b.WriteString("\n")

	var sevs []string
	for _, sk := range severityKeys {
		label := sk.key + ":" + sk.sev.String()
		if len(p.filter.Severities) == 0 || p.filter.Severities[sk.sev] {
			sevs = append(sevs, ui.SeverityStyle(sk.sev).Render(label))
		} else {
			sevs = append(sevs, ui.DimStyle.Render(label))
		}
	}
	b.WriteString("  " + strings.Join(sevs, " "))
	b.WriteString(ui.DimStyle.Render(fmt.Sprintf("  %d/%d shown", p.shown, p.total)))
	if !p.follow {
		b.WriteString(ui.DimStyle.Render("  (paused)"))
	}
	b.WriteString("\n")

	if p.filtering || p.filter.Text != "" {
		b.WriteString("  " + p.input.View() + "\n")
	}
	if p.message != "" {
		b.WriteString("  " + p.message + "\n")
	}
	b.WriteString("\n")

	if p.total == 0 {
		b.WriteString(ui.DimStyle.Render("  No log records yet. Connect a device or start UART capture."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(p.viewport.View())
	return b.String()
}

func (p *LogcatPage) Name() string { return "Logcat" }

func (p *LogcatPage) ShortHelp() []key.Binding {
	if p.filtering {
		return []key.Binding{
			key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "apply")),
			key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear")),
		}
	}
	return []key.Binding{
		key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter")),
		key.NewBinding(key.WithKeys("1", "2", "3", "4", "5"), key.WithHelp("1-5", "severity")),
		key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "reset")),
		key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "follow")),
		key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "uart")),
	}
}

func (p *LogcatPage) InputCaptured() bool {
	return p.filtering
}

func (p *LogcatPage) SetSize(w, h int) {
	p.width = w
	p.height = h
	vpHeight := h - 8
	if vpHeight < 3 {
		vpHeight = 3
	}
	p.viewport.Width = w - 4
	p.viewport.Height = vpHeight
	p.input.Width = w - 8
	p.render()
}
