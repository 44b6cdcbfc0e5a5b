package pages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/certbench/internal/app"
	"github.com/buckleypaul/certbench/internal/bench"
	"github.com/buckleypaul/certbench/internal/device"
	"github.com/buckleypaul/certbench/internal/logcat"
	"github.com/buckleypaul/certbench/internal/supervisor"
	"github.com/buckleypaul/certbench/internal/ui"
)

const actionTimeout = 30 * time.Second

// DeviceControl is the part of the bench the device page drives.
type DeviceControl interface {
	StartLogStream() bool
	StopLogStream()
	Narrate(sev logcat.Severity, msg string)
}

type deviceActionMsg struct {
	action string
	detail string
	err    error
}

type DevicePage struct {
	ctl           DeviceControl
	transport     device.Transport
	shotDir       string
	state         bench.UiState
	busy          string
	typing        bool
	input         textinput.Model
	width, height int
	message       string
}

func NewDevicePage(ctl DeviceControl, t device.Transport, shotDir string) *DevicePage {
	ti := textinput.New()
	ti.Placeholder = "text to type on the device"
	ti.CharLimit = 256
	return &DevicePage{
		ctl:       ctl,
		transport: t,
		shotDir:   shotDir,
		input:     ti,
	}
}

func (p *DevicePage) Init() tea.Cmd { return nil }

func (p *DevicePage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.StateMsg:
		p.state = msg.State
		return p, nil

	case deviceActionMsg:
		if msg.action != p.busy {
			return p, nil
		}
		p.busy = ""
		if msg.err != nil {
			p.message = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
			p.ctl.Narrate(logcat.Error, p.message)
			return p, nil
		}
		p.message = msg.action + " done"
		if msg.detail != "" {
			p.message += ": " + msg.detail
		}
		p.ctl.Narrate(logcat.Info, p.message)
		return p, nil

	case tea.KeyMsg:
		if p.typing {
			switch msg.String() {
			case "enter":
				text := p.input.Value()
				p.typing = false
				p.input.Blur()
				p.input.SetValue("")
				if text == "" {
					return p, nil
				}
				return p, p.act("Send text", func(ctx context.Context) (string, error) {
					return "", device.SendText(ctx, p.transport, text)
				})
			case "esc":
				p.typing = false
				p.input.Blur()
				return p, nil
			}
			var cmd tea.Cmd
			p.input, cmd = p.input.Update(msg)
			return p, cmd
		}

		switch msg.String() {
		case "l":
			if p.state.LogStreaming {
				p.ctl.StopLogStream()
				p.message = "Log stream stopped"
			} else if p.ctl.StartLogStream() {
				p.message = "Log stream started"
			} else {
				p.message = "Log stream needs a ready device"
			}
		case "s":
			return p, p.act("Screenshot", p.screenshot)
		case "h":
			return p, p.key("Home", "KEYCODE_HOME")
		case "b":
			return p, p.key("Back", "KEYCODE_BACK")
		case "i":
			if !p.ready() {
				p.message = "No device ready"
				return p, nil
			}
			p.typing = true
			return p, p.input.Focus()
		case "r":
			return p, p.act("Reboot", func(ctx context.Context) (string, error) {
				return "", p.transport.Reboot(ctx, device.RebootSystem)
			})
		case "B":
			return p, p.act("Reboot to bootloader", func(ctx context.Context) (string, error) {
				return "", p.transport.Reboot(ctx, device.RebootBootloader)
			})
		case "c":
			p.message = ""
		}
	}
	return p, nil
}

func (p *DevicePage) ready() bool {
	return p.state.IsDeviceReady
}

// act runs fn off the UI loop. One action at a time.
func (p *DevicePage) act(name string, fn func(context.Context) (string, error)) tea.Cmd {
	if !p.ready() {
		p.message = "No device ready"
		return nil
	}
	if p.busy != "" {
		p.message = p.busy + " still running"
		return nil
	}
	if p.state.IsRunning {
		p.message = "A test is running"
		return nil
	}
	p.busy = name
	p.message = name + "..."
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		detail, err := fn(ctx)
		return deviceActionMsg{action: name, detail: detail, err: err}
	}
}

func (p *DevicePage) key(name, code string) tea.Cmd {
	return p.act(name, func(ctx context.Context) (string, error) {
		return "", device.KeyEvent(ctx, p.transport, code)
	})
}

func (p *DevicePage) screenshot(ctx context.Context) (string, error) {
	name := fmt.Sprintf("%s-%s.png", p.state.Identity.Serial, time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(p.shotDir, 0o755); err != nil {
		return "", err
	}
	local := filepath.Join(p.shotDir, name)
	if err := device.Screenshot(ctx, p.transport, local); err != nil {
		return "", err
	}
	return local, nil
}

func (p *DevicePage) View() string {
	var b strings.Builder
	b.WriteString(ui.Title("Device"))
	b.WriteString("\n")

	s := p.state
	b.WriteString("  " + ui.ConnectionBadge(s.Connection.String()) + "\n\n")
	if s.Connection == supervisor.Disconnected {
		b.WriteString("  Waiting for a device. Check the cable and that USB debugging is authorized.\n")
	}

	if s.Identity.Valid() {
		id := s.Identity
		b.WriteString(fmt.Sprintf("  Serial:     %s\n", id.Serial))
		b.WriteString(fmt.Sprintf("  Model:      %s\n", id.Model))
		b.WriteString(fmt.Sprintf("  Android:    %s\n", id.OSVersion))
		b.WriteString(fmt.Sprintf("  Build:      %s\n", id.DisplayID))
	}

	logState := ui.DimStyle.Render("stopped")
	if s.LogStreaming {
		logState = ui.Badge("streaming", ui.Pass)
	}
	b.WriteString(fmt.Sprintf("\n  Logcat:     %s\n", logState))
	if s.UARTStreaming {
		b.WriteString(fmt.Sprintf("  UART:       %s\n", s.UARTPort))
	}
	b.WriteString(fmt.Sprintf("  Buffer:     %d/%d records\n", s.BufferLen, s.BufferCap))

	if p.typing {
		b.WriteString("\n  Type text:\n")
		b.WriteString("  " + p.input.View() + "\n")
	}

	if p.message != "" {
		b.WriteString("\n  " + p.message + "\n")
	}

	return b.String()
}

func (p *DevicePage) Name() string { return "Device" }

func (p *DevicePage) ShortHelp() []key.Binding {
	if p.typing {
		return []key.Binding{
			key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
			key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		}
	}
	return []key.Binding{
		key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "log stream")),
		key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "screenshot")),
		key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "home")),
		key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "back")),
		key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "type")),
		key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reboot")),
	}
}

func (p *DevicePage) InputCaptured() bool {
	return p.typing
}

func (p *DevicePage) SetSize(w, h int) {
	p.width = w
	p.height = h
	p.input.Width = w - 8
}
