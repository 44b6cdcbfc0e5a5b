package pages

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/certbench/internal/app"
	"github.com/buckleypaul/certbench/internal/config"
	"github.com/buckleypaul/certbench/internal/ui"
)

type fieldKind int

const (
	textField fieldKind = iota
	intField
	boolField
)

type settingField struct {
	label string
	key   string
	kind  fieldKind
	// live fields apply without a restart.
	live bool
}

var settingFields = []settingField{
	{"Plugin Directory", "plugin_dir", textField, false},
	{"Report Directory", "output_dir", textField, false},
	{"Device Serial", "device_serial", textField, false},
	{"Auto Log Stream", "auto_open_log_stream", boolField, false},
	{"Logcat Format", "logcat_format", textField, false},
	{"Log Buffer Size", "log_buffer_capacity", intField, true},
	{"UART Port", "uart_port", textField, true},
	{"UART Baud Rate", "uart_baud_rate", intField, true},
	{"Test Timeout (s)", "test_timeout_sec", intField, false},
	{"Watch Plugins", "watch_plugins", boolField, false},
	{"API Address", "api_addr", textField, false},
	{"ADB Path", "adb_path", textField, false},
	{"Fastboot Path", "fastboot_path", textField, false},
	{"Log Level", "log_level", textField, false},
}

type SettingsPage struct {
	cfg           *config.Config
	root          string
	cursor        int
	editing       bool
	input         textinput.Model
	width, height int
	message       string
}

func NewSettingsPage(cfg *config.Config, root string) *SettingsPage {
	ti := textinput.New()
	ti.CharLimit = 128
	return &SettingsPage{
		cfg:   cfg,
		root:  root,
		input: ti,
	}
}

func (p *SettingsPage) Init() tea.Cmd { return nil }

func (p *SettingsPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if p.editing {
			switch msg.String() {
			case "enter":
				p.editing = false
				p.input.Blur()
				return p, p.applyValue(p.input.Value())
			case "esc":
				p.editing = false
				p.input.Blur()
				return p, nil
			}
			var cmd tea.Cmd
			p.input, cmd = p.input.Update(msg)
			return p, cmd
		}

		switch msg.String() {
		case "down":
			if p.cursor < len(settingFields)-1 {
				p.cursor++
			}
		case "up":
			if p.cursor > 0 {
				p.cursor--
			}
		case "enter", "e":
			if settingFields[p.cursor].kind == boolField {
				cur, _ := strconv.ParseBool(p.getValue(p.cursor))
				return p, p.applyValue(strconv.FormatBool(!cur))
			}
			p.editing = true
			p.input.SetValue(p.getValue(p.cursor))
			return p, p.input.Focus()
		case "s":
			if err := config.Save(*p.cfg, p.root, false); err != nil {
				p.message = fmt.Sprintf("Error saving: %v", err)
			} else {
				p.message = "Settings saved to workspace"
			}
		}
	}
	return p, nil
}

func (p *SettingsPage) View() string {
	var inner strings.Builder

	for i, f := range settingFields {
		cursor := "  "
		if i == p.cursor {
			cursor = ui.BoldStyle.Render("> ")
		}

		val := p.getValue(i)
		if val == "" {
			val = ui.DimStyle.Render("(not set)")
		}

		line := fmt.Sprintf("%s%-20s %s", cursor, f.label, val)
		inner.WriteString(line)
		inner.WriteString("\n")
	}

	if p.editing {
		inner.WriteString("\n")
		inner.WriteString(fmt.Sprintf("  Edit %s:\n", settingFields[p.cursor].label))
		inner.WriteString("  " + p.input.View())
		inner.WriteString("\n")
	}

	if p.message != "" {
		inner.WriteString("\n  " + p.message)
	}

	return ui.Panel("Settings", inner.String(), p.width, 0, false)
}

func (p *SettingsPage) Name() string { return "Settings" }

func (p *SettingsPage) ShortHelp() []key.Binding {
	if p.editing {
		return []key.Binding{
			key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "save")),
			key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		}
	}
	return []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "edit")),
		key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "save to disk")),
	}
}

func (p *SettingsPage) InputCaptured() bool {
	return p.editing
}

func (p *SettingsPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}

func (p *SettingsPage) getValue(idx int) string {
	c := p.cfg
	switch settingFields[idx].key {
	case "plugin_dir":
		return c.PluginDir
	case "output_dir":
		return c.OutputDir
	case "device_serial":
		return c.DeviceSerial
	case "auto_open_log_stream":
		return strconv.FormatBool(c.AutoOpenLogStream)
	case "logcat_format":
		return c.LogcatFormat
	case "log_buffer_capacity":
		return strconv.Itoa(c.LogBufferCapacity)
	case "uart_port":
		return c.UARTPort
	case "uart_baud_rate":
		return strconv.Itoa(c.UARTBaudRate)
	case "test_timeout_sec":
		return strconv.Itoa(c.TestTimeoutSec)
	case "watch_plugins":
		return strconv.FormatBool(c.WatchPlugins)
	case "api_addr":
		return c.APIAddr
	case "adb_path":
		return c.ADBPath
	case "fastboot_path":
		return c.FastbootPath
	case "log_level":
		return c.LogLevel
	}
	return ""
}

// applyValue stores val into the field under the cursor. Invalid numbers
// leave the config unchanged.
func (p *SettingsPage) applyValue(val string) tea.Cmd {
	f := settingFields[p.cursor]
	val = strings.TrimSpace(val)

	var n int
	var b bool
	var err error
	switch f.kind {
	case intField:
		n, err = strconv.Atoi(val)
		if err == nil && n < 0 {
			err = strconv.ErrRange
		}
	case boolField:
		b, err = strconv.ParseBool(val)
	}
	if err != nil {
		p.message = fmt.Sprintf("Invalid %s: %q", f.label, val)
		return nil
	}

	c := p.cfg
	switch f.key {
	case "plugin_dir":
		c.PluginDir = val
	case "output_dir":
		c.OutputDir = val
	case "device_serial":
		c.DeviceSerial = val
	case "auto_open_log_stream":
		c.AutoOpenLogStream = b
	case "logcat_format":
		c.LogcatFormat = val
	case "log_buffer_capacity":
		c.LogBufferCapacity = n
	case "uart_port":
		c.UARTPort = val
	case "uart_baud_rate":
		c.UARTBaudRate = n
	case "test_timeout_sec":
		c.TestTimeoutSec = n
	case "watch_plugins":
		c.WatchPlugins = b
	case "api_addr":
		c.APIAddr = val
	case "adb_path":
		c.ADBPath = val
	case "fastboot_path":
		c.FastbootPath = val
	case "log_level":
		c.LogLevel = val
	}

	p.message = fmt.Sprintf("%s updated", f.label)
	if !f.live {
		p.message += " (restart to apply)"
	}
	cfg := *c
	return func() tea.Msg { return app.ConfigChangedMsg{Config: cfg} }
}
