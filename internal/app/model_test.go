package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/certbench/internal/bench"
	"github.com/buckleypaul/certbench/internal/config"
	"github.com/buckleypaul/certbench/internal/device"
	"github.com/buckleypaul/certbench/internal/plugin"
	"github.com/buckleypaul/certbench/internal/supervisor"
)

type fakeBackend struct {
	state   bench.UiState
	plugins []plugin.Plugin
}

func (f *fakeBackend) State() bench.UiState     { return f.state }
func (f *fakeBackend) Plugins() []plugin.Plugin { return f.plugins }

type fakePage struct {
	name    string
	msgs    []tea.Msg
	capture bool
	w, h    int
}

func (p *fakePage) Init() tea.Cmd { return nil }
func (p *fakePage) Update(msg tea.Msg) (Page, tea.Cmd) {
	p.msgs = append(p.msgs, msg)
	return p, nil
}
func (p *fakePage) View() string             { return p.name + " view" }
func (p *fakePage) Name() string             { return p.name }
func (p *fakePage) ShortHelp() []key.Binding { return nil }
func (p *fakePage) SetSize(w, h int)         { p.w, p.h = w, h }
func (p *fakePage) InputCaptured() bool      { return p.capture }

func (p *fakePage) received(match func(tea.Msg) bool) bool {
	for _, m := range p.msgs {
		if match(m) {
			return true
		}
	}
	return false
}

func newTestModel(t *testing.T, backend *fakeBackend) (Model, map[PageID]*fakePage) {
	t.Helper()
	fakes := make(map[PageID]*fakePage)
	pages := make(map[PageID]Page)
	for _, id := range PageOrder {
		fp := &fakePage{name: []string{"Device", "Logcat", "Tests", "History", "Settings"}[id]}
		fakes[id] = fp
		pages[id] = fp
	}
	cfg := config.Defaults()
	m := New(pages, backend, &cfg, t.TempDir())
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model), fakes
}

func samplePlugins() []plugin.Plugin {
	return []plugin.Plugin{
		{ID: "fdp/FDP_ACF_EXT", DisplayName: "FDP_ACF_EXT.1 access control"},
		{ID: "fcs/FCS_CKM", DisplayName: "FCS_CKM.1 key generation"},
	}
}

func TestWindowSizeResizesPages(t *testing.T) {
	_, fakes := newTestModel(t, &fakeBackend{})
	for id, p := range fakes {
		if p.w != 120-sidebarWidth || p.h != 37 {
			t.Fatalf("page %d got size %dx%d", id, p.w, p.h)
		}
	}
}

func TestTickBroadcastsState(t *testing.T) {
	backend := &fakeBackend{state: bench.UiState{
		IsDeviceReady: true,
		Connection:    supervisor.Ready,
		Identity:      device.Identity{Serial: "SER1", DisplayID: "UQ1A.240205.004"},
	}}
	m, fakes := newTestModel(t, backend)

	updated, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected the next tick to be scheduled")
	}
	for id, p := range fakes {
		ok := p.received(func(msg tea.Msg) bool {
			s, ok := msg.(StateMsg)
			return ok && s.State.Identity.Serial == "SER1"
		})
		if !ok {
			t.Fatalf("page %d did not receive StateMsg", id)
		}
	}

	view := updated.(Model).View()
	if !strings.Contains(view, "Device: SER1 / UQ1A.240205.004") {
		t.Fatalf("expected device in test bar, got:\n%s", view)
	}
}

func TestTestBarShowsConnectionWhenNotReady(t *testing.T) {
	m, _ := newTestModel(t, &fakeBackend{state: bench.UiState{Connection: supervisor.Connecting}})
	updated, _ := m.Update(tickMsg(time.Now()))
	view := updated.(Model).View()
	if !strings.Contains(view, "Test: (none)  Device: connecting") {
		t.Fatalf("unexpected test bar:\n%s", view)
	}
}

func TestPickerSelectsTest(t *testing.T) {
	m, fakes := newTestModel(t, &fakeBackend{plugins: samplePlugins()})

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	m = updated.(Model)
	if m.picker == nil {
		t.Fatal("expected picker to open from the sidebar")
	}
	if !strings.Contains(m.View(), "(2/2 plugins)") {
		t.Fatalf("expected plugin count in picker footer, got:\n%s", m.View())
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(Model)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	if cmd == nil {
		t.Fatal("expected selection command")
	}

	updated, cmd = m.Update(cmd())
	m = updated.(Model)
	if m.picker != nil {
		t.Fatal("expected picker to close after selection")
	}
	if m.selectedTest != "fcs/FCS_CKM" {
		t.Fatalf("expected fcs/FCS_CKM selected, got %q", m.selectedTest)
	}

	// Selection is persisted and then broadcast.
	loaded := config.Load(m.root)
	if loaded.LastTest != "fcs/FCS_CKM" {
		t.Fatalf("expected LastTest persisted, got %q", loaded.LastTest)
	}
	m.Update(cmd())
	if !fakes[TestsPage].received(func(msg tea.Msg) bool {
		s, ok := msg.(TestSelectedMsg)
		return ok && s.ID == "fcs/FCS_CKM"
	}) {
		t.Fatal("expected tests page to receive TestSelectedMsg")
	}
}

func TestPickerEscCloses(t *testing.T) {
	m, _ := newTestModel(t, &fakeBackend{plugins: samplePlugins()})
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	updated, cmd := updated.(Model).Update(tea.KeyMsg{Type: tea.KeyEsc})
	updated, _ = updated.(Model).Update(cmd())
	if updated.(Model).picker != nil {
		t.Fatal("expected picker to close on esc")
	}
}

func TestPickerOnlyFromSidebar(t *testing.T) {
	m, fakes := newTestModel(t, &fakeBackend{plugins: samplePlugins()})
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRight})
	updated, _ = updated.(Model).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	if updated.(Model).picker != nil {
		t.Fatal("expected p to reach the page when content is focused")
	}
	if len(fakes[DevicePage].msgs) == 0 {
		t.Fatal("expected key forwarded to the active page")
	}
}

func TestInputCapturerReceivesQuitKey(t *testing.T) {
	m, fakes := newTestModel(t, &fakeBackend{})
	fakes[DevicePage].capture = true
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRight})
	_, cmd := updated.(Model).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd != nil {
		t.Fatal("expected q to be typed, not quit")
	}
	if !fakes[DevicePage].received(func(msg tea.Msg) bool {
		k, ok := msg.(tea.KeyMsg)
		return ok && k.String() == "q"
	}) {
		t.Fatal("expected q forwarded to capturing page")
	}
}

func TestSidebarNavigationWraps(t *testing.T) {
	m, _ := newTestModel(t, &fakeBackend{})
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	if got := updated.(Model).activePage; got != SettingsPage {
		t.Fatalf("expected wrap to settings, got %d", got)
	}
	updated, _ = updated.(Model).Update(tea.KeyMsg{Type: tea.KeyDown})
	if got := updated.(Model).activePage; got != DevicePage {
		t.Fatalf("expected wrap to device, got %d", got)
	}
}

func TestInitRestoresLastTest(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, config.DirName), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := config.Defaults()
	cfg.LastTest = "fdp/FDP_ACF_EXT"
	m := New(map[PageID]Page{}, &fakeBackend{}, &cfg, root)
	if m.selectedTest != "fdp/FDP_ACF_EXT" {
		t.Fatalf("expected last test restored, got %q", m.selectedTest)
	}
	if m.Init() == nil {
		t.Fatal("expected init commands")
	}
}

func TestFuzzyMatch(t *testing.T) {
	if !fuzzyMatch("fdp_acf_ext.1 access control", "acfx") {
		t.Fatal("expected in-order characters to match")
	}
	if fuzzyMatch("fcs_ckm", "mkc") {
		t.Fatal("expected out-of-order characters to fail")
	}
}

func TestSidebarDigitJumpsToPage(t *testing.T) {
	m, _ := newTestModel(t, &fakeBackend{})
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("4")})
	if got := updated.(Model).activePage; got != HistoryPage {
		t.Fatalf("expected history page, got %d", got)
	}
}

func TestPickerRanksSubstringAboveFuzzy(t *testing.T) {
	p := NewPicker("Select Test", "plugins")
	p.SetItems([]PickerItem{
		{Label: "FCS_CKM.1 key generation", Value: "fcs/FCS_CKM"},
		{Label: "FDP_ACF_EXT.1 access control", Value: "fdp/FDP_ACF_EXT"},
	})
	for _, r := range "acc" {
		p, _ = p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	if len(p.filtered) != 1 || p.filtered[0].Value != "fdp/FDP_ACF_EXT" {
		t.Fatalf("unexpected matches: %+v", p.filtered)
	}

	p, _ = p.Update(tea.KeyMsg{Type: tea.KeyCtrlU})
	for _, r := range "ce" {
		p, _ = p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	// "ce" is a substring of "access control" only; the key generation
	// label matches it fuzzily ("c...e").
	if len(p.filtered) != 2 || p.filtered[0].Value != "fdp/FDP_ACF_EXT" {
		t.Fatalf("expected substring hit first: %+v", p.filtered)
	}
}

func TestPickerShowsSuiteHeadings(t *testing.T) {
	p := NewPicker("Select Test", "plugins")
	p.SetSize(80, 30)
	p.SetItems([]PickerItem{
		{Label: "FCS_CKM.1", Value: "fcs/FCS_CKM", Group: "Cryptography"},
		{Label: "FCS_COP.1", Value: "fcs/FCS_COP", Group: "Cryptography"},
	})
	view := p.View()
	if strings.Count(view, "Cryptography") != 1 {
		t.Fatalf("expected one suite heading:\n%s", view)
	}
	if !strings.Contains(view, "(2/2 plugins)") {
		t.Fatalf("missing footer:\n%s", view)
	}
}

func TestHelpOverlayToggles(t *testing.T) {
	m, _ := newTestModel(t, &fakeBackend{})
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	if view := updated.(Model).View(); !strings.Contains(view, "? to close") {
		t.Fatalf("expected help overlay:\n%s", view)
	}
	updated, _ = updated.(Model).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	if view := updated.(Model).View(); strings.Contains(view, "? to close") {
		t.Fatal("expected help overlay to close")
	}
}
