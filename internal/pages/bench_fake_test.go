package pages

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/certbench/internal/app"
	"github.com/buckleypaul/certbench/internal/bench"
	"github.com/buckleypaul/certbench/internal/device"
	"github.com/buckleypaul/certbench/internal/logcat"
	"github.com/buckleypaul/certbench/internal/plugin"
	"github.com/buckleypaul/certbench/internal/runner"
)

// fakeBench stands in for *bench.Bench on every page.
type fakeBench struct {
	logStarts  int
	logStops   int
	canStream  bool
	narrated   []logcat.Record
	records    []logcat.Record
	version    uint64
	capacities []int
	uartCalls  []string
	uartStops  int
	uartErr    error
	plugins    []plugin.Plugin
	runCalls   []string
	runErr     error
	refreshes  int
	scan       plugin.ScanResult
	last       runner.Result
	hasLast    bool
}

func (f *fakeBench) StartLogStream() bool {
	f.logStarts++
	return f.canStream
}

func (f *fakeBench) StopLogStream() { f.logStops++ }

func (f *fakeBench) Narrate(sev logcat.Severity, msg string) {
	f.narrated = append(f.narrated, logcat.NewRecord(logcat.TagDevice, sev, msg))
}

func (f *fakeBench) Logs(int) []logcat.Record { return f.records }
func (f *fakeBench) LogVersion() uint64       { return f.version }
func (f *fakeBench) SetLogCapacity(n int)     { f.capacities = append(f.capacities, n) }

func (f *fakeBench) StartUART(port string, baud int) error {
	f.uartCalls = append(f.uartCalls, port)
	return f.uartErr
}

func (f *fakeBench) StopUART() { f.uartStops++ }

func (f *fakeBench) publish(recs ...logcat.Record) {
	f.records = append(f.records, recs...)
	f.version++
}

func (f *fakeBench) Plugins() []plugin.Plugin { return f.plugins }

func (f *fakeBench) RefreshPlugins(context.Context) (plugin.ScanResult, error) {
	f.refreshes++
	return f.scan, nil
}

func (f *fakeBench) RunTest(id string) error {
	f.runCalls = append(f.runCalls, id)
	return f.runErr
}

func (f *fakeBench) LastResult() (runner.Result, bool) { return f.last, f.hasLast }

// fakeTransport records shell commands. Pull writes a stub file.
type fakeTransport struct {
	mu       sync.Mutex
	commands []string
	reboots  []device.RebootMode
	exitCode int
}

func (t *fakeTransport) StartOrAttach(context.Context) error         { return nil }
func (t *fakeTransport) IsInitialized(context.Context) (bool, error) { return true, nil }
func (t *fakeTransport) Identity(context.Context) (device.Identity, error) {
	return device.Identity{Serial: "SER1"}, nil
}

func (t *fakeTransport) Execute(_ context.Context, cmd string) (device.ExecResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands = append(t.commands, cmd)
	if strings.HasPrefix(cmd, "rm ") {
		return device.ExecResult{}, nil
	}
	return device.ExecResult{ExitCode: t.exitCode, Output: "denied"}, nil
}

func (t *fakeTransport) Push(context.Context, string, string) error { return nil }

func (t *fakeTransport) Pull(_ context.Context, _, local string) error {
	return os.WriteFile(local, []byte("png"), 0o644)
}

func (t *fakeTransport) OpenLogStream(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (t *fakeTransport) Reboot(_ context.Context, mode device.RebootMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reboots = append(t.reboots, mode)
	return nil
}

func (t *fakeTransport) executed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}

func readyState() app.StateMsg {
	return app.StateMsg{State: bench.UiState{
		IsDeviceReady: true,
		Identity: device.Identity{
			Serial:    "SER1",
			Model:     "Pixel 7",
			OSVersion: "14",
			DisplayID: "UQ1A.240205.004",
		},
	}}
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}
