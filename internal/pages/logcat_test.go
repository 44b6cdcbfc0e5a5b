package pages

import (
	"errors"
	"strings"
	"testing"

	"github.com/buckleypaul/certbench/internal/app"
	"github.com/buckleypaul/certbench/internal/config"
	"github.com/buckleypaul/certbench/internal/logcat"
)

func newLogcatPage(t *testing.T) (*LogcatPage, *fakeBench) {
	t.Helper()
	fb := &fakeBench{}
	fb.publish(
		logcat.Record{Timestamp: "03-05 14:07:09.120", Tag: "ActivityManager", Message: "Start proc", Severity: logcat.Info},
		logcat.Record{Timestamp: "03-05 14:07:09.200", Tag: "keystore", Message: "key not found", Severity: logcat.Error},
		logcat.Record{Tag: logcat.TagTest, Message: "PASS FDP_ACF_EXT", Severity: logcat.Pass},
	)
	p := NewLogcatPage(fb, "/dev/ttyUSB0", 921600)
	p.SetSize(120, 30)
	p.Update(app.StateMsg{})
	return p, fb
}

func TestLogcatPageRendersRecords(t *testing.T) {
	p, _ := newLogcatPage(t)
	view := p.View()
	for _, want := range []string{"ActivityManager: Start proc", "keystore: key not found", "3/3 shown"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in view:\n%s", want, view)
		}
	}
}

func TestLogcatPageRefreshesOnNewRecords(t *testing.T) {
	p, fb := newLogcatPage(t)
	fb.publish(logcat.NewRecord(logcat.TagDevice, logcat.Info, "Device Connected"))
	p.Update(app.StateMsg{})
	if p.total != 4 {
		t.Fatalf("expected 4 records, got %d", p.total)
	}
}

func TestLogcatPageSeverityToggle(t *testing.T) {
	p, _ := newLogcatPage(t)
	p.Update(keyMsg("4"))
	if p.shown != 1 {
		t.Fatalf("expected only errors, got %d", p.shown)
	}
	p.Update(keyMsg("5"))
	if p.shown != 2 {
		t.Fatalf("expected errors and passes, got %d", p.shown)
	}
	p.Update(keyMsg("x"))
	if p.shown != 3 {
		t.Fatalf("expected reset to show all, got %d", p.shown)
	}
}

func TestLogcatPageTextFilter(t *testing.T) {
	p, _ := newLogcatPage(t)
	p.Update(keyMsg("/"))
	if !p.InputCaptured() {
		t.Fatal("expected filter input to capture keys")
	}
	for _, r := range "KEY" {
		p.Update(keyMsg(string(r)))
	}
	if p.shown != 1 {
		t.Fatalf("expected case-insensitive tag match, got %d", p.shown)
	}
	p.Update(keyMsg("enter"))
	if p.InputCaptured() || p.filter.Text != "KEY" {
		t.Fatalf("expected filter kept after enter, got %q", p.filter.Text)
	}

	p.Update(keyMsg("/"))
	p.Update(keyMsg("esc"))
	if p.filter.Text != "" || p.shown != 3 {
		t.Fatalf("expected esc to clear the filter, got %q shown=%d", p.filter.Text, p.shown)
	}
}

func TestLogcatPageFollowToggle(t *testing.T) {
	p, _ := newLogcatPage(t)
	p.Update(keyMsg("f"))
	if p.follow {
		t.Fatal("expected follow off")
	}
	if !strings.Contains(p.View(), "(paused)") {
		t.Fatal("expected paused marker")
	}
	p.Update(keyMsg("f"))
	if !p.follow {
		t.Fatal("expected follow back on")
	}
}

func TestLogcatPageUARTToggle(t *testing.T) {
	p, fb := newLogcatPage(t)
	p.Update(keyMsg("u"))
	if len(fb.uartCalls) != 1 || fb.uartCalls[0] != "/dev/ttyUSB0" {
		t.Fatalf("expected UART start, got %v", fb.uartCalls)
	}
	if !strings.Contains(p.message, "921600") {
		t.Fatalf("unexpected message %q", p.message)
	}

	streaming := app.StateMsg{}
	streaming.State.UARTStreaming = true
	p.Update(streaming)
	p.Update(keyMsg("u"))
	if fb.uartStops != 1 {
		t.Fatalf("expected UART stop, got %d", fb.uartStops)
	}
}

func TestLogcatPageResizesBufferOnConfigChange(t *testing.T) {
	p, fb := newLogcatPage(t)
	cfg := config.Defaults()
	cfg.LogBufferCapacity = 500
	p.Update(app.ConfigChangedMsg{Config: cfg})
	if len(fb.capacities) != 1 || fb.capacities[0] != 500 {
		t.Fatalf("expected capacity 500 applied, got %v", fb.capacities)
	}
}

func TestLogcatPageUARTNeedsPort(t *testing.T) {
	p, fb := newLogcatPage(t)
	p.Update(app.ConfigChangedMsg{Config: config.Config{}})
	p.Update(keyMsg("u"))
	if len(fb.uartCalls) != 0 {
		t.Fatal("expected no start without a port")
	}

	cfg := config.Defaults()
	cfg.UARTPort = "/dev/ttyACM1"
	p.Update(app.ConfigChangedMsg{Config: cfg})
	fb.uartErr = errors.New("port busy")
	p.Update(keyMsg("u"))
	if len(fb.uartCalls) != 1 || fb.uartCalls[0] != "/dev/ttyACM1" {
		t.Fatalf("expected configured port, got %v", fb.uartCalls)
	}
	if p.message != "UART: port busy" {
		t.Fatalf("unexpected message %q", p.message)
	}
}

func TestFormatRecordTruncates(t *testing.T) {
	r := logcat.Record{Tag: "T", Message: strings.Repeat("x", 200), Severity: logcat.Warn}
	line := formatRecord(r, 40)
	if !strings.Contains(line, "WARN  T: ") {
		t.Fatalf("unexpected line %q", line)
	}
	if strings.Count(line, "x") >= 200 {
		t.Fatal("expected the message to be truncated")
	}
}

func TestLogcatPageEmpty(t *testing.T) {
	p := NewLogcatPage(&fakeBench{}, "", 0)
	p.SetSize(80, 20)
	if !strings.Contains(p.View(), "No log records yet") {
		t.Fatalf("unexpected view:\n%s", p.View())
	}
}
