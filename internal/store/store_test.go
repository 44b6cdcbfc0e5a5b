package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAddAndRetrieveRuns(t *testing.T) {
	tmp := t.TempDir()
	s := New(tmp)

	record := RunRecord{
		ID:        "7d3c",
		PluginID:  "fdp/FDP_ACF_EXT",
		ShortName: "FDP_ACF_EXT",
		Serial:    "SER1",
		Timestamp: time.Now(),
		Duration:  "12.5s",
		Tests:     3,
		Failures:  1,
		Report:    "reports/TEST-FDP_ACF_EXT-20240305-140709.xml",
	}

	if err := s.AddRun(record); err != nil {
		t.Fatalf("AddRun failed: %v", err)
	}

	runs, err := s.Runs()
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].PluginID != "fdp/FDP_ACF_EXT" || runs[0].Failures != 1 {
		t.Errorf("unexpected record: %+v", runs[0])
	}
}

func TestAddMultipleRecords(t *testing.T) {
	tmp := t.TempDir()
	s := New(tmp)

	s.AddRun(RunRecord{PluginID: "a/One", Timestamp: time.Now(), Success: true, Duration: "5s"})
	s.AddRun(RunRecord{PluginID: "a/Two", Timestamp: time.Now(), Success: false, Duration: "3s"})
	s.AddRun(RunRecord{PluginID: "a/One", Timestamp: time.Now(), Success: true, Duration: "4s"})
	s.AddFlash(FlashRecord{Partition: "boot", Image: "boot.img", Timestamp: time.Now(), Success: true, Duration: "2s"})
	s.AddStream(StreamSession{Source: "uart", Port: "/dev/ttyUSB0", BaudRate: 115200, Timestamp: time.Now()})

	runs, _ := s.Runs()
	if len(runs) != 3 {
		t.Errorf("expected 3 runs, got %d", len(runs))
	}

	one, _ := s.RunsFor("a/One")
	if len(one) != 2 {
		t.Errorf("expected 2 runs for a/One, got %d", len(one))
	}

	flashes, _ := s.Flashes()
	if len(flashes) != 1 {
		t.Errorf("expected 1 flash, got %d", len(flashes))
	}

	streams, _ := s.Streams()
	if len(streams) != 1 || streams[0].BaudRate != 115200 {
		t.Errorf("unexpected streams: %+v", streams)
	}
}

func TestEmptyStore(t *testing.T) {
	tmp := t.TempDir()
	s := New(tmp)

	runs, err := s.Runs()
	if err != nil {
		t.Fatalf("Runs on empty store failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}
}

func TestHistoryIsCapped(t *testing.T) {
	s := New(t.TempDir())
	for i := 0; i < MaxRecords+5; i++ {
		if err := s.AddRun(RunRecord{Tests: i}); err != nil {
			t.Fatal(err)
		}
	}
	runs, _ := s.Runs()
	if len(runs) != MaxRecords {
		t.Fatalf("expected %d runs, got %d", MaxRecords, len(runs))
	}
	if runs[0].Tests != 5 {
		t.Errorf("expected oldest records dropped, first is %d", runs[0].Tests)
	}
}

func TestCorruptHistory(t *testing.T) {
	tmp := t.TempDir()
	s := New(tmp)
	dir := filepath.Join(tmp, "history")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, runsFile), []byte("{not json"), 0o644)

	if _, err := s.Runs(); err == nil {
		t.Fatal("expected parse error")
	}
	if err := s.AddRun(RunRecord{PluginID: "x"}); err != nil {
		t.Fatalf("AddRun over corrupt file: %v", err)
	}
	runs, err := s.Runs()
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected recovery, got %v %v", runs, err)
	}
}

func TestLogsDir(t *testing.T) {
	tmp := t.TempDir()
	dir, err := New(tmp).LogsDir()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("logs dir not created: %v", err)
	}
}
