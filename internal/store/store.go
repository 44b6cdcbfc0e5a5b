// Package store persists run history as JSON files under the data directory.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/buckleypaul/certbench/internal/errors"
)

// MaxRecords caps each history file; the oldest records are dropped first.
const MaxRecords = 500

const (
	runsFile    = "runs.json"
	flashesFile = "flashes.json"
	streamsFile = "streams.json"
)

// Store manages persistence of run, flash and stream records.
type Store struct {
	root string
	mu   sync.Mutex
}

// New creates a Store rooted at the given directory (typically .certbench/).
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the data directory.
func (s *Store) Root() string { return s.root }

func (s *Store) historyDir() string {
	return filepath.Join(s.root, "history")
}

// AddRun appends a run record.
func (s *Store) AddRun(r RunRecord) error {
	return s.appendRecord(runsFile, r)
}

// AddFlash appends a flash record.
func (s *Store) AddFlash(r FlashRecord) error {
	return s.appendRecord(flashesFile, r)
}

// AddStream appends a stream session.
func (s *Store) AddStream(r StreamSession) error {
	return s.appendRecord(streamsFile, r)
}

// Runs returns all run records, oldest first.
func (s *Store) Runs() ([]RunRecord, error) {
	var records []RunRecord
	err := s.loadRecords(runsFile, &records)
	return records, err
}

// RunsFor returns the records for one plugin.
func (s *Store) RunsFor(pluginID string) ([]RunRecord, error) {
	all, err := s.Runs()
	if err != nil {
		return nil, err
	}
	var out []RunRecord
	for _, r := range all {
		if r.PluginID == pluginID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Flashes returns all flash records.
func (s *Store) Flashes() ([]FlashRecord, error) {
	var records []FlashRecord
	err := s.loadRecords(flashesFile, &records)
	return records, err
}

// Streams returns all stream sessions.
func (s *Store) Streams() ([]StreamSession, error) {
	var records []StreamSession
	err := s.loadRecords(streamsFile, &records)
	return records, err
}

// LogsDir returns the path to the logs directory, creating it if needed.
func (s *Store) LogsDir() (string, error) {
	dir := filepath.Join(s.root, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.KindIO, "create logs directory")
	}
	return dir, nil
}

func (s *Store) appendRecord(filename string, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.historyDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.KindIO, "create history directory")
	}

	path := filepath.Join(dir, filename)

	// A corrupt file is replaced rather than blocking new records.
	var records []json.RawMessage
	if data, err := os.ReadFile(path); err == nil {
		json.Unmarshal(data, &records)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "encode record")
	}
	records = append(records, raw)
	if len(records) > MaxRecords {
		records = records[len(records)-MaxRecords:]
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "encode history")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.KindIO, "write %s", filename)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, errors.KindIO, "replace %s", filename)
	}
	return nil
}

func (s *Store) loadRecords(filename string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.historyDir(), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, errors.KindIO, "read %s", filename)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrapf(err, errors.KindValidation, "parse %s", filename)
	}
	return nil
}
