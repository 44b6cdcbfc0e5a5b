package logcat

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/logging"
)

const auditQueue = 4096

// LineWriter receives raw lines for the audit mirror.
type LineWriter interface {
	WriteLine(line string)
}

// AuditFile mirrors raw lines to an append-only file. WriteLine never
// blocks; when the writer falls behind lines are dropped and counted.
type AuditFile struct {
	path   string
	file   *os.File
	lines  chan string
	done   chan struct{}
	logger *log.Logger

	mu     sync.RWMutex
	closed bool

	written   atomic.Uint64
	dropped   atomic.Uint64
	writeErrs atomic.Uint64
}

// OpenAudit opens path for appending, truncating it first when reset is set.
func OpenAudit(path string, reset bool, logger *log.Logger) (*AuditFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.KindIO, "create audit dir")
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if reset {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindIO, "open audit log %s", path)
	}

	a := &AuditFile{
		path:   path,
		file:   f,
		lines:  make(chan string, auditQueue),
		done:   make(chan struct{}),
		logger: logging.WithComponent(logger, "audit"),
	}
	go a.writeLoop()
	return a, nil
}

// Path returns the file location.
func (a *AuditFile) Path() string { return a.path }

// WriteLine queues one line.
func (a *AuditFile) WriteLine(line string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.lines <- line:
	default:
		a.dropped.Add(1)
	}
}

// Written, Dropped and WriteErrors are running counters.
func (a *AuditFile) Written() uint64     { return a.written.Load() }
func (a *AuditFile) Dropped() uint64     { return a.dropped.Load() }
func (a *AuditFile) WriteErrors() uint64 { return a.writeErrs.Load() }

// Close drains queued lines and closes the file.
func (a *AuditFile) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.lines)
	a.mu.Unlock()

	<-a.done
	return a.file.Close()
}

func (a *AuditFile) writeLoop() {
	defer close(a.done)
	w := bufio.NewWriter(a.file)

	for line := range a.lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			a.fail(err)
			continue
		}
		a.written.Add(1)
		if len(a.lines) == 0 {
			if err := w.Flush(); err != nil {
				a.fail(err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		a.fail(err)
	}
}

func (a *AuditFile) fail(err error) {
	// Only the first failure is worth a log line; the rest are counted.
	if a.writeErrs.Add(1) == 1 {
		a.logger.Error("audit log write failed", "path", a.path, "err", err)
	}
}
