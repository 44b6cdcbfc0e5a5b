// Package logging builds the diagnostic loggers used across certbench.
// Operator-facing narration does not go here; it flows through the log feed.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Config controls the root logger.
type Config struct {
	Level  string
	Output io.Writer
}

// New returns a root logger. An unknown level falls back to info.
func New(cfg Config) *log.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	return log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
}

// WithComponent returns a child logger prefixed with the component name.
func WithComponent(l *log.Logger, component string) *log.Logger {
	if l == nil {
		l = Discard()
	}
	return l.WithPrefix(component)
}

// Discard returns a logger that writes nowhere. Useful as a default for
// optional logger fields and in tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// OpenFile opens (appending) the diagnostics file used while the TUI owns
// the terminal.
func OpenFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "certbench.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
