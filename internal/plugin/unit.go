package plugin

import (
	"context"
	"fmt"

	"github.com/buckleypaul/certbench/internal/logcat"
)

// Unit is a loaded, runnable test unit.
type Unit interface {
	Name() string
	Tests() []string
	// Open binds the unit's own isolated context for one run. The caller
	// must Close the session on every path.
	Open(ctx context.Context, env Env) (Session, error)
}

// Session drives one unit's lifecycle within its bound context.
type Session interface {
	SetUp(ctx context.Context) error
	Run(ctx context.Context, test string) error
	TearDown(ctx context.Context) error
	// Close restores the prior context and releases resources.
	Close() error
}

// Env is everything a unit may use from the host during a run. It is
// passed in explicitly; units never reach for process globals.
type Env struct {
	ShortName   string
	Serial      string
	Properties  map[string]string
	ReportPath  string
	OutputDir   string
	ResourceDir string
	// Log narrates progress into the operator's log feed.
	Log func(sev logcat.Severity, msg string)
}

// Logf narrates at Info through env.Log.
func (e Env) Logf(format string, args ...any) {
	e.log(logcat.Info, fmt.Sprintf(format, args...))
}

func (e Env) log(sev logcat.Severity, msg string) {
	if e.Log != nil {
		e.Log(sev, msg)
	}
}

// Failure is an assertion failure raised by a test.
type Failure struct {
	Message string
	Trace   string
}

func (f *Failure) Error() string { return f.Message }

// Crash is an unexpected error raised by a test, distinct from a failed
// assertion.
type Crash struct {
	Message  string
	Trace    string
	ExitCode int
}

func (c *Crash) Error() string { return c.Message }
