package plugin

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/logcat"
)

// execUnit runs a unit as a subprocess: `<exec> setup`, `<exec> run <test>`
// and `<exec> teardown`. Exit 0 passes, exit 1 is an assertion failure and
// anything else is an error.
type execUnit struct {
	archive  string
	spec     UnitSpec
	tests    []string
	cacheDir string
}

func (u *execUnit) Name() string    { return u.spec.Name }
func (u *execUnit) Tests() []string { return append([]string(nil), u.tests...) }

// Open extracts the archive into a private directory so units from
// different archives never see each other's files.
func (u *execUnit) Open(ctx context.Context, env Env) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := extract(u.archive, u.cacheDir, u.spec.Name)
	if err != nil {
		return nil, err
	}

	exe := filepath.Join(dir, filepath.FromSlash(path.Clean(u.spec.Exec)))
	if err := os.Chmod(exe, 0o755); err != nil {
		os.RemoveAll(dir)
		return nil, errors.Wrapf(err, errors.KindPluginLoad, "prepare %s", u.spec.Exec)
	}

	env.ResourceDir = dir
	return &execSession{dir: dir, exe: exe, spec: u.spec, env: env}, nil
}

type execSession struct {
	dir  string
	exe  string
	spec UnitSpec
	env  Env
}

func (s *execSession) SetUp(ctx context.Context) error {
	if !s.spec.Setup {
		return nil
	}
	return s.invoke(ctx, "setup")
}

func (s *execSession) Run(ctx context.Context, test string) error {
	return s.invoke(ctx, "run", test)
}

func (s *execSession) TearDown(ctx context.Context) error {
	if !s.spec.Teardown {
		return nil
	}
	return s.invoke(ctx, "teardown")
}

func (s *execSession) Close() error {
	return os.RemoveAll(s.dir)
}

func (s *execSession) invoke(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, s.exe, args...)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), s.environ()...)
	// A unit that leaves a background child holding stdout must not keep
	// Wait from returning once the unit itself has exited.
	cmd.WaitDelay = outputWaitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout := &narrationWriter{log: s.env.log}
	cmd.Stdout = stdout
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, errors.KindExecution, "start %s", s.spec.Exec)
	}

	err := cmd.Wait()
	stdout.flush()
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	trace := strings.TrimRight(stderr.String(), "\n")
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return errors.Wrapf(err, errors.KindExecution, "%s %s", s.spec.Name, strings.Join(args, " "))
	}
	msg := lastLine(trace)
	if exitErr.ExitCode() == 1 {
		if msg == "" {
			msg = "test failed"
		}
		return &Failure{Message: msg, Trace: trace}
	}
	if msg == "" {
		msg = exitErr.String()
	}
	return &Crash{Message: msg, Trace: trace, ExitCode: exitErr.ExitCode()}
}

// maxNarrationLine caps one stdout line; the rest of the line is dropped.
const maxNarrationLine = 64 * 1024

// outputWaitDelay bounds how long stdout may stay open after the unit exits.
var outputWaitDelay = 5 * time.Second

// narrationWriter turns a unit's stdout into narration, one call per line.
// It never fails a write, so the unit can always make progress.
type narrationWriter struct {
	lines logcat.LineAssembler
	log   func(logcat.Severity, string)
}

func (w *narrationWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		seg := p
		if i >= 0 {
			seg = p[:i]
		}
		if room := maxNarrationLine - w.lines.Pending(); room > 0 {
			w.lines.Feed(seg[:min(len(seg), room)])
		}
		if i < 0 {
			break
		}
		for _, line := range w.lines.Feed([]byte{'\n'}) {
			w.emit(line)
		}
		p = p[i+1:]
	}
	return n, nil
}

func (w *narrationWriter) flush() {
	if line, ok := w.lines.Flush(); ok {
		w.emit(line)
	}
}

func (w *narrationWriter) emit(line string) {
	sev, msg := narration(line)
	w.log(sev, msg)
}

func (s *execSession) environ() []string {
	env := []string{
		"ANDROID_SERIAL=" + s.env.Serial,
		"CERTBENCH_TEST=" + s.env.ShortName,
		"CERTBENCH_RESOURCE_DIR=" + s.dir,
		"CERTBENCH_OUTPUT_DIR=" + s.env.OutputDir,
		"CERTBENCH_REPORT=" + s.env.ReportPath,
	}
	for k, v := range s.env.Properties {
		env = append(env, "CERTBENCH_"+envKey(k)+"="+v)
	}
	return env
}

// envKey turns "device.os_version" into "DEVICE_OS_VERSION".
func envKey(k string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if r == '.' || r == '-' || r == ' ' {
			return '_'
		}
		return r
	}, k))
}

var narrationPrefixes = []struct {
	prefix string
	sev    logcat.Severity
}{
	{"PASS:", logcat.Pass},
	{"WARN:", logcat.Warn},
	{"ERROR:", logcat.Error},
	{"DEBUG:", logcat.Debug},
	{"INFO:", logcat.Info},
}

// narration maps a unit's stdout line to a severity.
func narration(line string) (logcat.Severity, string) {
	for _, p := range narrationPrefixes {
		if rest, ok := strings.CutPrefix(line, p.prefix); ok {
			return p.sev, strings.TrimSpace(rest)
		}
	}
	return logcat.Info, line
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
