// Package runner executes one plugin at a time with exclusive use of the
// device and writes a JUnit report for every run.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/buckleypaul/certbench/internal/device"
	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/junit"
	"github.com/buckleypaul/certbench/internal/logcat"
	"github.com/buckleypaul/certbench/internal/logging"
	"github.com/buckleypaul/certbench/internal/metrics"
	"github.com/buckleypaul/certbench/internal/plugin"
	"github.com/buckleypaul/certbench/internal/store"
)

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New(errors.KindBusy, "a test is already running")

// reportStamp is the timestamp embedded in report file names.
const reportStamp = "20060102-150405"

// Catalog is the plugin source. *plugin.Registry satisfies it.
type Catalog interface {
	Get(id string) (plugin.Plugin, bool)
	SetStatus(id string, s plugin.Status) error
}

// Recorder persists finished runs. *store.Store satisfies it.
type Recorder interface {
	AddRun(store.RunRecord) error
}

// Config wires a Coordinator.
type Config struct {
	// ReportDir receives one XML report per run.
	ReportDir string
	// OutputDir is handed to units for their own artifacts. Defaults to
	// ReportDir.
	OutputDir string
	// TestTimeout bounds each lifecycle step. Zero means no limit.
	TestTimeout time.Duration
	// Identity returns the current device identity, zero when none.
	Identity func() device.Identity
	Sink     logcat.Sink
	Recorder Recorder
	Metrics  *metrics.Metrics
	Logger   *log.Logger
	Now      func() time.Time
}

// Result summarizes a finished run.
type Result struct {
	RunID    string        `json:"run_id"`
	PluginID string        `json:"plugin_id"`
	Report   string        `json:"report"`
	Tests    int           `json:"tests"`
	Failures int           `json:"failures"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
	// Aborted holds the reason a run stopped before its tests finished.
	Aborted string `json:"aborted,omitempty"`
}

// Passed reports whether every test passed and the run was not aborted.
func (r Result) Passed() bool {
	return r.Aborted == "" && r.Failures == 0 && r.Errors == 0
}

// Coordinator runs plugins one at a time. Its zero value is not usable;
// create it with New.
type Coordinator struct {
	catalog Catalog
	cfg     Config
	logger  *log.Logger

	running atomic.Bool
	wg      sync.WaitGroup

	mu      sync.RWMutex
	current string
	last    *Result
}

// New creates an idle coordinator.
func New(catalog Catalog, cfg Config) *Coordinator {
	if cfg.OutputDir == "" {
		cfg.OutputDir = cfg.ReportDir
	}
	if cfg.Identity == nil {
		cfg.Identity = func() device.Identity { return device.Identity{} }
	}
	if cfg.Sink == nil {
		cfg.Sink = logcat.SinkFunc(func(logcat.Record) {})
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		catalog: catalog,
		cfg:     cfg,
		logger:  logging.WithComponent(cfg.Logger, "runner"),
	}
}

// Running reports whether a run is in progress. The supervisor polls this
// to suspend its heartbeat.
func (c *Coordinator) Running() bool { return c.running.Load() }

// Current returns the plugin being run, or "".
func (c *Coordinator) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Last returns the most recent result.
func (c *Coordinator) Last() (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return Result{}, false
	}
	return *c.last, true
}

// Wait blocks until any run started with Start has finished.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Start runs a plugin in the background. It returns ErrBusy without
// queueing when a run is already in progress.
func (c *Coordinator) Start(ctx context.Context, id string) error {
	p, err := c.lookup(id)
	if err != nil {
		return err
	}
	if !c.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.execute(ctx, p)
	}()
	return nil
}

// Run executes a plugin and waits for it to finish.
func (c *Coordinator) Run(ctx context.Context, id string) (Result, error) {
	p, err := c.lookup(id)
	if err != nil {
		return Result{}, err
	}
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	return c.execute(ctx, p), nil
}

func (c *Coordinator) lookup(id string) (plugin.Plugin, error) {
	p, ok := c.catalog.Get(id)
	if !ok {
		return plugin.Plugin{}, errors.Errorf(errors.KindNotFound, "plugin %s", id)
	}
	if p.Unit == nil {
		return plugin.Plugin{}, errors.Errorf(errors.KindPluginLoad, "plugin %s has no runnable unit", id)
	}
	return p, nil
}

// execute owns the running flag, which the caller has already set.
// Runs are not cancellable once started, so ctx only carries values.
func (c *Coordinator) execute(parent context.Context, p plugin.Plugin) (res Result) {
	ctx := context.WithoutCancel(parent)
	start := c.cfg.Now()
	res = Result{RunID: uuid.NewString(), PluginID: p.ID}
	cases := map[string]int{}

	c.mu.Lock()
	c.current = p.ID
	c.mu.Unlock()
	c.setStatus(p.ID, plugin.StatusRunning)

	var report *junit.Report
	defer func() {
		if rec := recover(); rec != nil {
			res.Aborted = fmt.Sprintf("panic: %v", rec)
			c.logger.Error("run panicked", "plugin", p.ID, "panic", rec, "stack", string(debug.Stack()))
			c.narrate(logcat.Error, "Run aborted: %v", rec)
		}
		if report != nil {
			if err := report.Finalize(); err != nil {
				c.narrate(logcat.Error, "Report not written: %v", err)
			}
			res.Tests, res.Failures, res.Errors = report.Counts()
		}
		res.Duration = c.cfg.Now().Sub(start)
		c.finish(p, res, start, cases)
	}()

	c.narrate(logcat.Info, "Run %s", p.DisplayName)

	id := c.cfg.Identity()
	var deviceProps map[string]string
	if id.Valid() {
		deviceProps = id.Properties()
	}
	props := map[string]string{
		"run.id":    res.RunID,
		"plugin.id": p.ID,
		"archive":   p.Archive,
	}
	for k, v := range deviceProps {
		props[k] = v
	}

	res.Report = filepath.Join(c.cfg.ReportDir, fmt.Sprintf("TEST-%s-%s.xml", p.ShortName, start.Format(reportStamp)))
	var err error
	report, err = junit.Create(res.Report, p.ShortName, props, junit.WithClock(c.cfg.Now))
	if err != nil {
		res.Aborted = err.Error()
		c.narrate(logcat.Error, "Cannot create report: %v", err)
		return res
	}

	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		c.logger.Warn("output directory unavailable", "dir", c.cfg.OutputDir, "err", err)
	}

	env := plugin.Env{
		ShortName:  p.ShortName,
		Serial:     id.Serial,
		Properties: deviceProps,
		ReportPath: res.Report,
		OutputDir:  c.cfg.OutputDir,
		Log: func(sev logcat.Severity, msg string) {
			c.cfg.Sink.Publish(logcat.NewRecord(logcat.TagPlugin, sev, msg))
			report.Stdout("[" + logcat.TagPlugin + "] " + msg)
		},
	}
	narrate := func(sev logcat.Severity, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		c.cfg.Sink.Publish(logcat.NewRecord(logcat.TagTest, sev, msg))
		report.Stdout("[" + logcat.TagTest + "] " + msg)
	}

	sess, err := p.Unit.Open(ctx, env)
	if err != nil {
		res.Aborted = err.Error()
		narrate(logcat.Error, "Cannot load %s: %v", p.ShortName, err)
		report.Add(junit.Case{
			Name:      "initializationError",
			ClassName: p.ShortName,
			Error:     &junit.Detail{Message: err.Error(), Type: "load"},
		})
		cases["error"]++
		return res
	}
	defer func() {
		if err := sess.Close(); err != nil {
			c.logger.Warn("session close failed", "plugin", p.ID, "err", err)
		}
	}()

	for _, test := range p.Unit.Tests() {
		outcome := c.runTest(ctx, sess, p.ShortName, test, report, narrate)
		cases[outcome]++
	}
	return res
}

// runTest drives setup, the method and teardown for one test and records
// exactly one case. It returns the case result label.
func (c *Coordinator) runTest(ctx context.Context, sess plugin.Session, class, test string, report *junit.Report, narrate func(logcat.Severity, string, ...any)) string {
	begin := c.cfg.Now()
	tc := junit.Case{Name: test, ClassName: class}

	narrate(logcat.Info, "%s: setUp", test)
	err := c.step(ctx, func(ctx context.Context) error { return sess.SetUp(ctx) })
	if err == nil {
		narrate(logcat.Info, "%s: run", test)
		err = c.step(ctx, func(ctx context.Context) error { return sess.Run(ctx, test) })
	} else {
		err = errors.Wrap(err, errors.KindExecution, "setUp")
	}

	narrate(logcat.Info, "%s: tearDown", test)
	if terr := c.step(ctx, func(ctx context.Context) error { return sess.TearDown(ctx) }); terr != nil {
		if err == nil {
			err = errors.Wrap(terr, errors.KindExecution, "tearDown")
		} else {
			c.logger.Warn("tearDown failed after test error", "test", test, "err", terr)
		}
	}
	tc.Elapsed = c.cfg.Now().Sub(begin)

	outcome := "pass"
	var failure *plugin.Failure
	var crash *plugin.Crash
	var p *panicError
	switch {
	case err == nil:
		narrate(logcat.Pass, "%s passed", test)
	case errors.As(err, &failure):
		tc.Failure = &junit.Detail{Message: failure.Message, Type: "assertion", Trace: failure.Trace}
		unitStderr(report, test, failure.Trace)
		outcome = "failure"
		narrate(logcat.Error, "%s failed: %s", test, failure.Message)
	case errors.As(err, &crash):
		tc.Error = &junit.Detail{Message: crash.Message, Type: fmt.Sprintf("exit %d", crash.ExitCode), Trace: crash.Trace}
		unitStderr(report, test, crash.Trace)
		outcome = "error"
		narrate(logcat.Error, "%s crashed: %s", test, crash.Message)
	case errors.As(err, &p):
		tc.Error = &junit.Detail{Message: p.Error(), Type: "panic", Trace: p.stack}
		outcome = "error"
		narrate(logcat.Error, "%s panicked: %v", test, p.value)
	default:
		tc.Error = &junit.Detail{Message: err.Error(), Type: errors.GetKind(err).String()}
		outcome = "error"
		narrate(logcat.Error, "%s error: %v", test, err)
	}
	report.Add(tc)
	return outcome
}

// unitStderr copies what the unit wrote to stderr into system-err.
func unitStderr(report *junit.Report, test, trace string) {
	if trace == "" {
		return
	}
	report.Stderr(test + ":\n" + trace)
}

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// step runs one lifecycle call under the per-step timeout, turning a panic
// into an error.
func (c *Coordinator) step(ctx context.Context, fn func(context.Context) error) (err error) {
	if c.cfg.TestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TestTimeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec, stack: string(debug.Stack())}
		}
	}()
	err = fn(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		err = errors.Wrapf(err, errors.KindTimeout, "step exceeded %s", c.cfg.TestTimeout)
	}
	return err
}

func (c *Coordinator) finish(p plugin.Plugin, res Result, start time.Time, cases map[string]int) {
	defer func() {
		c.mu.Lock()
		c.current = ""
		c.last = &res
		c.mu.Unlock()
		c.running.Store(false)
	}()

	if res.Passed() {
		c.narrate(logcat.Pass, "PASS %s (%d tests, %s)", p.ShortName, res.Tests, res.Duration.Round(time.Millisecond))
	} else {
		c.narrate(logcat.Error, "FAIL %s (%d tests, %d failures, %d errors)", p.ShortName, res.Tests, res.Failures, res.Errors)
	}

	if c.cfg.Recorder != nil {
		id := c.cfg.Identity()
		rec := store.RunRecord{
			ID:        res.RunID,
			PluginID:  p.ID,
			ShortName: p.ShortName,
			Serial:    id.Serial,
			DisplayID: id.DisplayID,
			Timestamp: start,
			Duration:  res.Duration.Round(time.Millisecond).String(),
			Tests:     res.Tests,
			Failures:  res.Failures,
			Errors:    res.Errors,
			Success:   res.Passed(),
			Report:    res.Report,
			Aborted:   res.Aborted,
		}
		if err := c.cfg.Recorder.AddRun(rec); err != nil {
			c.logger.Warn("run not recorded", "run", res.RunID, "err", err)
		}
	}
	c.cfg.Metrics.RunFinished(res.Passed(), res.Duration.Seconds(), cases)
	c.setStatus(p.ID, plugin.StatusCompleted)
	c.logger.Info("run finished", "plugin", p.ID, "run", res.RunID, "tests", res.Tests,
		"failures", res.Failures, "errors", res.Errors, "report", res.Report)
}

func (c *Coordinator) setStatus(id string, s plugin.Status) {
	if err := c.catalog.SetStatus(id, s); err != nil {
		c.logger.Debug("status not updated", "plugin", id, "err", err)
	}
}

func (c *Coordinator) narrate(sev logcat.Severity, format string, args ...any) {
	c.cfg.Sink.Publish(logcat.NewRecord(logcat.TagTest, sev, fmt.Sprintf(format, args...)))
}
