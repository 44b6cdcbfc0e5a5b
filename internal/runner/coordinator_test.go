package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/certbench/internal/device"
	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/junit"
	"github.com/buckleypaul/certbench/internal/logcat"
	"github.com/buckleypaul/certbench/internal/plugin"
	"github.com/buckleypaul/certbench/internal/store"
)

type fakeCatalog struct {
	mu       sync.Mutex
	plugins  map[string]plugin.Plugin
	statuses []plugin.Status
}

func newCatalog(units ...*scriptedUnit) *fakeCatalog {
	c := &fakeCatalog{plugins: map[string]plugin.Plugin{}}
	for _, u := range units {
		id := "suite/" + u.name
		c.plugins[id] = plugin.Plugin{
			ID:          id,
			DisplayName: u.name + " title",
			ShortName:   u.name,
			Archive:     "/plugins/suite/units.zip",
			Tests:       u.tests,
			Unit:        u,
		}
	}
	return c
}

func (c *fakeCatalog) Get(id string) (plugin.Plugin, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.plugins[id]
	return p, ok
}

func (c *fakeCatalog) SetStatus(id string, s plugin.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, s)
	return nil
}

type scriptedUnit struct {
	name     string
	tests    []string
	run      func(ctx context.Context, env plugin.Env, test string) error
	setUp    error
	tearDown error
	openErr  error

	opens  atomic.Int32
	closes atomic.Int32
}

func (u *scriptedUnit) Name() string    { return u.name }
func (u *scriptedUnit) Tests() []string { return u.tests }

func (u *scriptedUnit) Open(_ context.Context, env plugin.Env) (plugin.Session, error) {
	if u.openErr != nil {
		return nil, u.openErr
	}
	u.opens.Add(1)
	return &scriptedSession{u: u, env: env}, nil
}

type scriptedSession struct {
	u   *scriptedUnit
	env plugin.Env
}

func (s *scriptedSession) SetUp(context.Context) error { return s.u.setUp }

func (s *scriptedSession) Run(ctx context.Context, test string) error {
	if s.u.run == nil {
		return nil
	}
	return s.u.run(ctx, s.env, test)
}

func (s *scriptedSession) TearDown(context.Context) error { return s.u.tearDown }

func (s *scriptedSession) Close() error {
	s.u.closes.Add(1)
	return nil
}

type recordSink struct {
	mu   sync.Mutex
	recs []logcat.Record
}

func (s *recordSink) Publish(r logcat.Record) {
	s.mu.Lock()
	s.recs = append(s.recs, r)
	s.mu.Unlock()
}

func (s *recordSink) messages(tag string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.recs {
		if r.Tag == tag {
			out = append(out, r.Message)
		}
	}
	return out
}

type memRecorder struct {
	mu   sync.Mutex
	runs []store.RunRecord
}

func (m *memRecorder) AddRun(r store.RunRecord) error {
	m.mu.Lock()
	m.runs = append(m.runs, r)
	m.mu.Unlock()
	return nil
}

type harness struct {
	coord    *Coordinator
	catalog  *fakeCatalog
	sink     *recordSink
	recorder *memRecorder
	dir      string
}

func newHarness(t *testing.T, units ...*scriptedUnit) *harness {
	t.Helper()
	h := &harness{
		catalog:  newCatalog(units...),
		sink:     &recordSink{},
		recorder: &memRecorder{},
		dir:      t.TempDir(),
	}
	h.coord = New(h.catalog, Config{
		ReportDir: h.dir,
		Identity: func() device.Identity {
			return device.Identity{Serial: "SER1", Model: "Pixel 7", OSVersion: "14", DisplayID: "UQ1A"}
		},
		Sink:     h.sink,
		Recorder: h.recorder,
	})
	return h
}

func TestFailingTestStillProducesReport(t *testing.T) {
	u := &scriptedUnit{name: "FDP_ACF_EXT", tests: []string{"permissions"},
		run: func(context.Context, plugin.Env, string) error {
			return &plugin.Failure{Message: "expected 1 got 2", Trace: "at permissions"}
		}}
	h := newHarness(t, u)

	res, err := h.coord.Run(context.Background(), "suite/FDP_ACF_EXT")
	require.NoError(t, err)

	assert.False(t, h.coord.Running())
	assert.GreaterOrEqual(t, res.Failures, 1)
	assert.False(t, res.Passed())

	s, err := junit.ReadSummary(res.Report)
	require.NoError(t, err, "report must be well-formed XML")
	assert.Equal(t, 1, s.Tests)
	assert.GreaterOrEqual(t, s.Failures, 1)
	assert.Equal(t, int32(1), u.closes.Load())

	data, err := os.ReadFile(res.Report)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<system-err><![CDATA[permissions:\nat permissions]]></system-err>")
}

func TestCrashStderrGoesToSystemErr(t *testing.T) {
	u := &scriptedUnit{name: "Crashy", tests: []string{"quiet", "loud"},
		run: func(_ context.Context, _ plugin.Env, test string) error {
			if test == "quiet" {
				return &plugin.Crash{Message: "exit status 2", ExitCode: 2}
			}
			return &plugin.Crash{Message: "exit status 1", ExitCode: 1, Trace: "segfault in keystore"}
		}}
	h := newHarness(t, u)

	res, err := h.coord.Run(context.Background(), "suite/Crashy")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Errors)

	data, err := os.ReadFile(res.Report)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<system-err><![CDATA[loud:\nsegfault in keystore]]></system-err>")
}

type panickingRecorder struct{}

func (panickingRecorder) AddRun(store.RunRecord) error { panic("disk gone") }

func TestRecorderPanicStillClearsRunning(t *testing.T) {
	u := &scriptedUnit{name: "Fine", tests: []string{"ok"}}
	h := newHarness(t, u)
	h.coord.cfg.Recorder = panickingRecorder{}

	assert.PanicsWithValue(t, "disk gone", func() {
		_, _ = h.coord.Run(context.Background(), "suite/Fine")
	})
	assert.False(t, h.coord.Running())
	assert.Empty(t, h.coord.Current())

	h.coord.cfg.Recorder = h.recorder
	_, err := h.coord.Run(context.Background(), "suite/Fine")
	assert.NotErrorIs(t, err, ErrBusy)
}

func TestPanickingTestIsRecordedAsError(t *testing.T) {
	u := &scriptedUnit{name: "Boom", tests: []string{"explodes", "fine"},
		run: func(_ context.Context, _ plugin.Env, test string) error {
			if test == "explodes" {
				panic("nil map write")
			}
			return nil
		}}
	h := newHarness(t, u)

	res, err := h.coord.Run(context.Background(), "suite/Boom")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tests)
	assert.Equal(t, 1, res.Errors)
	assert.False(t, h.coord.Running())
	assert.Equal(t, int32(1), u.closes.Load())

	data, err := os.ReadFile(res.Report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `type="panic"`)
	assert.NotContains(t, string(data), "runtime/debug.Stack")
}

func TestTestsCountMatchesExecutedMethods(t *testing.T) {
	var ran []string
	u := &scriptedUnit{name: "Three", tests: []string{"a", "b", "c"},
		run: func(_ context.Context, _ plugin.Env, test string) error {
			ran = append(ran, test)
			if test == "b" {
				return &plugin.Crash{Message: "segv", ExitCode: 139}
			}
			return nil
		}}
	h := newHarness(t, u)

	res, err := h.coord.Run(context.Background(), "suite/Three")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ran)

	s, err := junit.ReadSummary(res.Report)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Tests)
	assert.Equal(t, 0, s.Failures)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, []string{"a", "b", "c"}, s.Cases)
}

func TestSecondRunWhileBusyIsDropped(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	u := &scriptedUnit{name: "Slow", tests: []string{"wait"},
		run: func(context.Context, plugin.Env, string) error {
			calls.Add(1)
			close(started)
			<-release
			return nil
		}}
	h := newHarness(t, u)

	require.NoError(t, h.coord.Start(context.Background(), "suite/Slow"))
	<-started
	assert.True(t, h.coord.Running())
	assert.Equal(t, "suite/Slow", h.coord.Current())

	err := h.coord.Start(context.Background(), "suite/Slow")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = h.coord.Run(context.Background(), "suite/Slow")
	assert.True(t, errors.IsKind(err, errors.KindBusy))

	close(release)
	h.coord.Wait()

	assert.False(t, h.coord.Running())
	assert.Equal(t, "", h.coord.Current())
	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, h.recorder.runs, 1)

	last, ok := h.coord.Last()
	require.True(t, ok)
	assert.True(t, last.Passed())
}

func TestOpenFailureFinalizesAndReturnsToIdle(t *testing.T) {
	u := &scriptedUnit{name: "Broken", tests: []string{"x"},
		openErr: errors.New(errors.KindPluginLoad, "archive vanished")}
	h := newHarness(t, u)

	res, err := h.coord.Run(context.Background(), "suite/Broken")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Aborted)
	assert.False(t, h.coord.Running())

	s, err := junit.ReadSummary(res.Report)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, []string{"initializationError"}, s.Cases)
}

func TestSetUpAndTearDownFailures(t *testing.T) {
	var ran atomic.Int32
	u := &scriptedUnit{name: "Fixture", tests: []string{"a"},
		setUp: errors.New(errors.KindExecution, "no wifi"),
		run: func(context.Context, plugin.Env, string) error {
			ran.Add(1)
			return nil
		}}
	h := newHarness(t, u)
	res, err := h.coord.Run(context.Background(), "suite/Fixture")
	require.NoError(t, err)
	assert.Equal(t, int32(0), ran.Load(), "method skipped when setUp fails")
	assert.Equal(t, 1, res.Errors)

	u2 := &scriptedUnit{name: "Teardown", tests: []string{"a"},
		tearDown: &plugin.Failure{Message: "leftover state"}}
	h2 := newHarness(t, u2)
	res, err = h2.coord.Run(context.Background(), "suite/Teardown")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failures)
}

func TestNarrationAndRecords(t *testing.T) {
	u := &scriptedUnit{name: "Talky", tests: []string{"speak"},
		run: func(_ context.Context, env plugin.Env, _ string) error {
			env.Logf("serial is %s", env.Serial)
			assert.Equal(t, "Pixel 7", env.Properties["device.model"])
			assert.NotEmpty(t, env.ReportPath)
			return nil
		}}
	h := newHarness(t, u)

	res, err := h.coord.Run(context.Background(), "suite/Talky")
	require.NoError(t, err)

	test := h.sink.messages(logcat.TagTest)
	require.NotEmpty(t, test)
	assert.Equal(t, "Run Talky title", test[0])
	assert.Contains(t, test[len(test)-1], "PASS Talky")
	assert.Equal(t, []string{"serial is SER1"}, h.sink.messages(logcat.TagPlugin))

	data, err := os.ReadFile(res.Report)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[PLUGIN] serial is SER1")
	assert.Contains(t, string(data), `<property name="device.serial" value="SER1">`)

	require.Len(t, h.recorder.runs, 1)
	rec := h.recorder.runs[0]
	_, err = uuid.Parse(rec.ID)
	assert.NoError(t, err)
	assert.Equal(t, "suite/Talky", rec.PluginID)
	assert.Equal(t, "SER1", rec.Serial)
	assert.True(t, rec.Success)

	assert.Equal(t, []plugin.Status{plugin.StatusRunning, plugin.StatusCompleted}, h.catalog.statuses)
}

func TestReportFileName(t *testing.T) {
	u := &scriptedUnit{name: "Named", tests: []string{"a"}}
	h := newHarness(t, u)
	h.coord.cfg.Now = func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local) }

	res, err := h.coord.Run(context.Background(), "suite/Named")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dir, "TEST-Named-20240305-140709.xml"), res.Report)
	assert.FileExists(t, res.Report)
}

func TestStepTimeout(t *testing.T) {
	u := &scriptedUnit{name: "Hang", tests: []string{"forever"},
		run: func(ctx context.Context, _ plugin.Env, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		}}
	h := newHarness(t, u)
	h.coord.cfg.TestTimeout = 20 * time.Millisecond

	res, err := h.coord.Run(context.Background(), "suite/Hang")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	data, err := os.ReadFile(res.Report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `type="timeout"`)
}

func TestRunIgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	u := &scriptedUnit{name: "Detached", tests: []string{"a"},
		run: func(ctx context.Context, _ plugin.Env, _ string) error {
			cancel()
			return ctx.Err()
		}}
	h := newHarness(t, u)

	res, err := h.coord.Run(ctx, "suite/Detached")
	require.NoError(t, err)
	assert.True(t, res.Passed())
}

func TestUnknownPlugin(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.Run(context.Background(), "suite/missing")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	assert.False(t, h.coord.Running())
	assert.True(t, errors.IsKind(h.coord.Start(context.Background(), "nope"), errors.KindNotFound))
}
