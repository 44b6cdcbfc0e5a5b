// Package bench wires the device supervisor, log pipeline, plugin registry
// and test runner into one console that every front end drives.
package bench

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/buckleypaul/certbench/internal/config"
	"github.com/buckleypaul/certbench/internal/device"
	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/logcat"
	"github.com/buckleypaul/certbench/internal/logging"
	"github.com/buckleypaul/certbench/internal/metrics"
	"github.com/buckleypaul/certbench/internal/plugin"
	"github.com/buckleypaul/certbench/internal/runner"
	"github.com/buckleypaul/certbench/internal/serial"
	"github.com/buckleypaul/certbench/internal/store"
	"github.com/buckleypaul/certbench/internal/supervisor"
)

const sampleInterval = 2 * time.Second

// UiState is the snapshot front ends render.
type UiState struct {
	IsRunning     bool             `json:"is_running"`
	IsDeviceReady bool             `json:"is_device_ready"`
	Connection    supervisor.State `json:"connection"`
	Identity      device.Identity  `json:"identity"`
	CurrentTest   string           `json:"current_test,omitempty"`
	LogStreaming  bool             `json:"log_streaming"`
	UARTStreaming bool             `json:"uart_streaming"`
	UARTPort      string           `json:"uart_port,omitempty"`
	Plugins       int              `json:"plugins"`
	BufferLen     int              `json:"buffer_len"`
	BufferCap     int              `json:"buffer_cap"`
}

// Options configures New.
type Options struct {
	Config config.Config
	// Root is the workspace root; relative config paths resolve against it.
	Root string
	// Transport defaults to adb.
	Transport device.Transport
	Logger    *log.Logger
	Metrics   *metrics.Metrics
	// SerialOpener replaces the UART driver.
	SerialOpener serial.PortOpener
}

// Bench owns every long-lived component.
type Bench struct {
	cfg     config.Config
	root    string
	dataDir string
	logger  *log.Logger
	metrics *metrics.Metrics
	opener  serial.PortOpener

	Buffer     *logcat.Buffer
	Transport  device.Transport
	Supervisor *supervisor.Supervisor
	Registry   *plugin.Registry
	Runner     *runner.Coordinator
	Store      *store.Store

	audit     *logcat.AuditFile
	logStream *logcat.Streamer

	mu       sync.Mutex
	ctx      context.Context
	console  *serial.Console
	uart     *logcat.Streamer
	onChange []func(supervisor.State)
}

// New builds the bench. Nothing runs until Run.
func New(opts Options) (*Bench, error) {
	cfg := opts.Config
	if cfg.LogBufferCapacity <= 0 {
		cfg.LogBufferCapacity = config.DefaultLogBufferCapacity
	}
	root := opts.Root
	if root == "" {
		root = "."
	}
	b := &Bench{
		cfg:     cfg,
		root:    root,
		dataDir: config.DataDir(root),
		logger:  logging.WithComponent(opts.Logger, "bench"),
		metrics: opts.Metrics,
		opener:  opts.SerialOpener,
		ctx:     context.Background(),
	}

	b.Store = store.New(b.dataDir)
	b.Buffer = logcat.NewBuffer(cfg.LogBufferCapacity)
	b.Buffer.OnEvict(b.metrics.Evicted)

	b.Transport = opts.Transport
	if b.Transport == nil {
		b.Transport = device.NewADB(device.ResolveTool("adb", cfg.ADBPath),
			device.WithSerial(cfg.DeviceSerial),
			device.WithLogger(opts.Logger))
	}

	if cfg.AuditLog != "" {
		audit, err := logcat.OpenAudit(config.Resolve(b.dataDir, cfg.AuditLog), cfg.ResetAuditLog, opts.Logger)
		if err != nil {
			b.logger.Warn("audit log disabled", "err", err)
		} else {
			b.audit = audit
		}
	}

	b.Supervisor = supervisor.New(b.Transport, supervisor.Config{
		PollInterval: cfg.PollInterval(),
		Backoff:      cfg.Backoff(),
		Suppress:     b.testRunning,
		Sink:         b.Buffer,
		Logger:       opts.Logger,
	})
	b.Supervisor.AddObserver(supervisor.ObserverFunc(b.connectionChanged))

	transport := b.Transport
	format := cfg.LogcatFormat
	b.logStream = logcat.NewStreamer(logcat.StreamerConfig{
		Name: "logcat",
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return transport.OpenLogStream(ctx, format)
		},
		Ready:  b.Supervisor.Ready,
		Sink:   b.Buffer,
		Audit:  b.auditWriter(),
		OnLine: func() { b.metrics.LineIngested("logcat") },
		Logger: opts.Logger,
	})
	b.Supervisor.AddDependent(b.logStream)

	b.Registry = plugin.NewRegistry(
		config.Resolve(root, cfg.PluginDir),
		&plugin.ZipLoader{CacheDir: filepath.Join(b.dataDir, "cache"), Logger: opts.Logger},
		plugin.WithBusy(b.testRunning),
		plugin.WithRegistryLogger(opts.Logger),
	)

	b.Runner = runner.New(b.Registry, runner.Config{
		ReportDir:   config.Resolve(root, cfg.OutputDir),
		TestTimeout: cfg.TestTimeout(),
		Identity:    b.Supervisor.Identity,
		Sink:        b.Buffer,
		Recorder:    b.Store,
		Metrics:     b.metrics,
		Logger:      opts.Logger,
	})
	return b, nil
}

// auditWriter avoids handing a typed nil to the streamer.
func (b *Bench) auditWriter() logcat.LineWriter {
	if b.audit == nil {
		return nil
	}
	return b.audit
}

func (b *Bench) testRunning() bool {
	return b.Runner != nil && b.Runner.Running()
}

// Config returns the configuration the bench was built with.
func (b *Bench) Config() config.Config { return b.cfg }

// Root returns the workspace root.
func (b *Bench) Root() string { return b.root }

// DataDir returns the .certbench directory.
func (b *Bench) DataDir() string { return b.dataDir }

// OnConnectionChange registers fn for state changes. Call before Run.
func (b *Bench) OnConnectionChange(fn func(supervisor.State)) {
	b.mu.Lock()
	b.onChange = append(b.onChange, fn)
	b.mu.Unlock()
}

// Run scans plugins once, then supervises the device until ctx ends.
func (b *Bench) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	if _, err := b.RefreshPlugins(ctx); err != nil {
		b.Narrate(logcat.Warn, "Plugin scan failed: "+err.Error())
	}

	g.Go(func() error {
		b.Supervisor.Run(ctx)
		return nil
	})
	if b.cfg.WatchPlugins {
		w := plugin.NewWatcher(b.Registry, plugin.DefaultDebounce, b.logger)
		w.OnRefresh = b.scanned
		g.Go(func() error {
			if err := w.Run(ctx); err != nil {
				b.logger.Warn("plugin watcher stopped", "err", err)
			}
			return nil
		})
	}
	if b.metrics != nil {
		g.Go(func() error {
			b.sample(ctx)
			return nil
		})
	}
	if b.cfg.UARTPort != "" {
		if err := b.StartUART(b.cfg.UARTPort, b.cfg.UARTBaudRate); err != nil {
			b.Narrate(logcat.Warn, "UART not started: "+err.Error())
		}
	}

	err := g.Wait()
	b.shutdown()
	return err
}

func (b *Bench) shutdown() {
	b.logStream.Stop()
	b.StopUART()
	b.Runner.Wait()
	if b.audit != nil {
		if err := b.audit.Close(); err != nil {
			b.logger.Warn("audit close failed", "err", err)
		}
	}
}

func (b *Bench) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

func (b *Bench) connectionChanged(state supervisor.State, id device.Identity) {
	b.metrics.Transition(int(state), state.String())
	if state == supervisor.Ready && b.cfg.AutoOpenLogStream {
		b.StartLogStream()
	}

	b.mu.Lock()
	fns := append(([]func(supervisor.State))(nil), b.onChange...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}

// State snapshots the bench for rendering.
func (b *Bench) State() UiState {
	state := b.Supervisor.State()
	s := UiState{
		IsRunning:     b.Runner.Running(),
		IsDeviceReady: state == supervisor.Ready,
		Connection:    state,
		Identity:      b.Supervisor.Identity(),
		CurrentTest:   b.Runner.Current(),
		LogStreaming:  b.logStream.Active(),
		Plugins:       b.Registry.Len(),
		BufferLen:     b.Buffer.Len(),
		BufferCap:     b.Buffer.Cap(),
	}
	b.mu.Lock()
	if b.uart != nil {
		s.UARTStreaming = b.uart.Active()
		s.UARTPort = b.console.Port()
	}
	b.mu.Unlock()
	return s
}

// Narrate publishes an operator message under the DEVICE tag.
func (b *Bench) Narrate(sev logcat.Severity, msg string) {
	b.Buffer.Publish(logcat.NewRecord(logcat.TagDevice, sev, msg))
}

// StartLogStream starts device log ingestion. It returns false when the
// device is not ready or a stream is already running.
func (b *Bench) StartLogStream() bool {
	started := b.logStream.Start(b.context())
	if started {
		b.recordStream("logcat", "", 0)
	}
	return started
}

// StopLogStream stops device log ingestion.
func (b *Bench) StopLogStream() { b.logStream.Stop() }

// LogStreaming reports whether device logs are being ingested.
func (b *Bench) LogStreaming() bool { return b.logStream.Active() }

// StartUART opens a serial console and streams it into the log buffer.
// Any previous UART stream is stopped first.
func (b *Bench) StartUART(port string, baud int) error {
	if port == "" {
		return errors.New(errors.KindValidation, "no UART port given")
	}
	if baud <= 0 {
		baud = config.DefaultBaudRate
	}
	b.StopUART()

	var opts []serial.ConsoleOption
	if b.opener != nil {
		opts = append(opts, serial.WithOpener(b.opener))
	}
	console := serial.NewConsole(port, baud, opts...)
	uart := logcat.NewStreamer(logcat.StreamerConfig{
		Name:        "uart",
		Open:        console.Open,
		Sink:        b.Buffer,
		Audit:       b.auditWriter(),
		FallbackTag: logcat.TagUART,
		OnLine:      func() { b.metrics.LineIngested("uart") },
		Logger:      b.logger,
	})

	b.mu.Lock()
	b.console = console
	b.uart = uart
	b.mu.Unlock()

	if !uart.Start(b.context()) {
		return errors.Errorf(errors.KindInternal, "UART stream on %s did not start", port)
	}
	b.recordStream("uart", port, baud)
	return nil
}

// StopUART stops the serial console stream, if any.
func (b *Bench) StopUART() {
	b.mu.Lock()
	uart := b.uart
	b.mu.Unlock()
	if uart != nil {
		uart.Stop()
	}
}

// WriteUART sends input to the serial console.
func (b *Bench) WriteUART(data []byte) error {
	b.mu.Lock()
	console := b.console
	b.mu.Unlock()
	if console == nil {
		return errors.New(errors.KindUnavailable, "no UART console open")
	}
	return console.Write(data)
}

func (b *Bench) recordStream(source, port string, baud int) {
	rec := store.StreamSession{Source: source, Port: port, BaudRate: baud, Timestamp: time.Now()}
	if b.audit != nil {
		rec.LogFile = b.audit.Path()
	}
	if err := b.Store.AddStream(rec); err != nil {
		b.logger.Debug("stream session not recorded", "err", err)
	}
}

// RefreshPlugins rescans the plugin directory. While a test runs the scan
// is refused with a warning.
func (b *Bench) RefreshPlugins(ctx context.Context) (plugin.ScanResult, error) {
	res, err := b.Registry.Refresh(ctx)
	b.scanned(res, err)
	return res, err
}

func (b *Bench) scanned(res plugin.ScanResult, err error) {
	if err != nil {
		return
	}
	if res.Warning != "" {
		b.Narrate(logcat.Warn, res.Warning)
		return
	}
	b.metrics.ScanFinished(b.Registry.Len(), len(res.Failures))
	for _, f := range res.Failures {
		b.Buffer.Publish(logcat.NewRecord(logcat.TagPlugin, logcat.Error,
			"Cannot load "+filepath.Base(f.Archive)+": "+f.Err.Error()))
	}
	b.Buffer.Publish(logcat.NewRecord(logcat.TagPlugin, logcat.Info, res.Summary()))
}

// RunTest starts a plugin in the background. ErrBusy means a run is
// already in progress and the request was dropped.
func (b *Bench) RunTest(id string) error {
	return b.Runner.Start(b.context(), id)
}

func (b *Bench) sample(ctx context.Context) {
	t := time.NewTicker(sampleInterval)
	defer t.Stop()
	var prev metrics.Sample
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		cur := metrics.Sample{BufferSize: b.Buffer.Len()}
		cur.HeartbeatsOK, cur.HeartbeatsBad = b.Supervisor.Heartbeats()
		cur.HeartbeatsOK -= cur.HeartbeatsBad
		if b.audit != nil {
			cur.AuditDropped = b.audit.Dropped()
			cur.AuditErrors = b.audit.WriteErrors()
		}
		b.metrics.Observe(prev, cur)
		prev = cur
	}
}

// Plugins lists the registry in discovery order.
func (b *Bench) Plugins() []plugin.Plugin { return b.Registry.List() }

// Logs returns the newest n buffered records; n <= 0 returns all.
func (b *Bench) Logs(n int) []logcat.Record {
	if n <= 0 {
		return b.Buffer.Snapshot()
	}
	return b.Buffer.Tail(n)
}

// SubscribeLogs follows new records. Call cancel when done.
func (b *Bench) SubscribeLogs(size int) (<-chan logcat.Record, func()) {
	return b.Buffer.Subscribe(size)
}

// Runs returns the run history, oldest first.
func (b *Bench) Runs() ([]store.RunRecord, error) { return b.Store.Runs() }

// LogVersion changes whenever the buffer does.
func (b *Bench) LogVersion() uint64 { return b.Buffer.Version() }

// SetLogCapacity resizes the log buffer, keeping the newest records.
// Non-positive values are ignored.
func (b *Bench) SetLogCapacity(n int) { b.Buffer.SetCapacity(n) }

// LastResult is the most recent completed run, if any.
func (b *Bench) LastResult() (runner.Result, bool) { return b.Runner.Last() }

// ScreenshotDir is where device screenshots are saved.
func (b *Bench) ScreenshotDir() string { return filepath.Join(b.dataDir, "screenshots") }
