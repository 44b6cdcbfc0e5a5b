// Package supervisor keeps a self-healing connection to one attached device.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/buckleypaul/certbench/internal/device"
	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/logcat"
	"github.com/buckleypaul/certbench/internal/logging"
)

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return "disconnected"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HeartbeatCommand is the no-op shell command used to detect silent loss.
const HeartbeatCommand = "echo"

// Observer is told about every state change. Identity is only set for Ready.
type Observer interface {
	ConnectionChanged(state State, id device.Identity)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(State, device.Identity)

func (f ObserverFunc) ConnectionChanged(s State, id device.Identity) { f(s, id) }

// Dependent is background work bound to the connection, stopped whenever
// the connection is lost.
type Dependent interface {
	Stop()
}

// Config tunes the supervision loop.
type Config struct {
	PollInterval time.Duration
	Backoff      time.Duration
	// Suppress pauses probing and heartbeats while it returns true, giving a
	// test run exclusive use of the transport.
	Suppress func() bool
	// Sink receives operator narration.
	Sink   logcat.Sink
	Logger *log.Logger
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		Backoff:      2 * time.Second,
	}
}

// Supervisor owns the transport's connectivity. Run drives it.
type Supervisor struct {
	transport device.Transport
	cfg       Config
	logger    *log.Logger

	mu         sync.RWMutex
	state      State
	identity   device.Identity
	observers  []Observer
	dependents []Dependent

	heartbeats   atomic.Uint64
	heartbeatErr atomic.Uint64
	transitions  atomic.Uint64
}

// New creates a supervisor in the Disconnected state.
func New(t device.Transport, cfg Config) *Supervisor {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.Suppress == nil {
		cfg.Suppress = func() bool { return false }
	}
	if cfg.Sink == nil {
		cfg.Sink = logcat.SinkFunc(func(logcat.Record) {})
	}
	return &Supervisor{
		transport: t,
		cfg:       cfg,
		logger:    logging.WithComponent(cfg.Logger, "supervisor"),
	}
}

// AddObserver registers o for state changes. Call before Run.
func (s *Supervisor) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// AddDependent registers work to stop on every connection loss.
func (s *Supervisor) AddDependent(d Dependent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dependents = append(s.dependents, d)
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns the device identity; empty unless Ready.
func (s *Supervisor) Identity() device.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Ready reports whether the device is connected and initialized.
func (s *Supervisor) Ready() bool {
	return s.State() == Ready
}

// Heartbeats returns the number of heartbeats sent and how many failed.
func (s *Supervisor) Heartbeats() (sent, failed uint64) {
	return s.heartbeats.Load(), s.heartbeatErr.Load()
}

// Transitions returns the number of state changes so far.
func (s *Supervisor) Transitions() uint64 {
	return s.transitions.Load()
}

// Run supervises the connection until ctx is cancelled. Transport errors
// and panics inside an iteration are recovered; the loop only ends with ctx.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Debug("starting", "poll", s.cfg.PollInterval, "backoff", s.cfg.Backoff)
	s.narrate(logcat.Debug, "Initializing ADB client...")

	for ctx.Err() == nil {
		err := s.session(ctx)
		if ctx.Err() != nil {
			break
		}
		s.lost(err)
		if !sleep(ctx, s.cfg.Backoff) {
			break
		}
	}

	s.stopDependents()
	s.transition(Disconnected, device.Identity{})
	s.logger.Debug("stopped")
}

// session attaches and polls until something fails. It always returns a
// non-nil error.
func (s *Supervisor) session(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("supervision iteration panicked", "panic", r)
			err = errors.Errorf(errors.KindInternal, "supervisor panic: %v", r)
		}
	}()

	if err := s.transport.StartOrAttach(ctx); err != nil {
		return err
	}
	if s.State() == Disconnected {
		s.transition(Connecting, device.Identity{})
	}

	for {
		if !sleep(ctx, s.cfg.PollInterval) {
			return ctx.Err()
		}
		if s.cfg.Suppress() {
			continue
		}

		ok, err := s.transport.IsInitialized(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New(errors.KindUnavailable, "device not initialized")
		}

		if s.State() != Ready {
			id, err := s.transport.Identity(ctx)
			if err != nil {
				return err
			}
			if !id.Valid() {
				return errors.New(errors.KindUnavailable, "device reported an empty serial")
			}
			s.transition(Ready, id)
			s.narrate(logcat.Pass, "Device Connected > "+device.Describe(id))
		}

		// A run may have started while we were probing.
		if s.cfg.Suppress() {
			continue
		}
		s.heartbeats.Add(1)
		if _, err := s.transport.Execute(ctx, HeartbeatCommand); err != nil {
			s.heartbeatErr.Add(1)
			return err
		}
	}
}

func (s *Supervisor) lost(err error) {
	prev := s.State()
	switch {
	case prev == Ready:
		s.logger.Warn("device lost", "err", err)
		s.narrate(logcat.Error, fmt.Sprintf("Device Disconnected: %v", err))
	case prev == Connecting && errors.IsKind(err, errors.KindRejected):
		s.logger.Warn("request rejected", "err", err)
		s.narrate(logcat.Error, fmt.Sprintf("Request Rejected: %v", err))
	default:
		s.logger.Debug("not connected", "err", err)
	}

	s.stopDependents()
	s.transition(Disconnected, device.Identity{})
}

func (s *Supervisor) stopDependents() {
	s.mu.RLock()
	deps := append([]Dependent(nil), s.dependents...)
	s.mu.RUnlock()
	for _, d := range deps {
		d.Stop()
	}
}

func (s *Supervisor) transition(to State, id device.Identity) {
	s.mu.Lock()
	if s.state == to {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = to
	s.identity = id
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	s.transitions.Add(1)
	s.logger.Info("connection state", "from", from, "to", to, "serial", id.Serial)
	for _, o := range observers {
		s.notify(o, to, id)
	}
}

func (s *Supervisor) notify(o Observer, to State, id device.Identity) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panicked", "panic", r)
		}
	}()
	o.ConnectionChanged(to, id)
}

func (s *Supervisor) narrate(sev logcat.Severity, msg string) {
	s.cfg.Sink.Publish(logcat.NewRecord(logcat.TagDevice, sev, msg))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
