package logcat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/logging"
)

// Opener opens a live text stream. Closing the returned reader must release
// the underlying process or port.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// StreamerConfig wires a Streamer.
type StreamerConfig struct {
	// Name identifies the stream in narration and diagnostics.
	Name string
	Open Opener
	// Ready gates Start; nil means always ready.
	Ready func() bool
	Sink  Sink
	Audit LineWriter
	// FallbackTag labels lines the parser rejects. Defaults to RAW.
	FallbackTag string
	Format      Format
	// OnLine is called once per ingested line.
	OnLine func()
	Logger *log.Logger
}

// Streamer owns at most one cancellable ingestion job.
type Streamer struct {
	cfg    StreamerConfig
	logger *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamer creates an idle streamer.
func NewStreamer(cfg StreamerConfig) *Streamer {
	if cfg.Name == "" {
		cfg.Name = "logcat"
	}
	if cfg.FallbackTag == "" {
		cfg.FallbackTag = TagRaw
	}
	if cfg.Sink == nil {
		cfg.Sink = SinkFunc(func(Record) {})
	}
	return &Streamer{
		cfg:    cfg,
		logger: logging.WithComponent(cfg.Logger, cfg.Name),
	}
}

// Name returns the stream name.
func (s *Streamer) Name() string { return s.cfg.Name }

// Start launches the ingestion job. It is a no-op, returning false, when a
// job is already active or the source is not ready.
func (s *Streamer) Start(parent context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return false
	}
	if s.cfg.Ready != nil && !s.cfg.Ready() {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.run(ctx, done)
	return true
}

// Stop cancels the active job and waits for it to release its stream. Safe
// to call at any time, any number of times.
func (s *Streamer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Active reports whether a job is running.
func (s *Streamer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

func (s *Streamer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.release(done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stream job panicked", "panic", r)
			s.cfg.Sink.Publish(NewRecord(TagDevice, Error, fmt.Sprintf("%s stream crashed: %v", s.cfg.Name, r)))
		}
	}()

	rc, err := s.cfg.Open(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.streamFailed(err)
		}
		return
	}
	defer rc.Close()

	// A blocked Read only returns once the stream is closed.
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer stop()

	s.logger.Debug("stream opened")
	var (
		asm    LineAssembler
		format = s.cfg.Format
		buf    = make([]byte, 32*1024)
	)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			for _, line := range asm.Feed(buf[:n]) {
				format = s.ingest(line, format)
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			s.logger.Debug("stream cancelled")
			return
		}
		if line, ok := asm.Flush(); ok {
			s.ingest(line, format)
		}
		if err == io.EOF {
			s.logger.Info("stream ended")
			s.cfg.Sink.Publish(NewRecord(TagDevice, Warn, s.cfg.Name+" stream ended"))
			return
		}
		s.streamFailed(err)
		return
	}
}

func (s *Streamer) ingest(line string, format Format) Format {
	if s.cfg.Audit != nil {
		s.cfg.Audit.WriteLine(line)
	}
	if s.cfg.OnLine != nil {
		s.cfg.OnLine()
	}

	if format == FormatAuto && isSniffable(line) {
		format = Sniff(line)
		s.logger.Debug("log format detected", "format", format)
	}

	rec, ok := format.Parse(line)
	if !ok {
		rec = Fallback(s.cfg.FallbackTag, line)
	}
	s.cfg.Sink.Publish(rec)
	return format
}

func (s *Streamer) streamFailed(err error) {
	err = errors.Wrapf(err, errors.KindTransport, "%s stream", s.cfg.Name)
	s.logger.Error("stream failed", "err", err)
	s.cfg.Sink.Publish(NewRecord(TagDevice, Error, err.Error()))
}

// release clears the job slot if it still belongs to this run.
func (s *Streamer) release(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done {
		s.cancel()
		s.cancel, s.done = nil, nil
	}
}

// isSniffable skips blank lines and logcat's "--------- beginning of" banners.
func isSniffable(line string) bool {
	t := strings.TrimSpace(line)
	return t != "" && !strings.HasPrefix(t, "---------")
}
