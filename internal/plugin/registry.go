// Package plugin discovers test units in archives and runs them in isolation.
package plugin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/logging"
)

// ArchiveExt marks plugin archives in the plugin directory.
const ArchiveExt = ".zip"

// Status is a plugin's run status.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	default:
		return "ready"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Plugin is one discovered test unit. ID is stable across rescans.
type Plugin struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	ShortName   string   `json:"short_name"`
	Description string   `json:"description,omitempty"`
	Suite       string   `json:"suite,omitempty"`
	Archive     string   `json:"archive"`
	Tests       []string `json:"tests"`
	Status      Status   `json:"status"`
	Unit        Unit     `json:"-"`
}

// Loader turns one archive into plugins.
type Loader interface {
	Load(ctx context.Context, archive string) ([]Plugin, error)
}

// ArchiveFailure records an archive that could not be loaded.
type ArchiveFailure struct {
	Archive string
	Err     error
}

// ScanResult summarizes a scan or refresh.
type ScanResult struct {
	Archives   int
	Added      []string
	Duplicates []string
	Failures   []ArchiveFailure
	// Warning is set when a refresh was refused.
	Warning string
}

// Registry is the concurrency-safe catalog of discovered plugins.
type Registry struct {
	root   string
	loader Loader
	busy   func() bool
	logger *log.Logger

	scanMu sync.Mutex

	mu      sync.RWMutex
	plugins []Plugin
	index   map[string]int
	version uint64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBusy makes Refresh refuse while busy returns true.
func WithBusy(busy func() bool) RegistryOption {
	return func(r *Registry) { r.busy = busy }
}

// WithRegistryLogger sets the diagnostics logger.
func WithRegistryLogger(l *log.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry for the plugin directory root.
func NewRegistry(root string, loader Loader, opts ...RegistryOption) *Registry {
	r := &Registry{
		root:   root,
		loader: loader,
		busy:   func() bool { return false },
		index:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.WithComponent(r.logger, "plugins")
	return r
}

// Root returns the plugin directory.
func (r *Registry) Root() string { return r.root }

// Scan walks root for archives and adds every new plugin. Plugins already
// registered under the same ID are left in place. Per-archive failures are
// collected in the result; only an unreadable root is an error.
func (r *Registry) Scan(ctx context.Context, root string) (ScanResult, error) {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	r.mu.RLock()
	known := make(map[string]bool, len(r.index))
	for id := range r.index {
		known[id] = true
	}
	r.mu.RUnlock()

	found, res, err := r.collect(ctx, root, known)
	if err != nil {
		return res, err
	}

	r.mu.Lock()
	for _, p := range found {
		if _, dup := r.index[p.ID]; dup {
			res.Duplicates = append(res.Duplicates, p.ID)
			continue
		}
		r.index[p.ID] = len(r.plugins)
		r.plugins = append(r.plugins, p)
	}
	r.version++
	r.mu.Unlock()
	return res, nil
}

// Refresh clears the registry and rescans its root. While a test is running
// it does nothing and returns a warning instead.
func (r *Registry) Refresh(ctx context.Context) (ScanResult, error) {
	if r.busy() {
		r.logger.Warn("refresh refused while a test is running")
		return ScanResult{Warning: "a test is running; plugin refresh skipped"}, nil
	}

	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	found, res, err := r.collect(ctx, r.root, map[string]bool{})
	if err != nil {
		return res, err
	}

	plugins := make([]Plugin, 0, len(found))
	index := make(map[string]int, len(found))
	for _, p := range found {
		index[p.ID] = len(plugins)
		plugins = append(plugins, p)
	}

	r.mu.Lock()
	r.plugins = plugins
	r.index = index
	r.version++
	r.mu.Unlock()
	return res, nil
}

// collect loads every archive under root. Duplicate IDs (against known or
// earlier in the walk) are dropped.
func (r *Registry) collect(ctx context.Context, root string, known map[string]bool) ([]Plugin, ScanResult, error) {
	var res ScanResult

	info, err := os.Stat(root)
	if err != nil {
		return nil, res, errors.Wrapf(err, errors.KindNotFound, "plugin directory %s", root)
	}
	if !info.IsDir() {
		return nil, res, errors.Errorf(errors.KindValidation, "plugin directory %s is not a directory", root)
	}

	var archives []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			res.Failures = append(res.Failures, ArchiveFailure{Archive: p, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ArchiveExt) {
			archives = append(archives, p)
		}
		return nil
	})
	if err != nil {
		return nil, res, errors.Wrap(err, errors.KindIO, "walk plugin directory")
	}

	var found []Plugin
	for _, archive := range archives {
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}
		res.Archives++

		plugins, err := r.load(ctx, archive)
		if err != nil {
			r.logger.Warn("archive skipped", "archive", archive, "err", err)
			res.Failures = append(res.Failures, ArchiveFailure{Archive: archive, Err: err})
			continue
		}
		for _, p := range plugins {
			if known[p.ID] {
				res.Duplicates = append(res.Duplicates, p.ID)
				r.logger.Debug("duplicate plugin", "id", p.ID, "archive", archive)
				continue
			}
			known[p.ID] = true
			found = append(found, p)
			res.Added = append(res.Added, p.ID)
		}
	}
	r.logger.Info("scan complete", "root", root, "archives", res.Archives, "added", len(res.Added), "failures", len(res.Failures))
	return found, res, nil
}

func (r *Registry) load(ctx context.Context, archive string) (plugins []Plugin, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf(errors.KindPluginLoad, "loader panicked: %v", rec)
		}
	}()
	return r.loader.Load(ctx, archive)
}

// Clear removes every plugin.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = nil
	r.index = make(map[string]int)
	r.version++
}

// List returns a snapshot of all plugins in discovery order.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Plugin(nil), r.plugins...)
}

// Len returns the number of plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Version changes whenever the catalog changes.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Get looks a plugin up by ID.
func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return Plugin{}, false
	}
	return r.plugins[i], true
}

// SetStatus updates a plugin's run status.
func (r *Registry) SetStatus(id string, s Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "plugin %s", id)
	}
	r.plugins[i].Status = s
	r.version++
	return nil
}

// Summary renders a one-line description of a scan.
func (res ScanResult) Summary() string {
	if res.Warning != "" {
		return res.Warning
	}
	s := fmt.Sprintf("%d plugins from %d archives", len(res.Added), res.Archives)
	if n := len(res.Failures); n > 0 {
		s += fmt.Sprintf(", %d failed", n)
	}
	return s
}
