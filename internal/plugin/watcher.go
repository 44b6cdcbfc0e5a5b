package plugin

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/logging"
)

// DefaultDebounce collapses bursts of file events (a copy in progress) into
// one refresh.
const DefaultDebounce = 500 * time.Millisecond

// Watcher refreshes a Registry when archives appear, change or vanish.
type Watcher struct {
	reg      *Registry
	debounce time.Duration
	logger   *log.Logger
	// OnRefresh, if set, is called after every triggered refresh.
	OnRefresh func(ScanResult, error)
}

// NewWatcher creates a watcher for reg's root.
func NewWatcher(reg *Registry, debounce time.Duration, logger *log.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{reg: reg, debounce: debounce, logger: logging.WithComponent(logger, "plugin-watch")}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, errors.KindIO, "create watcher")
	}
	defer fw.Close()

	if err := w.addTree(fw, w.reg.Root()); err != nil {
		return err
	}

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if isDir(ev.Name) {
					w.addTree(fw, ev.Name)
				}
			}
			if relevant(ev) {
				fire = time.After(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)
		case <-fire:
			fire = nil
			res, err := w.reg.Refresh(ctx)
			if err != nil {
				w.logger.Warn("refresh failed", "err", err)
			} else {
				w.logger.Info("plugins refreshed", "summary", res.Summary())
			}
			if w.OnRefresh != nil {
				w.OnRefresh(res, err)
			}
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return errors.Wrapf(err, errors.KindNotFound, "watch %s", root)
			}
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(p); err != nil {
				w.logger.Warn("cannot watch directory", "dir", p, "err", err)
			}
		}
		return nil
	})
}

func relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	// Directory removals and renames carry no extension.
	return strings.EqualFold(filepath.Ext(ev.Name), ArchiveExt) || filepath.Ext(ev.Name) == ""
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
