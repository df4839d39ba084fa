// Package watch reacts to changes made to the data root outside the program.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 750 * time.Millisecond

type Handler func(ctx context.Context) error

type Options struct {
	Root     string
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher runs a handler once a burst of filesystem events under the root
// has settled. The root and its direct subdirectories are watched.
type Watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	debounce time.Duration
	handler  Handler
	logger   *slog.Logger
	runs     atomic.Int64
}

func New(opts Options, handler Handler) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watch handler is nil")
	}
	root := filepath.Clean(opts.Root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("data root: %w", err)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	w := &Watcher{fsw: fsw, root: root, debounce: debounce, handler: handler, logger: logger}
	if err := w.addTree(); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree() error {
	if err := w.fsw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.root, err)
	}
	for _, entry := range entries {
		if entry.IsDir() && !hidden(entry.Name()) {
			w.add(filepath.Join(w.root, entry.Name()))
		}
	}
	return nil
}

func (w *Watcher) add(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("watch failed", "path", dir, "err", err)
	}
}

// Runs returns how many times the handler has been invoked.
func (w *Watcher) Runs() int {
	return int(w.runs.Load())
}

// Run blocks until ctx is done. Handler errors are logged and do not stop
// the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	w.logger.Info("watching data root", "root", w.root, "debounce", w.debounce)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watch stopping", "err", ctx.Err())
			return nil
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(evt) {
				continue
			}
			w.logger.Debug("data root changed", "path", evt.Name, "op", evt.Op.String())
			if evt.Has(fsnotify.Create) && filepath.Dir(evt.Name) == w.root {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					w.add(evt.Name)
				}
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)
		case <-timer.C:
			w.runs.Add(1)
			if err := w.handler(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("watch handler failed", "err", err)
			}
		}
	}
}

func (w *Watcher) relevant(evt fsnotify.Event) bool {
	if evt.Op == fsnotify.Chmod {
		return false
	}
	rel, err := filepath.Rel(w.root, evt.Name)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if hidden(part) {
			return false
		}
	}
	return true
}

// Dot entries (staging directories, editor swap files) are ignored.
func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
