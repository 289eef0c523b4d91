// Package watch invalidates cached query results when the corpus snapshot
// marker changes on disk. The indexer touches the marker after every
// successful rebuild; this watcher turns that into a cache flush.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// InvalidateFunc is called after the snapshot marker changes.
type InvalidateFunc func(ctx context.Context) error

// Watcher watches the snapshot marker and fires the invalidation callback,
// debounced so a burst of writes collapses into one flush.
type Watcher struct {
	markerPath string
	invalidate InvalidateFunc
	debounce   time.Duration
	logger     *slog.Logger

	fsw    *fsnotify.Watcher
	stopCh chan struct{}

	mu      sync.Mutex
	stopped bool
	fired   int
}

// Options configures a Watcher.
type Options struct {
	// MarkerPath is the snapshot marker file to watch.
	MarkerPath string

	// Debounce collapses bursts of marker writes. Defaults to 500ms.
	Debounce time.Duration

	Logger *slog.Logger
}

// New creates a watcher over the snapshot marker.
func New(opts Options, invalidate InvalidateFunc) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		markerPath: filepath.Clean(opts.MarkerPath),
		invalidate: invalidate,
		debounce:   opts.Debounce,
		logger:     logger.With("component", "watch"),
		fsw:        fsw,
		stopCh:     make(chan struct{}),
	}, nil
}

// Start watches until ctx is canceled or Stop is called. The marker's
// directory is watched rather than the file itself so that create and
// rename-over both register.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.markerPath)
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.logger.Info("watching snapshot marker", "path", w.markerPath)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.markerPath {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.fire(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) fire(ctx context.Context) {
	w.logger.Info("snapshot marker changed, invalidating cache")
	if err := w.invalidate(ctx); err != nil {
		w.logger.Warn("invalidation failed", "error", err)
		return
	}
	w.mu.Lock()
	w.fired++
	w.mu.Unlock()
}

// Fired returns how many invalidations have completed.
func (w *Watcher) Fired() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	return w.fsw.Close()
}
