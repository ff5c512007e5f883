// Package watcher re-runs a callback when any of a fixed set of input files
// changes on disk.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"driversynth/internal/logging"
)

// DefaultDebounce batches rapid saves of the same file.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc is called once per settled batch with the changed paths, sorted.
type ChangeFunc func(ctx context.Context, changed []string)

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Runs          int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher watches the directories holding a set of files. Editors often
// replace a file by renaming, so the directory is watched and events are
// filtered by path.
type Watcher struct {
	mu          sync.Mutex
	fsw         *fsnotify.Watcher
	files       map[string]bool
	dirs        []string
	onChange    ChangeFunc
	debounceDur time.Duration
	tick        time.Duration
	pending     map[string]time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats
}

// New creates a watcher for files. debounce <= 0 uses DefaultDebounce.
func New(files []string, debounce time.Duration, onChange ChangeFunc) (*Watcher, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}
	if onChange == nil {
		return nil, fmt.Errorf("change callback required")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		files:       make(map[string]bool),
		onChange:    onChange,
		debounceDur: debounce,
		tick:        debounce / 5,
		pending:     make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	if w.tick < 10*time.Millisecond {
		w.tick = 10 * time.Millisecond
	}

	seen := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		w.files[abs] = true
		dir := filepath.Dir(abs)
		if !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	sort.Strings(w.dirs)
	return w, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	for _, dir := range w.dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logging.Watch("watching directory: %s", dir)
	}
	w.fsw = fsw
	w.running = true

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
// A callback in flight runs to completion first.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.fsw.Close(); err != nil {
		logging.WatchWarn("error closing watcher: %v", err)
	}
	logging.Watch("stopped")
}

// Done is closed when the event loop exits, either by Stop or by ctx.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watch("context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.WatchWarn("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	path, err := filepath.Abs(event.Name)
	if err != nil || !w.files[path] {
		return
	}

	now := time.Now()
	w.mu.Lock()
	w.pending[path] = now
	w.stats.Events++
	w.stats.LastEventPath = path
	w.stats.LastEventTime = now
	w.mu.Unlock()
}

// flush fires the callback once for every path quiet for the debounce window.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	if len(settled) > 0 {
		w.stats.Runs++
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}
	sort.Strings(settled)
	logging.Watch("inputs changed: %v", settled)
	w.onChange(ctx, settled)
}
