// Package watcher invalidates corpus-derived caches when the ingestion
// pipeline rewrites the passage store or vector index on disk.
//
// The engine process does not write the corpus itself; an external
// ingestion run replaces the SQLite database and HNSW files. Watching
// those paths keeps a long-running daemon serving fresh evidence without
// a restart.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events one ingestion run
// produces (WAL checkpoints, tmp renames) into a single invalidation.
const DefaultDebounce = 2 * time.Second

// CorpusWatcher watches the corpus files and fires a callback after
// changes settle.
type CorpusWatcher struct {
	paths    map[string]struct{}
	dirs     []string
	onChange func()
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	fsw    *fsnotify.Watcher
	closed bool
}

// New creates a watcher over the given corpus files. Related sidecar
// files (SQLite -wal, HNSW .meta) are derived automatically. onChange
// runs on the watcher goroutine after each settled change burst.
func New(corpusPaths []string, debounce time.Duration, onChange func(), logger *slog.Logger) *CorpusWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	paths := make(map[string]struct{})
	dirSet := make(map[string]struct{})
	for _, p := range corpusPaths {
		if p == "" {
			continue
		}
		clean := filepath.Clean(p)
		paths[clean] = struct{}{}
		paths[clean+"-wal"] = struct{}{}
		paths[clean+".meta"] = struct{}{}
		dirSet[filepath.Dir(clean)] = struct{}{}
	}
	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}

	return &CorpusWatcher{
		paths:    paths,
		dirs:     dirs,
		onChange: onChange,
		debounce: debounce,
		logger:   logger,
	}
}

// Start begins watching until ctx is cancelled. Watching the parent
// directories instead of the files themselves survives the
// write-tmp-then-rename pattern ingestion uses.
func (w *CorpusWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range w.dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return err
		}
	}

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	w.logger.Info("corpus_watcher_started", "dirs", w.dirs)
	go w.run(ctx, fsw.Events, fsw.Errors)
	return nil
}

// run consumes events until ctx is cancelled or the channels close. It
// is separated from Start so tests can drive it with their own channels.
func (w *CorpusWatcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("corpus_watcher_error", "error", err)
		}
	}
}

// handleEvent schedules an invalidation if the event touches a corpus
// file. Chmod-only events are ignored; they fire on every stat touch.
func (w *CorpusWatcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	if _, relevant := w.paths[filepath.Clean(event.Name)]; !relevant {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	w.logger.Debug("corpus_change_detected", "path", event.Name, "op", event.Op.String())
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *CorpusWatcher) fire() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.mu.Unlock()

	w.logger.Info("corpus_changed")
	w.onChange()
}

// Close stops the watcher and any pending invalidation timer.
func (w *CorpusWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
