package watcher

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, dbPath string, debounce time.Duration, fired *atomic.Int32) (*CorpusWatcher, chan fsnotify.Event, chan error) {
	t.Helper()
	w := New([]string{dbPath}, debounce, func() { fired.Add(1) }, nil)
	events := make(chan fsnotify.Event, 16)
	errs := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.run(ctx, events, errs)
	return w, events, errs
}

func TestCorpusWatcher_FiresAfterSettledBurst(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "passages.db")
	var fired atomic.Int32
	_, events, _ := newTestWatcher(t, dbPath, 30*time.Millisecond, &fired)

	// One ingestion run produces several writes in quick succession.
	events <- fsnotify.Event{Name: dbPath, Op: fsnotify.Write}
	events <- fsnotify.Event{Name: dbPath + "-wal", Op: fsnotify.Write}
	events <- fsnotify.Event{Name: dbPath, Op: fsnotify.Rename}

	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)

	// No further events, no further invalidations.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestCorpusWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "passages.db")
	var fired atomic.Int32
	_, events, _ := newTestWatcher(t, dbPath, 20*time.Millisecond, &fired)

	events <- fsnotify.Event{Name: filepath.Join(dir, "other.txt"), Op: fsnotify.Write}
	events <- fsnotify.Event{Name: dbPath, Op: fsnotify.Chmod}

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestCorpusWatcher_WatchesSidecarFiles(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "vectors.hnsw")
	var fired atomic.Int32
	_, events, _ := newTestWatcher(t, indexPath, 20*time.Millisecond, &fired)

	events <- fsnotify.Event{Name: indexPath + ".meta", Op: fsnotify.Create}

	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestCorpusWatcher_CloseCancelsPendingFire(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "passages.db")
	var fired atomic.Int32
	w, events, _ := newTestWatcher(t, dbPath, 50*time.Millisecond, &fired)

	events <- fsnotify.Event{Name: dbPath, Op: fsnotify.Write}
	require.NoError(t, w.Close())

	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestNew_DerivesDirectoriesAndSidecars(t *testing.T) {
	dir := t.TempDir()
	w := New([]string{filepath.Join(dir, "passages.db"), filepath.Join(dir, "vectors.hnsw")},
		0, func() {}, nil)

	assert.Equal(t, DefaultDebounce, w.debounce)
	assert.Len(t, w.dirs, 1)
	assert.Contains(t, w.paths, filepath.Join(dir, "passages.db-wal"))
	assert.Contains(t, w.paths, filepath.Join(dir, "vectors.hnsw.meta"))
}
