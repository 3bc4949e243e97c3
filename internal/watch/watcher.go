// Package watch signals changes to a single file, such as the daemon's
// config.toml.
//
// The parent directory is watched rather than the file itself so that
// replacements by rename (atomic saves, most editors) keep being noticed.
// When fsnotify is unavailable or fails, the watcher falls back to stat-based
// polling.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is the stat interval used in polling mode.
const DefaultPollInterval = 2 * time.Second

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher monitors one file for changes using fsnotify with a polling fallback.
type Watcher struct {
	// path is the cleaned path of the watched file.
	path string
	// events delivers a signal each time the file changes.
	// The channel is buffered to 1 so back-to-back writes coalesce.
	events chan struct{}
	// done is closed by [Watcher.Close] to signal goroutines to exit.
	done chan struct{}
	// once ensures [Watcher.Close] is idempotent.
	once sync.Once
	// polling is true when the watcher has fallen back to stat-based polling.
	polling atomic.Bool
	// pollInterval is the duration between stat calls in polling mode.
	pollInterval time.Duration

	// mu guards fsw, which is nil when polling.
	mu  sync.Mutex
	fsw *fsnotify.Watcher
}

// New watches the file at path. The file need not exist yet, but its
// directory must for fsnotify to be used.
func New(path string) *Watcher {
	return newWatcher(path, DefaultPollInterval, false)
}

func newWatcher(path string, interval time.Duration, forcePoll bool) *Watcher {
	w := &Watcher{
		path:         filepath.Clean(path),
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: interval,
	}
	if forcePoll {
		w.startPolling()
		return w
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, falling back to polling", "error", err)
		w.startPolling()
		return w
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		slog.Info("cannot watch directory, falling back to polling", "path", w.path, "error", err)
		fsw.Close()
		w.startPolling()
		return w
	}

	w.fsw = fsw
	go w.watch(fsw)
	return w
}

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Events returns a channel that receives a signal when the file changes.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.fsw != nil {
			if closeErr := w.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
			w.fsw = nil
		}
	})
	return err
}

// watch forwards fsnotify events for the watched file. If fsnotify reports
// an error, watch closes the native watcher and falls back to polling.
func (w *Watcher) watch(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.notify()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Info("fsnotify error, switching to polling", "error", err)
			w.mu.Lock()
			if w.fsw != nil {
				w.fsw.Close()
				w.fsw = nil
			}
			w.mu.Unlock()
			w.startPolling()
			return
		}
	}
}

func (w *Watcher) startPolling() {
	w.polling.Store(true)
	go w.poll()
}

// stamp identifies one version of the file.
type stamp struct {
	mod  time.Time
	size int64
}

func (w *Watcher) stat() (stamp, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		return stamp{}, false
	}
	return stamp{info.ModTime(), info.Size()}, true
}

// poll periodically stats the file and sends a notification when its
// modification time or size changes. A missing file is not a change.
func (w *Watcher) poll() {
	last, _ := w.stat()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			cur, ok := w.stat()
			if !ok || cur == last {
				continue
			}
			last = cur
			w.notify()
		}
	}
}

// notify sends a single signal to the events channel. If a signal is already
// pending the call is a no-op, coalescing rapid successive changes.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
