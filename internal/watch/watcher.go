// Package watch flags session-tracked files that change on disk outside
// the session's own operations. The flags are advisory: they feed the
// session report so a caller learns early that a re-read is due. The
// integrity tracker's hash comparison stays the sole authority for
// accepting or rejecting an edit.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"agentfs/internal/logging"
)

// Watcher monitors the directories of tracked files and records which
// tracked paths saw an external create, write, remove, or rename.
type Watcher struct {
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	root     string
	tracked  map[string]string // absolute path -> session identifier
	flagged  map[string]time.Time
	watching map[string]bool // directories added to the fsnotify watch set
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool

	stats Stats
}

// Stats tracks watcher activity for debugging.
type Stats struct {
	EventsSeen    int
	PathsFlagged  int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// New creates a watcher rooted at the local backend's directory. Paths
// passed to Track use the backend's root-relative identifier form.
func New(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fsw,
		root:     root,
		tracked:  make(map[string]string),
		flagged:  make(map[string]time.Time),
		watching: make(map[string]bool),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins the event loop. Non-blocking; call Stop to shut down.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop halts the event loop and releases the underlying watcher.
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

	if err := w.watcher.Close(); err != nil {
		logging.WatchWarn("close failed: %v", err)
	}
}

// Track registers a session path so external changes to it get flagged.
// The file's directory joins the watch set on first use.
func (w *Watcher) Track(identifier string) error {
	abs := filepath.Join(w.root, filepath.FromSlash(identifier))
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.tracked[abs] = identifier
	if w.watching[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		// The directory may not exist yet; the tracker's hash check still
		// covers the path.
		logging.WatchWarn("cannot watch %s: %v", dir, err)
		return err
	}
	w.watching[dir] = true
	logging.WatchDebug("watching directory: %s", dir)
	return nil
}

// Untrack removes a path from flag consideration. Directory watches stay;
// they may serve other tracked paths.
func (w *Watcher) Untrack(identifier string) {
	abs := filepath.Join(w.root, filepath.FromSlash(identifier))

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.tracked, abs)
	delete(w.flagged, abs)
}

// Flagged returns the session identifiers of tracked paths that changed
// externally since tracking began (or since the last Clear).
func (w *Watcher) Flagged() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.flagged))
	for abs := range w.flagged {
		out = append(out, w.tracked[abs])
	}
	return out
}

// Clear drops a path's flag, typically after the session re-reads it.
func (w *Watcher) Clear(identifier string) {
	abs := filepath.Join(w.root, filepath.FromSlash(identifier))

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.flagged, abs)
}

// GetStats returns a snapshot of watcher activity.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			logging.WatchDebug("context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchWarn("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	const relevant = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	if event.Op&relevant == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.stats.EventsSeen++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = time.Now()

	identifier, tracked := w.tracked[event.Name]
	if !tracked {
		return
	}
	if _, already := w.flagged[event.Name]; !already {
		w.stats.PathsFlagged++
		logging.Watch("external change detected: %s", identifier)
	}
	w.flagged[event.Name] = time.Now()
}
