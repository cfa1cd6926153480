// Package session assembles the configured backend topology into a live
// session: the router, the integrity tracker scoped to this session, and
// an optional external-change watcher over the first local backend.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agentfs/internal/backend"
	"agentfs/internal/config"
	"agentfs/internal/logging"
	"agentfs/internal/router"
	"agentfs/internal/tracker"
	"agentfs/internal/watch"
)

// Session owns one agent session's file-operation state. All file
// operations go through the session so the tracker observes every read and
// mutation. Share a single Session by reference across the session's
// concurrent tasks; do not share across sessions.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time

	router  *router.Router
	tracker *tracker.Tracker
	watcher *watch.Watcher
	cancel  context.CancelFunc
}

// New builds a session from configuration. The watcher covers the first
// local backend's root; with no local backend the session runs without
// external-change advisories.
func New(cfg *config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	descriptors := make([]router.Descriptor, 0, len(cfg.Backends))
	var watchRoot string
	for _, bc := range cfg.Backends {
		var (
			b   backend.Backend
			err error
		)
		switch bc.Kind {
		case "local":
			b, err = backend.NewLocal(bc.Name, bc.Root)
			if watchRoot == "" && err == nil {
				watchRoot = bc.Root
			}
		case "remote":
			b, err = backend.NewRemote(bc.Name, bc.BaseURL, backend.WithTimeout(bc.GetTimeout()))
		default:
			err = fmt.Errorf("unknown backend kind %q", bc.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", bc.Name, err)
		}

		scope := router.AllPaths()
		if bc.Scope != "" && bc.Scope != "/" {
			scope = router.PrefixScope(bc.Scope)
		}
		descriptors = append(descriptors, router.Descriptor{
			Backend:    b,
			Scope:      scope,
			Priority:   bc.Priority,
			CanExecute: bc.Execute,
		})
	}

	rt := router.New(descriptors)
	s := &Session{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		router:    rt,
		tracker:   tracker.New(rt),
	}

	if watchRoot != "" {
		w, err := watch.New(watchRoot)
		if err != nil {
			// Advisories are best-effort; the tracker's hash check does not
			// depend on them.
			logging.SessionDebug("watcher unavailable: %v", err)
		} else {
			ctx, cancel := context.WithCancel(context.Background())
			s.watcher = w
			s.cancel = cancel
			w.Start(ctx)
		}
	}

	logging.Session("session %s started with %d backend(s)", s.ID, len(cfg.Backends))
	return s, nil
}

// Read performs a tracked read and registers the path for external-change
// advisories.
func (s *Session) Read(ctx context.Context, path string, offset, limit int) (*backend.ReadResult, error) {
	rr, err := s.tracker.Read(ctx, path, offset, limit)
	if err != nil {
		return nil, err
	}
	if s.watcher != nil {
		_ = s.watcher.Track(path)
		// A fresh read supersedes any earlier advisory.
		s.watcher.Clear(path)
	}
	return rr, nil
}

// Write performs a tracked write.
func (s *Session) Write(ctx context.Context, path, content string) (*backend.WriteResult, error) {
	wr, err := s.tracker.Write(ctx, path, content)
	if err != nil {
		return nil, err
	}
	if s.watcher != nil {
		_ = s.watcher.Track(path)
		s.watcher.Clear(path)
	}
	return wr, nil
}

// Edit performs a tracked edit, subject to read-before-edit and staleness
// enforcement.
func (s *Session) Edit(ctx context.Context, path, oldStr, newStr string, replaceAll bool) (*backend.EditResult, error) {
	er, err := s.tracker.Edit(ctx, path, oldStr, newStr, replaceAll)
	if err != nil {
		return nil, err
	}
	if s.watcher != nil {
		s.watcher.Clear(path)
	}
	return er, nil
}

// List delegates to the router.
func (s *Session) List(ctx context.Context, path string) ([]backend.Entry, error) {
	return s.tracker.List(ctx, path)
}

// Glob delegates to the router's fan-out.
func (s *Session) Glob(ctx context.Context, pattern string) ([]string, error) {
	return s.tracker.Glob(ctx, pattern)
}

// Search delegates to the router's fan-out.
func (s *Session) Search(ctx context.Context, pattern, pathScope, globFilter string) ([]backend.SearchMatch, error) {
	return s.tracker.Search(ctx, pattern, pathScope, globFilter)
}

// Execute delegates to an execution-capable backend for the workdir.
func (s *Session) Execute(ctx context.Context, command, workdir string) (*backend.ExecResult, error) {
	return s.tracker.Execute(ctx, command, workdir)
}

// Tracker exposes the session's integrity tracker.
func (s *Session) Tracker() *tracker.Tracker {
	return s.tracker
}

// FilesReport renders the session's file-operations report: the tracker
// summary plus any external-change advisories from the watcher.
func (s *Session) FilesReport() string {
	report := s.tracker.Summary().Markdown()
	if s.watcher == nil {
		return report
	}
	flagged := s.watcher.Flagged()
	if len(flagged) == 0 {
		return report
	}
	report += fmt.Sprintf("\n### Changed Outside Session (%d)\n", len(flagged))
	for _, p := range flagged {
		report += fmt.Sprintf("- `%s` (re-read before editing)\n", p)
	}
	return report
}

// Reset discards all session file state while keeping the backends live.
// Watcher advisories belong to the discarded state and go with it.
func (s *Session) Reset() {
	if s.watcher != nil {
		for _, p := range s.tracker.TrackedPaths() {
			s.watcher.Untrack(p)
		}
	}
	s.tracker.Reset()
	logging.Session("session %s reset", s.ID)
}

// Close shuts down the session's watcher. The tracker state is simply
// dropped with the session.
func (s *Session) Close() {
	if s.watcher != nil {
		s.watcher.Stop()
		s.cancel()
	}
	logging.Session("session %s closed", s.ID)
}
