// Package tracker enforces session-level file integrity on top of the
// composite router.
//
// The tracker guarantees two invariants for every edit it forwards:
//
//  1. Read-before-edit: a path must have a session record (created by a
//     successful read or write) before any edit is accepted.
//  2. No stale overwrite: at the instant an edit is applied, the backend's
//     current content hash must equal the hash last observed by the caller;
//     otherwise the edit fails ErrStaleContent and nothing changes.
//
// Per-path critical sections serialize the check-then-act sequence of
// concurrent edits and writes on the same path; operations on distinct
// paths proceed fully in parallel. Reads pass through otherwise unchanged,
// and list/glob/search never touch tracker state.
//
// A Tracker instance is owned by exactly one session. It is constructed at
// session start, shared by reference across the main agent and its
// delegated sub-tasks, and discarded (or Reset) at session end. Nothing
// survives across sessions.
package tracker

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"agentfs/internal/backend"
	"agentfs/internal/logging"
	"agentfs/internal/router"
)

// Tracker wraps a router with the session file table.
type Tracker struct {
	router *router.Router
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*SessionFileRecord
	locks   map[string]*sync.Mutex

	// Ordered logs for the session summary. Auxiliary only, not
	// safety-critical.
	readOrder  []string
	writeOrder []string

	totalReads      int
	totalWrites     int
	rejectedEdits   int // edits refused for missing reads
	staleRejections int // edits refused for stale content
}

// New creates an empty tracker over the given router.
func New(r *router.Router) *Tracker {
	return &Tracker{
		router:  r,
		now:     time.Now,
		records: make(map[string]*SessionFileRecord),
		locks:   make(map[string]*sync.Mutex),
	}
}

// canon puts a path identifier into the canonical record-key form so that
// "a.txt" and "/a.txt" address the same record.
func canon(p string) string {
	return path.Clean("/" + strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/"))
}

// lockPath acquires the per-path critical section. The returned func
// releases it.
func (t *Tracker) lockPath(key string) func() {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Read forwards a windowed read and records the observed whole-file hash.
func (t *Tracker) Read(ctx context.Context, p string, offset, limit int) (*backend.ReadResult, error) {
	key := canon(p)
	unlock := t.lockPath(key)
	defer unlock()

	rr, err := t.router.Read(ctx, p, offset, limit)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	rec, ok := t.records[key]
	if !ok {
		rec = &SessionFileRecord{Path: key}
		t.records[key] = rec
		t.readOrder = append(t.readOrder, key)
	}
	rec.LastReadHash = rr.Hash
	rec.LastReadAt = t.now()
	rec.LastOp = OpRead
	rec.ReadCount++
	t.totalReads++
	t.mu.Unlock()

	logging.TrackerDebug("read %s: hash=%.12s lines=%d", key, rr.Hash, rr.TotalLines)
	return rr, nil
}

// Write forwards an unconditional write. There is no read-before-write
// precondition; a successful write creates or refreshes the record, so a
// following edit needs no separate read.
func (t *Tracker) Write(ctx context.Context, p, content string) (*backend.WriteResult, error) {
	key := canon(p)
	unlock := t.lockPath(key)
	defer unlock()

	wr, err := t.router.Write(ctx, p, content)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	rec, ok := t.records[key]
	if !ok {
		rec = &SessionFileRecord{Path: key}
		t.records[key] = rec
	}
	rec.LastReadHash = wr.Hash
	rec.LastReadAt = t.now()
	rec.LastOp = OpWrite
	if len(rec.WriteHistory) == 0 {
		t.writeOrder = append(t.writeOrder, key)
	}
	rec.WriteHistory = append(rec.WriteHistory, WriteEvent{
		At:            t.now(),
		Kind:          OpWrite,
		ResultingHash: wr.Hash,
		LinesChanged:  len(backendLines(content)),
	})
	t.totalWrites++
	t.mu.Unlock()

	logging.Tracker("write %s: %d bytes (created=%v)", key, wr.BytesWritten, wr.CreatedNew)
	return wr, nil
}

// Edit applies a string replacement, enforcing read-before-edit and
// staleness. The whole check-then-act sequence runs inside the per-path
// critical section, so two concurrent edits against the same stale hash can
// never both apply.
func (t *Tracker) Edit(ctx context.Context, p, oldStr, newStr string, replaceAll bool) (*backend.EditResult, error) {
	key := canon(p)
	unlock := t.lockPath(key)
	defer unlock()

	t.mu.Lock()
	rec, ok := t.records[key]
	var expectedHash string
	if ok {
		expectedHash = rec.LastReadHash
	} else {
		t.rejectedEdits++
	}
	t.mu.Unlock()

	if !ok {
		logging.TrackerWarn("edit rejected, never read this session: %s", key)
		return nil, backend.NewOpError("edit", p, "tracker", backend.ErrReadRequired)
	}

	// Staleness check against the file's true current state, immediately
	// before dispatch.
	current, err := t.router.Read(ctx, p, 0, -1)
	if err != nil {
		logging.TrackerError("cannot verify %s before edit: %v", key, err)
		return nil, err
	}
	if current.Hash != expectedHash {
		t.mu.Lock()
		t.staleRejections++
		t.mu.Unlock()
		logging.TrackerWarn("edit rejected, content changed since last read: %s", key)
		return nil, backend.NewOpError("edit", p, "tracker", backend.ErrStaleContent)
	}

	er, err := t.router.Edit(ctx, p, oldStr, newStr, replaceAll)
	if err != nil {
		// NoMatch / AmbiguousMatch and backend failures propagate unchanged;
		// the record keeps its pre-edit state.
		return nil, err
	}

	changed := linesChanged(current.Content, replacedContent(current.Content, oldStr, newStr, replaceAll))

	// Re-look-up under the table lock: a Reset may have replaced the record
	// map while the backend call was in flight.
	t.mu.Lock()
	rec, ok = t.records[key]
	if !ok {
		rec = &SessionFileRecord{Path: key}
		t.records[key] = rec
	}
	rec.LastReadHash = er.Hash
	rec.LastReadAt = t.now()
	rec.LastOp = OpEdit
	if len(rec.WriteHistory) == 0 {
		t.writeOrder = append(t.writeOrder, key)
	}
	rec.WriteHistory = append(rec.WriteHistory, WriteEvent{
		At:            t.now(),
		Kind:          OpEdit,
		ResultingHash: er.Hash,
		LinesChanged:  changed,
	})
	t.totalWrites++
	t.mu.Unlock()

	logging.Tracker("edit %s: %d occurrence(s), %d line(s) changed", key, er.Replacements, changed)
	return er, nil
}

// List passes through to the router. Never touches tracker state.
func (t *Tracker) List(ctx context.Context, p string) ([]backend.Entry, error) {
	return t.router.List(ctx, p)
}

// Glob passes through to the router. Never touches tracker state.
func (t *Tracker) Glob(ctx context.Context, pattern string) ([]string, error) {
	return t.router.Glob(ctx, pattern)
}

// Search passes through to the router. Never touches tracker state.
func (t *Tracker) Search(ctx context.Context, pattern, pathScope, globFilter string) ([]backend.SearchMatch, error) {
	return t.router.Search(ctx, pattern, pathScope, globFilter)
}

// Execute passes through to the router. Never touches tracker state.
func (t *Tracker) Execute(ctx context.Context, command, workdir string) (*backend.ExecResult, error) {
	return t.router.Execute(ctx, command, workdir)
}

// Reset discards the whole session file table. Invoked at session
// boundaries; no record survives.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = make(map[string]*SessionFileRecord)
	t.readOrder = nil
	t.writeOrder = nil
	t.totalReads = 0
	t.totalWrites = 0
	t.rejectedEdits = 0
	t.staleRejections = 0
	logging.Tracker("session file table reset")
}

// Record returns a copy of the record for a path, or nil if untracked.
func (t *Tracker) Record(p string) *SessionFileRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[canon(p)]
	if !ok {
		return nil
	}
	return rec.clone()
}

// History returns a copy of a path's write history, oldest first.
func (t *Tracker) History(p string) []WriteEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[canon(p)]
	if !ok {
		return nil
	}
	out := make([]WriteEvent, len(rec.WriteHistory))
	copy(out, rec.WriteHistory)
	return out
}

// TrackedPaths returns every path with a record, in first-read order
// followed by write-only paths in first-write order.
func (t *Tracker) TrackedPaths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]struct{}, len(t.records))
	var out []string
	for _, p := range t.readOrder {
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, p := range t.writeOrder {
		if _, dup := seen[p]; !dup {
			out = append(out, p)
		}
	}
	return out
}

// replacedContent mirrors the backend's replacement so line accounting can
// run without a second read.
func replacedContent(content, oldStr, newStr string, replaceAll bool) string {
	if replaceAll {
		return strings.ReplaceAll(content, oldStr, newStr)
	}
	return strings.Replace(content, oldStr, newStr, 1)
}

// linesChanged counts lines touched between two versions of a file.
func linesChanged(before, after string) int {
	if before == after {
		return 0
	}
	dmp := diffmatchpatch.New()
	a, b, lineText := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineText)

	changed := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			continue
		}
		changed += len(backendLines(d.Text))
	}
	return changed
}

func backendLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
