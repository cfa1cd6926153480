package tracker

import "time"

// OpKind labels the operation that last touched a tracked path.
type OpKind string

const (
	OpRead  OpKind = "read"
	OpWrite OpKind = "write"
	OpEdit  OpKind = "edit"
)

// WriteEvent is one entry in a path's write history. Events are appended,
// never mutated or removed.
type WriteEvent struct {
	At            time.Time `json:"at"`
	Kind          OpKind    `json:"kind"`
	ResultingHash string    `json:"resulting_hash"`
	LinesChanged  int       `json:"lines_changed"`
}

// SessionFileRecord is the tracker's per-path state. A record exists for a
// path iff the path has been read or written at least once this session.
//
// LastReadHash always reflects the content observed by the most recent
// successful read, or produced by the most recent successful write or edit
// applied through the tracker.
type SessionFileRecord struct {
	Path         string       `json:"path"`
	LastReadHash string       `json:"last_read_hash"`
	LastReadAt   time.Time    `json:"last_read_at"`
	LastOp       OpKind       `json:"last_op"`
	ReadCount    int          `json:"read_count"`
	WriteHistory []WriteEvent `json:"write_history,omitempty"`
}

// clone returns a deep copy safe to hand outside the tracker's lock.
func (r *SessionFileRecord) clone() *SessionFileRecord {
	cp := *r
	cp.WriteHistory = make([]WriteEvent, len(r.WriteHistory))
	copy(cp.WriteHistory, r.WriteHistory)
	return &cp
}
