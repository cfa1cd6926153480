package tracker

import (
	"fmt"
	"strings"
	"time"
)

// summaryTail limits how many per-file lines the rendered summary shows for
// each section.
const summaryTail = 10

// FileSummary is one row of the session summary.
type FileSummary struct {
	Path         string    `json:"path"`
	ReadCount    int       `json:"read_count"`
	WriteCount   int       `json:"write_count"`
	Ops          []string  `json:"ops,omitempty"`
	LastOp       OpKind    `json:"last_op"`
	LastModified time.Time `json:"last_modified"`
}

// Summary is the read-only query surface over the session file table, used
// by session-reporting features outside the integrity core.
type Summary struct {
	Files           []FileSummary `json:"files"`
	ReadOrder       []string      `json:"read_order"`
	WriteOrder      []string      `json:"write_order"`
	TotalReads      int           `json:"total_reads"`
	TotalWrites     int           `json:"total_writes"`
	RejectedEdits   int           `json:"rejected_edits"`
	StaleRejections int           `json:"stale_rejections"`
}

// Summary snapshots the current session file table.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		ReadOrder:       append([]string(nil), t.readOrder...),
		WriteOrder:      append([]string(nil), t.writeOrder...),
		TotalReads:      t.totalReads,
		TotalWrites:     t.totalWrites,
		RejectedEdits:   t.rejectedEdits,
		StaleRejections: t.staleRejections,
	}

	for _, p := range t.readOrder {
		s.Files = append(s.Files, t.fileSummaryLocked(p))
	}
	seen := make(map[string]struct{}, len(t.readOrder))
	for _, p := range t.readOrder {
		seen[p] = struct{}{}
	}
	for _, p := range t.writeOrder {
		if _, dup := seen[p]; !dup {
			s.Files = append(s.Files, t.fileSummaryLocked(p))
		}
	}
	return s
}

func (t *Tracker) fileSummaryLocked(p string) FileSummary {
	rec, ok := t.records[p]
	if !ok {
		return FileSummary{Path: p}
	}
	fs := FileSummary{
		Path:         rec.Path,
		ReadCount:    rec.ReadCount,
		WriteCount:   len(rec.WriteHistory),
		LastOp:       rec.LastOp,
		LastModified: rec.LastReadAt,
	}
	seen := make(map[OpKind]struct{}, 2)
	for _, ev := range rec.WriteHistory {
		if _, dup := seen[ev.Kind]; dup {
			continue
		}
		seen[ev.Kind] = struct{}{}
		fs.Ops = append(fs.Ops, string(ev.Kind))
	}
	return fs
}

// Markdown renders the summary for the session's file-operations report.
func (s Summary) Markdown() string {
	var b strings.Builder
	b.WriteString("## Session File Operations Summary\n\n")

	if len(s.ReadOrder) > 0 {
		fmt.Fprintf(&b, "### Files Read (%d)\n", len(s.ReadOrder))
		for _, p := range tail(s.ReadOrder, summaryTail) {
			fmt.Fprintf(&b, "- `%s`\n", p)
		}
		if extra := len(s.ReadOrder) - summaryTail; extra > 0 {
			fmt.Fprintf(&b, "  ... and %d more\n", extra)
		}
		b.WriteString("\n")
	}

	if len(s.WriteOrder) > 0 {
		fmt.Fprintf(&b, "### Files Modified (%d)\n", len(s.WriteOrder))
		for _, p := range tail(s.WriteOrder, summaryTail) {
			if ops := s.opsFor(p); len(ops) > 0 {
				fmt.Fprintf(&b, "- `%s` (%s)\n", p, strings.Join(ops, ", "))
			} else {
				fmt.Fprintf(&b, "- `%s`\n", p)
			}
		}
		if extra := len(s.WriteOrder) - summaryTail; extra > 0 {
			fmt.Fprintf(&b, "  ... and %d more\n", extra)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "**Stats**: %d reads, %d writes\n", s.TotalReads, s.TotalWrites)
	if s.RejectedEdits > 0 {
		fmt.Fprintf(&b, "**Rejected edits** (unread files): %d\n", s.RejectedEdits)
	}
	if s.StaleRejections > 0 {
		fmt.Fprintf(&b, "**Rejected edits** (stale content): %d\n", s.StaleRejections)
	}
	return b.String()
}

func (s Summary) opsFor(path string) []string {
	for _, f := range s.Files {
		if f.Path == path {
			return f.Ops
		}
	}
	return nil
}

func tail(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
