// Package backend defines the uniform operation contract every execution
// environment exposes to the router, plus the two reference implementations:
// a local on-disk workspace and a remote sandboxed workspace reached over
// HTTP.
//
// Backends are deliberately dumb. They hold no session state, know nothing
// about read-before-edit enforcement, and keep no hash history; they only
// report the deterministic content hash of whatever bytes they just read or
// wrote so the integrity tracker can do its job. Multiple calls may be in
// flight concurrently for different paths.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry describes one item in a directory listing.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// ReadResult is the payload of a read operation.
//
// Content holds only the requested line window, but Hash always covers the
// complete current file content. Edits against any byte range are validated
// against the file's true state, independent of which window was paginated
// into view.
type ReadResult struct {
	Content    string `json:"content"`
	Offset     int    `json:"offset"`
	TotalLines int    `json:"total_lines"`
	TotalBytes int64  `json:"total_bytes"`
	Hash       string `json:"hash"`
}

// WriteResult is the payload of a write operation.
type WriteResult struct {
	BytesWritten int    `json:"bytes_written"`
	CreatedNew   bool   `json:"created_new"`
	Hash         string `json:"hash"`
}

// EditResult is the payload of an edit operation. Hash covers the full
// post-edit content.
type EditResult struct {
	Replacements int    `json:"replacements"`
	Hash         string `json:"hash"`
}

// SearchMatch is a single content-search hit.
type SearchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// ExecResult is the payload of a command execution on an execute-capable
// backend.
type ExecResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Backend is the contract every execution environment satisfies.
//
// Path identifiers are backend-scoped: cleaned, forward-slash, relative to
// the backend's root (a leading slash is accepted and stripped). Offset and
// limit are line counts; limit <= 0 reads to end of file.
type Backend interface {
	// Name identifies this backend in logs and errors.
	Name() string

	// List returns the ordered entries of a directory.
	List(ctx context.Context, path string) ([]Entry, error)

	// Read returns the requested line window plus whole-file metadata.
	Read(ctx context.Context, path string, offset, limit int) (*ReadResult, error)

	// Write unconditionally creates or overwrites path with content.
	Write(ctx context.Context, path, content string) (*WriteResult, error)

	// Edit replaces oldStr with newStr. Zero occurrences fail ErrNoMatch;
	// more than one occurrence fails ErrAmbiguousMatch unless replaceAll.
	Edit(ctx context.Context, path, oldStr, newStr string, replaceAll bool) (*EditResult, error)

	// Glob returns path identifiers matching pattern within this backend's
	// scope, in a stable order.
	Glob(ctx context.Context, pattern string) ([]string, error)

	// Search scans file contents for a regular expression. pathScope narrows
	// the walk root, globFilter narrows candidate file names; both optional.
	Search(ctx context.Context, pattern, pathScope, globFilter string) ([]SearchMatch, error)
}

// Executor is the optional command-execution capability. Backends advertise
// it by implementing the interface; the router checks with a type assertion
// guided by the descriptor's capability flag.
type Executor interface {
	Execute(ctx context.Context, command string) (*ExecResult, error)
}

// HashBytes returns the deterministic content digest used for staleness
// detection. Not a security primitive.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
