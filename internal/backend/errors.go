package backend

import (
	"errors"
	"fmt"
)

// Operation error taxonomy. Every operation on a backend, the router, or the
// tracker resolves to a success payload or exactly one of these sentinels,
// possibly wrapped with path and backend context.
var (
	// ErrNotFound is returned when a path does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned when a path exists but is inaccessible,
	// or when a remote channel refuses the operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrReadRequired is returned by the tracker when an edit targets a path
	// with no record for this session.
	ErrReadRequired = errors.New("read required before edit")

	// ErrStaleContent is returned by the tracker when a path's current
	// content no longer matches the content last observed by the caller.
	ErrStaleContent = errors.New("stale content")

	// ErrNoMatch is returned by edit when the old string has zero occurrences.
	ErrNoMatch = errors.New("no match for old string")

	// ErrAmbiguousMatch is returned by edit when the old string occurs more
	// than once and replaceAll was not requested.
	ErrAmbiguousMatch = errors.New("ambiguous match for old string")

	// ErrUnroutablePath is returned by the router when no backend scope
	// claims the path.
	ErrUnroutablePath = errors.New("no backend claims path")

	// ErrCapabilityUnsupported is returned when execute is requested and no
	// routable backend advertises the capability.
	ErrCapabilityUnsupported = errors.New("capability unsupported")

	// ErrTimeout is returned when a backend call exceeds its deadline.
	ErrTimeout = errors.New("operation timed out")
)

// OpError annotates a taxonomy error with the operation, path, and backend
// that produced it. Errors.Is matching against the sentinels passes through.
type OpError struct {
	Op      string
	Path    string
	Backend string
	Err     error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Backend, e.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Path, e.Backend, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// NewOpError wraps err with operation context. Returns nil when err is nil.
func NewOpError(op, path, backendName string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Path: path, Backend: backendName, Err: err}
}
