package router

import (
	"path"
	"strings"
)

// ScopeFunc reports whether a backend claims a given path identifier.
type ScopeFunc func(string) bool

// AllPaths claims every path. Used by catch-all backends like the local
// workspace.
func AllPaths() ScopeFunc {
	return func(string) bool { return true }
}

// PrefixScope claims paths under the given prefix. The prefix and candidate
// paths are compared in cleaned, leading-slash form, so "/sandbox" claims
// "/sandbox/a.txt" and "/sandbox" itself but not "/sandboxes".
func PrefixScope(prefix string) ScopeFunc {
	cleaned := path.Clean("/" + strings.TrimPrefix(prefix, "/"))
	if cleaned == "/" {
		return AllPaths()
	}
	return func(p string) bool {
		candidate := path.Clean("/" + strings.TrimPrefix(p, "/"))
		return candidate == cleaned || strings.HasPrefix(candidate, cleaned+"/")
	}
}

// normalize puts a path identifier into the canonical comparable form used
// for dedup across backends.
func normalize(p string) string {
	return path.Clean("/" + strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/"))
}
