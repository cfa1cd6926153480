package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"agentfs/internal/logging"
)

// maxSearchMatches caps content-search output so a broad pattern cannot
// flood the caller.
const maxSearchMatches = 200

// Local implements the backend contract against an on-disk workspace rooted
// at a configured directory. All path identifiers are resolved against the
// root; identifiers that traverse outside it are rejected.
type Local struct {
	name string
	root string
}

// NewLocal creates a local backend rooted at dir. The root must be an
// absolute path; relative roots are resolved against the working directory.
func NewLocal(name, dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", dir, err)
	}
	logging.BackendDebug("local backend %q rooted at %s", name, abs)
	return &Local{name: name, root: abs}, nil
}

// Name implements Backend.
func (l *Local) Name() string { return l.name }

// Root returns the absolute workspace root.
func (l *Local) Root() string { return l.root }

// resolve maps a backend-scoped path identifier to an absolute host path.
// Identifiers escaping the root fail ErrPermissionDenied.
func (l *Local) resolve(op, p string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	if cleaned == "/" {
		return l.root, nil
	}
	rel := strings.TrimPrefix(cleaned, "/")
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", NewOpError(op, p, l.name, ErrPermissionDenied)
	}
	abs := filepath.Join(l.root, filepath.FromSlash(rel))
	if abs != l.root && !strings.HasPrefix(abs, l.root+string(filepath.Separator)) {
		return "", NewOpError(op, p, l.name, ErrPermissionDenied)
	}
	return abs, nil
}

// identifier converts an absolute host path back to a backend-scoped path.
func (l *Local) identifier(abs string) string {
	rel, err := filepath.Rel(l.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return "/" + filepath.ToSlash(rel)
}

func (l *Local) mapErr(op, p string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return NewOpError(op, p, l.name, ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return NewOpError(op, p, l.name, ErrPermissionDenied)
	case errors.Is(err, context.DeadlineExceeded):
		return NewOpError(op, p, l.name, ErrTimeout)
	default:
		return NewOpError(op, p, l.name, err)
	}
}

// List implements Backend.
func (l *Local) List(ctx context.Context, p string) ([]Entry, error) {
	abs, err := l.resolve("list", p)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, l.mapErr("list", p, err)
	}

	result := make([]Entry, 0, len(entries))
	for _, e := range entries {
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		result = append(result, Entry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	logging.BackendDebug("list %s: %d entries", p, len(result))
	return result, nil
}

// Read implements Backend. The returned hash always covers the whole file,
// not just the requested window.
func (l *Local) Read(ctx context.Context, p string, offset, limit int) (*ReadResult, error) {
	abs, err := l.resolve("read", p)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, l.mapErr("read", p, err)
	}

	lines := splitLines(string(data))
	window := windowLines(lines, offset, limit)

	logging.BackendDebug("read %s: %d/%d lines from offset %d", p, len(window), len(lines), offset)
	return &ReadResult{
		Content:    strings.Join(window, "\n"),
		Offset:     offset,
		TotalLines: len(lines),
		TotalBytes: int64(len(data)),
		Hash:       HashBytes(data),
	}, nil
}

// Write implements Backend. Parent directories are created as needed.
func (l *Local) Write(ctx context.Context, p, content string) (*WriteResult, error) {
	abs, err := l.resolve("write", p)
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(abs)
	createdNew := errors.Is(statErr, fs.ErrNotExist)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, l.mapErr("write", p, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, l.mapErr("write", p, err)
	}

	logging.Backend("write %s: %d bytes (created=%v)", p, len(content), createdNew)
	return &WriteResult{
		BytesWritten: len(content),
		CreatedNew:   createdNew,
		Hash:         HashBytes([]byte(content)),
	}, nil
}

// Edit implements Backend.
func (l *Local) Edit(ctx context.Context, p, oldStr, newStr string, replaceAll bool) (*EditResult, error) {
	abs, err := l.resolve("edit", p)
	if err != nil {
		return nil, err
	}
	if oldStr == "" {
		return nil, NewOpError("edit", p, l.name, fmt.Errorf("old string must not be empty"))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, l.mapErr("edit", p, err)
	}

	content := string(data)
	occurrences := strings.Count(content, oldStr)
	switch {
	case occurrences == 0:
		return nil, NewOpError("edit", p, l.name, ErrNoMatch)
	case occurrences > 1 && !replaceAll:
		return nil, NewOpError("edit", p, l.name, ErrAmbiguousMatch)
	}

	replaced := occurrences
	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldStr, newStr)
	} else {
		updated = strings.Replace(content, oldStr, newStr, 1)
	}

	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return nil, l.mapErr("edit", p, err)
	}

	logging.Backend("edit %s: %d occurrence(s) replaced", p, replaced)
	return &EditResult{
		Replacements: replaced,
		Hash:         HashBytes([]byte(updated)),
	}, nil
}

// Glob implements Backend. Patterns may use ** for recursive matching.
func (l *Local) Glob(ctx context.Context, pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(pattern, "/")

	var matches []string
	if strings.Contains(pattern, "**") {
		parts := strings.SplitN(pattern, "**", 2)
		prefix := strings.TrimSuffix(parts[0], "/")
		suffix := strings.TrimPrefix(parts[1], "/")

		searchRoot := l.root
		if prefix != "" {
			resolved, err := l.resolve("glob", prefix)
			if err != nil {
				return nil, err
			}
			searchRoot = resolved
		}

		err := filepath.WalkDir(searchRoot, func(fp string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil // unreadable subtree, skip
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				return nil
			}
			if suffix == "" {
				matches = append(matches, l.identifier(fp))
				return nil
			}
			if ok, _ := path.Match(suffix, d.Name()); ok {
				matches = append(matches, l.identifier(fp))
				return nil
			}
			rel, _ := filepath.Rel(searchRoot, fp)
			if ok, _ := path.Match(suffix, filepath.ToSlash(rel)); ok {
				matches = append(matches, l.identifier(fp))
			}
			return nil
		})
		if err != nil {
			return nil, l.mapErr("glob", pattern, err)
		}
	} else {
		// The static directory prefix must stay inside the root; wildcard
		// segments are containment-checked per match below.
		if static := staticPrefix(pattern); static != "" {
			if _, err := l.resolve("glob", static); err != nil {
				return nil, err
			}
		}
		globbed, err := filepath.Glob(filepath.Join(l.root, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, NewOpError("glob", pattern, l.name, fmt.Errorf("invalid pattern: %w", err))
		}
		for _, m := range globbed {
			if m != l.root && !strings.HasPrefix(m, l.root+string(filepath.Separator)) {
				continue
			}
			matches = append(matches, l.identifier(m))
		}
	}

	sort.Strings(matches)
	logging.BackendDebug("glob %s: %d matches", pattern, len(matches))
	return matches, nil
}

// Search implements Backend. Hidden directories and common dependency
// directories are skipped, same as the workspace scanners this replaces.
func (l *Local) Search(ctx context.Context, pattern, pathScope, globFilter string) ([]SearchMatch, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, NewOpError("search", pathScope, l.name, fmt.Errorf("invalid pattern: %w", err))
	}

	scope := pathScope
	if scope == "" {
		scope = "/"
	}
	searchRoot, err := l.resolve("search", scope)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(searchRoot)
	if err != nil {
		return nil, l.mapErr("search", scope, err)
	}

	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(searchRoot, func(fp string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				name := d.Name()
				if fp != searchRoot && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
					return filepath.SkipDir
				}
				return nil
			}
			if globFilter != "" {
				if ok, _ := path.Match(globFilter, d.Name()); !ok {
					return nil
				}
			}
			files = append(files, fp)
			return nil
		})
		if err != nil {
			return nil, l.mapErr("search", scope, err)
		}
	} else {
		files = []string{searchRoot}
	}

	var matches []SearchMatch
	for _, f := range files {
		if len(matches) >= maxSearchMatches {
			break
		}
		fileMatches, err := scanFile(f, l.identifier(f), re, maxSearchMatches-len(matches))
		if err != nil {
			continue // unreadable file, skip
		}
		matches = append(matches, fileMatches...)
	}

	logging.BackendDebug("search %q in %s: %d matches", pattern, scope, len(matches))
	return matches, nil
}

func scanFile(abs, id string, re *regexp.Regexp, maxMatches int) ([]SearchMatch, error) {
	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []SearchMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			matches = append(matches, SearchMatch{Path: id, Line: lineNum, Text: strings.TrimSpace(line)})
			if len(matches) >= maxMatches {
				break
			}
		}
	}
	return matches, scanner.Err()
}

// staticPrefix returns the directory portion of a glob pattern preceding
// its first wildcard segment, or "" when the pattern starts with one.
func staticPrefix(pattern string) string {
	meta := strings.IndexAny(pattern, "*?[")
	if meta < 0 {
		return path.Dir(pattern)
	}
	slash := strings.LastIndex(pattern[:meta], "/")
	if slash < 0 {
		return ""
	}
	return pattern[:slash]
}

// splitLines splits content into lines without producing a phantom trailing
// line for newline-terminated files.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// windowLines applies line-based pagination. limit <= 0 reads to EOF.
func windowLines(lines []string, offset, limit int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(lines) {
		return nil
	}
	end := len(lines)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return lines[offset:end]
}
