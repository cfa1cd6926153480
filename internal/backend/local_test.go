package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal("workspace", t.TempDir())
	require.NoError(t, err)
	return l
}

func TestLocalWriteRead(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	wr, err := l.Write(ctx, "/docs/a.txt", "hello\nworld\n")
	require.NoError(t, err)
	assert.True(t, wr.CreatedNew)
	assert.Equal(t, 12, wr.BytesWritten)
	assert.Equal(t, HashBytes([]byte("hello\nworld\n")), wr.Hash)

	rr, err := l.Read(ctx, "/docs/a.txt", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", rr.Content)
	assert.Equal(t, 2, rr.TotalLines)
	assert.Equal(t, int64(12), rr.TotalBytes)
	assert.Equal(t, wr.Hash, rr.Hash)

	// Overwrite is unconditional and reports createdNew=false.
	wr2, err := l.Write(ctx, "docs/a.txt", "replaced")
	require.NoError(t, err)
	assert.False(t, wr2.CreatedNew)
}

func TestLocalReadWindowKeepsWholeFileHash(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	content := "l1\nl2\nl3\nl4\nl5\n"
	_, err := l.Write(ctx, "big.txt", content)
	require.NoError(t, err)

	rr, err := l.Read(ctx, "big.txt", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "l2\nl3", rr.Content)
	assert.Equal(t, 5, rr.TotalLines)
	// The hash must cover the complete file, not the window.
	assert.Equal(t, HashBytes([]byte(content)), rr.Hash)

	// Offset past EOF yields an empty window, not an error.
	rr, err = l.Read(ctx, "big.txt", 99, 10)
	require.NoError(t, err)
	assert.Empty(t, rr.Content)
}

func TestLocalReadNotFound(t *testing.T) {
	l := newTestLocal(t)

	_, err := l.Read(context.Background(), "/missing.txt", 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalPathTraversalRejected(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	for _, p := range []string{"../etc/passwd", "foo/../../etc/passwd", "..\\..\\secrets"} {
		_, err := l.Read(ctx, p, 0, 0)
		assert.ErrorIs(t, err, ErrPermissionDenied, "path %q must not escape the root", p)
	}

	// Dot segments that stay inside the root are fine.
	_, err := l.Write(ctx, "a/../b.txt", "ok")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(l.Root(), "b.txt"))
	require.NoError(t, err)
}

func TestLocalEdit(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	_, err := l.Write(ctx, "code.go", "x := 1\ny := x + x\n")
	require.NoError(t, err)

	t.Run("no match", func(t *testing.T) {
		_, err := l.Edit(ctx, "code.go", "z :=", "w :=", false)
		assert.ErrorIs(t, err, ErrNoMatch)
	})

	t.Run("ambiguous without replaceAll", func(t *testing.T) {
		_, err := l.Edit(ctx, "code.go", "x", "v", false)
		assert.ErrorIs(t, err, ErrAmbiguousMatch)
	})

	t.Run("single replacement", func(t *testing.T) {
		er, err := l.Edit(ctx, "code.go", "x := 1", "x := 2", false)
		require.NoError(t, err)
		assert.Equal(t, 1, er.Replacements)

		rr, err := l.Read(ctx, "code.go", 0, 0)
		require.NoError(t, err)
		assert.Contains(t, rr.Content, "x := 2")
		assert.Equal(t, er.Hash, rr.Hash)
	})

	t.Run("replace all", func(t *testing.T) {
		er, err := l.Edit(ctx, "code.go", "x", "q", true)
		require.NoError(t, err)
		assert.Equal(t, 3, er.Replacements)
	})
}

func TestLocalGlob(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	for _, p := range []string{"a.md", "b.txt", "sub/c.md", "sub/deep/d.md"} {
		_, err := l.Write(ctx, p, "content")
		require.NoError(t, err)
	}

	t.Run("simple pattern", func(t *testing.T) {
		matches, err := l.Glob(ctx, "*.md")
		require.NoError(t, err)
		assert.Equal(t, []string{"/a.md"}, matches)
	})

	t.Run("recursive pattern", func(t *testing.T) {
		matches, err := l.Glob(ctx, "**/*.md")
		require.NoError(t, err)
		assert.Equal(t, []string{"/a.md", "/sub/c.md", "/sub/deep/d.md"}, matches)
	})

	t.Run("prefixed recursive pattern", func(t *testing.T) {
		matches, err := l.Glob(ctx, "sub/**/*.md")
		require.NoError(t, err)
		assert.Equal(t, []string{"/sub/c.md", "/sub/deep/d.md"}, matches)
	})
}

func TestLocalGlobStaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(parent, "secret"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret", "token.txt"), []byte("sensitive"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "escape.txt"), []byte("outside"), 0o644))

	root := filepath.Join(parent, "root")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "inside.txt"), []byte("ok"), 0o644))

	l, err := NewLocal("workspace", root)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("traversal prefix rejected", func(t *testing.T) {
		_, err := l.Glob(ctx, "../secret/*")
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("literal traversal rejected", func(t *testing.T) {
		_, err := l.Glob(ctx, "../escape.txt")
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("escaping matches dropped", func(t *testing.T) {
		// filepath.Join collapses the wildcard against the dot-dot segments
		// before globbing, so the only candidate lies outside the root.
		matches, err := l.Glob(ctx, "*/../../escape.txt")
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("dot segments staying inside are fine", func(t *testing.T) {
		matches, err := l.Glob(ctx, "sub/../*.txt")
		require.NoError(t, err)
		assert.Equal(t, []string{"/inside.txt"}, matches)
	})
}

func TestLocalSearch(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	_, err := l.Write(ctx, "main.go", "package main\n\nfunc main() {}\n")
	require.NoError(t, err)
	_, err = l.Write(ctx, "util.go", "package main\n\nfunc helper() {}\n")
	require.NoError(t, err)
	_, err = l.Write(ctx, "notes.txt", "func is not a keyword here\n")
	require.NoError(t, err)

	t.Run("plain search", func(t *testing.T) {
		matches, err := l.Search(ctx, `func \w+\(`, "", "")
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "/main.go", matches[0].Path)
		assert.Equal(t, 3, matches[0].Line)
	})

	t.Run("glob filter", func(t *testing.T) {
		matches, err := l.Search(ctx, "func", "", "*.txt")
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "/notes.txt", matches[0].Path)
	})

	t.Run("invalid regex", func(t *testing.T) {
		_, err := l.Search(ctx, "(", "", "")
		assert.Error(t, err)
	})
}

func TestLocalList(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	_, err := l.Write(ctx, "dir/file.txt", "12345")
	require.NoError(t, err)
	_, err = l.Write(ctx, "top.txt", "x")
	require.NoError(t, err)

	entries, err := l.List(ctx, "/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Name: "dir", IsDir: true, Size: entries[0].Size}, entries[0])
	assert.Equal(t, Entry{Name: "top.txt", IsDir: false, Size: 1}, entries[1])

	_, err = l.List(ctx, "/absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpErrorUnwrap(t *testing.T) {
	err := NewOpError("edit", "/a.txt", "workspace", ErrStaleContent)
	assert.ErrorIs(t, err, ErrStaleContent)
	assert.Contains(t, err.Error(), "/a.txt")
	assert.Contains(t, err.Error(), "workspace")
}
