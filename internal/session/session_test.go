package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentfs/internal/backend"
	"agentfs/internal/config"
)

func newTestSession(t *testing.T) (*Session, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Backends[0].Root = dir
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, dir
}

func TestSessionLifecycle(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", s.ID.String())

	_, err := s.Write(ctx, "/a.txt", "hello\n")
	require.NoError(t, err)
	rr, err := s.Read(ctx, "/a.txt", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "hello", rr.Content)

	_, err = s.Edit(ctx, "/a.txt", "hello", "goodbye", false)
	require.NoError(t, err)

	s.Reset()
	_, err = s.Edit(ctx, "/a.txt", "goodbye", "hello", false)
	require.ErrorIs(t, err, backend.ErrReadRequired)
}

func TestSessionEnforcesReadBeforeEdit(t *testing.T) {
	s, dir := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pre.txt"), []byte("existing\n"), 0o644))

	_, err := s.Edit(ctx, "/pre.txt", "existing", "changed", false)
	require.ErrorIs(t, err, backend.ErrReadRequired)

	_, err = s.Read(ctx, "/pre.txt", 0, -1)
	require.NoError(t, err)
	_, err = s.Edit(ctx, "/pre.txt", "existing", "changed", false)
	require.NoError(t, err)
}

func TestFilesReportIncludesAdvisories(t *testing.T) {
	s, dir := newTestSession(t)
	ctx := context.Background()

	_, err := s.Write(ctx, "/watched.txt", "v1\n")
	require.NoError(t, err)
	_, err = s.Read(ctx, "/watched.txt", 0, -1)
	require.NoError(t, err)

	// External modification should surface in the report.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "watched.txt"), []byte("v2\n"), 0o644))

	require.Eventually(t, func() bool {
		report := s.FilesReport()
		return strings.Contains(report, "Changed Outside Session") &&
			strings.Contains(report, "/watched.txt")
	}, 2*time.Second, 10*time.Millisecond)

	report := s.FilesReport()
	assert.Contains(t, report, "## Session File Operations Summary")
	assert.Contains(t, report, "re-read before editing")

	// A fresh read supersedes the advisory.
	_, err = s.Read(ctx, "/watched.txt", 0, -1)
	require.NoError(t, err)
	assert.NotContains(t, s.FilesReport(), "Changed Outside Session")
}

func TestResetDropsWatcherAdvisories(t *testing.T) {
	s, dir := newTestSession(t)
	ctx := context.Background()

	_, err := s.Write(ctx, "/stale.txt", "v1\n")
	require.NoError(t, err)
	_, err = s.Read(ctx, "/stale.txt", 0, -1)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("v2\n"), 0o644))
	require.Eventually(t, func() bool {
		return strings.Contains(s.FilesReport(), "Changed Outside Session")
	}, 2*time.Second, 10*time.Millisecond)

	// Advisories are session state; a reset clears them with the table.
	s.Reset()
	assert.NotContains(t, s.FilesReport(), "Changed Outside Session")
}

func TestSessionRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backends[0].Kind = "ftp"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestSessionRoutesByScope(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	cfg := &config.Config{
		Backends: []config.BackendConfig{
			{Name: "notes", Kind: "local", Root: dirB, Scope: "/notes", Priority: 10},
			{Name: "workspace", Kind: "local", Root: dirA, Scope: "/", Priority: 0, Execute: true},
		},
	}
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.Write(ctx, "/notes/n.txt", "note\n")
	require.NoError(t, err)
	_, err = s.Write(ctx, "/main.txt", "main\n")
	require.NoError(t, err)

	// The scoped backend holds the note; the workspace holds the rest.
	_, err = os.Stat(filepath.Join(dirB, "notes", "n.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dirA, "main.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dirA, "notes", "n.txt"))
	assert.True(t, os.IsNotExist(err))
}
