// Package testutil builds isolated dotz environments for tests: a
// throwaway HOME with an initialized repository and a ready engine.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/dotz/pkg/engine"
	"github.com/arthur-debert/dotz/pkg/gitstore"
	"github.com/arthur-debert/dotz/pkg/paths"
)

// Env is an isolated dotz installation rooted in a temp directory.
type Env struct {
	Paths  paths.Paths
	Engine *engine.Engine
}

// NewEnv creates a temp HOME, initializes the repository there and
// returns an engine bound to it. Cleanup rides on t.TempDir.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DOTZ_DIR", "")

	p, err := paths.New()
	require.NoError(t, err)

	_, err = gitstore.Init(p.RepoDir(), "")
	require.NoError(t, err)

	eng, err := engine.Open(p)
	require.NoError(t, err)

	return &Env{Paths: p, Engine: eng}
}

// WriteHome creates a file under HOME with the given content and returns
// its absolute path.
func (e *Env) WriteHome(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(e.Paths.Home(), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ReadHome returns the content of a file under HOME, following symlinks.
func (e *Env) ReadHome(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.Paths.Home(), rel))
	require.NoError(t, err)
	return string(data)
}

// IsManagedLink reports whether the path under HOME is a symlink into
// the repository.
func (e *Env) IsManagedLink(t *testing.T, rel string) bool {
	t.Helper()
	path := filepath.Join(e.Paths.Home(), rel)
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return false
	}
	target, err := os.Readlink(path)
	require.NoError(t, err)
	return target == filepath.Join(e.Paths.RepoDir(), rel)
}
