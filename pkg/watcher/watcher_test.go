package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/dotz/pkg/engine"
	"github.com/arthur-debert/dotz/pkg/testutil"
)

func newTestWatcher(t *testing.T, env *testutil.Env) *Watcher {
	t.Helper()
	w, err := New(env.Engine, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.fs.Close() })
	return w
}

func trackConfigDir(t *testing.T, env *testutil.Env) string {
	t.Helper()
	dir := filepath.Join(env.Paths.Home(), ".config")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	_, err := env.Engine.Add(dir, engine.AddOptions{Recursive: true})
	require.NoError(t, err)
	return dir
}

func TestNewSubscribesTrackedDirs(t *testing.T) {
	env := testutil.NewEnv(t)
	trackConfigDir(t, env)

	w := newTestWatcher(t, env)
	assert.Equal(t, 1, w.Watched())
}

func TestEligibleRejectsExcludedAndSymlinks(t *testing.T) {
	env := testutil.NewEnv(t)
	dir := trackConfigDir(t, env)
	w := newTestWatcher(t, env)

	candidate := env.WriteHome(t, filepath.Join(".config", "starship.toml"), "x")
	excluded := env.WriteHome(t, filepath.Join(".config", "app.log"), "noise")

	link := filepath.Join(dir, "link.toml")
	require.NoError(t, os.Symlink(candidate, link))

	assert.True(t, w.eligible(candidate))
	assert.False(t, w.eligible(excluded))
	assert.False(t, w.eligible(link))
	assert.False(t, w.eligible(dir))
	assert.False(t, w.eligible(filepath.Join(dir, "missing.toml")))
}

func TestEligibleRejectsAlreadyManagedFiles(t *testing.T) {
	env := testutil.NewEnv(t)
	trackConfigDir(t, env)
	w := newTestWatcher(t, env)

	path := env.WriteHome(t, filepath.Join(".config", "starship.toml"), "x")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	// The home path is now a symlink; the watcher must not re-add it
	assert.False(t, w.eligible(path))
}

func TestFlushHonorsDebounceWindow(t *testing.T) {
	env := testutil.NewEnv(t)
	trackConfigDir(t, env)
	w := newTestWatcher(t, env)

	path := env.WriteHome(t, filepath.Join(".config", "starship.toml"), "x")
	w.enqueue(path)

	// Still inside the window: nothing happens
	w.flush()
	files, _, err := env.Engine.ListTracked()
	require.NoError(t, err)
	assert.Empty(t, files)

	// Age the entry past the window, then flush
	w.mu.Lock()
	w.pending[path] = time.Now().Add(-time.Second)
	w.mu.Unlock()
	w.flush()

	files, _, err = env.Engine.ListTracked()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, path, files[0].HomePath)
}

func TestEnqueueRestartsDebounce(t *testing.T) {
	env := testutil.NewEnv(t)
	trackConfigDir(t, env)
	w := newTestWatcher(t, env)

	path := env.WriteHome(t, filepath.Join(".config", "starship.toml"), "x")

	w.mu.Lock()
	w.pending[path] = time.Now().Add(-time.Second)
	w.mu.Unlock()

	// A fresh event resets the timestamp, keeping the path pending
	w.enqueue(path)
	w.flush()

	files, _, err := env.Engine.ListTracked()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRefreshDropsUntrackedDirs(t *testing.T) {
	env := testutil.NewEnv(t)
	dir := trackConfigDir(t, env)

	path := env.WriteHome(t, filepath.Join(".config", "starship.toml"), "x")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	w := newTestWatcher(t, env)
	require.Equal(t, 1, w.Watched())

	// Untracking the directory (by deleting its last file) must drop the
	// subscription on the next refresh
	_, err = env.Engine.Delete(dir, engine.DeleteOptions{})
	require.NoError(t, err)

	require.NoError(t, w.refreshSubscriptions())
	assert.Equal(t, 0, w.Watched())
}

func TestNewSubscribesSubdirectories(t *testing.T) {
	env := testutil.NewEnv(t)
	dir := filepath.Join(env.Paths.Home(), ".config")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nvim"), 0o755))
	_, err := env.Engine.Add(dir, engine.AddOptions{Recursive: true})
	require.NoError(t, err)

	w := newTestWatcher(t, env)
	assert.Equal(t, 2, w.Watched())
}

func TestDirectoryCreationExtendsWatches(t *testing.T) {
	env := testutil.NewEnv(t)
	dir := trackConfigDir(t, env)
	w := newTestWatcher(t, env)
	require.Equal(t, 1, w.Watched())

	// A new subdirectory arrives with a file already inside
	sub := filepath.Join(dir, "nvim")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	inside := filepath.Join(sub, "init.toml")
	require.NoError(t, os.WriteFile(inside, []byte("x"), 0o644))

	w.enqueue(sub)
	assert.Equal(t, 2, w.Watched())

	// The pre-existing file was picked up by the post-subscribe scan
	w.mu.Lock()
	w.pending[inside] = time.Now().Add(-time.Second)
	w.mu.Unlock()
	w.flush()

	tracked, err := env.Engine.Store().ContainsFile(inside)
	require.NoError(t, err)
	assert.True(t, tracked)
}

func TestDirectoryCreationSkipsExcludedNames(t *testing.T) {
	env := testutil.NewEnv(t)
	dir := trackConfigDir(t, env)
	w := newTestWatcher(t, env)

	sub := filepath.Join(dir, ".cache")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "state.toml"), []byte("x"), 0o644))

	w.enqueue(sub)
	assert.Equal(t, 1, w.Watched())

	w.mu.Lock()
	pending := len(w.pending)
	w.mu.Unlock()
	assert.Zero(t, pending)
}

func TestLiveAutoAdd(t *testing.T) {
	env := testutil.NewEnv(t)
	dir := trackConfigDir(t, env)

	w, err := New(env.Engine, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	candidate := filepath.Join(dir, "starship.toml")
	require.NoError(t, os.WriteFile(candidate, []byte("[character]"), 0o644))
	excluded := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(excluded, []byte("noise"), 0o644))

	require.Eventually(t, func() bool {
		tracked, err := env.Engine.Store().ContainsFile(candidate)
		return err == nil && tracked
	}, 5*time.Second, 50*time.Millisecond)

	// The excluded file never gets picked up
	tracked, err := env.Engine.Store().ContainsFile(excluded)
	require.NoError(t, err)
	assert.False(t, tracked)

	info, err := os.Lstat(candidate)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
}

func TestLiveAutoAddInNewSubdirectory(t *testing.T) {
	env := testutil.NewEnv(t)
	dir := trackConfigDir(t, env)

	w, err := New(env.Engine, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	sub := filepath.Join(dir, "nvim")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	candidate := filepath.Join(sub, "init.toml")
	require.NoError(t, os.WriteFile(candidate, []byte("[ui]"), 0o644))

	require.Eventually(t, func() bool {
		tracked, err := env.Engine.Store().ContainsFile(candidate)
		return err == nil && tracked
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStopWaitsForDispatch(t *testing.T) {
	env := testutil.NewEnv(t)
	trackConfigDir(t, env)

	w, err := New(env.Engine, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	w.Start()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
