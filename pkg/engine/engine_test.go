package engine_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/dotz/pkg/engine"
	"github.com/arthur-debert/dotz/pkg/errors"
	"github.com/arthur-debert/dotz/pkg/testutil"
)

func TestAddFile(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "set number\n")

	result, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, result.Added)
	assert.NotEmpty(t, result.Commit)

	// The original became a symlink into the repo, content preserved
	assert.True(t, env.IsManagedLink(t, ".vimrc"))
	assert.Equal(t, "set number\n", env.ReadHome(t, ".vimrc"))

	files, _, err := env.Engine.ListTracked()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, path, files[0].HomePath)
}

func TestAddRelativePathResolvesAgainstHome(t *testing.T) {
	env := testutil.NewEnv(t)
	env.WriteHome(t, ".bashrc", "export X=1\n")

	_, err := env.Engine.Add(".bashrc", engine.AddOptions{})
	require.NoError(t, err)
	assert.True(t, env.IsManagedLink(t, ".bashrc"))
}

func TestAddIsIdempotent(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "x")

	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	result, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	assert.Equal(t, []string{path}, result.Skipped)
	assert.Empty(t, result.Commit)
}

func TestAddMissingFile(t *testing.T) {
	env := testutil.NewEnv(t)
	_, err := env.Engine.Add(filepath.Join(env.Paths.Home(), ".nope"), engine.AddOptions{})
	assert.True(t, errors.IsErrorCode(err, errors.ErrFileNotFound))
}

func TestAddOutsideHomeFails(t *testing.T) {
	env := testutil.NewEnv(t)

	outside := filepath.Join(t.TempDir(), ".vimrc")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	_, err := env.Engine.Add(outside, engine.AddOptions{})
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
}

func TestAddConflictingRepoCopy(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "home version")

	// A divergent copy already sits in the repository
	repoCopy := filepath.Join(env.Paths.RepoDir(), ".vimrc")
	require.NoError(t, os.WriteFile(repoCopy, []byte("repo version"), 0o644))

	_, err := env.Engine.Add(path, engine.AddOptions{})
	assert.True(t, errors.IsErrorCode(err, errors.ErrConflict))

	// Nothing was mutated: home file intact, not a symlink, not tracked
	info, err := os.Lstat(path)
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())

	files, _, err := env.Engine.ListTracked()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestAddMatchingRepoCopyIsNotAConflict(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "same")

	repoCopy := filepath.Join(env.Paths.RepoDir(), ".vimrc")
	require.NoError(t, os.WriteFile(repoCopy, []byte("same"), 0o644))

	result, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, result.Added)
	assert.True(t, env.IsManagedLink(t, ".vimrc"))
}

func TestAddSymlinkFails(t *testing.T) {
	env := testutil.NewEnv(t)
	target := env.WriteHome(t, ".real", "x")
	link := filepath.Join(env.Paths.Home(), ".link")
	require.NoError(t, os.Symlink(target, link))

	_, err := env.Engine.Add(link, engine.AddOptions{})
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
}

func TestAddDirectory(t *testing.T) {
	env := testutil.NewEnv(t)
	env.WriteHome(t, filepath.Join(".config", "starship.toml"), "[character]")
	env.WriteHome(t, filepath.Join(".config", "app.log"), "noise")
	env.WriteHome(t, filepath.Join(".config", "fish", "config.fish"), "fish")

	dir := filepath.Join(env.Paths.Home(), ".config")
	result, err := env.Engine.Add(dir, engine.AddOptions{Recursive: true})
	require.NoError(t, err)

	// *.log is excluded; the toml and the nested dotfile-pattern file match
	assert.Contains(t, result.Added, filepath.Join(dir, "starship.toml"))
	assert.NotContains(t, result.Added, filepath.Join(dir, "app.log"))
	assert.NotEmpty(t, result.Commit)

	_, dirs, err := env.Engine.ListTracked()
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, dir, dirs[0].HomeDirPath)
}

func TestAddDirectoryNonRecursiveSkipsSubdirs(t *testing.T) {
	env := testutil.NewEnv(t)
	env.WriteHome(t, filepath.Join(".config", "starship.toml"), "x")
	env.WriteHome(t, filepath.Join(".config", "fish", "config.fish"), "fish")

	dir := filepath.Join(env.Paths.Home(), ".config")
	result, err := env.Engine.Add(dir, engine.AddOptions{Recursive: false})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "starship.toml")}, result.Added)
}

func TestAddEmptyDirectoryStillTracksIt(t *testing.T) {
	env := testutil.NewEnv(t)
	dir := filepath.Join(env.Paths.Home(), ".config")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	result, err := env.Engine.Add(dir, engine.AddOptions{Recursive: true})
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	assert.Empty(t, result.Commit)

	_, dirs, err := env.Engine.ListTracked()
	require.NoError(t, err)
	assert.Len(t, dirs, 1)
}

func TestDeleteRoundTrip(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "set number\n")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	result, err := env.Engine.Delete(path, engine.DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, result.Deleted)
	assert.NotEmpty(t, result.Commit)

	// The user keeps the file as a regular file with its content
	info, err := os.Lstat(path)
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
	assert.Equal(t, "set number\n", env.ReadHome(t, ".vimrc"))

	assert.NoFileExists(t, filepath.Join(env.Paths.RepoDir(), ".vimrc"))

	files, _, err := env.Engine.ListTracked()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDeleteUntracked(t *testing.T) {
	env := testutil.NewEnv(t)
	_, err := env.Engine.Delete(filepath.Join(env.Paths.Home(), ".vimrc"), engine.DeleteOptions{})
	assert.True(t, errors.IsErrorCode(err, errors.ErrNotTracked))
}

func TestDeleteToleratesMissingSymlink(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "x")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	_, err = env.Engine.Delete(path, engine.DeleteOptions{})
	require.NoError(t, err)

	files, _, err := env.Engine.ListTracked()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDeleteDirectory(t *testing.T) {
	env := testutil.NewEnv(t)
	env.WriteHome(t, filepath.Join(".config", "starship.toml"), "a")
	env.WriteHome(t, filepath.Join(".config", "wezterm.toml"), "b")

	dir := filepath.Join(env.Paths.Home(), ".config")
	_, err := env.Engine.Add(dir, engine.AddOptions{Recursive: true})
	require.NoError(t, err)

	result, err := env.Engine.Delete(dir, engine.DeleteOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Deleted, 2)

	files, dirs, err := env.Engine.ListTracked()
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, dirs)
}

func TestDeleteLastFilePrunesTrackedDir(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, filepath.Join(".config", "starship.toml"), "x")

	dir := filepath.Join(env.Paths.Home(), ".config")
	_, err := env.Engine.Add(dir, engine.AddOptions{Recursive: true})
	require.NoError(t, err)

	_, err = env.Engine.Delete(path, engine.DeleteOptions{})
	require.NoError(t, err)

	_, dirs, err := env.Engine.ListTracked()
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestRestoreCorrectLinkIsNoOp(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "x")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	result, err := env.Engine.Restore(path, engine.RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, result.Unchanged)
	assert.Empty(t, result.Relinked)
}

func TestRestoreMissingLink(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "set number\n")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	result, err := env.Engine.Restore(path, engine.RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, result.Relinked)
	assert.True(t, env.IsManagedLink(t, ".vimrc"))
	assert.Equal(t, "set number\n", env.ReadHome(t, ".vimrc"))
}

func TestRestoreWrongTarget(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "x")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	elsewhere := env.WriteHome(t, ".other", "y")
	require.NoError(t, os.Symlink(elsewhere, path))

	result, err := env.Engine.Restore(path, engine.RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, result.Relinked)
	assert.True(t, env.IsManagedLink(t, ".vimrc"))
}

func TestRestoreForeignFileConflicts(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "managed")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	// The user replaced the symlink with a plain file
	require.NoError(t, os.Remove(path))
	env.WriteHome(t, ".vimrc", "foreign")

	_, err = env.Engine.Restore(path, engine.RestoreOptions{})
	assert.True(t, errors.IsErrorCode(err, errors.ErrConflict))
	assert.Equal(t, "foreign", env.ReadHome(t, ".vimrc"))
}

func TestRestoreForceBacksUpForeignFile(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "managed")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	env.WriteHome(t, ".vimrc", "foreign")

	result, err := env.Engine.Restore(path, engine.RestoreOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, result.BackedUp)
	assert.True(t, env.IsManagedLink(t, ".vimrc"))
	assert.Equal(t, "managed", env.ReadHome(t, ".vimrc"))

	// The foreign content survived in a backup
	entries, err := os.ReadDir(env.Paths.BackupDir())
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestRestoreDirectory(t *testing.T) {
	env := testutil.NewEnv(t)
	env.WriteHome(t, filepath.Join(".config", "starship.toml"), "a")
	env.WriteHome(t, filepath.Join(".config", "wezterm.toml"), "b")

	dir := filepath.Join(env.Paths.Home(), ".config")
	_, err := env.Engine.Add(dir, engine.AddOptions{Recursive: true})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "starship.toml")))
	require.NoError(t, os.Remove(filepath.Join(dir, "wezterm.toml")))

	result, err := env.Engine.Restore(dir, engine.RestoreOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Relinked, 2)
}

func TestRestoreAll(t *testing.T) {
	env := testutil.NewEnv(t)
	a := env.WriteHome(t, ".vimrc", "a")
	b := env.WriteHome(t, ".bashrc", "b")
	for _, p := range []string{a, b} {
		_, err := env.Engine.Add(p, engine.AddOptions{})
		require.NoError(t, err)
	}

	require.NoError(t, os.Remove(a))
	require.NoError(t, os.Remove(b))

	result, err := env.Engine.RestoreAll(engine.RestoreOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Relinked, 2)
	assert.True(t, env.IsManagedLink(t, ".vimrc"))
	assert.True(t, env.IsManagedLink(t, ".bashrc"))
}

func TestRestoreUntracked(t *testing.T) {
	env := testutil.NewEnv(t)
	_, err := env.Engine.Restore(filepath.Join(env.Paths.Home(), ".vimrc"), engine.RestoreOptions{})
	assert.True(t, errors.IsErrorCode(err, errors.ErrNotTracked))
}

func TestValidateReportsLinkStates(t *testing.T) {
	env := testutil.NewEnv(t)

	missing := env.WriteHome(t, ".vimrc", "a")
	foreign := env.WriteHome(t, ".bashrc", "b")
	healthy := env.WriteHome(t, ".zshrc", "c")
	for _, p := range []string{missing, foreign, healthy} {
		_, err := env.Engine.Add(p, engine.AddOptions{})
		require.NoError(t, err)
	}

	require.NoError(t, os.Remove(missing))
	require.NoError(t, os.Remove(foreign))
	env.WriteHome(t, ".bashrc", "foreign")

	report, err := env.Engine.Validate(engine.ValidateOptions{})
	require.NoError(t, err)
	require.Len(t, report.Issues, 2)
	assert.False(t, report.Clean())

	states := map[string]engine.LinkState{}
	for _, issue := range report.Issues {
		states[issue.File.HomePath] = issue.State
	}
	assert.Equal(t, engine.LinkMissing, states[missing])
	assert.Equal(t, engine.LinkNotSymlink, states[foreign])
}

func TestValidateRepair(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "x")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	report, err := env.Engine.Validate(engine.ValidateOptions{Repair: true})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, report.Repaired)
	assert.True(t, env.IsManagedLink(t, ".vimrc"))
}

func TestValidateRepairSkipsForeignFileWithoutForce(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "x")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	env.WriteHome(t, ".vimrc", "foreign")

	report, err := env.Engine.Validate(engine.ValidateOptions{Repair: true})
	require.NoError(t, err)
	assert.Empty(t, report.Repaired)
	assert.Equal(t, "foreign", env.ReadHome(t, ".vimrc"))

	report, err = env.Engine.Validate(engine.ValidateOptions{Repair: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, report.Repaired)
	assert.Equal(t, "x", env.ReadHome(t, ".vimrc"))
}

func TestStatus(t *testing.T) {
	env := testutil.NewEnv(t)
	tracked := env.WriteHome(t, ".vimrc", "x")
	_, err := env.Engine.Add(tracked, engine.AddOptions{})
	require.NoError(t, err)

	candidate := env.WriteHome(t, ".gitconfig", "[user]")

	st, err := env.Engine.Status()
	require.NoError(t, err)
	require.Len(t, st.Files, 1)
	assert.True(t, st.Files[0].Healthy())
	assert.Contains(t, st.Candidates, candidate)
	assert.NotContains(t, st.Candidates, tracked)
}

func TestRebuildRecoversStateFromIndex(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "set number\n")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)

	// A fresh machine has the repository but no local state
	require.NoError(t, os.Remove(env.Paths.StateFile()))

	fresh, err := engine.Open(env.Paths)
	require.NoError(t, err)

	changed, err := fresh.Rebuild()
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	files, _, err := fresh.ListTracked()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, path, files[0].HomePath)
}

func TestBusyIsClearAtRest(t *testing.T) {
	env := testutil.NewEnv(t)
	path := env.WriteHome(t, ".vimrc", "x")
	_, err := env.Engine.Add(path, engine.AddOptions{})
	require.NoError(t, err)
	assert.False(t, env.Engine.Busy(path))
}
