// Package engine implements the symlink lifecycle: moving dotfiles into
// the content store, replacing the originals with symlinks, and keeping
// the two sides consistent through delete, restore and validation.
//
// Operation ordering for add is fixed: copy into the repo, stage, swap
// the original for a symlink, record state, commit. A failure before the
// swap leaves the home directory untouched; a failure after it leaves
// the filesystem converged so the operation can be retried.
package engine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arthur-debert/dotz/pkg/backup"
	"github.com/arthur-debert/dotz/pkg/classifier"
	"github.com/arthur-debert/dotz/pkg/config"
	"github.com/arthur-debert/dotz/pkg/errors"
	"github.com/arthur-debert/dotz/pkg/gitstore"
	"github.com/arthur-debert/dotz/pkg/logging"
	"github.com/arthur-debert/dotz/pkg/paths"
	"github.com/arthur-debert/dotz/pkg/store"
)

// Engine coordinates the content store, the state store and the home
// directory. All exported methods are safe for concurrent use.
type Engine struct {
	paths      paths.Paths
	cfg        *config.Config
	classifier *classifier.Classifier
	store      *store.Store
	content    gitstore.ContentStore
	backups    *backup.Manager
	logger     zerolog.Logger

	mu sync.Mutex

	busyMu sync.Mutex
	busy   map[string]struct{}
}

// New assembles an Engine from its collaborators.
func New(p paths.Paths, cfg *config.Config, content gitstore.ContentStore) *Engine {
	return &Engine{
		paths:      p,
		cfg:        cfg,
		classifier: classifier.New(cfg),
		store:      store.New(p),
		content:    content,
		backups:    backup.New(p),
		logger:     logging.GetLogger("engine"),
		busy:       make(map[string]struct{}),
	}
}

// Open loads the configuration and opens the existing repository, then
// assembles an Engine. Fails with REPO_NOT_FOUND before init.
func Open(p paths.Paths) (*Engine, error) {
	cfg, err := config.Load(p)
	if err != nil {
		return nil, err
	}
	content, err := gitstore.Open(p.RepoDir())
	if err != nil {
		return nil, err
	}
	return New(p, cfg, content), nil
}

// Store exposes the state store, primarily for the watcher's
// subscription refresh.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Classifier exposes the pattern classifier built from the loaded
// configuration.
func (e *Engine) Classifier() *classifier.Classifier {
	return e.classifier
}

// Busy reports whether the engine is currently mutating homePath. The
// watcher uses this to suppress events caused by the engine itself.
func (e *Engine) Busy(homePath string) bool {
	e.busyMu.Lock()
	defer e.busyMu.Unlock()
	_, ok := e.busy[homePath]
	return ok
}

// markBusy registers home paths as in-flight and returns the release
// func. Callers defer the release so the watcher suppression window
// covers the whole operation including the commit.
func (e *Engine) markBusy(homePaths ...string) func() {
	e.busyMu.Lock()
	for _, p := range homePaths {
		e.busy[p] = struct{}{}
	}
	e.busyMu.Unlock()

	return func() {
		e.busyMu.Lock()
		for _, p := range homePaths {
			delete(e.busy, p)
		}
		e.busyMu.Unlock()
	}
}

// AddOptions controls Add behavior.
type AddOptions struct {
	// Recursive scans subdirectories when adding a directory. Single-file
	// adds ignore it.
	Recursive bool
	// Push runs a push after the commit.
	Push bool
}

// AddResult reports what an Add call did.
type AddResult struct {
	// Added lists the home paths newly brought under management.
	Added []string
	// Skipped lists candidates that were already tracked.
	Skipped []string
	// Commit is the resulting commit hash, empty when nothing changed.
	Commit string
}

// Add brings a file, or every eligible file in a directory, under
// management. Adding an already tracked, correctly linked file is a
// no-op. Adding a file whose repo copy exists with different content
// fails with CONFLICT and mutates nothing.
func (e *Engine) Add(path string, opts AddOptions) (*AddResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer logging.LogOperationStart(e.logger, "add")()

	abs, err := e.paths.Normalize(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileNotFound, "%s does not exist", path)
	}

	var result *AddResult
	if info.IsDir() {
		result, err = e.addDirectory(abs, opts)
	} else {
		result, err = e.addFile(abs)
	}
	if err != nil {
		return nil, err
	}

	if opts.Push && result.Commit != "" {
		if err := e.content.Push(); err != nil {
			return result, err
		}
	}
	return result, nil
}

// addFile adds a single file and commits it.
func (e *Engine) addFile(abs string) (*AddResult, error) {
	rel, err := e.paths.HomeRelative(abs)
	if err != nil {
		return nil, err
	}

	release := e.markBusy(abs)
	defer release()

	added, err := e.trackFile(abs, rel)
	if err != nil {
		return nil, err
	}
	if !added {
		return &AddResult{Skipped: []string{abs}}, nil
	}

	hash, err := e.content.Commit("Add " + filepath.ToSlash(rel))
	if err != nil {
		return nil, err
	}

	e.logger.Info().Str("path", abs).Msg("file added")
	return &AddResult{Added: []string{abs}, Commit: hash}, nil
}

// addDirectory adds every eligible file under abs with one batch commit,
// and records the directory as tracked even when nothing matched: the
// user opted it in and the watcher will pick up future files.
func (e *Engine) addDirectory(abs string, opts AddOptions) (*AddResult, error) {
	rel, err := e.paths.HomeRelative(abs)
	if err != nil {
		return nil, err
	}

	matches, err := e.classifier.ScanDir(abs, opts.Recursive)
	if err != nil {
		return nil, err
	}

	release := e.markBusy(matches...)
	defer release()

	result := &AddResult{}
	for _, match := range matches {
		matchRel, err := e.paths.HomeRelative(match)
		if err != nil {
			return nil, err
		}
		added, err := e.trackFile(match, matchRel)
		if err != nil {
			return nil, err
		}
		if added {
			result.Added = append(result.Added, match)
		} else {
			result.Skipped = append(result.Skipped, match)
		}
	}

	if err := e.store.RecordDir(store.TrackedDirectory{HomeDirPath: abs}); err != nil {
		return nil, err
	}

	if len(result.Added) > 0 {
		message := fmt.Sprintf("Add %d dotfiles from %s", len(result.Added), filepath.ToSlash(rel))
		hash, err := e.content.Commit(message)
		if err != nil {
			return nil, err
		}
		result.Commit = hash
	}

	e.logger.Info().Str("dir", abs).Int("added", len(result.Added)).Msg("directory added")
	return result, nil
}

// trackFile performs the copy/stage/symlink/record sequence for one file
// without committing. Returns false when the file was already tracked.
func (e *Engine) trackFile(abs, rel string) (bool, error) {
	repoPath := filepath.Join(e.content.Root(), rel)

	tracked, err := e.store.ContainsFile(abs)
	if err != nil {
		return false, err
	}
	if tracked {
		return false, nil
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileNotFound, "%s does not exist", abs)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(abs)
		if err == nil && target == repoPath {
			// Link already in place but state lost; self-heal the record.
			if err := e.store.RecordFile(store.TrackedFile{HomePath: abs, RepoPath: repoPath}); err != nil {
				return false, err
			}
			return false, nil
		}
		return false, errors.Newf(errors.ErrInvalidInput, "%s is a symlink, track its target instead", abs)
	}

	if divergent, err := e.repoCopyDiverges(abs, repoPath); err != nil {
		return false, err
	} else if divergent {
		return false, errors.Newf(errors.ErrConflict,
			"%s already exists in the repository with different content", rel).
			WithDetail("home_path", abs).
			WithDetail("repo_path", repoPath)
	}

	if err := e.content.CopyIn(abs, repoPath); err != nil {
		return false, err
	}
	if err := e.content.Stage([]string{repoPath}); err != nil {
		return false, err
	}
	if err := e.swapForSymlink(abs, repoPath); err != nil {
		return false, err
	}
	return true, e.store.RecordFile(store.TrackedFile{HomePath: abs, RepoPath: repoPath})
}

// repoCopyDiverges reports whether a pre-existing repo copy differs from
// the home file.
func (e *Engine) repoCopyDiverges(abs, repoPath string) (bool, error) {
	repoData, err := os.ReadFile(repoPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "failed to read %s", repoPath)
	}
	homeData, err := os.ReadFile(abs)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "failed to read %s", abs)
	}
	return !bytes.Equal(repoData, homeData), nil
}

// swapForSymlink replaces the home file with a symlink to its repo copy.
// The original is parked under a temporary name until the link exists,
// and moved back if linking fails.
func (e *Engine) swapForSymlink(abs, repoPath string) error {
	parked := abs + ".dotz-swap"
	if err := os.Rename(abs, parked); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to move %s aside", abs)
	}
	if err := os.Symlink(repoPath, abs); err != nil {
		_ = os.Rename(parked, abs)
		return errors.Wrapf(err, errors.ErrSymlinkCreate, "failed to symlink %s", abs)
	}
	if err := os.Remove(parked); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to remove %s", parked)
	}
	return nil
}

// DeleteOptions controls Delete behavior.
type DeleteOptions struct {
	// Push runs a push after the commit.
	Push bool
}

// DeleteResult reports what a Delete call did.
type DeleteResult struct {
	// Deleted lists the home paths taken out of management.
	Deleted []string
	// Commit is the resulting commit hash, empty when the tree was clean.
	Commit string
}

// Delete stops tracking a file or directory. The symlink is replaced
// with the file's current repo content, so the user keeps the file; the
// repo copy is removed and the deletion committed. Deleting an untracked
// path fails with NOT_TRACKED.
func (e *Engine) Delete(path string, opts DeleteOptions) (*DeleteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer logging.LogOperationStart(e.logger, "delete")()

	abs, err := e.paths.Normalize(path)
	if err != nil {
		return nil, err
	}

	record, tracked, err := e.store.GetFile(abs)
	if err != nil {
		return nil, err
	}

	var result *DeleteResult
	if tracked {
		result, err = e.deleteFiles([]store.TrackedFile{record}, "Remove "+e.commitRel(abs))
	} else {
		under, ferr := e.store.FilesUnder(abs)
		if ferr != nil {
			return nil, ferr
		}
		if len(under) == 0 {
			return nil, errors.Newf(errors.ErrNotTracked, "%s is not tracked", path)
		}
		message := fmt.Sprintf("Remove %d dotfiles from %s", len(under), e.commitRel(abs))
		result, err = e.deleteFiles(under, message)
		if err == nil {
			if derr := e.store.RemoveDir(abs); derr != nil {
				return nil, derr
			}
		}
	}
	if err != nil {
		return nil, err
	}

	if opts.Push && result.Commit != "" {
		if err := e.content.Push(); err != nil {
			return result, err
		}
	}
	return result, nil
}

// deleteFiles untracks each record and commits once.
func (e *Engine) deleteFiles(records []store.TrackedFile, message string) (*DeleteResult, error) {
	homePaths := make([]string, len(records))
	for i, r := range records {
		homePaths[i] = r.HomePath
	}
	release := e.markBusy(homePaths...)
	defer release()

	result := &DeleteResult{}
	for _, r := range records {
		if err := e.untrackFile(r); err != nil {
			return nil, err
		}
		result.Deleted = append(result.Deleted, r.HomePath)
	}

	hash, err := e.content.Commit(message)
	if err != nil {
		return nil, err
	}
	result.Commit = hash

	e.logger.Info().Int("deleted", len(result.Deleted)).Msg("files deleted")
	return result, nil
}

// untrackFile reverses tracking for one record: symlink out, content
// back in place, repo copy removed, state record dropped (which also
// rechecks directory membership).
func (e *Engine) untrackFile(r store.TrackedFile) error {
	info, err := os.Lstat(r.HomePath)
	switch {
	case os.IsNotExist(err):
		// Symlink already gone; nothing to put back.
	case err != nil:
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to stat %s", r.HomePath)
	case info.Mode()&os.ModeSymlink != 0:
		if err := os.Remove(r.HomePath); err != nil {
			return errors.Wrapf(err, errors.ErrFileAccess, "failed to remove symlink %s", r.HomePath)
		}
		if _, err := os.Stat(r.RepoPath); err == nil {
			if err := copyBack(r.RepoPath, r.HomePath); err != nil {
				return err
			}
		}
	default:
		// The user already replaced the symlink with a real file; leave it.
	}

	if _, err := os.Stat(r.RepoPath); err == nil {
		if err := e.content.Remove(r.RepoPath); err != nil {
			return err
		}
	}
	return e.store.RemoveFile(r.HomePath)
}

// copyBack materializes the repo copy at the home location.
func copyBack(repoPath, homePath string) error {
	data, err := os.ReadFile(repoPath)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to read %s", repoPath)
	}
	info, err := os.Stat(repoPath)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to stat %s", repoPath)
	}
	if err := os.MkdirAll(filepath.Dir(homePath), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to create %s", filepath.Dir(homePath))
	}
	if err := os.WriteFile(homePath, data, info.Mode().Perm()); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to write %s", homePath)
	}
	return nil
}

// RestoreOptions controls Restore behavior.
type RestoreOptions struct {
	// Force backs up and replaces a foreign regular file sitting at a
	// tracked location instead of failing with CONFLICT.
	Force bool
}

// RestoreResult reports the per-file outcomes of a restore.
type RestoreResult struct {
	// Relinked lists home paths whose symlink was created or corrected.
	Relinked []string
	// Unchanged lists home paths that were already correct.
	Unchanged []string
	// BackedUp lists home paths whose foreign content was backed up
	// before relinking (Force only).
	BackedUp []string
}

// Restore re-establishes the symlink for a tracked file, or for every
// tracked file under a directory. A correct link is a no-op; a missing,
// broken or wrong-target link is replaced; a foreign regular file fails
// with CONFLICT unless Force, which backs it up first.
func (e *Engine) Restore(path string, opts RestoreOptions) (*RestoreResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	abs, err := e.paths.Normalize(path)
	if err != nil {
		return nil, err
	}

	record, tracked, err := e.store.GetFile(abs)
	if err != nil {
		return nil, err
	}
	if tracked {
		return e.restoreFiles([]store.TrackedFile{record}, opts)
	}

	under, err := e.store.FilesUnder(abs)
	if err != nil {
		return nil, err
	}
	if len(under) == 0 {
		return nil, errors.Newf(errors.ErrNotTracked, "%s is not tracked", path)
	}
	return e.restoreFiles(under, opts)
}

// RestoreAll restores every tracked file, typically after a clone or
// pull onto a new machine.
func (e *Engine) RestoreAll(opts RestoreOptions) (*RestoreResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer logging.LogOperationStart(e.logger, "restore-all")()

	files, err := e.store.ListFiles()
	if err != nil {
		return nil, err
	}
	return e.restoreFiles(files, opts)
}

func (e *Engine) restoreFiles(records []store.TrackedFile, opts RestoreOptions) (*RestoreResult, error) {
	homePaths := make([]string, len(records))
	for i, r := range records {
		homePaths[i] = r.HomePath
	}
	release := e.markBusy(homePaths...)
	defer release()

	result := &RestoreResult{}
	for _, r := range records {
		outcome, err := e.restoreFile(r, opts)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case restoreUnchanged:
			result.Unchanged = append(result.Unchanged, r.HomePath)
		case restoreRelinked:
			result.Relinked = append(result.Relinked, r.HomePath)
		case restoreBackedUp:
			result.BackedUp = append(result.BackedUp, r.HomePath)
			result.Relinked = append(result.Relinked, r.HomePath)
		}
	}
	return result, nil
}

type restoreOutcome int

const (
	restoreUnchanged restoreOutcome = iota
	restoreRelinked
	restoreBackedUp
)

func (e *Engine) restoreFile(r store.TrackedFile, opts RestoreOptions) (restoreOutcome, error) {
	if _, err := os.Stat(r.RepoPath); err != nil {
		return 0, errors.Wrapf(err, errors.ErrFileNotFound,
			"repository copy for %s is missing, run validate", r.HomePath)
	}

	info, err := os.Lstat(r.HomePath)
	switch {
	case os.IsNotExist(err):
		return restoreRelinked, e.link(r)

	case err != nil:
		return 0, errors.Wrapf(err, errors.ErrFileAccess, "failed to stat %s", r.HomePath)

	case info.Mode()&os.ModeSymlink != 0:
		target, rerr := os.Readlink(r.HomePath)
		if rerr == nil && target == r.RepoPath {
			return restoreUnchanged, nil
		}
		// Wrong target or unreadable link: replace it.
		if err := os.Remove(r.HomePath); err != nil {
			return 0, errors.Wrapf(err, errors.ErrFileAccess, "failed to remove %s", r.HomePath)
		}
		return restoreRelinked, e.link(r)

	default:
		if !opts.Force {
			return 0, errors.Newf(errors.ErrConflict,
				"%s exists and is not a symlink, use force to back it up and replace it", r.HomePath).
				WithDetail("home_path", r.HomePath)
		}
		if _, err := e.backups.Create(r.HomePath, "restore"); err != nil {
			return 0, err
		}
		if err := os.RemoveAll(r.HomePath); err != nil {
			return 0, errors.Wrapf(err, errors.ErrFileAccess, "failed to remove %s", r.HomePath)
		}
		return restoreBackedUp, e.link(r)
	}
}

// link creates the managed symlink, with parent directories.
func (e *Engine) link(r store.TrackedFile) error {
	if err := os.MkdirAll(filepath.Dir(r.HomePath), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to create %s", filepath.Dir(r.HomePath))
	}
	if err := os.Symlink(r.RepoPath, r.HomePath); err != nil {
		return errors.Wrapf(err, errors.ErrSymlinkCreate, "failed to symlink %s", r.HomePath)
	}
	return nil
}

// ListTracked returns the tracked files and directories, sorted.
func (e *Engine) ListTracked() ([]store.TrackedFile, []store.TrackedDirectory, error) {
	files, err := e.store.ListFiles()
	if err != nil {
		return nil, nil, err
	}
	dirs, err := e.store.ListDirs()
	if err != nil {
		return nil, nil, err
	}
	return files, dirs, nil
}

// Push publishes local commits to origin.
func (e *Engine) Push() error {
	return e.content.Push()
}

// Pull integrates remote changes, reconciles the local state with the
// updated index and restores every tracked file so new or moved entries
// get their symlinks.
func (e *Engine) Pull() (*RestoreResult, error) {
	if err := e.content.Pull(); err != nil {
		return nil, err
	}
	if _, err := e.Rebuild(); err != nil {
		return nil, err
	}
	return e.RestoreAll(RestoreOptions{})
}

// Rebuild reconciles the tracked-file state with the repository index:
// index entries gain records, records whose repo copy disappeared are
// dropped. Used after clone onto a fresh machine and after pull. Returns
// how many records changed.
func (e *Engine) Rebuild() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	indexed, err := e.content.TrackedPaths()
	if err != nil {
		return 0, err
	}

	inIndex := make(map[string]struct{}, len(indexed))
	changed := 0
	for _, rel := range indexed {
		f := store.TrackedFile{
			HomePath: filepath.Join(e.paths.Home(), filepath.FromSlash(rel)),
			RepoPath: filepath.Join(e.content.Root(), filepath.FromSlash(rel)),
		}
		inIndex[f.HomePath] = struct{}{}

		tracked, err := e.store.ContainsFile(f.HomePath)
		if err != nil {
			return changed, err
		}
		if tracked {
			continue
		}
		if err := e.store.RecordFile(f); err != nil {
			return changed, err
		}
		changed++
	}

	files, err := e.store.ListFiles()
	if err != nil {
		return changed, err
	}
	for _, f := range files {
		if _, ok := inIndex[f.HomePath]; ok {
			continue
		}
		if err := e.store.RemoveFile(f.HomePath); err != nil {
			return changed, err
		}
		changed++
	}

	e.logger.Info().Int("changed", changed).Msg("state rebuilt from index")
	return changed, nil
}

// commitRel renders a home path for commit messages, falling back to the
// base name when outside home.
func (e *Engine) commitRel(abs string) string {
	rel, err := e.paths.HomeRelative(abs)
	if err != nil {
		return filepath.Base(abs)
	}
	return filepath.ToSlash(rel)
}

// Candidates lists home-directory files matching the include patterns
// that are not yet tracked, for status output.
func (e *Engine) Candidates() ([]string, error) {
	found, err := e.classifier.ScanDir(e.paths.Home(), false)
	if err != nil {
		return nil, err
	}

	var candidates []string
	for _, f := range found {
		tracked, err := e.store.ContainsFile(f)
		if err != nil {
			return nil, err
		}
		if !tracked {
			candidates = append(candidates, f)
		}
	}
	sort.Strings(candidates)
	return candidates, nil
}
