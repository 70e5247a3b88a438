// Package gitstore implements the content store on top of an in-process
// git repository (go-git). The engine consumes it through the narrow
// ContentStore interface; commit, push and pull machinery stays behind
// that boundary.
package gitstore

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/arthur-debert/dotz/pkg/errors"
	"github.com/arthur-debert/dotz/pkg/logging"
)

const (
	commitName  = "dotz"
	commitEmail = "dotz@example.com"
	remoteName  = "origin"
)

// Status is the content store's view of pending changes, with paths
// relative to the repository root.
type Status struct {
	Untracked []string
	Modified  []string
	Staged    []string
}

// ContentStore is the version-control collaborator consumed by the
// lifecycle engine.
type ContentStore interface {
	// Root returns the repository work tree directory.
	Root() string

	// CopyIn copies src into the work tree at dst, creating parent
	// directories and preserving the file mode.
	CopyIn(src, dst string) error

	// Remove deletes path from the work tree and the index.
	Remove(path string) error

	// Stage adds the given work-tree paths to the index.
	Stage(paths []string) error

	// Commit records staged changes. A clean tree is a no-op returning an
	// empty hash.
	Commit(message string) (string, error)

	// Push sends local commits to origin.
	Push() error

	// Pull fetches and integrates changes from origin.
	Pull() error

	// Status reports untracked, modified and staged paths.
	Status() (*Status, error)

	// TrackedPaths lists every path in the index, sorted.
	TrackedPaths() ([]string, error)
}

// GitStore implements ContentStore against a go-git repository.
type GitStore struct {
	root string
	repo *git.Repository
}

var _ ContentStore = (*GitStore)(nil)

// Open returns a GitStore for an existing repository at root.
func Open(root string) (*GitStore, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrRepoNotFound,
			"dotz repository not initialized, run 'dotz init' first")
	}
	return &GitStore{root: root, repo: repo}, nil
}

// Init creates a new repository at root with an initial empty commit, so
// every later commit has a parent. remote, when non-empty, is registered
// as origin.
func Init(root, remote string) (*GitStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to create %s", root)
	}

	repo, err := git.PlainInit(root, false)
	if err == git.ErrRepositoryAlreadyExists {
		return nil, errors.New(errors.ErrAlreadyInitialized, "dotz already initialized")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrSync, "failed to initialize repository")
	}

	s := &GitStore{root: root, repo: repo}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrSync, "failed to open work tree")
	}
	if _, err := wt.Commit("Initial commit", &git.CommitOptions{
		Author:            signature(),
		AllowEmptyCommits: true,
	}); err != nil {
		return nil, errors.Wrap(err, errors.ErrSync, "failed to create initial commit")
	}

	if remote != "" {
		if err := s.SetRemote(remote); err != nil {
			return nil, err
		}
	}

	logger := logging.GetLogger("gitstore")
	logger.Info().Str("root", root).Msg("repository initialized")
	return s, nil
}

// Clone clones an existing dotz repository from url into root.
func Clone(root, url string) (*GitStore, error) {
	repo, err := git.PlainClone(root, false, &git.CloneOptions{URL: url})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrSync, "failed to clone %s", url)
	}
	return &GitStore{root: root, repo: repo}, nil
}

// SetRemote registers url as the origin remote.
func (s *GitStore) SetRemote(url string) error {
	_, err := s.repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: remoteName,
		URLs: []string{url},
	})
	if err != nil {
		return errors.Wrapf(err, errors.ErrSync, "failed to set remote %s", url)
	}
	return nil
}

func (s *GitStore) Root() string {
	return s.root
}

func (s *GitStore) CopyIn(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to create %s", filepath.Dir(dst))
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to open %s", src)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to stat %s", src)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to create %s", dst)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to copy %s", src)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to write %s", dst)
	}
	return nil
}

func (s *GitStore) Remove(path string) error {
	rel, err := s.rel(path)
	if err != nil {
		return err
	}
	wt, err := s.repo.Worktree()
	if err != nil {
		return errors.Wrap(err, errors.ErrSync, "failed to open work tree")
	}
	if _, err := wt.Remove(rel); err != nil {
		return errors.Wrapf(err, errors.ErrSync, "failed to remove %s", rel)
	}
	return nil
}

func (s *GitStore) Stage(paths []string) error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return errors.Wrap(err, errors.ErrSync, "failed to open work tree")
	}
	for _, p := range paths {
		rel, err := s.rel(p)
		if err != nil {
			return err
		}
		if _, err := wt.Add(rel); err != nil {
			return errors.Wrapf(err, errors.ErrSync, "failed to stage %s", rel)
		}
	}
	return nil
}

func (s *GitStore) Commit(message string) (string, error) {
	wt, err := s.repo.Worktree()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrSync, "failed to open work tree")
	}

	hash, err := wt.Commit(message, &git.CommitOptions{Author: signature()})
	if err == git.ErrEmptyCommit {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrSync, "failed to commit %q", message)
	}

	logger := logging.GetLogger("gitstore")
	logger.Debug().
		Str("hash", hash.String()[:8]).
		Str("message", message).
		Msg("committed")
	return hash.String(), nil
}

func (s *GitStore) Push() error {
	err := s.repo.Push(&git.PushOptions{RemoteName: remoteName})
	if err == git.NoErrAlreadyUpToDate {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrSync, "failed to push to origin")
	}
	return nil
}

func (s *GitStore) Pull() error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return errors.Wrap(err, errors.ErrSync, "failed to open work tree")
	}
	err = wt.Pull(&git.PullOptions{RemoteName: remoteName})
	if err == git.NoErrAlreadyUpToDate {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrSync, "failed to pull from origin")
	}
	return nil
}

func (s *GitStore) Status() (*Status, error) {
	wt, err := s.repo.Worktree()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrSync, "failed to open work tree")
	}
	st, err := wt.Status()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrSync, "failed to read status")
	}

	result := &Status{}
	for path, fileStatus := range st {
		if fileStatus.Worktree == git.Untracked {
			result.Untracked = append(result.Untracked, path)
			continue
		}
		if fileStatus.Worktree == git.Modified {
			result.Modified = append(result.Modified, path)
		}
		if fileStatus.Staging != git.Unmodified && fileStatus.Staging != git.Untracked {
			result.Staged = append(result.Staged, path)
		}
	}

	sort.Strings(result.Untracked)
	sort.Strings(result.Modified)
	sort.Strings(result.Staged)
	return result, nil
}

func (s *GitStore) TrackedPaths() ([]string, error) {
	idx, err := s.repo.Storer.Index()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrSync, "failed to read index")
	}

	paths := make([]string, 0, len(idx.Entries))
	for _, entry := range idx.Entries {
		paths = append(paths, entry.Name)
	}
	sort.Strings(paths)
	return paths, nil
}

// rel converts path to a slash-separated work-tree relative path.
func (s *GitStore) rel(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path), nil
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrInvalidInput, "%s is outside the repository", path)
	}
	return filepath.ToSlash(rel), nil
}

func signature() *object.Signature {
	return &object.Signature{
		Name:  commitName,
		Email: commitEmail,
		When:  time.Now(),
	}
}
