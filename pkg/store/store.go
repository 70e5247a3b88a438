// Package store owns the persisted repository state: the set of tracked
// files and explicitly tracked directories. All other components read
// state through this API and mutate it only here, which keeps the state
// file free of torn writes.
//
// Durability: every mutation takes an exclusive flock on a lock file,
// re-reads the state from disk, applies the change, and replaces the
// state file via write-to-temp-then-rename.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/arthur-debert/dotz/pkg/errors"
	"github.com/arthur-debert/dotz/pkg/logging"
	"github.com/arthur-debert/dotz/pkg/paths"
)

const stateVersion = 1

// TrackedFile represents one dotfile under management. HomePath is the
// symlink location in the user's home; RepoPath holds the real content
// inside the version-controlled store.
type TrackedFile struct {
	HomePath string `json:"home_path"`
	RepoPath string `json:"repo_path"`
}

// TrackedDirectory is a directory explicitly opted into automatic
// tracking. Membership is never inferred from single-file adds.
type TrackedDirectory struct {
	HomeDirPath string `json:"home_dir_path"`
}

type state struct {
	Version     int                `json:"version"`
	Files       []TrackedFile      `json:"files"`
	Directories []TrackedDirectory `json:"directories"`
}

// Store persists and serializes access to the repository state.
type Store struct {
	paths paths.Paths
	mu    sync.Mutex
}

// New creates a Store for the given paths. The state file is created
// lazily on first mutation.
func New(p paths.Paths) *Store {
	return &Store{paths: p}
}

// RecordFile adds or updates a tracked file record.
func (s *Store) RecordFile(f TrackedFile) error {
	return s.mutate(func(st *state) error {
		for i, existing := range st.Files {
			if existing.HomePath == f.HomePath {
				st.Files[i] = f
				return nil
			}
		}
		st.Files = append(st.Files, f)
		return nil
	})
}

// RemoveFile deletes a tracked file record. As a side effect contract it
// rechecks directory membership: any tracked directory left with zero
// tracked descendants is dropped in the same atomic write.
func (s *Store) RemoveFile(homePath string) error {
	return s.mutate(func(st *state) error {
		found := false
		for i, existing := range st.Files {
			if existing.HomePath == homePath {
				st.Files = append(st.Files[:i], st.Files[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			return errors.Newf(errors.ErrNotTracked, "%s is not tracked", homePath)
		}
		pruneEmptyDirs(st)
		return nil
	})
}

// RecordDir adds a tracked directory record.
func (s *Store) RecordDir(d TrackedDirectory) error {
	return s.mutate(func(st *state) error {
		for _, existing := range st.Directories {
			if existing.HomeDirPath == d.HomeDirPath {
				return nil
			}
		}
		st.Directories = append(st.Directories, d)
		return nil
	})
}

// RemoveDir deletes a tracked directory record. Absence is not an error;
// directory untracking is a derived operation.
func (s *Store) RemoveDir(homeDirPath string) error {
	return s.mutate(func(st *state) error {
		for i, existing := range st.Directories {
			if existing.HomeDirPath == homeDirPath {
				st.Directories = append(st.Directories[:i], st.Directories[i+1:]...)
				return nil
			}
		}
		return nil
	})
}

// Recheck re-derives the tracked-directory set: every directory with zero
// remaining tracked descendants is removed. This is the sole untracking
// mechanism for directories.
func (s *Store) Recheck() error {
	return s.mutate(func(st *state) error {
		pruneEmptyDirs(st)
		return nil
	})
}

// ListFiles returns all tracked files ordered by home path.
func (s *Store) ListFiles() ([]TrackedFile, error) {
	st, err := s.read()
	if err != nil {
		return nil, err
	}
	files := append([]TrackedFile(nil), st.Files...)
	sort.Slice(files, func(i, j int) bool { return files[i].HomePath < files[j].HomePath })
	return files, nil
}

// ListDirs returns all tracked directories ordered by path.
func (s *Store) ListDirs() ([]TrackedDirectory, error) {
	st, err := s.read()
	if err != nil {
		return nil, err
	}
	dirs := append([]TrackedDirectory(nil), st.Directories...)
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].HomeDirPath < dirs[j].HomeDirPath })
	return dirs, nil
}

// ContainsFile reports whether homePath has a tracked file record.
func (s *Store) ContainsFile(homePath string) (bool, error) {
	_, ok, err := s.GetFile(homePath)
	return ok, err
}

// GetFile returns the tracked file record for homePath, if any.
func (s *Store) GetFile(homePath string) (TrackedFile, bool, error) {
	st, err := s.read()
	if err != nil {
		return TrackedFile{}, false, err
	}
	for _, f := range st.Files {
		if f.HomePath == homePath {
			return f, true, nil
		}
	}
	return TrackedFile{}, false, nil
}

// FilesUnder returns the tracked files whose home path is a descendant of
// dir, ordered by home path.
func (s *Store) FilesUnder(dir string) ([]TrackedFile, error) {
	st, err := s.read()
	if err != nil {
		return nil, err
	}
	var files []TrackedFile
	for _, f := range st.Files {
		if isDescendant(dir, f.HomePath) {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].HomePath < files[j].HomePath })
	return files, nil
}

// mutate serializes a read-modify-write cycle on the state file.
func (s *Store) mutate(apply func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	if err := apply(st); err != nil {
		return err
	}
	return s.write(st)
}

func (s *Store) read() (*state, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.load()
}

// lock takes an exclusive flock on the lock file. The returned func
// releases it; mutate/read defer it so the lock is released on all exit
// paths.
func (s *Store) lock() (func(), error) {
	if err := os.MkdirAll(s.paths.DotzDir(), 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to create %s", s.paths.DotzDir())
	}

	f, err := os.OpenFile(s.paths.LockFile(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to open lock file %s", s.paths.LockFile())
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrFileAccess, "failed to lock state file")
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

func (s *Store) load() (*state, error) {
	data, err := os.ReadFile(s.paths.StateFile())
	if os.IsNotExist(err) {
		return &state{Version: stateVersion}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to read %s", s.paths.StateFile())
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrapf(err, errors.ErrInternal, "corrupt state file %s", s.paths.StateFile())
	}
	return &st, nil
}

func (s *Store) write(st *state) error {
	st.Version = stateVersion
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to marshal state")
	}

	tmp, err := os.CreateTemp(s.paths.DotzDir(), "state-*.json")
	if err != nil {
		return errors.Wrap(err, errors.ErrFileAccess, "failed to create temp state file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrFileAccess, "failed to write state")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrFileAccess, "failed to close temp state file")
	}
	if err := os.Rename(tmpName, s.paths.StateFile()); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrFileAccess, "failed to replace state file")
	}

	logger := logging.GetLogger("store")
	logger.Debug().
		Int("files", len(st.Files)).
		Int("dirs", len(st.Directories)).
		Msg("state persisted")
	return nil
}

// pruneEmptyDirs drops every tracked directory that has no tracked file
// beneath it. Invariant: a directory is tracked iff it has at least one
// tracked file.
func pruneEmptyDirs(st *state) {
	kept := st.Directories[:0]
	for _, d := range st.Directories {
		hasFile := false
		for _, f := range st.Files {
			if isDescendant(d.HomeDirPath, f.HomePath) {
				hasFile = true
				break
			}
		}
		if hasFile {
			kept = append(kept, d)
		}
	}
	st.Directories = kept
}

func isDescendant(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
