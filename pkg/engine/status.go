package engine

import (
	"os"

	"github.com/arthur-debert/dotz/pkg/errors"
	"github.com/arthur-debert/dotz/pkg/gitstore"
	"github.com/arthur-debert/dotz/pkg/store"
)

// LinkState describes the condition of one tracked file's symlink.
type LinkState string

const (
	// LinkOK means the symlink exists and resolves to the repo copy.
	LinkOK LinkState = "ok"
	// LinkMissing means nothing exists at the home location.
	LinkMissing LinkState = "missing"
	// LinkBroken means the symlink points at the repo copy but the copy
	// is gone.
	LinkBroken LinkState = "broken"
	// LinkWrongTarget means the symlink points somewhere else.
	LinkWrongTarget LinkState = "wrong_target"
	// LinkNotSymlink means a regular file or directory sits at the home
	// location.
	LinkNotSymlink LinkState = "not_symlink"
)

// FileStatus pairs a tracked file with its current link state.
type FileStatus struct {
	File  store.TrackedFile
	State LinkState
}

// Healthy reports whether the link needs no attention.
func (f FileStatus) Healthy() bool {
	return f.State == LinkOK
}

// Status is the engine-level overview: per-file link states, pending
// repository changes, and untracked candidates in the home directory.
type Status struct {
	Files      []FileStatus
	Repo       *gitstore.Status
	Candidates []string
}

// Status inspects every tracked file's symlink, the repository's pending
// changes, and untracked candidate dotfiles in home.
func (e *Engine) Status() (*Status, error) {
	files, err := e.store.ListFiles()
	if err != nil {
		return nil, err
	}

	st := &Status{}
	for _, f := range files {
		st.Files = append(st.Files, FileStatus{File: f, State: linkState(f)})
	}

	st.Repo, err = e.content.Status()
	if err != nil {
		return nil, err
	}

	st.Candidates, err = e.Candidates()
	if err != nil {
		return nil, err
	}
	return st, nil
}

// linkState classifies the symlink condition of one tracked file.
func linkState(f store.TrackedFile) LinkState {
	info, err := os.Lstat(f.HomePath)
	if os.IsNotExist(err) {
		return LinkMissing
	}
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		if err != nil {
			return LinkMissing
		}
		return LinkNotSymlink
	}

	target, err := os.Readlink(f.HomePath)
	if err != nil || target != f.RepoPath {
		return LinkWrongTarget
	}
	if _, err := os.Stat(f.RepoPath); err != nil {
		return LinkBroken
	}
	return LinkOK
}

// ValidateOptions controls Validate behavior.
type ValidateOptions struct {
	// Repair relinks missing, broken and wrong-target entries.
	Repair bool
	// Force extends repair to not-symlink entries, backing up the foreign
	// content first.
	Force bool
}

// ValidationReport lists the unhealthy tracked files found, and what was
// repaired.
type ValidationReport struct {
	Issues   []FileStatus
	Repaired []string
}

// Clean reports whether every tracked file checked out healthy.
func (r *ValidationReport) Clean() bool {
	return len(r.Issues) == 0
}

// Validate checks every tracked file's symlink and optionally repairs
// it. Repair follows Restore semantics: foreign regular files are only
// replaced under Force, after a backup.
func (e *Engine) Validate(opts ValidateOptions) (*ValidationReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	files, err := e.store.ListFiles()
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{}
	for _, f := range files {
		state := linkState(f)
		if state == LinkOK {
			continue
		}
		report.Issues = append(report.Issues, FileStatus{File: f, State: state})

		if !opts.Repair {
			continue
		}
		if state == LinkNotSymlink && !opts.Force {
			continue
		}
		if state == LinkBroken {
			// The repo copy is gone; relinking cannot help.
			continue
		}

		release := e.markBusy(f.HomePath)
		_, rerr := e.restoreFile(f, RestoreOptions{Force: opts.Force})
		release()
		if rerr != nil {
			if errors.IsErrorCode(rerr, errors.ErrConflict) {
				continue
			}
			return nil, rerr
		}
		report.Repaired = append(report.Repaired, f.HomePath)
	}

	e.logger.Debug().
		Int("issues", len(report.Issues)).
		Int("repaired", len(report.Repaired)).
		Msg("validation finished")
	return report, nil
}
