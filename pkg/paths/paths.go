// Package paths provides centralized path handling for dotz.
// All dotz state lives under a single directory in the user's home
// (~/.dotz by default), holding the git work tree, the state file,
// the configuration file and backups.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/arthur-debert/dotz/pkg/errors"
)

// Environment variable names
const (
	// EnvDotzDir overrides the dotz directory location
	EnvDotzDir = "DOTZ_DIR"

	// EnvHome is the standard home directory variable
	EnvHome = "HOME"
)

// Default directories and files
// IMPORTANT: These constants define dotz's on-disk layout and are NOT
// user-configurable. They must remain consistent across installations so
// that a cloned repository is usable on any host.
const (
	// DotzDirName is the directory name for dotz-specific files
	DotzDirName = ".dotz"

	// RepoDirName is the git work tree holding tracked file content
	RepoDirName = "repo"

	// StateFileName is the persisted repository state
	StateFileName = "state.json"

	// LockFileName guards mutations of the state file
	LockFileName = "state.lock"

	// ConfigFileName is the user configuration file
	ConfigFileName = "config.toml"

	// BackupDirName holds pre-overwrite backups
	BackupDirName = "backups"

	// LogFileName is the name of the log file
	LogFileName = "dotz.log"
)

// Paths provides centralized path management for dotz
type Paths interface {
	Home() string
	DotzDir() string
	RepoDir() string
	StateFile() string
	LockFile() string
	ConfigFile() string
	BackupDir() string
	LogFilePath() string

	// HomeRelative returns path relative to the home directory, erroring
	// when path lies outside it.
	HomeRelative(path string) (string, error)

	// Normalize expands ~, resolves the path against the home directory
	// when relative, and cleans it.
	Normalize(path string) (string, error)
}

type paths struct {
	home    string
	dotzDir string
}

// New creates a Paths instance rooted at the user's home directory.
// DOTZ_DIR overrides the dotz directory location (used by tests).
func New() (Paths, error) {
	home, err := homeDirectory()
	if err != nil {
		return nil, err
	}

	dotzDir := os.Getenv(EnvDotzDir)
	if dotzDir == "" {
		dotzDir = filepath.Join(home, DotzDirName)
	} else {
		dotzDir = expandHome(dotzDir)
	}

	return &paths{home: home, dotzDir: dotzDir}, nil
}

// homeDirectory returns the user's home directory, preferring the HOME
// environment variable so tests can relocate it.
func homeDirectory() (string, error) {
	if home := os.Getenv(EnvHome); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrFileAccess, "failed to get home directory")
	}
	return home, nil
}

// expandHome expands ~ to the home directory
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}

	home, err := homeDirectory()
	if err != nil {
		return path
	}

	if len(path) == 1 {
		return home
	}
	if path[1] == '/' || path[1] == filepath.Separator {
		return filepath.Join(home, path[2:])
	}
	// ~something (not the user's home)
	return path
}

func (p *paths) Home() string {
	return p.home
}

func (p *paths) DotzDir() string {
	return p.dotzDir
}

func (p *paths) RepoDir() string {
	return filepath.Join(p.dotzDir, RepoDirName)
}

func (p *paths) StateFile() string {
	return filepath.Join(p.dotzDir, StateFileName)
}

func (p *paths) LockFile() string {
	return filepath.Join(p.dotzDir, LockFileName)
}

func (p *paths) ConfigFile() string {
	return filepath.Join(p.dotzDir, ConfigFileName)
}

func (p *paths) BackupDir() string {
	return filepath.Join(p.dotzDir, BackupDirName)
}

// LogFilePath returns the path to the dotz log file, under XDG_STATE_HOME
func (p *paths) LogFilePath() string {
	return filepath.Join(xdg.StateHome, "dotz", LogFileName)
}

func (p *paths) Normalize(path string) (string, error) {
	if path == "" {
		return "", errors.New(errors.ErrInvalidInput, "empty path")
	}

	expanded := expandHome(path)
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(p.home, expanded)
	}
	return filepath.Clean(expanded), nil
}

func (p *paths) HomeRelative(path string) (string, error) {
	abs, err := p.Normalize(path)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(p.home, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Newf(errors.ErrInvalidInput, "%s is outside the home directory", path)
	}
	return rel, nil
}

// ExpandHome is a utility function that expands ~ in paths
func ExpandHome(path string) string {
	return expandHome(path)
}
