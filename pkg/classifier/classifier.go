// Package classifier decides whether a path is eligible for tracking,
// based on the configured include/exclude glob patterns and search
// settings. Exclude patterns always win over include patterns.
package classifier

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arthur-debert/dotz/pkg/config"
	"github.com/arthur-debert/dotz/pkg/errors"
	"github.com/arthur-debert/dotz/pkg/logging"
)

// Result is the outcome of classifying a single path.
type Result int

const (
	// ResultUnmatched means no pattern matched; callers treat this as
	// "do not track".
	ResultUnmatched Result = iota
	// ResultInclude means an include pattern matched and no exclude did.
	ResultInclude
	// ResultExclude means an exclude pattern matched.
	ResultExclude
)

// String returns a human-readable representation of the result.
func (r Result) String() string {
	switch r {
	case ResultInclude:
		return "include"
	case ResultExclude:
		return "exclude"
	default:
		return "unmatched"
	}
}

// Classifier evaluates paths against a loaded, validated PatternSet.
// It is immutable after construction and safe for concurrent use.
type Classifier struct {
	include  []string
	exclude  []string
	settings config.SearchSettings
}

// New builds a Classifier from a validated configuration. When matching is
// case insensitive the patterns are folded once, here.
func New(cfg *config.Config) *Classifier {
	c := &Classifier{
		include:  cfg.FilePatterns.Include,
		exclude:  cfg.FilePatterns.Exclude,
		settings: cfg.SearchSettings,
	}
	if !c.settings.CaseSensitive {
		c.include = lowered(c.include)
		c.exclude = lowered(c.exclude)
	}
	return c
}

// Settings returns the search settings the classifier was built with.
func (c *Classifier) Settings() config.SearchSettings {
	return c.settings
}

// Classify tests a path's basename (and, when recursion is enabled, every
// path segment) against the pattern set. Exclude patterns are tested
// first; any match excludes the path. Patterns were validated at config
// load, so Classify never errors on a well-formed path.
func (c *Classifier) Classify(p string) Result {
	segments := strings.Split(filepath.ToSlash(filepath.Clean(p)), "/")

	if c.settings.Recursive {
		for _, seg := range segments {
			if c.matchAny(c.exclude, seg) {
				return ResultExclude
			}
		}
	} else if c.matchAny(c.exclude, segments[len(segments)-1]) {
		return ResultExclude
	}

	if c.matchAny(c.include, segments[len(segments)-1]) {
		return ResultInclude
	}
	return ResultUnmatched
}

// Eligible reports whether the file at absPath should be tracked. On top
// of Classify it applies the symlink rules: symlinks are only considered
// when follow_symlinks is set, and broken symlinks are always rejected.
func (c *Classifier) Eligible(absPath string) bool {
	info, err := os.Lstat(absPath)
	if err != nil || info.IsDir() {
		return false
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if !c.settings.FollowSymlinks {
			return false
		}
		// Broken symlinks are rejected regardless of follow_symlinks, to
		// avoid tracking dangling references.
		if _, err := os.Stat(absPath); err != nil {
			return false
		}
	}

	return c.Classify(filepath.Base(absPath)) == ResultInclude
}

// ScanDir returns the files under dir that classify as include, sorted.
// When recursive is false only immediate children are considered. Excluded
// directories are pruned from traversal, so hidden trees like .git stay
// out via the exclude patterns rather than hardcoded logic.
func (c *Classifier) ScanDir(dir string, recursive bool) ([]string, error) {
	logger := logging.GetLogger("classifier")

	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileNotFound, "cannot scan %s", dir)
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.ErrInvalidInput, "%s is not a directory", dir)
	}

	var found []string

	if recursive {
		err = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == dir {
				return nil
			}
			if d.IsDir() {
				if c.matchAny(c.exclude, d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if c.Eligible(p) {
				found = append(found, p)
			}
			return nil
		})
	} else {
		var entries []os.DirEntry
		entries, err = os.ReadDir(dir)
		if err == nil {
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				p := filepath.Join(dir, entry.Name())
				if c.Eligible(p) {
					found = append(found, p)
				}
			}
		}
	}

	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to scan %s", dir)
	}

	sort.Strings(found)
	logger.Debug().Str("dir", dir).Bool("recursive", recursive).Int("found", len(found)).Msg("directory scanned")
	return found, nil
}

// matchAny tests name against each pattern, folding case when configured.
func (c *Classifier) matchAny(patterns []string, name string) bool {
	if !c.settings.CaseSensitive {
		name = strings.ToLower(name)
	}
	for _, pattern := range patterns {
		// Patterns are validated at load time; an error here cannot occur
		// for a well-formed name.
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func lowered(patterns []string) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = strings.ToLower(p)
	}
	return out
}
