// Package config loads and persists the dotz configuration: the glob
// pattern lists deciding which files are eligible for tracking, and the
// search settings controlling directory scans.
//
// Configuration is layered: embedded defaults first, then the user's
// config.toml. Pattern syntax is validated at load time so the classifier
// never has to handle a malformed glob.
package config

import (
	_ "embed"
	"os"
	"path"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	gotoml "github.com/pelletier/go-toml/v2"

	"github.com/arthur-debert/dotz/pkg/errors"
	"github.com/arthur-debert/dotz/pkg/paths"
)

//go:embed default.toml
var defaultConfig []byte

// PatternSet holds the include and exclude glob lists. Exclude patterns
// take precedence over include patterns when both match.
type PatternSet struct {
	Include []string `koanf:"include" toml:"include"`
	Exclude []string `koanf:"exclude" toml:"exclude"`
}

// SearchSettings controls how directories are scanned for candidates.
type SearchSettings struct {
	Recursive      bool `koanf:"recursive" toml:"recursive"`
	CaseSensitive  bool `koanf:"case_sensitive" toml:"case_sensitive"`
	FollowSymlinks bool `koanf:"follow_symlinks" toml:"follow_symlinks"`
}

// Config is the full dotz configuration, loaded once per session and
// passed by reference into the classifier.
type Config struct {
	FilePatterns   PatternSet     `koanf:"file_patterns" toml:"file_patterns"`
	SearchSettings SearchSettings `koanf:"search_settings" toml:"search_settings"`
}

// rawBytesProvider implements koanf.Provider for raw embedded bytes
type rawBytesProvider struct {
	bytes []byte
}

func (r *rawBytesProvider) ReadBytes() ([]byte, error) {
	return r.bytes, nil
}

func (r *rawBytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New(errors.ErrInternal, "rawBytesProvider does not support Read")
}

// Default returns the built-in configuration
func Default() *Config {
	cfg, err := load("")
	if err != nil {
		// The embedded defaults are validated by tests; a failure here is
		// a build defect.
		panic(err)
	}
	return cfg
}

// Load reads the configuration for the given paths, merging the user's
// config file over the embedded defaults. A missing user file yields the
// defaults.
func Load(p paths.Paths) (*Config, error) {
	return load(p.ConfigFile())
}

func load(userFile string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to load default configuration")
	}

	if userFile != "" {
		if _, err := os.Stat(userFile); err == nil {
			if err := k.Load(file.Provider(userFile), toml.Parser()); err != nil {
				return nil, errors.Wrapf(err, errors.ErrConfigParse, "failed to parse %s", userFile)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigParse, "failed to unmarshal configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to the user's config file.
func Save(p paths.Paths, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := gotoml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to marshal configuration")
	}

	if err := os.MkdirAll(p.DotzDir(), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to create %s", p.DotzDir())
	}
	if err := os.WriteFile(p.ConfigFile(), data, 0o644); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to write %s", p.ConfigFile())
	}
	return nil
}

// Validate checks every pattern for valid glob syntax. Malformed patterns
// fail here, at load time, never at classify time.
func (c *Config) Validate() error {
	for _, p := range c.FilePatterns.Include {
		if err := validatePattern(p); err != nil {
			return err
		}
	}
	for _, p := range c.FilePatterns.Exclude {
		if err := validatePattern(p); err != nil {
			return err
		}
	}
	return nil
}

func validatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return errors.New(errors.ErrPatternInvalid, "empty pattern")
	}
	if _, err := path.Match(pattern, "sample"); err != nil {
		return errors.Wrapf(err, errors.ErrPatternInvalid, "malformed pattern %q", pattern)
	}
	return nil
}

// AddPattern appends a pattern to the named list ("include" or "exclude").
// Returns false when the pattern was already present.
func (c *Config) AddPattern(kind, pattern string) (bool, error) {
	if err := validatePattern(pattern); err != nil {
		return false, err
	}

	list, err := c.patternList(kind)
	if err != nil {
		return false, err
	}
	for _, existing := range *list {
		if existing == pattern {
			return false, nil
		}
	}
	*list = append(*list, pattern)
	return true, nil
}

// RemovePattern removes a pattern from the named list. Returns false when
// the pattern was not present.
func (c *Config) RemovePattern(kind, pattern string) (bool, error) {
	list, err := c.patternList(kind)
	if err != nil {
		return false, err
	}
	for i, existing := range *list {
		if existing == pattern {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (c *Config) patternList(kind string) (*[]string, error) {
	switch kind {
	case "include":
		return &c.FilePatterns.Include, nil
	case "exclude":
		return &c.FilePatterns.Exclude, nil
	default:
		return nil, errors.Newf(errors.ErrInvalidInput, "pattern kind must be include or exclude, got %q", kind)
	}
}
