// backup/config.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config controls which source files a build tracks. Patterns use
// filepath.Match syntax and are tried against both the slash-relative
// path and the base name, so "*.log" skips log files anywhere in the
// tree.
type Config struct {
	// Include, when non-empty, restricts the build to matching files.
	Include []string `yaml:"include"`

	// Exclude drops matching files and directories. Exclusion wins
	// over inclusion. A matching directory is skipped entirely.
	Exclude []string `yaml:"exclude"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w: %v", ErrInvalidArgument, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w: %v",
			path, ErrInvalidArgument, err)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// check verifies all patterns are well formed up front, so a bad
// pattern fails the build before any work instead of mid-walk.
func (c *Config) check() error {
	for _, pat := range append(append([]string{}, c.Include...), c.Exclude...) {
		if _, err := filepath.Match(pat, "x"); err != nil {
			return fmt.Errorf("bad pattern %q: %w", pat, ErrInvalidArgument)
		}
	}
	return nil
}

func matchAny(patterns []string, relPath string) bool {
	base := filepath.Base(relPath)
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, relPath); ok {
			return true
		}
		if !strings.ContainsRune(pat, '/') {
			if ok, _ := filepath.Match(pat, base); ok {
				return true
			}
		}
	}
	return false
}

// excluded reports whether relPath should be skipped. Works for both
// files and directories.
func (c *Config) excluded(relPath string) bool {
	if c == nil {
		return false
	}
	return matchAny(c.Exclude, relPath)
}

// included reports whether a file at relPath is in scope. Directories
// are always in scope; only their files are filtered.
func (c *Config) included(relPath string) bool {
	if c == nil || len(c.Include) == 0 {
		return true
	}
	return matchAny(c.Include, relPath)
}
