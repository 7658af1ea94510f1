// backup/config_test.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigMatching(t *testing.T) {
	cfg := &Config{
		Include: []string{"*.txt", "src/*"},
		Exclude: []string{"*.log", "tmp"},
	}

	for _, path := range []string{"notes.txt", "deep/dir/notes.txt", "src/x"} {
		if !cfg.included(path) {
			t.Errorf("%s should be included", path)
		}
	}
	for _, path := range []string{"image.png", "src/sub/x"} {
		if cfg.included(path) {
			t.Errorf("%s should not be included", path)
		}
	}

	for _, path := range []string{"debug.log", "deep/dir/debug.log", "tmp"} {
		if !cfg.excluded(path) {
			t.Errorf("%s should be excluded", path)
		}
	}
	if cfg.excluded("keep.txt") {
		t.Errorf("keep.txt should not be excluded")
	}

	// A nil config tracks everything.
	var none *Config
	if !none.included("anything") || none.excluded("anything") {
		t.Errorf("nil config should track everything")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	err := os.WriteFile(path, []byte(`
include:
  - "*.go"
  - "*.md"
exclude:
  - "*_test.go"
`), 0644)
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Include) != 2 || len(cfg.Exclude) != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.included("x.go") || cfg.included("x.py") || !cfg.excluded("x_test.go") {
		t.Errorf("loaded config matches wrong: %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("missing file: got %v, expected ErrInvalidArgument", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("exclude: {not a list"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad yaml: got %v, expected ErrInvalidArgument", err)
	}

	// Malformed patterns fail at load time, not mid-build.
	if err := os.WriteFile(path, []byte(`exclude: ["[unclosed"]`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad pattern: got %v, expected ErrInvalidArgument", err)
	}
}
