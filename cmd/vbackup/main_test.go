// cmd/vbackup/main_test.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// The positional order is directory first, archive second, for both
// build and restore.
func TestBuildRestoreArgOrder(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(src, 0700); err != nil {
		t.Fatal(err)
	}
	content := []byte("backed up and restored\n")
	if err := os.WriteFile(filepath.Join(src, "f.txt"), content, 0644); err != nil {
		t.Fatal(err)
	}
	archive := filepath.Join(dir, "a.vbk")

	rootCmd.SetArgs([]string{"build", "--no-progress", src, archive})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("build: %v", err)
	}

	dest := filepath.Join(dir, "out")
	rootCmd.SetArgs([]string{"restore", "--no-progress", dest, archive})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "f.txt"))
	if err != nil {
		t.Fatalf("restored file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("restored %q, expected %q", got, content)
	}
}
