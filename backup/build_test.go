// backup/build_test.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package backup

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/vbk/vbackup/storage"
)

func writeTree(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for path, contents := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, contents, 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func genRandom(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func TestBuildAndRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	files := map[string][]byte{
		"hello.txt":        []byte("hello, world"),
		"empty":            {},
		"big.bin":          genRandom(1 << 20),
		"sub/dir/deep.txt": []byte("nested"),
		"sub/other":        genRandom(100),
	}
	writeTree(t, src, files)
	if err := os.Symlink("hello.txt", filepath.Join(src, "link")); err != nil {
		t.Fatal(err)
	}

	store := storage.NewMemory()
	v, err := Build(src, store, BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if v.ID != 1 {
		t.Errorf("first version has ID %d", v.ID)
	}
	if v.Files != len(files)+1 {
		t.Errorf("version has %d files, expected %d", v.Files, len(files)+1)
	}
	if v.NewBytes == 0 {
		t.Errorf("first build stored no new bytes")
	}

	// The manifest must be sorted so lookups work.
	for i := 1; i < len(v.Manifest); i++ {
		if v.Manifest[i-1].Path >= v.Manifest[i].Path {
			t.Fatalf("manifest out of order: %q before %q",
				v.Manifest[i-1].Path, v.Manifest[i].Path)
		}
	}

	dest := t.TempDir()
	if err := Restore(store, Selector{}, dest, RestoreOptions{}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	for path, contents := range files {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(path)))
		if err != nil {
			t.Errorf("%s: %v", path, err)
			continue
		}
		if !bytes.Equal(got, contents) {
			t.Errorf("%s: contents differ after restore", path)
		}
	}

	target, err := os.Readlink(filepath.Join(dest, "link"))
	if err != nil || target != "hello.txt" {
		t.Errorf("symlink restored as %q, %v", target, err)
	}

	// Modification times survive the round trip.
	sfi, _ := os.Stat(filepath.Join(src, "hello.txt"))
	dfi, _ := os.Stat(filepath.Join(dest, "hello.txt"))
	if !sfi.ModTime().Equal(dfi.ModTime()) {
		t.Errorf("mtime not restored: %v vs %v", sfi.ModTime(), dfi.ModTime())
	}
}

func TestBuildIncremental(t *testing.T) {
	src := t.TempDir()
	big := genRandom(1 << 19)
	writeTree(t, src, map[string][]byte{
		"stable.bin": big,
		"gone.txt":   []byte("deleted in v2"),
	})

	store := storage.NewMemory()
	v1, err := Build(src, store, BuildOptions{})
	if err != nil {
		t.Fatalf("build 1: %v", err)
	}

	// Delete one file, add another; the stable file's content must not
	// be stored again.
	if err := os.Remove(filepath.Join(src, "gone.txt")); err != nil {
		t.Fatal(err)
	}
	writeTree(t, src, map[string][]byte{"new.txt": []byte("added in v2")})

	v2, err := Build(src, store, BuildOptions{})
	if err != nil {
		t.Fatalf("build 2: %v", err)
	}
	if v2.ID != v1.ID+1 {
		t.Errorf("IDs not sequential: %d then %d", v1.ID, v2.ID)
	}
	if !v2.Time.After(v1.Time) {
		t.Errorf("timestamps not increasing: %v then %v", v1.Time, v2.Time)
	}
	if v2.NewBytes >= int64(len(big)) {
		t.Errorf("unchanged content was stored again: %d new bytes", v2.NewBytes)
	}
	if _, ok := v2.Manifest.Lookup("gone.txt"); ok {
		t.Errorf("deleted file still in new manifest")
	}
	if _, ok := v2.Manifest.Lookup("new.txt"); !ok {
		t.Errorf("added file missing from new manifest")
	}

	// A build with nothing changed stores no chunk bytes at all.
	v3, err := Build(src, store, BuildOptions{})
	if err != nil {
		t.Fatalf("build 3: %v", err)
	}
	if v3.NewBytes != 0 {
		t.Errorf("no-change build stored %d new bytes", v3.NewBytes)
	}

	// The old version is still fully restorable.
	dest := t.TempDir()
	if err := Restore(store, Selector{ID: v1.ID, HasID: true}, dest,
		RestoreOptions{}); err != nil {
		t.Fatalf("restore v1: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "gone.txt")); err != nil {
		t.Errorf("v1 restore missing gone.txt: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "stable.bin"))
	if err != nil || !bytes.Equal(got, big) {
		t.Errorf("v1 stable.bin wrong after restore: %v", err)
	}
}

func TestBuildDedupAcrossFiles(t *testing.T) {
	src := t.TempDir()
	shared := genRandom(1 << 18)
	writeTree(t, src, map[string][]byte{
		"one.bin": shared,
		"two.bin": shared,
	})

	store := storage.NewMemory()
	v, err := Build(src, store, BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// Two identical files must cost roughly one file's worth of storage.
	if v.NewBytes > int64(len(shared))*5/4 {
		t.Errorf("identical files not deduplicated: %d new bytes for %d of content",
			v.NewBytes, 2*len(shared))
	}
}

func TestBuildMissingSource(t *testing.T) {
	store := storage.NewMemory()
	_, err := Build(filepath.Join(t.TempDir(), "nope"), store, BuildOptions{})
	if !errors.Is(err, ErrSourceIO) {
		t.Errorf("got %v, expected ErrSourceIO", err)
	}
	if len(store.VersionPayloads()) != 0 {
		t.Errorf("failed build committed a version")
	}
}

func TestBuildUnreadableFileAborts(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root; everything is readable")
	}

	src := t.TempDir()
	writeTree(t, src, map[string][]byte{
		"ok.txt":  []byte("fine"),
		"bad.txt": []byte("can't read me"),
	})
	if err := os.Chmod(filepath.Join(src, "bad.txt"), 0); err != nil {
		t.Fatal(err)
	}

	store := storage.NewMemory()
	_, err := Build(src, store, BuildOptions{})
	if !errors.Is(err, ErrSourceIO) {
		t.Errorf("got %v, expected ErrSourceIO", err)
	}
	// All or nothing: the aborted build must not leave a version behind.
	if len(store.VersionPayloads()) != 0 {
		t.Errorf("aborted build committed a version")
	}
}

func TestBuildExcludes(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{
		"keep.txt":       []byte("keep"),
		"skip.log":       []byte("skip"),
		"logs/deep.txt":  []byte("skip whole dir"),
		"other/keep.txt": []byte("keep"),
	})

	store := storage.NewMemory()
	v, err := Build(src, store, BuildOptions{
		Config: &Config{Exclude: []string{"*.log", "logs"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	for _, path := range []string{"keep.txt", "other/keep.txt"} {
		if _, ok := v.Manifest.Lookup(path); !ok {
			t.Errorf("%s excluded but shouldn't be", path)
		}
	}
	for _, path := range []string{"skip.log", "logs/deep.txt"} {
		if _, ok := v.Manifest.Lookup(path); ok {
			t.Errorf("%s should have been excluded", path)
		}
	}
}

func TestBuildBadSplitBits(t *testing.T) {
	_, err := Build(t.TempDir(), storage.NewMemory(),
		BuildOptions{SplitBits: 40})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("got %v, expected ErrInvalidArgument", err)
	}
}
