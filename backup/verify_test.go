// backup/verify_test.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vbk/vbackup/storage"
)

func TestVerifyCleanArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.vbk")
	buildArchive(t, path,
		map[string][]byte{"a.bin": genRandom(1 << 18), "b.txt": []byte("ok")},
		map[string][]byte{"a.bin": genRandom(1 << 18)},
	)

	archive, err := storage.OpenArchiveReadOnly(path)
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()

	result, err := Verify(archive, nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Versions != 2 {
		t.Errorf("saw %d versions, expected 2", result.Versions)
	}
	if result.ChunksReachable == 0 || result.ChunksTotal == 0 {
		t.Errorf("no chunks checked: %+v", result)
	}
	if result.Missing != 0 || result.Corrupt != 0 {
		t.Errorf("clean archive reported damage: %+v", result)
	}
}

func TestVerifyDetectsBitRot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.vbk")
	buildArchive(t, path, map[string][]byte{"a.bin": genRandom(1 << 18)})

	// Find a blob's data region by scanning the file, then flip a byte
	// in the middle of it.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}

	var dataOffset int64
	_, err = storage.ScanArchive(f, func(rec storage.ScanRecord) error {
		if rec.Blob && dataOffset == 0 && rec.DataLength > 2 {
			dataOffset = rec.DataOffset + rec.DataLength/2
		}
		return nil
	})
	if err != nil || dataOffset == 0 {
		t.Fatalf("scan: offset %d, %v", dataOffset, err)
	}

	var b [1]byte
	if _, err := f.ReadAt(b[:], dataOffset); err != nil {
		t.Fatal(err)
	}
	b[0] ^= 0x40
	if _, err := f.WriteAt(b[:], dataOffset); err != nil {
		t.Fatal(err)
	}
	f.Close()

	archive, err := storage.OpenArchiveReadOnly(path)
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()

	result, err := Verify(archive, nil)
	if !errors.Is(err, ErrCorruptArchive) {
		t.Fatalf("got %v, expected ErrCorruptArchive", err)
	}
	if result.Corrupt == 0 {
		t.Errorf("no corrupt chunks reported: %+v", result)
	}
}
