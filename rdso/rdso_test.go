// rdso/rdso_test.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package rdso

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestE2E(t *testing.T) {
	seed := time.Now().UnixNano()
	t.Logf("Seed = %d", seed)
	rand.Seed(seed)

	// Make a file full of random bytes.
	buf := make([]byte, 1+rand.Intn(4*1024*1024))
	t.Logf("Length %d", len(buf))
	_, _ = rand.Read(buf)

	dir := t.TempDir()
	fn := filepath.Join(dir, "archive")
	rsfn := SidecarPath(fn)
	if err := os.WriteFile(fn, buf, 0600); err != nil {
		t.Fatal(err)
	}

	nData := 1 + rand.Intn(24)
	nParity := 1 + rand.Intn(8)
	hashRate := int64(1 << uint(10+rand.Intn(6)))
	t.Logf("%d data shards, %d parity, %d hash rate", nData, nParity, hashRate)

	if err := EncodeFile(fn, rsfn, nData, nParity, hashRate); err != nil {
		t.Fatalf("encode: %v", err)
	}

	// The initial check should pass!
	if err := CheckFile(fn, rsfn, nil); err != nil {
		t.Fatalf("error %v on initial check", err)
	}

	// Introduce as many errors as the parity can absorb: each corrupt
	// byte costs at most one shard in its hash span.
	corrupted := make([]byte, len(buf))
	copy(corrupted, buf)
	for i := 0; i < nParity; i++ {
		offset := rand.Intn(len(corrupted))
		corrupted[offset] += byte(1 + rand.Intn(254))
	}
	if bytes.Equal(buf, corrupted) {
		t.Fatalf("corruption didn't change anything")
	}
	if err := os.WriteFile(fn, corrupted, 0600); err != nil {
		t.Fatal(err)
	}

	// Make sure that the check fails now.
	if err := CheckFile(fn, rsfn, nil); err == nil {
		t.Fatalf("check of corrupted file didn't fail?")
	}

	// Restore and compare with the original.
	if err := RestoreFile(fn, rsfn, nil); err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored, err := os.ReadFile(fn + ".recovered")
	if err != nil {
		t.Fatalf("recovered file: %v", err)
	}
	if !bytes.Equal(buf, restored) {
		t.Errorf("original bytes don't match restored")
	}
}

func TestCheckIntactAfterDefaults(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "archive")
	if err := os.WriteFile(fn, []byte("small but important"), 0600); err != nil {
		t.Fatal(err)
	}

	// Zero parameters select the defaults.
	if err := EncodeFile(fn, SidecarPath(fn), 0, 0, 0); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := CheckFile(fn, SidecarPath(fn), nil); err != nil {
		t.Errorf("check: %v", err)
	}
}
