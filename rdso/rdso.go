// rdso/rdso.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

// Package rdso maintains Reed-Solomon sidecar files for backup
// archives, built on github.com/klauspost/reedsolomon. An archive's
// sidecar carries parity shards plus fine-grained hashes of both data
// and parity, so bit rot in the archive can first be detected and then,
// up to the parity shard count, repaired without touching the archive
// itself.
package rdso

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/reedsolomon"
	"github.com/vbk/vbackup/util"
	"golang.org/x/crypto/sha3"
)

// Defaults chosen so a single corrupt hash-rate span costs one shard
// and three full shards can be lost before data is unrecoverable.
const (
	DefaultDataShards   = 17
	DefaultParityShards = 3
	DefaultHashRate     = 1 << 20
)

// Hashes in sidecars are larger than the archive's own chunk hashes;
// the sidecar is small and the wider hash is free insurance there.
const HashSize = 64

type Hash [HashSize]byte

func HashBytes(b []byte) Hash {
	var h Hash
	sha3.ShakeSum256(h[:], b)
	return h
}

// SidecarPath returns the sidecar filename for an archive.
func SidecarPath(archive string) string {
	return archive + ".rs"
}

// sidecar is the gob-encoded contents of a .rs file.
type sidecar struct {
	// Size of the protected file; shards are zero padded past it.
	FileSize int64

	NData, NParity int

	// HashRate is the span of bytes covered by each hash, so corruption
	// can be localized to a small piece of one shard.
	HashRate int64

	// Per-shard hash lists, data shards first, then parity.
	Hashes [][]Hash

	Parity [][]byte
}

// EncodeFile writes a sidecar for the file fn. Zero shard counts or
// hash rate select the defaults. The sidecar matches the file's exact
// current contents; it must be rewritten whenever the file changes.
func EncodeFile(fn, rsfn string, nData, nParity int, hashRate int64) error {
	if nData <= 0 {
		nData = DefaultDataShards
	}
	if nParity <= 0 {
		nParity = DefaultParityShards
	}
	if hashRate <= 0 {
		hashRate = DefaultHashRate
	}

	sc := sidecar{NData: nData, NParity: nParity, HashRate: hashRate}

	var data [][]byte
	var err error
	data, sc.FileSize, err = readAndShardFile(fn, nData)
	if err != nil {
		return err
	}

	for i := 0; i < nParity; i++ {
		sc.Parity = append(sc.Parity, make([]byte, len(data[0])))
	}

	enc, err := reedsolomon.New(nData, nParity)
	if err != nil {
		return err
	}
	all := append(append([][]byte{}, data...), sc.Parity...)
	if err := enc.Encode(all); err != nil {
		return err
	}

	for _, s := range all {
		sc.Hashes = append(sc.Hashes, hashShard(s, hashRate))
	}

	f, err := os.Create(rsfn)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(sc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// CheckFile verifies fn against its sidecar, logging each hash span
// that doesn't match. A nil error means the file is intact.
func CheckFile(fn, rsfn string, log *util.Logger) error {
	_, bad, err := findBadSpans(fn, rsfn, log)
	if err != nil {
		return err
	}
	if bad > 0 {
		return fmt.Errorf("%s: %d corrupt spans", fn, bad)
	}
	return nil
}

// RestoreFile reconstructs a damaged fn from its sidecar, writing the
// result to fn + ".recovered". The original is never modified. Fails if
// more shards are damaged in any span than there is parity for.
func RestoreFile(fn, rsfn string, log *util.Logger) error {
	st, bad, err := findBadSpans(fn, rsfn, log)
	if err != nil {
		return err
	}
	if bad == 0 {
		log.Print("%s: no corruption found", fn)
		return nil
	}

	enc, err := reedsolomon.New(st.sc.NData, st.sc.NParity)
	if err != nil {
		return err
	}

	nSpans := len(st.shards[0])
	for span := 0; span < nSpans; span++ {
		missing := 0
		var recon [][]byte
		for _, s := range st.shards {
			recon = append(recon, s[span])
			if s[span] == nil {
				missing++
			}
		}
		if missing > 0 {
			if err := enc.Reconstruct(recon); err != nil {
				return fmt.Errorf("%s: span %d: %w", fn, span, err)
			}
		}
		for i := 0; i < st.sc.NData; i++ {
			copy(st.data[i][int64(span)*st.sc.HashRate:], recon[i])
		}
	}

	out := fn + ".recovered"
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	w := &limitedWriter{f, st.sc.FileSize}
	for _, s := range st.data {
		if _, err := w.Write(s); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Print("%s: recovered archive written", out)
	return nil
}

type limitedWriter struct {
	W io.Writer
	N int64
}

func (w *limitedWriter) Write(data []byte) (int, error) {
	if int64(len(data)) > w.N {
		data = data[:w.N]
	}
	n, err := w.W.Write(data)
	w.N -= int64(n)
	return n, err
}

// checkState carries the sharded file between the check and restore
// phases. shards[i][span] is nil where the hash didn't match.
type checkState struct {
	sc     sidecar
	data   [][]byte
	shards [][][]byte
}

func findBadSpans(fn, rsfn string, log *util.Logger) (*checkState, int, error) {
	sc, err := readSidecar(rsfn)
	if err != nil {
		return nil, 0, err
	}

	data, _, err := readAndShardFile(fn, sc.NData)
	if err != nil {
		return nil, 0, err
	}

	st := &checkState{sc: sc, data: data}
	for _, s := range data {
		st.shards = append(st.shards, shardBytes(s, sc.HashRate))
	}
	for _, s := range sc.Parity {
		st.shards = append(st.shards, shardBytes(s, sc.HashRate))
	}
	if len(st.shards) != len(sc.Hashes) {
		return nil, 0, fmt.Errorf("%s: shard count mismatch with sidecar", fn)
	}

	bad := 0
	nSpans := len(st.shards[0])
	for span := 0; span < nSpans; span++ {
		for i, s := range st.shards {
			if HashBytes(s[span]) == sc.Hashes[i][span] {
				continue
			}
			if i < sc.NData {
				log.Warning("%s: data shard %d span %d hash mismatch", fn, i, span)
			} else {
				log.Warning("%s: parity shard %d span %d hash mismatch",
					fn, i-sc.NData, span)
			}
			bad++
			s[span] = nil
		}
	}
	return st, bad, nil
}

// readAndShardFile reads fn and splits it into n equal shards, zero
// padding the tail of the last one.
func readAndShardFile(fn string, n int) (shards [][]byte, size int64, err error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	size = fi.Size()

	shardSize := (size + int64(n) - 1) / int64(n)
	buf := make([]byte, int64(n)*shardSize)
	if _, err := io.ReadFull(f, buf[:size]); err != nil {
		return nil, 0, err
	}
	return shardBytes(buf, shardSize), size, nil
}

func shardBytes(b []byte, size int64) (s [][]byte) {
	for int64(len(b)) > size {
		s = append(s, b[:size])
		b = b[size:]
	}
	return append(s, b)
}

func hashShard(s []byte, hashRate int64) (hashes []Hash) {
	for _, span := range shardBytes(s, hashRate) {
		hashes = append(hashes, HashBytes(span))
	}
	return
}

func readSidecar(fn string) (sidecar, error) {
	var sc sidecar
	f, err := os.Open(fn)
	if err != nil {
		return sc, err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&sc); err != nil {
		return sc, fmt.Errorf("%s: decoding sidecar: %w", fn, err)
	}
	return sc, nil
}
