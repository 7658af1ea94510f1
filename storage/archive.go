// storage/archive.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Archive is a Store kept in a single file: a header followed by an
// append-only sequence of blob and version records. The chunk index and
// the version list are rebuilt by scanning the file on open.
//
// Writers hold an exclusive advisory lock on the file for as long as the
// archive is open; read-only opens hold a shared lock. A second process
// trying to open a locked archive gets ErrArchiveLocked rather than
// blocking.
type Archive struct {
	path     string
	file     *os.File
	readOnly bool

	chunkIndex ChunkIndex
	versions   [][]byte

	// Logical end of the archive: the offset just past the last complete
	// record. The physical file may be longer after a crash; the tail is
	// truncated away before the first append.
	end       int64
	truncated bool

	newBytes int64
	dirty    bool
}

// CreateArchive creates a new, empty archive file at the given path. The
// file must not already exist.
func CreateArchive(path string) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f, false); err != nil {
		f.Close()
		return nil, err
	}

	a := &Archive{path: path, file: f, truncated: true}

	hdr := PackHeader()
	if _, err := f.WriteAt(hdr, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	a.end = int64(len(hdr))
	a.dirty = true
	return a, nil
}

// OpenArchive opens an existing archive for reading and appending.
func OpenArchive(path string) (*Archive, error) {
	return openArchive(path, false)
}

// OpenArchiveReadOnly opens an existing archive for reading only.
// Multiple read-only opens of the same archive may coexist.
func OpenArchiveReadOnly(path string) (*Archive, error) {
	return openArchive(path, true)
}

// OpenOrCreateArchive opens the archive at path, creating it first if
// there's no file there.
func OpenOrCreateArchive(path string) (*Archive, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CreateArchive(path)
	}
	return OpenArchive(path)
}

func openArchive(path string, readOnly bool) (*Archive, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f, readOnly); err != nil {
		f.Close()
		return nil, err
	}

	a := &Archive{path: path, file: f, readOnly: readOnly}

	a.end, err = ScanArchive(f, func(rec ScanRecord) error {
		if rec.Blob {
			return a.chunkIndex.Add(rec.Hash, rec.DataOffset, rec.DataLength)
		}
		a.versions = append(a.versions, rec.Payload)
		return nil
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	if !readOnly {
		// A scan that stops short of the physical end normally means an
		// append died mid-record, and the next append clobbers the tail.
		// If the dropped tail still holds a complete version record the
		// gap is mid-file damage, not a crash: refuse to open for
		// writing so the intact later versions aren't destroyed. They
		// stay readable through a read-only open or repair.
		if fi, serr := f.Stat(); serr == nil && fi.Size() > a.end {
			if tailHasVersionRecord(f, a.end, fi.Size()) {
				f.Close()
				return nil, fmt.Errorf("%s: %w", path, ErrArchiveDamaged)
			}
		}
	}
	return a, nil
}

func lockFile(f *os.File, shared bool) error {
	how := unix.LOCK_EX
	if shared {
		how = unix.LOCK_SH
	}
	err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrArchiveLocked
	}
	return err
}

func (a *Archive) String() string {
	return "archive: " + a.path
}

// Path returns the file path the archive was opened from.
func (a *Archive) Path() string {
	return a.path
}

// Size returns the logical size of the archive in bytes.
func (a *Archive) Size() int64 {
	return a.end
}

// NumChunks returns the number of unique chunks stored.
func (a *Archive) NumChunks() int {
	return a.chunkIndex.Len()
}

func (a *Archive) appendRecord(rec []byte) (int64, error) {
	if a.readOnly {
		return 0, ErrArchiveReadOnly
	}

	if !a.truncated {
		// First append since open: if a crashed writer left a partial
		// record past the logical end, cut it off so the file stays a
		// clean sequence of records.
		if fi, err := a.file.Stat(); err == nil && fi.Size() > a.end {
			log.Warning("%s: truncating %d partial trailing bytes",
				a.path, fi.Size()-a.end)
			if err := a.file.Truncate(a.end); err != nil {
				return 0, err
			}
		}
		a.truncated = true
	}

	start := a.end
	if _, err := a.file.WriteAt(rec, start); err != nil {
		return 0, err
	}
	a.end += int64(len(rec))
	a.dirty = true
	return start, nil
}

func (a *Archive) Write(chunk []byte) (Hash, error) {
	hash := HashBytes(chunk)

	// If this chunk has already been stored, we're done.
	if _, _, err := a.chunkIndex.Lookup(hash); err == nil {
		return hash, nil
	}

	rec, dataOffset := PackBlob(hash, chunk)
	start, err := a.appendRecord(rec)
	if err != nil {
		return Hash{}, err
	}
	if err := a.chunkIndex.Add(hash, start+dataOffset, int64(len(chunk))); err != nil {
		return Hash{}, err
	}

	a.newBytes += int64(len(chunk))
	return hash, nil
}

func (a *Archive) Read(hash Hash) (io.ReadCloser, error) {
	chunk, err := a.ChunkBytes(hash)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(chunk)), nil
}

// ChunkBytes returns the stored bytes for the given hash, verifying them
// against the hash on the way out.
func (a *Archive) ChunkBytes(hash Hash) ([]byte, error) {
	offset, length, err := a.chunkIndex.Lookup(hash)
	if err != nil {
		return nil, err
	}

	chunk := make([]byte, length)
	if _, err := a.file.ReadAt(chunk, offset); err != nil {
		return nil, fmt.Errorf("%s: %w", a.path, err)
	}

	if HashBytes(chunk) != hash {
		return nil, ErrHashMismatch
	}
	return chunk, nil
}

func (a *Archive) HashExists(hash Hash) bool {
	_, _, err := a.chunkIndex.Lookup(hash)
	return err == nil
}

func (a *Archive) Hashes() map[Hash]struct{} {
	return a.chunkIndex.Hashes()
}

// ChunkOrder returns all stored hashes in file order.
func (a *Archive) ChunkOrder() []Hash {
	return a.chunkIndex.Order()
}

func (a *Archive) NewBytes() int64 {
	return a.newBytes
}

func (a *Archive) AppendVersion(payload []byte) error {
	rec := PackVersionRecord(payload)
	if _, err := a.appendRecord(rec); err != nil {
		return err
	}
	a.versions = append(a.versions, payload)
	return nil
}

func (a *Archive) VersionPayloads() [][]byte {
	return a.versions
}

func (a *Archive) Commit() error {
	if a.readOnly || !a.dirty {
		return nil
	}
	if err := a.file.Sync(); err != nil {
		return err
	}
	a.dirty = false
	return nil
}

func (a *Archive) Close() error {
	if a.file == nil {
		return nil
	}
	err := a.Commit()
	// Closing the file releases the advisory lock.
	if cerr := a.file.Close(); err == nil {
		err = cerr
	}
	a.file = nil
	return err
}
