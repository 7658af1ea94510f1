// storage/storage.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package storage

import (
	"encoding/hex"
	"errors"
	"io"

	u "github.com/vbk/vbackup/util"
	"golang.org/x/crypto/sha3"
)

var (
	ErrHashNotFound       = errors.New("hash not found")
	ErrHashMismatch       = errors.New("hash value mismatch")
	ErrBlobMagicWrong     = errors.New("blob record has incorrect magic number")
	ErrVersionMagicWrong  = errors.New("version record has incorrect magic number")
	ErrPrematureEndOfData = errors.New("premature end of data")
	ErrArchiveFormat      = errors.New("unrecognized archive format")
	ErrArchiveDamaged     = errors.New("archive damaged before a later version record")
	ErrArchiveLocked      = errors.New("archive is in use by another process")
	ErrArchiveReadOnly    = errors.New("archive is open read-only")
)

///////////////////////////////////////////////////////////////////////////
// Logging

var log *u.Logger

func SetLogger(l *u.Logger) {
	log = l
}

///////////////////////////////////////////////////////////////////////////
// Hashing

// HashSize is the number of bytes in the hash values returned to
// represent chunks of data.
const HashSize = 32

// Hash encodes a fixed-size secure hash of a collection of bytes.
type Hash [HashSize]byte

// HashBytes computes the SHAKE256 hash of the given byte slice.
func HashBytes(b []byte) Hash {
	var h Hash
	sha3.ShakeSum256(h[:], b)
	return h
}

// String returns the given Hash as a hexidecimal-encoded string.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

///////////////////////////////////////////////////////////////////////////
// Interfaces to storage

// Backend describes the chunk-level interface to content storage: callers
// provide chunks of data and are returned a Hash that identifies each
// chunk. Implementations apply deduplication, so storing the same chunk
// multiple times appends it only once. Hash equality is treated as
// content equality; no secondary byte comparison is performed on lookup
// hits.
//
// It isn't safe for multiple goroutines to call Write concurrently,
// though Read may be called from multiple goroutines as long as no one
// is writing.
type Backend interface {
	// String returns the name of the Backend in the form of a string.
	String() string

	// Write saves the provided chunk of data, returning the Hash that
	// identifies it. If a chunk with the same hash is already stored,
	// nothing is written and the existing hash is returned.
	Write(chunk []byte) (Hash, error)

	// Read returns an io.ReadCloser for the chunk with the given hash,
	// or ErrHashNotFound if no such chunk is stored.
	Read(hash Hash) (io.ReadCloser, error)

	// HashExists reports whether a chunk with the given hash is stored.
	HashExists(hash Hash) bool

	// Hashes returns a map holding all of the hashes currently stored.
	Hashes() map[Hash]struct{}

	// NewBytes returns the number of bytes of unique chunk data that
	// have been appended since the store was opened. Chunks that were
	// deduplicated away don't count.
	NewBytes() int64
}

// Store extends Backend with the version-record operations that the
// backup layer builds on. Version records are opaque payloads kept in
// commit order; the store neither interprets nor deduplicates them.
type Store interface {
	Backend

	// AppendVersion appends an opaque version record.
	AppendVersion(payload []byte) error

	// VersionPayloads returns all version record payloads in the order
	// they were appended.
	VersionPayloads() [][]byte

	// Commit makes everything written so far durable. The backup layer
	// calls this once, after appending a version record, so that an
	// interruption before Commit leaves the previous version intact.
	Commit() error

	Close() error
}

///////////////////////////////////////////////////////////////////////////

// NewHashesReader returns an io.ReadCloser that reads multiple hashes in
// parallel from the given storage backend. It supplies the bytes of the
// hashes' chunks concatenated together into a single stream. If non-nil,
// the sem parameter is used to limit the number of active readers;
// otherwise a fixed number of reader goroutines are launched.
func NewHashesReader(hashes []Hash, sem chan bool, backend Backend) io.ReadCloser {
	// If it's just one hash, don't do anything fancy.
	if len(hashes) == 1 {
		r, err := backend.Read(hashes[0])
		if err != nil {
			return &errorReader{err}
		}
		return r
	}

	// Limit the maximum number of concurrent readers.
	nReaders := 32
	if len(hashes) < nReaders {
		nReaders = len(hashes)
	}

	cin := make(chan hashIndex, len(hashes))
	r := &parallelReader{
		m:        make(map[int][]byte),
		maxIndex: len(hashes),
		cout:     make(chan indexData, 4)}

	// Launch readers.
	for i := 0; i < nReaders; i++ {
		if i == 0 {
			// Always pass a nil sem for the first reader, since we assume
			// that the caller is allowed to be reading.
			go preader(backend, nil, cin, r.cout)
		} else {
			go preader(backend, sem, cin, r.cout)
		}
	}

	for i, h := range hashes {
		// Hash indices are assigned in order so that we can construct a
		// bytestream that has the correct order.
		cin <- hashIndex{hash: h, index: i}
	}
	close(cin)

	return r
}

type errorReader struct {
	err error
}

func (r *errorReader) Read([]byte) (int, error) { return 0, r.err }
func (r *errorReader) Close() error             { return nil }

type parallelReader struct {
	// Hash indices to []bytes. The map stores bytes for hashes that we've
	// gotten from the readers, including ones that we're not ready
	// to return yet since we don't have the predecessors yet.
	m map[int][]byte
	// Hash index to return the bytes for before going to the next one.
	index    int
	maxIndex int
	// Result channel that the goroutines send results along.
	cout chan indexData
	// Number of results received from cout so far. Every hash produces
	// exactly one result, so Close can drain the remainder and let the
	// reader goroutines finish even after an error.
	received int
	// First error reported by any reader; sticky.
	err error
}

type hashIndex struct {
	hash  Hash
	index int
}

type indexData struct {
	index int
	data  []byte
	err   error
}

func preader(backend Backend, sem chan bool, cin chan hashIndex,
	cout chan indexData) {
	for {
		if sem != nil {
			// Block until we're allowed to read
			sem <- true
		}

		// Get the next hash to read.
		hi, ok := <-cin
		if !ok {
			// No more.
			if sem != nil {
				// Let someone else read.
				<-sem
			}
			return
		}

		data, err := readChunk(backend, hi.hash)

		if sem != nil {
			// Let someone else read.
			<-sem
		}

		// Send the result out on the result chan.
		cout <- indexData{hi.index, data, err}
	}
}

func readChunk(backend Backend, hash Hash) ([]byte, error) {
	r, err := backend.Read(hash)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		r.Close()
		return nil, err
	}
	return data, r.Close()
}

func (r *parallelReader) Read(buf []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.index == r.maxIndex {
		// We've read everything.
		return 0, io.EOF
	}

	// Try to get the []byte for the current hash index.
	if chunk, ok := r.m[r.index]; !ok {
		// Don't have it. Read from the result chan (and block if there's
		// nothing ready yet).
		id := <-r.cout
		r.received++
		if id.err != nil {
			r.err = id.err
			return 0, r.err
		}
		// What we got may or may not be the one we're waiting for; record
		// it in the map and go 'round again.
		r.m[id.index] = id.data
		// Try again
		return r.Read(buf)
	} else {
		// We have bytes for the current index; return some to the caller.
		n := copy(buf, chunk)
		if n < len(chunk) {
			// More left for the next Read() call.
			r.m[r.index] = chunk[n:]
		} else {
			// Done with this index; move to the next.
			delete(r.m, r.index)
			r.index++
		}
		return n, nil
	}
}

func (r *parallelReader) Close() error {
	// It's grungy to not have a cleaner way to shutdown the readers in the
	// middle and to drain it all out this way, but we don't really need that
	// functionality at the moment anyway.
	_, err := io.Copy(io.Discard, r)

	// After an error the copy above stops immediately, which would
	// strand reader goroutines blocked on the result channel. Every
	// hash sends exactly one result; take the rest so they can finish.
	for r.received < r.maxIndex {
		<-r.cout
		r.received++
	}
	return err
}

///////////////////////////////////////////////////////////////////////////
// Consistency checking

// CheckHash reads the chunk for the given hash back from the backend and
// confirms that its contents still hash to the same value. Problems are
// reported through the logger set with SetLogger; the return value
// reports whether the chunk checked out.
func CheckHash(hash Hash, backend Backend) bool {
	rc, err := backend.Read(hash)
	if err != nil {
		log.Error("%s: %s", hash, err)
		return false
	}

	chunk, err := io.ReadAll(rc)
	if err != nil {
		rc.Close()
		log.Error("%s: %s", hash, err)
		return false
	}

	if HashBytes(chunk) != hash {
		log.Error("%s: hash mismatch", hash)
		return false
	}

	if err = rc.Close(); err != nil {
		log.Error("%s: %s", hash, err)
		return false
	}
	return true
}
