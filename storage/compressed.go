// storage/compressed.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package storage

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
)

///////////////////////////////////////////////////////////////////////////
// compressed

// compressed implements the Store interface. It applies zstd compression
// to chunks before passing them along to another store. Each stored
// chunk starts with a one-byte marker: 1 for zstd-compressed contents,
// 0 for contents stored as-is (chosen per chunk, whichever is smaller,
// so already-compressed data doesn't grow). Version records are not
// compressed.
//
// Hashes returned by Write identify the marked, possibly-compressed
// chunk as stored; all reads go back through the wrapper, which strips
// the marker and decompresses as needed.
type compressed struct {
	store Store

	bytesStored, bytesProcessed    int64
	compressedChunks, storedChunks int
}

// Shared encoder/decoder; EncodeAll and DecodeAll on these are safe for
// concurrent use and avoid per-chunk initialization.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(err)
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
}

// NewCompressed returns a new Store that applies zstd compression to the
// chunks stored in the provided underlying store.
func NewCompressed(store Store) Store {
	return &compressed{store: store}
}

func (c *compressed) String() string {
	return "zstd compressed " + c.store.String()
}

func (c *compressed) Write(chunk []byte) (Hash, error) {
	encoded := zstdEncoder.EncodeAll(chunk, make([]byte, 0, len(chunk)/2))

	c.bytesProcessed += int64(len(chunk))

	// Only keep the compressed form if it's actually smaller.
	var stored []byte
	if len(encoded) < len(chunk) {
		stored = append([]byte{1}, encoded...)
		c.compressedChunks++
	} else {
		stored = append([]byte{0}, chunk...)
		c.storedChunks++
	}
	c.bytesStored += int64(len(stored))

	return c.store.Write(stored)
}

func (c *compressed) Read(hash Hash) (io.ReadCloser, error) {
	r, err := c.store.Read(hash)
	if err != nil {
		return nil, err
	}

	stored, err := io.ReadAll(r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, ErrPrematureEndOfData
	}

	switch stored[0] {
	case 1:
		chunk, err := zstdDecoder.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(chunk)), nil
	case 0:
		return io.NopCloser(bytes.NewReader(stored[1:])), nil
	default:
		return nil, ErrPrematureEndOfData
	}
}

func (c *compressed) HashExists(hash Hash) bool {
	return c.store.HashExists(hash)
}

func (c *compressed) Hashes() map[Hash]struct{} {
	return c.store.Hashes()
}

func (c *compressed) NewBytes() int64 {
	return c.store.NewBytes()
}

// Version records pass through uncompressed.
func (c *compressed) AppendVersion(payload []byte) error {
	return c.store.AppendVersion(payload)
}

func (c *compressed) VersionPayloads() [][]byte {
	return c.store.VersionPayloads()
}

func (c *compressed) Commit() error {
	return c.store.Commit()
}

func (c *compressed) Close() error {
	if c.bytesProcessed > 0 {
		tot := c.compressedChunks + c.storedChunks
		log.Verbose("compressed %d / %d chunks; %d bytes in, %d bytes stored",
			c.compressedChunks, tot, c.bytesProcessed, c.bytesStored)
	}
	return c.store.Close()
}
