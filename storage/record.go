// storage/record.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

var (
	ArchiveMagic = [4]byte{'V', 'B', 'k', '1'}
	BlobMagic    = [4]byte{'B', 'L', '0', 'B'}
	VersionMagic = [4]byte{'V', 'e', 'r', '1'}
)

// FormatVersion is the archive format version written after the archive
// magic number. An archive with a different format version is rejected.
const FormatVersion = 1

// maxVersionPayload bounds the length field of a version record. A
// manifest doesn't get anywhere near this; a length beyond it is a
// corrupt record, not data.
const maxVersionPayload = 1 << 31

/*
Archive file format:
- Header: ArchiveMagic followed by the format version as a varint.
- Blob record: BlobMagic, the 32-byte chunk hash, the length of the chunk
  encoded as a varint, and then the chunk contents. Storing the hash in
  the record means the chunk index can always be rebuilt by scanning the
  archive alone.
- Version record: VersionMagic, the length of the payload encoded as a
  varint, and then the payload (the backup layer's encoded version).

Records are strictly appended; a version record is always the last thing
written by a successful build, so a scan that hits a truncated trailing
record can discard it and still see the previous consistent state.
*/

// PackBlob converts a (hash, chunk) pair to the blob record
// representation appended to archive files. It also returns the offset
// of the chunk contents relative to the start of the record.
func PackBlob(h Hash, chunk []byte) (rec []byte, dataOffset int64) {
	alloc := len(BlobMagic) + HashSize + binary.MaxVarintLen64 + len(chunk)
	rec = make([]byte, alloc)

	n := copy(rec, BlobMagic[:])
	n += copy(rec[n:], h[:])
	n += binary.PutVarint(rec[n:], int64(len(chunk)))
	dataOffset = int64(n)
	n += copy(rec[n:], chunk)
	return rec[:n], dataOffset
}

// PackVersionRecord converts an opaque version payload to the record
// representation appended to archive files.
func PackVersionRecord(payload []byte) []byte {
	alloc := len(VersionMagic) + binary.MaxVarintLen64 + len(payload)
	rec := make([]byte, alloc)

	n := copy(rec, VersionMagic[:])
	n += binary.PutVarint(rec[n:], int64(len(payload)))
	n += copy(rec[n:], payload)
	return rec[:n]
}

// PackHeader returns the archive file header.
func PackHeader() []byte {
	hdr := make([]byte, len(ArchiveMagic)+binary.MaxVarintLen64)
	n := copy(hdr, ArchiveMagic[:])
	n += binary.PutVarint(hdr[n:], FormatVersion)
	return hdr[:n]
}

///////////////////////////////////////////////////////////////////////////

// ChunkIndex maintains an index from hashes to the locations of their
// chunks in the archive file, in append order.
type ChunkIndex struct {
	hashToLoc map[Hash]chunkLoc
	order     []Hash
}

type chunkLoc struct {
	offset int64 // offset of the chunk contents, not the record
	length int64
}

func (c *ChunkIndex) Add(hash Hash, offset, length int64) error {
	if c.hashToLoc == nil {
		c.hashToLoc = make(map[Hash]chunkLoc)
	}

	if _, ok := c.hashToLoc[hash]; ok {
		return fmt.Errorf("%s: hash already in chunk index", hash)
	}

	c.hashToLoc[hash] = chunkLoc{offset, length}
	c.order = append(c.order, hash)
	return nil
}

func (c *ChunkIndex) Lookup(hash Hash) (offset, length int64, err error) {
	loc, ok := c.hashToLoc[hash]
	if !ok {
		return 0, 0, ErrHashNotFound
	}
	return loc.offset, loc.length, nil
}

func (c *ChunkIndex) Hashes() map[Hash]struct{} {
	m := make(map[Hash]struct{}, len(c.hashToLoc))
	for h := range c.hashToLoc {
		m[h] = struct{}{}
	}
	return m
}

// Order returns the stored hashes in the order their chunks appear in
// the archive. The trim rewrite iterates this so the rewritten archive
// preserves chunk locality.
func (c *ChunkIndex) Order() []Hash {
	return c.order
}

func (c *ChunkIndex) Len() int {
	return len(c.hashToLoc)
}

///////////////////////////////////////////////////////////////////////////
// Scanning

// ScanRecord reports one record seen by ScanArchive.
type ScanRecord struct {
	// Blob records: the stored hash and the location of the chunk bytes.
	Blob       bool
	Hash       Hash
	DataOffset int64
	DataLength int64

	// Version records: the payload.
	Payload []byte

	// End is the file offset just past this record.
	End int64
}

type byteAndRegularReader interface {
	Read([]byte) (int, error)
	ReadByte() (byte, error)
}

// ScanArchive reads an archive stream, validates the header, and calls
// the given callback for each complete record, skipping over (not
// reading) blob contents. It returns the offset of the end of the last
// complete record. A record truncated by a crash mid-append terminates
// the scan without error; anything else malformed is an error.
func ScanArchive(r io.Reader, f func(ScanRecord) error) (int64, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	var offset int64

	// Header.
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return 0, ErrArchiveFormat
	}
	if magic != ArchiveMagic {
		return 0, ErrArchiveFormat
	}
	offset += int64(len(magic))

	version, n, err := readVarint(br)
	if err != nil || version != FormatVersion {
		return 0, ErrArchiveFormat
	}
	offset += int64(n)

	for {
		end := offset

		_, err := io.ReadFull(br, magic[:])
		if err == io.EOF {
			return end, nil
		}
		if err != nil {
			// A few stray bytes at the tail: a record that never finished.
			log.Warning("archive: ignoring truncated record at offset %d", end)
			return end, nil
		}
		offset += int64(len(magic))

		switch magic {
		case BlobMagic:
			var hash Hash
			if _, err := io.ReadFull(br, hash[:]); err != nil {
				log.Warning("archive: ignoring truncated record at offset %d", end)
				return end, nil
			}
			offset += HashSize

			length, n, err := readVarint(br)
			if err != nil {
				log.Warning("archive: ignoring truncated record at offset %d", end)
				return end, nil
			}
			if length < 0 {
				return end, fmt.Errorf("%d: negative blob length: %w",
					end, ErrBlobMagicWrong)
			}
			offset += int64(n)

			rec := ScanRecord{
				Blob:       true,
				Hash:       hash,
				DataOffset: offset,
				DataLength: length,
			}

			// Skip over the chunk contents without reading them.
			skipped, err := skip(br, length)
			offset += skipped
			if err != nil {
				log.Warning("archive: ignoring truncated record at offset %d", end)
				return end, nil
			}

			rec.End = offset
			if err := f(rec); err != nil {
				return end, err
			}

		case VersionMagic:
			length, n, err := readVarint(br)
			if err != nil {
				log.Warning("archive: ignoring truncated record at offset %d", end)
				return end, nil
			}
			if length < 0 || length > maxVersionPayload {
				return end, fmt.Errorf("%d: implausible payload length %d: %w",
					end, length, ErrVersionMagicWrong)
			}
			offset += int64(n)

			// Copy rather than allocating length up front: a corrupt
			// length that passes the cap must not size an allocation
			// the file can't back.
			var buf bytes.Buffer
			if _, err := io.CopyN(&buf, br, length); err != nil {
				log.Warning("archive: ignoring truncated record at offset %d", end)
				return end, nil
			}
			payload := buf.Bytes()
			offset += length

			if err := f(ScanRecord{Payload: payload, End: offset}); err != nil {
				return end, err
			}

		default:
			// Not truncation: the file has bytes where a record should
			// start that aren't a record. That's corruption, not a crash
			// artifact.
			return end, fmt.Errorf("offset %d: %w", end, ErrBlobMagicWrong)
		}
	}
}

// tailHasVersionRecord reports whether the byte range [from, size) of
// the file contains a complete version record. The range is what a scan
// that stopped early dropped; a complete version record in there means
// the file is damaged mid-file rather than truncated by a crash.
func tailHasVersionRecord(r io.ReaderAt, from, size int64) bool {
	tail := make([]byte, size-from)
	if _, err := r.ReadAt(tail, from); err != nil {
		return false
	}

	for off := 0; ; off++ {
		i := bytes.Index(tail[off:], VersionMagic[:])
		if i < 0 {
			return false
		}
		off += i

		rec := tail[off+len(VersionMagic):]
		length, n := binary.Varint(rec)
		if n > 0 && length >= 0 && length <= maxVersionPayload &&
			int64(len(rec)-n) >= length {
			return true
		}
	}
}

func readVarint(br byteAndRegularReader) (int64, int, error) {
	cr := &countingByteReader{r: br}
	v, err := binary.ReadVarint(cr)
	if err != nil {
		return 0, cr.n, err
	}
	return v, cr.n, nil
}

type countingByteReader struct {
	r io.ByteReader
	n int
}

func (c *countingByteReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func skip(br io.Reader, n int64) (int64, error) {
	skipped, err := io.CopyN(io.Discard, br, n)
	if err == io.EOF {
		err = ErrPrematureEndOfData
	}
	return skipped, err
}
