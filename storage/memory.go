// storage/memory.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package storage

import (
	"bytes"
	"io"
)

type memory struct {
	chunks   map[Hash][]byte
	versions [][]byte
	newBytes int64
}

// Duplicate the provided byte slice.
func dupe(src []byte) []byte {
	d := make([]byte, len(src))
	copy(d, src)
	return d
}

// NewMemory returns a Store that keeps everything in RAM. It's really
// only useful for testing code built on top of Store, where we may want
// to save the trouble of writing a bunch of stuff to disk.
func NewMemory() Store {
	return &memory{
		chunks: make(map[Hash][]byte),
	}
}

func (m *memory) String() string {
	return "memory"
}

func (m *memory) Write(chunk []byte) (Hash, error) {
	hash := HashBytes(chunk)
	// Chunks are stored in a map; only add the data if it isn't already
	// there.
	if _, ok := m.chunks[hash]; !ok {
		m.chunks[hash] = dupe(chunk)
		m.newBytes += int64(len(chunk))
	}
	return hash, nil
}

func (m *memory) Read(hash Hash) (io.ReadCloser, error) {
	b, ok := m.chunks[hash]
	if !ok {
		return nil, ErrHashNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memory) HashExists(hash Hash) bool {
	_, ok := m.chunks[hash]
	return ok
}

func (m *memory) Hashes() map[Hash]struct{} {
	ret := make(map[Hash]struct{}, len(m.chunks))
	for h := range m.chunks {
		ret[h] = struct{}{}
	}
	return ret
}

func (m *memory) NewBytes() int64 {
	return m.newBytes
}

func (m *memory) AppendVersion(payload []byte) error {
	m.versions = append(m.versions, dupe(payload))
	return nil
}

func (m *memory) VersionPayloads() [][]byte {
	return m.versions
}

func (m *memory) Commit() error {
	return nil
}

func (m *memory) Close() error {
	return nil
}
