// storage/split.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package storage

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// MerkleHash identifies a stream of bytes stored as one or more chunks.
// At level 0, Hash directly identifies the chunk holding the bytes. At
// level n > 0, Hash identifies stored chunks that hold a concatenated
// list of level n-1 hashes. Splitting the hash lists themselves keeps
// every stored chunk bounded no matter how large the original stream.
type MerkleHash struct {
	Hash  Hash  `json:"h"`
	Level uint8 `json:"l"`
}

func MerkleFromSingle(hash Hash) MerkleHash {
	return MerkleHash{hash, 0}
}

// NewReader returns an io.ReadCloser that supplies the bytes the
// MerkleHash identifies. If non-nil, sem limits the number of concurrent
// chunk reads.
func (h *MerkleHash) NewReader(sem chan bool, backend Backend) (io.ReadCloser, error) {
	hashes := []Hash{h.Hash}
	for level := h.Level; level > 0; level-- {
		r := NewHashesReader(hashes, sem, backend)
		next, err := readHashes(r)
		if cerr := r.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, err
		}
		hashes = next
	}
	return NewHashesReader(hashes, sem, backend), nil
}

// Walk visits every hash reachable from the MerkleHash: the interior
// hash-list chunks as well as the leaf data chunks. The trim mark phase
// and the verifier are both built on this.
func (h *MerkleHash) Walk(backend Backend, visit func(Hash)) error {
	hashes := []Hash{h.Hash}
	for level := h.Level; level > 0; level-- {
		for _, hash := range hashes {
			visit(hash)
		}
		r := NewHashesReader(hashes, nil, backend)
		next, err := readHashes(r)
		if cerr := r.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		hashes = next
	}
	for _, hash := range hashes {
		visit(hash)
	}
	return nil
}

func readHashes(r io.Reader) (hashes []Hash, err error) {
	for {
		var hash Hash
		_, err := io.ReadFull(r, hash[:])
		if err == io.EOF {
			return hashes, nil
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = ErrPrematureEndOfData
			}
			return nil, err
		}
		hashes = append(hashes, hash)
	}
}

///////////////////////////////////////////////////////////////////////////

// SplitAndStore splits the bytes of the given io.Reader using a rolling
// checksum into chunks of size (on average) 1<<splitBits and stores them
// in the given backend. It returns the MerkleHash that identifies the
// data.
func SplitAndStore(r io.Reader, backend Backend, splitBits uint) (MerkleHash, error) {
	// Wrap the reader with a buffered reader if it isn't buffered
	// already. This is required for decent performance in the splitter
	// code, which needs to process the input a byte at a time.
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}

	// Put the bits from the reader in storage and get the hashes that
	// reconstruct them.
	hs := NewHashSplitter(splitBits)
	hashes, err := splitAndStoreLevel(br, backend, hs)
	if err != nil {
		return MerkleHash{}, err
	}

	if len(hashes) == 0 {
		// Empty input: store an empty chunk so the hash still resolves.
		hash, err := backend.Write(nil)
		if err != nil {
			return MerkleHash{}, err
		}
		return MerkleFromSingle(hash), nil
	}

	// Now, continue to split and store the hash bytes until we're down
	// to a single hash; that's the final identifier for the provided
	// bits that we'll return.
	for level := uint8(0); ; level++ {
		if len(hashes) == 1 {
			return MerkleHash{hashes[0], level}, nil
		}
		if level >= 10 {
			return MerkleHash{}, errors.New("split: hash tree too deep")
		}

		// Construct the buffer to store.
		var buf []byte
		for _, h := range hashes {
			buf = append(buf, h[:]...)
		}

		hs.Reset()
		hashes, err = splitAndStoreLevel(bytes.NewBuffer(buf), backend, hs)
		if err != nil {
			return MerkleHash{}, err
		}
	}
}

func splitAndStoreLevel(r io.ByteReader, backend Backend, hs *HashSplitter) (hashes []Hash, err error) {
	for {
		// Get the next chunk of data from the input stream.
		chunk, err := hs.SplitFromReader(r)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return hashes, nil // done
		}
		hash, err := backend.Write(chunk)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
		hs.Reset()
	}
}

///////////////////////////////////////////////////////////////////////////
// Rolling checksum stuff from bup...

// The lowest bits seem to be most useful; splitting based on, say, 4 bits
// in the middle is fiddly, especially when it spans the 16th
// bit.
type HashSplitter struct {
	splitBits uint
	s1, s2    uint32
	window    [splitWindowSize]byte
	wofs      int
	count     int
}

const splitterCharOffset = 31
const splitWindowBits = 6
const splitWindowSize = 1 << splitWindowBits

// MinSplitBits and MaxSplitBits bound the valid range of split sizes.
const MinSplitBits = 8
const MaxSplitBits = 18

func NewHashSplitter(splitBits uint) *HashSplitter {
	if splitBits < MinSplitBits || splitBits > MaxSplitBits {
		panic("split bits out of range")
	}
	hs := &HashSplitter{
		splitBits: splitBits,
		s1:        splitWindowSize * splitterCharOffset,
		s2:        splitWindowSize * (splitWindowSize - 1) * splitterCharOffset,
	}
	return hs
}

func (hs *HashSplitter) Reset() {
	hs.s1 = splitWindowSize * splitterCharOffset
	hs.s2 = splitWindowSize * (splitWindowSize - 1) * splitterCharOffset
	hs.wofs = 0
	hs.count = 0
	for i := 0; i < splitWindowSize; i++ {
		hs.window[i] = 0
	}
}

func (hs *HashSplitter) AddByte(b byte) {
	drop := hs.window[hs.wofs]
	hs.s1 += uint32(b) - uint32(drop)
	hs.s2 += hs.s1 - (splitWindowSize * uint32(drop+splitterCharOffset))
	hs.window[hs.wofs] = b
	hs.wofs = (hs.wofs + 1) % splitWindowSize
	hs.count++
}

func (hs *HashSplitter) SplitNow() bool {
	if hs.count < 8*splitWindowSize {
		return false
	}
	digest := (hs.s1 << 16) | (hs.s2 & 0xffff)
	splitSize := 1 << hs.splitBits
	return (digest & uint32(splitSize-1)) == uint32(splitSize-1)
}

func (hs *HashSplitter) SplitFromReader(reader io.ByteReader) (ret []byte, err error) {
	for {
		add, err := reader.ReadByte()
		if err == io.EOF {
			return ret, nil
		}
		if err != nil {
			return nil, err
		}

		hs.AddByte(add)
		ret = append(ret, add)
		if hs.SplitNow() {
			return ret, nil
		}
	}
}
