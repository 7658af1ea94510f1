// cmd/vbackup/readme.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var readmeCmd = &cobra.Command{
	Use:   "readme",
	Short: "print the archive format documentation",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(readmeText)
	},
}

func init() {
	rootCmd.AddCommand(readmeCmd)
}

var readmeText = `
This document describes the vbackup archive format in enough detail
that, if it ever became necessary, backed-up data could be recovered
from an archive without the vbackup source code.

# Archive layout

An archive is a single file: an 8-ish byte header followed by a series
of records, appended in order. The header is the 4-byte string "VBk1"
followed by the format version (currently 1) encoded with Go's
binary.PutVarint.

There are two record types. A blob record is the 4-byte string "BL0B",
then 32 bytes of the chunk's hash, then the chunk length as a varint,
then the chunk bytes. A version record is the 4-byte string "Ver1",
then a varint payload length, then the payload.

Records after the last complete version record may be a partial tail
left by an interrupted run; readers ignore an incomplete trailing
record. There is no index structure in the file. Everything is
reconstructed by scanning it once.

# Chunks

vbackup hashes chunks with SHAKE256, keeping 32 bytes of output. The
hash stored in a blob record is the hash of the stored bytes exactly
as they appear in the file.

The first byte of each stored chunk says how the remainder is encoded: 1
means zstd-compressed, 0 means the raw bytes follow. Decode that
before interpreting chunk contents.

File contents are split into chunks with a rolling checksum, so a
file's chunk boundaries are stable under insertions and deletions.
A file is identified by a (hash, level) pair. At level 0 the hash
names a chunk holding file bytes. At level n+1 it names a chunk
holding a concatenated list of 32-byte hashes, each at level n; these
hash lists are themselves split and stored as ordinary chunks.

# Version records

A version record's payload is CBOR: an id, a timestamp, summary
counters, and a manifest. The manifest is an array of entries sorted
by path; each entry has the file's relative path, size, mode bits,
modification time, the (hash, level) content reference, and, for
symlinks, the link target. Directories are implied by the paths.

Version payloads are not compressed.

# Recovery sidecars

A .rs file next to an archive holds Reed-Solomon parity for it, using
Go's gob encoding of the structure:

	type sidecar struct {
		FileSize       int64
		NData, NParity int
		HashRate       int64
		Hashes         [][]Hash // data shard hashes, then parity
		Parity         [][]byte
	}

The archive is padded with zero bytes to a multiple of NData, split
into NData equal shards, and NParity parity shards are computed with
github.com/klauspost/reedsolomon. Hashes are 64 bytes of SHAKE256,
one per HashRate-sized span of each shard, for localizing damage.
`
