// backup/trim.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/vbk/vbackup/storage"
	"github.com/vbk/vbackup/util"
)

type TrimResult struct {
	// Versions kept and dropped.
	Kept    int
	Dropped int

	// Chunks kept and dropped.
	ChunksKept    int
	ChunksDropped int

	// Archive size before and after.
	OldSize int64
	NewSize int64

	// Path of the trimmed archive.
	Path string
}

// Trim rewrites the archive at path keeping only the keep most recent
// versions, along with exactly the chunks those versions reference.
// Kept versions keep their IDs and timestamps. The rewrite goes to a
// temporary file that replaces the original atomically, so a crash
// mid-trim leaves the original archive untouched. With a non-empty
// output the trimmed archive is written there instead and the original
// is not modified at all.
func Trim(path string, keep int, output string, log *util.Logger) (*TrimResult, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep %d versions: %w", keep, ErrInvalidArgument)
	}

	var src *storage.Archive
	var err error
	if output == "" {
		// Rewriting in place; take the exclusive lock.
		src, err = storage.OpenArchive(path)
	} else {
		src, err = storage.OpenArchiveReadOnly(path)
	}
	if err != nil {
		return nil, err
	}
	defer src.Close()

	versions, err := LoadVersions(src)
	if err != nil {
		return nil, err
	}

	if keep > len(versions) {
		keep = len(versions)
	}
	retained := versions[len(versions)-keep:]
	payloads := src.VersionPayloads()
	retainedPayloads := payloads[len(payloads)-keep:]

	if output == "" && keep == len(versions) {
		// Nothing to drop. Skipping the rewrite also skips dropping
		// any unreferenced chunks a crashed build left behind, but
		// those only reappear here if no later build completed.
		return &TrimResult{
			Kept:       keep,
			ChunksKept: src.NumChunks(),
			OldSize:    src.Size(),
			NewSize:    src.Size(),
			Path:       path,
		}, nil
	}

	// Mark phase: every chunk any retained version references, interior
	// hash-list chunks included. The walk reads hash lists through the
	// compression wrapper since that's the form they're stored in.
	marked := make(map[storage.Hash]struct{})
	cstore := storage.NewCompressed(src)
	for _, v := range retained {
		for i := range v.Manifest {
			e := &v.Manifest[i]
			if !e.HasContent() {
				continue
			}
			err := e.Hash.Walk(cstore, func(h storage.Hash) {
				marked[h] = struct{}{}
			})
			if err != nil {
				return nil, fmt.Errorf("version %d, %s: %v",
					v.ID, e.Path, storeErr(err))
			}
		}
	}

	// Sweep phase: copy marked chunks, in their original order, into a
	// fresh archive. The chunks are copied in stored form, so their
	// hashes carry over without recompression.
	dstPath := output
	if dstPath == "" {
		dstPath = path + ".trim"
		if err := os.Remove(dstPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("removing stale %s: %w: %v", dstPath, ErrIO, err)
		}
	}
	dst, err := storage.CreateArchive(dstPath)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w: %v", dstPath, ErrIO, err)
	}
	cleanup := func() {
		dst.Close()
		os.Remove(dstPath)
	}

	result := &TrimResult{
		Kept:    keep,
		Dropped: len(versions) - keep,
		OldSize: src.Size(),
		Path:    path,
	}
	if output != "" {
		result.Path = output
	}

	for _, h := range src.ChunkOrder() {
		if _, ok := marked[h]; !ok {
			result.ChunksDropped++
			continue
		}
		chunk, err := src.ChunkBytes(h)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("reading chunk %s: %v", h, storeErr(err))
		}
		if _, err := dst.Write(chunk); err != nil {
			cleanup()
			return nil, fmt.Errorf("writing %s: %w: %v", dstPath, ErrIO, err)
		}
		result.ChunksKept++
	}

	// Version records are copied byte for byte; IDs and timestamps
	// survive exactly.
	for _, p := range retainedPayloads {
		if err := dst.AppendVersion(p); err != nil {
			cleanup()
			return nil, fmt.Errorf("writing %s: %w: %v", dstPath, ErrIO, err)
		}
	}
	if err := dst.Commit(); err != nil {
		cleanup()
		return nil, fmt.Errorf("committing %s: %w: %v", dstPath, ErrIO, err)
	}
	result.NewSize = dst.Size()
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("closing %s: %w: %v", dstPath, ErrIO, err)
	}

	if output == "" {
		// Release the lock before the new file takes the name.
		if err := src.Close(); err != nil {
			os.Remove(dstPath)
			return nil, fmt.Errorf("closing %s: %w: %v", path, ErrIO, err)
		}
		if err := os.Rename(dstPath, path); err != nil {
			os.Remove(dstPath)
			return nil, fmt.Errorf("replacing %s: %w: %v", path, ErrIO, err)
		}
	}

	log.Verbose("trimmed %s: kept %d of %d versions, %s -> %s",
		result.Path, result.Kept, result.Kept+result.Dropped,
		util.FmtBytes(result.OldSize), util.FmtBytes(result.NewSize))
	return result, nil
}
