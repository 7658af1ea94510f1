// backup/verify.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package backup

import (
	"fmt"
	"sort"

	"github.com/vbk/vbackup/storage"
	"github.com/vbk/vbackup/util"
)

type VerifyResult struct {
	Versions int
	Files    int

	// Chunks reachable from some version versus chunks in the archive.
	// Unreachable chunks are not an error; an interrupted build or an
	// untrimmed archive can leave them behind.
	ChunksReachable int
	ChunksTotal     int

	Missing  int // reachable chunks absent from the archive
	Corrupt  int // stored chunks whose bytes don't match their hash
	BadFiles []string
}

// Verify checks the archive end to end: every version record decodes,
// every chunk any version references is present, and every stored chunk
// still hashes to its recorded hash. Read-only; never repairs anything.
func Verify(archive *storage.Archive, log *util.Logger) (*VerifyResult, error) {
	versions, err := LoadVersions(archive)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Versions:    len(versions),
		ChunksTotal: archive.NumChunks(),
	}

	// Walk every manifest and collect the reachable chunk set, noting
	// files whose hash lists or leaves are missing.
	cstore := storage.NewCompressed(archive)
	reachable := make(map[storage.Hash]struct{})
	bad := make(map[string]struct{})
	for _, v := range versions {
		result.Files += len(v.Manifest)
		for i := range v.Manifest {
			e := &v.Manifest[i]
			if !e.HasContent() {
				continue
			}
			err := e.Hash.Walk(cstore, func(h storage.Hash) {
				reachable[h] = struct{}{}
				if !archive.HashExists(h) {
					result.Missing++
					bad[fmt.Sprintf("v%d:%s", v.ID, e.Path)] = struct{}{}
				}
			})
			if err != nil {
				// The walk itself failed, likely a missing or corrupt
				// interior hash list.
				result.Missing++
				bad[fmt.Sprintf("v%d:%s", v.ID, e.Path)] = struct{}{}
				log.Warning("%s (version %d): %v", e.Path, v.ID, err)
			}
		}
	}
	result.ChunksReachable = len(reachable)

	// Re-read every stored chunk and recompute its hash.
	for _, h := range archive.ChunkOrder() {
		if !storage.CheckHash(h, archive) {
			result.Corrupt++
			log.Warning("chunk %s: stored bytes don't match hash", h)
		}
	}

	for f := range bad {
		result.BadFiles = append(result.BadFiles, f)
	}
	sort.Strings(result.BadFiles)
	if result.Missing > 0 || result.Corrupt > 0 {
		return result, fmt.Errorf("%d missing references, %d corrupt chunks: %w",
			result.Missing, result.Corrupt, ErrCorruptArchive)
	}
	return result, nil
}
