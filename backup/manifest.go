// backup/manifest.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package backup

import (
	"io/fs"
	"sort"
	"time"

	"github.com/vbk/vbackup/storage"
)

// Entry records one tracked path within a version: a regular file or a
// symlink. A path that is present in a manifest is present in that
// version; a path that was backed up earlier but no longer exists is
// simply absent from later manifests. There are no tombstones.
type Entry struct {
	// Path relative to the backup root, always with forward slashes.
	Path string `json:"path"`

	Size    int64     `json:"size"`
	Mode    uint32    `json:"mode"`
	ModTime time.Time `json:"mtime"`

	// Hash identifies the file contents in the content store. Not
	// meaningful for symlinks or empty files; check Size and Mode
	// before using it.
	Hash storage.MerkleHash `json:"hash"`

	// Target is the symlink target; set only for symlinks.
	Target string `json:"target,omitempty"`
}

func (e *Entry) FileMode() fs.FileMode {
	return fs.FileMode(e.Mode)
}

func (e *Entry) IsSymlink() bool {
	return e.FileMode()&fs.ModeSymlink != 0
}

// HasContent reports whether the entry references chunks in the content
// store.
func (e *Entry) HasContent() bool {
	return !e.IsSymlink() && e.Size > 0
}

// sameAttributes reports whether the file attributes match closely
// enough that the prior entry's content reference can be reused without
// re-reading the file. This is only a fast path: when it reports false
// the content is re-read and re-stored, and the store's deduplication
// makes that a no-op if the bytes are in fact unchanged.
func (e *Entry) sameAttributes(size int64, mode fs.FileMode, modTime time.Time) bool {
	return e.Size == size && e.FileMode() == mode && e.ModTime.Equal(modTime)
}

// Manifest is a full directory snapshot: entries sorted by path, one
// per tracked file.
type Manifest []Entry

// Lookup returns the entry for the given relative path, if present.
func (m Manifest) Lookup(path string) (*Entry, bool) {
	i := sort.Search(len(m), func(i int) bool { return m[i].Path >= path })
	if i < len(m) && m[i].Path == path {
		return &m[i], true
	}
	return nil, false
}

func (m Manifest) sort() {
	sort.Slice(m, func(i, j int) bool { return m[i].Path < m[j].Path })
}

// TotalSize returns the summed logical size of all entries.
func (m Manifest) TotalSize() (n int64) {
	for i := range m {
		n += m[i].Size
	}
	return
}
