// backup/build.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vbk/vbackup/storage"
	"github.com/vbk/vbackup/util"
)

// DefaultSplitBits yields chunks that average 16 kB, small enough that
// localized edits in large files dedup well and large enough to keep
// the per-chunk overhead down.
const DefaultSplitBits = 14

type BuildOptions struct {
	// SplitBits sets the average chunk size (1 << SplitBits bytes).
	// Zero means DefaultSplitBits. Versions built with different split
	// sizes coexist in one archive; they just dedup less against each
	// other.
	SplitBits uint

	// Config filters the source tree. Nil tracks everything.
	Config *Config

	// Progress, when set, is called with byte counts as source data is
	// read and with each file path as it is opened.
	Progress  func(n int)
	FileStart func(path string, size int64)

	Log *util.Logger
}

// Build snapshots srcdir into the store as a new version. Nothing is
// committed until every source file has been read and stored; any
// source read error aborts the build with the archive still holding
// exactly its previous versions.
func Build(srcdir string, store storage.Store, opts BuildOptions) (*Version, error) {
	splitBits := opts.SplitBits
	if splitBits == 0 {
		splitBits = DefaultSplitBits
	}
	if splitBits < storage.MinSplitBits || splitBits > storage.MaxSplitBits {
		return nil, fmt.Errorf("split bits %d outside [%d, %d]: %w",
			splitBits, storage.MinSplitBits, storage.MaxSplitBits,
			ErrInvalidArgument)
	}

	fi, err := os.Stat(srcdir)
	if err != nil {
		return nil, fmt.Errorf("source directory: %w: %v", ErrSourceIO, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory: %w", srcdir, ErrInvalidArgument)
	}

	versions, err := LoadVersions(store)
	if err != nil {
		return nil, err
	}
	var prev *Version
	if len(versions) > 0 {
		prev = versions[len(versions)-1]
	}

	baseline := store.NewBytes()

	var manifest Manifest
	err = filepath.WalkDir(srcdir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w: %v", path, ErrSourceIO, err)
		}
		rel, rerr := filepath.Rel(srcdir, path)
		if rerr != nil {
			return fmt.Errorf("walking %s: %w: %v", path, ErrSourceIO, rerr)
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if opts.Config.excluded(rel) {
			opts.Log.Verbose("excluding %s", rel)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !opts.Config.included(rel) {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return fmt.Errorf("stat %s: %w: %v", path, ErrSourceIO, ierr)
		}
		mode := info.Mode()

		switch {
		case mode&fs.ModeSymlink != 0:
			target, lerr := os.Readlink(path)
			if lerr != nil {
				return fmt.Errorf("readlink %s: %w: %v", path, ErrSourceIO, lerr)
			}
			manifest = append(manifest, Entry{
				Path:    rel,
				Mode:    uint32(mode),
				ModTime: info.ModTime(),
				Target:  target,
			})
			return nil
		case !mode.IsRegular():
			opts.Log.Verbose("skipping special file %s", rel)
			return nil
		}

		entry := Entry{
			Path:    rel,
			Size:    info.Size(),
			Mode:    uint32(mode),
			ModTime: info.ModTime(),
		}

		if prev != nil {
			if pe, ok := prev.Manifest.Lookup(rel); ok && !pe.IsSymlink() &&
				pe.sameAttributes(info.Size(), mode, info.ModTime()) {
				entry.Hash = pe.Hash
				if opts.FileStart != nil {
					opts.FileStart(rel, info.Size())
				}
				if opts.Progress != nil && info.Size() > 0 {
					opts.Progress(int(info.Size()))
				}
				manifest = append(manifest, entry)
				return nil
			}
		}

		if info.Size() > 0 {
			h, serr := storeFile(path, rel, info.Size(), store, splitBits, &opts)
			if serr != nil {
				return serr
			}
			entry.Hash = h
		}
		manifest = append(manifest, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	manifest.sort()

	version := &Version{
		ID:       1,
		Time:     time.Now(),
		Files:    len(manifest),
		Size:     manifest.TotalSize(),
		NewBytes: store.NewBytes() - baseline,
		Manifest: manifest,
	}
	if prev != nil {
		version.ID = prev.ID + 1
		// Timestamps must order the same way IDs do, even on hosts
		// with coarse clocks or clocks that stepped backwards.
		if !version.Time.After(prev.Time) {
			version.Time = prev.Time.Add(time.Nanosecond)
		}
	}

	payload, err := version.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding version: %w: %v", ErrIO, err)
	}
	if err := store.AppendVersion(payload); err != nil {
		return nil, fmt.Errorf("appending version: %w: %v", ErrIO, err)
	}
	if err := store.Commit(); err != nil {
		return nil, fmt.Errorf("committing version: %w: %v", ErrIO, err)
	}
	return version, nil
}

func storeFile(path, rel string, size int64, store storage.Store,
	splitBits uint, opts *BuildOptions) (storage.MerkleHash, error) {

	f, err := os.Open(path)
	if err != nil {
		return storage.MerkleHash{}, fmt.Errorf("open %s: %w: %v",
			path, ErrSourceIO, err)
	}
	defer f.Close()

	if opts.FileStart != nil {
		opts.FileStart(rel, size)
	}
	// The sourceReader tags read errors so they can be told apart from
	// store write errors after the fact.
	r := &sourceReader{r: f, progress: opts.Progress}

	h, err := storage.SplitAndStore(r, store, splitBits)
	if err != nil {
		if errors.Is(err, ErrSourceIO) {
			return storage.MerkleHash{}, fmt.Errorf("reading %s: %w", path, err)
		}
		return storage.MerkleHash{}, fmt.Errorf("storing %s: %w: %v",
			rel, ErrIO, err)
	}
	return h, nil
}

type sourceReader struct {
	r        io.Reader
	progress func(n int)
}

func (p *sourceReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 && p.progress != nil {
		p.progress(n)
	}
	if err != nil && err != io.EOF {
		err = fmt.Errorf("%w: %v", ErrSourceIO, err)
	}
	return n, err
}
