// backup/restore.go
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
	"sync"

	"github.com/vbk/vbackup/storage"
	"github.com/vbk/vbackup/util"
)

type RestoreOptions struct {
	// Progress, when set, is called with byte counts as file contents
	// are written and with each file path as restoration of it starts.
	Progress  func(n int)
	FileStart func(path string, size int64)

	Log *util.Logger
}

// Restore recreates the selected version's files under dest, creating
// it if needed. The restore is additive: files already under dest that
// the version doesn't know about are left alone, files it does know
// about are overwritten. The version is resolved before dest is
// touched, so selecting a version that doesn't exist changes nothing.
func Restore(store storage.Store, sel Selector, dest string, opts RestoreOptions) error {
	versions, err := LoadVersions(store)
	if err != nil {
		return err
	}
	version, err := sel.Resolve(versions)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dest, 0700); err != nil {
		return fmt.Errorf("creating %s: %w: %v", dest, ErrIO, err)
	}

	// Restore file contents in parallel so multiple storage reads are
	// in flight, but bound the number so we don't run out of file
	// descriptors. Directory creation stays serial; it's cheap and
	// ordering matters.
	ctx := &restoreContext{sem: make(chan bool, 16)}
	for i := range version.Manifest {
		e := &version.Manifest[i]
		path := filepath.Join(dest, filepath.FromSlash(e.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			ctx.setErr(fmt.Errorf("creating %s: %w: %v",
				filepath.Dir(path), ErrIO, err))
			break
		}
		if e.IsSymlink() {
			restoreSymlink(ctx, e, path)
			continue
		}
		ctx.wg.Add(1)
		go restoreFile(ctx, store, e, path, &opts)
	}
	ctx.wg.Wait()
	return ctx.firstErr()
}

type restoreContext struct {
	wg  sync.WaitGroup
	sem chan bool

	mu  sync.Mutex
	err error
}

func (ctx *restoreContext) setErr(err error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.err == nil {
		ctx.err = err
	}
}

func (ctx *restoreContext) firstErr() error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.err
}

func restoreFile(ctx *restoreContext, store storage.Store, e *Entry,
	path string, opts *RestoreOptions) {

	ctx.sem <- true
	defer func() { <-ctx.sem; ctx.wg.Done() }()

	opts.Log.Debug("%s: restoring file", path)
	if opts.FileStart != nil {
		opts.FileStart(e.Path, e.Size)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		ctx.setErr(fmt.Errorf("%s: %w: %v", path, ErrIO, err))
		return
	}

	if e.Size > 0 {
		rc, err := e.Hash.NewReader(ctx.sem, store)
		if err != nil {
			f.Close()
			ctx.setErr(fmt.Errorf("%s: %v", e.Path, storeErr(err)))
			return
		}
		var w io.Writer = f
		if opts.Progress != nil {
			w = io.MultiWriter(f, &progressWriter{opts.Progress})
		}
		if _, err := io.Copy(w, rc); err != nil {
			rc.Close()
			f.Close()
			ctx.setErr(fmt.Errorf("%s: %v", e.Path, storeErr(err)))
			return
		}
		if err := rc.Close(); err != nil {
			f.Close()
			ctx.setErr(fmt.Errorf("%s: %v", e.Path, storeErr(err)))
			return
		}
	}

	if err := f.Close(); err != nil {
		ctx.setErr(fmt.Errorf("%s: %w: %v", path, ErrIO, err))
		return
	}
	if err := os.Chmod(path, e.FileMode().Perm()); err != nil {
		ctx.setErr(fmt.Errorf("%s: %w: %v", path, ErrIO, err))
		return
	}
	if err := os.Chtimes(path, e.ModTime, e.ModTime); err != nil {
		ctx.setErr(fmt.Errorf("%s: %w: %v", path, ErrIO, err))
	}
}

func restoreSymlink(ctx *restoreContext, e *Entry, path string) {
	// Symlink can't overwrite, so clear the way first.
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		ctx.setErr(fmt.Errorf("%s: %w: %v", path, ErrIO, err))
		return
	}
	if err := os.Symlink(e.Target, path); err != nil {
		ctx.setErr(fmt.Errorf("%s: %w: %v", path, ErrIO, err))
	}
}

// storeErr classifies an error out of the content store while reading
// for a restore: missing or mismatched chunks mean the archive itself
// is damaged, anything else is ordinary I/O.
func storeErr(err error) error {
	if errors.Is(err, storage.ErrHashNotFound) ||
		errors.Is(err, storage.ErrHashMismatch) ||
		errors.Is(err, storage.ErrPrematureEndOfData) {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	return fmt.Errorf("%w: %v", ErrIO, err)
}

type progressWriter struct {
	f func(n int)
}

func (p *progressWriter) Write(buf []byte) (int, error) {
	p.f(len(buf))
	return len(buf), nil
}
