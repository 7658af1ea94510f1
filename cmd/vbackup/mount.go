// cmd/vbackup/mount.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package main

// Read-only FUSE access to archives: each version appears as a
// directory v<ID> with the backed-up tree below it.

import (
	"fmt"
	"io"
	"os"
	"strings"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	_ "bazil.org/fuse/fs/fstestutil"
	"github.com/spf13/cobra"
	"github.com/vbk/vbackup/backup"
	"github.com/vbk/vbackup/storage"
	"golang.org/x/net/context"
)

var mountCmd = &cobra.Command{
	Use:   "mount <archive> <directory>",
	Short: "mount an archive's versions as a read-only filesystem",
	Long: `Mount exports <archive> via FUSE at <directory>. Each version shows
up as a directory named v<ID> containing that version's full tree, so
old file contents can be browsed and copied out without a restore.
Unmount with umount or fusermount -u.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		archivePath, dir := args[0], args[1]

		archive, err := storage.OpenArchiveReadOnly(archivePath)
		if err != nil {
			return fmt.Errorf("%s: %w", archivePath, err)
		}
		defer archive.Close()
		store := storage.NewCompressed(archive)

		versions, err := backup.LoadVersions(archive)
		if err != nil {
			return err
		}

		root := &versionsDir{children: make(map[string]*treeNode)}
		for _, v := range versions {
			root.children[fmt.Sprintf("v%d", v.ID)] = buildTree(v, store)
		}

		conn, err := fuse.Mount(dir,
			fuse.FSName("vbackup"),
			fuse.Subtype("vbackup"),
			fuse.VolumeName(archivePath),
			fuse.ReadOnly(),
		)
		if err != nil {
			return fmt.Errorf("%s: %w: %v", dir, backup.ErrIO, err)
		}
		defer conn.Close()

		log.Print("%s: serving %d versions at %s", archivePath, len(versions), dir)
		if err := fusefs.Serve(conn, root); err != nil {
			return fmt.Errorf("%w: %v", backup.ErrIO, err)
		}

		<-conn.Ready
		if conn.MountError != nil {
			return fmt.Errorf("%s: %w: %v", dir, backup.ErrIO, conn.MountError)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mountCmd)
}

///////////////////////////////////////////////////////////////////////////

// treeNode is one name in a version's tree. Directories aren't stored
// in manifests, so they're synthesized here from the file paths; a
// directory node has children and a nil entry.
type treeNode struct {
	children map[string]*treeNode
	entry    *backup.Entry
	store    storage.Store
}

// buildTree expands a version's flat manifest into a directory tree.
func buildTree(v *backup.Version, store storage.Store) *treeNode {
	root := &treeNode{children: make(map[string]*treeNode), store: store}
	for i := range v.Manifest {
		e := &v.Manifest[i]
		node := root
		comps := strings.Split(e.Path, "/")
		for _, c := range comps[:len(comps)-1] {
			child, ok := node.children[c]
			if !ok {
				child = &treeNode{children: make(map[string]*treeNode), store: store}
				node.children[c] = child
			}
			node = child
		}
		node.children[comps[len(comps)-1]] = &treeNode{entry: e, store: store}
	}
	return root
}

func (n *treeNode) Attr(ctx context.Context, a *fuse.Attr) error {
	if n.entry == nil {
		a.Mode = os.ModeDir | 0500
		return nil
	}
	a.Size = uint64(n.entry.Size)
	a.Mode = n.entry.FileMode()
	a.Mtime = n.entry.ModTime
	return nil
}

func (n *treeNode) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	if child, ok := n.children[name]; ok {
		return child, nil
	}
	return nil, fuse.ENOENT
}

func (n *treeNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	var de []fuse.Dirent
	for name, child := range n.children {
		d := fuse.Dirent{Name: name, Type: fuse.DT_Dir}
		if child.entry != nil {
			if child.entry.IsSymlink() {
				d.Type = fuse.DT_Link
			} else {
				d.Type = fuse.DT_File
			}
		}
		de = append(de, d)
	}
	return de, nil
}

func (n *treeNode) ReadAll(ctx context.Context) ([]byte, error) {
	e := n.entry
	if e == nil || e.IsSymlink() {
		return nil, fuse.EIO
	}
	if e.Size == 0 {
		return nil, nil
	}
	r, err := e.Hash.NewReader(nil, n.store)
	if err != nil {
		return nil, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		r.Close()
		return b, err
	}
	return b, r.Close()
}

func (n *treeNode) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	if n.entry == nil || !n.entry.IsSymlink() {
		return "", fuse.EIO
	}
	return n.entry.Target, nil
}

///////////////////////////////////////////////////////////////////////////

// versionsDir is the mount root; it lists one v<ID> directory per
// version in the archive.
type versionsDir struct {
	children map[string]*treeNode
}

func (d *versionsDir) Root() (fusefs.Node, error) {
	return d, nil
}

func (d *versionsDir) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0500
	return nil
}

func (d *versionsDir) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	if child, ok := d.children[name]; ok {
		return child, nil
	}
	return nil, fuse.ENOENT
}

func (d *versionsDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	var de []fuse.Dirent
	for name := range d.children {
		de = append(de, fuse.Dirent{Name: name, Type: fuse.DT_Dir})
	}
	return de, nil
}
