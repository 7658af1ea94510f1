// cmd/vbackup/restore.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vbk/vbackup/backup"
	"github.com/vbk/vbackup/storage"
)

var (
	restoreVer uint64
	restoreNum int
)

var restoreCmd = &cobra.Command{
	Use:   "restore <directory> <archive>",
	Short: "recreate a version's files under a directory",
	Long: `Restore writes the selected version's files from <archive> into
<directory>, creating it if needed. Files already there are
overwritten where the version knows them and left alone where it
doesn't. With no selection flags the newest version is restored; --num
counts back from the newest (0 is the newest), --ver names a version
outright and wins if both are given.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, archivePath := args[0], args[1]

		archive, err := storage.OpenArchiveReadOnly(archivePath)
		if err != nil {
			return fmt.Errorf("%s: %w", archivePath, err)
		}
		defer archive.Close()
		store := storage.NewCompressed(archive)

		sel := backup.Selector{
			ID:      restoreVer,
			HasID:   cmd.Flags().Changed("ver"),
			Back:    restoreNum,
			HasBack: cmd.Flags().Changed("num"),
		}

		bar := newProgressBar(-1, "restoring")
		err = backup.Restore(store, sel, dest, backup.RestoreOptions{
			Progress:  addProgress(bar),
			FileStart: describeFile(bar),
			Log:       log,
		})
		finishProgress(bar)
		return err
	},
}

func init() {
	restoreCmd.Flags().Uint64Var(&restoreVer, "ver", 0,
		"version ID to restore")
	restoreCmd.Flags().IntVar(&restoreNum, "num", 0,
		"versions back from the newest to restore (0 = newest)")
	rootCmd.AddCommand(restoreCmd)
}
