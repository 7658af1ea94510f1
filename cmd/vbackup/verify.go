// cmd/vbackup/verify.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vbk/vbackup/backup"
	"github.com/vbk/vbackup/rdso"
	"github.com/vbk/vbackup/storage"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <archive>",
	Short: "check every version and chunk in an archive",
	Long: `Verify re-reads the whole archive: every version record must decode,
every chunk a version references must be present, and every stored
chunk must still match its hash. If a Reed-Solomon sidecar exists it
is checked against the archive too. Nothing is modified; use repair to
recover a damaged archive.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		archivePath := args[0]
		archive, err := storage.OpenArchiveReadOnly(archivePath)
		if err != nil {
			return fmt.Errorf("%s: %w", archivePath, err)
		}
		defer archive.Close()

		result, err := backup.Verify(archive, log)
		if result != nil {
			log.Print("%s: %d versions, %d files, %d/%d chunks referenced",
				archivePath, result.Versions, result.Files,
				result.ChunksReachable, result.ChunksTotal)
			for _, f := range result.BadFiles {
				fmt.Fprintf(os.Stderr, "damaged: %s\n", f)
			}
		}
		if err != nil {
			return err
		}

		rsfn := rdso.SidecarPath(archivePath)
		if _, serr := os.Stat(rsfn); serr == nil {
			if err := rdso.CheckFile(archivePath, rsfn, log); err != nil {
				return fmt.Errorf("%w: %v", backup.ErrCorruptArchive, err)
			}
			log.Verbose("%s: sidecar check passed", rsfn)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
