// cmd/vbackup/repair.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vbk/vbackup/backup"
	"github.com/vbk/vbackup/rdso"
)

var repairCmd = &cobra.Command{
	Use:   "repair <archive>",
	Short: "reconstruct a damaged archive from its recovery sidecar",
	Long: `Repair uses the Reed-Solomon sidecar written by build --rs to
reconstruct a damaged archive. The recovered archive is written to
<archive>.recovered; the damaged original is never modified. Verify
the recovered file before moving it into place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		archivePath := args[0]
		rsfn := rdso.SidecarPath(archivePath)
		if _, err := os.Stat(rsfn); err != nil {
			return fmt.Errorf("%s: no recovery sidecar: %w",
				archivePath, backup.ErrInvalidArgument)
		}
		if err := rdso.RestoreFile(archivePath, rsfn, log); err != nil {
			return fmt.Errorf("%w: %v", backup.ErrCorruptArchive, err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(repairCmd)
}
