// cmd/vbackup/trim.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/vbk/vbackup/backup"
	"github.com/vbk/vbackup/rdso"
	"github.com/vbk/vbackup/util"
)

var trimOutput string

var trimCmd = &cobra.Command{
	Use:   "trim <keep> <archive>",
	Short: "drop all but the most recent versions from an archive",
	Long: `Trim rewrites <archive> keeping only the <keep> newest versions and
the content they reference. Kept versions keep their IDs and
timestamps. The archive is replaced atomically; a crash mid-trim
leaves it untouched. With --output the trimmed archive is written to a
new file and the original isn't modified.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], backup.ErrInvalidArgument)
		}
		archivePath := args[1]

		result, err := backup.Trim(archivePath, keep, trimOutput, log)
		if err != nil {
			return err
		}

		log.Print("%s: kept %d of %d versions, %s -> %s",
			result.Path, result.Kept, result.Kept+result.Dropped,
			util.FmtBytes(result.OldSize), util.FmtBytes(result.NewSize))

		// An in-place trim invalidates any recovery sidecar; refresh it.
		if trimOutput == "" {
			rsfn := rdso.SidecarPath(archivePath)
			if _, err := os.Stat(rsfn); err == nil {
				if err := rdso.EncodeFile(archivePath, rsfn, 0, 0, 0); err != nil {
					return fmt.Errorf("%s: %w: %v", rsfn, backup.ErrIO, err)
				}
				log.Verbose("%s: refreshed recovery sidecar", rsfn)
			}
		}
		return nil
	},
}

func init() {
	trimCmd.Flags().StringVar(&trimOutput, "output", "",
		"write the trimmed archive here instead of replacing the original")
	rootCmd.AddCommand(trimCmd)
}
