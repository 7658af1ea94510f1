// cmd/vbackup/info.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/vbk/vbackup/backup"
	"github.com/vbk/vbackup/storage"
	"github.com/vbk/vbackup/util"
)

var infoCmd = &cobra.Command{
	Use:   "info <archive>",
	Short: "list the versions in an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		archive, err := storage.OpenArchiveReadOnly(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		defer archive.Close()

		versions, err := backup.LoadVersions(archive)
		if err != nil {
			return err
		}

		bold := color.New(color.Bold)
		bold.Printf("%-6s %-20s %8s %10s %10s\n",
			"ver", "date", "files", "size", "new bytes")
		for _, v := range versions {
			fmt.Printf("%-6d %-20s %8d %10s %10s\n",
				v.ID, v.Time.Local().Format("2006-01-02 15:04:05"),
				v.Files, util.FmtBytes(v.Size), util.FmtBytes(v.NewBytes))
		}

		log.Verbose("%s: %d chunks, %s on disk",
			args[0], archive.NumChunks(), util.FmtBytes(archive.Size()))
		if len(versions) == 0 {
			fmt.Fprintf(os.Stderr, "%s: no versions\n", args[0])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
