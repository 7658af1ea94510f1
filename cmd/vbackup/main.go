// cmd/vbackup/main.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vbk/vbackup/backup"
	"github.com/vbk/vbackup/storage"
	"github.com/vbk/vbackup/util"
)

var (
	log *util.Logger

	verbose    bool
	debug      bool
	noProgress bool
)

var rootCmd = &cobra.Command{
	Use:   "vbackup",
	Short: "incremental deduplicating backups into a single archive file",
	Long: `vbackup stores versioned backups of a directory tree in a single
archive file. Each build records a new version; file contents are
split into content-defined chunks so unchanged and moved data is
stored only once, across files and across versions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = util.NewLogger(verbose, debug)
		storage.SetLogger(log)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false,
		"print per-file detail while working")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"print debugging output")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false,
		"don't show progress bars")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vbackup: %v\n", err)
		os.Exit(backup.ExitCode(err))
	}
}
