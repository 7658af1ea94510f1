// cmd/vbackup/build.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vbk/vbackup/backup"
	"github.com/vbk/vbackup/rdso"
	"github.com/vbk/vbackup/storage"
	"github.com/vbk/vbackup/util"
)

var (
	buildSplitBits uint
	buildExclude   []string
	buildConfig    string
	buildRS        bool
)

var buildCmd = &cobra.Command{
	Use:   "build <directory> <archive>",
	Short: "record a new version of a directory tree in an archive",
	Long: `Build records the current state of <directory> as a new version in
<archive>, creating the archive if it doesn't exist yet. Only content
not already present in the archive is added. The version is committed
only after every file has been read; if any source file can't be read
the archive is left exactly as it was.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		srcdir, archivePath := args[0], args[1]

		cfg := &backup.Config{Exclude: buildExclude}
		if buildConfig != "" {
			var err error
			if cfg, err = backup.LoadConfig(buildConfig); err != nil {
				return err
			}
			cfg.Exclude = append(cfg.Exclude, buildExclude...)
		}

		archive, err := storage.OpenOrCreateArchive(archivePath)
		if err != nil {
			return fmt.Errorf("%s: %w", archivePath, err)
		}
		store := storage.NewCompressed(archive)

		bar := newProgressBar(-1, "reading")
		version, err := backup.Build(srcdir, store, backup.BuildOptions{
			SplitBits: buildSplitBits,
			Config:    cfg,
			Progress:  addProgress(bar),
			FileStart: describeFile(bar),
			Log:       log,
		})
		finishProgress(bar)
		if err != nil {
			store.Close()
			return err
		}
		if err := store.Close(); err != nil {
			return fmt.Errorf("%s: %w: %v", archivePath, backup.ErrIO, err)
		}

		log.Print("%s: version %d, %d files, %s (%s new)",
			archivePath, version.ID, version.Files,
			util.FmtBytes(version.Size), util.FmtBytes(version.NewBytes))

		if buildRS {
			if err := rdso.EncodeFile(archivePath,
				rdso.SidecarPath(archivePath), 0, 0, 0); err != nil {
				return fmt.Errorf("%s: %w: %v",
					rdso.SidecarPath(archivePath), backup.ErrIO, err)
			}
			log.Verbose("%s: wrote recovery sidecar", rdso.SidecarPath(archivePath))
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().UintVar(&buildSplitBits, "split-bits", 0,
		"average chunk size as a power of two (default 14, 16 kB chunks)")
	buildCmd.Flags().StringArrayVar(&buildExclude, "exclude", nil,
		"pattern of files to skip (repeatable)")
	buildCmd.Flags().StringVar(&buildConfig, "config", "",
		"YAML file with include/exclude patterns")
	buildCmd.Flags().BoolVar(&buildRS, "rs", false,
		"write a Reed-Solomon recovery sidecar next to the archive")
	rootCmd.AddCommand(buildCmd)
}
