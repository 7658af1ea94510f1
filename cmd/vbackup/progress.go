// cmd/vbackup/progress.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// newProgressBar returns a byte-count progress bar, or nil when
// progress display is disabled or stderr isn't a good place for one.
// total may be -1 when the amount of work isn't known up front.
func newProgressBar(total int64, description string) *progressbar.ProgressBar {
	if noProgress || debug || verbose {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
		progressbar.OptionSpinnerType(14),
	)
}

func describeFile(bar *progressbar.ProgressBar) func(path string, size int64) {
	if bar == nil {
		return nil
	}
	return func(path string, size int64) { bar.Describe(path) }
}

func addProgress(bar *progressbar.ProgressBar) func(n int) {
	if bar == nil {
		return nil
	}
	return func(n int) { bar.Add(n) }
}

func finishProgress(bar *progressbar.ProgressBar) {
	if bar != nil {
		bar.Finish()
	}
}
