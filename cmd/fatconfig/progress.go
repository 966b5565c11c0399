package main

import (
	"io"
	"os"
	"time"

	"github.com/open-edge-platform/fatconfig/internal/config"
	"github.com/open-edge-platform/fatconfig/internal/staging"
	"github.com/schollz/progressbar/v3"
)

// progressOutput is where progress bars are drawn. Tests replace it.
var progressOutput io.Writer = os.Stderr

// newProgressBar returns a byte-counting bar for a partition copy.
func newProgressBar(desc string, total int64) io.Writer {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(progressOutput),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// progressFunc returns the bar factory when progress output is enabled.
func progressFunc() staging.ProgressFunc {
	if !config.Global().Progress {
		return nil
	}
	return newProgressBar
}
