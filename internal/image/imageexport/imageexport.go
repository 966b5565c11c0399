// Package imageexport extracts a single partition from a disk image into a
// standalone, optionally compressed, file.
package imageexport

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/open-edge-platform/fatconfig/internal/partition"
	"github.com/open-edge-platform/fatconfig/internal/utils/compression"
	"github.com/open-edge-platform/fatconfig/internal/utils/file"
	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
)

var log = logger.Logger()

// Options tunes Export.
type Options struct {
	// Compression of the output. Empty picks it from the output extension.
	Compression compression.Type

	// Progress, when set, receives every raw partition byte.
	Progress io.Writer

	// Locator resolves the address. Nil uses 512-byte sectors.
	Locator *partition.Locator
}

// Result describes an exported partition.
type Result struct {
	Partition   *partition.Resolved `json:"partition" yaml:"partition"`
	Output      string              `json:"output" yaml:"output"`
	Compression compression.Type    `json:"compression" yaml:"compression"`
	OutputBytes int64               `json:"outputBytes" yaml:"outputBytes"`
}

// Export writes the partition at addr of imagePath to output.
func Export(ctx context.Context, imagePath string, addr partition.Address, output string, opts Options) (*Result, error) {
	loc := opts.Locator
	if loc == nil {
		loc = partition.NewLocator()
	}
	ctype := opts.Compression
	if ctype == "" {
		ctype = compression.FromExtension(output)
	}

	var copyOpts []file.CopyOption
	if opts.Progress != nil {
		copyOpts = append(copyOpts, file.WithProgress(opts.Progress))
	}

	var (
		res *partition.Resolved
		err error
	)
	if ctype == compression.None {
		res, err = loc.CopyToFile(ctx, imagePath, addr, output, copyOpts...)
	} else {
		res, err = exportCompressed(ctx, loc, imagePath, addr, output, ctype, opts.Progress)
	}
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(output)
	if err != nil {
		return nil, fmt.Errorf("stat output: %w", err)
	}
	log.Infof("Exported partition %s (%d bytes) to %s [%s]", addr, res.Size, output, ctype)
	return &Result{Partition: res, Output: output, Compression: ctype, OutputBytes: fi.Size()}, nil
}

func exportCompressed(ctx context.Context, loc *partition.Locator, imagePath string, addr partition.Address, output string, ctype compression.Type, progress io.Writer) (_ *partition.Resolved, err error) {
	res, err := loc.Resolve(ctx, imagePath, addr)
	if err != nil {
		return nil, err
	}

	img, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer img.Close()

	out, err := os.Create(output)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
		if err != nil {
			os.Remove(output)
		}
	}()

	w, err := compression.NewWriter(ctype, out)
	if err != nil {
		return nil, err
	}
	var src io.Reader = io.NewSectionReader(img, res.Offset, res.Size)
	if progress != nil {
		src = io.TeeReader(src, progress)
	}
	n, err := io.Copy(w, src)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("compress partition %s: %w", addr, err)
	}
	if n != res.Size {
		w.Close()
		return nil, fmt.Errorf("compress partition %s: got %d of %d bytes: %w", addr, n, res.Size, io.ErrUnexpectedEOF)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish %s stream: %w", ctype, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
