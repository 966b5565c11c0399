// Package file holds the byte-range copy helpers used to move partition
// contents between disk images and staging files.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const copyBufferSize = 1 << 20

// CopyOption tunes CopyRange and StreamToPosition.
type CopyOption func(*copyOptions)

type copyOptions struct {
	progress    io.Writer
	spaceMargin float64
	checkSpace  bool
}

// WithProgress mirrors every copied byte into w, e.g. a progress bar.
func WithProgress(w io.Writer) CopyOption {
	return func(o *copyOptions) {
		o.progress = w
	}
}

// WithFreeSpaceCheck makes CopyRange verify that the destination directory can
// hold the range plus the given safety margin (0.10 is 10%).
func WithFreeSpaceCheck(margin float64) CopyOption {
	return func(o *copyOptions) {
		o.checkSpace = true
		o.spaceMargin = margin
	}
}

func buildOptions(opts []CopyOption) copyOptions {
	var o copyOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func copyStream(ctx context.Context, dst io.Writer, src io.Reader, o copyOptions) (int64, error) {
	if o.progress != nil {
		dst = io.MultiWriter(dst, o.progress)
	}
	buf := make([]byte, copyBufferSize)
	return io.CopyBuffer(dst, ctxReader{ctx: ctx, r: src}, buf)
}

// CopyRange copies bytes [start, end) of src into dst. dst is created or
// truncated. A source shorter than end is an error.
func CopyRange(ctx context.Context, src, dst string, start, end int64, opts ...CopyOption) (err error) {
	if start < 0 || end < start {
		return fmt.Errorf("invalid byte range [%d, %d)", start, end)
	}
	o := buildOptions(opts)
	length := end - start

	if o.checkSpace {
		if err := CheckDiskSpace(filepath.Dir(dst), length, o.spaceMargin); err != nil {
			return err
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close destination: %w", cerr)
		}
	}()

	n, err := copyStream(ctx, out, io.NewSectionReader(in, start, length), o)
	if err != nil {
		return fmt.Errorf("copy %s[%d:%d] to %s: %w", src, start, end, dst, err)
	}
	if n != length {
		return fmt.Errorf("copy %s[%d:%d]: got %d of %d bytes: %w", src, start, end, n, length, io.ErrUnexpectedEOF)
	}
	return nil
}

// StreamToPosition overwrites dst, starting at offset, with the whole content
// of src. dst must exist; it is opened read-write and never truncated, so
// bytes outside the written window are left as they were.
func StreamToPosition(ctx context.Context, src, dst string, offset int64, opts ...CopyOption) (n int64, err error) {
	if offset < 0 {
		return 0, fmt.Errorf("invalid offset %d", offset)
	}
	o := buildOptions(opts)

	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("destination %s does not exist: %w", dst, err)
		}
		return 0, fmt.Errorf("open destination: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close destination: %w", cerr)
		}
	}()

	n, err = copyStream(ctx, io.NewOffsetWriter(out, offset), in, o)
	if err != nil {
		return n, fmt.Errorf("stream %s to %s@%d: %w", src, dst, offset, err)
	}
	if err := out.Sync(); err != nil {
		return n, fmt.Errorf("sync destination: %w", err)
	}
	return n, nil
}
