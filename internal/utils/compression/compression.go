// Package compression wraps the stream codecs used for exported partition
// images.
package compression

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Type is a compression format.
type Type string

const (
	None Type = "none"
	Gzip Type = "gzip"
	Zstd Type = "zstd"
	XZ   Type = "xz"
)

// Types lists the supported formats.
var Types = []Type{None, Gzip, Zstd, XZ}

// ParseType accepts a format name or a common alias.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "raw":
		return None, nil
	case "gzip", "gz":
		return Gzip, nil
	case "zstd", "zst":
		return Zstd, nil
	case "xz":
		return XZ, nil
	}
	return "", fmt.Errorf("unsupported compression %q (supported: none, gzip, zstd, xz)", s)
}

// Extension returns the file name suffix for t, including the dot.
func (t Type) Extension() string {
	switch t {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	case XZ:
		return ".xz"
	}
	return ""
}

// FromExtension guesses the format from a file name.
func FromExtension(name string) Type {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gz", ".gzip":
		return Gzip
	case ".zst", ".zstd":
		return Zstd
	case ".xz":
		return XZ
	}
	return None
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter returns a writer compressing into w. Closing it flushes the
// stream but does not close w.
func NewWriter(t Type, w io.Writer) (io.WriteCloser, error) {
	switch t {
	case None, "":
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Zstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		return enc, nil
	case XZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("create xz writer: %w", err)
		}
		return xw, nil
	}
	return nil, fmt.Errorf("unsupported compression %q", t)
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

// NewReader returns a reader decompressing r. Closing it releases decoder
// resources but does not close r.
func NewReader(t Type, r io.Reader) (io.ReadCloser, error) {
	switch t {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return gr, nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return readCloser{Reader: dec, close: func() error { dec.Close(); return nil }}, nil
	case XZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create xz reader: %w", err)
		}
		return io.NopCloser(xr), nil
	}
	return nil, fmt.Errorf("unsupported compression %q", t)
}

// CompressFile writes src compressed with t into dst.
func CompressFile(src, dst string, t Type) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w, err := NewWriter(t, out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return fmt.Errorf("compress %s: %w", src, err)
	}
	return w.Close()
}

// DecompressFile writes the decompressed content of src into dst.
func DecompressFile(src, dst string, t Type) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	r, err := NewReader(t, in)
	if err != nil {
		return err
	}
	defer r.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	return nil
}
