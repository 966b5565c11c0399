// Package imageconvert detects the container format of a disk image file and
// expands compressed images to raw.
package imageconvert

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/fatconfig/internal/utils/compression"
	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
)

var log = logger.Logger()

// Image formats reported by DetectImageFormat.
const (
	FormatRaw   = "raw"
	FormatGzip  = "gzip"
	FormatZstd  = "zstd"
	FormatXZ    = "xz"
	FormatQcow2 = "qcow2"
	FormatVHDX  = "vhdx"
	FormatVMDK  = "vmdk"
)

var magics = []struct {
	format string
	magic  []byte
}{
	{FormatGzip, []byte{0x1f, 0x8b}},
	{FormatZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{FormatXZ, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{FormatQcow2, []byte{'Q', 'F', 'I', 0xfb}},
	{FormatVHDX, []byte("vhdxfile")},
	{FormatVMDK, []byte("KDMV")},
}

// DetectImageFormat reads the leading magic bytes of filePath. Anything
// unrecognized is raw.
func DetectImageFormat(filePath string) (string, error) {
	fi, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("image file does not exist: %s", filePath)
		}
		return "", fmt.Errorf("stat image file: %w", err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("image path is a directory: %s", filePath)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open image file: %w", err)
	}
	defer f.Close()

	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read image header: %w", err)
	}
	head = head[:n]

	format := FormatRaw
	for _, m := range magics {
		if bytes.HasPrefix(head, m.magic) {
			format = m.format
			break
		}
	}
	log.Debugf("Detected image format: %s", format)
	return format, nil
}

// compressionFor maps a detected format to its codec.
func compressionFor(format string) (compression.Type, bool) {
	switch format {
	case FormatGzip:
		return compression.Gzip, true
	case FormatZstd:
		return compression.Zstd, true
	case FormatXZ:
		return compression.XZ, true
	}
	return compression.None, false
}

// rawName strips the compression suffix from name and makes sure the result
// ends in .img.
func rawName(name string) string {
	base := filepath.Base(name)
	if compression.FromExtension(base) != compression.None {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if filepath.Ext(base) == "" {
		base += ".img"
	}
	return base
}

// ConvertImageToRaw expands filePath into outputDir when it is compressed and
// returns the raw image path. Raw images are returned unchanged. VM disk
// formats are rejected.
func ConvertImageToRaw(filePath, outputDir string) (string, error) {
	format, err := DetectImageFormat(filePath)
	if err != nil {
		return "", err
	}
	if format == FormatRaw {
		return filePath, nil
	}
	ctype, ok := compressionFor(format)
	if !ok {
		return "", fmt.Errorf("unsupported image format %s: convert it to raw first", format)
	}

	if outputDir == "" {
		outputDir = filepath.Dir(filePath)
	}
	out, err := os.CreateTemp(outputDir, "raw-*-"+rawName(filePath))
	if err != nil {
		return "", fmt.Errorf("create raw image: %w", err)
	}
	outputFilePath := out.Name()
	out.Close()

	log.Infof("Decompressing %s image %s to %s", format, filePath, outputFilePath)
	if err := compression.DecompressFile(filePath, outputFilePath, ctype); err != nil {
		os.Remove(outputFilePath)
		return "", fmt.Errorf("failed to convert image file to raw: %w", err)
	}
	return outputFilePath, nil
}
