package imageconvert_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-edge-platform/fatconfig/internal/image/imageconvert"
	"github.com/open-edge-platform/fatconfig/internal/utils/compression"
)

func writeImage(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	return p
}

func TestDetectImageFormat(t *testing.T) {
	tempDir := t.TempDir()
	raw := writeImage(t, tempDir, "disk.img", append(make([]byte, 510), 0x55, 0xAA))

	tests := []struct {
		name string
		path string
		want string
	}{
		{"raw", raw, imageconvert.FormatRaw},
		{"short file", writeImage(t, tempDir, "short.img", []byte{0x1f}), imageconvert.FormatRaw},
		{"empty file", writeImage(t, tempDir, "empty.img", nil), imageconvert.FormatRaw},
		{"qcow2", writeImage(t, tempDir, "disk.qcow2", []byte("QFI\xfb\x00\x00\x00\x03")), imageconvert.FormatQcow2},
		{"vmdk", writeImage(t, tempDir, "disk.vmdk", []byte("KDMV\x01\x00\x00\x00")), imageconvert.FormatVMDK},
	}
	for _, typ := range []compression.Type{compression.Gzip, compression.Zstd, compression.XZ} {
		packed := raw + typ.Extension()
		if err := compression.CompressFile(raw, packed, typ); err != nil {
			t.Fatalf("CompressFile %s: %v", typ, err)
		}
		// Misleading extension: detection must use the content.
		renamed := filepath.Join(tempDir, "content-"+string(typ)+".img")
		if err := os.Rename(packed, renamed); err != nil {
			t.Fatal(err)
		}
		tests = append(tests, struct {
			name string
			path string
			want string
		}{string(typ), renamed, string(typ)})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := imageconvert.DetectImageFormat(tt.path)
			if err != nil {
				t.Fatalf("DetectImageFormat: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetectImageFormatErrors(t *testing.T) {
	tempDir := t.TempDir()
	if _, err := imageconvert.DetectImageFormat(filepath.Join(tempDir, "missing.img")); err == nil ||
		!strings.Contains(err.Error(), "does not exist") {
		t.Errorf("expected missing file error, got %v", err)
	}
	if _, err := imageconvert.DetectImageFormat(tempDir); err == nil ||
		!strings.Contains(err.Error(), "directory") {
		t.Errorf("expected directory error, got %v", err)
	}
}

func TestConvertImageToRaw(t *testing.T) {
	srcDir, outDir := t.TempDir(), t.TempDir()
	payload := bytes.Repeat([]byte{0xEB, 0x58, 0x90, 0x00}, 4096)
	raw := writeImage(t, srcDir, "disk.img", payload)

	got, err := imageconvert.ConvertImageToRaw(raw, outDir)
	if err != nil || got != raw {
		t.Fatalf("raw image: got %q, %v", got, err)
	}

	packed := raw + ".xz"
	if err := compression.CompressFile(raw, packed, compression.XZ); err != nil {
		t.Fatal(err)
	}
	got, err = imageconvert.ConvertImageToRaw(packed, outDir)
	if err != nil {
		t.Fatalf("ConvertImageToRaw: %v", err)
	}
	if filepath.Dir(got) != outDir || !strings.HasSuffix(got, "disk.img") {
		t.Errorf("unexpected output path %s", got)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("converted image differs")
	}
}

func TestConvertImageToRawRejects(t *testing.T) {
	tempDir := t.TempDir()

	qcow := writeImage(t, tempDir, "disk.qcow2", []byte("QFI\xfb\x00\x00\x00\x03"))
	if _, err := imageconvert.ConvertImageToRaw(qcow, tempDir); err == nil ||
		!strings.Contains(err.Error(), "unsupported image format qcow2") {
		t.Errorf("expected unsupported format error, got %v", err)
	}

	// gzip magic followed by garbage
	broken := writeImage(t, tempDir, "broken.img.gz", []byte{0x1f, 0x8b, 0x00, 0x01, 0x02})
	if _, err := imageconvert.ConvertImageToRaw(broken, tempDir); err == nil {
		t.Error("expected error for a corrupt gzip stream")
	}
	entries, _ := os.ReadDir(tempDir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "raw-") {
			t.Errorf("partial output %s left behind", e.Name())
		}
	}
}
