package file

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestCopyRange(t *testing.T) {
	data := pattern(10000)
	src := writeTemp(t, "src.img", data)
	dst := filepath.Join(t.TempDir(), "out.img")

	// Pre-existing content must be replaced, not merged.
	if err := os.WriteFile(dst, bytes.Repeat([]byte{0xFF}, 20000), 0644); err != nil {
		t.Fatal(err)
	}

	var progress bytes.Buffer
	if err := CopyRange(context.Background(), src, dst, 1000, 3048, WithProgress(&progress)); err != nil {
		t.Fatalf("CopyRange: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data[1000:3048]) {
		t.Fatalf("copied bytes differ (len=%d)", len(got))
	}
	if progress.Len() != 2048 {
		t.Fatalf("progress saw %d bytes, want 2048", progress.Len())
	}
}

func TestCopyRangeShortSource(t *testing.T) {
	src := writeTemp(t, "src.img", pattern(100))
	dst := filepath.Join(t.TempDir(), "out.img")

	err := CopyRange(context.Background(), src, dst, 50, 200)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestCopyRangeInvalid(t *testing.T) {
	src := writeTemp(t, "src.img", pattern(100))
	dst := filepath.Join(t.TempDir(), "out.img")

	if err := CopyRange(context.Background(), src, dst, 10, 5); err == nil {
		t.Fatal("expected error for inverted range")
	}
	if err := CopyRange(context.Background(), src+".missing", dst, 0, 5); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestCopyRangeCanceled(t *testing.T) {
	src := writeTemp(t, "src.img", pattern(4096))
	dst := filepath.Join(t.TempDir(), "out.img")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := CopyRange(ctx, src, dst, 0, 4096); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStreamToPosition(t *testing.T) {
	base := pattern(8192)
	dst := writeTemp(t, "image.img", base)
	patch := bytes.Repeat([]byte{0xAB}, 1024)
	src := writeTemp(t, "patch.img", patch)

	n, err := StreamToPosition(context.Background(), src, dst, 2048)
	if err != nil {
		t.Fatalf("StreamToPosition: %v", err)
	}
	if n != int64(len(patch)) {
		t.Fatalf("wrote %d bytes, want %d", n, len(patch))
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(base) {
		t.Fatalf("destination size changed: %d -> %d", len(base), len(got))
	}
	if !bytes.Equal(got[:2048], base[:2048]) || !bytes.Equal(got[3072:], base[3072:]) {
		t.Fatal("bytes outside the written window changed")
	}
	if !bytes.Equal(got[2048:3072], patch) {
		t.Fatal("window does not hold the patch")
	}
}

func TestStreamToPositionMissingDestination(t *testing.T) {
	src := writeTemp(t, "patch.img", pattern(10))
	_, err := StreamToPosition(context.Background(), src, filepath.Join(t.TempDir(), "nope.img"), 0)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()
	if err := CheckDiskSpace(dir, 1, 0.1); err != nil {
		t.Fatalf("1 byte should fit: %v", err)
	}
	if err := CheckDiskSpace(dir, 0, 0); err != nil {
		t.Fatalf("zero bytes should always fit: %v", err)
	}
}
