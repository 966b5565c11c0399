package imageinspect

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/open-edge-platform/fatconfig/internal/config"
	"github.com/open-edge-platform/fatconfig/internal/partition/bootrecord"
	"github.com/open-edge-platform/fatconfig/internal/testutil/imagetest"
	"github.com/open-edge-platform/fatconfig/internal/utils/compression"
)

func newTestInspector(hash, list bool) *Inspector {
	d := NewInspector(hash)
	d.ListFiles = list
	d.SectorSize = imagetest.SectorSize
	return d
}

func findPart(t *testing.T, s *ImageSummary, addr string) PartitionSummary {
	t.Helper()
	for _, p := range s.Partitions {
		if p.Address == addr {
			return p
		}
	}
	t.Fatalf("partition %s not in summary", addr)
	return PartitionSummary{}
}

func findFile(fs *FilesystemSummary, p string) (FileSummary, bool) {
	for _, f := range fs.Files {
		if strings.EqualFold(f.Path, p) {
			return f, true
		}
	}
	return FileSummary{}, false
}

func TestInspectLayout(t *testing.T) {
	img := imagetest.Build(t, map[string]map[string]string{
		"1":   {"cmdline.txt": "quiet"},
		"4:1": {"wifi/wpa.conf": "network={}"},
	})

	s, err := newTestInspector(false, true).Inspect(img.Path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	var addrs []string
	for _, p := range s.Partitions {
		addrs = append(addrs, p.Address)
	}
	if diff := cmp.Diff([]string{"1", "3", "4", "4:1", "4:2"}, addrs); diff != "" {
		t.Fatalf("unexpected partitions (-want +got):\n%s", diff)
	}

	for addr, span := range img.Spans {
		p := findPart(t, s, addr)
		if got := int64(p.StartLBA) * imagetest.SectorSize; got != span.Offset {
			t.Errorf("%s starts at byte %d, want %d", addr, got, span.Offset)
		}
		if int64(p.SizeBytes) != span.Size {
			t.Errorf("%s size %d, want %d", addr, p.SizeBytes, span.Size)
		}
	}

	p1 := findPart(t, s, "1")
	if !p1.Bootable || p1.Type != "0x0c" || p1.TypeName != "FAT32" {
		t.Errorf("unexpected primary 1: %+v", p1)
	}
	if ext := findPart(t, s, "4"); !ext.Extended || ext.Filesystem != nil {
		t.Errorf("unexpected extended partition: %+v", ext)
	}
	if l := findPart(t, s, "4:1"); l.Primary != 4 || l.Logical != 1 {
		t.Errorf("unexpected logical partition: %+v", l)
	}
	for _, addr := range []string{"3", "4:2"} {
		if fs := findPart(t, s, addr).Filesystem; fs != nil {
			t.Errorf("%s reported a filesystem: %+v", addr, fs)
		}
	}

	for _, addr := range imagetest.FATAddresses {
		fs := findPart(t, s, addr).Filesystem
		if fs == nil {
			t.Fatalf("%s: no filesystem", addr)
		}
		if fs.Type != "vfat" || fs.FATType != "FAT32" || fs.BytesPerSector != 512 || fs.ClusterCount == 0 {
			t.Errorf("%s: unexpected filesystem %+v", addr, fs)
		}
	}

	f, ok := findFile(findPart(t, s, "1").Filesystem, "cmdline.txt")
	if !ok || f.Size != int64(len("quiet")) || f.SHA256 != "" {
		t.Errorf("cmdline.txt not listed as expected: %+v in %+v", f, findPart(t, s, "1").Filesystem.Files)
	}
	if _, ok := findFile(findPart(t, s, "4:1").Filesystem, "wifi/wpa.conf"); !ok {
		t.Errorf("wifi/wpa.conf not listed: %+v", findPart(t, s, "4:1").Filesystem.Files)
	}

	// The tail gap is one sector larger than the one before partition 1.
	last := findPart(t, s, "4:2")
	wantSpan := &FreeSpanSummary{
		StartLBA:  last.EndLBA + 1,
		EndLBA:    uint64(s.SizeBytes/imagetest.SectorSize) - 1,
		SizeBytes: uint64(s.SizeBytes) - (last.EndLBA+1)*imagetest.SectorSize,
	}
	if diff := cmp.Diff(wantSpan, s.LargestFreeSpan); diff != "" {
		t.Errorf("unexpected free span (-want +got):\n%s", diff)
	}
	if len(s.MisalignedPartitions) != 0 {
		t.Errorf("unexpected misaligned partitions %v", s.MisalignedPartitions)
	}
}

func TestInspectLegacyFAT(t *testing.T) {
	img := imagetest.BuildLegacy(t, map[string]map[string]string{
		"1":   {"config.json": `{"a":1}`, "overlays/extra-long-name.dtbo": "dtb"},
		"2:1": {"CMDLINE.TXT": "quiet"},
	})

	s, err := newTestInspector(false, true).Inspect(img.Path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	tests := []struct {
		addr, typ, fatType string
		files              map[string]int64
	}{
		{"1", "0x06", "FAT16", map[string]int64{"config.json": 7, "overlays/extra-long-name.dtbo": 3}},
		{"2:1", "0x01", "FAT12", map[string]int64{"CMDLINE.TXT": 5}},
	}
	for _, tc := range tests {
		p := findPart(t, s, tc.addr)
		if p.Type != tc.typ || p.TypeName != tc.fatType {
			t.Errorf("%s: type %s (%s), want %s (%s)", tc.addr, p.Type, p.TypeName, tc.typ, tc.fatType)
		}
		if p.Filesystem == nil {
			t.Fatalf("%s: no filesystem", tc.addr)
		}
		if p.Filesystem.FATType != tc.fatType || p.Filesystem.Label != "PART"+tc.addr[:1] {
			t.Errorf("%s: unexpected filesystem %+v", tc.addr, p.Filesystem)
		}
		for name, size := range tc.files {
			f, ok := findFile(p.Filesystem, name)
			if !ok || f.Size != size {
				t.Errorf("%s: %s not listed with size %d: %+v", tc.addr, name, size, p.Filesystem.Files)
			}
		}
	}
}

func TestInspectHash(t *testing.T) {
	img := imagetest.Build(t, map[string]map[string]string{"1": {"cmdline.txt": "quiet"}})

	s, err := newTestInspector(true, true).Inspect(img.Path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	sum := sha256.Sum256(img.Snapshot(t))
	if s.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("image sha256=%s", s.SHA256)
	}
	f, ok := findFile(findPart(t, s, "1").Filesystem, "cmdline.txt")
	if !ok || f.SHA256 != sha256Hex([]byte("quiet")) {
		t.Errorf("unexpected file hash %+v", f)
	}
}

func TestInspectWithoutFileListing(t *testing.T) {
	img := imagetest.Build(t, map[string]map[string]string{"1": {"cmdline.txt": "quiet"}})

	s, err := newTestInspector(false, false).Inspect(img.Path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if fs := findPart(t, s, "1").Filesystem; fs == nil || len(fs.Files) != 0 {
		t.Fatalf("unexpected filesystem summary %+v", fs)
	}
}

func TestInspectCompressed(t *testing.T) {
	orig := config.Global()
	t.Cleanup(func() { config.SetGlobal(orig) })
	cfg := config.DefaultGlobalConfig()
	cfg.TempDir = t.TempDir()
	config.SetGlobal(cfg)

	img := imagetest.Build(t, nil)
	packed := img.Path + compression.Zstd.Extension()
	if err := compression.CompressFile(img.Path, packed, compression.Zstd); err != nil {
		t.Fatalf("CompressFile: %v", err)
	}

	s, err := newTestInspector(false, false).Inspect(packed)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if s.File != packed {
		t.Errorf("summary names %s, want %s", s.File, packed)
	}
	if s.SizeBytes != int64(len(img.Snapshot(t))) {
		t.Errorf("size %d is not the decompressed size", s.SizeBytes)
	}
	if len(s.Partitions) != 5 {
		t.Errorf("found %d partitions", len(s.Partitions))
	}

	left, _ := os.ReadDir(filepath.Join(cfg.TempDir, "image-inspect"))
	if len(left) != 0 {
		t.Errorf("%d temporary file(s) left behind", len(left))
	}
}

func TestInspectErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := newTestInspector(false, false).Inspect(filepath.Join(dir, "missing.img")); err == nil {
		t.Error("expected error for a missing image")
	}

	tiny := filepath.Join(dir, "tiny.img")
	if err := os.WriteFile(tiny, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := newTestInspector(false, false).Inspect(tiny); err == nil {
		t.Error("expected error for a truncated image")
	}

	blank := filepath.Join(dir, "blank.img")
	if err := os.WriteFile(blank, make([]byte, 4096), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := newTestInspector(false, false).Inspect(blank)
	if !errors.Is(err, bootrecord.ErrNoSignature) {
		t.Errorf("expected ErrNoSignature, got %v", err)
	}

	qcow := filepath.Join(dir, "disk.qcow2")
	if err := os.WriteFile(qcow, append([]byte("QFI\xfb"), make([]byte, 1020)...), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := newTestInspector(false, false).Inspect(qcow); err == nil || !strings.Contains(err.Error(), "unsupported image format") {
		t.Errorf("expected unsupported format error, got %v", err)
	}
}

func TestComputeLargestFreeSpan(t *testing.T) {
	parts := []PartitionSummary{
		{StartLBA: 2048, EndLBA: 4095},
		{StartLBA: 8192, EndLBA: 20479, Extended: true},
		{StartLBA: 10240, EndLBA: 12287},
	}
	tests := []struct {
		name  string
		parts []PartitionSummary
		size  int64
		want  *FreeSpanSummary
	}{
		{"empty disk", nil, 4096 * 512, &FreeSpanSummary{StartLBA: 1, EndLBA: 4095, SizeBytes: 4095 * 512}},
		{"gap between partitions", parts, 20480 * 512, &FreeSpanSummary{StartLBA: 4096, EndLBA: 8191, SizeBytes: 4096 * 512}},
		{"tail wins", parts, 40960 * 512, &FreeSpanSummary{StartLBA: 20480, EndLBA: 40959, SizeBytes: 20480 * 512}},
		{"single sector", nil, 512, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeLargestFreeSpan(tt.parts, 512, tt.size)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestFindMisalignedPartitions(t *testing.T) {
	parts := []PartitionSummary{
		{Address: "1", StartLBA: 2048},
		{Address: "2", StartLBA: 63},
		{Address: "4", StartLBA: 4095, Extended: true},
		{Address: "4:1", StartLBA: 4158},
	}
	if diff := cmp.Diff([]string{"2", "4:1"}, findMisalignedPartitions(parts, 512)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}
