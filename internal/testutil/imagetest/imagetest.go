// Package imagetest builds small partitioned disk images for tests.
//
// Layout (512-byte sectors):
//
//	"1"   FAT32   LBA 2048    40 MiB
//	"2"   empty
//	"3"   Linux   LBA 83968   1 MiB, no filesystem
//	"4"   extended, LBA 86016
//	"4:1" FAT32   LBA 88064   40 MiB
//	"4:2" Linux   LBA 172032  1 MiB, no filesystem
//
// BuildLegacy lays out FAT16 and FAT12 partitions instead.
package imagetest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-edge-platform/fatconfig/internal/blockdev"
	"github.com/open-edge-platform/fatconfig/internal/fatfs"
	"github.com/open-edge-platform/fatconfig/internal/partition/bootrecord"
	"github.com/open-edge-platform/fatconfig/internal/utils/file"
)

const (
	SectorSize = bootrecord.DefaultSectorSize

	fatSectors   = 81920
	smallSectors = 2048
	gap          = 2048

	p1Start  = 2048
	p3Start  = p1Start + fatSectors
	extStart = p3Start + smallSectors
	l1Start  = extStart + gap
	ebr2     = l1Start + fatSectors
	l2Start  = ebr2 + gap
	diskEnd  = l2Start + smallSectors
	extSize  = diskEnd - extStart
	imageLen = (diskEnd + gap) * SectorSize
)

// Span is the byte range of one partition.
type Span struct {
	Offset int64
	Size   int64
}

// End returns the first byte past the partition.
func (s Span) End() int64 { return s.Offset + s.Size }

// Image is a fixture image on disk.
type Image struct {
	Path  string
	Spans map[string]Span
}

// FATAddresses lists the partitions formatted as FAT.
var FATAddresses = []string{"1", "4:1"}

func span(lba, sectors int64) Span {
	return Span{Offset: lba * SectorSize, Size: sectors * SectorSize}
}

// layout describes one fixture: partition spans, boot records, and the
// variant each FAT partition is formatted with.
type layout struct {
	spans   map[string]Span
	records []record
	fat     map[string]fatfs.Kind
	raw     []string
	size    int64
}

type record struct {
	lba     int64
	entries []bootrecord.Entry
}

func standardLayout() layout {
	return layout{
		spans: map[string]Span{
			"1":   span(p1Start, fatSectors),
			"3":   span(p3Start, smallSectors),
			"4":   span(extStart, extSize),
			"4:1": span(l1Start, fatSectors),
			"4:2": span(l2Start, smallSectors),
		},
		records: []record{
			{0, []bootrecord.Entry{
				{Status: 0x80, Type: bootrecord.TypeFAT32LBA, FirstLBA: p1Start, Sectors: fatSectors},
				{},
				{Type: bootrecord.TypeLinux, FirstLBA: p3Start, Sectors: smallSectors},
				{Type: bootrecord.TypeExtendedLBA, FirstLBA: extStart, Sectors: extSize},
			}},
			{extStart, []bootrecord.Entry{
				{Type: bootrecord.TypeFAT32LBA, FirstLBA: gap, Sectors: fatSectors},
				{Type: bootrecord.TypeExtendedCHS, FirstLBA: ebr2 - extStart, Sectors: gap + smallSectors},
			}},
			{ebr2, []bootrecord.Entry{
				{Type: bootrecord.TypeLinux, FirstLBA: gap, Sectors: smallSectors},
			}},
		},
		fat:  map[string]fatfs.Kind{"1": fatfs.FAT32, "4:1": fatfs.FAT32},
		raw:  []string{"3", "4:2"},
		size: imageLen,
	}
}

// Legacy layout (512-byte sectors):
//
//	"1"   FAT16   type 0x06  LBA 2048    4 MiB
//	"2"   extended, LBA 10240
//	"2:1" FAT12   type 0x01  LBA 12288   2 MiB
const (
	legacyFAT16Start   = 2048
	legacyFAT16Sectors = 8192
	legacyExtStart     = legacyFAT16Start + legacyFAT16Sectors
	legacyFAT12Start   = legacyExtStart + gap
	legacyFAT12Sectors = 4096
	legacyExtSize      = gap + legacyFAT12Sectors
	legacyImageLen     = (legacyExtStart + legacyExtSize + gap) * SectorSize
)

// LegacyFATAddresses lists the FAT partitions of BuildLegacy images.
var LegacyFATAddresses = []string{"1", "2:1"}

func legacyLayout() layout {
	return layout{
		spans: map[string]Span{
			"1":   span(legacyFAT16Start, legacyFAT16Sectors),
			"2":   span(legacyExtStart, legacyExtSize),
			"2:1": span(legacyFAT12Start, legacyFAT12Sectors),
		},
		records: []record{
			{0, []bootrecord.Entry{
				{Status: 0x80, Type: bootrecord.TypeFAT16, FirstLBA: legacyFAT16Start, Sectors: legacyFAT16Sectors},
				{Type: bootrecord.TypeExtendedLBA, FirstLBA: legacyExtStart, Sectors: legacyExtSize},
			}},
			{legacyExtStart, []bootrecord.Entry{
				{Type: bootrecord.TypeFAT12, FirstLBA: gap, Sectors: legacyFAT12Sectors},
			}},
		},
		fat:  map[string]fatfs.Kind{"1": fatfs.FAT16, "2:1": fatfs.FAT12},
		size: legacyImageLen,
	}
}

// Build writes a fixture image into a test temp dir. files maps a FAT
// partition address ("1" or "4:1") to the files it should contain.
func Build(t testing.TB, files map[string]map[string]string) *Image {
	t.Helper()
	return build(t, standardLayout(), files)
}

// BuildLegacy writes a fixture with a FAT16 primary partition "1" and a
// FAT12 logical partition "2:1".
func BuildLegacy(t testing.TB, files map[string]map[string]string) *Image {
	t.Helper()
	return build(t, legacyLayout(), files)
}

func build(t testing.TB, l layout, files map[string]map[string]string) *Image {
	t.Helper()
	dir := t.TempDir()
	img := &Image{Path: filepath.Join(dir, "disk.img"), Spans: l.spans}

	f, err := os.Create(img.Path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(l.size); err != nil {
		t.Fatal(err)
	}
	for _, rec := range l.records {
		sector, err := bootrecord.Encode(rec.entries...)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.WriteAt(sector, rec.lba*SectorSize); err != nil {
			t.Fatal(err)
		}
	}
	// Recognizable filler in the raw partitions.
	for _, addr := range l.raw {
		s := img.Spans[addr]
		if _, err := f.WriteAt(bytes.Repeat([]byte{0x5A}, int(s.Size)), s.Offset); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	for addr, kind := range l.fat {
		part := formatPartition(t, dir, addr, kind, img.Spans[addr].Size, files[addr])
		if _, err := file.StreamToPosition(context.Background(), part, img.Path, img.Spans[addr].Offset); err != nil {
			t.Fatalf("splice partition %s: %v", addr, err)
		}
		os.Remove(part)
	}
	return img
}

func formatPartition(t testing.TB, dir, addr string, kind fatfs.Kind, size int64, files map[string]string) string {
	t.Helper()
	p := filepath.Join(dir, "part-"+strings.ReplaceAll(addr, ":", "-")+".img")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	f.Close()

	dev, err := blockdev.Open(p, SectorSize)
	if err != nil {
		t.Fatal(err)
	}
	fsys, err := fatfs.FormatKind(dev, kind, "PART"+addr[:1])
	if err != nil {
		dev.Close()
		t.Fatalf("format partition %s: %v", addr, err)
	}
	for name, content := range files {
		if err := fsys.WriteFile(name, content); err != nil {
			fsys.Close()
			t.Fatalf("seed %s on %s: %v", name, addr, err)
		}
	}
	if err := fsys.Close(); err != nil {
		t.Fatal(err)
	}
	return p
}

// Kind reports the FAT variant of the partition at addr.
func (img *Image) Kind(t testing.TB, addr string) fatfs.Kind {
	t.Helper()
	fsys := img.openFAT(t, addr)
	defer fsys.Close()
	return fsys.Kind()
}

func (img *Image) openFAT(t testing.TB, addr string) *fatfs.FileSystem {
	t.Helper()
	s := img.Spans[addr]
	p := filepath.Join(t.TempDir(), "check.img")
	if err := file.CopyRange(context.Background(), img.Path, p, s.Offset, s.End()); err != nil {
		t.Fatal(err)
	}
	dev, err := blockdev.Open(p, SectorSize)
	if err != nil {
		t.Fatal(err)
	}
	fsys, err := fatfs.Open(dev)
	if err != nil {
		dev.Close()
		t.Fatalf("open FAT at %s: %v", addr, err)
	}
	return fsys
}

// ReadFAT reads name straight from the FAT partition at addr, bypassing the
// staging code under test.
func (img *Image) ReadFAT(t testing.TB, addr, name string) (string, error) {
	t.Helper()
	fsys := img.openFAT(t, addr)
	defer fsys.Close()
	return fsys.ReadFile(name)
}

// Snapshot returns the raw image bytes.
func (img *Image) Snapshot(t testing.TB) []byte {
	t.Helper()
	b, err := os.ReadFile(img.Path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
