// Package imageinspect summarizes the DOS partition layout of a raw disk
// image: every primary and logical partition with its address, and the FAT
// boot sector facts of the partitions that carry one.
package imageinspect

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/open-edge-platform/fatconfig/internal/config"
	"github.com/open-edge-platform/fatconfig/internal/image/imageconvert"
	"github.com/open-edge-platform/fatconfig/internal/partition"
	"github.com/open-edge-platform/fatconfig/internal/partition/bootrecord"
	"github.com/open-edge-platform/fatconfig/internal/utils/file"
	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"go.uber.org/zap"
)

var log = logger.Logger()

const (
	diskSignatureOffset = 440
	alignment           = 1024 * 1024
	decompressMargin    = 0.20
)

// ImageSummary holds the summary information about an inspected disk image.
type ImageSummary struct {
	File          string             `json:"file,omitempty" yaml:"file,omitempty"`
	SHA256        string             `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	SizeBytes     int64              `json:"sizeBytes,omitempty" yaml:"sizeBytes,omitempty"`
	SectorSize    int64              `json:"sectorSize" yaml:"sectorSize"`
	DiskSignature string             `json:"diskSignature,omitempty" yaml:"diskSignature,omitempty"`
	Partitions    []PartitionSummary `json:"partitions" yaml:"partitions"`

	LargestFreeSpan      *FreeSpanSummary `json:"largestFreeSpan,omitempty" yaml:"largestFreeSpan,omitempty"`
	MisalignedPartitions []string         `json:"misalignedPartitions,omitempty" yaml:"misalignedPartitions,omitempty"`
}

// FreeSpanSummary captures the largest unallocated extent on disk (by LBA).
type FreeSpanSummary struct {
	StartLBA  uint64 `json:"startLba" yaml:"startLba"`
	EndLBA    uint64 `json:"endLba" yaml:"endLba"`
	SizeBytes uint64 `json:"sizeBytes" yaml:"sizeBytes"`
}

// PartitionSummary describes one partition table entry. Address is the
// "primary[:logical]" form accepted by the read and write operations.
type PartitionSummary struct {
	Address   string `json:"address" yaml:"address"`
	Primary   int    `json:"primary" yaml:"primary"`
	Logical   int    `json:"logical,omitempty" yaml:"logical,omitempty"`
	Type      string `json:"type" yaml:"type"`
	TypeName  string `json:"typeName,omitempty" yaml:"typeName,omitempty"`
	Bootable  bool   `json:"bootable,omitempty" yaml:"bootable,omitempty"`
	Extended  bool   `json:"extended,omitempty" yaml:"extended,omitempty"`
	StartLBA  uint64 `json:"startLba" yaml:"startLba"`
	EndLBA    uint64 `json:"endLba" yaml:"endLba"`
	SizeBytes uint64 `json:"sizeBytes" yaml:"sizeBytes"`

	Filesystem *FilesystemSummary `json:"filesystem,omitempty" yaml:"filesystem,omitempty"` // nil if unknown
}

// FilesystemSummary holds information about a FAT filesystem found on a
// partition.
type FilesystemSummary struct {
	Type     string `json:"type" yaml:"type"`
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
	VolumeID string `json:"volumeId,omitempty" yaml:"volumeId,omitempty"`

	FATType           string `json:"fatType,omitempty" yaml:"fatType,omitempty"`
	BytesPerSector    uint16 `json:"bytesPerSector,omitempty" yaml:"bytesPerSector,omitempty"`
	SectorsPerCluster uint8  `json:"sectorsPerCluster,omitempty" yaml:"sectorsPerCluster,omitempty"`
	ClusterCount      uint32 `json:"clusterCount,omitempty" yaml:"clusterCount,omitempty"`

	Files     []FileSummary `json:"files,omitempty" yaml:"files,omitempty"`
	Truncated bool          `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	Notes     []string      `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// FileSummary is one regular file found on a FAT volume.
type FileSummary struct {
	Path   string `json:"path" yaml:"path"`
	Size   int64  `json:"size" yaml:"size"`
	SHA256 string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
}

// Inspector builds ImageSummary values.
type Inspector struct {
	// HashImages computes the SHA256 of the image and of every listed file.
	HashImages bool
	// ListFiles walks every FAT volume and records its regular files.
	ListFiles bool
	// SectorSize is the sector size used for LBA arithmetic.
	SectorSize int64

	logger *zap.SugaredLogger
}

// NewInspector returns an Inspector using the global sector size.
func NewInspector(hash bool) *Inspector {
	return &Inspector{
		HashImages: hash,
		SectorSize: config.Global().SectorSize,
		logger:     logger.Logger(),
	}
}

// Inspect reads the partition layout of imagePath. Images ending in .gz,
// .zst or .xz are decompressed to a temporary file first.
func (d *Inspector) Inspect(imagePath string) (*ImageSummary, error) {
	if d.logger == nil {
		d.logger = logger.Logger()
	}
	d.logger.Infof("Inspecting image: %s, hashImages=%v", imagePath, d.HashImages)

	fi, err := os.Stat(imagePath)
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}

	actualImagePath := imagePath
	var cleanupPath string
	defer func() {
		if cleanupPath != "" {
			if err := os.Remove(cleanupPath); err != nil {
				d.logger.Warnf("Failed to cleanup temporary decompressed image: %v", err)
			}
		}
	}()

	// Detect image format and convert to RAW if needed
	format, err := imageconvert.DetectImageFormat(imagePath)
	if err != nil {
		return nil, err
	}
	if format != imageconvert.FormatRaw {
		d.logger.Infof("Image is %s, converting to raw for inspection", format)

		tmpDir, err := config.EnsureTempDir("image-inspect")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp directory: %w", err)
		}
		if err := file.CheckDiskSpace(tmpDir, fi.Size(), decompressMargin); err != nil {
			return nil, fmt.Errorf("insufficient disk space for decompression: %w", err)
		}

		rawPath, err := imageconvert.ConvertImageToRaw(imagePath, tmpDir)
		if err != nil {
			return nil, err
		}
		if rawPath != imagePath {
			cleanupPath = rawPath
		}
		actualImagePath = rawPath
		if fi, err = os.Stat(actualImagePath); err != nil {
			return nil, fmt.Errorf("stat decompressed image: %w", err)
		}
	}

	img, err := os.Open(actualImagePath)
	if err != nil {
		return nil, fmt.Errorf("open image file: %w", err)
	}
	defer img.Close()

	sha := ""
	if d.HashImages {
		d.logger.Infof("Computing SHA256 for image: %s", actualImagePath)
		sha, err = computeFileSHA256(img)
		if err != nil {
			return nil, fmt.Errorf("sha256 image: %w", err)
		}
	}

	// Use original path in the summary, not the temporary one
	return d.inspectCore(img, imagePath, fi.Size(), sha)
}

// inspectCore performs the inspection on an already opened image.
func (d *Inspector) inspectCore(img io.ReaderAt, imagePath string, sizeBytes int64, sha256sum string) (*ImageSummary, error) {
	sectorSize := d.SectorSize
	if sectorSize <= 0 {
		sectorSize = bootrecord.DefaultSectorSize
	}
	if sizeBytes < bootrecord.DefaultSectorSize {
		return nil, fmt.Errorf("image too small: %d bytes", sizeBytes)
	}

	br := bootrecord.Reader{SectorSize: sectorSize}
	mbr, err := br.ReadMaster(img)
	if err != nil {
		return nil, err
	}

	summary := &ImageSummary{
		File:          imagePath,
		SHA256:        sha256sum,
		SizeBytes:     sizeBytes,
		SectorSize:    sectorSize,
		DiskSignature: readDiskSignature(img),
		Partitions:    make([]PartitionSummary, 0, len(mbr.Partitions)),
	}

	for i, e := range mbr.Partitions {
		if e.IsEmpty() {
			continue
		}
		addr := partition.Address{Primary: i + 1}
		summary.Partitions = append(summary.Partitions, summarizeEntry(addr, e, 0, sectorSize))
		if !e.IsExtended() {
			continue
		}

		ext, err := br.ReadExtended(img, int64(e.FirstLBA)*sectorSize)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", addr, err)
		}
		if ext == nil {
			d.logger.Warnf("Extended partition %s has no boot record", addr)
			continue
		}
		for j, l := range ext.Partitions {
			laddr := partition.Address{Primary: i + 1, Logical: j + 1, HasLogical: true}
			summary.Partitions = append(summary.Partitions, summarizeEntry(laddr, l, uint64(e.FirstLBA), sectorSize))
		}
	}

	for i := range summary.Partitions {
		p := &summary.Partitions[i]
		if p.Extended {
			continue
		}
		fs, err := d.inspectFAT(img, int64(p.StartLBA)*sectorSize)
		if err != nil {
			d.logger.Debugf("Partition %s has no FAT filesystem: %v", p.Address, err)
			continue
		}
		p.Filesystem = fs
	}

	sort.SliceStable(summary.Partitions, func(i, j int) bool {
		return summary.Partitions[i].StartLBA < summary.Partitions[j].StartLBA
	})
	summary.LargestFreeSpan = computeLargestFreeSpan(summary.Partitions, sectorSize, sizeBytes)
	summary.MisalignedPartitions = findMisalignedPartitions(summary.Partitions, sectorSize)
	return summary, nil
}

// summarizeEntry converts a table entry. base is added to FirstLBA for
// logical partitions, whose start is relative to the extended partition.
func summarizeEntry(addr partition.Address, e bootrecord.Entry, base uint64, sectorSize int64) PartitionSummary {
	start := base + uint64(e.FirstLBA)
	return PartitionSummary{
		Address:   addr.String(),
		Primary:   addr.Primary,
		Logical:   addr.Logical,
		Type:      fmt.Sprintf("0x%02x", e.Type),
		TypeName:  mbrTypeName(e.Type),
		Bootable:  e.Bootable(),
		Extended:  e.IsExtended(),
		StartLBA:  start,
		EndLBA:    start + uint64(e.Sectors) - 1,
		SizeBytes: uint64(e.Sectors) * uint64(sectorSize),
	}
}

func readDiskSignature(r io.ReaderAt) string {
	b := make([]byte, 4)
	if _, err := r.ReadAt(b, diskSignatureOffset); err != nil {
		return ""
	}
	sig := binary.LittleEndian.Uint32(b)
	if sig == 0 {
		return ""
	}
	return fmt.Sprintf("0x%08x", sig)
}

// computeLargestFreeSpan returns the largest unallocated extent after the
// MBR sector, using LBAs. Parts must be sorted by StartLBA.
func computeLargestFreeSpan(parts []PartitionSummary, sectorSize int64, totalSizeBytes int64) *FreeSpanSummary {
	if sectorSize <= 0 || totalSizeBytes <= 0 {
		return nil
	}

	totalSectors := uint64(totalSizeBytes / sectorSize)
	if totalSectors <= 1 {
		return nil
	}

	var best *FreeSpanSummary
	prevEnd := uint64(0)
	for _, p := range parts {
		if p.StartLBA > prevEnd+1 {
			best = pickLarger(best, buildSpan(prevEnd+1, p.StartLBA-1, sectorSize))
		}
		if p.EndLBA > prevEnd {
			prevEnd = p.EndLBA
		}
	}

	// Tail gap to end of disk
	if prevEnd+1 < totalSectors {
		best = pickLarger(best, buildSpan(prevEnd+1, totalSectors-1, sectorSize))
	}
	return best
}

func buildSpan(start, end uint64, sectorSize int64) *FreeSpanSummary {
	if end < start {
		return nil
	}
	size := (end - start + 1) * uint64(sectorSize)
	return &FreeSpanSummary{StartLBA: start, EndLBA: end, SizeBytes: size}
}

func pickLarger(cur, cand *FreeSpanSummary) *FreeSpanSummary {
	if cand == nil {
		return cur
	}
	if cur == nil || cand.SizeBytes > cur.SizeBytes {
		return cand
	}
	return cur
}

// findMisalignedPartitions returns the addresses of data partitions not
// starting on a 1 MiB boundary. Extended containers are skipped.
func findMisalignedPartitions(parts []PartitionSummary, sectorSize int64) []string {
	var out []string
	for _, p := range parts {
		if p.Extended {
			continue
		}
		if (int64(p.StartLBA)*sectorSize)%alignment != 0 {
			out = append(out, p.Address)
		}
	}
	return out
}

func computeFileSHA256(f *os.File) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sha256Hex returns the SHA256 hash of the given byte slice as a hex string.
func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
