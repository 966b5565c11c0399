package partition

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/open-edge-platform/fatconfig/internal/partition/bootrecord"
	"github.com/open-edge-platform/fatconfig/internal/utils/file"
	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"go.uber.org/zap"
)

// BootRecordSource decodes the partition tables of an image.
type BootRecordSource interface {
	ReadMaster(r io.ReaderAt) (*bootrecord.Record, error)
	// ReadExtended returns nil, nil when no EBR lives at offset.
	ReadExtended(r io.ReaderAt, offset int64) (*bootrecord.Record, error)
}

// Resolved is a partition located inside an image. Entry.FirstLBA is
// absolute, even for logical partitions.
type Resolved struct {
	Address Address
	Entry   bootrecord.Entry
	Offset  int64
	Size    int64
}

// End returns the first byte past the partition.
func (r *Resolved) End() int64 {
	return r.Offset + r.Size
}

// Locator maps addresses to byte ranges.
type Locator struct {
	sectorSize int64
	records    BootRecordSource
	logger     *zap.SugaredLogger
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithSectorSize sets the sector size used for LBA arithmetic.
func WithSectorSize(n int64) LocatorOption {
	return func(l *Locator) {
		l.sectorSize = n
	}
}

// WithBootRecordSource replaces the boot record decoder.
func WithBootRecordSource(src BootRecordSource) LocatorOption {
	return func(l *Locator) {
		l.records = src
	}
}

// NewLocator returns a Locator using 512-byte sectors unless configured
// otherwise.
func NewLocator(opts ...LocatorOption) *Locator {
	l := &Locator{
		sectorSize: bootrecord.DefaultSectorSize,
		logger:     logger.Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.records == nil {
		l.records = bootrecord.Reader{SectorSize: l.sectorSize}
	}
	return l
}

// SectorSize returns the configured sector size.
func (l *Locator) SectorSize() int64 {
	return l.sectorSize
}

// Offset returns the byte offset of entry.
func (l *Locator) Offset(entry bootrecord.Entry) int64 {
	return int64(entry.FirstLBA) * l.sectorSize
}

// Size returns the byte size of entry.
func (l *Locator) Size(entry bootrecord.Entry) int64 {
	return int64(entry.Sectors) * l.sectorSize
}

// pick returns the 1-based entry number n of rec.
func pick(rec *bootrecord.Record, n int, kind string) (bootrecord.Entry, error) {
	if n < 1 || n > len(rec.Partitions) {
		return bootrecord.Entry{}, fmt.Errorf("%w: %s %d (table has %d entries)", ErrPartitionNotFound, kind, n, len(rec.Partitions))
	}
	entry := rec.Partitions[n-1]
	if entry.IsEmpty() {
		return bootrecord.Entry{}, fmt.Errorf("%w: %s %d is empty", ErrPartitionNotFound, kind, n)
	}
	return entry, nil
}

// Resolve finds the partition addr names inside the image at imagePath.
func (l *Locator) Resolve(ctx context.Context, imagePath string, addr Address) (*Resolved, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer img.Close()

	return l.resolve(img, addr)
}

func (l *Locator) resolve(img io.ReaderAt, addr Address) (*Resolved, error) {
	mbr, err := l.records.ReadMaster(img)
	if err != nil {
		return nil, err
	}
	primary, err := pick(mbr, addr.Primary, "primary partition")
	if err != nil {
		return nil, err
	}

	entry := primary
	if addr.IsLogical() {
		if !primary.IsExtended() {
			return nil, fmt.Errorf("%w: primary partition %d has type 0x%02x", ErrNotExtendedPartition, addr.Primary, primary.Type)
		}
		ebr, err := l.records.ReadExtended(img, l.Offset(primary))
		if err != nil {
			return nil, fmt.Errorf("read extended partition %d: %w", addr.Primary, err)
		}
		if ebr == nil {
			return nil, fmt.Errorf("%w: no extended boot record in partition %d", ErrNotExtendedPartition, addr.Primary)
		}

		logical, err := pick(ebr, addr.Logical, "logical partition")
		if err != nil {
			return nil, fmt.Errorf("partition %d: %w", addr.Primary, err)
		}
		// Logical FirstLBA is relative to the extended partition.
		abs := uint64(logical.FirstLBA) + uint64(primary.FirstLBA)
		if abs > math.MaxUint32 {
			return nil, fmt.Errorf("logical partition %s starts beyond the addressable range", addr)
		}
		logical.FirstLBA = uint32(abs)
		entry = logical
	}

	res := &Resolved{
		Address: addr,
		Entry:   entry,
		Offset:  l.Offset(entry),
		Size:    l.Size(entry),
	}
	l.logger.Debugf("Resolved partition %s: type=0x%02x offset=%d size=%d", addr, entry.Type, res.Offset, res.Size)
	return res, nil
}

// Position returns the byte offset of the partition addr names.
func (l *Locator) Position(ctx context.Context, imagePath string, addr Address) (int64, error) {
	res, err := l.Resolve(ctx, imagePath, addr)
	if err != nil {
		return 0, err
	}
	return res.Offset, nil
}

// CopyToFile copies the partition addr names into outputPath and returns
// where it was found.
func (l *Locator) CopyToFile(ctx context.Context, imagePath string, addr Address, outputPath string, opts ...file.CopyOption) (*Resolved, error) {
	res, err := l.Resolve(ctx, imagePath, addr)
	if err != nil {
		return nil, err
	}
	if err := file.CopyRange(ctx, imagePath, outputPath, res.Offset, res.End(), opts...); err != nil {
		return nil, fmt.Errorf("copy partition %s: %w", addr, err)
	}
	return res, nil
}
