// Package blockdev presents a plain file as a sector-addressable device.
//
// All transfers reaching the backing file are whole sectors. Byte-granular
// ReadAt/WriteAt calls, as issued by filesystem libraries, are widened to the
// covering sectors (read-modify-write for partial sector writes).
package blockdev

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// DefaultSectorSize is the sector size of every device unless configured.
const DefaultSectorSize = 512

var (
	// ErrAlignment is returned when a transfer is not a whole number of
	// sectors, or when an alignment check is given a zero operand.
	ErrAlignment = errors.New("sector alignment violation")

	// ErrOutOfRange is returned for transfers past the end of the device.
	ErrOutOfRange = errors.New("transfer beyond end of device")
)

// IsDivisibleBy reports whether x is a multiple of y. Zero operands are a
// contract violation.
func IsDivisibleBy(x, y int64) (bool, error) {
	if x == 0 || y == 0 {
		return false, fmt.Errorf("%w: numbers can't be zero (x=%d, y=%d)", ErrAlignment, x, y)
	}
	return x%y == 0, nil
}

// Device is a sector-granular view over an open file.
type Device struct {
	f          *os.File
	size       int64
	sectorSize int64

	// rmw serializes partial-sector writes.
	rmw sync.Mutex

	posMu sync.Mutex
	pos   int64
}

// New wraps f, whose usable size is size bytes. size must be a non-zero
// multiple of sectorSize.
func New(f *os.File, size, sectorSize int64) (*Device, error) {
	if sectorSize <= 0 {
		return nil, fmt.Errorf("%w: sector size %d", ErrAlignment, sectorSize)
	}
	ok, err := IsDivisibleBy(size, sectorSize)
	if err != nil {
		return nil, fmt.Errorf("device size: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: device size %d is not a multiple of %d", ErrAlignment, size, sectorSize)
	}
	return &Device{f: f, size: size, sectorSize: sectorSize}, nil
}

// Open opens path read-write and wraps it. The device owns the file.
func Open(path string, sectorSize int64) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open block device file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat block device file: %w", err)
	}
	d, err := New(f, fi.Size(), sectorSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// SectorSize returns the sector size in bytes.
func (d *Device) SectorSize() int64 { return d.sectorSize }

// Size returns the device size in bytes.
func (d *Device) Size() int64 { return d.size }

// NumSectors returns the number of sectors on the device.
func (d *Device) NumSectors() int64 { return d.size / d.sectorSize }

func (d *Device) checkTransfer(n int) error {
	ok, err := IsDivisibleBy(int64(n), d.sectorSize)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: unexpected buffer length %d for %d-byte sectors", ErrAlignment, n, d.sectorSize)
	}
	return nil
}

// ReadSectors fills dst from the sectors starting at sector. len(dst) must be
// a multiple of the sector size. I/O errors are returned unchanged.
func (d *Device) ReadSectors(sector int64, dst []byte) error {
	if err := d.checkTransfer(len(dst)); err != nil {
		return err
	}
	_, err := d.f.ReadAt(dst, sector*d.sectorSize)
	return err
}

// WriteSectors writes src to the sectors starting at sector. len(src) must be
// a multiple of the sector size. I/O errors are returned unchanged.
func (d *Device) WriteSectors(sector int64, src []byte) error {
	if err := d.checkTransfer(len(src)); err != nil {
		return err
	}
	_, err := d.f.WriteAt(src, sector*d.sectorSize)
	return err
}

// span returns the first sector and the sector-aligned length covering
// [off, end).
func (d *Device) span(off, end int64) (int64, int64) {
	first := off / d.sectorSize
	last := (end + d.sectorSize - 1) / d.sectorSize
	return first, (last - first) * d.sectorSize
}

// ReadAt implements io.ReaderAt.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= d.size {
		return 0, io.EOF
	}

	end := off + int64(len(p))
	short := end > d.size
	if short {
		end = d.size
	}

	first, length := d.span(off, end)
	if !short && off%d.sectorSize == 0 && length == int64(len(p)) {
		if err := d.ReadSectors(first, p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	buf := make([]byte, length)
	if err := d.ReadSectors(first, buf); err != nil {
		return 0, err
	}
	start := off - first*d.sectorSize
	n := copy(p, buf[start:start+(end-off)])
	if short {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p))
	if end > d.size {
		return 0, fmt.Errorf("%w: write [%d, %d) on %d-byte device", ErrOutOfRange, off, end, d.size)
	}

	first, length := d.span(off, end)
	if off%d.sectorSize == 0 && length == int64(len(p)) {
		if err := d.WriteSectors(first, p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	d.rmw.Lock()
	defer d.rmw.Unlock()

	buf := make([]byte, length)
	if err := d.ReadSectors(first, buf); err != nil {
		return 0, err
	}
	copy(buf[off-first*d.sectorSize:], p)
	if err := d.WriteSectors(first, buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read implements io.Reader from the current seek position.
func (d *Device) Read(p []byte) (int, error) {
	d.posMu.Lock()
	defer d.posMu.Unlock()
	n, err := d.ReadAt(p, d.pos)
	d.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (d *Device) Seek(offset int64, whence int) (int64, error) {
	d.posMu.Lock()
	defer d.posMu.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = d.pos + offset
	case io.SeekEnd:
		abs = d.size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative position %d", abs)
	}
	d.pos = abs
	return abs, nil
}

// Stat implements fs.File.
func (d *Device) Stat() (fs.FileInfo, error) {
	return d.f.Stat()
}

// Sync flushes the backing file.
func (d *Device) Sync() error {
	return d.f.Sync()
}

// Close closes the backing file. Closing twice is not an error.
func (d *Device) Close() error {
	if err := d.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
