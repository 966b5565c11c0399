// Package bootrecord decodes and encodes Master Boot Records and Extended Boot
// Records (the DOS partition table format).
package bootrecord

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"

	"github.com/diskfs/go-diskfs/partition/mbr"
)

const (
	// DefaultSectorSize is the sector size assumed for LBA arithmetic.
	DefaultSectorSize = 512

	// Signature is the little-endian 0x55 0xAA marker at byte 510.
	Signature uint16 = 0xAA55

	entryCount      = 4
	signatureOffset = 510
	recordSize      = 512

	// maxChainHops bounds EBR chain walks.
	maxChainHops = 128
)

// Partition type bytes used by this package.
const (
	TypeEmpty         = byte(mbr.Empty)
	TypeFAT12         = byte(mbr.Fat12)
	TypeFAT16         = byte(mbr.Fat16b)
	TypeFAT32LBA      = byte(mbr.Fat32LBA)
	TypeExtendedCHS   = byte(mbr.ExtendedCHS)
	TypeExtendedLBA   = byte(mbr.ExtendedLBA)
	TypeLinux         = byte(mbr.Linux)
	TypeLinuxExtended = byte(mbr.LinuxExtended)
)

var (
	// ErrNoSignature is returned when a sector lacks the 0x55AA boot signature.
	ErrNoSignature = errors.New("boot record signature missing")

	// ErrBrokenChain is returned when an EBR chain loops or points at garbage.
	ErrBrokenChain = errors.New("broken extended boot record chain")
)

// Entry is one 16-byte partition table entry.
type Entry struct {
	Status   byte
	CHSFirst [3]byte
	Type     byte
	CHSLast  [3]byte
	FirstLBA uint32
	Sectors  uint32
}

// IsEmpty reports whether the slot describes no partition.
func (e Entry) IsEmpty() bool {
	return e.Type == TypeEmpty || e.Sectors == 0
}

// IsExtended reports whether the entry is an extended partition container.
func (e Entry) IsExtended() bool {
	switch e.Type {
	case TypeExtendedCHS, TypeExtendedLBA, TypeLinuxExtended:
		return true
	default:
		return false
	}
}

// Bootable reports whether the active flag is set.
func (e Entry) Bootable() bool {
	return e.Status&0x80 != 0
}

func fromMBR(p *mbr.Partition) Entry {
	e := Entry{
		CHSFirst: [3]byte{p.StartHead, p.StartSector, p.StartCylinder},
		Type:     byte(p.Type),
		CHSLast:  [3]byte{p.EndHead, p.EndSector, p.EndCylinder},
		FirstLBA: p.Start,
		Sectors:  p.Size,
	}
	if p.Bootable {
		e.Status = 0x80
	}
	return e
}

func (e Entry) toMBR() *mbr.Partition {
	return &mbr.Partition{
		Bootable:      e.Bootable(),
		Type:          mbr.Type(e.Type),
		Start:         e.FirstLBA,
		Size:          e.Sectors,
		StartHead:     e.CHSFirst[0],
		StartSector:   e.CHSFirst[1],
		StartCylinder: e.CHSFirst[2],
		EndHead:       e.CHSLast[0],
		EndSector:     e.CHSLast[1],
		EndCylinder:   e.CHSLast[2],
	}
}

// Record is a decoded boot record. For an MBR, Partitions holds the four
// primary slots in table order, empty ones included. For an extended
// partition, Partitions holds the logical partitions found along the EBR
// chain, each FirstLBA relative to the start of the extended partition.
type Record struct {
	Partitions []Entry
	Signature  uint16
}

// sectorFile holds a single boot record sector as a go-diskfs backend file,
// so the mbr package can read and write it in place.
type sectorFile struct {
	*bytes.Reader
	buf []byte
}

func newSectorFile(buf []byte) *sectorFile {
	return &sectorFile{Reader: bytes.NewReader(buf), buf: buf}
}

func (f *sectorFile) Stat() (fs.FileInfo, error) { return nil, errors.ErrUnsupported }

func (f *sectorFile) Close() error { return nil }

func (f *sectorFile) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(f.buf)) {
		return 0, fmt.Errorf("write of %d bytes at %d outside boot record", len(p), off)
	}
	return copy(f.buf[off:], p), nil
}

// decode parses a 512-byte sector into its four table entries. Status bytes
// other than 0x00 and 0x80 are rejected, which tells a partition table apart
// from e.g. a filesystem boot sector carrying the same signature.
func decode(sector []byte) (*Record, error) {
	if len(sector) < recordSize {
		return nil, fmt.Errorf("boot record too short: %d bytes", len(sector))
	}
	sig := binary.LittleEndian.Uint16(sector[signatureOffset : signatureOffset+2])
	if sig != Signature {
		return nil, fmt.Errorf("%w: found 0x%04x", ErrNoSignature, sig)
	}

	table, err := mbr.Read(newSectorFile(sector[:recordSize]), DefaultSectorSize, DefaultSectorSize)
	if err != nil {
		return nil, err
	}
	rec := &Record{Signature: sig, Partitions: make([]Entry, 0, entryCount)}
	for _, p := range table.Partitions {
		rec.Partitions = append(rec.Partitions, fromMBR(p))
	}
	return rec, nil
}

func readSector(r io.ReaderAt, offset int64) ([]byte, error) {
	buf := make([]byte, recordSize)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadMaster reads the MBR at the start of r.
func ReadMaster(r io.ReaderAt) (*Record, error) {
	sector, err := readSector(r, 0)
	if err != nil {
		return nil, fmt.Errorf("read master boot record: %w", err)
	}
	rec, err := decode(sector)
	if err != nil {
		return nil, fmt.Errorf("master boot record: %w", err)
	}
	return rec, nil
}

// ReadExtended walks the EBR chain of the extended partition starting at byte
// offset. It returns nil, nil when no EBR is present at offset.
func ReadExtended(r io.ReaderAt, offset, sectorSize int64) (*Record, error) {
	if sectorSize <= 0 {
		return nil, fmt.Errorf("invalid sector size %d", sectorSize)
	}
	if offset < 0 || offset%sectorSize != 0 {
		return nil, fmt.Errorf("extended partition offset %d is not sector aligned", offset)
	}

	extStart := uint64(offset / sectorSize)
	ebrLBA := extStart
	seen := map[uint64]bool{}
	out := &Record{Signature: Signature}

	for hop := 0; hop < maxChainHops; hop++ {
		seen[ebrLBA] = true

		sector, err := readSector(r, int64(ebrLBA)*sectorSize)
		if err != nil {
			if hop == 0 && errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, fmt.Errorf("read EBR at LBA %d: %w", ebrLBA, err)
		}
		rec, err := decode(sector)
		if err != nil {
			if hop == 0 {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: EBR at LBA %d: %v", ErrBrokenChain, ebrLBA, err)
		}

		logical, link := rec.Partitions[0], rec.Partitions[1]
		if !logical.IsEmpty() {
			rel := ebrLBA - extStart + uint64(logical.FirstLBA)
			if rel > math.MaxUint32 {
				return nil, fmt.Errorf("%w: logical partition at LBA %d out of range", ErrBrokenChain, rel)
			}
			logical.FirstLBA = uint32(rel)
			out.Partitions = append(out.Partitions, logical)
		}

		if link.IsEmpty() || !link.IsExtended() {
			return out, nil
		}
		next := extStart + uint64(link.FirstLBA)
		if seen[next] {
			return nil, fmt.Errorf("%w: loop back to LBA %d", ErrBrokenChain, next)
		}
		ebrLBA = next
	}

	return nil, fmt.Errorf("%w: more than %d links", ErrBrokenChain, maxChainHops)
}

// Reader reads boot records with a fixed sector size.
type Reader struct {
	SectorSize int64
}

// ReadMaster implements the partition locator's boot record source.
func (br Reader) ReadMaster(r io.ReaderAt) (*Record, error) {
	return ReadMaster(r)
}

// ReadExtended implements the partition locator's boot record source.
func (br Reader) ReadExtended(r io.ReaderAt, offset int64) (*Record, error) {
	ss := br.SectorSize
	if ss == 0 {
		ss = DefaultSectorSize
	}
	return ReadExtended(r, offset, ss)
}

// Encode renders up to four entries as a 512-byte boot record sector with
// zeroed boot code.
func Encode(entries ...Entry) ([]byte, error) {
	if len(entries) > entryCount {
		return nil, fmt.Errorf("too many partition entries: %d", len(entries))
	}
	table := &mbr.Table{
		LogicalSectorSize:  DefaultSectorSize,
		PhysicalSectorSize: DefaultSectorSize,
	}
	for _, e := range entries {
		table.Partitions = append(table.Partitions, e.toMBR())
	}
	buf := make([]byte, recordSize)
	if err := table.Write(newSectorFile(buf), recordSize); err != nil {
		return nil, fmt.Errorf("encode boot record: %w", err)
	}
	return buf, nil
}
