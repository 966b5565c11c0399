package fatfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/open-edge-platform/fatconfig/internal/blockdev"
)

// Kind is a FAT variant.
type Kind int

const (
	KindUnknown Kind = iota
	FAT12
	FAT16
	FAT32
)

func (k Kind) String() string {
	switch k {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return "unknown"
	}
}

// A volume with fewer than 4085 clusters is FAT12, fewer than 65525 is FAT16.
const (
	fat12MaxClusters = 4085
	fat16MaxClusters = 65525
)

// bootSector holds the BIOS parameter block fields this package uses.
type bootSector struct {
	kind              Kind
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	rootEntries       uint16
	totalSectors      uint32
	fatSize           uint32
	clusterCount      uint32
	label             string
}

func (b *bootSector) rootDirSectors() uint32 {
	bps := uint32(b.bytesPerSector)
	return (uint32(b.rootEntries)*dirEntrySize + bps - 1) / bps
}

// readBootSector parses the boot sector at the start of r and classifies the
// variant by cluster count.
func readBootSector(r io.ReaderAt) (*bootSector, error) {
	bs := make([]byte, 512)
	if _, err := r.ReadAt(bs, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read boot sector: %w", err)
	}
	if bs[510] != 0x55 || bs[511] != 0xAA {
		return nil, errors.New("no FAT boot sector signature")
	}

	b := &bootSector{
		bytesPerSector:    binary.LittleEndian.Uint16(bs[11:13]),
		sectorsPerCluster: bs[13],
		reservedSectors:   binary.LittleEndian.Uint16(bs[14:16]),
		numFATs:           bs[16],
		rootEntries:       binary.LittleEndian.Uint16(bs[17:19]),
		totalSectors:      uint32(binary.LittleEndian.Uint16(bs[19:21])),
	}
	if b.totalSectors == 0 {
		b.totalSectors = binary.LittleEndian.Uint32(bs[32:36])
	}

	switch b.bytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, fmt.Errorf("invalid BPB: %d bytes per sector", b.bytesPerSector)
	}
	spc := b.sectorsPerCluster
	if spc == 0 || spc&(spc-1) != 0 || b.reservedSectors == 0 || b.numFATs == 0 || b.totalSectors == 0 {
		return nil, errors.New("invalid BPB fields")
	}

	// The extended BPB sits at 36 on FAT12/16 and at 64 on FAT32.
	ebpb := 36
	if fatSz16 := binary.LittleEndian.Uint16(bs[22:24]); b.rootEntries == 0 && fatSz16 == 0 {
		b.kind = FAT32
		b.fatSize = binary.LittleEndian.Uint32(bs[36:40])
		ebpb = 64
	} else {
		b.fatSize = uint32(fatSz16)
	}
	if b.fatSize == 0 {
		return nil, errors.New("invalid BPB: zero FAT size")
	}
	if bs[ebpb+2] == 0x29 {
		b.label = strings.TrimRight(string(bs[ebpb+7:ebpb+18]), " \x00")
	}

	meta := uint32(b.reservedSectors) + uint32(b.numFATs)*b.fatSize + b.rootDirSectors()
	if b.totalSectors <= meta {
		return nil, fmt.Errorf("invalid BPB: %d sectors leave no data area", b.totalSectors)
	}
	b.clusterCount = (b.totalSectors - meta) / uint32(spc)

	if b.kind != FAT32 {
		switch {
		case b.clusterCount < fat12MaxClusters:
			b.kind = FAT12
		case b.clusterCount < fat16MaxClusters:
			b.kind = FAT16
		default:
			return nil, fmt.Errorf("invalid BPB: %d clusters with a 16-bit FAT", b.clusterCount)
		}
	}
	return b, nil
}

// Detect reports the FAT variant on dev.
func Detect(dev *blockdev.Device) (Kind, error) {
	b, err := readBootSector(dev)
	if err != nil {
		return KindUnknown, err
	}
	return b.kind, nil
}

// fatBytes is the table size needed for n entries.
func fatBytes(kind Kind, n uint32) uint32 {
	if kind == FAT12 {
		return (n*3 + 1) / 2
	}
	return n * 2
}

// formatLegacy lays out an empty FAT12 or FAT16 volume over all of dev, the
// way mkfs.fat does: one reserved sector, two FATs, 512 root entries and the
// smallest cluster size that puts the cluster count in range for kind.
func formatLegacy(dev *blockdev.Device, kind Kind, label string) error {
	const (
		reserved    = 1
		numFATs     = 2
		rootEntries = 512
		media       = 0xF8
	)
	bps := uint32(dev.SectorSize())
	switch bps {
	case 512, 1024, 2048, 4096:
	default:
		return fmt.Errorf("format %s: unsupported sector size %d", kind, bps)
	}
	if dev.NumSectors() > 0xFFFFFFFF {
		return fmt.Errorf("format %s: device too large", kind)
	}
	label, err := volumeLabel(label)
	if err != nil {
		return err
	}

	total := uint32(dev.NumSectors())
	rootSecs := (rootEntries*dirEntrySize + bps - 1) / bps

	var spc, fatSz, clusters uint32
	for spc = 1; spc <= 128; spc <<= 1 {
		fatSz, clusters = 1, 0
		for {
			meta := reserved + numFATs*fatSz + rootSecs
			if total <= meta {
				clusters = 0
				break
			}
			clusters = (total - meta) / spc
			need := (fatBytes(kind, clusters+2) + bps - 1) / bps
			if need <= fatSz {
				break
			}
			fatSz = need
		}
		if kind == FAT12 && clusters > 0 && clusters < fat12MaxClusters {
			break
		}
		if kind == FAT16 && clusters >= fat12MaxClusters && clusters < fat16MaxClusters {
			break
		}
	}
	if spc > 128 {
		return fmt.Errorf("format %s: no cluster size fits %d sectors", kind, total)
	}

	meta := make([]byte, (reserved+numFATs*fatSz+rootSecs)*bps)
	bs := meta[:512]
	copy(bs[0:3], []byte{0xEB, 0x3C, 0x90})
	copy(bs[3:11], "MSWIN4.1")
	binary.LittleEndian.PutUint16(bs[11:13], uint16(bps))
	bs[13] = byte(spc)
	binary.LittleEndian.PutUint16(bs[14:16], reserved)
	bs[16] = numFATs
	binary.LittleEndian.PutUint16(bs[17:19], rootEntries)
	if total < 0x10000 {
		binary.LittleEndian.PutUint16(bs[19:21], uint16(total))
	} else {
		binary.LittleEndian.PutUint32(bs[32:36], total)
	}
	bs[21] = media
	binary.LittleEndian.PutUint16(bs[22:24], uint16(fatSz))
	binary.LittleEndian.PutUint16(bs[24:26], 32)
	binary.LittleEndian.PutUint16(bs[26:28], 64)
	bs[36] = 0x80
	bs[38] = 0x29
	binary.LittleEndian.PutUint32(bs[39:43], uint32(time.Now().Unix()))
	name := label
	if name == "" {
		name = "NO NAME"
	}
	copy(bs[43:54], fmt.Sprintf("%-11s", name))
	copy(bs[54:62], fmt.Sprintf("%-8s", kind.String()))
	bs[510], bs[511] = 0x55, 0xAA

	for i := uint32(0); i < numFATs; i++ {
		fat := meta[(reserved+i*fatSz)*bps:]
		if kind == FAT12 {
			copy(fat, []byte{media, 0xFF, 0xFF})
		} else {
			copy(fat, []byte{media, 0xFF, 0xFF, 0xFF})
		}
	}
	if label != "" {
		root := meta[(reserved+numFATs*fatSz)*bps:]
		copy(root[0:11], fmt.Sprintf("%-11s", label))
		root[11] = attrVolumeID
		putTimestamp(root, time.Now())
	}

	if _, err := dev.WriteAt(meta, 0); err != nil {
		return fmt.Errorf("format %s: %w", kind, err)
	}
	return nil
}

// volumeLabel validates and upper-cases a volume label.
func volumeLabel(label string) (string, error) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if len(label) > 11 {
		return "", fmt.Errorf("volume label %q is longer than 11 characters", label)
	}
	for _, r := range label {
		if r < 0x20 || r > 0x7E || strings.ContainsRune(`"*+,./:;<=>?[\]|`, r) {
			return "", fmt.Errorf("volume label %q contains %q", label, r)
		}
	}
	return label, nil
}
