package imageinspect

import (
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// fatKind is the FAT variant, decided by the BPB and the cluster count.
type fatKind int

const (
	fatUnknown fatKind = iota
	fat12
	fat16
	fat32
)

func (k fatKind) String() string {
	switch k {
	case fat12:
		return "FAT12"
	case fat16:
		return "FAT16"
	case fat32:
		return "FAT32"
	default:
		return "unknown"
	}
}

// fatVol is a read-only view of a FAT volume inside an image.
type fatVol struct {
	r       io.ReaderAt
	baseOff int64 // partition start offset in bytes

	kind fatKind

	// BPB common
	bytsPerSec uint16
	secPerClus uint8
	rsvdSecCnt uint16
	numFATs    uint8
	rootEntCnt uint16
	totSec     uint32

	// FAT12/16
	fatSz16 uint16

	// FAT32
	fatSz32  uint32
	rootClus uint32

	// extended BPB
	volumeID string
	label    string

	// derived
	fatStart       int64
	rootDirStart   int64 // FAT12/16 fixed root
	rootDirSectors uint32
	dataStart      int64
	clusterSize    uint32
	clusterCount   uint32

	// first cluster of every directory seen by the walk, by path
	dirs map[string]uint32
}

// fatDirEntry represents a directory entry in a FAT filesystem.
type fatDirEntry struct {
	name         string
	isDir        bool
	firstCluster uint32
	size         uint32
}

// maxListedFiles bounds the file walk of a single volume.
const maxListedFiles = 4096

// inspectFAT reads the FAT boot sector at partOff and, when ListFiles is
// set, walks the volume for regular files.
func (d *Inspector) inspectFAT(r io.ReaderAt, partOff int64) (*FilesystemSummary, error) {
	v, err := openFAT(r, partOff)
	if err != nil {
		return nil, err
	}

	out := &FilesystemSummary{
		Type:              "vfat",
		Label:             v.label,
		VolumeID:          v.volumeID,
		FATType:           v.kind.String(),
		BytesPerSector:    v.bytsPerSec,
		SectorsPerCluster: v.secPerClus,
		ClusterCount:      v.clusterCount,
	}
	if !d.ListFiles {
		return out, nil
	}

	type item struct{ dir string }
	stack := []item{{dir: ""}}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var ents []fatDirEntry
		if cur.dir == "" {
			ents, err = v.readRootDir()
		} else {
			ents, err = v.readDirFromCluster(v.dirs[cur.dir])
		}
		if err != nil {
			out.Notes = append(out.Notes, fmt.Sprintf("list /%s failed: %v", cur.dir, err))
			continue
		}

		for _, de := range ents {
			full := path.Join(cur.dir, de.name)
			if de.isDir {
				v.dirs[full] = de.firstCluster
				stack = append(stack, item{dir: full})
				continue
			}
			if len(out.Files) == maxListedFiles {
				out.Truncated = true
				continue
			}

			fsum := FileSummary{Path: full, Size: int64(de.size)}
			if d.HashImages {
				b, _, err := v.readFileByEntry(&de)
				if err != nil {
					out.Notes = append(out.Notes, fmt.Sprintf("read %s failed: %v", full, err))
				} else {
					fsum.SHA256 = sha256Hex(b)
				}
			}
			out.Files = append(out.Files, fsum)
		}
	}

	sort.Slice(out.Files, func(i, j int) bool { return out.Files[i].Path < out.Files[j].Path })
	return out, nil
}

// readFileByEntry reads the contents of the file represented by the given fatDirEntry.
func (v *fatVol) readFileByEntry(e *fatDirEntry) ([]byte, int64, error) {
	remaining := int64(e.size)
	out := make([]byte, 0, remaining)

	c := e.firstCluster
	seen := map[uint32]bool{}

	for c >= 2 && !v.isEOC(c) && remaining > 0 {
		if seen[c] {
			return nil, 0, fmt.Errorf("FAT loop detected at cluster %d", c)
		}
		seen[c] = true

		chunk := make([]byte, v.clusterSize)
		if _, err := v.r.ReadAt(chunk, v.clusterOff(c)); err != nil && err != io.EOF {
			return nil, 0, err
		}

		n := int64(len(chunk))
		if remaining < n {
			n = remaining
		}
		out = append(out, chunk[:n]...)
		remaining -= n

		next, err := v.fatEntry(c)
		if err != nil {
			return nil, 0, err
		}
		c = next
	}
	if remaining > 0 {
		return nil, 0, fmt.Errorf("cluster chain ends %d bytes short", remaining)
	}

	return out, int64(e.size), nil
}

// readDirFromCluster reads directory entries starting from the given cluster.
func (v *fatVol) readDirFromCluster(startCluster uint32) ([]fatDirEntry, error) {
	var all []byte
	c := startCluster
	seen := map[uint32]bool{}

	for c >= 2 && !v.isEOC(c) {
		if seen[c] {
			return nil, fmt.Errorf("FAT loop detected at cluster %d", c)
		}
		seen[c] = true

		off := v.clusterOff(c)
		chunk := make([]byte, v.clusterSize)
		if _, err := v.r.ReadAt(chunk, off); err != nil && err != io.EOF {
			return nil, err
		}
		all = append(all, chunk...)

		next, err := v.fatEntry(c)
		if err != nil {
			return nil, err
		}
		c = next
	}

	return parseDirEntries(all)
}

// parseDirEntries parses raw directory entry bytes into a slice of fatDirEntry.
func parseDirEntries(buf []byte) ([]fatDirEntry, error) {
	var out []fatDirEntry
	var lfnParts []string

	for off := 0; off+32 <= len(buf); off += 32 {
		e := buf[off : off+32]
		if e[0] == 0x00 {
			break
		}
		if e[0] == 0xE5 {
			lfnParts = nil
			continue
		}

		attr := e[11]
		if attr == 0x0F {
			part := decodeLFNPart(e)
			if part != "" {
				lfnParts = append(lfnParts, part)
			}
			continue
		}

		// volume label entry?
		if attr&0x08 != 0 {
			lfnParts = nil
			continue
		}

		name := ""
		if len(lfnParts) > 0 {
			for i, j := 0, len(lfnParts)-1; i < j; i, j = i+1, j-1 {
				lfnParts[i], lfnParts[j] = lfnParts[j], lfnParts[i]
			}
			name = strings.Join(lfnParts, "")
		} else {
			name = decode83Name(e[0:11])
		}
		lfnParts = nil

		isDir := (attr & 0x10) != 0

		// FAT32 stores high 16 bits in e[20:22]
		clusHi := binary.LittleEndian.Uint16(e[20:22])
		clusLo := binary.LittleEndian.Uint16(e[26:28])
		firstClus := (uint32(clusHi) << 16) | uint32(clusLo)

		size := binary.LittleEndian.Uint32(e[28:32])

		if name == "." || name == ".." {
			continue
		}

		out = append(out, fatDirEntry{
			name:         name,
			isDir:        isDir,
			firstCluster: firstClus,
			size:         size,
		})
	}

	return out, nil
}

// readRootDir reads the root directory entries of the FAT volume.
func (v *fatVol) readRootDir() ([]fatDirEntry, error) {
	if v.kind == fat32 {
		return v.readDirFromCluster(v.rootClus)
	}

	// FAT16 root is fixed region
	sizeBytes := int64(v.rootDirSectors) * int64(v.bytsPerSec)
	buf := make([]byte, sizeBytes)
	if _, err := v.r.ReadAt(buf, v.rootDirStart); err != nil && err != io.EOF {
		return nil, err
	}
	return parseDirEntries(buf)
}

// decode83Name decodes an 8.3 filename from a byte slice.
func decode83Name(b []byte) string {
	base := strings.TrimRight(string(b[0:8]), " ")
	ext := strings.TrimRight(string(b[8:11]), " ")
	if ext != "" {
		return base + "." + ext
	}
	return base
}

// decodeLFNPart decodes a single LFN part from a directory entry.
func decodeLFNPart(e []byte) string {
	// 13 UTF-16LE chars in 3 ranges
	chars := make([]uint16, 0, 13)
	readU16 := func(i int) uint16 { return binary.LittleEndian.Uint16(e[i : i+2]) }

	for _, i := range []int{1, 3, 5, 7, 9} {
		chars = append(chars, readU16(i))
	}
	for _, i := range []int{14, 16, 18, 20, 22, 24} {
		chars = append(chars, readU16(i))
	}
	for _, i := range []int{28, 30} {
		chars = append(chars, readU16(i))
	}

	// convert until 0x0000 or 0xFFFF
	var sb strings.Builder
	for _, c := range chars {
		if c == 0x0000 || c == 0xFFFF {
			break
		}
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// isEOC checks if the given cluster number indicates end-of-chain.
func (v *fatVol) isEOC(c uint32) bool {
	switch v.kind {
	case fat32:
		return c >= 0x0FFFFFF8
	case fat12:
		return c >= 0xFF8
	default:
		return c >= 0xFFF8
	}
}

// clusterOff returns the byte offset of the given cluster within the FAT volume.
func (v *fatVol) clusterOff(cluster uint32) int64 {
	// data clusters start at 2
	if cluster < 2 {
		return v.dataStart
	}
	dataClusterIndex := cluster - 2
	return v.dataStart + int64(dataClusterIndex)*int64(v.clusterSize)
}

// fatEntry reads the FAT entry for the given cluster number.
func (v *fatVol) fatEntry(cluster uint32) (uint32, error) {
	switch v.kind {
	case fat32:
		b := make([]byte, 4)
		if _, err := v.r.ReadAt(b, v.fatStart+int64(cluster)*4); err != nil && err != io.EOF {
			return 0, err
		}
		// FAT32 uses only low 28 bits
		return binary.LittleEndian.Uint32(b) & 0x0FFFFFFF, nil
	case fat12:
		// 12-bit entries are packed two per three bytes
		b := make([]byte, 2)
		if _, err := v.r.ReadAt(b, v.fatStart+int64(cluster+cluster/2)); err != nil && err != io.EOF {
			return 0, err
		}
		e := uint32(binary.LittleEndian.Uint16(b))
		if cluster&1 == 1 {
			return e >> 4, nil
		}
		return e & 0x0FFF, nil
	default:
		b := make([]byte, 2)
		if _, err := v.r.ReadAt(b, v.fatStart+int64(cluster)*2); err != nil && err != io.EOF {
			return 0, err
		}
		return uint32(binary.LittleEndian.Uint16(b)), nil
	}
}

// openFAT parses the BPB, classifies FAT12/16/32 and fills derived layout
// offsets.
func openFAT(r io.ReaderAt, baseOff int64) (*fatVol, error) {
	bs := make([]byte, 512)
	if _, err := r.ReadAt(bs, baseOff); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read boot sector: %w", err)
	}
	if bs[510] != 0x55 || bs[511] != 0xAA {
		return nil, fmt.Errorf("invalid boot sector signature")
	}

	v := &fatVol{r: r, baseOff: baseOff, dirs: map[string]uint32{}}

	v.bytsPerSec = binary.LittleEndian.Uint16(bs[11:13])
	v.secPerClus = bs[13]
	v.rsvdSecCnt = binary.LittleEndian.Uint16(bs[14:16])
	v.numFATs = bs[16]
	v.rootEntCnt = binary.LittleEndian.Uint16(bs[17:19])

	totSec16 := binary.LittleEndian.Uint16(bs[19:21])
	v.fatSz16 = binary.LittleEndian.Uint16(bs[22:24])
	totSec32 := binary.LittleEndian.Uint32(bs[32:36])

	v.totSec = uint32(totSec16)
	if v.totSec == 0 {
		v.totSec = totSec32
	}

	switch v.bytsPerSec {
	case 512, 1024, 2048, 4096:
	default:
		return nil, fmt.Errorf("invalid BPB: bytesPerSec=%d", v.bytsPerSec)
	}
	if v.secPerClus == 0 || v.rsvdSecCnt == 0 || v.numFATs == 0 || v.totSec == 0 {
		return nil, fmt.Errorf("invalid BPB fields")
	}
	v.clusterSize = uint32(v.bytsPerSec) * uint32(v.secPerClus)

	// FAT32 fields (only meaningful for FAT32)
	v.fatSz32 = binary.LittleEndian.Uint32(bs[36:40])
	v.rootClus = binary.LittleEndian.Uint32(bs[44:48])

	v.fatStart = v.baseOff + int64(v.rsvdSecCnt)*int64(v.bytsPerSec)

	// RootEntCnt and FATSz16 are both 0 on FAT32 only
	if v.rootEntCnt == 0 && v.fatSz16 == 0 && v.fatSz32 != 0 {
		v.kind = fat32
		v.dataStart = v.fatStart + int64(v.numFATs)*int64(v.fatSz32)*int64(v.bytsPerSec)
		meta := uint32(v.rsvdSecCnt) + uint32(v.numFATs)*v.fatSz32
		if v.totSec > meta {
			v.clusterCount = (v.totSec - meta) / uint32(v.secPerClus)
		}
		v.volumeID = fmt.Sprintf("%08x", binary.LittleEndian.Uint32(bs[67:71]))
		v.label = strings.TrimRight(string(bs[71:82]), " \x00")
		return v, nil
	}

	if v.fatSz16 == 0 {
		return nil, fmt.Errorf("invalid FAT16 BPB: fatSz16=0 and not FAT32")
	}

	v.rootDirSectors = ((uint32(v.rootEntCnt) * 32) + (uint32(v.bytsPerSec) - 1)) / uint32(v.bytsPerSec)
	v.rootDirStart = v.fatStart + int64(v.numFATs)*int64(v.fatSz16)*int64(v.bytsPerSec)
	v.dataStart = v.rootDirStart + int64(v.rootDirSectors)*int64(v.bytsPerSec)

	meta := uint32(v.rsvdSecCnt) + uint32(v.numFATs)*uint32(v.fatSz16) + v.rootDirSectors
	if v.totSec <= meta {
		return nil, fmt.Errorf("invalid BPB: %d sectors leave no data area", v.totSec)
	}
	v.clusterCount = (v.totSec - meta) / uint32(v.secPerClus)

	if v.clusterCount < 4085 {
		v.kind = fat12
	} else {
		// cluster counts past 65524 without a FAT32 BPB are read as FAT16
		v.kind = fat16
	}

	// FAT12/16 extended BPB: VolID @ 39..43, Label @ 43..54
	v.volumeID = fmt.Sprintf("%08x", binary.LittleEndian.Uint32(bs[39:43]))
	v.label = strings.TrimRight(string(bs[43:54]), " \x00")
	return v, nil
}
