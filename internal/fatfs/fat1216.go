package fatfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/open-edge-platform/fatconfig/internal/blockdev"
)

const (
	dirEntrySize = 32

	attrReadOnly  = 0x01
	attrHidden    = 0x02
	attrSystem    = 0x04
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrArchive   = 0x20
	attrLFN       = attrReadOnly | attrHidden | attrSystem | attrVolumeID

	entryEnd     = 0x00
	entryDeleted = 0xE5

	lfnLast     = 0x40
	lfnChars    = 13
	maxNameUTF16 = 255
)

// Offsets of the 13 UTF-16 characters inside a long name entry.
var lfnOffsets = [lfnChars]int{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}

// ErrNoSpace is returned when the volume has no free cluster or the fixed
// root directory has no free slot left.
var ErrNoSpace = errors.New("no space left on FAT volume")

// legacyVolume is a FAT12 or FAT16 filesystem on a device. The first FAT is
// kept in memory and written to every FAT copy after each change.
type legacyVolume struct {
	dev  *blockdev.Device
	boot *bootSector
	fat  []byte

	fatStart    int64
	rootStart   int64
	dataStart   int64
	clusterSize int64
	maxCluster  uint32
}

func openLegacy(dev *blockdev.Device, b *bootSector) (*legacyVolume, error) {
	bps := int64(b.bytesPerSector)
	v := &legacyVolume{
		dev:         dev,
		boot:        b,
		fatStart:    int64(b.reservedSectors) * bps,
		clusterSize: int64(b.sectorsPerCluster) * bps,
		maxCluster:  b.clusterCount + 1,
	}
	v.rootStart = v.fatStart + int64(b.numFATs)*int64(b.fatSize)*bps
	v.dataStart = v.rootStart + int64(b.rootDirSectors())*bps

	if end := v.dataStart + int64(b.clusterCount)*v.clusterSize; end > dev.Size() {
		return nil, fmt.Errorf("%s volume needs %d bytes, device has %d", b.kind, end, dev.Size())
	}
	v.fat = make([]byte, int64(b.fatSize)*bps)
	if uint32(len(v.fat)) < fatBytes(b.kind, v.maxCluster+1) {
		return nil, fmt.Errorf("%s table too small for %d clusters", b.kind, b.clusterCount)
	}
	if _, err := dev.ReadAt(v.fat, v.fatStart); err != nil {
		return nil, fmt.Errorf("read FAT: %w", err)
	}
	return v, nil
}

func (v *legacyVolume) entry(c uint32) uint32 {
	if v.boot.kind == FAT12 {
		val := uint32(binary.LittleEndian.Uint16(v.fat[c+c/2:]))
		if c&1 == 1 {
			return val >> 4
		}
		return val & 0x0FFF
	}
	return uint32(binary.LittleEndian.Uint16(v.fat[c*2:]))
}

func (v *legacyVolume) setEntry(c, val uint32) {
	if v.boot.kind == FAT12 {
		off := c + c/2
		cur := binary.LittleEndian.Uint16(v.fat[off:])
		if c&1 == 1 {
			cur = cur&0x000F | uint16(val&0x0FFF)<<4
		} else {
			cur = cur&0xF000 | uint16(val&0x0FFF)
		}
		binary.LittleEndian.PutUint16(v.fat[off:], cur)
		return
	}
	binary.LittleEndian.PutUint16(v.fat[c*2:], uint16(val))
}

// endOfChain is the marker written to the last cluster of a chain.
func (v *legacyVolume) endOfChain() uint32 {
	if v.boot.kind == FAT12 {
		return 0xFFF
	}
	return 0xFFFF
}

func (v *legacyVolume) isEnd(c uint32) bool {
	return c >= v.endOfChain()&^7
}

func (v *legacyVolume) chain(start uint32) ([]uint32, error) {
	var out []uint32
	for c := start; ; {
		if c < 2 || c > v.maxCluster {
			return nil, fmt.Errorf("cluster %d out of range in chain starting at %d", c, start)
		}
		out = append(out, c)
		if uint32(len(out)) > v.boot.clusterCount {
			return nil, fmt.Errorf("cluster chain starting at %d loops", start)
		}
		next := v.entry(c)
		if v.isEnd(next) {
			return out, nil
		}
		c = next
	}
}

// allocate links n free clusters into a new chain.
func (v *legacyVolume) allocate(n int) ([]uint32, error) {
	out := make([]uint32, 0, n)
	for c := uint32(2); c <= v.maxCluster && len(out) < n; c++ {
		if v.entry(c) == 0 {
			out = append(out, c)
		}
	}
	if len(out) < n {
		return nil, fmt.Errorf("%w: need %d clusters, %d free", ErrNoSpace, n, len(out))
	}
	for i, c := range out {
		if i+1 < len(out) {
			v.setEntry(c, out[i+1])
		} else {
			v.setEntry(c, v.endOfChain())
		}
	}
	return out, nil
}

func (v *legacyVolume) release(clusters []uint32) {
	for _, c := range clusters {
		v.setEntry(c, 0)
	}
}

func (v *legacyVolume) flushFAT() error {
	for i := int64(0); i < int64(v.boot.numFATs); i++ {
		if _, err := v.dev.WriteAt(v.fat, v.fatStart+i*int64(len(v.fat))); err != nil {
			return fmt.Errorf("write FAT %d: %w", i+1, err)
		}
	}
	return nil
}

func (v *legacyVolume) clusterOffset(c uint32) int64 {
	return v.dataStart + int64(c-2)*v.clusterSize
}

func (v *legacyVolume) readClusters(clusters []uint32) ([]byte, error) {
	buf := make([]byte, int64(len(clusters))*v.clusterSize)
	for i, c := range clusters {
		if _, err := v.dev.ReadAt(buf[int64(i)*v.clusterSize:int64(i+1)*v.clusterSize], v.clusterOffset(c)); err != nil {
			return nil, fmt.Errorf("read cluster %d: %w", c, err)
		}
	}
	return buf, nil
}

// writeClusters writes data over clusters, zero-padding the last one.
func (v *legacyVolume) writeClusters(clusters []uint32, data []byte) error {
	for i, c := range clusters {
		chunk := make([]byte, v.clusterSize)
		if start := int64(i) * v.clusterSize; start < int64(len(data)) {
			copy(chunk, data[start:])
		}
		if _, err := v.dev.WriteAt(chunk, v.clusterOffset(c)); err != nil {
			return fmt.Errorf("write cluster %d: %w", c, err)
		}
	}
	return nil
}

// dirTable is the raw entry table of one directory: the fixed root region
// when cluster is 0, a cluster chain otherwise.
type dirTable struct {
	cluster  uint32
	clusters []uint32
	buf      []byte
}

// dirent is one parsed directory entry.
type dirent struct {
	name    string
	short   [11]byte
	attr    byte
	cluster uint32
	size    uint32
	modTime time.Time
	first   int // first slot, long name entries included
	slot    int // slot of the short entry
}

func (e *dirent) isDir() bool { return e.attr&attrDirectory != 0 }

func (v *legacyVolume) loadDir(cluster uint32) (*dirTable, error) {
	d := &dirTable{cluster: cluster}
	if cluster == 0 {
		d.buf = make([]byte, int64(v.boot.rootEntries)*dirEntrySize)
		if _, err := v.dev.ReadAt(d.buf, v.rootStart); err != nil {
			return nil, fmt.Errorf("read root directory: %w", err)
		}
		return d, nil
	}
	clusters, err := v.chain(cluster)
	if err != nil {
		return nil, err
	}
	d.clusters = clusters
	if d.buf, err = v.readClusters(clusters); err != nil {
		return nil, err
	}
	return d, nil
}

func (v *legacyVolume) storeDir(d *dirTable) error {
	if d.cluster == 0 {
		if _, err := v.dev.WriteAt(d.buf, v.rootStart); err != nil {
			return fmt.Errorf("write root directory: %w", err)
		}
		return nil
	}
	return v.writeClusters(d.clusters, d.buf)
}

func (d *dirTable) slots() int { return len(d.buf) / dirEntrySize }

func (d *dirTable) raw(i int) []byte { return d.buf[i*dirEntrySize : (i+1)*dirEntrySize] }

// entries parses the table. Deleted slots, volume labels and the "." and
// ".." entries are skipped.
func (d *dirTable) entries() []dirent {
	var (
		out      []dirent
		lfn      []uint16
		lfnStart = -1
		lfnSum   byte
	)
	for i := 0; i < d.slots(); i++ {
		b := d.raw(i)
		switch {
		case b[0] == entryEnd:
			return out
		case b[0] == entryDeleted:
			lfn, lfnStart = nil, -1
			continue
		case b[11]&0x3F == attrLFN:
			if b[0]&lfnLast != 0 {
				lfn, lfnStart, lfnSum = nil, i, b[13]
			}
			lfn = append(decodeLFNPart(b), lfn...)
			continue
		case b[11]&attrVolumeID != 0:
			lfn, lfnStart = nil, -1
			continue
		}

		e := dirent{
			attr:    b[11],
			cluster: uint32(binary.LittleEndian.Uint16(b[26:28])),
			size:    binary.LittleEndian.Uint32(b[28:32]),
			modTime: dosTime(binary.LittleEndian.Uint16(b[24:26]), binary.LittleEndian.Uint16(b[22:24])),
			first:   i,
			slot:    i,
		}
		copy(e.short[:], b[0:11])
		e.name = decodeShortName(e.short, b[12])
		if lfnStart >= 0 && len(lfn) > 0 && lfnSum == shortChecksum(e.short) {
			e.name = string(utf16.Decode(lfn))
			e.first = lfnStart
		}
		lfn, lfnStart = nil, -1

		if e.name == "." || e.name == ".." {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (d *dirTable) find(name string) (dirent, bool) {
	for _, e := range d.entries() {
		if strings.EqualFold(e.name, name) || strings.EqualFold(decodeShortName(e.short, 0), name) {
			return e, true
		}
	}
	return dirent{}, false
}

// label returns the volume label entry of a root directory.
func (d *dirTable) label() (string, bool) {
	for i := 0; i < d.slots(); i++ {
		b := d.raw(i)
		if b[0] == entryEnd {
			break
		}
		if b[0] != entryDeleted && b[11]&0x3F != attrLFN && b[11]&attrVolumeID != 0 {
			return strings.TrimRight(string(b[0:11]), " "), true
		}
	}
	return "", false
}

// freeRun returns the first index of n consecutive unused slots, or -1.
func (d *dirTable) freeRun(n int) int {
	run := 0
	for i := 0; i < d.slots(); i++ {
		if b := d.raw(i)[0]; b == entryEnd || b == entryDeleted {
			run++
			if run == n {
				return i - n + 1
			}
			continue
		}
		run = 0
	}
	return -1
}

// grow appends one zeroed cluster to a subdirectory.
func (v *legacyVolume) grow(d *dirTable) error {
	if d.cluster == 0 {
		return fmt.Errorf("%w: root directory holds %d entries", ErrNoSpace, v.boot.rootEntries)
	}
	added, err := v.allocate(1)
	if err != nil {
		return err
	}
	v.setEntry(d.clusters[len(d.clusters)-1], added[0])
	d.clusters = append(d.clusters, added[0])
	d.buf = append(d.buf, make([]byte, v.clusterSize)...)
	return nil
}

// addEntry stores name in d, with long name entries when the 8.3 form does
// not preserve it.
func (v *legacyVolume) addEntry(d *dirTable, name string, attr byte, cluster, size uint32) error {
	short, needLFN, err := shortName(name, d.entries())
	if err != nil {
		return err
	}
	var lfn [][]byte
	if needLFN {
		if lfn, err = lfnEntries(name, shortChecksum(short)); err != nil {
			return err
		}
	}

	idx := d.freeRun(len(lfn) + 1)
	for idx < 0 {
		if err := v.grow(d); err != nil {
			return err
		}
		idx = d.freeRun(len(lfn) + 1)
	}
	for i, e := range lfn {
		copy(d.raw(idx+i), e)
	}
	b := d.raw(idx + len(lfn))
	clear(b)
	copy(b[0:11], short[:])
	b[11] = attr
	putTimestamp(b, time.Now())
	binary.LittleEndian.PutUint16(b[26:28], uint16(cluster))
	binary.LittleEndian.PutUint32(b[28:32], size)
	return nil
}

func splitPath(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// lookup returns the table holding the last element of p and that element's
// entry when it exists. Missing parents yield fs.ErrNotExist.
func (v *legacyVolume) lookup(op, p string) (*dirTable, *dirent, error) {
	segs := splitPath(p)
	if len(segs) == 0 {
		return nil, nil, fmt.Errorf("%s %s: root has no entry", op, p)
	}
	d, err := v.loadDir(0)
	if err != nil {
		return nil, nil, err
	}
	for i, seg := range segs {
		e, ok := d.find(seg)
		if i == len(segs)-1 {
			if !ok {
				return d, nil, nil
			}
			return d, &e, nil
		}
		if !ok || !e.isDir() {
			return nil, nil, &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
		}
		if e.cluster < 2 {
			return nil, nil, fmt.Errorf("%s %s: directory %s has no cluster", op, p, e.name)
		}
		if d, err = v.loadDir(e.cluster); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
}

func (v *legacyVolume) Label() string {
	if root, err := v.loadDir(0); err == nil {
		if l, ok := root.label(); ok {
			return l
		}
	}
	return v.boot.label
}

func (v *legacyVolume) ReadDir(p string) ([]os.FileInfo, error) {
	var (
		d   *dirTable
		err error
	)
	if len(splitPath(p)) == 0 {
		d, err = v.loadDir(0)
	} else {
		_, e, lerr := v.lookup("readdir", p)
		switch {
		case lerr != nil:
			return nil, lerr
		case e == nil:
			return nil, &fs.PathError{Op: "readdir", Path: p, Err: fs.ErrNotExist}
		case !e.isDir():
			return nil, fmt.Errorf("readdir %s: not a directory", p)
		}
		d, err = v.loadDir(e.cluster)
	}
	if err != nil {
		return nil, err
	}
	entries := d.entries()
	out := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryInfo{e})
	}
	return out, nil
}

func (v *legacyVolume) ReadFile(p string) ([]byte, error) {
	_, e, err := v.lookup("read", p)
	switch {
	case err != nil:
		return nil, err
	case e == nil:
		return nil, &fs.PathError{Op: "read", Path: p, Err: fs.ErrNotExist}
	case e.isDir():
		return nil, fmt.Errorf("read %s: is a directory", p)
	case e.size == 0:
		return []byte{}, nil
	}
	clusters, err := v.chain(e.cluster)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if int64(len(clusters))*v.clusterSize < int64(e.size) {
		return nil, fmt.Errorf("read %s: %d clusters cannot hold %d bytes", p, len(clusters), e.size)
	}
	data, err := v.readClusters(clusters)
	if err != nil {
		return nil, err
	}
	return data[:e.size], nil
}

// WriteFile creates p with data. p must not exist yet.
func (v *legacyVolume) WriteFile(p string, data []byte) error {
	if int64(len(data)) > 0xFFFFFFFF {
		return fmt.Errorf("write %s: %d bytes exceed the FAT file size limit", p, len(data))
	}
	d, e, err := v.lookup("write", p)
	if err != nil {
		return err
	}
	if e != nil {
		return &fs.PathError{Op: "write", Path: p, Err: fs.ErrExist}
	}

	var clusters []uint32
	if n := (int64(len(data)) + v.clusterSize - 1) / v.clusterSize; n > 0 {
		if clusters, err = v.allocate(int(n)); err != nil {
			return err
		}
	}
	var first uint32
	if len(clusters) > 0 {
		first = clusters[0]
	}
	if err := v.addEntry(d, path.Base(p), attrArchive, first, uint32(len(data))); err != nil {
		v.release(clusters)
		return err
	}
	if err := v.writeClusters(clusters, data); err != nil {
		return err
	}
	if err := v.storeDir(d); err != nil {
		return err
	}
	return v.flushFAT()
}

// Mkdir creates p and any missing parents.
func (v *legacyVolume) Mkdir(p string) error {
	segs := splitPath(p)
	for i := range segs {
		cur := "/" + strings.Join(segs[:i+1], "/")
		d, e, err := v.lookup("mkdir", cur)
		if err != nil {
			return err
		}
		if e != nil {
			if !e.isDir() {
				return fmt.Errorf("mkdir %s: %s is a file", p, cur)
			}
			continue
		}
		if err := v.mkdirIn(d, segs[i]); err != nil {
			return fmt.Errorf("mkdir %s: %w", cur, err)
		}
	}
	return nil
}

func (v *legacyVolume) mkdirIn(parent *dirTable, name string) error {
	clusters, err := v.allocate(1)
	if err != nil {
		return err
	}
	if err := v.addEntry(parent, name, attrDirectory, clusters[0], 0); err != nil {
		v.release(clusters)
		return err
	}

	buf := make([]byte, v.clusterSize)
	now := time.Now()
	for i, dots := range []string{".", ".."} {
		b := buf[i*dirEntrySize : (i+1)*dirEntrySize]
		copy(b[0:11], fmt.Sprintf("%-11s", dots))
		b[11] = attrDirectory
		putTimestamp(b, now)
	}
	binary.LittleEndian.PutUint16(buf[26:28], uint16(clusters[0]))
	binary.LittleEndian.PutUint16(buf[dirEntrySize+26:dirEntrySize+28], uint16(parent.cluster))

	if err := v.writeClusters(clusters, buf); err != nil {
		return err
	}
	if err := v.storeDir(parent); err != nil {
		return err
	}
	return v.flushFAT()
}

// Remove deletes a file or an empty directory.
func (v *legacyVolume) Remove(p string) error {
	d, e, err := v.lookup("remove", p)
	if err != nil {
		return err
	}
	if e == nil {
		return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrNotExist}
	}

	var clusters []uint32
	if e.cluster >= 2 {
		if clusters, err = v.chain(e.cluster); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	if e.isDir() {
		sub, err := v.loadDir(e.cluster)
		if err != nil {
			return err
		}
		if len(sub.entries()) > 0 {
			return fmt.Errorf("remove %s: directory not empty", p)
		}
	}

	for i := e.first; i <= e.slot; i++ {
		d.raw(i)[0] = entryDeleted
	}
	v.release(clusters)
	if err := v.storeDir(d); err != nil {
		return err
	}
	return v.flushFAT()
}

func (v *legacyVolume) Close() error { return nil }

// entryInfo adapts a dirent to os.FileInfo.
type entryInfo struct{ e dirent }

func (i entryInfo) Name() string       { return i.e.name }
func (i entryInfo) Size() int64        { return int64(i.e.size) }
func (i entryInfo) ModTime() time.Time { return i.e.modTime }
func (i entryInfo) IsDir() bool        { return i.e.isDir() }
func (i entryInfo) Sys() any           { return nil }

func (i entryInfo) Mode() fs.FileMode {
	if i.e.isDir() {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

// decodeShortName renders an 8.3 name. flags is byte 12 of the entry, where
// 0x08 and 0x10 mark a lower-case base and extension.
func decodeShortName(short [11]byte, flags byte) string {
	raw := short
	if raw[0] == 0x05 {
		raw[0] = entryDeleted
	}
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if flags&0x08 != 0 {
		base = strings.ToLower(base)
	}
	if flags&0x10 != 0 {
		ext = strings.ToLower(ext)
	}
	if ext == "" {
		return base
	}
	return base + "." + ext
}

func decodeLFNPart(b []byte) []uint16 {
	out := make([]uint16, 0, lfnChars)
	for _, off := range lfnOffsets {
		c := binary.LittleEndian.Uint16(b[off : off+2])
		if c == 0x0000 || c == 0xFFFF {
			break
		}
		out = append(out, c)
	}
	return out
}

func shortChecksum(short [11]byte) byte {
	var sum byte
	for _, c := range short {
		sum = (sum>>1 | sum<<7) + c
	}
	return sum
}

// lfnEntries renders name as long name entries in on-disk order.
func lfnEntries(name string, sum byte) ([][]byte, error) {
	u := utf16.Encode([]rune(name))
	if len(u) > maxNameUTF16 {
		return nil, fmt.Errorf("file name %q is longer than %d characters", name, maxNameUTF16)
	}
	n := (len(u) + lfnChars - 1) / lfnChars
	out := make([][]byte, 0, n)
	for k := n; k >= 1; k-- {
		b := make([]byte, dirEntrySize)
		b[0] = byte(k)
		if k == n {
			b[0] |= lfnLast
		}
		b[11] = attrLFN
		b[13] = sum
		for j, off := range lfnOffsets {
			var c uint16
			switch idx := (k-1)*lfnChars + j; {
			case idx < len(u):
				c = u[idx]
			case idx == len(u):
				c = 0x0000
			default:
				c = 0xFFFF
			}
			binary.LittleEndian.PutUint16(b[off:off+2], c)
		}
		out = append(out, b)
	}
	return out, nil
}

const shortNameChars = "$%'-_@~`!(){}^#&"

// shortName picks the 8.3 name for name that no entry in taken uses.
// needLFN reports whether long name entries must carry the real spelling.
func shortName(name string, taken []dirent) (short [11]byte, needLFN bool, err error) {
	if name == "" || name == "." || name == ".." {
		return short, false, fmt.Errorf("invalid file name %q", name)
	}
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(`"*/:<>?\|`, r) {
			return short, false, fmt.Errorf("file name %q contains %q", name, r)
		}
	}

	trimmed := strings.TrimLeft(name, ".")
	base, ext := trimmed, ""
	if i := strings.LastIndex(trimmed, "."); i >= 0 {
		base, ext = trimmed[:i], trimmed[i+1:]
	}
	lossy := trimmed != name
	clean := func(s string) string {
		var sb strings.Builder
		for _, r := range strings.ToUpper(s) {
			switch {
			case r == ' ' || r == '.':
				lossy = true
			case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', strings.ContainsRune(shortNameChars, r):
				sb.WriteRune(r)
			default:
				lossy = true
				sb.WriteByte('_')
			}
		}
		return sb.String()
	}
	base, ext = clean(base), clean(ext)
	if base == "" {
		base, lossy = "_", true
	}
	if len(base) > 8 || len(ext) > 3 {
		lossy = true
	}

	used := func(s [11]byte) bool {
		for _, e := range taken {
			if e.short == s {
				return true
			}
		}
		return false
	}
	build := func(b string) [11]byte {
		var s [11]byte
		copy(s[:], fmt.Sprintf("%-8s%-3s", b, truncate(ext, 3)))
		return s
	}

	if !lossy {
		short = build(base)
		if !used(short) {
			return short, decodeShortName(short, 0) != name, nil
		}
	}
	for n := 1; n < 1000000; n++ {
		tail := "~" + strconv.Itoa(n)
		short = build(truncate(base, 8-len(tail)) + tail)
		if !used(short) {
			return short, true, nil
		}
	}
	return short, false, fmt.Errorf("no free short name for %q", name)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func dosTime(date, tod uint16) time.Time {
	if date == 0 {
		return time.Time{}
	}
	return time.Date(1980+int(date>>9), time.Month(date>>5&0x0F), int(date&0x1F),
		int(tod>>11), int(tod>>5&0x3F), int(tod&0x1F)*2, 0, time.Local)
}

// putTimestamp sets the creation and modification stamps of a short entry.
func putTimestamp(b []byte, t time.Time) {
	if t.Year() < 1980 {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.Local)
	}
	date := uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	tod := uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	binary.LittleEndian.PutUint16(b[14:16], tod)
	binary.LittleEndian.PutUint16(b[16:18], date)
	binary.LittleEndian.PutUint16(b[18:20], date)
	binary.LittleEndian.PutUint16(b[22:24], tod)
	binary.LittleEndian.PutUint16(b[24:26], date)
}
