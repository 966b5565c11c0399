// Package fatfs reads and writes whole files on a FAT filesystem that lives on
// a blockdev.Device. FAT32 is served by go-diskfs, FAT12 and FAT16 by the
// in-package legacy volume.
package fatfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/backend/file"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/open-edge-platform/fatconfig/internal/blockdev"
	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"go.uber.org/zap"
)

// volume is the filesystem backend. Mkdir creates missing parents and
// WriteFile expects the target to be absent.
type volume interface {
	Label() string
	ReadDir(p string) ([]os.FileInfo, error)
	ReadFile(p string) ([]byte, error)
	WriteFile(p string, data []byte) error
	Mkdir(p string) error
	Remove(p string) error
	Close() error
}

// FileSystem is an open FAT filesystem. It owns the device it was opened on.
// It is not safe for concurrent use.
type FileSystem struct {
	dev    *blockdev.Device
	vol    volume
	kind   Kind
	logger *zap.SugaredLogger
}

// diskfsVolume adapts a go-diskfs FAT32 filesystem.
type diskfsVolume struct {
	filesystem.FileSystem
	disk *disk.Disk
}

func (v *diskfsVolume) ReadFile(p string) ([]byte, error) {
	fh, err := v.OpenFile(p, os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	defer fh.Close()

	data, err := io.ReadAll(fh)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

func (v *diskfsVolume) WriteFile(p string, data []byte) error {
	fh, err := v.OpenFile(p, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close %s: %w", p, err)
	}
	return nil
}

func (v *diskfsVolume) Close() error {
	if err := v.disk.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

func openDisk(dev *blockdev.Device) (*disk.Disk, error) {
	d, err := diskfs.OpenBackend(file.New(dev, false))
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	return d, nil
}

func newFileSystem(dev *blockdev.Device, vol volume, kind Kind) *FileSystem {
	return &FileSystem{dev: dev, vol: vol, kind: kind, logger: logger.Logger()}
}

// Open opens the FAT filesystem spanning all of dev. The variant is taken
// from the boot sector's cluster count.
func Open(dev *blockdev.Device) (*FileSystem, error) {
	boot, err := readBootSector(dev)
	if err != nil {
		return nil, fmt.Errorf("read FAT filesystem: %w", err)
	}
	if boot.kind != FAT32 {
		vol, err := openLegacy(dev, boot)
		if err != nil {
			return nil, fmt.Errorf("read %s filesystem: %w", boot.kind, err)
		}
		return newFileSystem(dev, vol, boot.kind), nil
	}

	d, err := openDisk(dev)
	if err != nil {
		return nil, err
	}
	fsys, err := d.GetFilesystem(0)
	if err != nil {
		return nil, fmt.Errorf("read FAT filesystem: %w", err)
	}
	if fsys.Type() != filesystem.TypeFat32 {
		return nil, fmt.Errorf("unsupported filesystem type %v", fsys.Type())
	}
	return newFileSystem(dev, &diskfsVolume{FileSystem: fsys, disk: d}, FAT32), nil
}

// Format creates an empty FAT32 filesystem over all of dev.
func Format(dev *blockdev.Device, label string) (*FileSystem, error) {
	return FormatKind(dev, FAT32, label)
}

// FormatKind creates an empty filesystem of the given variant over all of
// dev. FAT12 and FAT16 reject devices whose size puts the cluster count out
// of range for the variant.
func FormatKind(dev *blockdev.Device, kind Kind, label string) (*FileSystem, error) {
	switch kind {
	case FAT12, FAT16:
		if err := formatLegacy(dev, kind, label); err != nil {
			return nil, err
		}
		return Open(dev)
	case FAT32:
	default:
		return nil, fmt.Errorf("format: unsupported FAT variant %s", kind)
	}

	d, err := openDisk(dev)
	if err != nil {
		return nil, err
	}
	fsys, err := d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: label,
	})
	if err != nil {
		return nil, fmt.Errorf("create FAT filesystem: %w", err)
	}
	return newFileSystem(dev, &diskfsVolume{FileSystem: fsys, disk: d}, FAT32), nil
}

// Kind returns the FAT variant.
func (f *FileSystem) Kind() Kind { return f.kind }

// Label returns the volume label.
func (f *FileSystem) Label() string {
	return strings.TrimSpace(f.vol.Label())
}

// cleanPath normalizes name to an absolute slash-separated path. The root
// itself is not a valid file name.
func cleanPath(name string) (string, error) {
	p := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	if p == "/" {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return p, nil
}

// lookup resolves p segment by segment, matching names case-insensitively,
// and returns the on-disk spelling. Missing components yield fs.ErrNotExist.
func (f *FileSystem) lookup(op, p string) (string, bool, error) {
	resolved := "/"
	isDir := true
	for _, seg := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if !isDir {
			return "", false, &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
		}
		entries, err := f.vol.ReadDir(resolved)
		if err != nil {
			return "", false, fmt.Errorf("read directory %s: %w", resolved, err)
		}
		found := false
		for _, e := range entries {
			if strings.EqualFold(e.Name(), seg) {
				resolved = path.Join(resolved, e.Name())
				isDir = e.IsDir()
				found = true
				break
			}
		}
		if !found {
			return "", false, &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
		}
	}
	return resolved, isDir, nil
}

// ReadFile returns the content of name. A missing file or directory returns
// an error matching fs.ErrNotExist.
func (f *FileSystem) ReadFile(name string) (string, error) {
	p, err := cleanPath(name)
	if err != nil {
		return "", err
	}
	actual, isDir, err := f.lookup("read", p)
	if err != nil {
		return "", err
	}
	if isDir {
		return "", fmt.Errorf("read %s: is a directory", p)
	}

	data, err := f.vol.ReadFile(actual)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile replaces name with content, creating missing parent directories.
func (f *FileSystem) WriteFile(name, content string) error {
	p, err := cleanPath(name)
	if err != nil {
		return err
	}
	target, err := f.prepare(p)
	if err != nil {
		return err
	}

	if err := f.vol.WriteFile(target, []byte(content)); err != nil {
		return err
	}
	f.logger.Debugf("Wrote %d bytes to %s", len(content), target)
	return nil
}

// prepare makes sure the parent of p exists and that no old copy of p is
// left, returning the path to create.
func (f *FileSystem) prepare(p string) (string, error) {
	dir, base := path.Split(p)
	dir = path.Clean(dir)

	parent := "/"
	if dir != "/" {
		actual, isDir, err := f.lookup("mkdir", dir)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if err := f.vol.Mkdir(dir); err != nil {
				return "", fmt.Errorf("create directory %s: %w", dir, err)
			}
			parent = dir
		case err != nil:
			return "", err
		case !isDir:
			return "", fmt.Errorf("create %s: %s is not a directory", p, actual)
		default:
			parent = actual
		}
	}

	existing, isDir, err := f.lookup("write", path.Join(parent, base))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return path.Join(parent, base), nil
	case err != nil:
		return "", err
	case isDir:
		return "", fmt.Errorf("write %s: is a directory", p)
	}
	if err := f.vol.Remove(existing); err != nil {
		return "", fmt.Errorf("replace %s: %w", existing, err)
	}
	return existing, nil
}

// Entry is one directory listing item.
type Entry struct {
	Name  string
	IsDir bool
}

// List returns the entries of dir, "/" being the root.
func (f *FileSystem) List(dir string) ([]Entry, error) {
	p := path.Clean("/" + dir)
	actual := "/"
	if p != "/" {
		var (
			isDir bool
			err   error
		)
		actual, isDir, err = f.lookup("list", p)
		if err != nil {
			return nil, err
		}
		if !isDir {
			return nil, fmt.Errorf("list %s: not a directory", p)
		}
	}
	entries, err := f.vol.ReadDir(actual)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", actual, err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		out = append(out, Entry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

// Sync flushes the underlying device.
func (f *FileSystem) Sync() error {
	return f.dev.Sync()
}

// Close releases the filesystem and closes the device.
func (f *FileSystem) Close() error {
	var errs []error
	if err := f.vol.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := f.dev.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
