// Package staging copies a partition out of a disk image into a temporary
// file, runs FAT file operations on the copy and, for writes, splices the copy
// back into the image.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/open-edge-platform/fatconfig/internal/blockdev"
	"github.com/open-edge-platform/fatconfig/internal/fatfs"
	"github.com/open-edge-platform/fatconfig/internal/partition"
	"github.com/open-edge-platform/fatconfig/internal/utils/file"
	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTempPrefix      = "fatconfig-"
	DefaultFreeSpaceMargin = 0.10
)

// ProgressFunc returns a writer that is fed every byte of a transfer of total
// bytes described by desc. It may return nil to skip reporting.
type ProgressFunc func(desc string, total int64) io.Writer

// Orchestrator runs staged read and write operations.
type Orchestrator struct {
	locator         *partition.Locator
	tempDir         string
	tempPrefix      string
	sectorSize      int64
	freeSpaceMargin float64
	progress        ProgressFunc
	registry        *Registry
	logger          *zap.SugaredLogger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTempDir sets where staging files are created. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(o *Orchestrator) { o.tempDir = dir }
}

// WithTempPrefix sets the staging file name prefix.
func WithTempPrefix(prefix string) Option {
	return func(o *Orchestrator) { o.tempPrefix = prefix }
}

// WithSectorSize sets the sector size of the staged block device.
func WithSectorSize(n int64) Option {
	return func(o *Orchestrator) { o.sectorSize = n }
}

// WithProgress reports extraction and splice progress.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithRegistry tracks staging files in r instead of the default registry.
func WithRegistry(r *Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithFreeSpaceMargin sets the headroom required in the temp dir on top of
// the partition size. A negative margin disables the check.
func WithFreeSpaceMargin(margin float64) Option {
	return func(o *Orchestrator) { o.freeSpaceMargin = margin }
}

// New returns an Orchestrator. A nil locator gets one using the configured
// sector size.
func New(locator *partition.Locator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tempPrefix:      DefaultTempPrefix,
		sectorSize:      blockdev.DefaultSectorSize,
		freeSpaceMargin: DefaultFreeSpaceMargin,
		registry:        DefaultRegistry(),
		logger:          logger.Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tempDir == "" {
		o.tempDir = os.TempDir()
	}
	if locator == nil {
		locator = partition.NewLocator(partition.WithSectorSize(o.sectorSize))
	}
	o.locator = locator
	return o
}

// Locator returns the locator used to resolve addresses.
func (o *Orchestrator) Locator() *partition.Locator {
	return o.locator
}

// session is one staged partition. FAT access goes through mu.
type session struct {
	id       string
	path     string
	resolved *partition.Resolved
	fs       *fatfs.FileSystem
	mu       sync.Mutex
	registry *Registry
}

func (s *session) close() error {
	var errs []error
	if s.fs != nil {
		if err := s.fs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close staged filesystem: %w", err))
		}
		s.fs = nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove staging file: %w", err))
	}
	s.registry.Remove(s.path)
	return errors.Join(errs...)
}

func (o *Orchestrator) progressWriter(desc string, total int64) []file.CopyOption {
	if o.progress == nil {
		return nil
	}
	if w := o.progress(desc, total); w != nil {
		return []file.CopyOption{file.WithProgress(w)}
	}
	return nil
}

// stage copies the partition at res into a fresh temporary file and opens
// its FAT filesystem. The caller must close the session.
func (o *Orchestrator) stage(ctx context.Context, imagePath string, res *partition.Resolved) (_ *session, err error) {
	id := uuid.NewString()[:8]
	tmp, err := os.CreateTemp(o.tempDir, o.tempPrefix+id+"-*.img")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	s := &session{id: id, path: tmp.Name(), resolved: res, registry: o.registry}
	o.registry.Add(s.path)
	tmp.Close()

	defer func() {
		if err != nil {
			if cerr := s.close(); cerr != nil {
				o.logger.Warnf("Staging cleanup for %s failed: %v", s.path, cerr)
			}
		}
	}()

	opts := o.progressWriter(fmt.Sprintf("Extracting partition %s", res.Address), res.Size)
	if o.freeSpaceMargin >= 0 {
		opts = append(opts, file.WithFreeSpaceCheck(o.freeSpaceMargin))
	}
	o.logger.Debugf("Staging partition %s (%d bytes at offset %d) into %s", res.Address, res.Size, res.Offset, s.path)
	if err := file.CopyRange(ctx, imagePath, s.path, res.Offset, res.End(), opts...); err != nil {
		return nil, fmt.Errorf("extract partition %s: %w", res.Address, err)
	}

	dev, err := blockdev.Open(s.path, o.sectorSize)
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", res.Address, err)
	}
	fsys, err := fatfs.Open(dev)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("open FAT filesystem on partition %s: %w", res.Address, err)
	}
	o.logger.Debugf("Partition %s holds %s volume %q", res.Address, fsys.Kind(), fsys.Label())
	s.fs = fsys
	return s, nil
}

func (o *Orchestrator) finish(s *session) {
	if err := s.close(); err != nil {
		o.logger.Warnf("Staging cleanup for %s failed: %v", s.path, err)
	}
}

// ReadFiles returns the content of each named file in the partition at addr.
// Files that do not exist map to nil. The result has exactly the requested
// names as keys.
func (o *Orchestrator) ReadFiles(ctx context.Context, imagePath string, addr partition.Address, names []string) (map[string]*string, error) {
	res, err := o.locator.Resolve(ctx, imagePath, addr)
	if err != nil {
		return nil, err
	}
	result := make(map[string]*string, len(names))
	if len(names) == 0 {
		return result, nil
	}

	s, err := o.stage(ctx, imagePath, res)
	if err != nil {
		return nil, err
	}
	defer o.finish(s)

	var resultMu sync.Mutex
	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			s.mu.Lock()
			content, err := s.fs.ReadFile(name)
			s.mu.Unlock()

			switch {
			case errors.Is(err, fs.ErrNotExist):
				o.logger.Debugf("File %s not found on partition %s", name, addr)
				resultMu.Lock()
				result[name] = nil
				resultMu.Unlock()
				return nil
			case err != nil:
				return fmt.Errorf("read %s from partition %s: %w", name, addr, err)
			}
			resultMu.Lock()
			result[name] = &content
			resultMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// WriteFiles writes every name/content pair into the partition at addr and
// splices the partition back into the image. The image is left untouched if
// any write fails.
func (o *Orchestrator) WriteFiles(ctx context.Context, imagePath string, addr partition.Address, files map[string]string) error {
	res, err := o.locator.Resolve(ctx, imagePath, addr)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	s, err := o.stage(ctx, imagePath, res)
	if err != nil {
		return err
	}
	defer o.finish(s)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var g errgroup.Group
	for _, name := range names {
		content := files[name]
		g.Go(func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if err := s.fs.WriteFile(name, content); err != nil {
				return fmt.Errorf("write %s to partition %s: %w", name, addr, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.fs.Sync(); err != nil {
		return fmt.Errorf("sync staged partition %s: %w", addr, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := o.progressWriter(fmt.Sprintf("Writing partition %s", addr), res.Size)
	n, err := file.StreamToPosition(ctx, s.path, imagePath, res.Offset, opts...)
	if err != nil {
		return fmt.Errorf("write back partition %s: %w", addr, err)
	}
	if n != res.Size {
		return fmt.Errorf("write back partition %s: wrote %d of %d bytes", addr, n, res.Size)
	}
	o.logger.Infof("Updated %d file(s) on partition %s of %s", len(files), addr, imagePath)
	return nil
}
