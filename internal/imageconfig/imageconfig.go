// Package imageconfig reads and writes files on the FAT partitions of a raw
// disk image.
//
// Data is keyed by partition address ("1", "4:1", ...):
//
//	err := imageconfig.Write(ctx, "rpi.img", map[string]map[string]string{
//		"4:1": {"config.json": `{"hello":"world"}`},
//	})
//
//	res, err := imageconfig.Read(ctx, "rpi.img", map[string][]string{
//		"4:1": {"config.json"},
//	})
//	fmt.Println(*res["4:1"]["config.json"])
//
// Every address is handled concurrently. The first failure is returned and
// the remaining results are discarded.
package imageconfig

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/open-edge-platform/fatconfig/internal/config"
	"github.com/open-edge-platform/fatconfig/internal/partition"
	"github.com/open-edge-platform/fatconfig/internal/staging"
	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrDuplicateAddress is returned when two keys name the same partition,
// e.g. "4:1" and "04:01", or "1" and "1:0".
var ErrDuplicateAddress = errors.New("duplicate partition address")

// Editor runs reads and writes through a staging orchestrator.
type Editor struct {
	orchestrator *staging.Orchestrator
	logger       *zap.SugaredLogger
}

// NewEditor returns an Editor using o.
func NewEditor(o *staging.Orchestrator) *Editor {
	return &Editor{orchestrator: o, logger: logger.Logger()}
}

// NewEditorFromConfig builds an Editor from cfg. extra options are applied
// after the ones derived from cfg.
func NewEditorFromConfig(cfg *config.GlobalConfig, extra ...staging.Option) *Editor {
	opts := []staging.Option{
		staging.WithTempDir(cfg.TempDir),
		staging.WithTempPrefix(cfg.TempPrefix),
		staging.WithSectorSize(cfg.SectorSize),
		staging.WithFreeSpaceMargin(cfg.FreeSpaceMargin),
	}
	opts = append(opts, extra...)
	loc := partition.NewLocator(partition.WithSectorSize(cfg.SectorSize))
	return NewEditor(staging.New(loc, opts...))
}

// DefaultEditor returns an Editor for the global configuration.
func DefaultEditor() *Editor {
	return NewEditorFromConfig(config.Global())
}

// parseAddresses parses every key up front, in sorted order.
func parseAddresses(keys []string) ([]string, map[string]partition.Address, error) {
	sort.Strings(keys)
	parsed := make(map[string]partition.Address, len(keys))
	owner := make(map[partition.Address]string, len(keys))
	for _, key := range keys {
		addr, err := partition.ParseAddress(key)
		if err != nil {
			return nil, nil, err
		}
		target := addr.Target()
		if prev, ok := owner[target]; ok {
			return nil, nil, fmt.Errorf("%w: %q and %q both name partition %s", ErrDuplicateAddress, prev, key, target)
		}
		owner[target] = key
		parsed[key] = addr
	}
	return keys, parsed, nil
}

// ValidateAddresses checks that every key parses and that no two keys name
// the same partition.
func ValidateAddresses(keys []string) error {
	_, _, err := parseAddresses(append([]string(nil), keys...))
	return err
}

// Write writes the files of data into image. data maps a partition address
// to file name/content pairs.
func (e *Editor) Write(ctx context.Context, image string, data map[string]map[string]string) error {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	keys, addrs, err := parseAddresses(keys)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, key := range keys {
		g.Go(func() error {
			e.logger.Debugf("Writing %d file(s) to partition %s", len(data[key]), key)
			return e.orchestrator.WriteFiles(ctx, image, addrs[key], data[key])
		})
	}
	return g.Wait()
}

// Read returns the content of the files named in data. Results are keyed by
// the original address strings; missing files map to nil.
func (e *Editor) Read(ctx context.Context, image string, data map[string][]string) (map[string]map[string]*string, error) {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	keys, addrs, err := parseAddresses(keys)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	results := make(map[string]map[string]*string, len(keys))

	var g errgroup.Group
	for _, key := range keys {
		g.Go(func() error {
			files, err := e.orchestrator.ReadFiles(ctx, image, addrs[key], data[key])
			if err != nil {
				return err
			}
			mu.Lock()
			results[key] = files
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// WriteAsync runs Write in a new goroutine and calls done exactly once with
// its result.
func (e *Editor) WriteAsync(ctx context.Context, image string, data map[string]map[string]string, done func(error)) {
	go func() {
		done(e.Write(ctx, image, data))
	}()
}

// ReadAsync runs Read in a new goroutine and calls done exactly once with its
// result.
func (e *Editor) ReadAsync(ctx context.Context, image string, data map[string][]string, done func(map[string]map[string]*string, error)) {
	go func() {
		done(e.Read(ctx, image, data))
	}()
}

// Write writes data into image with the default editor.
func Write(ctx context.Context, image string, data map[string]map[string]string) error {
	return DefaultEditor().Write(ctx, image, data)
}

// Read reads data from image with the default editor.
func Read(ctx context.Context, image string, data map[string][]string) (map[string]map[string]*string, error) {
	return DefaultEditor().Read(ctx, image, data)
}

// WriteAsync is Write with a completion callback.
func WriteAsync(ctx context.Context, image string, data map[string]map[string]string, done func(error)) {
	DefaultEditor().WriteAsync(ctx, image, data, done)
}

// ReadAsync is Read with a completion callback.
func ReadAsync(ctx context.Context, image string, data map[string][]string, done func(map[string]map[string]*string, error)) {
	DefaultEditor().ReadAsync(ctx, image, data, done)
}
