// Package config holds the global tool configuration and the read/write
// manifests accepted by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultTempPrefix names every staging file.
	DefaultTempPrefix = "fatconfig-"

	// DefaultSectorSize is the sector size used for LBA arithmetic.
	DefaultSectorSize = 512

	// DefaultLogLevel is the log level when none is configured.
	DefaultLogLevel = "info"

	// DefaultFreeSpaceMargin is the headroom required in the temp dir on top
	// of a staged partition.
	DefaultFreeSpaceMargin = 0.10
)

// GlobalConfig is the tool-wide configuration file.
type GlobalConfig struct {
	// TempDir is where staging files and scratch data are created
	TempDir string `yaml:"temp_dir"`

	// TempPrefix prefixes staging file names
	TempPrefix string `yaml:"temp_prefix"`

	// SectorSize is the sector size of images, in bytes
	SectorSize int64 `yaml:"sector_size"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// Progress shows progress bars for partition copies
	Progress bool `yaml:"progress"`

	// FreeSpaceMargin is the fraction of extra free space required before
	// staging; a negative value disables the check
	FreeSpaceMargin float64 `yaml:"free_space_margin"`
}

// DefaultGlobalConfig returns the built-in configuration.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		TempDir:         os.TempDir(),
		TempPrefix:      DefaultTempPrefix,
		SectorSize:      DefaultSectorSize,
		LogLevel:        DefaultLogLevel,
		FreeSpaceMargin: DefaultFreeSpaceMargin,
	}
}

// Merge returns c with zero values taken from defaults.
func (c GlobalConfig) Merge(defaults *GlobalConfig) *GlobalConfig {
	merged := c
	if merged.TempDir == "" {
		merged.TempDir = defaults.TempDir
	}
	if merged.TempPrefix == "" {
		merged.TempPrefix = defaults.TempPrefix
	}
	if merged.SectorSize == 0 {
		merged.SectorSize = defaults.SectorSize
	}
	if merged.LogLevel == "" {
		merged.LogLevel = defaults.LogLevel
	}
	if merged.FreeSpaceMargin == 0 {
		merged.FreeSpaceMargin = defaults.FreeSpaceMargin
	}
	// Progress defaults to false, so an explicit false is kept.
	return &merged
}

// Validate checks the configuration for values the tool cannot run with.
func (c *GlobalConfig) Validate() error {
	var errs []error
	if c.TempDir == "" {
		errs = append(errs, errors.New("temp_dir must not be empty"))
	}
	if strings.ContainsAny(c.TempPrefix, `/\`) {
		errs = append(errs, fmt.Errorf("temp_prefix %q must not contain path separators", c.TempPrefix))
	}
	if c.SectorSize < 512 || c.SectorSize&(c.SectorSize-1) != 0 {
		errs = append(errs, fmt.Errorf("sector_size %d must be a power of two of at least 512", c.SectorSize))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if c.FreeSpaceMargin > 1 {
		errs = append(errs, fmt.Errorf("free_space_margin %.2f is larger than 1", c.FreeSpaceMargin))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// LoadGlobalConfig reads path, fills unset fields from the defaults and
// validates the result. An empty path returns the defaults.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	defaults := DefaultGlobalConfig()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg GlobalConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	merged := cfg.Merge(defaults)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	logger.Logger().Debugf("Loaded configuration from %s", path)
	return merged, nil
}

var (
	globalMu sync.RWMutex
	global   = DefaultGlobalConfig()
)

// Global returns the process-wide configuration.
func Global() *GlobalConfig {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// SetGlobal replaces the process-wide configuration.
func SetGlobal(cfg *GlobalConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = cfg
}

// EnsureTempDir creates and returns subdir under the configured temp dir.
func EnsureTempDir(subdir string) (string, error) {
	dir := filepath.Join(Global().TempDir, subdir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create temp dir %s: %w", dir, err)
	}
	return dir, nil
}
