package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadGlobalConfigDefaults(t *testing.T) {
	cfg, err := LoadGlobalConfig("")
	if err != nil {
		t.Fatalf("LoadGlobalConfig: %v", err)
	}
	if diff := cmp.Diff(DefaultGlobalConfig(), cfg); diff != "" {
		t.Fatalf("defaults differ (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoadGlobalConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, "config.yml", `
temp_dir: `+dir+`
sector_size: 4096
log_level: debug
progress: true
`)
	cfg, err := LoadGlobalConfig(p)
	if err != nil {
		t.Fatalf("LoadGlobalConfig: %v", err)
	}
	want := &GlobalConfig{
		TempDir:         dir,
		TempPrefix:      DefaultTempPrefix,
		SectorSize:      4096,
		LogLevel:        "debug",
		Progress:        true,
		FreeSpaceMargin: DefaultFreeSpaceMargin,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadGlobalConfigEmptyFile(t *testing.T) {
	cfg, err := LoadGlobalConfig(writeFile(t, "empty.yml", ""))
	if err != nil {
		t.Fatalf("LoadGlobalConfig: %v", err)
	}
	if diff := cmp.Diff(DefaultGlobalConfig(), cfg); diff != "" {
		t.Fatalf("empty file should give defaults (-want +got):\n%s", diff)
	}
}

func TestLoadGlobalConfigErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		errPart string
	}{
		{"unknown field", "tmp_dir: /tmp\n", "field tmp_dir not found"},
		{"bad sector size", "sector_size: 1000\n", "sector_size"},
		{"small sector size", "sector_size: 256\n", "sector_size"},
		{"bad log level", "log_level: loud\n", "log_level"},
		{"prefix with separator", "temp_prefix: a/b\n", "temp_prefix"},
		{"margin too large", "free_space_margin: 2\n", "free_space_margin"},
		{"not yaml", "sector_size: [\n", "parse config file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadGlobalConfig(writeFile(t, "config.yml", tc.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errPart) {
				t.Fatalf("error %q does not mention %q", err, tc.errPart)
			}
		})
	}

	if _, err := LoadGlobalConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMergeKeepsExplicitValues(t *testing.T) {
	c := GlobalConfig{TempPrefix: "x-", FreeSpaceMargin: -1}
	merged := c.Merge(DefaultGlobalConfig())
	if merged.TempPrefix != "x-" || merged.FreeSpaceMargin != -1 {
		t.Fatalf("explicit values overwritten: %+v", merged)
	}
	if merged.SectorSize != DefaultSectorSize || merged.LogLevel != DefaultLogLevel {
		t.Fatalf("zero values not filled: %+v", merged)
	}
}

func TestGlobalAndEnsureTempDir(t *testing.T) {
	orig := Global()
	t.Cleanup(func() { SetGlobal(orig) })

	cfg := DefaultGlobalConfig()
	cfg.TempDir = t.TempDir()
	SetGlobal(cfg)
	if Global() != cfg {
		t.Fatal("SetGlobal did not take effect")
	}

	dir, err := EnsureTempDir("image-inspect")
	if err != nil {
		t.Fatalf("EnsureTempDir: %v", err)
	}
	if dir != filepath.Join(cfg.TempDir, "image-inspect") {
		t.Fatalf("EnsureTempDir=%s", dir)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("temp dir not created: %v", err)
	}
}
