package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-edge-platform/fatconfig/internal/config"
	"github.com/open-edge-platform/fatconfig/internal/staging"
	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"github.com/spf13/cobra"
)

// resetFlags resets every command flag and injection point to its default.
func resetFlags() {
	configFile, logLevel, tempDir, showProgress = "", "", "", false
	readManifest, writeManifest = "", ""
	readFormat = newChoiceValue("text", "text", "json", "yaml")
	locateFormat = newChoiceValue("text", "text", "json")
	outputFormat = newChoiceValue("text", "text", "json", "yaml")
	extractCompression = newChoiceValue("", "", "none", "gzip", "zstd", "xz")
	prettyJSON, hashImages, listFiles = false, false, false
	progressOutput = io.Discard
}

// setupCLI resets flags and restores the global configuration after the test.
func setupCLI(t *testing.T) {
	t.Helper()
	orig := config.Global()
	origLevel := logger.Level()
	origEditor, origInspector := newEditor, newInspector
	resetFlags()
	t.Cleanup(func() {
		config.SetGlobal(orig)
		_ = logger.SetLevel(origLevel)
		newEditor, newInspector = origEditor, origInspector
		resetFlags()
	})
}

// helper: execute a cobra command and capture output.
func execCmd(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// runRoot runs the root command with a private temp dir.
func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execCmd(t, createRootCommand(), append(args, "--temp-dir", t.TempDir())...)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCreateRootCommand(t *testing.T) {
	setupCLI(t)
	cmd := createRootCommand()

	for _, name := range []string{"read", "write", "locate", "inspect", "extract", "validate"} {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	for _, name := range []string{"config", "log-level", "temp-dir", "progress"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("persistent flag --%s not registered", name)
		}
	}
}

func TestInitConfig(t *testing.T) {
	setupCLI(t)
	dir := t.TempDir()
	cfgPath := writeFile(t, "config.yaml", "log_level: debug\nprogress: true\nsector_size: 512\n")
	manifest := writeFile(t, "m.yaml", "read:\n  \"1\": [cmdline.txt]\n")

	_, err := execCmd(t, createRootCommand(), "validate", manifest, "--config", cfgPath, "--temp-dir", dir)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	cfg := config.Global()
	if cfg.TempDir != dir || cfg.LogLevel != "debug" || !cfg.Progress {
		t.Fatalf("flags and file not applied: %+v", cfg)
	}
	if progressFunc() == nil {
		t.Fatal("progress enabled but no bar factory")
	}
}

func TestInitConfigErrors(t *testing.T) {
	setupCLI(t)
	manifest := writeFile(t, "m.yaml", "read:\n  \"1\": [cmdline.txt]\n")

	if _, err := runRoot(t, "validate", manifest, "--log-level", "loud"); err == nil {
		t.Error("expected error for an unknown log level")
	}
	resetFlags()
	if _, err := runRoot(t, "validate", manifest, "--config", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing config file")
	}
	resetFlags()
	bad := writeFile(t, "config.yaml", "sector_size: 1000\n")
	if _, err := runRoot(t, "validate", manifest, "--config", bad); err == nil {
		t.Error("expected error for an invalid sector size")
	}
}

func TestChoiceValue(t *testing.T) {
	v := newChoiceValue("text", "text", "json")
	if err := v.Set("JSON"); err != nil || v.String() != "json" {
		t.Fatalf("Set(JSON): %v, value %q", err, v.String())
	}
	if err := v.Set("xml"); err == nil {
		t.Fatal("expected error for xml")
	}
	if v.String() != "json" {
		t.Fatalf("failed Set changed the value to %q", v.String())
	}
	if v.Type() != "string" {
		t.Fatalf("Type()=%q", v.Type())
	}
}

func TestShellCompletion(t *testing.T) {
	completions, directive := imageFileCompletion(nil, nil, "")
	if directive != cobra.ShellCompDirectiveFilterFileExt || len(completions) == 0 {
		t.Errorf("image completion: %v %d", completions, directive)
	}
	if _, directive := imageFileCompletion(nil, []string{"rpi.img"}, ""); directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("expected no file completion after the image, got %d", directive)
	}
	completions, directive = manifestFileCompletion(nil, nil, "")
	if directive != cobra.ShellCompDirectiveFilterFileExt || len(completions) != 3 {
		t.Errorf("manifest completion: %v %d", completions, directive)
	}
}

func TestFinishRemovesLeftoverStagingFiles(t *testing.T) {
	reg := staging.NewRegistry()
	leftover := writeFile(t, "stage-partial.img", "x")
	reg.Add(leftover)

	stopped := false
	finish(reg, func() { stopped = true })

	if !stopped {
		t.Error("signal handler was not stopped")
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Errorf("staging file still present: %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("registry still tracks %d file(s)", reg.Len())
	}
}
