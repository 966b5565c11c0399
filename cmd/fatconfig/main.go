// Command fatconfig reads and writes files on the FAT partitions of raw disk
// images without mounting them.
package main

import (
	"fmt"
	"os"

	"github.com/open-edge-platform/fatconfig/internal/config"
	"github.com/open-edge-platform/fatconfig/internal/staging"
	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Global command flags
var (
	configFile   string
	logLevel     string
	tempDir      string
	showProgress bool
)

// createRootCommand creates the fatconfig root command and its subcommands
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fatconfig",
		Short: "Read and write files on FAT partitions of raw disk images",
		Long: `fatconfig edits configuration files on the FAT partitions of a raw disk
image (SD card or USB stick images) without mounting anything.

Partitions are addressed as "N" for primary slot N of the master boot record
or "N:M" for logical partition M inside the extended partition in slot N.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Path to the global configuration file (YAML)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides the configuration file)")
	pf.StringVar(&tempDir, "temp-dir", "", "Directory for staged partition copies (overrides the configuration file)")
	pf.BoolVar(&showProgress, "progress", false, "Show progress bars while partitions are copied")

	rootCmd.AddCommand(
		createReadCommand(),
		createWriteCommand(),
		createLocateCommand(),
		createInspectCommand(),
		createExtractCommand(),
		createValidateCommand(),
	)
	return rootCmd
}

// initConfig loads the global configuration and applies the flag overrides.
func initConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGlobalConfig(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if tempDir != "" {
		cfg.TempDir = tempDir
	}
	if showProgress {
		cfg.Progress = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	config.SetGlobal(cfg)
	return nil
}

// finish stops signal handling and removes staging files an aborted operation
// left registered.
func finish(reg *staging.Registry, stop func()) {
	stop()
	if err := reg.Cleanup(); err != nil {
		logger.Logger().Warnf("Staging cleanup failed: %v", err)
	}
	logger.Sync()
}

func main() {
	reg := staging.DefaultRegistry()
	stop := reg.HandleSignals()

	err := createRootCommand().Execute()
	finish(reg, stop)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
