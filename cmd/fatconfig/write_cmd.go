package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Write command flags
var (
	writeManifest string
)

// createWriteCommand creates the write subcommand
func createWriteCommand() *cobra.Command {
	writeCmd := &cobra.Command{
		Use:   "write [flags] IMAGE_FILE [ADDR=FILE=CONTENT|ADDR=FILE=@PATH ...]",
		Short: "Write files to FAT partitions of an image",
		Long: `Write stages each named partition in a temporary file, writes the
files into its FAT filesystem and copies the partition back into the image.
Existing files are replaced and missing parent directories are created.
The image is left untouched when writing any file of a partition fails.

A value starting with @ is read from the local file it names.

Examples:
  fatconfig write rpi.img 4:1=config.json='{"hello":"world"}'
  fatconfig write rpi.img 1=config.txt=@./config.txt
  fatconfig write rpi.img --data manifest.yaml`,
		Args:              cobra.MinimumNArgs(1),
		RunE:              executeWrite,
		ValidArgsFunction: imageFileCompletion,
	}

	writeCmd.Flags().StringVar(&writeManifest, "data", "",
		"Manifest file whose write section lists the files to write")
	return writeCmd
}

// parseWriteArgs turns ADDR=FILE=VALUE arguments into a write request.
func parseWriteArgs(args []string, into map[string]map[string]string) error {
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid argument %q, expected ADDR=FILE=CONTENT or ADDR=FILE=@PATH", arg)
		}
		addr, name, value := parts[0], parts[1], parts[2]
		if src, ok := strings.CutPrefix(value, "@"); ok {
			b, err := os.ReadFile(src)
			if err != nil {
				return fmt.Errorf("read content for %s:%s: %w", addr, name, err)
			}
			value = string(b)
		}
		if into[addr] == nil {
			into[addr] = map[string]string{}
		}
		into[addr][name] = value
	}
	return nil
}

// executeWrite handles the write command execution logic
func executeWrite(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile := args[0]

	m, err := loadManifestFlag(writeManifest)
	if err != nil {
		return err
	}
	request := make(map[string]map[string]string, len(m.Write))
	for addr, files := range m.Write {
		request[addr] = make(map[string]string, len(files))
		for name, content := range files {
			request[addr][name] = content
		}
	}
	if err := parseWriteArgs(args[1:], request); err != nil {
		return err
	}
	if len(request) == 0 {
		return fmt.Errorf("nothing to write: pass ADDR=FILE=CONTENT arguments or --data")
	}

	count := 0
	for _, files := range request {
		count += len(files)
	}
	log.Infof("Writing %d file(s) to %d partition(s) of %s", count, len(request), imageFile)

	if err := newEditor().Write(cmd.Context(), imageFile, request); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d file(s) to %d partition(s)\n", count, len(request))
	return nil
}
