package main

import (
	"fmt"
	"io"

	"github.com/open-edge-platform/fatconfig/internal/config"
	"github.com/open-edge-platform/fatconfig/internal/image/imageexport"
	"github.com/open-edge-platform/fatconfig/internal/partition"
	"github.com/open-edge-platform/fatconfig/internal/utils/compression"
	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Extract command flags
var (
	extractCompression = newChoiceValue("", "", "none", "gzip", "zstd", "xz")
)

// createExtractCommand creates the extract subcommand
func createExtractCommand() *cobra.Command {
	extractCmd := &cobra.Command{
		Use:   "extract [flags] IMAGE_FILE ADDR OUTPUT_FILE",
		Short: "Copy one partition out of an image",
		Long: `Extract writes the raw bytes of one partition to a file, optionally
compressed. Without --compression the format follows the output extension
(.gz, .zst, .xz, anything else is raw).`,
		Args:              cobra.ExactArgs(3),
		RunE:              executeExtract,
		ValidArgsFunction: imageFileCompletion,
	}

	extractCmd.Flags().Var(extractCompression, "compression",
		"Output compression: none, gzip, zstd or xz (default: from the output extension)")
	return extractCmd
}

// executeExtract handles the extract command execution logic
func executeExtract(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile, output := args[0], args[2]
	addr, err := partition.ParseAddress(args[1])
	if err != nil {
		return err
	}

	opts := imageexport.Options{
		Locator: partition.NewLocator(partition.WithSectorSize(config.Global().SectorSize)),
	}
	if s := extractCompression.String(); s != "" {
		if opts.Compression, err = compression.ParseType(s); err != nil {
			return err
		}
	}
	if bar := progressFunc(); bar != nil {
		res, err := opts.Locator.Resolve(cmd.Context(), imageFile, addr)
		if err != nil {
			return fmt.Errorf("extract failed: %w", err)
		}
		opts.Progress = bar(fmt.Sprintf("Extracting partition %s", addr), res.Size)
		if c, ok := opts.Progress.(io.Closer); ok {
			defer c.Close()
		}
	}

	log.Infof("Extracting partition %s of %s to %s", addr, imageFile, output)
	res, err := imageexport.Export(cmd.Context(), imageFile, addr, output, opts)
	if err != nil {
		return fmt.Errorf("extract failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "partition %s: %d bytes written to %s (%s)\n",
		res.Partition.Address, res.OutputBytes, res.Output, res.Compression)
	return nil
}
