package main

import (
	"encoding/json"
	"fmt"

	"github.com/open-edge-platform/fatconfig/internal/image/imageinspect"
	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// cmd needs only this method.
type inspector interface {
	Inspect(imagePath string) (*imageinspect.ImageSummary, error)
}

// Allow tests to inject a fake inspector.
var newInspector = func(hash, listFiles bool) inspector {
	d := imageinspect.NewInspector(hash)
	d.ListFiles = listFiles
	return d
}

// Inspect command flags
var (
	outputFormat = newChoiceValue("text", "text", "json", "yaml")
	prettyJSON   bool
	hashImages   bool
	listFiles    bool
)

// createInspectCommand creates the inspect subcommand
func createInspectCommand() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect [flags] IMAGE_FILE",
		Short: "Inspects the partition layout of an image",
		Long: `Inspect lists every primary and logical partition of a raw image
with the address to use with read and write, its type and its position, and
reads the boot sector of each FAT filesystem found. Images compressed with
gzip, zstd or xz are decompressed to a temporary file first.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeInspect,
		ValidArgsFunction: imageFileCompletion,
	}

	inspectCmd.Flags().Var(outputFormat, "format",
		"Specify the output format for the inspection results: text, json or yaml")
	inspectCmd.Flags().BoolVar(&prettyJSON, "pretty", false,
		"Pretty-print JSON output (only for --format json)")
	inspectCmd.Flags().BoolVar(&hashImages, "hash", false,
		"Compute SHA256 of the image and of every listed file")
	inspectCmd.Flags().BoolVar(&listFiles, "files", false,
		"List the files stored on each FAT filesystem")
	return inspectCmd
}

// executeInspect handles the inspect command execution logic
func executeInspect(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile := args[0]
	log.Infof("Inspecting image file: %s", imageFile)

	summary, err := newInspector(hashImages, listFiles || hashImages).Inspect(imageFile)
	if err != nil {
		return fmt.Errorf("image inspection failed: %w", err)
	}
	return writeInspectionResult(cmd, summary, outputFormat.String(), prettyJSON)
}

func writeInspectionResult(cmd *cobra.Command, summary *imageinspect.ImageSummary, format string, pretty bool) error {
	out := cmd.OutOrStdout()

	switch format {
	case "text":
		imageinspect.PrintSummary(out, summary)
		return nil

	case "json":
		var (
			b   []byte
			err error
		)
		if pretty {
			b, err = json.MarshalIndent(summary, "", "  ")
		} else {
			b, err = json.Marshal(summary)
		}
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(b))
		return nil

	case "yaml":
		b, err := yaml.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, _ = fmt.Fprint(out, string(b))
		return nil

	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
