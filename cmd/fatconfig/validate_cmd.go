package main

import (
	"fmt"

	"github.com/open-edge-platform/fatconfig/internal/config"
	"github.com/open-edge-platform/fatconfig/internal/imageconfig"
	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"github.com/spf13/cobra"
)

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [flags] MANIFEST_FILE",
		Short: "Validate a read/write manifest",
		Long: `Validate checks a manifest file against the manifest schema without
touching any image. The manifest may be YAML or JSON and must contain a read
section, a write section, or both.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeValidate,
		ValidArgsFunction: manifestFileCompletion,
	}
	return validateCmd
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	manifestFile := args[0]
	log.Infof("validating manifest file: %s", manifestFile)

	m, err := config.LoadManifest(manifestFile)
	if err != nil {
		return fmt.Errorf("manifest validation failed: %w", err)
	}

	// The schema only checks the address grammar.
	for _, keys := range [][]string{mapKeys(m.Read), mapKeys(m.Write)} {
		if err := imageconfig.ValidateAddresses(keys); err != nil {
			return fmt.Errorf("manifest validation failed: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Manifest validation successful\n")
	fmt.Fprintf(out, "  Read:  %d partition(s)\n", len(m.Read))
	fmt.Fprintf(out, "  Write: %d partition(s)\n", len(m.Write))
	return nil
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
