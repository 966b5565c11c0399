package main

import (
	"encoding/json"
	"fmt"

	"github.com/open-edge-platform/fatconfig/internal/config"
	"github.com/open-edge-platform/fatconfig/internal/partition"
	"github.com/spf13/cobra"
)

// Locate command flags
var (
	locateFormat = newChoiceValue("text", "text", "json")
)

// locateResult is the locate output.
type locateResult struct {
	Partition string `json:"partition"`
	Type      string `json:"type"`
	StartLBA  uint32 `json:"startLba"`
	Sectors   uint32 `json:"sectors"`
	Offset    int64  `json:"offset"`
	Size      int64  `json:"size"`
	End       int64  `json:"end"`
}

// createLocateCommand creates the locate subcommand
func createLocateCommand() *cobra.Command {
	locateCmd := &cobra.Command{
		Use:   "locate [flags] IMAGE_FILE ADDR",
		Short: "Print the byte range of a partition",
		Long: `Locate resolves a partition address against the partition tables of
the image and prints where the partition lives, in bytes from the start of the
image. Logical partitions report their absolute position.`,
		Args:              cobra.ExactArgs(2),
		RunE:              executeLocate,
		ValidArgsFunction: imageFileCompletion,
	}

	locateCmd.Flags().Var(locateFormat, "format", "Output format: text or json")
	return locateCmd
}

// executeLocate handles the locate command execution logic
func executeLocate(cmd *cobra.Command, args []string) error {
	imageFile := args[0]
	addr, err := partition.ParseAddress(args[1])
	if err != nil {
		return err
	}

	loc := partition.NewLocator(partition.WithSectorSize(config.Global().SectorSize))
	res, err := loc.Resolve(cmd.Context(), imageFile, addr)
	if err != nil {
		return fmt.Errorf("locate failed: %w", err)
	}

	out := locateResult{
		Partition: res.Address.String(),
		Type:      fmt.Sprintf("0x%02x", res.Entry.Type),
		StartLBA:  uint32(res.Offset / loc.SectorSize()),
		Sectors:   res.Entry.Sectors,
		Offset:    res.Offset,
		Size:      res.Size,
		End:       res.End(),
	}

	if locateFormat.String() == "json" {
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "partition %s: type %s, offset %d, size %d, end %d (LBA %d, %d sectors)\n",
		out.Partition, out.Type, out.Offset, out.Size, out.End, out.StartLBA, out.Sectors)
	return nil
}
