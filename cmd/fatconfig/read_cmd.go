package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Read command flags
var (
	readManifest string
	readFormat   = newChoiceValue("text", "text", "json", "yaml")
)

// createReadCommand creates the read subcommand
func createReadCommand() *cobra.Command {
	readCmd := &cobra.Command{
		Use:   "read [flags] IMAGE_FILE [ADDR=FILE ...]",
		Short: "Print files stored on FAT partitions of an image",
		Long: `Read copies each named partition out of the image, opens its FAT
filesystem and prints the requested files. Files that do not exist are
reported as missing (null in json and yaml output).

Examples:
  fatconfig read rpi.img 1=cmdline.txt 4:1=config.json
  fatconfig read rpi.img --data manifest.yaml --format json`,
		Args:              cobra.MinimumNArgs(1),
		RunE:              executeRead,
		ValidArgsFunction: imageFileCompletion,
	}

	readCmd.Flags().StringVar(&readManifest, "data", "",
		"Manifest file whose read section lists the files to print")
	readCmd.Flags().Var(readFormat, "format", "Output format: text, json or yaml")
	return readCmd
}

// parseReadArgs turns ADDR=FILE arguments into a read request.
func parseReadArgs(args []string, into map[string][]string) error {
	for _, arg := range args {
		addr, name, ok := strings.Cut(arg, "=")
		if !ok || addr == "" || name == "" {
			return fmt.Errorf("invalid argument %q, expected ADDR=FILE", arg)
		}
		into[addr] = append(into[addr], name)
	}
	return nil
}

// executeRead handles the read command execution logic
func executeRead(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile := args[0]

	m, err := loadManifestFlag(readManifest)
	if err != nil {
		return err
	}
	request := make(map[string][]string, len(m.Read))
	for addr, names := range m.Read {
		request[addr] = append(request[addr], names...)
	}
	if err := parseReadArgs(args[1:], request); err != nil {
		return err
	}
	if len(request) == 0 {
		return fmt.Errorf("nothing to read: pass ADDR=FILE arguments or --data")
	}

	log.Infof("Reading %d partition(s) of %s", len(request), imageFile)
	result, err := newEditor().Read(cmd.Context(), imageFile, request)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	return writeReadResult(cmd.OutOrStdout(), result, readFormat.String())
}

func writeReadResult(out io.Writer, result map[string]map[string]*string, format string) error {
	switch format {
	case "json":
		b, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(b))
		return nil

	case "yaml":
		b, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, _ = fmt.Fprint(out, string(b))
		return nil

	case "text":
		addrs := make([]string, 0, len(result))
		for addr := range result {
			addrs = append(addrs, addr)
		}
		sort.Strings(addrs)
		for _, addr := range addrs {
			names := make([]string, 0, len(result[addr]))
			for name := range result[addr] {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				content := result[addr][name]
				if content == nil {
					fmt.Fprintf(out, "==> [%s] %s <== (missing)\n", addr, name)
					continue
				}
				fmt.Fprintf(out, "==> [%s] %s <==\n%s", addr, name, *content)
				if !strings.HasSuffix(*content, "\n") {
					fmt.Fprintln(out)
				}
			}
		}
		return nil

	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
