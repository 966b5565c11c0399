package imageinspect

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// PrintSummary prints a human-readable summary of the image inspection to the given writer.
func PrintSummary(w io.Writer, summary *ImageSummary) {
	if summary == nil {
		log.Errorf("PrintSummary: summary is nil")
		return
	}

	fmt.Fprintln(w, "Disk Image Summary")
	fmt.Fprintln(w, "==================")
	kv := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(kv, "Image:\t%s\n", summary.File)
	fmt.Fprintf(kv, "Size:\t%s (%d bytes)\n", humanBytes(summary.SizeBytes), summary.SizeBytes)
	fmt.Fprintf(kv, "Sector size:\t%d bytes\n", summary.SectorSize)
	if summary.DiskSignature != "" {
		fmt.Fprintf(kv, "Disk signature:\t%s\n", summary.DiskSignature)
	}
	if summary.SHA256 != "" {
		fmt.Fprintf(kv, "SHA256:\t%s\n", summary.SHA256)
	}
	if fs := summary.LargestFreeSpan; fs != nil {
		fmt.Fprintf(kv, "Largest free span:\tLBA %d-%d (%s)\n", fs.StartLBA, fs.EndLBA, humanBytes(int64(fs.SizeBytes)))
	}
	if len(summary.MisalignedPartitions) > 0 {
		fmt.Fprintf(kv, "Misaligned:\t%s\n", strings.Join(summary.MisalignedPartitions, ", "))
	}
	_ = kv.Flush()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Partitions")
	fmt.Fprintln(w, "----------")

	if len(summary.Partitions) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDR\tTYPE\tTYPE_NAME\tBOOT\tSTART(LBA)\tEND(LBA)\tSIZE\tFS\tLABEL/ID")
	for _, p := range summary.Partitions {
		fsType := "-"
		fsLabelOrID := "-"
		if p.Filesystem != nil {
			fsType = emptyIfWhitespace(p.Filesystem.Type)
			if p.Filesystem.FATType != "" {
				fsType = fmt.Sprintf("%s(%s)", fsType, p.Filesystem.FATType)
			}
			lbl := strings.TrimSpace(p.Filesystem.Label)
			id := strings.TrimSpace(p.Filesystem.VolumeID)
			switch {
			case lbl != "" && id != "":
				fsLabelOrID = fmt.Sprintf("%s (%s)", lbl, id)
			case lbl != "":
				fsLabelOrID = lbl
			case id != "":
				fsLabelOrID = id
			}
		}

		boot := "-"
		if p.Bootable {
			boot = "*"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			p.Address,
			p.Type,
			emptyIfWhitespace(p.TypeName),
			boot,
			p.StartLBA,
			p.EndLBA,
			humanBytes(int64(p.SizeBytes)),
			fsType,
			fsLabelOrID,
		)
	}
	_ = tw.Flush()

	for _, p := range summary.Partitions {
		fs := p.Filesystem
		if fs == nil {
			continue
		}

		fmt.Fprintln(w)
		title := fmt.Sprintf("Partition %s filesystem details", p.Address)
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, strings.Repeat("-", len(title)))

		kv := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
		fmt.Fprintf(kv, "FS type:\t%s\n", emptyIfWhitespace(fs.Type))
		if fs.FATType != "" {
			fmt.Fprintf(kv, "FAT type:\t%s\n", fs.FATType)
		}
		if strings.TrimSpace(fs.Label) != "" {
			fmt.Fprintf(kv, "Label:\t%s\n", fs.Label)
		}
		if fs.VolumeID != "" {
			fmt.Fprintf(kv, "Volume ID:\t%s\n", fs.VolumeID)
		}
		if fs.BytesPerSector != 0 {
			fmt.Fprintf(kv, "Bytes/sector:\t%d\n", fs.BytesPerSector)
		}
		if fs.SectorsPerCluster != 0 {
			fmt.Fprintf(kv, "Sectors/cluster:\t%d\n", fs.SectorsPerCluster)
		}
		if fs.ClusterCount != 0 {
			fmt.Fprintf(kv, "Clusters:\t%d\n", fs.ClusterCount)
		}
		if fs.BytesPerSector != 0 && fs.SectorsPerCluster != 0 {
			clusterSize := int64(fs.BytesPerSector) * int64(fs.SectorsPerCluster)
			fmt.Fprintf(kv, "Cluster size:\t%s (%d bytes)\n", humanBytes(clusterSize), clusterSize)
		}
		_ = kv.Flush()

		if len(fs.Files) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Files:\t%d\n", len(fs.Files))
			ft := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(ft, "PATH\tSIZE\tSHA256")
			for _, f := range fs.Files {
				fmt.Fprintf(ft, "%s\t%s\t%s\n", f.Path, humanBytes(f.Size), emptyIfWhitespace(shortHash(f.SHA256)))
			}
			_ = ft.Flush()
			if fs.Truncated {
				fmt.Fprintf(w, "(listing stopped after %d files)\n", maxListedFiles)
			}
		}

		if len(fs.Notes) > 0 {
			fmt.Fprintln(w, "Notes:")
			for _, note := range fs.Notes {
				fmt.Fprintf(w, "  - %s\n", note)
			}
		}
	}

	fmt.Fprintln(w)
}

func humanBytes(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// mbrTypeName maps a DOS partition type byte to a name.
func mbrTypeName(t byte) string {
	switch t {
	case 0x01:
		return "FAT12"
	case 0x04, 0x06, 0x0e:
		return "FAT16"
	case 0x0b, 0x0c:
		return "FAT32"
	case 0x05, 0x0f:
		return "Extended"
	case 0x07:
		return "NTFS/exFAT"
	case 0x82:
		return "Linux swap"
	case 0x83:
		return "Linux"
	case 0x85:
		return "Linux extended"
	case 0x8e:
		return "Linux LVM"
	case 0xee:
		return "GPT protective"
	case 0xef:
		return "EFI System"
	default:
		return ""
	}
}

func emptyIfWhitespace(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return strings.TrimSpace(s)
}

func shortHash(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 12 {
		return s
	}
	return s[:12]
}
