package fatfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/open-edge-platform/fatconfig/internal/blockdev"
)

const testVolumeSize = 64 << 20

func newVolume(t *testing.T) string {
	t.Helper()
	return newVolumeKind(t, FAT32, testVolumeSize)
}

func newVolumeKind(t *testing.T, kind Kind, size int64) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "vol.img")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	f.Close()

	dev, err := blockdev.Open(p, blockdev.DefaultSectorSize)
	if err != nil {
		t.Fatalf("blockdev.Open: %v", err)
	}
	fsys, err := FormatKind(dev, kind, "TESTVOL")
	if err != nil {
		t.Fatalf("Format %s: %v", kind, err)
	}
	if err := fsys.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return p
}

func open(t *testing.T, p string) *FileSystem {
	t.Helper()
	dev, err := blockdev.Open(p, blockdev.DefaultSectorSize)
	if err != nil {
		t.Fatalf("blockdev.Open: %v", err)
	}
	fsys, err := Open(dev)
	if err != nil {
		dev.Close()
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { fsys.Close() })
	return fsys
}

func TestWriteThenRead(t *testing.T) {
	p := newVolume(t)

	fsys := open(t, p)
	if err := fsys.WriteFile("config.json", `{"hello":"world"}`); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := fsys.WriteFile("/boot/overlays/extra.txt", "dtoverlay=foo\n"); err != nil {
		t.Fatalf("WriteFile nested: %v", err)
	}
	if err := fsys.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fsys = open(t, p)
	got, err := fsys.ReadFile("config.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != `{"hello":"world"}` {
		t.Fatalf("ReadFile=%q", got)
	}
	got, err = fsys.ReadFile("boot/overlays/extra.txt")
	if err != nil {
		t.Fatalf("ReadFile nested: %v", err)
	}
	if got != "dtoverlay=foo\n" {
		t.Fatalf("ReadFile nested=%q", got)
	}
}

func TestReplaceShrinks(t *testing.T) {
	fsys := open(t, newVolume(t))

	if err := fsys.WriteFile("cmdline.txt", "console=serial0,115200 console=tty1 root=/dev/mmcblk0p2"); err != nil {
		t.Fatal(err)
	}
	if err := fsys.WriteFile("CMDLINE.TXT", "quiet"); err != nil {
		t.Fatal(err)
	}
	got, err := fsys.ReadFile("cmdline.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "quiet" {
		t.Fatalf("content after replace=%q", got)
	}

	entries, err := fsys.List("/")
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, e := range entries {
		if e.Name == "cmdline.txt" || e.Name == "CMDLINE.TXT" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected a single cmdline.txt entry, found %d in %+v", n, entries)
	}
}

func TestReadMissing(t *testing.T) {
	fsys := open(t, newVolume(t))
	if err := fsys.WriteFile("present.txt", "x"); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"absent.txt", "nodir/file.txt", "present.txt/child"} {
		if _, err := fsys.ReadFile(name); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("ReadFile(%q): expected fs.ErrNotExist, got %v", name, err)
		}
	}
}

func TestCaseInsensitiveLookup(t *testing.T) {
	fsys := open(t, newVolume(t))
	if err := fsys.WriteFile("Config/Settings.INI", "a=1"); err != nil {
		t.Fatal(err)
	}
	got, err := fsys.ReadFile("config/settings.ini")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "a=1" {
		t.Fatalf("ReadFile=%q", got)
	}
}

func TestInvalidNames(t *testing.T) {
	fsys := open(t, newVolume(t))
	for _, name := range []string{"", "/", "."} {
		if err := fsys.WriteFile(name, "x"); err == nil {
			t.Errorf("WriteFile(%q): expected error", name)
		}
		if _, err := fsys.ReadFile(name); err == nil {
			t.Errorf("ReadFile(%q): expected error", name)
		}
	}
}

func TestListAndLabel(t *testing.T) {
	fsys := open(t, newVolume(t))
	for _, name := range []string{"a.txt", "b.txt", "sub/c.txt"} {
		if err := fsys.WriteFile(name, name); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := fsys.List("")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		switch e.Name {
		case "sub":
			if !e.IsDir {
				t.Fatal("sub should be a directory")
			}
		case "a.txt", "b.txt":
		default:
			// volume label entries may show up depending on the FAT driver
			continue
		}
		names = append(names, e.Name)
	}
	sort.Strings(names)
	if diff := cmp.Diff([]string{"a.txt", "b.txt", "sub"}, names); diff != "" {
		t.Fatalf("unexpected root listing (-want +got):\n%s", diff)
	}
	if fsys.Label() != "TESTVOL" {
		t.Fatalf("Label=%q", fsys.Label())
	}
}

func TestOpenUnformatted(t *testing.T) {
	p := filepath.Join(t.TempDir(), "blank.img")
	if err := os.WriteFile(p, make([]byte, 1<<20), 0644); err != nil {
		t.Fatal(err)
	}
	dev, err := blockdev.Open(p, blockdev.DefaultSectorSize)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	if _, err := Open(dev); err == nil {
		t.Fatal("expected error opening a blank device")
	}
}
