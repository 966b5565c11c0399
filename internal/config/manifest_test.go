package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseManifestYAML(t *testing.T) {
	m, err := ParseManifest([]byte(`
read:
  1: [cmdline.txt, config.txt]
  "4:1": [config.json]
write:
  "4:1":
    config.json: '{"hello":"world"}'
    boot/extra.txt: |
      line one
`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	want := &Manifest{
		Read: map[string][]string{
			"1":   {"cmdline.txt", "config.txt"},
			"4:1": {"config.json"},
		},
		Write: map[string]map[string]string{
			"4:1": {
				"config.json":    `{"hello":"world"}`,
				"boot/extra.txt": "line one\n",
			},
		},
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Fatalf("unexpected manifest (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1", "4:1"}, m.Addresses()); diff != "" {
		t.Fatalf("unexpected addresses (-want +got):\n%s", diff)
	}
}

func TestParseManifestJSON(t *testing.T) {
	m, err := ParseManifest([]byte(`{"write": {"1": {"a.txt": "A"}}}`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Write["1"]["a.txt"] != "A" || m.Read != nil {
		t.Fatalf("unexpected manifest %+v", m)
	}
}

func TestParseManifestInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":              `{}`,
		"bad address":        "read:\n  abc: [x]\n",
		"two separators":     "read:\n  \"1:2:3\": [x]\n",
		"negative":           "read:\n  \"-1\": [x]\n",
		"unknown section":    "delete:\n  \"1\": [x]\n",
		"non-string content": "write:\n  \"1\":\n    a.txt: [1, 2]\n",
		"read not a list":    "read:\n  \"1\": cmdline.txt\n",
		"empty filename":     "read:\n  \"1\": [\"\"]\n",
		"not yaml":           "read: [\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseManifest([]byte(data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadManifest(t *testing.T) {
	p := writeFile(t, "manifest.yaml", "read:\n  \"1\": [cmdline.txt]\n")
	m, err := LoadManifest(p)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(m.Read["1"]) != 1 {
		t.Fatalf("unexpected manifest %+v", m)
	}

	_, err = LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read manifest") {
		t.Fatalf("expected read error, got %v", err)
	}
}
