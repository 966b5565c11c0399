package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	sigsyaml "sigs.k8s.io/yaml"
)

//go:embed schema/manifest.schema.json
var manifestSchemaJSON string

const manifestSchemaURL = "manifest.schema.json"

var (
	schemaOnce     sync.Once
	manifestSchema *jsonschema.Schema
	schemaErr      error
)

func compiledManifestSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		manifestSchema, schemaErr = jsonschema.CompileString(manifestSchemaURL, manifestSchemaJSON)
	})
	return manifestSchema, schemaErr
}

// Manifest lists files to read and files to write, keyed by partition
// address.
type Manifest struct {
	Read  map[string][]string          `json:"read,omitempty"`
	Write map[string]map[string]string `json:"write,omitempty"`
}

// Addresses returns every address named by the manifest, sorted.
func (m *Manifest) Addresses() []string {
	seen := map[string]bool{}
	for addr := range m.Read {
		seen[addr] = true
	}
	for addr := range m.Write {
		seen[addr] = true
	}
	out := make([]string, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// ValidateManifest checks YAML or JSON manifest data against the manifest
// schema.
func ValidateManifest(data []byte) error {
	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("manifest is not valid YAML or JSON: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}

	schema, err := compiledManifestSchema()
	if err != nil {
		return fmt.Errorf("compile manifest schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("manifest validation failed: %w", err)
	}
	return nil
}

// ParseManifest validates and decodes manifest data.
func ParseManifest(data []byte) (*Manifest, error) {
	if err := ValidateManifest(data); err != nil {
		return nil, err
	}
	var m Manifest
	if err := sigsyaml.UnmarshalStrict(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
