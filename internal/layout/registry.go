package layout

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/memlens/internal/safe"
)

// Registry maps a version fingerprint to a layout.
type Registry interface {
	Lookup(fingerprint string) (*Layout, bool)
}

// File is the on-disk layout catalogue.
type File struct {
	Layouts []Layout `yaml:"layouts" json:"layouts"`
}

// StaticRegistry is an in-memory registry.
type StaticRegistry struct {
	layouts map[string]*Layout
}

// NewStaticRegistry builds a registry from layouts, applying defaults and
// validating each one. Duplicate fingerprints are rejected.
func NewStaticRegistry(layouts ...Layout) (*StaticRegistry, error) {
	r := &StaticRegistry{layouts: make(map[string]*Layout, len(layouts))}
	for i := range layouts {
		l := layouts[i]
		l.ApplyDefaults()
		if l.Fingerprint == "" {
			return nil, fmt.Errorf("layout %d: fingerprint is required", i)
		}
		if err := l.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.layouts[l.Fingerprint]; dup {
			return nil, fmt.Errorf("duplicate layout for fingerprint %q", l.Fingerprint)
		}
		r.layouts[l.Fingerprint] = &l
	}
	return r, nil
}

// Lookup returns a copy of the layout registered for fingerprint.
func (r *StaticRegistry) Lookup(fingerprint string) (*Layout, bool) {
	if r == nil {
		return nil, false
	}
	l, ok := r.layouts[strings.ToLower(fingerprint)]
	if !ok {
		return nil, false
	}
	cp := *l
	cp.Fields = maps.Clone(l.Fields)
	return &cp, true
}

// Fingerprints lists the registered fingerprints in sorted order.
func (r *StaticRegistry) Fingerprints() []string {
	out := make([]string, 0, len(r.layouts))
	for fp := range r.layouts {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}

// Parse decodes a YAML layout catalogue.
func Parse(data []byte) (*StaticRegistry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse layouts: %w", err)
	}
	return NewStaticRegistry(f.Layouts...)
}

// LoadFile reads a YAML layout catalogue. A missing file yields an empty
// registry so attach degrades to best-effort mode.
func LoadFile(path string) (*StaticRegistry, error) {
	data, err := safe.ReadFile(path, &safe.ReadFileOptions{AllowSymlinks: true})
	if err != nil {
		if os.IsNotExist(err) {
			return NewStaticRegistry()
		}
		return nil, fmt.Errorf("failed to read layouts: %w", err)
	}
	return Parse(data)
}

// Schema returns the JSON schema of the layout catalogue.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(&File{})
	return json.MarshalIndent(schema, "", "  ")
}
