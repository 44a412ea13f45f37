// Package layout describes how a target's internal records are arranged in
// memory for a given executable fingerprint.
//
// A Layout supplies field offsets for encoded strings and dynamic arrays,
// the pointer width, the default link base of the image, and the sanity
// limits decoders apply. Layouts marked Complete enable strict invariant
// checks in the decoders; the Fallback layout never does.
package layout

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultLinkBase is the preferred load address of 32-bit PE images.
	DefaultLinkBase = 0x400000

	// DefaultSSOThreshold is the capacity at which strings move out of line.
	DefaultSSOThreshold = 16

	// DefaultMaxStringLength is the longest string accepted by the decoder.
	DefaultMaxStringLength = 1024

	// DefaultMaxArrayEntries is the sanity ceiling for dynamic arrays.
	DefaultMaxArrayEntries = 5000

	// DefaultPointerSize is the pointer width of the targets the defaults describe.
	DefaultPointerSize = 4
)

// StringLayout locates the fields of an encoded string record.
type StringLayout struct {
	BufferOffset   uint64 `yaml:"buffer_offset" json:"buffer_offset"`
	LengthOffset   uint64 `yaml:"length_offset" json:"length_offset"`
	CapacityOffset uint64 `yaml:"capacity_offset" json:"capacity_offset"`
	// SSOThreshold is the smallest capacity stored out of line.
	SSOThreshold int32 `yaml:"sso_threshold,omitempty" json:"sso_threshold,omitempty"`
	MaxLength    int32 `yaml:"max_length,omitempty" json:"max_length,omitempty"`
}

// ArrayLayout locates the fields of a dynamic array control block.
type ArrayLayout struct {
	StartOffset uint64 `yaml:"start_offset" json:"start_offset"`
	EndOffset   uint64 `yaml:"end_offset" json:"end_offset"`
	MaxEntries  int    `yaml:"max_entries,omitempty" json:"max_entries,omitempty"`
}

// Layout is the structural description of one target build.
type Layout struct {
	Fingerprint     string            `yaml:"fingerprint" json:"fingerprint" jsonschema:"required,pattern=^[0-9a-f]{8}$"`
	Name            string            `yaml:"name,omitempty" json:"name,omitempty"`
	Complete        bool              `yaml:"complete" json:"complete"`
	PointerSize     int               `yaml:"pointer_size,omitempty" json:"pointer_size,omitempty" jsonschema:"enum=4,enum=8"`
	DefaultLinkBase uint64            `yaml:"default_link_base,omitempty" json:"default_link_base,omitempty"`
	String          StringLayout      `yaml:"string" json:"string"`
	Array           ArrayLayout       `yaml:"array" json:"array"`
	Fields          map[string]uint64 `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Fallback returns the best-effort layout used when a fingerprint is unknown.
// Offsets describe the MSVC 2008 32-bit std::string and std::vector.
func Fallback() *Layout {
	l := &Layout{
		Name: "fallback",
		String: StringLayout{
			BufferOffset:   4,
			LengthOffset:   20,
			CapacityOffset: 24,
		},
		Array: ArrayLayout{
			StartOffset: 4,
			EndOffset:   8,
		},
	}
	l.ApplyDefaults()
	return l
}

// ApplyDefaults fills zero-valued limits with the package defaults.
func (l *Layout) ApplyDefaults() {
	l.Fingerprint = strings.ToLower(l.Fingerprint)
	if l.PointerSize == 0 {
		l.PointerSize = DefaultPointerSize
	}
	if l.DefaultLinkBase == 0 {
		l.DefaultLinkBase = DefaultLinkBase
	}
	if l.String.SSOThreshold == 0 {
		l.String.SSOThreshold = DefaultSSOThreshold
	}
	if l.String.MaxLength == 0 {
		l.String.MaxLength = DefaultMaxStringLength
	}
	if l.Array.MaxEntries == 0 {
		l.Array.MaxEntries = DefaultMaxArrayEntries
	}
}

// Validate checks the layout is usable by the decoders.
func (l *Layout) Validate() error {
	if l.PointerSize != 4 && l.PointerSize != 8 {
		return fmt.Errorf("layout %q: pointer_size must be 4 or 8, got %d", l.Fingerprint, l.PointerSize)
	}
	if l.String.SSOThreshold < 1 {
		return fmt.Errorf("layout %q: sso_threshold must be positive", l.Fingerprint)
	}
	if l.String.MaxLength < 1 {
		return fmt.Errorf("layout %q: string max_length must be positive", l.Fingerprint)
	}
	if l.Array.MaxEntries < 1 {
		return fmt.Errorf("layout %q: array max_entries must be positive", l.Fingerprint)
	}
	if l.Array.EndOffset == l.Array.StartOffset {
		return fmt.Errorf("layout %q: array start and end offsets overlap", l.Fingerprint)
	}
	return nil
}

// Field returns a named offset for higher-level decoders.
func (l *Layout) Field(name string) (uint64, bool) {
	off, ok := l.Fields[name]
	return off, ok
}

// FieldNames returns the named offsets in sorted order.
func (l *Layout) FieldNames() []string {
	names := make([]string, 0, len(l.Fields))
	for name := range l.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
