package memory

import (
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/coral-mesh/memlens/internal/layout"
)

// StringView describes an encoded string record. It is recomputed on every
// read and owns nothing in the target.
type StringView struct {
	Addr     uint64 `json:"addr"`
	Length   int32  `json:"length"`
	Capacity int32  `json:"capacity"`
	Buffer   uint64 `json:"buffer"`
	Inline   bool   `json:"inline"`
}

// Plausible reports whether the view passes the decoder's sanity bounds.
func (v StringView) Plausible(maxLength int32) bool {
	return v.Length >= 0 && v.Length <= v.Capacity && v.Length <= maxLength
}

// StringCodec decodes and encodes the target's strings. Text is stored in
// code page 437.
type StringCodec struct {
	mem        Memory
	layout     *layout.Layout
	logger     zerolog.Logger
	rejections int
}

// NewStringCodec builds a codec over mem using the string offsets of l.
func NewStringCodec(mem Memory, l *layout.Layout, logger zerolog.Logger) *StringCodec {
	return &StringCodec{
		mem:    mem,
		layout: l,
		logger: logger.With().Str("component", "strings").Logger(),
	}
}

// Rejections counts records that failed the sanity bounds.
func (c *StringCodec) Rejections() int {
	return c.rejections
}

// View reads the length, capacity and effective buffer address of the
// record at addr. Capacities at or above the SSO threshold keep their
// characters out of line behind a pointer.
func (c *StringCodec) View(addr uint64) StringView {
	sl := c.layout.String
	v := StringView{
		Addr:     addr,
		Length:   c.mem.ReadI32(addr + sl.LengthOffset),
		Capacity: c.mem.ReadI32(addr + sl.CapacityOffset),
		Buffer:   addr + sl.BufferOffset,
		Inline:   true,
	}
	if v.Capacity >= sl.SSOThreshold {
		v.Buffer = c.mem.ReadPointer(v.Buffer, c.layout.PointerSize)
		v.Inline = false
	}
	return v
}

// Read decodes the string at addr. Records failing the sanity bounds are
// assumed not to be strings and yield "".
func (c *StringCodec) Read(addr uint64) string {
	v := c.View(addr)
	if !v.Plausible(c.layout.String.MaxLength) {
		c.rejections++
		c.logger.Debug().
			Uint64("addr", addr).
			Int32("length", v.Length).
			Int32("capacity", v.Capacity).
			Msg("Record at address is not a string")
		return ""
	}
	if v.Length == 0 {
		return ""
	}

	raw := c.mem.ReadBytes(v.Buffer, int(v.Length))
	text, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		c.logger.Debug().Err(err).Uint64("addr", addr).Msg("Failed to decode string")
		return ""
	}
	return string(text)
}

// Write stores text into the record at addr, truncated to the record's
// capacity and the layout's maximum length. It returns the number of
// character bytes written so callers can detect truncation.
func (c *StringCodec) Write(addr uint64, text string) (int, error) {
	v := c.View(addr)

	limit := int(v.Capacity)
	if limit < 0 {
		limit = 0
	}
	if maxLen := int(c.layout.String.MaxLength); limit > maxLen {
		limit = maxLen
	}

	runes := []rune(text)
	if len(runes) > limit {
		c.logger.Debug().
			Uint64("addr", addr).
			Int("length", len(runes)).
			Int("limit", limit).
			Msg("Truncating string to record capacity")
		runes = runes[:limit]
	}

	encoder := encoding.ReplaceUnsupported(charmap.CodePage437.NewEncoder())
	data, err := encoder.Bytes([]byte(string(runes)))
	if err != nil {
		return 0, err
	}

	//nolint:gosec // G115: len(data) is bounded by MaxLength.
	if _, err := c.mem.WriteI32(addr+c.layout.String.LengthOffset, int32(len(data))); err != nil {
		return 0, err
	}
	return c.mem.WriteBytes(v.Buffer, data)
}
