package memory

import (
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/memlens/internal/sys/procmem"
)

// Memory is the primitive read/write surface the decoders are built on.
// Reads never fail: anomalies yield zero values.
type Memory interface {
	ReadU8(addr uint64) uint8
	ReadI16(addr uint64) int16
	ReadU16(addr uint64) uint16
	ReadI32(addr uint64) int32
	ReadU32(addr uint64) uint32
	ReadU64(addr uint64) uint64
	ReadPointer(addr uint64, size int) uint64
	ReadBytes(addr uint64, n int) []byte
	WriteI32(addr uint64, v int32) (int, error)
	WriteBytes(addr uint64, data []byte) (int, error)
}

// Stats counts anomalies observed by an accessor.
type Stats struct {
	Reads       int `json:"reads"`
	ShortReads  int `json:"short_reads"`
	Writes      int `json:"writes"`
	ShortWrites int `json:"short_writes"`
	// Rejected counts reads refused by a Guarded wrapper.
	Rejected int `json:"rejected"`
}

// AccessorOptions configures an Accessor.
type AccessorOptions struct {
	// Strict turns short writes into returned errors.
	Strict bool
}

// Accessor performs little-endian typed reads and writes against absolute
// target addresses. It does not consult the region map.
type Accessor struct {
	mem    procmem.RemoteMemory
	logger zerolog.Logger
	strict bool
	stats  Stats
}

var _ Memory = (*Accessor)(nil)

// NewAccessor wraps a remote memory handle.
func NewAccessor(mem procmem.RemoteMemory, opts AccessorOptions, logger zerolog.Logger) *Accessor {
	return &Accessor{
		mem:    mem,
		logger: logger.With().Str("component", "accessor").Logger(),
		strict: opts.Strict,
	}
}

// Stats returns a copy of the anomaly counters.
func (a *Accessor) Stats() Stats {
	return a.stats
}

// Strict reports whether short writes are returned as errors.
func (a *Accessor) Strict() bool {
	return a.strict
}

// ReadInto fills buf from addr and returns the number of bytes the OS
// supplied. The unfilled tail of buf is zeroed.
func (a *Accessor) ReadInto(addr uint64, buf []byte) int {
	clear(buf)
	if len(buf) == 0 {
		return 0
	}
	a.stats.Reads++

	n, err := a.mem.ReadMemory(addr, buf)
	if n < 0 || n > len(buf) {
		n = 0
	}
	if n < len(buf) {
		clear(buf[n:])
		a.stats.ShortReads++
		a.logger.Debug().
			Err(err).
			Uint64("addr", addr).
			Int("requested", len(buf)).
			Int("read", n).
			Msg("Short read")
	}
	return n
}

// ReadBytes returns exactly n bytes, zero-padded past what the OS supplied.
func (a *Accessor) ReadBytes(addr uint64, n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	buf := make([]byte, n)
	a.ReadInto(addr, buf)
	return buf
}

func (a *Accessor) ReadU8(addr uint64) uint8 {
	var buf [1]byte
	a.ReadInto(addr, buf[:])
	return buf[0]
}

func (a *Accessor) ReadI16(addr uint64) int16 {
	//nolint:gosec // G115: two's complement reinterpretation is intended.
	return int16(a.ReadU16(addr))
}

func (a *Accessor) ReadU16(addr uint64) uint16 {
	var buf [2]byte
	a.ReadInto(addr, buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

func (a *Accessor) ReadI32(addr uint64) int32 {
	//nolint:gosec // G115: two's complement reinterpretation is intended.
	return int32(a.ReadU32(addr))
}

func (a *Accessor) ReadU32(addr uint64) uint32 {
	var buf [4]byte
	a.ReadInto(addr, buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

func (a *Accessor) ReadU64(addr uint64) uint64 {
	var buf [8]byte
	a.ReadInto(addr, buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

// ReadPointer reads a 4- or 8-byte pointer and widens it.
func (a *Accessor) ReadPointer(addr uint64, size int) uint64 {
	return readPointer(a, addr, size)
}

func readPointer(m Memory, addr uint64, size int) uint64 {
	if size == 8 {
		return m.ReadU64(addr)
	}
	return uint64(m.ReadU32(addr))
}

// WriteI32 writes a little-endian int32.
func (a *Accessor) WriteI32(addr uint64, v int32) (int, error) {
	var buf [4]byte
	//nolint:gosec // G115: two's complement reinterpretation is intended.
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return a.WriteBytes(addr, buf[:])
}

// WriteBytes writes data and returns the count the OS accepted. Every write
// address is computed by this module, so a short write is a defect: strict
// accessors return a *WriteAnomaly, others log it.
func (a *Accessor) WriteBytes(addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	a.stats.Writes++

	n, err := a.mem.WriteMemory(addr, data)
	if n < 0 {
		n = 0
	}
	if n == len(data) {
		return n, nil
	}

	a.stats.ShortWrites++
	anomaly := &WriteAnomaly{Addr: addr, Requested: len(data), Written: n, Err: err}
	if a.strict {
		return n, anomaly
	}
	a.logger.Error().Err(anomaly).Msg("Short write")
	return n, nil
}

// Guarded gates reads and writes on a RegionMap. Addresses outside accepted
// segments are never passed to the OS.
type Guarded struct {
	inner   *Accessor
	regions *RegionMap
}

var _ Memory = (*Guarded)(nil)

// NewGuarded wraps an accessor with a region map gate.
func NewGuarded(inner *Accessor, regions *RegionMap) *Guarded {
	return &Guarded{inner: inner, regions: regions}
}

func (g *Guarded) allow(addr uint64, n int) bool {
	if g.regions.ContainsRange(addr, n) {
		return true
	}
	g.inner.stats.Rejected++
	return false
}

func (g *Guarded) ReadBytes(addr uint64, n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	if !g.allow(addr, n) {
		return make([]byte, n)
	}
	return g.inner.ReadBytes(addr, n)
}

func (g *Guarded) ReadU8(addr uint64) uint8 {
	if !g.allow(addr, 1) {
		return 0
	}
	return g.inner.ReadU8(addr)
}

func (g *Guarded) ReadI16(addr uint64) int16 {
	if !g.allow(addr, 2) {
		return 0
	}
	return g.inner.ReadI16(addr)
}

func (g *Guarded) ReadU16(addr uint64) uint16 {
	if !g.allow(addr, 2) {
		return 0
	}
	return g.inner.ReadU16(addr)
}

func (g *Guarded) ReadI32(addr uint64) int32 {
	if !g.allow(addr, 4) {
		return 0
	}
	return g.inner.ReadI32(addr)
}

func (g *Guarded) ReadU32(addr uint64) uint32 {
	if !g.allow(addr, 4) {
		return 0
	}
	return g.inner.ReadU32(addr)
}

func (g *Guarded) ReadU64(addr uint64) uint64 {
	if !g.allow(addr, 8) {
		return 0
	}
	return g.inner.ReadU64(addr)
}

func (g *Guarded) ReadPointer(addr uint64, size int) uint64 {
	return readPointer(g, addr, size)
}

func (g *Guarded) WriteI32(addr uint64, v int32) (int, error) {
	if !g.allow(addr, 4) {
		return 0, fmt.Errorf("write at 0x%x: %w", addr, ErrAddressNotMapped)
	}
	return g.inner.WriteI32(addr, v)
}

func (g *Guarded) WriteBytes(addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if !g.allow(addr, len(data)) {
		return 0, fmt.Errorf("write at 0x%x: %w", addr, ErrAddressNotMapped)
	}
	return g.inner.WriteBytes(addr, data)
}
