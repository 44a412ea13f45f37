package memory

import (
	"github.com/rs/zerolog"

	"github.com/coral-mesh/memlens/internal/layout"
)

// ArrayView describes a dynamic array control block.
type ArrayView struct {
	Addr   uint64 `json:"addr"`
	Start  uint64 `json:"start"`
	End    uint64 `json:"end"`
	Stride uint64 `json:"stride"`
}

// Count returns the number of whole elements between Start and End, or 0
// when End precedes Start.
func (v ArrayView) Count() uint64 {
	if v.End < v.Start || v.Stride == 0 {
		return 0
	}
	return (v.End - v.Start) / v.Stride
}

// ArrayReader enumerates dynamic arrays of pointer-sized elements.
type ArrayReader struct {
	mem    Memory
	layout *layout.Layout
	logger zerolog.Logger
}

// NewArrayReader builds a reader over mem using the array offsets of l.
func NewArrayReader(mem Memory, l *layout.Layout, logger zerolog.Logger) *ArrayReader {
	return &ArrayReader{
		mem:    mem,
		layout: l,
		logger: logger.With().Str("component", "arrays").Logger(),
	}
}

// Strict reports whether invariant checks are enforced. Only complete
// layouts are trusted enough to reject data.
func (r *ArrayReader) Strict() bool {
	return r.layout.Complete
}

// View reads the start and end pointers of the control block at addr.
func (r *ArrayReader) View(addr uint64) ArrayView {
	size := r.layout.PointerSize
	return ArrayView{
		Addr:   addr,
		Start:  r.mem.ReadPointer(addr+r.layout.Array.StartOffset, size),
		End:    r.mem.ReadPointer(addr+r.layout.Array.EndOffset, size),
		Stride: uint64(size),
	}
}

// Check validates a view against the strict-mode invariants.
func (r *ArrayReader) Check(v ArrayView) error {
	violation := func(check string) error {
		return &InvariantViolation{Check: check, Addr: v.Addr, Start: v.Start, End: v.End}
	}

	// Start and end are unsigned addresses; high-half heaps are valid.
	switch {
	case v.End < v.Start:
		return violation("end >= start")
	case (v.End-v.Start)%v.Stride != 0:
		return violation("(end - start) % stride == 0")
	case v.Start%v.Stride != 0:
		return violation("start % stride == 0")
	case v.End%v.Stride != 0:
		return violation("end % stride == 0")
	case v.Count() >= uint64(r.layout.Array.MaxEntries):
		return violation("entries < max_entries")
	}
	return nil
}

// Read returns the element pointers stored in the array at addr. Under a
// complete layout a control block failing Check yields an
// *InvariantViolation; otherwise the walk is best-effort and capped at the
// layout's entry ceiling.
func (r *ArrayReader) Read(addr uint64) ([]uint64, error) {
	v := r.View(addr)
	r.logger.Trace().
		Uint64("addr", addr).
		Uint64("start", v.Start).
		Uint64("end", v.End).
		Uint64("entries", v.Count()).
		Msg("Enumerating array")

	if r.Strict() {
		if err := r.Check(v); err != nil {
			return nil, err
		}
	}

	limit := r.layout.Array.MaxEntries
	elems := make([]uint64, 0, min(v.Count(), uint64(limit)))
	for ptr := v.Start; ptr < v.End && len(elems) < limit; ptr += v.Stride {
		elems = append(elems, r.mem.ReadPointer(ptr, r.layout.PointerSize))
		if ptr+v.Stride < ptr {
			break
		}
	}

	if len(elems) == limit && v.Count() > uint64(limit) {
		r.logger.Debug().
			Uint64("addr", addr).
			Uint64("entries", v.Count()).
			Int("limit", limit).
			Msg("Array truncated at entry ceiling")
	}
	return elems, nil
}
