package memory

import (
	"encoding/binary"
	"sort"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/memlens/internal/sys/procmem"
)

// Sentinel bounds reported before any segment is accepted.
const (
	NoLowest  = ^uint64(0)
	NoHighest = uint64(0)
)

// Segment is one committed, readable range [Start, End) of the target.
type Segment struct {
	Start   uint64 `json:"start"`
	End     uint64 `json:"end"`
	Guarded bool   `json:"guarded"`
}

// Size returns the segment length in bytes.
func (s Segment) Size() uint64 {
	return s.End - s.Start
}

// Contains reports whether addr lies inside the segment.
func (s Segment) Contains(addr uint64) bool {
	return addr >= s.Start && addr < s.End
}

// ScanSummary counts the regions seen by the last rescan.
type ScanSummary struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	// Skipped counts pages advanced over after an incomplete region query.
	Skipped int `json:"skipped"`
}

// Total returns accepted plus rejected regions.
func (s ScanSummary) Total() int {
	return s.Accepted + s.Rejected
}

// snapshot is an immutable scan result.
type snapshot struct {
	segments []Segment // sorted by Start, possibly overlapping
	reach    []uint64  // reach[i] is the highest End in segments[:i+1]
	lowest   uint64
	highest  uint64
	summary  ScanSummary
}

// RegionMap is the validity map of the target's address space. Each Rescan
// builds a fresh snapshot and replaces the previous one wholesale. It has
// no internal locking; callers serialize Rescan against readers.
type RegionMap struct {
	logger zerolog.Logger
	snap   *snapshot
}

// NewRegionMap returns an empty map reporting sentinel bounds.
func NewRegionMap(logger zerolog.Logger) *RegionMap {
	return &RegionMap{
		logger: logger.With().Str("component", "regions").Logger(),
		snap:   &snapshot{lowest: NoLowest, highest: NoHighest},
	}
}

// Rescan walks [info.MinAddress, info.MaxAddress) and records every
// committed region whose protection allows reading.
func (m *RegionMap) Rescan(q procmem.RegionQuerier, info procmem.SystemInfo) ScanSummary {
	pageSize := info.PageSize
	if pageSize == 0 {
		pageSize = 0x1000
	}

	next := &snapshot{lowest: NoLowest, highest: NoHighest}
	addr := info.MinAddress

	for addr < info.MaxAddress {
		region, err := q.QueryRegion(addr)
		if err != nil {
			// Incomplete data; move on by a page.
			next.summary.Skipped++
			if !advance(&addr, pageSize) {
				break
			}
			continue
		}

		end := region.Base + region.Size
		if end < region.Base {
			end = ^uint64(0)
		}
		if region.State == procmem.StateCommit && region.Protect&procmem.Readable != 0 {
			next.segments = append(next.segments, Segment{
				Start:   region.Base,
				End:     end,
				Guarded: region.Protect.Guarded(),
			})
			next.summary.Accepted++
			m.logger.Trace().
				Uint64("start", region.Base).
				Uint64("end", end).
				Stringer("protect", region.Protect).
				Msg("Accepted readable committed segment")
		} else {
			next.summary.Rejected++
			m.logger.Trace().
				Uint64("start", region.Base).
				Uint64("size", region.Size).
				Stringer("state", region.State).
				Stringer("protect", region.Protect).
				Msg("Rejected segment")
		}

		step := region.Size
		if step == 0 {
			step = pageSize
		}
		// Continue from the end of the reported region.
		if region.Base+step > addr {
			step = region.Base + step - addr
		}
		if !advance(&addr, step) {
			break
		}
	}

	sort.Slice(next.segments, func(i, j int) bool { return next.segments[i].Start < next.segments[j].Start })
	next.reach = make([]uint64, len(next.segments))
	for i, seg := range next.segments {
		next.reach[i] = seg.End
		if i > 0 && next.reach[i-1] > seg.End {
			next.reach[i] = next.reach[i-1]
		}
		if seg.Start < next.lowest {
			next.lowest = seg.Start
		}
		if seg.End > next.highest {
			next.highest = seg.End
		}
	}

	m.snap = next
	m.logger.Debug().
		Int("accepted", next.summary.Accepted).
		Int("rejected", next.summary.Rejected).
		Int("total", next.summary.Total()).
		Int("skipped_pages", next.summary.Skipped).
		Msg("Memory segment summary")

	return next.summary
}

// advance moves addr forward by step and reports false on overflow.
func advance(addr *uint64, step uint64) bool {
	n := *addr + step
	if n <= *addr {
		return false
	}
	*addr = n
	return true
}

// Contains reports whether addr lies inside an accepted segment.
func (m *RegionMap) Contains(addr uint64) bool {
	return m.snap.covers(addr, addr+1)
}

// ContainsRange reports whether [addr, addr+n) lies inside one accepted segment.
func (m *RegionMap) ContainsRange(addr uint64, n int) bool {
	if n <= 0 {
		return m.Contains(addr)
	}
	end := addr + uint64(n)
	if end < addr {
		return false
	}
	return m.snap.covers(addr, end)
}

// covers reports whether a single segment holds [addr, end). Segments are
// not merged, so every one starting at or below addr is a candidate.
func (s *snapshot) covers(addr, end uint64) bool {
	segs := s.segments
	i := sort.Search(len(segs), func(i int) bool { return segs[i].Start > addr })
	for j := i - 1; j >= 0 && s.reach[j] > addr; j-- {
		if segs[j].Contains(addr) && end <= segs[j].End {
			return true
		}
	}
	return false
}

// Bounds returns the lowest start and highest end across accepted segments,
// or the sentinels when none were accepted.
func (m *RegionMap) Bounds() (lowest, highest uint64) {
	return m.snap.lowest, m.snap.highest
}

// Segments returns a copy of the accepted segments sorted by start address.
func (m *RegionMap) Segments() []Segment {
	out := make([]Segment, len(m.snap.segments))
	copy(out, m.snap.segments)
	return out
}

// Summary returns the counters of the last rescan.
func (m *RegionMap) Summary() ScanSummary {
	return m.snap.summary
}

// Digest hashes the accepted segment list so callers can detect layout
// changes between rescans.
func (m *RegionMap) Digest() uint64 {
	h := xxh3.New()
	var buf [17]byte
	for _, seg := range m.snap.segments {
		binary.LittleEndian.PutUint64(buf[0:8], seg.Start)
		binary.LittleEndian.PutUint64(buf[8:16], seg.End)
		buf[16] = 0
		if seg.Guarded {
			buf[16] = 1
		}
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
