package memory

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/memlens/internal/layout"
	"github.com/coral-mesh/memlens/internal/safe"
	"github.com/coral-mesh/memlens/internal/sys/procmem"
)

// Session is a live attachment to one target process. It owns the process
// handle and is only ever constructed fully initialized by Attacher.
type Session struct {
	// ID distinguishes attachments in logs.
	ID  string `json:"id"`
	PID int    `json:"pid"`

	// ImageBase is where the main executable is loaded.
	ImageBase uint64 `json:"image_base"`
	// LinkBase is the address the image was linked for.
	LinkBase uint64 `json:"link_base"`
	// Correction is ImageBase minus LinkBase. Add it to link-time
	// addresses to find them in the running target.
	Correction int64 `json:"correction"`

	Fingerprint    Fingerprint    `json:"fingerprint"`
	Header         ImageHeader    `json:"header"`
	Layout         *layout.Layout `json:"layout"`
	LayoutComplete bool           `json:"layout_complete"`

	handle   procmem.Handle
	info     procmem.SystemInfo
	regions  *RegionMap
	accessor *Accessor
	guarded  *Guarded
	strings  *StringCodec
	arrays   *ArrayReader
	liveness Liveness
	logger   zerolog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// OK reports whether the session is still usable. It turns false after
// Detach or once a liveness check finds the target gone.
func (s *Session) OK() bool {
	return !s.closed.Load()
}

// Regions returns the validity map built at attach time.
func (s *Session) Regions() *RegionMap {
	return s.regions
}

// Memory returns the unguarded typed accessor.
func (s *Session) Memory() *Accessor {
	return s.accessor
}

// Guarded returns an accessor that refuses addresses outside the region map.
func (s *Session) Guarded() *Guarded {
	return s.guarded
}

// Strings returns the string codec for the session's layout.
func (s *Session) Strings() *StringCodec {
	return s.strings
}

// Arrays returns the dynamic array reader for the session's layout.
func (s *Session) Arrays() *ArrayReader {
	return s.arrays
}

// Liveness returns the polling policy supplied at attach time.
func (s *Session) Liveness() Liveness {
	return s.liveness
}

// SystemInfo returns the address space bounds used for scanning.
func (s *Session) SystemInfo() procmem.SystemInfo {
	return s.info
}

// Rescan rebuilds the region map from the live target.
func (s *Session) Rescan() ScanSummary {
	return s.regions.Rescan(s.handle, s.info)
}

// IsValidAddress reports whether addr lies in an accepted segment.
func (s *Session) IsValidAddress(addr uint64) bool {
	return s.regions.Contains(addr)
}

// Bounds returns the lowest and highest accepted addresses.
func (s *Session) Bounds() (lowest, highest uint64) {
	return s.regions.Bounds()
}

// Corrected relocates a link-time address into the running image.
func (s *Session) Corrected(addr uint64) uint64 {
	return safe.Offset(addr, s.Correction)
}

// CheckAlive asks the OS whether the target still runs. A dead target
// marks the session not OK; the handle is still released by Detach.
func (s *Session) CheckAlive() (bool, error) {
	if s.closed.Load() {
		return false, nil
	}
	alive, err := s.handle.Alive()
	if err != nil {
		return true, err
	}
	if !alive {
		s.closed.Store(true)
		s.logger.Warn().Str("session", s.ID).Msg("Target process exited")
	}
	return alive, nil
}

// Alive implements the liveness checker used by the watch loop.
func (s *Session) Alive() (bool, error) {
	return s.CheckAlive()
}

// Detach releases the process handle. It is safe to call more than once;
// the handle is closed exactly once.
func (s *Session) Detach() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.handle.Close()
		s.logger.Debug().Str("session", s.ID).Msg("Detached from target")
	})
	return s.closeErr
}

// Close implements io.Closer.
func (s *Session) Close() error {
	return s.Detach()
}
