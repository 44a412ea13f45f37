// Package memory attaches to a running target and interprets its address
// space: the region map, typed reads and writes, version fingerprinting,
// and decoders for encoded strings and dynamic arrays.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/memlens/internal/layout"
	"github.com/coral-mesh/memlens/internal/safe"
	"github.com/coral-mesh/memlens/internal/sys/procmem"
)

// DefaultLivenessInterval is how often callers should confirm the target
// is still running.
const DefaultLivenessInterval = 1000 * time.Millisecond

// Liveness is the polling policy handed back to callers. The session never
// starts a timer itself.
type Liveness struct {
	Enabled  bool
	Interval time.Duration
}

// DefaultLiveness returns the default polling policy.
func DefaultLiveness() Liveness {
	return Liveness{Enabled: true, Interval: DefaultLivenessInterval}
}

// AttachOptions configures a single attach attempt.
type AttachOptions struct {
	// Criteria are tried in order; the first matcher resolving to a
	// process wins. Empty matchers are skipped.
	Criteria []procmem.Matcher

	// DefaultLinkBase overrides the layout's preferred load address when
	// non-zero.
	DefaultLinkBase uint64

	Liveness Liveness
	Accessor AccessorOptions
}

// Attacher turns discovery criteria into a fully initialized Session.
type Attacher struct {
	sys      procmem.System
	registry layout.Registry
	logger   zerolog.Logger
}

// NewAttacher creates an attacher. A nil registry makes every target use
// the fallback layout.
func NewAttacher(sys procmem.System, registry layout.Registry, logger zerolog.Logger) *Attacher {
	return &Attacher{
		sys:      sys,
		registry: registry,
		logger:   logger.With().Str("component", "attacher").Logger(),
	}
}

// Attach locates the target, opens it, fingerprints the loaded image and
// scans its address space. A Session is returned only when every step
// succeeded; otherwise the error is an *AttachError, or the context error
// when ctx ends during discovery. Handles opened along the way are closed
// before returning an error.
func (a *Attacher) Attach(ctx context.Context, opts AttachOptions) (*Session, error) {
	pid, err := a.find(ctx, opts.Criteria)
	if err != nil {
		return nil, err
	}
	logger := a.logger.With().Int("pid", pid).Logger()

	handle, err := a.sys.Open(pid)
	if err != nil {
		return nil, &AttachError{
			Kind:       AccessDenied,
			PID:        pid,
			Diagnostic: "could not open the target process; try running with elevated privileges",
			Err:        err,
		}
	}

	sess, err := a.initialize(handle, pid, opts, logger)
	if err != nil {
		if cerr := handle.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to close process handle")
		}
		return nil, err
	}

	logger.Info().
		Str("session", sess.ID).
		Str("fingerprint", sess.Fingerprint.String()).
		Uint64("image_base", sess.ImageBase).
		Int64("correction", sess.Correction).
		Bool("layout_complete", sess.LayoutComplete).
		Msg("Attached to target")
	return sess, nil
}

func (a *Attacher) find(ctx context.Context, criteria []procmem.Matcher) (int, error) {
	for _, m := range criteria {
		if m.Empty() {
			continue
		}
		pid, err := a.sys.FindProcess(ctx, m)
		switch {
		case err == nil:
			a.logger.Debug().Stringer("matcher", m).Int("pid", pid).Msg("Matched target process")
			return pid, nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return 0, err
		case errors.Is(err, procmem.ErrNoMatch), errors.Is(err, procmem.ErrUnsupportedMatcher):
			a.logger.Trace().Err(err).Stringer("matcher", m).Msg("Matcher did not resolve")
		default:
			a.logger.Debug().Err(err).Stringer("matcher", m).Msg("Matcher failed")
		}
	}
	return 0, &AttachError{
		Kind:       ProcessNotFound,
		Diagnostic: "target process not found; make sure it is running",
	}
}

func (a *Attacher) initialize(handle procmem.Handle, pid int, opts AttachOptions, logger zerolog.Logger) (*Session, error) {
	base, err := handle.ImageBase()
	if err != nil {
		if errors.Is(err, procmem.ErrControlBlockNotFound) {
			return nil, &AttachError{
				Kind:       BaseAddressUnavailable,
				PID:        pid,
				Diagnostic: "could not locate the process control block",
				Err:        err,
			}
		}
		return nil, &AttachError{
			Kind:       BaseAddressUnreadable,
			PID:        pid,
			Diagnostic: "could not read the image base address",
			Err:        err,
		}
	}

	accessor := NewAccessor(handle, opts.Accessor, logger)

	header := ReadImageHeader(accessor, base)
	for _, problem := range header.Problems {
		logger.Warn().Err(problem).Uint64("image_base", base).Msg("Unexpected executable header")
	}
	fingerprint := header.Fingerprint()
	logger.Debug().
		Str("fingerprint", fingerprint.String()).
		Time("compiled_at", header.CompiledAt()).
		Msg("Read executable header")

	lay, complete := a.resolveLayout(fingerprint, logger)

	linkBase := lay.DefaultLinkBase
	if opts.DefaultLinkBase != 0 {
		linkBase = opts.DefaultLinkBase
	}
	correction, clamped := safe.AddressDelta(base, linkBase)
	if clamped {
		logger.Warn().
			Uint64("image_base", base).
			Uint64("link_base", linkBase).
			Msg("Base address correction out of range")
	}

	regions := NewRegionMap(logger)
	info := a.sys.Info()
	regions.Rescan(handle, info)

	liveness := opts.Liveness
	if liveness.Interval <= 0 {
		liveness.Interval = DefaultLivenessInterval
	}

	sess := &Session{
		ID:             uuid.NewString(),
		PID:            pid,
		ImageBase:      base,
		LinkBase:       linkBase,
		Correction:     correction,
		Fingerprint:    fingerprint,
		Header:         header,
		Layout:         lay,
		LayoutComplete: complete,
		handle:         handle,
		info:           info,
		regions:        regions,
		accessor:       accessor,
		liveness:       liveness,
		logger:         logger,
	}
	sess.guarded = NewGuarded(accessor, regions)
	sess.strings = NewStringCodec(accessor, lay, logger)
	sess.arrays = NewArrayReader(accessor, lay, logger)
	return sess, nil
}

// resolveLayout returns the registered layout for fingerprint or the
// fallback, and whether strict checks may be enabled.
func (a *Attacher) resolveLayout(fingerprint Fingerprint, logger zerolog.Logger) (*layout.Layout, bool) {
	if a.registry != nil {
		if lay, ok := a.registry.Lookup(fingerprint.String()); ok {
			logger.Debug().Str("layout", lay.Name).Msg("Using registered layout")
			return lay, lay.Complete
		}
	}
	logger.Warn().
		Str("fingerprint", fingerprint.String()).
		Msg("Version mismatch: no layout registered, using best-effort fallback")
	return layout.Fallback(), false
}
