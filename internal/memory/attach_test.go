package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/memlens/internal/layout"
	"github.com/coral-mesh/memlens/internal/sys/procmem"
	"github.com/coral-mesh/memlens/internal/sys/procmem/procmemtest"
	"github.com/coral-mesh/memlens/internal/testutil"
)

func newAttachFixture(t *testing.T, registry layout.Registry) (*procmemtest.Process, *procmemtest.System, *Attacher) {
	t.Helper()
	p := newTarget()
	sys := procmemtest.NewSystem(p)
	sys.Matches[testMatcher] = testPID
	return p, sys, NewAttacher(sys, registry, testutil.NewTestLogger(t))
}

func defaultCriteria() []procmem.Matcher {
	return []procmem.Matcher{
		{},
		{WindowClass: "OpenGL", WindowTitle: "Dwarf Fortress"},
		{WindowTitle: "Dwarf Fortress"},
		testMatcher,
	}
}

func TestAttach_Success(t *testing.T) {
	p, sys, attacher := newAttachFixture(t, nil)

	sess, err := attacher.Attach(context.Background(), AttachOptions{Criteria: defaultCriteria()})
	require.NoError(t, err)
	defer func() { _ = sess.Detach() }()

	assert.True(t, sess.OK())
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, testPID, sess.PID)
	assert.Equal(t, testImageBase, sess.ImageBase)
	assert.Equal(t, uint64(layout.DefaultLinkBase), sess.LinkBase)
	assert.Equal(t, int64(0x1000000), sess.Correction)
	assert.Equal(t, Fingerprint("4a1b2c3d"), sess.Fingerprint)
	assert.True(t, sess.Header.Valid())

	// The empty matcher is skipped; the others are tried in order.
	assert.Equal(t, defaultCriteria()[1:], sys.Tried)

	lo, hi := sess.Bounds()
	assert.Equal(t, testHeapBase, lo)
	assert.Equal(t, testImageBase+0x3000, hi)
	assert.True(t, sess.IsValidAddress(testImageBase))
	assert.False(t, sess.IsValidAddress(0x500000))

	assert.Equal(t, testImageBase+0x1234, sess.Corrected(layout.DefaultLinkBase+0x1234))
	assert.Equal(t, DefaultLivenessInterval, sess.Liveness().Interval)
	assert.Zero(t, p.Closed)
}

func TestAttach_VersionMismatchUsesFallback(t *testing.T) {
	p := newTarget()
	sys := procmemtest.NewSystem(p)
	sys.Matches[testMatcher] = testPID
	logger, out := testutil.NewCapturingLogger(t)
	registry, err := layout.NewStaticRegistry(layout.Layout{
		Fingerprint: "0000beef",
		Complete:    true,
		String:      layout.StringLayout{BufferOffset: 4, LengthOffset: 20, CapacityOffset: 24},
		Array:       layout.ArrayLayout{StartOffset: 4, EndOffset: 8},
	})
	require.NoError(t, err)

	sess, err := NewAttacher(sys, registry, logger).Attach(context.Background(), AttachOptions{
		Criteria: []procmem.Matcher{testMatcher},
	})
	require.NoError(t, err)
	defer func() { _ = sess.Detach() }()

	assert.False(t, sess.LayoutComplete)
	assert.Equal(t, "fallback", sess.Layout.Name)
	assert.False(t, sess.Arrays().Strict())
	assert.Contains(t, out.String(), "Version mismatch")
	assert.Contains(t, out.String(), `"level":"warn"`)
}

func TestAttach_RegisteredLayout(t *testing.T) {
	registry, err := layout.NewStaticRegistry(layout.Layout{
		Fingerprint:     "4A1B2C3D",
		Name:            "v0.31.25",
		Complete:        true,
		DefaultLinkBase: 0x1000000,
		String:          layout.StringLayout{BufferOffset: 4, LengthOffset: 20, CapacityOffset: 24},
		Array:           layout.ArrayLayout{StartOffset: 4, EndOffset: 8},
	})
	require.NoError(t, err)
	_, _, attacher := newAttachFixture(t, registry)

	sess, err := attacher.Attach(context.Background(), AttachOptions{Criteria: []procmem.Matcher{testMatcher}})
	require.NoError(t, err)
	defer func() { _ = sess.Detach() }()

	assert.True(t, sess.LayoutComplete)
	assert.Equal(t, "v0.31.25", sess.Layout.Name)
	assert.True(t, sess.Arrays().Strict())
	assert.Equal(t, int64(0x400000), sess.Correction)
}

func TestAttach_LinkBaseOverride(t *testing.T) {
	_, _, attacher := newAttachFixture(t, nil)

	sess, err := attacher.Attach(context.Background(), AttachOptions{
		Criteria:        []procmem.Matcher{testMatcher},
		DefaultLinkBase: 0x2000000,
		Liveness:        Liveness{Enabled: false},
	})
	require.NoError(t, err)
	defer func() { _ = sess.Detach() }()

	assert.Equal(t, int64(-0xc00000), sess.Correction)
	assert.False(t, sess.Liveness().Enabled)
	assert.Equal(t, DefaultLivenessInterval, sess.Liveness().Interval)
}

func TestAttach_Errors(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(p *procmemtest.Process, sys *procmemtest.System)
		kind       AttachErrorKind
		sentinel   error
		wantClosed int
	}{
		{
			name:     "process not found",
			setup:    func(_ *procmemtest.Process, sys *procmemtest.System) { delete(sys.Matches, testMatcher) },
			kind:     ProcessNotFound,
			sentinel: ErrProcessNotFound,
		},
		{
			name:     "access denied",
			setup:    func(_ *procmemtest.Process, sys *procmemtest.System) { sys.Denied[testPID] = true },
			kind:     AccessDenied,
			sentinel: ErrAccessDenied,
		},
		{
			name: "control block not found",
			setup: func(p *procmemtest.Process, _ *procmemtest.System) {
				p.BaseErr = fmt.Errorf("query failed: %w", procmem.ErrControlBlockNotFound)
			},
			kind:       BaseAddressUnavailable,
			sentinel:   ErrBaseAddressUnavailable,
			wantClosed: 1,
		},
		{
			name: "control block unreadable",
			setup: func(p *procmemtest.Process, _ *procmemtest.System) {
				p.BaseErr = fmt.Errorf("read failed: %w", procmem.ErrControlBlockUnreadable)
			},
			kind:       BaseAddressUnreadable,
			sentinel:   ErrBaseAddressUnreadable,
			wantClosed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, sys, attacher := newAttachFixture(t, nil)
			tt.setup(p, sys)

			sess, err := attacher.Attach(context.Background(), AttachOptions{Criteria: defaultCriteria()})
			assert.Nil(t, sess)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var attachErr *AttachError
			require.True(t, errors.As(err, &attachErr))
			assert.Equal(t, tt.kind, attachErr.Kind)
			assert.NotEmpty(t, attachErr.Diagnostic)
			assert.Equal(t, tt.wantClosed, p.Closed)
		})
	}
}

func TestAttach_NoCriteria(t *testing.T) {
	_, _, attacher := newAttachFixture(t, nil)

	_, err := attacher.Attach(context.Background(), AttachOptions{})
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

func TestAttach_ContextCanceled(t *testing.T) {
	_, _, attacher := newAttachFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := attacher.Attach(ctx, AttachOptions{Criteria: defaultCriteria()})
	assert.ErrorIs(t, err, context.Canceled)

	var attachErr *AttachError
	assert.False(t, errors.As(err, &attachErr))
}

func TestSession_DetachClosesOnce(t *testing.T) {
	p, _, attacher := newAttachFixture(t, nil)

	sess, err := attacher.Attach(context.Background(), AttachOptions{Criteria: defaultCriteria()})
	require.NoError(t, err)

	require.NoError(t, sess.Detach())
	require.NoError(t, sess.Close())
	assert.Equal(t, 1, p.Closed)
	assert.False(t, sess.OK())

	alive, err := sess.CheckAlive()
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestSession_CheckAlive(t *testing.T) {
	p, _, attacher := newAttachFixture(t, nil)

	sess, err := attacher.Attach(context.Background(), AttachOptions{Criteria: defaultCriteria()})
	require.NoError(t, err)
	defer func() { _ = sess.Detach() }()

	alive, err := sess.CheckAlive()
	require.NoError(t, err)
	assert.True(t, alive)
	assert.True(t, sess.OK())

	p.Dead = true
	alive, err = sess.CheckAlive()
	require.NoError(t, err)
	assert.False(t, alive)
	assert.False(t, sess.OK())
	assert.Zero(t, p.Closed, "the handle is released by Detach only")
}

func TestSession_Rescan(t *testing.T) {
	p, _, attacher := newAttachFixture(t, nil)

	sess, err := attacher.Attach(context.Background(), AttachOptions{Criteria: defaultCriteria()})
	require.NoError(t, err)
	defer func() { _ = sess.Detach() }()

	assert.False(t, sess.IsValidAddress(0x600000))
	p.Map(0x600000, 0x1000, procmem.PageReadWrite)

	summary := sess.Rescan()
	assert.Equal(t, 4, summary.Accepted)
	assert.True(t, sess.IsValidAddress(0x600000))
}

func TestSession_DecodersShareLayout(t *testing.T) {
	p, _, attacher := newAttachFixture(t, nil)
	putString(p, testHeapBase, 5, 8, 0)
	p.Put(testHeapBase+4, []byte("Urist"))

	sess, err := attacher.Attach(context.Background(), AttachOptions{
		Criteria: defaultCriteria(),
		Liveness: Liveness{Enabled: true, Interval: 250 * time.Millisecond},
	})
	require.NoError(t, err)
	defer func() { _ = sess.Detach() }()

	assert.Equal(t, "Urist", sess.Strings().Read(testHeapBase))
	assert.Equal(t, 250*time.Millisecond, sess.Liveness().Interval)
	assert.Zero(t, sess.Guarded().ReadU32(0x700000))
	assert.Equal(t, 1, sess.Memory().Stats().Rejected)
}
