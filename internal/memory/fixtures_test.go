package memory

import (
	"testing"

	"github.com/coral-mesh/memlens/internal/layout"
	"github.com/coral-mesh/memlens/internal/sys/procmem"
	"github.com/coral-mesh/memlens/internal/sys/procmem/procmemtest"
	"github.com/coral-mesh/memlens/internal/testutil"
)

const (
	testPID       = 4242
	testImageBase = uint64(0x1400000)
	testTimestamp = uint32(0x4a1b2c3d)
	testHeapBase  = uint64(0x10000)
)

var testMatcher = procmem.Matcher{ProcessName: "Dwarf Fortress.exe"}

// putImage writes a minimal DOS and PE header at base.
func putImage(p *procmemtest.Process, base uint64, timestamp uint32) {
	p.Put(base, []byte("MZ"))
	p.PutI32(base+0x3c, 0x80)
	p.Put(base+0x80, []byte("PE\x00\x00"))
	p.PutU32(base+0x88, timestamp)
}

// newTarget returns a process with a relocated image and one heap page.
func newTarget() *procmemtest.Process {
	p := procmemtest.NewProcess(testPID).
		Map(testHeapBase, 0x1000, procmem.PageReadWrite).
		Map(testImageBase, 0x1000, procmem.PageReadOnly).
		Map(testImageBase+0x1000, 0x2000, procmem.PageExecuteRead)
	p.Base = testImageBase
	putImage(p, testImageBase, testTimestamp)
	return p
}

func newTestAccessor(t *testing.T, p *procmemtest.Process, strict bool) *Accessor {
	t.Helper()
	return NewAccessor(p, AccessorOptions{Strict: strict}, testutil.NewTestLogger(t))
}

func completeLayout() *layout.Layout {
	l := layout.Fallback()
	l.Name = "test"
	l.Fingerprint = FingerprintOf(testTimestamp).String()
	l.Complete = true
	return l
}
