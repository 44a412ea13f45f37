//go:build linux

package procmem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/coral-mesh/memlens/internal/sys/proc"
)

// userSpaceTop is the end of the x86-64 canonical lower half.
const userSpaceTop = uint64(1) << 47

type linuxSystem struct{}

// Native returns the backend for the running platform.
func Native() System {
	return linuxSystem{}
}

func (linuxSystem) Info() SystemInfo {
	return SystemInfo{
		//nolint:gosec // G115: page size is positive.
		PageSize:   uint64(unix.Getpagesize()),
		MinAddress: proc.ReadMmapMinAddr(),
		MaxAddress: userSpaceTop,
	}
}

func (linuxSystem) FindProcess(ctx context.Context, m Matcher) (int, error) {
	if m.ByWindow() {
		return 0, ErrUnsupportedMatcher
	}
	return findByName(ctx, m)
}

// Open acquires /proc/<pid>/mem read-write. The kernel applies the same
// ptrace access check as process_vm_readv, so a successful open means later
// reads are permitted.
func (linuxSystem) Open(pid int) (Handle, error) {
	mem, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return &linuxHandle{pid: pid, mem: mem}, nil
}

type linuxHandle struct {
	pid int
	mem *os.File

	// maps caches the last /proc/<pid>/maps snapshot. It is refreshed
	// whenever a query moves backwards, which is how a new region walk starts.
	maps     []proc.Mapping
	lastAddr uint64
}

func (l *linuxHandle) PID() int {
	return l.pid
}

func (l *linuxHandle) ReadMemory(addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}

	n, err := unix.ProcessVMReadv(l.pid, local, remote, 0)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (l *linuxHandle) WriteMemory(addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}

	n, err := unix.ProcessVMWritev(l.pid, local, remote, 0)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (l *linuxHandle) refreshMaps() error {
	maps, err := proc.ReadMaps(l.pid)
	if err != nil {
		return err
	}
	l.maps = maps
	return nil
}

// QueryRegion answers with the mapping covering addr, or with a free region
// spanning the gap up to the next mapping.
func (l *linuxHandle) QueryRegion(addr uint64) (Region, error) {
	if l.maps == nil || addr < l.lastAddr {
		if err := l.refreshMaps(); err != nil {
			return Region{}, err
		}
	}
	l.lastAddr = addr

	i := sort.Search(len(l.maps), func(i int) bool { return l.maps[i].End > addr })
	if i == len(l.maps) {
		if addr >= userSpaceTop {
			return Region{}, fmt.Errorf("address 0x%x outside user space", addr)
		}
		return Region{Base: addr, Size: userSpaceTop - addr, State: StateFree, Protect: PageNoAccess}, nil
	}

	m := l.maps[i]
	if addr < m.Start {
		return Region{Base: addr, Size: m.Start - addr, State: StateFree, Protect: PageNoAccess}, nil
	}
	return Region{
		Base:    m.Start,
		Size:    m.Size(),
		State:   StateCommit,
		Protect: protectionFromPerms(m),
		Path:    m.Path,
	}, nil
}

// protectionFromPerms maps Linux permission strings onto page protections.
// The main thread stack grows on demand below its guard gap, so it is
// reported with the guard modifier.
func protectionFromPerms(m proc.Mapping) Protection {
	var p Protection
	switch {
	case !m.Readable():
		p = PageNoAccess
	case m.Executable() && m.Writable():
		p = PageExecuteReadWrite
	case m.Executable():
		p = PageExecuteRead
	case m.Writable():
		p = PageReadWrite
	default:
		p = PageReadOnly
	}
	if m.Path == "[stack]" {
		p |= PageGuard
	}
	return p
}

// ImageBase returns the lowest mapping of the main image. Under Wine the
// loader binary is the kernel-visible executable, so a mapped PE image
// (".exe") takes precedence over /proc/<pid>/exe.
func (l *linuxHandle) ImageBase() (uint64, error) {
	if err := l.refreshMaps(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrControlBlockNotFound, err)
	}

	base, ok := l.lowestMapping(func(m proc.Mapping) bool {
		return strings.EqualFold(filepath.Ext(m.Path), ".exe")
	})
	if !ok {
		exe, err := proc.GetBinaryPath(l.pid)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrControlBlockNotFound, err)
		}
		base, ok = l.lowestMapping(func(m proc.Mapping) bool { return m.Path == exe })
		if !ok {
			return 0, fmt.Errorf("%w: %s is not mapped", ErrControlBlockNotFound, exe)
		}
	}

	probe := make([]byte, 2)
	if n, err := l.ReadMemory(base, probe); err != nil || n != len(probe) {
		return 0, fmt.Errorf("%w: image at 0x%x: %v", ErrControlBlockUnreadable, base, err)
	}
	return base, nil
}

func (l *linuxHandle) lowestMapping(match func(proc.Mapping) bool) (uint64, bool) {
	for _, m := range l.maps {
		if match(m) {
			return m.Start, true
		}
	}
	return 0, false
}

func (l *linuxHandle) Alive() (bool, error) {
	alive, err := pidAlive(l.pid)
	if err != nil {
		return false, err
	}
	if !alive {
		return false, nil
	}
	// A zombie still has a PID but no address space.
	if _, err := os.Stat(fmt.Sprintf("/proc/%d/maps", l.pid)); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return true, nil
}

func (l *linuxHandle) Close() error {
	return l.mem.Close()
}
