// Package procmem abstracts the operating system capabilities needed to
// inspect another process: discovery, handle acquisition, remote reads and
// writes, and address space queries.
//
// Backends exist for Windows (ReadProcessMemory/VirtualQueryEx) and Linux
// (process_vm_readv and /proc/<pid>/maps). Region states and protection
// flags use the Windows numeric values on every platform so callers can
// filter regions with a single rule set.
package procmem

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoMatch is returned by FindProcess when a matcher resolves to no live process.
	ErrNoMatch = errors.New("no matching process")

	// ErrUnsupportedMatcher is returned when a matcher uses criteria the platform cannot evaluate.
	ErrUnsupportedMatcher = errors.New("matcher not supported on this platform")

	// ErrAccessDenied is returned by Open when the OS refuses a handle with the requested rights.
	ErrAccessDenied = errors.New("access denied")

	// ErrControlBlockNotFound is returned when the process control block cannot be located.
	ErrControlBlockNotFound = errors.New("process control block not found")

	// ErrControlBlockUnreadable is returned when the control block exists but reading it fails.
	ErrControlBlockUnreadable = errors.New("process control block unreadable")

	// ErrUnsupported is returned by backends on platforms without remote memory access.
	ErrUnsupported = errors.New("remote memory access not supported on this platform")
)

// State is the allocation state of a region.
type State uint32

const (
	StateCommit  State = 0x1000
	StateReserve State = 0x2000
	StateFree    State = 0x10000
)

func (s State) String() string {
	switch s {
	case StateCommit:
		return "commit"
	case StateReserve:
		return "reserve"
	case StateFree:
		return "free"
	default:
		return fmt.Sprintf("state(0x%x)", uint32(s))
	}
}

// Protection is a page protection bitmask.
type Protection uint32

const (
	PageNoAccess         Protection = 0x01
	PageReadOnly         Protection = 0x02
	PageReadWrite        Protection = 0x04
	PageWriteCopy        Protection = 0x08
	PageExecute          Protection = 0x10
	PageExecuteRead      Protection = 0x20
	PageExecuteReadWrite Protection = 0x40
	PageExecuteWriteCopy Protection = 0x80
	PageGuard            Protection = 0x100
)

// Readable is the set of protections under which a committed page can be read.
const Readable = PageExecuteRead | PageExecuteReadWrite | PageReadOnly | PageReadWrite | PageWriteCopy

// Guarded reports whether the guard-page modifier is set.
func (p Protection) Guarded() bool {
	return p&PageGuard != 0
}

func (p Protection) String() string {
	var parts []string
	names := []struct {
		flag Protection
		name string
	}{
		{PageNoAccess, "noaccess"},
		{PageReadOnly, "r"},
		{PageReadWrite, "rw"},
		{PageWriteCopy, "wc"},
		{PageExecute, "x"},
		{PageExecuteRead, "rx"},
		{PageExecuteReadWrite, "rwx"},
		{PageExecuteWriteCopy, "xwc"},
		{PageGuard, "guard"},
	}
	for _, n := range names {
		if p&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("0x%x", uint32(p))
	}
	return strings.Join(parts, "|")
}

// Region describes the address range returned by a single region query.
type Region struct {
	Base    uint64
	Size    uint64
	State   State
	Protect Protection
	// Path is the backing file, when the platform reports one.
	Path string
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// SystemInfo describes the addressable user space of the host.
type SystemInfo struct {
	PageSize   uint64
	MinAddress uint64
	MaxAddress uint64
}

// Matcher is one process discovery criterion. Matchers are tried in order
// by the attacher until one resolves to a process.
type Matcher struct {
	WindowClass string `yaml:"window_class,omitempty" json:"window_class,omitempty"`
	WindowTitle string `yaml:"window_title,omitempty" json:"window_title,omitempty"`
	ProcessName string `yaml:"process_name,omitempty" json:"process_name,omitempty"`
	Executable  string `yaml:"executable,omitempty" json:"executable,omitempty"`
}

// Empty reports whether the matcher carries no criteria.
func (m Matcher) Empty() bool {
	return m == Matcher{}
}

// ByWindow reports whether the matcher needs window enumeration.
func (m Matcher) ByWindow() bool {
	return m.WindowClass != "" || m.WindowTitle != ""
}

func (m Matcher) String() string {
	var parts []string
	if m.WindowClass != "" {
		parts = append(parts, fmt.Sprintf("class=%q", m.WindowClass))
	}
	if m.WindowTitle != "" {
		parts = append(parts, fmt.Sprintf("title=%q", m.WindowTitle))
	}
	if m.ProcessName != "" {
		parts = append(parts, fmt.Sprintf("name=%q", m.ProcessName))
	}
	if m.Executable != "" {
		parts = append(parts, fmt.Sprintf("exe=%q", m.Executable))
	}
	if len(parts) == 0 {
		return "<empty>"
	}
	return strings.Join(parts, " ")
}

// RemoteMemory reads and writes another process's address space.
// Both calls return the number of bytes actually transferred, which may be
// less than requested.
type RemoteMemory interface {
	ReadMemory(addr uint64, buf []byte) (int, error)
	WriteMemory(addr uint64, data []byte) (int, error)
}

// RegionQuerier returns metadata for the region covering an address.
type RegionQuerier interface {
	QueryRegion(addr uint64) (Region, error)
}

// Handle is an open access handle to a target process.
type Handle interface {
	RemoteMemory
	RegionQuerier

	// PID returns the process identifier the handle was opened for.
	PID() int

	// ImageBase locates the process control block and reads the load
	// address of the main executable image from it.
	ImageBase() (uint64, error)

	// Alive reports whether the process is still running.
	Alive() (bool, error)

	// Close releases the handle.
	Close() error
}

// System discovers processes and opens handles to them.
type System interface {
	Info() SystemInfo
	FindProcess(ctx context.Context, m Matcher) (int, error)
	Open(pid int) (Handle, error)
}
