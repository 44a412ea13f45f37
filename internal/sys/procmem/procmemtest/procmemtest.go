// Package procmemtest provides a synthetic address space implementing the
// procmem interfaces for tests.
package procmemtest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/coral-mesh/memlens/internal/sys/procmem"
)

// DefaultInfo is the system description used when none is given.
var DefaultInfo = procmem.SystemInfo{
	PageSize:   0x1000,
	MinAddress: 0x10000,
	MaxAddress: 0x7fff0000,
}

type block struct {
	region procmem.Region
	data   []byte
}

func (b *block) readable() bool {
	return b.region.State == procmem.StateCommit && b.region.Protect&procmem.Readable != 0
}

// Process is a fake target. Regions are declared with Map or Reserve and
// populated with the Put helpers.
type Process struct {
	Pid int

	// Base is returned by ImageBase unless BaseErr is set.
	Base    uint64
	BaseErr error

	// Dead makes Alive report false.
	Dead bool

	// FailQuery lists addresses whose QueryRegion call fails.
	FailQuery map[uint64]bool

	// WriteLimit caps the bytes accepted by a single WriteMemory call when positive.
	WriteLimit int

	Info   procmem.SystemInfo
	blocks []*block

	Queries int
	Closed  int
}

// NewProcess returns an empty fake process.
func NewProcess(pid int) *Process {
	return &Process{
		Pid:       pid,
		Info:      DefaultInfo,
		FailQuery: map[uint64]bool{},
	}
}

// Map declares a committed region with the given protection.
func (p *Process) Map(base, size uint64, protect procmem.Protection) *Process {
	return p.add(procmem.Region{Base: base, Size: size, State: procmem.StateCommit, Protect: protect})
}

// Reserve declares a reserved, uncommitted region.
func (p *Process) Reserve(base, size uint64) *Process {
	return p.add(procmem.Region{Base: base, Size: size, State: procmem.StateReserve, Protect: procmem.PageNoAccess})
}

func (p *Process) add(r procmem.Region) *Process {
	p.blocks = append(p.blocks, &block{region: r, data: make([]byte, r.Size)})
	sort.Slice(p.blocks, func(i, j int) bool { return p.blocks[i].region.Base < p.blocks[j].region.Base })
	return p
}

func (p *Process) find(addr uint64) *block {
	for _, b := range p.blocks {
		if addr >= b.region.Base && addr < b.region.End() {
			return b
		}
	}
	return nil
}

// Put stores raw bytes regardless of protection. It panics when the range
// is not fully inside declared regions, which is a test setup bug.
func (p *Process) Put(addr uint64, data []byte) {
	for i, c := range data {
		b := p.find(addr + uint64(i))
		if b == nil {
			panic(fmt.Sprintf("procmemtest: 0x%x is not mapped", addr+uint64(i)))
		}
		b.data[addr+uint64(i)-b.region.Base] = c
	}
}

// PutU16 stores a little-endian uint16.
func (p *Process) PutU16(addr uint64, v uint16) {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	p.Put(addr, buf)
}

// PutU32 stores a little-endian uint32.
func (p *Process) PutU32(addr uint64, v uint32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	p.Put(addr, buf)
}

// PutI32 stores a little-endian int32.
func (p *Process) PutI32(addr uint64, v int32) {
	//nolint:gosec // G115: two's complement reinterpretation is intended.
	p.PutU32(addr, uint32(v))
}

// PutU64 stores a little-endian uint64.
func (p *Process) PutU64(addr uint64, v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	p.Put(addr, buf)
}

// Bytes returns stored bytes regardless of protection.
func (p *Process) Bytes(addr uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		if b := p.find(addr + uint64(i)); b != nil {
			out[i] = b.data[addr+uint64(i)-b.region.Base]
		}
	}
	return out
}

// PID implements procmem.Handle.
func (p *Process) PID() int {
	return p.Pid
}

// ReadMemory copies bytes until the first unreadable address, mimicking a
// partial ReadProcessMemory.
func (p *Process) ReadMemory(addr uint64, buf []byte) (int, error) {
	for i := range buf {
		b := p.find(addr + uint64(i))
		if b == nil || !b.readable() {
			if i == 0 {
				return 0, fmt.Errorf("read at 0x%x: %w", addr, errFault)
			}
			return i, nil
		}
		buf[i] = b.data[addr+uint64(i)-b.region.Base]
	}
	return len(buf), nil
}

// WriteMemory stores bytes into committed regions, honoring WriteLimit.
func (p *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	limit := len(data)
	if p.WriteLimit > 0 && p.WriteLimit < limit {
		limit = p.WriteLimit
	}
	for i := 0; i < limit; i++ {
		b := p.find(addr + uint64(i))
		if b == nil || b.region.State != procmem.StateCommit {
			if i == 0 {
				return 0, fmt.Errorf("write at 0x%x: %w", addr, errFault)
			}
			return i, nil
		}
		b.data[addr+uint64(i)-b.region.Base] = data[i]
	}
	return limit, nil
}

// QueryRegion reports the declared region covering addr, or a free gap up
// to the next declared region.
func (p *Process) QueryRegion(addr uint64) (procmem.Region, error) {
	p.Queries++
	if p.FailQuery[addr] {
		return procmem.Region{}, fmt.Errorf("query at 0x%x: %w", addr, errFault)
	}
	if b := p.find(addr); b != nil {
		return b.region, nil
	}

	next := p.Info.MaxAddress
	for _, b := range p.blocks {
		if b.region.Base > addr && b.region.Base < next {
			next = b.region.Base
		}
	}
	if next <= addr {
		return procmem.Region{Base: addr, State: procmem.StateFree, Protect: procmem.PageNoAccess}, nil
	}
	return procmem.Region{Base: addr, Size: next - addr, State: procmem.StateFree, Protect: procmem.PageNoAccess}, nil
}

// ImageBase implements procmem.Handle.
func (p *Process) ImageBase() (uint64, error) {
	if p.BaseErr != nil {
		return 0, p.BaseErr
	}
	return p.Base, nil
}

// Alive implements procmem.Handle.
func (p *Process) Alive() (bool, error) {
	return !p.Dead, nil
}

// Close counts releases so tests can assert exactly-once semantics.
func (p *Process) Close() error {
	p.Closed++
	return nil
}

var errFault = fmt.Errorf("access violation")

// System is a fake procmem.System resolving matchers from a table.
type System struct {
	SysInfo   procmem.SystemInfo
	Matches   map[procmem.Matcher]int
	Processes map[int]*Process
	Denied    map[int]bool

	// Tried records the matchers passed to FindProcess, in order.
	Tried []procmem.Matcher
}

// NewSystem returns a fake system hosting the given processes.
func NewSystem(procs ...*Process) *System {
	s := &System{
		SysInfo:   DefaultInfo,
		Matches:   map[procmem.Matcher]int{},
		Processes: map[int]*Process{},
		Denied:    map[int]bool{},
	}
	for _, p := range procs {
		s.Processes[p.Pid] = p
	}
	return s
}

// Info implements procmem.System.
func (s *System) Info() procmem.SystemInfo {
	return s.SysInfo
}

// FindProcess implements procmem.System.
func (s *System) FindProcess(ctx context.Context, m procmem.Matcher) (int, error) {
	s.Tried = append(s.Tried, m)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if pid, ok := s.Matches[m]; ok {
		return pid, nil
	}
	return 0, procmem.ErrNoMatch
}

// Open implements procmem.System.
func (s *System) Open(pid int) (procmem.Handle, error) {
	if s.Denied[pid] {
		return nil, fmt.Errorf("%w: pid %d", procmem.ErrAccessDenied, pid)
	}
	p, ok := s.Processes[pid]
	if !ok {
		return nil, fmt.Errorf("%w: pid %d does not exist", procmem.ErrAccessDenied, pid)
	}
	return p, nil
}
