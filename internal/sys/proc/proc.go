// Package proc provides utilities for process inspection on Linux systems.
// It parses the /proc filesystem for process executables and memory maps.
package proc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Mapping is one line of /proc/<pid>/maps.
type Mapping struct {
	Start  uint64
	End    uint64
	Perms  string // e.g. "r-xp"
	Offset uint64
	Inode  uint64
	Path   string // Empty for anonymous mappings.
}

// Size returns the length of the mapping in bytes.
func (m Mapping) Size() uint64 {
	return m.End - m.Start
}

// Readable reports whether the mapping carries the read permission.
func (m Mapping) Readable() bool {
	return len(m.Perms) > 0 && m.Perms[0] == 'r'
}

// Writable reports whether the mapping carries the write permission.
func (m Mapping) Writable() bool {
	return len(m.Perms) > 1 && m.Perms[1] == 'w'
}

// Executable reports whether the mapping carries the execute permission.
func (m Mapping) Executable() bool {
	return len(m.Perms) > 2 && m.Perms[2] == 'x'
}

// Private reports whether the mapping is copy-on-write.
func (m Mapping) Private() bool {
	return len(m.Perms) > 3 && m.Perms[3] == 'p'
}

// ReadMaps reads and parses /proc/<pid>/maps. Mappings are sorted by start address.
func ReadMaps(pid int) ([]Mapping, error) {
	//nolint:gosec // G304: Path is from /proc filesystem for process information.
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("failed to open maps for pid %d: %w", pid, err)
	}
	defer f.Close() // nolint:errcheck

	return ParseMaps(f)
}

// ParseMaps parses the /proc/<pid>/maps format.
// Malformed lines are skipped.
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var mappings []Mapping
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		m, ok := parseMapsLine(scanner.Text())
		if !ok {
			continue
		}
		mappings = append(mappings, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read maps: %w", err)
	}

	sort.Slice(mappings, func(i, j int) bool { return mappings[i].Start < mappings[j].Start })
	return mappings, nil
}

// parseMapsLine parses a line like:
//
//	00400000-0040b000 r-xp 00000000 08:01 1234   /usr/bin/cat
func parseMapsLine(line string) (Mapping, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Mapping{}, false
	}

	bounds := strings.SplitN(fields[0], "-", 2)
	if len(bounds) != 2 {
		return Mapping{}, false
	}
	start, err := strconv.ParseUint(bounds[0], 16, 64)
	if err != nil {
		return Mapping{}, false
	}
	end, err := strconv.ParseUint(bounds[1], 16, 64)
	if err != nil || end < start {
		return Mapping{}, false
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Mapping{}, false
	}
	inode, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return Mapping{}, false
	}

	var path string
	if len(fields) > 5 {
		// Paths may contain spaces ("Dwarf Fortress.exe").
		path = strings.Join(fields[5:], " ")
	}

	return Mapping{
		Start:  start,
		End:    end,
		Perms:  fields[1],
		Offset: offset,
		Inode:  inode,
		Path:   path,
	}, true
}

// GetBinaryPath returns the path to the executable for the given PID.
func GetBinaryPath(pid int) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
}

// ReadMmapMinAddr returns the lowest address user space may map, falling back
// to the common kernel default when the sysctl is unreadable.
func ReadMmapMinAddr() uint64 {
	data, err := os.ReadFile("/proc/sys/vm/mmap_min_addr")
	if err != nil {
		return 0x10000
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0x10000
	}
	return v
}

// ReadPtraceScope returns the Yama ptrace_scope setting, or -1 when the
// Yama module is not present.
func ReadPtraceScope() int {
	data, err := os.ReadFile("/proc/sys/kernel/yama/ptrace_scope")
	if err != nil {
		return -1
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return -1
	}
	return v
}
