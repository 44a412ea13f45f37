package procmem

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// findByName resolves ProcessName and Executable criteria by enumerating
// running processes. When several processes match, the lowest PID wins so
// repeated lookups are stable.
func findByName(ctx context.Context, m Matcher) (int, error) {
	if m.ProcessName == "" && m.Executable == "" {
		return 0, ErrNoMatch
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate processes: %w", err)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].Pid < procs[j].Pid })

	for _, p := range procs {
		if m.ProcessName != "" {
			name, err := p.NameWithContext(ctx)
			if err != nil || !strings.EqualFold(name, m.ProcessName) {
				continue
			}
		}
		if m.Executable != "" {
			exe, err := p.ExeWithContext(ctx)
			if err != nil || !sameExecutable(exe, m.Executable) {
				continue
			}
		}
		return int(p.Pid), nil
	}

	return 0, ErrNoMatch
}

// sameExecutable compares an executable path against a criterion that may be
// a bare file name or a full path.
func sameExecutable(exe, want string) bool {
	if strings.ContainsAny(want, `/\`) {
		return strings.EqualFold(filepath.Clean(exe), filepath.Clean(want))
	}
	return strings.EqualFold(filepath.Base(exe), want)
}

// pidAlive reports whether a PID still refers to a running process.
func pidAlive(pid int) (bool, error) {
	//nolint:gosec // G115: PIDs fit in int32 on every supported platform.
	return process.PidExists(int32(pid))
}
