// Package privilege detects the user context memlens runs under and
// explains why the OS may refuse access to another process.
package privilege

import (
	"fmt"
	"os"
	"os/user"
	"runtime"
	"strconv"

	"github.com/coral-mesh/memlens/internal/sys/proc"
)

// UserContext represents the identity of the original user when running under
// privilege escalation.
type UserContext struct {
	Username string
	UID      int
	GID      int
	HomeDir  string
}

// DetectOriginalUser extracts user identity, accounting for sudo execution.
// When running under sudo, it returns the original user's context from
// SUDO_USER/SUDO_UID/SUDO_GID environment variables so configuration is
// still read from the invoking user's home. Otherwise, returns the current
// user's context.
func DetectOriginalUser() (*UserContext, error) {
	sudoUser := os.Getenv("SUDO_USER")
	if sudoUser == "" {
		return getCurrentUser()
	}

	uidStr := os.Getenv("SUDO_UID")
	gidStr := os.Getenv("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return nil, fmt.Errorf("SUDO_USER set but SUDO_UID or SUDO_GID missing")
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SUDO_UID: %w", err)
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SUDO_GID: %w", err)
	}

	u, err := user.Lookup(sudoUser)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup user %s: %w", sudoUser, err)
	}

	return &UserContext{
		Username: sudoUser,
		UID:      uid,
		GID:      gid,
		HomeDir:  u.HomeDir,
	}, nil
}

// getCurrentUser returns the context for the current user.
func getCurrentUser() (*UserContext, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	return &UserContext{
		Username: u.Username,
		UID:      os.Getuid(),
		GID:      os.Getgid(),
		HomeDir:  u.HomeDir,
	}, nil
}

// IsRoot checks if the current process is running with root privileges (euid
// == 0). Always false on Windows.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// IsRunningUnderSudo checks if the process is running under sudo by checking
// for the SUDO_USER environment variable.
func IsRunningUnderSudo() bool {
	return os.Getenv("SUDO_USER") != ""
}

// AccessHint returns advice for a refused process handle on the current
// platform, or "" when there is nothing specific to suggest.
func AccessHint() string {
	return accessHint(runtime.GOOS, IsRoot(), proc.ReadPtraceScope())
}

func accessHint(goos string, root bool, ptraceScope int) string {
	switch goos {
	case "windows":
		return "run memlens from an elevated prompt, or as the same user as the target"
	case "linux":
		if root {
			return ""
		}
		switch ptraceScope {
		case 1:
			return "kernel.yama.ptrace_scope is 1; run memlens with sudo or grant CAP_SYS_PTRACE"
		case 2:
			return "kernel.yama.ptrace_scope is 2; only processes with CAP_SYS_PTRACE may attach"
		case 3:
			return "kernel.yama.ptrace_scope is 3; process memory access is disabled until reboot"
		}
		return "run memlens as the same user as the target, or with sudo"
	default:
		return ""
	}
}
