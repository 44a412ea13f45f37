//go:build !windows && !linux

package procmem

import (
	"context"
	"os"
)

type unsupportedSystem struct{}

// Native returns the backend for the running platform.
func Native() System {
	return unsupportedSystem{}
}

func (unsupportedSystem) Info() SystemInfo {
	return SystemInfo{PageSize: uint64(os.Getpagesize())}
}

func (unsupportedSystem) FindProcess(ctx context.Context, m Matcher) (int, error) {
	if m.ByWindow() {
		return 0, ErrUnsupportedMatcher
	}
	return findByName(ctx, m)
}

func (unsupportedSystem) Open(pid int) (Handle, error) {
	return nil, ErrUnsupported
}
