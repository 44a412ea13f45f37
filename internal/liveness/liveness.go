// Package liveness polls an attached target and reports when it goes away.
//
// The Monitor accepts any Checker, so it is driven by a memory.Session in
// production and by a stub in tests.
//
// Example usage:
//
//	mon := liveness.NewMonitor(session, logger)
//	mon.OnTick(func() { session.Rescan() })
//	err := mon.Run(ctx, session.Liveness().Interval)
package liveness

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrDisconnected is returned by Run once the target reports it exited.
var ErrDisconnected = errors.New("target disconnected")

// Checker reports whether the target is still running.
type Checker interface {
	Alive() (bool, error)
}

// Monitor runs periodic liveness checks against a target.
type Monitor struct {
	checker Checker
	logger  zerolog.Logger
	onTick  func()
}

// NewMonitor creates a monitor for checker.
func NewMonitor(checker Checker, logger zerolog.Logger) *Monitor {
	return &Monitor{
		checker: checker,
		logger:  logger.With().Str("component", "liveness").Logger(),
	}
}

// OnTick registers fn to run on the monitor goroutine after every check
// that found the target alive.
func (m *Monitor) OnTick(fn func()) {
	m.onTick = fn
}

// Run checks the target every interval until ctx is cancelled or the
// target exits. Check errors are logged and the loop continues.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			alive, err := m.Check()
			if err != nil {
				m.logger.Debug().Err(err).Msg("Liveness check failed")
				continue
			}
			if !alive {
				return ErrDisconnected
			}
			if m.onTick != nil {
				m.onTick()
			}
		}
	}
}

// Check performs a single liveness check.
func (m *Monitor) Check() (bool, error) {
	alive, err := m.checker.Alive()
	if err != nil {
		return true, err
	}
	if !alive {
		m.logger.Warn().Msg("Target is no longer running")
	}
	return alive, nil
}
