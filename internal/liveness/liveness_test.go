package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/memlens/internal/testutil"
)

// stubChecker implements Checker for testing.
type stubChecker struct {
	mu      sync.Mutex
	alive   bool
	err     error
	checks  int
	checked chan struct{} // Signals every check attempt.
}

func newStubChecker() *stubChecker {
	return &stubChecker{
		alive:   true,
		checked: make(chan struct{}, 100), // Buffered to avoid blocking.
	}
}

func (s *stubChecker) Alive() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		select {
		case s.checked <- struct{}{}:
		default:
		}
	}()

	s.checks++
	return s.alive, s.err
}

func (s *stubChecker) awaitChecks(n int) {
	for i := 0; i < n; i++ {
		<-s.checked
	}
}

func (s *stubChecker) set(alive bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = alive
	s.err = err
}

func TestMonitor(t *testing.T) {
	interval := 5 * time.Millisecond

	t.Run("ticks while target is alive", func(t *testing.T) {
		checker := newStubChecker()
		mon := NewMonitor(checker, testutil.NewTestLogger(t))

		ticks := make(chan struct{}, 100)
		mon.OnTick(func() { ticks <- struct{}{} })

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- mon.Run(ctx, interval) }()

		for i := 0; i < 3; i++ {
			<-ticks
		}
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})

	t.Run("returns when target exits", func(t *testing.T) {
		checker := newStubChecker()
		mon := NewMonitor(checker, testutil.NewTestLogger(t))

		done := make(chan error, 1)
		go func() { done <- mon.Run(context.Background(), interval) }()

		checker.awaitChecks(1)
		checker.set(false, nil)

		assert.ErrorIs(t, <-done, ErrDisconnected)
	})

	t.Run("continues after failed check", func(t *testing.T) {
		checker := newStubChecker()
		checker.set(false, errors.New("transient"))
		mon := NewMonitor(checker, testutil.NewTestLogger(t))

		ticks := 0
		mon.OnTick(func() { ticks++ })

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- mon.Run(ctx, interval) }()

		checker.awaitChecks(2)
		cancel()

		require.ErrorIs(t, <-done, context.Canceled)
		assert.Zero(t, ticks, "failed checks do not tick")
	})

	t.Run("single check", func(t *testing.T) {
		checker := newStubChecker()
		mon := NewMonitor(checker, testutil.NewTestLogger(t))

		alive, err := mon.Check()
		require.NoError(t, err)
		assert.True(t, alive)

		checker.set(false, nil)
		alive, err = mon.Check()
		require.NoError(t, err)
		assert.False(t, alive)
	})
}
