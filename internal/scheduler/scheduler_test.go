package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestRun_FiresImmediatelyAndOnTicks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var runs atomic.Int64
	s := New(time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, clock, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return runs.Load() == 1 })

	// One waiter: the ticker. The immediate run holds no timer.
	clock.BlockUntil(1)
	clock.Advance(time.Hour)
	waitFor(t, func() bool { return runs.Load() == 2 })

	clock.Advance(time.Hour)
	waitFor(t, func() bool { return runs.Load() == 3 })

	cancel()
	<-done
}

func TestRun_SkipsTickWhileRunInFlight(t *testing.T) {
	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	var started, finished atomic.Int64

	s := New(time.Hour, func(ctx context.Context) error {
		started.Add(1)
		<-release
		finished.Add(1)
		return nil
	}, clock, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return started.Load() == 1 })

	// Tick while the first run is blocked: the overlapping run is dropped.
	// The in-flight flag stays held by the blocked job, so a second start
	// is impossible until release.
	clock.BlockUntil(1)
	clock.Advance(time.Hour)
	assert.Equal(t, int64(1), started.Load())
	assert.Equal(t, int64(0), finished.Load())

	close(release)
	waitFor(t, func() bool { return finished.Load() == 1 })

	// The next tick fires normally again.
	clock.Advance(time.Hour)
	waitFor(t, func() bool { return started.Load() == 2 })

	cancel()
	<-done
	assert.Equal(t, int64(2), finished.Load(), "shutdown waits for the in-flight run")
}

func TestRun_JobErrorDoesNotStopLoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var runs atomic.Int64
	s := New(time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("cycle failed")
	}, clock, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return runs.Load() == 1 })
	clock.BlockUntil(1)
	clock.Advance(time.Hour)
	waitFor(t, func() bool { return runs.Load() == 2 })

	cancel()
	<-done
}
