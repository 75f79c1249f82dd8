package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLimiter(limits Limits) (*Limiter, *clockwork.FakeClock) {
	fc := clockwork.NewFakeClock()
	return New(limits, fc, discardLogger()), fc
}

func TestLimiter_MinuteBoundary(t *testing.T) {
	l, fc := newTestLimiter(Limits{PerMinute: 60, PerHour: 2000})

	for i := 0; i < 60; i++ {
		require.True(t, l.CanMakeRequest(), "request %d should be allowed", i)
		l.RecordRequest(nil)
	}
	assert.False(t, l.CanMakeRequest(), "61st request inside the window must be blocked")

	// One tick before the reset the window is still closed.
	fc.Advance(time.Minute - time.Millisecond)
	assert.False(t, l.CanMakeRequest())

	// At the reset boundary the counter rolls over.
	fc.Advance(time.Millisecond)
	assert.True(t, l.CanMakeRequest())
	assert.Equal(t, 0, l.Status().Minute.Used)
}

func TestLimiter_HourBoundary(t *testing.T) {
	l, fc := newTestLimiter(Limits{PerMinute: 10, PerHour: 20})

	for i := 0; i < 20; i++ {
		l.RecordRequest(nil)
		if (i+1)%10 == 0 {
			fc.Advance(time.Minute) // roll the minute window, keep filling the hour
		}
	}
	assert.False(t, l.CanMakeRequest(), "hour window must block independently of the minute window")
	assert.Equal(t, 20, l.Status().Hour.Used)

	fc.Advance(time.Hour)
	assert.True(t, l.CanMakeRequest())
}

func TestLimiter_RolloverAdvancesFromNow(t *testing.T) {
	l, fc := newTestLimiter(DefaultLimits)
	start := fc.Now()

	// Cross the boundary late; the new reset must be one window from now,
	// not from the old boundary.
	fc.Advance(90 * time.Second)
	l.RecordRequest(nil)

	st := l.Status()
	assert.Equal(t, 1, st.Minute.Used, "request in the rollover tick counts once in the fresh window")
	assert.Equal(t, start.Add(90*time.Second+time.Minute), st.Minute.ResetAt)
}

func TestLimiter_RecordRequest_HeaderReconciliation(t *testing.T) {
	t.Run("small limit reconciles minute window", func(t *testing.T) {
		l, fc := newTestLimiter(DefaultLimits)

		headers := http.Header{}
		headers.Set("x-ratelimit-used", "58")
		headers.Set("x-ratelimit-remaining", "2")
		headers.Set("x-ratelimit-limit", "60")
		headers.Set("x-ratelimit-reset", "30")
		l.RecordRequest(headers)

		st := l.Status()
		assert.Equal(t, 58, st.Minute.Used)
		assert.Equal(t, 1, st.Hour.Used, "hour window keeps the local count")
		assert.Equal(t, fc.Now().Add(30*time.Second), st.Minute.ResetAt)
	})

	t.Run("large limit reconciles hour window", func(t *testing.T) {
		l, fc := newTestLimiter(DefaultLimits)

		headers := http.Header{}
		headers.Set("x-ratelimit-used", "1500")
		headers.Set("x-ratelimit-remaining", "500")
		headers.Set("x-ratelimit-limit", "2000")
		headers.Set("x-ratelimit-reset", "1200")
		l.RecordRequest(headers)

		st := l.Status()
		assert.Equal(t, 1, st.Minute.Used)
		assert.Equal(t, 1500, st.Hour.Used)
		assert.Equal(t, fc.Now().Add(1200*time.Second), st.Hour.ResetAt)
	})

	t.Run("missing or malformed headers keep local counts", func(t *testing.T) {
		l, _ := newTestLimiter(DefaultLimits)

		headers := http.Header{}
		headers.Set("x-ratelimit-used", "not-a-number")
		l.RecordRequest(headers)
		l.RecordRequest(nil)

		st := l.Status()
		assert.Equal(t, 2, st.Minute.Used)
		assert.Equal(t, 2, st.Hour.Used)
	})
}

func TestLimiter_WaitIfNeeded(t *testing.T) {
	t.Run("no wait under limit", func(t *testing.T) {
		l, _ := newTestLimiter(DefaultLimits)
		require.NoError(t, l.WaitIfNeeded(context.Background()))
	})

	t.Run("blocks until reset plus buffer", func(t *testing.T) {
		l, fc := newTestLimiter(Limits{PerMinute: 1, PerHour: 100})
		l.RecordRequest(nil)

		done := make(chan error, 1)
		go func() {
			done <- l.WaitIfNeeded(context.Background())
		}()

		fc.BlockUntil(1)
		fc.Advance(time.Minute + waitBuffer)
		require.NoError(t, <-done)
		assert.True(t, l.CanMakeRequest())
	})

	t.Run("returns on context cancellation", func(t *testing.T) {
		l, fc := newTestLimiter(Limits{PerMinute: 1, PerHour: 100})
		l.RecordRequest(nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- l.WaitIfNeeded(ctx)
		}()

		fc.BlockUntil(1)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
}

func TestLimiter_Handle429(t *testing.T) {
	t.Run("default wait without reset hint", func(t *testing.T) {
		l, fc := newTestLimiter(DefaultLimits)

		done := make(chan error, 1)
		go func() {
			done <- l.Handle429(context.Background(), nil)
		}()

		fc.BlockUntil(1)
		fc.Advance(backoff429Default)
		require.NoError(t, <-done)
	})

	t.Run("reset hint plus buffer", func(t *testing.T) {
		l, fc := newTestLimiter(DefaultLimits)

		headers := http.Header{}
		headers.Set("x-ratelimit-reset", "10")

		done := make(chan error, 1)
		go func() {
			done <- l.Handle429(context.Background(), headers)
		}()

		fc.BlockUntil(1)
		fc.Advance(9 * time.Second)
		select {
		case <-done:
			t.Fatal("Handle429 returned before the reset hint elapsed")
		case <-time.After(50 * time.Millisecond):
		}

		fc.Advance(time.Second + backoff429Buffer)
		require.NoError(t, <-done)
	})
}

func TestPolicy_RetriesExactlyOnceAfter429(t *testing.T) {
	l, fc := newTestLimiter(DefaultLimits)
	p := NewPolicy(l)

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(context.Background(), func(context.Context) error {
			calls++
			if calls == 1 {
				return &TooManyRequests{}
			}
			return nil
		})
	}()

	fc.BlockUntil(1)
	fc.Advance(backoff429Default)
	require.NoError(t, <-done)
	assert.Equal(t, 2, calls)
}

func TestPolicy_SecondRejectionPropagates(t *testing.T) {
	l, fc := newTestLimiter(DefaultLimits)
	p := NewPolicy(l)

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(context.Background(), func(context.Context) error {
			calls++
			return &TooManyRequests{}
		})
	}()

	fc.BlockUntil(1)
	fc.Advance(backoff429Default)

	err := <-done
	var tmr *TooManyRequests
	require.ErrorAs(t, err, &tmr)
	assert.Equal(t, 2, calls, "a rejected retry must not be retried again")
}

func TestPolicy_NonRateLimitErrorNotRetried(t *testing.T) {
	l, _ := newTestLimiter(DefaultLimits)
	p := NewPolicy(l)

	calls := 0
	wantErr := errors.New("connection refused")
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, calls)
}
