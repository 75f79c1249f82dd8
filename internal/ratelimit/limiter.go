// Package ratelimit guards calls to quota-constrained providers with a
// process-local dual sliding window (per-minute and per-hour).
//
// A limiter instance is owned by a single logical ingestion flow. Calls are
// concurrent-safe only in the non-overlapping sense: the owning flow never
// issues two limiter operations at once, so no lock is taken. Counters are
// updated strictly after the call they account for, never speculatively.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// waitBuffer pads the computed delay so the window has actually rolled
	// over on the provider side before the next request goes out.
	waitBuffer = 100 * time.Millisecond

	// backoff429Default is used when a 429 response carries no reset hint.
	backoff429Default = time.Minute

	// backoff429Buffer pads the provider's reset hint on a 429.
	backoff429Buffer = 5 * time.Second

	// minuteLimitCeiling splits header reconciliation: a reported limit at or
	// below this magnitude is taken as the per-minute window, above it as the
	// per-hour window.
	minuteLimitCeiling = 100
)

// Limits holds the window sizes for one provider.
type Limits struct {
	PerMinute int
	PerHour   int
}

// DefaultLimits matches the OpenAQ v3 published quota.
var DefaultLimits = Limits{PerMinute: 60, PerHour: 2000}

// Limiter tracks request counts against both windows. State is process-local
// and discarded with the process.
type Limiter struct {
	limits Limits
	clock  clockwork.Clock
	logger *slog.Logger

	requestsThisMinute int
	requestsThisHour   int
	minuteReset        time.Time
	hourReset          time.Time
	lastRequest        time.Time
}

// New creates a Limiter with both windows starting now.
func New(limits Limits, clock clockwork.Clock, logger *slog.Logger) *Limiter {
	now := clock.Now()
	return &Limiter{
		limits:      limits,
		clock:       clock,
		logger:      logger,
		minuteReset: now.Add(time.Minute),
		hourReset:   now.Add(time.Hour),
	}
}

// CanMakeRequest reports whether a request would stay under both windows.
func (l *Limiter) CanMakeRequest() bool {
	l.rollover()
	return l.requestsThisMinute < l.limits.PerMinute &&
		l.requestsThisHour < l.limits.PerHour
}

// RequiredDelay returns how long the caller must wait before the next
// request, zero if it may go out immediately.
func (l *Limiter) RequiredDelay() time.Duration {
	l.rollover()
	now := l.clock.Now()

	if l.requestsThisMinute >= l.limits.PerMinute {
		return l.minuteReset.Sub(now)
	}
	if l.requestsThisHour >= l.limits.PerHour {
		return l.hourReset.Sub(now)
	}
	return 0
}

// WaitIfNeeded suspends the caller until both windows have capacity, adding a
// small safety buffer after the computed delay. Returns early with the
// context's error on cancellation.
func (l *Limiter) WaitIfNeeded(ctx context.Context) error {
	delay := l.RequiredDelay()
	if delay <= 0 {
		return nil
	}

	l.logger.Info("rate limit reached, waiting", "delay", delay)
	return l.sleep(ctx, delay+waitBuffer)
}

// RecordRequest increments both windows for a completed call. When the
// provider returned authoritative usage headers, local state is reconciled
// against them; the reported limit's magnitude decides which window it
// describes.
func (l *Limiter) RecordRequest(headers http.Header) {
	l.rollover()
	l.requestsThisMinute++
	l.requestsThisHour++
	l.lastRequest = l.clock.Now()

	if headers == nil {
		return
	}

	used := headerInt(headers, "x-ratelimit-used")
	limit := headerInt(headers, "x-ratelimit-limit")
	reset := headerInt(headers, "x-ratelimit-reset")
	if used <= 0 || limit <= 0 {
		return
	}

	if limit <= minuteLimitCeiling {
		l.requestsThisMinute = used
		if reset > 0 {
			l.minuteReset = l.clock.Now().Add(time.Duration(reset) * time.Second)
		}
	} else {
		l.requestsThisHour = used
		if reset > 0 {
			l.hourReset = l.clock.Now().Add(time.Duration(reset) * time.Second)
		}
	}
}

// Handle429 suspends for the duration indicated by the provider's reset hint,
// or a fixed default when the hint is absent. The caller is expected to retry
// the rejected call exactly once after this returns; Policy enforces that.
func (l *Limiter) Handle429(ctx context.Context, headers http.Header) error {
	wait := backoff429Default
	if reset := headerInt(headers, "x-ratelimit-reset"); reset > 0 {
		wait = time.Duration(reset)*time.Second + backoff429Buffer
	}

	l.logger.Warn("provider returned 429, backing off", "wait", wait)
	return l.sleep(ctx, wait)
}

// Usage is a point-in-time snapshot of one window.
type Usage struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Status reports current limiter state for monitoring.
type Status struct {
	Minute         Usage `json:"minute"`
	Hour           Usage `json:"hour"`
	CanMakeRequest bool  `json:"can_make_request"`
}

// Status returns a usage snapshot after applying any pending window rollover.
func (l *Limiter) Status() Status {
	l.rollover()
	return Status{
		Minute: Usage{
			Used:      l.requestsThisMinute,
			Limit:     l.limits.PerMinute,
			Remaining: l.limits.PerMinute - l.requestsThisMinute,
			ResetAt:   l.minuteReset,
		},
		Hour: Usage{
			Used:      l.requestsThisHour,
			Limit:     l.limits.PerHour,
			Remaining: l.limits.PerHour - l.requestsThisHour,
			ResetAt:   l.hourReset,
		},
		CanMakeRequest: l.requestsThisMinute < l.limits.PerMinute &&
			l.requestsThisHour < l.limits.PerHour,
	}
}

// rollover lazily resets any window whose boundary has passed. The reset time
// advances exactly one window length from now, so a request recorded in the
// same tick lands in the fresh window and is neither dropped nor counted twice.
func (l *Limiter) rollover() {
	now := l.clock.Now()

	if !now.Before(l.minuteReset) {
		l.requestsThisMinute = 0
		l.minuteReset = now.Add(time.Minute)
	}
	if !now.Before(l.hourReset) {
		l.requestsThisHour = 0
		l.hourReset = now.Add(time.Hour)
	}
}

func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.clock.After(d):
		return nil
	}
}

func headerInt(headers http.Header, key string) int {
	v := headers.Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
