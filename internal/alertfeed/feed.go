// Package alertfeed consumes provider weather alerts from the feed topic and
// stores them as scoring inputs. The loop extracts a batch, transforms each
// message, loads the valid alerts, then commits offsets, so a crash between
// load and commit replays messages into an insert-or-ignore store.
package alertfeed

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
	"github.com/couchcryptid/challenge-score-etl/internal/observability"
)

// BatchExtractor reads up to batchSize raw alerts from the feed.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawAlert, error)
}

// Store persists transformed alert events.
type Store interface {
	InsertAlertEvents(ctx context.Context, alerts []domain.AlertEvent) (int, error)
}

// Feed runs the alert consumption loop.
type Feed struct {
	extractor BatchExtractor
	store     Store
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// New creates a Feed with the given stages and observability.
func New(e BatchExtractor, s Store, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Feed {
	return &Feed{
		extractor: e,
		store:     s,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil once the feed has handled at least one batch.
func (f *Feed) CheckReadiness(_ context.Context) error {
	if !f.ready.Load() {
		return errors.New("alert feed has not processed any messages yet")
	}
	return nil
}

// Run executes the consume loop until the context is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Info("alert feed started", "batch_size", f.batchSize)
	f.metrics.AlertFeedRunning.Set(1)
	defer f.metrics.AlertFeedRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("alert feed stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !f.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-transform-load cycle. Returns false if the
// feed should stop.
func (f *Feed) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	rawBatch, err := f.extractor.ExtractBatch(ctx, f.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		f.logger.Error("extract alert batch failed", "error", err)
		return f.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	f.metrics.AlertsConsumed.Add(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	alerts := make([]domain.AlertEvent, 0, len(rawBatch))
	successfulRaws := make([]domain.RawAlert, 0, len(rawBatch))

	for _, raw := range rawBatch {
		alert, err := Transform(raw)
		if err != nil {
			f.logger.Warn("alert transform failed, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			f.metrics.AlertTransformErrors.Inc()
			f.commitOffset(ctx, raw)
			continue
		}
		alerts = append(alerts, alert)
		successfulRaws = append(successfulRaws, raw)
	}

	if len(alerts) == 0 {
		f.ready.Store(true)
		return true
	}

	if _, err := f.store.InsertAlertEvents(ctx, alerts); err != nil {
		f.logger.Error("store alert batch failed", "error", err, "batch_size", len(alerts))
		return f.backoffOrStop(ctx, backoff, maxBackoff)
	}

	for _, raw := range successfulRaws {
		f.commitOffset(ctx, raw)
	}

	f.ready.Store(true)
	return true
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the feed should stop.
func (f *Feed) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func (f *Feed) commitOffset(ctx context.Context, raw domain.RawAlert) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		f.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
