// Package ingest runs the observation ingestion cycle: fetch from the primary
// source, fall back when the yield is too thin, then dedup, normalize and
// persist. Source failures degrade the cycle; only a persistence failure
// fails it.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
	"github.com/couchcryptid/challenge-score-etl/internal/observability"
)

// Source is one upstream observation provider.
type Source interface {
	Name() string
	FetchRecent(ctx context.Context, window time.Duration) ([]domain.Observation, error)
}

// Store persists normalized observations.
type Store interface {
	InsertObservations(ctx context.Context, observations []domain.Observation) (int, error)
}

// Publisher forwards normalized observations to downstream consumers. It is
// optional and best-effort: publish failures never fail a cycle.
type Publisher interface {
	Publish(ctx context.Context, observations []domain.Observation) error
}

// SourceResult records one provider's contribution to a cycle. Error carries
// the failure message for the operator; logs are not the only record of it.
type SourceResult struct {
	Source  string `json:"source"`
	Fetched int    `json:"fetched"`
	Failed  bool   `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// Report summarizes one ingestion cycle.
type Report struct {
	Sources    []SourceResult `json:"sources"`
	Raw        int            `json:"raw"`
	Deduped    int            `json:"deduped"`
	Normalized int            `json:"normalized"`
	Dropped    int            `json:"dropped"`
	Inserted   int            `json:"inserted"`
	Duration   time.Duration  `json:"duration"`
}

// Orchestrator drives ingestion cycles.
type Orchestrator struct {
	primary   Source
	fallback  Source // nil when the fallback is not configured
	store     Store
	publisher Publisher // nil when the sink topic is not configured

	window      time.Duration
	sufficiency int

	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Config holds the orchestrator settings.
type Config struct {
	Window      time.Duration
	Sufficiency int // fallback engages below this primary yield
}

// NewOrchestrator creates an orchestrator. fallback and publisher may be nil.
func NewOrchestrator(primary, fallback Source, store Store, publisher Publisher, cfg Config, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		primary:     primary,
		fallback:    fallback,
		store:       store,
		publisher:   publisher,
		window:      cfg.Window,
		sufficiency: cfg.Sufficiency,
		clock:       clock,
		metrics:     metrics,
		logger:      logger,
	}
}

// RunCycle executes one ingestion cycle and returns its report. The returned
// error is non-nil only for persistence failures or context cancellation;
// source failures are reflected in the report and metrics.
func (o *Orchestrator) RunCycle(ctx context.Context) (Report, error) {
	start := o.clock.Now()
	report := Report{}

	primary, primaryResult := o.fetch(ctx, o.primary)
	report.Sources = append(report.Sources, primaryResult)
	if ctx.Err() != nil {
		return report, ctx.Err()
	}

	merged := primary
	if len(primary) < o.sufficiency && o.fallback != nil {
		o.logger.Info("primary yield below threshold, engaging fallback",
			"primary", len(primary), "threshold", o.sufficiency)

		fallback, fallbackResult := o.fetch(ctx, o.fallback)
		report.Sources = append(report.Sources, fallbackResult)
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		// Primary records stay first so they win key ties in dedup.
		merged = append(merged, fallback...)
	}
	report.Raw = len(merged)

	deduped := domain.Deduplicate(merged)
	report.Deduped = len(deduped)

	normalized, dropped := domain.Normalize(deduped)
	report.Normalized = len(normalized)
	report.Dropped = len(dropped)
	o.metrics.ObservationsDropped.Add(float64(len(dropped)))
	for _, d := range dropped {
		o.logger.Debug("observation dropped", "field", d.Field, "reason", d.Reason)
	}

	if len(normalized) > 0 {
		inserted, err := o.store.InsertObservations(ctx, normalized)
		report.Inserted = inserted
		if err != nil {
			return report, fmt.Errorf("persist observations: %w", err)
		}
		o.metrics.ObservationsInserted.Add(float64(inserted))
		o.publish(ctx, normalized)
	}

	report.Duration = o.clock.Now().Sub(start)
	o.metrics.CycleDuration.Observe(report.Duration.Seconds())
	o.logger.Info("ingestion cycle complete",
		"raw", report.Raw, "deduped", report.Deduped,
		"normalized", report.Normalized, "dropped", report.Dropped,
		"inserted", report.Inserted, "duration", report.Duration)
	return report, nil
}

// fetch pulls one source, translating failure into a degraded result.
func (o *Orchestrator) fetch(ctx context.Context, source Source) ([]domain.Observation, SourceResult) {
	observations, err := source.FetchRecent(ctx, o.window)
	if err != nil {
		srcErr := &domain.SourceError{Source: source.Name(), Err: err}
		o.metrics.SourceFailures.WithLabelValues(source.Name()).Inc()
		o.logger.Error("source fetch failed", "source", source.Name(), "error", err)
		return nil, SourceResult{Source: source.Name(), Failed: true, Error: srcErr.Error()}
	}

	o.metrics.ObservationsFetched.WithLabelValues(source.Name()).Add(float64(len(observations)))
	o.logger.Info("source fetch complete", "source", source.Name(), "fetched", len(observations))
	return observations, SourceResult{Source: source.Name(), Fetched: len(observations)}
}

func (o *Orchestrator) publish(ctx context.Context, observations []domain.Observation) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, observations); err != nil {
		o.logger.Error("observation publish failed", "error", err)
		return
	}
	o.metrics.ObservationsPublished.Add(float64(len(observations)))
}
