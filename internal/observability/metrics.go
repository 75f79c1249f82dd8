package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline, alert feed, and scoring engine.
type Metrics struct {
	// Ingestion cycle metrics.
	ObservationsFetched  *prometheus.CounterVec // labels: source
	SourceFailures       *prometheus.CounterVec // labels: source
	ObservationsDropped  prometheus.Counter
	ObservationsInserted prometheus.Counter
	CycleDuration        prometheus.Histogram

	// Provider call metrics.
	ProviderRequestDuration *prometheus.HistogramVec // labels: source
	RateLimitWaits          prometheus.Counter
	RateLimit429s           prometheus.Counter

	// Scoring metrics.
	ScoresComputed   prometheus.Counter
	ScorePairsFailed prometheus.Counter
	PassDuration     prometheus.Histogram

	// Alert feed metrics.
	AlertsConsumed       prometheus.Counter
	AlertTransformErrors prometheus.Counter
	AlertFeedRunning     prometheus.Gauge

	// Sink publication metrics.
	ObservationsPublished prometheus.Counter
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ObservationsFetched,
		m.SourceFailures,
		m.ObservationsDropped,
		m.ObservationsInserted,
		m.CycleDuration,
		m.ProviderRequestDuration,
		m.RateLimitWaits,
		m.RateLimit429s,
		m.ScoresComputed,
		m.ScorePairsFailed,
		m.PassDuration,
		m.AlertsConsumed,
		m.AlertTransformErrors,
		m.AlertFeedRunning,
		m.ObservationsPublished,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ObservationsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "challenge_etl",
			Name:      "observations_fetched_total",
			Help:      "Observations fetched and converted, by provider.",
		}, []string{"source"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "challenge_etl",
			Name:      "source_failures_total",
			Help:      "Provider fetch failures, by provider.",
		}, []string{"source"}),
		ObservationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "challenge_etl",
			Name:      "observations_dropped_total",
			Help:      "Observations dropped during validation and normalization.",
		}),
		ObservationsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "challenge_etl",
			Name:      "observations_inserted_total",
			Help:      "Observations actually inserted (post insert-or-ignore).",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "challenge_etl",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete ingestion cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		ProviderRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "challenge_etl",
			Name:      "provider_request_duration_seconds",
			Help:      "Outbound provider request duration, by provider.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		RateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "challenge_etl",
			Name:      "rate_limit_waits_total",
			Help:      "Times the rate limiter suspended a call before sending.",
		}),
		RateLimit429s: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "challenge_etl",
			Name:      "rate_limit_429s_total",
			Help:      "HTTP 429 responses received from quota-limited providers.",
		}),
		ScoresComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "challenge_etl",
			Name:      "scores_computed_total",
			Help:      "Challenge scores successfully upserted.",
		}),
		ScorePairsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "challenge_etl",
			Name:      "score_pairs_failed_total",
			Help:      "Type/region scoring pairs skipped due to errors.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "challenge_etl",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a complete scoring pass.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		AlertsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "challenge_etl",
			Name:      "alerts_consumed_total",
			Help:      "Alert events read from the feed topic.",
		}),
		AlertTransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "challenge_etl",
			Name:      "alert_transform_errors_total",
			Help:      "Alert feed messages that failed validation.",
		}),
		AlertFeedRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "challenge_etl",
			Name:      "alert_feed_running",
			Help:      "1 when the alert feed consumer is active, 0 when shut down.",
		}),
		ObservationsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "challenge_etl",
			Name:      "observations_published_total",
			Help:      "Normalized observations published to the sink topic.",
		}),
	}
}
