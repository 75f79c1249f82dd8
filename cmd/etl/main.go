package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/challenge-score-etl/internal/adapter/eea"
	httpadapter "github.com/couchcryptid/challenge-score-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/challenge-score-etl/internal/adapter/kafka"
	"github.com/couchcryptid/challenge-score-etl/internal/adapter/openaq"
	"github.com/couchcryptid/challenge-score-etl/internal/adapter/postgres"
	"github.com/couchcryptid/challenge-score-etl/internal/alertfeed"
	"github.com/couchcryptid/challenge-score-etl/internal/config"
	"github.com/couchcryptid/challenge-score-etl/internal/ingest"
	"github.com/couchcryptid/challenge-score-etl/internal/observability"
	"github.com/couchcryptid/challenge-score-etl/internal/ratelimit"
	"github.com/couchcryptid/challenge-score-etl/internal/scheduler"
	"github.com/couchcryptid/challenge-score-etl/internal/scoring"
)

// service bundles the orchestrator and scoring engine behind the trigger and
// scheduler surfaces, tracking readiness across both.
type service struct {
	orchestrator *ingest.Orchestrator
	engine       *scoring.Engine
	ready        atomic.Bool
}

func (s *service) RunCycle(ctx context.Context) (ingest.Report, error) {
	report, err := s.orchestrator.RunCycle(ctx)
	if err == nil {
		s.ready.Store(true)
	}
	return report, err
}

func (s *service) RunPass(ctx context.Context, filter scoring.Filter) (scoring.Report, error) {
	report, err := s.engine.RunPass(ctx, filter)
	if err == nil {
		s.ready.Store(true)
	}
	return report, err
}

// runScheduled is the scheduler job: one ingestion cycle, then one scoring
// pass over the refreshed data.
func (s *service) runScheduled(ctx context.Context) error {
	if _, err := s.RunCycle(ctx); err != nil {
		return err
	}
	_, err := s.RunPass(ctx, scoring.Filter{})
	return err
}

func (s *service) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no successful ingestion cycle or scoring pass yet")
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	store, err := postgres.Connect(connectCtx, cfg.DatabaseURL, cfg.PersistBatchSize, logger)
	cancel()
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	primary := eea.NewClient(cfg.EEABaseURL, cfg.EEATimeout, clock, metrics, logger)

	// Fallback source is feature-flagged via OPENAQ_ENABLED / OPENAQ_API_KEY.
	var fallback ingest.Source
	var limiterStatus httpadapter.LimiterStatus
	if cfg.OpenAQEnabled {
		limiter := ratelimit.New(ratelimit.Limits{
			PerMinute: cfg.RateLimitPerMinute,
			PerHour:   cfg.RateLimitPerHour,
		}, clock, logger)
		fallback = openaq.NewClient(openaq.Config{
			BaseURL:      cfg.OpenAQBaseURL,
			APIKey:       cfg.OpenAQAPIKey,
			Timeout:      cfg.OpenAQTimeout,
			LocationPage: cfg.OpenAQLocationPage,
			FetchBatch:   cfg.OpenAQFetchBatch,
		}, limiter, clock, metrics, logger)
		limiterStatus = limiter
		logger.Info("openaq fallback enabled",
			"per_minute", cfg.RateLimitPerMinute, "per_hour", cfg.RateLimitPerHour)
	} else {
		logger.Info("openaq fallback disabled")
	}

	var publisher ingest.Publisher
	var writer *kafkaadapter.Writer
	if cfg.PublishObservations {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("observation publishing enabled", "topic", cfg.KafkaSinkTopic)
	}

	orchestrator := ingest.NewOrchestrator(primary, fallback, store, publisher, ingest.Config{
		Window:      cfg.FetchWindow,
		Sufficiency: cfg.SufficiencyThreshold,
	}, clock, metrics, logger)

	engine := scoring.NewEngine(store, scoring.DefaultParams(), clock, metrics, logger)

	svc := &service{orchestrator: orchestrator, engine: engine}

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, svc, svc, limiterStatus, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Alert feed is feature-flagged via KAFKA_BROKERS / ALERT_FEED_ENABLED.
	var reader *kafkaadapter.Reader
	if cfg.AlertFeedEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		feed := alertfeed.New(reader, store, logger, metrics, 100)
		go func() {
			if err := feed.Run(ctx); err != nil {
				logger.Error("alert feed error", "error", err)
			}
		}()
	} else {
		logger.Info("alert feed disabled")
	}

	sched := scheduler.New(cfg.IngestInterval, svc.runScheduled, clock, logger)
	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not drain before shutdown deadline")
	}

	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
