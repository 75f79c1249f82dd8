package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseURL     string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Ingestion tuning.
	FetchWindow          time.Duration // lookback passed to provider fetches
	SufficiencyThreshold int           // primary record count below which the fallback runs
	PersistBatchSize     int           // observations per insert batch
	IngestInterval       time.Duration // scheduler cadence; 0 disables the scheduler

	// EEA (primary source).
	EEABaseURL string
	EEATimeout time.Duration

	// OpenAQ (fallback source, quota limited).
	OpenAQBaseURL      string
	OpenAQAPIKey       string
	OpenAQEnabled      bool
	OpenAQTimeout      time.Duration
	OpenAQLocationPage int // max locations requested per page
	OpenAQFetchBatch   int // locations per paced fetch batch
	RateLimitPerMinute int
	RateLimitPerHour   int

	// Alert feed (Kafka). Disabled when no brokers are configured.
	KafkaBrokers     []string
	KafkaAlertTopic  string
	KafkaGroupID     string
	AlertFeedEnabled bool

	// Optional publication of normalized observations to a sink topic.
	KafkaSinkTopic      string
	PublishObservations bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	fetchWindow, err := envDuration("FETCH_WINDOW", 2*time.Hour)
	if err != nil {
		return nil, err
	}
	ingestInterval, err := envDuration("INGEST_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	eeaTimeout, err := envDuration("EEA_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	openaqTimeout, err := envDuration("OPENAQ_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, err
	}

	openaqKey := os.Getenv("OPENAQ_API_KEY")
	openaqEnabled := openaqKey != ""
	if v := os.Getenv("OPENAQ_ENABLED"); v != "" {
		openaqEnabled = v == "true"
	}

	brokers := parseBrokers(os.Getenv("KAFKA_BROKERS"))
	alertFeedEnabled := len(brokers) > 0
	if v := os.Getenv("ALERT_FEED_ENABLED"); v != "" {
		alertFeedEnabled = v == "true"
	}

	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		FetchWindow:          fetchWindow,
		SufficiencyThreshold: envInt("SUFFICIENCY_THRESHOLD", 100),
		PersistBatchSize:     envInt("PERSIST_BATCH_SIZE", 1000),
		IngestInterval:       ingestInterval,

		EEABaseURL: envOrDefault("EEA_BASE_URL", "https://discomap.eea.europa.eu/map/fme/AirQualityExport.fmw"),
		EEATimeout: eeaTimeout,

		OpenAQBaseURL:      envOrDefault("OPENAQ_BASE_URL", "https://api.openaq.org/v3"),
		OpenAQAPIKey:       openaqKey,
		OpenAQEnabled:      openaqEnabled,
		OpenAQTimeout:      openaqTimeout,
		OpenAQLocationPage: envInt("OPENAQ_LOCATION_PAGE", 1000),
		OpenAQFetchBatch:   envInt("OPENAQ_FETCH_BATCH", 10),
		RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitPerHour:   envInt("RATE_LIMIT_PER_HOUR", 2000),

		KafkaBrokers:     brokers,
		KafkaAlertTopic:  envOrDefault("KAFKA_ALERT_TOPIC", "meteoalarm-alerts"),
		KafkaGroupID:     envOrDefault("KAFKA_GROUP_ID", "challenge-score-etl"),
		AlertFeedEnabled: alertFeedEnabled,

		KafkaSinkTopic:      envOrDefault("KAFKA_SINK_TOPIC", "normalized-observations"),
		PublishObservations: os.Getenv("PUBLISH_OBSERVATIONS") == "true",
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.OpenAQEnabled && cfg.OpenAQAPIKey == "" {
		return nil, errors.New("OPENAQ_ENABLED is true but OPENAQ_API_KEY is not set")
	}
	if cfg.AlertFeedEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("ALERT_FEED_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.PublishObservations && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("PUBLISH_OBSERVATIONS is true but KAFKA_BROKERS is not set")
	}
	if cfg.SufficiencyThreshold < 0 {
		return nil, errors.New("SUFFICIENCY_THRESHOLD must not be negative")
	}
	if cfg.PersistBatchSize <= 0 {
		return nil, errors.New("PERSIST_BATCH_SIZE must be positive")
	}
	if cfg.RateLimitPerMinute <= 0 || cfg.RateLimitPerHour <= 0 {
		return nil, errors.New("rate limits must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
