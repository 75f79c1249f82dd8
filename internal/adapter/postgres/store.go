// Package postgres persists observations, alert events and challenge scores.
// Observations and alerts are insert-or-ignore on their natural keys, so a
// re-run of the same window is a no-op. Challenge scores are whole-row
// replaced on conflict.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
)

// Store wraps a pgx connection pool with the pipeline's persistence operations.
type Store struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	batchSize int
}

// Connect opens a connection pool against databaseURL and verifies it with a
// ping. batchSize bounds the rows per INSERT statement.
func Connect(ctx context.Context, databaseURL string, batchSize int, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Store{pool: pool, logger: logger, batchSize: batchSize}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const observationColumns = "station_id, pollutant, value, unit, aqi_band, observed_at, lat, lon, country_code, region_code, source, ingested_at, raw"

// InsertObservations stores observations in batches, ignoring rows whose
// (station_id, pollutant, observed_at) key already exists. Returns the number
// of rows actually inserted across all batches.
func (s *Store) InsertObservations(ctx context.Context, observations []domain.Observation) (int, error) {
	inserted := 0
	for start := 0; start < len(observations); start += s.batchSize {
		end := min(start+s.batchSize, len(observations))
		batch := observations[start:end]

		query, args := buildObservationInsert(batch)
		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return inserted, &domain.PersistenceError{Op: "insert observations", Err: err}
		}
		inserted += int(tag.RowsAffected())
	}

	if skipped := len(observations) - inserted; skipped > 0 {
		s.logger.Debug("duplicate observations skipped", "skipped", skipped)
	}
	return inserted, nil
}

func buildObservationInsert(batch []domain.Observation) (string, []any) {
	const cols = 13
	var sb strings.Builder
	sb.WriteString("INSERT INTO observation (" + observationColumns + ") VALUES ")

	args := make([]any, 0, len(batch)*cols)
	for i, o := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(placeholders(i*cols+1, cols))
		args = append(args,
			o.StationID, string(o.Pollutant), o.Value, o.Unit, string(o.AQIBand),
			o.ObservedAt, o.Lat, o.Lon, o.CountryCode, o.RegionCode, o.Source,
			o.IngestedAt, o.Raw)
	}
	sb.WriteString(" ON CONFLICT (station_id, pollutant, observed_at) DO NOTHING")
	return sb.String(), args
}

// placeholders renders ($n, $n+1, ...) for count parameters starting at first.
func placeholders(first, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", first+i)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// UpsertChallengeScore replaces the score row for (type, region_code, date).
// Every field is overwritten; a recomputation fully supersedes the old row.
func (s *Store) UpsertChallengeScore(ctx context.Context, score domain.ChallengeScore) error {
	const query = `INSERT INTO challenge_score
		(type, region_code, date, window_hours, intensity, exposure, persistence, score, freshness, inputs_json, as_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (type, region_code, date) DO UPDATE SET
		window_hours = EXCLUDED.window_hours,
		intensity = EXCLUDED.intensity,
		exposure = EXCLUDED.exposure,
		persistence = EXCLUDED.persistence,
		score = EXCLUDED.score,
		freshness = EXCLUDED.freshness,
		inputs_json = EXCLUDED.inputs_json,
		as_of = EXCLUDED.as_of`

	_, err := s.pool.Exec(ctx, query,
		string(score.Type), score.RegionCode, score.Date, score.WindowHours,
		score.Intensity, score.Exposure, score.Persistence, score.Score,
		string(score.Freshness), score.InputsJSON, score.AsOf)
	if err != nil {
		return &domain.PersistenceError{Op: "upsert challenge score", Err: err}
	}
	return nil
}

// InsertAlertEvents stores alerts, ignoring rows whose (source,
// source_native_id) key already exists. Returns the inserted count.
func (s *Store) InsertAlertEvents(ctx context.Context, alerts []domain.AlertEvent) (int, error) {
	const query = `INSERT INTO alert_event
		(type, source, source_native_id, region_code, severity, onset, expires, raw, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source, source_native_id) DO NOTHING`

	inserted := 0
	for _, a := range alerts {
		tag, err := s.pool.Exec(ctx, query,
			string(a.Type), a.Source, a.SourceNativeID, a.RegionCode,
			a.Severity, a.Onset, a.Expires, a.Raw, a.UpdatedAt)
		if err != nil {
			return inserted, &domain.PersistenceError{Op: "insert alert event", Err: err}
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// EnabledRegions returns the region codes scoring should run for.
func (s *Store) EnabledRegions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT code FROM region WHERE is_enabled ORDER BY code`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list enabled regions", Err: err}
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, &domain.PersistenceError{Op: "scan region code", Err: err}
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "list enabled regions", Err: err}
	}
	return codes, nil
}

// AirQualityAggregate returns the mean pollutant value and sample count for a
// region over the trailing window ending now.
func (s *Store) AirQualityAggregate(ctx context.Context, region string, window time.Duration, now time.Time) (avg float64, count int, err error) {
	const query = `SELECT COALESCE(AVG(value), 0), COUNT(*)
		FROM observation
		WHERE region_code = $1
		AND pollutant IN ('pm25', 'no2')
		AND observed_at >= $2 AND observed_at <= $3`

	row := s.pool.QueryRow(ctx, query, region, now.Add(-window), now)
	if err := row.Scan(&avg, &count); err != nil {
		return 0, 0, &domain.PersistenceError{Op: "air quality aggregate", Err: err}
	}
	return avg, count, nil
}

// AlertCounts returns the total and severe alert counts for a region and
// challenge type over the trailing window ending now. The severity filter
// must stay in lockstep with [domain.AlertEvent.Severe], which is the
// definition of record. An alert is in the window when its update time falls
// inside it.
func (s *Store) AlertCounts(ctx context.Context, region string, challengeType domain.ChallengeType, window time.Duration, now time.Time) (total, severe int, err error) {
	const query = `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE severity IN ('orange', 'red'))
		FROM alert_event
		WHERE region_code = $1 AND type = $2
		AND updated_at >= $3 AND updated_at <= $4`

	row := s.pool.QueryRow(ctx, query, region, string(challengeType), now.Add(-window), now)
	if err := row.Scan(&total, &severe); err != nil {
		return 0, 0, &domain.PersistenceError{Op: "alert counts", Err: err}
	}
	return total, severe, nil
}
