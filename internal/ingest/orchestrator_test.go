package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
	"github.com/couchcryptid/challenge-score-etl/internal/observability"
)

type fakeSource struct {
	name         string
	observations []domain.Observation
	err          error
	calls        int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchRecent(ctx context.Context, window time.Duration) ([]domain.Observation, error) {
	f.calls++
	return f.observations, f.err
}

type fakeInsertStore struct {
	inserted []domain.Observation
	err      error
}

func (f *fakeInsertStore) InsertObservations(ctx context.Context, observations []domain.Observation) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.inserted = append(f.inserted, observations...)
	return len(observations), nil
}

type fakePublisher struct {
	published []domain.Observation
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, observations []domain.Observation) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, observations...)
	return nil
}

func obs(station string, pollutant domain.Pollutant, value float64, at time.Time, source string) domain.Observation {
	return domain.Observation{
		StationID:   station,
		Pollutant:   pollutant,
		Value:       value,
		AQIBand:     domain.BandFor(pollutant, value),
		ObservedAt:  at,
		CountryCode: "DE",
		Source:      source,
	}
}

func newTestOrchestrator(primary, fallback Source, store Store, publisher Publisher, sufficiency int) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrchestrator(primary, fallback, store, publisher,
		Config{Window: 2 * time.Hour, Sufficiency: sufficiency},
		clockwork.NewFakeClock(), observability.NewMetricsForTesting(), logger)
}

func TestRunCycle_PrimarySufficient(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "EEA", observations: []domain.Observation{
		obs("DE0001A", domain.PollutantPM25, 12.3456, at, "EEA"),
		obs("DE0002A", domain.PollutantNO2, 30, at, "EEA"),
	}}
	fallback := &fakeSource{name: "OpenAQ"}
	store := &fakeInsertStore{}

	o := newTestOrchestrator(primary, fallback, store, nil, 2)

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, fallback.calls, "sufficient primary yield must not engage the fallback")
	assert.Equal(t, 2, report.Raw)
	assert.Equal(t, 2, report.Inserted)
	require.Len(t, report.Sources, 1)
	assert.Equal(t, "EEA", report.Sources[0].Source)
	assert.Equal(t, 12.346, store.inserted[0].Value, "values are rounded during normalization")
}

func TestRunCycle_FallbackEngagedAndPrimaryWinsTies(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "EEA", observations: []domain.Observation{
		obs("shared", domain.PollutantPM25, 10, at, "EEA"),
	}}
	fallback := &fakeSource{name: "OpenAQ", observations: []domain.Observation{
		obs("shared", domain.PollutantPM25, 99, at, "OpenAQ"), // same dedup key
		obs("openaq-1", domain.PollutantPM25, 20, at, "OpenAQ"),
	}}
	store := &fakeInsertStore{}

	o := newTestOrchestrator(primary, fallback, store, nil, 100)

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, 3, report.Raw)
	assert.Equal(t, 2, report.Deduped)
	require.Len(t, store.inserted, 2)
	assert.Equal(t, "EEA", store.inserted[0].Source, "primary record wins the key tie")
	assert.Equal(t, 10.0, store.inserted[0].Value)
}

func TestRunCycle_PrimaryFailureDegradesToFallback(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "EEA", err: errors.New("upstream 502")}
	fallback := &fakeSource{name: "OpenAQ", observations: []domain.Observation{
		obs("openaq-1", domain.PollutantNO2, 15, at, "OpenAQ"),
	}}
	store := &fakeInsertStore{}

	o := newTestOrchestrator(primary, fallback, store, nil, 100)

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err, "a source failure must not fail the cycle")

	require.Len(t, report.Sources, 2)
	assert.True(t, report.Sources[0].Failed)
	assert.Equal(t, "source EEA unavailable: upstream 502", report.Sources[0].Error,
		"the failure message belongs in the report, not only in logs")
	assert.Empty(t, report.Sources[1].Error)
	assert.Equal(t, 1, report.Inserted)
}

func TestRunCycle_InvalidRecordsDroppedNotDefaulted(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "EEA", observations: []domain.Observation{
		obs("DE0001A", domain.PollutantPM25, 10, at, "EEA"),
		obs("", domain.PollutantPM25, 10, at, "EEA"),                 // missing station
		obs("DE0002A", domain.PollutantPM25, 10, time.Time{}, "EEA"), // missing timestamp
		obs("DE0003A", domain.Pollutant("so2"), 10, at, "EEA"),       // unknown pollutant
	}}
	store := &fakeInsertStore{}

	o := newTestOrchestrator(primary, nil, store, nil, 1)

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Dropped)
	assert.Equal(t, 1, report.Normalized)
	assert.Len(t, store.inserted, 1)
}

func TestRunCycle_PersistenceFailureFailsCycle(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "EEA", observations: []domain.Observation{
		obs("DE0001A", domain.PollutantPM25, 10, at, "EEA"),
	}}
	store := &fakeInsertStore{err: &domain.PersistenceError{Op: "insert observations", Err: errors.New("connection refused")}}

	o := newTestOrchestrator(primary, nil, store, nil, 1)

	_, err := o.RunCycle(context.Background())
	require.Error(t, err)

	var perr *domain.PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestRunCycle_PublishFailureDoesNotFailCycle(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "EEA", observations: []domain.Observation{
		obs("DE0001A", domain.PollutantPM25, 10, at, "EEA"),
	}}
	store := &fakeInsertStore{}
	publisher := &fakePublisher{err: errors.New("broker unavailable")}

	o := newTestOrchestrator(primary, nil, store, publisher, 1)

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
}

func TestRunCycle_ObservationsPublished(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "EEA", observations: []domain.Observation{
		obs("DE0001A", domain.PollutantPM25, 10, at, "EEA"),
	}}
	store := &fakeInsertStore{}
	publisher := &fakePublisher{}

	o := newTestOrchestrator(primary, nil, store, publisher, 1)

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, publisher.published, 1)
}
