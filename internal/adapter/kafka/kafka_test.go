package kafka

import (
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
)

func TestMapMessageToRawAlert(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("alert-1"),
		Value:     []byte(`{"alert_id":"alert-1"}`),
		Topic:     "meteoalarm-alerts",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("meteoalarm")},
		},
	}

	raw := mapMessageToRawAlert(msg)

	assert.Equal(t, []byte("alert-1"), raw.Key)
	assert.JSONEq(t, `{"alert_id":"alert-1"}`, string(raw.Value))
	assert.Equal(t, "meteoalarm-alerts", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "meteoalarm", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestSerializeObservation(t *testing.T) {
	observedAt := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	obs := domain.Observation{
		StationID:  "DE0001A",
		Pollutant:  domain.PollutantPM25,
		Value:      18.5,
		AQIBand:    domain.BandModerate,
		ObservedAt: observedAt,
		RegionCode: "DE",
		Source:     "EEA",
	}

	msg, err := serializeObservation(obs)
	require.NoError(t, err)

	assert.Equal(t, []byte(obs.DedupKey()), msg.Key)
	assert.Contains(t, string(msg.Value), `"aqi_band":"moderate"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "source", msg.Headers[0].Key)
	assert.Equal(t, []byte("EEA"), msg.Headers[0].Value)
	assert.Equal(t, "observed_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2026-08-31T09:00:00Z"), msg.Headers[1].Value)
}
