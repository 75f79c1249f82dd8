package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2, $3)", placeholders(1, 3))
	assert.Equal(t, "($13, $14)", placeholders(13, 2))
}

func TestBuildObservationInsert(t *testing.T) {
	lat, lon := 52.52, 13.40
	batch := []domain.Observation{
		{
			StationID:   "DE0001A",
			Pollutant:   domain.PollutantPM25,
			Value:       12.5,
			Unit:        "µg/m³",
			AQIBand:     domain.BandGood,
			ObservedAt:  time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC),
			Lat:         &lat,
			Lon:         &lon,
			CountryCode: "DE",
			RegionCode:  "DE",
			Source:      "EEA",
		},
		{
			StationID:  "FR0002A",
			Pollutant:  domain.PollutantNO2,
			Value:      41.0,
			AQIBand:    domain.BandUnhealthy,
			ObservedAt: time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC),
			RegionCode: "FR",
			Source:     "EEA",
		},
	}

	query, args := buildObservationInsert(batch)

	require.Len(t, args, 26)
	assert.Contains(t, query, "INSERT INTO observation")
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)")
	assert.Contains(t, query, "($14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)")
	assert.Contains(t, query, "ON CONFLICT (station_id, pollutant, observed_at) DO NOTHING")

	assert.Equal(t, "DE0001A", args[0])
	assert.Equal(t, "pm25", args[1])
	assert.Equal(t, &lat, args[6])
	// second row's nil coordinates pass through as NULLs
	assert.Equal(t, "FR0002A", args[13])
	assert.Nil(t, args[19])
	assert.Nil(t, args[20])
}
