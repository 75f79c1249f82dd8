package alertfeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
)

func TestTransform(t *testing.T) {
	raw := domain.RawAlert{
		Value: []byte(`{
			"alert_id": "2.49.0.0.276.0.DE.20260831",
			"source": "meteoalarm",
			"type": "heat",
			"country_code": "DE",
			"severity": "Orange",
			"onset": "2026-08-31T06:00:00Z",
			"expires": "2026-08-31T20:00:00+02:00",
			"updated_at": "2026-08-31T05:30:00Z"
		}`),
		Timestamp: time.Date(2026, 8, 31, 5, 45, 0, 0, time.UTC),
	}

	alert, err := Transform(raw)
	require.NoError(t, err)

	assert.Equal(t, domain.ChallengeHeat, alert.Type)
	assert.Equal(t, "meteoalarm", alert.Source)
	assert.Equal(t, "2.49.0.0.276.0.DE.20260831", alert.SourceNativeID)
	assert.Equal(t, "DE", alert.RegionCode)
	assert.Equal(t, "orange", alert.Severity)
	assert.True(t, alert.Severe())
	assert.Equal(t, time.Date(2026, 8, 31, 5, 30, 0, 0, time.UTC), alert.UpdatedAt)
	require.NotNil(t, alert.Onset)
	assert.Equal(t, time.Date(2026, 8, 31, 6, 0, 0, 0, time.UTC), *alert.Onset)
	require.NotNil(t, alert.Expires)
	assert.Equal(t, time.Date(2026, 8, 31, 18, 0, 0, 0, time.UTC), *alert.Expires)
}

func TestTransform_AwarenessTypeMapping(t *testing.T) {
	tests := []struct {
		awareness string
		want      domain.ChallengeType
	}{
		{"high-temperature", domain.ChallengeHeat},
		{"Flooding", domain.ChallengeFloods},
		{"forest-fire", domain.ChallengeWildfire},
	}

	for _, tt := range tests {
		t.Run(tt.awareness, func(t *testing.T) {
			raw := domain.RawAlert{
				Value:     []byte(`{"alert_id":"a1","awareness_type":"` + tt.awareness + `","country_code":"IT"}`),
				Timestamp: time.Now(),
			}
			alert, err := Transform(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, alert.Type)
		})
	}
}

func TestTransform_FallsBackToBrokerTimestamp(t *testing.T) {
	brokerTime := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	raw := domain.RawAlert{
		Value:     []byte(`{"alert_id":"a1","type":"floods","country_code":"NL"}`),
		Timestamp: brokerTime,
	}

	alert, err := Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, brokerTime, alert.UpdatedAt)
}

func TestTransform_Rejections(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		value string
	}{
		{"malformed json", `{`},
		{"missing alert id", `{"type":"heat","country_code":"DE"}`},
		{"missing country", `{"alert_id":"a1","type":"heat"}`},
		{"unknown type", `{"alert_id":"a1","type":"earthquake","country_code":"DE"}`},
		{"unmapped awareness", `{"alert_id":"a1","awareness_type":"avalanche","country_code":"AT"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Transform(domain.RawAlert{Value: []byte(tt.value), Timestamp: now})
			assert.Error(t, err)
		})
	}
}
