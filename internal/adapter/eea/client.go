// Package eea fetches verified hourly air quality data from the European
// Environment Agency's AirQualityExport endpoint. The endpoint is open (no
// auth, no quota) and is the pipeline's primary source.
package eea

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
	"github.com/couchcryptid/challenge-score-etl/internal/observability"
)

// SourceName tags observations originating from this adapter.
const SourceName = "EEA"

// EEA vocabulary codes for the pollutants this pipeline ingests.
var pollutantCodes = map[string]domain.Pollutant{
	"5": domain.PollutantPM25,
	"8": domain.PollutantNO2,
}

// Client implements the primary source adapter against the EEA export API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an EEA client with the given per-call timeout.
func NewClient(baseURL string, timeout time.Duration, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
	}
}

// Name returns the provider tag used in cycle reports and stored observations.
func (c *Client) Name() string { return SourceName }

// FetchRecent retrieves hourly PM2.5/NO2 records observed within the window
// and converts them to canonical observations. Records with an unmappable
// pollutant, an unparsable timestamp, or a non-positive validity flag are
// skipped.
func (c *Client) FetchRecent(ctx context.Context, window time.Duration) ([]domain.Observation, error) {
	now := c.clock.Now().UTC()

	params := url.Values{
		"CountryCode":  {""}, // empty selects all EU countries
		"Pollutant":    {"5,8"},
		"Year_from":    {strconv.Itoa(now.Year())},
		"Year_to":      {strconv.Itoa(now.Year())},
		"Source":       {"E1a"}, // verified hourly data
		"Output":       {"JSON"},
		"TimeCoverage": {"Hour"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create EEA request: %w", err)
	}
	req.Header.Set("User-Agent", "challenge-score-etl/1.0")

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("EEA request: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.ProviderRequestDuration.WithLabelValues(SourceName).Observe(c.clock.Now().Sub(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("EEA API error: status %d: %s", resp.StatusCode, body)
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode EEA response: %w", err)
	}

	cutoff := now.Add(-window)
	observations := make([]domain.Observation, 0, len(payload.Results))
	for _, rec := range payload.Results {
		obs := convertRecord(rec)
		if obs == nil {
			continue
		}
		if obs.ObservedAt.Before(cutoff) {
			continue
		}
		observations = append(observations, *obs)
	}

	c.logger.Info("EEA fetch complete",
		"records", len(payload.Results),
		"converted", len(observations),
		"window", window,
	)
	return observations, nil
}

// convertRecord canonicalizes one EEA station record. Returns nil when the
// pollutant code is unmapped, the timestamp cannot be parsed, or the record
// is flagged invalid by the provider.
func convertRecord(rec stationRecord) *domain.Observation {
	pollutant, ok := pollutantCodes[rec.Pollutant]
	if !ok {
		return nil
	}
	if rec.Validity <= 0 {
		return nil
	}

	observedAt, ok := parseEEATime(rec.DatetimeBegin)
	if !ok {
		return nil
	}

	raw, _ := json.Marshal(rec)
	return &domain.Observation{
		StationID:   rec.AirQualityStationEoICode,
		Pollutant:   pollutant,
		Value:       rec.Concentration,
		Unit:        rec.UnitOfMeasurement,
		AQIBand:     domain.BandFor(pollutant, rec.Concentration),
		ObservedAt:  observedAt,
		CountryCode: rec.CountryCode,
		RegionCode:  rec.CountryCode,
		Source:      SourceName,
		Raw:         raw,
		// This endpoint carries no coordinates; Lat/Lon stay nil.
	}
}

// parseEEATime accepts the timestamp formats observed in EEA exports:
// RFC 3339 and the legacy space-separated form with a numeric zone.
func parseEEATime(s string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05 -07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// EEA API response types.

type response struct {
	Results []stationRecord `json:"results"`
	Count   int             `json:"count"`
}

type stationRecord struct {
	AirQualityStation        string  `json:"AirQualityStation"`
	AirQualityStationEoICode string  `json:"AirQualityStationEoICode"`
	Pollutant                string  `json:"Pollutant"`
	AveragingTime            string  `json:"AveragingTime"`
	Concentration            float64 `json:"Concentration"`
	UnitOfMeasurement        string  `json:"UnitOfMeasurement"`
	DatetimeBegin            string  `json:"DatetimeBegin"`
	DatetimeEnd              string  `json:"DatetimeEnd"`
	Validity                 int     `json:"Validity"`
	Verification             int     `json:"Verification"`
	CountryCode              string  `json:"CountryCode"`
}
