// Package openaq fetches hourly air quality measurements from the OpenAQ v3
// API. OpenAQ is the fallback source: it requires an API key, enforces a
// 60/minute and 2000/hour quota, and fans out into one request per sensor,
// so every outbound call is routed through the rate limiter.
package openaq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
	"github.com/couchcryptid/challenge-score-etl/internal/observability"
	"github.com/couchcryptid/challenge-score-etl/internal/ratelimit"
)

// SourceName tags observations originating from this adapter.
const SourceName = "OpenAQ"

// OpenAQ parameter IDs for the pollutants this pipeline ingests.
const paramIDs = "2,7" // 2 = PM2.5, 7 = NO2

// europeanCodes is the country set this deployment covers, matching the
// enabled-region registry. Loaded country IDs are cached per client instance.
var europeanCodes = []string{
	"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR",
	"DE", "GR", "HU", "IE", "IT", "LV", "LT", "LU", "MT", "NL",
	"PL", "PT", "RO", "SK", "SI", "ES", "SE", "GB", "NO", "CH",
}

// Config carries the OpenAQ client settings.
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	LocationPage int // max locations per page
	FetchBatch   int // locations per paced batch
}

// Client implements the fallback source adapter against OpenAQ v3.
//
// The client is owned by a single ingestion flow and issues its calls
// sequentially; the shared quota makes parallel sensor fetches pointless,
// and sequential calls keep the limiter's single-consumer contract intact.
// Location batches exist to pace requests and bound per-batch logging.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	policy     *ratelimit.Policy
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger

	batchPause time.Duration

	// countryIDs is lazily populated on first fetch and reused for the
	// process lifetime unless explicitly invalidated.
	countryIDs []int
}

// NewClient creates an OpenAQ client. All calls go through limiter.
func NewClient(cfg Config, limiter *ratelimit.Limiter, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if cfg.LocationPage <= 0 {
		cfg.LocationPage = 1000
	}
	if cfg.FetchBatch <= 0 {
		cfg.FetchBatch = 10
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		policy:     ratelimit.NewPolicy(limiter),
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
		batchPause: time.Second,
	}
}

// Name returns the provider tag used in cycle reports and stored observations.
func (c *Client) Name() string { return SourceName }

// InvalidateReferenceCache discards the cached country IDs so the next fetch
// reloads them.
func (c *Client) InvalidateReferenceCache() {
	c.countryIDs = nil
}

// FetchRecent retrieves recent hourly PM2.5/NO2 measurements from European
// reference monitors and converts them to canonical observations.
// Per-sensor failures are logged and skipped; only failures that prevent the
// location list from being resolved fail the fetch as a whole.
func (c *Client) FetchRecent(ctx context.Context, window time.Duration) ([]domain.Observation, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAQ API key not configured")
	}

	if err := c.ensureCountryIDs(ctx); err != nil {
		return nil, fmt.Errorf("load OpenAQ countries: %w", err)
	}

	locations, err := c.fetchLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load OpenAQ locations: %w", err)
	}
	if len(locations) == 0 {
		c.logger.Warn("no OpenAQ locations with relevant sensors")
		return nil, nil
	}
	c.logger.Info("OpenAQ locations resolved", "locations", len(locations))

	now := c.clock.Now().UTC()
	from := now.Add(-window)

	var observations []domain.Observation
	for start := 0; start < len(locations); start += c.cfg.FetchBatch {
		end := min(start+c.cfg.FetchBatch, len(locations))

		for _, loc := range locations[start:end] {
			for _, s := range loc.relevantSensors() {
				measurements, err := c.fetchSensorHours(ctx, s.ID, from, now)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					c.logger.Warn("sensor fetch failed, skipping",
						"sensor_id", s.ID, "location_id", loc.ID, "error", err)
					continue
				}
				for _, m := range measurements {
					if obs := convertMeasurement(loc, m); obs != nil {
						observations = append(observations, *obs)
					}
				}
			}
		}

		if end < len(locations) {
			if err := c.pause(ctx); err != nil {
				return nil, err
			}
		}
	}

	c.logger.Info("OpenAQ fetch complete", "converted", len(observations), "window", window)
	return observations, nil
}

// ensureCountryIDs resolves the covered countries' OpenAQ IDs, at most once
// per process unless invalidated.
func (c *Client) ensureCountryIDs(ctx context.Context) error {
	if c.countryIDs != nil {
		return nil
	}

	var payload envelope[country]
	params := url.Values{"limit": {"300"}}
	if err := c.get(ctx, c.cfg.BaseURL+"/countries?"+params.Encode(), &payload); err != nil {
		return err
	}

	wanted := make(map[string]struct{}, len(europeanCodes))
	for _, code := range europeanCodes {
		wanted[code] = struct{}{}
	}

	ids := make([]int, 0, len(europeanCodes))
	for _, co := range payload.Results {
		if _, ok := wanted[co.Code]; ok {
			ids = append(ids, co.ID)
		}
	}
	c.countryIDs = ids
	c.logger.Info("OpenAQ country IDs cached", "countries", len(ids))
	return nil
}

// fetchLocations lists reference monitors with PM2.5/NO2 sensors in the
// covered countries, excluding mobile stations.
func (c *Client) fetchLocations(ctx context.Context) ([]location, error) {
	ids := make([]string, len(c.countryIDs))
	for i, id := range c.countryIDs {
		ids[i] = strconv.Itoa(id)
	}

	params := url.Values{
		"countries_id":  {strings.Join(ids, ",")},
		"parameters_id": {paramIDs},
		"limit":         {strconv.Itoa(c.cfg.LocationPage)},
		"monitor":       {"true"},
		"mobile":        {"false"},
	}

	var payload envelope[location]
	if err := c.get(ctx, c.cfg.BaseURL+"/locations?"+params.Encode(), &payload); err != nil {
		return nil, err
	}

	locations := make([]location, 0, len(payload.Results))
	for _, loc := range payload.Results {
		if loc.Coordinates == nil || len(loc.relevantSensors()) == 0 {
			continue
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// fetchSensorHours retrieves hourly measurements for one sensor in [from, to].
func (c *Client) fetchSensorHours(ctx context.Context, sensorID int, from, to time.Time) ([]measurement, error) {
	params := url.Values{
		"date_from": {from.Format(time.RFC3339)},
		"date_to":   {to.Format(time.RFC3339)},
		"limit":     {"100"},
	}

	var payload envelope[measurement]
	u := fmt.Sprintf("%s/sensors/%d/hours?%s", c.cfg.BaseURL, sensorID, params.Encode())
	if err := c.get(ctx, u, &payload); err != nil {
		return nil, err
	}
	return payload.Results, nil
}

// get performs one authenticated GET under the rate limit policy: wait for
// window capacity, send, record the call against the local counters after it
// completes, and on 429 back off and retry exactly once. A 429 that survives
// the retry comes back as a RateLimitError.
func (c *Client) get(ctx context.Context, fullURL string, out any) error {
	if c.limiter.RequiredDelay() > 0 {
		c.metrics.RateLimitWaits.Inc()
	}

	err := c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return fmt.Errorf("create OpenAQ request: %w", err)
		}
		req.Header.Set("X-API-Key", c.cfg.APIKey)
		req.Header.Set("User-Agent", "challenge-score-etl/1.0")

		start := c.clock.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("OpenAQ request: %w", err)
		}
		defer resp.Body.Close()
		c.metrics.ProviderRequestDuration.WithLabelValues(SourceName).Observe(c.clock.Now().Sub(start).Seconds())

		if resp.StatusCode == http.StatusTooManyRequests {
			c.metrics.RateLimit429s.Inc()
			return &ratelimit.TooManyRequests{Headers: resp.Header}
		}

		// Error responses still consumed quota; the 429 path is exempt
		// because Handle429 waits out the whole window.
		c.limiter.RecordRequest(resp.Header)

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("OpenAQ API error: status %d: %s", resp.StatusCode, body)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})

	var tmr *ratelimit.TooManyRequests
	if errors.As(err, &tmr) {
		return &domain.RateLimitError{Source: SourceName, Err: err}
	}
	return err
}

func (c *Client) pause(ctx context.Context) error {
	if c.batchPause <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(c.batchPause):
		return nil
	}
}

// convertMeasurement canonicalizes one sensor measurement. Returns nil for an
// unmapped pollutant, a missing or negative value, or an unparsable timestamp.
func convertMeasurement(loc location, m measurement) *domain.Observation {
	pollutant := domain.Pollutant(m.Parameter.Name)
	if !domain.KnownPollutant(pollutant) {
		return nil
	}
	if m.Value == nil || *m.Value < 0 {
		return nil
	}

	observedAt, err := time.Parse(time.RFC3339, m.Period.DatetimeFrom.UTC)
	if err != nil {
		return nil
	}

	raw, _ := json.Marshal(m)
	obs := &domain.Observation{
		StationID:   fmt.Sprintf("openaq-%d", loc.ID),
		Pollutant:   pollutant,
		Value:       *m.Value,
		Unit:        m.Parameter.Units,
		AQIBand:     domain.BandFor(pollutant, *m.Value),
		ObservedAt:  observedAt.UTC(),
		CountryCode: loc.Country.Code,
		RegionCode:  loc.Country.Code,
		Source:      SourceName,
		Raw:         raw,
	}
	if loc.Coordinates != nil {
		lat, lon := loc.Coordinates.Latitude, loc.Coordinates.Longitude
		obs.Lat, obs.Lon = &lat, &lon
	}
	return obs
}

// OpenAQ v3 API response types.

type envelope[T any] struct {
	Meta    meta `json:"meta"`
	Results []T  `json:"results"`
}

type meta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Found any `json:"found"` // int or ">1000"
}

type country struct {
	ID   int    `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type location struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	Country     country      `json:"country"`
	Coordinates *coordinates `json:"coordinates"`
	Sensors     []sensor     `json:"sensors"`
}

// relevantSensors filters a location's sensors down to the ingested pollutants.
func (l location) relevantSensors() []sensor {
	var out []sensor
	for _, s := range l.Sensors {
		if domain.KnownPollutant(domain.Pollutant(s.Parameter.Name)) {
			out = append(out, s)
		}
	}
	return out
}

type coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type sensor struct {
	ID        int       `json:"id"`
	Parameter parameter `json:"parameter"`
}

type parameter struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Units string `json:"units"`
}

type measurement struct {
	Value     *float64  `json:"value"`
	Parameter parameter `json:"parameter"`
	Period    period    `json:"period"`
}

type period struct {
	DatetimeFrom utcInstant `json:"datetime_from"`
	DatetimeTo   utcInstant `json:"datetime_to"`
}

type utcInstant struct {
	UTC   string `json:"utc"`
	Local string `json:"local"`
}
