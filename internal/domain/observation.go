package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Pollutant identifies a measured air pollutant.
type Pollutant string

const (
	PollutantPM25 Pollutant = "pm25"
	PollutantNO2  Pollutant = "no2"
)

// KnownPollutant reports whether p is a pollutant this pipeline ingests.
func KnownPollutant(p Pollutant) bool {
	switch p {
	case PollutantPM25, PollutantNO2:
		return true
	}
	return false
}

// AQIBand is the WHO-guideline classification of a single reading.
type AQIBand string

const (
	BandGood      AQIBand = "good"
	BandModerate  AQIBand = "moderate"
	BandUnhealthy AQIBand = "unhealthy"
)

// BandFor classifies a concentration value against WHO short-term guidelines.
// Unknown pollutants classify as good; they are dropped earlier in the
// pipeline anyway.
func BandFor(p Pollutant, value float64) AQIBand {
	switch p {
	case PollutantPM25:
		switch {
		case value > 25:
			return BandUnhealthy
		case value > 15:
			return BandModerate
		}
	case PollutantNO2:
		switch {
		case value > 40:
			return BandUnhealthy
		case value > 25:
			return BandModerate
		}
	}
	return BandGood
}

// Observation is one immutable sensor reading in canonical form.
type Observation struct {
	StationID   string          `json:"station_id"`
	Pollutant   Pollutant       `json:"pollutant"`
	Value       float64         `json:"value"`
	Unit        string          `json:"unit,omitempty"`
	AQIBand     AQIBand         `json:"aqi_band,omitempty"`
	ObservedAt  time.Time       `json:"observed_at"`
	Lat         *float64        `json:"lat,omitempty"`
	Lon         *float64        `json:"lon,omitempty"`
	CountryCode string          `json:"country_code,omitempty"`
	RegionCode  string          `json:"region_code,omitempty"`
	Source      string          `json:"source"`
	IngestedAt  time.Time       `json:"ingested_at"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// DedupKey returns the uniqueness triple as a single string, used both for
// in-memory deduplication and as a stable log field.
func (o Observation) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s", o.StationID, o.Pollutant, o.ObservedAt.UTC().Format(time.RFC3339))
}

// ResolveRegion maps a station's country code to its region code.
// Country-level only for now; stationID is accepted so a sub-national
// mapping can slot in without changing call sites.
func ResolveRegion(stationID, countryCode string) string {
	if countryCode == "" {
		return "UNKNOWN"
	}
	return countryCode
}
