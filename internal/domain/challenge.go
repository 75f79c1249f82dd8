package domain

import (
	"encoding/json"
	"time"
)

// ChallengeType identifies one environmental challenge category.
type ChallengeType string

const (
	ChallengeAirQuality ChallengeType = "air_quality"
	ChallengeHeat       ChallengeType = "heat"
	ChallengeFloods     ChallengeType = "floods"
	ChallengeWildfire   ChallengeType = "wildfire"
)

// AllChallengeTypes lists every scoreable type in scoring order.
var AllChallengeTypes = []ChallengeType{
	ChallengeAirQuality,
	ChallengeHeat,
	ChallengeFloods,
	ChallengeWildfire,
}

// KnownChallengeType reports whether t is a scoreable challenge type.
func KnownChallengeType(t ChallengeType) bool {
	switch t {
	case ChallengeAirQuality, ChallengeHeat, ChallengeFloods, ChallengeWildfire:
		return true
	}
	return false
}

// Freshness is the coarse staleness classification of a score, derived from
// the length of its lookback window. "live" exists in the wider system for a
// fresher external signal; this pipeline never produces it.
type Freshness string

const (
	FreshnessToday Freshness = "today"
	FreshnessWeek  Freshness = "week"
	FreshnessStale Freshness = "stale"
)

// FreshnessForWindow derives freshness from a lookback window length.
func FreshnessForWindow(windowHours int) Freshness {
	switch {
	case windowHours <= 24:
		return FreshnessToday
	case windowHours <= 72:
		return FreshnessWeek
	default:
		return FreshnessStale
	}
}

// ChallengeScore is one day's composite severity record for a (type, region)
// pair. Recomputation replaces the whole row; there is no partial merge.
type ChallengeScore struct {
	Type        ChallengeType   `json:"type"`
	RegionCode  string          `json:"region_code"`
	Date        time.Time       `json:"date"` // calendar day, UTC
	WindowHours int             `json:"window_hours"`
	Intensity   float64         `json:"intensity"`
	Exposure    float64         `json:"exposure"`
	Persistence float64         `json:"persistence"`
	Score       int             `json:"score"`
	Freshness   Freshness       `json:"freshness"`
	InputsJSON  json.RawMessage `json:"inputs_json,omitempty"`
	AsOf        time.Time       `json:"as_of"`
}

// AlertEvent is one provider alert (heat warning, flood warning, ...) used as
// scoring input for the non-sensor challenge types.
type AlertEvent struct {
	Type           ChallengeType   `json:"type"`
	Source         string          `json:"source"`
	SourceNativeID string          `json:"source_native_id,omitempty"`
	RegionCode     string          `json:"region_code"`
	Severity       string          `json:"severity,omitempty"` // green|yellow|orange|red
	Onset          *time.Time      `json:"onset,omitempty"`
	Expires        *time.Time      `json:"expires,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Severe reports whether the alert carries an orange or red severity, the
// levels Meteoalarm treats as dangerous.
func (a AlertEvent) Severe() bool {
	return a.Severity == "orange" || a.Severity == "red"
}
