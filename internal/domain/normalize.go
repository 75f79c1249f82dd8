package domain

import (
	"fmt"
	"math"
)

// Deduplicate removes observations sharing a (station, pollutant, observed_at)
// key, keeping the first occurrence in slice order. The orchestrator
// concatenates primary-source records first, so on a key tie the primary
// record wins over the fallback.
func Deduplicate(observations []Observation) []Observation {
	seen := make(map[string]struct{}, len(observations))
	deduped := make([]Observation, 0, len(observations))

	for _, obs := range observations {
		key := obs.DedupKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, obs)
	}
	return deduped
}

// Normalize validates and canonicalizes observations for storage. Records
// failing validation are dropped, never defaulted: a reading with an
// unparsable timestamp must not be backfilled with "now". Returns the valid
// set and one ValidationError per dropped record.
func Normalize(observations []Observation) ([]Observation, []*ValidationError) {
	normalized := make([]Observation, 0, len(observations))
	var dropped []*ValidationError

	for _, obs := range observations {
		if err := validate(obs); err != nil {
			dropped = append(dropped, err)
			continue
		}

		obs.Value = round3(obs.Value)
		obs.ObservedAt = obs.ObservedAt.UTC()
		obs.RegionCode = ResolveRegion(obs.StationID, obs.CountryCode)
		obs.IngestedAt = Now().UTC()
		normalized = append(normalized, obs)
	}
	return normalized, dropped
}

func validate(obs Observation) *ValidationError {
	if obs.StationID == "" {
		return &ValidationError{Field: "station_id", Reason: "missing"}
	}
	if obs.Pollutant == "" {
		return &ValidationError{Field: "pollutant", Reason: "missing"}
	}
	if !KnownPollutant(obs.Pollutant) {
		return &ValidationError{Field: "pollutant", Reason: fmt.Sprintf("unknown %q", obs.Pollutant)}
	}
	if math.IsNaN(obs.Value) || math.IsInf(obs.Value, 0) {
		return &ValidationError{Field: "value", Reason: "not numeric"}
	}
	if obs.ObservedAt.IsZero() {
		return &ValidationError{Field: "observed_at", Reason: "missing or unparsable"}
	}
	return nil
}

// round3 rounds to 3 decimal places, half away from zero.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
