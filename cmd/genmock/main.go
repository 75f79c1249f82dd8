// Command genmock generates observation fixtures for the test suites: a raw
// file of pre-normalization observations with provider noise (duplicates,
// invalid records, over-precise values) and the expected normalized output.
// It runs the actual domain code so the expected file matches real pipeline
// behavior.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -raw-out data/mock/observations_260831_raw.json \
//	  -normalized-out data/mock/observations_260831_normalized.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
)

var baseTime = time.Date(2026, time.August, 31, 0, 0, 0, 0, time.UTC)

// countryStations maps fixture countries to their station counts.
var countryStations = []struct {
	code     string
	stations int
}{
	{"DE", 8}, {"FR", 6}, {"IT", 5}, {"PL", 4}, {"NL", 3}, {"ES", 4},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	rawOut := flag.String("raw-out", "", "output path for the raw observation fixture")
	normalizedOut := flag.String("normalized-out", "", "output path for the expected normalized fixture")
	seed := flag.Int64("seed", 260831, "random seed for reproducible values")
	hours := flag.Int("hours", 6, "hourly readings per station")
	flag.Parse()

	if *rawOut == "" || *normalizedOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -raw-out, -normalized-out")
	}

	// Freeze the domain clock for reproducible IngestedAt stamps.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	raw := generate(rand.New(rand.NewSource(*seed)), *hours)
	log.Printf("generated: %d raw observations", len(raw))

	normalized, dropped := domain.Normalize(domain.Deduplicate(raw))
	log.Printf("normalized: %d kept, %d dropped", len(normalized), len(dropped))

	if err := writeJSON(*rawOut, raw); err != nil {
		return fmt.Errorf("writing raw fixture: %w", err)
	}
	log.Printf("wrote raw fixture: %s", *rawOut)

	if err := writeJSON(*normalizedOut, normalized); err != nil {
		return fmt.Errorf("writing normalized fixture: %w", err)
	}
	log.Printf("wrote normalized fixture: %s", *normalizedOut)

	printStats(normalized)
	return nil
}

// generate produces hourly PM2.5 and NO2 readings per station, with the
// noise the pipeline has to survive: duplicate keys, over-precise values, a
// record with no station and one with no timestamp.
func generate(rng *rand.Rand, hours int) []domain.Observation {
	var raw []domain.Observation

	for _, cs := range countryStations {
		for s := 1; s <= cs.stations; s++ {
			stationID := fmt.Sprintf("%s%04dA", cs.code, s)
			for h := 0; h < hours; h++ {
				at := baseTime.Add(time.Duration(h) * time.Hour)
				raw = append(raw,
					reading(rng, stationID, cs.code, domain.PollutantPM25, 3+rng.Float64()*40, at),
					reading(rng, stationID, cs.code, domain.PollutantNO2, 5+rng.Float64()*55, at),
				)
			}
		}
	}

	// Duplicate of an existing key, as the fallback source would produce it.
	dup := raw[0]
	dup.Value = dup.Value + 1
	dup.Source = "OpenAQ"

	invalid := []domain.Observation{
		dup,
		{Pollutant: domain.PollutantPM25, Value: 10, ObservedAt: baseTime, CountryCode: "DE", Source: "EEA"},
		{StationID: "DE9999A", Pollutant: domain.PollutantPM25, Value: 10, CountryCode: "DE", Source: "EEA"},
		reading(rng, "DE9998A", "DE", domain.Pollutant("so2"), 12, baseTime),
	}
	return append(raw, invalid...)
}

func reading(rng *rand.Rand, stationID, country string, pollutant domain.Pollutant, value float64, at time.Time) domain.Observation {
	// Extra precision exercises the 3-decimal rounding.
	value += rng.Float64() / 1e6
	return domain.Observation{
		StationID:   stationID,
		Pollutant:   pollutant,
		Value:       value,
		Unit:        "µg/m³",
		AQIBand:     domain.BandFor(pollutant, value),
		ObservedAt:  at,
		CountryCode: country,
		Source:      "EEA",
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(normalized []domain.Observation) {
	byCountry := map[string]int{}
	byBand := map[domain.AQIBand]int{}
	byPollutant := map[domain.Pollutant]int{}
	for i := range normalized {
		byCountry[normalized[i].RegionCode]++
		byBand[normalized[i].AQIBand]++
		byPollutant[normalized[i].Pollutant]++
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d\n", len(normalized))
	fmt.Printf("By pollutant: pm25=%d, no2=%d\n",
		byPollutant[domain.PollutantPM25], byPollutant[domain.PollutantNO2])
	fmt.Printf("By band: good=%d, moderate=%d, unhealthy=%d\n",
		byBand[domain.BandGood], byBand[domain.BandModerate], byBand[domain.BandUnhealthy])
	fmt.Printf("By region:")
	for _, cs := range countryStations {
		fmt.Printf(" %s=%d", cs.code, byCountry[cs.code])
	}
	fmt.Println()
}
