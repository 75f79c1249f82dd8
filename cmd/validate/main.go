// Command validate cross-checks the observation fixtures: it re-runs the
// dedup and normalization code over the raw fixture and verifies the
// normalized fixture matches, then checks the invariants every stored
// observation must satisfy (rounding, UTC timestamps, banding, region codes,
// unique dedup keys).
//
// Usage:
//
//	go run ./cmd/validate \
//	  -raw data/mock/observations_260831_raw.json \
//	  -normalized data/mock/observations_260831_normalized.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	rawPath := flag.String("raw", "", "path to the raw observation fixture")
	normalizedPath := flag.String("normalized", "", "path to the expected normalized fixture")
	flag.Parse()

	if *rawPath == "" || *normalizedPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*rawPath, *normalizedPath); code != 0 {
		os.Exit(code)
	}
}

func run(rawPath, normalizedPath string) int {
	// Fixed clock matching genmock, so IngestedAt stamps reproduce.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	fmt.Println("=== Observation Fixture Validation ===")
	fmt.Println()

	raw, err := loadJSON(rawPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load raw fixture: %v\n", err)
		return 1
	}
	expected, err := loadJSON(normalizedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load normalized fixture: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateReplay(raw, expected),
		validateInvariants(expected),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d raw, %d normalized\n", len(raw), len(expected))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadJSON(path string) ([]domain.Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []domain.Observation
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// validateReplay re-runs dedup and normalization over the raw fixture and
// compares record by record with the expected output.
func validateReplay(raw, expected []domain.Observation) *phase {
	p := &phase{name: "Phase 1: Pipeline Replay (raw vs normalized)"}

	actual, _ := domain.Normalize(domain.Deduplicate(raw))
	if len(actual) != len(expected) {
		p.errorf("count: replay produced %d records, fixture has %d", len(actual), len(expected))
		return p
	}

	for i := range actual {
		a, e := actual[i], expected[i]
		if a.DedupKey() != e.DedupKey() {
			p.errorf("record %d: key mismatch: replay %q, fixture %q", i, a.DedupKey(), e.DedupKey())
			continue
		}
		if !floatEq(a.Value, e.Value) {
			p.errorf("key %s: value: replay %g, fixture %g", a.DedupKey(), a.Value, e.Value)
		}
		if a.AQIBand != e.AQIBand {
			p.errorf("key %s: band: replay %q, fixture %q", a.DedupKey(), a.AQIBand, e.AQIBand)
		}
		if a.RegionCode != e.RegionCode {
			p.errorf("key %s: region: replay %q, fixture %q", a.DedupKey(), a.RegionCode, e.RegionCode)
		}
		if !a.IngestedAt.Equal(e.IngestedAt) {
			p.errorf("key %s: ingested_at: replay %s, fixture %s", a.DedupKey(), a.IngestedAt, e.IngestedAt)
		}
	}
	return p
}

// validateInvariants checks the properties every normalized observation must
// hold, independent of the raw input.
func validateInvariants(observations []domain.Observation) *phase {
	p := &phase{name: "Phase 2: Normalized Invariants"}

	seen := map[string]int{}
	for i := range observations {
		o := &observations[i]
		pf := func(format string, args ...any) {
			p.errorf("record %d (%s): "+format, append([]any{i, o.DedupKey()}, args...)...)
		}

		if o.StationID == "" {
			pf("station_id is empty")
		}
		if !domain.KnownPollutant(o.Pollutant) {
			pf("pollutant %q not in {pm25, no2}", o.Pollutant)
		}
		if rounded := math.Round(o.Value*1000) / 1000; !floatEq(rounded, o.Value) {
			pf("value %g not rounded to 3 decimals", o.Value)
		}
		if o.ObservedAt.IsZero() {
			pf("observed_at is zero")
		} else if _, offset := o.ObservedAt.Zone(); offset != 0 {
			pf("observed_at %s is not UTC", o.ObservedAt)
		}
		if want := domain.BandFor(o.Pollutant, o.Value); o.AQIBand != want {
			pf("band %q does not match value %g (want %q)", o.AQIBand, o.Value, want)
		}
		if o.RegionCode == "" {
			pf("region_code is empty")
		}
		if o.IngestedAt.IsZero() {
			pf("ingested_at is zero")
		}

		if prev, dup := seen[o.DedupKey()]; dup {
			pf("duplicate dedup key, first at record %d", prev)
		}
		seen[o.DedupKey()] = i
	}
	return p
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
