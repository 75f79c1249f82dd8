// Package scoring turns recently ingested observations and alert events into
// per-region challenge scores. One pass evaluates every (type, region) pair;
// a failing pair is logged and skipped so one bad region never blocks the
// rest of the pass.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
	"github.com/couchcryptid/challenge-score-etl/internal/observability"
)

// Store is the persistence surface the engine needs.
type Store interface {
	EnabledRegions(ctx context.Context) ([]string, error)
	AirQualityAggregate(ctx context.Context, region string, window time.Duration, now time.Time) (avg float64, count int, err error)
	AlertCounts(ctx context.Context, region string, challengeType domain.ChallengeType, window time.Duration, now time.Time) (total, severe int, err error)
	UpsertChallengeScore(ctx context.Context, score domain.ChallengeScore) error
}

// TypeParams holds the lookback window and normalization divisors for one
// challenge type. Each component is clamped to [0, 1] before weighting.
type TypeParams struct {
	Window             time.Duration
	IntensityDivisor   float64
	ExposureDivisor    float64
	PersistenceDivisor float64
}

// Params holds every scoring constant. Values are plain data so deployments
// can tune them without touching the formulas.
type Params struct {
	Types map[domain.ChallengeType]TypeParams

	IntensityWeight   float64
	ExposureWeight    float64
	PersistenceWeight float64
}

// DefaultParams mirrors the production scoring calibration.
func DefaultParams() Params {
	return Params{
		Types: map[domain.ChallengeType]TypeParams{
			domain.ChallengeAirQuality: {Window: 168 * time.Hour, IntensityDivisor: 50, ExposureDivisor: 75, PersistenceDivisor: 24},
			domain.ChallengeHeat:       {Window: 24 * time.Hour, IntensityDivisor: 5, ExposureDivisor: 10, PersistenceDivisor: 3},
			domain.ChallengeFloods:     {Window: 48 * time.Hour, IntensityDivisor: 8, ExposureDivisor: 12, PersistenceDivisor: 5},
			domain.ChallengeWildfire:   {Window: 72 * time.Hour, IntensityDivisor: 15, ExposureDivisor: 20, PersistenceDivisor: 8},
		},
		IntensityWeight:   0.6,
		ExposureWeight:    0.3,
		PersistenceWeight: 0.1,
	}
}

// Filter restricts a pass to a subset of challenge types or regions. The
// zero value scores every type for every enabled region.
type Filter struct {
	Types   []domain.ChallengeType `json:"types,omitempty"`
	Regions []string               `json:"regions,omitempty"`
}

func (f Filter) challengeTypes() ([]domain.ChallengeType, error) {
	if len(f.Types) == 0 {
		return domain.AllChallengeTypes, nil
	}
	for _, t := range f.Types {
		if !domain.KnownChallengeType(t) {
			return nil, fmt.Errorf("unknown challenge type %q", t)
		}
	}
	return f.Types, nil
}

func (f Filter) keepRegion(region string) bool {
	if len(f.Regions) == 0 {
		return true
	}
	for _, r := range f.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// Report summarizes one scoring pass.
type Report struct {
	Regions  int           `json:"regions"`
	Scored   int           `json:"scored"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Engine computes and persists challenge scores.
type Engine struct {
	store   Store
	params  Params
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewEngine creates a scoring engine with the given calibration.
func NewEngine(store Store, params Params, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		params:  params,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

// RunPass scores every (challenge type, enabled region) pair selected by
// filter and upserts the results for today's date. A pair failure is counted
// and skipped; the pass fails outright only when the filter is invalid or
// the region list cannot be loaded.
func (e *Engine) RunPass(ctx context.Context, filter Filter) (Report, error) {
	start := e.clock.Now()

	challengeTypes, err := filter.challengeTypes()
	if err != nil {
		return Report{}, err
	}

	enabled, err := e.store.EnabledRegions(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load enabled regions: %w", err)
	}
	var regions []string
	for _, region := range enabled {
		if filter.keepRegion(region) {
			regions = append(regions, region)
		}
	}

	report := Report{Regions: len(regions)}
	for _, region := range regions {
		for _, challengeType := range challengeTypes {
			if ctx.Err() != nil {
				report.Duration = e.clock.Now().Sub(start)
				return report, ctx.Err()
			}

			if err := e.scorePair(ctx, challengeType, region); err != nil {
				report.Failed++
				e.metrics.ScorePairsFailed.Inc()
				e.logger.Error("scoring pair failed",
					"type", challengeType, "region", region, "error", err)
				continue
			}
			report.Scored++
			e.metrics.ScoresComputed.Inc()
		}
	}

	report.Duration = e.clock.Now().Sub(start)
	e.metrics.PassDuration.Observe(report.Duration.Seconds())
	e.logger.Info("scoring pass complete",
		"regions", report.Regions, "scored", report.Scored,
		"failed", report.Failed, "duration", report.Duration)
	return report, nil
}

// scorePair computes and upserts one (type, region) score.
func (e *Engine) scorePair(ctx context.Context, challengeType domain.ChallengeType, region string) error {
	tp, ok := e.params.Types[challengeType]
	if !ok {
		return fmt.Errorf("no parameters for challenge type %q", challengeType)
	}

	now := e.clock.Now().UTC()

	var score domain.ChallengeScore
	var err error
	if challengeType == domain.ChallengeAirQuality {
		score, err = e.scoreAirQuality(ctx, region, tp, now)
	} else {
		score, err = e.scoreAlerts(ctx, challengeType, region, tp, now)
	}
	if err != nil {
		return err
	}

	return e.store.UpsertChallengeScore(ctx, score)
}

type airQualityInputs struct {
	AvgValue    float64 `json:"avg_value"`
	SampleCount int     `json:"sample_count"`
	WindowHours int     `json:"window_hours"`
}

func (e *Engine) scoreAirQuality(ctx context.Context, region string, tp TypeParams, now time.Time) (domain.ChallengeScore, error) {
	avg, count, err := e.store.AirQualityAggregate(ctx, region, tp.Window, now)
	if err != nil {
		return domain.ChallengeScore{}, err
	}

	intensity := clamp01(avg / tp.IntensityDivisor)
	exposure := clamp01(avg / tp.ExposureDivisor)
	persistence := clamp01(float64(count) / tp.PersistenceDivisor)

	inputs, _ := json.Marshal(airQualityInputs{
		AvgValue:    avg,
		SampleCount: count,
		WindowHours: int(tp.Window.Hours()),
	})
	return e.assemble(domain.ChallengeAirQuality, region, tp, intensity, exposure, persistence, inputs, now), nil
}

type alertInputs struct {
	AlertCount  int `json:"alert_count"`
	SevereCount int `json:"severe_count"`
	WindowHours int `json:"window_hours"`
}

func (e *Engine) scoreAlerts(ctx context.Context, challengeType domain.ChallengeType, region string, tp TypeParams, now time.Time) (domain.ChallengeScore, error) {
	total, severe, err := e.store.AlertCounts(ctx, region, challengeType, tp.Window, now)
	if err != nil {
		return domain.ChallengeScore{}, err
	}

	// Heat intensity tracks severe alerts; the other alert-driven types use
	// the full count for all three components.
	intensityBase := float64(total)
	if challengeType == domain.ChallengeHeat {
		intensityBase = float64(severe)
	}

	intensity := clamp01(intensityBase / tp.IntensityDivisor)
	exposure := clamp01(float64(total) / tp.ExposureDivisor)
	persistence := clamp01(float64(total) / tp.PersistenceDivisor)

	inputs, _ := json.Marshal(alertInputs{
		AlertCount:  total,
		SevereCount: severe,
		WindowHours: int(tp.Window.Hours()),
	})
	return e.assemble(challengeType, region, tp, intensity, exposure, persistence, inputs, now), nil
}

func (e *Engine) assemble(challengeType domain.ChallengeType, region string, tp TypeParams, intensity, exposure, persistence float64, inputs json.RawMessage, now time.Time) domain.ChallengeScore {
	windowHours := int(tp.Window.Hours())
	composite := e.params.IntensityWeight*intensity +
		e.params.ExposureWeight*exposure +
		e.params.PersistenceWeight*persistence

	return domain.ChallengeScore{
		Type:        challengeType,
		RegionCode:  region,
		Date:        now.Truncate(24 * time.Hour),
		WindowHours: windowHours,
		Intensity:   intensity,
		Exposure:    exposure,
		Persistence: persistence,
		Score:       int(math.Round(100 * composite)),
		Freshness:   domain.FreshnessForWindow(windowHours),
		InputsJSON:  inputs,
		AsOf:        now,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
