// Package engine exposes the blended forecast, the settlement distribution
// and the record write path for a set of cities.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dantezy/polyweather/internal/deb"
	"github.com/dantezy/polyweather/internal/store"
	"github.com/dantezy/polyweather/internal/weather"
)

// ErrUnknownCity is returned when a city name cannot be resolved.
var ErrUnknownCity = errors.New("unknown city")

// Store is the record store the engine reads and writes through.
type Store interface {
	Get(city string, date weather.Date) (*weather.DailyRecord, bool)
	History(city string, before weather.Date, limit int) []*weather.DailyRecord
	PutForecast(ctx context.Context, key weather.Key, model weather.Model, value float64) (*weather.DailyRecord, error)
	PutObservation(ctx context.Context, key weather.Key, obs store.ObservationUpdate) (*weather.DailyRecord, error)
	PutEnsemble(ctx context.Context, key weather.Key, ens weather.EnsembleSample) (*weather.DailyRecord, error)
	PutPeak(ctx context.Context, key weather.Key, w weather.PeakWindow) (*weather.DailyRecord, error)
	Finalize(ctx context.Context, key weather.Key) (*weather.DailyRecord, error)
	FinalizeBefore(ctx context.Context, city string, before weather.Date) (int, error)
	Prune(ctx context.Context, before weather.Date) (int64, error)
}

// Forecast is the blended high for one city and date.
type Forecast struct {
	City         string                    `json:"city"`
	Date         weather.Date              `json:"date"`
	Unit         weather.Unit              `json:"unit"`
	Mu           float64                   `json:"mu"`
	ModelMu      float64                   `json:"model_mu"`
	Weights      map[weather.Model]float64 `json:"weights"`
	WeightSet    deb.WeightSet             `json:"weight_set"`
	EnsembleUsed bool                      `json:"ensemble_used"`
	Corrected    bool                      `json:"corrected"`
	Consensus    weather.Consensus         `json:"consensus"`
	Trend        weather.Trend             `json:"trend"`
	MaxSoFar     *float64                  `json:"max_so_far,omitempty"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// Settlement is a distribution together with the forecast it was built from.
type Settlement struct {
	Forecast     *Forecast             `json:"forecast"`
	Distribution *weather.Distribution `json:"distribution"`
	Peak         weather.PeakWindow    `json:"peak"`
	PeakDefault  bool                  `json:"peak_default"`
	Now          time.Time             `json:"now"`
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	Calculator *deb.Calculator
	Blender    *deb.Blender
	Consensus  map[weather.Unit]weather.ConsensusThresholds
}

// Engine computes forecasts and distributions from stored records.
type Engine struct {
	store     Store
	dir       *weather.Directory
	calc      *deb.Calculator
	blender   *deb.Blender
	consensus map[weather.Unit]weather.ConsensusThresholds
}

// New creates an engine over store for the cities in dir.
func New(st Store, dir *weather.Directory, cfg Config) *Engine {
	e := &Engine{
		store:     st,
		dir:       dir,
		calc:      cfg.Calculator,
		blender:   cfg.Blender,
		consensus: cfg.Consensus,
	}
	if e.calc == nil {
		e.calc = deb.NewCalculator()
	}
	if e.blender == nil {
		e.blender = deb.NewBlender()
	}
	if e.consensus == nil {
		e.consensus = map[weather.Unit]weather.ConsensusThresholds{
			weather.Celsius:    weather.DefaultConsensusThresholds(weather.Celsius),
			weather.Fahrenheit: weather.DefaultConsensusThresholds(weather.Fahrenheit),
		}
	}
	return e
}

// Resolve maps user input to a tracked city.
func (e *Engine) Resolve(city string) (*weather.Location, error) {
	loc := e.dir.Find(city)
	if loc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCity, city)
	}
	return loc, nil
}

// Cities lists the tracked cities.
func (e *Engine) Cities() []weather.Location {
	return e.dir.All()
}

// Today returns the city's local date at now.
func (e *Engine) Today(city string, now time.Time) (weather.Date, error) {
	loc, err := e.Resolve(city)
	if err != nil {
		return "", err
	}
	return loc.Today(now), nil
}

// BlendedForecast returns the corrected high and the weights used.
func (e *Engine) BlendedForecast(city string, date weather.Date) (*Forecast, error) {
	loc, err := e.Resolve(city)
	if err != nil {
		return nil, err
	}
	rec, ok := e.store.Get(loc.Key(), date)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", loc.Name, date, deb.ErrNoData)
	}
	return e.blend(loc, rec)
}

// SettlementDistribution returns the probability of each settlement bucket
// as of now.
func (e *Engine) SettlementDistribution(city string, date weather.Date, now time.Time) (*Settlement, error) {
	loc, err := e.Resolve(city)
	if err != nil {
		return nil, err
	}
	rec, ok := e.store.Get(loc.Key(), date)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", loc.Name, date, deb.ErrNoData)
	}
	fc, err := e.blend(loc, rec)
	if err != nil {
		return nil, err
	}

	s := &Settlement{Forecast: fc, Now: now}
	if rec.Peak != nil {
		s.Peak = *rec.Peak
	} else {
		s.Peak = weather.DefaultPeakWindow(date, loc.TZ())
		s.PeakDefault = true
	}
	s.Distribution = weather.Settle(weather.SettleInput{
		Mu:       fc.Mu,
		Ensemble: rec.Ensemble,
		Peak:     s.Peak,
		Now:      now,
		MaxSoFar: rec.MaxSoFar,
	})
	return s, nil
}

// blend computes the forecast from a single record snapshot.
func (e *Engine) blend(loc *weather.Location, rec *weather.DailyRecord) (*Forecast, error) {
	history := e.store.History(loc.Key(), rec.Date, 0)
	ws, err := e.calc.Weights(history, rec.Date, rec.Forecasts.Models())
	if err != nil && !(errors.Is(err, deb.ErrNoData) && rec.Ensemble != nil) {
		return nil, fmt.Errorf("%s %s: %w", loc.Name, rec.Date, err)
	}

	b, err := e.blender.Blend(rec.Forecasts, ws, rec.Ensemble)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", loc.Name, rec.Date, err)
	}
	trend := weather.TrendOf(rec.RecentTemps(3))
	b.Correct(rec.MaxSoFar, trend)

	th, ok := e.consensus[loc.Unit]
	if !ok {
		th = weather.DefaultConsensusThresholds(loc.Unit)
	}
	return &Forecast{
		City:         loc.Name,
		Date:         rec.Date,
		Unit:         loc.Unit,
		Mu:           b.Mu,
		ModelMu:      b.ModelMu,
		Weights:      b.Weights,
		WeightSet:    ws,
		EnsembleUsed: b.EnsembleUsed,
		Corrected:    b.Corrected,
		Consensus:    weather.ConsensusOf(rec.Forecasts, th),
		Trend:        trend,
		MaxSoFar:     rec.MaxSoFar,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}
