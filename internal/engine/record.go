package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dantezy/polyweather/internal/store"
	"github.com/dantezy/polyweather/internal/weather"
)

func (e *Engine) key(city string, date weather.Date) (weather.Key, error) {
	loc, err := e.Resolve(city)
	if err != nil {
		return weather.Key{}, err
	}
	return weather.Key{City: loc.Key(), Date: date}, nil
}

// RecordForecast stores one model's forecast high.
func (e *Engine) RecordForecast(ctx context.Context, city string, date weather.Date, model weather.Model, value float64) (*weather.DailyRecord, error) {
	k, err := e.key(city, date)
	if err != nil {
		return nil, err
	}
	return e.store.PutForecast(ctx, k, model, value)
}

// RecordObservation stores the station's running maximum.
func (e *Engine) RecordObservation(ctx context.Context, city string, date weather.Date, obs store.ObservationUpdate) (*weather.DailyRecord, error) {
	k, err := e.key(city, date)
	if err != nil {
		return nil, err
	}
	return e.store.PutObservation(ctx, k, obs)
}

// RecordEnsemble stores the day's ensemble summary.
func (e *Engine) RecordEnsemble(ctx context.Context, city string, date weather.Date, ens weather.EnsembleSample) (*weather.DailyRecord, error) {
	k, err := e.key(city, date)
	if err != nil {
		return nil, err
	}
	return e.store.PutEnsemble(ctx, k, ens)
}

// RecordPeak stores the predicted peak window.
func (e *Engine) RecordPeak(ctx context.Context, city string, date weather.Date, w weather.PeakWindow) (*weather.DailyRecord, error) {
	k, err := e.key(city, date)
	if err != nil {
		return nil, err
	}
	return e.store.PutPeak(ctx, k, w)
}

// Finalize marks a day as settled.
func (e *Engine) Finalize(ctx context.Context, city string, date weather.Date) (*weather.DailyRecord, error) {
	k, err := e.key(city, date)
	if err != nil {
		return nil, err
	}
	return e.store.Finalize(ctx, k)
}

// SweepResult summarizes one finalize/prune pass.
type SweepResult struct {
	Finalized map[string]int
	Pruned    int64
}

// Sweep finalizes every open record whose local date has passed and drops
// records older than keepDays. keepDays <= 0 disables pruning.
func (e *Engine) Sweep(ctx context.Context, now time.Time, keepDays int) (SweepResult, error) {
	res := SweepResult{Finalized: make(map[string]int)}
	for _, loc := range e.dir.All() {
		n, err := e.store.FinalizeBefore(ctx, loc.Key(), loc.Today(now))
		if err != nil {
			return res, fmt.Errorf("finalizing %s: %w", loc.Name, err)
		}
		if n > 0 {
			res.Finalized[loc.Name] = n
		}
	}
	if keepDays > 0 {
		cutoff := weather.DateOf(now, time.UTC).AddDays(-keepDays)
		n, err := e.store.Prune(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("pruning before %s: %w", cutoff, err)
		}
		res.Pruned = n
	}
	return res, nil
}
