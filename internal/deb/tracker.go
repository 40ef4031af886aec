// Package deb implements Dynamic Ensemble Blending: per-city model error
// tracking, inverse-error weighting and the blended high-temperature forecast.
package deb

import (
	"errors"
	"sort"

	"github.com/dantezy/polyweather/internal/weather"
)

// ErrNoData is returned when no model can be weighted or blended.
var ErrNoData = errors.New("no model data")

// ErrorStats is the trailing-window error history of one city.
type ErrorStats struct {
	// DaysUsed counts finalized days that contributed at least one error.
	DaysUsed int
	// MAE per model over the days where both forecast and actual exist.
	MAE map[weather.Model]float64
	// Samples per model.
	Samples map[weather.Model]int
}

// TrackErrors computes per-model mean absolute error over the most recent
// window finalized days strictly before the given date. Records that are not
// finalized, lack an observed maximum or carry no forecasts are skipped.
func TrackErrors(history []*weather.DailyRecord, before weather.Date, window int) ErrorStats {
	stats := ErrorStats{
		MAE:     make(map[weather.Model]float64),
		Samples: make(map[weather.Model]int),
	}
	if window <= 0 {
		return stats
	}

	days := make([]*weather.DailyRecord, 0, len(history))
	for _, r := range history {
		if r == nil || !r.Final || !r.Date.Before(before) {
			continue
		}
		if _, ok := r.Actual(); !ok || r.Forecasts.Len() == 0 {
			continue
		}
		days = append(days, r)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date > days[j].Date })
	if len(days) > window {
		days = days[:window]
	}

	sums := make(map[weather.Model]float64)
	for _, r := range days {
		actual, _ := r.Actual()
		r.Forecasts.Each(func(m weather.Model, v float64) {
			diff := v - actual
			if diff < 0 {
				diff = -diff
			}
			sums[m] += diff
			stats.Samples[m]++
		})
	}
	for m, sum := range sums {
		stats.MAE[m] = sum / float64(stats.Samples[m])
	}
	stats.DaysUsed = len(days)
	return stats
}
