package deb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dantezy/polyweather/internal/weather"
)

const (
	DefaultWindow         = 7
	DefaultEpsilon        = 0.1
	DefaultMinHistoryDays = 2

	// minEpsilon keeps a perfect historical match finite.
	minEpsilon = 1e-9
)

// WeightSet is a normalized model weighting for one city.
type WeightSet struct {
	Weights   map[weather.Model]float64 `json:"weights"`
	MAE       map[weather.Model]float64 `json:"mae,omitempty"`
	Window    int                       `json:"window"`
	DaysUsed  int                       `json:"days_used"`
	ColdStart bool                      `json:"cold_start"`
}

// Sum returns the total weight.
func (ws WeightSet) Sum() float64 {
	total := 0.0
	for _, m := range sortedModels(ws.Weights) {
		total += ws.Weights[m]
	}
	return total
}

// Ranked returns models ordered by weight, heaviest first.
func (ws WeightSet) Ranked() []weather.Model {
	out := make([]weather.Model, 0, len(ws.Weights))
	for m := range ws.Weights {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if ws.Weights[out[i]] == ws.Weights[out[j]] {
			return out[i] < out[j]
		}
		return ws.Weights[out[i]] > ws.Weights[out[j]]
	})
	return out
}

// Summary formats the top n models as "ecmwf(62%,MAE:0.8°)".
func (ws WeightSet) Summary(n int) string {
	if ws.ColdStart {
		return fmt.Sprintf("equal weights (%d days of history)", ws.DaysUsed)
	}
	ranked := ws.Ranked()
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	parts := make([]string, 0, len(ranked))
	for _, m := range ranked {
		parts = append(parts, fmt.Sprintf("%s(%.0f%%,MAE:%.1f°)", m, ws.Weights[m]*100, ws.MAE[m]))
	}
	return strings.Join(parts, " | ")
}

// Calculator turns error history into blending weights.
type Calculator struct {
	Window         int
	Epsilon        float64
	MinHistoryDays int
}

// NewCalculator returns a calculator with the default window, epsilon and
// cold-start threshold.
func NewCalculator() *Calculator {
	return &Calculator{
		Window:         DefaultWindow,
		Epsilon:        DefaultEpsilon,
		MinHistoryDays: DefaultMinHistoryDays,
	}
}

// Weights computes the weight set for a city on date today. present lists the
// models that have a forecast today and is only used during cold start.
func (c *Calculator) Weights(history []*weather.DailyRecord, today weather.Date, present []weather.Model) (WeightSet, error) {
	stats := TrackErrors(history, today, c.Window)
	ws := WeightSet{
		Weights:  make(map[weather.Model]float64),
		Window:   c.Window,
		DaysUsed: stats.DaysUsed,
	}

	// At least one finalized day is needed before errors can be weighted.
	if stats.DaysUsed < max(c.MinHistoryDays, 1) {
		ws.ColdStart = true
		if len(present) == 0 {
			return ws, fmt.Errorf("cold start with no forecasts today: %w", ErrNoData)
		}
		share := 1.0 / float64(len(present))
		for _, m := range present {
			ws.Weights[m] = share
		}
		return ws, nil
	}

	if len(stats.MAE) == 0 {
		return ws, ErrNoData
	}
	ws.MAE = stats.MAE
	ws.Weights = InverseErrorWeights(stats.MAE, c.Epsilon)
	return ws, nil
}

// InverseErrorWeights maps each model to 1/(MAE+ε), normalized to sum to 1.
func InverseErrorWeights(mae map[weather.Model]float64, epsilon float64) map[weather.Model]float64 {
	if epsilon <= 0 {
		epsilon = minEpsilon
	}
	raw := make(map[weather.Model]float64, len(mae))
	total := 0.0
	for _, m := range sortedModels(mae) {
		w := 1.0 / (mae[m] + epsilon)
		raw[m] = w
		total += w
	}
	for m := range raw {
		raw[m] /= total
	}
	return raw
}

// sortedModels returns the keys of m in a fixed order, so float sums over
// them do not depend on map iteration.
func sortedModels(m map[weather.Model]float64) []weather.Model {
	out := make([]weather.Model, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
