package deb

import (
	"fmt"

	"github.com/dantezy/polyweather/internal/weather"
)

const DefaultModelShare = 0.7

// Blender combines today's model forecasts into one corrected high.
type Blender struct {
	// ModelShare is the weight of the DEB model blend when an ensemble
	// median is available; the median gets the remainder.
	ModelShare float64
	// EnsembleDerived lists sources built from the same ensemble as the
	// median term. They are left out of the model blend whenever the
	// median is used.
	EnsembleDerived []weather.Model
}

// NewBlender returns a 70/30 blender that treats Open-Meteo as ensemble-derived.
func NewBlender() *Blender {
	return &Blender{
		ModelShare:      DefaultModelShare,
		EnsembleDerived: []weather.Model{weather.ModelOpenMeteo},
	}
}

// Blend is a corrected high-temperature estimate.
type Blend struct {
	Mu           float64                   `json:"mu"`
	ModelMu      float64                   `json:"model_mu"`
	Weights      map[weather.Model]float64 `json:"weights"`
	EnsembleUsed bool                      `json:"ensemble_used"`
	Corrected    bool                      `json:"corrected"`
}

// Blend applies ws to today's forecasts. Weights are renormalized over the
// models that have both a weight and a forecast today.
func (b *Blender) Blend(today weather.ModelForecasts, ws WeightSet, ens *weather.EnsembleSample) (Blend, error) {
	useEnsemble := ens != nil && ens.Valid()

	// Summed in AllModels order so repeated blends agree to the bit.
	var used []weather.Model
	total := 0.0
	today.Each(func(m weather.Model, _ float64) {
		if useEnsemble && b.isEnsembleDerived(m) {
			return
		}
		if w, ok := ws.Weights[m]; ok && w > 0 {
			used = append(used, m)
			total += w
		}
	})
	if total <= 0 {
		if useEnsemble {
			return Blend{Mu: ens.Median, ModelMu: ens.Median, Weights: map[weather.Model]float64{}, EnsembleUsed: true}, nil
		}
		return Blend{}, fmt.Errorf("no weighted forecast for today: %w", ErrNoData)
	}

	out := Blend{Weights: make(map[weather.Model]float64, len(used))}
	for _, m := range used {
		v, _ := today.Get(m)
		norm := ws.Weights[m] / total
		out.Weights[m] = norm
		out.ModelMu += norm * v
	}

	out.Mu = out.ModelMu
	if useEnsemble {
		out.EnsembleUsed = true
		out.Mu = b.ModelShare*out.ModelMu + (1-b.ModelShare)*ens.Median
	}
	return out, nil
}

// Correct raises mu to the observed maximum when the observation already
// exceeds it and temperatures are still climbing.
func (bl *Blend) Correct(maxSoFar *float64, trend weather.Trend) {
	if maxSoFar == nil || *maxSoFar <= bl.Mu || trend != weather.TrendRising {
		return
	}
	bl.Mu = *maxSoFar
	bl.Corrected = true
}

func (b *Blender) isEnsembleDerived(m weather.Model) bool {
	for _, d := range b.EnsembleDerived {
		if d == m {
			return true
		}
	}
	return false
}
