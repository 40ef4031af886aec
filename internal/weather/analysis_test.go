package weather

import (
	"math"
	"testing"
)

func TestSettleValue(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{9.4, 9},
		{9.5, 10},
		{-0.5, 0},
		{-0.6, -1},
		{71.49, 71},
	}
	for _, tt := range tests {
		if got := SettleValue(tt.in); got != tt.want {
			t.Errorf("SettleValue(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNearBoundary(t *testing.T) {
	tests := []struct {
		in       float64
		distance float64
		near     bool
	}{
		{9.4, 0.1, true},
		{9.6, 0.1, true},
		{9.0, 0.5, false},
		{9.9, 0.4, false},
	}
	for _, tt := range tests {
		d, near := NearBoundary(tt.in)
		if math.Abs(d-tt.distance) > 1e-9 || near != tt.near {
			t.Errorf("NearBoundary(%v) = (%v, %v), want (%v, %v)", tt.in, d, near, tt.distance, tt.near)
		}
	}
}

func TestTrendOf(t *testing.T) {
	tests := []struct {
		name   string
		recent []float64
		want   Trend
	}{
		{"empty", nil, TrendUnknown},
		{"single", []float64{5}, TrendUnknown},
		{"two rising", []float64{6, 5}, TrendRising},
		{"two flat", []float64{5, 5}, TrendStalled},
		{"two falling", []float64{4, 5}, TrendFalling},
		{"three rising", []float64{7, 6, 5}, TrendRising},
		{"rising then flat", []float64{6, 6, 5}, TrendMixed},
		{"three flat", []float64{5, 5, 5, 9}, TrendStalled},
		{"three falling", []float64{3, 4, 5}, TrendFalling},
		{"zigzag", []float64{6, 4, 5}, TrendMixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrendOf(tt.recent); got != tt.want {
				t.Errorf("TrendOf(%v) = %s, want %s", tt.recent, got, tt.want)
			}
		})
	}
}

func TestConsensusOf(t *testing.T) {
	build := func(vals map[Model]float64) ModelForecasts {
		var f ModelForecasts
		for m, v := range vals {
			f.Set(m, v)
		}
		return f
	}
	celsius := DefaultConsensusThresholds(Celsius)

	tests := []struct {
		name  string
		f     ModelForecasts
		th    ConsensusThresholds
		level ConsensusLevel
	}{
		{"none", ModelForecasts{}, celsius, ConsensusUnknown},
		{"single", build(map[Model]float64{ModelGFS: 10}), celsius, ConsensusSingle},
		{"tight", build(map[Model]float64{ModelGFS: 10, ModelECMWF: 10.3, ModelICON: 10.6}), celsius, ConsensusHigh},
		{"medium", build(map[Model]float64{ModelGFS: 10, ModelECMWF: 11.2}), celsius, ConsensusMedium},
		{"low", build(map[Model]float64{ModelGFS: 10, ModelECMWF: 12}), celsius, ConsensusLow},
		{"fahrenheit medium", build(map[Model]float64{ModelGFS: 70, ModelNWS: 72}), DefaultConsensusThresholds(Fahrenheit), ConsensusMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ConsensusOf(tt.f, tt.th)
			if c.Level != tt.level {
				t.Errorf("level = %s, want %s (spread %.2f)", c.Level, tt.level, c.Spread)
			}
		})
	}

	c := ConsensusOf(build(map[Model]float64{ModelGFS: 10.4, ModelECMWF: 12.6, ModelICON: 10.2}), celsius)
	if c.Highest != ModelECMWF || c.Lowest != ModelICON {
		t.Errorf("highest/lowest = %s/%s, want ecmwf/icon", c.Highest, c.Lowest)
	}
	if len(c.Settlements) != 2 || c.Settlements[0] != 10 || c.Settlements[1] != 13 {
		t.Errorf("settlements = %v, want [10 13]", c.Settlements)
	}
}
