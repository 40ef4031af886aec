package weather

import (
	"math"
	"sort"
)

// SettleValue rounds half up, matching the settlement source.
func SettleValue(v float64) int {
	return int(math.Floor(v + 0.5))
}

// NearBoundary reports how far v is from the next rounding flip and whether
// that is within 0.3 degrees.
func NearBoundary(v float64) (distance float64, near bool) {
	distance = math.Abs(v - math.Floor(v) - 0.5)
	return distance, distance <= 0.3
}

// Trend describes the direction of the latest observations.
type Trend string

const (
	TrendUnknown Trend = "unknown"
	TrendRising  Trend = "rising"
	TrendStalled Trend = "stalled"
	TrendFalling Trend = "falling"
	TrendMixed   Trend = "mixed"
)

// TrendOf classifies readings ordered newest first. Three readings are used
// when available, otherwise the last two.
func TrendOf(recent []float64) Trend {
	if len(recent) < 2 {
		return TrendUnknown
	}
	latest, prev := recent[0], recent[1]
	diff := latest - prev
	if len(recent) == 2 {
		switch {
		case diff > 0:
			return TrendRising
		case diff < 0:
			return TrendFalling
		default:
			return TrendStalled
		}
	}

	window := recent[:3]
	same, rising, falling := true, true, true
	for i := 0; i < len(window)-1; i++ {
		if window[i] != window[i+1] {
			same = false
		}
		if window[i] < window[i+1] {
			rising = false
		}
		if window[i] > window[i+1] {
			falling = false
		}
	}
	switch {
	case same:
		return TrendStalled
	case rising && diff > 0:
		return TrendRising
	case falling && diff < 0:
		return TrendFalling
	default:
		return TrendMixed
	}
}

// Unit is the settlement temperature unit of a city.
type Unit string

const (
	Celsius    Unit = "C"
	Fahrenheit Unit = "F"
)

// ConsensusLevel grades how closely the models agree.
type ConsensusLevel string

const (
	ConsensusUnknown ConsensusLevel = "unknown"
	ConsensusSingle  ConsensusLevel = "single"
	ConsensusHigh    ConsensusLevel = "high"
	ConsensusMedium  ConsensusLevel = "medium"
	ConsensusLow     ConsensusLevel = "low"
)

// ConsensusThresholds are the max-min spreads for high and medium agreement.
type ConsensusThresholds struct {
	Tight float64
	Mid   float64
}

// DefaultConsensusThresholds returns 0.8/1.5 for Celsius and 1.5/3.0 for Fahrenheit.
func DefaultConsensusThresholds(u Unit) ConsensusThresholds {
	if u == Fahrenheit {
		return ConsensusThresholds{Tight: 1.5, Mid: 3.0}
	}
	return ConsensusThresholds{Tight: 0.8, Mid: 1.5}
}

// Consensus summarizes model agreement for a day.
type Consensus struct {
	Level       ConsensusLevel `json:"level"`
	Spread      float64        `json:"spread"`
	Highest     Model          `json:"highest,omitempty"`
	Lowest      Model          `json:"lowest,omitempty"`
	Settlements []int          `json:"settlements,omitempty"`
}

// ConsensusOf grades today's forecasts against th.
func ConsensusOf(f ModelForecasts, th ConsensusThresholds) Consensus {
	c := Consensus{Level: ConsensusUnknown}
	n := 0
	var lo, hi float64
	seen := map[int]bool{}
	f.Each(func(m Model, v float64) {
		if n == 0 || v > hi {
			hi, c.Highest = v, m
		}
		if n == 0 || v < lo {
			lo, c.Lowest = v, m
		}
		n++
		if s := SettleValue(v); !seen[s] {
			seen[s] = true
			c.Settlements = append(c.Settlements, s)
		}
	})
	sort.Ints(c.Settlements)

	switch {
	case n == 0:
		return c
	case n == 1:
		c.Level = ConsensusSingle
		return c
	}
	c.Spread = hi - lo
	switch {
	case c.Spread <= th.Tight:
		c.Level = ConsensusHigh
	case c.Spread <= th.Mid:
		c.Level = ConsensusMedium
	default:
		c.Level = ConsensusLow
	}
	return c
}
