package weather

import (
	"math"
	"sort"
	"time"
)

// ensembleZ is the P10-P90 width of a standard normal (2 × 1.28).
const ensembleZ = 2.56

// minSigma is the spread below which the distribution collapses to one bucket.
const minSigma = 1e-9

// TempDistribution models the final settled high as Normal(Mean, StdDev).
type TempDistribution struct {
	Mean   float64
	StdDev float64
}

// ProbBetween calculates the probability that the settled high is between low and high.
func (d *TempDistribution) ProbBetween(low, high float64) float64 {
	return normalCDF(high, d.Mean, d.StdDev) - normalCDF(low, d.Mean, d.StdDev)
}

// normalCDF computes the cumulative distribution function of a normal distribution.
func normalCDF(x, mean, stdDev float64) float64 {
	if stdDev <= 0 {
		if x < mean {
			return 0
		}
		return 1
	}
	z := (x - mean) / (stdDev * math.Sqrt2)
	return 0.5 * (1 + math.Erf(z))
}

// SigmaFromEnsemble derives the base standard deviation from the ensemble
// P10-P90 range. A nil or inverted sample yields 0.
func SigmaFromEnsemble(e *EnsembleSample) float64 {
	if e == nil || e.Spread() <= 0 {
		return 0
	}
	return e.Spread() / ensembleZ
}

// Phase is where the query time sits relative to the predicted peak.
type Phase int

const (
	BeforePeak Phase = iota
	InPeak
	AfterPeak
)

func (p Phase) String() string {
	switch p {
	case BeforePeak:
		return "before-peak"
	case InPeak:
		return "in-peak"
	case AfterPeak:
		return "after-peak"
	}
	return "unknown"
}

// DecayMultiplier scales sigma as the outcome locks in.
func (p Phase) DecayMultiplier() float64 {
	switch p {
	case InPeak:
		return 0.7
	case AfterPeak:
		return 0.3
	default:
		return 1.0
	}
}

// PhaseAt classifies now against w. The window is half-open: [Start, End).
func PhaseAt(now time.Time, w PeakWindow) Phase {
	switch {
	case now.Before(w.Start):
		return BeforePeak
	case now.Before(w.End):
		return InPeak
	default:
		return AfterPeak
	}
}

// DefaultPeakWindow is 13:00-16:00 wall-clock time on date, also on DST
// transition days.
func DefaultPeakWindow(date Date, loc *time.Location) PeakWindow {
	day := date.Time(loc)
	y, m, d := day.Date()
	return PeakWindow{
		Start: time.Date(y, m, d, 13, 0, 0, 0, loc),
		End:   time.Date(y, m, d, 16, 0, 0, 0, loc),
	}
}

// Flags are conditions attached to a best-effort distribution.
type Flags uint8

const (
	// FlagDegenerateSpread: no usable ensemble spread, collapsed to one bucket.
	FlagDegenerateSpread Flags = 1 << iota
	// FlagFloorExhausted: the observed maximum is above every candidate bucket.
	FlagFloorExhausted
)

// Has reports whether all bits of f are set.
func (fl Flags) Has(f Flags) bool {
	return fl&f == f
}

func (fl Flags) Strings() []string {
	var out []string
	if fl.Has(FlagDegenerateSpread) {
		out = append(out, "degenerate-spread")
	}
	if fl.Has(FlagFloorExhausted) {
		out = append(out, "floor-exhausted")
	}
	return out
}

// Bucket is one integer settlement outcome.
type Bucket struct {
	Value int     `json:"value"`
	Prob  float64 `json:"prob"`
}

// Lower is the inclusive rounding edge.
func (b Bucket) Lower() float64 { return float64(b.Value) - 0.5 }

// Upper is the exclusive rounding edge.
func (b Bucket) Upper() float64 { return float64(b.Value) + 0.5 }

// Distribution is a settlement probability distribution for one query time.
type Distribution struct {
	Mu        float64  `json:"mu"`
	Sigma     float64  `json:"sigma"`
	SigmaBase float64  `json:"sigma_base"`
	Phase     Phase    `json:"-"`
	MaxSoFar  *float64 `json:"max_so_far,omitempty"`
	Buckets   []Bucket `json:"buckets"`
	Flags     Flags    `json:"-"`
}

// LowConfidence is set when the spread was degenerate.
func (d *Distribution) LowConfidence() bool {
	return d.Flags.Has(FlagDegenerateSpread)
}

// FloorExhausted is set when the observation exceeded the enumerated range.
func (d *Distribution) FloorExhausted() bool {
	return d.Flags.Has(FlagFloorExhausted)
}

// Prob returns the probability of bucket n, 0 if not enumerated.
func (d *Distribution) Prob(n int) float64 {
	for _, b := range d.Buckets {
		if b.Value == n {
			return b.Prob
		}
	}
	return 0
}

// MostLikely returns the bucket with the highest probability.
func (d *Distribution) MostLikely() Bucket {
	var best Bucket
	for i, b := range d.Buckets {
		if i == 0 || b.Prob > best.Prob {
			best = b
		}
	}
	return best
}

// Total is the sum of all bucket probabilities.
func (d *Distribution) Total() float64 {
	total := 0.0
	for _, b := range d.Buckets {
		total += b.Prob
	}
	return total
}

// SettleInput is everything Settle needs. Buckets may be empty, in which case
// BucketRange picks the candidates.
type SettleInput struct {
	Mu       float64
	Ensemble *EnsembleSample
	Peak     PeakWindow
	Now      time.Time
	MaxSoFar *float64
	Buckets  []int
}

// Settle converts a corrected forecast into probabilities over integer
// settlement buckets. It never returns an empty distribution.
func Settle(in SettleInput) *Distribution {
	base := SigmaFromEnsemble(in.Ensemble)
	phase := PhaseAt(in.Now, in.Peak)
	sigma := base * phase.DecayMultiplier()

	d := &Distribution{
		Mu:        in.Mu,
		Sigma:     sigma,
		SigmaBase: base,
		Phase:     phase,
	}
	if in.MaxSoFar != nil {
		v := *in.MaxSoFar
		d.MaxSoFar = &v
	}
	if sigma <= minSigma {
		d.Flags |= FlagDegenerateSpread
	}

	candidates := normalizeBuckets(in.Buckets)
	if len(candidates) == 0 {
		candidates = BucketRange(in.Mu, sigma)
	}

	d.Buckets = make([]Bucket, len(candidates))
	var survivors []int
	for i, n := range candidates {
		d.Buckets[i] = Bucket{Value: n}
		if !belowFloor(n, in.MaxSoFar) {
			survivors = append(survivors, i)
		}
	}

	if len(survivors) == 0 {
		d.Flags |= FlagFloorExhausted
		target := SettleValue(*in.MaxSoFar)
		d.Buckets = append(d.Buckets, Bucket{Value: target, Prob: 1})
		return d
	}

	if d.LowConfidence() {
		d.Buckets[nearest(d.Buckets, survivors, in.Mu)].Prob = 1
		return d
	}

	normal := TempDistribution{Mean: in.Mu, StdDev: sigma}
	sum := 0.0
	for _, i := range survivors {
		b := &d.Buckets[i]
		b.Prob = normal.ProbBetween(b.Lower(), b.Upper())
		sum += b.Prob
	}
	if sum <= 0 {
		for _, i := range survivors {
			d.Buckets[i].Prob = 0
		}
		d.Buckets[nearest(d.Buckets, survivors, in.Mu)].Prob = 1
		return d
	}
	for _, i := range survivors {
		d.Buckets[i].Prob /= sum
	}
	return d
}

// BucketRange enumerates round(mu) ± max(3, ceil(4σ)).
func BucketRange(mu, sigma float64) []int {
	half := int(math.Ceil(4 * sigma))
	if half < 3 {
		half = 3
	}
	center := SettleValue(mu)
	out := make([]int, 0, 2*half+1)
	for n := center - half; n <= center+half; n++ {
		out = append(out, n)
	}
	return out
}

// belowFloor reports whether bucket n's upper edge is at or below the
// observed maximum.
func belowFloor(n int, maxSoFar *float64) bool {
	return maxSoFar != nil && float64(n)+0.5 <= *maxSoFar
}

func nearest(buckets []Bucket, idx []int, mu float64) int {
	best := idx[0]
	for _, i := range idx[1:] {
		if math.Abs(float64(buckets[i].Value)-mu) < math.Abs(float64(buckets[best].Value)-mu) {
			best = i
		}
	}
	return best
}

func normalizeBuckets(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := append([]int(nil), in...)
	sort.Ints(out)
	j := 0
	for i := 1; i < len(out); i++ {
		if out[i] != out[j] {
			j++
			out[j] = out[i]
		}
	}
	return out[:j+1]
}
