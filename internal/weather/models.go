package weather

import (
	"fmt"
	"sort"
	"time"
)

// Model identifies one independent forecast source.
type Model string

const (
	ModelECMWF     Model = "ecmwf"      // ECMWF IFS
	ModelGFS       Model = "gfs"        // NOAA GFS
	ModelICON      Model = "icon"       // DWD ICON
	ModelGEM       Model = "gem"        // Environment Canada GEM
	ModelJMA       Model = "jma"        // Japan Meteorological Agency
	ModelOpenMeteo Model = "open-meteo" // Open-Meteo best match, derived from the ensemble
	ModelMeteoblue Model = "meteoblue"
	ModelNWS       Model = "nws"
)

// AllModels is the fixed model set in display order.
var AllModels = []Model{
	ModelECMWF, ModelGFS, ModelICON, ModelGEM, ModelJMA,
	ModelOpenMeteo, ModelMeteoblue, ModelNWS,
}

// ParseModel validates a model identifier.
func ParseModel(s string) (Model, error) {
	for _, m := range AllModels {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown model %q", s)
}

// ModelForecasts holds one optional high-temperature forecast per model.
type ModelForecasts struct {
	ECMWF     *float64 `json:"ecmwf,omitempty"`
	GFS       *float64 `json:"gfs,omitempty"`
	ICON      *float64 `json:"icon,omitempty"`
	GEM       *float64 `json:"gem,omitempty"`
	JMA       *float64 `json:"jma,omitempty"`
	OpenMeteo *float64 `json:"open_meteo,omitempty"`
	Meteoblue *float64 `json:"meteoblue,omitempty"`
	NWS       *float64 `json:"nws,omitempty"`
}

func (f *ModelForecasts) slot(m Model) **float64 {
	switch m {
	case ModelECMWF:
		return &f.ECMWF
	case ModelGFS:
		return &f.GFS
	case ModelICON:
		return &f.ICON
	case ModelGEM:
		return &f.GEM
	case ModelJMA:
		return &f.JMA
	case ModelOpenMeteo:
		return &f.OpenMeteo
	case ModelMeteoblue:
		return &f.Meteoblue
	case ModelNWS:
		return &f.NWS
	}
	return nil
}

// Get returns the forecast for m and whether it is present.
func (f ModelForecasts) Get(m Model) (float64, bool) {
	p := f.slot(m)
	if p == nil || *p == nil {
		return 0, false
	}
	return **p, true
}

// Set stores a forecast for m. Unknown models are ignored.
func (f *ModelForecasts) Set(m Model, v float64) {
	if p := f.slot(m); p != nil {
		val := v
		*p = &val
	}
}

// Each calls fn for every present forecast in AllModels order.
func (f ModelForecasts) Each(fn func(m Model, v float64)) {
	for _, m := range AllModels {
		if v, ok := f.Get(m); ok {
			fn(m, v)
		}
	}
}

// Models returns the models that have a forecast.
func (f ModelForecasts) Models() []Model {
	var out []Model
	f.Each(func(m Model, _ float64) { out = append(out, m) })
	return out
}

// Len returns the number of present forecasts.
func (f ModelForecasts) Len() int {
	n := 0
	f.Each(func(Model, float64) { n++ })
	return n
}

// Clone returns a deep copy.
func (f ModelForecasts) Clone() ModelForecasts {
	var out ModelForecasts
	f.Each(func(m Model, v float64) { out.Set(m, v) })
	return out
}

// Observation is a single station reading.
type Observation struct {
	At   time.Time `json:"at"`
	Temp float64   `json:"temp"`
}

// EnsembleSample summarizes a multi-member probabilistic forecast.
type EnsembleSample struct {
	Median float64 `json:"median"`
	P10    float64 `json:"p10"`
	P90    float64 `json:"p90"`
}

// Valid reports whether the percentiles are ordered.
func (e EnsembleSample) Valid() bool {
	return e.P10 <= e.Median && e.Median <= e.P90
}

// Spread returns the P10-P90 range.
func (e EnsembleSample) Spread() float64 {
	return e.P90 - e.P10
}

// PeakWindow is the predicted hottest period of the day.
type PeakWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Key identifies a DailyRecord.
type Key struct {
	City string
	Date Date
}

func (k Key) String() string {
	return k.City + "/" + string(k.Date)
}

// MaxTrace bounds the number of observations kept per record.
const MaxTrace = 96

// DailyRecord is everything known about one city on one local date.
type DailyRecord struct {
	City      string          `json:"city"`
	Date      Date            `json:"date"`
	Forecasts ModelForecasts  `json:"forecasts"`
	MaxSoFar  *float64        `json:"max_so_far,omitempty"`
	Trace     []Observation   `json:"trace,omitempty"`
	Ensemble  *EnsembleSample `json:"ensemble,omitempty"`
	Peak      *PeakWindow     `json:"peak,omitempty"`
	Final     bool            `json:"final"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewDailyRecord returns an empty record for key.
func NewDailyRecord(k Key) *DailyRecord {
	return &DailyRecord{City: k.City, Date: k.Date}
}

// Key returns the record's key.
func (r *DailyRecord) Key() Key {
	return Key{City: r.City, Date: r.Date}
}

// Actual returns the observed maximum if present.
func (r *DailyRecord) Actual() (float64, bool) {
	if r.MaxSoFar == nil {
		return 0, false
	}
	return *r.MaxSoFar, true
}

// Clone returns a deep copy so published records are never mutated.
func (r *DailyRecord) Clone() *DailyRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Forecasts = r.Forecasts.Clone()
	if r.MaxSoFar != nil {
		v := *r.MaxSoFar
		out.MaxSoFar = &v
	}
	if r.Trace != nil {
		out.Trace = append([]Observation(nil), r.Trace...)
	}
	if r.Ensemble != nil {
		e := *r.Ensemble
		out.Ensemble = &e
	}
	if r.Peak != nil {
		p := *r.Peak
		out.Peak = &p
	}
	return &out
}

// AddObservation appends a reading, keeping the trace time-ordered and bounded.
func (r *DailyRecord) AddObservation(o Observation) {
	r.Trace = append(r.Trace, o)
	sort.SliceStable(r.Trace, func(i, j int) bool { return r.Trace[i].At.Before(r.Trace[j].At) })
	if len(r.Trace) > MaxTrace {
		r.Trace = r.Trace[len(r.Trace)-MaxTrace:]
	}
}

// Merge folds other into r. Forecasts present in other win, the running
// maximum keeps the larger value and Final is sticky.
func (r *DailyRecord) Merge(other *DailyRecord) {
	if other == nil {
		return
	}
	other.Forecasts.Each(func(m Model, v float64) { r.Forecasts.Set(m, v) })
	if v, ok := other.Actual(); ok {
		if cur, ok := r.Actual(); !ok || v > cur {
			r.MaxSoFar = &v
		}
	}
	for _, o := range other.Trace {
		if !r.hasObservation(o) {
			r.AddObservation(o)
		}
	}
	if other.Ensemble != nil {
		e := *other.Ensemble
		r.Ensemble = &e
	}
	if other.Peak != nil {
		p := *other.Peak
		r.Peak = &p
	}
	r.Final = r.Final || other.Final
	if other.UpdatedAt.After(r.UpdatedAt) {
		r.UpdatedAt = other.UpdatedAt
	}
}

func (r *DailyRecord) hasObservation(o Observation) bool {
	for _, x := range r.Trace {
		if x.At.Equal(o.At) && x.Temp == o.Temp {
			return true
		}
	}
	return false
}

// RecentTemps returns up to n of the latest readings, newest first.
func (r *DailyRecord) RecentTemps(n int) []float64 {
	out := make([]float64, 0, n)
	for i := len(r.Trace) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.Trace[i].Temp)
	}
	return out
}
