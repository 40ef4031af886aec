package deb

import (
	"errors"
	"math"
	"testing"

	"github.com/dantezy/polyweather/internal/weather"
)

const tol = 1e-6

// day builds a finalized record with the given actual and forecasts.
func day(date weather.Date, actual float64, forecasts map[weather.Model]float64) *weather.DailyRecord {
	r := weather.NewDailyRecord(weather.Key{City: "ankara", Date: date})
	for m, v := range forecasts {
		r.Forecasts.Set(m, v)
	}
	r.MaxSoFar = &actual
	r.Final = true
	return r
}

func forecasts(vals map[weather.Model]float64) weather.ModelForecasts {
	var f weather.ModelForecasts
	for m, v := range vals {
		f.Set(m, v)
	}
	return f
}

func TestTrackErrors(t *testing.T) {
	history := []*weather.DailyRecord{
		day("2026-06-28", 20, map[weather.Model]float64{weather.ModelECMWF: 21, weather.ModelGFS: 18}),
		day("2026-06-29", 22, map[weather.Model]float64{weather.ModelECMWF: 22, weather.ModelGFS: 25}),
		day("2026-06-30", 25, map[weather.Model]float64{weather.ModelECMWF: 24}),
		// Today and later records never count.
		day("2026-07-01", 30, map[weather.Model]float64{weather.ModelECMWF: 0}),
	}
	unfinished := day("2026-06-27", 10, map[weather.Model]float64{weather.ModelGFS: 40})
	unfinished.Final = false
	history = append(history, unfinished)

	stats := TrackErrors(history, "2026-07-01", 7)
	if stats.DaysUsed != 3 {
		t.Fatalf("DaysUsed = %d, want 3", stats.DaysUsed)
	}
	if got := stats.MAE[weather.ModelECMWF]; math.Abs(got-2.0/3.0) > tol {
		t.Errorf("ECMWF MAE = %v, want 0.667", got)
	}
	if got := stats.MAE[weather.ModelGFS]; math.Abs(got-2.5) > tol {
		t.Errorf("GFS MAE = %v, want 2.5", got)
	}
	if _, ok := stats.MAE[weather.ModelICON]; ok {
		t.Error("models absent from the window must be excluded")
	}

	window := TrackErrors(history, "2026-07-01", 1)
	if window.DaysUsed != 1 || window.Samples[weather.ModelGFS] != 0 {
		t.Errorf("window 1: days=%d gfs samples=%d, want 1 and 0", window.DaysUsed, window.Samples[weather.ModelGFS])
	}
}

func TestCalculator_AnkaraScenario(t *testing.T) {
	// A misses by 0.5 every day, B by 2.0.
	var history []*weather.DailyRecord
	for i, date := range []weather.Date{"2026-06-25", "2026-06-26", "2026-06-27"} {
		actual := 10.0 + float64(i)
		history = append(history, day(date, actual, map[weather.Model]float64{
			weather.ModelECMWF: actual + 0.5,
			weather.ModelGFS:   actual - 2.0,
		}))
	}

	calc := &Calculator{Window: 7, Epsilon: 1e-12, MinHistoryDays: 2}
	ws, err := calc.Weights(history, "2026-06-28", []weather.Model{weather.ModelECMWF, weather.ModelGFS})
	if err != nil {
		t.Fatal(err)
	}
	if ws.ColdStart {
		t.Fatal("unexpected cold start with 3 days of history")
	}
	if math.Abs(ws.Weights[weather.ModelECMWF]-0.8) > tol || math.Abs(ws.Weights[weather.ModelGFS]-0.2) > tol {
		t.Fatalf("weights = %v, want ecmwf 0.8 gfs 0.2", ws.Weights)
	}

	today := forecasts(map[weather.Model]float64{weather.ModelECMWF: 10.0, weather.ModelGFS: 13.0})
	blend, err := NewBlender().Blend(today, ws, nil)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(blend.Mu-10.6) > tol {
		t.Errorf("mu = %v, want 10.6", blend.Mu)
	}
}

func TestCalculator_ColdStart(t *testing.T) {
	history := []*weather.DailyRecord{
		// A single wildly wrong day must not move the weights.
		day("2026-06-30", 10, map[weather.Model]float64{weather.ModelECMWF: 10, weather.ModelGFS: 20}),
	}
	ws, err := NewCalculator().Weights(history, "2026-07-01", []weather.Model{weather.ModelECMWF, weather.ModelGFS})
	if err != nil {
		t.Fatal(err)
	}
	if !ws.ColdStart {
		t.Fatal("expected cold start")
	}
	for _, m := range []weather.Model{weather.ModelECMWF, weather.ModelGFS} {
		if ws.Weights[m] != 0.5 {
			t.Errorf("%s weight = %v, want 0.5", m, ws.Weights[m])
		}
	}

	if _, err := NewCalculator().Weights(nil, "2026-07-01", nil); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData for empty cold start, got %v", err)
	}
}

func TestCalculator_NewModelExcluded(t *testing.T) {
	history := []*weather.DailyRecord{
		day("2026-06-29", 10, map[weather.Model]float64{weather.ModelECMWF: 11}),
		day("2026-06-30", 12, map[weather.Model]float64{weather.ModelECMWF: 12.5}),
	}
	present := []weather.Model{weather.ModelECMWF, weather.ModelJMA}
	ws, err := NewCalculator().Weights(history, "2026-07-01", present)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ws.Weights[weather.ModelJMA]; ok {
		t.Error("model without history must get no weight")
	}
	if math.Abs(ws.Weights[weather.ModelECMWF]-1) > tol {
		t.Errorf("ECMWF weight = %v, want 1", ws.Weights[weather.ModelECMWF])
	}
}

func TestInverseErrorWeights_Properties(t *testing.T) {
	others := map[weather.Model]float64{weather.ModelGFS: 1.2, weather.ModelICON: 0.7, weather.ModelGEM: 3.1}
	prev := math.Inf(1)
	for mae := 0.0; mae <= 6; mae += 0.25 {
		errs := map[weather.Model]float64{weather.ModelECMWF: mae}
		for m, e := range others {
			errs[m] = e
		}
		w := InverseErrorWeights(errs, DefaultEpsilon)

		sum := 0.0
		for m, v := range w {
			if v < 0 {
				t.Fatalf("negative weight %v for %s", v, m)
			}
			sum += v
		}
		if math.Abs(sum-1) > tol {
			t.Fatalf("weights sum to %v at mae %v", sum, mae)
		}
		if w[weather.ModelECMWF] > prev {
			t.Fatalf("weight increased from %v to %v as MAE rose to %v", prev, w[weather.ModelECMWF], mae)
		}
		prev = w[weather.ModelECMWF]
	}

	perfect := InverseErrorWeights(map[weather.Model]float64{weather.ModelECMWF: 0, weather.ModelGFS: 1}, 0)
	if math.IsNaN(perfect[weather.ModelECMWF]) || perfect[weather.ModelECMWF] <= 0.99 {
		t.Errorf("perfect model weight = %v, want close to 1", perfect[weather.ModelECMWF])
	}
}

func TestBlender_Blend(t *testing.T) {
	ws := WeightSet{Weights: map[weather.Model]float64{
		weather.ModelECMWF:     0.5,
		weather.ModelGFS:       0.3,
		weather.ModelOpenMeteo: 0.2,
	}}
	ens := &weather.EnsembleSample{Median: 12, P10: 10, P90: 14}

	t.Run("missing model renormalized", func(t *testing.T) {
		today := forecasts(map[weather.Model]float64{weather.ModelECMWF: 10, weather.ModelOpenMeteo: 15})
		b, err := NewBlender().Blend(today, ws, nil)
		if err != nil {
			t.Fatal(err)
		}
		// ECMWF 0.5/0.7, Open-Meteo 0.2/0.7.
		want := (0.5*10 + 0.2*15) / 0.7
		if math.Abs(b.Mu-want) > tol {
			t.Errorf("mu = %v, want %v", b.Mu, want)
		}
		if math.Abs(b.Weights[weather.ModelECMWF]+b.Weights[weather.ModelOpenMeteo]-1) > tol {
			t.Errorf("used weights = %v, want sum 1", b.Weights)
		}
	})

	t.Run("ensemble median excludes derived source", func(t *testing.T) {
		today := forecasts(map[weather.Model]float64{weather.ModelECMWF: 10, weather.ModelGFS: 11, weather.ModelOpenMeteo: 30})
		b, err := NewBlender().Blend(today, ws, ens)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := b.Weights[weather.ModelOpenMeteo]; ok {
			t.Error("open-meteo must be excluded when the ensemble median is used")
		}
		modelMu := (0.5*10 + 0.3*11) / 0.8
		if math.Abs(b.ModelMu-modelMu) > tol {
			t.Errorf("model mu = %v, want %v", b.ModelMu, modelMu)
		}
		if want := 0.7*modelMu + 0.3*12; math.Abs(b.Mu-want) > tol {
			t.Errorf("mu = %v, want %v", b.Mu, want)
		}
	})

	t.Run("only ensemble", func(t *testing.T) {
		today := forecasts(map[weather.Model]float64{weather.ModelOpenMeteo: 30})
		b, err := NewBlender().Blend(today, ws, ens)
		if err != nil {
			t.Fatal(err)
		}
		if b.Mu != 12 {
			t.Errorf("mu = %v, want ensemble median 12", b.Mu)
		}
	})

	t.Run("no data", func(t *testing.T) {
		_, err := NewBlender().Blend(weather.ModelForecasts{}, ws, nil)
		if !errors.Is(err, ErrNoData) {
			t.Errorf("expected ErrNoData, got %v", err)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		today := forecasts(map[weather.Model]float64{weather.ModelECMWF: 10, weather.ModelGFS: 11})
		a, _ := NewBlender().Blend(today, ws, ens)
		b, _ := NewBlender().Blend(today, ws, ens)
		if a.Mu != b.Mu || a.ModelMu != b.ModelMu {
			t.Errorf("blend not idempotent: %v vs %v", a, b)
		}
	})
}

func TestBlend_BitIdenticalAcrossCalls(t *testing.T) {
	mae := map[weather.Model]float64{
		weather.ModelECMWF:     0.31,
		weather.ModelGFS:       1.27,
		weather.ModelICON:      0.73,
		weather.ModelGEM:       2.09,
		weather.ModelJMA:       1.61,
		weather.ModelMeteoblue: 0.97,
		weather.ModelNWS:       1.13,
	}
	today := forecasts(map[weather.Model]float64{
		weather.ModelECMWF:     10.3,
		weather.ModelGFS:       11.7,
		weather.ModelICON:      9.9,
		weather.ModelGEM:       12.1,
		weather.ModelJMA:       10.9,
		weather.ModelMeteoblue: 11.3,
		weather.ModelNWS:       10.1,
	})

	first := InverseErrorWeights(mae, 0.1)
	firstBlend, err := NewBlender().Blend(today, WeightSet{Weights: first}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 500; i++ {
		w := InverseErrorWeights(mae, 0.1)
		for m, v := range first {
			if w[m] != v {
				t.Fatalf("call %d: weight[%s] = %v, want %v", i, m, w[m], v)
			}
		}
		b, err := NewBlender().Blend(today, WeightSet{Weights: w}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if b.Mu != firstBlend.Mu || b.ModelMu != firstBlend.ModelMu {
			t.Fatalf("call %d: mu = %v, want %v", i, b.Mu, firstBlend.Mu)
		}
		for m, v := range firstBlend.Weights {
			if b.Weights[m] != v {
				t.Fatalf("call %d: blend weight[%s] = %v, want %v", i, m, b.Weights[m], v)
			}
		}
	}
}

func TestCalculator_ZeroMinHistoryStillColdStarts(t *testing.T) {
	c := &Calculator{Window: 7, Epsilon: 0.1, MinHistoryDays: 0}
	present := []weather.Model{weather.ModelECMWF, weather.ModelGFS}
	ws, err := c.Weights(nil, "2026-07-01", present)
	if err != nil {
		t.Fatalf("Weights with no history: %v", err)
	}
	if !ws.ColdStart {
		t.Error("expected cold start")
	}
	for _, m := range present {
		if math.Abs(ws.Weights[m]-0.5) > tol {
			t.Errorf("weight[%s] = %v, want 0.5", m, ws.Weights[m])
		}
	}
}

func TestBlend_Correct(t *testing.T) {
	above := 12.0
	below := 9.0
	tests := []struct {
		name      string
		max       *float64
		trend     weather.Trend
		wantMu    float64
		corrected bool
	}{
		{"rising above", &above, weather.TrendRising, 12, true},
		{"stalled above", &above, weather.TrendStalled, 10.6, false},
		{"rising below", &below, weather.TrendRising, 10.6, false},
		{"no observation", nil, weather.TrendRising, 10.6, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Blend{Mu: 10.6}
			b.Correct(tt.max, tt.trend)
			if b.Mu != tt.wantMu || b.Corrected != tt.corrected {
				t.Errorf("got mu=%v corrected=%v, want %v %v", b.Mu, b.Corrected, tt.wantMu, tt.corrected)
			}
		})
	}
}

func TestWeightSet_Summary(t *testing.T) {
	ws := WeightSet{
		Weights: map[weather.Model]float64{weather.ModelECMWF: 0.6, weather.ModelGFS: 0.3, weather.ModelICON: 0.1},
		MAE:     map[weather.Model]float64{weather.ModelECMWF: 0.8, weather.ModelGFS: 1.6, weather.ModelICON: 4.9},
	}
	want := "ecmwf(60%,MAE:0.8°) | gfs(30%,MAE:1.6°)"
	if got := ws.Summary(2); got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}
