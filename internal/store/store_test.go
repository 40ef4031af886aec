package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/dantezy/polyweather/internal/weather"
)

var ankaraKey = weather.Key{City: "ankara", Date: "2026-07-01"}

func openTestStore(t *testing.T, path string, timeout time.Duration) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Path: path, LockTimeout: timeout, RetryDelay: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "data.db"), 0)

	if _, err := s.PutForecast(ctx, ankaraKey, weather.ModelECMWF, 31.2); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutForecast(ctx, ankaraKey, weather.ModelGFS, 30.4); err != nil {
		t.Fatal(err)
	}
	ens := weather.EnsembleSample{Median: 30.8, P10: 29.5, P90: 32.1}
	if _, err := s.PutEnsemble(ctx, ankaraKey, ens); err != nil {
		t.Fatal(err)
	}

	rec, ok := s.Get(ankaraKey.City, ankaraKey.Date)
	if !ok {
		t.Fatal("record not found")
	}
	if rec.Forecasts.Len() != 2 {
		t.Errorf("forecasts = %d, want 2", rec.Forecasts.Len())
	}
	if rec.Ensemble == nil || *rec.Ensemble != ens {
		t.Errorf("ensemble = %+v, want %+v", rec.Ensemble, ens)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}

	// Mutating the returned copy must not leak into the cache.
	rec.Forecasts.Set(weather.ModelECMWF, -5)
	again, _ := s.Get(ankaraKey.City, ankaraKey.Date)
	if v, _ := again.Forecasts.Get(weather.ModelECMWF); v != 31.2 {
		t.Errorf("cache mutated through returned record: %v", v)
	}
}

func TestStore_ReopenRepopulatesCache(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.db")

	s, err := Open(ctx, Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutObservation(ctx, ankaraKey, ObservationUpdate{MaxSoFar: 29, At: time.Now()}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened := openTestStore(t, path, 0)
	rec, ok := reopened.Get(ankaraKey.City, ankaraKey.Date)
	if !ok {
		t.Fatal("record lost across reopen")
	}
	if v, _ := rec.Actual(); v != 29 {
		t.Errorf("max = %v, want 29", v)
	}
}

func TestStore_MaxRegressionRejected(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "data.db"), 0)

	if _, err := s.PutObservation(ctx, ankaraKey, ObservationUpdate{MaxSoFar: 25}); err != nil {
		t.Fatal(err)
	}
	_, err := s.PutObservation(ctx, ankaraKey, ObservationUpdate{MaxSoFar: 24.5})
	if !errors.Is(err, ErrMaxRegression) {
		t.Fatalf("expected ErrMaxRegression, got %v", err)
	}
	rec, _ := s.Get(ankaraKey.City, ankaraKey.Date)
	if v, _ := rec.Actual(); v != 25 {
		t.Errorf("max = %v, want 25 after rejected write", v)
	}
	if len(rec.Trace) != 1 {
		t.Errorf("trace = %d, want 1 after rejected write", len(rec.Trace))
	}

	// Equal maxima and a lower current reading are fine.
	current := 23.0
	rec, err = s.PutObservation(ctx, ankaraKey, ObservationUpdate{MaxSoFar: 25, Current: &current})
	if err != nil {
		t.Fatal(err)
	}
	if temps := rec.RecentTemps(1); temps[0] != 23 {
		t.Errorf("latest reading = %v, want 23", temps[0])
	}
}

func TestStore_ValidationErrors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "data.db"), 0)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"empty city", func() error {
			_, err := s.PutForecast(ctx, weather.Key{Date: "2026-07-01"}, weather.ModelGFS, 20)
			return err
		}},
		{"bad date", func() error {
			_, err := s.PutForecast(ctx, weather.Key{City: "x", Date: "07/01/2026"}, weather.ModelGFS, 20)
			return err
		}},
		{"unknown model", func() error {
			_, err := s.PutForecast(ctx, ankaraKey, weather.Model("ukmo"), 20)
			return err
		}},
		{"absurd temperature", func() error {
			_, err := s.PutObservation(ctx, ankaraKey, ObservationUpdate{MaxSoFar: 400})
			return err
		}},
		{"inverted ensemble", func() error {
			_, err := s.PutEnsemble(ctx, ankaraKey, weather.EnsembleSample{Median: 10, P10: 12, P90: 11})
			return err
		}},
		{"empty peak", func() error {
			_, err := s.PutPeak(ctx, ankaraKey, weather.PeakWindow{})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
	if _, ok := s.Get(ankaraKey.City, ankaraKey.Date); ok {
		t.Error("invalid writes must not create records")
	}
}

func TestStore_ConcurrentObservations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "data.db"), 10*time.Second)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []float64
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			_, err := s.PutObservation(ctx, ankaraKey, ObservationUpdate{MaxSoFar: v})
			switch {
			case err == nil:
				mu.Lock()
				accepted = append(accepted, v)
				mu.Unlock()
			case errors.Is(err, ErrMaxRegression):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(float64(i % 17))
	}
	// Concurrent readers never block and never see a torn record.
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rec, ok := s.Get(ankaraKey.City, ankaraKey.Date); ok && rec.MaxSoFar == nil {
				t.Error("published record without maximum")
			}
		}()
	}
	wg.Wait()

	highest := 0.0
	for _, v := range accepted {
		if v > highest {
			highest = v
		}
	}
	rec, _ := s.Get(ankaraKey.City, ankaraKey.Date)
	if v, _ := rec.Actual(); v != highest || v != 16 {
		t.Errorf("max = %v, want %v (16)", v, highest)
	}
}

func TestStore_LockContention(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.db")
	s := openTestStore(t, path, 50*time.Millisecond)

	if _, err := s.PutForecast(ctx, ankaraKey, weather.ModelGFS, 20); err != nil {
		t.Fatal(err)
	}

	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("failed to take external lock: %v", err)
	}

	_, err = s.PutForecast(ctx, ankaraKey, weather.ModelGFS, 25)
	if !errors.Is(err, ErrLockContention) {
		t.Fatalf("expected ErrLockContention, got %v", err)
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) || lockErr.Key != ankaraKey {
		t.Errorf("expected *LockError for %s, got %v", ankaraKey, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the timeout cause to be wrapped, got %v", err)
	}
	rec, _ := s.Get(ankaraKey.City, ankaraKey.Date)
	if v, _ := rec.Forecasts.Get(weather.ModelGFS); v != 20 {
		t.Errorf("forecast = %v, want 20 after failed write", v)
	}

	if err := other.Unlock(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutForecast(ctx, ankaraKey, weather.ModelGFS, 25); err != nil {
		t.Fatalf("write after unlock: %v", err)
	}
}

func TestStore_SharedMirrorMergesWriters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.db")
	a := openTestStore(t, path, time.Second)
	b := openTestStore(t, path, time.Second)

	if _, err := a.PutForecast(ctx, ankaraKey, weather.ModelECMWF, 30); err != nil {
		t.Fatal(err)
	}
	rec, err := b.PutForecast(ctx, ankaraKey, weather.ModelGFS, 29)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Forecasts.Len() != 2 {
		t.Fatalf("second writer lost the first writer's forecast: %+v", rec.Forecasts)
	}

	// b saw a's write in the durable mirror, so a regression is rejected
	// even though a's write never passed through b's cache first.
	if _, err := a.PutObservation(ctx, ankaraKey, ObservationUpdate{MaxSoFar: 27}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.PutObservation(ctx, ankaraKey, ObservationUpdate{MaxSoFar: 26}); !errors.Is(err, ErrMaxRegression) {
		t.Errorf("expected ErrMaxRegression across stores, got %v", err)
	}

	if err := a.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := a.Get(ankaraKey.City, ankaraKey.Date)
	if got.Forecasts.Len() != 2 {
		t.Errorf("reload did not pick up the other writer: %+v", got.Forecasts)
	}
}

func TestStore_CorruptRecordRebuilt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.db")
	s := openTestStore(t, path, 0)

	mirror := s.mirror.(*SQLiteMirror)
	if _, err := mirror.db.Exec(
		`INSERT INTO daily_records (city, date, payload, updated_at) VALUES (?, ?, ?, ?)`,
		ankaraKey.City, string(ankaraKey.Date), "{not json", time.Now().Format(time.RFC3339),
	); err != nil {
		t.Fatal(err)
	}
	if _, err := mirror.Load(ctx, ankaraKey); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("reload must skip corrupt rows: %v", err)
	}

	rec, err := s.PutForecast(ctx, ankaraKey, weather.ModelICON, 28)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Forecasts.Len() != 1 {
		t.Errorf("expected rebuilt record with one forecast, got %+v", rec.Forecasts)
	}
}

func TestStore_HistoryFinalizeAndPrune(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "data.db"), 0)

	dates := []weather.Date{"2026-06-27", "2026-06-28", "2026-06-29", "2026-06-30", "2026-07-01"}
	for i, d := range dates {
		key := weather.Key{City: "ankara", Date: d}
		if _, err := s.PutForecast(ctx, key, weather.ModelGFS, float64(20+i)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.PutForecast(ctx, weather.Key{City: "london", Date: "2026-06-30"}, weather.ModelGFS, 18); err != nil {
		t.Fatal(err)
	}

	hist := s.History("ankara", "2026-07-01", 0)
	if len(hist) != 4 || hist[0].Date != "2026-06-27" || hist[3].Date != "2026-06-30" {
		t.Fatalf("history = %d records, want 4 oldest first", len(hist))
	}
	if got := s.History("ankara", "2026-07-01", 2); len(got) != 2 || got[0].Date != "2026-06-29" {
		t.Errorf("limited history wrong: %d records", len(got))
	}

	n, err := s.FinalizeBefore(ctx, "ankara", "2026-07-01")
	if err != nil || n != 4 {
		t.Fatalf("FinalizeBefore = (%d, %v), want 4", n, err)
	}
	if n, _ := s.FinalizeBefore(ctx, "ankara", "2026-07-01"); n != 0 {
		t.Errorf("second FinalizeBefore = %d, want 0", n)
	}
	if today, _ := s.Get("ankara", "2026-07-01"); today.Final {
		t.Error("today must stay open")
	}
	if _, err := s.Finalize(ctx, weather.Key{City: "paris", Date: "2026-07-01"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound finalizing a missing record, got %v", err)
	}

	pruned, err := s.Prune(ctx, "2026-06-29")
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}
	if _, ok := s.Get("ankara", "2026-06-28"); ok {
		t.Error("pruned record still cached")
	}
	if cities := s.Cities(); len(cities) != 2 {
		t.Errorf("cities = %v, want ankara and london", cities)
	}
}
