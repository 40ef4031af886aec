// Package store is the shared repository of per-city, per-date records.
//
// Readers see an immutable in-memory snapshot and never take a lock. Writers
// to the same (city, date) are serialized by a per-key mutex; each write
// then takes a cross-process advisory file lock, re-reads the durable record,
// applies its change, saves it and publishes the result to the snapshot. The
// atomic publish is the linearization point of a write.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/dantezy/polyweather/internal/weather"
)

const (
	DefaultLockTimeout = 2 * time.Second
	defaultRetryDelay  = 25 * time.Millisecond
)

// Options configures a Store.
type Options struct {
	// Path is the SQLite database file.
	Path string
	// LockPath is the advisory lock file. Defaults to Path + ".lock".
	LockPath string
	// LockTimeout bounds advisory lock acquisition per write.
	LockTimeout time.Duration
	// RetryDelay is the polling interval while waiting for the lock.
	RetryDelay time.Duration
	// Now is the clock used for UpdatedAt. Defaults to time.Now.
	Now func() time.Time
}

// ObservationUpdate is one observation write. MaxSoFar is the station's
// running maximum for the day; Current is the latest reading, if known.
type ObservationUpdate struct {
	MaxSoFar float64
	Current  *float64
	At       time.Time
	Final    bool
}

type snapshot struct {
	cities map[string]map[weather.Date]*weather.DailyRecord
}

// Store is a concurrency-safe record store with a durable mirror.
type Store struct {
	mirror      Mirror
	lock        *flock.Flock
	lockTimeout time.Duration
	retryDelay  time.Duration
	now         func() time.Time

	flushSem chan struct{}
	keyLocks sync.Map // weather.Key -> *sync.Mutex
	pubMu    sync.Mutex
	snap     atomic.Pointer[snapshot]
}

// Open opens the SQLite mirror at opts.Path and loads it into memory.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("store path is required")
	}
	mirror, err := NewSQLiteMirror(opts.Path)
	if err != nil {
		return nil, err
	}
	s := New(mirror, opts)
	if err := s.Reload(ctx); err != nil {
		mirror.Close()
		return nil, err
	}
	log.Printf("[store] opened %s (%d cities)", opts.Path, len(s.Cities()))
	return s, nil
}

// New wraps an existing mirror. Call Reload to populate the cache.
func New(mirror Mirror, opts Options) *Store {
	lockPath := opts.LockPath
	if lockPath == "" {
		lockPath = opts.Path + ".lock"
	}
	s := &Store{
		mirror:      mirror,
		lock:        flock.New(lockPath),
		lockTimeout: opts.LockTimeout,
		retryDelay:  opts.RetryDelay,
		now:         opts.Now,
		flushSem:    make(chan struct{}, 1),
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = DefaultLockTimeout
	}
	if s.retryDelay <= 0 {
		s.retryDelay = defaultRetryDelay
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.snap.Store(&snapshot{cities: map[string]map[weather.Date]*weather.DailyRecord{}})
	return s
}

// Close closes the mirror.
func (s *Store) Close() error {
	return s.mirror.Close()
}

// Reload replaces the in-memory cache with the mirror's contents.
func (s *Store) Reload(ctx context.Context) error {
	records, err := s.mirror.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	next := &snapshot{cities: make(map[string]map[weather.Date]*weather.DailyRecord)}
	for _, r := range records {
		days, ok := next.cities[r.City]
		if !ok {
			days = make(map[weather.Date]*weather.DailyRecord)
			next.cities[r.City] = days
		}
		days[r.Date] = r
	}
	s.pubMu.Lock()
	s.snap.Store(next)
	s.pubMu.Unlock()
	return nil
}

// Get returns a copy of the record for (city, date).
func (s *Store) Get(city string, date weather.Date) (*weather.DailyRecord, bool) {
	r, ok := s.snap.Load().cities[city][date]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// History returns copies of the city's records dated strictly before the
// given date, oldest first. limit > 0 keeps only the most recent records.
func (s *Store) History(city string, before weather.Date, limit int) []*weather.DailyRecord {
	days := s.snap.Load().cities[city]
	out := make([]*weather.DailyRecord, 0, len(days))
	for date, r := range days {
		if date.Before(before) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Cities lists cities with at least one record.
func (s *Store) Cities() []string {
	snap := s.snap.Load()
	out := make([]string, 0, len(snap.cities))
	for c := range snap.cities {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// PutForecast records a model's high-temperature forecast.
func (s *Store) PutForecast(ctx context.Context, key weather.Key, model weather.Model, value float64) (*weather.DailyRecord, error) {
	if _, err := weather.ParseModel(string(model)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := checkTemp(value); err != nil {
		return nil, err
	}
	return s.update(ctx, key, func(r *weather.DailyRecord) error {
		r.Forecasts.Set(model, value)
		return nil
	})
}

// PutObservation raises the running maximum and appends the reading to the
// trace. A maximum below the stored one is rejected with ErrMaxRegression.
func (s *Store) PutObservation(ctx context.Context, key weather.Key, obs ObservationUpdate) (*weather.DailyRecord, error) {
	if err := checkTemp(obs.MaxSoFar); err != nil {
		return nil, err
	}
	if obs.Current != nil {
		if err := checkTemp(*obs.Current); err != nil {
			return nil, err
		}
	}
	if obs.At.IsZero() {
		obs.At = s.now()
	}
	return s.update(ctx, key, func(r *weather.DailyRecord) error {
		if cur, ok := r.Actual(); ok && obs.MaxSoFar < cur {
			return fmt.Errorf("%w: %s has %.1f, got %.1f", ErrMaxRegression, key, cur, obs.MaxSoFar)
		}
		peak := obs.MaxSoFar
		r.MaxSoFar = &peak
		reading := obs.MaxSoFar
		if obs.Current != nil {
			reading = *obs.Current
		}
		r.AddObservation(weather.Observation{At: obs.At, Temp: reading})
		r.Final = r.Final || obs.Final
		return nil
	})
}

// PutEnsemble stores the day's ensemble summary.
func (s *Store) PutEnsemble(ctx context.Context, key weather.Key, ens weather.EnsembleSample) (*weather.DailyRecord, error) {
	if !ens.Valid() {
		return nil, fmt.Errorf("%w: ensemble percentiles out of order (p10=%.1f median=%.1f p90=%.1f)", ErrInvalid, ens.P10, ens.Median, ens.P90)
	}
	return s.update(ctx, key, func(r *weather.DailyRecord) error {
		r.Ensemble = &ens
		return nil
	})
}

// PutPeak stores the predicted peak window.
func (s *Store) PutPeak(ctx context.Context, key weather.Key, w weather.PeakWindow) (*weather.DailyRecord, error) {
	if w.Start.IsZero() || !w.End.After(w.Start) {
		return nil, fmt.Errorf("%w: peak window must end after it starts", ErrInvalid)
	}
	return s.update(ctx, key, func(r *weather.DailyRecord) error {
		r.Peak = &w
		return nil
	})
}

// Finalize marks an existing record as settled so it enters error history.
func (s *Store) Finalize(ctx context.Context, key weather.Key) (*weather.DailyRecord, error) {
	return s.update(ctx, key, func(r *weather.DailyRecord) error {
		if r.UpdatedAt.IsZero() {
			return fmt.Errorf("finalize %s: %w", key, ErrNotFound)
		}
		r.Final = true
		return nil
	})
}

// FinalizeBefore finalizes every open record of city dated before the given
// date and returns how many were finalized.
func (s *Store) FinalizeBefore(ctx context.Context, city string, before weather.Date) (int, error) {
	n := 0
	for _, r := range s.History(city, before, 0) {
		if r.Final {
			continue
		}
		if _, err := s.Finalize(ctx, r.Key()); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Prune drops records dated before the given date from the mirror and cache.
func (s *Store) Prune(ctx context.Context, before weather.Date) (int64, error) {
	if err := s.acquire(ctx, weather.Key{City: "*", Date: before}); err != nil {
		return 0, err
	}
	defer s.release()

	n, err := s.mirror.DeleteBefore(ctx, before)
	if err != nil {
		return 0, err
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	old := s.snap.Load()
	next := &snapshot{cities: make(map[string]map[weather.Date]*weather.DailyRecord, len(old.cities))}
	for city, days := range old.cities {
		kept := make(map[weather.Date]*weather.DailyRecord, len(days))
		for d, r := range days {
			if !d.Before(before) {
				kept[d] = r
			}
		}
		if len(kept) > 0 {
			next.cities[city] = kept
		}
	}
	s.snap.Store(next)
	return n, nil
}

// update runs fn against the durable copy of key under both locks and
// publishes the result. On any error the cache is left untouched.
func (s *Store) update(ctx context.Context, key weather.Key, fn func(*weather.DailyRecord) error) (*weather.DailyRecord, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	mu := s.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	if err := s.acquire(ctx, key); err != nil {
		return nil, err
	}
	defer s.release()

	rec, err := s.loadDurable(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = s.now()
	if err := s.mirror.Save(ctx, rec); err != nil {
		return nil, err
	}
	s.publish(rec)
	return rec.Clone(), nil
}

// loadDurable reads key from the mirror. A missing or corrupt record starts
// from empty.
func (s *Store) loadDurable(ctx context.Context, key weather.Key) (*weather.DailyRecord, error) {
	rec, err := s.mirror.Load(ctx, key)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, ErrNotFound):
		return weather.NewDailyRecord(key), nil
	case errors.Is(err, ErrCorruptRecord):
		log.Printf("[store] recoverable: rebuilding %s from empty: %v", key, err)
		return weather.NewDailyRecord(key), nil
	default:
		return nil, err
	}
}

// acquire takes the in-process flush slot and then the advisory file lock.
// flock treats repeated locking through one handle as already held, so the
// slot keeps goroutines of this process from sharing it.
func (s *Store) acquire(ctx context.Context, key weather.Key) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	select {
	case s.flushSem <- struct{}{}:
	case <-lockCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &LockError{Key: key, Timeout: s.lockTimeout, Err: lockCtx.Err()}
	}

	ok, err := s.lock.TryLockContext(lockCtx, s.retryDelay)
	if ok {
		return nil
	}
	<-s.flushSem
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err == nil:
		return &LockError{Key: key, Timeout: s.lockTimeout, Err: context.DeadlineExceeded}
	case errors.Is(err, context.DeadlineExceeded):
		return &LockError{Key: key, Timeout: s.lockTimeout, Err: err}
	default:
		return fmt.Errorf("acquiring lock for %s: %w", key, err)
	}
}

func (s *Store) release() {
	if err := s.lock.Unlock(); err != nil {
		log.Printf("[store] failed to release lock: %v", err)
	}
	<-s.flushSem
}

func (s *Store) publish(rec *weather.DailyRecord) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	old := s.snap.Load()
	next := &snapshot{cities: make(map[string]map[weather.Date]*weather.DailyRecord, len(old.cities)+1)}
	for city, days := range old.cities {
		next.cities[city] = days
	}
	days := make(map[weather.Date]*weather.DailyRecord, len(old.cities[rec.City])+1)
	for d, r := range old.cities[rec.City] {
		days[d] = r
	}
	days[rec.Date] = rec.Clone()
	next.cities[rec.City] = days
	s.snap.Store(next)
}

func (s *Store) keyLock(key weather.Key) *sync.Mutex {
	mu, _ := s.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func checkKey(key weather.Key) error {
	if key.City == "" {
		return fmt.Errorf("%w: city is required", ErrInvalid)
	}
	if _, err := weather.ParseDate(string(key.Date)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// checkTemp rejects values no station can report in either unit.
func checkTemp(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < -100 || v > 150 {
		return fmt.Errorf("%w: temperature %v out of range", ErrInvalid, v)
	}
	return nil
}
