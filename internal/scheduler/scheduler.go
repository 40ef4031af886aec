package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/dantezy/polyweather/internal/engine"
)

// Sweeper finalizes past days and prunes old records.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, keepDays int) (engine.SweepResult, error)
}

// Notifier receives sweep outcomes.
type Notifier interface {
	NotifySweep(res engine.SweepResult) error
	NotifyError(err error) error
}

// Scheduler periodically finalizes settled days so they enter the error
// history, and applies the retention window.
type Scheduler struct {
	scheduler *gocron.Scheduler
	sweeper   Sweeper
	notifier  Notifier
	interval  time.Duration
	keepDays  int
	timeout   time.Duration
	now       func() time.Time
}

// New creates a new Scheduler. notifier may be nil.
func New(sweeper Sweeper, notifier Notifier, interval time.Duration, keepDays int) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		sweeper:   sweeper,
		notifier:  notifier,
		interval:  interval,
		keepDays:  keepDays,
		timeout:   time.Minute,
		now:       time.Now,
	}
}

// Start schedules the sweep job and starts the underlying scheduler. The
// first sweep runs immediately.
func (s *Scheduler) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 30
	}

	_, err := s.scheduler.Every(minutes).Minutes().SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	log.Printf("[scheduler] finalize sweep every %dm, retention %d days", minutes, s.keepDays)
	s.scheduler.StartAsync()
	return nil
}

// RunOnce performs a single sweep and reports the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) (engine.SweepResult, error) {
	res, err := s.sweeper.Sweep(ctx, s.now(), s.keepDays)
	if err != nil {
		log.Printf("[scheduler] sweep failed: %v", err)
		if s.notifier != nil {
			if nerr := s.notifier.NotifyError(err); nerr != nil {
				log.Printf("[scheduler] notify failed: %v", nerr)
			}
		}
		return res, err
	}

	total := 0
	for _, n := range res.Finalized {
		total += n
	}
	if total > 0 || res.Pruned > 0 {
		log.Printf("[scheduler] finalized %d day(s) across %d cities, pruned %d", total, len(res.Finalized), res.Pruned)
	}
	if s.notifier != nil {
		if err := s.notifier.NotifySweep(res); err != nil {
			log.Printf("[scheduler] notify failed: %v", err)
		}
	}
	return res, nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
