// Package scheduler re-runs a fetch on a fixed interval. Runs never overlap:
// cron skips a tick while the previous run is still going, and a Locker keeps
// other processes from fetching the same target at the same time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/api-fetcher/pkg/client"
	"github.com/Sternrassler/api-fetcher/pkg/logging"
)

// DefaultLockTTL bounds how long a crashed run can block the next one.
const DefaultLockTTL = 30 * time.Minute

// ErrSkipped is returned by RunOnce when the run lock is held elsewhere.
var ErrSkipped = errors.New("run skipped, lock held")

var scheduledRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetch_scheduled_runs_total",
	Help: "Scheduled runs by result (ran, skipped, failed)",
}, []string{"result"})

// Job is one complete fetch call.
type Job func(ctx context.Context) error

// Cooldown reports how long to hold off before the next run.
type Cooldown func(ctx context.Context) time.Duration

// Scheduler runs a Job every interval.
type Scheduler struct {
	interval time.Duration
	job      Job
	locker   Locker
	lockKey  string
	lockTTL  time.Duration
	cooldown Cooldown
	sleep    client.SleepFunc
	logger   zerolog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocker sets the locker and the key runs are serialized on.
func WithLocker(l Locker, key string) Option {
	return func(s *Scheduler) {
		s.locker = l
		s.lockKey = key
	}
}

// WithLockTTL sets the run lock expiry.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.lockTTL = ttl
	}
}

// WithCooldown delays runs while an API throttle is active.
func WithCooldown(c Cooldown) Option {
	return func(s *Scheduler) {
		s.cooldown = c
	}
}

// WithSleep replaces the cooldown wait (used in tests).
func WithSleep(fn client.SleepFunc) Option {
	return func(s *Scheduler) {
		s.sleep = fn
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a scheduler running job every interval.
func New(interval time.Duration, job Job, opts ...Option) (*Scheduler, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("interval must be at least 1s (got %s)", interval)
	}
	s := &Scheduler{
		interval: interval,
		job:      job,
		locker:   NewLocalLocker(),
		lockKey:  "default",
		lockTTL:  DefaultLockTTL,
		sleep:    client.Sleep,
		logger:   log.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run schedules the job until ctx is cancelled. The first run starts after
// one interval; cron aligns ticks to whole seconds. A failed run is logged
// and the schedule continues. Run returns once the in-flight run, if any,
// has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	cronLog := logging.CronLogger(s.logger)
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSkipped) {
			s.logger.Error().Err(err).Msg("Scheduled run failed")
		}
	}))

	c.Start()
	s.logger.Info().Dur("interval", s.interval).Msg("Scheduler started")

	<-ctx.Done()
	s.logger.Info().Msg("Stopping scheduler")
	<-c.Stop().Done()
	return nil
}

// RunOnce waits out an active throttle cooldown, takes the run lock and runs
// the job. It returns ErrSkipped when the lock is held elsewhere.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.cooldown != nil {
		if wait := s.cooldown(ctx); wait > 0 {
			s.logger.Info().Dur("wait", wait).Msg("Waiting for rate limit cooldown")
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	lock, err := s.locker.TryAcquire(ctx, s.lockKey, s.lockTTL)
	if err != nil {
		scheduledRunsTotal.WithLabelValues("failed").Inc()
		return err
	}
	if lock == nil {
		scheduledRunsTotal.WithLabelValues("skipped").Inc()
		s.logger.Warn().Str("key", s.lockKey).Msg("Previous run still in progress, skipping")
		return ErrSkipped
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Str("key", s.lockKey).Msg("Releasing run lock failed")
		}
	}()

	start := time.Now()
	s.logger.Info().Msg("Scheduled run started")
	if err := s.job(ctx); err != nil {
		scheduledRunsTotal.WithLabelValues("failed").Inc()
		return err
	}
	scheduledRunsTotal.WithLabelValues("ran").Inc()
	s.logger.Info().Dur("duration", time.Since(start)).Msg("Scheduled run finished")
	return nil
}
