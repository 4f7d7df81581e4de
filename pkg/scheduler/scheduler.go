// Package scheduler runs the aggregation jobs on fixed intervals. A distributed lock keeps
// concurrent schedulers from running the same job twice.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	DefaultPollInterval = time.Minute
	DefaultLockTTL      = 30 * time.Minute

	Hourly = time.Hour
	Daily  = 24 * time.Hour
	Weekly = 7 * 24 * time.Hour

	LockKeyPrefix = "scheduler:job:"
)

// Locker runs fn while holding a named lock. *redis.Locker implements it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// LastRuns persists when each job last completed. *redis.Client implements it.
type LastRuns interface {
	LastRun(ctx context.Context, job string) (time.Time, error)
	SetLastRun(ctx context.Context, job string, at time.Time) error
}

// Entry is a job and how often it runs
type Entry struct {
	Job      jobs.Job
	Interval time.Duration
}

// Config holds configuration for the scheduler
type Config struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

// Scheduler polls for due jobs
type Scheduler struct {
	entries  []Entry
	locker   Locker
	lastRuns LastRuns
	config   Config
	logger   ectologger.Logger
	now      func() time.Time

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewScheduler creates a scheduler. A nil locker runs jobs unlocked and nil lastRuns keeps state in memory.
func NewScheduler(entries []Entry, locker Locker, lastRuns LastRuns, config Config, logger ectologger.Logger) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if lastRuns == nil {
		lastRuns = newMemoryLastRuns()
	}

	return &Scheduler{
		entries:  entries,
		locker:   locker,
		lastRuns: lastRuns,
		config:   config,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start starts the polling loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting scheduler: poll_interval=%s jobs=%d", s.config.PollInterval, len(s.entries))

	go s.pollLoop(ctx)
	return nil
}

// Stop stops the scheduler and waits for the running cycle to finish
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")
	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.RunDue(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue runs every job whose interval has elapsed since its last completed run and returns how many ran.
func (s *Scheduler) RunDue(ctx context.Context) int {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.RunDue")
	defer span.End()

	ran := 0
	for _, entry := range s.entries {
		if ctx.Err() != nil {
			return ran
		}
		name := entry.Job.Name()

		last, err := s.lastRuns.LastRun(ctx, name)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to read last run of %s", name)
			continue
		}
		if !last.IsZero() && s.now().Sub(last) < entry.Interval {
			continue
		}

		err = s.runLocked(ctx, entry)
		switch {
		case errors.Is(err, redis.ErrLockNotAcquired):
			s.logger.WithContext(ctx).Debugf("Job %s is running elsewhere", name)
		case err != nil:
			s.logger.WithContext(ctx).WithError(err).Warnf("Job %s failed", name)
		default:
			ran++
		}
	}
	return ran
}

func (s *Scheduler) runLocked(ctx context.Context, entry Entry) error {
	run := func(ctx context.Context) error {
		res, err := entry.Job.Run(ctx)
		if err != nil {
			return err
		}
		s.logger.WithContext(ctx).Infof("Job %s completed: affected=%d failed=%d", res.Job, res.Affected, res.Failed)
		return s.lastRuns.SetLastRun(ctx, entry.Job.Name(), s.now())
	}
	if s.locker == nil {
		return run(ctx)
	}
	return s.locker.WithLock(ctx, LockKeyPrefix+entry.Job.Name(), s.config.LockTTL, run)
}

type memoryLastRuns struct {
	mu   sync.Mutex
	runs map[string]time.Time
}

func newMemoryLastRuns() *memoryLastRuns {
	return &memoryLastRuns{runs: map[string]time.Time{}}
}

func (m *memoryLastRuns) LastRun(_ context.Context, job string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[job], nil
}

func (m *memoryLastRuns) SetLastRun(_ context.Context, job string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[job] = at
	return nil
}
