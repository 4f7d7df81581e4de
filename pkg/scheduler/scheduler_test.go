package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/redis"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type countingJob struct {
	name string
	mu   sync.Mutex
	runs int
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) (jobs.Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	return jobs.Result{Job: j.name, Affected: 1}, j.err
}

func (j *countingJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func TestScheduler_RunsDueJobs(t *testing.T) {
	hourly := &countingJob{name: "hourly"}
	weekly := &countingJob{name: "weekly"}
	clock := &manualClock{t: time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)}

	s := NewScheduler([]Entry{
		{Job: hourly, Interval: Hourly},
		{Job: weekly, Interval: Weekly},
	}, nil, nil, Config{}, testLogger()).WithClock(clock.now)

	assert.Equal(t, 2, s.RunDue(context.Background()))

	clock.t = clock.t.Add(30 * time.Minute)
	assert.Equal(t, 0, s.RunDue(context.Background()))

	clock.t = clock.t.Add(31 * time.Minute)
	assert.Equal(t, 1, s.RunDue(context.Background()))

	assert.Equal(t, 2, hourly.count())
	assert.Equal(t, 1, weekly.count())
}

func TestScheduler_FailedJobRetriesNextPoll(t *testing.T) {
	job := &countingJob{name: "flaky", err: errors.New("db down")}
	clock := &manualClock{t: time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)}
	s := NewScheduler([]Entry{{Job: job, Interval: Daily}}, nil, nil, Config{}, testLogger()).WithClock(clock.now)

	assert.Equal(t, 0, s.RunDue(context.Background()))
	assert.Equal(t, 0, s.RunDue(context.Background()))
	assert.Equal(t, 2, job.count())
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, time.Duration, func(context.Context) error) error {
	return redis.ErrLockNotAcquired
}

func TestScheduler_SkipsLockedJobs(t *testing.T) {
	job := &countingJob{name: "retention"}
	s := NewScheduler([]Entry{{Job: job, Interval: Weekly}}, busyLocker{}, nil, Config{}, testLogger())

	assert.Equal(t, 0, s.RunDue(context.Background()))
	assert.Equal(t, 0, job.count())
}

func TestScheduler_StartStop(t *testing.T) {
	job := &countingJob{name: "session_duration"}
	s := NewScheduler([]Entry{{Job: job, Interval: Hourly}}, nil, nil, Config{PollInterval: time.Hour}, testLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return job.count() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
}
