package jobs

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	SessionDurationName = "session_duration"
	DefaultIdleTimeout  = 30 * time.Minute
)

// SessionDuration finalizes sessions idle for longer than the idle timeout.
// A session's duration is written once and never recomputed.
type SessionDuration struct {
	store     store.AnalyticsStore
	logger    ectologger.Logger
	now       clock
	idle      time.Duration
	batchSize int
}

func NewSessionDuration(st store.AnalyticsStore, logger ectologger.Logger) *SessionDuration {
	return &SessionDuration{
		store:     st,
		logger:    logger,
		now:       time.Now,
		idle:      DefaultIdleTimeout,
		batchSize: DefaultBatchSize,
	}
}

func (j *SessionDuration) WithClock(now func() time.Time) *SessionDuration {
	j.now = now
	return j
}

func (j *SessionDuration) WithIdleTimeout(idle time.Duration) *SessionDuration {
	if idle > 0 {
		j.idle = idle
	}
	return j
}

func (j *SessionDuration) WithBatchSize(n int) *SessionDuration {
	if n > 0 {
		j.batchSize = n
	}
	return j
}

func (j *SessionDuration) Name() string { return SessionDurationName }

func (j *SessionDuration) Run(ctx context.Context) (res Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.SessionDuration.Run")
	defer span.End()
	defer func() { record(j.Name(), res, err) }()

	res.Job = j.Name()
	cutoff := j.now().Add(-j.idle)
	seen := map[int64]bool{}

	for {
		sessions, err := j.store.ListIdleSessions(ctx, cutoff, j.batchSize)
		if err != nil {
			j.logger.WithContext(ctx).WithError(err).Error("Failed to list idle sessions")
			tracing.RecordError(span, err)
			return res, err
		}

		progressed := false
		for _, sess := range sessions {
			if seen[sess.ID] {
				continue
			}
			seen[sess.ID] = true
			progressed = true

			seconds := int64(sess.LastSeen.Sub(sess.FirstSeen) / time.Second)
			if seconds < 0 {
				j.logger.WithContext(ctx).WithField("session_id", sess.ID).Warn("Session last seen before first seen, recording zero duration")
				seconds = 0
			}

			written, err := j.store.SetSessionDuration(ctx, sess.ID, seconds)
			if err != nil {
				res.Failed++
				j.logger.WithContext(ctx).WithError(err).WithField("session_id", sess.ID).Error("Failed to write session duration")
				continue
			}
			if written {
				res.Affected++
			}
		}

		if !progressed || len(sessions) < j.batchSize {
			break
		}
	}

	j.logger.WithContext(ctx).WithFields(map[string]any{
		"count":  res.Affected,
		"failed": res.Failed,
	}).Info("Session durations calculated")
	return res, nil
}
