package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store/memstore"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 5, 10, hour, minute, 0, 0, time.UTC)
}

func fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSessionDuration_ComputesOnce(t *testing.T) {
	st := memstore.New()
	id := st.AddSession(models.Session{SessionKey: "abc", FirstSeen: at(10, 0), LastSeen: at(10, 45)})

	job := NewSessionDuration(st, testLogger()).WithClock(fixed(at(11, 20)))
	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)

	sess, ok := st.Session(id)
	require.True(t, ok)
	require.NotNil(t, sess.DurationSeconds)
	assert.Equal(t, int64(2700), *sess.DurationSeconds)

	res, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Affected)

	sess, _ = st.Session(id)
	assert.Equal(t, int64(2700), *sess.DurationSeconds)
}

func TestSessionDuration_SkipsActiveSessions(t *testing.T) {
	st := memstore.New()
	id := st.AddSession(models.Session{SessionKey: "live", FirstSeen: at(10, 0), LastSeen: at(11, 0)})

	res, err := NewSessionDuration(st, testLogger()).WithClock(fixed(at(11, 20))).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Affected)

	sess, _ := st.Session(id)
	assert.Nil(t, sess.DurationSeconds)
}

func TestSessionDuration_Pages(t *testing.T) {
	st := memstore.New()
	for i := 0; i < 7; i++ {
		st.AddSession(models.Session{FirstSeen: at(8, i), LastSeen: at(9, i)})
	}

	res, err := NewSessionDuration(st, testLogger()).WithClock(fixed(at(12, 0))).WithBatchSize(3).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Affected)
}

func TestConversionRate(t *testing.T) {
	st := memstore.New()
	withViews := st.AddUnitStat(models.UnitStat{FacilityID: 1, Views: 200, ContactsWhatsapp: 3, ContactsPhone: 2, ContactsEmail: 4, ContactsDirections: 1})
	noViews := st.AddUnitStat(models.UnitStat{FacilityID: 2, Views: 0, ContactsPhone: 1})

	job := NewConversionRate(st, testLogger())
	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)

	stat, _ := st.UnitStat(withViews)
	require.NotNil(t, stat.ConversionRate)
	assert.InDelta(t, 5.0, *stat.ConversionRate, 1e-9)

	stat, _ = st.UnitStat(noViews)
	assert.Nil(t, stat.ConversionRate)

	res, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Affected)
}

func TestRate(t *testing.T) {
	rate, ok := Rate(models.UnitStat{Views: 8, ContactsWhatsapp: 1, ContactsDirections: 1})
	assert.True(t, ok)
	assert.InDelta(t, 25.0, rate, 1e-9)

	rate, ok = Rate(models.UnitStat{Views: 3, ContactsPhone: 1})
	assert.True(t, ok)
	assert.InDelta(t, 33.33, rate, 1e-9)

	rate, _ = Rate(models.UnitStat{Views: 7, ContactsEmail: 2})
	assert.InDelta(t, 28.57, rate, 1e-9)

	_, ok = Rate(models.UnitStat{Views: 0})
	assert.False(t, ok)
}

func seedRetention(st *memstore.Store, now time.Time) {
	day := 24 * time.Hour
	st.AddEvent(models.Event{Name: "view", CreatedAt: now.Add(-91 * day)})
	st.AddEvent(models.Event{Name: "view", CreatedAt: now.Add(-10 * day)})
	st.AddSession(models.Session{FirstSeen: now.Add(-100 * day), LastSeen: now.Add(-100 * day)})
	st.AddSession(models.Session{FirstSeen: now.Add(-89 * day), LastSeen: now.Add(-89 * day)})
	st.AddPerformance(models.PerformanceSample{Metric: "lcp", CreatedAt: now.Add(-31 * day)})
	st.AddPerformance(models.PerformanceSample{Metric: "lcp", CreatedAt: now.Add(-29 * day)})
}

func TestRetention_AbsoluteAge(t *testing.T) {
	now := at(3, 0)
	st := memstore.New()
	seedRetention(st, now)

	job := NewRetention(st, testLogger()).WithClock(fixed(now))
	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Affected)
	assert.Equal(t, int64(1), job.Deleted[models.RetentionEvents])
	assert.Equal(t, int64(1), job.Deleted[models.RetentionSessions])
	assert.Equal(t, int64(1), job.Deleted[models.RetentionPerformance])

	res, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Affected)

	assert.Equal(t, 1, st.Count(models.RetentionEvents))
	assert.Equal(t, 1, st.Count(models.RetentionSessions))
	assert.Equal(t, 1, st.Count(models.RetentionPerformance))
}

type failingEvents struct {
	*memstore.Store
}

func (f failingEvents) DeleteOlderThan(ctx context.Context, kind models.RetentionKind, cutoff time.Time) (int64, error) {
	if kind == models.RetentionEvents {
		return 0, errors.New("lock timeout")
	}
	return f.Store.DeleteOlderThan(ctx, kind, cutoff)
}

func TestRetention_KindsAreIndependent(t *testing.T) {
	now := at(3, 0)
	st := memstore.New()
	seedRetention(st, now)

	job := NewRetention(failingEvents{st}, testLogger()).WithClock(fixed(now))
	res, err := job.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "events: lock timeout")
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int64(2), res.Affected)

	assert.Equal(t, 2, st.Count(models.RetentionEvents))
	assert.Equal(t, 1, st.Count(models.RetentionSessions))
	assert.Equal(t, 1, st.Count(models.RetentionPerformance))
}
