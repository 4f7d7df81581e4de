package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// AddSession seeds a session and returns its id
func (s *Store) AddSession(sess models.Session) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.ID = s.nextID("analytics_sessions")
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.FirstSeen
	}
	s.data.sessions[sess.ID] = sess
	return sess.ID
}

func (s *Store) Session(id int64) (models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.data.sessions[id]
	return sess, ok
}

// AddUnitStat seeds a unit stat row and returns its id
func (s *Store) AddUnitStat(stat models.UnitStat) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	stat.ID = s.nextID("analytics_unit_stats")
	s.data.stats[stat.ID] = stat
	return stat.ID
}

func (s *Store) UnitStat(id int64) (models.UnitStat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stat, ok := s.data.stats[id]
	return stat, ok
}

func (s *Store) AddEvent(e models.Event) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID("analytics_events")
	s.data.events[e.ID] = e
	return e.ID
}

func (s *Store) AddPerformance(p models.PerformanceSample) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID("analytics_performance")
	s.data.performance[p.ID] = p
	return p.ID
}

// Count returns the number of rows of a retention kind
func (s *Store) Count(kind models.RetentionKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case models.RetentionEvents:
		return len(s.data.events)
	case models.RetentionSessions:
		return len(s.data.sessions)
	default:
		return len(s.data.performance)
	}
}

func (s *Store) ListIdleSessions(_ context.Context, lastSeenBefore time.Time, limit int) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Session
	for _, sess := range s.data.sessions {
		if sess.DurationSeconds == nil && sess.LastSeen.Before(lastSeenBefore) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetSessionDuration(_ context.Context, id int64, seconds int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.data.sessions[id]
	if !ok || sess.DurationSeconds != nil {
		return false, nil
	}
	sess.DurationSeconds = &seconds
	s.data.sessions[id] = sess
	return true, nil
}

func (s *Store) ListUnitStatsWithoutRate(_ context.Context, limit int) ([]models.UnitStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.UnitStat
	for _, stat := range s.data.stats {
		if stat.Views > 0 && stat.ConversionRate == nil {
			out = append(out, stat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetConversionRate(_ context.Context, id int64, rate float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat, ok := s.data.stats[id]
	if !ok || stat.ConversionRate != nil {
		return false, nil
	}
	stat.ConversionRate = &rate
	s.data.stats[id] = stat
	return true, nil
}

func (s *Store) DeleteOlderThan(_ context.Context, kind models.RetentionKind, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	switch kind {
	case models.RetentionEvents:
		for id, e := range s.data.events {
			if e.CreatedAt.Before(cutoff) {
				delete(s.data.events, id)
				deleted++
			}
		}
	case models.RetentionSessions:
		for id, sess := range s.data.sessions {
			if sess.FirstSeen.Before(cutoff) {
				delete(s.data.sessions, id)
				deleted++
			}
		}
	case models.RetentionPerformance:
		for id, p := range s.data.performance {
			if p.CreatedAt.Before(cutoff) {
				delete(s.data.performance, id)
				deleted++
			}
		}
	default:
		return 0, fmt.Errorf("unknown retention kind %q", kind)
	}
	return deleted, nil
}
