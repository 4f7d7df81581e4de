package analytics

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	sessionsTable  = "analytics_sessions"
	unitStatsTable = "analytics_unit_stats"
)

// Repository backs the aggregation jobs. Every write is guarded so a rerun never overwrites a value.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ store.AnalyticsStore = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) ListIdleSessions(ctx context.Context, lastSeenBefore time.Time, limit int) ([]models.Session, error) {
	ctx, span := tracing.StartSpan(ctx, "analytics.Repository.ListIdleSessions")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id", "session_key", "first_seen", "last_seen", "duration_seconds", "created_at").From(sessionsTable)
	sb.Where(
		sb.IsNull("duration_seconds"),
		sb.LessThan("last_seen", lastSeenBefore),
	)
	sb.OrderBy("id")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var sessions []models.Session
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &sessions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list idle sessions")
		return nil, repositories.DBError(sessionsTable, "failed to list idle sessions", err)
	}
	return sessions, nil
}

func (r *Repository) SetSessionDuration(ctx context.Context, id int64, seconds int64) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "analytics.Repository.SetSessionDuration")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(sessionsTable)
	ub.Set(ub.Assign("duration_seconds", seconds))
	ub.Where(ub.Equal("id", id), ub.IsNull("duration_seconds"))
	return r.guardedUpdate(ctx, sessionsTable, ub)
}

func (r *Repository) ListUnitStatsWithoutRate(ctx context.Context, limit int) ([]models.UnitStat, error) {
	ctx, span := tracing.StartSpan(ctx, "analytics.Repository.ListUnitStatsWithoutRate")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id", "facility_id", "day", "views", "contacts_whatsapp", "contacts_phone", "contacts_email",
		"contacts_directions", "conversion_rate", "created_at").From(unitStatsTable)
	sb.Where(
		sb.GreaterThan("views", 0),
		sb.IsNull("conversion_rate"),
	)
	sb.OrderBy("id")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var stats []models.UnitStat
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &stats, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list unit stats")
		return nil, repositories.DBError(unitStatsTable, "failed to list unit stats", err)
	}
	return stats, nil
}

func (r *Repository) SetConversionRate(ctx context.Context, id int64, rate float64) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "analytics.Repository.SetConversionRate")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(unitStatsTable)
	ub.Set(ub.Assign("conversion_rate", rate))
	ub.Where(ub.Equal("id", id), ub.IsNull("conversion_rate"))
	return r.guardedUpdate(ctx, unitStatsTable, ub)
}

func (r *Repository) guardedUpdate(ctx context.Context, table string, ub *database.UpdateBuilder) (bool, error) {
	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("table", table).Error("Failed to update aggregate")
		return false, repositories.DBError(table, "failed to update aggregate", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// DeleteOlderThan ages sessions out by first_seen and the other tables by created_at
func (r *Repository) DeleteOlderThan(ctx context.Context, kind models.RetentionKind, cutoff time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "analytics.Repository.DeleteOlderThan")
	defer span.End()

	table := kind.Table()
	if table == "" {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown retention kind %q", kind)
	}
	column := "created_at"
	if kind == models.RetentionSessions {
		column = "first_seen"
	}

	dlb := database.NewDeleteBuilder()
	dlb.DeleteFrom(table)
	dlb.Where(dlb.LessThan(column, cutoff))
	query, args := dlb.Build()

	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("table", table).Error("Failed to purge analytics rows")
		return 0, repositories.DBError(table, "failed to purge analytics rows", err)
	}
	return result.RowsAffected()
}
