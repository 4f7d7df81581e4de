package auditlog

import (
	"context"
	"slices"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "audit_log"

// Repository reads the audit log. Rows are only ever written by the fern_audit trigger.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ store.AuditStore = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// ListAudit returns the newest filter.Limit matching entries, oldest first
func (r *Repository) ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "auditlog.Repository.ListAudit")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id", "table_name", "operation", "record_id", "actor_id", "created_at").From(table)
	var where []string
	if filter.TableName != "" {
		where = append(where, sb.Equal("table_name", filter.TableName))
	}
	if filter.RecordID != 0 {
		where = append(where, sb.Equal("record_id", filter.RecordID))
	}
	if filter.Since != nil {
		where = append(where, sb.GreaterEqualThan("created_at", *filter.Since))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("id").Desc()
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}

	query, args := sb.Build()
	var entries []models.AuditEntry
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list audit entries")
		return nil, repositories.DBError(table, "failed to list audit entries", err)
	}
	slices.Reverse(entries)
	return entries, nil
}
