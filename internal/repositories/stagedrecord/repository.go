package stagedrecord

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "staging_records"

var columns = []string{
	"id", "entity_kind", "source_batch", "source_key", "source_index", "original_name", "raw_data",
	"normalized", "processing_status", "status_reason", "matched_entity_id", "promoted_at", "created_at", "updated_at",
}

// Repository persists staging rows
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ store.StagingStore = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// UpsertStaging inserts row or refreshes it while it is still pending. The xmax test tells an
// insert from an update; a conflicting non-pending row updates nothing and is read back unchanged.
func (r *Repository) UpsertStaging(ctx context.Context, row *models.StagingRow) (models.StageOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "stagedrecord.Repository.UpsertStaging")
	defer span.End()

	if row.ProcessingStatus == "" {
		row.ProcessingStatus = models.StatusPending
	}
	now := time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto(table).
		Cols("entity_kind", "source_batch", "source_key", "source_index", "original_name", "raw_data", "normalized",
			"processing_status", "status_reason", "matched_entity_id", "created_at", "updated_at").
		Values(row.EntityKind, row.SourceBatch, row.SourceKey, row.SourceIndex, row.OriginalName, row.RawData, row.Normalized,
			row.ProcessingStatus, row.StatusReason, row.MatchedEntityID, now, now)
	ub := ib.OnConflict("entity_kind", "source_batch", "source_key")
	ub.Set(
		ub.Assign("source_index", database.Excluded("source_index")),
		ub.Assign("original_name", database.Excluded("original_name")),
		ub.Assign("raw_data", database.Excluded("raw_data")),
		ub.Assign("normalized", database.Excluded("normalized")),
		ub.Assign("processing_status", database.Excluded("processing_status")),
		ub.Assign("status_reason", database.Excluded("status_reason")),
		"matched_entity_id = COALESCE("+table+".matched_entity_id, EXCLUDED.matched_entity_id)",
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)
	ub.Where(table + ".processing_status = 'pending'")

	query, args := ib.Build()
	query += " RETURNING id, created_at, updated_at, (xmax = 0) AS inserted"

	var out struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
		Inserted  bool      `db:"inserted"`
	}
	err := database.Conn(ctx, r.db).GetContext(ctx, &out, query, args...)
	switch {
	case err == nil:
		row.ID, row.CreatedAt, row.UpdatedAt = out.ID, out.CreatedAt, out.UpdatedAt
		if out.Inserted {
			return models.StageCreated, nil
		}
		return models.StageUpdated, nil
	case database.IsNoRows(err):
		existing, err := r.find(ctx, row.EntityKind, row.SourceBatch, row.SourceKey)
		if err != nil {
			return "", err
		}
		*row = *existing
		return models.StageUnchanged, nil
	default:
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source_batch": row.SourceBatch,
			"source_index": row.SourceIndex,
		}).Error("Failed to upsert staging row")
		return "", repositories.DBError(table, "failed to upsert staging row", err)
	}
}

func (r *Repository) find(ctx context.Context, kind models.EntityKind, batch, key string) (*models.StagingRow, error) {
	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table)
	sb.Where(
		sb.Equal("entity_kind", kind),
		sb.Equal("source_batch", batch),
		sb.Equal("source_key", key),
	)
	query, args := sb.Build()

	var row models.StagingRow
	if err := database.Conn(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "staging row %s/%s not found", batch, key)
		}
		return nil, repositories.DBError(table, "failed to get staging row", err)
	}
	return &row, nil
}

func (r *Repository) ListStaging(ctx context.Context, filter models.StagingFilter) ([]models.StagingRow, error) {
	ctx, span := tracing.StartSpan(ctx, "stagedrecord.Repository.ListStaging")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table)
	var where []string
	if filter.EntityKind != "" {
		where = append(where, sb.Equal("entity_kind", filter.EntityKind))
	}
	if filter.SourceBatch != "" {
		where = append(where, sb.Equal("source_batch", filter.SourceBatch))
	}
	if filter.Status != "" {
		where = append(where, sb.Equal("processing_status", filter.Status))
	}
	if filter.UnpromotedOnly {
		where = append(where, sb.IsNull("promoted_at"))
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id = ANY("+sb.Var(pq.Array(filter.IDs))+")")
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("id")

	query, args := sb.Build()
	var rows []models.StagingRow
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list staging rows")
		return nil, repositories.DBError(table, "failed to list staging rows", err)
	}
	return rows, nil
}

// TransitionStatus only ever moves pending rows
func (r *Repository) TransitionStatus(ctx context.Context, ids []int64, status models.ProcessingStatus, reason *string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "stagedrecord.Repository.TransitionStatus")
	defer span.End()

	if !models.CanTransition(models.StatusPending, status) {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "cannot transition staging rows to %s", status)
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("processing_status", status),
		ub.Assign("status_reason", reason),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		"id = ANY("+ub.Var(pq.Array(ids))+")",
		ub.Equal("processing_status", models.StatusPending),
	)

	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to transition staging rows")
		return 0, repositories.DBError(table, "failed to transition staging rows", err)
	}
	moved, _ := result.RowsAffected()
	return moved, nil
}

func (r *Repository) MarkPromoted(ctx context.Context, id int64, entityID int64, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "stagedrecord.Repository.MarkPromoted")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("matched_entity_id", entityID),
		ub.Assign("promoted_at", at),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return repositories.DBError(table, "failed to mark staging row promoted", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "staging row %d not found", id)
	}
	return nil
}
