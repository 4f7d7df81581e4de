package relationship

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// insertChunk bounds the VALUES list of one insert statement
const insertChunk = 500

var columns = []string{"id", "left_id", "right_id", "created_at"}

// Repository manages the junction tables
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ store.RelationshipStore = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func tableFor(kind models.RelationshipKind) (string, error) {
	if table := kind.Table(); table != "" {
		return table, nil
	}
	return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown relationship kind %q", kind)
}

func checkSide(side store.Side) error {
	if side != store.SideLeft && side != store.SideRight {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown junction side %q", side)
	}
	return nil
}

func (r *Repository) selectPairs(ctx context.Context, kind models.RelationshipKind, sb *database.SelectBuilder) ([]models.Relationship, error) {
	sb.OrderBy("id")
	query, args := sb.Build()

	var rels []models.Relationship
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rels, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("kind", kind).Error("Failed to list relationships")
		return nil, repositories.DBError(kind.Table(), "failed to list relationships", err)
	}
	for i := range rels {
		rels[i].Kind = kind
	}
	return rels, nil
}

func (r *Repository) ListPairs(ctx context.Context, kind models.RelationshipKind) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListPairs")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table)
	return r.selectPairs(ctx, kind, sb)
}

// InsertPairs relies on UNIQUE (left_id, right_id); pairs already present are skipped, never rewritten.
func (r *Repository) InsertPairs(ctx context.Context, kind models.RelationshipKind, pairs []models.Pair) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.InsertPairs")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	var inserted int64
	now := time.Now().UTC()
	for start := 0; start < len(pairs); start += insertChunk {
		end := min(start+insertChunk, len(pairs))

		ib := database.NewInsertBuilder()
		ib.InsertInto(table).Cols("left_id", "right_id", "created_at")
		for _, p := range pairs[start:end] {
			ib.Values(p.LeftID, p.RightID, now)
		}
		ib.OnConflictDoNothing()
		query, args := ib.Build()

		result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"kind":  kind,
				"pairs": end - start,
			}).Error("Failed to insert relationships")
			return inserted, repositories.DBError(table, "failed to insert relationships", err)
		}
		n, _ := result.RowsAffected()
		inserted += n
	}
	return inserted, nil
}

func (r *Repository) ListPairsFor(ctx context.Context, kind models.RelationshipKind, side store.Side, ids []int64) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListPairsFor")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if err := checkSide(side); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table)
	sb.Where(string(side) + " = ANY(" + sb.Var(pq.Array(ids)) + ")")
	return r.selectPairs(ctx, kind, sb)
}

func (r *Repository) DeletePairsFor(ctx context.Context, kind models.RelationshipKind, side store.Side, ids []int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.DeletePairsFor")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	if err := checkSide(side); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	dlb := database.NewDeleteBuilder()
	dlb.DeleteFrom(table)
	dlb.Where(string(side) + " = ANY(" + dlb.Var(pq.Array(ids)) + ")")
	query, args := dlb.Build()

	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("kind", kind).Error("Failed to delete relationships")
		return 0, repositories.DBError(table, "failed to delete relationships", err)
	}
	return result.RowsAffected()
}
