package canonical

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

var columns = []string{
	"id", "natural_key", "name", "category", "address", "district", "phone", "hours",
	"latitude", "longitude", "attributes", "active", "created_at", "updated_at",
}

// Repository reads and writes the facilities, professionals and specialties tables.
// The table is picked from the entity kind of each call.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ store.EntityStore = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func tableFor(kind models.EntityKind) (string, error) {
	if !kind.Valid() {
		return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity kind %q", kind)
	}
	return kind.Table(), nil
}

func (r *Repository) selectEntities(ctx context.Context, kind models.EntityKind, sb *database.SelectBuilder) ([]models.CanonicalEntity, error) {
	sb.OrderBy("created_at", "id")
	query, args := sb.Build()

	var entities []models.CanonicalEntity
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("kind", kind).Error("Failed to list entities")
		return nil, repositories.DBError(kind.Table(), "failed to list entities", err)
	}
	for i := range entities {
		entities[i].Kind = kind
	}
	return entities, nil
}

func (r *Repository) ListEntities(ctx context.Context, kind models.EntityKind) ([]models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.ListEntities")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table)
	return r.selectEntities(ctx, kind, sb)
}

// FindByNaturalKey returns nil when no entity carries key
func (r *Repository) FindByNaturalKey(ctx context.Context, kind models.EntityKind, key string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.FindByNaturalKey")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	normalized := models.NormalizeKey(&key)
	if normalized == nil {
		return nil, nil
	}
	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table)
	sb.Where(sb.Equal("natural_key", *normalized))

	found, err := r.selectEntities(ctx, kind, sb)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

// FindByName compares whitespace-collapsed upper-cased names, the same key NameKey builds.
func (r *Repository) FindByName(ctx context.Context, kind models.EntityKind, name string) ([]models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.FindByName")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	sb := database.NewSelectBuilder()
	sb.Select(columns...).From(table)
	sb.Where("upper(regexp_replace(btrim(name), '\\s+', ' ', 'g')) = " + sb.Var(models.NameKey(name)))
	return r.selectEntities(ctx, kind, sb)
}

func (r *Repository) InsertEntity(ctx context.Context, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.InsertEntity")
	defer span.End()

	table, err := tableFor(entity.Kind)
	if err != nil {
		return err
	}
	if entity.Attributes.Data == nil {
		entity.Attributes = database.NewJSONB(map[string]string{})
	}
	entity.NaturalKey = models.NormalizeKey(entity.NaturalKey)
	now := time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto(table).
		Cols("natural_key", "name", "category", "address", "district", "phone", "hours",
			"latitude", "longitude", "attributes", "active", "created_at", "updated_at").
		Values(entity.NaturalKey, entity.Name, entity.Category, entity.Address, entity.District, entity.Phone, entity.Hours,
			entity.Latitude, entity.Longitude, entity.Attributes, true, now, now)
	query, args := ib.Build()
	query += " RETURNING id"

	var id int64
	if err := database.Conn(ctx, r.db).GetContext(ctx, &id, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind": entity.Kind,
			"name": entity.Name,
		}).Error("Failed to insert entity")
		return repositories.DBError(table, "failed to insert entity", err)
	}
	entity.ID = id
	entity.Active = true
	entity.CreatedAt, entity.UpdatedAt = now, now
	return nil
}

// UpdateEntity leaves a stored natural key alone; only a null one is filled in.
func (r *Repository) UpdateEntity(ctx context.Context, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.UpdateEntity")
	defer span.End()

	table, err := tableFor(entity.Kind)
	if err != nil {
		return err
	}
	if entity.Attributes.Data == nil {
		entity.Attributes = database.NewJSONB(map[string]string{})
	}
	entity.NaturalKey = models.NormalizeKey(entity.NaturalKey)

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		"natural_key = COALESCE(natural_key, "+ub.Var(entity.NaturalKey)+")",
		ub.Assign("category", entity.Category),
		ub.Assign("address", entity.Address),
		ub.Assign("district", entity.District),
		ub.Assign("phone", entity.Phone),
		ub.Assign("hours", entity.Hours),
		ub.Assign("latitude", entity.Latitude),
		ub.Assign("longitude", entity.Longitude),
		ub.Assign("attributes", entity.Attributes),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", entity.ID))
	query, args := ub.Build()
	query += " RETURNING natural_key, created_at, updated_at"

	var out struct {
		NaturalKey *string   `db:"natural_key"`
		CreatedAt  time.Time `db:"created_at"`
		UpdatedAt  time.Time `db:"updated_at"`
	}
	if err := database.Conn(ctx, r.db).GetContext(ctx, &out, query, args...); err != nil {
		if database.IsNoRows(err) {
			return httperror.NewHTTPErrorf(http.StatusNotFound, "%s %d not found", entity.Kind, entity.ID)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind": entity.Kind,
			"id":   entity.ID,
		}).Error("Failed to update entity")
		return repositories.DBError(table, "failed to update entity", err)
	}
	entity.NaturalKey = out.NaturalKey
	entity.CreatedAt, entity.UpdatedAt = out.CreatedAt, out.UpdatedAt
	return nil
}

// DeleteEntities fails with a constraint violation while any junction row still references one of ids.
func (r *Repository) DeleteEntities(ctx context.Context, kind models.EntityKind, ids []int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.DeleteEntities")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	dlb := database.NewDeleteBuilder()
	dlb.DeleteFrom(table)
	dlb.Where("id = ANY(" + dlb.Var(pq.Array(ids)) + ")")
	query, args := dlb.Build()

	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":  kind,
			"count": len(ids),
		}).Error("Failed to delete entities")
		return 0, repositories.DBError(table, "failed to delete entities", err)
	}
	return result.RowsAffected()
}

// SetActive only touches rows whose flag differs, so the audit log sees real changes only.
func (r *Repository) SetActive(ctx context.Context, kind models.EntityKind, ids []int64, active bool) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "canonical.Repository.SetActive")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("active", active),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		"id = ANY("+ub.Var(pq.Array(ids))+")",
		ub.NotEqual("active", active),
	)
	query, args := ub.Build()

	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, repositories.DBError(table, "failed to set entity active flag", err)
	}
	return result.RowsAffected()
}
