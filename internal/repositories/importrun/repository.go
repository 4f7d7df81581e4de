package importrun

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "import_runs"

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ store.ImportRunStore = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) CreateRun(ctx context.Context, run *models.ImportRun) error {
	ctx, span := tracing.StartSpan(ctx, "importrun.Repository.CreateRun")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(table).
		Cols("id", "operation", "source", "profile", "status", "processed", "succeeded", "failed", "error", "started_at").
		Values(run.ID, run.Operation, run.Source, run.Profile, run.Status, run.Processed, run.Succeeded, run.Failed, run.Error, run.StartedAt)
	query, args := ib.Build()

	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", run.ID).Error("Failed to create import run")
		return repositories.DBError(table, "failed to create import run", err)
	}
	return nil
}

func (r *Repository) FinishRun(ctx context.Context, run *models.ImportRun) error {
	ctx, span := tracing.StartSpan(ctx, "importrun.Repository.FinishRun")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("profile", run.Profile),
		ub.Assign("status", run.Status),
		ub.Assign("processed", run.Processed),
		ub.Assign("succeeded", run.Succeeded),
		ub.Assign("failed", run.Failed),
		ub.Assign("error", run.Error),
		ub.Assign("finished_at", run.FinishedAt),
	)
	ub.Where(ub.Equal("id", run.ID))
	query, args := ub.Build()

	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", run.ID).Error("Failed to finish import run")
		return repositories.DBError(table, "failed to finish import run", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "import run %s not found", run.ID)
	}
	return nil
}
