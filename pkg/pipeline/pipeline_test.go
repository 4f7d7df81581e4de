package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/promotion"
	"github.com/Ramsey-B/fern/pkg/sources"
	"github.com/Ramsey-B/fern/pkg/staging"
	"github.com/Ramsey-B/fern/pkg/store/memstore"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type runRecorder struct {
	runs []models.ImportRun
}

func (r *runRecorder) RunCompleted(_ context.Context, run models.ImportRun) error {
	r.runs = append(r.runs, run)
	return nil
}

func newPipeline(st *memstore.Store, cfg Config) *Pipeline {
	resolver := matching.NewResolver(testLogger())
	if cfg.Bounds == nil {
		cfg.Bounds = &normalizers.BoundingBox{MinLat: -25, MaxLat: -10, MinLng: -65, MaxLng: -50}
	}
	return New(st,
		staging.NewService(st, resolver, testLogger()),
		promotion.NewEngine(st, resolver, testLogger()),
		cfg, testLogger())
}

func writeSource(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const scenarioA = "Nome;SETOR;LATITUDE;LONGITUDE\n" +
	"----------------;HOTEL;-20.44;-54.64\n" +
	"Pousada Sol;POUSADA;95.2;-54.60\n" +
	"Hotel Nacional;HOTEL;-204426;-54,6462\n"

func TestImportThenPromote_ScenarioA(t *testing.T) {
	st := memstore.New()
	events := &runRecorder{}
	p := newPipeline(st, Config{Budget: time.Minute}).WithObserver(events)
	ctx := context.Background()

	imported, err := p.Import(ctx, ImportOptions{Source: sources.Spec{Location: writeSource(t, "unidades.csv", scenarioA)}})
	require.NoError(t, err)
	assert.Equal(t, 3, imported.Read)
	assert.Equal(t, sources.FormatDelimited, imported.Format)
	assert.Equal(t, sources.ProfileFacility, imported.Profile)
	assert.Equal(t, "unidades.csv", imported.Batch)
	assert.Equal(t, 1, imported.Staging.Statuses[models.StatusValidated])
	assert.Equal(t, 1, imported.Staging.Statuses[models.StatusPending])
	assert.Equal(t, 1, imported.Staging.Statuses[models.StatusRejected])
	assert.Equal(t, 1, imported.Staging.Reasons[models.ReasonMissingName])
	assert.Equal(t, 1, imported.Staging.Reasons[models.ReasonCoordinateFlagged])

	promoted, err := p.Promote(ctx, promotion.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, promoted.Summary.Created)
	assert.Equal(t, 0, promoted.Summary.Failed)

	entities, err := st.ListEntities(ctx, models.EntityFacility)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Hotel Nacional", entities[0].Name)
	require.NotNil(t, entities[0].Latitude)
	assert.InDelta(t, -20.4426, *entities[0].Latitude, 1e-9)

	pending, err := st.ListStaging(ctx, models.StagingFilter{Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Pousada Sol", pending[0].OriginalName)

	runs := st.Runs()
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, models.RunCompleted, run.Status)
		assert.NotNil(t, run.FinishedAt)
	}
	require.Len(t, events.runs, 2)
	assert.Equal(t, OperationImport, events.runs[0].Operation)
	assert.Equal(t, 3, events.runs[0].Processed)
	assert.Equal(t, OperationPromote, events.runs[1].Operation)
}

func TestImport_DryRunWritesNothing(t *testing.T) {
	st := memstore.New()
	events := &runRecorder{}
	p := newPipeline(st, Config{}).WithObserver(events)

	res, err := p.Import(context.Background(), ImportOptions{
		Source: sources.Spec{Location: writeSource(t, "unidades.csv", scenarioA)},
		DryRun: true,
	})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Staging.Statuses[models.StatusValidated])
	assert.Zero(t, res.Staging.Created)

	rows, err := st.ListStaging(context.Background(), models.StagingFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, st.Runs())
	assert.Empty(t, events.runs)
	audit, err := st.ListAudit(context.Background(), models.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestImport_ReimportIsIdempotent(t *testing.T) {
	st := memstore.New()
	p := newPipeline(st, Config{})
	ctx := context.Background()
	src := ImportOptions{Source: sources.Spec{Location: writeSource(t, "unidades.csv", scenarioA)}}

	_, err := p.Import(ctx, src)
	require.NoError(t, err)
	_, err = p.Promote(ctx, promotion.Options{})
	require.NoError(t, err)

	second, err := p.Import(ctx, src)
	require.NoError(t, err)
	assert.Zero(t, second.Staging.Created)
	assert.Equal(t, 2, second.Staging.Unchanged)

	promoted, err := p.Promote(ctx, promotion.Options{})
	require.NoError(t, err)
	assert.Zero(t, promoted.Summary.Rows())

	entities, err := st.ListEntities(ctx, models.EntityFacility)
	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestImport_SourceFormatErrorFailsRun(t *testing.T) {
	st := memstore.New()
	p := newPipeline(st, Config{})

	_, err := p.Import(context.Background(), ImportOptions{
		Source: sources.Spec{Location: writeSource(t, "bad.csv", "Nome,SETOR\n\"Hotel\"x,HOTEL\n")},
	})
	require.Error(t, err)
	assert.True(t, ferrors.IsSourceFormatError(err))

	rows, err := st.ListStaging(context.Background(), models.StagingFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	runs := st.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	require.NotNil(t, runs[0].Error)
}

func TestImport_BudgetExceeded(t *testing.T) {
	st := memstore.New()
	p := newPipeline(st, Config{Budget: 20 * time.Millisecond}).
		WithViewOpener(func(ctx context.Context, _ string) (database.Executor, func() error, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		})

	_, err := p.Import(context.Background(), ImportOptions{Source: sources.Spec{Location: "postgres://user@db/records"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	runs := st.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	assert.Equal(t, sources.DefaultView, batchName(ImportOptions{Source: sources.Spec{Location: "postgres://user@db/records"}}))
}

const facilitiesCSV = "Nome,Nº DO CADASTRO\nUBS Centro,2139006\nUPA Norte,2139014\n"

const professionalsListing = `CNES : 2139006 - UBS CENTRO
12345678901 700000000000001  MARIA DA SILVA           225125 - MEDICO CLINICO
12345678902 700000000000002  JOSE SANTOS              223505 - ENFERMEIRO
CNES : 2139014 - UPA NORTE
12345678901 700000000000001  MARIA DA SILVA           225125 - MEDICO CLINICO
`

func TestImport_ProfessionalsLinkToFacilities(t *testing.T) {
	st := memstore.New()
	p := newPipeline(st, Config{})
	ctx := context.Background()

	_, err := p.Import(ctx, ImportOptions{Source: sources.Spec{Location: writeSource(t, "unidades.csv", facilitiesCSV)}})
	require.NoError(t, err)
	_, err = p.Promote(ctx, promotion.Options{})
	require.NoError(t, err)

	imported, err := p.Import(ctx, ImportOptions{Source: sources.Spec{Location: writeSource(t, "profissionais.lst", professionalsListing)}})
	require.NoError(t, err)
	assert.Equal(t, sources.ProfileProfessional, imported.Profile)
	assert.Equal(t, 3, imported.Staging.Statuses[models.StatusValidated])

	promoted, err := p.Promote(ctx, promotion.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, promoted.Summary.Created)
	// the second assignment of the same person changes nothing on the entity
	assert.Equal(t, 1, promoted.Summary.Skipped)

	professionals, err := st.ListEntities(ctx, models.EntityProfessional)
	require.NoError(t, err)
	assert.Len(t, professionals, 2)
	specialties, err := st.ListEntities(ctx, models.EntitySpecialty)
	require.NoError(t, err)
	assert.Len(t, specialties, 2)

	counts := map[models.RelationshipKind]int{}
	for _, rel := range models.RelationshipKinds() {
		pairs, err := st.ListPairs(ctx, rel)
		require.NoError(t, err)
		counts[rel] = len(pairs)
	}
	assert.Equal(t, 3, counts[models.RelFacilityProfessional])
	assert.Equal(t, 2, counts[models.RelProfessionalSpecialty])
	assert.Equal(t, 3, counts[models.RelFacilitySpecialty])
}
