package promotion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fcontext "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store/memstore"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func strPtr(s string) *string { return &s }

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newStore() *memstore.Store {
	c := &clock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	return memstore.New().WithClock(c.now)
}

func newEngine(st Store) *Engine {
	return NewEngine(st, matching.NewResolver(testLogger()), testLogger())
}

type rowSpec struct {
	kind  models.EntityKind
	name  string
	key   *string
	phone *string
	refs  []models.RelatedRef
}

// stageValidated writes a validated staging row the way the staging service would.
func stageValidated(t *testing.T, st *memstore.Store, batch string, index int, spec rowSpec) int64 {
	t.Helper()
	rec := models.NormalizedRecord{
		EntityKind:   spec.kind,
		Name:         strPtr(spec.name),
		OriginalName: spec.name,
		NaturalKey:   spec.key,
		Phone:        spec.phone,
		RelatedRefs:  spec.refs,
	}
	row := &models.StagingRow{
		EntityKind:       spec.kind,
		SourceBatch:      batch,
		SourceKey:        fmt.Sprintf("%s-%d", batch, index),
		SourceIndex:      index,
		OriginalName:     spec.name,
		RawData:          database.NewJSONB(map[string]string{"nome": spec.name}),
		Normalized:       database.NewJSONB(rec),
		ProcessingStatus: models.StatusValidated,
	}
	_, err := st.UpsertStaging(context.Background(), row)
	require.NoError(t, err)
	return row.ID
}

func facilityRef(name string) models.RelatedRef {
	return models.RelatedRef{Kind: models.EntityFacility, Name: name}
}

func specialtyRef(name string) models.RelatedRef {
	return models.RelatedRef{Kind: models.EntitySpecialty, Name: name}
}

func entities(t *testing.T, st *memstore.Store, kind models.EntityKind) []models.CanonicalEntity {
	t.Helper()
	out, err := st.ListEntities(context.Background(), kind)
	require.NoError(t, err)
	return out
}

func pairs(t *testing.T, st *memstore.Store, kind models.RelationshipKind) []models.Pair {
	t.Helper()
	rels, err := st.ListPairs(context.Background(), kind)
	require.NoError(t, err)
	out := make([]models.Pair, len(rels))
	for i, r := range rels {
		out[i] = r.Pair()
	}
	return out
}

func auditCount(t *testing.T, st *memstore.Store) int {
	t.Helper()
	entries, err := st.ListAudit(context.Background(), models.AuditFilter{})
	require.NoError(t, err)
	return len(entries)
}

func seedProfessionalBatch(t *testing.T, st *memstore.Store) {
	stageValidated(t, st, "b1", 1, rowSpec{kind: models.EntityFacility, name: "UBS CENTRO"})
	stageValidated(t, st, "b1", 2, rowSpec{
		kind: models.EntityProfessional,
		name: "ANA SILVA",
		refs: []models.RelatedRef{facilityRef("UBS CENTRO"), specialtyRef("CARDIOLOGIA")},
	})
}

func TestPromote_CreatesEntitiesAndLinks(t *testing.T) {
	st := newStore()
	seedProfessionalBatch(t, st)

	summary, err := newEngine(st).Promote(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Unmatched)
	assert.Equal(t, int64(3), summary.RelationshipsInserted)

	facilities := entities(t, st, models.EntityFacility)
	professionals := entities(t, st, models.EntityProfessional)
	specialties := entities(t, st, models.EntitySpecialty)
	require.Len(t, facilities, 1)
	require.Len(t, professionals, 1)
	require.Len(t, specialties, 1)

	assert.Equal(t, []models.Pair{{LeftID: facilities[0].ID, RightID: professionals[0].ID}}, pairs(t, st, models.RelFacilityProfessional))
	assert.Equal(t, []models.Pair{{LeftID: professionals[0].ID, RightID: specialties[0].ID}}, pairs(t, st, models.RelProfessionalSpecialty))
	assert.Equal(t, []models.Pair{{LeftID: facilities[0].ID, RightID: specialties[0].ID}}, pairs(t, st, models.RelFacilitySpecialty))

	rows, err := st.ListStaging(context.Background(), models.StagingFilter{UnpromotedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPromote_Idempotent(t *testing.T) {
	st := newStore()
	seedProfessionalBatch(t, st)
	engine := newEngine(st)

	_, err := engine.Promote(context.Background(), Options{})
	require.NoError(t, err)
	before := auditCount(t, st)

	again, err := engine.Promote(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Rows())
	assert.Equal(t, int64(0), again.RelationshipsInserted)

	all, err := engine.Promote(context.Background(), Options{All: true})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Skipped)
	assert.Equal(t, 0, all.Created+all.Updated)
	assert.Equal(t, int64(0), all.RelationshipsInserted)

	assert.Equal(t, before, auditCount(t, st), "re-promotion must not touch production rows")
}

func TestPromote_ExactNameAcrossBatches(t *testing.T) {
	st := newStore()
	engine := newEngine(st)

	stageValidated(t, st, "2023", 1, rowSpec{kind: models.EntityFacility, name: "Hospital Regional"})
	_, err := engine.Promote(context.Background(), Options{})
	require.NoError(t, err)

	stageValidated(t, st, "2024", 1, rowSpec{kind: models.EntityFacility, name: "HOSPITAL REGIONAL", phone: strPtr("6133334444")})
	summary, err := engine.Promote(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Updated)
	got := entities(t, st, models.EntityFacility)
	require.Len(t, got, 1)
	assert.Equal(t, "Hospital Regional", got[0].Name)
	assert.Equal(t, "6133334444", *got[0].Phone)
}

func TestPromote_NaturalKeyNeverReplaced(t *testing.T) {
	st := newStore()
	engine := newEngine(st)

	stageValidated(t, st, "b1", 1, rowSpec{kind: models.EntityFacility, name: "UPA NORTE"})
	_, err := engine.Promote(context.Background(), Options{})
	require.NoError(t, err)

	// a missing key is adopted once
	stageValidated(t, st, "b2", 1, rowSpec{kind: models.EntityFacility, name: "UPA NORTE", key: strPtr("111")})
	summary, err := engine.Promote(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	got := entities(t, st, models.EntityFacility)
	require.Len(t, got, 1)
	assert.Equal(t, "111", *got[0].NaturalKey)

	// a different key under the same name is a different entity
	stageValidated(t, st, "b3", 1, rowSpec{kind: models.EntityFacility, name: "UPA NORTE", key: strPtr("222")})
	summary, err = engine.Promote(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	got = entities(t, st, models.EntityFacility)
	require.Len(t, got, 2)
	assert.Equal(t, "111", *got[0].NaturalKey)
	assert.Equal(t, "222", *got[1].NaturalKey)
}

func TestPromote_NaturalKeyCaseInsensitive(t *testing.T) {
	st := newStore()
	engine := newEngine(st)

	stageValidated(t, st, "b1", 1, rowSpec{kind: models.EntitySpecialty, name: "CLINICO GERAL", key: strPtr("ab12")})
	_, err := engine.Promote(context.Background(), Options{})
	require.NoError(t, err)

	stageValidated(t, st, "b2", 1, rowSpec{kind: models.EntitySpecialty, name: "MEDICO CLINICO", key: strPtr(" AB12 ")})
	summary, err := engine.Promote(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)

	got := entities(t, st, models.EntitySpecialty)
	require.Len(t, got, 1)
	assert.Equal(t, "AB12", *got[0].NaturalKey)

	found, err := st.FindByNaturalKey(context.Background(), models.EntitySpecialty, "ab12")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, got[0].ID, found.ID)
}

func TestPromote_UnmatchedRefStaysUnpromoted(t *testing.T) {
	st := newStore()
	engine := newEngine(st)

	profRow := stageValidated(t, st, "b1", 1, rowSpec{
		kind: models.EntityProfessional,
		name: "CARLOS LIMA",
		refs: []models.RelatedRef{facilityRef("HOSPITAL DAS FLORES")},
	})

	summary, err := engine.Promote(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Unmatched)
	require.Len(t, summary.Unresolved, 1)
	assert.Equal(t, "HOSPITAL DAS FLORES", summary.Unresolved[0].RefName)

	rows, err := st.ListStaging(context.Background(), models.StagingFilter{IDs: []int64{profRow}})
	require.NoError(t, err)
	assert.Nil(t, rows[0].PromotedAt)

	stageValidated(t, st, "b1", 2, rowSpec{kind: models.EntityFacility, name: "HOSPITAL DAS FLORES"})
	summary, err = engine.Promote(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Unmatched)
	assert.Equal(t, int64(1), summary.RelationshipsInserted)

	rows, err = st.ListStaging(context.Background(), models.StagingFilter{IDs: []int64{profRow}})
	require.NoError(t, err)
	assert.NotNil(t, rows[0].PromotedAt)
}

func TestPromote_AmbiguousRefIsUnmatched(t *testing.T) {
	st := newStore()
	engine := newEngine(st)

	stageValidated(t, st, "b1", 1, rowSpec{kind: models.EntityFacility, name: "FARMÁCIA CENTRAL LESTE"})
	stageValidated(t, st, "b1", 2, rowSpec{kind: models.EntityFacility, name: "FARMÁCIA CENTRAL OESTE"})
	stageValidated(t, st, "b1", 3, rowSpec{
		kind: models.EntityProfessional,
		name: "JOANA PRADO",
		refs: []models.RelatedRef{facilityRef("FARMÁCIA CENTRAL")},
	})

	summary, err := engine.Promote(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unmatched)
	require.Len(t, summary.Unresolved, 1)
	assert.True(t, summary.Unresolved[0].Ambiguous)
	assert.Empty(t, pairs(t, st, models.RelFacilityProfessional))
}

func TestPromote_RowFailureIsolated(t *testing.T) {
	st := newStore()
	st.Hooks.BeforeInsertEntity = func(entity *models.CanonicalEntity) error {
		if entity.Name == "QUEBRADO" {
			return &ferrors.ConstraintViolation{Table: "facilities", Constraint: "facilities_name_check"}
		}
		return nil
	}

	stageValidated(t, st, "b1", 1, rowSpec{kind: models.EntityFacility, name: "UBS SUL"})
	stageValidated(t, st, "b1", 2, rowSpec{kind: models.EntityFacility, name: "QUEBRADO"})
	stageValidated(t, st, "b1", 3, rowSpec{kind: models.EntityFacility, name: "UBS LESTE"})

	summary, err := newEngine(st).Promote(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 2, summary.Failures[0].RowIndex)
	assert.Equal(t, "QUEBRADO", summary.Failures[0].Name)
	assert.Equal(t, ferrors.KindConstraint, summary.Failures[0].Kind)
	assert.Len(t, entities(t, st, models.EntityFacility), 2)
}

func TestPromote_SpecialtyFailureRollsBackRow(t *testing.T) {
	st := newStore()
	st.Hooks.BeforeInsertEntity = func(entity *models.CanonicalEntity) error {
		if entity.Kind == models.EntitySpecialty {
			return errors.New("specialty rejected")
		}
		return nil
	}

	stageValidated(t, st, "b1", 1, rowSpec{
		kind: models.EntityProfessional,
		name: "PEDRO ALVES",
		refs: []models.RelatedRef{specialtyRef("PEDIATRIA")},
	})

	summary, err := newEngine(st).Promote(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, entities(t, st, models.EntityProfessional), "the professional insert must roll back with its row")
}

func TestPromote_ConnectivityAborts(t *testing.T) {
	st := newStore()
	st.Hooks.BeforeInsertEntity = func(*models.CanonicalEntity) error {
		return ferrors.NewConnectivityError("postgres", errors.New("connection reset by peer"))
	}
	stageValidated(t, st, "b1", 1, rowSpec{kind: models.EntityFacility, name: "UBS SUL"})
	stageValidated(t, st, "b1", 2, rowSpec{kind: models.EntityFacility, name: "UBS NORTE"})

	_, err := newEngine(st).Promote(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, ferrors.IsConnectivityError(err))
}

func TestPromote_CandidateLoadFailureIsolated(t *testing.T) {
	st := newStore()
	failures := 1
	st.Hooks.BeforeList = func(kind models.EntityKind) error {
		if kind == models.EntityFacility && failures > 0 {
			failures--
			return errors.New("statement timeout")
		}
		return nil
	}

	stageValidated(t, st, "b1", 1, rowSpec{kind: models.EntityFacility, name: "UBS CENTRO"})
	ana := stageValidated(t, st, "b1", 2, rowSpec{kind: models.EntityProfessional, name: "ANA SILVA", refs: []models.RelatedRef{facilityRef("UBS CENTRO")}})
	stageValidated(t, st, "b1", 3, rowSpec{kind: models.EntityProfessional, name: "BIA COSTA", refs: []models.RelatedRef{facilityRef("UBS CENTRO")}})

	summary, err := newEngine(st).Promote(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "ANA SILVA", summary.Failures[0].Name)
	assert.Equal(t, 2, summary.Created)
	assert.Len(t, pairs(t, st, models.RelFacilityProfessional), 1)

	professionals := entities(t, st, models.EntityProfessional)
	require.Len(t, professionals, 1)
	assert.Equal(t, "BIA COSTA", professionals[0].Name)

	rows, err := st.ListStaging(context.Background(), models.StagingFilter{IDs: []int64{ana}})
	require.NoError(t, err)
	assert.Nil(t, rows[0].PromotedAt)
}

func TestPromote_CandidateLoadConnectivityAborts(t *testing.T) {
	st := newStore()
	st.Hooks.BeforeList = func(models.EntityKind) error {
		return ferrors.NewConnectivityError("postgres", errors.New("connection reset by peer"))
	}
	stageValidated(t, st, "b1", 1, rowSpec{kind: models.EntityProfessional, name: "ANA SILVA", refs: []models.RelatedRef{facilityRef("UBS CENTRO")}})

	_, err := newEngine(st).Promote(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, ferrors.IsConnectivityError(err))
}

func TestPromote_AuditCarriesActor(t *testing.T) {
	st := newStore()
	stageValidated(t, st, "b1", 1, rowSpec{kind: models.EntityFacility, name: "UBS SUL"})

	ctx := fcontext.SetActor(context.Background(), "ops@fern")
	_, err := newEngine(st).Promote(ctx, Options{})
	require.NoError(t, err)

	entries, err := st.ListAudit(context.Background(), models.AuditFilter{TableName: "facilities"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditInsert, entries[0].Operation)
	require.NotNil(t, entries[0].ActorID)
	assert.Equal(t, "ops@fern", *entries[0].ActorID)
}

func TestPromote_OrderIndependent(t *testing.T) {
	specs := []rowSpec{
		{kind: models.EntityFacility, name: "CLÍNICA BOA VISTA"},
		{kind: models.EntityFacility, name: "HOSPITAL SANTA LUZIA"},
		{kind: models.EntityProfessional, name: "RITA GOMES", refs: []models.RelatedRef{facilityRef("BOA VISTA"), specialtyRef("DERMATOLOGIA")}},
		{kind: models.EntityProfessional, name: "JOSÉ NUNES", refs: []models.RelatedRef{facilityRef("HOSPITAL SANTA LUZIA"), specialtyRef("ORTOPEDIA")}},
	}

	links := func(order []int) []string {
		st := newStore()
		for i, idx := range order {
			stageValidated(t, st, "b1", i+1, specs[idx])
		}
		_, err := newEngine(st).Promote(context.Background(), Options{})
		require.NoError(t, err)

		names := map[models.EntityKind]map[int64]string{}
		for _, kind := range models.EntityKinds() {
			names[kind] = map[int64]string{}
			for _, e := range entities(t, st, kind) {
				names[kind][e.ID] = e.Name
			}
		}
		var out []string
		for _, rel := range models.RelationshipKinds() {
			for _, p := range pairs(t, st, rel) {
				out = append(out, fmt.Sprintf("%s:%s->%s", rel, names[rel.Left()][p.LeftID], names[rel.Right()][p.RightID]))
			}
		}
		sort.Strings(out)
		return out
	}

	forward := links([]int{0, 1, 2, 3})
	assert.Len(t, forward, 6)
	assert.Equal(t, forward, links([]int{3, 2, 1, 0}))
	assert.Equal(t, forward, links([]int{2, 0, 3, 1}))
}

type recordingObserver struct {
	entities []Outcome
	pairs    int
}

func (r *recordingObserver) EntityChanged(_ context.Context, _ models.CanonicalEntity, outcome Outcome) error {
	r.entities = append(r.entities, outcome)
	return nil
}

func (r *recordingObserver) PairsInserted(_ context.Context, _ models.RelationshipKind, p []models.Pair) error {
	r.pairs += len(p)
	return errors.New("observer errors are only logged")
}

func TestPromote_NotifiesObservers(t *testing.T) {
	st := newStore()
	seedProfessionalBatch(t, st)
	obs := &recordingObserver{}

	_, err := newEngine(st).WithObserver(obs).Promote(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []Outcome{OutcomeCreated, OutcomeCreated, OutcomeCreated}, obs.entities)
	assert.Equal(t, 3, obs.pairs)
}
