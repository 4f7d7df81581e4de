package promotion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store/memstore"
)

func insertEntity(t *testing.T, st *memstore.Store, kind models.EntityKind, name string, key *string) models.CanonicalEntity {
	t.Helper()
	e := models.CanonicalEntity{Kind: kind, Name: name, NaturalKey: key}
	require.NoError(t, st.InsertEntity(context.Background(), &e))
	return e
}

func insertPairs(t *testing.T, st *memstore.Store, kind models.RelationshipKind, p ...models.Pair) {
	t.Helper()
	_, err := st.InsertPairs(context.Background(), kind, p)
	require.NoError(t, err)
}

func TestCollapse_KeepsEarliestAndMigratesLinks(t *testing.T) {
	st := newStore()
	kept := insertEntity(t, st, models.EntityFacility, "Hospital Regional", nil)
	dup := insertEntity(t, st, models.EntityFacility, "HOSPITAL  REGIONAL", nil)
	other := insertEntity(t, st, models.EntityFacility, "UBS CENTRO", nil)
	ana := insertEntity(t, st, models.EntityProfessional, "ANA SILVA", nil)
	bia := insertEntity(t, st, models.EntityProfessional, "BIA COSTA", nil)

	insertPairs(t, st, models.RelFacilityProfessional,
		models.Pair{LeftID: kept.ID, RightID: ana.ID},
		models.Pair{LeftID: dup.ID, RightID: ana.ID},
		models.Pair{LeftID: dup.ID, RightID: bia.ID},
		models.Pair{LeftID: other.ID, RightID: bia.ID},
	)

	summary, err := newEngine(st).Collapse(context.Background(), models.EntityFacility)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Groups)
	assert.Equal(t, int64(1), summary.Removed)
	assert.Equal(t, int64(2), summary.PairsDeleted)
	assert.Equal(t, int64(1), summary.PairsMigrated)

	facilities := entities(t, st, models.EntityFacility)
	require.Len(t, facilities, 2)
	assert.Equal(t, kept.ID, facilities[0].ID)

	assert.ElementsMatch(t, []models.Pair{
		{LeftID: kept.ID, RightID: ana.ID},
		{LeftID: kept.ID, RightID: bia.ID},
		{LeftID: other.ID, RightID: bia.ID},
	}, pairs(t, st, models.RelFacilityProfessional))

	// nothing left to collapse
	summary, err = newEngine(st).Collapse(context.Background(), models.EntityFacility)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Groups)
}

func TestCollapse_RightSideLinks(t *testing.T) {
	st := newStore()
	ana := insertEntity(t, st, models.EntityProfessional, "ANA SILVA", nil)
	kept := insertEntity(t, st, models.EntitySpecialty, "CARDIOLOGIA", nil)
	dup := insertEntity(t, st, models.EntitySpecialty, "Cardiologia", nil)
	insertPairs(t, st, models.RelProfessionalSpecialty, models.Pair{LeftID: ana.ID, RightID: dup.ID})

	_, err := newEngine(st).Collapse(context.Background(), models.EntitySpecialty)
	require.NoError(t, err)

	assert.Equal(t, []models.Pair{{LeftID: ana.ID, RightID: kept.ID}}, pairs(t, st, models.RelProfessionalSpecialty))
	assert.Len(t, entities(t, st, models.EntitySpecialty), 1)
}

func TestCollapse_ConflictingKeysLeftAlone(t *testing.T) {
	st := newStore()
	insertEntity(t, st, models.EntityFacility, "FARMÁCIA POPULAR", strPtr("111"))
	insertEntity(t, st, models.EntityFacility, "FARMÁCIA POPULAR", strPtr("222"))

	summary, err := newEngine(st).Collapse(context.Background(), models.EntityFacility)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Conflicts)
	assert.Equal(t, 0, summary.Groups)
	assert.Len(t, entities(t, st, models.EntityFacility), 2)
}

func TestCollapse_KeptEntityAdoptsDuplicateKey(t *testing.T) {
	st := newStore()
	kept := insertEntity(t, st, models.EntityFacility, "UBS NORTE", nil)
	insertEntity(t, st, models.EntityFacility, "UBS NORTE", strPtr("2019876"))

	summary, err := newEngine(st).Collapse(context.Background(), models.EntityFacility)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Groups)
	assert.Equal(t, int64(1), summary.Removed)

	got := entities(t, st, models.EntityFacility)
	require.Len(t, got, 1)
	assert.Equal(t, kept.ID, got[0].ID)
	require.NotNil(t, got[0].NaturalKey)
	assert.Equal(t, "2019876", *got[0].NaturalKey)

	byKey, err := st.FindByNaturalKey(context.Background(), models.EntityFacility, "2019876")
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, kept.ID, byKey.ID)
}

func TestCollapse_GroupFailureRollsBack(t *testing.T) {
	st := newStore()
	insertEntity(t, st, models.EntityFacility, "UBS SUL", nil)
	dup := insertEntity(t, st, models.EntityFacility, "UBS SUL", nil)
	ana := insertEntity(t, st, models.EntityProfessional, "ANA SILVA", nil)
	insertPairs(t, st, models.RelFacilityProfessional, models.Pair{LeftID: dup.ID, RightID: ana.ID})

	st.Hooks.BeforeDelete = func(table string, _ []int64) error {
		if table == "facilities" {
			return assert.AnError
		}
		return nil
	}

	summary, err := newEngine(st).Collapse(context.Background(), models.EntityFacility)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, entities(t, st, models.EntityFacility), 2)
	assert.Equal(t, []models.Pair{{LeftID: dup.ID, RightID: ana.ID}}, pairs(t, st, models.RelFacilityProfessional),
		"links must be restored when the group fails")
}

// Legacy duplicates that predate exact-name upserts are merged by the promotion run itself.
func TestPromote_CollapsesLegacyDuplicates(t *testing.T) {
	st := newStore()
	first := insertEntity(t, st, models.EntityFacility, "HOSPITAL REGIONAL", nil)
	insertEntity(t, st, models.EntityFacility, "Hospital Regional", nil)

	stageValidated(t, st, "2024", 1, rowSpec{kind: models.EntityFacility, name: "HOSPITAL REGIONAL", phone: strPtr("6133334444")})

	summary, err := newEngine(st).Promote(context.Background(), Options{CollapseDuplicates: true})
	require.NoError(t, err)

	require.NotNil(t, summary.Collapse)
	assert.Equal(t, int64(1), summary.Collapse.Removed)
	assert.Equal(t, 1, summary.Updated)

	got := entities(t, st, models.EntityFacility)
	require.Len(t, got, 1)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, "6133334444", *got[0].Phone)
}
