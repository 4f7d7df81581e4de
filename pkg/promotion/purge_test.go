package promotion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store/memstore"
)

func seedCategories(t *testing.T, st *memstore.Store) (models.CanonicalEntity, models.CanonicalEntity, models.CanonicalEntity) {
	t.Helper()
	ctx := context.Background()
	museum := models.CanonicalEntity{Kind: models.EntityFacility, Name: "MUSEU NACIONAL", Category: strPtr("PONTO TURÍSTICO")}
	park := models.CanonicalEntity{Kind: models.EntityFacility, Name: "PARQUE DA CIDADE", Category: strPtr("ponto turistico")}
	clinic := models.CanonicalEntity{Kind: models.EntityFacility, Name: "UBS CENTRO", Category: strPtr("SAÚDE")}
	for _, e := range []*models.CanonicalEntity{&museum, &park, &clinic} {
		require.NoError(t, st.InsertEntity(ctx, e))
	}
	guide := insertEntity(t, st, models.EntityProfessional, "GUIA LOCAL", nil)
	insertPairs(t, st, models.RelFacilityProfessional,
		models.Pair{LeftID: museum.ID, RightID: guide.ID},
		models.Pair{LeftID: clinic.ID, RightID: guide.ID},
	)
	return museum, park, clinic
}

func TestPurge_DeletesCategoryWithLinks(t *testing.T) {
	st := newStore()
	_, _, clinic := seedCategories(t, st)

	summary, err := newEngine(st).Purge(context.Background(), PurgeOptions{Kind: models.EntityFacility, Category: "Ponto Turístico"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.Entities)
	assert.Equal(t, int64(1), summary.Relationships)

	got := entities(t, st, models.EntityFacility)
	require.Len(t, got, 1)
	assert.Equal(t, clinic.ID, got[0].ID)
	assert.Len(t, pairs(t, st, models.RelFacilityProfessional), 1)
}

func TestPurge_Soft(t *testing.T) {
	st := newStore()
	seedCategories(t, st)

	summary, err := newEngine(st).Purge(context.Background(), PurgeOptions{Kind: models.EntityFacility, Category: "PONTO TURISTICO", Soft: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Deactivated)

	got := entities(t, st, models.EntityFacility)
	require.Len(t, got, 3)
	active := 0
	for _, e := range got {
		if e.Active {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Len(t, pairs(t, st, models.RelFacilityProfessional), 2)
}

func TestPurge_RequiresScope(t *testing.T) {
	st := newStore()
	seedCategories(t, st)

	_, err := newEngine(st).Purge(context.Background(), PurgeOptions{Kind: models.EntityFacility, Category: "  "})
	assert.ErrorIs(t, err, ErrPurgeScope)

	_, err = newEngine(st).Purge(context.Background(), PurgeOptions{Category: "SAÚDE"})
	assert.ErrorIs(t, err, ErrPurgeScope)
	assert.Len(t, entities(t, st, models.EntityFacility), 3)
}
