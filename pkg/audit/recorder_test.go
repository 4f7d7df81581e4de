package audit

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fcontext "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store/memstore"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestActorParam(t *testing.T) {
	assert.Equal(t, "", actorParam(context.Background()))
	assert.Equal(t, "ops@fern", actorParam(fcontext.SetActor(context.Background(), "ops@fern")))
}

func TestSetActorQuery(t *testing.T) {
	assert.Equal(t, "SELECT set_config('fern.actor_id', $1, true)", setActorQuery)
}

func TestList(t *testing.T) {
	st := memstore.New()
	ctx := fcontext.SetActor(context.Background(), "ops@fern")

	for i := 0; i < DefaultListLimit+5; i++ {
		require.NoError(t, st.WithinTx(ctx, func(ctx context.Context) error {
			return st.InsertEntity(ctx, &models.CanonicalEntity{Kind: models.EntityFacility, Name: "Hotel"})
		}))
	}

	rec := NewRecorder(nil, st, testLogger())

	entries, err := rec.List(context.Background(), models.AuditFilter{TableName: "facilities"})
	require.NoError(t, err)
	require.Len(t, entries, DefaultListLimit)
	assert.Equal(t, int64(6), entries[0].RecordID)
	require.NotNil(t, entries[0].ActorID)
	assert.Equal(t, "ops@fern", *entries[0].ActorID)

	entries, err = rec.List(context.Background(), models.AuditFilter{TableName: "facilities", RecordID: 3, Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditInsert, entries[0].Operation)
}
