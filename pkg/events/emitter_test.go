package events

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fcontext "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/promotion"
)

type fakePublisher struct {
	messages []kafka.Message
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, messages ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, messages...)
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestEmitter_EntityChanged(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEmitter(pub, testLogger())
	ctx := fcontext.SetRunID(context.Background(), "run-1")

	entity := models.CanonicalEntity{ID: 7, Kind: models.EntityFacility, Name: "UBS CENTRO"}
	require.NoError(t, e.EntityChanged(ctx, entity, promotion.OutcomeCreated))
	require.NoError(t, e.EntityChanged(ctx, entity, promotion.OutcomeUpdated))

	require.Len(t, pub.messages, 2)
	assert.Equal(t, "facility:7", pub.messages[0].Key)
	assert.Equal(t, string(EventTypeEntityCreated), pub.messages[0].EventType)
	assert.Equal(t, string(EventTypeEntityUpdated), pub.messages[1].EventType)

	event, ok := pub.messages[0].Payload.(EntityEvent)
	require.True(t, ok)
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, SchemaVersion, event.SchemaVersion)
	assert.Equal(t, "UBS CENTRO", event.Name)
}

func TestEmitter_PairsInserted(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEmitter(pub, testLogger())

	err := e.PairsInserted(context.Background(), models.RelFacilityProfessional, []models.Pair{
		{LeftID: 1, RightID: 2},
		{LeftID: 1, RightID: 3},
	})
	require.NoError(t, err)
	require.Len(t, pub.messages, 2)

	event, ok := pub.messages[1].Payload.(RelationshipEvent)
	require.True(t, ok)
	assert.Equal(t, models.EntityFacility, event.LeftKind)
	assert.Equal(t, models.EntityProfessional, event.RightKind)
	assert.Equal(t, int64(3), event.RightID)

	require.NoError(t, e.PairsInserted(context.Background(), models.RelFacilityProfessional, nil))
	assert.Len(t, pub.messages, 2)
}

func TestEmitter_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	e := NewEmitter(pub, testLogger())

	err := e.RunCompleted(context.Background(), models.ImportRun{ID: "run-1", Status: models.RunCompleted})
	assert.EqualError(t, err, "broker down")
}
