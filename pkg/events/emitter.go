// Package events publishes lifecycle events for promoted entities and links
package events

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	fcontext "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/promotion"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Publisher is satisfied by *kafka.Producer
type Publisher interface {
	Publish(ctx context.Context, messages ...kafka.Message) error
}

// Emitter turns promotion changes into events
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

var _ promotion.Observer = (*Emitter)(nil)

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

func entityKey(kind models.EntityKind, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

// EntityChanged emits entity.created or entity.updated
func (e *Emitter) EntityChanged(ctx context.Context, entity models.CanonicalEntity, outcome promotion.Outcome) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntityChanged")
	defer span.End()

	eventType := EventTypeEntityUpdated
	if outcome == promotion.OutcomeCreated {
		eventType = EventTypeEntityCreated
	}

	event := EntityEvent{
		BaseEvent:  NewBaseEvent(eventType, fcontext.GetRunID(ctx)),
		EntityKind: entity.Kind,
		EntityID:   entity.ID,
		NaturalKey: entity.NaturalKey,
		Name:       entity.Name,
		Fields:     entity.Fields(),
	}

	err := e.publisher.Publish(ctx, kafka.Message{
		Key:       entityKey(entity.Kind, entity.ID),
		EventType: string(eventType),
		Payload:   event,
	})
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
		tracing.RecordError(span, err)
		return err
	}
	return nil
}

// PairsInserted emits one relationship.created event per pair, in a single batch
func (e *Emitter) PairsInserted(ctx context.Context, kind models.RelationshipKind, pairs []models.Pair) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.PairsInserted")
	defer span.End()

	if len(pairs) == 0 {
		return nil
	}

	runID := fcontext.GetRunID(ctx)
	messages := make([]kafka.Message, len(pairs))
	for i, p := range pairs {
		messages[i] = kafka.Message{
			Key:       entityKey(kind.Left(), p.LeftID),
			EventType: string(EventTypeRelationshipCreated),
			Payload: RelationshipEvent{
				BaseEvent:        NewBaseEvent(EventTypeRelationshipCreated, runID),
				RelationshipKind: kind,
				LeftKind:         kind.Left(),
				LeftID:           p.LeftID,
				RightKind:        kind.Right(),
				RightID:          p.RightID,
			},
		}
	}

	if err := e.publisher.Publish(ctx, messages...); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"relationship_kind": kind,
			"pairs":             len(pairs),
		}).Error("Failed to emit relationship.created events")
		tracing.RecordError(span, err)
		return err
	}
	return nil
}

// RunCompleted emits run.completed
func (e *Emitter) RunCompleted(ctx context.Context, run models.ImportRun) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.RunCompleted")
	defer span.End()

	err := e.publisher.Publish(ctx, kafka.Message{
		Key:       run.ID,
		EventType: string(EventTypeRunCompleted),
		Payload: RunCompletedEvent{
			BaseEvent: NewBaseEvent(EventTypeRunCompleted, run.ID),
			Run:       run,
		},
	})
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit run.completed event")
		tracing.RecordError(span, err)
		return err
	}
	return nil
}
