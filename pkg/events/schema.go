package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	EventTypeEntityCreated       EventType = "entity.created"
	EventTypeEntityUpdated       EventType = "entity.updated"
	EventTypeRelationshipCreated EventType = "relationship.created"
	EventTypeRunCompleted        EventType = "run.completed"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	RunID         string    `json:"run_id,omitempty"`
}

// EntityEvent is emitted when promotion creates or updates a canonical entity
type EntityEvent struct {
	BaseEvent
	EntityKind models.EntityKind    `json:"entity_kind"`
	EntityID   int64                `json:"entity_id"`
	NaturalKey *string              `json:"natural_key,omitempty"`
	Name       string               `json:"name"`
	Fields     models.MutableFields `json:"fields"`
}

// RelationshipEvent is emitted for each link promotion inserts
type RelationshipEvent struct {
	BaseEvent
	RelationshipKind models.RelationshipKind `json:"relationship_kind"`
	LeftKind         models.EntityKind       `json:"left_kind"`
	LeftID           int64                   `json:"left_id"`
	RightKind        models.EntityKind       `json:"right_kind"`
	RightID          int64                   `json:"right_id"`
}

// RunCompletedEvent is emitted when an import or promotion run finishes
type RunCompletedEvent struct {
	BaseEvent
	Run models.ImportRun `json:"run"`
}

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType EventType, runID string) BaseEvent {
	return BaseEvent{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		RunID:         runID,
	}
}
