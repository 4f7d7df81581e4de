package models

import "time"

// Audit operations written by the audit trigger
const (
	AuditInsert = "INSERT"
	AuditUpdate = "UPDATE"
	AuditDelete = "DELETE"
)

// AuditEntry is an append-only record of one mutation. ActorID is nil for system mutations.
type AuditEntry struct {
	ID        int64     `json:"id" db:"id"`
	TableName string    `json:"table_name" db:"table_name"`
	Operation string    `json:"operation" db:"operation"`
	RecordID  int64     `json:"record_id" db:"record_id"`
	ActorID   *string   `json:"actor_id,omitempty" db:"actor_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type AuditFilter struct {
	TableName string
	RecordID  int64
	Since     *time.Time
	Limit     int
}
