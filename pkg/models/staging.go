package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
)

// ProcessingStatus of a staging row. Transitions are monotonic.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusValidated ProcessingStatus = "validated"
	StatusRejected  ProcessingStatus = "rejected"
)

// CanTransition reports whether a row may move from one status to another.
func CanTransition(from, to ProcessingStatus) bool {
	return from == StatusPending && (to == StatusValidated || to == StatusRejected)
}

// Status reasons recorded alongside pending and rejected rows.
const (
	ReasonMissingName       = "missing_name"
	ReasonCoordinateFlagged = "coordinate_flagged"
	ReasonMatchAmbiguous    = "match_ambiguous"
	ReasonRelatedUnmatched  = "related_unmatched"
	ReasonManual            = "manual"
)

// StagingRow is a persisted NormalizedRecord awaiting validation or promotion.
type StagingRow struct {
	ID               int64                             `json:"id" db:"id"`
	EntityKind       EntityKind                        `json:"entity_kind" db:"entity_kind"`
	SourceBatch      string                            `json:"source_batch" db:"source_batch"`
	SourceKey        string                            `json:"source_key" db:"source_key"`
	SourceIndex      int                               `json:"source_index" db:"source_index"`
	OriginalName     string                            `json:"original_name" db:"original_name"`
	RawData          database.JSONB[map[string]string] `json:"raw_data" db:"raw_data"`
	Normalized       database.JSONB[NormalizedRecord]  `json:"normalized" db:"normalized"`
	ProcessingStatus ProcessingStatus                  `json:"processing_status" db:"processing_status"`
	StatusReason     *string                           `json:"status_reason,omitempty" db:"status_reason"`
	MatchedEntityID  *int64                            `json:"matched_entity_id,omitempty" db:"matched_entity_id"`
	PromotedAt       *time.Time                        `json:"promoted_at,omitempty" db:"promoted_at"`
	CreatedAt        time.Time                         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time                         `json:"updated_at" db:"updated_at"`
}

// Record returns the normalized record with its raw back-reference restored.
func (s *StagingRow) Record() NormalizedRecord {
	rec := s.Normalized.Data
	rec.Raw = &RawRecord{Index: s.SourceIndex, Source: s.SourceBatch, Fields: s.RawData.Data}
	return rec
}

// StageOutcome reports what a staging upsert did.
type StageOutcome string

const (
	StageCreated   StageOutcome = "created"
	StageUpdated   StageOutcome = "updated"
	StageUnchanged StageOutcome = "unchanged"
)

// StagingFilter selects staging rows.
type StagingFilter struct {
	EntityKind     EntityKind
	SourceBatch    string
	Status         ProcessingStatus
	UnpromotedOnly bool
	IDs            []int64
}
