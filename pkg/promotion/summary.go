package promotion

import (
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Outcome of promoting one staging row
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Failure identifies an input that could not be promoted
type Failure struct {
	StagingID int64  `json:"staging_id,omitempty"`
	RowIndex  int    `json:"row_index,omitempty"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// Unresolved is a related reference that could not be matched to one entity
type Unresolved struct {
	StagingID int64             `json:"staging_id"`
	RowIndex  int               `json:"row_index"`
	Name      string            `json:"name"`
	RefKind   models.EntityKind `json:"ref_kind"`
	RefName   string            `json:"ref_name"`
	Ambiguous bool              `json:"ambiguous"`
}

// Summary of a promotion run. Every row lands in exactly one of Created, Updated, Skipped or Failed.
// Unmatched counts related references that could not be resolved; their rows stay unpromoted.
type Summary struct {
	Created               int              `json:"created"`
	Updated               int              `json:"updated"`
	Skipped               int              `json:"skipped"`
	Failed                int              `json:"failed"`
	Unmatched             int              `json:"unmatched"`
	RelationshipsInserted int64            `json:"relationships_inserted"`
	Collapse              *CollapseSummary `json:"collapse,omitempty"`
	Failures              []Failure        `json:"failures,omitempty"`
	Unresolved            []Unresolved     `json:"unresolved,omitempty"`
}

func (s *Summary) Rows() int {
	return s.Created + s.Updated + s.Skipped + s.Failed
}

func (s *Summary) count(outcome Outcome) {
	switch outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
}

func (s *Summary) fail(row models.StagingRow, err error) {
	s.Failed++
	s.Failures = append(s.Failures, failureFor(row, err))
}

func failureFor(row models.StagingRow, err error) Failure {
	return Failure{
		StagingID: row.ID,
		RowIndex:  row.SourceIndex,
		Name:      row.OriginalName,
		Kind:      ferrors.Kind(err),
		Message:   err.Error(),
	}
}

// CollapseSummary reports duplicate-collapse results
type CollapseSummary struct {
	Groups        int       `json:"groups"`
	Removed       int64     `json:"removed"`
	PairsMigrated int64     `json:"pairs_migrated"`
	PairsDeleted  int64     `json:"pairs_deleted"`
	Conflicts     int       `json:"conflicts"`
	Failed        int       `json:"failed"`
	Failures      []Failure `json:"failures,omitempty"`
}

func (c *CollapseSummary) add(o *CollapseSummary) {
	if o == nil {
		return
	}
	c.Groups += o.Groups
	c.Removed += o.Removed
	c.PairsMigrated += o.PairsMigrated
	c.PairsDeleted += o.PairsDeleted
	c.Conflicts += o.Conflicts
	c.Failed += o.Failed
	c.Failures = append(c.Failures, o.Failures...)
}

// PurgeSummary reports an explicit cleanup
type PurgeSummary struct {
	Entities      int64 `json:"entities"`
	Relationships int64 `json:"relationships"`
	Deactivated   int64 `json:"deactivated"`
}
