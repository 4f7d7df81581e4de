package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/promotion"
	"github.com/Ramsey-B/fern/pkg/staging"
)

func strPtr(s string) *string { return &s }

func TestImport(t *testing.T) {
	decisions := []staging.Decision{
		{Record: models.NormalizedRecord{Name: strPtr("Hotel Nacional"), Raw: &models.RawRecord{Index: 3}}, Status: models.StatusValidated},
		{Record: models.NormalizedRecord{OriginalName: "null", Raw: &models.RawRecord{Index: 1}}, Status: models.StatusRejected, Reason: strPtr(models.ReasonMissingName)},
		{
			Record: models.NormalizedRecord{
				Name:        strPtr("Pousada Sol"),
				Raw:         &models.RawRecord{Index: 2},
				FieldIssues: []models.FieldIssue{{Field: "latitude", Value: "95.2", Reason: "outside the valid range"}},
			},
			Status: models.StatusPending,
			Reason: strPtr(models.ReasonCoordinateFlagged),
		},
	}
	res := &pipeline.ImportResult{
		Run:     models.ImportRun{ID: "run-1", Source: "unidades.csv"},
		Format:  "delimited",
		Profile: "facility",
		Batch:   "unidades.csv",
		DryRun:  true,
		Read:    3,
		Staging: staging.Tally(decisions),
	}

	var buf bytes.Buffer
	Import(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "Import run-1 (dry run)")
	assert.Contains(t, out, "missing_name")
	assert.Contains(t, out, "coordinate_flagged")
	assert.Contains(t, out, `latitude="95.2"`)
	assert.NotContains(t, out, "Hotel Nacional")
	assert.NotContains(t, out, "staged new")
}

func TestPromotion(t *testing.T) {
	res := &pipeline.PromoteResult{
		Run: models.ImportRun{ID: "run-2"},
		Summary: &promotion.Summary{
			Created:  2,
			Failed:   1,
			Collapse: &promotion.CollapseSummary{Groups: 1, Removed: 1},
			Failures: []promotion.Failure{{RowIndex: 7, Name: "Bar do Zé", Kind: ferrors.KindConstraint, Message: "duplicate key"}},
			Unresolved: []promotion.Unresolved{
				{RowIndex: 9, Name: "ANA", RefKind: models.EntityFacility, RefName: "UBS LESTE"},
			},
		},
	}

	var buf bytes.Buffer
	Promotion(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "Promotion run-2")
	assert.Contains(t, out, "Duplicate collapse")
	assert.Contains(t, out, "Bar do Zé")
	assert.Contains(t, out, ferrors.KindConstraint)
	assert.Contains(t, out, "UBS LESTE")
}

func TestFailures_EmptyWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	Failures(&buf, "Failed rows", nil)
	assert.Empty(t, buf.String())
}

func TestAuditAndJobs(t *testing.T) {
	var buf bytes.Buffer
	Audit(&buf, []models.AuditEntry{
		{ID: 1, TableName: "facilities", Operation: models.AuditInsert, RecordID: 4, ActorID: strPtr("ops@fern"), CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{ID: 2, TableName: "facilities", Operation: models.AuditUpdate, RecordID: 4},
	})
	Jobs(&buf, []jobs.Result{{Job: "session_duration", Affected: 3}, {Job: "conversion_rate", Affected: 1}})
	out := buf.String()

	assert.Contains(t, out, "2024-03-01 10:00:00")
	assert.Contains(t, out, "ops@fern")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("conversion_rate")), bytes.Index(buf.Bytes(), []byte("session_duration")))
}
