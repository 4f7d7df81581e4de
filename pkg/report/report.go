// Package report renders run summaries as text tables for the command line.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"

	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/promotion"
	"github.com/Ramsey-B/fern/pkg/staging"
)

const timeLayout = "2006-01-02 15:04:05"

// newTable writes title and returns a table mirrored to w
func newTable(w io.Writer, title string) table.Writer {
	fmt.Fprintln(w, title)
	t := table.NewWriter()
	t.SetOutputMirror(w)
	// Don't uppercase the header values.
	t.Style().Format.Header = text.FormatDefault
	return t
}

func appendRows(t table.Writer, rows []table.Row) {
	for _, r := range rows {
		t.AppendRow(r)
	}
}

// Import writes the counts of an import run and every row that did not validate
func Import(w io.Writer, res *pipeline.ImportResult) {
	title := "Import " + res.Run.ID
	if res.DryRun {
		title += " (dry run)"
	}

	t := newTable(w, title)
	appendRows(t, []table.Row{
		{"source", res.Run.Source},
		{"format", res.Format},
		{"profile", res.Profile},
		{"batch", res.Batch},
		{"read", res.Read},
		{"validated", res.Staging.Statuses[models.StatusValidated]},
		{"pending", res.Staging.Statuses[models.StatusPending]},
		{"rejected", res.Staging.Statuses[models.StatusRejected]},
		{"field issues", res.Staging.Issues},
	})
	if !res.DryRun {
		appendRows(t, []table.Row{
			{"staged new", res.Staging.Created},
			{"staged updated", res.Staging.Updated},
			{"unchanged", res.Staging.Unchanged},
		})
	}
	t.Render()

	Decisions(w, res.Staging.Decisions)
}

// Decisions lists records that were not validated, and records carrying field issues
func Decisions(w io.Writer, decisions []staging.Decision) {
	var rows []table.Row
	for _, d := range decisions {
		if d.Status == models.StatusValidated && len(d.Record.FieldIssues) == 0 {
			continue
		}
		reason := ""
		if d.Reason != nil {
			reason = *d.Reason
		}
		if d.Err != nil {
			reason += ": " + d.Err.Error()
		}
		rows = append(rows, table.Row{d.Record.RowIndex(), d.Record.DisplayName(), d.Status, reason, issues(d.Record.FieldIssues)})
	}
	if len(rows) == 0 {
		return
	}
	t := newTable(w, "Rows needing attention")
	t.AppendHeader(table.Row{"row", "name", "status", "reason", "issues"})
	appendRows(t, rows)
	t.Render()
}

func issues(list []models.FieldIssue) string {
	parts := make([]string, 0, len(list))
	for _, i := range list {
		parts = append(parts, fmt.Sprintf("%s=%q (%s)", i.Field, i.Value, i.Reason))
	}
	return strings.Join(parts, "; ")
}

// Promotion writes the outcome counts, failures and unresolved references of a promotion run
func Promotion(w io.Writer, res *pipeline.PromoteResult) {
	s := res.Summary
	t := newTable(w, "Promotion "+res.Run.ID)
	appendRows(t, []table.Row{
		{"created", s.Created},
		{"updated", s.Updated},
		{"skipped", s.Skipped},
		{"failed", s.Failed},
		{"unmatched", s.Unmatched},
		{"relationships inserted", s.RelationshipsInserted},
	})
	t.Render()

	if s.Collapse != nil {
		Collapse(w, s.Collapse)
	}
	Failures(w, "Failed rows", s.Failures)

	if len(s.Unresolved) > 0 {
		u := newTable(w, "Unresolved references")
		u.AppendHeader(table.Row{"row", "name", "kind", "reference", "ambiguous"})
		for _, ref := range s.Unresolved {
			u.AppendRow(table.Row{ref.RowIndex, ref.Name, ref.RefKind, ref.RefName, ref.Ambiguous})
		}
		u.Render()
	}
}

// Failures lists itemized failures when there are any
func Failures(w io.Writer, title string, failures []promotion.Failure) {
	if len(failures) == 0 {
		return
	}
	t := newTable(w, title)
	t.AppendHeader(table.Row{"row", "name", "kind", "error"})
	for _, f := range failures {
		t.AppendRow(table.Row{f.RowIndex, f.Name, f.Kind, f.Message})
	}
	t.Render()
}

func Collapse(w io.Writer, c *promotion.CollapseSummary) {
	t := newTable(w, "Duplicate collapse")
	appendRows(t, []table.Row{
		{"groups", c.Groups},
		{"removed", c.Removed},
		{"links migrated", c.PairsMigrated},
		{"links deleted", c.PairsDeleted},
		{"conflicts", c.Conflicts},
		{"failed", c.Failed},
	})
	t.Render()
	Failures(w, "Failed groups", c.Failures)
}

func Purge(w io.Writer, opts promotion.PurgeOptions, p *promotion.PurgeSummary) {
	t := newTable(w, fmt.Sprintf("Purge %s %q", opts.Kind, opts.Category))
	if opts.Soft {
		t.AppendRow(table.Row{"deactivated", p.Deactivated})
	} else {
		appendRows(t, []table.Row{
			{"entities deleted", p.Entities},
			{"links deleted", p.Relationships},
		})
	}
	t.Render()
}

func Transition(w io.Writer, action string, tr staging.Transition) {
	t := newTable(w, action)
	appendRows(t, []table.Row{
		{"moved", tr.Moved},
		{"skipped", tr.Skipped},
	})
	t.Render()
}

func Jobs(w io.Writer, results []jobs.Result) {
	sort.Slice(results, func(i, j int) bool { return results[i].Job < results[j].Job })
	t := newTable(w, "Jobs")
	t.AppendHeader(table.Row{"job", "affected", "failed"})
	for _, r := range results {
		t.AppendRow(table.Row{r.Job, r.Affected, r.Failed})
	}
	t.Render()
}

func Audit(w io.Writer, entries []models.AuditEntry) {
	t := newTable(w, "Audit log")
	t.AppendHeader(table.Row{"id", "at", "table", "operation", "record", "actor"})
	for _, e := range entries {
		actor := "-"
		if e.ActorID != nil {
			actor = *e.ActorID
		}
		t.AppendRow(table.Row{e.ID, e.CreatedAt.UTC().Format(timeLayout), e.TableName, e.Operation, e.RecordID, actor})
	}
	t.Render()
}
