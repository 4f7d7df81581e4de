package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/report"
)

func newAuditCmd() *cobra.Command {
	var (
		filter models.AuditFilter
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log",
		Long:  "Lists the most recent audit entries, oldest first. Entries with no actor were made outside fern or without --actor.",
		Example: `  fern audit --table facilities --record 42
  fern audit --since 24h --limit 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if since > 0 {
				from := time.Now().Add(-since)
				filter.Since = &from
			}
			return withApp(cmd.Context(), func(a *app) error {
				entries, err := a.recorder.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				report.Audit(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter.TableName, "table", "", "production table")
	cmd.Flags().Int64Var(&filter.RecordID, "record", 0, "record id within --table")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum entries (default 100)")
	return cmd
}
