package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/report"
)

// selection picks staging rows by explicit id or by batch
type selection struct {
	batch string
	kind  string
}

func (s *selection) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.batch, "batch", "", "select every pending row of a staging batch")
	cmd.Flags().StringVar(&s.kind, "kind", "", "with --batch, limit to one entity kind")
}

func (s *selection) ids(ctx context.Context, a *app, args []string) ([]int64, error) {
	if len(args) > 0 && s.batch != "" {
		return nil, fmt.Errorf("pass staging ids or --batch, not both")
	}
	if s.batch == "" {
		if len(args) == 0 {
			return nil, fmt.Errorf("no staging rows selected")
		}
		return parseIDs(args)
	}

	kind := models.EntityKind(s.kind)
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("unknown entity kind %q", s.kind)
	}
	rows, err := a.store.ListStaging(ctx, models.StagingFilter{
		EntityKind:  kind,
		SourceBatch: s.batch,
		Status:      models.StatusPending,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid staging id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newValidateCmd() *cobra.Command {
	var sel selection

	cmd := &cobra.Command{
		Use:   "validate [staging-id...]",
		Short: "Mark pending staging rows validated",
		Long:  "Moves pending staging rows to validated so the next promotion picks them up. Rows already validated or rejected are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				ids, err := sel.ids(cmd.Context(), a, args)
				if err != nil {
					return err
				}
				tr, err := a.stager.Validate(cmd.Context(), ids)
				if err != nil {
					return err
				}
				report.Transition(cmd.OutOrStdout(), "Validate", tr)
				return nil
			})
		},
	}
	sel.bind(cmd)
	return cmd
}

func newRejectCmd() *cobra.Command {
	var (
		sel    selection
		reason string
	)

	cmd := &cobra.Command{
		Use:   "reject [staging-id...]",
		Short: "Mark pending staging rows rejected",
		Long:  "Moves pending staging rows to rejected. Rejected rows are never promoted and a re-import does not revive them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				ids, err := sel.ids(cmd.Context(), a, args)
				if err != nil {
					return err
				}
				tr, err := a.stager.Reject(cmd.Context(), ids, reason)
				if err != nil {
					return err
				}
				report.Transition(cmd.OutOrStdout(), "Reject", tr)
				return nil
			})
		},
	}
	sel.bind(cmd)
	cmd.Flags().StringVar(&reason, "reason", "", "reason stored on the rows (default manual)")
	return cmd
}
