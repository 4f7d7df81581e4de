package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/promotion"
	"github.com/Ramsey-B/fern/pkg/report"
)

func parseKind(s string) (models.EntityKind, error) {
	kind := models.EntityKind(s)
	if kind != "" && !kind.Valid() {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return kind, nil
}

func newPromoteCmd() *cobra.Command {
	var (
		kind string
		opts promotion.Options
	)

	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote validated staging rows into the catalog",
		Long: `Upserts every validated, unpromoted staging row into the production tables and then inserts
the relationships the batch implies. Existing relationships are never deleted. Every change is
attributed to --actor in the audit log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			opts.Kind = k

			return withApp(cmd.Context(), func(a *app) error {
				res, err := a.pipeline.Promote(cmd.Context(), opts)
				if res != nil {
					report.Promotion(cmd.OutOrStdout(), res)
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "limit to one entity kind: facility, professional or specialty")
	cmd.Flags().BoolVar(&opts.All, "all", false, "re-promote validated rows that were already promoted")
	cmd.Flags().BoolVar(&opts.CollapseDuplicates, "collapse", false, "collapse same-name duplicates before promoting")
	return cmd
}

func newCollapseCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "collapse",
		Short: "Merge catalog entities that share a name",
		Long: `Groups entities by whitespace and case insensitive name, keeps the oldest of each group,
moves the links of the others onto it and deletes them. Groups whose members carry different
natural keys are reported as conflicts and left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			kinds := models.EntityKinds()
			if k != "" {
				kinds = []models.EntityKind{k}
			}

			return withApp(cmd.Context(), func(a *app) error {
				for _, k := range kinds {
					summary, err := a.engine.Collapse(cmd.Context(), k)
					if summary != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\n", k.Table())
						report.Collapse(cmd.OutOrStdout(), summary)
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "limit to one entity kind (default all)")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	var (
		kind    string
		opts    promotion.PurgeOptions
		confirm bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove every entity of a kind in a category",
		Long: `Deletes every entity of --kind whose category is --category together with its links, in one
transaction. With --soft the entities are deactivated instead and their links kept.`,
		Example: `  fern purge --kind facility --category "AGÊNCIA DE VIAGENS" --yes
  fern purge --kind facility --category OUTRO --soft`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			opts.Kind = k
			if !opts.Soft && !confirm {
				return fmt.Errorf("purge deletes entities and their links; pass --yes to confirm or --soft to deactivate")
			}

			return withApp(cmd.Context(), func(a *app) error {
				summary, err := a.engine.Purge(cmd.Context(), opts)
				if err != nil {
					return err
				}
				report.Purge(cmd.OutOrStdout(), opts, summary)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "entity kind")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category to remove")
	cmd.Flags().BoolVar(&opts.Soft, "soft", false, "deactivate instead of deleting")
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm a hard delete")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}
