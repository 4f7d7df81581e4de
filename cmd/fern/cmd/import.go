package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/report"
	"github.com/Ramsey-B/fern/pkg/sources"
)

func newImportCmd() *cobra.Command {
	var opts pipeline.ImportOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Read a source and stage its records",
		Long: `Reads a spreadsheet (.xlsx), a delimited file (.csv, .tsv, .txt), a text listing (.lst)
or a database view (postgres:// DSN), normalizes every record, matches it against the catalog and
stages it. With --dry-run every record is evaluated and reported but nothing is written.`,
		Example: `  fern import --source unidades.xlsx
  fern import --source profissionais.lst --profile professional --dry-run
  fern import --source postgres://ro@registry/saude --view vm_relacao_prof_x_estab_especialidade`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				res, err := a.pipeline.Import(cmd.Context(), opts)
				if res != nil && (err == nil || res.Read > 0) {
					report.Import(cmd.OutOrStdout(), res)
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&opts.Source.Location, "source", "", "file path or postgres:// DSN")
	cmd.Flags().StringVar(&opts.Source.Sheet, "sheet", "", "spreadsheet tab (default first)")
	cmd.Flags().StringVar(&opts.Source.View, "view", sources.DefaultView, "view read from a database source")
	cmd.Flags().StringVar(&opts.Profile, "profile", "", "column profile: facility or professional (default detected)")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "staging batch name (default source file name or view)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "evaluate and report without writing")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}
