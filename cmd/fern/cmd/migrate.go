package cmd

import (
	"github.com/spf13/cobra"

	migrations "github.com/Ramsey-B/fern/db"
	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/startup"
)

func newMigrateCmd() *cobra.Command {
	var mc database.MigrationConfig

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema migrations",
		Long:  "Applies the embedded migrations, which create the catalog, staging, audit, analytics and run tables and the audit trigger.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			dsn := cfg.Database.DSN()

			db, err := database.Open(database.Options{DSN: dsn, MaxOpenConns: 1}, logger)
			if err != nil {
				return ferrors.NewConnectivityError("postgres", err)
			}
			boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
			boot.AddDependency(startup.Func{Name: "postgres", StartFn: db.PingContext})
			err = boot.Start(ctx)
			_ = db.Close()
			if err != nil {
				return ferrors.NewConnectivityError("postgres", err)
			}

			mc.FS = migrations.Migrations
			mc.Dir = migrations.MigrationsDir
			return database.NewMigrationService(logger, &mc).Migrate(dsn)
		},
	}

	cmd.Flags().UintVar(&mc.Version, "version", 0, "migrate to this version instead of the latest")
	cmd.Flags().IntVar(&mc.Force, "force", 0, "force the recorded version before migrating (repairs a dirty state)")
	cmd.Flags().BoolVar(&mc.Down, "down", false, "roll every migration back")
	return cmd
}
