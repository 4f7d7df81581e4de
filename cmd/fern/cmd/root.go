// Package cmd is the fern command tree
package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
	fcontext "github.com/Ramsey-B/fern/pkg/context"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/pipeline"
)

// Exit codes
const (
	exitOK     = 0
	exitFailed = 1
	// exitAborted covers source format, connectivity and budget failures, where nothing was promoted
	exitAborted = 2
)

var (
	configFile string
	actorID    string

	cfg    *config.Config
	logger ectologger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fern",
	Short: "Batch pipeline for the facility and professional catalog",
	Long: `fern extracts facility and professional records from spreadsheets, delimited files,
text listings and an external database view, normalizes them, reconciles them against the
production catalog, stages them for validation and promotes validated rows.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "", "actor recorded in the audit log for every change")

	rootCmd.AddCommand(
		newImportCmd(),
		newValidateCmd(),
		newRejectCmd(),
		newPromoteCmd(),
		newCollapseCmd(),
		newPurgeCmd(),
		newJobsCmd(),
		newMigrateCmd(),
		newAuditCmd(),
	)
}

// Execute runs the command tree and returns the process exit code
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	if ferrors.IsFatal(err) || stderrors.Is(err, pipeline.ErrBudgetExceeded) {
		return exitAborted
	}
	return exitFailed
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logger, err = newLogger(cfg)
	if err != nil {
		return err
	}

	actor := actorID
	if actor == "" {
		actor = cfg.Pipeline.Actor
	}
	if actor != "" {
		cmd.SetContext(fcontext.SetActor(cmd.Context(), actor))
	}
	return nil
}

// newLogger writes to stderr so reports on stdout stay machine readable
func newLogger(c *config.Config) (ectologger.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.PrettyLogs {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.InitialFields = map[string]any{"app": c.AppName}

	zl, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zl, nil), nil
}
