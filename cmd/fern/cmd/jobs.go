package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/report"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/startup"
)

// schedule lists every job with its interval
func schedule(a *app) []scheduler.Entry {
	return []scheduler.Entry{
		{
			Job: jobs.NewSessionDuration(a.analytics, logger).
				WithIdleTimeout(cfg.Jobs.IdleTimeout).
				WithBatchSize(cfg.Jobs.BatchSize),
			Interval: scheduler.Hourly,
		},
		{
			Job:      jobs.NewConversionRate(a.analytics, logger).WithBatchSize(cfg.Jobs.BatchSize),
			Interval: scheduler.Daily,
		},
		{
			Job:      jobs.NewRetention(a.analytics, logger),
			Interval: scheduler.Weekly,
		},
	}
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run the aggregation and retention jobs",
	}
	cmd.AddCommand(newJobsRunCmd(), newJobsServeCmd())
	return cmd
}

func newJobsRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [job...]",
		Short: "Run jobs once",
		Long: fmt.Sprintf(`Runs the named jobs once, or every job when none is named. Suitable for an external
scheduler. Jobs: %s, %s, %s.`, jobs.SessionDurationName, jobs.ConversionRateName, jobs.RetentionName),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				byName := map[string]jobs.Job{}
				for _, e := range schedule(a) {
					byName[e.Job.Name()] = e.Job
				}

				names := args
				if len(names) == 0 {
					for name := range byName {
						names = append(names, name)
					}
					sort.Strings(names)
				}

				var (
					results []jobs.Result
					failed  []string
				)
				for _, name := range names {
					job, ok := byName[name]
					if !ok {
						return fmt.Errorf("unknown job %q", name)
					}
					res, err := job.Run(cmd.Context())
					res.Job = name
					results = append(results, res)
					if err != nil {
						logger.WithContext(cmd.Context()).WithError(err).WithField("job", name).Error("Job failed")
						failed = append(failed, name)
					}
				}

				report.Jobs(cmd.OutOrStdout(), results)
				if len(failed) > 0 {
					return fmt.Errorf("jobs failed: %s", strings.Join(failed, ", "))
				}
				return nil
			})
		},
	}
}

func newJobsServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run jobs on their schedule until interrupted",
		Long: `Runs session duration hourly, conversion rate daily and retention weekly. When redis is
configured each run holds a lock so several schedulers can run side by side.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app) error {
				var (
					locker   scheduler.Locker
					lastRuns scheduler.LastRuns
				)
				if cfg.Redis.Enabled() {
					client, err := redis.NewClient(ctx, cfg.Redis, logger)
					if err != nil {
						return err
					}
					a.boot.AddDependency(startup.Func{
						Name:    "redis",
						StartFn: client.Ping,
						StopFn:  func(context.Context) error { return client.Close() },
					})
					if err := a.boot.Start(ctx); err != nil {
						return err
					}
					locker = redis.NewLocker(client, "")
					lastRuns = client
				} else {
					logger.Warn("Redis is not configured; jobs run without a lock")
				}

				s := scheduler.NewScheduler(schedule(a), locker, lastRuns, cfg.Scheduler, logger)
				if err := s.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				return s.Stop(context.WithoutCancel(ctx))
			})
		},
	}
}
