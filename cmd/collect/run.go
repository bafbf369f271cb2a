package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/fortuna/jstats/internal/app"
	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/export"
	"github.com/fortuna/jstats/internal/publisher"
	"github.com/fortuna/jstats/internal/store"
	"github.com/fortuna/jstats/internal/store/repository"
)

type runOptions struct {
	dryRun  bool
	summary bool
	top     int
	store   bool
	publish bool
}

func newRunCmd(c *cli) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect one team, or every team with --team all, into a CSV file",
		Example: `  collect run --season 2025 --league j1 --team shimizu
  collect run --league j2 --team all --output out/ --summary`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.Int("season", 0, "season year")
	flags.String("league", "", "league: j1, j2 or j3")
	flags.String("team", "", `team slug, or "all"`)
	flags.String("output", "", "output directory")
	flags.String("database-url", "", "Postgres URL used with --store")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "collect without writing anything")
	flags.BoolVar(&opts.summary, "summary", false, "print leaders for the bootstrap categories")
	flags.IntVar(&opts.top, "top", 5, "rows per leaderboard with --summary")
	flags.BoolVar(&opts.store, "store", false, "also save the table to Postgres")
	flags.BoolVar(&opts.publish, "publish", false, "also publish the result to the Redis stream")
	return cmd
}

func (c *cli) run(cmd *cobra.Command, opts *runOptions) error {
	ctx := cmd.Context()
	cfg := c.cfg
	out := cmd.OutOrStdout()

	cat, err := app.LoadCatalog(cfg)
	if err != nil {
		return err
	}

	f, err := app.NewFetcher(cfg, c.logger)
	if err != nil {
		return err
	}
	defer f.Close()

	sinks := []collector.Sink{export.NewCSVSink(cfg.OutputDir, c.logger)}

	if opts.store && !opts.dryRun {
		if cfg.DatabaseURL == "" {
			return errors.New("--store needs a database URL (--database-url or DATABASE_URL)")
		}
		db, err := store.NewDatabase(cfg.DatabaseURL, c.logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := db.RunMigrations(); err != nil {
				return err
			}
		}
		sinks = append(sinks, repository.NewTableRepository(db))
	}

	if opts.publish && !opts.dryRun {
		if f.Cache == nil {
			return errors.New("--publish needs a reachable Redis (--redis-url or REDIS_URL)")
		}
		pub := publisher.NewRedisStreamPublisher(f.Cache.Client(), c.logger)
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	runner := app.NewRunner(cfg, f, cat, c.logger, sinks...)
	spec := collector.JobSpec{
		Season: cfg.Season,
		League: catalog.League(cfg.League),
		Team:   cfg.Team,
		DryRun: opts.dryRun,
	}

	res, err := runner.Run(ctx, spec, newConsoleReporter(cmd.ErrOrStderr(), opts.dryRun))
	if err != nil {
		if errors.Is(err, collector.ErrNoData) {
			fmt.Fprintln(out, "No player data found; nothing written.")
		}
		return err
	}

	if opts.summary {
		export.WriteSummary(out, res, cat, opts.top)
	}

	if res.OutputPath != "" {
		fmt.Fprintf(out, "Wrote %d players to %s\n", res.Table.Len(), res.OutputPath)
	} else {
		fmt.Fprintf(out, "Collected %d players (dry run)\n", res.Table.Len())
	}
	if res.RunID != 0 {
		fmt.Fprintf(out, "Stored as run %d\n", res.RunID)
	}
	return nil
}
