package main

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fortuna/jstats/internal/config"
	"github.com/fortuna/jstats/internal/logging"
)

const appVersion = "1.0.0"

// cli carries state shared by every subcommand.
type cli struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "collect",
		Short:         "Collect J.League player statistics",
		Version:       appVersion,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "YAML config file (overrides "+config.ConfigFileEnv+")")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("base-url", "", "site root to collect from")
	flags.String("renderer", "", "page fetcher: http or chrome")
	flags.Int("workers", 0, "parallel listing fetches per team")
	flags.Duration("delay", 0, "pause after every listing fetch")
	flags.String("catalog", "", "statistic catalog YAML (default: embedded)")
	flags.String("redis-url", "", "Redis URL for the page cache and event stream")

	root.AddCommand(newRunCmd(c), newTeamsCmd(c), newCatalogCmd(c))
	return root
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"config":       "config",
	"log-level":    "log_level",
	"base-url":     "base_url",
	"renderer":     "renderer",
	"workers":      "fetch_workers",
	"delay":        "request_delay",
	"catalog":      "catalog_file",
	"redis-url":    "redis_url",
	"database-url": "database_url",
	"season":       "season",
	"league":       "league",
	"team":         "team",
	"output":       "output_dir",
}

func (c *cli) setup(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return
		}
		bindErr = errors.CombineErrors(bindErr, c.v.BindPFlag(key, f))
	})
	if bindErr != nil {
		return errors.Wrap(bindErr, "bind flags")
	}

	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	c.logger = logging.NewConsole(logging.ParseLevel(cfg.LogLevel))
	logging.SetDefault(c.logger)
	return nil
}
