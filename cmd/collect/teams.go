package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/fortuna/jstats/internal/app"
	"github.com/fortuna/jstats/internal/catalog"
)

func newTeamsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teams",
		Short: "List the team slugs offered for a season and league",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := app.NewFetcher(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer f.Close()

			teams, err := f.Source.Teams(cmd.Context(), c.cfg.Season, catalog.League(c.cfg.League))
			if err != nil {
				return errors.Wrap(err, "list teams")
			}
			for _, team := range teams {
				fmt.Fprintln(cmd.OutOrStdout(), team)
			}
			return nil
		},
	}
	cmd.Flags().Int("season", 0, "season year")
	cmd.Flags().String("league", "", "league: j1, j2 or j3")
	return cmd
}
