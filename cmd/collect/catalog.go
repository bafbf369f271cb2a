package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fortuna/jstats/internal/app"
)

func newCatalogCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show the statistic categories in column order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := app.LoadCatalog(c.cfg)
			if err != nil {
				return err
			}

			bootstrap := make(map[string]bool)
			for _, id := range cat.Bootstrap() {
				bootstrap[id] = true
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"#", "ID", "Label", "Bootstrap"})
			for i, category := range cat.Categories() {
				mark := ""
				if bootstrap[category.ID] {
					mark = "yes"
				}
				t.AppendRow(table.Row{i + 1, category.ID, category.Label, mark})
			}
			t.Render()
			return nil
		},
	}
}
