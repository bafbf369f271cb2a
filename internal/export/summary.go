package export

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/reconciliation"
)

// WriteSummary renders the run metrics of a collection and, when top > 0,
// the leaders of each bootstrap category.
func WriteSummary(w io.Writer, res *collector.Result, cat *catalog.Catalog, top int) {
	m := res.Metrics

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("%s %d %s", res.Spec.League, res.Spec.Season, res.Spec.Team))
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Teams", len(res.Teams)},
		{"Players", res.Table.Len()},
		{"Fetches", m.Fetches},
		{"Fetch failures", m.FetchFailures},
		{"Empty listings", m.EmptyListings},
		{"Merge failures", m.MergeFailures},
		{"Discarded records", m.Discarded},
		{"Near misses", m.NearMisses},
		{"Team backfills", m.Backfilled},
		{"Elapsed", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond).String()},
	})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.SetStyle(table.StyleRounded)
	t.Render()

	if top <= 0 || res.Table.Empty() {
		return
	}
	for _, id := range cat.Bootstrap() {
		renderLeaders(w, res.Table, cat, id, top)
	}
}

func renderLeaders(w io.Writer, tbl *reconciliation.Table, cat *catalog.Catalog, column string, top int) {
	ci := -1
	for i, c := range tbl.Columns {
		if c == column {
			ci = i
			break
		}
	}
	if ci < 0 {
		return
	}

	rows := append([]reconciliation.TableRow(nil), tbl.Rows...)
	sort.SliceStable(rows, func(a, b int) bool {
		return numeric(rows[a].Values[ci]) > numeric(rows[b].Values[ci])
	})
	if len(rows) > top {
		rows = rows[:top]
	}

	label, _ := cat.Label(column)
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(label)
	t.AppendHeader(table.Row{"#", "Player", "Team", "Value"})
	for i, r := range rows {
		t.AppendRow(table.Row{i + 1, r.PlayerName, r.TeamName, r.Values[ci]})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 4, Align: text.AlignRight}})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func numeric(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
