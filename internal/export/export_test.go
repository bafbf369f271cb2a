package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/reconciliation"
)

func sampleTable() *reconciliation.Table {
	return &reconciliation.Table{
		Header:  []string{"選手URL", "選手名", "チーム名", "出場試合数（試合）", "得点（点）"},
		Columns: []string{"game", "score"},
		Rows: []reconciliation.TableRow{
			{ProfileURL: "https://www.jleague.jp/player/1/", PlayerName: "北川 航也", TeamName: "清水", Values: []string{"33", "11"}},
			{PlayerName: "乾, 貴士", TeamName: "清水", Values: []string{"31", "4"}},
		},
	}
}

func sampleResult(dir string) *collector.Result {
	return &collector.Result{
		Spec:       collector.JobSpec{Season: 2025, League: catalog.J1, Team: "shimizu", OutputDir: dir},
		Teams:      []string{"shimizu"},
		Table:      sampleTable(),
		StartedAt:  time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 5, 1, 12, 0, 42, 0, time.UTC),
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "stats_all_2024_j2.csv", FileName("all", 2024, "j2"))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTable()))

	data := buf.Bytes()
	require.True(t, bytes.HasPrefix(data, utf8BOM))

	records, err := csv.NewReader(bytes.NewReader(data[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "選手URL", records[0][0])
	assert.Equal(t, []string{"", "乾, 貴士", "清水", "31", "4"}, records[2])
}

func TestCSVSinkCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "output")
	res := sampleResult("")

	require.NoError(t, NewCSVSink(dir, nil).Write(context.Background(), res))

	want := filepath.Join(dir, "stats_shimizu_2025_j1.csv")
	assert.Equal(t, want, res.OutputPath)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, utf8BOM))
	assert.Contains(t, string(data), "北川 航也")

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".stats-*"))
	assert.Empty(t, leftovers)
}

func TestCSVSinkPrefersSpecDirectory(t *testing.T) {
	specDir := t.TempDir()
	res := sampleResult(specDir)

	require.NoError(t, NewCSVSink(filepath.Join(t.TempDir(), "unused"), nil).Write(context.Background(), res))
	assert.Equal(t, filepath.Join(specDir, "stats_shimizu_2025_j1.csv"), res.OutputPath)
}

func TestWriteSummary(t *testing.T) {
	cat, err := catalog.Parse([]byte("bootstrap: [game, score]\ncategories:\n  - id: game\n    label: 出場試合数（試合）\n  - id: score\n    label: 得点（点）\n"))
	require.NoError(t, err)
	res := sampleResult("")
	res.Metrics.Fetches = 4

	var buf bytes.Buffer
	WriteSummary(&buf, res, cat, 1)
	out := buf.String()

	assert.Contains(t, out, "j1 2025 shimizu")
	assert.Contains(t, out, "Fetches")
	assert.Contains(t, out, "42s")
	assert.Contains(t, out, "得点（点）")
	assert.Equal(t, 2, strings.Count(out, "北川 航也"), "leader of both bootstrap columns")
	assert.NotContains(t, out, "乾, 貴士")
}
