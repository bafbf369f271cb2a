package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/logging"
	"github.com/fortuna/jstats/internal/reconciliation"
	"github.com/fortuna/jstats/internal/store"
)

// openTestDatabase connects to JSTATS_TEST_DATABASE_URL or skips.
func openTestDatabase(t *testing.T) *store.Database {
	t.Helper()
	dsn := os.Getenv("JSTATS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("JSTATS_TEST_DATABASE_URL not set")
	}
	db, err := store.NewDatabase(dsn, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTableFromRows(t *testing.T) {
	run := &store.CollectionRun{
		Columns: store.StringArray{"game", "score"},
		Header:  store.StringArray{"選手URL", "選手名", "チーム名", "出場試合数（試合）", "得点（点）"},
	}
	rows := []store.CollectionRow{
		{Position: 0, PlayerName: "北川 航也", TeamName: "清水", Values: store.StringArray{"33", "11"}},
		{Position: 1, ProfileURL: "https://www.jleague.jp/player/2/", PlayerName: "乾 貴士", TeamName: "清水", Values: store.StringArray{"31", "0"}},
	}

	table := tableFromRows(run, rows)

	assert.Equal(t, []string{"game", "score"}, table.Columns)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, []string{"https://www.jleague.jp/player/2/", "乾 貴士", "清水", "31", "0"}, table.Rows[1].Record())
}

func TestTableRepositoryRoundTrip(t *testing.T) {
	db := openTestDatabase(t)
	repo := NewTableRepository(db)
	ctx := context.Background()
	team := "test-" + time.Now().Format("150405.000000")

	res := &collector.Result{
		Spec: collector.JobSpec{Season: 2025, League: catalog.J1, Team: team},
		Table: &reconciliation.Table{
			Header:  []string{"選手URL", "選手名", "チーム名", "得点（点）"},
			Columns: []string{"score"},
			Rows: []reconciliation.TableRow{
				{PlayerName: "北川 航也", TeamName: "清水", Values: []string{"11"}},
			},
		},
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
	}
	require.NoError(t, repo.Write(ctx, res))
	assert.NotZero(t, res.RunID)

	table, run, err := repo.Latest(ctx, 2025, catalog.J1, team)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, run.RunID)
	assert.Equal(t, res.Table.Records(), table.Records())

	_, _, err = repo.Latest(ctx, 2025, catalog.J2, team)
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestJobRepositoryLifecycle(t *testing.T) {
	db := openTestDatabase(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	_, err := db.DB().ExecContext(ctx, `DELETE FROM collection_jobs`)
	require.NoError(t, err)

	job, err := repo.CreateJob(ctx, &collector.Job{Season: 2025, League: catalog.J1, Team: "shimizu", ProgressTotal: 85})
	require.NoError(t, err)
	assert.Equal(t, collector.JobStatusQueued, job.Status)
	assert.Equal(t, catalog.J1, job.League)

	claimed, err := repo.MarkNextJobRunning(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.JobID, claimed.JobID)
	assert.NotNil(t, claimed.StartedAt)

	require.NoError(t, repo.AppendEvent(ctx, job.JobID, "progress", "[1/85] Fetched game"))
	require.NoError(t, repo.SetRows(ctx, job.JobID, 30))
	require.NoError(t, repo.UpdateStatus(ctx, job.JobID, collector.JobStatusCompleted, "Job completed", nil))

	got, err := repo.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Rows)
	assert.NotNil(t, got.CompletedAt)

	events, err := repo.Events(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "progress", events[0].EventType)

	none, err := repo.MarkNextJobRunning(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = repo.GetJob(ctx, "00000000-0000-0000-0000-000000000000")
	assert.True(t, errors.Is(err, collector.ErrJobNotFound))
}
