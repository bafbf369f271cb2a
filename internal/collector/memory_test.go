package collector

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/jstats/internal/catalog"
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJobStore()

	first, err := store.CreateJob(ctx, &Job{Season: 2025, League: catalog.J1, Team: "kashima"})
	require.NoError(t, err)
	second, err := store.CreateJob(ctx, &Job{Season: 2025, League: catalog.J1, Team: "shimizu"})
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, JobStatusQueued, first.Status)

	claimed, err := store.MarkNextJobRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, claimed.JobID, "oldest queued job first")
	assert.Equal(t, JobStatusRunning, claimed.Status)

	active, err := store.GetActiveJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, active.JobID)

	require.NoError(t, store.UpdateProgress(ctx, first.JobID, 3, 10, "working"))
	require.NoError(t, store.SetRows(ctx, first.JobID, 42))
	require.NoError(t, store.UpdateStatus(ctx, first.JobID, JobStatusFailed, "Job failed", errors.New("boom")))

	got, err := store.GetJob(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ProgressCurrent)
	assert.Equal(t, 42, got.Rows)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "boom", *got.LastError)
	assert.NotNil(t, got.CompletedAt)

	got.Team = "mutated"
	again, _ := store.GetJob(ctx, first.JobID)
	assert.Equal(t, "kashima", again.Team)
}

func TestMemoryJobStoreResetStuckJobs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJobStore()
	job, err := store.CreateJob(ctx, &Job{Season: 2025, League: catalog.J1, Team: "kashima"})
	require.NoError(t, err)
	_, err = store.MarkNextJobRunning(ctx)
	require.NoError(t, err)

	require.NoError(t, store.ResetStuckJobs(ctx))

	got, _ := store.GetJob(ctx, job.JobID)
	assert.Equal(t, JobStatusQueued, got.Status)

	none, err := store.GetActiveJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemoryJobStoreUnknownJob(t *testing.T) {
	store := NewMemoryJobStore()
	_, err := store.GetJob(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.True(t, errors.Is(store.SetRows(context.Background(), "missing", 1), ErrJobNotFound))
}
