package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/listing"
)

func newTestService(t *testing.T, store JobStore, p pages) *Service {
	t.Helper()
	runner := NewRunner(p.source(), listing.StaticTeams{"kashima", "shimizu"}, testCatalog(t), noDelay())
	svc := NewService(store, runner, nil, WithPollInterval(10*time.Millisecond))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func waitForStatus(t *testing.T, svc *Service, jobID string, want JobStatus) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = svc.GetJob(context.Background(), jobID)
		return err == nil && job.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func TestServiceRunsQueuedJob(t *testing.T) {
	store := NewMemoryJobStore()
	svc := newTestService(t, store, leaguePages())

	var mu sync.Mutex
	var events []Event
	svc.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	svc.Start()

	job, err := svc.Enqueue(context.Background(), Request{Season: 2025, League: "j1", Team: "shimizu"})
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, 5, job.ProgressTotal)

	done := waitForStatus(t, svc, job.JobID, JobStatusCompleted)
	assert.Equal(t, 2, done.Rows)
	assert.Equal(t, done.ProgressTotal, done.ProgressCurrent)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Nil(t, done.LastError)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0 && events[len(events)-1].Type == "completed"
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	last := events[len(events)-1]
	var seen []string
	for _, e := range events {
		seen = append(seen, e.Type)
	}
	mu.Unlock()
	assert.Equal(t, 2, last.Rows)
	assert.Contains(t, seen, "queued")
	assert.Contains(t, seen, "progress")

	var types []string
	for _, e := range store.Events(job.JobID) {
		types = append(types, e.EventType)
	}
	assert.Contains(t, types, "fetch_failed")
	assert.Contains(t, types, "complete")
}

func TestServiceMarksFailedJobs(t *testing.T) {
	svc := newTestService(t, NewMemoryJobStore(), pages{})
	svc.Start()

	job, err := svc.Enqueue(context.Background(), Request{Season: 2025, League: "j2", Team: "all"})
	require.NoError(t, err)
	assert.Zero(t, job.ProgressTotal)

	failed := waitForStatus(t, svc, job.JobID, JobStatusFailed)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, ErrNoData.Error())
}

func TestServiceEnqueueValidates(t *testing.T) {
	svc := newTestService(t, NewMemoryJobStore(), leaguePages())

	_, err := svc.Enqueue(context.Background(), Request{Season: 2025, League: "premier", Team: "shimizu"})
	assert.True(t, errors.Is(err, ErrInvalidSpec))
}

func TestServiceStatus(t *testing.T) {
	store := NewMemoryJobStore()
	svc := newTestService(t, store, leaguePages())

	for _, team := range []string{"kashima", "shimizu", "urawa"} {
		_, err := svc.Enqueue(context.Background(), Request{Season: 2024, League: string(catalog.J1), Team: team})
		require.NoError(t, err)
	}

	status, err := svc.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status.ActiveJob)
	require.Len(t, status.History, 3)
	assert.Equal(t, "urawa", status.History[0].Team, "newest first")
}
