package repository

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/store"
)

const jobColumns = `job_id::text AS job_id, season, league, team, status, status_message,
	progress_current, progress_total, row_count, last_error,
	created_at, updated_at, started_at, completed_at`

// JobRepository persists collection jobs and their event log.
type JobRepository struct {
	db *store.Database
}

var _ collector.JobStore = (*JobRepository)(nil)

// NewJobRepository constructs a JobRepository.
func NewJobRepository(db *store.Database) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts a new job row and returns the stored record.
func (r *JobRepository) CreateJob(ctx context.Context, job *collector.Job) (*collector.Job, error) {
	status := job.Status
	if status == "" {
		status = collector.JobStatusQueued
	}
	query := `
		INSERT INTO collection_jobs (season, league, team, status, status_message, progress_current, progress_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + jobColumns

	var out collector.Job
	err := r.db.DB().GetContext(ctx, &out, query,
		job.Season, string(job.League), job.Team, string(status), job.StatusMessage,
		job.ProgressCurrent, job.ProgressTotal,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert collection job")
	}
	return &out, nil
}

// GetJob fetches a job by id.
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*collector.Job, error) {
	var out collector.Job
	err := r.db.DB().GetContext(ctx, &out, `SELECT `+jobColumns+` FROM collection_jobs WHERE job_id::text = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(collector.ErrJobNotFound, "%s", jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get collection job")
	}
	return &out, nil
}

// MarkNextJobRunning atomically claims the oldest queued job.
func (r *JobRepository) MarkNextJobRunning(ctx context.Context) (*collector.Job, error) {
	query := `
		WITH next_job AS (
			SELECT job_id
			FROM collection_jobs
			WHERE status = 'queued'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE collection_jobs
		SET status = 'running',
			status_message = 'Starting job...',
			started_at = COALESCE(started_at, NOW()),
			updated_at = NOW()
		FROM next_job
		WHERE collection_jobs.job_id = next_job.job_id
		RETURNING collection_jobs.job_id::text AS job_id, collection_jobs.season, collection_jobs.league,
			collection_jobs.team, collection_jobs.status, collection_jobs.status_message,
			collection_jobs.progress_current, collection_jobs.progress_total, collection_jobs.row_count,
			collection_jobs.last_error, collection_jobs.created_at, collection_jobs.updated_at,
			collection_jobs.started_at, collection_jobs.completed_at
	`

	var out collector.Job
	err := r.db.DB().GetContext(ctx, &out, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim next collection job")
	}
	return &out, nil
}

// UpdateStatus updates status, message and optional error.
func (r *JobRepository) UpdateStatus(ctx context.Context, jobID string, status collector.JobStatus, message string, lastErr error) error {
	query := `
		UPDATE collection_jobs
		SET status = $2::varchar,
			status_message = $3,
			last_error = $4,
			updated_at = NOW(),
			completed_at = CASE WHEN $2::varchar IN ('completed','failed','cancelled') THEN NOW() ELSE completed_at END
		WHERE job_id::text = $1
	`

	var errText sql.NullString
	if lastErr != nil {
		errText = sql.NullString{String: lastErr.Error(), Valid: true}
	}

	res, err := r.db.DB().ExecContext(ctx, query, jobID, string(status), message, errText)
	if err != nil {
		return errors.Wrap(err, "update job status")
	}
	return requireRow(res, jobID)
}

// UpdateProgress updates the progress counters and message.
func (r *JobRepository) UpdateProgress(ctx context.Context, jobID string, current, total int, message string) error {
	query := `
		UPDATE collection_jobs
		SET progress_current = $2,
			progress_total = $3,
			status_message = $4,
			updated_at = NOW()
		WHERE job_id::text = $1
	`

	res, err := r.db.DB().ExecContext(ctx, query, jobID, current, total, message)
	if err != nil {
		return errors.Wrap(err, "update job progress")
	}
	return requireRow(res, jobID)
}

// SetRows records the size of the collected table.
func (r *JobRepository) SetRows(ctx context.Context, jobID string, rows int) error {
	res, err := r.db.DB().ExecContext(ctx,
		`UPDATE collection_jobs SET row_count = $2, updated_at = NOW() WHERE job_id::text = $1`, jobID, rows)
	if err != nil {
		return errors.Wrap(err, "set job rows")
	}
	return requireRow(res, jobID)
}

// AppendEvent stores a log entry for a job.
func (r *JobRepository) AppendEvent(ctx context.Context, jobID string, eventType, message string) error {
	_, err := r.db.DB().ExecContext(ctx,
		`INSERT INTO collection_job_events (job_id, event_type, message) VALUES ($1::uuid, $2, $3)`,
		jobID, eventType, message)
	if err != nil {
		return errors.Wrap(err, "insert job event")
	}
	return nil
}

// Events returns the event log of a job, oldest first.
func (r *JobRepository) Events(ctx context.Context, jobID string) ([]collector.JobEvent, error) {
	var out []collector.JobEvent
	err := r.db.DB().SelectContext(ctx, &out, `
		SELECT event_type, message, created_at
		FROM collection_job_events
		WHERE job_id::text = $1
		ORDER BY created_at, event_id`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "list job events")
	}
	return out, nil
}

// GetActiveJob returns the currently running job, if any.
func (r *JobRepository) GetActiveJob(ctx context.Context) (*collector.Job, error) {
	var out collector.Job
	err := r.db.DB().GetContext(ctx, &out, `
		SELECT `+jobColumns+`
		FROM collection_jobs
		WHERE status = 'running'
		ORDER BY started_at DESC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get active job")
	}
	return &out, nil
}

// ListRecentJobs returns the most recent jobs, newest first.
func (r *JobRepository) ListRecentJobs(ctx context.Context, limit int) ([]*collector.Job, error) {
	// LIMIT NULL means no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}
	var out []*collector.Job
	err := r.db.DB().SelectContext(ctx, &out, `
		SELECT `+jobColumns+`
		FROM collection_jobs
		ORDER BY created_at DESC
		LIMIT $1`, lim)
	if err != nil {
		return nil, errors.Wrap(err, "list recent jobs")
	}
	return out, nil
}

// ResetStuckJobs moves running jobs back to queued (used during service restarts).
func (r *JobRepository) ResetStuckJobs(ctx context.Context) error {
	_, err := r.db.DB().ExecContext(ctx, `
		UPDATE collection_jobs
		SET status = 'queued',
			status_message = 'Reset after service restart',
			updated_at = NOW()
		WHERE status = 'running'
	`)
	if err != nil {
		return errors.Wrap(err, "reset stuck jobs")
	}
	return nil
}

func requireRow(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(collector.ErrJobNotFound, "%s", jobID)
	}
	return nil
}
