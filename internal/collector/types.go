package collector

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/reconciliation"
)

var (
	// ErrNoData is returned when no team yields any player.
	ErrNoData = errors.New("no data collected")

	// ErrNoTeams is returned when a league-wide run finds no team to collect.
	ErrNoTeams = errors.New("no teams enumerated")

	// ErrInvalidSpec is returned for a malformed collection request.
	ErrInvalidSpec = errors.New("invalid collection spec")

	// ErrJobNotFound is returned by job stores for an unknown id.
	ErrJobNotFound = errors.New("collection job not found")
)

// JobStatus represents the lifecycle state for a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is a queued or executed collection.
type Job struct {
	JobID           string         `json:"job_id" db:"job_id"`
	Season          int            `json:"season" db:"season"`
	League          catalog.League `json:"league" db:"league"`
	Team            string         `json:"team" db:"team"`
	Status          JobStatus      `json:"status" db:"status"`
	StatusMessage   string         `json:"status_message" db:"status_message"`
	ProgressCurrent int            `json:"progress_current" db:"progress_current"`
	ProgressTotal   int            `json:"progress_total" db:"progress_total"`
	Rows            int            `json:"rows" db:"row_count"`
	LastError       *string        `json:"last_error,omitempty" db:"last_error"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// Copy returns a shallow copy to prevent external mutation.
func (j *Job) Copy() *Job {
	if j == nil {
		return nil
	}
	cpy := *j
	return &cpy
}

// Spec returns the collection the job describes.
func (j *Job) Spec() JobSpec {
	return JobSpec{Season: j.Season, League: j.League, Team: j.Team}
}

// JobSpec describes the work to be performed by the runner.
type JobSpec struct {
	Season    int            `json:"season"`
	League    catalog.League `json:"league"`
	Team      string         `json:"team"`
	OutputDir string         `json:"output_dir,omitempty"`
	DryRun    bool           `json:"dry_run,omitempty"`
}

// AllTeams reports whether the spec covers every team of the league.
func (s JobSpec) AllTeams() bool {
	return s.Team == catalog.AllTeams
}

// Normalize trims the team slug and canonicalizes the league.
func (s JobSpec) Normalize() (JobSpec, error) {
	s.Team = strings.ToLower(strings.TrimSpace(s.Team))
	league, err := catalog.ParseLeague(string(s.League))
	if err != nil {
		return s, errors.Mark(err, ErrInvalidSpec)
	}
	s.League = league
	if s.Season < 1993 || s.Season > 2100 {
		return s, errors.Wrapf(ErrInvalidSpec, "season %d out of range", s.Season)
	}
	if s.Team == "" {
		return s, errors.Wrap(ErrInvalidSpec, "team is required")
	}
	return s, nil
}

// Reporter receives lifecycle callbacks from the runner.
type Reporter interface {
	OnJobStart(spec JobSpec)
	OnTeamStart(team string, index int, total int)
	OnCategoryFetched(p reconciliation.Progress)
	OnProgress(message string, current int, total int)
	OnJobComplete(result *Result)
	OnJobError(err error)
}

// Result is a finished collection.
type Result struct {
	Spec       JobSpec                `json:"spec"`
	Teams      []string               `json:"teams"`
	Table      *reconciliation.Table  `json:"table"`
	Metrics    reconciliation.Metrics `json:"metrics"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`

	// Set by sinks.
	OutputPath string `json:"output_path,omitempty"`
	RunID      int64  `json:"run_id,omitempty"`
}

// Sink receives every successful, non dry-run result.
type Sink interface {
	Write(ctx context.Context, result *Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, result *Result) error

func (f SinkFunc) Write(ctx context.Context, result *Result) error {
	return f(ctx, result)
}

// JobStore persists jobs for the Service.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) (*Job, error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
	MarkNextJobRunning(ctx context.Context) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, message string, lastErr error) error
	UpdateProgress(ctx context.Context, jobID string, current, total int, message string) error
	SetRows(ctx context.Context, jobID string, rows int) error
	AppendEvent(ctx context.Context, jobID string, eventType, message string) error
	GetActiveJob(ctx context.Context) (*Job, error)
	ListRecentJobs(ctx context.Context, limit int) ([]*Job, error)
	ResetStuckJobs(ctx context.Context) error
}

// StatusSummary is returned to API callers.
type StatusSummary struct {
	ActiveJob *Job   `json:"active_job,omitempty"`
	History   []*Job `json:"recent_jobs,omitempty"`
}
