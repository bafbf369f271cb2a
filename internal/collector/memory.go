package collector

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// MemoryJobStore keeps jobs in process memory. It backs the service when no
// database is configured.
type MemoryJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	order  []string
	events map[string][]JobEvent
	now    func() time.Time
}

// JobEvent is one entry of a job's event log.
type JobEvent struct {
	EventType string    `json:"event_type" db:"event_type"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewMemoryJobStore creates an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:   make(map[string]*Job),
		events: make(map[string][]JobEvent),
		now:    time.Now,
	}
}

func (m *MemoryJobStore) CreateJob(_ context.Context, job *Job) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := job.Copy()
	stored.JobID = uuid.NewString()
	now := m.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Status == "" {
		stored.Status = JobStatusQueued
	}
	m.jobs[stored.JobID] = stored
	m.order = append(m.order, stored.JobID)
	return stored.Copy(), nil
}

func (m *MemoryJobStore) GetJob(_ context.Context, jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, errors.Wrapf(ErrJobNotFound, "%s", jobID)
	}
	return job.Copy(), nil
}

// MarkNextJobRunning claims the oldest queued job.
func (m *MemoryJobStore) MarkNextJobRunning(_ context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queued := m.sortedLocked(func(j *Job) bool { return j.Status == JobStatusQueued })
	if len(queued) == 0 {
		return nil, nil
	}
	// oldest first
	job := queued[len(queued)-1]
	now := m.now()
	job.Status = JobStatusRunning
	job.StatusMessage = "Starting job..."
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.UpdatedAt = now
	return job.Copy(), nil
}

func (m *MemoryJobStore) UpdateStatus(_ context.Context, jobID string, status JobStatus, message string, lastErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return errors.Wrapf(ErrJobNotFound, "%s", jobID)
	}
	now := m.now()
	job.Status = status
	job.StatusMessage = message
	job.LastError = nil
	if lastErr != nil {
		msg := lastErr.Error()
		job.LastError = &msg
	}
	job.UpdatedAt = now
	if status.Terminal() {
		job.CompletedAt = &now
	}
	return nil
}

func (m *MemoryJobStore) UpdateProgress(_ context.Context, jobID string, current, total int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return errors.Wrapf(ErrJobNotFound, "%s", jobID)
	}
	job.ProgressCurrent = current
	job.ProgressTotal = total
	job.StatusMessage = message
	job.UpdatedAt = m.now()
	return nil
}

func (m *MemoryJobStore) SetRows(_ context.Context, jobID string, rows int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return errors.Wrapf(ErrJobNotFound, "%s", jobID)
	}
	job.Rows = rows
	return nil
}

func (m *MemoryJobStore) AppendEvent(_ context.Context, jobID string, eventType, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[jobID] = append(m.events[jobID], JobEvent{EventType: eventType, Message: message, CreatedAt: m.now()})
	return nil
}

// Events returns the event log of a job.
func (m *MemoryJobStore) Events(jobID string) []JobEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]JobEvent(nil), m.events[jobID]...)
}

func (m *MemoryJobStore) GetActiveJob(_ context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	running := m.sortedLocked(func(j *Job) bool { return j.Status == JobStatusRunning })
	if len(running) == 0 {
		return nil, nil
	}
	return running[0].Copy(), nil
}

func (m *MemoryJobStore) ListRecentJobs(_ context.Context, limit int) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.sortedLocked(func(*Job) bool { return true })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]*Job, len(all))
	for i, j := range all {
		out[i] = j.Copy()
	}
	return out, nil
}

func (m *MemoryJobStore) ResetStuckJobs(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status == JobStatusRunning {
			job.Status = JobStatusQueued
			job.StatusMessage = "Reset after service restart"
			job.UpdatedAt = m.now()
		}
	}
	return nil
}

// sortedLocked returns matching jobs, newest first.
func (m *MemoryJobStore) sortedLocked(match func(*Job) bool) []*Job {
	var out []*Job
	for i := len(m.order) - 1; i >= 0; i-- {
		if j := m.jobs[m.order[i]]; match(j) {
			out = append(out, j)
		}
	}
	return out
}
