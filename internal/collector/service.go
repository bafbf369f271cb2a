package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/logging"
	"github.com/fortuna/jstats/internal/reconciliation"
)

// Request represents a collection invocation request.
type Request struct {
	Season int    `json:"season"`
	League string `json:"league"`
	Team   string `json:"team"`
}

// Event is broadcast to listeners as jobs advance.
type Event struct {
	JobID     string    `json:"job_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Team      string    `json:"team,omitempty"`
	Category  string    `json:"category,omitempty"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Rows      int       `json:"rows,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives job events. It must not block.
type Listener func(Event)

// Service coordinates job persistence, execution, and status reporting.
type Service struct {
	store  JobStore
	runner *Runner

	historyLimit int
	pollInterval time.Duration

	listenersMu sync.RWMutex
	listeners   []Listener

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logging.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPollInterval sets how often the worker looks for queued jobs.
func WithPollInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithHistoryLimit sets how many recent jobs GetStatus returns.
func WithHistoryLimit(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// NewService constructs a Service. Call Start to launch workers.
func NewService(store JobStore, runner *Runner, logger *logging.Logger, opts ...ServiceOption) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		store:        store,
		runner:       runner,
		historyLimit: 10,
		pollInterval: 3 * time.Second,
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logging.OrDefault(logger).Named("collections"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a listener for job events.
func (s *Service) Subscribe(l Listener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

// Start launches the background worker loop.
func (s *Service) Start() {
	if err := s.store.ResetStuckJobs(s.ctx); err != nil {
		s.logger.Error("failed to reset jobs", "error", err)
	}

	s.wg.Add(1)
	go s.worker()
}

// Shutdown stops workers and waits for completion.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Enqueue creates a new job from the provided request.
func (s *Service) Enqueue(ctx context.Context, req Request) (*Job, error) {
	spec, err := JobSpec{Season: req.Season, League: catalog.League(req.League), Team: req.Team}.Normalize()
	if err != nil {
		return nil, err
	}

	teams := 1
	if spec.AllTeams() {
		teams = 0
	}
	job := &Job{
		Season:        spec.Season,
		League:        spec.League,
		Team:          spec.Team,
		Status:        JobStatusQueued,
		StatusMessage: "Queued",
		ProgressTotal: teams * (len(s.runner.Catalog().Bootstrap()) + s.runner.Catalog().Len()),
	}

	stored, err := s.store.CreateJob(ctx, job)
	if err != nil {
		return nil, errors.Wrap(err, "create job")
	}

	_ = s.store.AppendEvent(ctx, stored.JobID, "queued", "Job queued")
	s.publish(Event{JobID: stored.JobID, Type: "queued", Message: "Job queued", Team: stored.Team, Total: stored.ProgressTotal})
	s.logger.Info("job queued", "job_id", stored.JobID, "season", stored.Season, "league", stored.League, "team", stored.Team)

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return stored, nil
}

// GetJob returns one job by id.
func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// GetStatus returns the currently running job plus recent history.
func (s *Service) GetStatus(ctx context.Context) (*StatusSummary, error) {
	active, err := s.store.GetActiveJob(ctx)
	if err != nil {
		return nil, err
	}

	history, err := s.store.ListRecentJobs(ctx, s.historyLimit)
	if err != nil {
		return nil, err
	}

	return &StatusSummary{
		ActiveJob: active,
		History:   history,
	}, nil
}

func (s *Service) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		job, err := s.store.MarkNextJobRunning(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("claim job error", "error", err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
			case <-s.wake:
			}
			continue
		}

		s.executeJob(job)
	}
}

func (s *Service) executeJob(job *Job) {
	ctx := logging.WithJobID(s.ctx, job.JobID)
	s.logger.InfoContext(ctx, "job started", "season", job.Season, "league", job.League, "team", job.Team)

	reporter := &jobReporter{
		ctx:     ctx,
		service: s,
		jobID:   job.JobID,
		total:   job.ProgressTotal,
	}

	res, err := s.runner.Run(ctx, job.Spec(), reporter)
	if err != nil {
		status := JobStatusFailed
		if errors.Is(err, context.Canceled) {
			status = JobStatusCancelled
		}
		// s.ctx may already be cancelled during shutdown.
		bg := context.WithoutCancel(ctx)
		_ = s.store.UpdateStatus(bg, job.JobID, status, "Job "+string(status), err)
		s.publish(Event{JobID: job.JobID, Type: string(status), Message: err.Error(), Team: job.Team})
		s.logger.WarnContext(ctx, "job did not complete", "status", status, "error", err)
		return
	}

	_ = s.store.SetRows(ctx, job.JobID, res.Table.Len())
	_ = s.store.UpdateStatus(ctx, job.JobID, JobStatusCompleted, "Job completed", nil)
	s.publish(Event{
		JobID: job.JobID, Type: string(JobStatusCompleted), Message: "Job completed",
		Team: job.Team, Current: reporter.total, Total: reporter.total, Rows: res.Table.Len(),
	})
	s.logger.InfoContext(ctx, "job completed", "rows", res.Table.Len())
}

func (s *Service) publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, l := range s.listeners {
		l(ev)
	}
}

type jobReporter struct {
	ctx     context.Context
	service *Service
	jobID   string
	total   int
}

func (r *jobReporter) OnJobStart(spec JobSpec) {
	_ = r.service.store.UpdateProgress(r.ctx, r.jobID, 0, r.total, "Job starting")
	r.service.publish(Event{JobID: r.jobID, Type: "started", Message: "Job starting", Team: spec.Team, Total: r.total})
}

func (r *jobReporter) OnTeamStart(team string, index int, total int) {
	msg := fmt.Sprintf("Processing %s (%d/%d)", team, index+1, total)
	_ = r.service.store.AppendEvent(r.ctx, r.jobID, "team", msg)
	r.service.publish(Event{JobID: r.jobID, Type: "team", Message: msg, Team: team, Current: index, Total: total})
}

func (r *jobReporter) OnCategoryFetched(p reconciliation.Progress) {
	if p.Failed {
		_ = r.service.store.AppendEvent(r.ctx, r.jobID, "fetch_failed",
			fmt.Sprintf("%s/%s fetch failed, column zeroed", p.Team, p.Category))
	}
}

func (r *jobReporter) OnProgress(message string, current int, total int) {
	r.total = valueOr(total, r.total)
	_ = r.service.store.UpdateProgress(r.ctx, r.jobID, current, r.total, message)
	r.service.publish(Event{JobID: r.jobID, Type: "progress", Message: message, Current: current, Total: r.total})
}

func (r *jobReporter) OnJobComplete(res *Result) {
	_ = r.service.store.UpdateProgress(r.ctx, r.jobID, r.total, r.total, "Job complete")
	_ = r.service.store.AppendEvent(r.ctx, r.jobID, "complete", fmt.Sprintf("%d players collected", res.Table.Len()))
}

func (r *jobReporter) OnJobError(err error) {
	_ = r.service.store.AppendEvent(context.WithoutCancel(r.ctx), r.jobID, "error", err.Error())
}

func valueOr(val, fallback int) int {
	if val > 0 {
		return val
	}
	return fallback
}
