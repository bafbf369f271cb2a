package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/logging"
)

// ErrInvalidTarget is returned for a malformed scheduled target.
var ErrInvalidTarget = errors.New("invalid schedule target")

// Enqueuer queues collection jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req collector.Request) (*collector.Job, error)
}

// Target is one league/team pair collected every day.
type Target struct {
	League catalog.League `json:"league"`
	Team   string         `json:"team"`
}

func (t Target) String() string {
	return string(t.League) + "/" + t.Team
}

// ParseTargets parses "league/team" entries such as "j1/shimizu" or "j2/all".
func ParseTargets(specs []string) ([]Target, error) {
	var out []Target
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		league, team, ok := strings.Cut(spec, "/")
		team = strings.ToLower(strings.TrimSpace(team))
		if !ok || team == "" {
			return nil, errors.Wrapf(ErrInvalidTarget, "%q: want league/team", spec)
		}
		l, err := catalog.ParseLeague(league)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "target %q", spec), ErrInvalidTarget)
		}
		out = append(out, Target{League: l, Team: team})
	}
	return out, nil
}

// Config holds scheduler configuration
type Config struct {
	Enabled    bool          // Default: false
	Hour       int           // Default: 4 (04:00 local)
	Season     int           // 0 means the current calendar year
	Targets    []Target      // Default: j1/shimizu
	MaxRetries int           // Default: 3
	RetryDelay time.Duration // Default: 5s
	Location   *time.Location
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() *Config {
	return &Config{
		Hour:       4,
		Targets:    []Target{{League: catalog.J1, Team: "shimizu"}},
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		Location:   time.Local,
	}
}

// Orchestrator enqueues the configured targets once a day.
type Orchestrator struct {
	enqueuer Enqueuer
	config   *Config
	logger   *logging.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	lastRun time.Time
	lastErr error
}

// NewOrchestrator creates a new scheduler orchestrator
func NewOrchestrator(enqueuer Enqueuer, config *Config, logger *logging.Logger) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	return &Orchestrator{
		enqueuer: enqueuer,
		config:   config,
		logger:   logging.OrDefault(logger).Named("scheduler"),
		now:      time.Now,
		after:    time.After,
	}
}

// Start runs the daily loop until ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	if !o.config.Enabled {
		o.logger.Info("daily collection disabled")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer cancel()

	o.logger.Info("daily collection scheduler started",
		"hour", o.config.Hour,
		"targets", len(o.config.Targets),
	)

	for {
		next := o.NextRun(o.now())
		wait := next.Sub(o.now())
		o.logger.Info("next daily collection", "at", next.Format("2006-01-02 15:04:05"), "in", wait.Round(time.Second))

		select {
		case <-ctx.Done():
			o.logger.Info("daily collection scheduler stopped")
			return
		case <-o.after(wait):
			if _, err := o.TriggerNow(ctx); err != nil {
				o.logger.Error("daily collection enqueue failed", "error", err)
			}
		}
	}
}

// NextRun returns the first scheduled instant strictly after now.
func (o *Orchestrator) NextRun(now time.Time) time.Time {
	now = now.In(o.config.Location)
	next := time.Date(now.Year(), now.Month(), now.Day(), o.config.Hour, 0, 0, 0, o.config.Location)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// TriggerNow enqueues every target immediately. Failed targets do not stop
// the remaining ones; their errors are combined.
func (o *Orchestrator) TriggerNow(ctx context.Context) ([]*collector.Job, error) {
	season := o.config.Season
	if season == 0 {
		season = o.now().In(o.config.Location).Year()
	}

	var jobs []*collector.Job
	var errs error
	for _, target := range o.config.Targets {
		job, err := o.enqueueWithRetry(ctx, collector.Request{
			Season: season,
			League: string(target.League),
			Team:   target.Team,
		})
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "enqueue %s", target))
			continue
		}
		o.logger.Info("scheduled collection queued", "job_id", job.JobID, "target", target.String(), "season", season)
		jobs = append(jobs, job)
	}

	o.mu.Lock()
	o.lastRun = o.now()
	o.lastErr = errs
	o.mu.Unlock()
	return jobs, errs
}

func (o *Orchestrator) enqueueWithRetry(ctx context.Context, req collector.Request) (*collector.Job, error) {
	var err error
	for attempt := 1; attempt <= o.config.MaxRetries; attempt++ {
		var job *collector.Job
		job, err = o.enqueuer.Enqueue(ctx, req)
		if err == nil {
			return job, nil
		}
		if errors.Is(err, collector.ErrInvalidSpec) {
			return nil, err
		}
		o.logger.Warn("enqueue attempt failed", "attempt", attempt, "max", o.config.MaxRetries, "error", err)
		if attempt < o.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-o.after(o.config.RetryDelay):
			}
		}
	}
	return nil, err
}

// Stop gracefully stops the scheduler
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// GetStatus returns current scheduler status
func (o *Orchestrator) GetStatus() map[string]interface{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	targets := make([]string, len(o.config.Targets))
	for i, t := range o.config.Targets {
		targets[i] = t.String()
	}
	status := map[string]interface{}{
		"enabled":  o.config.Enabled,
		"hour":     o.config.Hour,
		"season":   o.config.Season,
		"targets":  targets,
		"next_run": o.NextRun(o.now()),
	}
	if !o.lastRun.IsZero() {
		status["last_run"] = o.lastRun
	}
	if o.lastErr != nil {
		status["last_error"] = o.lastErr.Error()
	}
	return status
}
