package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/listing"
	"github.com/fortuna/jstats/internal/logging"
	"github.com/fortuna/jstats/internal/reconciliation"
)

// Runner executes collection specs: it enumerates teams when needed, drives
// the reconciliation engine and hands the table to the sinks.
type Runner struct {
	source     listing.Source
	teams      listing.TeamEnumerator
	catalog    *catalog.Catalog
	engineOpts []reconciliation.Option
	sinks      []Sink
	logger     *logging.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEngineOptions passes options to every engine the runner creates.
func WithEngineOptions(opts ...reconciliation.Option) RunnerOption {
	return func(r *Runner) { r.engineOpts = append(r.engineOpts, opts...) }
}

// WithSinks adds output sinks.
func WithSinks(sinks ...Sink) RunnerOption {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner constructs a runner over a listing source and team enumerator.
func NewRunner(src listing.Source, teams listing.TeamEnumerator, cat *catalog.Catalog, opts ...RunnerOption) *Runner {
	if cat == nil {
		cat = catalog.Default()
	}
	r := &Runner{source: src, teams: teams, catalog: cat}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDefault(r.logger).Named("collector")
	return r
}

// Catalog returns the catalog used for every run.
func (r *Runner) Catalog() *catalog.Catalog {
	return r.catalog
}

// ListTeams enumerates the teams of a league. Enumeration failures yield an
// empty list.
func (r *Runner) ListTeams(ctx context.Context, season int, league catalog.League) []string {
	if r.teams == nil {
		return nil
	}
	teams, err := r.teams.Teams(ctx, season, league)
	if err != nil {
		r.logger.Warn("team enumeration failed", "season", season, "league", league, "error", err)
		return nil
	}
	return teams
}

// Run executes the job spec, reporting progress via the Reporter if provided.
func (r *Runner) Run(ctx context.Context, spec JobSpec, reporter Reporter) (*Result, error) {
	if reporter == nil {
		reporter = nopReporter{}
	}

	spec, err := spec.Normalize()
	if err != nil {
		reporter.OnJobError(err)
		return nil, err
	}
	reporter.OnJobStart(spec)

	res := &Result{Spec: spec, StartedAt: time.Now()}

	teams := []string{spec.Team}
	if spec.AllTeams() {
		teams = r.ListTeams(ctx, spec.Season, spec.League)
		if len(teams) == 0 {
			err := errors.Mark(errors.Wrapf(ErrNoTeams, "%s %d: %s", spec.League, spec.Season, ErrNoData), ErrNoData)
			reporter.OnJobError(err)
			return nil, err
		}
		r.logger.Info("found teams", "count", len(teams), "season", spec.Season, "league", spec.League, "teams", teams)
	}
	res.Teams = teams

	perTeam := len(r.catalog.Bootstrap()) + r.catalog.Len()
	progress := &progressTracker{
		reporter:    reporter,
		total:       perTeam * len(teams),
		fillPerTeam: r.catalog.Len(),
	}

	opts := append([]reconciliation.Option{
		reconciliation.WithLogger(r.logger),
		reconciliation.WithProgress(progress.observe),
	}, r.engineOpts...)
	engine := reconciliation.NewEngine(r.source, r.catalog, opts...)

	var table *reconciliation.Table
	if spec.AllTeams() {
		table, err = engine.ReconcileLeague(ctx, spec.Season, spec.League, teams)
	} else {
		table, err = engine.ReconcileTeam(ctx, spec.Season, spec.League, spec.Team)
	}
	res.Metrics = engine.GetMetrics()
	if errors.Is(err, reconciliation.ErrNoPlayers) {
		cause := err
		err = errors.Mark(
			errors.WithSecondaryError(errors.Wrapf(ErrNoData, "%s %d %s: %v", spec.League, spec.Season, spec.Team, cause), cause),
			reconciliation.ErrNoPlayers)
	}
	if err != nil {
		reporter.OnJobError(err)
		return nil, err
	}

	res.Table = table
	res.FinishedAt = time.Now()
	r.logger.Info("collection complete",
		"season", spec.Season, "league", spec.League, "team", spec.Team,
		"players", table.Len(), "elapsed", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	if spec.DryRun {
		reporter.OnProgress("Dry-run mode: no output will be written", progress.total, progress.total)
		reporter.OnJobComplete(res)
		return res, nil
	}

	var sinkErr error
	for _, s := range r.sinks {
		if err := s.Write(ctx, res); err != nil {
			r.logger.Error("sink failed", "error", err)
			sinkErr = errors.CombineErrors(sinkErr, err)
		}
	}
	if sinkErr != nil {
		sinkErr = errors.Wrap(sinkErr, "write result")
		reporter.OnJobError(sinkErr)
		return res, sinkErr
	}

	reporter.OnJobComplete(res)
	return res, nil
}

// progressTracker turns engine progress events into reporter callbacks. It
// serializes callbacks because parallel fetch workers report concurrently.
type progressTracker struct {
	mu       sync.Mutex
	reporter Reporter
	current  int
	total    int

	fillPerTeam int
}

func (p *progressTracker) observe(ev reconciliation.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Stage {
	case reconciliation.StageTeam:
		p.reporter.OnTeamStart(ev.Team, ev.Index-1, ev.Total)
	case reconciliation.StageMaster:
		p.reporter.OnProgress(fmt.Sprintf("Master list created: %d players found", ev.Records), p.current, p.total)
		if ev.Records == 0 {
			// the fill phase is skipped for this team
			p.total -= p.fillPerTeam
		}
	case reconciliation.StageBootstrap, reconciliation.StageFill:
		p.current++
		if p.current > p.total {
			p.total = p.current
		}
		p.reporter.OnCategoryFetched(ev)
		p.reporter.OnProgress(fmt.Sprintf("[%d/%d] Fetched %s", ev.Index, ev.Total, ev.Category), p.current, p.total)
	}
}

type nopReporter struct{}

func (nopReporter) OnJobStart(JobSpec)                       {}
func (nopReporter) OnTeamStart(string, int, int)             {}
func (nopReporter) OnCategoryFetched(reconciliation.Progress) {}
func (nopReporter) OnProgress(string, int, int)              {}
func (nopReporter) OnJobComplete(*Result)                    {}
func (nopReporter) OnJobError(error)                         {}
