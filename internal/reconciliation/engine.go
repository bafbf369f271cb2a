package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc/iter"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/listing"
	"github.com/fortuna/jstats/internal/logging"
)

// DefaultDelay is the pause after every category fetch.
const DefaultDelay = 300 * time.Millisecond

// Engine reconciles independently fetched category listings into one table
// per scope: bootstrap the identity list, deduplicate it, then left-join
// every catalog category onto it.
type Engine struct {
	source   listing.Source
	catalog  *catalog.Catalog
	logger   *logging.Logger
	matcher  *Matcher
	delay    time.Duration
	workers  int
	sleep    func(context.Context, time.Duration) error
	progress ProgressFunc

	mu      sync.Mutex
	metrics Metrics
}

// Metrics tracks reconciliation statistics
type Metrics struct {
	Runs            int       `json:"runs"`
	Teams           int       `json:"teams"`
	TeamsNoPlayers  int       `json:"teams_without_players"`
	Fetches         int       `json:"fetches"`
	FetchFailures   int       `json:"fetch_failures"`
	EmptyListings   int       `json:"empty_listings"`
	MergeFailures   int       `json:"merge_failures"`
	SkippedRows     int       `json:"skipped_rows"`
	Discarded       int       `json:"discarded_records"`
	NearMisses      int       `json:"near_misses"`
	Backfilled      int       `json:"backfilled_teams"`
	BackfillTies    int       `json:"backfill_ties"`
	Players         int       `json:"players"`
	LastRun         time.Time `json:"last_run"`
	LastRunDuration string    `json:"last_run_duration"`
}

// Stage names a step of the reconciliation pipeline in progress events.
type Stage string

const (
	StageTeam      Stage = "team"
	StageBootstrap Stage = "bootstrap"
	StageMaster    Stage = "master"
	StageFill      Stage = "fill"
)

// Progress is emitted as the pipeline advances. Index is 1-based within
// Total. Records is the listing size for fetch stages and the number of
// master identities for StageMaster.
type Progress struct {
	Stage    Stage          `json:"stage"`
	Season   int            `json:"season"`
	League   catalog.League `json:"league"`
	Team     string         `json:"team"`
	Category string         `json:"category,omitempty"`
	Label    string         `json:"label,omitempty"`
	Index    int            `json:"index"`
	Total    int            `json:"total"`
	Records  int            `json:"records"`
	Failed   bool           `json:"failed,omitempty"`
}

// ProgressFunc receives progress events. It is called from the goroutine
// running the reconciliation, and from fetch workers when WithWorkers > 1.
type ProgressFunc func(Progress)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDelay sets the politeness pause after each category fetch.
func WithDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.delay = d
		}
	}
}

// WithWorkers enables parallel prefetching of fill-phase listings.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMatcher sets the near-miss matcher used to diagnose discarded records.
func WithMatcher(m *Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithSleep replaces the delay implementation.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// NewEngine creates a new reconciliation engine
func NewEngine(src listing.Source, cat *catalog.Catalog, opts ...Option) *Engine {
	if cat == nil {
		cat = catalog.Default()
	}
	e := &Engine{
		source:  src,
		catalog: cat,
		matcher: NewMatcher(DefaultNearMissThreshold),
		delay:   DefaultDelay,
		workers: 1,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrDefault(e.logger).Named("reconciliation")
	return e
}

// Catalog returns the category catalog the engine fills.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// ReconcileTeam runs bootstrap, dedup and fill for one team slug. It returns
// an empty table and ErrNoPlayers when the bootstrap categories yield no
// identity. The only other error is context cancellation.
func (e *Engine) ReconcileTeam(ctx context.Context, season int, league catalog.League, team string) (*Table, error) {
	started := time.Now()
	base := listing.Query{Season: season, League: league, Team: team}

	bootstrap := e.catalog.Bootstrap()
	var candidates []Candidate
	for i, cat := range bootstrap {
		q := base
		q.Category = cat
		n, failed, err := e.fetch(ctx, q)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, CandidatesFrom(n.Records)...)
		e.emit(Progress{
			Stage: StageBootstrap, Season: season, League: league, Team: team,
			Category: cat, Label: e.label(cat),
			Index: i + 1, Total: len(bootstrap), Records: len(n.Records), Failed: failed,
		})
	}

	master := NewMasterTable(e.catalog.IDs(), candidates)
	e.emit(Progress{
		Stage: StageMaster, Season: season, League: league, Team: team,
		Index: 1, Total: 1, Records: master.Len(),
	})
	if master.Len() == 0 {
		e.update(func(m *Metrics) { m.TeamsNoPlayers++ })
		e.logger.Warn("no players in bootstrap categories", "team", team, "season", season, "league", league)
		return e.emptyTable(), errors.Wrapf(ErrNoPlayers, "team %s", team)
	}
	e.logger.Info("master identity list built", "team", team, "players", master.Len())

	if err := e.fill(ctx, base, master); err != nil {
		return nil, err
	}

	table := master.Finalize(e.catalog)
	e.update(func(m *Metrics) {
		m.Runs++
		m.Teams++
		m.Players += table.Len()
		m.LastRun = time.Now()
		m.LastRunDuration = time.Since(started).Round(time.Millisecond).String()
	})
	return table, nil
}

// ReconcileLeague reconciles every team in order, concatenates the results
// and keeps the first row of any identity seen under more than one team.
// Teams without players are skipped; when no team yields any row the empty
// result comes back with ErrNoPlayers.
func (e *Engine) ReconcileLeague(ctx context.Context, season int, league catalog.League, teams []string) (*Table, error) {
	tables := make([]*Table, 0, len(teams))
	for i, team := range teams {
		e.emit(Progress{
			Stage: StageTeam, Season: season, League: league, Team: team,
			Index: i + 1, Total: len(teams),
		})
		e.logger.Info("reconciling team", "team", team, "index", i+1, "total", len(teams))

		t, err := e.ReconcileTeam(ctx, season, league, team)
		if errors.Is(err, ErrNoPlayers) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}

	out := Concat(tables...)
	if out.Header == nil {
		empty := e.emptyTable()
		out.Header, out.Columns = empty.Header, empty.Columns
	}
	if out.Empty() {
		return out, errors.Wrapf(ErrNoPlayers, "league %s season %d", league, season)
	}

	before := 0
	for _, t := range tables {
		before += t.Len()
	}
	if dup := before - out.Len(); dup > 0 {
		e.logger.Warn("dropped players listed under more than one team", "rows", dup)
	}
	return out, nil
}

type fetched struct {
	listing NormalizedListing
	failed  bool
	err     error
}

func (e *Engine) fill(ctx context.Context, base listing.Query, master *MasterTable) error {
	ids := e.catalog.IDs()

	var prefetched []fetched
	if e.workers > 1 {
		mapper := iter.Mapper[string, fetched]{MaxGoroutines: e.workers}
		prefetched = mapper.Map(ids, func(id *string) fetched {
			q := base
			q.Category = *id
			n, failed, err := e.fetch(ctx, q)
			return fetched{listing: n, failed: failed, err: err}
		})
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "fill phase")
		}
	}

	known := master.Identities()
	for i, id := range ids {
		var f fetched
		if prefetched != nil {
			f = prefetched[i]
		} else {
			q := base
			q.Category = id
			f.listing, f.failed, f.err = e.fetch(ctx, q)
		}
		if f.err != nil {
			return f.err
		}

		matched := e.merge(master, known, id, f.listing)
		e.emit(Progress{
			Stage: StageFill, Season: base.Season, League: base.League, Team: base.Team,
			Category: id, Label: e.label(id),
			Index: i + 1, Total: len(ids), Records: matched, Failed: f.failed,
		})
	}
	return nil
}

// merge joins one listing into column. A failed join zeroes the column.
func (e *Engine) merge(master *MasterTable, known []PlayerIdentity, column string, n NormalizedListing) int {
	res, err := master.Join(column, n.Records)
	if err != nil {
		e.update(func(m *Metrics) { m.MergeFailures++ })
		e.logger.Warn("merge failed, column zeroed", "category", column, "error", err)
		if zerr := master.ZeroColumn(column); zerr != nil {
			e.logger.Error("zeroing column failed", "category", column, "error", zerr)
		}
		return 0
	}

	if len(res.Discarded) > 0 {
		e.logger.Debug("discarded records of unknown players", "category", column, "count", len(res.Discarded))
		misses := e.matcher.NearMisses(known, res.Discarded)
		for _, nm := range misses {
			e.logger.Warn("discarded record resembles a known player",
				"category", nm.Category,
				"discarded", nm.Discarded.String(),
				"closest", nm.Closest.String(),
				"similarity", nm.Similarity)
		}
		e.update(func(m *Metrics) {
			m.Discarded += len(res.Discarded)
			m.NearMisses += len(misses)
		})
	}
	return res.Matched
}

// fetch retrieves and normalizes one listing. A source error degrades to an
// empty listing and reports failed; err is only set when ctx is done.
func (e *Engine) fetch(ctx context.Context, q listing.Query) (NormalizedListing, bool, error) {
	if err := ctx.Err(); err != nil {
		return NormalizedListing{Category: q.Category}, false, errors.Wrapf(err, "fetch %s", q.Category)
	}

	rows, err := e.source.Listing(ctx, q)
	failed := false
	if err != nil {
		if ctx.Err() != nil {
			return NormalizedListing{Category: q.Category}, false, errors.Wrapf(ctx.Err(), "fetch %s", q.Category)
		}
		failed = true
		rows = nil
		e.logger.Warn("listing fetch failed, using empty listing",
			"category", q.Category, "team", q.Team, "error", err)
	}

	n := Normalize(rows, q.Category)
	if n.BackfillTie {
		e.logger.Warn("team backfill tie, using first listed team",
			"category", q.Category, "team", n.BackfillTeam, "rows", n.Backfilled)
	}

	e.update(func(m *Metrics) {
		m.Fetches++
		if failed {
			m.FetchFailures++
		}
		if len(rows) == 0 {
			m.EmptyListings++
		}
		m.SkippedRows += n.Skipped
		m.Backfilled += n.Backfilled
		if n.BackfillTie {
			m.BackfillTies++
		}
	})

	if err := e.sleep(ctx, e.delay); err != nil {
		return n, failed, errors.Wrapf(err, "fetch %s", q.Category)
	}
	return n, failed, nil
}

func (e *Engine) emptyTable() *Table {
	return &Table{Header: e.catalog.Header(), Columns: e.catalog.IDs()}
}

func (e *Engine) label(id string) string {
	l, _ := e.catalog.Label(id)
	return l
}

func (e *Engine) emit(p Progress) {
	if e.progress != nil {
		e.progress(p)
	}
}

func (e *Engine) update(fn func(*Metrics)) {
	e.mu.Lock()
	fn(&e.metrics)
	e.mu.Unlock()
}

// GetMetrics returns a snapshot of the reconciliation metrics
func (e *Engine) GetMetrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// ResetMetrics clears all metrics
func (e *Engine) ResetMetrics() {
	e.mu.Lock()
	e.metrics = Metrics{}
	e.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
