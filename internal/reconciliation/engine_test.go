package reconciliation

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

type pageKey struct {
	team     string
	category string
}

// fakeSource serves canned listings and records every query.
type fakeSource struct {
	mu      sync.Mutex
	pages   map[pageKey][]listing.Row
	fail    map[pageKey]error
	queries []listing.Query
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages: make(map[pageKey][]listing.Row),
		fail:  make(map[pageKey]error),
	}
}

func (f *fakeSource) add(team, category string, rows ...listing.Row) {
	f.pages[pageKey{team, category}] = rows
}

func (f *fakeSource) Listing(_ context.Context, q listing.Query) ([]listing.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if err := f.fail[pageKey{q.Team, q.Category}]; err != nil {
		return nil, err
	}
	return f.pages[pageKey{q.Team, q.Category}], nil
}

func (f *fakeSource) categories() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	for i, q := range f.queries {
		out[i] = q.Category
	}
	return out
}

func row(name, team, value string) listing.Row {
	return listing.Row{PlayerName: name, TeamName: team, DisplayValue: value}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestEngine(t *testing.T, src listing.Source, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithSleep(noSleep)}, opts...)
	return NewEngine(src, testCatalog(t), opts...)
}

func valuesByName(table *Table, column string) map[string]string {
	ci := -1
	for i, c := range table.Columns {
		if c == column {
			ci = i
		}
	}
	out := make(map[string]string)
	for _, r := range table.Rows {
		out[r.PlayerName] = r.Values[ci]
	}
	return out
}

// scenarioSource: bootstrap lists of 3 and 2 players sharing one identity,
// and a shots listing covering two of them plus an unknown name.
func scenarioSource() *fakeSource {
	src := newFakeSource()
	src.add("shimizu", "game",
		listing.Row{PlayerName: "A", TeamName: "清水", DisplayValue: "10", ProfileLink: ""},
		row("B", "清水", "9"),
		row("C", "清水", "8"),
	)
	src.add("shimizu", "score",
		listing.Row{PlayerName: "C", TeamName: "清水", DisplayValue: "3", ProfileLink: "https://www.jleague.jp/player/3/"},
		row("D", "清水", "1"),
	)
	src.add("shimizu", "shoot",
		row("A", "清水", "1,234回"),
		row("D", "清水", "7"),
		row("Z", "清水", "5"),
	)
	return src
}

func TestReconcileTeamScenario(t *testing.T) {
	src := scenarioSource()
	e := newTestEngine(t, src)

	table, err := e.ReconcileTeam(context.Background(), 2025, catalog.J1, "shimizu")
	require.NoError(t, err)

	require.Equal(t, 4, table.Len())
	names := make([]string, 0, table.Len())
	for _, r := range table.Rows {
		names = append(names, r.PlayerName)
		assert.Len(t, r.Values, 3)
		for _, v := range r.Values {
			assert.NotEmpty(t, v)
		}
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, names)

	shots := valuesByName(table, "shoot")
	assert.Equal(t, map[string]string{"A": "1234", "B": "0", "C": "0", "D": "7"}, shots)
	assert.NotContains(t, shots, "Z")

	games := valuesByName(table, "game")
	assert.Equal(t, "0", games["D"])
	goals := valuesByName(table, "score")
	assert.Equal(t, "3", goals["C"])

	assert.Equal(t, "https://www.jleague.jp/player/3/", table.Rows[2].ProfileURL)
	assert.Equal(t, []string{"game", "score", "game", "score", "shoot"}, src.categories(),
		"bootstrap categories are fetched again in the fill phase")

	m := e.GetMetrics()
	assert.Equal(t, 5, m.Fetches)
	assert.Equal(t, 1, m.Discarded)
	assert.Equal(t, 4, m.Players)
}

func TestReconcileTeamIdentityStability(t *testing.T) {
	src := newFakeSource()
	src.add("t", "game", row("山田 太郎", "清水", "12"))
	src.add("t", "score", row("山田 太郎", "清水", "4"))
	src.add("t", "shoot", row("山田 太郎", "清水", "30"))

	table, err := newTestEngine(t, src).ReconcileTeam(context.Background(), 2025, catalog.J1, "t")
	require.NoError(t, err)

	require.Equal(t, 1, table.Len())
	assert.Equal(t, []string{"12", "4", "30"}, table.Rows[0].Values)
}

func TestReconcileTeamFetchFailureZeroesColumnOnly(t *testing.T) {
	src := scenarioSource()
	src.fail[pageKey{"shimizu", "shoot"}] = errors.New("503 Service Unavailable")

	e := newTestEngine(t, src)
	table, err := e.ReconcileTeam(context.Background(), 2025, catalog.J1, "shimizu")
	require.NoError(t, err)

	require.Equal(t, 4, table.Len())
	for _, v := range valuesByName(table, "shoot") {
		assert.Equal(t, "0", v)
	}
	assert.Equal(t, "10", valuesByName(table, "game")["A"])
	assert.Equal(t, 1, e.GetMetrics().FetchFailures)
}

func TestReconcileTeamFailedBootstrapStillUsesOtherCategory(t *testing.T) {
	src := scenarioSource()
	src.fail[pageKey{"shimizu", "game"}] = errors.New("timeout")

	table, err := newTestEngine(t, src).ReconcileTeam(context.Background(), 2025, catalog.J1, "shimizu")
	require.NoError(t, err)

	assert.Equal(t, 2, table.Len())
}

func TestReconcileTeamWithoutPlayers(t *testing.T) {
	src := newFakeSource()
	src.add("t", "shoot", row("A", "T", "1"))

	e := newTestEngine(t, src)
	table, err := e.ReconcileTeam(context.Background(), 2025, catalog.J1, "t")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPlayers))
	assert.True(t, table.Empty())
	assert.Equal(t, []string{"game", "score"}, src.categories(), "fill phase is not attempted")
	assert.Equal(t, 1, e.GetMetrics().TeamsNoPlayers)
}

func TestReconcileTeamParallelMatchesSequential(t *testing.T) {
	seq, err := newTestEngine(t, scenarioSource()).ReconcileTeam(context.Background(), 2025, catalog.J1, "shimizu")
	require.NoError(t, err)

	par, err := newTestEngine(t, scenarioSource(), WithWorkers(4)).ReconcileTeam(context.Background(), 2025, catalog.J1, "shimizu")
	require.NoError(t, err)

	assert.Equal(t, seq, par)
}

func TestReconcileTeamHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := scenarioSource()
	calls := 0
	e := newTestEngine(t, listing.SourceFunc(func(ctx context.Context, q listing.Query) ([]listing.Row, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return src.Listing(ctx, q)
	}))

	_, err := e.ReconcileTeam(ctx, 2025, catalog.J1, "shimizu")

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 2, calls)
}

func TestReconcileTeamSleepsAfterEachFetch(t *testing.T) {
	var mu sync.Mutex
	var pauses []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		mu.Lock()
		pauses = append(pauses, d)
		mu.Unlock()
		return nil
	}

	e := NewEngine(scenarioSource(), testCatalog(t), WithSleep(sleep), WithDelay(50*time.Millisecond))
	_, err := e.ReconcileTeam(context.Background(), 2025, catalog.J1, "shimizu")
	require.NoError(t, err)

	require.Len(t, pauses, 5)
	for _, d := range pauses {
		assert.Equal(t, 50*time.Millisecond, d)
	}
}

func TestReconcileTeamReportsProgress(t *testing.T) {
	var events []Progress
	e := newTestEngine(t, scenarioSource(), WithProgress(func(p Progress) { events = append(events, p) }))

	_, err := e.ReconcileTeam(context.Background(), 2025, catalog.J1, "shimizu")
	require.NoError(t, err)

	require.Len(t, events, 6)
	assert.Equal(t, StageBootstrap, events[0].Stage)
	assert.Equal(t, StageMaster, events[2].Stage)
	assert.Equal(t, 4, events[2].Records)
	last := events[5]
	assert.Equal(t, StageFill, last.Stage)
	assert.Equal(t, "shoot", last.Category)
	assert.Equal(t, "Shots", last.Label)
	assert.Equal(t, 3, last.Index)
	assert.Equal(t, 3, last.Total)
	assert.Equal(t, 2, last.Records)
}

func TestReconcileLeague(t *testing.T) {
	src := newFakeSource()
	src.add("kashima", "game", row("A", "鹿島", "5"), row("T", "移籍", "2"))
	src.add("kashima", "shoot", row("A", "鹿島", "11"))
	// no bootstrap rows for urawa
	src.add("urawa", "shoot", row("U", "浦和", "1"))
	src.add("shimizu", "game", row("B", "清水", "6"), row("T", "移籍", "9"))

	e := newTestEngine(t, src)
	table, err := e.ReconcileLeague(context.Background(), 2025, catalog.J1, []string{"kashima", "urawa", "shimizu"})
	require.NoError(t, err)

	require.Equal(t, 3, table.Len())
	games := valuesByName(table, "game")
	assert.Equal(t, map[string]string{"A": "5", "T": "2", "B": "6"}, games, "first team listing a player wins")
	assert.Equal(t, "11", valuesByName(table, "shoot")["A"])
	assert.Equal(t, []string{"url", "name", "team", "Games", "Goals", "Shots"}, table.Header)

	m := e.GetMetrics()
	assert.Equal(t, 2, m.Teams)
	assert.Equal(t, 1, m.TeamsNoPlayers)
}

func TestReconcileLeagueWithoutAnyPlayers(t *testing.T) {
	table, err := newTestEngine(t, newFakeSource()).ReconcileLeague(context.Background(), 2025, catalog.J2, []string{"a", "b"})

	assert.True(t, errors.Is(err, ErrNoPlayers))
	assert.True(t, table.Empty())
	assert.Len(t, table.Header, 6)
}
