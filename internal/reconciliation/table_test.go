package reconciliation

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/jstats/internal/catalog"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(`
bootstrap: [game, score]
identity_labels:
  profile_url: url
  player_name: name
  team_name: team
categories:
  - id: game
    label: Games
  - id: score
    label: Goals
  - id: shoot
    label: Shots
`))
	require.NoError(t, err)
	return c
}

func id(name, team string) PlayerIdentity {
	return PlayerIdentity{Name: name, Team: team}
}

func rec(name, team, category, value string) StatRecord {
	return StatRecord{Identity: id(name, team), Category: category, Value: value}
}

func TestDedupIdentitiesPrefersNonEmptyURL(t *testing.T) {
	a := id("A", "T")

	got := DedupIdentities([]Candidate{
		{Identity: a, ProfileURL: ""},
		{Identity: id("B", "T")},
		{Identity: a, ProfileURL: "http://x"},
		{Identity: a, ProfileURL: "http://y"},
	})

	require.Len(t, got, 2)
	assert.Equal(t, Candidate{Identity: a, ProfileURL: "http://y"}, got[0])
	assert.Equal(t, id("B", "T"), got[1].Identity)
}

func TestDedupIdentitiesKeepsNonEmptyURLAgainstLaterEmpty(t *testing.T) {
	a := id("A", "T")

	got := DedupIdentities([]Candidate{
		{Identity: a, ProfileURL: "http://x"},
		{Identity: a},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "http://x", got[0].ProfileURL)
}

func TestNewMasterTableZeroFills(t *testing.T) {
	m := NewMasterTable([]string{"game", "score"}, []Candidate{
		{Identity: id("A", "T")},
		{Identity: id("A", "T")},
		{Identity: id("B", "T")},
	})

	require.Equal(t, 2, m.Len())
	for _, pid := range m.Identities() {
		for _, col := range []string{"game", "score"} {
			v, ok := m.Value(pid, col)
			require.True(t, ok)
			assert.Equal(t, ZeroValue, v)
		}
	}
}

func TestJoinIsALeftJoin(t *testing.T) {
	m := NewMasterTable([]string{"shoot"}, []Candidate{{Identity: id("A", "T")}, {Identity: id("B", "T")}})

	res, err := m.Join("shoot", []StatRecord{
		rec("A", "T", "shoot", "4"),
		rec("Z", "T", "shoot", "9"),
		rec("A", "T", "shoot", "5"),
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Matched)
	require.Len(t, res.Discarded, 1)
	assert.Equal(t, id("Z", "T"), res.Discarded[0].Identity)
	assert.Equal(t, 2, m.Len())
	assert.False(t, m.Has(id("Z", "T")))

	v, _ := m.Value(id("A", "T"), "shoot")
	assert.Equal(t, "5", v, "a later record for the same identity wins")
	v, _ = m.Value(id("B", "T"), "shoot")
	assert.Equal(t, ZeroValue, v)
}

func TestJoinValidatesBeforeWriting(t *testing.T) {
	m := NewMasterTable([]string{"game", "shoot"}, []Candidate{{Identity: id("A", "T")}})

	_, err := m.Join("cross", nil)
	assert.True(t, errors.Is(err, ErrUnknownColumn))

	_, err = m.Join("shoot", []StatRecord{
		rec("A", "T", "shoot", "4"),
		rec("A", "T", "game", "7"),
	})
	assert.True(t, errors.Is(err, ErrColumnMismatch))
	v, _ := m.Value(id("A", "T"), "shoot")
	assert.Equal(t, ZeroValue, v)
}

func TestZeroColumn(t *testing.T) {
	m := NewMasterTable([]string{"shoot"}, []Candidate{{Identity: id("A", "T")}})
	_, err := m.Join("shoot", []StatRecord{rec("A", "T", "shoot", "4")})
	require.NoError(t, err)

	require.NoError(t, m.ZeroColumn("shoot"))
	v, _ := m.Value(id("A", "T"), "shoot")
	assert.Equal(t, ZeroValue, v)
	assert.True(t, errors.Is(m.ZeroColumn("cross"), ErrUnknownColumn))
}

func TestFinalizeFreezesAndOrdersByCatalog(t *testing.T) {
	cat := testCatalog(t)
	m := NewMasterTable([]string{"shoot", "game"}, []Candidate{
		{Identity: id("A", "T"), ProfileURL: "http://a"},
	})
	_, err := m.Join("shoot", []StatRecord{rec("A", "T", "shoot", "4")})
	require.NoError(t, err)
	_, err = m.Join("game", []StatRecord{rec("A", "T", "game", "10")})
	require.NoError(t, err)

	table := m.Finalize(cat)

	assert.Equal(t, []string{"url", "name", "team", "Games", "Goals", "Shots"}, table.Header)
	assert.Equal(t, []string{"game", "score", "shoot"}, table.Columns)
	require.Equal(t, 1, table.Len())
	assert.Equal(t, []string{"http://a", "A", "T", "10", "0", "4"}, table.Rows[0].Record())

	_, err = m.Join("game", nil)
	assert.True(t, errors.Is(err, ErrFinalized))
	assert.True(t, errors.Is(m.ZeroColumn("game"), ErrFinalized))
}

func TestConcatKeepsFirstOccurrence(t *testing.T) {
	first := &Table{
		Header:  []string{"h"},
		Columns: []string{"game"},
		Rows: []TableRow{
			{PlayerName: "A", TeamName: "T1", Values: []string{"1"}},
			{PlayerName: "B", TeamName: "T1", Values: []string{"2"}},
		},
	}
	second := &Table{
		Header:  []string{"h"},
		Columns: []string{"game"},
		Rows: []TableRow{
			{PlayerName: "B", TeamName: "T1", Values: []string{"99"}},
			{PlayerName: "B", TeamName: "T2", Values: []string{"3"}},
		},
	}

	got := Concat(nil, first, second)

	require.Equal(t, 3, got.Len())
	assert.Equal(t, []string{"1", "2", "3"}, []string{got.Rows[0].Values[0], got.Rows[1].Values[0], got.Rows[2].Values[0]})
	assert.Equal(t, []string{"h"}, got.Header)
	assert.True(t, Concat().Empty())
}
