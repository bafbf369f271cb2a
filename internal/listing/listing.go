// Package listing defines the contracts between the reconciliation engine and
// the collaborators that fetch ranking pages.
package listing

import (
	"context"

	"github.com/fortuna/jstats/internal/catalog"
)

// Query identifies one ranking page: a statistic category for a season,
// league category and team slug (or catalog.AllTeams).
type Query struct {
	Category string
	Season   int
	League   catalog.League
	Team     string
}

// Row is one raw ranking entry. Every field is untyped page text; TeamName
// and ProfileLink may be empty.
type Row struct {
	PlayerName   string `json:"player_name"`
	TeamName     string `json:"team_name,omitempty"`
	DisplayValue string `json:"display_value"`
	ProfileLink  string `json:"profile_link,omitempty"`
}

// Source returns the raw rows of one ranking page. Callers treat any error
// as an empty listing.
type Source interface {
	Listing(ctx context.Context, q Query) ([]Row, error)
}

// TeamEnumerator lists the team slugs of a league category for a season.
// Callers treat any error as an empty list.
type TeamEnumerator interface {
	Teams(ctx context.Context, season int, league catalog.League) ([]string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, q Query) ([]Row, error)

func (f SourceFunc) Listing(ctx context.Context, q Query) ([]Row, error) {
	return f(ctx, q)
}

// StaticTeams is a TeamEnumerator returning a fixed list.
type StaticTeams []string

func (s StaticTeams) Teams(context.Context, int, catalog.League) ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}
