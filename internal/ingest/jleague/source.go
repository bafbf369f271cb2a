package jleague

import (
	"context"
	"fmt"
	"net/url"

	"github.com/cockroachdb/errors"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/listing"
	"github.com/fortuna/jstats/internal/logging"
)

// teamListCategory is the ranking page whose club selector lists the teams.
const teamListCategory = "score"

// Source serves ranking listings and team slugs from the J.League site.
type Source struct {
	client *Client
	logger *logging.Logger
}

// NewSource creates a listing source backed by client.
func NewSource(client *Client, logger *logging.Logger) *Source {
	return &Source{
		client: client,
		logger: logging.OrDefault(logger).Named("jleague"),
	}
}

// RankingPath is the site path of one ranking page.
func RankingPath(q listing.Query) string {
	return fmt.Sprintf("/stats/%s/player/%d/%s/%s/",
		url.PathEscape(string(q.League)), q.Season, url.PathEscape(q.Team), url.PathEscape(q.Category))
}

// Listing fetches and parses one ranking page.
func (s *Source) Listing(ctx context.Context, q listing.Query) ([]listing.Row, error) {
	path := RankingPath(q)
	body, err := s.client.Get(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", q.Category)
	}
	doc, err := ParseHTML(body)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", q.Category)
	}
	rows, err := ParseRanking(doc, s.client.BaseURL())
	if err != nil {
		return nil, errors.Wrapf(err, "%s", s.client.Resolve(path))
	}
	s.logger.Debug("parsed ranking", "category", q.Category, "team", q.Team, "rows", len(rows))
	return rows, nil
}

// Teams returns the team slugs listed on the league-wide goals ranking.
func (s *Source) Teams(ctx context.Context, season int, league catalog.League) ([]string, error) {
	path := RankingPath(listing.Query{
		Category: teamListCategory,
		Season:   season,
		League:   league,
		Team:     catalog.AllTeams,
	})
	body, err := s.client.Get(ctx, path)
	if err != nil {
		return nil, errors.Wrap(err, "fetch team list")
	}
	doc, err := ParseHTML(body)
	if err != nil {
		return nil, errors.Wrap(err, "fetch team list")
	}
	teams := ParseTeamOptions(doc)
	s.logger.Info("enumerated teams", "season", season, "league", league, "count", len(teams))
	return teams, nil
}
