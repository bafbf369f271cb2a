package repository

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/reconciliation"
	"github.com/fortuna/jstats/internal/store"
)

// ErrRunNotFound is returned when no table was stored for a collection.
var ErrRunNotFound = errors.New("collection run not found")

// rowBatch bounds the rows sent per INSERT (six parameters each).
const rowBatch = 500

// TableRepository stores reconciled tables. It doubles as a collector sink.
type TableRepository struct {
	db *store.Database
}

var _ collector.Sink = (*TableRepository)(nil)

// NewTableRepository constructs a TableRepository.
func NewTableRepository(db *store.Database) *TableRepository {
	return &TableRepository{db: db}
}

// Write saves the result and records the new run id on it.
func (r *TableRepository) Write(ctx context.Context, res *collector.Result) error {
	id, err := r.Save(ctx, res)
	if err != nil {
		return err
	}
	res.RunID = id
	return nil
}

// Save inserts the run and all of its rows in one transaction.
func (r *TableRepository) Save(ctx context.Context, res *collector.Result) (int64, error) {
	if res == nil || res.Table == nil {
		return 0, errors.New("save collection run: no table")
	}

	tx, err := r.db.DB().BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	run := store.CollectionRun{
		Season:        res.Spec.Season,
		League:        string(res.Spec.League),
		Team:          res.Spec.Team,
		Columns:       store.StringArray(res.Table.Columns),
		Header:        store.StringArray(res.Table.Header),
		Players:       res.Table.Len(),
		Fetches:       res.Metrics.Fetches,
		FetchFailures: res.Metrics.FetchFailures,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
	}

	var runID int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO collection_runs (season, league, team, columns, header, players, fetches, fetch_failures, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING run_id`,
		run.Season, run.League, run.Team, run.Columns, run.Header,
		run.Players, run.Fetches, run.FetchFailures, run.StartedAt, run.FinishedAt,
	).Scan(&runID)
	if err != nil {
		return 0, errors.Wrap(err, "insert collection run")
	}

	rows := make([]store.CollectionRow, len(res.Table.Rows))
	for i, row := range res.Table.Rows {
		rows[i] = store.CollectionRow{
			RunID:      runID,
			Position:   i,
			ProfileURL: row.ProfileURL,
			PlayerName: row.PlayerName,
			TeamName:   row.TeamName,
			Values:     store.StringArray(row.Values),
		}
	}
	for start := 0; start < len(rows); start += rowBatch {
		end := min(start+rowBatch, len(rows))
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO collection_rows (run_id, position, profile_url, player_name, team_name, stat_values)
			VALUES (:run_id, :position, :profile_url, :player_name, :team_name, :stat_values)`,
			rows[start:end])
		if err != nil {
			return 0, errors.Wrapf(err, "insert collection rows %d-%d", start, end)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit collection run")
	}
	return runID, nil
}

// Latest returns the newest stored table for a collection.
func (r *TableRepository) Latest(ctx context.Context, season int, league catalog.League, team string) (*reconciliation.Table, *store.CollectionRun, error) {
	var run store.CollectionRun
	err := r.db.DB().GetContext(ctx, &run, `
		SELECT run_id, season, league, team, columns, header, players, fetches, fetch_failures,
			started_at, finished_at, created_at
		FROM collection_runs
		WHERE season = $1 AND league = $2 AND team = $3
		ORDER BY created_at DESC, run_id DESC
		LIMIT 1`, season, string(league), team)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, errors.Wrapf(ErrRunNotFound, "%d/%s/%s", season, league, team)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "get latest collection run")
	}

	var rows []store.CollectionRow
	err = r.db.DB().SelectContext(ctx, &rows, `
		SELECT run_id, position, profile_url, player_name, team_name, stat_values
		FROM collection_rows
		WHERE run_id = $1
		ORDER BY position`, run.RunID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list collection rows")
	}

	return tableFromRows(&run, rows), &run, nil
}

func tableFromRows(run *store.CollectionRun, rows []store.CollectionRow) *reconciliation.Table {
	table := &reconciliation.Table{
		Header:  []string(run.Header),
		Columns: []string(run.Columns),
		Rows:    make([]reconciliation.TableRow, len(rows)),
	}
	for i, row := range rows {
		table.Rows[i] = reconciliation.TableRow{
			ProfileURL: row.ProfileURL,
			PlayerName: row.PlayerName,
			TeamName:   row.TeamName,
			Values:     []string(row.Values),
		}
	}
	return table
}
