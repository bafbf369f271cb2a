package reconciliation

import (
	"github.com/cockroachdb/errors"

	"github.com/fortuna/jstats/internal/catalog"
)

var (
	// ErrNoPlayers is returned when the bootstrap phase yields no identity.
	ErrNoPlayers = errors.New("bootstrap categories yielded no players")

	// ErrUnknownColumn is returned when joining into a column the table does not have.
	ErrUnknownColumn = errors.New("unknown statistic column")

	// ErrColumnMismatch is returned when a record belongs to another category.
	ErrColumnMismatch = errors.New("record category does not match column")

	// ErrFinalized is returned when mutating a finalized table.
	ErrFinalized = errors.New("master table is finalized")
)

// MasterTable accumulates one row per bootstrap identity and one cell per
// statistic column. Every cell starts as ZeroValue. The row set is fixed at
// construction: joins only fill existing rows.
type MasterTable struct {
	columns   []string
	colIndex  map[string]int
	order     []PlayerIdentity
	rows      map[PlayerIdentity]*masterRow
	finalized bool
}

type masterRow struct {
	profileURL string
	cells      []string
}

// JoinResult reports how a listing was merged into the table.
type JoinResult struct {
	Matched   int
	Discarded []StatRecord
}

// NewMasterTable builds a zero-filled table. Candidates are deduplicated
// first, so duplicate identities collapse into one row.
func NewMasterTable(columns []string, candidates []Candidate) *MasterTable {
	t := &MasterTable{
		columns:  append([]string(nil), columns...),
		colIndex: make(map[string]int, len(columns)),
		rows:     make(map[PlayerIdentity]*masterRow),
	}
	for i, c := range t.columns {
		t.colIndex[c] = i
	}

	for _, c := range DedupIdentities(candidates) {
		cells := make([]string, len(t.columns))
		for i := range cells {
			cells[i] = ZeroValue
		}
		t.order = append(t.order, c.Identity)
		t.rows[c.Identity] = &masterRow{profileURL: c.ProfileURL, cells: cells}
	}
	return t
}

// Len returns the number of identities.
func (t *MasterTable) Len() int {
	return len(t.order)
}

// Identities returns the row keys in row order.
func (t *MasterTable) Identities() []PlayerIdentity {
	return append([]PlayerIdentity(nil), t.order...)
}

// Has reports whether id is a row of the table.
func (t *MasterTable) Has(id PlayerIdentity) bool {
	_, ok := t.rows[id]
	return ok
}

// Value returns the cell for (id, column).
func (t *MasterTable) Value(id PlayerIdentity, column string) (string, bool) {
	r, ok := t.rows[id]
	if !ok {
		return "", false
	}
	i, ok := t.colIndex[column]
	if !ok {
		return "", false
	}
	return r.cells[i], true
}

// Join left-joins records onto the table's rows under column. The listing is
// validated before any cell is written, so a failed join leaves the column
// untouched. Records of unknown identities are returned as discarded; a
// later record for the same identity overwrites an earlier one.
func (t *MasterTable) Join(column string, records []StatRecord) (JoinResult, error) {
	var res JoinResult
	if t.finalized {
		return res, ErrFinalized
	}
	ci, ok := t.colIndex[column]
	if !ok {
		return res, errors.Wrapf(ErrUnknownColumn, "%q", column)
	}
	for _, r := range records {
		if r.Category != column {
			return res, errors.Wrapf(ErrColumnMismatch, "record %q in column %q", r.Category, column)
		}
	}

	for _, r := range records {
		row, ok := t.rows[r.Identity]
		if !ok {
			res.Discarded = append(res.Discarded, r)
			continue
		}
		row.cells[ci] = r.Value
		res.Matched++
	}
	return res, nil
}

// ZeroColumn resets every cell of column to ZeroValue.
func (t *MasterTable) ZeroColumn(column string) error {
	if t.finalized {
		return ErrFinalized
	}
	ci, ok := t.colIndex[column]
	if !ok {
		return errors.Wrapf(ErrUnknownColumn, "%q", column)
	}
	for _, id := range t.order {
		t.rows[id].cells[ci] = ZeroValue
	}
	return nil
}

// Finalize freezes the table and returns its labelled snapshot. Columns are
// emitted in catalog order whatever order they were declared in. Further
// joins fail with ErrFinalized.
func (t *MasterTable) Finalize(cat *catalog.Catalog) *Table {
	t.finalized = true

	ids := cat.IDs()
	header := cat.Header()
	out := &Table{
		Header:  header,
		Columns: ids,
		Rows:    make([]TableRow, 0, len(t.order)),
	}
	for _, id := range t.order {
		src := t.rows[id]
		values := make([]string, len(ids))
		for i, col := range ids {
			if ci, ok := t.colIndex[col]; ok {
				values[i] = src.cells[ci]
			} else {
				values[i] = ZeroValue
			}
		}
		out.Rows = append(out.Rows, TableRow{
			ProfileURL: src.profileURL,
			PlayerName: id.Name,
			TeamName:   id.Team,
			Values:     values,
		})
	}
	return out
}

// Table is a finalized reconciliation result handed to output collaborators.
type Table struct {
	Header  []string   `json:"header"`
	Columns []string   `json:"columns"`
	Rows    []TableRow `json:"rows"`
}

// TableRow is one player of a finalized table. Values follow Table.Columns.
type TableRow struct {
	ProfileURL string   `json:"profile_url"`
	PlayerName string   `json:"player_name"`
	TeamName   string   `json:"team_name"`
	Values     []string `json:"values"`
}

// Identity returns the reconciliation key of the row.
func (r TableRow) Identity() PlayerIdentity {
	return PlayerIdentity{Name: r.PlayerName, Team: r.TeamName}
}

// Record returns the row as output cells: identity columns then values.
func (r TableRow) Record() []string {
	out := make([]string, 0, 3+len(r.Values))
	out = append(out, r.ProfileURL, r.PlayerName, r.TeamName)
	return append(out, r.Values...)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// Records returns every row as output cells, without the header.
func (t *Table) Records() [][]string {
	out := make([][]string, 0, t.Len())
	for _, r := range t.Rows {
		out = append(out, r.Record())
	}
	return out
}

// Concat appends the rows of tables in order and drops repeated identities,
// keeping the first occurrence. Header and columns come from the first
// non-nil table.
func Concat(tables ...*Table) *Table {
	out := &Table{}
	seen := make(map[PlayerIdentity]struct{})
	for _, t := range tables {
		if t == nil {
			continue
		}
		if out.Header == nil {
			out.Header = append([]string(nil), t.Header...)
			out.Columns = append([]string(nil), t.Columns...)
		}
		for _, r := range t.Rows {
			id := r.Identity()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}
