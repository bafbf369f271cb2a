package store

import (
	"database/sql/driver"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
)

// CollectionRun is one persisted reconciliation result.
type CollectionRun struct {
	RunID         int64       `json:"run_id" db:"run_id"`
	Season        int         `json:"season" db:"season"`
	League        string      `json:"league" db:"league"`
	Team          string      `json:"team" db:"team"`
	Columns       StringArray `json:"columns" db:"columns"`
	Header        StringArray `json:"header" db:"header"`
	Players       int         `json:"players" db:"players"`
	Fetches       int         `json:"fetches" db:"fetches"`
	FetchFailures int         `json:"fetch_failures" db:"fetch_failures"`
	StartedAt     time.Time   `json:"started_at" db:"started_at"`
	FinishedAt    time.Time   `json:"finished_at" db:"finished_at"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// CollectionRow is one player row of a run, in table order.
type CollectionRow struct {
	RunID      int64       `json:"run_id" db:"run_id"`
	Position   int         `json:"position" db:"position"`
	ProfileURL string      `json:"profile_url" db:"profile_url"`
	PlayerName string      `json:"player_name" db:"player_name"`
	TeamName   string      `json:"team_name" db:"team_name"`
	Values     StringArray `json:"values" db:"stat_values"`
}

// StringArray is stored as a JSONB array.
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	raw, err := sonic.Marshal([]string(a))
	if err != nil {
		return nil, errors.Wrap(err, "marshal string array")
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.Newf("scan string array: unsupported type %T", src)
	}
	var out []string
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return errors.Wrap(err, "unmarshal string array")
	}
	*a = out
	return nil
}
