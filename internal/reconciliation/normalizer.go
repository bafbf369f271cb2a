package reconciliation

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/fortuna/jstats/internal/listing"
)

// ZeroValue is the canonical value of a missing or unparseable statistic.
const ZeroValue = "0"

// placeholderNames are name cells that label a column instead of a player.
var placeholderNames = map[string]struct{}{
	"選手名": {},
	"-":   {},
	"—":   {},
}

var numericToken = regexp.MustCompile(`\d+\.?\d*`)

// StatRecord is one (identity, category, value) triple taken from a listing.
type StatRecord struct {
	Identity   PlayerIdentity
	ProfileURL string
	Category   string
	Value      string
}

// NormalizedListing is the result of normalizing one category listing.
type NormalizedListing struct {
	Category string
	Records  []StatRecord

	// Skipped counts rows rejected for an empty or placeholder name.
	Skipped int

	// Backfilled counts rows whose empty team was set to BackfillTeam.
	Backfilled   int
	BackfillTeam string

	// BackfillTie is set when two or more teams shared the highest count.
	BackfillTie bool
}

// ExtractValue folds full-width characters, strips grouping commas and
// returns the first integer or decimal token of s, or ZeroValue.
func ExtractValue(s string) string {
	cleaned := width.Narrow.String(s)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	token := numericToken.FindString(cleaned)
	if token == "" {
		return ZeroValue
	}
	return token
}

// Normalize converts the raw rows of one category listing into stat records.
// Rows without a usable player name are dropped. When some rows lack a team
// and others carry one, the most frequent team of the listing is assigned to
// the rows missing it; a tie goes to the team seen first.
func Normalize(rows []listing.Row, category string) NormalizedListing {
	out := NormalizedListing{Category: category}
	if len(rows) == 0 {
		return out
	}

	out.Records = make([]StatRecord, 0, len(rows))
	for _, row := range rows {
		name := foldName(row.PlayerName)
		if isPlaceholderName(name) {
			out.Skipped++
			continue
		}
		out.Records = append(out.Records, StatRecord{
			Identity: PlayerIdentity{
				Name: name,
				Team: foldName(row.TeamName),
			},
			ProfileURL: strings.TrimSpace(row.ProfileLink),
			Category:   category,
			Value:      ExtractValue(row.DisplayValue),
		})
	}

	team, tie, missing := majorityTeam(out.Records)
	if missing == 0 || team == "" {
		return out
	}
	for i := range out.Records {
		if out.Records[i].Identity.Team == "" {
			out.Records[i].Identity.Team = team
			out.Backfilled++
		}
	}
	out.BackfillTeam = team
	out.BackfillTie = tie
	return out
}

// foldName maps full-width ASCII to narrow and half-width katakana to wide,
// then recomposes voiced marks, so both spellings of a name yield the same
// identity.
func foldName(s string) string {
	return strings.TrimSpace(norm.NFC.String(width.Fold.String(s)))
}

func isPlaceholderName(name string) bool {
	if name == "" {
		return true
	}
	_, ok := placeholderNames[name]
	return ok
}

// majorityTeam returns the most frequent non-empty team, whether the top
// count was shared, and how many records have no team.
func majorityTeam(records []StatRecord) (team string, tie bool, missing int) {
	counts := make(map[string]int)
	var order []string
	for _, r := range records {
		t := r.Identity.Team
		if t == "" {
			missing++
			continue
		}
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}

	best := 0
	for _, t := range order {
		switch c := counts[t]; {
		case c > best:
			best, team, tie = c, t, false
		case c == best:
			tie = true
		}
	}
	return team, tie, missing
}
