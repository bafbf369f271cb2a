package reconciliation

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultNearMissThreshold is the Jaro-Winkler similarity above which a
// discarded name is reported as a likely spelling variant.
const DefaultNearMissThreshold = 0.9

// NearMiss pairs a discarded record with the closest master identity.
type NearMiss struct {
	Category   string         `json:"category"`
	Discarded  PlayerIdentity `json:"discarded"`
	Closest    PlayerIdentity `json:"closest"`
	Similarity float64        `json:"similarity"`
}

// Matcher looks for master identities that a discarded record probably
// meant. It never changes the join: the master list defines the row set.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a new near-miss matcher. A threshold outside (0, 1]
// selects DefaultNearMissThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultNearMissThreshold
	}
	return &Matcher{threshold: threshold}
}

// NearMisses returns, for each discarded record, the most similar known
// identity on the same team when it clears the threshold. Records without a
// team are compared against every identity.
func (m *Matcher) NearMisses(known []PlayerIdentity, discarded []StatRecord) []NearMiss {
	var out []NearMiss
	for _, r := range discarded {
		var best PlayerIdentity
		bestScore := 0.0
		for _, id := range known {
			if r.Identity.Team != "" && !sameTeam(id.Team, r.Identity.Team) {
				continue
			}
			score := matchr.JaroWinkler(normalizeName(r.Identity.Name), normalizeName(id.Name), false)
			if score > bestScore {
				best, bestScore = id, score
			}
		}
		if bestScore >= m.threshold {
			out = append(out, NearMiss{
				Category:   r.Category,
				Discarded:  r.Identity,
				Closest:    best,
				Similarity: bestScore,
			})
		}
	}
	return out
}

func sameTeam(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// normalizeName removes the spaces the site puts between family and given
// names, full-width ones included.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(name), "")
}
