package reconciliation

// PlayerIdentity is the reconciliation key. No numeric player id is
// published, so name and team are the only natural key.
type PlayerIdentity struct {
	Name string `json:"player_name"`
	Team string `json:"team_name"`
}

func (p PlayerIdentity) String() string {
	return p.Name + " (" + p.Team + ")"
}

// Candidate is an identity seen during the bootstrap phase together with the
// profile link of that sighting.
type Candidate struct {
	Identity   PlayerIdentity
	ProfileURL string
}

// CandidatesFrom drops the values of bootstrap records.
func CandidatesFrom(records []StatRecord) []Candidate {
	out := make([]Candidate, 0, len(records))
	for _, r := range records {
		out = append(out, Candidate{Identity: r.Identity, ProfileURL: r.ProfileURL})
	}
	return out
}

// DedupIdentities collapses candidates to one entry per identity. Entries
// keep the order in which each identity was first seen and carry the greatest
// profile URL observed for it, so any non-empty URL beats an empty one.
func DedupIdentities(candidates []Candidate) []Candidate {
	index := make(map[PlayerIdentity]int, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		i, seen := index[c.Identity]
		if !seen {
			index[c.Identity] = len(out)
			out = append(out, c)
			continue
		}
		if c.ProfileURL > out[i].ProfileURL {
			out[i].ProfileURL = c.ProfileURL
		}
	}
	return out
}
