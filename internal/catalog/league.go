package catalog

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// League is the league category segment of a ranking URL.
type League string

const (
	J1 League = "j1"
	J2 League = "j2"
	J3 League = "j3"
)

// AllTeams selects every enumerated team instead of a single team slug.
const AllTeams = "all"

var ErrUnknownLeague = errors.New("unknown league category")

// Leagues lists the supported league categories.
func Leagues() []League {
	return []League{J1, J2, J3}
}

// ParseLeague accepts "j1", "J2", " j3 " and so on.
func ParseLeague(s string) (League, error) {
	l := League(strings.ToLower(strings.TrimSpace(s)))
	switch l {
	case J1, J2, J3:
		return l, nil
	}
	return "", errors.Wrapf(ErrUnknownLeague, "%q", s)
}

func (l League) String() string {
	return string(l)
}
