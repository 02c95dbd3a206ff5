package mapping

import (
	"strings"

	"github.com/seenimoa/cvmratios/pkg/models"
)

// Match tells how a filing line was resolved.
type Match int

const (
	MatchNone Match = iota
	MatchDescription
	MatchCode
)

func (m Match) String() string {
	switch m {
	case MatchCode:
		return "code"
	case MatchDescription:
		return "description"
	default:
		return "none"
	}
}

// Resolver matches filing lines to raw fields. It is built once from a Table
// and is safe for concurrent use.
type Resolver struct {
	byCode map[models.Statement]map[string]models.Field
	byDesc map[models.Statement][]descEntry
}

type stmtLabel struct {
	st    models.Statement
	label string
}

type descEntry struct {
	label string // normalized
	field models.Field
}

// NewResolver indexes t. Labels shared by different fields of the same
// statement are ambiguous and never matched by description.
func NewResolver(t Table) *Resolver {
	r := &Resolver{
		byCode: make(map[models.Statement]map[string]models.Field),
		byDesc: make(map[models.Statement][]descEntry),
	}

	owners := make(map[models.Statement]map[string]models.Field)
	ambiguous := make(map[models.Statement]map[string]bool)
	var order []stmtLabel

	for _, e := range t.Entries {
		if code := strings.TrimSpace(e.Code); code != "" {
			codes, ok := r.byCode[e.Statement]
			if !ok {
				codes = make(map[string]models.Field)
				r.byCode[e.Statement] = codes
			}
			if _, dup := codes[code]; !dup {
				codes[code] = e.Field
			}
		}

		if owners[e.Statement] == nil {
			owners[e.Statement] = make(map[string]models.Field)
			ambiguous[e.Statement] = make(map[string]bool)
		}
		for _, l := range append([]string{e.Description}, e.Aliases...) {
			label := NormalizeLabel(l)
			if label == "" {
				continue
			}
			prev, seen := owners[e.Statement][label]
			switch {
			case !seen:
				owners[e.Statement][label] = e.Field
				order = append(order, stmtLabel{e.Statement, label})
			case prev != e.Field:
				ambiguous[e.Statement][label] = true
			}
		}
	}

	for _, o := range order {
		if ambiguous[o.st][o.label] {
			continue
		}
		r.byDesc[o.st] = append(r.byDesc[o.st], descEntry{label: o.label, field: owners[o.st][o.label]})
	}
	return r
}

// Resolve returns the field for a filing line. An exact account-code match
// wins; otherwise the description is compared, case- and
// accent-insensitively, against every known label: an equal label first,
// then the longest label it contains.
func (r *Resolver) Resolve(st models.Statement, code, description string) (models.Field, Match) {
	if f, ok := r.byCode[st][strings.TrimSpace(code)]; ok {
		return f, MatchCode
	}
	desc := NormalizeLabel(description)
	if desc == "" {
		return "", MatchNone
	}

	var best descEntry
	for _, d := range r.byDesc[st] {
		if d.label == desc {
			return d.field, MatchDescription
		}
		if strings.Contains(desc, d.label) && len(d.label) > len(best.label) {
			best = d
		}
	}
	if best.field == "" {
		return "", MatchNone
	}
	return best.field, MatchDescription
}
