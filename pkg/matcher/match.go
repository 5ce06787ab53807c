package matcher

import (
	"sort"
	"strings"

	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// Rule names the comparison that produced a match.
type Rule string

const (
	RuleExact    Rule = "exact"
	RuleEnding   Rule = "ending"
	RuleLocation Rule = "location"
)

// Subject is what an element is compared against.
type Subject struct {
	Names     map[string][]model.NameSource
	Endings   []string
	Locations []string
}

// Match describes why an element matched.
type Match struct {
	Key   string `json:"key"`   // element tag that matched
	Value string `json:"value"` // its value
	Name  string `json:"name"`  // entity name that matched
	Rule  Rule   `json:"rule"`
}

// IsNameTag reports whether a tag key carries a name.
func IsNameTag(k string) bool {
	if strings.Contains(k, "wikipedia") || strings.Contains(k, "etymology") {
		return false
	}
	return k == "name" || strings.HasSuffix(k, "_name") || strings.HasPrefix(k, "name:") ||
		strings.Contains(k, "_name:")
}

type tidied struct {
	raw  string
	tidy string
}

// CheckForMatch compares every name tag of the element against every entity
// name. Rules are tried in order exact, ending, location; the first hit wins.
// Tags and names are visited in sorted order so the reported match is stable.
func CheckForMatch(tags map[string]string, s Subject) (Match, bool) {
	names := make([]tidied, 0, len(s.Names))
	for n := range s.Names {
		if t := TidyName(n); t != "" {
			names = append(names, tidied{raw: n, tidy: t})
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i].raw < names[j].raw })
	if len(names) == 0 {
		return Match{}, false
	}

	endings := make([]string, 0, len(s.Endings))
	for _, e := range s.Endings {
		if t := TidyName(e); t != "" {
			endings = append(endings, t)
		}
	}
	locations := make([]string, 0, len(s.Locations))
	for _, l := range s.Locations {
		if t := TidyName(l); t != "" {
			locations = append(locations, t)
		}
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		if IsNameTag(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	type value struct {
		key, raw, tidy string
	}
	var values []value
	for _, k := range keys {
		for _, v := range strings.Split(tags[k], ";") {
			if t := TidyName(v); t != "" {
				values = append(values, value{key: k, raw: strings.TrimSpace(v), tidy: t})
			}
		}
	}

	rules := []struct {
		rule Rule
		eq   func(a, b string) bool
	}{
		{RuleExact, func(a, b string) bool { return a == b }},
		{RuleEnding, func(a, b string) bool { return endingMatch(a, b, endings) }},
		{RuleLocation, func(a, b string) bool { return locationMatch(a, b, locations) }},
	}
	for _, r := range rules {
		for _, v := range values {
			for _, n := range names {
				if r.eq(v.tidy, n.tidy) {
					return Match{Key: v.key, Value: v.raw, Name: n.raw, Rule: r.rule}, true
				}
			}
		}
	}
	return Match{}, false
}

func stripEnding(s, ending string) (string, bool) {
	if rest, ok := strings.CutSuffix(s, " "+ending); ok && rest != "" {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(s, ending+" "); ok && rest != "" {
		return rest, true
	}
	return "", false
}

// endingMatch accepts names equal once a generic ending is removed from
// either or both sides.
func endingMatch(a, b string, endings []string) bool {
	for _, e := range endings {
		sa, okA := stripEnding(a, e)
		sb, okB := stripEnding(b, e)
		switch {
		case okA && sa == b, okB && sb == a, okA && okB && sa == sb:
			return true
		}
	}
	return false
}

func stripLocation(s, loc string) (string, bool) {
	if rest, ok := strings.CutPrefix(s, loc+" "); ok && rest != "" {
		return rest, true
	}
	if rest, ok := strings.CutSuffix(s, " "+loc); ok && rest != "" {
		return rest, true
	}
	return "", false
}

// locationMatch accepts names equal once a containing location name is
// removed from one side.
func locationMatch(a, b string, locations []string) bool {
	for _, loc := range locations {
		if sa, ok := stripLocation(a, loc); ok && sa == b {
			return true
		}
		if sb, ok := stripLocation(b, loc); ok && sb == a {
			return true
		}
	}
	return false
}
