package matcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// OQLFromTagOrKey turns one criterion into a clause per element type using
// the given filter (e.g. "around:1000,51.50000,-0.12000" or "area.a").
// Criteria other than Tag: and Key: produce no clauses.
func OQLFromTagOrKey(tagOrKey, filter string) []string {
	kind, tag, found := strings.Cut(tagOrKey, ":")
	if !found {
		return nil
	}

	var selector string
	switch strings.ToLower(kind) {
	case "tag":
		k, v, hasValue := strings.Cut(tag, "=")
		if !hasValue || v == "*" {
			selector = fmt.Sprintf("[%q]", k)
		} else {
			selector = fmt.Sprintf("[%q=%q]", k, v)
		}
	case "key":
		selector = fmt.Sprintf("[%q]", strings.TrimSuffix(tag, "=*"))
	default:
		return nil
	}

	clauses := make([]string, 0, 3)
	for _, t := range []string{"node", "way", "rel"} {
		clauses = append(clauses, fmt.Sprintf("\n    %s(%s)%s;", t, filter, selector))
	}
	return clauses
}

func union(criteria []string, filter string) string {
	sorted := append([]string(nil), criteria...)
	sort.Strings(sorted)

	var b strings.Builder
	for _, c := range sorted {
		for _, clause := range OQLFromTagOrKey(c, filter) {
			b.WriteString(clause)
		}
	}
	return b.String()
}

// BuildItemQuery compiles the search around an item. ok is false when there
// are no criteria, in which case no query should be sent.
func BuildItemQuery(lat, lon float64, radius int, criteria []string, timeout int) (oql string, ok bool) {
	filter := fmt.Sprintf("around:%d,%.5f,%.5f", radius, lat, lon)
	body := union(criteria, filter)
	if body == "" {
		return "", false
	}
	return fmt.Sprintf("[timeout:%d][out:json];\n(%s\n);\nout qt center tags;", timeout, body), true
}

// AreaID returns the Overpass area id for a place, or 0 for nodes.
func AreaID(p *model.Place) int64 {
	switch p.OSMType {
	case "relation":
		return 3600000000 + p.OSMID
	case "way":
		return 2400000000 + p.OSMID
	}
	return 0
}

// BuildPlaceQuery compiles the bulk query covering a whole place. Places
// without an area fall back to their bounding box.
func BuildPlaceQuery(p *model.Place, criteria []string, timeout int) (oql string, ok bool) {
	var header, filter string
	if id := AreaID(p); id != 0 {
		header = fmt.Sprintf("area(%d)->.a;\n", id)
		filter = "area.a"
	} else {
		filter = fmt.Sprintf("%.5f,%.5f,%.5f,%.5f", p.South, p.West, p.North, p.East)
	}

	body := union(criteria, filter)
	if body == "" {
		return "", false
	}
	return fmt.Sprintf("[timeout:%d][out:json];\n%s(%s\n);\nout qt center tags;", timeout, header, body), true
}

// SatisfiesAny reports whether tags meet at least one criterion, the same
// test the spatial query applies server side.
func SatisfiesAny(tags map[string]string, criteria []string) bool {
	for _, c := range criteria {
		kind, tag, found := strings.Cut(c, ":")
		if !found {
			continue
		}
		switch strings.ToLower(kind) {
		case "tag":
			k, v, hasValue := strings.Cut(tag, "=")
			got, ok := tags[k]
			if ok && (!hasValue || v == "*" || got == v) {
				return true
			}
		case "key":
			if _, ok := tags[strings.TrimSuffix(tag, "=*")]; ok {
				return true
			}
		}
	}
	return false
}
