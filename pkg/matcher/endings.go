package matcher

import (
	"sort"
	"strings"

	"github.com/tilmanb/osm-wikidata/pkg/config"
)

// EndingLookup answers category and tag questions about the entity type
// table. Build one per pipeline run and pass it down.
type EndingLookup struct {
	types      config.EntityTypes
	tagEndings map[string][]string
}

// NewEndingLookup indexes the entity types.
func NewEndingLookup(types config.EntityTypes) *EndingLookup {
	l := &EndingLookup{types: types, tagEndings: make(map[string][]string)}
	for _, t := range types {
		for _, tag := range t.Tags {
			k := criterionTag(tag)
			l.tagEndings[k] = append(l.tagEndings[k], t.Endings...)
		}
	}
	return l
}

// categoryMatches reports whether a page category belongs to a type category:
// equal, or the type category followed by a qualifier ("schools in Ohio").
func categoryMatches(pageCat, typeCat string) bool {
	pageCat = strings.ToLower(pageCat)
	return pageCat == typeCat || strings.HasPrefix(pageCat, typeCat+" ")
}

// TypesForCategories returns the entity types any of the categories belongs to.
func (l *EndingLookup) TypesForCategories(cats []string) []config.EntityType {
	var ret []config.EntityType
	for _, t := range l.types {
	typeLoop:
		for _, tc := range t.Cats {
			for _, pc := range cats {
				if categoryMatches(pc, tc) {
					ret = append(ret, t)
					break typeLoop
				}
			}
		}
	}
	return ret
}

// TagsForCategories returns the OSM tags of every type matched by the categories.
func (l *EndingLookup) TagsForCategories(cats []string) []string {
	var tags []string
	for _, t := range l.TypesForCategories(cats) {
		tags = append(tags, t.Tags...)
	}
	return uniqueSorted(tags)
}

// EndingsForCategories returns the generic name endings of the matched types.
func (l *EndingLookup) EndingsForCategories(cats []string) []string {
	var endings []string
	for _, t := range l.TypesForCategories(cats) {
		endings = append(endings, t.Endings...)
	}
	return uniqueSorted(lowerAll(endings))
}

// EndingsForCriteria returns the endings of the types using any of the criteria.
func (l *EndingLookup) EndingsForCriteria(criteria []string) []string {
	var endings []string
	for _, c := range criteria {
		endings = append(endings, l.tagEndings[criterionTag(c)]...)
	}
	return uniqueSorted(lowerAll(endings))
}

// Endings returns the endings implied by the criteria or by the page categories.
func (l *EndingLookup) Endings(criteria, cats []string) []string {
	return uniqueSorted(append(l.EndingsForCriteria(criteria), l.EndingsForCategories(cats)...))
}

func uniqueSorted(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func lowerAll(s []string) []string {
	for i := range s {
		s[i] = strings.ToLower(s[i])
	}
	return s
}
