package matcher

import (
	"sort"
	"strings"

	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// ExtraKeys forces criteria for classes whose OSM key lookup is unreliable.
var ExtraKeys = map[string]string{
	"Q1021290": "Tag:amenity=college", // music school
	"Q5167149": "Tag:amenity=college", // cooking school
	"Q383092":  "Tag:amenity=college", // film school
	"Q11303":   "Key:height",          // skyscraper
}

// NormalizeItemTag turns a cached item tag ("amenity=school", "building")
// into criteria form ("Tag:amenity=school", "Key:building").
func NormalizeItemTag(tag string) string {
	if strings.HasPrefix(tag, "Tag:") || strings.HasPrefix(tag, "Key:") {
		return tag
	}
	if strings.Contains(tag, "=") {
		return "Tag:" + tag
	}
	return "Key:" + tag
}

// DeriveCriteria merges the class-derived OSM keys, the override table and
// the item's cached tags into a sorted, de-duplicated criteria list.
func DeriveCriteria(e *model.Entity, osmKeys, itemTags []string) []string {
	set := make(map[string]struct{})
	for _, k := range osmKeys {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	if e != nil {
		for _, isa := range e.InstanceOf() {
			if extra, ok := ExtraKeys[isa]; ok {
				set[extra] = struct{}{}
			}
		}
	}
	for _, t := range itemTags {
		if t != "" {
			set[NormalizeItemTag(t)] = struct{}{}
		}
	}

	criteria := make([]string, 0, len(set))
	for c := range set {
		criteria = append(criteria, c)
	}
	sort.Strings(criteria)
	return criteria
}

// criterionTag strips the "Tag:" or "Key:" prefix.
func criterionTag(c string) string {
	_, tag, found := strings.Cut(c, ":")
	if !found {
		return c
	}
	return tag
}
