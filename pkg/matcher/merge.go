package matcher

import (
	"math"

	"github.com/tilmanb/osm-wikidata/pkg/geo"
	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// MergedElement is one entry of the merged existing/found list.
type MergedElement struct {
	model.Element
	Existing bool `json:"existing"`
	Match    bool `json:"match"`
	Distance *int `json:"distance,omitempty"` // metres to the entity
}

// Merge unions elements already tagged with the item and freshly matched
// elements. Existing elements come first; found elements not already present
// are appended. Distances are attached when the entity position is known.
func Merge(existing, found []model.Element, centre *geo.Point) []MergedElement {
	out := make([]MergedElement, 0, len(existing)+len(found))
	index := make(map[model.ElementKey]int, len(existing)+len(found))

	for _, e := range existing {
		if _, dup := index[e.Key()]; dup {
			continue
		}
		index[e.Key()] = len(out)
		out = append(out, MergedElement{Element: e, Existing: true})
	}
	for _, e := range found {
		if i, ok := index[e.Key()]; ok {
			out[i].Match = true
			continue
		}
		index[e.Key()] = len(out)
		out = append(out, MergedElement{Element: e, Match: true})
	}

	if centre != nil {
		for i := range out {
			lat, lon, ok := out[i].Centre()
			if !ok {
				continue
			}
			d := int(math.Round(geo.Distance(geo.Point{Lat: lat, Lon: lon}, *centre)))
			out[i].Distance = &d
		}
	}
	return out
}
