package matcher

import (
	"sort"

	"github.com/tilmanb/osm-wikidata/pkg/geo"
	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// Candidates evaluates nearby elements for an item and returns one candidate
// per matching element, nearest first.
func Candidates(item *model.Item, s Subject, elements []model.Element) []*model.Candidate {
	centre := geo.Point{Lat: item.Lat, Lon: item.Lon}

	var ret []*model.Candidate
	seen := make(map[model.ElementKey]bool)
	for _, el := range elements {
		if seen[el.Key()] {
			continue
		}
		m, ok := CheckForMatch(el.Tags, s)
		if !ok {
			continue
		}
		seen[el.Key()] = true

		lat, lon, _ := el.Centre()
		ret = append(ret, &model.Candidate{
			ItemID:  item.ItemID,
			OSMType: el.Type,
			OSMID:   el.ID,
			Name:    m.Value,
			Tags:    model.Tags(el.Tags),
			Lat:     lat,
			Lon:     lon,
			Dist:    geo.Distance(geo.Point{Lat: lat, Lon: lon}, centre),
		})
	}
	sort.SliceStable(ret, func(i, j int) bool { return ret[i].Dist < ret[j].Dist })
	return ret
}

// ItemCandidates groups an item with its stored candidates.
type ItemCandidates struct {
	Item       *model.Item
	Candidates []*model.Candidate
}

// Pair is a confirmed (item, element) correlation ready for upload.
type Pair struct {
	Item      *model.Item
	Candidate *model.Candidate
}

// FilterCandidates keeps items that have exactly one candidate, where no
// candidate already carries a wikidata tag.
func FilterCandidates(items []ItemCandidates) []Pair {
	var pairs []Pair
	for _, ic := range items {
		if len(ic.Candidates) != 1 {
			continue
		}
		if ic.Candidates[0].HasWikidataTag() {
			continue
		}
		pairs = append(pairs, Pair{Item: ic.Item, Candidate: ic.Candidates[0]})
	}
	return pairs
}

// AlreadyTagged reports whether any candidate of the item links to an item.
func AlreadyTagged(ic ItemCandidates) bool {
	for _, c := range ic.Candidates {
		if c.HasWikidataTag() {
			return true
		}
	}
	return false
}
