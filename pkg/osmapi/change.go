package osmapi

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/paulmach/osm"

	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// Edit is one wikidata tag found in a downloaded changeset.
type Edit struct {
	ChangesetID int64     `json:"changeset_id"`
	OSMType     string    `json:"osm_type"`
	OSMID       int64     `json:"osm_id"`
	Saved       time.Time `json:"saved"`
	ItemID      int64     `json:"item_id"`
}

// ParseChange extracts the wikidata edits from an osmChange document.
// Elements without a valid wikidata tag are ignored.
func ParseChange(data []byte) ([]Edit, error) {
	var change osm.Change
	if err := xml.Unmarshal(data, &change); err != nil {
		return nil, fmt.Errorf("failed to parse osmChange: %w", err)
	}

	var edits []Edit
	add := func(typ string, id int64, cs osm.ChangesetID, ts time.Time, tags osm.Tags) {
		itemID, err := model.ParseQID(tags.Find("wikidata"))
		if err != nil {
			return
		}
		edits = append(edits, Edit{
			ChangesetID: int64(cs),
			OSMType:     typ,
			OSMID:       id,
			Saved:       ts,
			ItemID:      itemID,
		})
	}

	for _, doc := range []*osm.OSM{change.Create, change.Modify} {
		if doc == nil {
			continue
		}
		for _, n := range doc.Nodes {
			add("node", int64(n.ID), n.ChangesetID, n.Timestamp, n.Tags)
		}
		for _, w := range doc.Ways {
			add("way", int64(w.ID), w.ChangesetID, w.Timestamp, w.Tags)
		}
		for _, r := range doc.Relations {
			add("relation", int64(r.ID), r.ChangesetID, r.Timestamp, r.Tags)
		}
	}
	return edits, nil
}
