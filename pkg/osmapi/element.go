package osmapi

import (
	"encoding/xml"
	"fmt"

	"github.com/paulmach/osm"

	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// Element is a live element fetched from the edit API.
type Element struct {
	doc *osm.OSM
}

// ParseElement decodes a single-element API document.
func ParseElement(data []byte) (*Element, error) {
	doc := &osm.OSM{}
	if err := xml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse element: %w", err)
	}
	if len(doc.Nodes)+len(doc.Ways)+len(doc.Relations) != 1 {
		return nil, fmt.Errorf("expected one element, got %d", len(doc.Nodes)+len(doc.Ways)+len(doc.Relations))
	}
	return &Element{doc: doc}, nil
}

// Key returns the type and id.
func (e *Element) Key() model.ElementKey {
	switch {
	case len(e.doc.Nodes) == 1:
		return model.ElementKey{Type: "node", ID: int64(e.doc.Nodes[0].ID)}
	case len(e.doc.Ways) == 1:
		return model.ElementKey{Type: "way", ID: int64(e.doc.Ways[0].ID)}
	default:
		return model.ElementKey{Type: "relation", ID: int64(e.doc.Relations[0].ID)}
	}
}

func (e *Element) tags() *osm.Tags {
	switch {
	case len(e.doc.Nodes) == 1:
		return &e.doc.Nodes[0].Tags
	case len(e.doc.Ways) == 1:
		return &e.doc.Ways[0].Tags
	default:
		return &e.doc.Relations[0].Tags
	}
}

// Tags returns the element tags as a map.
func (e *Element) Tags() map[string]string {
	return e.tags().Map()
}

// Tag returns the value of k, or "".
func (e *Element) Tag(k string) string {
	return e.tags().Find(k)
}

// HasTag reports whether k is set.
func (e *Element) HasTag(k string) bool {
	return e.tags().HasTag(k)
}

// SetTag adds or replaces a tag.
func (e *Element) SetTag(k, v string) {
	tags := e.tags()
	for i := range *tags {
		if (*tags)[i].Key == k {
			(*tags)[i].Value = v
			return
		}
	}
	*tags = append(*tags, osm.Tag{Key: k, Value: v})
}

// SetChangeset points the element at the changeset the update belongs to.
func (e *Element) SetChangeset(id int64) {
	cs := osm.ChangesetID(id)
	switch {
	case len(e.doc.Nodes) == 1:
		e.doc.Nodes[0].ChangesetID = cs
	case len(e.doc.Ways) == 1:
		e.doc.Ways[0].ChangesetID = cs
	default:
		e.doc.Relations[0].ChangesetID = cs
	}
}

// Marshal encodes the element for an update request.
func (e *Element) Marshal() ([]byte, error) {
	return xml.Marshal(e.doc)
}
