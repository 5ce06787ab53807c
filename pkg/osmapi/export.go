package osmapi

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/paulmach/osm"

	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/request"
)

// FullElement fetches an element with the elements it references: the nodes
// of a way, the members of a relation.
func (c *Client) FullElement(ctx context.Context, key model.ElementKey) (*osm.OSM, error) {
	url := c.elementURL(key)
	if key.Type != "node" {
		url += "/full"
	}
	body, err := c.request.Get(ctx, url, "")
	if err != nil {
		if request.IsStatus(err, http.StatusGone) {
			return nil, ErrGone
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	doc := &osm.OSM{}
	if err := xml.Unmarshal(body, doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return doc, nil
}

// Export fetches the tagged elements and returns them as a JOSM file. Each
// element in tagged gets its wikidata tag and is marked as modified, so the
// file can be reviewed and uploaded from the editor. Deleted elements are
// left out.
func (c *Client) Export(ctx context.Context, tagged map[model.ElementKey]string) ([]byte, error) {
	exp := NewExport(c.CreatedBy)
	keys := make([]model.ElementKey, 0, len(tagged))
	for k := range tagged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, key := range keys {
		doc, err := c.FullElement(ctx, key)
		if errors.Is(err, ErrGone) {
			c.Logger.Debug("Skipping deleted element", "element", key)
			continue
		}
		if err != nil {
			return nil, err
		}
		exp.Add(doc)
		exp.Tag(key, tagged[key])
	}
	return exp.Marshal()
}

// Export collects elements for a JOSM file.
type Export struct {
	generator string
	nodes     map[osm.NodeID]*osm.Node
	ways      map[osm.WayID]*osm.Way
	relations map[osm.RelationID]*osm.Relation
	tags      map[model.ElementKey]string
}

// NewExport creates an empty export.
func NewExport(generator string) *Export {
	return &Export{
		generator: generator,
		nodes:     make(map[osm.NodeID]*osm.Node),
		ways:      make(map[osm.WayID]*osm.Way),
		relations: make(map[osm.RelationID]*osm.Relation),
		tags:      make(map[model.ElementKey]string),
	}
}

// Add merges the elements of doc. Elements seen before are kept once.
func (e *Export) Add(doc *osm.OSM) {
	for _, n := range doc.Nodes {
		e.nodes[n.ID] = n
	}
	for _, w := range doc.Ways {
		e.ways[w.ID] = w
	}
	for _, r := range doc.Relations {
		e.relations[r.ID] = r
	}
}

// Tag sets the wikidata tag of key to qid when the file is written.
func (e *Export) Tag(key model.ElementKey, qid string) {
	e.tags[key] = qid
}

type josmDoc struct {
	XMLName   xml.Name       `xml:"osm"`
	Version   string         `xml:"version,attr"`
	Generator string         `xml:"generator,attr,omitempty"`
	Nodes     []josmNode     `xml:"node"`
	Ways      []josmWay      `xml:"way"`
	Relations []josmRelation `xml:"relation"`
}

type josmHeader struct {
	ID      int64  `xml:"id,attr"`
	Action  string `xml:"action,attr,omitempty"`
	Visible bool   `xml:"visible,attr"`
	Version int    `xml:"version,attr"`
}

type josmTag struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

type josmNode struct {
	josmHeader
	Lat  string    `xml:"lat,attr"`
	Lon  string    `xml:"lon,attr"`
	Tags []josmTag `xml:"tag"`
}

type josmNd struct {
	Ref int64 `xml:"ref,attr"`
}

type josmWay struct {
	josmHeader
	Nodes []josmNd  `xml:"nd"`
	Tags  []josmTag `xml:"tag"`
}

type josmMember struct {
	Type string `xml:"type,attr"`
	Ref  int64  `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

type josmRelation struct {
	josmHeader
	Members []josmMember `xml:"member"`
	Tags    []josmTag    `xml:"tag"`
}

// header drops the user, uid, timestamp and changeset attributes.
func (e *Export) header(key model.ElementKey, version int) (josmHeader, string) {
	qid, ok := e.tags[key]
	h := josmHeader{ID: key.ID, Visible: true, Version: version}
	if ok {
		h.Action = "modify"
	}
	return h, qid
}

func exportTags(tags osm.Tags, qid string) []josmTag {
	out := make([]josmTag, 0, len(tags)+1)
	for _, t := range tags {
		if qid != "" && t.Key == "wikidata" {
			continue
		}
		out = append(out, josmTag{K: t.Key, V: t.Value})
	}
	if qid != "" {
		out = append(out, josmTag{K: "wikidata", V: qid})
	}
	return out
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Marshal writes the collected elements ordered by type and id.
func (e *Export) Marshal() ([]byte, error) {
	doc := josmDoc{Version: "0.6", Generator: e.generator}

	nodeIDs := make([]osm.NodeID, 0, len(e.nodes))
	for id := range e.nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })
	for _, id := range nodeIDs {
		n := e.nodes[id]
		h, qid := e.header(model.ElementKey{Type: "node", ID: int64(id)}, n.Version)
		doc.Nodes = append(doc.Nodes, josmNode{josmHeader: h, Lat: coord(n.Lat), Lon: coord(n.Lon), Tags: exportTags(n.Tags, qid)})
	}

	wayIDs := make([]osm.WayID, 0, len(e.ways))
	for id := range e.ways {
		wayIDs = append(wayIDs, id)
	}
	sort.Slice(wayIDs, func(i, j int) bool { return wayIDs[i] < wayIDs[j] })
	for _, id := range wayIDs {
		w := e.ways[id]
		h, qid := e.header(model.ElementKey{Type: "way", ID: int64(id)}, w.Version)
		nds := make([]josmNd, 0, len(w.Nodes))
		for _, wn := range w.Nodes {
			nds = append(nds, josmNd{Ref: int64(wn.ID)})
		}
		doc.Ways = append(doc.Ways, josmWay{josmHeader: h, Nodes: nds, Tags: exportTags(w.Tags, qid)})
	}

	relIDs := make([]osm.RelationID, 0, len(e.relations))
	for id := range e.relations {
		relIDs = append(relIDs, id)
	}
	sort.Slice(relIDs, func(i, j int) bool { return relIDs[i] < relIDs[j] })
	for _, id := range relIDs {
		r := e.relations[id]
		h, qid := e.header(model.ElementKey{Type: "relation", ID: int64(id)}, r.Version)
		members := make([]josmMember, 0, len(r.Members))
		for _, m := range r.Members {
			members = append(members, josmMember{Type: string(m.Type), Ref: m.Ref, Role: m.Role})
		}
		doc.Relations = append(doc.Relations, josmRelation{josmHeader: h, Members: members, Tags: exportTags(r.Tags, qid)})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
