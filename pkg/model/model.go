package model

import (
	"fmt"
	"strconv"
	"time"
)

// State is the pipeline stage a place has reached.
type State string

const (
	StateNone            State = ""
	StateRefresh         State = "refresh"
	StateWikipedia       State = "wikipedia"
	StateTags            State = "tags"
	StateWbgetentities   State = "wbgetentities"
	StateOverpass        State = "overpass"
	StateOverpassError   State = "overpass_error"
	StateOverpassTimeout State = "overpass_timeout"
	StateOSM2PGSQL       State = "osm2pgsql"
	StateMatch           State = "match"
	StateReady           State = "ready"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateNone, StateRefresh, StateWikipedia, StateTags, StateWbgetentities,
		StateOverpass, StateOverpassError, StateOverpassTimeout, StateOSM2PGSQL,
		StateMatch, StateReady:
		return true
	}
	return false
}

// Place is an administrative boundary whose items are being matched.
type Place struct {
	PlaceID        int64     `json:"place_id" db:"place_id"`
	OSMType        string    `json:"osm_type" db:"osm_type"` // node, way, relation
	OSMID          int64     `json:"osm_id" db:"osm_id"`
	DisplayName    string    `json:"display_name" db:"display_name"`
	Area           float64   `json:"area" db:"area"` // square metres
	South          float64   `json:"south" db:"south"`
	West           float64   `json:"west" db:"west"`
	North          float64   `json:"north" db:"north"`
	East           float64   `json:"east" db:"east"`
	Boundary       string    `json:"-" db:"boundary"` // GeoJSON geometry, may be empty
	State          State     `json:"state" db:"state"`
	ItemCount      int       `json:"item_count" db:"item_count"`
	CandidateCount int       `json:"candidate_count" db:"candidate_count"`
	OverpassError  string    `json:"overpass_error,omitempty" db:"overpass_error"`
	AddedAt        time.Time `json:"added_at" db:"added_at"`
}

// AreaKm2 returns the place area in square kilometres.
func (p *Place) AreaKm2() float64 {
	return p.Area / 1e6
}

// Prefix is the table name prefix for the place's local map data.
func (p *Place) Prefix() string {
	return "osm_" + strconv.FormatInt(p.PlaceID, 10)
}

// Name returns the display name or a fallback built from the boundary element.
func (p *Place) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return fmt.Sprintf("%s/%d", p.OSMType, p.OSMID)
}

// Item is a knowledge-base entity inside one or more places.
type Item struct {
	ItemID     int64      `json:"item_id" db:"item_id"`
	Label      string     `json:"label" db:"label"`
	Lat        float64    `json:"lat" db:"lat"`
	Lon        float64    `json:"lon" db:"lon"`
	Enwiki     string     `json:"enwiki,omitempty" db:"enwiki"`
	Tags       StringList `json:"tags" db:"tags"`             // criteria snapshot, "Tag:k=v" or "Key:k"
	Categories StringList `json:"categories" db:"categories"` // Wikipedia page categories
	Entity     *Entity    `json:"-" db:"-"`
}

// QID returns the "Q" identifier of the item.
func (i *Item) QID() string {
	return QID(i.ItemID)
}

// HasEntity reports whether full entity detail has been fetched.
func (i *Item) HasEntity() bool {
	return i.Entity != nil
}

// Candidate is a proposed match between an item and a map element.
type Candidate struct {
	ItemID  int64   `json:"item_id" db:"item_id"`
	OSMType string  `json:"osm_type" db:"osm_type"`
	OSMID   int64   `json:"osm_id" db:"osm_id"`
	Name    string  `json:"name" db:"name"`
	Tags    Tags    `json:"tags" db:"tags"`
	Lat     float64 `json:"lat" db:"lat"`
	Lon     float64 `json:"lon" db:"lon"`
	Dist    float64 `json:"dist" db:"dist"` // metres from the item coordinates
}

// Key returns the element identity of the candidate.
func (c *Candidate) Key() ElementKey {
	return ElementKey{Type: c.OSMType, ID: c.OSMID}
}

// HasWikidataTag reports whether the element already links to any item.
func (c *Candidate) HasWikidataTag() bool {
	_, ok := c.Tags["wikidata"]
	return ok
}

// Changeset records one completed upload to the map edit API.
type Changeset struct {
	ID          int64     `json:"id" db:"id"`
	PlaceID     *int64    `json:"place_id,omitempty" db:"place_id"`
	ItemID      *int64    `json:"item_id,omitempty" db:"item_id"`
	Created     time.Time `json:"created" db:"created"`
	Comment     string    `json:"comment" db:"comment"`
	UpdateCount int       `json:"update_count" db:"update_count"`
	UserID      string    `json:"user_id" db:"user_id"`
}

// ElementKey identifies a map element.
type ElementKey struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

func (k ElementKey) String() string {
	return k.Type + "/" + strconv.FormatInt(k.ID, 10)
}

// LatLon is a bare coordinate pair as returned in overpass centers.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Element is one element of a spatial query reply.
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat,omitempty"`
	Lon    float64           `json:"lon,omitempty"`
	Center *LatLon           `json:"center,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Key returns the element identity.
func (e *Element) Key() ElementKey {
	return ElementKey{Type: e.Type, ID: e.ID}
}

// Centre returns the center for ways and relations or the node position.
func (e *Element) Centre() (lat, lon float64, ok bool) {
	if e.Center != nil {
		return e.Center.Lat, e.Center.Lon, true
	}
	if e.Type == "node" {
		return e.Lat, e.Lon, true
	}
	return 0, 0, false
}
