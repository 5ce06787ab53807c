package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Wikidata properties the matcher reads.
const (
	PropInstanceOf   = "P31"
	PropLocatedIn    = "P131"
	PropCoordinates  = "P625"
	PropCommonsCat   = "P373"
	PropOfficialName = "P1448"
	PropNativeLabel  = "P1705"
	PropOSMTagOrKey  = "P1282"
)

const (
	maxAliasesPerLang   = 3
	categoryTitlePrefix = "Category:"
)

// ClaimKind identifies the variant held by a ClaimValue.
type ClaimKind string

const (
	KindCoordinate  ClaimKind = "globecoordinate"
	KindEntityRef   ClaimKind = "wikibase-entityid"
	KindString      ClaimKind = "string"
	KindMonolingual ClaimKind = "monolingualtext"
	KindQuantity    ClaimKind = "quantity"
)

// ClaimValue is one value of a claim. Exactly one of the concrete types below
// implements it for each datavalue type Wikidata returns.
type ClaimValue interface {
	Kind() ClaimKind
}

// Coordinate is a globe coordinate claim.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func (Coordinate) Kind() ClaimKind { return KindCoordinate }

// EntityRef references another knowledge-base entity.
type EntityRef struct {
	ID string `json:"id"`
}

func (EntityRef) Kind() ClaimKind { return KindEntityRef }

// StringValue is a plain string or a monolingual text claim.
type StringValue struct {
	Value string
	Lang  string
}

func (s StringValue) Kind() ClaimKind {
	if s.Lang != "" {
		return KindMonolingual
	}
	return KindString
}

// Quantity is a numeric claim with an optional unit entity URI.
type Quantity struct {
	Amount string `json:"amount"`
	Unit   string `json:"unit"`
}

func (Quantity) Kind() ClaimKind { return KindQuantity }

// Float returns the amount as a float; malformed amounts yield 0.
func (q Quantity) Float() float64 {
	f, _ := strconv.ParseFloat(strings.TrimPrefix(q.Amount, "+"), 64)
	return f
}

// Claims maps a property id to its values in statement order.
type Claims map[string][]ClaimValue

// Sitelink is a link from the entity to a page on a Wikimedia site.
type Sitelink struct {
	Site  string `json:"site"`
	Title string `json:"title"`
}

// Entity is a knowledge-base item as returned by wbgetentities.
// Entities are never mutated after they are decoded.
type Entity struct {
	ID        string
	Labels    map[string]string
	Aliases   map[string][]string
	Sitelinks map[string]Sitelink
	Claims    Claims
}

// NameSource records where a name variant came from.
type NameSource struct {
	Kind string `json:"kind"` // label, alias, sitelink, commonscat, officialname, nativelabel, trimmed
	Lang string `json:"lang,omitempty"`
}

// Coordinates returns the first coordinate claim.
func (e *Entity) Coordinates() (lat, lon float64, ok bool) {
	for _, v := range e.Claims[PropCoordinates] {
		if c, isCoord := v.(Coordinate); isCoord {
			return c.Lat, c.Lon, true
		}
	}
	return 0, 0, false
}

// Refs returns the entity ids referenced by a property.
func (e *Entity) Refs(prop string) []string {
	var ids []string
	for _, v := range e.Claims[prop] {
		if r, ok := v.(EntityRef); ok {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// InstanceOf returns the category ids of the instance-of claims.
func (e *Entity) InstanceOf() []string { return e.Refs(PropInstanceOf) }

// LocatedIn returns the ids of the containing administrative entities.
func (e *Entity) LocatedIn() []string { return e.Refs(PropLocatedIn) }

// Label returns the English label, falling back to the alphabetically first language.
func (e *Entity) Label() string {
	if l, ok := e.Labels["en"]; ok {
		return l
	}
	langs := make([]string, 0, len(e.Labels))
	for lang := range e.Labels {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	if len(langs) == 0 {
		return e.ID
	}
	return e.Labels[langs[0]]
}

// Names collects every name the entity is known by, keyed by the name.
func (e *Entity) Names() map[string][]NameSource {
	ret := make(map[string][]NameSource)

	for lang, v := range e.Labels {
		ret[v] = append(ret[v], NameSource{Kind: "label", Lang: lang})
	}

	for site, link := range e.Sitelinks {
		title := strings.TrimPrefix(link.Title, categoryTitlePrefix)
		if title == "" {
			continue
		}
		ret[title] = append(ret[title], NameSource{Kind: "sitelink", Lang: site})
	}

	for lang, aliases := range e.Aliases {
		if len(aliases) > maxAliasesPerLang {
			continue
		}
		for _, a := range aliases {
			ret[a] = append(ret[a], NameSource{Kind: "alias", Lang: lang})
		}
	}

	for _, v := range e.Claims[PropCommonsCat] {
		if s, ok := v.(StringValue); ok {
			ret[s.Value] = append(ret[s.Value], NameSource{Kind: "commonscat"})
		}
	}
	for prop, kind := range map[string]string{PropOfficialName: "officialname", PropNativeLabel: "nativelabel"} {
		for _, v := range e.Claims[prop] {
			if s, ok := v.(StringValue); ok {
				ret[s.Value] = append(ret[s.Value], NameSource{Kind: kind, Lang: s.Lang})
			}
		}
	}

	return ret
}

// -- wire format --

type wireEntity struct {
	ID        string                 `json:"id"`
	Labels    map[string]wireText    `json:"labels,omitempty"`
	Aliases   map[string][]wireText  `json:"aliases,omitempty"`
	Sitelinks map[string]Sitelink    `json:"sitelinks,omitempty"`
	Claims    map[string][]wireClaim `json:"claims,omitempty"`
}

type wireText struct {
	Language string `json:"language,omitempty"`
	Value    string `json:"value"`
}

type wireClaim struct {
	Mainsnak wireSnak `json:"mainsnak"`
}

type wireSnak struct {
	SnakType  string         `json:"snaktype"`
	Property  string         `json:"property,omitempty"`
	DataValue *wireDataValue `json:"datavalue,omitempty"`
}

type wireDataValue struct {
	Type  ClaimKind       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// UnmarshalJSON decodes the wbgetentities representation.
// Snaks without a value ("somevalue", "novalue") and unknown datavalue types are dropped.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var w wireEntity
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	e.ID = w.ID
	e.Labels = make(map[string]string, len(w.Labels))
	for lang, t := range w.Labels {
		e.Labels[lang] = t.Value
	}
	e.Aliases = make(map[string][]string, len(w.Aliases))
	for lang, list := range w.Aliases {
		for _, t := range list {
			e.Aliases[lang] = append(e.Aliases[lang], t.Value)
		}
	}
	e.Sitelinks = w.Sitelinks
	if e.Sitelinks == nil {
		e.Sitelinks = make(map[string]Sitelink)
	}

	e.Claims = make(Claims, len(w.Claims))
	for prop, list := range w.Claims {
		for _, c := range list {
			if c.Mainsnak.DataValue == nil {
				continue
			}
			v, err := decodeValue(c.Mainsnak.DataValue)
			if err != nil {
				return fmt.Errorf("claim %s of %s: %w", prop, w.ID, err)
			}
			if v != nil {
				e.Claims[prop] = append(e.Claims[prop], v)
			}
		}
	}
	return nil
}

func decodeValue(dv *wireDataValue) (ClaimValue, error) {
	switch dv.Type {
	case KindCoordinate:
		var c Coordinate
		if err := json.Unmarshal(dv.Value, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindEntityRef:
		var r EntityRef
		if err := json.Unmarshal(dv.Value, &r); err != nil {
			return nil, err
		}
		return r, nil
	case KindString:
		var s string
		if err := json.Unmarshal(dv.Value, &s); err != nil {
			return nil, err
		}
		return StringValue{Value: s}, nil
	case KindMonolingual:
		var t struct {
			Text     string `json:"text"`
			Language string `json:"language"`
		}
		if err := json.Unmarshal(dv.Value, &t); err != nil {
			return nil, err
		}
		return StringValue{Value: t.Text, Lang: t.Language}, nil
	case KindQuantity:
		var q Quantity
		if err := json.Unmarshal(dv.Value, &q); err != nil {
			return nil, err
		}
		return q, nil
	}
	return nil, nil
}

// MarshalJSON writes the same shape UnmarshalJSON reads, so cached entities
// decode exactly like fresh ones.
func (e Entity) MarshalJSON() ([]byte, error) {
	w := wireEntity{
		ID:        e.ID,
		Labels:    make(map[string]wireText, len(e.Labels)),
		Aliases:   make(map[string][]wireText, len(e.Aliases)),
		Sitelinks: e.Sitelinks,
		Claims:    make(map[string][]wireClaim, len(e.Claims)),
	}
	for lang, v := range e.Labels {
		w.Labels[lang] = wireText{Language: lang, Value: v}
	}
	for lang, list := range e.Aliases {
		for _, v := range list {
			w.Aliases[lang] = append(w.Aliases[lang], wireText{Language: lang, Value: v})
		}
	}
	for prop, values := range e.Claims {
		for _, v := range values {
			raw, err := encodeValue(v)
			if err != nil {
				return nil, err
			}
			w.Claims[prop] = append(w.Claims[prop], wireClaim{Mainsnak: wireSnak{
				SnakType:  "value",
				Property:  prop,
				DataValue: &wireDataValue{Type: v.Kind(), Value: raw},
			}})
		}
	}
	return json.Marshal(w)
}

func encodeValue(v ClaimValue) (json.RawMessage, error) {
	switch x := v.(type) {
	case StringValue:
		if x.Lang != "" {
			return json.Marshal(map[string]string{"text": x.Value, "language": x.Lang})
		}
		return json.Marshal(x.Value)
	case EntityRef:
		return json.Marshal(map[string]any{"entity-type": "item", "id": x.ID})
	default:
		return json.Marshal(x)
	}
}

// ParseQID returns the numeric part of a "Q123" identifier.
func ParseQID(qid string) (int64, error) {
	if len(qid) < 2 || (qid[0] != 'Q' && qid[0] != 'q') {
		return 0, fmt.Errorf("invalid item id %q", qid)
	}
	return strconv.ParseInt(qid[1:], 10, 64)
}

// QID formats a numeric item id.
func QID(id int64) string {
	return "Q" + strconv.FormatInt(id, 10)
}
