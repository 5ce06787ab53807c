package wikidata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tilmanb/osm-wikidata/pkg/geo"
	"github.com/tilmanb/osm-wikidata/pkg/logging"
	"github.com/tilmanb/osm-wikidata/pkg/model"
)

type sparqlResponse struct {
	Results struct {
		Bindings []map[string]sparqlValue `json:"bindings"`
	} `json:"results"`
}

type sparqlValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// QuerySPARQL executes a query and returns the raw result bindings.
func (c *Client) QuerySPARQL(ctx context.Context, query, cacheKey string) ([]map[string]sparqlValue, error) {
	u, err := url.Parse(c.SPARQLEndpoint)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	q.Add("query", query)
	q.Add("format", "json")
	u.RawQuery = q.Encode()
	logging.Trace(c.Logger, "SPARQL query", "query", query)

	headers := map[string]string{
		"Accept": "application/sparql-results+json",
	}

	body, err := c.request.GetWithHeaders(ctx, u.String(), headers, cacheKey)
	if err != nil {
		return nil, queryError("sparql", err)
	}

	var result sparqlResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, queryError("sparql", fmt.Errorf("%w: %v", ErrParse, err))
	}
	return result.Results.Bindings, nil
}

const placeItemsQuery = `SELECT DISTINCT ?item ?itemLabel ?location ?article WHERE {
  SERVICE wikibase:box {
    ?item wdt:P625 ?location .
    bd:serviceParam wikibase:cornerSouthWest "Point(%f %f)"^^geo:wktLiteral .
    bd:serviceParam wikibase:cornerNorthEast "Point(%f %f)"^^geo:wktLiteral .
  }
  ?article schema:about ?item ;
           schema:isPartOf <https://en.wikipedia.org/> .
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en" }
}`

// PlaceItemsQuery returns the SPARQL for items with an English Wikipedia
// article inside the place's bounding box.
func PlaceItemsQuery(p *model.Place) string {
	return fmt.Sprintf(placeItemsQuery, p.West, p.South, p.East, p.North)
}

// PlaceItems loads the items of a place. When boundary is set, items outside
// it are dropped.
func (c *Client) PlaceItems(ctx context.Context, p *model.Place, boundary *geo.Boundary) ([]*model.Item, error) {
	bindings, err := c.QuerySPARQL(ctx, PlaceItemsQuery(p), "")
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var items []*model.Item
	outside := 0
	for _, b := range bindings {
		id, err := model.ParseQID(qidFromURI(val(b, "item")))
		if err != nil || seen[id] {
			continue
		}
		lat, lon, ok := parseWKTPoint(val(b, "location"))
		if !ok {
			continue
		}
		if boundary != nil && !boundary.Contains(geo.Point{Lat: lat, Lon: lon}) {
			outside++
			continue
		}
		seen[id] = true
		items = append(items, &model.Item{
			ItemID: id,
			Label:  val(b, "itemLabel"),
			Lat:    lat,
			Lon:    lon,
			Enwiki: articleTitle(val(b, "article")),
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })
	c.Logger.Info("Loaded place items", "place_id", p.PlaceID, "items", len(items), "outside", outside)
	return items, nil
}

const osmKeyQuery = `SELECT DISTINCT ?tag WHERE {
  wd:%s wdt:P31/wdt:P279* ?item .
  ?item wdt:P1282 ?tag .
}`

// OSMKeyQuery returns the SPARQL resolving an entity's classes to OSM tag/key
// criteria.
func OSMKeyQuery(qid string) string {
	return fmt.Sprintf(osmKeyQuery, qid)
}

// OSMKeys returns the "Tag:k=v" and "Key:k" values reachable from the entity
// through instance-of and subclass-of.
func (c *Client) OSMKeys(ctx context.Context, qid string) ([]string, error) {
	bindings, err := c.QuerySPARQL(ctx, OSMKeyQuery(qid), "wd_osmkeys_"+qid)
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, b := range bindings {
		if tag := val(b, "tag"); tag != "" {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return compactStrings(tags), nil
}

func val(binding map[string]sparqlValue, key string) string {
	if v, ok := binding[key]; ok {
		return v.Value
	}
	return ""
}

func qidFromURI(uri string) string {
	return uri[strings.LastIndex(uri, "/")+1:]
}

func articleTitle(uri string) string {
	i := strings.Index(uri, "/wiki/")
	if i < 0 {
		return ""
	}
	title, err := url.PathUnescape(uri[i+len("/wiki/"):])
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(title, "_", " ")
}

// parseWKTPoint reads "Point(lon lat)".
func parseWKTPoint(s string) (lat, lon float64, ok bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "Point(") || !strings.HasSuffix(s, ")") {
		return 0, 0, false
	}
	parts := strings.Fields(s[len("Point(") : len(s)-1])
	if len(parts) != 2 {
		return 0, 0, false
	}
	lon, errLon := strconv.ParseFloat(parts[0], 64)
	lat, errLat := strconv.ParseFloat(parts[1], 64)
	if errLon != nil || errLat != nil {
		return 0, 0, false
	}
	return lat, lon, true
}
