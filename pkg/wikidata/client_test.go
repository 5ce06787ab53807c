package wikidata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilmanb/osm-wikidata/pkg/cache"
	"github.com/tilmanb/osm-wikidata/pkg/geo"
	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/request"
	"github.com/tilmanb/osm-wikidata/pkg/tracker"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	reqClient := request.New(nil, tracker.New(), request.Options{Retries: 1, BaseDelay: time.Millisecond})
	client := NewClient(reqClient, slog.Default())
	client.APIEndpoint = server.URL + "/w/api.php"
	client.SPARQLEndpoint = server.URL + "/sparql"
	return client
}

const springfieldEntities = `{
	"entities": {
		"Q1": {
			"id": "Q1",
			"labels": {"en": {"language": "en", "value": "Springfield City Hall"}},
			"claims": {
				"P625": [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "globecoordinate", "value": {"latitude": 39.8, "longitude": -89.65}}}}],
				"P131": [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "wikibase-entityid", "value": {"id": "Q28515"}}}}]
			}
		},
		"Q404": {"id": "Q404", "missing": ""}
	}
}`

func TestGetEntities(t *testing.T) {
	tests := []struct {
		name       string
		ids        []string
		mockResp   string
		mockStatus int
		wantErr    bool
		wantQuery  bool
		wantCount  int
	}{
		{
			name:       "Success skips missing",
			ids:        []string{"Q404", "Q1"},
			mockResp:   springfieldEntities,
			mockStatus: http.StatusOK,
			wantCount:  1,
		},
		{
			name:      "Empty ID list",
			ids:       []string{},
			wantCount: 0,
		},
		{
			name:       "API error status",
			ids:        []string{"Q1"},
			mockResp:   `{"error": "bad"}`,
			mockStatus: http.StatusInternalServerError,
			wantErr:    true,
			wantQuery:  true,
		},
		{
			name:       "API error body",
			ids:        []string{"Q1"},
			mockResp:   `{"error": {"code": "no-such-entity", "info": "Could not find an entity with the ID \"Q1\"."}}`,
			mockStatus: http.StatusOK,
			wantErr:    true,
			wantQuery:  true,
		},
		{
			name:       "Malformed JSON",
			ids:        []string{"Q1"},
			mockResp:   `{invalid json}`,
			mockStatus: http.StatusOK,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/w/api.php", r.URL.Path)
				assert.Equal(t, "wbgetentities", r.URL.Query().Get("action"))
				if len(tt.ids) == 2 {
					assert.Equal(t, "Q1|Q404", r.URL.Query().Get("ids"), "ids are sorted")
				}
				w.WriteHeader(tt.mockStatus)
				fmt.Fprint(w, tt.mockResp)
			})

			got, err := client.GetEntities(context.Background(), tt.ids)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantQuery, IsQueryError(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.wantCount)
			if tt.wantCount > 0 {
				e := got["Q1"]
				require.NotNil(t, e)
				lat, lon, ok := e.Coordinates()
				assert.True(t, ok)
				assert.Equal(t, 39.8, lat)
				assert.Equal(t, -89.65, lon)
				assert.Equal(t, []string{"Q28515"}, e.LocatedIn())
			}
		})
	}
}

func TestGetEntities_Batches(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		ids := strings.Split(r.URL.Query().Get("ids"), "|")
		assert.LessOrEqual(t, len(ids), batchSize)
		fmt.Fprint(w, `{"entities": {}}`)
	})

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = model.QID(int64(i + 1))
	}
	_, err := client.GetEntities(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGetEntities_ErrorReplyNotCached(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			fmt.Fprint(w, `{"error": {"code": "maxlag", "info": "Waiting for a database server"}}`)
			return
		}
		fmt.Fprint(w, springfieldEntities)
	}))
	t.Cleanup(server.Close)

	reqClient := request.New(cache.NewFileCache(t.TempDir()), tracker.New(), request.Options{Retries: 1, BaseDelay: time.Millisecond})
	client := NewClient(reqClient, slog.Default())
	client.APIEndpoint = server.URL + "/w/api.php"

	_, err := client.GetEntities(context.Background(), []string{"Q1"})
	require.Error(t, err)
	assert.True(t, IsQueryError(err))
	assert.Contains(t, err.Error(), "maxlag")

	got, err := client.GetEntities(context.Background(), []string{"Q1"})
	require.NoError(t, err)
	assert.Contains(t, got, "Q1")
	assert.Equal(t, 2, calls)

	_, err = client.GetEntities(context.Background(), []string{"Q1"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "good reply is served from the cache")
}

func TestGetEntity_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, springfieldEntities)
	})
	_, err := client.GetEntity(context.Background(), "Q404")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocationNames(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"entities": {"Q28515": {"id": "Q28515", "labels": {
			"en": {"language": "en", "value": "Springfield"},
			"de": {"language": "de", "value": "Springfield"},
			"ru": {"language": "ru", "value": "Спрингфилд"}
		}}}}`)
	})

	names, err := client.LocationNames(context.Background(), []string{"Q28515"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Springfield", "Спрингфилд"}, names)

	names, err = client.LocationNames(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestPlaceItems(t *testing.T) {
	mockResp := `{"results": {"bindings": [
		{"item": {"value": "http://www.wikidata.org/entity/Q1"}, "itemLabel": {"value": "Springfield City Hall"},
		 "location": {"value": "Point(-89.65 39.8)"}, "article": {"value": "https://en.wikipedia.org/wiki/Springfield_City_Hall"}},
		{"item": {"value": "http://www.wikidata.org/entity/Q1"}, "itemLabel": {"value": "Springfield City Hall"},
		 "location": {"value": "Point(-89.65 39.8)"}, "article": {"value": "https://en.wikipedia.org/wiki/Springfield_City_Hall"}},
		{"item": {"value": "http://www.wikidata.org/entity/Q2"}, "itemLabel": {"value": "Outside"},
		 "location": {"value": "Point(-80.0 30.0)"}, "article": {"value": "https://en.wikipedia.org/wiki/Outside"}},
		{"item": {"value": "http://www.wikidata.org/entity/Q3"}, "itemLabel": {"value": "Broken"},
		 "location": {"value": "not a point"}}
	]}}`

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sparql", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("query"), "wikibase:box")
		fmt.Fprint(w, mockResp)
	})

	boundary, err := geo.ParseBoundary([]byte(`{"type":"Polygon","coordinates":[[[-90,39],[-89,39],[-89,40],[-90,40],[-90,39]]]}`))
	require.NoError(t, err)

	place := &model.Place{PlaceID: 7, South: 39, West: -90, North: 40, East: -89}
	items, err := client.PlaceItems(context.Background(), place, boundary)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].ItemID)
	assert.Equal(t, "Springfield City Hall", items[0].Enwiki)
	assert.Equal(t, 39.8, items[0].Lat)
}

func TestOSMKeys(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("query"), "wd:Q1 wdt:P31/wdt:P279*")
		fmt.Fprint(w, `{"results": {"bindings": [
			{"tag": {"value": "Tag:amenity=townhall"}},
			{"tag": {"value": "Key:building"}},
			{"tag": {"value": "Tag:amenity=townhall"}}
		]}}`)
	})

	keys, err := client.OSMKeys(context.Background(), "Q1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Key:building", "Tag:amenity=townhall"}, keys)
}

func TestQuerySPARQL_Error(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := client.QuerySPARQL(context.Background(), "SELECT * WHERE {}", "")
	require.Error(t, err)
	assert.True(t, IsQueryError(err))
	assert.True(t, request.IsStatus(err, http.StatusBadRequest))
}

func TestParseWKTPoint(t *testing.T) {
	tests := []struct {
		in     string
		lat    float64
		lon    float64
		wantOK bool
	}{
		{"Point(-89.65 39.8)", 39.8, -89.65, true},
		{"Point(1 2 3)", 0, 0, false},
		{"POINT(1 2)", 0, 0, false},
		{"Point(a b)", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lat, lon, ok := parseWKTPoint(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.lat, lat)
				assert.Equal(t, tt.lon, lon)
			}
		})
	}
}
