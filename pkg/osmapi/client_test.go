package osmapi

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilmanb/osm-wikidata/pkg/model"
)

const nodeXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="OpenStreetMap server">
 <node id="1" visible="true" version="3" changeset="99" timestamp="2017-05-01T10:00:00Z" user="u" uid="1" lat="39.8" lon="-89.65">
  <tag k="amenity" v="townhall"/>
  <tag k="name" v="Springfield City Hall"/>
 </node>
</osm>`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWithHTTPClient(server.Client(), server.URL+"/api/0.6/", "https://osm.wikidata.link/", nil, nil, nil)
}

func TestCreateChangeset(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantID   int64
		wantErr  bool
	}{
		{"numeric id", "12345\n", 12345, false},
		{"html", "<html>oops</html>", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPut, r.Method)
				assert.Equal(t, "/api/0.6/changeset/create", r.URL.Path)

				body, _ := io.ReadAll(r.Body)
				var doc changesetDoc
				require.NoError(t, xml.Unmarshal(body, &doc))
				assert.Equal(t, "https://osm.wikidata.link/", doc.Changeset.Tags.Find("created_by"))
				assert.Equal(t, "add wikidata tags", doc.Changeset.Tags.Find("comment"))

				fmt.Fprint(w, tt.response)
			})

			id, err := c.CreateChangeset(context.Background(), "add wikidata tags")
			if tt.wantErr {
				assert.True(t, IsProtocolError(err), "want ProtocolError, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestGetElement(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"ok", http.StatusOK, nodeXML, nil},
		{"deleted", http.StatusGone, "", ErrGone},
		{"empty", http.StatusOK, "", ErrEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/0.6/node/1", r.URL.Path)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			el, err := c.GetElement(context.Background(), model.ElementKey{Type: "node", ID: 1})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.ElementKey{Type: "node", ID: 1}, el.Key())
			assert.Equal(t, "Springfield City Hall", el.Tag("name"))
			assert.False(t, el.HasTag("wikidata"))
		})
	}
}

func TestUpdateElement(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantVersion int
		wantErr     bool
	}{
		{"new version", "4", 4, false},
		{"not a number", "Precondition failed", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPut, r.Method)
				assert.Equal(t, "/api/0.6/node/1", r.URL.Path)

				body, _ := io.ReadAll(r.Body)
				doc := &osm.OSM{}
				require.NoError(t, xml.Unmarshal(body, doc))
				require.Len(t, doc.Nodes, 1)
				assert.Equal(t, osm.ChangesetID(500), doc.Nodes[0].ChangesetID)
				assert.Equal(t, "Q1", doc.Nodes[0].Tags.Find("wikidata"))
				assert.Equal(t, "townhall", doc.Nodes[0].Tags.Find("amenity"))

				fmt.Fprint(w, tt.response)
			})

			el, err := ParseElement([]byte(nodeXML))
			require.NoError(t, err)
			el.SetTag("wikidata", "Q1")
			el.SetChangeset(500)

			version, err := c.UpdateElement(context.Background(), el)
			if tt.wantErr {
				assert.True(t, IsProtocolError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

func TestUpdateElement_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, "Version mismatch")
	})
	el, err := ParseElement([]byte(nodeXML))
	require.NoError(t, err)

	_, err = c.UpdateElement(context.Background(), el)
	require.Error(t, err)
	assert.False(t, IsProtocolError(err), "HTTP errors are not protocol violations")
}

func TestCloseChangeset(t *testing.T) {
	closed := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/0.6/changeset/500/close", r.URL.Path)
		closed = true
	})
	require.NoError(t, c.CloseChangeset(context.Background(), 500))
	assert.True(t, closed)
}

func TestElement_SetTagReplaces(t *testing.T) {
	el, err := ParseElement([]byte(nodeXML))
	require.NoError(t, err)
	el.SetTag("name", "City Hall")
	el.SetTag("wikidata", "Q1")
	assert.Equal(t, map[string]string{"amenity": "townhall", "name": "City Hall", "wikidata": "Q1"}, el.Tags())
}

func TestParseElement_Invalid(t *testing.T) {
	_, err := ParseElement([]byte(`<osm version="0.6"></osm>`))
	assert.Error(t, err)
	_, err = ParseElement([]byte(`not xml`))
	assert.Error(t, err)
}
