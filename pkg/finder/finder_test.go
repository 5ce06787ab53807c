package finder

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilmanb/osm-wikidata/pkg/config"
	"github.com/tilmanb/osm-wikidata/pkg/matcher"
	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/overpass"
	"github.com/tilmanb/osm-wikidata/pkg/store"
)

type fakeKB struct {
	entities map[string]*model.Entity
	osmKeys  []string
}

func (f *fakeKB) GetEntity(_ context.Context, qid string) (*model.Entity, error) {
	e, ok := f.entities[qid]
	if !ok {
		return nil, fmt.Errorf("missing %s", qid)
	}
	return e, nil
}

func (f *fakeKB) LocationNames(_ context.Context, ids []string) ([]string, error) {
	var names []string
	for _, id := range ids {
		if e, ok := f.entities[id]; ok {
			names = append(names, e.Label())
		}
	}
	return names, nil
}

func (f *fakeKB) OSMKeys(_ context.Context, _ string) ([]string, error) {
	return f.osmKeys, nil
}

type fakeSpatial struct {
	existing    []model.Element
	nearby      []model.Element
	existingErr error
	itemErr     error
	oql         string
	dropped     []string
}

func (f *fakeSpatial) DropItemCache(qid string, radius int) error {
	f.dropped = append(f.dropped, fmt.Sprintf("%s/%d", qid, radius))
	return nil
}

func (f *fakeSpatial) Existing(_ context.Context, _ string) ([]model.Element, error) {
	return f.existing, f.existingErr
}

func (f *fakeSpatial) ItemQuery(_ context.Context, oql, _ string, _ int) ([]model.Element, error) {
	f.oql = oql
	return f.nearby, f.itemErr
}

type fakeItems map[int64]*model.Item

func (f fakeItems) GetItem(_ context.Context, id int64) (*model.Item, error) {
	if it, ok := f[id]; ok {
		return it, nil
	}
	return nil, store.ErrNotFound
}

func testKB() *fakeKB {
	return &fakeKB{
		entities: map[string]*model.Entity{
			"Q5": {ID: "Q5", Labels: map[string]string{"en": "Springfield City Hall"}, Claims: model.Claims{
				model.PropCoordinates: {model.Coordinate{Lat: 39.8, Lon: -89.65}},
				model.PropLocatedIn:   {model.EntityRef{ID: "Q100"}},
			}},
			"Q6": {ID: "Q6", Labels: map[string]string{"en": "Lost Monument"}},
			"Q7": {ID: "Q7", Labels: map[string]string{"en": "Lincoln"}, Claims: model.Claims{
				model.PropCoordinates: {model.Coordinate{Lat: 39.8, Lon: -89.65}},
			}},
			"Q100": {ID: "Q100", Labels: map[string]string{"en": "Springfield"}},
		},
		osmKeys: []string{"Tag:amenity=townhall"},
	}
}

func testFinder(sp *fakeSpatial) *Finder {
	return &Finder{
		KB:       testKB(),
		Overpass: sp,
		Items:    fakeItems{5: {ItemID: 5, Tags: model.StringList{"building"}}},
		Endings: matcher.NewEndingLookup(config.EntityTypes{
			{Cats: []string{"city and town halls"}, Tags: []string{"Tag:amenity=townhall"}, Endings: []string{"hall"}},
		}),
		DefaultRadius: 1000,
		Timeout:       600,
	}
}

func TestFind(t *testing.T) {
	sp := &fakeSpatial{
		existing: []model.Element{
			{Type: "way", ID: 5, Center: &model.LatLon{Lat: 39.8, Lon: -89.65}, Tags: map[string]string{"name": "Springfield City Hall", "wikidata": "Q5"}},
		},
		nearby: []model.Element{
			{Type: "node", ID: 1, Lat: 39.801, Lon: -89.65, Tags: map[string]string{"name": "City Hall", "amenity": "townhall"}},
			{Type: "node", ID: 2, Lat: 39.802, Lon: -89.65, Tags: map[string]string{"name": "Post Office"}},
			{Type: "way", ID: 5, Center: &model.LatLon{Lat: 39.8, Lon: -89.65}, Tags: map[string]string{"name": "Springfield City Hall", "wikidata": "Q5"}},
		},
	}

	res, err := testFinder(sp).Find(context.Background(), "Q5", 0)
	require.NoError(t, err)

	assert.Equal(t, "ok", res.Response)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1000, res.Search.Radius)
	assert.Equal(t, []string{"Key:building", "Tag:amenity=townhall"}, res.Search.Criteria)
	assert.Contains(t, sp.oql, "around:1000,39.80000,-89.65000")
	assert.True(t, res.FoundMatches)

	require.Len(t, res.OSM, 2)
	assert.Equal(t, model.ElementKey{Type: "way", ID: 5}, res.OSM[0].Key())
	assert.True(t, res.OSM[0].Existing)
	assert.True(t, res.OSM[0].Match)
	assert.Equal(t, model.ElementKey{Type: "node", ID: 1}, res.OSM[1].Key())
	assert.False(t, res.OSM[1].Existing)
	require.NotNil(t, res.OSM[1].Distance)
	assert.InDelta(t, 111, *res.OSM[1].Distance, 2)
}

func TestFind_EndingMatch(t *testing.T) {
	sp := &fakeSpatial{
		nearby: []model.Element{
			{Type: "way", ID: 70, Center: &model.LatLon{Lat: 39.8, Lon: -89.65}, Tags: map[string]string{"name": "Lincoln Hall", "amenity": "townhall"}},
		},
	}

	res, err := testFinder(sp).Find(context.Background(), "Q7", 0)
	require.NoError(t, err)
	assert.True(t, res.FoundMatches)
	require.Len(t, res.OSM, 1)
	assert.Equal(t, model.ElementKey{Type: "way", ID: 70}, res.OSM[0].Key())
}

func TestFind_Errors(t *testing.T) {
	tests := []struct {
		name    string
		qid     string
		sp      *fakeSpatial
		wantErr string
	}{
		{"no coordinates", "Q6", &fakeSpatial{}, ErrNoCoordinates},
		{"existing rate limited", "Q5", &fakeSpatial{existingErr: overpass.ErrRateLimited}, ErrRateLimited},
		{"item query timeout", "Q5", &fakeSpatial{itemErr: fmt.Errorf("run: %w", overpass.ErrTimeout)}, ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := testFinder(tt.sp).Find(context.Background(), tt.qid, 250)
			require.NoError(t, err)
			assert.Equal(t, "error", res.Response)
			assert.Equal(t, tt.wantErr, res.Error)
			assert.False(t, res.FoundMatches)
			assert.Equal(t, 250, res.Search.Radius)
		})
	}
}

func TestFind_OtherOverpassErrorIsReturned(t *testing.T) {
	sp := &fakeSpatial{itemErr: &overpass.ResponseError{Status: 500, Body: "oops"}}
	_, err := testFinder(sp).Find(context.Background(), "Q5", 100)
	require.Error(t, err)
	var re *overpass.ResponseError
	assert.ErrorAs(t, err, &re)
}

func TestFind_NoCriteriaSkipsQuery(t *testing.T) {
	sp := &fakeSpatial{}
	f := testFinder(sp)
	f.KB.(*fakeKB).osmKeys = nil
	f.Items = nil

	res, err := f.Find(context.Background(), "Q5", 100)
	require.NoError(t, err)
	assert.Empty(t, sp.oql)
	assert.Empty(t, res.Search.Criteria)
	assert.False(t, res.FoundMatches)
}

type fixedRadius float64

func (r fixedRadius) Radius(context.Context) float64 { return float64(r) }

func TestFind_RadiusOverride(t *testing.T) {
	sp := &fakeSpatial{}
	f := testFinder(sp)
	f.Settings = fixedRadius(400)

	res, err := f.Find(context.Background(), "Q5", 0)
	require.NoError(t, err)
	assert.Equal(t, 400, res.Search.Radius)

	res, err = f.Find(context.Background(), "Q5", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Search.Radius, "explicit radius wins")
}

func TestRefresh(t *testing.T) {
	sp := &fakeSpatial{}
	f := testFinder(sp)

	_, err := f.Refresh(context.Background(), "Q5", 0)
	require.NoError(t, err)
	_, err = f.Refresh(context.Background(), "Q5", 250)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q5/1000", "Q5/250"}, sp.dropped)
}
