package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tilmanb/osm-wikidata/pkg/model"
)

func TestOQLFromTagOrKey(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Tag:amenity=townhall", []string{
			"\n    node(F)[\"amenity\"=\"townhall\"];",
			"\n    way(F)[\"amenity\"=\"townhall\"];",
			"\n    rel(F)[\"amenity\"=\"townhall\"];",
		}},
		{"Key:height", []string{
			"\n    node(F)[\"height\"];",
			"\n    way(F)[\"height\"];",
			"\n    rel(F)[\"height\"];",
		}},
		{"Tag:shop=*", []string{
			"\n    node(F)[\"shop\"];",
			"\n    way(F)[\"shop\"];",
			"\n    rel(F)[\"shop\"];",
		}},
		{"Role:inner", nil},
		{"garbage", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, OQLFromTagOrKey(tt.in, "F"))
		})
	}
}

func TestBuildItemQuery(t *testing.T) {
	oql, ok := BuildItemQuery(39.8, -89.65, 1000, []string{"Tag:amenity=townhall"}, 300)
	assert.True(t, ok)
	want := "[timeout:300][out:json];\n(" +
		"\n    node(around:1000,39.80000,-89.65000)[\"amenity\"=\"townhall\"];" +
		"\n    way(around:1000,39.80000,-89.65000)[\"amenity\"=\"townhall\"];" +
		"\n    rel(around:1000,39.80000,-89.65000)[\"amenity\"=\"townhall\"];" +
		"\n);\nout qt center tags;"
	assert.Equal(t, want, oql)

	a, _ := BuildItemQuery(1, 2, 500, []string{"Key:height", "Tag:amenity=townhall"}, 60)
	b, _ := BuildItemQuery(1, 2, 500, []string{"Tag:amenity=townhall", "Key:height"}, 60)
	assert.Equal(t, a, b, "criteria order does not change the query")
}

func TestBuildItemQuery_NoCriteria(t *testing.T) {
	for _, criteria := range [][]string{nil, {}, {"Role:inner"}} {
		oql, ok := BuildItemQuery(39.8, -89.65, 1000, criteria, 300)
		assert.False(t, ok)
		assert.Empty(t, oql)
	}
}

func TestBuildPlaceQuery(t *testing.T) {
	tests := []struct {
		name  string
		place *model.Place
		want  string
	}{
		{
			name:  "relation area",
			place: &model.Place{OSMType: "relation", OSMID: 123},
			want: "[timeout:300][out:json];\narea(3600000123)->.a;\n(" +
				"\n    node(area.a)[\"height\"];\n    way(area.a)[\"height\"];\n    rel(area.a)[\"height\"];" +
				"\n);\nout qt center tags;",
		},
		{
			name:  "node falls back to bbox",
			place: &model.Place{OSMType: "node", OSMID: 5, South: 1, West: 2, North: 3, East: 4},
			want: "[timeout:300][out:json];\n(" +
				"\n    node(1.00000,2.00000,3.00000,4.00000)[\"height\"];" +
				"\n    way(1.00000,2.00000,3.00000,4.00000)[\"height\"];" +
				"\n    rel(1.00000,2.00000,3.00000,4.00000)[\"height\"];" +
				"\n);\nout qt center tags;",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oql, ok := BuildPlaceQuery(tt.place, []string{"Key:height"}, 300)
			assert.True(t, ok)
			assert.Equal(t, tt.want, oql)
		})
	}

	assert.Equal(t, int64(2400000007), AreaID(&model.Place{OSMType: "way", OSMID: 7}))
	_, ok := BuildPlaceQuery(&model.Place{OSMType: "relation", OSMID: 1}, nil, 300)
	assert.False(t, ok)
}

func TestSatisfiesAny(t *testing.T) {
	tags := map[string]string{"amenity": "townhall", "height": "30"}
	tests := []struct {
		name     string
		criteria []string
		want     bool
	}{
		{"tag value", []string{"Tag:amenity=townhall"}, true},
		{"tag other value", []string{"Tag:amenity=school"}, false},
		{"tag wildcard", []string{"Tag:amenity=*"}, true},
		{"key", []string{"Key:height"}, true},
		{"missing key", []string{"Key:building"}, false},
		{"any of several", []string{"Key:building", "Tag:amenity=townhall"}, true},
		{"unknown kind", []string{"Role:amenity"}, false},
		{"none", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SatisfiesAny(tags, tt.criteria))
		})
	}
}
