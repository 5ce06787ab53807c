package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilmanb/osm-wikidata/pkg/db"
	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// setupTestStore creates an in-memory database and store for each test.
func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	d, err := db.Init(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewSQLStore(d)
}

func seedPlace(t *testing.T, s *SQLStore) *model.Place {
	t.Helper()
	p := &model.Place{
		PlaceID:     7,
		OSMType:     "relation",
		OSMID:       123,
		DisplayName: "Springfield",
		Area:        1.2e8,
		South:       39.7, West: -89.8, North: 39.9, East: -89.5,
	}
	require.NoError(t, s.SavePlace(context.Background(), p))
	return p
}

func TestPlaceStore(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.GetPlace(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	seedPlace(t, s)
	got, err := s.GetPlace(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Springfield", got.DisplayName)
	assert.Equal(t, model.StateNone, got.State)
	assert.False(t, got.AddedAt.IsZero())

	require.NoError(t, s.SetPlaceState(ctx, 7, model.StateOverpassError, "runtime error"))
	got, err = s.GetPlace(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, model.StateOverpassError, got.State)
	assert.Equal(t, "runtime error", got.OverpassError)

	assert.ErrorIs(t, s.SetPlaceState(ctx, 99, model.StateTags, ""), ErrNotFound)

	got.DisplayName = "Springfield, IL"
	require.NoError(t, s.SavePlace(ctx, got))
	places, err := s.ListPlaces(ctx)
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, "Springfield, IL", places[0].DisplayName)
}

func TestItemStore(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	seedPlace(t, s)

	items := []*model.Item{
		{ItemID: 1, Label: "City Hall", Lat: 39.8, Lon: -89.6},
		{ItemID: 2, Label: "Old State Capitol", Lat: 39.80, Lon: -89.65},
	}
	require.NoError(t, s.AddPlaceItems(ctx, 7, items))
	// Linking twice is harmless.
	require.NoError(t, s.AddPlaceItems(ctx, 7, items))

	got, err := s.PlaceItems(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Q1", got[0].QID())

	require.NoError(t, s.SetItemTags(ctx, 1, []string{"Tag:amenity=townhall"}, []string{"City halls in Illinois"}))
	entity := &model.Entity{ID: "Q1", Labels: map[string]string{"en": "City Hall"}, Claims: model.Claims{
		model.PropCoordinates: {model.Coordinate{Lat: 39.8, Lon: -89.6}},
	}}
	require.NoError(t, s.SetItemEntity(ctx, 1, entity))

	missing, err := s.ItemsMissingEntity(ctx, 7)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, int64(2), missing[0].ItemID)

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StringList{"Tag:amenity=townhall"}, item.Tags)
	require.True(t, item.HasEntity())
	assert.Equal(t, "City Hall", item.Entity.Label())

	// Re-ingesting keeps derived data.
	require.NoError(t, s.AddPlaceItems(ctx, 7, []*model.Item{{ItemID: 1, Label: "Town Hall"}}))
	item, err = s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Town Hall", item.Label)
	assert.Equal(t, model.StringList{"Tag:amenity=townhall"}, item.Tags)
	assert.True(t, item.HasEntity())

	// SaveItem without entity keeps the stored one.
	item.Entity = nil
	require.NoError(t, s.SaveItem(ctx, item))
	item, err = s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.True(t, item.HasEntity())

	_, err = s.GetItem(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCandidateStore(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	seedPlace(t, s)
	require.NoError(t, s.AddPlaceItems(ctx, 7, []*model.Item{{ItemID: 1}, {ItemID: 2}}))

	c := &model.Candidate{ItemID: 1, OSMType: "way", OSMID: 10, Name: "City Hall", Tags: model.Tags{"name": "City Hall"}, Dist: 12}
	require.NoError(t, s.UpsertCandidate(ctx, c))
	c.Dist = 5
	require.NoError(t, s.UpsertCandidate(ctx, c))
	require.NoError(t, s.UpsertCandidate(ctx, &model.Candidate{ItemID: 2, OSMType: "node", OSMID: 11}))

	cands, err := s.ItemCandidates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cands, 1, "candidate identity is unique")
	assert.Equal(t, 5.0, cands[0].Dist)
	assert.Equal(t, "City Hall", cands[0].Tags["name"])

	byItem, err := s.PlaceCandidates(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, byItem, 2)

	require.NoError(t, s.UpdateCandidateTags(ctx, 1, model.ElementKey{Type: "way", ID: 10}, model.Tags{"name": "City Hall", "wikidata": "Q1"}))
	cands, err = s.ItemCandidates(ctx, 1)
	require.NoError(t, err)
	assert.True(t, cands[0].HasWikidataTag())

	err = s.UpdateCandidateTags(ctx, 1, model.ElementKey{Type: "node", ID: 999}, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	items, candidates, err := s.RecountPlace(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, items)
	assert.Equal(t, 2, candidates)
	p, err := s.GetPlace(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, p.ItemCount)
	assert.Equal(t, 2, p.CandidateCount)
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	seedPlace(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Store) error {
		if err := tx.AddPlaceItems(ctx, 7, []*model.Item{{ItemID: 1}}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	items, err := s.PlaceItems(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, items, "rolled back")

	require.NoError(t, s.WithTx(ctx, func(tx Store) error {
		return tx.AddPlaceItems(ctx, 7, []*model.Item{{ItemID: 1}})
	}))
	items, err = s.PlaceItems(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestChangesetStore(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	placeID := int64(7)
	itemID := int64(1)
	older := &model.Changeset{ID: 100, PlaceID: &placeID, Created: time.Now().Add(-time.Hour).UTC(), Comment: "add wikidata tags", UpdateCount: 3, UserID: "alice"}
	newer := &model.Changeset{ID: 101, ItemID: &itemID, Created: time.Now().UTC(), Comment: "single", UpdateCount: 1, UserID: "bob"}
	require.NoError(t, s.SaveChangeset(ctx, older))
	require.NoError(t, s.SaveChangeset(ctx, newer))
	assert.Error(t, s.SaveChangeset(ctx, newer), "changesets are written once")

	list, err := s.ListChangesets(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(101), list[0].ID)
	assert.Nil(t, list[0].PlaceID)
	require.NotNil(t, list[1].PlaceID)
	assert.Equal(t, placeID, *list[1].PlaceID)
	assert.Equal(t, 3, list[1].UpdateCount)
}

func TestCacheAndState(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, ok := s.GetCache(ctx, "wd_batch_x")
	assert.False(t, ok)

	require.NoError(t, s.SetCache(ctx, "wd_batch_x", []byte(`{"entities":{}}`)))
	require.NoError(t, s.SetCache(ctx, "wd_batch_x", []byte(`{"entities":{"Q1":{}}}`)))
	val, ok := s.GetCache(ctx, "wd_batch_x")
	require.True(t, ok)
	assert.Equal(t, `{"entities":{"Q1":{}}}`, string(val))

	has, err := s.HasCache(ctx, "wd_batch_x")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.Set("other", []byte("v")))
	keys, err := s.ListCacheKeys(ctx, "wd_")
	require.NoError(t, err)
	assert.Equal(t, []string{"wd_batch_x"}, keys)

	_, ok = s.GetState(ctx, "overpass_radius")
	assert.False(t, ok)
	require.NoError(t, s.SetState(ctx, "overpass_radius", "500"))
	require.NoError(t, s.SetState(ctx, "overpass_radius", "750"))
	v, ok := s.GetState(ctx, "overpass_radius")
	assert.True(t, ok)
	assert.Equal(t, "750", v)
	require.NoError(t, s.DeleteState(ctx, "overpass_radius"))
	_, ok = s.GetState(ctx, "overpass_radius")
	assert.False(t, ok)
}
