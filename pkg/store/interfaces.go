package store

import (
	"context"

	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// PlaceStore handles place persistence. State changes go through the pipeline.
type PlaceStore interface {
	GetPlace(ctx context.Context, placeID int64) (*model.Place, error)
	SavePlace(ctx context.Context, p *model.Place) error
	SetPlaceState(ctx context.Context, placeID int64, state model.State, overpassError string) error
	ListPlaces(ctx context.Context) ([]*model.Place, error)
	RecountPlace(ctx context.Context, placeID int64) (items, candidates int, err error)
}

// ItemStore handles items and their association with places.
type ItemStore interface {
	GetItem(ctx context.Context, itemID int64) (*model.Item, error)
	SaveItem(ctx context.Context, item *model.Item) error
	AddPlaceItems(ctx context.Context, placeID int64, items []*model.Item) error
	PlaceItems(ctx context.Context, placeID int64) ([]*model.Item, error)
	ItemsMissingEntity(ctx context.Context, placeID int64) ([]*model.Item, error)
	SetItemTags(ctx context.Context, itemID int64, tags []string, categories []string) error
	SetItemEntity(ctx context.Context, itemID int64, entity *model.Entity) error
}

// CandidateStore handles candidates keyed by (item, element type, element id).
type CandidateStore interface {
	UpsertCandidate(ctx context.Context, c *model.Candidate) error
	ItemCandidates(ctx context.Context, itemID int64) ([]*model.Candidate, error)
	PlaceCandidates(ctx context.Context, placeID int64) (map[int64][]*model.Candidate, error)
	UpdateCandidateTags(ctx context.Context, itemID int64, key model.ElementKey, tags model.Tags) error
}

// ChangesetStore handles upload records.
type ChangesetStore interface {
	SaveChangeset(ctx context.Context, cs *model.Changeset) error
	ListChangesets(ctx context.Context, limit int) ([]*model.Changeset, error)
}

// CacheStore handles generic key-value caching.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	HasCache(ctx context.Context, key string) (bool, error)
	SetCache(ctx context.Context, key string, val []byte) error
	ListCacheKeys(ctx context.Context, prefix string) ([]string, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// Store composes all sub-interfaces. Consumers should depend on the narrower
// interfaces when possible.
type Store interface {
	PlaceStore
	ItemStore
	CandidateStore
	ChangesetStore
	CacheStore
	StateStore

	// WithTx runs fn inside one transaction. Nothing fn wrote is kept if it
	// returns an error. Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	Close() error
}
