// Package finder matches a single Wikidata item against nearby OSM elements
// without a place run.
package finder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tilmanb/osm-wikidata/pkg/geo"
	"github.com/tilmanb/osm-wikidata/pkg/matcher"
	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/overpass"
	"github.com/tilmanb/osm-wikidata/pkg/store"
)

// Error values reported in Result.Error.
const (
	ErrNoCoordinates = "no coordinates"
	ErrRateLimited   = "overpass rate limited"
	ErrTimeout       = "overpass timeout"
)

// KnowledgeBase is the entity lookup the finder needs.
type KnowledgeBase interface {
	GetEntity(ctx context.Context, qid string) (*model.Entity, error)
	LocationNames(ctx context.Context, ids []string) ([]string, error)
	OSMKeys(ctx context.Context, qid string) ([]string, error)
}

// Spatial runs the item queries.
type Spatial interface {
	Existing(ctx context.Context, qid string) ([]model.Element, error)
	ItemQuery(ctx context.Context, oql, qid string, radius int) ([]model.Element, error)
	DropItemCache(qid string, radius int) error
}

// ItemSource supplies stored item tags. It may be nil.
type ItemSource interface {
	GetItem(ctx context.Context, itemID int64) (*model.Item, error)
}

// WikidataInfo echoes the entity names the match used.
type WikidataInfo struct {
	Item      string                    `json:"item"`
	Labels    map[string]string         `json:"labels"`
	Aliases   map[string][]string       `json:"aliases"`
	Sitelinks map[string]model.Sitelink `json:"sitelinks"`
}

// Search describes the query that was run.
type Search struct {
	Radius   int      `json:"radius"`
	Criteria []string `json:"criteria"`
}

// Result is the JSON document returned for an item match.
type Result struct {
	Wikidata     WikidataInfo            `json:"wikidata"`
	Search       Search                  `json:"search"`
	FoundMatches bool                    `json:"found_matches"`
	Response     string                  `json:"response"`
	Error        string                  `json:"error,omitempty"`
	OSM          []matcher.MergedElement `json:"osm,omitempty"`
}

func (r *Result) fail(msg string) *Result {
	r.Response = "error"
	r.Error = msg
	return r
}

// RadiusSetting supplies a runtime override of the default radius. It may be nil.
type RadiusSetting interface {
	Radius(ctx context.Context) float64
}

// Finder runs item matches.
type Finder struct {
	KB            KnowledgeBase
	Overpass      Spatial
	Items         ItemSource
	Endings       *matcher.EndingLookup
	DefaultRadius int
	Settings      RadiusSetting
	Timeout       int
	Logger        *slog.Logger
}

// Find matches one item. Service failures the caller should show are reported
// in Result.Error; other failures are returned as errors.
func (f *Finder) Find(ctx context.Context, qid string, radius int) (*Result, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "finder", "qid", qid)
	radius = f.radius(ctx, radius)

	entity, err := f.KB.GetEntity(ctx, qid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", qid, err)
	}

	locations, err := f.KB.LocationNames(ctx, entity.LocatedIn())
	if err != nil {
		logger.Warn("Location lookup failed", "error", err)
	}
	names := matcher.EntityNames(entity, locations)

	osmKeys, err := f.KB.OSMKeys(ctx, qid)
	if err != nil {
		return nil, fmt.Errorf("failed to look up OSM keys for %s: %w", qid, err)
	}
	stored := f.storedItem(ctx, qid, logger)
	criteria := matcher.DeriveCriteria(entity, osmKeys, stored.Tags)

	res := &Result{
		Wikidata: WikidataInfo{
			Item:      qid,
			Labels:    entity.Labels,
			Aliases:   entity.Aliases,
			Sitelinks: entity.Sitelinks,
		},
		Search:   Search{Radius: radius, Criteria: criteria},
		Response: "ok",
	}

	lat, lon, ok := entity.Coordinates()
	if !ok {
		return res.fail(ErrNoCoordinates), nil
	}

	existing, err := f.Overpass.Existing(ctx, qid)
	if msg, handled := overpassFailure(err); handled {
		return res.fail(msg), nil
	} else if err != nil {
		return nil, err
	}

	var found []model.Element
	if oql, ok := matcher.BuildItemQuery(lat, lon, radius, criteria, f.Timeout); ok {
		reply, err := f.Overpass.ItemQuery(ctx, oql, qid, radius)
		if msg, handled := overpassFailure(err); handled {
			return res.fail(msg), nil
		} else if err != nil {
			return nil, err
		}

		subject := matcher.Subject{Names: names, Locations: locations}
		if f.Endings != nil {
			subject.Endings = f.Endings.Endings(criteria, stored.Categories)
		}
		for _, el := range reply {
			if _, ok := matcher.CheckForMatch(el.Tags, subject); ok {
				found = append(found, el)
			}
		}
	}

	res.OSM = matcher.Merge(existing, found, &geo.Point{Lat: lat, Lon: lon})
	res.FoundMatches = len(found) > 0
	logger.Info("Item match finished", "existing", len(existing), "found", len(found))
	return res, nil
}

// Refresh forgets the stored spatial reply for the item and matches again.
func (f *Finder) Refresh(ctx context.Context, qid string, radius int) (*Result, error) {
	radius = f.radius(ctx, radius)
	if err := f.Overpass.DropItemCache(qid, radius); err != nil {
		return nil, fmt.Errorf("failed to drop stored reply for %s: %w", qid, err)
	}
	return f.Find(ctx, qid, radius)
}

func (f *Finder) radius(ctx context.Context, radius int) int {
	if radius > 0 {
		return radius
	}
	if f.Settings != nil {
		if r := int(f.Settings.Radius(ctx)); r > 0 {
			return r
		}
	}
	return f.DefaultRadius
}

// storedItem returns the item as loaded by a place run, or an empty item
// when the QID was never part of one.
func (f *Finder) storedItem(ctx context.Context, qid string, logger *slog.Logger) *model.Item {
	empty := &model.Item{}
	if f.Items == nil {
		return empty
	}
	id, err := model.ParseQID(qid)
	if err != nil {
		return empty
	}
	item, err := f.Items.GetItem(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("Failed to load stored item", "error", err)
		}
		return empty
	}
	return item
}

func overpassFailure(err error) (string, bool) {
	switch {
	case errors.Is(err, overpass.ErrRateLimited):
		return ErrRateLimited, true
	case errors.Is(err, overpass.ErrTimeout):
		return ErrTimeout, true
	}
	return "", false
}
