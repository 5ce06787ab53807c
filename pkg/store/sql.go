package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/tilmanb/osm-wikidata/pkg/db"
	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// SQLStore implements Store on sqlite or postgres.
type SQLStore struct {
	db     *db.DB
	ext    sqlx.ExtContext // *sqlx.DB or the open *sqlx.Tx
	flavor sqlbuilder.Flavor
	inTx   bool
}

// NewSQLStore creates a new store.
func NewSQLStore(d *db.DB) *SQLStore {
	return &SQLStore{db: d, ext: d.DB, flavor: d.Flavor}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection.
func (s *SQLStore) DB() *db.DB {
	return s.db
}

// WithTx implements Store.
func (s *SQLStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	txStore := &SQLStore{db: s.db, ext: tx, flavor: s.flavor, inTx: true}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLStore) exec(ctx context.Context, b sqlbuilder.Builder) (sql.Result, error) {
	q, args := b.BuildWithFlavor(s.flavor)
	return s.ext.ExecContext(ctx, q, args...)
}

func (s *SQLStore) get(ctx context.Context, dest any, b sqlbuilder.Builder) error {
	q, args := b.BuildWithFlavor(s.flavor)
	return sqlx.GetContext(ctx, s.ext, dest, q, args...)
}

func (s *SQLStore) selectRows(ctx context.Context, dest any, b sqlbuilder.Builder) error {
	q, args := b.BuildWithFlavor(s.flavor)
	return sqlx.SelectContext(ctx, s.ext, dest, q, args...)
}

// --- Places ---

var placeColumns = []string{
	"place_id", "osm_type", "osm_id", "display_name", "area",
	"south", "west", "north", "east", "boundary", "state",
	"item_count", "candidate_count", "overpass_error", "added_at",
}

func (s *SQLStore) GetPlace(ctx context.Context, placeID int64) (*model.Place, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(placeColumns...).From("place").Where(sb.Equal("place_id", placeID))

	var p model.Place
	if err := s.get(ctx, &p, sb); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *SQLStore) SavePlace(ctx context.Context, p *model.Place) error {
	if p.AddedAt.IsZero() {
		p.AddedAt = time.Now().UTC()
	}
	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("place").Cols(placeColumns...).Values(
		p.PlaceID, p.OSMType, p.OSMID, p.DisplayName, p.Area,
		p.South, p.West, p.North, p.East, p.Boundary, string(p.State),
		p.ItemCount, p.CandidateCount, p.OverpassError, p.AddedAt,
	)
	ib.SQL(`ON CONFLICT (place_id) DO UPDATE SET
		osm_type = excluded.osm_type, osm_id = excluded.osm_id,
		display_name = excluded.display_name, area = excluded.area,
		south = excluded.south, west = excluded.west, north = excluded.north, east = excluded.east,
		boundary = excluded.boundary, state = excluded.state,
		item_count = excluded.item_count, candidate_count = excluded.candidate_count,
		overpass_error = excluded.overpass_error`)
	_, err := s.exec(ctx, ib)
	return err
}

func (s *SQLStore) SetPlaceState(ctx context.Context, placeID int64, state model.State, overpassError string) error {
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("place").Set(
		ub.Assign("state", string(state)),
		ub.Assign("overpass_error", overpassError),
	).Where(ub.Equal("place_id", placeID))

	res, err := s.exec(ctx, ub)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListPlaces(ctx context.Context) ([]*model.Place, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(placeColumns...).From("place").OrderBy("added_at").Desc()

	var places []*model.Place
	if err := s.selectRows(ctx, &places, sb); err != nil {
		return nil, err
	}
	return places, nil
}

// RecountPlace recomputes and stores the item and candidate counters.
func (s *SQLStore) RecountPlace(ctx context.Context, placeID int64) (items, candidates int, err error) {
	ib := sqlbuilder.NewSelectBuilder()
	ib.Select("count(*)").From("place_item").Where(ib.Equal("place_id", placeID))
	if err := s.get(ctx, &items, ib); err != nil {
		return 0, 0, err
	}

	cb := sqlbuilder.NewSelectBuilder()
	cb.Select("count(*)").
		From("item_candidate c").
		Join("place_item pi", "pi.item_id = c.item_id").
		Where(cb.Equal("pi.place_id", placeID))
	if err := s.get(ctx, &candidates, cb); err != nil {
		return 0, 0, err
	}

	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("place").Set(
		ub.Assign("item_count", items),
		ub.Assign("candidate_count", candidates),
	).Where(ub.Equal("place_id", placeID))
	if _, err := s.exec(ctx, ub); err != nil {
		return 0, 0, err
	}
	return items, candidates, nil
}

// --- Items ---

var itemColumns = []string{"item_id", "label", "lat", "lon", "enwiki", "tags", "categories", "entity"}

type itemRow struct {
	model.Item
	EntityJSON sql.NullString `db:"entity"`
}

func (r *itemRow) toItem() (*model.Item, error) {
	item := r.Item
	if r.EntityJSON.Valid && r.EntityJSON.String != "" {
		var e model.Entity
		if err := json.Unmarshal([]byte(r.EntityJSON.String), &e); err != nil {
			return nil, fmt.Errorf("failed to decode entity of item %d: %w", item.ItemID, err)
		}
		item.Entity = &e
	}
	return &item, nil
}

func toItems(rows []itemRow) ([]*model.Item, error) {
	items := make([]*model.Item, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func entityValue(e *model.Entity) (any, error) {
	if e == nil {
		return nil, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *SQLStore) GetItem(ctx context.Context, itemID int64) (*model.Item, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(itemColumns...).From("item").Where(sb.Equal("item_id", itemID))

	var row itemRow
	if err := s.get(ctx, &row, sb); err != nil {
		return nil, notFound(err)
	}
	return row.toItem()
}

// SaveItem upserts the item. A nil Entity keeps any stored entity.
func (s *SQLStore) SaveItem(ctx context.Context, item *model.Item) error {
	entity, err := entityValue(item.Entity)
	if err != nil {
		return err
	}
	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("item").Cols(itemColumns...).Values(
		item.ItemID, item.Label, item.Lat, item.Lon, item.Enwiki, item.Tags, item.Categories, entity,
	)
	ib.SQL(`ON CONFLICT (item_id) DO UPDATE SET
		label = excluded.label, lat = excluded.lat, lon = excluded.lon, enwiki = excluded.enwiki,
		tags = excluded.tags, categories = excluded.categories,
		entity = COALESCE(excluded.entity, item.entity)`)
	_, err = s.exec(ctx, ib)
	return err
}

// AddPlaceItems links items to a place, creating them if needed. Existing
// items keep their derived tags and entity detail.
func (s *SQLStore) AddPlaceItems(ctx context.Context, placeID int64, items []*model.Item) error {
	return s.WithTx(ctx, func(st Store) error {
		tx := st.(*SQLStore)
		for _, item := range items {
			ib := sqlbuilder.NewInsertBuilder()
			ib.InsertInto("item").Cols("item_id", "label", "lat", "lon", "enwiki", "tags", "categories").Values(
				item.ItemID, item.Label, item.Lat, item.Lon, item.Enwiki, item.Tags, item.Categories,
			)
			ib.SQL(`ON CONFLICT (item_id) DO UPDATE SET
				label = excluded.label, lat = excluded.lat, lon = excluded.lon, enwiki = excluded.enwiki`)
			if _, err := tx.exec(ctx, ib); err != nil {
				return fmt.Errorf("failed to save item %d: %w", item.ItemID, err)
			}

			lb := sqlbuilder.NewInsertBuilder()
			lb.InsertInto("place_item").Cols("place_id", "item_id").Values(placeID, item.ItemID)
			lb.SQL("ON CONFLICT (place_id, item_id) DO NOTHING")
			if _, err := tx.exec(ctx, lb); err != nil {
				return fmt.Errorf("failed to link item %d: %w", item.ItemID, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) placeItemsQuery(placeID int64) *sqlbuilder.SelectBuilder {
	cols := make([]string, len(itemColumns))
	for i, c := range itemColumns {
		cols[i] = "i." + c
	}
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(cols...).
		From("item i").
		Join("place_item pi", "pi.item_id = i.item_id").
		Where(sb.Equal("pi.place_id", placeID)).
		OrderBy("i.item_id")
	return sb
}

func (s *SQLStore) PlaceItems(ctx context.Context, placeID int64) ([]*model.Item, error) {
	var rows []itemRow
	if err := s.selectRows(ctx, &rows, s.placeItemsQuery(placeID)); err != nil {
		return nil, err
	}
	return toItems(rows)
}

func (s *SQLStore) ItemsMissingEntity(ctx context.Context, placeID int64) ([]*model.Item, error) {
	sb := s.placeItemsQuery(placeID)
	sb.Where(sb.IsNull("i.entity"))

	var rows []itemRow
	if err := s.selectRows(ctx, &rows, sb); err != nil {
		return nil, err
	}
	return toItems(rows)
}

func (s *SQLStore) SetItemTags(ctx context.Context, itemID int64, tags []string, categories []string) error {
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("item").Set(
		ub.Assign("tags", model.StringList(tags)),
		ub.Assign("categories", model.StringList(categories)),
	).Where(ub.Equal("item_id", itemID))
	_, err := s.exec(ctx, ub)
	return err
}

func (s *SQLStore) SetItemEntity(ctx context.Context, itemID int64, entity *model.Entity) error {
	val, err := entityValue(entity)
	if err != nil {
		return err
	}
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("item").Set(ub.Assign("entity", val)).Where(ub.Equal("item_id", itemID))
	_, err = s.exec(ctx, ub)
	return err
}

// --- Candidates ---

var candidateColumns = []string{"item_id", "osm_type", "osm_id", "name", "tags", "lat", "lon", "dist"}

// UpsertCandidate inserts the candidate or refreshes it in place, so a
// re-run match stage never creates a second row for the same element.
func (s *SQLStore) UpsertCandidate(ctx context.Context, c *model.Candidate) error {
	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("item_candidate").Cols(candidateColumns...).Values(
		c.ItemID, c.OSMType, c.OSMID, c.Name, c.Tags, c.Lat, c.Lon, c.Dist,
	)
	ib.SQL(`ON CONFLICT (item_id, osm_type, osm_id) DO UPDATE SET
		name = excluded.name, tags = excluded.tags,
		lat = excluded.lat, lon = excluded.lon, dist = excluded.dist`)
	_, err := s.exec(ctx, ib)
	return err
}

func (s *SQLStore) ItemCandidates(ctx context.Context, itemID int64) ([]*model.Candidate, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(candidateColumns...).From("item_candidate").
		Where(sb.Equal("item_id", itemID)).
		OrderBy("dist")

	var cands []*model.Candidate
	if err := s.selectRows(ctx, &cands, sb); err != nil {
		return nil, err
	}
	return cands, nil
}

func (s *SQLStore) PlaceCandidates(ctx context.Context, placeID int64) (map[int64][]*model.Candidate, error) {
	cols := make([]string, len(candidateColumns))
	for i, c := range candidateColumns {
		cols[i] = "c." + c
	}
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(cols...).
		From("item_candidate c").
		Join("place_item pi", "pi.item_id = c.item_id").
		Where(sb.Equal("pi.place_id", placeID)).
		OrderBy("c.item_id", "c.dist")

	var cands []*model.Candidate
	if err := s.selectRows(ctx, &cands, sb); err != nil {
		return nil, err
	}
	ret := make(map[int64][]*model.Candidate)
	for _, c := range cands {
		ret[c.ItemID] = append(ret[c.ItemID], c)
	}
	return ret, nil
}

func (s *SQLStore) UpdateCandidateTags(ctx context.Context, itemID int64, key model.ElementKey, tags model.Tags) error {
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("item_candidate").Set(ub.Assign("tags", tags)).Where(
		ub.Equal("item_id", itemID),
		ub.Equal("osm_type", key.Type),
		ub.Equal("osm_id", key.ID),
	)
	res, err := s.exec(ctx, ub)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Changesets ---

var changesetColumns = []string{"id", "place_id", "item_id", "created", "comment", "update_count", "user_id"}

// SaveChangeset records a finished upload. Changesets are written once.
func (s *SQLStore) SaveChangeset(ctx context.Context, cs *model.Changeset) error {
	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto("changeset").Cols(changesetColumns...).Values(
		cs.ID, cs.PlaceID, cs.ItemID, cs.Created, cs.Comment, cs.UpdateCount, cs.UserID,
	)
	_, err := s.exec(ctx, ib)
	return err
}

func (s *SQLStore) ListChangesets(ctx context.Context, limit int) ([]*model.Changeset, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(changesetColumns...).From("changeset").OrderBy("created").Desc().Limit(limit)

	var list []*model.Changeset
	if err := s.selectRows(ctx, &list, sb); err != nil {
		return nil, err
	}
	return list, nil
}
