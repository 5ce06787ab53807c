package mapdata

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/tilmanb/osm-wikidata/pkg/db"
	"github.com/tilmanb/osm-wikidata/pkg/geo"
	"github.com/tilmanb/osm-wikidata/pkg/matcher"
	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// Table suffixes of a place's map data.
const (
	Point   = "point"
	Line    = "line"
	Polygon = "polygon"
)

var suffixes = []string{Point, Line, Polygon}

var validPrefix = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// insertBatch is the number of rows per INSERT statement.
const insertBatch = 200

// AreaTags mark a way as an area; LinearTags mark it as a line.
// An explicit area=yes or area=no wins over both.
var (
	AreaTags   = []string{"building", "landuse", "leisure", "natural", "aeroway", "amenity", "historic", "tourism", "man_made", "place"}
	LinearTags = []string{"highway", "barrier", "railway", "waterway", "power"}
)

// Store keeps the bulk spatial query result of each place in three tables
// named after the place prefix.
type Store struct {
	db     *db.DB
	logger *slog.Logger
}

// New creates a map data store on the shared database.
func New(d *db.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: d, logger: logger.With("component", "mapdata")}
}

// TableNames returns the point, line and polygon tables of a prefix.
func TableNames(prefix string) []string {
	names := make([]string, len(suffixes))
	for i, s := range suffixes {
		names[i] = prefix + "_" + s
	}
	return names
}

func checkPrefix(prefix string) error {
	if !validPrefix.MatchString(prefix) {
		return fmt.Errorf("invalid table prefix %q", prefix)
	}
	return nil
}

// TableFor returns the table suffix an element is stored under.
func TableFor(el *model.Element) string {
	switch el.Type {
	case "node":
		return Point
	case "relation":
		return Polygon
	}
	switch el.Tags["area"] {
	case "yes":
		return Polygon
	case "no":
		return Line
	}
	for _, k := range LinearTags {
		if _, ok := el.Tags[k]; ok {
			return Line
		}
	}
	for _, k := range AreaTags {
		if _, ok := el.Tags[k]; ok {
			return Polygon
		}
	}
	return Line
}

// TablesExist reports whether all three tables of the prefix are present.
func (s *Store) TablesExist(ctx context.Context, prefix string) (bool, error) {
	if err := checkPrefix(prefix); err != nil {
		return false, err
	}
	names := make([]any, 0, len(suffixes))
	for _, n := range TableNames(prefix) {
		names = append(names, n)
	}

	sb := sqlbuilder.NewSelectBuilder()
	if s.db.IsPostgres() {
		sb.Select("count(*)").From("information_schema.tables").Where(sb.In("table_name", names...))
	} else {
		sb.Select("count(*)").From("sqlite_master").Where(sb.Equal("type", "table"), sb.In("name", names...))
	}
	q, args := sb.BuildWithFlavor(s.db.Flavor)

	var n int
	if err := s.db.GetContext(ctx, &n, q, args...); err != nil {
		return false, &SQLError{q, err}
	}
	return n == len(suffixes), nil
}

func createTableSQL(table string, flavor sqlbuilder.Flavor) string {
	ctb := sqlbuilder.NewCreateTableBuilder()
	ctb.CreateTable(table).IfNotExists()
	ctb.Define("osm_type", "TEXT", "NOT NULL")
	ctb.Define("osm_id", "BIGINT", "NOT NULL")
	ctb.Define("name", "TEXT", "NOT NULL", "DEFAULT ''")
	ctb.Define("tags", "TEXT", "NOT NULL", "DEFAULT '{}'")
	ctb.Define("lat", "DOUBLE PRECISION", "NOT NULL")
	ctb.Define("lon", "DOUBLE PRECISION", "NOT NULL")
	ctb.Define("PRIMARY KEY", "(osm_type, osm_id)")
	q, _ := ctb.BuildWithFlavor(flavor)
	return q
}

// Load replaces the tables of the prefix with the given elements. Elements
// without a position are skipped. It returns the number of rows written.
func (s *Store) Load(ctx context.Context, prefix string, elements []model.Element) (int, error) {
	if err := checkPrefix(prefix); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range TableNames(prefix) {
		for _, q := range []string{"DROP TABLE IF EXISTS " + table, createTableSQL(table, s.db.Flavor)} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return 0, &SQLError{q, err}
			}
		}
		q := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_latlon ON %s (lat, lon)", table, table)
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return 0, &SQLError{q, err}
		}
	}

	rows := make(map[string][]model.Element, len(suffixes))
	seen := make(map[model.ElementKey]bool, len(elements))
	skipped := 0
	for _, el := range elements {
		if _, _, ok := el.Centre(); !ok || seen[el.Key()] {
			skipped++
			continue
		}
		seen[el.Key()] = true
		t := TableFor(&el)
		rows[t] = append(rows[t], el)
	}

	written := 0
	for _, suffix := range suffixes {
		table := prefix + "_" + suffix
		batch := rows[suffix]
		for start := 0; start < len(batch); start += insertBatch {
			end := min(start+insertBatch, len(batch))
			if err := s.insert(ctx, tx, table, batch[start:end]); err != nil {
				return written, err
			}
			written += end - start
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	s.logger.Info("Loaded map data", "prefix", prefix, "rows", written, "skipped", skipped)
	return written, nil
}

func (s *Store) insert(ctx context.Context, tx *sqlx.Tx, table string, elements []model.Element) error {
	ib := sqlbuilder.NewInsertBuilder()
	ib.InsertInto(table).Cols("osm_type", "osm_id", "name", "tags", "lat", "lon")
	for _, el := range elements {
		lat, lon, _ := el.Centre()
		tags := model.Tags(el.Tags)
		if tags == nil {
			tags = model.Tags{}
		}
		ib.Values(el.Type, el.ID, el.Tags["name"], tags, lat, lon)
	}
	q, args := ib.BuildWithFlavor(s.db.Flavor)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return &SQLError{q, err}
	}
	return nil
}

// Drop removes the tables of the prefix.
func (s *Store) Drop(ctx context.Context, prefix string) error {
	if err := checkPrefix(prefix); err != nil {
		return err
	}
	for _, table := range TableNames(prefix) {
		q := "DROP TABLE IF EXISTS " + table
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return &SQLError{q, err}
		}
	}
	return nil
}

type row struct {
	OSMType string     `db:"osm_type"`
	OSMID   int64      `db:"osm_id"`
	Name    string     `db:"name"`
	Tags    model.Tags `db:"tags"`
	Lat     float64    `db:"lat"`
	Lon     float64    `db:"lon"`
}

func (r *row) element() model.Element {
	el := model.Element{Type: r.OSMType, ID: r.OSMID, Tags: r.Tags}
	if r.OSMType == "node" {
		el.Lat, el.Lon = r.Lat, r.Lon
	} else {
		el.Center = &model.LatLon{Lat: r.Lat, Lon: r.Lon}
	}
	return el
}

// Nearby returns the elements within radius meters of the point that satisfy
// at least one criterion. Without criteria nothing is returned.
func (s *Store) Nearby(ctx context.Context, prefix string, lat, lon, radius float64, criteria []string) ([]model.Element, error) {
	if len(criteria) == 0 {
		return nil, nil
	}
	exists, err := s.TablesExist(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrMissingTables
	}

	centre := geo.Point{Lat: lat, Lon: lon}
	box := geo.BoundAround(centre, radius)

	var ret []model.Element
	for _, table := range TableNames(prefix) {
		sb := sqlbuilder.NewSelectBuilder()
		sb.Select("osm_type", "osm_id", "name", "tags", "lat", "lon").From(table).Where(
			sb.Between("lat", box.South, box.North),
			sb.Between("lon", box.West, box.East),
		).OrderBy("osm_type", "osm_id")
		q, args := sb.BuildWithFlavor(s.db.Flavor)

		var rows []row
		if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
			return nil, &SQLError{q, err}
		}
		for i := range rows {
			r := &rows[i]
			if geo.Distance(centre, geo.Point{Lat: r.Lat, Lon: r.Lon}) > radius {
				continue
			}
			if !matcher.SatisfiesAny(r.Tags, criteria) {
				continue
			}
			ret = append(ret, r.element())
		}
	}
	return ret, nil
}
