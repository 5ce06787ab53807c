package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Register postgres driver
	_ "modernc.org/sqlite" // Register sqlite driver

	"github.com/tilmanb/osm-wikidata/pkg/config"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB wraps the sqlx connection together with the SQL flavour of its driver.
type DB struct {
	*sqlx.DB
	Flavor sqlbuilder.Flavor
}

// Open connects to the configured database and runs migrations.
func Open(cfg config.DBConfig) (*DB, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return Init(cfg.Path)
	case "postgres":
		return openPostgres(cfg.DSN)
	}
	return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
}

// Init opens a sqlite database at path and runs migrations.
// ":memory:" gives a private in-memory database.
func Init(path string) (*DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}

	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Single writer, so no SQLITE_BUSY between concurrent pipeline runs.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=30000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	d := &DB{DB: conn, Flavor: sqlbuilder.SQLite}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return d, nil
}

func openPostgres(dsn string) (*DB, error) {
	conn, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	conn.SetMaxOpenConns(10)

	d := &DB{DB: conn, Flavor: sqlbuilder.PostgreSQL}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return d, nil
}

// IsPostgres reports whether the connection uses the postgres driver.
func (d *DB) IsPostgres() bool {
	return d.Flavor == sqlbuilder.PostgreSQL
}

// BlobType is the binary column type of the driver.
func (d *DB) BlobType() string {
	if d.IsPostgres() {
		return "BYTEA"
	}
	return "BLOB"
}

// PruneCache removes cache entries older than the specified duration.
func (d *DB) PruneCache(olderThan time.Duration) (int64, error) {
	deadline := time.Now().Add(-olderThan).UTC()
	var arg any = deadline
	if !d.IsPostgres() {
		// CURRENT_TIMESTAMP text format
		arg = deadline.Format("2006-01-02 15:04:05")
	}
	res, err := d.Exec(d.Rebind("DELETE FROM cache WHERE created_at < ?"), arg)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS place (
			place_id BIGINT PRIMARY KEY,
			osm_type TEXT NOT NULL,
			osm_id BIGINT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			area DOUBLE PRECISION NOT NULL DEFAULT 0,
			south DOUBLE PRECISION NOT NULL DEFAULT 0,
			west DOUBLE PRECISION NOT NULL DEFAULT 0,
			north DOUBLE PRECISION NOT NULL DEFAULT 0,
			east DOUBLE PRECISION NOT NULL DEFAULT 0,
			boundary TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			item_count INTEGER NOT NULL DEFAULT 0,
			candidate_count INTEGER NOT NULL DEFAULT 0,
			overpass_error TEXT NOT NULL DEFAULT '',
			added_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS item (
			item_id BIGINT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			lat DOUBLE PRECISION NOT NULL DEFAULT 0,
			lon DOUBLE PRECISION NOT NULL DEFAULT 0,
			enwiki TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			categories TEXT NOT NULL DEFAULT '[]',
			entity TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS place_item (
			place_id BIGINT NOT NULL REFERENCES place(place_id) ON DELETE CASCADE,
			item_id BIGINT NOT NULL REFERENCES item(item_id) ON DELETE CASCADE,
			PRIMARY KEY (place_id, item_id)
		);`,
		`CREATE TABLE IF NOT EXISTS item_candidate (
			item_id BIGINT NOT NULL REFERENCES item(item_id) ON DELETE CASCADE,
			osm_type TEXT NOT NULL,
			osm_id BIGINT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '{}',
			lat DOUBLE PRECISION NOT NULL DEFAULT 0,
			lon DOUBLE PRECISION NOT NULL DEFAULT 0,
			dist DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (item_id, osm_type, osm_id)
		);`,
		`CREATE TABLE IF NOT EXISTS changeset (
			id BIGINT PRIMARY KEY,
			place_id BIGINT,
			item_id BIGINT,
			created TIMESTAMP NOT NULL,
			comment TEXT NOT NULL DEFAULT '',
			update_count INTEGER NOT NULL DEFAULT 0,
			user_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS persistent_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value ` + d.BlobType() + `,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_place_item_item ON place_item (item_id);`,
		`CREATE INDEX IF NOT EXISTS idx_changeset_place ON changeset (place_id);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}
	return nil
}
