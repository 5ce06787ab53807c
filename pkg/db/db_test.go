package db_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/tilmanb/osm-wikidata/pkg/config"
	"github.com/tilmanb/osm-wikidata/pkg/db"
)

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db_test.db")

	d, err := db.Init(path)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	defer d.Close()

	if d.Flavor != sqlbuilder.SQLite {
		t.Errorf("expected sqlite flavour, got %v", d.Flavor)
	}
	if d.BlobType() != "BLOB" {
		t.Errorf("expected BLOB, got %s", d.BlobType())
	}

	for _, table := range []string{"place", "item", "place_item", "item_candidate", "changeset", "persistent_state", "cache"} {
		var n int
		if err := d.Get(&n, "SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?", table); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("table %s missing", table)
		}
	}

	// Migrations are idempotent.
	d.Close()
	d2, err := db.Init(path)
	if err != nil {
		t.Fatalf("second Init() failed: %v", err)
	}
	d2.Close()
}

func TestOpen(t *testing.T) {
	if _, err := db.Open(config.DBConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}

	d, err := db.Open(config.DBConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer d.Close()
	if d.IsPostgres() {
		t.Error("sqlite connection reported as postgres")
	}
}

func TestPruneCache(t *testing.T) {
	d, err := db.Init(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	old := time.Now().Add(-40 * 24 * time.Hour).UTC().Format("2006-01-02 15:04:05")
	if _, err := d.Exec("INSERT INTO cache (key, value, created_at) VALUES ('old', x'01', ?)", old); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Exec("INSERT INTO cache (key, value) VALUES ('new', x'02')"); err != nil {
		t.Fatal(err)
	}

	n, err := d.PruneCache(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneCache() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}
	var left int
	if err := d.Get(&left, "SELECT count(*) FROM cache"); err != nil {
		t.Fatal(err)
	}
	if left != 1 {
		t.Errorf("expected 1 remaining row, got %d", left)
	}
}
