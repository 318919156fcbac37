package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsFromFS_SortsByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_sales.up.sql": {
			Data: []byte("CREATE TABLE sales (id TEXT PRIMARY KEY);"),
		},
		"sql/migrations/0002_sales.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS sales;"),
		},
		"sql/migrations/0001_vehicles.up.sql": {
			Data: []byte("CREATE TABLE vehicles (id TEXT PRIMARY KEY);"),
		},
		"sql/migrations/0001_vehicles.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS vehicles;"),
		},
	}

	migrations, err := loadMigrationsFromFS(fsys)
	if err != nil {
		t.Fatalf("loadMigrationsFromFS failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "vehicles" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 || migrations[1].Name != "sales" {
		t.Fatalf("unexpected second migration: %+v", migrations[1])
	}
}

func TestLoadMigrationsFromFS_MissingDownPair(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_vehicles.up.sql": {
			Data: []byte("CREATE TABLE vehicles (id TEXT PRIMARY KEY);"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "both up and down") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	t.Parallel()

	version, name, direction, err := parseMigrationFilename("0002_sales.down.sql")
	if err != nil {
		t.Fatalf("parseMigrationFilename failed: %v", err)
	}
	if version != 2 || name != "sales" || direction != migrationDown {
		t.Fatalf("unexpected parse result: %d %s %s", version, name, direction)
	}

	if _, _, _, err := parseMigrationFilename("sales.sql"); err == nil {
		t.Fatal("expected error for file without version and direction")
	}
}

func TestLoadMigrationsFromFS_RejectsUnversionedFile(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/seed_vehicles.sql": {
			Data: []byte("INSERT INTO vehicles VALUES ('vehicle-vesta');"),
		},
	}

	if _, err := loadMigrationsFromFS(fsys); err == nil {
		t.Fatal("expected error for migration file without version prefix")
	}
}

func TestLoadMigrationsFromFS_RejectsEmptyBody(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_vehicles.up.sql": {
			Data: []byte("   \n"),
		},
		"sql/migrations/0001_vehicles.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS vehicles;"),
		},
	}

	if _, err := loadMigrationsFromFS(fsys); err == nil {
		t.Fatal("expected error for empty migration body")
	}
}
