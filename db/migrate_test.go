package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (
		SELECT FROM information_schema.tables
		WHERE table_name = $1
	)`, table).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table %s: %v", table, err)
	}
	return exists
}

func TestMigrateUpFromEmpty(t *testing.T) {
	db := openTestDB(t)
	cleanDatabase(t, context.Background(), db)

	v, err := MigrateUp(db)
	if err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if v != (SchemaVersion{Version: 2}) {
		t.Errorf("MigrateUp() = %v, want 2 (clean)", v)
	}
	for _, table := range []string{"guilds", "global_counts", "oauth_tokens", "kv", "relay_templates"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s does not exist after migration", table)
		}
	}

	// second run is a no-op
	if v, err := MigrateUp(db); err != nil || v.Version != 2 {
		t.Fatalf("second MigrateUp() = %v, %v", v, err)
	}
}

func TestMigrationUpDown(t *testing.T) {
	db := openTestDB(t)
	cleanDatabase(t, context.Background(), db)

	if _, err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if _, err := MigrateDown(db); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	v, err := CurrentVersion(db)
	if err != nil {
		t.Fatalf("CurrentVersion() error = %v", err)
	}
	if v.String() != "1 (clean)" {
		t.Errorf("after down: version = %v, want 1 (clean)", v)
	}
	if tableExists(t, db, "relay_templates") {
		t.Error("relay_templates should be dropped by rolling back the last migration")
	}
	if !tableExists(t, db, "guilds") {
		t.Error("guilds should survive rolling back the last migration")
	}

	if _, err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() after rollback error = %v", err)
	}
	if !tableExists(t, db, "relay_templates") {
		t.Error("relay_templates missing after re-apply")
	}
}

// TestSetupFallbackIsIdempotent runs the statement list over a migrated schema.
func TestSetupFallbackIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cleanDatabase(t, ctx, db)

	if err := Setup(ctx, db); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db); err != nil {
			t.Fatalf("Migrate() pass %d error = %v", i, err)
		}
	}
}

func TestCurrentVersionEmpty(t *testing.T) {
	db := openTestDB(t)
	cleanDatabase(t, context.Background(), db)

	v, err := CurrentVersion(db)
	if err != nil {
		t.Fatalf("CurrentVersion() error = %v", err)
	}
	if v != (SchemaVersion{}) {
		t.Errorf("CurrentVersion() = %v, want 0 (clean)", v)
	}
}

func cleanDatabase(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	for _, table := range []string{"relay_templates", "guilds", "global_counts", "oauth_tokens", "kv", "schema_migrations"} {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}
}
