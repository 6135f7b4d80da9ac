package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/onnwee/guildbot/db"
)

// SetupTestDB opens the database named by TEST_PG_DSN, brings the schema up to
// date and empties the bot's tables. It skips the test when TEST_PG_DSN is unset.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := db.Setup(ctx, database); err != nil {
		_ = database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	for _, table := range []string{"guilds", "global_counts", "oauth_tokens", "kv", "relay_templates"} {
		if _, err := database.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			_ = database.Close()
			t.Fatalf("failed to clean %s: %v", table, err)
		}
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}
