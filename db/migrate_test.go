package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var schemaTables = []string{"clip_events", "yt_streams", "stream_claims", "channel_integrations", "oauth_tokens", "kv"}

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
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table %s: %v", table, err)
	}
	return exists
}

// cleanDatabase drops every table and the schema_migrations table to start fresh
func cleanDatabase(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	for _, table := range append(append([]string{}, schemaTables...), "schema_migrations") {
		if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table+` CASCADE`); err != nil {
			t.Logf("warning: drop %s failed: %v", table, err)
		}
	}
}

func TestRunMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cleanDatabase(t, ctx, db)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	for _, table := range schemaTables {
		if !tableExists(t, db, table) {
			t.Errorf("table %s does not exist after migration", table)
		}
	}
	version, dirty, err := GetMigrationVersion(db)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if dirty || version < 1 {
		t.Errorf("version = %d dirty = %v, want >= 1 clean", version, dirty)
	}

	// second run is a no-op
	if err := RunMigrations(db); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}
	v2, _, _ := GetMigrationVersion(db)
	if v2 != version {
		t.Errorf("version changed: %d -> %d", version, v2)
	}
}

func TestMigrationDownAll(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cleanDatabase(t, ctx, db)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	start, _, err := GetMigrationVersion(db)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	for i := uint(0); i < start; i++ {
		if err := MigrateDown(db); err != nil {
			t.Fatalf("MigrateDown() iteration %d error = %v", i, err)
		}
	}
	for _, table := range schemaTables {
		if tableExists(t, db, table) {
			t.Errorf("table %s still exists after rolling back all migrations", table)
		}
	}
	if v, _, _ := GetMigrationVersion(db); v != 0 {
		t.Errorf("version after rolling back all = %d, want 0", v)
	}
}

// Migrate and RunMigrations share the same SQL, so the startup path must be
// safe on a schema created by golang-migrate and vice versa.
func TestMigrateCompatibleWithRunMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cleanDatabase(t, ctx, db)

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations() after Migrate error = %v", err)
	}
	for _, table := range schemaTables {
		if !tableExists(t, db, table) {
			t.Errorf("table %s missing", table)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n CREATE INDEX i ON a(x);\n")
	if len(got) != 2 || got[0] != "CREATE TABLE a (x INT)" || got[1] != "CREATE INDEX i ON a(x)" {
		t.Errorf("splitStatements = %q", got)
	}
}
