package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"testing"
	"time"

	"github.com/onnwee/tsnip/crypto"
	"github.com/onnwee/tsnip/testutil"
)

func newEncryptor(t *testing.T) *crypto.AESEncryptor {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	enc, err := crypto.NewAESEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	return enc
}

func insertPlaintext(t *testing.T, database *sql.DB, provider, access, refresh string) {
	t.Helper()
	_, err := database.ExecContext(context.Background(),
		`INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, scope, encryption_version)
		 VALUES ($1, $2, $3, $4, 'test:scope', 0)`,
		provider, access, refresh, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to insert test token: %v", err)
	}
}

func TestMigrateTokens_DryRun(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	insertPlaintext(t, database, "test-provider-dryrun", "test-access-token", "test-refresh-token")

	if err := migrateTokens(ctx, database, newEncryptor(t), true, ""); err != nil {
		t.Fatalf("migrateTokens(dry-run) failed: %v", err)
	}

	var storedAccess string
	var encVersion int
	err := database.QueryRowContext(ctx,
		`SELECT access_token, encryption_version FROM oauth_tokens WHERE provider = $1`,
		"test-provider-dryrun").Scan(&storedAccess, &encVersion)
	if err != nil {
		t.Fatalf("failed to query token: %v", err)
	}
	if encVersion != 0 || storedAccess != "test-access-token" {
		t.Errorf("dry-run changed the row: version=%d access=%q", encVersion, storedAccess)
	}
}

func TestMigrateTokens_RealMigration(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	enc := newEncryptor(t)

	tokens := []struct{ provider, access, refresh string }{
		{"youtube", "access-token-1", "refresh-token-1"},
		{"test-provider-2", "access-token-2", ""},
	}
	for _, tok := range tokens {
		insertPlaintext(t, database, tok.provider, tok.access, tok.refresh)
	}

	if err := migrateTokens(ctx, database, enc, false, ""); err != nil {
		t.Fatalf("migrateTokens() failed: %v", err)
	}

	for _, tok := range tokens {
		var storedAccess, storedRefresh string
		var encVersion int
		var encKeyID sql.NullString
		err := database.QueryRowContext(ctx,
			`SELECT access_token, refresh_token, encryption_version, encryption_key_id
			 FROM oauth_tokens WHERE provider = $1`, tok.provider).
			Scan(&storedAccess, &storedRefresh, &encVersion, &encKeyID)
		if err != nil {
			t.Fatalf("failed to query migrated token: %v", err)
		}
		if encVersion != 1 || encKeyID.String != "default" {
			t.Errorf("%s: version=%d key=%v", tok.provider, encVersion, encKeyID)
		}
		if storedAccess == tok.access {
			t.Errorf("%s: access_token still plaintext", tok.provider)
		}
		if got, err := crypto.DecryptString(enc, storedAccess); err != nil || got != tok.access {
			t.Errorf("%s: decrypted access = %q, %v", tok.provider, got, err)
		}
		if got, err := crypto.DecryptString(enc, storedRefresh); err != nil || got != tok.refresh {
			t.Errorf("%s: decrypted refresh = %q, %v", tok.provider, got, err)
		}
	}

	if err := ValidateMigration(ctx, database); err != nil {
		t.Errorf("ValidateMigration: %v", err)
	}
}

func TestMigrateTokens_ProviderFilter(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	insertPlaintext(t, database, "youtube", "a1", "r1")
	insertPlaintext(t, database, "other", "a2", "r2")

	if err := migrateTokens(ctx, database, newEncryptor(t), false, "youtube"); err != nil {
		t.Fatalf("migrateTokens() failed: %v", err)
	}
	var version int
	if err := database.QueryRowContext(ctx, `SELECT encryption_version FROM oauth_tokens WHERE provider='other'`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("filtered-out provider was migrated")
	}
}

func TestMigrateTokens_Idempotent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	enc := newEncryptor(t)
	insertPlaintext(t, database, "youtube", "a1", "r1")

	if err := migrateTokens(ctx, database, enc, false, ""); err != nil {
		t.Fatalf("first run: %v", err)
	}
	var first string
	_ = database.QueryRowContext(ctx, `SELECT access_token FROM oauth_tokens WHERE provider='youtube'`).Scan(&first)

	if err := migrateTokens(ctx, database, enc, false, ""); err != nil {
		t.Fatalf("second run: %v", err)
	}
	var second string
	_ = database.QueryRowContext(ctx, `SELECT access_token FROM oauth_tokens WHERE provider='youtube'`).Scan(&second)
	if first != second {
		t.Error("second run re-encrypted an already encrypted token")
	}
}

func TestMigrateTokens_NoTokens(t *testing.T) {
	database := testutil.SetupTestDB(t)
	if err := migrateTokens(context.Background(), database, newEncryptor(t), false, ""); err != nil {
		t.Errorf("empty table: %v", err)
	}
}
