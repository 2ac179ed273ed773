package db

import (
	"context"
	"sync"
	"testing"
	"time"
)

// resetTokenCipher clears the lazily built cipher so a test can change
// TOKEN_ENC_KEY and have it picked up.
func resetTokenCipher() {
	tokenCipherOnce = sync.Once{}
	tokenCipher = nil
	tokenCipherErr = nil
}

// base64 of 32 bytes.
const testSealKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

func TestSealedTokenRoundTrip(t *testing.T) {
	t.Setenv("TOKEN_ENC_KEY", testSealKey)
	resetTokenCipher()
	t.Cleanup(resetTokenCipher)

	db := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	provider := "test-sealed-provider"
	access := "test-access-token-12345"
	refresh := "test-refresh-token-67890"
	expiry := time.Now().Add(time.Hour)
	scope := "test:scope1 test:scope2"

	if err := UpsertOAuthToken(ctx, db, provider, access, refresh, expiry, scope); err != nil {
		t.Fatalf("UpsertOAuthToken() error = %v", err)
	}

	// The stored columns must not contain the plaintext.
	var storedAccess, storedRefresh string
	var encVersion int
	err := db.QueryRow(`SELECT access_token, refresh_token, encryption_version FROM oauth_tokens WHERE provider=$1`, provider).
		Scan(&storedAccess, &storedRefresh, &encVersion)
	if err != nil {
		t.Fatalf("query stored token: %v", err)
	}
	if encVersion != 1 {
		t.Errorf("encryption_version = %d, want 1", encVersion)
	}
	if storedAccess == access || storedRefresh == refresh {
		t.Errorf("token stored in plaintext, should be sealed")
	}

	gotAccess, gotRefresh, gotExpiry, gotScope, err := GetOAuthToken(ctx, db, provider)
	if err != nil {
		t.Fatalf("GetOAuthToken() error = %v", err)
	}
	if gotAccess != access || gotRefresh != refresh || gotScope != scope {
		t.Errorf("GetOAuthToken() = (%q,%q,%q), want (%q,%q,%q)", gotAccess, gotRefresh, gotScope, access, refresh, scope)
	}
	if gotExpiry.Sub(expiry).Abs() > time.Second {
		t.Errorf("expiry mismatch: got %v, want %v", gotExpiry, expiry)
	}

	// Upsert replaces in place.
	if err := UpsertOAuthToken(ctx, db, provider, "new-access", "new-refresh", expiry, scope); err != nil {
		t.Fatalf("UpsertOAuthToken() update error = %v", err)
	}
	gotAccess, gotRefresh, _, _, err = GetOAuthToken(ctx, db, provider)
	if err != nil {
		t.Fatalf("GetOAuthToken() after update error = %v", err)
	}
	if gotAccess != "new-access" || gotRefresh != "new-refresh" {
		t.Errorf("after update got (%q,%q), want (new-access,new-refresh)", gotAccess, gotRefresh)
	}
}

func TestPlaintextTokenCompatibility(t *testing.T) {
	t.Setenv("TOKEN_ENC_KEY", "")
	resetTokenCipher()
	t.Cleanup(resetTokenCipher)

	db := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	provider := "test-plaintext-provider"
	access := "plaintext-access-token"

	if err := UpsertOAuthToken(ctx, db, provider, access, "plaintext-refresh", time.Now().Add(time.Hour), "s"); err != nil {
		t.Fatalf("UpsertOAuthToken() error = %v", err)
	}

	var storedAccess string
	var encVersion int
	err := db.QueryRow(`SELECT access_token, encryption_version FROM oauth_tokens WHERE provider=$1`, provider).
		Scan(&storedAccess, &encVersion)
	if err != nil {
		t.Fatalf("query stored token: %v", err)
	}
	if encVersion != 0 {
		t.Errorf("encryption_version = %d, want 0", encVersion)
	}
	if storedAccess != access {
		t.Errorf("stored access_token = %q, want plaintext %q", storedAccess, access)
	}

	gotAccess, _, _, _, err := GetOAuthToken(ctx, db, provider)
	if err != nil {
		t.Fatalf("GetOAuthToken() error = %v", err)
	}
	if gotAccess != access {
		t.Errorf("GetOAuthToken() = %q, want %q", gotAccess, access)
	}
}

func TestSealingEnabledOnReupsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	provider := "test-upgrade-provider"
	access := "upgrade-access-token"

	// Write plaintext first.
	t.Setenv("TOKEN_ENC_KEY", "")
	resetTokenCipher()
	t.Cleanup(resetTokenCipher)
	if err := UpsertOAuthToken(ctx, db, provider, access, "r", time.Now().Add(time.Hour), ""); err != nil {
		t.Fatalf("plaintext upsert: %v", err)
	}

	// Enable sealing; the next refresh rewrites the row sealed.
	t.Setenv("TOKEN_ENC_KEY", testSealKey)
	resetTokenCipher()
	if err := UpsertOAuthToken(ctx, db, provider, access, "r", time.Now().Add(time.Hour), ""); err != nil {
		t.Fatalf("sealed upsert: %v", err)
	}

	var encVersion int
	var storedAccess string
	err := db.QueryRow(`SELECT encryption_version, access_token FROM oauth_tokens WHERE provider=$1`, provider).
		Scan(&encVersion, &storedAccess)
	if err != nil {
		t.Fatalf("query after upgrade: %v", err)
	}
	if encVersion != 1 {
		t.Errorf("encryption_version = %d, want 1 after re-upsert", encVersion)
	}
	if storedAccess == access {
		t.Errorf("token still plaintext after re-upsert with sealing enabled")
	}

	gotAccess, _, _, _, err := GetOAuthToken(ctx, db, provider)
	if err != nil {
		t.Fatalf("GetOAuthToken() error = %v", err)
	}
	if gotAccess != access {
		t.Errorf("GetOAuthToken() = %q, want %q", gotAccess, access)
	}
}

func TestGetTokenCipherStates(t *testing.T) {
	t.Setenv("TOKEN_ENC_KEY", "")
	resetTokenCipher()
	t.Cleanup(resetTokenCipher)

	c, err := getTokenCipher()
	if err != nil {
		t.Errorf("getTokenCipher() with no key should not error, got %v", err)
	}
	if c != nil {
		t.Errorf("getTokenCipher() with no key should return nil cipher")
	}

	t.Setenv("TOKEN_ENC_KEY", "not-valid-base64!@#")
	resetTokenCipher()
	if _, err := getTokenCipher(); err == nil {
		t.Errorf("getTokenCipher() with invalid key should error")
	}

	t.Setenv("TOKEN_ENC_KEY", "dGVzdAo=") // decodes to 5 bytes
	resetTokenCipher()
	if _, err := getTokenCipher(); err == nil {
		t.Errorf("getTokenCipher() with short key should error")
	}
}

func TestSQLTokenStore(t *testing.T) {
	t.Setenv("TOKEN_ENC_KEY", "")
	resetTokenCipher()
	t.Cleanup(resetTokenCipher)

	db := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := &SQLTokenStore{DB: db}
	expiry := time.Now().Add(30 * time.Minute)
	if err := store.UpsertToken(ctx, "youtube:0", "a", "r", expiry, "scope"); err != nil {
		t.Fatalf("UpsertToken() error = %v", err)
	}
	access, refresh, gotExpiry, scope, err := store.GetToken(ctx, "youtube:0")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if access != "a" || refresh != "r" || scope != "scope" {
		t.Errorf("GetToken() = (%q,%q,%q), want (a,r,scope)", access, refresh, scope)
	}
	if gotExpiry.Sub(expiry).Abs() > time.Second {
		t.Errorf("expiry mismatch: got %v, want %v", gotExpiry, expiry)
	}

	// Missing provider returns zero values without error.
	access, _, _, _, err = store.GetToken(ctx, "youtube:99")
	if err != nil {
		t.Fatalf("GetToken() missing provider error = %v", err)
	}
	if access != "" {
		t.Errorf("GetToken() missing provider access = %q, want empty", access)
	}
}
