package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	marketauth "github.com/goliatone/go-marketauth"
	"github.com/goliatone/go-marketauth/core"
	sqlstore "github.com/goliatone/go-marketauth/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-marketauth-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:marketauth-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	fsys, err := marketauth.GetSQLiteMigrationsFS()
	if err != nil {
		_ = client.Close()
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	client.RegisterSQLMigrations(fsys)
	if err := client.Migrate(context.Background()); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newCredentialStore(t *testing.T) (*sqlstore.CredentialStore, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("build stores: %v", err)
	}
	return factory.CredentialStore(), cleanup
}

func testCredential(userID int64) core.Credential {
	return core.Credential{
		UserID:        userID,
		MarketplaceID: core.MarketplaceEbay,
		Environment:   core.EnvironmentProduction,
		Scope:         core.CredentialScopeUser,
		SecretMaterial: map[string]string{
			"client_id":     "app-123",
			"client_secret": "cert-456",
		},
		AccessToken:  "token-a",
		RefreshToken: "refresh-a",
		IsActive:     true,
	}
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	store, cleanup := newCredentialStore(t)
	defer cleanup()
	ctx := context.Background()

	stored, err := store.StoreCredential(ctx, testCredential(42))
	if err != nil {
		t.Fatalf("store credential: %v", err)
	}
	if !stored.IsActive {
		t.Fatalf("expected stored credential to be active")
	}

	loaded, err := store.LoadCredential(ctx, core.CredentialKey{
		UserID:        42,
		MarketplaceID: core.MarketplaceEbay,
		Environment:   core.EnvironmentProduction,
		Scope:         core.CredentialScopeUser,
	})
	if err != nil {
		t.Fatalf("load credential: %v", err)
	}
	if loaded.SecretMaterial["client_id"] != "app-123" {
		t.Fatalf("expected secret material to round-trip, got %#v", loaded.SecretMaterial)
	}
	if loaded.AccessToken != "token-a" || loaded.RefreshToken != "refresh-a" {
		t.Fatalf("expected tokens to round-trip, got %q / %q", loaded.AccessToken, loaded.RefreshToken)
	}
}

func TestStoreCredentialDeactivatesPrevious(t *testing.T) {
	store, cleanup := newCredentialStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.StoreCredential(ctx, testCredential(7)); err != nil {
		t.Fatalf("store first credential: %v", err)
	}

	replacement := testCredential(7)
	replacement.AccessToken = "token-b"
	if _, err := store.StoreCredential(ctx, replacement); err != nil {
		t.Fatalf("store replacement credential: %v", err)
	}

	loaded, err := store.LoadCredential(ctx, core.CredentialKey{
		UserID:        7,
		MarketplaceID: core.MarketplaceEbay,
		Environment:   core.EnvironmentProduction,
		Scope:         core.CredentialScopeUser,
	})
	if err != nil {
		t.Fatalf("load credential: %v", err)
	}
	if loaded.AccessToken != "token-b" {
		t.Fatalf("expected replacement to win, got %q", loaded.AccessToken)
	}

	all, err := store.ListCredentials(ctx, core.CredentialFilter{UserID: 7})
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both rows kept for audit, got %d", len(all))
	}
	active, err := store.ListCredentials(ctx, core.CredentialFilter{UserID: 7, ActiveOnly: true})
	if err != nil {
		t.Fatalf("list active credentials: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly one active row, got %d", len(active))
	}
}

func TestLoadCredentialNotFound(t *testing.T) {
	store, cleanup := newCredentialStore(t)
	defer cleanup()

	_, err := store.LoadCredential(context.Background(), core.CredentialKey{
		UserID:        999,
		MarketplaceID: core.MarketplaceAmazon,
		Environment:   core.EnvironmentSandbox,
		Scope:         core.CredentialScopeUser,
	})
	if !errors.Is(err, core.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestListCredentialsFiltersByMarketplace(t *testing.T) {
	store, cleanup := newCredentialStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.StoreCredential(ctx, testCredential(11)); err != nil {
		t.Fatalf("store ebay credential: %v", err)
	}
	amazon := testCredential(11)
	amazon.MarketplaceID = core.MarketplaceAmazon
	amazon.SecretMaterial = map[string]string{"seller_id": "A1B2C3"}
	if _, err := store.StoreCredential(ctx, amazon); err != nil {
		t.Fatalf("store amazon credential: %v", err)
	}

	listed, err := store.ListCredentials(ctx, core.CredentialFilter{
		UserID:        11,
		MarketplaceID: core.MarketplaceAmazon,
	})
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(listed) != 1 || listed[0].MarketplaceID != core.MarketplaceAmazon {
		t.Fatalf("expected one amazon credential, got %#v", listed)
	}
}
