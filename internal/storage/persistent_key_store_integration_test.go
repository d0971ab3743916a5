package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDatabase creates a PostgreSQL testcontainer and runs migrations.
func setupTestDatabase(ctx context.Context, t *testing.T) (*pgcontainer.PostgresContainer, *Connection) {
	t.Helper()

	// Create PostgreSQL container
	postgresContainer, err := pgcontainer.Run(ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("rootline_test"),
		pgcontainer.WithUsername("test"),
		pgcontainer.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second), // Extended timeout for dev containers
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	if postgresContainer == nil {
		t.Fatalf("postgres container is nil")
	}

	// Get connection string
	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	// Create connection through the real constructor so pool setup is covered
	config := &Config{
		databaseURL:     connStr,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}

	conn, err := NewConnection(config) //nolint:contextcheck
	if err != nil {
		_ = postgresContainer.Terminate(ctx)

		t.Fatalf("failed to connect to test database: %v", err)
	}

	// Run migrations using golang-migrate
	if err := runTestMigrations(conn.DB); err != nil {
		_ = conn.Close()
		_ = postgresContainer.Terminate(ctx)

		t.Fatalf("failed to run test migrations: %v", err)
	}

	return postgresContainer, conn
}

// runTestMigrations applies all migrations from the migrations directory using golang-migrate.
func runTestMigrations(db *sql.DB) error {
	// Create migrate instance with PostgreSQL driver
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	// Use file source pointing to migrations directory (relative to project root)
	m, err := migrate.NewWithDatabaseInstance(
		"file://../../migrations", // Relative path from internal/storage to project root migrations/
		postgresDriver,
		driver,
	)
	if err != nil {
		return err
	}

	// Run all migrations up
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func TestPersistentKeyStoreAdd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupTestDatabase(ctx, t)

	defer func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}()

	store, err := NewPersistentKeyStore(conn)
	if err != nil {
		t.Fatalf("NewPersistentKeyStore() error = %v", err)
	}

	tests := []struct {
		name      string
		apiKey    *Key
		expectErr bool
	}{
		{
			name: "successfully adds new API key with bcrypt hash",
			apiKey: &Key{
				ID:          "test-key-1",
				Key:         "rootline_ak_1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
				SourceID:    "prometheus-prod",
				Name:        "Test Key 1",
				Permissions: []string{"alerts:write", "health:read"},
				CreatedAt:   time.Now(),
				Active:      true,
			},
			expectErr: false,
		},
		{
			name: "successfully adds API key with expiration",
			apiKey: &Key{
				ID:          "test-key-2",
				Key:         "rootline_ak_abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890",
				SourceID:    "grafana-staging",
				Name:        "Test Key 2",
				Permissions: []string{"alerts:write"},
				CreatedAt:   time.Now(),
				ExpiresAt: func(t time.Time) *time.Time {
					return &t
				}(time.Now().Add(24 * time.Hour)),
				Active: true,
			},
			expectErr: false,
		},
		{
			name: "fails to add duplicate API key (same hash)",
			apiKey: &Key{
				ID:          "test-key-3",
				Key:         "rootline_ak_1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef", // Same as test-key-1
				SourceID:    "prometheus-prod",
				Name:        "Duplicate Key",
				Permissions: []string{"alerts:write"},
				CreatedAt:   time.Now(),
				Active:      true,
			},
			expectErr: true,
		},
		{
			name:      "fails to add nil API key",
			apiKey:    nil,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Add(ctx, tt.apiKey)

			if tt.expectErr {
				if err == nil {
					t.Error("Add() expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("Add() unexpected error: %v", err)
				}
			}
		})
	}
}

func TestPersistentKeyStoreFindByKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupTestDatabase(ctx, t)

	defer func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}()

	store, err := NewPersistentKeyStore(conn)
	if err != nil {
		t.Fatalf("NewPersistentKeyStore() error = %v", err)
	}

	// Setup: Add test keys
	testKey := &Key{
		ID:          "find-test-1",
		Key:         "rootline_ak_f1nd7e57f1nd7e57f1nd7e57f1nd7e57f1nd7e57f1nd7e57f1nd7e57f1nd7e57", // pragma: allowlist secret
		SourceID:    "test-source",
		Name:        "Find Test Key",
		Permissions: []string{"alerts:write"},
		CreatedAt:   time.Now(),
		Active:      true,
	}

	if err := store.Add(ctx, testKey); err != nil {
		t.Fatalf("failed to add test key: %v", err)
	}

	tests := []struct {
		name      string
		key       string
		wantFound bool
		wantID    string
	}{
		{
			name:      "finds existing active API key",
			key:       "rootline_ak_f1nd7e57f1nd7e57f1nd7e57f1nd7e57f1nd7e57f1nd7e57f1nd7e57f1nd7e57", // pragma: allowlist secret
			wantFound: true,
			wantID:    "find-test-1",
		},
		{
			name:      "returns false for non-existent key",
			key:       "rootline_ak_ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", // pragma: allowlist secret
			wantFound: false,
		},
		{
			name:      "returns false for empty key",
			key:       "",
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiKey, found := store.FindByKey(ctx, tt.key)

			if found != tt.wantFound {
				t.Errorf("FindByKey() found = %v, want %v", found, tt.wantFound)
			}

			if tt.wantFound {
				if apiKey == nil { // pragma: allowlist secret
					t.Error("FindByKey() returned nil API key when found=true")
				} else if apiKey.ID != tt.wantID {
					t.Errorf("FindByKey() ID = %q, want %q", apiKey.ID, tt.wantID)
				}
			}
		})
	}

	// The stored hash must never leak back to callers
	t.Run("returned key is masked", func(t *testing.T) {
		apiKey, found := store.FindByKey(ctx, testKey.Key)
		if !found {
			t.Fatal("FindByKey() key not found")
		}

		if apiKey.Key == testKey.Key {
			t.Error("FindByKey() returned plaintext key, want masked")
		}

		if len(apiKey.Key) == 0 {
			t.Error("FindByKey() returned empty masked key")
		}
	})

	// Revoked keys still resolve, carrying Active=false, so authentication
	// can distinguish a revoked key from an unknown one
	t.Run("finds inactive key with active flag cleared", func(t *testing.T) {
		inactiveKey := &Key{
			ID:          "find-test-inactive",
			Key:         "rootline_ak_1nac71ve1nac71ve1nac71ve1nac71ve1nac71ve1nac71ve1nac71ve1nac71ve", // pragma: allowlist secret
			SourceID:    "test-source",
			Name:        "Find Test Inactive Key",
			Permissions: []string{"alerts:write"},
			CreatedAt:   time.Now(),
			Active:      false,
		}

		if err := store.Add(ctx, inactiveKey); err != nil {
			t.Fatalf("failed to add inactive key: %v", err)
		}

		apiKey, found := store.FindByKey(ctx, inactiveKey.Key)
		if !found {
			t.Fatal("FindByKey() inactive key not found, want found")
		}

		if apiKey.Active {
			t.Error("FindByKey() inactive key returned Active=true")
		}
	})
}

func TestPersistentKeyStoreUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupTestDatabase(ctx, t)

	defer func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}()

	store, err := NewPersistentKeyStore(conn)
	if err != nil {
		t.Fatalf("NewPersistentKeyStore() error = %v", err)
	}

	// Setup: Add test key
	testKey := &Key{
		ID:          "update-test-1",
		Key:         "rootline_ak_upd47e73upd47e73upd47e73upd47e73upd47e73upd47e73upd47e73upd47e73",
		SourceID:    "test-source",
		Name:        "Original Name",
		Permissions: []string{"alerts:write"},
		CreatedAt:   time.Now(),
		Active:      true,
	}

	if err := store.Add(ctx, testKey); err != nil {
		t.Fatalf("failed to add test key: %v", err)
	}

	tests := []struct {
		name      string
		apiKey    *Key
		expectErr bool
	}{
		{
			name: "successfully updates API key name",
			apiKey: &Key{
				ID:          "update-test-1",
				Key:         testKey.Key,
				SourceID:    "test-source",
				Name:        "Updated Name",
				Permissions: []string{"alerts:write"},
				Active:      true,
			},
			expectErr: false,
		},
		{
			name: "successfully updates permissions",
			apiKey: &Key{
				ID:          "update-test-1",
				Key:         testKey.Key,
				SourceID:    "test-source",
				Name:        "Updated Name",
				Permissions: []string{"alerts:write", "topology:write", "admin"},
				Active:      true,
			},
			expectErr: false,
		},
		{
			name: "successfully deactivates API key",
			apiKey: &Key{
				ID:       "update-test-1",
				Key:      testKey.Key,
				SourceID: "test-source",
				Name:     "Updated Name",
				Active:   false,
			},
			expectErr: false,
		},
		{
			name: "fails to update non-existent key",
			apiKey: &Key{
				ID:       "non-existent",
				Key:      "rootline_ak_ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", // pragma: allowlist secret
				SourceID: "test-source",
				Name:     "Ghost Key",
				Active:   true,
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Update(ctx, tt.apiKey)

			if tt.expectErr {
				if err == nil {
					t.Error("Update() expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("Update() unexpected error: %v", err)
				}
			}
		})
	}
}

func TestPersistentKeyStoreDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupTestDatabase(ctx, t)

	defer func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}()

	store, err := NewPersistentKeyStore(conn)
	if err != nil {
		t.Fatalf("NewPersistentKeyStore() error = %v", err)
	}

	// Setup: Add test key
	testKey := &Key{
		ID:          "delete-test-1",
		Key:         "rootline_ak_de1e7e73de1e7e73de1e7e73de1e7e73de1e7e73de1e7e73de1e7e73de1e7e73",
		SourceID:    "test-source",
		Name:        "To Be Deleted",
		Permissions: []string{"alerts:write"},
		CreatedAt:   time.Now(),
		Active:      true,
	}

	if err := store.Add(ctx, testKey); err != nil {
		t.Fatalf("failed to add test key: %v", err)
	}

	tests := []struct {
		name      string
		keyID     string
		expectErr bool
	}{
		{
			name:      "successfully deletes existing API key",
			keyID:     "delete-test-1",
			expectErr: false,
		},
		{
			name:      "fails to delete non-existent key",
			keyID:     "non-existent-key",
			expectErr: true,
		},
		{
			name:      "fails to delete with empty key ID",
			keyID:     "",
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Delete(ctx, tt.keyID)

			if tt.expectErr {
				if err == nil {
					t.Error("Delete() expected error, got nil")
				}

				return
			}

			if err != nil {
				t.Errorf("Delete() unexpected error: %v", err)
			}

			// Verify the soft delete: the key resolves with the active flag
			// cleared so the auth layer can reject it as revoked
			deleted, found := store.FindByKey(ctx, testKey.Key)
			if !found {
				t.Fatal("FindByKey() soft-deleted key not found, want inactive row")
			}

			if deleted.Active {
				t.Error("Delete() key still active after soft-delete")
			}

			// The row itself is kept for the audit trail
			var active bool
			row := conn.QueryRowContext(ctx, "SELECT active FROM api_keys WHERE id = $1", tt.keyID)
			if err := row.Scan(&active); err != nil {
				t.Fatalf("failed to query soft-deleted key: %v", err)
			}

			if active {
				t.Error("Delete() key still active after soft-delete (expected active=false)")
			}
		})
	}
}

func TestPersistentKeyStoreListBySource(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupTestDatabase(ctx, t)

	defer func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}()

	store, err := NewPersistentKeyStore(conn)
	if err != nil {
		t.Fatalf("NewPersistentKeyStore() error = %v", err)
	}

	// Setup: Add multiple test keys for different alert sources
	testKeys := []*Key{
		{
			ID:          "list-test-1",
			Key:         "rootline_ak_a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1",
			SourceID:    "prometheus-prod",
			Name:        "Prometheus Key 1",
			Permissions: []string{"alerts:write"},
			Active:      true,
		},
		{
			ID:          "list-test-2",
			Key:         "rootline_ak_b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2",
			SourceID:    "prometheus-prod",
			Name:        "Prometheus Key 2",
			Permissions: []string{"alerts:write", "topology:write"},
			Active:      true,
		},
		{
			ID:          "list-test-3",
			Key:         "rootline_ak_c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3",
			SourceID:    "grafana-staging",
			Name:        "Grafana Key 1",
			Permissions: []string{"alerts:write"},
			Active:      true,
		},
		{
			ID:          "list-test-4",
			Key:         "rootline_ak_d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4",
			SourceID:    "prometheus-prod",
			Name:        "Prometheus Key 3 (Inactive)",
			Permissions: []string{"alerts:write"},
			Active:      false,
		},
	}

	for _, key := range testKeys {
		if err := store.Add(ctx, key); err != nil {
			t.Fatalf("failed to add test key %s: %v", key.ID, err)
		}
	}

	tests := []struct {
		name      string
		sourceID  string
		wantCount int
		expectErr bool
	}{
		{
			name:      "lists all active keys for prometheus-prod",
			sourceID:  "prometheus-prod",
			wantCount: 2, // Only active keys
			expectErr: false,
		},
		{
			name:      "lists all active keys for grafana-staging",
			sourceID:  "grafana-staging",
			wantCount: 1,
			expectErr: false,
		},
		{
			name:      "returns empty list for source with no keys",
			sourceID:  "non-existent-source",
			wantCount: 0,
			expectErr: false,
		},
		{
			name:      "fails with empty source ID",
			sourceID:  "",
			wantCount: 0,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := store.ListBySource(ctx, tt.sourceID)

			if tt.expectErr {
				if err == nil {
					t.Error("ListBySource() expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("ListBySource() unexpected error: %v", err)
				}

				if len(keys) != tt.wantCount {
					t.Errorf("ListBySource() returned %d keys, want %d", len(keys), tt.wantCount)
				}
			}
		})
	}
}

// TestPersistentKeyStoreAuditLog verifies that key mutations leave audit rows
// and that audit rows never contain the plaintext key.
func TestPersistentKeyStoreAuditLog(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupTestDatabase(ctx, t)

	defer func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}()

	store, err := NewPersistentKeyStore(conn)
	if err != nil {
		t.Fatalf("NewPersistentKeyStore() error = %v", err)
	}

	plaintext := "rootline_ak_aud17109aud17109aud17109aud17109aud17109aud17109aud17109aud17109"
	testKey := &Key{
		ID:          "audit-test-1",
		Key:         plaintext,
		SourceID:    "prometheus-prod",
		Name:        "Audit Test Key",
		Permissions: []string{"alerts:write"},
		CreatedAt:   time.Now(),
		Active:      true,
	}

	if err := store.Add(ctx, testKey); err != nil {
		t.Fatalf("Add() unexpected error: %v", err)
	}

	testKey.Name = "Audit Test Key (renamed)"
	if err := store.Update(ctx, testKey); err != nil {
		t.Fatalf("Update() unexpected error: %v", err)
	}

	if err := store.Delete(ctx, testKey.ID); err != nil {
		t.Fatalf("Delete() unexpected error: %v", err)
	}

	operations := []string{keyCreated, keyUpdated, keyDeleted}
	for _, op := range operations {
		var count int

		row := conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM api_key_audit_log WHERE api_key_id = $1 AND operation = $2",
			testKey.ID, op)
		if err := row.Scan(&count); err != nil {
			t.Fatalf("failed to count audit rows for %s: %v", op, err)
		}

		if count != 1 {
			t.Errorf("audit log rows for operation %q = %d, want 1", op, count)
		}
	}

	// No audit row may carry the raw key material
	var leaked int

	row := conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM api_key_audit_log WHERE masked_key = $1", plaintext)
	if err := row.Scan(&leaked); err != nil {
		t.Fatalf("failed to check audit rows for plaintext: %v", err)
	}

	if leaked != 0 {
		t.Errorf("audit log contains plaintext key in %d rows, want 0", leaked)
	}
}
