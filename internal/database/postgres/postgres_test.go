//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kozaktomas/people-tracker/internal/config"
	"github.com/kozaktomas/people-tracker/internal/database"
	"github.com/kozaktomas/people-tracker/internal/logging"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(ctx, cfg, logging.Discard())
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func TestIdentityRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewIdentityRepository(pool)
	now := time.Now().UTC().Truncate(time.Millisecond)

	vec := make([]float32, 128)
	for i := range vec {
		vec[i] = float32(i) / 128.0
	}

	t.Run("SaveAndLoad", func(t *testing.T) {
		err := repo.SaveIdentity(ctx, database.StoredIdentity{
			ID:        1,
			CreatedAt: now,
			UpdatedAt: now,
			Fingerprints: []database.StoredFingerprint{
				{Vector: vec, BBox: []float64{10, 20, 110, 140}, Thumbnail: []byte{0xff, 0xd8, 0xff}},
			},
		})
		if err != nil {
			t.Fatalf("Failed to save identity: %v", err)
		}

		got, err := repo.LoadIdentities(ctx)
		if err != nil {
			t.Fatalf("Failed to load identities: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("Expected 1 identity, got %d", len(got))
		}
		if len(got[0].Fingerprints) != 1 {
			t.Fatalf("Expected 1 fingerprint, got %d", len(got[0].Fingerprints))
		}
		fp := got[0].Fingerprints[0]
		if len(fp.Vector) != 128 || fp.Vector[64] != vec[64] {
			t.Errorf("Fingerprint vector not preserved")
		}
		if len(fp.BBox) != 4 || fp.BBox[3] != 140 {
			t.Errorf("Expected bbox to round-trip, got %v", fp.BBox)
		}
		if len(fp.Thumbnail) != 3 {
			t.Errorf("Expected 3 thumbnail bytes, got %d", len(fp.Thumbnail))
		}
	})

	t.Run("RenameReplacesFingerprints", func(t *testing.T) {
		err := repo.SaveIdentity(ctx, database.StoredIdentity{
			ID:          1,
			DisplayName: "Jan Novák",
			CreatedAt:   now,
			UpdatedAt:   now.Add(time.Minute),
			Fingerprints: []database.StoredFingerprint{
				{Vector: vec},
				{Vector: make([]float32, 128)},
			},
		})
		if err != nil {
			t.Fatalf("Failed to update identity: %v", err)
		}

		got, err := repo.LoadIdentities(ctx)
		if err != nil {
			t.Fatalf("Failed to load identities: %v", err)
		}
		if got[0].DisplayName != "Jan Novák" {
			t.Errorf("Expected renamed identity, got %q", got[0].DisplayName)
		}
		if len(got[0].Fingerprints) != 2 {
			t.Errorf("Expected 2 fingerprints, got %d", len(got[0].Fingerprints))
		}
	})

	t.Run("Count", func(t *testing.T) {
		if err := repo.SaveIdentity(ctx, database.StoredIdentity{ID: 4, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("Failed to save identity: %v", err)
		}
		count, err := repo.CountIdentities(ctx)
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if count != 2 {
			t.Errorf("Expected 2 identities, got %d", count)
		}
	})

	t.Run("MigrationsApplied", func(t *testing.T) {
		versions, err := pool.MigrationsApplied(ctx)
		if err != nil {
			t.Fatalf("Failed to list migrations: %v", err)
		}
		if len(versions) == 0 || versions[0] != "001_identities.sql" {
			t.Errorf("Unexpected migrations %v", versions)
		}
	})
}
