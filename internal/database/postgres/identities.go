package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/people-tracker/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// IdentityRepository provides PostgreSQL-backed identity storage. Fingerprints
// are stored as pgvector columns.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// Close closes the underlying pool.
func (r *IdentityRepository) Close() error {
	return r.pool.Close()
}

// LoadIdentities retrieves all identities with their fingerprints, ordered by ID.
// Fingerprint rows that fail to scan are skipped.
func (r *IdentityRepository) LoadIdentities(ctx context.Context) ([]database.StoredIdentity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, display_name, created_at, updated_at
		FROM identities
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var identities []database.StoredIdentity
	byID := make(map[int64]int)
	for rows.Next() {
		var ident database.StoredIdentity
		if err := rows.Scan(&ident.ID, &ident.DisplayName, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		byID[ident.ID] = len(identities)
		identities = append(identities, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}

	fpRows, err := r.pool.Query(ctx, `
		SELECT identity_id, fingerprint, bbox, thumbnail
		FROM identity_fingerprints
		ORDER BY identity_id, idx
	`)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer fpRows.Close()

	skipped := 0
	for fpRows.Next() {
		identityID, fp, err := scanFingerprintRow(fpRows)
		if err != nil {
			skipped++
			continue
		}
		if i, ok := byID[identityID]; ok {
			identities[i].Fingerprints = append(identities[i].Fingerprints, fp)
		}
	}
	if err := fpRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	if skipped > 0 {
		r.pool.logger.Warn("skipped unreadable fingerprint rows", "count", skipped)
	}

	return identities, nil
}

func scanFingerprintRow(scanner interface{ Scan(...any) error }) (int64, database.StoredFingerprint, error) {
	var identityID int64
	var vec pgvector.Vector
	var bbox pq.Float64Array
	var thumb []byte

	if err := scanner.Scan(&identityID, &vec, &bbox, &thumb); err != nil {
		return 0, database.StoredFingerprint{}, fmt.Errorf("scan fingerprint: %w", err)
	}
	return identityID, database.StoredFingerprint{
		Vector:    vec.Slice(),
		BBox:      []float64(bbox),
		Thumbnail: thumb,
	}, nil
}

// SaveIdentity upserts the identity row and replaces its fingerprints in one
// transaction.
func (r *IdentityRepository) SaveIdentity(ctx context.Context, ident database.StoredIdentity) error {
	return r.pool.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO identities (id, display_name, created_at, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				updated_at = EXCLUDED.updated_at
		`, ident.ID, ident.DisplayName, ident.CreatedAt, ident.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert identity %d: %w", ident.ID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM identity_fingerprints WHERE identity_id = $1", ident.ID); err != nil {
			return fmt.Errorf("delete existing fingerprints: %w", err)
		}
		return insertFingerprints(ctx, tx, ident)
	})
}

func insertFingerprints(ctx context.Context, tx *sql.Tx, ident database.StoredIdentity) error {
	if len(ident.Fingerprints) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO identity_fingerprints (identity_id, idx, fingerprint, bbox, thumbnail)
		VALUES ($1, $2, $3::vector, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, fp := range ident.Fingerprints {
		vec := pgvector.NewVector(fp.Vector)
		bbox := pq.Array(fp.BBox)
		if _, err := stmt.ExecContext(ctx, ident.ID, i, vec, bbox, fp.Thumbnail); err != nil {
			return fmt.Errorf("insert fingerprint %d/%d: %w", ident.ID, i, err)
		}
	}
	return nil
}

// CountIdentities returns the number of stored identities.
func (r *IdentityRepository) CountIdentities(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}
