package mariadb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kozaktomas/people-tracker/internal/database"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS identities (
		id BIGINT PRIMARY KEY,
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL
	) CHARACTER SET utf8mb4`,
	`CREATE TABLE IF NOT EXISTS identity_fingerprints (
		identity_id BIGINT NOT NULL,
		idx INT NOT NULL,
		fingerprint_json MEDIUMTEXT NOT NULL,
		bbox_json VARCHAR(255) NOT NULL DEFAULT '',
		thumbnail MEDIUMBLOB,
		PRIMARY KEY (identity_id, idx),
		CONSTRAINT fk_fingerprint_identity FOREIGN KEY (identity_id) REFERENCES identities(id) ON DELETE CASCADE
	)`,
}

// IdentityRepository stores identities in MariaDB. Fingerprints are kept as
// JSON lists since MariaDB has no vector column type.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a repository over the pool.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// Close closes the underlying pool.
func (r *IdentityRepository) Close() error {
	return r.pool.Close()
}

// EnsureSchema creates the identity tables if they do not exist.
func (r *IdentityRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.pool.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// LoadIdentities retrieves all identities ordered by ID. Fingerprints whose
// JSON cannot be decoded are skipped.
func (r *IdentityRepository) LoadIdentities(ctx context.Context) ([]database.StoredIdentity, error) {
	rows, err := r.pool.db.QueryContext(ctx, `SELECT id, display_name, created_at, updated_at FROM identities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var identities []database.StoredIdentity
	byID := make(map[int64]int)
	for rows.Next() {
		var ident database.StoredIdentity
		if err := rows.Scan(&ident.ID, &ident.DisplayName, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		byID[ident.ID] = len(identities)
		identities = append(identities, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	fpRows, err := r.pool.db.QueryContext(ctx, `
		SELECT identity_id, fingerprint_json, bbox_json, thumbnail
		FROM identity_fingerprints
		ORDER BY identity_id, idx
	`)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer fpRows.Close()

	skipped := 0
	for fpRows.Next() {
		var identityID int64
		var vecJSON, bboxJSON string
		var thumb []byte
		if err := fpRows.Scan(&identityID, &vecJSON, &bboxJSON, &thumb); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var fp database.StoredFingerprint
		if err := json.Unmarshal([]byte(vecJSON), &fp.Vector); err != nil {
			skipped++
			continue
		}
		if bboxJSON != "" {
			_ = json.Unmarshal([]byte(bboxJSON), &fp.BBox)
		}
		fp.Thumbnail = thumb
		if i, ok := byID[identityID]; ok {
			identities[i].Fingerprints = append(identities[i].Fingerprints, fp)
		}
	}
	if err := fpRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	if skipped > 0 {
		r.pool.logger.Warn("skipped undecodable fingerprints", "count", skipped)
	}
	return identities, nil
}

// SaveIdentity replaces the identity and its fingerprints in one transaction.
func (r *IdentityRepository) SaveIdentity(ctx context.Context, ident database.StoredIdentity) error {
	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities (id, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE display_name = VALUES(display_name), updated_at = VALUES(updated_at)
	`, ident.ID, ident.DisplayName, ident.CreatedAt, ident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert identity %d: %w", ident.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM identity_fingerprints WHERE identity_id = ?`, ident.ID); err != nil {
		return fmt.Errorf("delete fingerprints: %w", err)
	}

	for i, fp := range ident.Fingerprints {
		vecJSON, err := json.Marshal(fp.Vector)
		if err != nil {
			return fmt.Errorf("marshal fingerprint: %w", err)
		}
		bboxJSON := ""
		if len(fp.BBox) > 0 {
			data, err := json.Marshal(fp.BBox)
			if err != nil {
				return fmt.Errorf("marshal bbox: %w", err)
			}
			bboxJSON = string(data)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO identity_fingerprints (identity_id, idx, fingerprint_json, bbox_json, thumbnail)
			VALUES (?, ?, ?, ?, ?)
		`, ident.ID, i, string(vecJSON), bboxJSON, fp.Thumbnail)
		if err != nil {
			return fmt.Errorf("insert fingerprint %d/%d: %w", ident.ID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
