package database

import (
	"context"
	"errors"
)

// ErrUnavailable wraps failures to reach a configured database server, as
// opposed to configuration errors.
var ErrUnavailable = errors.New("database unavailable")

// IdentityRepository persists identities across restarts.
type IdentityRepository interface {
	// LoadIdentities returns every stored identity ordered by ID. Rows that
	// cannot be decoded are skipped, not reported as errors.
	LoadIdentities(ctx context.Context) ([]StoredIdentity, error)
	// SaveIdentity inserts or replaces an identity with all its fingerprints.
	SaveIdentity(ctx context.Context, ident StoredIdentity) error
}

// Lister is implemented by repositories that can report their size without
// loading fingerprints.
type Lister interface {
	CountIdentities(ctx context.Context) (int, error)
}
