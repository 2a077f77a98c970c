package tracking

import (
	"context"
	"log/slog"

	"github.com/kozaktomas/people-tracker/internal/database"
	"github.com/kozaktomas/people-tracker/internal/identity"
)

// Restore builds a store from the repository. Any load failure results in
// an empty store (cold start); undecodable fingerprints are dropped.
func Restore(ctx context.Context, repo database.IdentityRepository, dim int, logger *slog.Logger) *identity.Store {
	store := identity.NewStore()
	if repo == nil {
		return store
	}

	stored, err := repo.LoadIdentities(ctx)
	if err != nil {
		logger.Warn("could not load identities, starting empty", "error", err)
		return store
	}

	restored := make([]*identity.Identity, 0, len(stored))
	dropped := 0
	for _, s := range stored {
		ident, n := s.ToIdentity(dim)
		dropped += n
		restored = append(restored, ident)
	}
	loaded := store.Load(restored)

	logger.Info("identities restored",
		"loaded", loaded,
		"skipped", len(stored)-loaded,
		"dropped_fingerprints", dropped,
		"next_id", store.NextID())
	return store
}
