package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/people-tracker/internal/config"
	"github.com/kozaktomas/people-tracker/internal/database"
	"github.com/kozaktomas/people-tracker/internal/database/filestore"
	"github.com/kozaktomas/people-tracker/internal/database/mariadb"
	"github.com/kozaktomas/people-tracker/internal/database/postgres"
)

// closableRepository is an identity repository holding a connection.
type closableRepository interface {
	database.IdentityRepository
	Close() error
}

// openRepository opens the configured identity backend. The "none" backend
// returns nil: identities then live for the process lifetime only.
func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (closableRepository, error) {
	switch cfg.Database.Backend {
	case "none":
		logger.Warn("identity persistence disabled")
		return nil, nil
	case "postgres":
		repo, err := postgres.Open(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("open PostgreSQL: %w", err)
		}
		logger.Info("using PostgreSQL identity backend")
		return repo, nil
	case "mariadb":
		repo, err := mariadb.Open(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("open MariaDB: %w", err)
		}
		logger.Info("using MariaDB identity backend")
		return repo, nil
	default:
		logger.Info("using file identity backend", "dir", cfg.Database.Dir)
		return filestore.New(cfg.Database.Dir, logger), nil
	}
}

// openRepositoryOrMemory is openRepository for long-running tracking: an
// unreachable database server is logged and tracking continues in memory.
// Configuration errors still fail.
func openRepositoryOrMemory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (closableRepository, error) {
	repo, err := openRepository(ctx, cfg, logger)
	if errors.Is(err, database.ErrUnavailable) {
		logger.Warn("identity backend unreachable, identities will not be persisted",
			"backend", cfg.Database.Backend, "error", err)
		return nil, nil
	}
	return repo, err
}
