// Package mariadb stores identities in MariaDB or MySQL.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/people-tracker/internal/database"
)

// Pool is the MariaDB handle used by IdentityRepository.
type Pool struct {
	db     *sql.DB
	logger *slog.Logger
}

// connectorConfig parses dsn and forces the options the repository relies on.
func connectorConfig(dsn string) (*mysql.Config, error) {
	if dsn == "" {
		return nil, errors.New("MariaDB DSN is required")
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MariaDB DSN: %w", err)
	}
	// DATETIME columns scan into time.Time in UTC.
	mc.ParseTime = true
	mc.Loc = time.UTC
	if mc.Timeout == 0 {
		mc.Timeout = 10 * time.Second
	}
	return mc, nil
}

// NewPool opens a small connection pool and verifies the server answers.
func NewPool(dsn string, logger *slog.Logger) (*Pool, error) {
	mc, err := connectorConfig(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("MariaDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), mc.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping MariaDB at %s: %w: %w", mc.Addr, database.ErrUnavailable, err)
	}

	logger.Debug("connected to MariaDB", "addr", mc.Addr, "database", mc.DBName)
	return &Pool{db: db, logger: logger}, nil
}

// Close releases the pool.
func (p *Pool) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Open connects, creates the schema if needed and returns the identity repository.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*IdentityRepository, error) {
	pool, err := NewPool(dsn, logger)
	if err != nil {
		return nil, err
	}
	repo := NewIdentityRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return repo, nil
}
