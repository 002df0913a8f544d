package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solatis/matchkeeper/internal/contextstore"
	"github.com/solatis/matchkeeper/internal/core/config"
	"github.com/solatis/matchkeeper/internal/core/db"
)

// stores are the flow and global context backends plus their cleanup.
type stores struct {
	flow   contextstore.Store
	global contextstore.Store
	close  func()
}

// openStores connects the configured context backend. The SQL backend
// requires migrations to be applied first.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.Context.Backend {
	case config.BackendRedis:
		client, err := contextstore.DialRedis(ctx, cfg.Context.RedisAddr)
		if err != nil {
			return nil, err
		}
		logger.Info("context backend ready", "backend", "redis", "addr", cfg.Context.RedisAddr)
		return &stores{
			flow:   contextstore.NewRedis(client, cfg.Context.RedisPrefix, contextstore.ScopeFlow),
			global: contextstore.NewRedis(client, cfg.Context.RedisPrefix, contextstore.ScopeGlobal),
			close:  func() { _ = client.Close() },
		}, nil

	case config.BackendSQL:
		database, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		status, err := db.MigrateStatus(ctx, database)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to check migrations: %w", err)
		}
		for _, m := range status {
			if !m.Applied {
				database.Close()
				return nil, fmt.Errorf("migration %s not applied - run 'matchkeeper migrate up' first", m.ID)
			}
		}
		queries, err := db.LoadQueries(database)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to load queries: %w", err)
		}
		logger.Info("context backend ready", "backend", "sql")
		return &stores{
			flow:   contextstore.NewSQL(queries, contextstore.ScopeFlow),
			global: contextstore.NewSQL(queries, contextstore.ScopeGlobal),
			close:  func() { _ = database.Close() },
		}, nil

	default:
		return &stores{
			flow:   contextstore.NewMemory(),
			global: contextstore.NewMemory(),
			close:  func() {},
		}, nil
	}
}
