package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/config"
	"github.com/steven-mosley/idleverse/internal/storage"
	"github.com/steven-mosley/idleverse/internal/storage/filestore"
	"github.com/steven-mosley/idleverse/internal/storage/memory"
	"github.com/steven-mosley/idleverse/internal/storage/postgres"
	"github.com/steven-mosley/idleverse/internal/storage/sqlite"
)

// OpenStore constructs the backend named by cfg.Driver. The "none" driver
// returns a nil store and no error.
//
// Postcondition: A non-nil store has answered Ping.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "memory":
		store = memory.New()
	case "sqlite":
		store, err = sqlite.Open(cfg.SQLitePath)
	case "file":
		store, err = filestore.Open(cfg.FilePath, cfg.AutosaveInterval, logger.Named("filestore"))
	case "postgres":
		store, err = openPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Driver, err)
	}

	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := store.Ping(pctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("pinging %s store: %w", cfg.Driver, err)
	}
	logger.Info("storage opened", zap.String("driver", cfg.Driver))
	return store, nil
}

func openPostgres(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	if cfg.AutoMigrate {
		res, err := postgres.Migrate(cfg.Postgres.DSN(), 0)
		if err != nil {
			return nil, err
		}
		logger.Info("schema migrated",
			zap.Uint("version", res.Version),
			zap.Bool("changed", res.Changed),
		)
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres, logger.Named("postgres"))
	if err != nil {
		return nil, err
	}
	return postgres.NewStore(pool), nil
}
