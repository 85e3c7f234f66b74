package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/config"
	"github.com/steven-mosley/idleverse/internal/game/world"
	"github.com/steven-mosley/idleverse/internal/storage"
)

// WorldFactory builds an empty registry.
type WorldFactory func() (*world.World, error)

// Opened is the registry the server runs on. Bridge is nil when the world
// runs in memory only; Sim is then the bare registry.
type Opened struct {
	Sim    world.Simulation
	Bridge *Bridge
	Boot   BootResult
}

// Persistent reports whether saves reach a store.
func (o Opened) Persistent() bool { return o.Bridge != nil }

// OpenWorld opens the configured store and restores the world from it. A
// store that cannot be opened, reached or loaded is logged and dropped; the
// world then starts freshly seeded in memory.
//
// Postcondition: err is non-nil only when newWorld fails.
func OpenWorld(ctx context.Context, cfg config.StorageConfig, initial int, newWorld WorldFactory, logger *zap.Logger) (Opened, error) {
	store, err := OpenStore(ctx, cfg, logger.Named("storage"))
	if err != nil {
		logger.Error("storage unavailable, running in memory only", zap.Error(err))
		store = nil
	}
	return BootWorld(ctx, store, cfg, initial, newWorld, logger)
}

// BootWorld restores a world from an already opened store. A nil store
// yields a seeded in-memory world. On fallback the store is closed.
//
// Postcondition: A non-nil Bridge owns store.
func BootWorld(ctx context.Context, store storage.Store, cfg config.StorageConfig, initial int, newWorld WorldFactory, logger *zap.Logger) (Opened, error) {
	if store != nil {
		opened, err := restore(ctx, store, cfg, initial, newWorld, logger)
		if err == nil {
			return opened, nil
		}
		logger.Error("restoring world failed, starting fresh in memory", zap.Error(err))
		if cerr := store.Close(); cerr != nil {
			logger.Warn("closing store", zap.Error(cerr))
		}
	}

	w, err := newWorld()
	if err != nil {
		return Opened{}, fmt.Errorf("creating world: %w", err)
	}
	seeded := w.Seed(initial)
	return Opened{Sim: w, Boot: BootResult{Fresh: true, Seeded: len(seeded)}}, nil
}

func restore(ctx context.Context, store storage.Store, cfg config.StorageConfig, initial int, newWorld WorldFactory, logger *zap.Logger) (Opened, error) {
	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	err := store.Ping(pctx)
	cancel()
	if err != nil {
		return Opened{}, fmt.Errorf("pinging store: %w", err)
	}

	w, err := newWorld()
	if err != nil {
		return Opened{}, fmt.Errorf("creating world: %w", err)
	}
	res, err := Boot(ctx, store, w, initial, logger.Named("boot"))
	if err != nil {
		return Opened{}, err
	}
	bridge := NewBridge(store, cfg, logger.Named("persistence"))
	return Opened{
		Sim:    NewWorld(w, bridge, logger.Named("persistence")),
		Bridge: bridge,
		Boot:   res,
	}, nil
}
