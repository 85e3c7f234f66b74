package persistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/steven-mosley/idleverse/internal/config"
	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/game/rng"
	"github.com/steven-mosley/idleverse/internal/game/world"
	"github.com/steven-mosley/idleverse/internal/persistence"
	"github.com/steven-mosley/idleverse/internal/storage"
	"github.com/steven-mosley/idleverse/internal/storage/memory"
)

var errStoreDown = errors.New("store unreachable")

// flakyStore fails resource saves while failing is set and can block saves
// until release is closed.
type flakyStore struct {
	*memory.Store

	mu      sync.Mutex
	failing bool
	release chan struct{}
	order   []string
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.New()}
}

func (f *flakyStore) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakyStore) SaveResource(ctx context.Context, n resource.Node) error {
	f.mu.Lock()
	failing, release := f.failing, f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	if failing {
		return errStoreDown
	}
	return f.Store.SaveResource(ctx, n)
}

func (f *flakyStore) SavePlayer(ctx context.Context, p storage.PlayerRecord) error {
	f.mu.Lock()
	f.order = append(f.order, p.Name)
	f.mu.Unlock()
	return f.Store.SavePlayer(ctx, p)
}

func storageConfig() config.StorageConfig {
	return config.StorageConfig{Driver: "memory", Workers: 2, QueueSize: 64, OpTimeout: time.Second}
}

func newBridge(t *testing.T, store storage.Store) *persistence.Bridge {
	t.Helper()
	b := persistence.NewBridge(store, storageConfig(), zaptest.NewLogger(t))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newWorld(t *testing.T) *world.World {
	t.Helper()
	gen := resource.NewGenerator(resource.GeneratorConfig{HalfExtent: 30, MinAmount: 30, MaxAmount: 79, Floor: 10}, rng.NewSeeded(3))
	w, err := world.New(world.Config{HalfExtent: 30, ArrivalThreshold: 0.5, MaxManualGather: 1}, gen, zap.NewNop())
	require.NoError(t, err)
	return w
}

func joinHuman(t *testing.T, sim world.Simulation, id, userID string) {
	t.Helper()
	c, err := character.NewHuman(id, userID, "Ada", geom.Vec2{}, 8, 2)
	require.NoError(t, err)
	_, err = sim.Join(c)
	require.NoError(t, err)
}
