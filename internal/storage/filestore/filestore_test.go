package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/storage"
	"github.com/steven-mosley/idleverse/internal/storage/filestore"
	"github.com/steven-mosley/idleverse/internal/storage/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		s, err := filestore.Open(filepath.Join(t.TempDir(), "world.json.zst"), 0, zaptest.NewLogger(t))
		require.NoError(t, err)
		return s
	})
}

func TestStore_CloseFlushesAndReopenRestores(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "world.json.zst")

	s, err := filestore.Open(path, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.SavePlayer(ctx, storetest.SamplePlayer("u1")))
	require.NoError(t, s.SaveResource(ctx, resource.Node{ID: 7, Type: resource.Herbs, Amount: 11}))
	require.NoError(t, s.SaveAICharacter(ctx, storetest.SampleAI("a1", true)))
	require.NoError(t, s.SaveWorldState(ctx, storage.WorldRecord{Time: 90, NextResourceID: 8}))
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	s, err = filestore.Open(path, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	p, err := s.LoadPlayer(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, p.Inventory[resource.Wood])

	nodes, err := s.GetActiveResources(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, int64(7), nodes[0].ID)

	ai, err := s.LoadAICharacters(ctx)
	require.NoError(t, err)
	require.Len(t, ai, 1)

	w, err := s.LoadWorldState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90.0, w.Time)
}

func TestStore_IntervalFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.json.zst")
	s, err := filestore.Open(path, 20*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveWorldState(context.Background(), storage.WorldRecord{Time: 1, NextResourceID: 2}))
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStore_NoWritesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.json.zst")
	s, err := filestore.Open(path, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.json.zst")
	require.NoError(t, os.WriteFile(path, []byte("not zstd"), 0o644))

	_, err := filestore.Open(path, 0, zaptest.NewLogger(t))
	assert.Error(t, err)
}
