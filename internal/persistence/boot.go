package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/game/world"
	"github.com/steven-mosley/idleverse/internal/storage"
)

// BootResult summarizes what Boot loaded.
type BootResult struct {
	Fresh             bool
	RestoredResources int
	Seeded            int
	RestoredAI        int
}

// Boot loads persisted state into an empty registry before the loop starts.
// The world checkpoint and active resources are restored; when no active
// resource survives, initial fresh ones are generated and saved. The id
// counter resumes past every stored node, depleted ones included. Active AI
// characters rejoin idle.
//
// Precondition: w must be empty; nothing else may touch it concurrently.
// Postcondition: On error the registry may be partially restored and the
// caller should fall back to a fresh in-memory world.
func Boot(ctx context.Context, store storage.Store, w *world.World, initial int, logger *zap.Logger) (BootResult, error) {
	var res BootResult

	ws, err := store.LoadWorldState(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		res.Fresh = true
	case err != nil:
		return res, fmt.Errorf("loading world state: %w", err)
	}

	nodes, err := store.GetActiveResources(ctx)
	if err != nil {
		return res, fmt.Errorf("loading resources: %w", err)
	}
	ptrs := make([]*resource.Node, 0, len(nodes))
	for i := range nodes {
		ptrs = append(ptrs, &nodes[i])
	}
	// Depleted nodes stay stored under their id; the counter must pass them too.
	highest, err := store.MaxResourceID(ctx)
	if err != nil {
		return res, fmt.Errorf("reading max resource id: %w", err)
	}
	next := max(ws.NextResourceID, highest+1)
	w.Restore(world.Checkpoint{Time: ws.Time, NextResourceID: next}, ptrs)
	res.RestoredResources = len(nodes)

	if len(nodes) == 0 {
		seeded := w.Seed(initial)
		for _, n := range seeded {
			if err := store.SaveResource(ctx, n); err != nil {
				return res, fmt.Errorf("saving seeded resource %d: %w", n.ID, err)
			}
		}
		res.Seeded = len(seeded)
		cp := w.Checkpoint()
		if err := store.SaveWorldState(ctx, storage.WorldRecord{Time: cp.Time, NextResourceID: cp.NextResourceID}); err != nil {
			return res, fmt.Errorf("saving world state: %w", err)
		}
	}

	records, err := store.LoadAICharacters(ctx)
	if err != nil {
		return res, fmt.Errorf("loading ai characters: %w", err)
	}
	for _, rec := range records {
		if _, err := w.Join(AIFromRecord(rec)); err != nil {
			logger.Warn("skipping stored ai character",
				zap.String("store_id", rec.StoreID),
				zap.Error(err),
			)
			continue
		}
		res.RestoredAI++
	}

	logger.Info("world restored",
		zap.Bool("fresh", res.Fresh),
		zap.Float64("world_time", w.Time()),
		zap.Int("resources", res.RestoredResources),
		zap.Int("seeded", res.Seeded),
		zap.Int("ai", res.RestoredAI),
	)
	return res, nil
}
